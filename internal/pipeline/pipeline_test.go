package pipeline

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"talisay-vision/internal/config"
	"talisay-vision/internal/guard"
	"talisay-vision/pkg/colorutil"
)

// tableScene builds a violet-gray surface with an illumination ramp and
// scattered dark flecks. The ramp carries enough brightness variance and the
// flecks enough edge pixels to pass the blank layer, while neither resembles
// fruit, skin or a coin.
func tableScene(w, h int) gocv.Mat {
	img := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		v := 95 + 45*float64(y)/float64(h)
		r, g, b := colorutil.HSVToRGB(130, 80, v)
		gocv.Line(&img, image.Pt(0, y), image.Pt(w-1, y),
			color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}, 1)
	}
	fleck := rgbaOf(130, 80, 30)
	seed := uint32(1)
	next := func(n int) int {
		seed = seed*1664525 + 1013904223
		return int(seed % uint32(n))
	}
	for i := 0; i < 500; i++ {
		gocv.Circle(&img, image.Pt(next(w), next(h)), 2, fleck, -1)
	}
	return img
}

func rgbaOf(h, s, v float64) color.RGBA {
	r, g, b := colorutil.HSVToRGB(h, s, v)
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
}

// paintFruit draws a speckled yellow fruit ellipse.
func paintFruit(img *gocv.Mat, cx, cy, a, b int) {
	gocv.Ellipse(img, image.Pt(cx, cy), image.Pt(a, b), 0, 0, 360, rgbaOf(28, 150, 200), -1)
	dark := rgbaOf(28, 150, 150)
	for y := cy - b; y < cy+b; y += 8 {
		for x := cx - a; x < cx+a; x += 8 {
			dx, dy := float64(x-cx)/float64(a), float64(y-cy)/float64(b)
			if dx*dx+dy*dy < 0.8 {
				gocv.Circle(img, image.Pt(x, y), 2, dark, -1)
			}
		}
	}
}

func paintCoin(img *gocv.Mat, cx, cy, r int) {
	gocv.Circle(img, image.Pt(cx, cy), r, color.RGBA{R: 110, G: 110, B: 110, A: 255}, -1)
	gocv.Circle(img, image.Pt(cx, cy), r, color.RGBA{R: 60, G: 60, B: 60, A: 255}, 3)
}

func newAnalyzer(opts Options) *Analyzer {
	return New(config.Default(), opts)
}

func TestAnalyzeEmptyImage(t *testing.T) {
	a := newAnalyzer(Options{})
	defer a.Close()

	img := gocv.NewMat()
	defer img.Close()

	report := a.Analyze(img)
	assert.False(t, report.Verdict.Accepted)
	assert.Equal(t, guard.RejectUnreadable, report.Verdict.Kind)
}

func TestAnalyzeFileMissing(t *testing.T) {
	a := newAnalyzer(Options{})
	defer a.Close()

	report, err := a.AnalyzeFile("/no/such/photo.jpg")
	assert.Error(t, err)
	assert.Equal(t, guard.RejectUnreadable, report.Verdict.Kind)
}

func TestAnalyzeBlankImage(t *testing.T) {
	a := newAnalyzer(Options{})
	defer a.Close()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(250, 250, 250, 0), 600, 800, gocv.MatTypeCV8UC3)
	defer img.Close()

	report := a.Analyze(img)
	assert.False(t, report.Verdict.Accepted)
	assert.Equal(t, guard.RejectBlank, report.Verdict.Kind)
}

func TestAnalyzeFruitWithoutReference(t *testing.T) {
	a := newAnalyzer(Options{})
	defer a.Close()

	img := tableScene(800, 600)
	defer img.Close()
	paintFruit(&img, 620, 300, 140, 70)

	report := a.Analyze(img)
	require.True(t, report.Verdict.Accepted, "reason: %s", report.Verdict.Reason)
	assert.False(t, report.Coin.Detected)
	assert.Nil(t, report.Calibration)

	require.True(t, report.Measurement.Detected)
	assert.Equal(t, "contour_prior", report.Measurement.Source)
	assert.NotEmpty(t, report.Measurement.Warning)

	assert.Equal(t, "Mature (Optimal)", report.Maturity)
	assert.InDelta(t, report.Verdict.Score, report.Confidence, 1e-9)
}

func TestAnalyzeFruitWithCoin(t *testing.T) {
	a := newAnalyzer(Options{})
	defer a.Close()

	img := tableScene(800, 600)
	defer img.Close()
	paintFruit(&img, 620, 300, 140, 70)
	paintCoin(&img, 150, 300, 48)

	report := a.Analyze(img)
	require.True(t, report.Verdict.Accepted, "reason: %s", report.Verdict.Reason)
	require.True(t, report.Coin.Detected)

	require.NotNil(t, report.Calibration)
	assert.Equal(t, "coin", report.Calibration.SourceLabel)
	assert.Equal(t, "coin", report.Measurement.Source)
	assert.InDelta(t, 2*48/2.4, report.Calibration.PixelsPerCM, 2*48/2.4*0.10)

	// The fruit is 280x140 px at ~40 px/cm: 7.0 x 3.5 cm.
	assert.InDelta(t, 7.0, report.Measurement.LengthCM, 0.8)
	assert.InDelta(t, 3.5, report.Measurement.WidthCM, 0.5)

	want := math.Min(0.95, report.Verdict.Score+coinConfidenceBonus)
	assert.InDelta(t, want, report.Confidence, 1e-9)
}

func TestAnalyzeCoinOnly(t *testing.T) {
	a := newAnalyzer(Options{})
	defer a.Close()

	img := tableScene(800, 600)
	defer img.Close()
	paintCoin(&img, 200, 300, 48)

	report := a.Analyze(img)
	assert.False(t, report.Verdict.Accepted)
	assert.Equal(t, guard.RejectCoinOnly, report.Verdict.Kind)
	assert.True(t, report.Coin.Detected)
}

func TestAnalyzeEmptyTable(t *testing.T) {
	a := newAnalyzer(Options{})
	defer a.Close()

	img := tableScene(800, 600)
	defer img.Close()

	report := a.Analyze(img)
	assert.False(t, report.Verdict.Accepted)
	assert.Equal(t, guard.RejectNoObject, report.Verdict.Kind)
}

type stubDetector struct{ detections []ExternalDetection }

func (s stubDetector) Detect(gocv.Mat) ([]ExternalDetection, error) {
	return s.detections, nil
}

type stubClassifier struct {
	label string
	conf  float64
}

func (s stubClassifier) Classify(gocv.Mat, gocv.Mat) (string, float64, error) {
	return s.label, s.conf, nil
}

type stubOil struct{ yield float64 }

func (s stubOil) Predict(OilFeatures) (float64, error) { return s.yield, nil }

func TestAnalyzeWithCollaborators(t *testing.T) {
	a := newAnalyzer(Options{
		Detector: stubDetector{detections: []ExternalDetection{
			{Label: "fruit", Confidence: 0.92, Box: image.Rect(480, 230, 760, 370)},
		}},
		Classifier: stubClassifier{label: "brown", conf: 0.9},
		Oil:        stubOil{yield: 12.5},
	})
	defer a.Close()

	img := tableScene(800, 600)
	defer img.Close()
	paintFruit(&img, 620, 300, 140, 70)

	report := a.Analyze(img)
	require.True(t, report.Verdict.Accepted, "reason: %s", report.Verdict.Reason)

	// The confident external classifier overrides the HSV estimate.
	assert.Equal(t, "Fully Ripe", report.Maturity)

	require.NotNil(t, report.OilYieldG)
	assert.InDelta(t, 12.5, *report.OilYieldG, 1e-9)
}

func TestAnalyzeIgnoresLowConfidenceClassifier(t *testing.T) {
	a := newAnalyzer(Options{Classifier: stubClassifier{label: "brown", conf: 0.5}})
	defer a.Close()

	img := tableScene(800, 600)
	defer img.Close()
	paintFruit(&img, 620, 300, 140, 70)

	report := a.Analyze(img)
	require.True(t, report.Verdict.Accepted)
	assert.Equal(t, "Mature (Optimal)", report.Maturity)
}
