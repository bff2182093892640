package guard

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"talisay-vision/internal/config"
	"talisay-vision/pkg/colorutil"
)

// texturedScene builds a warm-gray surface with darker stripes so the blank
// layer sees realistic variance and edge density.
func texturedScene(w, h int) gocv.Mat {
	base := bgrOf(20, 25, 170)
	stripe := rgbaOf(20, 25, 130)
	img := gocv.NewMatWithSizeFromScalar(base, h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y += 6 {
		gocv.Line(&img, image.Pt(0, y), image.Pt(w-1, y), stripe, 1)
	}
	return img
}

func bgrOf(h, s, v float64) gocv.Scalar {
	r, g, b := colorutil.HSVToRGB(h, s, v)
	return gocv.NewScalar(b, g, r, 0)
}

func rgbaOf(h, s, v float64) color.RGBA {
	r, g, b := colorutil.HSVToRGB(h, s, v)
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
}

// paintFruit draws a speckled ellipse in the given HSV color. The speckles
// give the region believable surface texture.
func paintFruit(img *gocv.Mat, cx, cy, a, b int, h, s, v float64) {
	gocv.Ellipse(img, image.Pt(cx, cy), image.Pt(a, b), 0, 0, 360, rgbaOf(h, s, v), -1)
	dark := rgbaOf(h, s, v*0.75)
	for y := cy - b; y < cy+b; y += 8 {
		for x := cx - a; x < cx+a; x += 8 {
			dx, dy := float64(x-cx)/float64(a), float64(y-cy)/float64(b)
			if dx*dx+dy*dy < 0.8 {
				gocv.Circle(img, image.Pt(x, y), 2, dark, -1)
			}
		}
	}
}

func TestCheckAcceptsYellowFruit(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	paintFruit(&img, 320, 240, 140, 70, 28, 150, 200)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	require.True(t, verdict.Accepted, "reason: %s", verdict.Reason)
	assert.Equal(t, Accept, verdict.Kind)
	assert.Equal(t, "yellow", verdict.DominantColour)
	assert.Greater(t, verdict.Score, 0.5)
	assert.True(t, verdict.Layers["colour"].Passed)
	assert.True(t, verdict.Layers["shape"].Passed)
}

func TestCheckAcceptsGreenFruit(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	paintFruit(&img, 320, 240, 140, 70, 55, 120, 140)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	require.True(t, verdict.Accepted, "reason: %s", verdict.Reason)
	assert.Equal(t, "green", verdict.DominantColour)
}

func TestCheckIdempotent(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	paintFruit(&img, 320, 240, 140, 70, 28, 150, 200)

	g := New(config.Default())
	defer g.Close()

	first := g.Check(img, nil)
	second := g.Check(img, nil)

	assert.Equal(t, first.Accepted, second.Accepted)
	assert.Equal(t, first.Kind, second.Kind)
	assert.InDelta(t, first.Score, second.Score, 1e-9)
}

func TestCheckRejectsBlankImages(t *testing.T) {
	tests := []struct {
		name  string
		scene func() gocv.Mat
	}{
		{"uniform gray", func() gocv.Mat {
			return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 480, 640, gocv.MatTypeCV8UC3)
		}},
		{"white sheet", func() gocv.Mat {
			return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(250, 250, 250, 0), 480, 640, gocv.MatTypeCV8UC3)
		}},
		{"black frame", func() gocv.Mat {
			return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(5, 5, 5, 0), 480, 640, gocv.MatTypeCV8UC3)
		}},
	}

	g := New(config.Default())
	defer g.Close()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := tt.scene()
			defer img.Close()

			verdict := g.Check(img, nil)
			assert.False(t, verdict.Accepted)
			assert.Equal(t, RejectBlank, verdict.Kind)
			assert.Equal(t, "REJECT_BLANK", verdict.KindLabel)
		})
	}
}

func TestCheckRejectsEmptyTable(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectGeneric, verdict.Kind)
}

func TestCheckRejectsPerson(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// Skin tone filling over half the frame, no fruit anywhere.
	gocv.Rectangle(&img, image.Rect(0, 0, 400, 480), color.RGBA{R: 180, G: 120, B: 90, A: 255}, -1)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectPerson, verdict.Kind)
}

func TestCheckSkinRescuedByFruit(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// Hand in frame but a clear fruit too: the person layer must not fire.
	gocv.Rectangle(&img, image.Rect(0, 100, 300, 420), color.RGBA{R: 180, G: 120, B: 90, A: 255}, -1)
	paintFruit(&img, 470, 240, 140, 70, 28, 150, 200)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	assert.NotEqual(t, RejectPerson, verdict.Kind)
}

func TestCheckRejectsCapsicum(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// Long thin saturated green: chili signature.
	gocv.Ellipse(&img, image.Pt(320, 240), image.Pt(160, 28), 0, 0, 360, rgbaOf(55, 150, 150), -1)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectCapsicum, verdict.Kind)
}

func TestCheckRejectsRedCoredFruit(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// Brown shell around a dominant red body: tomato-like, never Talisay.
	gocv.Ellipse(&img, image.Pt(320, 240), image.Pt(140, 70), 0, 0, 360, rgbaOf(15, 150, 150), -1)
	gocv.Ellipse(&img, image.Pt(320, 240), image.Pt(90, 45), 0, 0, 360, rgbaOf(0, 200, 200), -1)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectNonTalisayFruit, verdict.Kind)
}

func TestCheckRoundGateRejectsSmallCircle(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// A small near-perfect circle in fruit colors: coin or ball, not fruit.
	gocv.Circle(&img, image.Pt(320, 240), 60, rgbaOf(28, 150, 200), -1)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectWrongShape, verdict.Kind)
}

func TestCheckRejectsHollowColourRegion(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// Only a thin brown outline; the filled region is mostly bare surface,
	// so colour coverage cannot carry the verdict.
	gocv.Ellipse(&img, image.Pt(320, 240), image.Pt(140, 70), 0, 0, 360, rgbaOf(15, 150, 150), 12)

	g := New(config.Default())
	defer g.Close()
	verdict := g.Check(img, nil)

	require.False(t, verdict.Accepted)
	assert.Equal(t, RejectWrongColour, verdict.Kind)
	assert.False(t, verdict.Layers["colour"].Passed)
}

func TestColourScoreGrowsWithCoverage(t *testing.T) {
	g := New(config.Default())
	defer g.Close()

	hollow := texturedScene(640, 480)
	defer hollow.Close()
	gocv.Ellipse(&hollow, image.Pt(320, 240), image.Pt(140, 70), 0, 0, 360, rgbaOf(15, 150, 150), 12)

	filled := texturedScene(640, 480)
	defer filled.Close()
	gocv.Ellipse(&filled, image.Pt(320, 240), image.Pt(140, 70), 0, 0, 360, rgbaOf(15, 150, 150), -1)

	vHollow := g.Check(hollow, nil)
	vFilled := g.Check(filled, nil)

	assert.Greater(t, vFilled.Layers["colour"].Score, vHollow.Layers["colour"].Score)
}

func TestCheckWithFruitBox(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	paintFruit(&img, 320, 240, 140, 70, 28, 150, 200)

	g := New(config.Default())
	defer g.Close()

	box := image.Rect(150, 140, 490, 340)
	verdict := g.Check(img, &box)
	require.True(t, verdict.Accepted, "reason: %s", verdict.Reason)

	// A box far from the fruit covers bare surface only; the layers still
	// run over it and the colour layer rejects.
	miss := image.Rect(0, 0, 100, 100)
	verdict = g.Check(img, &miss)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectWrongColour, verdict.Kind)
}

func TestCheckFruitBoxOverRedObject(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// A detector box around a red object must still name the colour: the
	// box is the region, and the rejection-band layer judges it.
	gocv.Ellipse(&img, image.Pt(320, 240), image.Pt(140, 70), 0, 0, 360, rgbaOf(0, 200, 200), -1)

	g := New(config.Default())
	defer g.Close()

	box := image.Rect(180, 170, 460, 310)
	verdict := g.Check(img, &box)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectNonTalisayFruit, verdict.Kind)
	assert.Contains(t, verdict.Reason, "red fruit")
}

func TestCheckNonTalisayReportsDominantBand(t *testing.T) {
	img := texturedScene(640, 480)
	defer img.Close()
	// Purple dominates red inside the box; the reason must name purple even
	// though red is evaluated first.
	gocv.Rectangle(&img, image.Rect(160, 180, 304, 340), rgbaOf(140, 200, 180), -1)
	gocv.Rectangle(&img, image.Rect(304, 180, 416, 340), rgbaOf(0, 200, 200), -1)

	g := New(config.Default())
	defer g.Close()

	box := image.Rect(160, 180, 480, 340)
	verdict := g.Check(img, &box)

	assert.False(t, verdict.Accepted)
	assert.Equal(t, RejectNonTalisayFruit, verdict.Kind)
	assert.Contains(t, verdict.Reason, "purple")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ACCEPT", Accept.String())
	assert.Equal(t, "REJECT_PERSON", RejectPerson.String())
	assert.Equal(t, "REJECT_COIN_ONLY", RejectCoinOnly.String())
	assert.Equal(t, "REJECT_UNREADABLE", RejectUnreadable.String())
	assert.Equal(t, "UNKNOWN", Kind(99).String())
}
