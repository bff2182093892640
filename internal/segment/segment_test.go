package segment

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

// fruitScene paints a ripe-brown ellipse on a light neutral surface.
func fruitScene(w, h int) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), h, w, gocv.MatTypeCV8UC3)
	r, g, b := colorutil.HSVToRGB(15, 150, 150)
	gocv.Ellipse(&img, image.Pt(w/2, h/2), image.Pt(110, 60), 0, 0, 360,
		color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}, -1)
	return img
}

func TestSegmentByShapeFindsFruit(t *testing.T) {
	img := fruitScene(640, 480)
	defer img.Close()

	res := SegmentByShape(img, config.Default())
	require.True(t, res.Found)
	defer res.Close()

	assert.Equal(t, "shape_based", res.Method)
	assert.GreaterOrEqual(t, res.Confidence, config.Default().Segment.AcceptConfidence)

	// The bounding box must sit over the painted ellipse.
	center := res.BBox.Min.Add(image.Pt(res.BBox.Dx()/2, res.BBox.Dy()/2))
	assert.InDelta(t, 320, float64(center.X), 15)
	assert.InDelta(t, 240, float64(center.Y), 15)

	// The refined mask keeps most of the ellipse body.
	ellipseArea := 3.14159 * 110 * 60
	maskArea := float64(gocv.CountNonZero(res.Mask))
	assert.Greater(t, maskArea, ellipseArea*0.6)
	assert.Less(t, maskArea, ellipseArea*1.2)
}

func TestSegmentByShapeIdempotent(t *testing.T) {
	img := fruitScene(640, 480)
	defer img.Close()
	cfg := config.Default()

	first := SegmentByShape(img, cfg)
	defer first.Close()
	second := SegmentByShape(img, cfg)
	defer second.Close()

	require.Equal(t, first.Found, second.Found)
	assert.Equal(t, first.BBox, second.BBox)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-9)
}

func TestSegmentByShapeNothingFound(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()

	res := SegmentByShape(img, config.Default())
	assert.False(t, res.Found)
	assert.Equal(t, "shape_based", res.Method)
}

func TestDetectShadows(t *testing.T) {
	// Left half deep shadow, right half bright surface.
	img := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8UC3)
	defer img.Close()
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			v := uint8(240)
			if x < 100 {
				v = 20
			}
			img.SetUCharAt(y, x*3+0, v)
			img.SetUCharAt(y, x*3+1, v)
			img.SetUCharAt(y, x*3+2, v)
		}
	}

	shadows := DetectShadows(img)
	defer shadows.Close()

	assert.NotZero(t, shadows.GetUCharAt(50, 50), "dark side flagged")
	assert.Zero(t, shadows.GetUCharAt(50, 150), "bright side clear")
}

func TestSegmentGreenOnGreenNothingFound(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(60, 140, 80, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()

	res := SegmentGreenOnGreen(img, config.Default())
	assert.False(t, res.Found)
	assert.Equal(t, "green_on_green", res.Method)
}
