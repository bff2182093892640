package coin

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"talisay-vision/internal/config"
	"talisay-vision/pkg/geometry"
)

// coinScene paints a gray coin with a dark rim on a bright neutral surface.
func coinScene(w, h, cx, cy, r int) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(230, 230, 230, 0), h, w, gocv.MatTypeCV8UC3)
	gocv.Circle(&img, image.Pt(cx, cy), r, color.RGBA{R: 110, G: 110, B: 110, A: 255}, -1)
	gocv.Circle(&img, image.Pt(cx, cy), r, color.RGBA{R: 60, G: 60, B: 60, A: 255}, 3)
	return img
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "thorough", MethodThorough.String())
	assert.Equal(t, "fast", MethodFast.String())
}

func TestDetectThoroughFindsCoin(t *testing.T) {
	img := coinScene(800, 600, 200, 300, 48)
	defer img.Close()
	cfg := config.Default()

	det := DetectThorough(img, cfg)
	require.True(t, det.Detected)
	assert.Equal(t, MethodThorough, det.Method)
	assert.InDelta(t, 200, det.Center.X, 10)
	assert.InDelta(t, 300, det.Center.Y, 10)
	assert.InDelta(t, 48, det.Radius, 5)
	assert.InDelta(t, 2*48/2.4, det.PixelsPerCM, 2*48/2.4*0.10)
	assert.GreaterOrEqual(t, det.Score, cfg.ThoroughCoin.AcceptScore)
	assert.LessOrEqual(t, det.Confidence, 0.95)
}

func TestDetectThoroughScaleLaw(t *testing.T) {
	// The derived pixel scale must track image scale linearly.
	small := coinScene(800, 600, 200, 300, 48)
	defer small.Close()
	large := coinScene(1200, 900, 300, 450, 72)
	defer large.Close()
	cfg := config.Default()

	detSmall := DetectThorough(small, cfg)
	detLarge := DetectThorough(large, cfg)
	require.True(t, detSmall.Detected)
	require.True(t, detLarge.Detected)

	ratio := detLarge.PixelsPerCM / detSmall.PixelsPerCM
	assert.InDelta(t, 1.5, ratio, 1.5*0.05)
}

func TestDetectThoroughScaleUsesConfiguredDiameter(t *testing.T) {
	img := coinScene(800, 600, 200, 300, 48)
	defer img.Close()

	cfg := config.Default()
	cfg.DefaultCoin = "peso_5_old" // 2.5 cm

	det := DetectThorough(img, cfg)
	require.True(t, det.Detected)
	assert.InDelta(t, 2*det.Radius/2.5, det.PixelsPerCM, 0.5)
	assert.InDelta(t, 2.5, det.DiameterCM, 1e-9)
}

func TestDetectThoroughRejectsRightSideCircle(t *testing.T) {
	// Coins are placed left of the fruit; a circle far right is clutter.
	img := coinScene(800, 600, 700, 300, 48)
	defer img.Close()

	det := DetectThorough(img, config.Default())
	assert.False(t, det.Detected)
}

func TestDetectThoroughEmptyScene(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(230, 230, 230, 0), 600, 800, gocv.MatTypeCV8UC3)
	defer img.Close()

	det := DetectThorough(img, config.Default())
	assert.False(t, det.Detected)
}

func TestDetectFastFindsCoinBesideFruit(t *testing.T) {
	img := coinScene(800, 600, 180, 300, 45)
	defer img.Close()
	fruit := &geometry.Rect{X: 450, Y: 150, Width: 250, Height: 300}

	det := DetectFast(img, fruit, config.Default())
	require.True(t, det.Detected)
	assert.Equal(t, MethodFast, det.Method)
	assert.InDelta(t, 180, det.Center.X, 15)
	assert.InDelta(t, 300, det.Center.Y, 15)
	assert.InDelta(t, 45, det.Radius, 7)
	assert.LessOrEqual(t, det.Confidence, 0.90)
}

func TestDetectFastRejectsCircleInsideFruitBox(t *testing.T) {
	img := coinScene(800, 600, 560, 300, 45)
	defer img.Close()
	fruit := &geometry.Rect{X: 400, Y: 100, Width: 320, Height: 400}

	det := DetectFast(img, fruit, config.Default())
	assert.False(t, det.Detected)
}

func TestDetectFastSkipsDarkBorder(t *testing.T) {
	// Dark surroundings mean an outdoor photo with no reference backdrop.
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 600, 800, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.Circle(&img, image.Pt(200, 300), 45, color.RGBA{R: 110, G: 110, B: 110, A: 255}, -1)

	det := DetectFast(img, nil, config.Default())
	assert.False(t, det.Detected)
}
