// Package imageio is the single image-loading boundary of the pipeline.
// Every caller gets the same canonical type: an 8-bit 3-channel BGR Mat.
package imageio

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	// Decoders for formats the OpenCV codecs are not always built with.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	_ "image/jpeg"
	_ "image/png"
)

// Load reads an image file and returns it as a BGR Mat. The OpenCV codecs
// are tried first; the registered Go decoders cover the rest.
func Load(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("could not load image %s: %w", path, err)
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("could not decode image %s: %w", path, err)
	}
	return FromImage(decoded), nil
}

// FromImage converts a Go image.Image to a BGR Mat.
func FromImage(src image.Image) gocv.Mat {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 16-bit to 8-bit, BGR order for OpenCV
			mat.SetUCharAt(y, x*3+0, uint8(b>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}
	return mat
}

// DownscaleToWidth returns src resized so its width does not exceed maxWidth,
// along with the applied scale factor. When no resize is needed the returned
// Mat is a clone and the scale is 1.0. The caller owns the returned Mat.
func DownscaleToWidth(src gocv.Mat, maxWidth int) (gocv.Mat, float64) {
	w := src.Cols()
	if maxWidth <= 0 || w <= maxWidth {
		return src.Clone(), 1.0
	}
	scale := float64(maxWidth) / float64(w)
	h := int(float64(src.Rows())*scale + 0.5)

	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(maxWidth, h), 0, 0, gocv.InterpolationArea)
	return dst, scale
}
