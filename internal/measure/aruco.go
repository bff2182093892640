package measure

import (
	"math"

	"gocv.io/x/gocv"

	"talisay-vision/internal/logging"
)

// arucoConfidence reflects that a detected marker's corners are
// subpixel-accurate; the scale is essentially exact.
const arucoConfidence = 0.95

// DetectArUco searches for a 4x4_50 marker of known side length and derives
// the pixel scale from it. Returns ok=false when no marker is visible.
func DetectArUco(img gocv.Mat, sideCM float64) (Calibration, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict4x4_50)
	params := gocv.NewArucoDetectorParameters()
	detector := gocv.NewArucoDetectorWithParams(dict, params)
	defer detector.Close()

	corners, ids, _ := detector.DetectMarkers(gray)
	if len(ids) == 0 || len(corners) == 0 || len(corners[0]) < 4 {
		return Calibration{}, false
	}

	// Side length in pixels, averaged over two adjacent sides to absorb
	// mild perspective.
	quad := corners[0]
	side1 := distance2f(quad[0], quad[1])
	side2 := distance2f(quad[1], quad[2])
	sidePx := (side1 + side2) / 2
	if sidePx <= 0 || sideCM <= 0 {
		return Calibration{}, false
	}

	logging.Debugf("measure: aruco marker id=%d side=%.1fpx", ids[0], sidePx)
	return NewCalibration(sidePx/sideCM, SourceArUco, arucoConfidence), true
}

func distance2f(a, b gocv.Point2f) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
