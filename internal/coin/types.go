// Package coin locates the reference coin in a photo and derives the
// pixel-to-centimeter scale from its known physical diameter. Two search
// strategies exist: a thorough single-pass search for uncropped photos, and
// a fast size-gated search for when the fruit bounding box is already known.
// Neither strategy ever errors on "no coin" — callers get Detected=false
// and fall back to contour-based estimation.
package coin

import (
	"talisay-vision/pkg/geometry"
)

// Method indicates which search strategy produced a detection.
type Method int

const (
	// MethodThorough is the multi-pass Hough search with rim-continuity
	// primary scoring.
	MethodThorough Method = iota
	// MethodFast is the size-gated search used when a fruit bounding box
	// is already known.
	MethodFast
)

func (m Method) String() string {
	switch m {
	case MethodThorough:
		return "thorough"
	case MethodFast:
		return "fast"
	default:
		return "unknown"
	}
}

// Detection is the outcome of one coin search. Center and Radius are in
// original image coordinates regardless of any internal downscaling.
type Detection struct {
	Detected    bool             `json:"detected"`
	Center      geometry.Point2D `json:"center"`
	Radius      float64          `json:"radius"`
	Score       float64          `json:"score"`
	PixelsPerCM float64          `json:"pixels_per_cm"`
	DiameterCM  float64          `json:"diameter_cm"`
	Confidence  float64          `json:"confidence"`
	Method      Method           `json:"method"`
}

// candidate is a scored circle in work-image coordinates.
type candidate struct {
	x, y, r int
	score   float64
}
