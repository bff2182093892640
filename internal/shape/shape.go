// Package shape computes the three boundary descriptors shared by every
// shape-based accept/reject rule in the pipeline: circularity, aspect ratio
// and solidity.
package shape

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"talisay-vision/pkg/colorutil"
	"talisay-vision/pkg/geometry"
)

// MinContourArea is the pixel area below which a contour is considered
// degenerate and Analyze returns the invalid sentinel.
const MinContourArea = 100

// Metrics holds the shared shape vocabulary for one region.
type Metrics struct {
	Valid       bool    `json:"valid"`
	Area        float64 `json:"area"`
	Perimeter   float64 `json:"perimeter"`
	Circularity float64 `json:"circularity"`  // 4π·area/perimeter², 1.0 for a circle
	AspectRatio float64 `json:"aspect_ratio"` // fitted ellipse major/minor, ≥1.0
	Solidity    float64 `json:"solidity"`     // area / convex hull area

	// Fitted ellipse, in pixels. Zero when the contour had fewer than
	// five points and the bounding box fallback was used.
	Center      geometry.Point2D `json:"center"`
	MajorAxisPx float64          `json:"major_axis_px"`
	MinorAxisPx float64          `json:"minor_axis_px"`
}

// Analyze computes shape metrics for a contour. Degenerate contours (area
// below MinContourArea or zero perimeter) return Metrics{Valid: false}
// rather than dividing by zero.
func Analyze(contour gocv.PointVector) Metrics {
	area := gocv.ContourArea(contour)
	if area < MinContourArea {
		return Metrics{}
	}
	perimeter := gocv.ArcLength(contour, true)
	if perimeter == 0 {
		return Metrics{}
	}

	m := Metrics{
		Valid:       true,
		Area:        area,
		Perimeter:   perimeter,
		Circularity: 4 * math.Pi * area / (perimeter * perimeter),
	}

	if contour.Size() >= 5 {
		ellipse := gocv.FitEllipse(contour)
		major := math.Max(float64(ellipse.Width), float64(ellipse.Height))
		minor := math.Min(float64(ellipse.Width), float64(ellipse.Height))
		if minor > 0 {
			m.AspectRatio = major / minor
		} else {
			m.AspectRatio = 1.0
		}
		m.Center = geometry.Point2D{X: float64(ellipse.Center.X), Y: float64(ellipse.Center.Y)}
		m.MajorAxisPx = major
		m.MinorAxisPx = minor
	} else {
		rect := gocv.BoundingRect(contour)
		w, h := float64(rect.Dx()), float64(rect.Dy())
		m.AspectRatio = math.Max(w, h) / math.Max(math.Min(w, h), 1)
		m.Center = geometry.Point2D{
			X: float64(rect.Min.X) + w/2,
			Y: float64(rect.Min.Y) + h/2,
		}
	}

	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(contour, &hull, false, true)
	hullPoints := gocv.NewPointVectorFromMat(hull)
	defer hullPoints.Close()
	hullArea := gocv.ContourArea(hullPoints)
	if hullArea > 0 {
		m.Solidity = area / hullArea
	}

	return m
}

// AnalyzeMask computes shape metrics for the largest external contour of a
// binary mask. An empty mask returns the invalid sentinel.
func AnalyzeMask(mask gocv.Mat) Metrics {
	contour, found := LargestContour(mask)
	if !found {
		return Metrics{}
	}
	defer contour.Close()
	return Analyze(contour)
}

// LargestContour returns a copy of the largest external contour of a binary
// mask. The caller owns the returned PointVector.
func LargestContour(mask gocv.Mat) (gocv.PointVector, bool) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	bestIdx := -1
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		a := gocv.ContourArea(contours.At(i))
		if a > bestArea {
			bestArea = a
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return gocv.PointVector{}, false
	}
	return gocv.NewPointVectorFromPoints(contours.At(bestIdx).ToPoints()), true
}

// MaskFromContour rasterizes a contour as a filled binary mask of the given
// size. The caller owns the returned Mat.
func MaskFromContour(contour gocv.PointVector, rows, cols int) gocv.Mat {
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	pts := gocv.NewPointsVector()
	defer pts.Close()
	pts.Append(contour)
	gocv.FillPoly(&mask, pts, colorutil.White)
	return mask
}

// EllipseMask rasterizes the fitted ellipse of a contour, optionally shrunk
// by the given factor, as a filled mask. Returns found=false when the
// contour cannot support an ellipse fit.
func EllipseMask(contour gocv.PointVector, rows, cols int, shrink float64) (gocv.Mat, bool) {
	if contour.Size() < 5 {
		return gocv.NewMat(), false
	}
	e := gocv.FitEllipse(contour)
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	axes := image.Pt(
		int(float64(e.Width)/2*shrink+0.5),
		int(float64(e.Height)/2*shrink+0.5),
	)
	gocv.Ellipse(&mask, e.Center, axes, e.Angle, 0, 360, colorutil.White, -1)
	return mask, true
}
