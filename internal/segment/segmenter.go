// Package segment isolates the most likely fruit region from the
// background. Several weak detectors each propose contour candidates; the
// candidates are deduplicated, filtered for elliptical plausibility, scored
// and the winner's mask refined. "Nothing found" is a distinct outcome from
// an empty mask.
package segment

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"talisay-vision/internal/colorband"
	"talisay-vision/internal/config"
	"talisay-vision/internal/shape"
)

// Result is the outcome of one segmentation attempt. When Found is true the
// caller owns Mask and Contour and must Close them.
type Result struct {
	Found        bool
	Mask         gocv.Mat
	Contour      gocv.PointVector
	BBox         image.Rectangle
	Confidence   float64
	ShapeScore   float64
	TextureScore float64
	Method       string
}

// Close releases the mask and contour held by the result.
func (r *Result) Close() {
	if r.Found {
		r.Mask.Close()
		r.Contour.Close()
	}
}

type candidate struct {
	contour    gocv.PointVector
	mask       gocv.Mat
	area       float64
	bbox       image.Rectangle
	method     string
	shapeScore float64
	texture    float64
	confidence float64
}

func (c *candidate) close() {
	c.contour.Close()
	c.mask.Close()
}

// SegmentByShape runs the shape-first segmentation strategy: aggressive
// shadow exclusion, three weak detectors, IoU dedup, ellipse-plausibility
// filtering and weighted scoring.
func SegmentByShape(img gocv.Mat, cfg *config.Config) Result {
	sc := cfg.Segment
	h, w := img.Rows(), img.Cols()

	shadows := DetectShadows(img)
	defer shadows.Close()

	candidates := collectCandidates(img, shadows, sc)
	candidates = dedupByIoU(candidates, sc.DedupIoU)
	candidates = filterByShape(candidates, h, w, sc)
	if len(candidates) == 0 {
		return Result{Method: "shape_based"}
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	for i := range candidates {
		c := &candidates[i]
		texture := textureScore(gray, c.mask)
		colorConsistency := colorConsistencyScore(hsv, c.mask)
		position := positionScore(c.bbox, h, w)
		talisay := talisayColorScore(hsv, c.mask)

		c.texture = texture
		c.confidence = c.shapeScore*0.35 +
			texture*0.25 +
			colorConsistency*0.10 +
			position*0.10 +
			talisay*0.20
	}

	bestIdx := 0
	for i := range candidates {
		if candidates[i].confidence > candidates[bestIdx].confidence {
			bestIdx = i
		}
	}
	best := &candidates[bestIdx]

	if best.confidence < sc.AcceptConfidence {
		for i := range candidates {
			candidates[i].close()
		}
		return Result{Method: "shape_based"}
	}

	refined := refineMask(img, best, shadows)
	result := Result{
		Found:        true,
		Mask:         refined,
		Contour:      gocv.NewPointVectorFromPoints(best.contour.ToPoints()),
		BBox:         best.bbox,
		Confidence:   best.confidence,
		ShapeScore:   best.shapeScore,
		TextureScore: best.texture,
		Method:       "shape_based",
	}
	for i := range candidates {
		candidates[i].close()
	}
	return result
}

// DetectShadows builds a mask of pixels that must never count as fruit:
// absolute darkness, relative darkness with low saturation, near-black RGB
// and dark gray. The caller owns the returned Mat.
func DetectShadows(img gocv.Mat) gocv.Mat {
	h, w := img.Rows(), img.Cols()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	// 25th percentile of V as the relative-darkness threshold
	vals := make([]float64, 0, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			vals = append(vals, float64(hsv.GetUCharAt(y, x*3+2)))
		}
	}
	sort.Float64s(vals)
	darkThreshold := stat.Quantile(0.25, stat.Empirical, vals, nil)

	mask := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := float64(hsv.GetUCharAt(y, x*3+1))
			v := float64(hsv.GetUCharAt(y, x*3+2))
			b := int(img.GetUCharAt(y, x*3))
			g := int(img.GetUCharAt(y, x*3+1))
			r := int(img.GetUCharAt(y, x*3+2))

			shadow := v < 40 ||
				(v < darkThreshold && s < 50) ||
				(r+g+b) < 120 ||
				(s < 40 && v < 100)
			if shadow {
				mask.SetUCharAt(y, x, 255)
			}
		}
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(7, 7))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	return mask
}

// collectCandidates runs the three weak detectors.
func collectCandidates(img, shadows gocv.Mat, sc config.Segment) []candidate {
	var out []candidate
	out = append(out, detectByEdges(img, shadows, sc)...)
	out = append(out, detectBySaturation(img, shadows, sc)...)
	out = append(out, detectByTalisayColors(img, shadows, sc)...)
	return out
}

func detectByEdges(img, shadows gocv.Mat, sc config.Segment) []candidate {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	smooth := gocv.NewMat()
	defer smooth.Close()
	gocv.BilateralFilter(gray, &smooth, 9, 75, 75)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(smooth, &edges, 30, 100)
	subtractMask(&edges, shadows)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer kernel.Close()
	gocv.Dilate(edges, &edges, kernel)
	gocv.Dilate(edges, &edges, kernel)

	return contoursToCandidates(edges, shadows, sc, "edges")
}

func detectBySaturation(img, shadows gocv.Mat, sc config.Segment) []candidate {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	satThresh := gocv.NewMat()
	defer satThresh.Close()
	gocv.Threshold(channels[1], &satThresh, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// Gate by moderate brightness; glare and shadow carry no color signal.
	h, w := img.Rows(), img.Cols()
	brightness := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	defer brightness.Close()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := channels[2].GetUCharAt(y, x)
			if v > 50 && v < 240 {
				brightness.SetUCharAt(y, x, 255)
			}
		}
	}

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.BitwiseAnd(satThresh, brightness, &combined)
	subtractMask(&combined, shadows)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(7, 7))
	defer kernel.Close()
	gocv.MorphologyEx(combined, &combined, gocv.MorphClose, kernel)
	gocv.MorphologyEx(combined, &combined, gocv.MorphOpen, kernel)

	return contoursToCandidates(combined, shadows, sc, "saturation")
}

func detectByTalisayColors(img, shadows gocv.Mat, sc config.Segment) []candidate {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	full := colorband.UnionMask(hsv, colorband.WideGreen, colorband.WideYellow, colorband.WideBrown)
	defer full.Close()
	subtractMask(&full, shadows)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(9, 9))
	defer kernel.Close()
	gocv.MorphologyEx(full, &full, gocv.MorphClose, kernel)
	gocv.MorphologyEx(full, &full, gocv.MorphOpen, kernel)

	return contoursToCandidates(full, shadows, sc, "talisay_color")
}

// contoursToCandidates extracts external contours in the allowed area-ratio
// band, rasterizes each as a shadow-free mask and packages them.
func contoursToCandidates(binary, shadows gocv.Mat, sc config.Segment, method string) []candidate {
	h, w := binary.Rows(), binary.Cols()
	imgArea := float64(h * w)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var out []candidate
	for i := 0; i < contours.Size(); i++ {
		cnt := contours.At(i)
		area := gocv.ContourArea(cnt)
		ratio := area / imgArea
		if ratio <= sc.MinAreaRatio || ratio >= sc.MaxAreaRatio {
			continue
		}

		copied := gocv.NewPointVectorFromPoints(cnt.ToPoints())
		mask := shape.MaskFromContour(copied, h, w)
		subtractMask(&mask, shadows)

		out = append(out, candidate{
			contour: copied,
			mask:    mask,
			area:    area,
			bbox:    gocv.BoundingRect(copied),
			method:  method,
		})
	}
	return out
}

// dedupByIoU removes candidates overlapping an already-kept larger one.
func dedupByIoU(candidates []candidate, threshold float64) []candidate {
	if len(candidates) <= 1 {
		return candidates
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].area > candidates[j].area })

	var unique []candidate
	for i := range candidates {
		c := &candidates[i]
		isDup := false
		for j := range unique {
			if maskIoU(c.mask, unique[j].mask) > threshold {
				isDup = true
				break
			}
		}
		if isDup {
			c.close()
		} else {
			unique = append(unique, *c)
		}
	}
	return unique
}

func maskIoU(a, b gocv.Mat) float64 {
	intersection := gocv.NewMat()
	defer intersection.Close()
	union := gocv.NewMat()
	defer union.Close()
	gocv.BitwiseAnd(a, b, &intersection)
	gocv.BitwiseOr(a, b, &union)
	return float64(gocv.CountNonZero(intersection)) / math.Max(1, float64(gocv.CountNonZero(union)))
}

// filterByShape keeps only candidates with Talisay-plausible ellipse
// geometry and at least 50% IoU with their own fitted ellipse.
func filterByShape(candidates []candidate, rows, cols int, sc config.Segment) []candidate {
	var valid []candidate
	for i := range candidates {
		c := &candidates[i]
		m := shape.Analyze(c.contour)
		if !m.Valid ||
			m.AspectRatio < sc.AspectLo || m.AspectRatio > sc.AspectHi ||
			m.Circularity < sc.CircularityLo || m.Circularity > sc.CircularityHi {
			c.close()
			continue
		}

		ellipseMask, ok := shape.EllipseMask(c.contour, rows, cols, 1.0)
		if !ok {
			c.close()
			continue
		}
		fit := maskIoU(c.mask, ellipseMask)
		ellipseMask.Close()
		if fit < sc.EllipseOverlap {
			c.close()
			continue
		}

		c.shapeScore = fit
		valid = append(valid, *c)
	}
	return valid
}

// refineMask intersects the winner with its fitted ellipse shrunk 5%,
// strips shadows and dark pixels, then closes holes and smooths the edge.
func refineMask(img gocv.Mat, best *candidate, shadows gocv.Mat) gocv.Mat {
	h, w := img.Rows(), img.Cols()

	refined := gocv.NewMat()
	ellipseMask, ok := shape.EllipseMask(best.contour, h, w, 0.95)
	if ok {
		gocv.BitwiseAnd(ellipseMask, best.mask, &refined)
		// A poor intersection means the contour mask is fragmented; trust
		// the clean ellipse boundary instead.
		if gocv.CountNonZero(refined) < gocv.CountNonZero(ellipseMask)/2 {
			refined.Close()
			refined = ellipseMask.Clone()
		}
		ellipseMask.Close()
	} else {
		refined = best.mask.Clone()
	}

	subtractMask(&refined, shadows)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if refined.GetUCharAt(y, x) == 0 {
				continue
			}
			s := hsv.GetUCharAt(y, x*3+1)
			v := hsv.GetUCharAt(y, x*3+2)
			if v < 35 || (s < 30 && v < 80) {
				refined.SetUCharAt(y, x, 0)
			}
		}
	}

	closeKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(15, 15))
	defer closeKernel.Close()
	gocv.MorphologyEx(refined, &refined, gocv.MorphClose, closeKernel)

	openKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer openKernel.Close()
	gocv.MorphologyEx(refined, &refined, gocv.MorphOpen, openKernel)

	gocv.GaussianBlur(refined, &refined, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	gocv.Threshold(refined, &refined, 127, 255, gocv.ThresholdBinary)
	return refined
}

// subtractMask zeroes dst wherever sub is foreground.
func subtractMask(dst *gocv.Mat, sub gocv.Mat) {
	inv := gocv.NewMat()
	defer inv.Close()
	gocv.BitwiseNot(sub, &inv)
	gocv.BitwiseAnd(*dst, inv, dst)
}

// Per-pixel score bands for the Talisay color fraction. Slightly looser
// than the segmentation bands so partial matches still contribute.
var scoreBands = []colorband.Box{
	{25, 25, 30, 90, 255, 255},
	{15, 50, 50, 35, 255, 255},
	{5, 30, 30, 25, 255, 255},
}

func talisayColorScore(hsv, mask gocv.Mat) float64 {
	h, w := hsv.Rows(), hsv.Cols()
	var total, hits int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.GetUCharAt(y, x) == 0 {
				continue
			}
			total++
			hv := float64(hsv.GetUCharAt(y, x*3))
			sv := float64(hsv.GetUCharAt(y, x*3+1))
			vv := float64(hsv.GetUCharAt(y, x*3+2))
			for _, b := range scoreBands {
				if b.Contains(hv, sv, vv) {
					hits++
					break
				}
			}
		}
	}
	if total < 10 {
		return 0
	}
	return float64(hits) / float64(total)
}

func textureScore(gray, mask gocv.Mat) float64 {
	vals := maskedValues(gray, mask, 0, 1)
	if len(vals) < 10 {
		return 0
	}
	return math.Max(0, 1-stat.PopStdDev(vals, nil)/50)
}

func colorConsistencyScore(hsv, mask gocv.Mat) float64 {
	hues := maskedValues(hsv, mask, 0, 3)
	if len(hues) < 10 {
		return 0
	}
	return math.Max(0, 1-stat.PopStdDev(hues, nil)/20)
}

func positionScore(bbox image.Rectangle, h, w int) float64 {
	cx := float64(bbox.Min.X) + float64(bbox.Dx())/2
	cy := float64(bbox.Min.Y) + float64(bbox.Dy())/2
	dx := cx - float64(w)/2
	dy := cy - float64(h)/2
	dist := math.Sqrt(dx*dx + dy*dy)
	maxDist := math.Sqrt(float64(w*w+h*h) / 4)
	return 1 - dist/maxDist
}

// maskedValues samples one channel of src under the mask. channels is the
// channel count of src, channel the index to read.
func maskedValues(src, mask gocv.Mat, channel, channels int) []float64 {
	h, w := src.Rows(), src.Cols()
	var vals []float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.GetUCharAt(y, x) == 0 {
				continue
			}
			vals = append(vals, float64(src.GetUCharAt(y, x*channels+channel)))
		}
	}
	return vals
}
