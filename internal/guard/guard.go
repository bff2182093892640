package guard

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"talisay-vision/internal/colorband"
	"talisay-vision/internal/config"
	"talisay-vision/internal/logging"
	"talisay-vision/internal/shape"
	"talisay-vision/pkg/colorutil"
)

// Guard runs the acceptance cascade. Safe for concurrent use; all state is
// read-only after New.
type Guard struct {
	cfg  *config.Config
	face *gocv.CascadeClassifier
}

// New builds a guard. When cfg.Guard.FaceCascadePath names a readable Haar
// cascade the person layer additionally runs face detection; otherwise the
// skin heuristics carry that layer alone.
func New(cfg *config.Config) *Guard {
	g := &Guard{cfg: cfg}
	if path := cfg.Guard.FaceCascadePath; path != "" {
		classifier := gocv.NewCascadeClassifier()
		if classifier.Load(path) {
			g.face = &classifier
		} else {
			classifier.Close()
			logging.Warnf("guard: face cascade %s failed to load, continuing without", path)
		}
	}
	return g
}

// Close releases the face classifier, if any.
func (g *Guard) Close() {
	if g.face != nil {
		g.face.Close()
		g.face = nil
	}
}

// Check decides whether img shows a Talisay fruit. fruitBox, when non-nil,
// restricts the fruit mask to an externally detected bounding box. The input
// Mat is never modified; repeated calls on the same image yield the same
// verdict.
func (g *Guard) Check(img gocv.Mat, fruitBox *image.Rectangle) Verdict {
	gc := g.cfg.Guard
	h, w := img.Rows(), img.Cols()
	layers := map[string]LayerScore{}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	// Layer 1: blank or featureless image.
	if kind, reason, blank := g.blankCheck(gray, hsv); blank {
		layers["blank"] = LayerScore{}
		return reject(kind, 0, reason, layers)
	}
	layers["blank"] = LayerScore{Passed: true}

	// Layer 2: person in frame.
	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(img, &ycrcb, gocv.ColorBGRToYCrCb)

	skinMask := colorband.SkinMask(hsv, ycrcb)
	defer skinMask.Close()
	skinCoverage := maskCoverage(skinMask)

	strongMask := colorband.UnionMask(hsv, colorband.TalisayGreen, colorband.TalisayYellow)
	defer strongMask.Close()
	strongCoverage := maskCoverage(strongMask)

	if g.face != nil && strongCoverage < gc.FaceFruitCoverageMin {
		faces := g.face.DetectMultiScaleWithParams(gray, 1.15, 5, 0,
			image.Pt(int(0.08*float64(w)), int(0.08*float64(h))), image.Point{})
		if len(faces) > 0 {
			layers["person"] = LayerScore{Score: skinCoverage}
			return reject(RejectPerson, 0, "face detected with no fruit colors present", layers)
		}
	}

	wasRescued := false
	if skinCoverage > gc.SkinRescueCoverage {
		totalRescue := g.rescueCoverage(hsv, skinMask, strongMask)
		switch {
		case strongCoverage >= gc.RescueStrongCoverage:
			// Hands holding a fruit: skin plus genuine fruit color.
			wasRescued = true
		case totalRescue >= gc.RescueBrownCoverage && skinCoverage < gc.SkinRejectCoverage:
			wasRescued = true
		default:
			layers["person"] = LayerScore{Score: skinCoverage}
			return reject(RejectPerson, 0,
				fmt.Sprintf("skin coverage %.0f%% with no fruit colors", skinCoverage*100), layers)
		}
	}
	layers["person"] = LayerScore{Score: skinCoverage, Passed: true}

	// Fruit region mask, from the external box or color fallback.
	fruitMask := g.buildFruitMask(hsv, fruitBox)
	defer fruitMask.Close()
	maskArea := gocv.CountNonZero(fruitMask)
	if maskArea < gc.MinFruitMaskArea {
		return reject(RejectGeneric, 0, "no fruit-like region found", layers)
	}

	// Layer 3: capsicum (siling) look-alike.
	capScore := g.capsicumScore(img, hsv, gray, fruitMask, maskArea)
	layers["capsicum"] = LayerScore{Score: capScore, Passed: capScore < gc.CapsicumRejectScore}
	if capScore >= gc.CapsicumRejectScore {
		return reject(RejectCapsicum, 0,
			fmt.Sprintf("capsicum signature score %.2f", capScore), layers)
	}

	// Layer 4: dominant non-Talisay color.
	if label, cov, hit := g.nonTalisayCheck(hsv, fruitMask, maskArea); hit {
		layers["non_talisay"] = LayerScore{Score: cov}
		return reject(RejectNonTalisayFruit, 0,
			fmt.Sprintf("%s covers %.0f%% of the region", label, cov*100), layers)
	}
	layers["non_talisay"] = LayerScore{Passed: true}

	// Layer 5: colour.
	colourScore, colourPass, dominant := g.colourLayer(hsv, fruitMask, maskArea)
	layers["colour"] = LayerScore{Score: colourScore, Passed: colourPass}

	// Layer 6: shape, with the hard round-object gate.
	shapeScore, shapePass, metrics := g.shapeLayer(fruitMask)
	layers["shape"] = LayerScore{Score: shapeScore, Passed: shapePass}

	regionCoverage := float64(maskArea) / float64(h*w)
	if metrics.Valid &&
		regionCoverage < gc.RoundGateCoverage &&
		metrics.Circularity > gc.RoundGateCircMin &&
		metrics.AspectRatio < gc.RoundGateAspectMax {
		return reject(RejectWrongShape, 0, "small near-perfect circle, likely a coin or ball", layers)
	}

	// Layer 7: texture.
	textureScore, texturePass := g.textureLayer(gray, hsv, fruitMask, maskArea)
	layers["texture"] = LayerScore{Score: textureScore, Passed: texturePass}

	composite := gc.ColourWeight*colourScore + gc.ShapeWeight*shapeScore + gc.TextureWeight*textureScore
	passes := 0
	for _, ok := range []bool{colourPass, shapePass, texturePass} {
		if ok {
			passes++
		}
	}

	accepted := passes >= 3 || (passes >= 2 && composite >= gc.CompositeAccept)
	if composite < gc.CompositeForceMin {
		accepted = false
	}

	// Skin veto: a rescue granted earlier is withdrawn when the layer
	// evidence stays weak and the rescue colors look like backdrop, not
	// fruit.
	if accepted && wasRescued && passes < 3 {
		if skinCoverage > gc.SkinRejectCoverage {
			layers["skin_veto"] = LayerScore{Score: skinCoverage}
			return reject(RejectPerson, composite, "skin dominates a weak detection", layers)
		}
		if strongCoverage > 0.10 && g.foliageVeto(hsv) {
			layers["skin_veto"] = LayerScore{Score: strongCoverage}
			return reject(RejectPerson, composite, "green backdrop is saturated foliage, not fruit", layers)
		}
	}

	if !accepted {
		switch {
		case !colourPass:
			return reject(RejectWrongColour, composite,
				fmt.Sprintf("colour coverage too low (score %.2f)", colourScore), layers)
		case !shapePass:
			return reject(RejectWrongShape, composite,
				fmt.Sprintf("outline not fruit-like (score %.2f)", shapeScore), layers)
		case !texturePass:
			return reject(RejectWrongTexture, composite,
				fmt.Sprintf("surface texture off (score %.2f)", textureScore), layers)
		default:
			return reject(RejectLowConfidence, composite,
				fmt.Sprintf("composite confidence %.2f below threshold", composite), layers)
		}
	}

	logging.Debugf("guard: accepted composite=%.2f passes=%d dominant=%s", composite, passes, dominant)
	return Verdict{
		Accepted:       true,
		Kind:           Accept,
		KindLabel:      Accept.String(),
		Score:          composite,
		Reason:         "talisay fruit detected",
		DominantColour: dominant,
		Layers:         layers,
	}
}

// blankCheck flags empty tables, blank walls and white sheets.
func (g *Guard) blankCheck(gray, hsv gocv.Mat) (Kind, string, bool) {
	gc := g.cfg.Guard
	h, w := gray.Rows(), gray.Cols()

	grayVals := make([]float64, 0, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			grayVals = append(grayVals, float64(gray.GetUCharAt(y, x)))
		}
	}
	if stat.PopVariance(grayVals, nil) < gc.BlankVarianceMax {
		return RejectBlank, "image is nearly uniform", true
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)
	edgeRatio := float64(gocv.CountNonZero(edges)) / float64(h*w)
	if edgeRatio < gc.BlankEdgeRatioMax {
		return RejectBlank, "no structure in the image", true
	}

	lowSat := 0
	vVals := make([]float64, 0, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if hsv.GetUCharAt(y, x*3+1) < 15 {
				lowSat++
			}
			vVals = append(vVals, float64(hsv.GetUCharAt(y, x*3+2)))
		}
	}
	whiteRatio := float64(lowSat) / float64(h*w)
	if whiteRatio > gc.BlankWhiteRatioMin && stat.PopVariance(vVals, nil) < gc.BlankWhiteVarMax {
		return RejectBlank, "blank white surface", true
	}

	return Accept, "", false
}

// rescueCoverage is the fraction of the image covered by fruit colors that
// can justify skin presence: strong green/yellow plus brown that is not
// itself skin.
func (g *Guard) rescueCoverage(hsv, skinMask, strongMask gocv.Mat) float64 {
	brownMask := colorband.Mask(hsv, colorband.TalisayBrown)
	defer brownMask.Close()

	notSkin := gocv.NewMat()
	defer notSkin.Close()
	gocv.BitwiseNot(skinMask, &notSkin)
	gocv.BitwiseAnd(brownMask, notSkin, &brownMask)

	total := gocv.NewMat()
	defer total.Close()
	gocv.BitwiseOr(strongMask, brownMask, &total)
	return maskCoverage(total)
}

// buildFruitMask isolates the candidate fruit region. An external box IS the
// region: the colour and texture layers judge everything inside it, so a
// detected object of the wrong colour still reaches the layer that names the
// rejection. Without a box, the strict bands plus wide green are cleaned
// morphologically and reduced to their significant contours.
func (g *Guard) buildFruitMask(hsv gocv.Mat, fruitBox *image.Rectangle) gocv.Mat {
	h, w := hsv.Rows(), hsv.Cols()

	if fruitBox != nil {
		mask := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
		gocv.Rectangle(&mask, *fruitBox, colorutil.White, -1)
		return mask
	}

	mask := colorband.UnionMask(hsv,
		colorband.TalisayGreen, colorband.TalisayYellow, colorband.TalisayBrown,
		colorband.WideGreen)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(9, 9))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)

	// Keep only contours that plausibly are the fruit, not color specks.
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	minArea := 0.01 * float64(h*w)
	significant := gocv.NewPointsVector()
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > minArea {
			significant.Append(contours.At(i))
		}
	}
	if significant.Size() > 0 {
		cleaned := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
		gocv.FillPoly(&cleaned, significant, colorutil.White)
		mask.Close()
		mask = cleaned
	}
	significant.Close()
	contours.Close()
	return mask
}

// capsicumScore accumulates evidence that the region is a chili pepper:
// siling colors, elongation, smooth glossy surface, narrow silhouette.
func (g *Guard) capsicumScore(img, hsv, gray, mask gocv.Mat, maskArea int) float64 {
	if maskArea < 200 {
		return 0
	}

	score := 0.0
	silingMask := colorband.UnionMask(hsv, colorband.SilingGreen, colorband.SilingRed)
	silingCov := coverageWithinMask(silingMask, mask, maskArea)
	silingMask.Close()
	if silingCov > 0.30 {
		score += 0.20
	}

	contour, found := shape.LargestContour(mask)
	if !found {
		return score
	}
	defer contour.Close()
	m := shape.Analyze(contour)
	if !m.Valid {
		return score
	}

	if m.AspectRatio > 2.5 {
		score += 0.25
	}
	if m.AspectRatio > 3.5 {
		score += 0.15
	}
	if m.Circularity < 0.45 {
		score += 0.15
	}

	grayVals := maskedChannel(gray, mask, 0, 1)
	if len(grayVals) > 0 && stat.PopStdDev(grayVals, nil) < 25 {
		score += 0.10
	}
	satVals := maskedChannel(hsv, mask, 1, 3)
	if len(satVals) > 0 && stat.Mean(satVals, nil) > 120 {
		score += 0.10
	}

	minor := m.MinorAxisPx
	if minor == 0 {
		rect := gocv.BoundingRect(contour)
		minor = math.Min(float64(rect.Dx()), float64(rect.Dy()))
	}
	if minor/float64(maxInt(img.Cols(), img.Rows())) < 0.06 {
		score += 0.15
	}
	return score
}

// nonTalisayCheck scans the rejection bands. Dark and white hits can be
// rescued by genuine Talisay coverage; shadowed or glossy fruit trips them
// otherwise.
func (g *Guard) nonTalisayCheck(hsv, mask gocv.Mat, maskArea int) (string, float64, bool) {
	gc := g.cfg.Guard
	if maskArea < 100 {
		return "", 0, false
	}

	talisayMask := colorband.UnionMask(hsv,
		colorband.TalisayGreen, colorband.TalisayYellow, colorband.TalisayBrown)
	talisayCov := coverageWithinMask(talisayMask, mask, maskArea)
	talisayMask.Close()

	// The rejection names the band with the most coverage, not the first
	// one over threshold, so mixed regions report their dominant colour.
	worstLabel, worstCov := "", 0.0
	for _, band := range colorband.RejectionBands {
		cov := colorband.CoverageWithin(hsv, mask, band.Name)
		if cov <= gc.NonTalisayCoverageMax || cov <= worstCov {
			continue
		}
		rescuable := band.Name == colorband.DarkObject || band.Name == colorband.WhiteObject
		if rescuable && talisayCov >= gc.TalisayRescueCoverage {
			continue
		}
		worstLabel, worstCov = band.Label, cov
	}
	if worstCov > 0 {
		return worstLabel, worstCov, true
	}
	return "", 0, false
}

// colourLayer scores strict-band coverage inside the fruit region.
func (g *Guard) colourLayer(hsv, mask gocv.Mat, maskArea int) (float64, bool, string) {
	gc := g.cfg.Guard
	if maskArea < 200 {
		return 0, false, ""
	}

	coverages := map[string]float64{
		"green":  colorband.CoverageWithin(hsv, mask, colorband.TalisayGreen),
		"yellow": colorband.CoverageWithin(hsv, mask, colorband.TalisayYellow),
		"brown":  colorband.CoverageWithin(hsv, mask, colorband.TalisayBrown),
	}
	total := 0.0
	dominant, dominantCov := "", 0.0
	for name, cov := range coverages {
		total += cov
		if cov > dominantCov {
			dominant, dominantCov = name, cov
		}
	}

	score := math.Min(1, total/gc.ColourFullCoverage)
	passes := total >= gc.ColourPassCoverage
	if dominantCov < gc.ColourDominantShare {
		passes = false
		score *= 0.5
	}
	return score, passes, dominant
}

// shapeLayer scores the region outline against the Talisay silhouette:
// a moderately elongated, fairly convex almond shape.
func (g *Guard) shapeLayer(mask gocv.Mat) (float64, bool, shape.Metrics) {
	gc := g.cfg.Guard
	m := shape.AnalyzeMask(mask)
	if !m.Valid || m.Area < 300 {
		return 0, false, shape.Metrics{}
	}

	score := 0.0
	mid := (gc.ShapeAspectLo + gc.ShapeAspectHi) / 2
	half := (gc.ShapeAspectHi - gc.ShapeAspectLo) / 2
	switch {
	case m.AspectRatio >= gc.ShapeAspectLo && m.AspectRatio <= gc.ShapeAspectHi:
		score += (1 - math.Abs(m.AspectRatio-mid)/half) * 0.40
	case m.AspectRatio >= 1.1 && m.AspectRatio <= 2.6:
		score += 0.15
	}
	switch {
	case m.Circularity >= gc.ShapeCircLo && m.Circularity <= gc.ShapeCircHi:
		score += 0.30
	case m.Circularity >= 0.25 && m.Circularity <= 0.85:
		score += 0.12
	}
	switch {
	case m.Solidity >= gc.ShapeSolidityMin:
		score += 0.30
	case m.Solidity >= 0.72:
		score += 0.12
	}

	passes := score >= gc.ShapePassScore &&
		m.AspectRatio >= gc.ShapeAspectPassLo && m.AspectRatio <= gc.ShapeAspectPassHi &&
		m.Circularity <= gc.ShapeCircPassMax
	return score, passes, m
}

// textureLayer scores surface character: leathery matte skin with moderate
// variation, consistent hue, and mid-range sharpness.
func (g *Guard) textureLayer(gray, hsv, mask gocv.Mat, maskArea int) (float64, bool) {
	gc := g.cfg.Guard
	if maskArea < 200 {
		return 0, false
	}

	score := 0.0
	grayVals := maskedChannel(gray, mask, 0, 1)
	grayStd := stat.PopStdDev(grayVals, nil)
	switch {
	case grayStd > 15 && grayStd < 70:
		score += 0.35
	case grayStd > 10 && grayStd < 80:
		score += 0.15
	}

	// Metallic or glossy highlights: bright and desaturated at once.
	h, w := hsv.Rows(), hsv.Cols()
	metallic := 0
	var hueVals []float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.GetUCharAt(y, x) == 0 {
				continue
			}
			s := hsv.GetUCharAt(y, x*3+1)
			v := hsv.GetUCharAt(y, x*3+2)
			if s < 40 && v > 180 {
				metallic++
			}
			hueVals = append(hueVals, float64(hsv.GetUCharAt(y, x*3)))
		}
	}
	metallicRatio := float64(metallic) / float64(maskArea)
	switch {
	case metallicRatio < 0.15:
		score += 0.25
	case metallicRatio < 0.25:
		score += 0.10
	}

	hueStd := stat.PopStdDev(hueVals, nil)
	switch {
	case hueStd < 20:
		score += 0.25
	case hueStd < 30:
		score += 0.12
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	var lapVals []float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.GetUCharAt(y, x) != 0 {
				lapVals = append(lapVals, lap.GetDoubleAt(y, x))
			}
		}
	}
	lapVar := stat.PopVariance(lapVals, nil)
	switch {
	case lapVar > 50 && lapVar < 3000:
		score += 0.15
	case lapVar > 20 && lapVar < 5000:
		score += 0.05
	}

	return score, score >= gc.TexturePassScore
}

// foliageVeto reports whether the image's green is saturated vegetation
// rather than the muted green of unripe Talisay.
func (g *Guard) foliageVeto(hsv gocv.Mat) bool {
	gc := g.cfg.Guard
	greenMask := colorband.Mask(hsv, colorband.TalisayGreen)
	defer greenMask.Close()

	sats := maskedChannel(hsv, greenMask, 1, 3)
	if len(sats) <= gc.VegetationSampleFloor {
		return false
	}
	sort.Float64s(sats)
	return stat.Quantile(0.5, stat.Empirical, sats, nil) > gc.VegetationSaturation
}

func maskCoverage(mask gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}

func coverageWithinMask(m, region gocv.Mat, regionArea int) float64 {
	if regionArea == 0 {
		return 0
	}
	both := gocv.NewMat()
	defer both.Close()
	gocv.BitwiseAnd(m, region, &both)
	return float64(gocv.CountNonZero(both)) / float64(regionArea)
}

// maskedChannel samples one channel of src under the mask. channels is the
// channel count of src.
func maskedChannel(src, mask gocv.Mat, channel, channels int) []float64 {
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
