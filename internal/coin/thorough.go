package coin

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"talisay-vision/internal/config"
	"talisay-vision/internal/imageio"
	"talisay-vision/pkg/geometry"
)

// rimSectors is the number of angular sectors checked for rim continuity.
// Real coins show edge pixels in well over 70% of sectors; coincidental
// circles rarely exceed 50%.
const rimSectors = 36

// DetectThorough runs the single-pass coin search over the whole image.
// Rim continuity is the primary criterion; metallic reflectance, edge
// density, contrast, uniformity, position and size fill out the score.
func DetectThorough(img gocv.Mat, cfg *config.Config) Detection {
	tc := cfg.ThoroughCoin
	work, scale := imageio.DownscaleToWidth(img, tc.MaxProcessWidth)
	defer work.Close()

	best, found := bestThoroughCandidate(work, tc)
	if !found || best.score < tc.AcceptScore {
		return Detection{Method: MethodThorough}
	}

	// Back to original image coordinates
	cx := float64(best.x) / scale
	cy := float64(best.y) / scale
	r := float64(best.r) / scale

	diameterCM := cfg.CoinDiameterCM()
	return Detection{
		Detected:    true,
		Center:      geometry.Point2D{X: cx, Y: cy},
		Radius:      r,
		Score:       best.score,
		PixelsPerCM: 2 * r / diameterCM,
		DiameterCM:  diameterCM,
		Confidence:  math.Min(0.95, 0.5+best.score*0.5),
		Method:      MethodThorough,
	}
}

func bestThoroughCandidate(img gocv.Mat, tc config.ThoroughCoin) (candidate, bool) {
	h, w := img.Rows(), img.Cols()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	blurSize := 5
	if w >= 2000 {
		blurSize = 7
	}
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(blurSize, blurSize), 0, 0, gocv.BorderDefault)

	// Contrast-enhanced version catches rims the plain pass misses under
	// uneven lighting.
	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	claheGray := gocv.NewMat()
	defer claheGray.Close()
	clahe.Apply(gray, &claheGray)
	blurredClahe := gocv.NewMat()
	defer blurredClahe.Close()
	gocv.GaussianBlur(claheGray, &blurredClahe, image.Pt(blurSize, blurSize), 0, 0, gocv.BorderDefault)

	minRadius := maxInt(20, int(float64(w)*0.025))
	maxRadius := minInt(int(float64(w)*0.12), int(float64(h)*0.20))
	minDist := math.Max(40, float64(w)*0.02)

	var all []candidate
	for _, grayVer := range []gocv.Mat{blurred, blurredClahe} {
		for _, param2 := range []float64{20, 28, 35} {
			circles := gocv.NewMat()
			gocv.HoughCirclesWithParams(grayVer, &circles, gocv.HoughGradient,
				1.2, minDist, 60, param2, minRadius, maxRadius)
			for i := 0; i < circles.Cols(); i++ {
				all = append(all, candidate{
					x: int(circles.GetFloatAt(0, i*3)),
					y: int(circles.GetFloatAt(0, i*3+1)),
					r: int(circles.GetFloatAt(0, i*3+2)),
				})
			}
			circles.Close()
		}
	}
	if len(all) == 0 {
		return candidate{}, false
	}

	unique := dedupCircles(all, float64(maxInt(20, minRadius/2)))

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)
	edgesClahe := gocv.NewMat()
	defer edgesClahe.Close()
	gocv.Canny(blurredClahe, &edgesClahe, 50, 150)
	gocv.BitwiseOr(edges, edgesClahe, &edges)

	var scored []candidate
	for _, c := range unique {
		x, y, r := c.x, c.y, c.r

		margin := maxInt(5, r/10)
		if x-r < margin || x+r >= w-margin || y-r < margin || y+r >= h-margin {
			continue
		}

		posX := float64(x) / float64(w)
		if posX > tc.MaxCenterXRatio {
			continue
		}

		sizeRatio := float64(2*r) / float64(w)
		if sizeRatio <= tc.MinDiameterRatio || sizeRatio >= tc.MaxDiameterRatio {
			continue
		}

		st, ok := interiorStats(gray, hsv, x, y, r)
		if !ok {
			continue
		}

		// Hard rejections: fruit-colored, busy, washed out or black interiors
		// are never the coin.
		if st.meanHue > 35 && st.meanHue < 85 && st.meanSat > 35 {
			continue
		}
		if st.stdGray > tc.InteriorStdMax {
			continue
		}
		if st.meanVal > tc.InteriorMeanMax || st.meanVal < tc.InteriorMeanMin {
			continue
		}

		score := 0.0

		// 1. Rim continuity (primary, up to 0.30)
		rimContinuity := rimContinuityScore(edges, x, y, r, w, h)
		switch {
		case rimContinuity > 0.85:
			score += 0.30
		case rimContinuity > 0.75:
			score += 0.26
		case rimContinuity > 0.65:
			score += 0.21
		case rimContinuity > 0.50:
			score += 0.15
		case rimContinuity > 0.35:
			score += 0.08
		default:
			score += 0.02
		}

		// 2. Metallic indicator: silver coins are bright and desaturated,
		// so V/(S+1) runs high (up to 0.18)
		metallic := st.meanVal / (st.meanSat + 1)
		switch {
		case metallic > 4.0:
			score += 0.18
		case metallic > 3.0:
			score += 0.15
		case metallic > 2.5:
			score += 0.12
		case metallic > 2.0:
			score += 0.09
		case metallic > 1.5:
			score += 0.06
		case metallic > 1.0:
			if st.meanHue < 30 && st.stdGray < 35 {
				score += 0.05
			} else {
				score += 0.03
			}
		default:
			if st.meanHue < 25 && st.stdGray < 30 {
				score += 0.04
			} else {
				score += 0.01
			}
		}

		// 3. Rim edge density in the annular band (up to 0.10)
		rimRatio := rimEdgeDensity(edges, x, y, r, w, h)
		switch {
		case rimRatio > 0.15:
			score += 0.10
		case rimRatio > 0.10:
			score += 0.08
		case rimRatio > 0.06:
			score += 0.06
		case rimRatio > 0.03:
			score += 0.04
		case rimRatio > 0.01:
			score += 0.02
		}

		// 4. Interior vs exterior contrast over the 1.0r-1.4r annulus (up to 0.15)
		outerMean, outerCount := annulusMean(gray, x, y, r, int(float64(r)*1.4), w, h)
		if outerCount > 50 {
			mid := math.Max(1, (outerMean+st.meanGray)/2)
			contrast := math.Abs(outerMean-st.meanGray) / mid
			switch {
			case contrast > 0.20:
				score += 0.15
			case contrast > 0.10:
				score += 0.12
			case contrast > 0.05:
				score += 0.08
			case contrast > 0.02:
				score += 0.04
			}
		}

		// 5. Interior uniformity (up to 0.10)
		switch {
		case st.stdGray < 22:
			score += 0.10
		case st.stdGray < 30:
			score += 0.08
		case st.stdGray < 38:
			score += 0.06
		case st.stdGray < 45:
			score += 0.03
		case st.stdGray < 52:
			score += 0.01
		}

		// 6. Left-biased position (up to 0.07); coins are placed left of the
		// fruit by photography convention
		score += math.Max(0, (tc.MaxCenterXRatio-posX)/tc.MaxCenterXRatio) * 0.07

		// 7. Size preference (up to 0.10)
		switch {
		case sizeRatio > 0.06 && sizeRatio < 0.16:
			score += 0.10
		case sizeRatio > 0.05 && sizeRatio < 0.20:
			score += 0.07
		default:
			score += 0.03
		}

		scored = append(scored, candidate{x: x, y: y, r: r, score: score})
	}

	if len(scored) == 0 {
		return candidate{}, false
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	// Prefer the full coin over its inner rim: when a substantially larger
	// circle at the same spot scores nearly as well, take the larger one.
	best := scored[0]
	limit := minInt(10, len(scored))
	for _, c := range scored[1:limit] {
		if float64(c.r) > float64(best.r)*tc.PreferLargerGain {
			dx := float64(c.x - best.x)
			dy := float64(c.y - best.y)
			if math.Sqrt(dx*dx+dy*dy) < float64(best.r)*1.5 &&
				c.score > best.score*tc.PreferLargerKeep {
				best = c
			}
		}
	}

	return best, true
}

// dedupCircles collapses near-identical circles, keeping pairs whose radii
// differ by 1.25x or more (rim vs full coin are both worth scoring).
func dedupCircles(circles []candidate, threshold float64) []candidate {
	var unique []candidate
	for _, c := range circles {
		keep := true
		for _, u := range unique {
			dx := float64(c.x - u.x)
			dy := float64(c.y - u.y)
			if math.Sqrt(dx*dx+dy*dy) < threshold {
				big := math.Max(float64(c.r), float64(u.r))
				small := math.Max(1, math.Min(float64(c.r), float64(u.r)))
				if big/small < 1.25 {
					keep = false
				}
				break
			}
		}
		if keep {
			unique = append(unique, c)
		}
	}
	return unique
}

// stats over the circle interior.
type circleStats struct {
	meanHue, meanSat, meanVal float64
	meanGray, stdGray         float64
}

// interiorStats samples every pixel inside the circle. Returns ok=false when
// fewer than 200 pixels are available.
func interiorStats(gray, hsv gocv.Mat, cx, cy, r int) (circleStats, bool) {
	rows, cols := gray.Rows(), gray.Cols()
	var grayVals, hues, sats, vals []float64

	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			px, py := cx+dx, cy+dy
			if px < 0 || px >= cols || py < 0 || py >= rows {
				continue
			}
			grayVals = append(grayVals, float64(gray.GetUCharAt(py, px)))
			hues = append(hues, float64(hsv.GetUCharAt(py, px*3)))
			sats = append(sats, float64(hsv.GetUCharAt(py, px*3+1)))
			vals = append(vals, float64(hsv.GetUCharAt(py, px*3+2)))
		}
	}
	if len(grayVals) < 200 {
		return circleStats{}, false
	}

	return circleStats{
		meanHue:  stat.Mean(hues, nil),
		meanSat:  stat.Mean(sats, nil),
		meanVal:  stat.Mean(vals, nil),
		meanGray: stat.Mean(grayVals, nil),
		stdGray:  stat.PopStdDev(grayVals, nil),
	}, true
}

// rimContinuityScore returns the fraction of angular sectors with edge
// pixels near the circle boundary.
func rimContinuityScore(edges gocv.Mat, cx, cy, r, w, h int) float64 {
	neighborhood := maxInt(2, r/15)
	hits := 0
	for i := 0; i < rimSectors; i++ {
		angle := 2 * math.Pi * float64(i) / rimSectors
		px := cx + int(float64(r)*math.Cos(angle))
		py := cy + int(float64(r)*math.Sin(angle))
		if anyEdgeNear(edges, px, py, neighborhood, w, h) {
			hits++
		}
	}
	return float64(hits) / rimSectors
}

// anyEdgeNear reports whether any edge pixel lies within the n-neighborhood
// of (x, y).
func anyEdgeNear(edges gocv.Mat, x, y, n, w, h int) bool {
	y1, y2 := maxInt(0, y-n), minInt(h, y+n+1)
	x1, x2 := maxInt(0, x-n), minInt(w, x+n+1)
	for py := y1; py < y2; py++ {
		for px := x1; px < x2; px++ {
			if edges.GetUCharAt(py, px) > 0 {
				return true
			}
		}
	}
	return false
}

// rimEdgeDensity returns the fraction of pixels in the annular band
// r±max(2, r/12) that are edge pixels.
func rimEdgeDensity(edges gocv.Mat, cx, cy, r, w, h int) float64 {
	thickness := maxInt(2, r/12)
	outer := r + thickness
	inner := maxInt(1, r-thickness)
	var ringArea, edgeOnRing int

	for dy := -outer; dy <= outer; dy++ {
		for dx := -outer; dx <= outer; dx++ {
			d2 := dx*dx + dy*dy
			if d2 > outer*outer || d2 <= inner*inner {
				continue
			}
			px, py := cx+dx, cy+dy
			if px < 0 || px >= w || py < 0 || py >= h {
				continue
			}
			ringArea++
			if edges.GetUCharAt(py, px) > 0 {
				edgeOnRing++
			}
		}
	}
	if ringArea == 0 {
		return 0
	}
	return float64(edgeOnRing) / float64(ringArea)
}

// annulusMean returns the mean gray value over the annulus between innerR
// and outerR, plus the sample count.
func annulusMean(gray gocv.Mat, cx, cy, innerR, outerR, w, h int) (float64, int) {
	var sum float64
	var count int
	for dy := -outerR; dy <= outerR; dy++ {
		for dx := -outerR; dx <= outerR; dx++ {
			d2 := dx*dx + dy*dy
			if d2 > outerR*outerR || d2 <= innerR*innerR {
				continue
			}
			px, py := cx+dx, cy+dy
			if px < 0 || px >= w || py < 0 || py >= h {
				continue
			}
			sum += float64(gray.GetUCharAt(py, px))
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
