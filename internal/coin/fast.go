package coin

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"talisay-vision/internal/config"
	"talisay-vision/pkg/geometry"
)

// ringAngles is the number of sample points on the candidate circumference
// in the fast search.
const ringAngles = 24

// DetectFast runs the size-gated coin search. It assumes reference photos
// place the coin on a light surface next to the fruit: a dark image border
// means an outdoor photo with no reference backdrop, and the search is
// skipped outright. fruitBox, when non-nil, is the known fruit bounding box
// in original image coordinates; circles centered inside it are rejected
// and the implied fruit size is sanity-checked before accepting.
func DetectFast(img gocv.Mat, fruitBox *geometry.Rect, cfg *config.Config) Detection {
	fc := cfg.FastCoin
	hOrig, wOrig := img.Rows(), img.Cols()
	notFound := Detection{Method: MethodFast}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	if borderBrightness(gray) < fc.BorderBrightnessMin {
		return notFound
	}

	// Aggressive downscale; Hough cost grows steeply with resolution.
	scale := 1.0
	small := img.Clone()
	if maxInt(hOrig, wOrig) > fc.ProcessWidth {
		scale = float64(fc.ProcessWidth) / float64(maxInt(hOrig, wOrig))
		resized := gocv.NewMat()
		gocv.Resize(img, &resized, image.Pt(int(float64(wOrig)*scale), int(float64(hOrig)*scale)), 0, 0, gocv.InterpolationArea)
		small.Close()
		small = resized
	}
	defer small.Close()

	h, w := small.Rows(), small.Cols()

	smallGray := gocv.NewMat()
	defer smallGray.Close()
	gocv.CvtColor(small, &smallGray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(smallGray, &blurred, image.Pt(7, 7), 1.5, 1.5, gocv.BorderDefault)

	minR := maxInt(8, int(float64(w)*0.03))
	maxR := int(float64(w) * 0.11)
	minDist := math.Max(15, float64(w)*0.04)

	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(blurred, &circles, gocv.HoughGradient,
		1.2, minDist, 80, 40, minR, maxR)
	if circles.Cols() == 0 {
		return notFound
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(small, &hsv, gocv.ColorBGRToHSV)

	// Fruit box in small-image coordinates, shrunk to allow coins close to
	// the fruit edge.
	var fruitRect *geometry.Rect
	if fruitBox != nil {
		mx := fruitBox.Width * scale * fc.BBoxShrink
		my := fruitBox.Height * scale * fc.BBoxShrink
		fruitRect = &geometry.Rect{
			X:      fruitBox.X*scale + mx,
			Y:      fruitBox.Y*scale + my,
			Width:  fruitBox.Width*scale - 2*mx,
			Height: fruitBox.Height*scale - 2*my,
		}
	}

	n := minInt(circles.Cols(), fc.MaxCandidates)
	var candidates []candidate

	for i := 0; i < n; i++ {
		cx := int(circles.GetFloatAt(0, i*3))
		cy := int(circles.GetFloatAt(0, i*3+1))
		r := maxInt(1, int(circles.GetFloatAt(0, i*3+2)))

		if cx-r < 2 || cy-r < 2 || cx+r >= w-2 || cy+r >= h-2 {
			continue
		}

		// The coin sits next to the fruit, never on it.
		if fruitRect != nil && fruitRect.Contains(geometry.Point2D{X: float64(cx), Y: float64(cy)}) {
			continue
		}

		score := 0.0

		// 1. Edge ring continuity (up to 0.25)
		edgeHits, validPts := 0, 0
		for a := 0; a < ringAngles; a++ {
			angle := 2 * math.Pi * float64(a) / ringAngles
			px := cx + int(float64(r)*math.Cos(angle))
			py := cy + int(float64(r)*math.Sin(angle))
			if px < 1 || px >= w-1 || py < 1 || py >= h-1 {
				continue
			}
			validPts++
			if anyEdgeNear(edges, px, py, 1, w, h) {
				edgeHits++
			}
		}
		edgeRatio := float64(edgeHits) / math.Max(1, float64(validPts))
		score += math.Min(0.25, edgeRatio*0.42)
		if edgeRatio < 0.15 {
			continue
		}

		// Interior square ROI and exterior ring samples
		innerR := maxInt(1, int(float64(r)*0.55))
		interior := sampleSquare(smallGray, cx, cy, innerR, w, h)
		interiorSat := sampleSquareChannel(hsv, cx, cy, innerR, w, h, 1)

		outerR := r + maxInt(5, int(float64(r)*0.15))
		var extGray, extSat []float64
		for a := 0; a < ringAngles; a++ {
			angle := 2 * math.Pi * float64(a) / ringAngles
			px := cx + int(float64(outerR)*math.Cos(angle))
			py := cy + int(float64(outerR)*math.Sin(angle))
			if px < 0 || px >= w || py < 0 || py >= h {
				continue
			}
			extGray = append(extGray, float64(smallGray.GetUCharAt(py, px)))
			extSat = append(extSat, float64(hsv.GetUCharAt(py, px*3+1)))
		}

		// 2. Interior vs exterior contrast (up to 0.20)
		if len(interior) > 4 && len(extGray) > 4 {
			contrast := math.Abs(stat.Mean(interior, nil) - stat.Mean(extGray, nil))
			switch {
			case contrast > 30:
				score += 0.20
			case contrast > 20:
				score += 0.15
			case contrast > 12:
				score += 0.08
			}
		}

		// 3. Texture: embossed relief gives moderate variation (up to 0.15)
		if len(interior) > 16 {
			intStd := stat.PopStdDev(interior, nil)
			if intStd > 12 && intStd < 55 {
				score += 0.15
			} else if intStd > 8 && intStd < 60 {
				score += 0.08
			}
		}

		// 4. Low interior saturation, metallic (up to 0.15)
		if len(interiorSat) > 0 {
			meanS := stat.Mean(interiorSat, nil)
			highSat := 0
			for _, s := range interiorSat {
				if s > 80 {
					highSat++
				}
			}
			highSatRatio := float64(highSat) / float64(len(interiorSat))
			if meanS < 45 && highSatRatio < 0.10 {
				score += 0.15
			} else if meanS < 65 && highSatRatio < 0.25 {
				score += 0.08
			}
		}

		// 5. Bright neutral surroundings (up to 0.20). The light backdrop is
		// the key discriminator against outdoor circles.
		if len(extGray) > 4 && len(extSat) > 4 {
			extBrightness := stat.Mean(extGray, nil)
			extSaturation := stat.Mean(extSat, nil)
			switch {
			case extBrightness > 190 && extSaturation < 40:
				score += 0.20
			case extBrightness > 170 && extSaturation < 55:
				score += 0.12
			case extBrightness > 150 && extSaturation < 40:
				score += 0.06
			}
		}

		// 6. Size ratio (up to 0.05)
		sizeRatio := float64(2*r) / float64(w)
		if sizeRatio > 0.04 && sizeRatio < 0.12 {
			score += 0.05
		}

		candidates = append(candidates, candidate{x: cx, y: cy, r: r, score: score})
	}

	if len(candidates) == 0 {
		return notFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	diameterCM := cfg.CoinDiameterCM()
	for _, c := range candidates {
		if c.score < fc.AcceptScore {
			break
		}

		rOrig := float64(c.r) / scale
		ppcm := 2 * rOrig / diameterCM

		// Sanity: the implied fruit size must be biologically plausible.
		if fruitBox != nil {
			lenCM := math.Max(fruitBox.Width, fruitBox.Height) / ppcm
			widCM := math.Min(fruitBox.Width, fruitBox.Height) / ppcm
			if lenCM > fc.FruitLengthHiCM || lenCM < fc.FruitLengthLoCM ||
				widCM > fc.FruitWidthHiCM || widCM < fc.FruitWidthLoCM {
				continue
			}
		}

		return Detection{
			Detected:    true,
			Center:      geometry.Point2D{X: float64(c.x) / scale, Y: float64(c.y) / scale},
			Radius:      rOrig,
			Score:       c.score,
			PixelsPerCM: ppcm,
			DiameterCM:  diameterCM,
			Confidence:  math.Min(0.90, c.score),
			Method:      MethodFast,
		}
	}

	return notFound
}

// borderBrightness averages the gray values of the 10% bands along each
// image edge.
func borderBrightness(gray gocv.Mat) float64 {
	h, w := gray.Rows(), gray.Cols()
	bw := maxInt(20, int(float64(w)*0.10))
	bh := maxInt(20, int(float64(h)*0.10))

	var sum float64
	var count int
	add := func(y1, y2, x1, x2 int) {
		for y := y1; y < y2; y++ {
			for x := x1; x < x2; x++ {
				sum += float64(gray.GetUCharAt(y, x))
				count++
			}
		}
	}
	add(0, minInt(bh, h), 0, w)
	add(maxInt(0, h-bh), h, 0, w)
	add(0, h, 0, minInt(bw, w))
	add(0, h, maxInt(0, w-bw), w)

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// sampleSquare collects gray values from the square ROI of half-size r
// around (cx, cy).
func sampleSquare(gray gocv.Mat, cx, cy, r, w, h int) []float64 {
	y1, y2 := maxInt(0, cy-r), minInt(h, cy+r)
	x1, x2 := maxInt(0, cx-r), minInt(w, cx+r)
	vals := make([]float64, 0, (y2-y1)*(x2-x1))
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			vals = append(vals, float64(gray.GetUCharAt(y, x)))
		}
	}
	return vals
}

// sampleSquareChannel collects one HSV channel from the square ROI.
func sampleSquareChannel(hsv gocv.Mat, cx, cy, r, w, h, channel int) []float64 {
	y1, y2 := maxInt(0, cy-r), minInt(h, cy+r)
	x1, x2 := maxInt(0, cx-r), minInt(w, cx+r)
	vals := make([]float64, 0, (y2-y1)*(x2-x1))
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			vals = append(vals, float64(hsv.GetUCharAt(y, x*3+channel)))
		}
	}
	return vals
}
