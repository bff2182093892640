package segment

import (
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"talisay-vision/internal/config"
	"talisay-vision/internal/shape"
)

// SegmentGreenOnGreen is the fallback strategy for green fruit photographed
// against foliage, where color carries no separation signal. It keys on
// local brightness deviation instead: the fruit surface is smoother and more
// evenly lit than the leafy background, so |V - blur(V)| thresholds cleanly
// around the fruit body.
func SegmentGreenOnGreen(img gocv.Mat, cfg *config.Config) Result {
	sc := cfg.Segment
	h, w := img.Rows(), img.Cols()
	imgArea := float64(h * w)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	v := channels[2]

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(v, &blurred, image.Pt(31, 31), 0, 0, gocv.BorderDefault)

	deviation := gocv.NewMat()
	defer deviation.Close()
	gocv.AbsDiff(v, blurred, &deviation)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(deviation, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	closeKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(21, 21))
	defer closeKernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphClose, closeKernel)
	openKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(11, 11))
	defer openKernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphOpen, openKernel)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := Result{Method: "green_on_green"}
	for i := 0; i < contours.Size(); i++ {
		cnt := contours.At(i)
		area := gocv.ContourArea(cnt)
		ratio := area / imgArea
		if ratio <= sc.MinAreaRatio || ratio >= sc.GreenMaxAreaRatio {
			continue
		}

		m := shape.Analyze(cnt)
		if !m.Valid || cnt.Size() < 5 ||
			m.Circularity < sc.GreenCircularityLo || m.Circularity > sc.CircularityHi ||
			m.AspectRatio < sc.AspectLo || m.AspectRatio > sc.AspectHi {
			continue
		}

		copied := gocv.NewPointVectorFromPoints(cnt.ToPoints())
		mask := shape.MaskFromContour(copied, h, w)

		score := greenOnGreenScore(hsv, gray, mask, m, h, w)
		if score > best.Confidence {
			best.Close()
			best = Result{
				Found:      true,
				Mask:       mask,
				Contour:    copied,
				BBox:       gocv.BoundingRect(copied),
				Confidence: score,
				ShapeScore: m.Circularity,
				Method:     "green_on_green",
			}
		} else {
			copied.Close()
			mask.Close()
		}
	}

	if !best.Found || best.Confidence < sc.GreenAcceptConf {
		best.Close()
		return Result{Method: "green_on_green"}
	}

	gocv.GaussianBlur(best.Mask, &best.Mask, image.Pt(7, 7), 0, 0, gocv.BorderDefault)
	gocv.Threshold(best.Mask, &best.Mask, 127, 255, gocv.ThresholdBinary)
	best.TextureScore = best.Confidence
	return best
}

// greenOnGreenScore favors smooth, evenly colored, central, round regions.
func greenOnGreenScore(hsv, gray, mask gocv.Mat, m shape.Metrics, h, w int) float64 {
	vVals := maskedValues(hsv, mask, 2, 3)
	if len(vVals) < 10 {
		return 0
	}
	hueVals := maskedValues(hsv, mask, 0, 3)
	grayVals := maskedValues(gray, mask, 0, 1)

	smoothness := math.Max(0, 1-stat.PopStdDev(vVals, nil)/50)
	hueConsistency := math.Max(0, 1-stat.PopStdDev(hueVals, nil)/25)
	grayUniformity := math.Max(0, 1-stat.PopStdDev(grayVals, nil)/40)

	dx := m.Center.X - float64(w)/2
	dy := m.Center.Y - float64(h)/2
	maxDist := math.Sqrt(float64(w*w+h*h) / 4)
	centrality := 1 - math.Sqrt(dx*dx+dy*dy)/maxDist

	return smoothness*0.25 +
		hueConsistency*0.20 +
		m.Circularity*0.20 +
		centrality*0.15 +
		grayUniformity*0.20
}
