package measure

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"talisay-vision/internal/colorband"
	"talisay-vision/internal/config"
	"talisay-vision/internal/logging"
	"talisay-vision/internal/shape"
)

// Talisay fruit geometry constants. The fruit is an oblate ellipsoid whose
// depth runs about 80% of its width; fresh tissue density is close to 0.85
// g/cm³. Kernel mass scales with the length-width product.
const (
	depthFactor   = 0.8
	tissueDensity = 0.85
	kernelDivisor = 35.0
	kernelBase    = 0.1
	kernelSpan    = 0.6

	// typicalLengthCM anchors the contour-prior path: a fruit filling 40%
	// of the image diagonal is assumed to be average-sized.
	typicalLengthCM = 4.5
	anchorRatio     = 0.4
)

// Measurement holds the physical estimate for one fruit. Detected=false
// means no measurable region was found; the numeric fields are then zero.
type Measurement struct {
	Detected    bool    `json:"detected"`
	LengthCM    float64 `json:"length_cm"`
	WidthCM     float64 `json:"width_cm"`
	AreaCM2     float64 `json:"area_cm2"`
	WeightG     float64 `json:"weight_g"`
	KernelMassG float64 `json:"kernel_mass_g"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
	Note        string  `json:"note,omitempty"`
	Warning     string  `json:"warning,omitempty"`
}

// Measure segments the fruit and estimates its dimensions. A nil
// calibration selects the contour-prior path: the fruit's pixel extent is
// anchored to the typical species size instead of a measured scale.
func Measure(img gocv.Mat, cal *Calibration, cfg *config.Config) Measurement {
	contour, found := segmentFruit(img)
	if !found {
		return Measurement{}
	}
	defer contour.Close()
	return MeasureContour(contour, img.Cols(), img.Rows(), cal, cfg)
}

// MeasureContour estimates dimensions from an already-segmented fruit
// contour. Contours too small for an ellipse fit yield Detected=false.
func MeasureContour(contour gocv.PointVector, imgW, imgH int, cal *Calibration, cfg *config.Config) Measurement {
	if contour.Size() < 5 {
		return Measurement{}
	}
	m := shape.Analyze(contour)
	if !m.Valid || m.MajorAxisPx <= 0 || m.MinorAxisPx <= 0 {
		return Measurement{}
	}

	if cal != nil {
		return calibrated(m, *cal, cfg)
	}
	return contourPrior(m, imgW, imgH, cfg)
}

func calibrated(m shape.Metrics, cal Calibration, cfg *config.Config) Measurement {
	mc := cfg.Measure
	length := clamp(m.MajorAxisPx/cal.PixelsPerCM, mc.LengthLoCM, mc.LengthHiCM)
	width := clamp(m.MinorAxisPx/cal.PixelsPerCM, mc.WidthLoCM, mc.WidthHiCM)

	out := derived(length, width, mc)
	out.Confidence = cal.Confidence
	out.Source = cal.SourceLabel
	logging.Debugf("measure: %s calibrated %.1fx%.1fcm at %.1fpx/cm",
		cal.SourceLabel, length, width, cal.PixelsPerCM)
	return out
}

// contourPrior anchors the scale to the typical fruit length. The pixel
// extent relative to the image diagonal nudges the estimate within the
// plausible species range.
func contourPrior(m shape.Metrics, imgW, imgH int, cfg *config.Config) Measurement {
	mc := cfg.Measure

	diag := math.Sqrt(float64(imgW*imgW + imgH*imgH))
	length := typicalLengthCM
	if diag > 0 {
		ratio := m.MajorAxisPx / diag
		if ratio > 0.2 && ratio < 0.8 {
			length = clamp(typicalLengthCM*(ratio/anchorRatio), mc.PriorLengthLoCM, mc.PriorLengthHiCM)
		}
	}
	width := clamp(length*(m.MinorAxisPx/m.MajorAxisPx), mc.PriorWidthLoCM, mc.PriorWidthHiCM)

	out := derived(length, width, mc)
	out.Confidence = mc.PriorConfidence
	out.Source = SourceContourPrior.String()
	out.Note = "For accurate measurements, include a coin or reference object"
	out.Warning = "No reference object detected. Using contour-based estimation."
	return out
}

// derived fills in the fields computable from length and width alone.
func derived(length, width float64, mc config.Measure) Measurement {
	volume := (4.0 / 3.0) * math.Pi * (length / 2) * (width / 2) * (width / 2 * depthFactor)
	return Measurement{
		Detected:    true,
		LengthCM:    length,
		WidthCM:     width,
		AreaCM2:     math.Pi * (length / 2) * (width / 2),
		WeightG:     clamp(volume*tissueDensity, mc.WeightLoG, mc.WeightHiG),
		KernelMassG: clamp(kernelBase+(length*width/kernelDivisor)*kernelSpan, mc.KernelLoG, mc.KernelHiG),
	}
}

// segmentFruit isolates the fruit body with the loose color bands. The
// caller owns the returned contour.
func segmentFruit(img gocv.Mat) (gocv.PointVector, bool) {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	mask := colorband.UnionMask(hsv,
		colorband.WideGreen, colorband.LooseYellow, colorband.WideBrown)
	defer mask.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(7, 7))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)

	contour, found := shape.LargestContour(mask)
	if !found {
		return gocv.PointVector{}, false
	}
	minArea := 0.01 * float64(img.Rows()*img.Cols())
	if gocv.ContourArea(contour) < minArea {
		contour.Close()
		return gocv.PointVector{}, false
	}
	return contour, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
