// Package pipeline orchestrates the full analysis of one photo: guard
// cascade, reference-object calibration, fruit segmentation, dimension
// estimation and maturity labeling. External machine-learned collaborators
// (object detector, color classifier, oil yield model) are injected through
// interfaces; every stage degrades gracefully when they are absent.
package pipeline

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"talisay-vision/internal/coin"
	"talisay-vision/internal/config"
	"talisay-vision/internal/guard"
	"talisay-vision/internal/imageio"
	"talisay-vision/internal/logging"
	"talisay-vision/internal/measure"
	"talisay-vision/internal/segment"
	"talisay-vision/pkg/geometry"
)

// Trust thresholds for external model outputs. Below these the HSV and
// contour heuristics take precedence.
const (
	detectorTrustConfidence   = 0.8
	classifierTrustConfidence = 0.75
	coinConfidenceBonus       = 0.15
)

// ExternalDetection is one bounding box from an injected object detector.
type ExternalDetection struct {
	Label      string
	Confidence float64
	Box        image.Rectangle
}

// ObjectDetector locates fruit and reference objects in a photo.
type ObjectDetector interface {
	Detect(img gocv.Mat) ([]ExternalDetection, error)
}

// ColorClassifier assigns a maturity color label to a fruit region.
type ColorClassifier interface {
	Classify(img gocv.Mat, mask gocv.Mat) (label string, confidence float64, err error)
}

// OilFeatures is the input vector for the oil yield model.
type OilFeatures struct {
	Colour      string
	LengthCM    float64
	WidthCM     float64
	WeightG     float64
	KernelMassG float64
}

// OilModel predicts extractable oil mass in grams.
type OilModel interface {
	Predict(f OilFeatures) (float64, error)
}

// Report is the complete analysis outcome for one image.
type Report struct {
	Verdict     guard.Verdict        `json:"verdict"`
	Coin        coin.Detection       `json:"coin"`
	Calibration *measure.Calibration `json:"calibration,omitempty"`
	Measurement measure.Measurement  `json:"measurement"`
	Maturity    string               `json:"maturity,omitempty"`
	OilYieldG   *float64             `json:"oil_yield_g,omitempty"`
	Confidence  float64              `json:"confidence"`
}

// Options carries the optional collaborators.
type Options struct {
	Detector   ObjectDetector
	Classifier ColorClassifier
	Oil        OilModel
}

// Analyzer runs the pipeline. Stateless across calls; safe for concurrent
// use once built.
type Analyzer struct {
	cfg   *config.Config
	guard *guard.Guard
	opts  Options
}

// New builds an analyzer around the given configuration.
func New(cfg *config.Config, opts Options) *Analyzer {
	return &Analyzer{cfg: cfg, guard: guard.New(cfg), opts: opts}
}

// Close releases the analyzer's detector resources.
func (a *Analyzer) Close() {
	a.guard.Close()
}

// AnalyzeFile loads and analyzes one image file.
func (a *Analyzer) AnalyzeFile(path string) (Report, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return Report{Verdict: rejectVerdict(guard.RejectUnreadable, "image could not be read")}, err
	}
	defer img.Close()
	return a.Analyze(img), nil
}

// Analyze runs the full pipeline on a BGR image. The input Mat is not
// modified.
func (a *Analyzer) Analyze(img gocv.Mat) Report {
	if img.Empty() {
		return Report{Verdict: rejectVerdict(guard.RejectUnreadable, "empty image")}
	}

	work, _ := imageio.DownscaleToWidth(img, a.cfg.MaxAnalysisWidth)
	defer work.Close()

	fruitBox, coinBox := a.externalBoxes(work)

	verdict := a.guard.Check(work, fruitBox)
	if !verdict.Accepted {
		// A lone coin on the table is a distinct outcome from an empty
		// frame; both arrive here as "no fruit-like region".
		if verdict.Kind == guard.RejectGeneric {
			if det := coin.DetectThorough(work, a.cfg); det.Detected {
				verdict = rejectVerdict(guard.RejectCoinOnly, "reference coin found but no fruit")
				return Report{Verdict: verdict, Coin: det}
			}
			verdict = rejectVerdict(guard.RejectNoObject, "no recognizable object in the image")
		}
		return Report{Verdict: verdict}
	}

	seg := segment.SegmentByShape(work, a.cfg)
	if !seg.Found {
		seg = segment.SegmentGreenOnGreen(work, a.cfg)
	}
	defer seg.Close()

	coinDet := a.findCoin(work, fruitBox, &seg, coinBox)
	cal := a.calibrate(work, coinDet)

	var meas measure.Measurement
	if seg.Found {
		meas = measure.MeasureContour(seg.Contour, work.Cols(), work.Rows(), cal, a.cfg)
	}
	if !meas.Detected {
		meas = measure.Measure(work, cal, a.cfg)
	}

	maturity := a.maturity(work, seg, verdict)
	confidence := verdict.Score
	if coinDet.Detected {
		confidence = math.Min(0.95, confidence+coinConfidenceBonus)
	}

	report := Report{
		Verdict:     verdict,
		Coin:        coinDet,
		Calibration: cal,
		Measurement: meas,
		Maturity:    maturity,
		Confidence:  confidence,
	}

	if a.opts.Oil != nil && meas.Detected {
		yield, err := a.opts.Oil.Predict(OilFeatures{
			Colour:      verdict.DominantColour,
			LengthCM:    meas.LengthCM,
			WidthCM:     meas.WidthCM,
			WeightG:     meas.WeightG,
			KernelMassG: meas.KernelMassG,
		})
		if err != nil {
			logging.Errorf("pipeline: oil model failed: %v", err)
		} else {
			report.OilYieldG = &yield
		}
	}
	return report
}

// externalBoxes queries the injected detector and returns the trusted fruit
// and coin boxes, if any.
func (a *Analyzer) externalBoxes(img gocv.Mat) (fruit, coinBox *image.Rectangle) {
	if a.opts.Detector == nil {
		return nil, nil
	}
	detections, err := a.opts.Detector.Detect(img)
	if err != nil {
		logging.Errorf("pipeline: object detector failed: %v", err)
		return nil, nil
	}
	for i := range detections {
		d := &detections[i]
		switch {
		case d.Label == "fruit" && d.Confidence >= detectorTrustConfidence && fruit == nil:
			fruit = &d.Box
		case d.Label == "coin" && d.Confidence >= detectorTrustConfidence && coinBox == nil:
			coinBox = &d.Box
		}
	}
	return fruit, coinBox
}

// findCoin picks the coin strategy. An external coin box short-circuits the
// search; a known fruit region selects the fast search with the thorough
// pass as fallback.
func (a *Analyzer) findCoin(img gocv.Mat, fruitBox *image.Rectangle, seg *segment.Result, coinBox *image.Rectangle) coin.Detection {
	if coinBox != nil {
		r := float64(coinBox.Dx()+coinBox.Dy()) / 4
		diameter := a.cfg.CoinDiameterCM()
		return coin.Detection{
			Detected: true,
			Center: geometry.Point2D{
				X: float64(coinBox.Min.X) + float64(coinBox.Dx())/2,
				Y: float64(coinBox.Min.Y) + float64(coinBox.Dy())/2,
			},
			Radius:      r,
			Score:       detectorTrustConfidence,
			PixelsPerCM: 2 * r / diameter,
			DiameterCM:  diameter,
			Confidence:  detectorTrustConfidence,
			Method:      coin.MethodFast,
		}
	}

	var fruitRect *geometry.Rect
	if fruitBox != nil {
		fruitRect = &geometry.Rect{
			X:      float64(fruitBox.Min.X),
			Y:      float64(fruitBox.Min.Y),
			Width:  float64(fruitBox.Dx()),
			Height: float64(fruitBox.Dy()),
		}
	} else if seg.Found {
		fruitRect = &geometry.Rect{
			X:      float64(seg.BBox.Min.X),
			Y:      float64(seg.BBox.Min.Y),
			Width:  float64(seg.BBox.Dx()),
			Height: float64(seg.BBox.Dy()),
		}
	}

	if fruitRect != nil {
		if det := coin.DetectFast(img, fruitRect, a.cfg); det.Detected {
			return det
		}
	}
	return coin.DetectThorough(img, a.cfg)
}

// calibrate picks the best available scale source: ArUco marker, then coin,
// then none (contour prior).
func (a *Analyzer) calibrate(img gocv.Mat, coinDet coin.Detection) *measure.Calibration {
	markerSide := a.cfg.References["aruco_4x4"].DiameterCM
	if markerSide > 0 {
		if cal, ok := measure.DetectArUco(img, markerSide); ok {
			return &cal
		}
	}
	if coinDet.Detected {
		cal := measure.NewCalibration(coinDet.PixelsPerCM, measure.SourceCoin, coinDet.Confidence)
		return &cal
	}
	return nil
}

// maturity labels ripeness. The external classifier wins when confident;
// the guard's dominant band is the fallback.
func (a *Analyzer) maturity(img gocv.Mat, seg segment.Result, verdict guard.Verdict) string {
	if a.opts.Classifier != nil && seg.Found {
		label, conf, err := a.opts.Classifier.Classify(img, seg.Mask)
		if err != nil {
			logging.Errorf("pipeline: color classifier failed: %v", err)
		} else if conf > classifierTrustConfidence {
			return maturityLabel(label)
		}
	}
	return maturityLabel(verdict.DominantColour)
}

func maturityLabel(colour string) string {
	switch colour {
	case "green":
		return "Immature"
	case "yellow":
		return "Mature (Optimal)"
	case "brown":
		return "Fully Ripe"
	default:
		return ""
	}
}

func rejectVerdict(kind guard.Kind, reason string) guard.Verdict {
	return guard.Verdict{
		Kind:      kind,
		KindLabel: kind.String(),
		Reason:    reason,
	}
}
