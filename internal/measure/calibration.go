// Package measure converts a segmented fruit region into physical
// dimensions. When a reference object (ArUco marker or coin) fixes the
// pixel-to-centimeter scale the measurement is direct; otherwise a
// species-size prior anchors the estimate, at reduced confidence.
package measure

// Source identifies where the pixel scale came from.
type Source int

const (
	SourceArUco Source = iota
	SourceCoin
	SourceContourPrior
)

func (s Source) String() string {
	switch s {
	case SourceArUco:
		return "aruco"
	case SourceCoin:
		return "coin"
	case SourceContourPrior:
		return "contour_prior"
	default:
		return "unknown"
	}
}

// Calibration is a fixed pixel-to-centimeter scale. Immutable once built;
// PixelsPerCM is always positive.
type Calibration struct {
	PixelsPerCM float64 `json:"pixels_per_cm"`
	Source      Source  `json:"-"`
	SourceLabel string  `json:"source"`
	Confidence  float64 `json:"confidence"`
}

// NewCalibration builds a calibration, stamping the source label.
func NewCalibration(pixelsPerCM float64, source Source, confidence float64) Calibration {
	return Calibration{
		PixelsPerCM: pixelsPerCM,
		Source:      source,
		SourceLabel: source.String(),
		Confidence:  confidence,
	}
}
