// Package config holds every tuned numeric threshold of the analysis
// pipeline as named, immutable configuration. The values encode
// field-calibrated decision boundaries; change them only against a labeled
// photo set.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Guard holds the thresholds of the seven-layer acceptance cascade.
type Guard struct {
	// Blank layer
	BlankVarianceMax   float64 `yaml:"blank_variance_max"`    // global value variance below this = blank
	BlankEdgeRatioMax  float64 `yaml:"blank_edge_ratio_max"`  // edge pixel fraction below this = blank
	BlankWhiteRatioMin float64 `yaml:"blank_white_ratio_min"` // low-sat bright pixel fraction
	BlankWhiteVarMax   float64 `yaml:"blank_white_var_max"`   // value variance gate for the white check

	// Person layer
	SkinRescueCoverage    float64 `yaml:"skin_rescue_coverage"`     // skin fraction that triggers rescue logic
	SkinRejectCoverage    float64 `yaml:"skin_reject_coverage"`     // skin fraction above which rescue cannot save
	FaceFruitCoverageMin  float64 `yaml:"face_fruit_coverage_min"`  // green+yellow needed to survive a face hit
	RescueStrongCoverage  float64 `yaml:"rescue_strong_coverage"`   // green+yellow coverage that rescues outright
	RescueBrownCoverage   float64 `yaml:"rescue_brown_coverage"`    // brown (minus skin) coverage for the ripe-fruit rescue
	VegetationSaturation  float64 `yaml:"vegetation_saturation"`    // green median S above this = foliage, not fruit
	VegetationSampleFloor int     `yaml:"vegetation_sample_floor"`  // minimum green pixels before the foliage veto applies
	MinFruitMaskArea      int     `yaml:"min_fruit_mask_area"`      // mask pixels below this = nothing detected

	// Capsicum layer
	CapsicumRejectScore float64 `yaml:"capsicum_reject_score"`

	// Non-Talisay colour layer
	NonTalisayCoverageMax float64 `yaml:"non_talisay_coverage_max"`
	TalisayRescueCoverage float64 `yaml:"talisay_rescue_coverage"` // genuine coverage that overrides dark/white rejection

	// Colour layer
	ColourFullCoverage  float64 `yaml:"colour_full_coverage"`  // coverage at which the score saturates to 1.0
	ColourPassCoverage  float64 `yaml:"colour_pass_coverage"`  // total coverage needed to pass
	ColourDominantShare float64 `yaml:"colour_dominant_share"` // single dominant band coverage needed to pass

	// Shape layer
	ShapeAspectLo      float64 `yaml:"shape_aspect_lo"`
	ShapeAspectHi      float64 `yaml:"shape_aspect_hi"`
	ShapeCircLo        float64 `yaml:"shape_circ_lo"`
	ShapeCircHi        float64 `yaml:"shape_circ_hi"`
	ShapeSolidityMin   float64 `yaml:"shape_solidity_min"`
	ShapePassScore     float64 `yaml:"shape_pass_score"`
	ShapeAspectPassLo  float64 `yaml:"shape_aspect_pass_lo"`
	ShapeAspectPassHi  float64 `yaml:"shape_aspect_pass_hi"`
	ShapeCircPassMax   float64 `yaml:"shape_circ_pass_max"`
	RoundGateCoverage  float64 `yaml:"round_gate_coverage"` // mask/image fraction below which the round gate fires
	RoundGateCircMin   float64 `yaml:"round_gate_circ_min"`
	RoundGateAspectMax float64 `yaml:"round_gate_aspect_max"`

	// Texture layer
	TexturePassScore float64 `yaml:"texture_pass_score"`

	// Composite decision
	ColourWeight      float64 `yaml:"colour_weight"`
	ShapeWeight       float64 `yaml:"shape_weight"`
	TextureWeight     float64 `yaml:"texture_weight"`
	CompositeAccept   float64 `yaml:"composite_accept"`   // accept with two passes at or above this
	CompositeForceMin float64 `yaml:"composite_force_min"` // force-reject below this regardless of passes

	// Optional Haar cascade for the face check. Empty disables face
	// detection; the skin heuristics still run.
	FaceCascadePath string `yaml:"face_cascade_path"`
}

// ThoroughCoin holds the single-pass reference-coin search thresholds.
type ThoroughCoin struct {
	MaxProcessWidth  int     `yaml:"max_process_width"` // downscale wider images before the Hough pass
	AcceptScore      float64 `yaml:"accept_score"`
	MaxCenterXRatio  float64 `yaml:"max_center_x_ratio"`  // coins sit left of this fraction of the width
	MinDiameterRatio float64 `yaml:"min_diameter_ratio"`  // diameter / image width
	MaxDiameterRatio float64 `yaml:"max_diameter_ratio"`
	InteriorStdMax   float64 `yaml:"interior_std_max"`  // busier interiors are fruit or clutter
	InteriorMeanMax  float64 `yaml:"interior_mean_max"` // washed out
	InteriorMeanMin  float64 `yaml:"interior_mean_min"` // near black
	PreferLargerGain float64 `yaml:"prefer_larger_gain"` // radius ratio for the rim-vs-coin swap
	PreferLargerKeep float64 `yaml:"prefer_larger_keep"` // score fraction the larger circle must retain
}

// FastCoin holds the size-gated coin search thresholds used when a fruit
// bounding box is already known.
type FastCoin struct {
	BorderBrightnessMin float64 `yaml:"border_brightness_min"` // darker borders mean an outdoor photo; skip
	ProcessWidth        int     `yaml:"process_width"`
	AcceptScore         float64 `yaml:"accept_score"`
	MaxCandidates       int     `yaml:"max_candidates"`
	BBoxShrink          float64 `yaml:"bbox_shrink"` // fruit box shrink factor before the inside test
	FruitLengthLoCM     float64 `yaml:"fruit_length_lo_cm"`
	FruitLengthHiCM     float64 `yaml:"fruit_length_hi_cm"`
	FruitWidthLoCM      float64 `yaml:"fruit_width_lo_cm"`
	FruitWidthHiCM      float64 `yaml:"fruit_width_hi_cm"`
}

// Segment holds the fruit-region segmentation thresholds.
type Segment struct {
	MinAreaRatio     float64 `yaml:"min_area_ratio"`
	MaxAreaRatio     float64 `yaml:"max_area_ratio"`
	DedupIoU         float64 `yaml:"dedup_iou"`
	AspectLo         float64 `yaml:"aspect_lo"`
	AspectHi         float64 `yaml:"aspect_hi"`
	CircularityLo    float64 `yaml:"circularity_lo"`
	CircularityHi    float64 `yaml:"circularity_hi"`
	EllipseOverlap   float64 `yaml:"ellipse_overlap"` // mask/fitted-ellipse IoU floor
	AcceptConfidence float64 `yaml:"accept_confidence"`

	// Green-on-green fallback strategy
	GreenMaxAreaRatio   float64 `yaml:"green_max_area_ratio"`
	GreenCircularityLo  float64 `yaml:"green_circularity_lo"`
	GreenAcceptConf     float64 `yaml:"green_accept_conf"`
}

// Measure holds the physical clamps and the contour-prior constants.
type Measure struct {
	LengthLoCM float64 `yaml:"length_lo_cm"`
	LengthHiCM float64 `yaml:"length_hi_cm"`
	WidthLoCM  float64 `yaml:"width_lo_cm"`
	WidthHiCM  float64 `yaml:"width_hi_cm"`
	WeightLoG  float64 `yaml:"weight_lo_g"`
	WeightHiG  float64 `yaml:"weight_hi_g"`
	KernelLoG  float64 `yaml:"kernel_lo_g"`
	KernelHiG  float64 `yaml:"kernel_hi_g"`

	// Contour-prior path (no reference object in frame)
	PriorLengthLoCM float64 `yaml:"prior_length_lo_cm"`
	PriorLengthHiCM float64 `yaml:"prior_length_hi_cm"`
	PriorWidthLoCM  float64 `yaml:"prior_width_lo_cm"`
	PriorWidthHiCM  float64 `yaml:"prior_width_hi_cm"`
	PriorConfidence float64 `yaml:"prior_confidence"`
}

// ReferenceObject is a physical calibration target of known size.
type ReferenceObject struct {
	DiameterCM float64 `yaml:"diameter_cm"` // circular objects and marker side length
	Note       string  `yaml:"note,omitempty"`
}

// Config is the full immutable configuration of the pipeline. Build it once
// at process start and share it read-only across analysis calls.
type Config struct {
	MaxAnalysisWidth int          `yaml:"max_analysis_width"` // input downscale bound for the whole pipeline
	Guard            Guard        `yaml:"guard"`
	ThoroughCoin     ThoroughCoin `yaml:"thorough_coin"`
	FastCoin         FastCoin     `yaml:"fast_coin"`
	Segment          Segment      `yaml:"segment"`
	Measure          Measure      `yaml:"measure"`

	// DefaultCoin names the reference object assumed when a coin is found.
	DefaultCoin string                     `yaml:"default_coin"`
	References  map[string]ReferenceObject `yaml:"references"`
}

// Default returns the calibrated configuration.
func Default() *Config {
	return &Config{
		MaxAnalysisWidth: 1280,
		Guard: Guard{
			BlankVarianceMax:      80,
			BlankEdgeRatioMax:     0.005,
			BlankWhiteRatioMin:    0.90,
			BlankWhiteVarMax:      300,
			SkinRescueCoverage:    0.25,
			SkinRejectCoverage:    0.45,
			FaceFruitCoverageMin:  0.05,
			RescueStrongCoverage:  0.08,
			RescueBrownCoverage:   0.20,
			VegetationSaturation:  140,
			VegetationSampleFloor: 100,
			MinFruitMaskArea:      500,
			CapsicumRejectScore:   0.45,
			NonTalisayCoverageMax: 0.30,
			TalisayRescueCoverage: 0.12,
			ColourFullCoverage:    0.60,
			ColourPassCoverage:    0.30,
			ColourDominantShare:   0.15,
			ShapeAspectLo:         1.25,
			ShapeAspectHi:         2.40,
			ShapeCircLo:           0.35,
			ShapeCircHi:           0.80,
			ShapeSolidityMin:      0.80,
			ShapePassScore:        0.50,
			ShapeAspectPassLo:     1.1,
			ShapeAspectPassHi:     3.0,
			ShapeCircPassMax:      0.90,
			RoundGateCoverage:     0.12,
			RoundGateCircMin:      0.90,
			RoundGateAspectMax:    1.08,
			TexturePassScore:      0.50,
			ColourWeight:          0.45,
			ShapeWeight:           0.30,
			TextureWeight:         0.25,
			CompositeAccept:       0.55,
			CompositeForceMin:     0.35,
		},
		ThoroughCoin: ThoroughCoin{
			MaxProcessWidth:  1200,
			AcceptScore:      0.40,
			MaxCenterXRatio:  0.55,
			MinDiameterRatio: 0.04,
			MaxDiameterRatio: 0.25,
			InteriorStdMax:   55,
			InteriorMeanMax:  240,
			InteriorMeanMin:  15,
			PreferLargerGain: 1.3,
			PreferLargerKeep: 0.85,
		},
		FastCoin: FastCoin{
			BorderBrightnessMin: 165,
			ProcessWidth:        512,
			AcceptScore:         0.55,
			MaxCandidates:       10,
			BBoxShrink:          0.15,
			FruitLengthLoCM:     2.5,
			FruitLengthHiCM:     9.0,
			FruitWidthLoCM:      1.5,
			FruitWidthHiCM:      7.0,
		},
		Segment: Segment{
			MinAreaRatio:       0.015,
			MaxAreaRatio:       0.75,
			DedupIoU:           0.5,
			AspectLo:           1.1,
			AspectHi:           2.8,
			CircularityLo:      0.25,
			CircularityHi:      0.95,
			EllipseOverlap:     0.50,
			AcceptConfidence:   0.30,
			GreenMaxAreaRatio:  0.70,
			GreenCircularityLo: 0.20,
			GreenAcceptConf:    0.35,
		},
		Measure: Measure{
			LengthLoCM:      3.0,
			LengthHiCM:      8.0,
			WidthLoCM:       1.5,
			WidthHiCM:       6.0,
			WeightLoG:       15,
			WeightHiG:       60,
			KernelLoG:       0.1,
			KernelHiG:       0.9,
			PriorLengthLoCM: 3.5,
			PriorLengthHiCM: 5.5,
			PriorWidthLoCM:  2.0,
			PriorWidthHiCM:  4.0,
			PriorConfidence: 0.40,
		},
		DefaultCoin: "peso_5",
		References: map[string]ReferenceObject{
			"peso_5":     {DiameterCM: 2.4, Note: "new-generation 5 peso, recommended"},
			"peso_5_old": {DiameterCM: 2.5},
			"peso_1":     {DiameterCM: 2.0},
			"peso_10":    {DiameterCM: 2.45},
			"peso_20":    {DiameterCM: 2.8},
			"aruco_4x4":  {DiameterCM: 5.0, Note: "printed 4x4_50 marker, side length"},
		},
	}
}

// Load reads YAML overrides from path on top of the defaults. The returned
// Config must be treated as immutable for the process lifetime.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxAnalysisWidth <= 0 {
		return nil, fmt.Errorf("max_analysis_width must be positive")
	}
	if _, ok := cfg.References[cfg.DefaultCoin]; !ok {
		return nil, fmt.Errorf("default coin %q missing from references", cfg.DefaultCoin)
	}
	return cfg, nil
}

// CoinDiameterCM returns the physical diameter of the configured default coin.
func (c *Config) CoinDiameterCM() float64 {
	return c.References[c.DefaultCoin].DiameterCM
}
