// Package guard decides whether a photo actually shows a Talisay
// (Terminalia catappa) fruit before any measurement is attempted. The check
// is a cascade of rejection layers ordered cheapest-first; an image must
// survive every layer to be accepted.
package guard

// Kind is the closed set of verdict categories. The pipeline-level kinds
// are issued by callers after the guard itself accepts.
type Kind int

const (
	Accept Kind = iota
	RejectBlank
	RejectPerson
	RejectCapsicum
	RejectNonTalisayFruit
	RejectWrongShape
	RejectWrongColour
	RejectWrongTexture
	RejectLowConfidence
	RejectGeneric

	// Pipeline kinds, never produced by the guard cascade itself.
	RejectCoinOnly
	RejectNoObject
	RejectUnreadable
)

func (k Kind) String() string {
	switch k {
	case Accept:
		return "ACCEPT"
	case RejectBlank:
		return "REJECT_BLANK"
	case RejectPerson:
		return "REJECT_PERSON"
	case RejectCapsicum:
		return "REJECT_CAPSICUM"
	case RejectNonTalisayFruit:
		return "REJECT_NON_TALISAY_FRUIT"
	case RejectWrongShape:
		return "REJECT_WRONG_SHAPE"
	case RejectWrongColour:
		return "REJECT_WRONG_COLOUR"
	case RejectWrongTexture:
		return "REJECT_WRONG_TEXTURE"
	case RejectLowConfidence:
		return "REJECT_LOW_CONFIDENCE"
	case RejectGeneric:
		return "REJECT_GENERIC"
	case RejectCoinOnly:
		return "REJECT_COIN_ONLY"
	case RejectNoObject:
		return "REJECT_NO_OBJECT"
	case RejectUnreadable:
		return "REJECT_UNREADABLE"
	default:
		return "UNKNOWN"
	}
}

// LayerScore records one cascade layer's outcome for diagnostics.
type LayerScore struct {
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
}

// Verdict is the guard's decision for one image. Score is the composite
// confidence for accepted images and for composite-stage rejections; hard
// layer rejections carry 0.
type Verdict struct {
	Accepted       bool                  `json:"accepted"`
	Kind           Kind                  `json:"-"`
	KindLabel      string                `json:"kind"`
	Score          float64               `json:"score"`
	Reason         string                `json:"reason"`
	DominantColour string                `json:"dominant_colour,omitempty"`
	Layers         map[string]LayerScore `json:"layers,omitempty"`
}

func reject(kind Kind, score float64, reason string, layers map[string]LayerScore) Verdict {
	return Verdict{
		Kind:      kind,
		KindLabel: kind.String(),
		Score:     score,
		Reason:    reason,
		Layers:    layers,
	}
}
