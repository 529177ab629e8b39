package action

// Kind identifies a primitive browser action.
type Kind string

const (
	KindClick    Kind = "click"
	KindType     Kind = "type"
	KindScroll   Kind = "scroll"
	KindNavigate Kind = "navigate"
	KindWait     Kind = "wait"
	KindFinish   Kind = "finish"
	KindUnknown  Kind = "unknown"
)

// ParseKind maps a raw model-supplied string to a Kind, falling back to
// KindUnknown for anything unrecognized.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindClick, KindType, KindScroll, KindNavigate, KindWait, KindFinish:
		return Kind(s)
	default:
		return KindUnknown
	}
}

// Proposal is the raw planner output. It is untrusted until it passes
// through Validate.
type Proposal struct {
	Kind       Kind    `json:"action"`
	Target     string  `json:"target,omitempty"`     // free-form element description
	X          int     `json:"x,omitempty"`          // coordinate (click/scroll)
	Y          int     `json:"y,omitempty"`
	HasCoords  bool    `json:"has_coords,omitempty"`
	Text       string  `json:"text,omitempty"`       // payload for type
	URL        string  `json:"url,omitempty"`        // destination for navigate
	WaitMS     int     `json:"wait_ms,omitempty"`    // duration for wait
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`  // model explanation, or raw text on a parse miss
}

// Reason identifies why a proposal was rejected.
type Reason string

const (
	ReasonOutOfBounds  Reason = "OUT_OF_BOUNDS"
	ReasonNoTarget     Reason = "NO_TARGET"
	ReasonInvalidURL   Reason = "INVALID_URL"
	ReasonUnrecognized Reason = "UNRECOGNIZED_ACTION"
)

// Validated is a proposal that has been range-checked and type-resolved.
// Only a Validated with OK set may be executed.
type Validated struct {
	Proposal
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason,omitempty"`
}
