package ir

// InheritMode controls how a hint propagates to descendants.
type InheritMode string

// Inheritance modes.
const (
	// InheritNone applies the hint to its own node only. It is the default.
	InheritNone InheritMode = "no-inherit"

	// InheritChildren applies the hint to direct children as well.
	InheritChildren InheritMode = "inherit"

	// InheritCascade applies the hint to every descendant.
	InheritCascade InheritMode = "cascade"
)

// Common hint types. The vocabulary is open; renderers ignore types they do
// not support.
const (
	HintAlignment = "alignment"
	HintFontSize  = "font-size"
	HintColor     = "color"
	HintCSSClass  = "css-class"
	HintPageBreak = "page-break"
	HintWidth     = "width"
)

// HintConditions restrict where a hint applies. All set fields must match.
type HintConditions struct {
	// Formats lists target output formats (e.g., "html", "latex").
	Formats []string `json:"formats,omitempty"`

	// Media is a media-query-like expression (e.g., "screen and (min-width: 600px)").
	Media string `json:"media,omitempty"`

	// Preferences lists user accessibility preferences that must all be
	// active (e.g., "high-contrast", "reduced-motion").
	Preferences []string `json:"preferences,omitempty"`
}

// RenderingHint is an advisory presentation annotation. Absence of support
// for a hint type never changes document meaning.
type RenderingHint struct {
	Type        string          `json:"type"`
	Value       any             `json:"value,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	Conditions  *HintConditions `json:"conditions,omitempty"`
	Fallback    *RenderingHint  `json:"fallback,omitempty"`
	Inheritance InheritMode     `json:"inheritance,omitempty"`
}

// PriorityValue returns the priority, or 0 when unset.
func (h RenderingHint) PriorityValue() int {
	if h.Priority == nil {
		return 0
	}
	return *h.Priority
}

// Mode returns the inheritance mode, defaulting to InheritNone.
func (h RenderingHint) Mode() InheritMode {
	if h.Inheritance == "" {
		return InheritNone
	}
	return h.Inheritance
}
