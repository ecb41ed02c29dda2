package ir

// MathKind classifies a math expression.
type MathKind string

// Math kinds.
const (
	MathInline      MathKind = "inline"
	MathDisplay     MathKind = "display"
	MathEnvironment MathKind = "environment"
)

// IsValid returns true if the kind is known.
func (k MathKind) IsValid() bool {
	switch k {
	case MathInline, MathDisplay, MathEnvironment:
		return true
	}
	return false
}

// MathExpression is mathematics in source form.
type MathExpression struct {
	Kind MathKind `json:"kind"`

	// Source is the expression without outer delimiters or environment markers.
	Source string `json:"source"`

	// Environment names the environment for MathEnvironment (e.g., "align").
	Environment string `json:"environment,omitempty"`

	// Original optionally preserves the markup the expression was parsed from.
	Original string `json:"original,omitempty"`
}
