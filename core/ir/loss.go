package ir

// LossClass represents the fidelity level of a format conversion.
type LossClass string

// Loss class constants, from most to least fidelity.
const (
	// LossL0 indicates lossless conversion - the reparsed tree matches exactly.
	LossL0 LossClass = "L0"

	// LossL1 indicates semantically lossless - all content preserved, formatting may differ.
	LossL1 LossClass = "L1"

	// LossL2 indicates minor loss - some structure or formatting lost (e.g., hints).
	LossL2 LossClass = "L2"

	// LossL3 indicates significant loss - content partially lost (e.g., bibliography).
	LossL3 LossClass = "L3"

	// LossL4 indicates plain text only - only raw text preserved.
	LossL4 LossClass = "L4"
)

// validLossClasses is the set of valid loss classes.
var validLossClasses = map[LossClass]bool{
	LossL0: true,
	LossL1: true,
	LossL2: true,
	LossL3: true,
	LossL4: true,
}

// IsValid returns true if the loss class is valid.
func (l LossClass) IsValid() bool {
	return validLossClasses[l]
}

// Level returns the numeric level (0-4) of the loss class.
func (l LossClass) Level() int {
	switch l {
	case LossL0:
		return 0
	case LossL1:
		return 1
	case LossL2:
		return 2
	case LossL3:
		return 3
	case LossL4:
		return 4
	default:
		return -1
	}
}

// IsLossless returns true if this loss class indicates no data loss.
func (l LossClass) IsLossless() bool {
	return l == LossL0
}

// IsSemanticallyLossless returns true if content is fully preserved.
func (l LossClass) IsSemanticallyLossless() bool {
	return l == LossL0 || l == LossL1
}

// Score thresholds used by ClassifyScore.
const (
	scoreL1 = 0.95
	scoreL2 = 0.85
	scoreL3 = 0.5
)

// ClassifyScore maps an overall fidelity score in [0,1] to a loss class.
// A perfect score is L0; a score at or above the default pass threshold
// is at worst L2.
func ClassifyScore(score float64) LossClass {
	switch {
	case score >= 1:
		return LossL0
	case score >= scoreL1:
		return LossL1
	case score >= scoreL2:
		return LossL2
	case score >= scoreL3:
		return LossL3
	default:
		return LossL4
	}
}

// LostElement describes a specific piece of data that was lost during conversion.
type LostElement struct {
	// Path is the location in the source (e.g., "body[2].children[0]").
	Path string `json:"path"`

	// ElementType describes what was lost (e.g., "hint", "citation").
	ElementType string `json:"element_type"`

	// Reason explains why the element was lost.
	Reason string `json:"reason"`

	// OriginalValue is the value that was lost (optional).
	OriginalValue interface{} `json:"original_value,omitempty"`
}

// LossReport documents the fidelity of a format conversion.
type LossReport struct {
	// SourceFormat is the format being converted from (e.g., "latex").
	SourceFormat string `json:"source_format"`

	// TargetFormat is the format being converted to (e.g., "ir", "html").
	TargetFormat string `json:"target_format"`

	// LossClass is the overall fidelity classification.
	LossClass LossClass `json:"loss_class"`

	// LostElements lists specific pieces of data that were lost.
	LostElements []LostElement `json:"lost_elements,omitempty"`

	// Warnings contains non-fatal issues encountered during conversion.
	Warnings []string `json:"warnings,omitempty"`
}

// HasLoss returns true if any elements were lost.
func (r *LossReport) HasLoss() bool {
	return len(r.LostElements) > 0 || r.LossClass.Level() > 0
}

// AddLostElement adds a lost element to the report.
func (r *LossReport) AddLostElement(path, elementType, reason string) {
	r.LostElements = append(r.LostElements, LostElement{
		Path:        path,
		ElementType: elementType,
		Reason:      reason,
	})
}

// AddWarning adds a warning to the report.
func (r *LossReport) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}
