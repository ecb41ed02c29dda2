package convert

import (
	"time"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// ParseMetadata describes a parse.
type ParseMetadata struct {
	SourceFormat string        `json:"sourceFormat"`
	ParseTime    time.Duration `json:"parseTime"`

	// MappedElements counts source constructs converted to a specific
	// canonical node; UnmappedElements counts those down-converted to a
	// generic fallback.
	MappedElements   int `json:"mappedElements"`
	UnmappedElements int `json:"unmappedElements"`

	// FidelityScore is the mapped share of all elements, in [0,1].
	FidelityScore float64 `json:"fidelityScore"`

	// Format holds source metadata with no canonical field, such as the
	// LaTeX document class and package list.
	Format map[string]any `json:"format,omitempty"`
}

// ParseResult is the outcome of a parse. Document is never nil.
type ParseResult struct {
	Document *ir.Document  `json:"document"`
	Metadata ParseMetadata `json:"metadata"`
	Warnings errors.Issues `json:"warnings,omitempty"`
	Errors   errors.Issues `json:"errors,omitempty"`
}

// NewParseResult returns an empty result for a format with a fresh document.
func NewParseResult(format string) *ParseResult {
	return &ParseResult{
		Document: ir.NewDocument(ir.CurrentVersion),
		Metadata: ParseMetadata{SourceFormat: format},
	}
}

// FatalResult returns a result carrying a minimal empty document and one
// fatal issue.
func FatalResult(format string, issue errors.Issue) *ParseResult {
	issue.Fatal = true
	if issue.Category == "" {
		issue.Category = errors.CategoryFatal
	}
	res := NewParseResult(format)
	res.Errors = append(res.Errors, issue)
	return res
}

// Add records an issue as a warning or an error.
func (r *ParseResult) Add(issues ...errors.Issue) {
	for _, is := range issues {
		if is.IsError() {
			r.Errors = append(r.Errors, is)
		} else {
			r.Warnings = append(r.Warnings, is)
		}
	}
}

// Mapped counts n converted elements.
func (r *ParseResult) Mapped(n int) {
	r.Metadata.MappedElements += n
}

// Unmapped counts one down-converted element and records a warning.
func (r *ParseResult) Unmapped(issue errors.Issue) {
	r.Metadata.UnmappedElements++
	r.Add(issue)
}

// Fatal returns true if the parse could not proceed.
func (r *ParseResult) Fatal() bool {
	for _, is := range r.Errors {
		if is.Fatal {
			return true
		}
	}
	return false
}

// Issues returns errors followed by warnings.
func (r *ParseResult) Issues() errors.Issues {
	out := make(errors.Issues, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Finish stamps the parse time and computes the fidelity score.
func (r *ParseResult) Finish(start time.Time) *ParseResult {
	r.Metadata.ParseTime = time.Since(start)
	total := r.Metadata.MappedElements + r.Metadata.UnmappedElements
	switch {
	case r.Fatal():
		r.Metadata.FidelityScore = 0
	case total == 0:
		r.Metadata.FidelityScore = 1
	default:
		r.Metadata.FidelityScore = float64(r.Metadata.MappedElements) / float64(total)
	}
	return r
}

// RenderMetadata describes a render.
type RenderMetadata struct {
	Format     string        `json:"format"`
	RenderTime time.Duration `json:"renderTime"`
	WordCount  int           `json:"wordCount"`
}

// RenderResult is the outcome of a render. Degraded output (for example an
// unknown block rendered as a marker) is recorded in Warnings; Errors holds
// problems that made the output incomplete.
type RenderResult struct {
	Content  string         `json:"content"`
	Metadata RenderMetadata `json:"metadata"`
	Errors   errors.Issues  `json:"errors,omitempty"`
	Warnings errors.Issues  `json:"warnings,omitempty"`
}

// NewRenderResult returns an empty result for a format.
func NewRenderResult(format string) *RenderResult {
	return &RenderResult{Metadata: RenderMetadata{Format: format}}
}

// Add records an issue as a warning or an error.
func (r *RenderResult) Add(issues ...errors.Issue) {
	for _, is := range issues {
		if is.IsError() {
			r.Errors = append(r.Errors, is)
		} else {
			r.Warnings = append(r.Warnings, is)
		}
	}
}

// Finish stamps the render time and counts the document's words.
func (r *RenderResult) Finish(doc *ir.Document, start time.Time) *RenderResult {
	r.Metadata.RenderTime = time.Since(start)
	if doc != nil {
		r.Metadata.WordCount = ir.ComputeStats(doc).Words
	}
	return r
}

// ValidationResult is the outcome of a validation. Security issues are
// always errors.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Errors   errors.Issues `json:"errors,omitempty"`
	Warnings errors.Issues `json:"warnings,omitempty"`
}

// NewValidationResult returns a passing result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// Add records issues and updates Valid.
func (r *ValidationResult) Add(issues ...errors.Issue) {
	for _, is := range issues {
		if is.IsError() {
			r.Errors = append(r.Errors, is)
			r.Valid = false
		} else {
			r.Warnings = append(r.Warnings, is)
		}
	}
}

// Merge adds all issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Add(other.Errors...)
	r.Add(other.Warnings...)
}

// ValidateTree runs the format-independent checks on a document and reports
// them as validation issues.
func ValidateTree(doc *ir.Document) *ValidationResult {
	res := NewValidationResult()
	if doc == nil {
		res.Add(errors.Invalidf(errors.CodeStructure, "no document"))
		return res
	}
	for _, err := range ir.ValidateDocument(doc) {
		res.Add(errors.Invalidf(errors.CodeStructure, "%v", err))
	}
	return res
}
