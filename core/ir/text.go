package ir

import "strings"

// RunKind is an open-vocabulary inline span kind.
type RunKind string

// Run kinds modeled by this package.
const (
	RunText          RunKind = "text"
	RunEmphasis      RunKind = "emphasis"
	RunStrong        RunKind = "strong"
	RunCode          RunKind = "code"
	RunCrossRef      RunKind = "xref"
	RunCitation      RunKind = "citation"
	RunMath          RunKind = "math"
	RunSubscript     RunKind = "subscript"
	RunSuperscript   RunKind = "superscript"
	RunStrikethrough RunKind = "strikethrough"
	RunUnderline     RunKind = "underline"
	RunIndex         RunKind = "index"
)

// styledKinds are the kinds represented by StyledRun.
var styledKinds = map[RunKind]bool{
	RunEmphasis:      true,
	RunStrong:        true,
	RunCode:          true,
	RunSubscript:     true,
	RunSuperscript:   true,
	RunStrikethrough: true,
	RunUnderline:     true,
}

// IsStyled returns true if the kind is a pure presentation style.
func (k RunKind) IsStyled() bool {
	return styledKinds[k]
}

// Run is one inline span. Rendering a SemanticText is the concatenation of
// its runs' rendered forms, in order.
type Run interface {
	Kind() RunKind
	// Plain returns the run's plain-text content, used for graceful
	// degradation and for content comparison.
	Plain() string
}

// TextRun is unformatted text.
type TextRun struct {
	Text string `json:"text"`
}

// StyledRun is text with a single presentation style. Style must satisfy
// RunKind.IsStyled.
type StyledRun struct {
	Style RunKind `json:"style"`
	Text  string  `json:"text"`
}

// RefRun is a cross-reference to an element id or an external URL.
type RefRun struct {
	Target  string `json:"target"`
	Display string `json:"display,omitempty"`
}

// CiteRun is a citation of a bibliography entry.
type CiteRun struct {
	Citation Citation `json:"citation"`
}

// MathRun is inline mathematics in source form.
type MathRun struct {
	Source string `json:"source"`
}

// IndexRun is an index entry. It contributes no visible text.
type IndexRun struct {
	Term string `json:"term"`
}

// UnknownRun carries a run kind this package does not model.
type UnknownRun struct {
	Tag  string `json:"tag"`
	Text string `json:"text,omitempty"`
}

func (TextRun) Kind() RunKind      { return RunText }
func (r StyledRun) Kind() RunKind  { return r.Style }
func (RefRun) Kind() RunKind       { return RunCrossRef }
func (CiteRun) Kind() RunKind      { return RunCitation }
func (MathRun) Kind() RunKind      { return RunMath }
func (IndexRun) Kind() RunKind     { return RunIndex }
func (r UnknownRun) Kind() RunKind { return RunKind(r.Tag) }

func (r TextRun) Plain() string   { return r.Text }
func (r StyledRun) Plain() string { return r.Text }
func (r MathRun) Plain() string   { return r.Source }
func (IndexRun) Plain() string    { return "" }
func (r UnknownRun) Plain() string {
	return r.Text
}

// Plain returns the display text, or the target when there is none.
func (r RefRun) Plain() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Target
}

// Plain returns a bracketed citation key.
func (r CiteRun) Plain() string {
	return "[" + r.Citation.Key + "]"
}

// SemanticText is an ordered sequence of runs.
type SemanticText []Run

// Plain wraps s as a single text run. An empty string yields nil.
func Plain(s string) SemanticText {
	if s == "" {
		return nil
	}
	return SemanticText{TextRun{Text: s}}
}

// String returns the concatenated plain text of all runs.
func (t SemanticText) String() string {
	if len(t) == 1 {
		return t[0].Plain()
	}
	var sb strings.Builder
	for _, r := range t {
		sb.WriteString(r.Plain())
	}
	return sb.String()
}

// IsEmpty returns true if the text has no visible content.
func (t SemanticText) IsEmpty() bool {
	return strings.TrimSpace(t.String()) == ""
}

// Merge returns a copy with adjacent TextRuns joined.
func (t SemanticText) Merge() SemanticText {
	out := make(SemanticText, 0, len(t))
	for _, r := range t {
		if tr, ok := r.(TextRun); ok {
			if tr.Text == "" {
				continue
			}
			if n := len(out); n > 0 {
				if prev, ok := out[n-1].(TextRun); ok {
					out[n-1] = TextRun{Text: prev.Text + tr.Text}
					continue
				}
			}
		}
		out = append(out, r)
	}
	return out
}

// TrimSpace trims leading whitespace of the first text run and trailing
// whitespace of the last one.
func (t SemanticText) TrimSpace() SemanticText {
	out := append(SemanticText(nil), t...)
	if n := len(out); n > 0 {
		if tr, ok := out[0].(TextRun); ok {
			out[0] = TextRun{Text: strings.TrimLeft(tr.Text, " \t\n")}
		}
		if tr, ok := out[n-1].(TextRun); ok {
			out[n-1] = TextRun{Text: strings.TrimRight(tr.Text, " \t\n")}
		}
	}
	return out.Merge()
}
