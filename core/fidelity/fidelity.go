// Package fidelity measures how well a format backend preserves a document
// across a render then parse round trip.
//
// The round trip is Render(original), Parse(rendered), then a diff of the
// original tree against the reparsed one. The diff yields four scores in
// [0,1] (content, structure, math, formatting), a weighted overall score and
// a list of categorized issues. The result is deterministic for a fixed
// document and options.
package fidelity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
)

// DefaultThreshold is the overall score a round trip must reach to pass.
const DefaultThreshold = 0.85

// Score weights. Formatting weight is redistributed when formatting is
// ignored.
const (
	WeightContent    = 0.4
	WeightStructure  = 0.3
	WeightMath       = 0.2
	WeightFormatting = 0.1
)

// bibliographyShare is the part of the content score given to bibliography
// ids when the bibliography is compared.
const bibliographyShare = 0.1

// maxDetailIssues caps per-element issues in a report.
const maxDetailIssues = 50

// Severity grades an issue.
type Severity string

// Severities, most severe first.
const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityCosmetic Severity = "cosmetic"
)

// IssueType names what an issue is about.
type IssueType string

// Issue types.
const (
	IssueRender       IssueType = "render-error"
	IssueParse        IssueType = "parse-error"
	IssueContent      IssueType = "content-loss"
	IssueBlockChanged IssueType = "block-changed"
	IssueStructure    IssueType = "structure-change"
	IssueMath         IssueType = "math-change"
	IssueFormatting   IssueType = "formatting-loss"
	IssueBibliography IssueType = "bibliography-loss"
)

// Issue is one difference found by the diff.
type Issue struct {
	Severity       Severity  `json:"severity"`
	Type           IssueType `json:"type"`
	Location       string    `json:"location,omitempty"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation,omitempty"`
}

// Options configures a round trip.
type Options struct {
	// Threshold is the overall score needed to pass; zero means
	// DefaultThreshold.
	Threshold          float64 `json:"fidelityThreshold"`
	IgnoreFormatting   bool    `json:"ignoreFormatting"`
	IgnoreBibliography bool    `json:"ignoreBibliography"`

	Parse  convert.ParseOptions  `json:"parse"`
	Render convert.RenderOptions `json:"render"`
}

// DefaultOptions returns options with the default threshold. Rendering
// includes the bibliography and the outer wrapper so the parser sees a
// complete document.
func DefaultOptions() Options {
	return Options{
		Threshold: DefaultThreshold,
		Parse:     convert.DefaultParseOptions(),
		Render:    convert.DefaultRenderOptions(),
	}
}

// Report is the outcome of a round trip.
type Report struct {
	Format             string        `json:"format"`
	Success            bool          `json:"success"`
	FidelityScore      float64       `json:"fidelityScore"`
	ContentFidelity    float64       `json:"contentFidelity"`
	StructureFidelity  float64       `json:"structureFidelity"`
	MathFidelity       float64       `json:"mathFidelity"`
	FormattingFidelity float64       `json:"formattingFidelity"`
	LossClass          ir.LossClass  `json:"lossClass"`
	Issues             []Issue       `json:"issues,omitempty"`
	Rendered           string        `json:"-"`
	Reparsed           *ir.Document  `json:"-"`
	ConversionIssues   errors.Issues `json:"conversionIssues,omitempty"`
}

// Count returns the number of issues of a severity.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == s {
			n++
		}
	}
	return n
}

// LossReport lists what the round trip through Format lost. Cosmetic
// issues are not losses; conversion issues become warnings.
func (r *Report) LossReport() *ir.LossReport {
	lr := &ir.LossReport{SourceFormat: "ir", TargetFormat: r.Format, LossClass: r.LossClass}
	for _, is := range r.Issues {
		if is.Severity == SeverityCosmetic {
			continue
		}
		lr.AddLostElement(is.Location, string(is.Type), is.Message)
	}
	for _, is := range r.ConversionIssues {
		lr.AddWarning(is.Error())
	}
	return lr
}

// Tester runs round trips through one backend.
type Tester struct {
	Format   string
	Renderer convert.Renderer
	Parser   convert.Parser
}

// NewTester returns a tester for a registered backend.
func NewTester(b *convert.Backend) *Tester {
	return &Tester{Format: b.Manifest.ID, Renderer: b.Renderer, Parser: b.Parser}
}

// TestRoundTrip renders doc, parses the output and compares the trees.
func (t *Tester) TestRoundTrip(doc *ir.Document, opts Options) *Report {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	rendered := convert.SafeRender(t.Renderer, t.Format, doc, opts.Render)
	if len(rendered.Errors) > 0 {
		r := &Report{Format: t.Format, LossClass: ir.LossL4, Rendered: rendered.Content}
		r.ConversionIssues = append(r.ConversionIssues, rendered.Errors...)
		r.Issues = append(r.Issues, Issue{
			Severity: SeverityCritical, Type: IssueRender,
			Message:        fmt.Sprintf("render failed: %v", rendered.Errors[0]),
			Recommendation: "fix the renderer error before measuring fidelity",
		})
		return r
	}

	parsed := convert.SafeParse(t.Parser, t.Format, []byte(rendered.Content), opts.Parse)
	if parsed.Fatal() {
		r := &Report{Format: t.Format, LossClass: ir.LossL4, Rendered: rendered.Content, Reparsed: parsed.Document}
		r.ConversionIssues = append(r.ConversionIssues, parsed.Errors...)
		r.Issues = append(r.Issues, Issue{
			Severity: SeverityCritical, Type: IssueParse,
			Message:        fmt.Sprintf("rendered output could not be parsed: %v", parsed.Errors[0]),
			Recommendation: "the renderer produced output its own parser rejects",
		})
		return r
	}

	r := Compare(doc, parsed.Document, opts)
	r.Format = t.Format
	r.Rendered = rendered.Content
	r.ConversionIssues = append(r.ConversionIssues, rendered.Warnings...)
	r.ConversionIssues = append(r.ConversionIssues, parsed.Issues()...)
	return r
}

// Compare diffs two documents and scores the differences.
func Compare(original, reparsed *ir.Document, opts Options) *Report {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	a, b := extract(original), extract(reparsed)
	r := &Report{Reparsed: reparsed}

	r.ContentFidelity = dice(a.words, b.words)
	if !opts.IgnoreBibliography && len(a.bibIDs) > 0 {
		r.ContentFidelity = (1-bibliographyShare)*r.ContentFidelity + bibliographyShare*recall(a.bibIDs, b.bibIDs)
	}
	r.StructureFidelity = sequenceSimilarity(a.shape, b.shape)
	r.MathFidelity = sequenceSimilarity(a.math, b.math)
	r.FormattingFidelity = dice(a.styles, b.styles)

	if opts.IgnoreFormatting {
		w := WeightContent + WeightStructure + WeightMath
		r.FidelityScore = (WeightContent*r.ContentFidelity + WeightStructure*r.StructureFidelity +
			WeightMath*r.MathFidelity) / w
	} else {
		r.FidelityScore = WeightContent*r.ContentFidelity + WeightStructure*r.StructureFidelity +
			WeightMath*r.MathFidelity + WeightFormatting*r.FormattingFidelity
	}
	r.FidelityScore = round(r.FidelityScore)
	r.Success = r.FidelityScore >= opts.Threshold
	r.LossClass = ir.ClassifyScore(r.FidelityScore)

	r.Issues = diffIssues(a, b, r, opts)
	return r
}

// round limits scores to 1e-6 so float noise cannot flip a threshold test.
func round(f float64) float64 {
	return float64(int64(f*1e6+0.5)) / 1e6
}

// features is what the diff compares.
type features struct {
	words  map[string]int
	styles map[string]int
	shape  []string
	math   []string
	bibIDs []string
	blocks []blockRef
}

type blockRef struct {
	location    string
	typ         ir.BlockType
	fingerprint string
}

func extract(d *ir.Document) *features {
	f := &features{words: make(map[string]int), styles: make(map[string]int)}
	if d == nil {
		return f
	}
	addWords := func(s string) {
		for _, w := range ir.Words(s) {
			f.words[w]++
		}
	}
	addRuns := func(t ir.SemanticText) {
		for _, run := range t {
			switch v := run.(type) {
			case ir.MathRun:
				f.math = append(f.math, mathproc.Normalize(v.Source))
			case ir.TextRun, ir.CiteRun, ir.IndexRun, ir.UnknownRun:
			default:
				f.styles[string(run.Kind())]++
			}
		}
	}

	for mi, m := range d.Matters() {
		if m == nil {
			continue
		}
		index := 0
		ir.Walk(m.Children, func(n ir.Node, depth int) bool {
			index++
			switch v := n.(type) {
			case *ir.Container:
				f.shape = append(f.shape, fmt.Sprintf("%s@%d", v.Kind, depth))
				addWords(v.Title.String())
				addRuns(v.Title)
			case *ir.Block:
				f.shape = append(f.shape, "block:"+string(v.Type()))
				addWords(ir.BlockText(v))
				ir.EachText(v, addRuns)
				if mb, ok := v.Content.(*ir.MathBlock); ok {
					f.math = append(f.math, mathproc.Normalize(mb.Expr.Source))
				}
				loc := v.ID
				if loc == "" {
					loc = fmt.Sprintf("matter[%d]/node[%d]", mi, index)
				}
				f.blocks = append(f.blocks, blockRef{location: loc, typ: v.Type(), fingerprint: ir.FingerprintBlock(v)})
			}
			return true
		})
	}
	for _, e := range d.Bibliography {
		if e != nil {
			f.bibIDs = append(f.bibIDs, e.ID)
		}
	}
	return f
}

// dice is the Sørensen–Dice coefficient of two multisets. Two empty sets
// are identical.
func dice(a, b map[string]int) float64 {
	na, nb := total(a), total(b)
	if na+nb == 0 {
		return 1
	}
	common := 0
	for k, ca := range a {
		common += min(ca, b[k])
	}
	return 2 * float64(common) / float64(na+nb)
}

func total(m map[string]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

func recall(want, have []string) float64 {
	if len(want) == 0 {
		return 1
	}
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	n := 0
	for _, w := range want {
		if set[w] {
			n++
		}
	}
	return float64(n) / float64(len(want))
}

// maxLCSCells bounds the LCS table; larger inputs fall back to multiset
// comparison, which ignores order.
const maxLCSCells = 4 << 20

// sequenceSimilarity is 2*LCS/(len(a)+len(b)). Order matters.
func sequenceSimilarity(a, b []string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	if len(a)*len(b) > maxLCSCells {
		return dice(counts(a), counts(b))
	}
	return 2 * float64(lcs(a, b)) / float64(len(a)+len(b))
}

func lcs(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func counts(s []string) map[string]int {
	m := make(map[string]int, len(s))
	for _, v := range s {
		m[v]++
	}
	return m
}

func severityFor(score float64) Severity {
	switch {
	case score < 0.5:
		return SeverityCritical
	case score < 0.85:
		return SeverityMajor
	case score < 0.98:
		return SeverityMinor
	}
	return SeverityCosmetic
}

func diffIssues(a, b *features, r *Report, opts Options) []Issue {
	var issues []Issue

	if r.ContentFidelity < 1 {
		missing := missingKeys(a.words, b.words)
		msg := fmt.Sprintf("content fidelity %.2f", r.ContentFidelity)
		if len(missing) > 0 {
			msg += fmt.Sprintf("; %d word(s) lost, e.g. %s", len(missing), strings.Join(missing[:min(5, len(missing))], ", "))
		}
		issues = append(issues, Issue{
			Severity: severityFor(r.ContentFidelity), Type: IssueContent, Message: msg,
			Recommendation: "check escaping and unknown-construct fallbacks in the backend",
		})
	}

	if r.StructureFidelity < 1 {
		issues = append(issues, Issue{
			Severity: severityFor(r.StructureFidelity), Type: IssueStructure,
			Message: fmt.Sprintf("structure fidelity %.2f: %d nodes became %d (%s)",
				r.StructureFidelity, len(a.shape), len(b.shape), shapeDelta(a.shape, b.shape)),
			Recommendation: "compare container nesting and block types of the rendered output",
		})
	}

	reparsedMath := counts(b.math)
	for i, m := range a.math {
		if reparsedMath[m] > 0 {
			reparsedMath[m]--
			continue
		}
		issues = append(issues, Issue{
			Severity: SeverityMajor, Type: IssueMath, Location: fmt.Sprintf("math[%d]", i),
			Message:        fmt.Sprintf("math expression %q not reproduced", truncate(m, 60)),
			Recommendation: "preserve math source verbatim in the renderer",
		})
	}

	if !opts.IgnoreFormatting {
		for _, style := range missingKeys(a.styles, b.styles) {
			issues = append(issues, Issue{
				Severity: SeverityCosmetic, Type: IssueFormatting,
				Message: fmt.Sprintf("%s formatting lost (%d of %d)", style, a.styles[style]-b.styles[style], a.styles[style]),
			})
		}
	}

	if !opts.IgnoreBibliography {
		have := make(map[string]bool, len(b.bibIDs))
		for _, id := range b.bibIDs {
			have[id] = true
		}
		for _, id := range a.bibIDs {
			if !have[id] {
				issues = append(issues, Issue{
					Severity: SeverityMinor, Type: IssueBibliography, Location: "bibliography/" + id,
					Message:        fmt.Sprintf("bibliography entry %s not reproduced", id),
					Recommendation: "enable bibliography output on render",
				})
			}
		}
	}

	seen := make(map[string]int, len(b.blocks))
	for _, blk := range b.blocks {
		seen[blk.fingerprint]++
	}
	detail := 0
	for _, blk := range a.blocks {
		if seen[blk.fingerprint] > 0 {
			seen[blk.fingerprint]--
			continue
		}
		if detail == maxDetailIssues {
			issues = append(issues, Issue{Severity: SeverityCosmetic, Type: IssueBlockChanged, Message: "further changed blocks not listed"})
			break
		}
		detail++
		issues = append(issues, Issue{
			Severity: SeverityMinor, Type: IssueBlockChanged, Location: blk.location,
			Message: fmt.Sprintf("%s block not reproduced exactly", blk.typ),
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
	})
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityMinor:
		return 2
	}
	return 3
}

// missingKeys lists keys whose count dropped, sorted.
func missingKeys(a, b map[string]int) []string {
	var out []string
	for k, c := range a {
		if b[k] < c {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// shapeDelta summarizes per-kind count changes, sorted by kind.
func shapeDelta(a, b []string) string {
	ca, cb := kindCounts(a), kindCounts(b)
	keys := make(map[string]bool)
	for k := range ca {
		keys[k] = true
	}
	for k := range cb {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		if ca[k] != cb[k] {
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)
	parts := make([]string, len(sorted))
	for i, k := range sorted {
		parts[i] = fmt.Sprintf("%s %d→%d", k, ca[k], cb[k])
	}
	if len(parts) == 0 {
		return "order changed"
	}
	return strings.Join(parts, ", ")
}

func kindCounts(shape []string) map[string]int {
	m := make(map[string]int)
	for _, s := range shape {
		if i := strings.IndexByte(s, '@'); i > 0 {
			s = s[:i]
		}
		m[s]++
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
