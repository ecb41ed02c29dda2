package latex

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// Parser converts LaTeX source into a canonical document.
//
// Parsing runs in two passes. The metadata pass reads the preamble and is
// never affected by body errors. The segmentation pass walks the document
// body and splits it into containers and blocks; a failure there is
// recorded as a fatal issue while the metadata is kept.
type Parser struct{}

// Parse implements convert.Parser.
func (p *Parser) Parse(content []byte, opts convert.ParseOptions) *convert.ParseResult {
	start := time.Now()
	text, issues := base.Input(content, opts.Limits)
	if issues.HasFatal() {
		return convert.FatalResult(FormatID, issues[0]).Finish(start)
	}
	res := convert.NewParseResult(FormatID)
	res.Add(issues...)

	src := newSource(text, opts.Limits)
	ps := &parseState{
		src:    src,
		opts:   opts,
		res:    res,
		doc:    res.Document,
		inline: &inlineParser{src: src},
		cur:    matterBody,
	}
	ps.pre = src.preamble(func(from, to int) string {
		return ps.inline.parse(from, to).String()
	})
	ps.inline.macros = ps.pre.Macros
	ps.metadata()
	ps.scanIssues()
	ps.fileContents()

	func() {
		defer func() {
			if r := recover(); r != nil {
				ps.discardBody()
				res.Add(errors.Fatalf(errors.CodeFatalInput, "segmentation failed: %v", r))
			}
		}()
		from, to := 0, len(src.s)
		if docs := src.envs.Named("document"); len(docs) > 0 {
			from, to = docs[0].BeginEnd, docs[0].EndStart
		}
		segmenter(ps, from, to)
	}()

	ps.finish()
	return res.Finish(start)
}

// segmenter runs the segmentation pass over the body range.
var segmenter = func(ps *parseState, from, to int) {
	ps.segment(from, to, 0, nil)
}

const (
	matterFront = iota
	matterBody
	matterBack
)

// parseState carries one parse.
type parseState struct {
	src    *source
	opts   convert.ParseOptions
	res    *convert.ParseResult
	doc    *ir.Document
	pre    *Preamble
	inline *inlineParser

	outlines [3]base.Outline
	cur      int

	// override collects nodes for an environment that builds its own
	// container, such as the abstract.
	override *base.Outline

	// pending hints attach to the next node added.
	pending []ir.RenderingHint
}

var pageBreak = ir.RenderingHint{Type: ir.HintPageBreak, Value: "before"}

func (ps *parseState) outline() *base.Outline {
	if ps.override != nil {
		return ps.override
	}
	return &ps.outlines[ps.cur]
}

func (ps *parseState) warnAt(offset int, code, format string, args ...any) errors.Issue {
	line, col := ps.src.lines.Locate(offset)
	return errors.Warnf(code, format, args...).At(line, col).WithOffset(offset)
}

func (ps *parseState) metadata() {
	pre := ps.pre
	ps.doc.Metadata = ir.Metadata{
		Title:    base.CollapseSpace(pre.Title),
		Authors:  pre.Authors,
		Date:     base.CollapseSpace(pre.Date),
		Keywords: pre.Keywords,
	}
	ps.doc.Language = pre.Language
	ps.doc.Direction = direction(pre.Language)

	format := map[string]any{}
	if pre.Class != "" {
		format["class"] = pre.Class
	}
	if len(pre.ClassOptions) > 0 {
		format["classOptions"] = pre.ClassOptions
	}
	if len(pre.Packages) > 0 {
		format["packages"] = pre.Packages
	}
	if len(pre.Macros) > 0 {
		format["macros"] = pre.Macros
	}
	if len(format) > 0 {
		ps.res.Metadata.Format = format
	}
}

// discardBody drops whatever a failed segmentation pass produced.
func (ps *parseState) discardBody() {
	for i := range ps.outlines {
		ps.outlines[i] = base.Outline{}
	}
	ps.override = nil
	ps.pending = nil
	ps.cur = matterBody
}

// scanIssues reports structural problems found while indexing.
func (ps *parseState) scanIssues() {
	src := ps.src
	if src.envs.Truncated {
		ps.res.Add(errors.Warnf(errors.CodeScanLimit, "environment scan stopped after %d markers", src.limits.MaxMatches))
	}
	for _, m := range src.envs.Unmatched {
		kind := "end"
		if m.Begin {
			kind = "begin"
		}
		ps.res.Add(ps.warnAt(m.Offset, errors.CodeUnbalancedEnv, `unmatched \%s{%s}`, kind, m.Name))
	}
	if un := src.braces.Unmatched(); len(un) > 0 {
		ps.res.Add(ps.warnAt(un[0], errors.CodeUnbalancedBraces, "%d unmatched braces kept as text", len(un)))
	}
}

// fileContents loads bibliography databases embedded with filecontents.
func (ps *parseState) fileContents() {
	src := ps.src
	for _, name := range []string{"filecontents", "filecontents*"} {
		for _, pair := range src.envs.Named(name) {
			p := src.skipArgs(pair.BeginEnd, 1, 0)
			file, end, ok := src.argText(p)
			if !ok || !strings.HasSuffix(strings.TrimSpace(file), ".bib") {
				continue
			}
			entries, issues := biblio.Parse(src.raw[end:pair.EndStart], src.limits)
			ps.res.Add(issues...)
			ps.addEntries(entries)
		}
	}
}

func (ps *parseState) addEntries(entries []*ir.BibliographyEntry) {
	seen := make(map[string]bool, len(ps.doc.Bibliography))
	for _, e := range ps.doc.Bibliography {
		seen[e.ID] = true
	}
	for _, e := range entries {
		if e == nil || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		ps.doc.Bibliography = append(ps.doc.Bibliography, e)
	}
}

func (ps *parseState) takePending() []ir.RenderingHint {
	h := ps.pending
	ps.pending = nil
	return h
}

// add appends a block to the current outline with the given inherited
// hints. mapped is false for fallback blocks.
func (ps *parseState) add(b *ir.Block, hints []ir.RenderingHint, mapped bool) {
	b.Hints = append(ps.takePending(), hints...)
	if len(b.Hints) == 0 {
		b.Hints = nil
	}
	if mapped {
		ps.res.Mapped(1)
	}
	ps.outline().Add(b)
}

// segment splits [from, to) into blocks. A blank line ends a paragraph;
// structural commands and environments start new nodes.
func (ps *parseState) segment(from, to, depth int, hints []ir.RenderingHint) {
	s := ps.src.s
	para := -1
	flush := func(end int) {
		if para >= 0 {
			ps.paragraph(para, end, hints)
			para = -1
		}
	}
	for i := from; i < to; {
		c := s[i]
		switch {
		case c == '\n':
			j := i + 1
			for j < to && (s[j] == ' ' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j >= to || s[j] == '\n' {
				flush(i)
			}
			i = j
			continue
		case c == ' ' || c == '\t' || c == '\r' || c == 0:
			i++
			continue
		case c == '\\':
			if next, ok := ps.structural(i, to, depth, hints, flush); ok {
				i = next
				continue
			}
		case c == '$' && i+1 < to && s[i+1] == '$':
			if end := ps.src.closer("$$", i+2, to); end >= 0 {
				flush(i)
				ps.displayMath(i, end+2, hints)
				i = end + 2
				continue
			}
		}
		if para < 0 {
			para = i
		}
		i = ps.skipInline(i, to)
	}
	flush(to)
}

// skipInline returns the offset after the paragraph token at i. Groups and
// inline math are skipped whole so nothing inside them starts a block.
func (ps *parseState) skipInline(i, to int) int {
	src := ps.src
	switch src.s[i] {
	case '{':
		if c, ok := src.braces.Close(i); ok && c < to {
			return c + 1
		}
	case '$':
		if c := src.closer("$", i+1, to); c >= 0 {
			return c + 1
		}
	case '\\':
		if i+1 < to && src.s[i+1] == '(' {
			if c := src.closer(`\)`, i+2, to); c >= 0 {
				return c + 2
			}
		}
		_, end := src.command(i)
		return min(end, to)
	}
	return i + 1
}

// sectionLevels gives the outline level of each sectioning command.
var sectionLevels = map[string]int{
	"part": 0, "chapter": 1, "section": 2, "subsection": 3, "subsubsection": 4,
}

var sectionKinds = map[string]ir.ContainerKind{
	"part": ir.KindDivision, "chapter": ir.KindChapter, "section": ir.KindSection,
	"subsection": ir.KindSection, "subsubsection": ir.KindSection,
}

// structural handles a command at i that starts a new node. It returns
// false when the command belongs to running text.
func (ps *parseState) structural(i, to, depth int, hints []ir.RenderingHint, flush func(int)) (int, bool) {
	src := ps.src
	if i+1 < to && src.s[i+1] == '[' {
		end := src.closer(`\]`, i+2, to)
		if end < 0 {
			return 0, false
		}
		flush(i)
		ps.displayMath(i, end+2, hints)
		return end + 2, true
	}

	name, end := src.command(i)
	if _, ok := sectionLevels[name]; ok {
		return ps.section(name, i, end, to, flush)
	}
	switch name {
	case "paragraph", "subparagraph":
		return ps.heading(name, i, end, to, hints, flush)
	case "begin":
		pair, ok := src.envs.At(i)
		if !ok || pair.EndEnd > to {
			return 0, false
		}
		flush(i)
		ps.env(pair, depth, hints)
		return pair.EndEnd, true
	case "frontmatter":
		flush(i)
		ps.cur = matterFront
		return end, true
	case "mainmatter":
		flush(i)
		ps.cur = matterBody
		return end, true
	case "backmatter", "appendix":
		flush(i)
		ps.cur = matterBack
		return end, true
	case "bibliography", "addbibresource":
		flush(i)
		return ps.external(name, i, end), true
	case "clearpage", "newpage", "cleardoublepage", "pagebreak":
		flush(i)
		ps.pending = append(ps.pending, pageBreak)
		return src.skipArgs(end, 1, 0), true
	}
	return 0, false
}

func (ps *parseState) section(name string, at, end, to int, flush func(int)) (int, bool) {
	src := ps.src
	p, _ := src.star(end)
	p = src.skipArgs(p, 1, 0)
	from, argTo, next, ok := src.arg(p)
	if !ok || next > to {
		return 0, false
	}
	flush(at)
	c := &ir.Container{Kind: sectionKinds[name], Title: ps.inline.parse(from, argTo)}
	if lbl, e, ok := src.labelAfter(next); ok && e <= to {
		c.ID, next = lbl, e
	}
	c.Hints = ps.takePending()
	ps.outline().Open(sectionLevels[name], c)
	ps.res.Mapped(1)
	return next, true
}

func (ps *parseState) heading(name string, at, end, to int, hints []ir.RenderingHint, flush func(int)) (int, bool) {
	src := ps.src
	p, _ := src.star(end)
	p = src.skipArgs(p, 1, 0)
	from, argTo, next, ok := src.arg(p)
	if !ok || next > to {
		return 0, false
	}
	flush(at)
	level := 4
	if name == "subparagraph" {
		level = 5
	}
	b := ir.NewBlock("", &ir.Heading{Level: level, Text: ps.inline.parse(from, argTo)})
	if lbl, e, ok := src.labelAfter(next); ok && e <= to {
		b.ID, next = lbl, e
	}
	ps.add(b, hints, true)
	return next, true
}

func (ps *parseState) paragraph(from, to int, hints []ir.RenderingHint) {
	text := ps.inline.parse(from, to)
	if text.IsEmpty() {
		return
	}
	ps.add(ir.NewBlock("", &ir.Paragraph{Text: text}), hints, true)
}

// displayMath adds a \[...\] or $$...$$ block spanning [from, to).
func (ps *parseState) displayMath(from, to int, hints []ir.RenderingHint) {
	expr := mathproc.Classify(ps.src.clean(from, to))
	ps.mathBlock(expr, from, hints)
}

// mathBlock validates and adds a math expression. A \label in the source
// becomes the block id.
func (ps *parseState) mathBlock(expr ir.MathExpression, at int, hints []ir.RenderingHint) {
	var id string
	expr.Source, id = stripLabel(expr.Source)
	if !ps.opts.Math.PreserveSource {
		expr.Original = ""
	}
	line, col := ps.src.lines.Locate(at)
	for _, is := range mathproc.Validate(expr) {
		ps.res.Add(is.At(line, col))
	}
	ps.add(ir.NewBlock(id, &ir.MathBlock{Expr: expr}), hints, true)
}

// stripLabel removes the first \label{...} from math source and returns
// its target.
func stripLabel(s string) (string, string) {
	i := strings.Index(s, `\label`)
	if i < 0 || scan.Escaped(s, i) {
		return s, ""
	}
	arg, end, ok := scan.Braces(s).Arg(s, i+len(`\label`))
	if !ok {
		return s, ""
	}
	return strings.TrimSpace(s[:i] + s[end:]), strings.TrimSpace(arg)
}

// external loads databases named by \bibliography or \addbibresource.
// Files are read only through the configured resolver.
func (ps *parseState) external(name string, at, end int) int {
	src := ps.src
	p := end
	if name == "addbibresource" {
		p = src.skipArgs(p, 1, 0)
	}
	list, next, ok := src.argText(p)
	if !ok {
		return end
	}
	for _, file := range splitList(list) {
		if strings.HasPrefix(file, `\jobname`) {
			continue
		}
		if path.Ext(file) == "" {
			file += ".bib"
		}
		bopts := ps.opts.Bibliography
		if !bopts.ParseExternalFiles || bopts.Resolver == nil {
			ps.res.Add(ps.warnAt(at, errors.CodeBibliographyParse, "external bibliography %s not loaded", file))
			continue
		}
		data, err := bopts.Resolver.Resolve(file)
		if err != nil {
			ps.res.Add(ps.warnAt(at, errors.CodeBibliographyParse, "failed to load %s: %v", file, err))
			continue
		}
		entries, issues := biblio.Parse(string(data), src.limits)
		ps.res.Add(issues...)
		ps.addEntries(entries)
	}
	return next
}

// finish assembles the matters, assigns ids and reports inline findings.
func (ps *parseState) finish() {
	doc := ps.doc
	if nodes := ps.outlines[matterFront].Nodes(); len(nodes) > 0 {
		doc.FrontMatter = &ir.Matter{Children: nodes}
	}
	doc.Body = &ir.Matter{Children: ps.outlines[matterBody].Nodes()}
	if nodes := ps.outlines[matterBack].Nodes(); len(nodes) > 0 {
		doc.BackMatter = &ir.Matter{Children: nodes}
	}
	base.AssignIDs(doc, base.NewIDs(FormatID))

	ps.res.Add(ps.inline.issues...)
	names := make([]string, 0, len(ps.inline.unknown))
	for name := range ps.inline.unknown {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n := ps.inline.unknown[name]
		ps.res.Metadata.UnmappedElements += n
		ps.res.Add(errors.Warnf(errors.CodeUnknownRun, `unknown command \%s (%d occurrences)`, name, n))
	}

	if len(doc.Bibliography) > 0 {
		ps.res.Add(base.UnresolvedCitations(doc)...)
	}
}
