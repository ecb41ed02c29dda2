package markdown

import (
	"bytes"
	"encoding/json"
	"path"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
	htmlfmt "github.com/FocuswithJustin/edudoc/internal/formats/html"
)

// Parser converts Markdown into a canonical document.
//
// The dialect is CommonMark with pipe tables and strikethrough, plus TeX
// math, pandoc citations and a YAML front matter block. Headings outline
// the document into containers; a heading with the class "heading" stays
// a free-standing heading block.
type Parser struct{}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	goldmark.WithParserOptions(parser.WithHeadingAttribute()),
)

type matter int

const (
	matterBody matter = iota
	matterFront
	matterBack
)

// matterMarkers are HTML comments that switch the matter receiving nodes.
var matterMarkers = map[string]matter{
	"<!-- front-matter -->": matterFront,
	"<!-- body -->":         matterBody,
	"<!-- back-matter -->":  matterBack,
}

var (
	classToken = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)
	widthAttr  = regexp.MustCompile(`^\{\s*width\s*=\s*"?(\d*\.?\d+(?:%|px|pt|em|rem|cm|mm|in))"?\s*\}$`)
	refItem    = regexp.MustCompile(`^\[([^\]\s]+)\]\s*(.*)$`)
)

// attrUnescaper reverses the escapes goldmark leaves in attribute strings.
var attrUnescaper = strings.NewReplacer(`\{`, "{", "\\`", "`")

// reservedClasses carry structure and never become css-class hints.
var reservedClasses = map[string]bool{
	"division": true, "chapter": true, "section": true, "heading": true,
	"bibliography": true, "references": true, "unnumbered": true,
}

type parseState struct {
	opts   convert.ParseOptions
	res    *convert.ParseResult
	doc    *ir.Document
	limits scan.Limits
	math   *mathTable

	// src is the text goldmark parsed, with math replaced by placeholders.
	src    []byte
	lines  scan.Lines
	offset int

	outlines [3]*base.Outline
	matter   matter
	kinds    map[int]ir.ContainerKind

	// references is set when the bibliography came from front matter.
	references bool
	fragment   int
	deep       bool

	htmlBlocks, htmlTags int
}

// Parse implements convert.Parser.
func (p *Parser) Parse(content []byte, opts convert.ParseOptions) *convert.ParseResult {
	start := time.Now()
	input, issues := base.Input(content, opts.Limits)
	if issues.HasFatal() {
		return convert.FatalResult(FormatID, issues[0]).Finish(start)
	}
	res := convert.NewParseResult(FormatID)
	res.Add(issues...)
	limits := opts.Limits.Normalize()
	input = stripPlaceholders.Replace(input)
	ps := &parseState{
		opts:   opts,
		res:    res,
		doc:    res.Document,
		limits: limits,
		math:   &mathTable{limits: limits},
		lines:  scan.LineStarts(input),
	}
	for i := range ps.outlines {
		ps.outlines[i] = &base.Outline{}
	}

	body := input
	if y, rest, off, ok := splitFrontMatter(input, limits.MaxSpan); ok {
		ps.frontMatter(y)
		body, ps.offset = rest, off
	}
	ps.src = []byte(ps.math.protect(body))
	for _, is := range ps.math.issues {
		line, col := ps.lines.Locate(ps.offset + is.Offset)
		res.Add(is.At(line, col).WithOffset(ps.offset + is.Offset))
	}
	ps.math.issues = nil
	if capped, cuts := capQuotes(ps.src, limits.MaxDepth); len(cuts) > 0 {
		ps.src = capped
		ps.tooDeep()
	}

	root := markdown.Parser().Parse(text.NewReader(ps.src))
	ps.kinds = base.KindsForLevels(ps.containerLevels(root))
	ps.blocks(root.FirstChild())
	ps.finish()
	return res.Finish(start)
}

// frontMatter applies the YAML metadata block.
func (ps *parseState) frontMatter(src string) {
	fm, err := decodeFrontMatter(src)
	if err != nil {
		ps.res.Add(errors.Warnf(errors.CodeMalformed, "front matter ignored: %v", err).At(1, 1))
		return
	}
	fm.apply(ps.doc)
	entries, errs := fm.entries()
	for _, err := range errs {
		ps.res.Unmapped(errors.Warnf(errors.CodeBibliographyParse, "%v", err))
	}
	ps.addEntries(entries)
	ps.references = len(fm.References) > 0
	for _, file := range fm.Bibliography {
		ps.external(file)
	}
}

// external loads a bibliography file named in front matter. Files are read
// only through the configured resolver.
func (ps *parseState) external(file string) {
	bopts := ps.opts.Bibliography
	if !bopts.ParseExternalFiles || bopts.Resolver == nil {
		ps.res.Add(errors.Warnf(errors.CodeBibliographyParse, "external bibliography %s not loaded", file))
		return
	}
	data, err := bopts.Resolver.Resolve(file)
	if err != nil {
		ps.res.Add(errors.Warnf(errors.CodeBibliographyParse, "failed to load %s: %v", file, err))
		return
	}
	switch strings.ToLower(path.Ext(file)) {
	case ".json":
		var items []biblio.CSLItem
		if err := json.Unmarshal(data, &items); err != nil {
			ps.res.Add(errors.Warnf(errors.CodeBibliographyParse, "%s: %v", file, err))
			return
		}
		var entries []*ir.BibliographyEntry
		for _, item := range items {
			if item.ID != "" {
				entries = append(entries, biblio.FromCSL(item))
			}
		}
		ps.addEntries(entries)
	default:
		entries, issues := biblio.Parse(string(data), ps.limits)
		ps.res.Add(issues...)
		ps.addEntries(entries)
	}
	ps.references = true
}

func (ps *parseState) addEntries(entries []*ir.BibliographyEntry) {
	for _, e := range entries {
		if slices.ContainsFunc(ps.doc.Bibliography, func(o *ir.BibliographyEntry) bool { return o.ID == e.ID }) {
			ps.res.Add(errors.Warnf(errors.CodeBibliographyParse, "duplicate reference %q ignored", e.ID))
			continue
		}
		ps.doc.Bibliography = append(ps.doc.Bibliography, e)
		ps.res.Mapped(1)
	}
}

func (ps *parseState) add(nodes ...ir.Node) {
	ps.outlines[ps.matter].Add(nodes...)
}

// containerLevels lists the levels of top-level headings that open
// containers.
func (ps *parseState) containerLevels(root ast.Node) []int {
	var levels []int
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		cls := classes(h)
		if !slices.Contains(cls, "heading") && !slices.Contains(cls, "bibliography") {
			levels = append(levels, h.Level)
		}
	}
	return levels
}

// blocks converts the top-level block sequence starting at first.
func (ps *parseState) blocks(first ast.Node) {
	for n := first; n != nil; n = n.NextSibling() {
		switch v := n.(type) {
		case *ast.Heading:
			if slices.Contains(classes(v), "bibliography") {
				n = ps.bibliographySection(v)
				continue
			}
			ps.heading(v)
		case *ast.HTMLBlock:
			if m, ok := matterMarkers[strings.TrimSpace(ps.rawLines(v))]; ok {
				ps.matter = m
				continue
			}
			ps.add(ps.block(v)...)
		case *ast.Paragraph:
			if unsupportedFence(v.NextSibling(), ps.src) && strings.HasPrefix(ps.plain(v), "[Unsupported block:") {
				continue
			}
			ps.add(ps.block(v)...)
		case *east.Table:
			b := ps.table(v)
			if next, ok := v.NextSibling().(*ast.Paragraph); ok {
				if caption, ok := ps.tableCaption(next); ok {
					b.Content.(*ir.Table).Caption = caption
					n = next
				}
			}
			ps.add(b)
		default:
			ps.add(ps.block(n)...)
		}
	}
}

func (ps *parseState) heading(h *ast.Heading) {
	cls := classes(h)
	if slices.Contains(cls, "heading") {
		ps.add(ps.headingBlock(h))
		return
	}
	kind := ps.kinds[h.Level]
	for _, c := range cls {
		if k := ir.ContainerKind(c); k.IsValid() {
			kind = k
		}
	}
	if kind == "" {
		kind = ir.KindSection
	}
	c := &ir.Container{
		ID:    attrString(h, "id"),
		Kind:  kind,
		Label: attrUnescaper.Replace(ps.math.restore(attrString(h, "label"))),
		Title: ps.inline(h),
		Hints: classHints(cls),
	}
	ps.outlines[ps.matter].Open(h.Level, c)
	ps.res.Mapped(1)
}

func (ps *parseState) headingBlock(h *ast.Heading) *ir.Block {
	level := h.Level
	if v, err := strconv.Atoi(attrString(h, "level")); err == nil && v > 0 {
		level = v
	}
	b := ir.NewBlock(attrString(h, "id"), &ir.Heading{Level: level, Text: ps.inline(h)})
	b.Hints = classHints(classes(h))
	ps.res.Mapped(1)
	return b
}

// bibliographySection skips a rendered reference list. Without front
// matter references, its items are read as entries. It returns the last
// node consumed.
func (ps *parseState) bibliographySection(h *ast.Heading) ast.Node {
	last := ast.Node(h)
	for n := h.NextSibling(); n != nil; n = n.NextSibling() {
		if next, ok := n.(*ast.Heading); ok && next.Level <= h.Level {
			break
		}
		last = n
		if l, ok := n.(*ast.List); ok && !ps.references {
			ps.referenceList(l)
		}
	}
	return last
}

func (ps *parseState) referenceList(l *ast.List) {
	var entries []*ir.BibliographyEntry
	for it := l.FirstChild(); it != nil; it = it.NextSibling() {
		m := refItem.FindStringSubmatch(ps.plain(it))
		if m == nil || !biblio.ValidKey(m[1]) {
			ps.res.Unmapped(errors.Warnf(errors.CodeBibliographyParse, "reference without a key skipped"))
			continue
		}
		e := &ir.BibliographyEntry{ID: m[1], Type: "misc"}
		if m[2] != "" {
			e.Fields = ir.Fields{{Name: "note", Value: m[2]}}
		}
		entries = append(entries, e)
	}
	ps.addEntries(entries)
}

// block converts one block node outside the outline.
func (ps *parseState) block(n ast.Node) []ir.Node {
	switch v := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		if b := ps.paragraph(v); b != nil {
			return []ir.Node{b}
		}
		return nil
	case *ast.Heading:
		return []ir.Node{ps.headingBlock(v)}
	case *ast.List:
		return []ir.Node{ir.NewBlock("", ps.list(v, 0))}
	case *east.Table:
		return []ir.Node{ps.table(v)}
	case *ast.FencedCodeBlock:
		return []ir.Node{ps.fenced(v)}
	case *ast.CodeBlock:
		ps.res.Mapped(1)
		return []ir.Node{ir.NewBlock("", &ir.Code{Code: ps.math.restore(strings.TrimSuffix(ps.rawLines(v), "\n"))})}
	case *ast.Blockquote:
		return []ir.Node{ps.quote(v)}
	case *ast.ThematicBreak:
		return nil
	case *ast.HTMLBlock:
		return ps.htmlBlock(v)
	}
	kind := strings.ToLower(n.Kind().String())
	ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "%s block kept as fallback", kind))
	return []ir.Node{base.Unknown("", kind, ps.math.restore(ps.rawLines(n)))}
}

func (ps *parseState) paragraph(n ast.Node) *ir.Block {
	if b, ok := ps.figure(n); ok {
		return b
	}
	if span, ok := ps.math.only(ps.rawLines(n)); ok && span.expr.Kind != ir.MathInline {
		ps.res.Mapped(1)
		return ir.NewBlock("", &ir.MathBlock{Expr: ps.mathExpr(span)})
	}
	t := ps.inline(n)
	if t.IsEmpty() {
		return nil
	}
	ps.res.Mapped(1)
	return ir.NewBlock("", &ir.Paragraph{Text: t})
}

func (ps *parseState) mathExpr(span mathSpan) ir.MathExpression {
	e := span.expr
	if !ps.opts.Math.PreserveSource {
		e.Original = ""
	}
	return e
}

// figure reads a paragraph holding only an image, optionally followed by
// a {width=...} attribute.
func (ps *parseState) figure(n ast.Node) (*ir.Block, bool) {
	img, ok := n.FirstChild().(*ast.Image)
	if !ok {
		return nil, false
	}
	var width string
	if rest := img.NextSibling(); rest != nil {
		t, ok := rest.(*ast.Text)
		if !ok || rest.NextSibling() != nil {
			return nil, false
		}
		m := widthAttr.FindStringSubmatch(strings.TrimSpace(string(t.Segment.Value(ps.src))))
		if m == nil {
			return nil, false
		}
		width = m[1]
	}
	src := ps.literal(string(img.Destination))
	if !htmlfmt.SafeURL(src, true) {
		ps.res.Add(errors.Warnf(errors.CodeUnsafeURL, "figure source %q dropped", src))
		src = ""
	}
	ps.res.Mapped(1)
	return ir.NewBlock("", &ir.Figure{
		Source:  src,
		Caption: ps.inline(img),
		Alt:     ps.literal(string(img.Title)),
		Width:   width,
	}), true
}

func (ps *parseState) list(l *ast.List, depth int) *ir.List {
	out := &ir.List{Ordered: l.IsOrdered()}
	if out.Ordered && l.Start != 1 {
		out.Start = l.Start
	}
	for it := l.FirstChild(); it != nil; it = it.NextSibling() {
		var item ir.ListItem
		for c := it.FirstChild(); c != nil; c = c.NextSibling() {
			switch v := c.(type) {
			case *ast.List:
				if depth+1 >= ps.limits.MaxDepth {
					ps.tooDeep()
					item.Text = joinText(item.Text, ir.Plain(ps.plain(v)))
					continue
				}
				sub := ps.list(v, depth+1)
				if item.Sublist == nil {
					item.Sublist = sub
				} else {
					item.Sublist.Items = append(item.Sublist.Items, sub.Items...)
				}
			case *ast.Paragraph, *ast.TextBlock:
				item.Text = joinText(item.Text, ps.inline(c))
			default:
				item.Text = joinText(item.Text, ir.Plain(ps.plain(c)))
			}
		}
		out.Items = append(out.Items, item)
	}
	ps.res.Mapped(1)
	return out
}

// quoteCut records bytes dropped by capQuotes: at is the offset in the
// capped text, shift the total dropped up to and including this cut.
type quoteCut struct{ at, shift int }

type quoteCuts []quoteCut

// origin maps an offset in the capped text back to the uncapped text.
func (c quoteCuts) origin(off int) int {
	i := sort.Search(len(c), func(i int) bool { return c[i].at > off })
	if i == 0 {
		return off
	}
	return off + c[i-1].shift
}

// capQuotes drops blockquote markers nested deeper than limit so the block
// parser never sees unbounded container depth.
func capQuotes(src []byte, limit int) ([]byte, quoteCuts) {
	if limit <= 0 || bytes.Count(src, []byte{'>'}) <= limit {
		return src, nil
	}
	out := make([]byte, 0, len(src))
	var cuts quoteCuts
	shift := 0
	for len(src) > 0 {
		line := src
		if i := bytes.IndexByte(src, '\n'); i >= 0 {
			line, src = src[:i+1], src[i+1:]
		} else {
			src = nil
		}
		depth, keep, i := 0, 0, 0
		for i < len(line) {
			j := i
			for j < len(line) && j-i < 3 && line[j] == ' ' {
				j++
			}
			if j >= len(line) || line[j] != '>' {
				break
			}
			j++
			if j < len(line) && (line[j] == ' ' || line[j] == '\t') {
				j++
			}
			depth++
			if depth == limit {
				keep = j
			}
			i = j
		}
		if depth > limit {
			out = append(out, line[:keep]...)
			shift += i - keep
			cuts = append(cuts, quoteCut{at: len(out), shift: shift})
			out = append(out, line[i:]...)
			continue
		}
		out = append(out, line...)
	}
	return out, cuts
}

func (ps *parseState) tooDeep() {
	if !ps.deep {
		ps.deep = true
		ps.res.Add(errors.Warnf(errors.CodeScanLimit, "nesting deeper than %d flattened to text", ps.limits.MaxDepth))
	}
}

func (ps *parseState) table(t *east.Table) *ir.Block {
	tb := &ir.Table{}
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		var cells []ir.SemanticText
		empty := true
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			cell := ps.inline(c)
			empty = empty && cell.IsEmpty()
			cells = append(cells, cell)
		}
		if _, ok := r.(*east.TableHeader); ok {
			if !empty {
				tb.Header = cells
			}
			continue
		}
		tb.Rows = append(tb.Rows, cells)
	}
	ps.res.Mapped(1)
	return ir.NewBlock("", tb)
}

// tableCaption reads a "Table: caption" paragraph.
func (ps *parseState) tableCaption(p *ast.Paragraph) (ir.SemanticText, bool) {
	if !strings.HasPrefix(strings.TrimSpace(ps.rawLines(p)), "Table:") {
		return nil, false
	}
	t := ps.inline(p)
	if len(t) > 0 {
		if first, ok := t[0].(ir.TextRun); ok {
			t[0] = ir.TextRun{Text: strings.TrimPrefix(first.Text, "Table:")}
		}
	}
	return t.TrimSpace(), true
}

// unsupportedFence reports whether n is the payload fence of an
// unsupported block.
func unsupportedFence(n ast.Node, src []byte) bool {
	f, ok := n.(*ast.FencedCodeBlock)
	return ok && f.Info != nil && strings.HasPrefix(strings.TrimSpace(string(f.Info.Segment.Value(src))), "unsupported")
}

func (ps *parseState) fenced(f *ast.FencedCodeBlock) *ir.Block {
	code := ps.math.restore(strings.TrimSuffix(ps.rawLines(f), "\n"))
	if unsupportedFence(f, ps.src) {
		info := strings.TrimSpace(string(f.Info.Segment.Value(ps.src)))
		typ := strings.TrimSpace(strings.TrimPrefix(info, "unsupported"))
		if typ == "" {
			typ = "unknown"
		}
		ps.res.Unmapped(errors.Warnf(errors.CodeUnknownBlock, "unsupported block %q kept as fallback", typ))
		return base.Unknown("", typ, code)
	}
	ps.res.Mapped(1)
	return ir.NewBlock("", &ir.Code{Language: string(f.Language(ps.src)), Code: code})
}

var attributionDashes = []string{"— ", "--- ", "-- "}

func (ps *parseState) quote(q *ast.Blockquote) *ir.Block {
	var parts []ast.Node
	for c := q.FirstChild(); c != nil; c = c.NextSibling() {
		parts = append(parts, c)
	}
	out := &ir.Quote{}
	if n := len(parts); n > 1 {
		if p, ok := parts[n-1].(*ast.Paragraph); ok {
			s := ps.plain(p)
			for _, d := range attributionDashes {
				if rest, ok := strings.CutPrefix(s, d); ok {
					out.Attribution = strings.TrimSpace(rest)
					parts = parts[:n-1]
					break
				}
			}
		}
	}
	for _, c := range parts {
		if _, ok := c.(*ast.Paragraph); ok {
			out.Text = joinText(out.Text, ps.inline(c))
		} else {
			out.Text = joinText(out.Text, ir.Plain(ps.plain(c)))
		}
	}
	ps.res.Mapped(1)
	return ir.NewBlock("", out)
}

// htmlBlock converts raw HTML. With sanitisation on it is rewritten as
// Markdown, which drops scripts and other active content, and parsed as
// content; otherwise it is kept as a fallback block.
func (ps *parseState) htmlBlock(h *ast.HTMLBlock) []ir.Node {
	raw := ps.rawLines(h)
	if h.HasClosure() {
		raw += string(h.ClosureLine.Value(ps.src))
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "<!--") && strings.HasSuffix(trimmed, "-->") {
		return nil
	}
	if ps.opts.Sanitize.Enabled && ps.fragment == 0 {
		if md, err := htmltomarkdown.ConvertString(raw); err == nil {
			ps.htmlBlocks++
			return ps.fragmentNodes(md)
		}
	}
	ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "raw HTML block kept as fallback"))
	return []ir.Node{base.Unknown("", "html", ps.math.restore(raw))}
}

// fragmentNodes parses converted Markdown in place. Headings inside it
// become heading blocks.
func (ps *parseState) fragmentNodes(md string) []ir.Node {
	saved := ps.src
	ps.fragment++
	ps.src = []byte(ps.math.protect(md))
	ps.math.issues = nil
	defer func() {
		ps.src = saved
		ps.fragment--
	}()
	var out []ir.Node
	root := markdown.Parser().Parse(text.NewReader(ps.src))
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		out = append(out, ps.block(n)...)
	}
	return out
}

// finish assembles the matters, assigns ids and reports summary findings.
func (ps *parseState) finish() {
	doc := ps.doc
	if nodes := ps.outlines[matterFront].Nodes(); len(nodes) > 0 {
		doc.FrontMatter = &ir.Matter{Children: nodes}
	}
	doc.Body = &ir.Matter{Children: ps.outlines[matterBody].Nodes()}
	if nodes := ps.outlines[matterBack].Nodes(); len(nodes) > 0 {
		doc.BackMatter = &ir.Matter{Children: nodes}
	}
	if ps.htmlBlocks > 0 {
		ps.res.Add(errors.Warnf(errors.CodeSanitizedElement, "%d raw HTML blocks converted to Markdown", ps.htmlBlocks))
	}
	if ps.htmlTags > 0 {
		ps.res.Add(errors.Warnf(errors.CodeSanitizedElement, "%d inline HTML tags removed", ps.htmlTags))
	}
	base.AssignIDs(doc, base.NewIDs(FormatID))
	if len(doc.Bibliography) > 0 {
		ps.res.Add(base.UnresolvedCitations(doc)...)
	}
}

// rawLines returns the source lines of a block node.
func (ps *parseState) rawLines(n ast.Node) string {
	lines := n.Lines()
	if lines == nil {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(ps.src))
	}
	return sb.String()
}

func attrString(n ast.Node, name string) string {
	v, ok := n.AttributeString(name)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func classes(n ast.Node) []string {
	return strings.Fields(attrString(n, "class"))
}

func classHints(cls []string) []ir.RenderingHint {
	var extra []string
	for _, c := range cls {
		if !reservedClasses[c] && !ir.ContainerKind(c).IsValid() && classToken.MatchString(c) {
			extra = append(extra, c)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return []ir.RenderingHint{{Type: ir.HintCSSClass, Value: strings.Join(extra, " ")}}
}

func joinText(a, b ir.SemanticText) ir.SemanticText {
	switch {
	case a.IsEmpty():
		return b
	case b.IsEmpty():
		return a
	}
	out := append(a, ir.TextRun{Text: " "})
	return append(out, b...)
}
