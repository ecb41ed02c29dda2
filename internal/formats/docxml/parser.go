package docxml

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
	xmlutil "github.com/FocuswithJustin/edudoc/core/xml"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// Parser reads the canonical XML form.
//
// Input is checked for well-formedness and entity declarations before it is
// parsed, so a malformed or hostile file yields one fatal issue with a
// location. Elements outside the vocabulary are kept: in block position as
// Unknown blocks with their inner XML, in text as unknown runs.
type Parser struct{}

type parseState struct {
	res    *convert.ParseResult
	doc    *ir.Document
	limits scan.Limits
	capped bool
}

// elementDepth bounds XML nesting. A container level costs one element, a
// list level two, and a block with its text a few more.
func elementDepth(l scan.Limits) int {
	return 2*l.MaxDepth + 16
}

// Parse implements convert.Parser.
func (p *Parser) Parse(content []byte, opts convert.ParseOptions) *convert.ParseResult {
	start := time.Now()
	text, issues := base.Input(content, opts.Limits)
	if issues.HasFatal() {
		return convert.FatalResult(FormatID, issues[0]).Finish(start)
	}
	limits := opts.Limits.Normalize()
	data := []byte(text)
	if errs := xmlutil.Validate(data, elementDepth(limits)).Errors(); len(errs) > 0 {
		return convert.FatalResult(FormatID, errs[0]).Finish(start)
	}
	xdoc, err := xmlutil.Parse(data)
	if err != nil {
		return convert.FatalResult(FormatID, parseIssue(err)).Finish(start)
	}
	root := xdoc.Root()
	if root == nil || root.Name() != elDocument {
		return convert.FatalResult(FormatID, errors.Fatalf(errors.CodeMalformed, "root element is <%s>, want <%s>", rootName(root), elDocument)).Finish(start)
	}

	res := convert.NewParseResult(FormatID)
	res.Add(issues...)
	ps := &parseState{res: res, doc: res.Document, limits: limits}
	ps.document(xdoc, root)

	base.AssignIDs(ps.doc, base.NewIDs(FormatID))
	if len(ps.doc.Bibliography) > 0 {
		res.Add(base.UnresolvedCitations(ps.doc)...)
	}
	return res.Finish(start)
}

func parseIssue(err error) errors.Issue {
	if errors.Is(err, errors.ErrUnsafe) {
		return errors.Unsafef(errors.CodeEntityDecl, "%v", err)
	}
	return errors.Fatalf(errors.CodeMalformed, "%v", err)
}

func rootName(n *xmlutil.Node) string {
	if n == nil {
		return ""
	}
	return n.Name()
}

func (ps *parseState) document(xdoc *xmlutil.Document, root *xmlutil.Node) {
	doc := ps.doc
	if v := root.Attr("version"); v != "" {
		doc.Version = v
	}
	doc.Language = root.Attr("lang")
	doc.Direction = ps.direction(root)
	ps.metadata(xdoc)

	for _, c := range root.Nodes() {
		if !c.IsElement() {
			ps.stray(c)
			continue
		}
		switch c.Name() {
		case elMetadata:
		case elSubject:
			doc.Subject = &ir.Subject{Scheme: c.Attr("scheme"), Level: c.Attr("level")}
			for _, code := range c.Children() {
				doc.Subject.Codes = append(doc.Subject.Codes, code.Text())
			}
		case elFrontMatter:
			doc.FrontMatter = ps.matter(c)
		case elBody:
			doc.Body = ps.matter(c)
		case elBackMatter:
			doc.BackMatter = ps.matter(c)
		case elBiblio:
			ps.bibliography(c)
		default:
			ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<%s> ignored at document level", c.Name()))
		}
	}
}

// metadata reads the metadata fields by path.
func (ps *parseState) metadata(xdoc *xmlutil.Document) {
	m := &ps.doc.Metadata
	if n, _ := xdoc.XPathFirst("/document/metadata/title"); n != nil {
		m.Title = n.Text()
	}
	if n, _ := xdoc.XPathFirst("/document/metadata/date"); n != nil {
		m.Date = n.Text()
	}
	authors, _ := xdoc.XPath("/document/metadata/author")
	for _, n := range authors {
		m.Authors = append(m.Authors, n.Text())
	}
	keywords, _ := xdoc.XPath("/document/metadata/keyword")
	for _, n := range keywords {
		m.Keywords = append(m.Keywords, n.Text())
	}
}

func (ps *parseState) direction(n *xmlutil.Node) ir.Direction {
	d := ir.Direction(n.Attr("dir"))
	if !d.IsValid() {
		ps.res.Add(errors.Warnf(errors.CodeMalformed, "<%s> has unknown direction %q", n.Name(), d))
		return ""
	}
	return d
}

// stray reports text where only elements belong. Whitespace is layout.
func (ps *parseState) stray(n *xmlutil.Node) {
	if strings.TrimSpace(n.Data()) != "" {
		ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "text %q outside a block dropped", truncate(n.Data(), 40)))
	}
}

func (ps *parseState) matter(n *xmlutil.Node) *ir.Matter {
	return &ir.Matter{Children: ps.nodes(n.Nodes(), 0)}
}

func (ps *parseState) nodes(children []*xmlutil.Node, depth int) ir.Nodes {
	var out ir.Nodes
	for _, c := range children {
		if !c.IsElement() {
			if strings.TrimSpace(c.Data()) != "" {
				out = append(out, ir.NewBlock("", &ir.Paragraph{Text: ir.Plain(c.Data())}))
				ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "bare text kept as a paragraph"))
			}
			continue
		}
		if node := ps.node(c, depth); node != nil {
			out = append(out, node)
		}
	}
	return out
}

func (ps *parseState) node(n *xmlutil.Node, depth int) ir.Node {
	switch kind := ir.ContainerKind(n.Name()); {
	case kind.IsValid():
		if depth >= ps.limits.MaxDepth {
			ps.limit("containers nested deeper than %d kept as raw XML", ps.limits.MaxDepth)
			return base.Unknown(n.Attr("id"), n.Name(), n.InnerXML())
		}
		return ps.container(n, kind, depth)
	case n.Name() == elHint:
		ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<hint> outside a container or block ignored"))
		return nil
	}
	return ps.block(n)
}

func (ps *parseState) limit(format string, args ...any) {
	if !ps.capped {
		ps.capped = true
		ps.res.Add(errors.Warnf(errors.CodeScanLimit, format, args...))
	}
}

func (ps *parseState) container(n *xmlutil.Node, kind ir.ContainerKind, depth int) *ir.Container {
	c := &ir.Container{ID: n.Attr("id"), Kind: kind, Label: n.Attr("label")}
	ps.res.Mapped(1)
	var (
		rest   []*xmlutil.Node
		titled bool
	)
	for _, k := range n.Nodes() {
		switch {
		case k.IsElement() && k.Name() == elTitle && !titled:
			c.Title, _ = ps.text(k, false)
			titled = true
		case k.IsElement() && k.Name() == elHint:
			c.Hints = append(c.Hints, ps.hint(k))
		default:
			rest = append(rest, k)
		}
	}
	c.Children = ps.nodes(rest, depth+1)
	return c
}

// block converts one block element. The payload element names are the
// block type keys.
func (ps *parseState) block(n *xmlutil.Node) *ir.Block {
	b := &ir.Block{ID: n.Attr("id"), Language: n.Attr("lang"), Direction: ps.direction(n)}
	switch ir.BlockType(n.Name()) {
	case ir.BlockParagraph:
		text, hints := ps.text(n, true)
		b.Content, b.Hints = &ir.Paragraph{Text: text}, hints
	case ir.BlockHeading:
		text, hints := ps.text(n, true)
		b.Content, b.Hints = &ir.Heading{Level: ps.number(n, "level"), Text: text}, hints
	case ir.BlockQuote:
		text, hints := ps.text(n, true)
		b.Content, b.Hints = &ir.Quote{Text: text, Attribution: n.Attr("attribution")}, hints
	case ir.BlockList:
		b.Content, b.Hints = ps.list(n, 0), ps.hints(n)
	case ir.BlockTable:
		b.Content, b.Hints = ps.table(n), ps.hints(n)
	case ir.BlockFigure:
		f := &ir.Figure{Source: n.Attr("src"), Alt: n.Attr("alt"), Width: n.Attr("width")}
		if c := n.Child(elCaption); c != nil {
			f.Caption, _ = ps.text(c, false)
		}
		b.Content, b.Hints = f, ps.hints(n)
	case ir.BlockMath:
		e := ir.MathExpression{Kind: ir.MathKind(n.Attr("kind")), Environment: n.Attr("env")}
		if c := n.Child(elSource); c != nil {
			e.Source = c.Text()
		}
		if c := n.Child(elOriginal); c != nil {
			e.Original = c.Text()
		}
		if !e.Kind.IsValid() {
			ps.res.Add(errors.Warnf(errors.CodeMalformed, "math block %q has unknown kind %q; read as display", b.ID, e.Kind))
			e.Kind = ir.MathDisplay
		}
		b.Content, b.Hints = &ir.MathBlock{Expr: e}, ps.hints(n)
	case ir.BlockCode:
		b.Content, b.Hints = &ir.Code{Language: n.Attr("language"), Code: ps.plain(n)}, ps.hints(n)
	case elUnknown:
		b.Content, b.Hints = &ir.Unknown{RawType: n.Attr("type"), Raw: ps.plain(n)}, ps.hints(n)
		ps.res.Add(errors.Warnf(errors.CodeUnknownBlock, "block %q of type %q kept as raw payload", b.ID, n.Attr("type")))
		return b
	default:
		b.Content = &ir.Unknown{RawType: n.Name(), Raw: n.InnerXML()}
		ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<%s> kept as an unknown block", n.Name()))
		return b
	}
	ps.res.Mapped(1)
	return b
}

func (ps *parseState) number(n *xmlutil.Node, attr string) int {
	v := n.Attr(attr)
	if v == "" {
		return 0
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		ps.res.Add(errors.Warnf(errors.CodeMalformed, "<%s %s=%q> is not a number", n.Name(), attr, v))
	}
	return i
}

// plain returns the text children of n, skipping hint elements.
func (ps *parseState) plain(n *xmlutil.Node) string {
	var sb strings.Builder
	for _, c := range n.Nodes() {
		switch {
		case c.IsText():
			sb.WriteString(c.Data())
		case c.Name() != elHint:
			sb.WriteString(c.Text())
		}
	}
	return sb.String()
}

func (ps *parseState) hints(n *xmlutil.Node) []ir.RenderingHint {
	var out []ir.RenderingHint
	for _, c := range n.Children() {
		if c.Name() == elHint {
			out = append(out, ps.hint(c))
		}
	}
	return out
}

func (ps *parseState) hint(n *xmlutil.Node) ir.RenderingHint {
	h := ir.RenderingHint{Type: n.Attr("type"), Inheritance: ir.InheritMode(n.Attr("inheritance"))}
	attrs := n.Attributes()
	if v, ok := attrs["value"]; ok {
		h.Value = v
	} else if raw, ok := attrs["json"]; ok {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			ps.res.Add(errors.Warnf(errors.CodeMalformed, "hint %q value: %v", h.Type, err))
		} else {
			h.Value = v
		}
	}
	if _, ok := attrs["priority"]; ok {
		p := ps.number(n, "priority")
		h.Priority = &p
	}
	if c := n.Child(elConditions); c != nil {
		h.Conditions = &ir.HintConditions{Media: c.Attr("media")}
		for _, k := range c.Children() {
			switch k.Name() {
			case "format":
				h.Conditions.Formats = append(h.Conditions.Formats, k.Text())
			case "preference":
				h.Conditions.Preferences = append(h.Conditions.Preferences, k.Text())
			}
		}
	}
	if f := n.Child(elFallback); f != nil {
		fb := ps.hint(f)
		h.Fallback = &fb
	}
	return h
}

// text converts mixed content into runs. Hint children are collected when
// allowHints is set and reported otherwise.
func (ps *parseState) text(n *xmlutil.Node, allowHints bool) (ir.SemanticText, []ir.RenderingHint) {
	var (
		out   ir.SemanticText
		hints []ir.RenderingHint
	)
	for _, c := range n.Nodes() {
		if c.IsText() {
			out = append(out, ir.TextRun{Text: c.Data()})
			continue
		}
		name := c.Name()
		switch kind := ir.RunKind(name); {
		case name == elHint:
			if allowHints {
				hints = append(hints, ps.hint(c))
			} else {
				ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<hint> inside text ignored"))
			}
		case kind.IsStyled():
			out = append(out, ir.StyledRun{Style: kind, Text: ps.flat(c)})
		case kind == ir.RunCrossRef:
			out = append(out, ir.RefRun{Target: c.Attr("target"), Display: ps.flat(c)})
		case name == elCite || kind == ir.RunCitation:
			cite := ir.Citation{
				Command: c.Attr("command"),
				Key:     c.Attr("key"),
				Prefix:  c.Attr("prefix"),
				Suffix:  c.Attr("suffix"),
				Locator: c.Attr("locator"),
			}
			if err := biblio.CheckKey(cite.Key); err != nil {
				ps.res.Add(errors.Warnf(errors.CodeInvalidKey, "%v", err))
			}
			out = append(out, ir.CiteRun{Citation: cite})
		case kind == ir.RunMath:
			out = append(out, ir.MathRun{Source: ps.flat(c)})
		case kind == ir.RunIndex:
			out = append(out, ir.IndexRun{Term: c.Attr("term")})
		case name == elRun:
			out = append(out, ir.UnknownRun{Tag: c.Attr("tag"), Text: ps.flat(c)})
		default:
			out = append(out, ir.UnknownRun{Tag: name, Text: c.Text()})
			ps.res.Unmapped(errors.Warnf(errors.CodeUnknownRun, "<%s> in text kept as an unknown run", name))
		}
	}
	return out.Merge(), hints
}

// flat returns the text of a run element. Nested markup is not part of the
// vocabulary and is flattened.
func (ps *parseState) flat(n *xmlutil.Node) string {
	if len(n.Children()) > 0 {
		ps.res.Unmapped(errors.Warnf(errors.CodeUnknownRun, "markup inside <%s> flattened", n.Name()))
	}
	return n.Text()
}

func (ps *parseState) list(n *xmlutil.Node, depth int) *ir.List {
	l := &ir.List{Ordered: n.Attr("ordered") == "true", Start: ps.number(n, "start")}
	for _, it := range n.Children() {
		if it.Name() != elItem {
			if it.Name() != elHint {
				ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<%s> in list ignored", it.Name()))
			}
			continue
		}
		item := ir.ListItem{}
		if t := it.Child(elText); t != nil {
			item.Text, _ = ps.text(t, false)
		}
		if sub := it.Child(string(ir.BlockList)); sub != nil {
			if depth+1 >= ps.limits.MaxDepth {
				ps.limit("lists nested deeper than %d flattened", ps.limits.MaxDepth)
				item.Text = append(item.Text, ir.TextRun{Text: " " + sub.Text()})
			} else {
				item.Sublist = ps.list(sub, depth+1)
			}
		}
		l.Items = append(l.Items, item)
	}
	return l
}

func (ps *parseState) table(n *xmlutil.Node) *ir.Table {
	t := &ir.Table{}
	for _, c := range n.Children() {
		switch c.Name() {
		case elCaption:
			t.Caption, _ = ps.text(c, false)
		case elHeader:
			t.Header = ps.cells(c)
		case elRow:
			t.Rows = append(t.Rows, ps.cells(c))
		case elHint:
		default:
			ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<%s> in table ignored", c.Name()))
		}
	}
	return t
}

func (ps *parseState) cells(n *xmlutil.Node) []ir.SemanticText {
	var out []ir.SemanticText
	for _, c := range n.Children() {
		if c.Name() != elCell {
			ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<%s> in table row ignored", c.Name()))
			continue
		}
		text, _ := ps.text(c, false)
		out = append(out, text)
	}
	return out
}

func (ps *parseState) bibliography(n *xmlutil.Node) {
	entries, err := n.XPath("entry")
	if err != nil {
		return
	}
	for _, en := range entries {
		id := en.Attr("id")
		if id == "" {
			ps.res.Unmapped(errors.Warnf(errors.CodeBibliographyParse, "bibliography entry without id skipped"))
			continue
		}
		e := &ir.BibliographyEntry{ID: id, Type: en.Attr("type")}
		for _, c := range en.Children() {
			switch c.Name() {
			case elField:
				e.Fields = append(e.Fields, ir.Field{Name: c.Attr("name"), Value: c.Text()})
			case elCrossRef:
				e.CrossRefs = append(e.CrossRefs, c.Text())
			}
		}
		ps.doc.Bibliography = append(ps.doc.Bibliography, e)
		ps.res.Mapped(1)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
