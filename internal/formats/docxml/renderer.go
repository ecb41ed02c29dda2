package docxml

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/encoding"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// Element names shared by the renderer, parser and validator.
const (
	elDocument    = "document"
	elMetadata    = "metadata"
	elSubject     = "subject"
	elFrontMatter = "front-matter"
	elBody        = "body"
	elBackMatter  = "back-matter"
	elTitle       = "title"
	elHint        = "hint"
	elFallback    = "fallback"
	elConditions  = "conditions"
	elItem        = "item"
	elText        = "text"
	elCaption     = "caption"
	elHeader      = "header"
	elRow         = "row"
	elCell        = "cell"
	elSource      = "source"
	elOriginal    = "original"
	elUnknown     = "unknown"
	elRun         = "run"
	elCite        = "cite"
	elEntry       = "entry"
	elField       = "field"
	elCrossRef    = "crossref"
	elBiblio      = "bibliography"
)

const declaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Renderer writes the canonical XML form. Output is deterministic: the same
// tree always yields the same bytes.
type Renderer struct {
	// Indent is the per-level indentation; empty means two spaces.
	Indent string
}

type writer struct {
	sb     strings.Builder
	res    *convert.RenderResult
	indent string
	depth  int
}

// Render implements convert.Renderer.
func (r *Renderer) Render(doc *ir.Document, opts convert.RenderOptions) *convert.RenderResult {
	start := time.Now()
	res := convert.NewRenderResult(FormatID)
	w := &writer{res: res, indent: r.Indent}
	if w.indent == "" {
		w.indent = "  "
	}
	if opts.Wrapper.IncludeWrapper {
		w.sb.WriteString(declaration)
	}
	w.document(doc, base.IncludeBibliography(doc, opts.Bibliography.Include))
	res.Content = w.sb.String()
	return res.Finish(doc, start)
}

func (w *writer) line(s string) {
	w.sb.WriteString(strings.Repeat(w.indent, w.depth))
	w.sb.WriteString(s)
	w.sb.WriteByte('\n')
}

func (w *writer) open(s string) {
	w.line(s)
	w.depth++
}

func (w *writer) close(name string) {
	w.depth--
	w.line("</" + name + ">")
}

// attrs is an ordered attribute list; empty values are omitted.
type attrs [][2]string

func (a attrs) String() string {
	var sb strings.Builder
	for _, kv := range a {
		if kv[1] == "" {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(kv[0])
		sb.WriteString(`="`)
		sb.WriteString(encoding.EscapeXMLAttr(encoding.XMLChars(kv[1])))
		sb.WriteString(`"`)
	}
	return sb.String()
}

func tag(name string, a attrs) string {
	return "<" + name + a.String() + ">"
}

func empty(name string, a attrs) string {
	return "<" + name + a.String() + "/>"
}

// leaf returns a complete element holding escaped text.
func leaf(name string, a attrs, text string) string {
	if text == "" {
		return empty(name, a)
	}
	return tag(name, a) + encoding.EscapeXMLContent(text) + "</" + name + ">"
}

func (w *writer) document(doc *ir.Document, bib bool) {
	w.open(tag(elDocument, attrs{{"version", doc.Version}, {"lang", doc.Language}, {"dir", string(doc.Direction)}}))
	w.metadata(doc.Metadata)
	if s := doc.Subject; s != nil {
		if len(s.Codes) == 0 {
			w.line(empty(elSubject, attrs{{"scheme", s.Scheme}, {"level", s.Level}}))
		} else {
			w.open(tag(elSubject, attrs{{"scheme", s.Scheme}, {"level", s.Level}}))
			for _, c := range s.Codes {
				w.line(leaf("code", nil, c))
			}
			w.close(elSubject)
		}
	}
	w.matter(elFrontMatter, doc.FrontMatter)
	w.matter(elBody, doc.Body)
	w.matter(elBackMatter, doc.BackMatter)
	if bib {
		w.bibliography(doc.Bibliography)
	}
	w.close(elDocument)
}

func (w *writer) metadata(m ir.Metadata) {
	if m.Title == "" && m.Date == "" && len(m.Authors) == 0 && len(m.Keywords) == 0 {
		return
	}
	w.open(tag(elMetadata, nil))
	if m.Title != "" {
		w.line(leaf(elTitle, nil, m.Title))
	}
	for _, a := range m.Authors {
		w.line(leaf("author", nil, a))
	}
	if m.Date != "" {
		w.line(leaf("date", nil, m.Date))
	}
	for _, k := range m.Keywords {
		w.line(leaf("keyword", nil, k))
	}
	w.close(elMetadata)
}

func (w *writer) matter(name string, m *ir.Matter) {
	switch {
	case m == nil:
		return
	case len(m.Children) == 0:
		w.line(empty(name, nil))
		return
	}
	w.open(tag(name, nil))
	w.nodes(m.Children)
	w.close(name)
}

func (w *writer) nodes(nodes ir.Nodes) {
	for _, n := range nodes {
		switch v := n.(type) {
		case *ir.Container:
			w.container(v)
		case *ir.Block:
			w.block(v)
		}
	}
}

func (w *writer) container(c *ir.Container) {
	name := string(c.Kind)
	if !c.Kind.IsValid() {
		w.res.Add(errors.Warnf(errors.CodeStructure, "container %s has kind %q; written as section", c.ID, c.Kind))
		name = string(ir.KindSection)
	}
	a := attrs{{"id", c.ID}, {"label", c.Label}}
	if len(c.Title) == 0 && len(c.Hints) == 0 && len(c.Children) == 0 {
		w.line(empty(name, a))
		return
	}
	w.open(tag(name, a))
	if len(c.Title) > 0 {
		w.line(tag(elTitle, nil) + w.text(c.Title) + "</" + elTitle + ">")
	}
	if len(c.Hints) > 0 {
		w.line(w.hints(c.Hints))
	}
	w.nodes(c.Children)
	w.close(name)
}

func blockAttrs(b *ir.Block, extra ...[2]string) attrs {
	a := attrs{{"id", b.ID}}
	a = append(a, extra...)
	return append(a, [2]string{"lang", b.Language}, [2]string{"dir", string(b.Direction)})
}

// inline writes an element whose content is hints followed by mixed text.
func (w *writer) inline(name string, a attrs, hints []ir.RenderingHint, t ir.SemanticText) {
	if len(hints) == 0 && len(t) == 0 {
		w.line(empty(name, a))
		return
	}
	w.line(tag(name, a) + w.hints(hints) + w.text(t) + "</" + name + ">")
}

func (w *writer) block(b *ir.Block) {
	switch p := b.Content.(type) {
	case *ir.Paragraph:
		w.inline(string(ir.BlockParagraph), blockAttrs(b), b.Hints, p.Text)
	case *ir.Heading:
		w.inline(string(ir.BlockHeading), blockAttrs(b, [2]string{"level", strconv.Itoa(p.Level)}), b.Hints, p.Text)
	case *ir.Quote:
		w.inline(string(ir.BlockQuote), blockAttrs(b, [2]string{"attribution", p.Attribution}), b.Hints, p.Text)
	case *ir.List:
		w.open(tag(string(ir.BlockList), blockAttrs(b, listAttrs(p)...)) + w.hints(b.Hints))
		w.items(p.Items)
		w.close(string(ir.BlockList))
	case *ir.Table:
		w.table(b, p)
	case *ir.Figure:
		a := blockAttrs(b, [2]string{"src", p.Source}, [2]string{"alt", p.Alt}, [2]string{"width", p.Width})
		if len(p.Caption) == 0 {
			w.inline(string(ir.BlockFigure), a, b.Hints, nil)
			return
		}
		w.open(tag(string(ir.BlockFigure), a) + w.hints(b.Hints))
		w.line(tag(elCaption, nil) + w.text(p.Caption) + "</" + elCaption + ">")
		w.close(string(ir.BlockFigure))
	case *ir.MathBlock:
		e := p.Expr
		w.open(tag(string(ir.BlockMath), blockAttrs(b, [2]string{"kind", string(e.Kind)}, [2]string{"env", e.Environment})) + w.hints(b.Hints))
		w.line(leaf(elSource, nil, e.Source))
		if e.Original != "" {
			w.line(leaf(elOriginal, nil, e.Original))
		}
		w.close(string(ir.BlockMath))
	case *ir.Code:
		w.line(tag(string(ir.BlockCode), blockAttrs(b, [2]string{"language", p.Language})) + w.hints(b.Hints) +
			encoding.EscapeXMLContent(p.Code) + "</" + string(ir.BlockCode) + ">")
	case *ir.Unknown:
		w.unknown(b, p.RawType, p.Raw)
	case nil:
		w.unknown(b, "", "")
	default:
		w.unknown(b, string(p.BlockType()), ir.BlockText(b))
	}
}

// unknown keeps the payload and precedes it with the diagnostic marker as a
// comment, which parsers skip.
func (w *writer) unknown(b *ir.Block, rawType, raw string) {
	marker := strings.ReplaceAll(encoding.XMLChars(base.UnsupportedMarker(ir.BlockType(rawType))), "--", "- -")
	w.line("<!-- " + marker + " -->")
	w.line(tag(elUnknown, blockAttrs(b, [2]string{"type", rawType})) + w.hints(b.Hints) +
		encoding.EscapeXMLContent(raw) + "</" + elUnknown + ">")
	w.res.Add(errors.Warnf(errors.CodeUnknownBlock, "block %s of type %q kept as raw payload", b.ID, rawType))
}

func listAttrs(l *ir.List) [][2]string {
	a := [][2]string{{"ordered", ""}, {"start", ""}}
	if l.Ordered {
		a[0][1] = "true"
	}
	if l.Start != 0 {
		a[1][1] = strconv.Itoa(l.Start)
	}
	return a
}

func (w *writer) items(items []ir.ListItem) {
	for _, it := range items {
		text := tag(elText, nil) + w.text(it.Text) + "</" + elText + ">"
		if it.Sublist == nil {
			w.line(tag(elItem, nil) + text + "</" + elItem + ">")
			continue
		}
		w.open(tag(elItem, nil) + text)
		w.open(tag(string(ir.BlockList), attrs(listAttrs(it.Sublist))))
		w.items(it.Sublist.Items)
		w.close(string(ir.BlockList))
		w.close(elItem)
	}
}

func (w *writer) table(b *ir.Block, t *ir.Table) {
	w.open(tag(string(ir.BlockTable), blockAttrs(b)) + w.hints(b.Hints))
	if len(t.Caption) > 0 {
		w.line(tag(elCaption, nil) + w.text(t.Caption) + "</" + elCaption + ">")
	}
	if len(t.Header) > 0 {
		w.line(tag(elHeader, nil) + w.cells(t.Header) + "</" + elHeader + ">")
	}
	for _, row := range t.Rows {
		w.line(tag(elRow, nil) + w.cells(row) + "</" + elRow + ">")
	}
	w.close(string(ir.BlockTable))
}

func (w *writer) cells(row []ir.SemanticText) string {
	var sb strings.Builder
	for _, c := range row {
		if len(c) == 0 {
			sb.WriteString(empty(elCell, nil))
			continue
		}
		sb.WriteString(tag(elCell, nil) + w.text(c) + "</" + elCell + ">")
	}
	return sb.String()
}

// text writes runs as mixed content.
func (w *writer) text(t ir.SemanticText) string {
	var sb strings.Builder
	for _, r := range t {
		switch v := r.(type) {
		case ir.TextRun:
			sb.WriteString(encoding.EscapeXMLContent(v.Text))
		case ir.StyledRun:
			if !v.Style.IsStyled() {
				sb.WriteString(leaf(elRun, attrs{{"tag", string(v.Style)}}, v.Text))
				continue
			}
			sb.WriteString(leaf(string(v.Style), nil, v.Text))
		case ir.RefRun:
			sb.WriteString(leaf(string(ir.RunCrossRef), attrs{{"target", v.Target}}, v.Display))
		case ir.CiteRun:
			c := v.Citation
			sb.WriteString(empty(elCite, attrs{
				{"key", c.Key}, {"command", c.Command}, {"prefix", c.Prefix}, {"suffix", c.Suffix}, {"locator", c.Locator},
			}))
		case ir.MathRun:
			sb.WriteString(leaf(string(ir.RunMath), nil, v.Source))
		case ir.IndexRun:
			sb.WriteString(empty(string(ir.RunIndex), attrs{{"term", v.Term}}))
		case ir.UnknownRun:
			sb.WriteString(leaf(elRun, attrs{{"tag", v.Tag}}, v.Text))
		default:
			sb.WriteString(leaf(elRun, attrs{{"tag", string(r.Kind())}}, r.Plain()))
		}
	}
	return sb.String()
}

func (w *writer) hints(hs []ir.RenderingHint) string {
	var sb strings.Builder
	for _, h := range hs {
		w.hint(&sb, elHint, h)
	}
	return sb.String()
}

func (w *writer) hint(sb *strings.Builder, name string, h ir.RenderingHint) {
	a := attrs{{"type", h.Type}}
	switch v := h.Value.(type) {
	case nil:
	case string:
		a = append(a, [2]string{"value", v})
	default:
		data, err := json.Marshal(v)
		if err != nil {
			w.res.Add(errors.Warnf(errors.CodeRenderFailure, "hint %q value dropped: %v", h.Type, err))
			break
		}
		a = append(a, [2]string{"json", string(data)})
	}
	if h.Priority != nil {
		a = append(a, [2]string{"priority", strconv.Itoa(*h.Priority)})
	}
	a = append(a, [2]string{"inheritance", string(h.Inheritance)})
	if h.Conditions == nil && h.Fallback == nil {
		sb.WriteString(empty(name, a))
		return
	}
	sb.WriteString(tag(name, a))
	if c := h.Conditions; c != nil {
		inner := ""
		for _, f := range c.Formats {
			inner += leaf("format", nil, f)
		}
		for _, p := range c.Preferences {
			inner += leaf("preference", nil, p)
		}
		if inner == "" {
			sb.WriteString(empty(elConditions, attrs{{"media", c.Media}}))
		} else {
			sb.WriteString(tag(elConditions, attrs{{"media", c.Media}}) + inner + "</" + elConditions + ">")
		}
	}
	if h.Fallback != nil {
		w.hint(sb, elFallback, *h.Fallback)
	}
	sb.WriteString("</" + name + ">")
}

func (w *writer) bibliography(entries []*ir.BibliographyEntry) {
	w.open(tag(elBiblio, nil))
	for _, e := range entries {
		if e == nil {
			continue
		}
		a := attrs{{"id", e.ID}, {"type", e.Type}}
		if len(e.Fields) == 0 && len(e.CrossRefs) == 0 {
			w.line(empty(elEntry, a))
			continue
		}
		w.open(tag(elEntry, a))
		for _, f := range e.Fields {
			w.line(leaf(elField, attrs{{"name", f.Name}}, f.Value))
		}
		for _, x := range e.CrossRefs {
			w.line(leaf(elCrossRef, nil, x))
		}
		w.close(elEntry)
	}
	w.close(elBiblio)
}
