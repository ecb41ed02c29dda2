package markdown

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/encoding"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/hints"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
	htmlfmt "github.com/FocuswithJustin/edudoc/internal/formats/html"
)

// Renderer converts a canonical document into Markdown.
//
// Containers become headings carrying {#id .kind} attributes, metadata goes
// to YAML front matter and blocks Markdown cannot express keep their
// payload in a fenced fallback. Container ends are implicit, so blocks
// following a nested container are read back into it.
type Renderer struct{}

const maxHeading = 6

var (
	idToken     = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_:.-]{0,127}$`)
	langToken   = regexp.MustCompile(`^[A-Za-z0-9_+#.-]{1,32}$`)
	orderedLead = regexp.MustCompile(`^(\d{1,9})([.)])`)
	cssLength   = regexp.MustCompile(`^\d*\.?\d+(%|px|pt|em|rem|cm|mm|in)$`)
	newlines    = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
	destEscaper = strings.NewReplacer(`\`, `\\`, "<", "%3C", ">", "%3E", "`", "%60", "&", `\&`, "\n", "%0A", "\r", "%0D")
	titleEscape = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", "&", `\&`, "\n", " ", "\r", " ")
	citeEscaper = strings.NewReplacer(";", `\;`)
)

type writer struct {
	sb    strings.Builder
	opts  convert.RenderOptions
	res   *convert.RenderResult
	hints *hints.Resolver

	// list is set while the previous block was a list, so a following list
	// gets a separator instead of merging into it.
	list bool

	// cell is set while rendering table cells, where a raw | ends the cell
	// even inside a code span.
	cell bool
}

// Render implements convert.Renderer.
func (r *Renderer) Render(doc *ir.Document, opts convert.RenderOptions) *convert.RenderResult {
	start := time.Now()
	res := convert.NewRenderResult(FormatID)
	w := &writer{
		opts:  opts,
		res:   res,
		hints: hints.NewResolver(opts.HintContext(FormatID)),
	}
	include := base.IncludeBibliography(doc, opts.Bibliography.Include)
	if opts.Wrapper.IncludeWrapper {
		w.frontMatter(doc, include)
	}
	w.document(doc, include)
	res.Content = strings.TrimRight(w.sb.String(), "\n") + "\n"
	return res.Finish(doc, start)
}

func (w *writer) frontMatter(doc *ir.Document, references bool) {
	fm, err := newFrontMatter(doc, references)
	if err == nil && fm.empty() {
		return
	}
	var out string
	if err == nil {
		out, err = fm.encode()
	}
	if err != nil {
		w.res.Add(errors.Warnf(errors.CodeMalformed, "front matter omitted: %v", err))
		return
	}
	w.sb.WriteString(out)
}

func (w *writer) document(doc *ir.Document, bibliography bool) {
	if doc.FrontMatter.Len() > 0 {
		w.marker("<!-- front-matter -->")
		w.nodes(doc.FrontMatter.Children, 0, nil)
		w.marker("<!-- body -->")
	}
	if doc.Body != nil {
		w.nodes(doc.Body.Children, 0, nil)
	}
	if doc.BackMatter.Len() > 0 {
		w.marker("<!-- back-matter -->")
		w.nodes(doc.BackMatter.Children, 0, nil)
	}
	if bibliography {
		w.bibliography(doc)
	}
}

func (w *writer) marker(m string) {
	w.sb.WriteString(m + "\n\n")
	w.list = false
}

func (w *writer) nodes(nodes ir.Nodes, depth int, inherited []ir.RenderingHint) {
	for _, n := range nodes {
		switch v := n.(type) {
		case *ir.Container:
			w.container(v, depth, inherited)
		case *ir.Block:
			w.block(v, depth, inherited)
		}
	}
}

// attrs builds a heading attribute block.
func (w *writer) attrs(id string, resolved []ir.RenderingHint, class ...string) string {
	var parts []string
	if idToken.MatchString(id) {
		parts = append(parts, "#"+id)
	}
	if v, ok := hints.String(resolved, ir.HintCSSClass); ok {
		for _, c := range strings.Fields(v) {
			if classToken.MatchString(c) && !reservedClasses[c] && !ir.ContainerKind(c).IsValid() {
				class = append(class, c)
			} else {
				w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "css class %q dropped", c))
			}
		}
	}
	for _, c := range class {
		parts = append(parts, "."+c)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func (w *writer) container(c *ir.Container, depth int, inherited []ir.RenderingHint) {
	resolved := w.hints.Resolve(inherited, c.Hints)
	kind := c.Kind
	if !kind.IsValid() {
		kind = ir.KindSection
	}
	attrs := w.attrs(c.ID, resolved, string(kind))
	if c.Label != "" {
		attrs = strings.TrimSuffix(attrs, "}") + ` label="` + attrEscape(c.Label) + `"}`
	}
	level := w.opts.HeaderLevel(depth+1, maxHeading)
	w.heading(level, c.Title, attrs)
	w.nodes(c.Children, depth+1, hints.Inherit(inherited, c.Hints))
}

func (w *writer) heading(level int, title ir.SemanticText, attrs string) {
	line := strings.Repeat("#", level)
	if t := w.runs(title, true); t != "" {
		line += " " + t
	}
	w.sb.WriteString(line + " " + attrs + "\n\n")
	w.list = false
}

// attrEscape quotes an attribute value. An unescaped { would be taken as
// the start of the attribute block and a backtick as a code span opener.
func attrEscape(s string) string {
	return attrEscaper.Replace(s)
}

var attrEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "{", `\{`, "`", "\\`", "\n", `\n`, "\r", `\r`, "\t", `\t`)

func (w *writer) block(b *ir.Block, depth int, inherited []ir.RenderingHint) {
	wasList := w.list
	w.list = false
	switch p := b.Content.(type) {
	case *ir.Paragraph:
		w.para(leadEscape(w.runs(p.Text, false)))
	case *ir.Heading:
		resolved := w.hints.Resolve(inherited, b.Hints)
		level := w.opts.HeaderLevel(max(depth+1, p.Level), maxHeading)
		attrs := w.attrs(b.ID, resolved, "heading")
		if p.Level > 0 && p.Level != level {
			attrs = strings.TrimSuffix(attrs, "}") + " level=" + strconv.Itoa(p.Level) + "}"
		}
		w.heading(level, p.Text, attrs)
	case *ir.List:
		if wasList {
			w.sb.WriteString("<!-- -->\n\n")
		}
		w.listItems(p, "")
		w.sb.WriteString("\n")
		w.list = true
	case *ir.Table:
		w.table(p)
	case *ir.Figure:
		w.figure(p)
	case *ir.MathBlock:
		w.mathBlock(p.Expr)
	case *ir.Code:
		lang := p.Language
		if lang != "" && (!langToken.MatchString(lang) || strings.HasPrefix(lang, "unsupported")) {
			w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "code language %q dropped", lang))
			lang = ""
		}
		w.fence(p.Code, lang, '`')
	case *ir.Quote:
		w.sb.WriteString("> " + leadEscape(w.runs(p.Text, false)) + "\n")
		if p.Attribution != "" {
			w.sb.WriteString(">\n> — " + w.text(p.Attribution) + "\n")
		}
		w.sb.WriteString("\n")
	default:
		w.unknown(b)
	}
}

func (w *writer) para(s string) {
	if s == "" {
		return
	}
	w.sb.WriteString(s + "\n\n")
}

// leadEscape escapes a line start that would open a block construct.
func leadEscape(s string) string {
	s = strings.TrimLeft(s, " \t")
	switch {
	case s == "":
		return s
	case s[0] == '-' || s[0] == '+' || s[0] == '=':
		return `\` + s
	case strings.HasPrefix(s, "Table:"):
		return `Table\:` + s[len("Table:"):]
	}
	if m := orderedLead.FindStringSubmatch(s); m != nil {
		return m[1] + `\` + s[len(m[1]):]
	}
	return s
}

func (w *writer) listItems(l *ir.List, indent string) {
	n := l.Start
	if n < 0 || n > 999999999 {
		n = 1
	}
	if n == 0 {
		n = 1
	}
	items := l.Items
	if len(items) == 0 {
		items = []ir.ListItem{{}}
	}
	for i, it := range items {
		marker := "-"
		if l.Ordered {
			marker = strconv.Itoa(n+i) + "."
		}
		line := indent + marker
		if t := leadEscape(w.runs(it.Text, false)); t != "" {
			line += " " + t
		}
		w.sb.WriteString(line + "\n")
		if it.Sublist != nil {
			w.listItems(it.Sublist, indent+strings.Repeat(" ", len(marker)+1))
		}
	}
}

func (w *writer) table(t *ir.Table) {
	cols := len(t.Header)
	for _, row := range t.Rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		w.res.Add(errors.Warnf(errors.CodeMalformed, "table without cells omitted"))
		return
	}
	row := func(cells []ir.SemanticText) {
		w.sb.WriteString("|")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				w.cell = true
				cell = w.runs(cells[i], false)
				w.cell = false
			}
			w.sb.WriteString(" " + cell + " |")
		}
		w.sb.WriteString("\n")
	}
	row(t.Header)
	w.sb.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
	for _, r := range t.Rows {
		row(r)
	}
	w.sb.WriteString("\n")
	if !t.Caption.IsEmpty() {
		w.para("Table: " + w.runs(t.Caption, false))
	}
}

func (w *writer) figure(f *ir.Figure) {
	src := f.Source
	if !htmlfmt.SafeURL(src, true) {
		w.res.Add(errors.Warnf(errors.CodeUnsafeURL, "figure source %q dropped", src))
		src = ""
	}
	out := "![" + w.runs(f.Caption, false) + "](" + destination(src)
	if f.Alt != "" {
		out += ` "` + titleEscape.Replace(f.Alt) + `"`
	}
	out += ")"
	if f.Width != "" {
		if cssLength.MatchString(f.Width) {
			out += "{width=" + f.Width + "}"
		} else {
			w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "figure width %q dropped", f.Width))
		}
	}
	w.para(out)
}

func destination(d string) string {
	return "<" + destEscaper.Replace(d) + ">"
}

// safeMath reports whether e may be emitted as math. Other expressions are
// shown as code.
func (w *writer) safeMath(e ir.MathExpression) bool {
	if issues := mathproc.Unsafe(e.Source); len(issues) > 0 {
		w.res.Add(errors.Warnf(errors.CodeUnsafeMath, "math with %s rendered as code", issues[0].Message))
		return false
	}
	return true
}

func (w *writer) mathBlock(e ir.MathExpression) {
	if e.Kind == ir.MathInline || !e.Kind.IsValid() {
		e.Kind = ir.MathDisplay
	}
	if !w.safeMath(e) {
		w.fence(mathproc.Markup(e), "tex", '`')
		return
	}
	if e.Kind == ir.MathEnvironment {
		w.para(mathproc.Markup(e))
		return
	}
	w.para("$$\n" + e.Source + "\n$$")
}

func (w *writer) inlineMath(src, next string) string {
	e := ir.MathExpression{Kind: ir.MathInline, Source: src}
	if !w.safeMath(e) {
		return w.code(mathproc.Markup(e))
	}
	if src == "" || strings.ContainsAny(src, "$\n") || strings.TrimSpace(src) != src ||
		(next != "" && isDigit(next[0])) {
		return `\(` + src + `\)`
	}
	return "$" + src + "$"
}

// fence writes a fenced block longer than any run of the fence character
// inside it.
func (w *writer) fence(code, info string, c byte) {
	f := strings.Repeat(string(c), max(3, longestRun(code, c)+1))
	w.sb.WriteString(f + info + "\n")
	if code != "" {
		w.sb.WriteString(code + "\n")
	}
	w.sb.WriteString(f + "\n\n")
}

func longestRun(s string, c byte) int {
	best, n := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			n++
			best = max(best, n)
		} else {
			n = 0
		}
	}
	return best
}

func (w *writer) unknown(b *ir.Block) {
	t := b.Type()
	w.res.Add(errors.Warnf(errors.CodeUnknownBlock, "block %s of type %q rendered as fallback", b.ID, t))
	w.para("**" + w.text(base.UnsupportedMarker(t)) + "**")
	info := strings.Join(strings.Fields(string(t)), "-")
	if info == "" {
		info = "unknown"
	}
	w.fence(base.FallbackText(b), "unsupported "+info, '~')
}

func (w *writer) text(s string) string {
	return encoding.EscapeMarkdown(newlines.Replace(s))
}

// runs renders semantic text. Heading text also escapes braces, which
// would otherwise open an attribute block.
func (w *writer) runs(t ir.SemanticText, heading bool) string {
	var sb strings.Builder
	text := func(s string) string {
		out := w.text(s)
		if heading {
			out = strings.ReplaceAll(out, "{", `\{`)
		}
		return out
	}
	for i := 0; i < len(t); i++ {
		next := ""
		if i+1 < len(t) {
			next = t[i+1].Plain()
		}
		switch v := t[i].(type) {
		case ir.TextRun:
			sb.WriteString(text(v.Text))
		case ir.StyledRun:
			sb.WriteString(w.styled(v, text))
		case ir.RefRun:
			sb.WriteString(w.ref(v, text))
		case ir.CiteRun:
			j := i
			var group []ir.Citation
			for ; j < len(t); j++ {
				c, ok := t[j].(ir.CiteRun)
				if !ok {
					break
				}
				group = append(group, c.Citation)
			}
			next = ""
			if j < len(t) {
				next = t[j].Plain()
			}
			sb.WriteString(w.cites(group, lastByte(&sb), next))
			i = j - 1
		case ir.MathRun:
			sb.WriteString(w.inlineMath(v.Source, next))
		case ir.IndexRun:
		case ir.UnknownRun:
			w.res.Add(errors.Warnf(errors.CodeUnknownRun, "run %q rendered as text", v.Tag))
			sb.WriteString(text(v.Text))
		default:
			sb.WriteString(text(t[i].Plain()))
		}
	}
	return sb.String()
}

func lastByte(sb *strings.Builder) byte {
	s := sb.String()
	if s == "" {
		return 0
	}
	return s[len(s)-1]
}

var styleMarks = map[ir.RunKind][2]string{
	ir.RunEmphasis:      {"*", "*"},
	ir.RunStrong:        {"**", "**"},
	ir.RunStrikethrough: {"~~", "~~"},
	ir.RunSubscript:     {"<sub>", "</sub>"},
	ir.RunSuperscript:   {"<sup>", "</sup>"},
	ir.RunUnderline:     {"<u>", "</u>"},
}

func (w *writer) styled(v ir.StyledRun, text func(string) string) string {
	if v.Style == ir.RunCode {
		return w.code(v.Text)
	}
	marks, ok := styleMarks[v.Style]
	inner := strings.TrimSpace(v.Text)
	if !ok || inner == "" {
		return text(v.Text)
	}
	lead := v.Text[:len(v.Text)-len(strings.TrimLeft(v.Text, " \t\n"))]
	trail := v.Text[len(strings.TrimRight(v.Text, " \t\n")):]
	return text(lead) + marks[0] + text(inner) + marks[1] + text(trail)
}

func (w *writer) code(s string) string {
	out := codeSpan(s)
	if w.cell {
		out = strings.ReplaceAll(out, "|", `\|`)
	}
	return out
}

func codeSpan(s string) string {
	s = newlines.Replace(s)
	if s == "" {
		return ""
	}
	fence := strings.Repeat("`", longestRun(s, '`')+1)
	pad := ""
	if s[0] == '`' || s[len(s)-1] == '`' || (s[0] == ' ' && s[len(s)-1] == ' ' && strings.TrimSpace(s) != "") {
		pad = " "
	}
	return fence + pad + s + pad + fence
}

func (w *writer) ref(v ir.RefRun, text func(string) string) string {
	display := text(v.Plain())
	target := strings.TrimSpace(v.Target)
	switch {
	case target == "":
		return display
	case base.IsExternal(target) || strings.Contains(target, "/"):
		if !htmlfmt.SafeURL(target, false) {
			w.res.Add(errors.Warnf(errors.CodeUnsafeURL, "link target %q rendered as text", v.Target))
			return display
		}
		return "[" + display + "](" + destination(target) + ")"
	}
	return "[" + display + "](" + destination("#"+strings.TrimPrefix(target, "#")) + ")"
}

// textualCommands are citation commands that name the author in the text.
var textualCommands = map[string]bool{"citet": true, "textcite": true, "Citet": true, "Textcite": true}

// cites renders a run of adjacent citations as one pandoc group. A lone
// textual citation without notes is written bare when it cannot run into
// the surrounding text.
func (w *writer) cites(group []ir.Citation, prev byte, next string) string {
	var parts []string
	var invalid strings.Builder
	for _, c := range group {
		if err := biblio.CheckKey(c.Key); err != nil {
			w.res.Add(errors.Warnf(errors.CodeInvalidKey, "citation key %q rendered as text", c.Key))
			invalid.WriteString(w.text("[" + c.Key + "]"))
			continue
		}
		key := c.Key
		if last := key[len(key)-1]; last == ':' || last == '-' {
			key = "{" + key + "}"
		}
		if len(group) == 1 && textualCommands[c.Command] && c.Prefix == "" && biblio.Postnote(c) == "" &&
			(prev == 0 || prev == ' ' || prev == '(') && (next == "" || !isKeyByte(next[0])) {
			return "@" + key
		}
		part := "@" + key
		if c.Command == "citeyear" || c.Command == "citeyearpar" {
			part = "-" + part
		}
		if c.Prefix != "" {
			part = citeEscaper.Replace(w.text(c.Prefix)) + " " + part
		}
		if post := biblio.Postnote(c); post != "" {
			part += ", " + citeEscaper.Replace(w.text(post))
		}
		parts = append(parts, part)
	}
	out := invalid.String()
	if len(parts) > 0 {
		out = "[" + strings.Join(parts, "; ") + "]" + out
	}
	return out
}

// bibliography writes a readable reference list. Entries travel in front
// matter; the list is read back only when front matter has none.
func (w *writer) bibliography(doc *ir.Document) {
	level := w.opts.HeaderLevel(1, maxHeading)
	w.sb.WriteString(strings.Repeat("#", level) + " References {#bibliography .bibliography}\n\n")
	for _, e := range doc.Bibliography {
		if e == nil {
			continue
		}
		w.sb.WriteString("- " + w.text("["+e.ID+"]"))
		if ref := biblio.FormatReference(e); ref != "" {
			w.sb.WriteString(" " + w.text(ref))
		}
		w.sb.WriteString("\n")
	}
	w.sb.WriteString("\n")
}
