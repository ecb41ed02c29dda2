package html

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
)

// Renderer converts a canonical document into HTML5. Text and attribute
// values are escaped on every emission path; URLs and style values are
// checked against allow-lists before they are written.
type Renderer struct{}

const maxHeading = 6

var langPattern = regexp.MustCompile(`^[A-Za-z]{1,8}(-[A-Za-z0-9]{1,8})*$`)

type writer struct {
	sb    strings.Builder
	opts  convert.RenderOptions
	res   *convert.RenderResult
	hints *hints.Resolver

	entries   map[string]*ir.BibliographyEntry
	positions map[string]int
	math      bool
}

// Render implements convert.Renderer.
func (r *Renderer) Render(doc *ir.Document, opts convert.RenderOptions) *convert.RenderResult {
	start := time.Now()
	res := convert.NewRenderResult(FormatID)
	w := &writer{
		opts:      opts,
		res:       res,
		hints:     hints.NewResolver(opts.HintContext(FormatID)),
		entries:   make(map[string]*ir.BibliographyEntry),
		positions: make(map[string]int),
	}
	for i, e := range doc.Bibliography {
		if e != nil {
			w.entries[e.ID] = e
			w.positions[e.ID] = i + 1
		}
	}

	w.document(doc)
	body := w.sb.String()
	if opts.Wrapper.IncludeWrapper {
		body = w.wrap(doc, body)
	}
	res.Content = body
	return res.Finish(doc, start)
}

func (w *writer) document(doc *ir.Document) {
	if doc.FrontMatter.Len() > 0 {
		w.sb.WriteString("<div class=\"front-matter\">\n")
		w.nodes(doc.FrontMatter.Children, 0, nil)
		w.sb.WriteString("</div>\n")
	}
	if w.opts.Wrapper.IncludeWrapper {
		w.sb.WriteString("<main>\n")
	}
	if doc.Body != nil {
		w.nodes(doc.Body.Children, 0, nil)
	}
	if w.opts.Wrapper.IncludeWrapper {
		w.sb.WriteString("</main>\n")
	}
	if doc.BackMatter.Len() > 0 {
		w.sb.WriteString("<div class=\"back-matter\">\n")
		w.nodes(doc.BackMatter.Children, 0, nil)
		w.sb.WriteString("</div>\n")
	}
	if base.IncludeBibliography(doc, w.opts.Bibliography.Include) {
		w.bibliography(doc)
	}
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

// attrs writes the id, class and style attributes of an element. Hints
// contribute classes and declarations; values that fail validation are
// dropped with a warning.
func (w *writer) attrs(id string, resolved []ir.RenderingHint, class ...string) string {
	var style []string
	for _, h := range resolved {
		v, ok := hints.String([]ir.RenderingHint{h}, h.Type)
		if !ok {
			continue
		}
		switch h.Type {
		case ir.HintCSSClass:
			for _, c := range strings.Fields(v) {
				if classToken.MatchString(c) && !reservedClasses[c] {
					class = append(class, c)
				} else {
					w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "css class %q dropped", c))
				}
			}
			continue
		case ir.HintPageBreak:
			switch v {
			case "before", "after":
				style = append(style, "break-"+v+": page")
			case "both":
				style = append(style, "break-before: page", "break-after: page")
			}
			continue
		}
		prop := map[string]string{
			ir.HintAlignment: "text-align",
			ir.HintFontSize:  "font-size",
			ir.HintColor:     "color",
			ir.HintWidth:     "width",
		}[h.Type]
		if prop == "" {
			continue
		}
		if val, ok := styleHint(h.Type, v); ok {
			style = append(style, prop+": "+val)
		} else {
			w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "%s hint %q dropped", h.Type, v))
		}
	}

	var sb strings.Builder
	if id != "" {
		sb.WriteString(` id="` + encoding.EscapeHTML(id) + `"`)
	}
	if len(class) > 0 {
		sb.WriteString(` class="` + encoding.EscapeHTML(strings.Join(class, " ")) + `"`)
	}
	if len(style) > 0 {
		sb.WriteString(` style="` + encoding.EscapeHTML(strings.Join(style, "; ")) + `"`)
	}
	return sb.String()
}

func langAttrs(lang string, dir ir.Direction) string {
	var sb strings.Builder
	if langPattern.MatchString(lang) {
		sb.WriteString(` lang="` + lang + `"`)
	}
	if dir != "" && dir.IsValid() {
		sb.WriteString(` dir="` + string(dir) + `"`)
	}
	return sb.String()
}

func (w *writer) container(c *ir.Container, depth int, inherited []ir.RenderingHint) {
	resolved := w.hints.Resolve(inherited, c.Hints)
	kind := c.Kind
	if !kind.IsValid() {
		kind = ir.KindSection
	}
	w.sb.WriteString("<section" + w.attrs(c.ID, resolved, string(kind)))
	if c.Label != "" {
		w.sb.WriteString(` data-label="` + encoding.EscapeHTML(c.Label) + `"`)
	}
	w.sb.WriteString(">\n")
	if !c.Title.IsEmpty() {
		tag := "h" + strconv.Itoa(w.opts.HeaderLevel(depth+1, maxHeading))
		w.sb.WriteString("<" + tag + ">" + w.runs(c.Title) + "</" + tag + ">\n")
	}
	w.nodes(c.Children, depth+1, hints.Inherit(inherited, c.Hints))
	w.sb.WriteString("</section>\n")
}

func (w *writer) block(b *ir.Block, depth int, inherited []ir.RenderingHint) {
	resolved := w.hints.Resolve(inherited, b.Hints)
	open := func(tag string, class ...string) {
		w.sb.WriteString("<" + tag + w.attrs(b.ID, resolved, class...) + langAttrs(b.Language, b.Direction))
	}

	switch p := b.Content.(type) {
	case *ir.Paragraph:
		open("p")
		w.sb.WriteString(">" + w.runs(p.Text) + "</p>\n")
	case *ir.Heading:
		tag := "h" + strconv.Itoa(w.opts.HeaderLevel(max(depth+1, p.Level), maxHeading))
		open(tag, "heading")
		w.sb.WriteString(` data-level="` + strconv.Itoa(max(p.Level, 1)) + `">` + w.runs(p.Text) + "</" + tag + ">\n")
	case *ir.List:
		w.list(p, func(tag string) { open(tag) }, 0)
	case *ir.Table:
		open("table")
		w.sb.WriteString(">\n")
		w.table(p)
	case *ir.Figure:
		open("figure")
		w.sb.WriteString(">\n")
		w.figure(p)
	case *ir.MathBlock:
		w.mathBlock(p.Expr, open)
	case *ir.Code:
		open("pre")
		w.sb.WriteString("><code")
		if p.Language != "" {
			if classToken.MatchString("language-" + p.Language) {
				w.sb.WriteString(` class="language-` + p.Language + `"`)
			} else {
				w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "code language %q dropped", p.Language))
			}
		}
		w.sb.WriteString(">" + encoding.EscapeHTML(p.Code) + "</code></pre>\n")
	case *ir.Quote:
		open("blockquote")
		w.sb.WriteString(">\n<p>" + w.runs(p.Text) + "</p>\n")
		if p.Attribution != "" {
			w.sb.WriteString("<footer class=\"attribution\">— " + encoding.EscapeHTML(p.Attribution) + "</footer>\n")
		}
		w.sb.WriteString("</blockquote>\n")
	default:
		w.unknown(b, open)
	}
}

func (w *writer) list(l *ir.List, open func(string), depth int) {
	tag := "ul"
	if l.Ordered {
		tag = "ol"
	}
	if open != nil {
		open(tag)
	} else {
		w.sb.WriteString("<" + tag)
	}
	if l.Ordered && l.Start != 0 && l.Start != 1 {
		w.sb.WriteString(` start="` + strconv.Itoa(l.Start) + `"`)
	}
	w.sb.WriteString(">\n")
	for _, it := range l.Items {
		w.sb.WriteString("<li>" + w.runs(it.Text))
		if it.Sublist != nil {
			w.sb.WriteString("\n")
			w.list(it.Sublist, nil, depth+1)
		}
		w.sb.WriteString("</li>\n")
	}
	w.sb.WriteString("</" + tag + ">\n")
}

func (w *writer) table(t *ir.Table) {
	if !t.Caption.IsEmpty() {
		w.sb.WriteString("<caption>" + w.runs(t.Caption) + "</caption>\n")
	}
	if len(t.Header) > 0 {
		w.sb.WriteString("<thead>\n<tr>")
		for _, c := range t.Header {
			w.sb.WriteString("<th>" + w.runs(c) + "</th>")
		}
		w.sb.WriteString("</tr>\n</thead>\n")
	}
	w.sb.WriteString("<tbody>\n")
	for _, row := range t.Rows {
		w.sb.WriteString("<tr>")
		for _, c := range row {
			w.sb.WriteString("<td>" + w.runs(c) + "</td>")
		}
		w.sb.WriteString("</tr>\n")
	}
	w.sb.WriteString("</tbody>\n</table>\n")
}

func (w *writer) figure(f *ir.Figure) {
	w.sb.WriteString("<img")
	if SafeURL(f.Source, true) {
		w.sb.WriteString(` src="` + encoding.EscapeHTML(f.Source) + `"`)
	} else {
		w.res.Add(errors.Warnf(errors.CodeUnsafeURL, "figure source %q dropped", f.Source))
	}
	w.sb.WriteString(` alt="` + encoding.EscapeHTML(f.Alt) + `"`)
	if f.Width != "" {
		if cssLength.MatchString(f.Width) {
			w.sb.WriteString(` style="width: ` + f.Width + `"`)
		} else {
			w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "figure width %q dropped", f.Width))
		}
	}
	w.sb.WriteString(">\n")
	if !f.Caption.IsEmpty() {
		w.sb.WriteString("<figcaption>" + w.runs(f.Caption) + "</figcaption>\n")
	}
	w.sb.WriteString("</figure>\n")
}

// mathContent returns the body of a math element and whether the TeX
// source must be kept in an attribute.
func (w *writer) mathContent(e ir.MathExpression) (string, bool) {
	markup := mathproc.Markup(e)
	if w.opts.Math.Renderer == convert.MathML {
		if ml, err := mathproc.MathML(e); err == nil && !hasActiveContent(ml) {
			return ml, true
		} else if err != nil {
			w.res.Add(errors.Warnf(errors.CodeMissingRenderer, "MathML conversion failed, TeX source kept: %v", err))
		}
	}
	w.math = true
	return encoding.EscapeHTML(markup), w.opts.Math.PreserveSource
}

// safeMath reports whether e may be handed to a math renderer. Other
// expressions are shown as code, which renderers leave alone.
func (w *writer) safeMath(e ir.MathExpression) bool {
	if issues := mathproc.Unsafe(e.Source); len(issues) > 0 {
		w.res.Add(errors.Warnf(errors.CodeUnsafeMath, "math with %s rendered as code", issues[0].Message))
		return false
	}
	return true
}

func (w *writer) mathBlock(e ir.MathExpression, open func(string, ...string)) {
	kind := "display"
	if e.Kind == ir.MathEnvironment {
		kind = "environment"
	}
	if e.Kind == ir.MathInline {
		e.Kind = ir.MathDisplay
	}
	if !w.safeMath(e) {
		open("pre")
		w.sb.WriteString(`><code class="math-source">` + encoding.EscapeHTML(mathproc.Markup(e)) + "</code></pre>\n")
		return
	}
	body, keep := w.mathContent(e)
	open("div", "math", kind)
	if keep {
		w.sb.WriteString(` data-tex="` + encoding.EscapeHTML(mathproc.Markup(e)) + `"`)
	}
	w.sb.WriteString(">" + body + "</div>\n")
}

func (w *writer) inlineMath(src string) string {
	e := ir.MathExpression{Kind: ir.MathInline, Source: src}
	if !w.safeMath(e) {
		return `<code class="math-source">` + encoding.EscapeHTML(mathproc.Markup(e)) + "</code>"
	}
	body, keep := w.mathContent(e)
	out := `<span class="math inline"`
	if keep {
		out += ` data-tex="` + encoding.EscapeHTML(mathproc.Markup(e)) + `"`
	}
	return out + ">" + body + "</span>"
}

func (w *writer) unknown(b *ir.Block, open func(string, ...string)) {
	t := b.Type()
	w.res.Add(errors.Warnf(errors.CodeUnknownBlock, "block %s of type %q rendered as fallback", b.ID, t))
	open("div", "unsupported")
	w.sb.WriteString(` data-type="` + encoding.EscapeHTML(string(t)) + `">` + "\n")
	w.sb.WriteString("<p><strong>" + encoding.EscapeHTML(base.UnsupportedMarker(t)) + "</strong></p>\n")
	if raw := base.FallbackText(b); raw != "" {
		w.sb.WriteString("<pre>" + encoding.EscapeHTML(raw) + "</pre>\n")
	}
	w.sb.WriteString("</div>\n")
}

var styleTags = map[ir.RunKind]string{
	ir.RunEmphasis:      "em",
	ir.RunStrong:        "strong",
	ir.RunCode:          "code",
	ir.RunSubscript:     "sub",
	ir.RunSuperscript:   "sup",
	ir.RunStrikethrough: "s",
	ir.RunUnderline:     "u",
}

// runs renders semantic text.
func (w *writer) runs(t ir.SemanticText) string {
	var sb strings.Builder
	for _, r := range t {
		switch v := r.(type) {
		case ir.TextRun:
			sb.WriteString(encoding.EscapeHTML(v.Text))
		case ir.StyledRun:
			tag, ok := styleTags[v.Style]
			if !ok {
				sb.WriteString(encoding.EscapeHTML(v.Text))
				continue
			}
			sb.WriteString("<" + tag + ">" + encoding.EscapeHTML(v.Text) + "</" + tag + ">")
		case ir.RefRun:
			sb.WriteString(w.ref(v))
		case ir.CiteRun:
			sb.WriteString(w.cite(v.Citation))
		case ir.MathRun:
			sb.WriteString(w.inlineMath(v.Source))
		case ir.IndexRun:
			sb.WriteString(`<span class="index" data-term="` + encoding.EscapeHTML(v.Term) + `"></span>`)
		case ir.UnknownRun:
			sb.WriteString(`<span class="unknown-run" data-tag="` + encoding.EscapeHTML(v.Tag) + `">` +
				encoding.EscapeHTML(v.Text) + "</span>")
		default:
			sb.WriteString(encoding.EscapeHTML(r.Plain()))
		}
	}
	return sb.String()
}

func (w *writer) ref(v ir.RefRun) string {
	text := encoding.EscapeHTML(v.Plain())
	target := strings.TrimSpace(v.Target)
	switch {
	case target == "":
		return text
	case base.IsExternal(target):
		if !SafeURL(target, false) {
			w.res.Add(errors.Warnf(errors.CodeUnsafeURL, "link target %q rendered as text", v.Target))
			return text
		}
		return `<a href="` + encoding.EscapeHTML(target) + `">` + text + "</a>"
	case strings.Contains(target, "/"):
		return `<a href="` + encoding.EscapeHTML(target) + `">` + text + "</a>"
	}
	return `<a class="xref" href="#` + encoding.EscapeHTML(strings.TrimPrefix(target, "#")) + `">` + text + "</a>"
}

func (w *writer) cite(c ir.Citation) string {
	if err := biblio.CheckKey(c.Key); err != nil {
		w.res.Add(errors.Warnf(errors.CodeInvalidKey, "citation key %q rendered as text", c.Key))
		return encoding.EscapeHTML("[" + c.Key + "]")
	}
	style := w.opts.Bibliography.Style
	label := c.Key
	if e, ok := w.entries[c.Key]; ok {
		label = biblio.Label(e, style, w.positions[c.Key])
	}
	if c.Prefix != "" {
		label = c.Prefix + " " + label
	}
	if post := biblio.Postnote(c); post != "" {
		label += ", " + post
	}
	if style == ir.StyleAuthorYear {
		label = "(" + label + ")"
	} else {
		label = "[" + label + "]"
	}

	var sb strings.Builder
	key := encoding.EscapeHTML(c.Key)
	sb.WriteString(`<a class="citation" href="#bib-` + key + `" data-key="` + key + `"`)
	for _, a := range [][2]string{
		{"data-command", c.Command}, {"data-prefix", c.Prefix},
		{"data-suffix", c.Suffix}, {"data-locator", c.Locator},
	} {
		if a[1] != "" {
			sb.WriteString(` ` + a[0] + `="` + encoding.EscapeHTML(a[1]) + `"`)
		}
	}
	sb.WriteString(">" + encoding.EscapeHTML(label) + "</a>")
	return sb.String()
}

// bibliography writes one list item per entry with one span per field, so
// every field survives a round trip in order.
func (w *writer) bibliography(doc *ir.Document) {
	w.sb.WriteString("<section class=\"bibliography\" id=\"bibliography\">\n<h2>References</h2>\n<ol class=\"references\">\n")
	for i, e := range doc.Bibliography {
		if e == nil {
			continue
		}
		w.sb.WriteString("<li")
		if biblio.ValidKey(e.ID) {
			w.sb.WriteString(` id="bib-` + e.ID + `"`)
		}
		w.sb.WriteString(` data-key="` + encoding.EscapeHTML(e.ID) + `" data-type="` + encoding.EscapeHTML(e.Type) + `"`)
		if len(e.CrossRefs) > 0 {
			w.sb.WriteString(` data-crossref="` + encoding.EscapeHTML(strings.Join(e.CrossRefs, " ")) + `"`)
		}
		label := biblio.Label(e, w.opts.Bibliography.Style, i+1)
		w.sb.WriteString(`><span class="label">[` + encoding.EscapeHTML(label) + `]</span>`)
		for j, f := range e.Fields {
			if j > 0 {
				w.sb.WriteString(",")
			}
			w.sb.WriteString(` <span class="field" data-field="` + encoding.EscapeHTML(f.Name) + `">` +
				encoding.EscapeHTML(f.Value) + "</span>")
		}
		w.sb.WriteString("</li>\n")
	}
	w.sb.WriteString("</ol>\n</section>\n")
}

func (w *writer) wrap(doc *ir.Document, body string) string {
	var sb strings.Builder
	md := doc.Metadata
	sb.WriteString("<!DOCTYPE html>\n<html" + langAttrs(doc.Language, doc.Direction) + ">\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	sb.WriteString("<title>" + encoding.EscapeHTML(md.Title) + "</title>\n")
	meta := func(name, content string) {
		sb.WriteString(`<meta name="` + name + `" content="` + encoding.EscapeHTML(content) + "\">\n")
	}
	for _, a := range md.Authors {
		meta("author", a)
	}
	if md.Date != "" {
		meta("date", md.Date)
	}
	if len(md.Keywords) > 0 {
		meta("keywords", strings.Join(md.Keywords, ", "))
	}
	meta("generator", "edudoc")
	if doc.Version != "" {
		meta("document-version", doc.Version)
	}
	if css := w.opts.Wrapper.Stylesheet; css != "" {
		if SafeURL(css, false) {
			sb.WriteString(`<link rel="stylesheet" href="` + encoding.EscapeHTML(css) + "\">\n")
		} else {
			w.res.Add(errors.Warnf(errors.CodeUnsafeURL, "stylesheet %q dropped", css))
		}
	}
	if w.math {
		switch w.opts.Math.Renderer {
		case convert.MathJax:
			sb.WriteString(`<script id="MathJax-script" async src="` + mathJaxScript + "\"></script>\n")
		case convert.KaTeX:
			sb.WriteString(`<link rel="stylesheet" href="` + katexStylesheet + "\">\n")
			sb.WriteString(`<script defer src="` + katexScript + "\"></script>\n")
			sb.WriteString(`<script defer src="` + katexAutoRender + "\"></script>\n")
			sb.WriteString("<script>" + katexBootstrap + "</script>\n")
		}
	}
	sb.WriteString("</head>\n<body>\n")
	if md.Title != "" || len(md.Authors) > 0 || md.Date != "" {
		sb.WriteString("<header class=\"doc-header\">\n")
		if md.Title != "" {
			sb.WriteString("<h1 class=\"doc-title\">" + encoding.EscapeHTML(md.Title) + "</h1>\n")
		}
		if len(md.Authors) > 0 {
			sb.WriteString("<p class=\"doc-authors\">" + encoding.EscapeHTML(strings.Join(md.Authors, ", ")) + "</p>\n")
		}
		if md.Date != "" {
			sb.WriteString("<p class=\"doc-date\">" + encoding.EscapeHTML(md.Date) + "</p>\n")
		}
		sb.WriteString("</header>\n")
	}
	sb.WriteString(body)
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}
