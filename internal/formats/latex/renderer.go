package latex

import (
	"math"
	"regexp"
	"slices"
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
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// Renderer converts a canonical document into LaTeX source. Every piece of
// document text is escaped, so no content of the tree can introduce a
// control sequence of its own.
type Renderer struct{}

var (
	bookCommands    = []string{"part", "chapter", "section", "subsection", "subsubsection"}
	articleCommands = []string{"part", "section", "subsection", "subsubsection"}

	classPattern  = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)
	labelPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9:_./-]{0,127}$`)
	langPattern   = regexp.MustCompile(`^[A-Za-z0-9+#._-]{1,32}$`)
	lengthPattern = regexp.MustCompile(`^\d*\.?\d+(pt|mm|cm|in|em|ex|bp|pc|\\linewidth|\\textwidth|\\columnwidth)$`)
)

// bibMode is how the bibliography is emitted.
type bibMode int

const (
	bibNone bibMode = iota
	bibItems
	bibResource
)

type writer struct {
	sb      strings.Builder
	opts    convert.RenderOptions
	res     *convert.RenderResult
	hints   *hints.Resolver
	cmds    []string
	class   string
	book    bool
	pkgs    map[string]bool
	bib     bibMode
	bibData string
	cites   bool
}

// Render implements convert.Renderer.
func (r *Renderer) Render(doc *ir.Document, opts convert.RenderOptions) *convert.RenderResult {
	start := time.Now()
	res := convert.NewRenderResult(FormatID)
	w := &writer{
		opts:  opts,
		res:   res,
		hints: hints.NewResolver(opts.HintContext(FormatID)),
		pkgs:  make(map[string]bool),
	}
	w.class = w.documentClass(doc)
	w.book = slices.Contains([]string{"book", "report", "memoir", "scrbook", "scrreprt"}, w.class)
	w.cmds = articleCommands
	if w.book {
		w.cmds = bookCommands
	}
	w.chooseBibliography(doc)

	w.document(doc)
	body := w.sb.String()
	if opts.Wrapper.IncludeWrapper {
		body = w.wrap(doc, body)
	}
	res.Content = body
	return res.Finish(doc, start)
}

func (w *writer) documentClass(doc *ir.Document) string {
	if c := w.opts.Wrapper.DocumentClass; c != "" {
		if classPattern.MatchString(c) {
			return c
		}
		w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "document class %q ignored", c))
	}
	class := "article"
	doc.WalkDocument(func(n ir.Node, _ int) bool {
		if c, ok := n.(*ir.Container); ok && (c.Kind == ir.KindChapter || c.Kind == ir.KindDivision) {
			class = "book"
			return false
		}
		return true
	})
	return class
}

// chooseBibliography decides before rendering whether the entries can be
// embedded as a .bib resource, so citation commands match the package.
func (w *writer) chooseBibliography(doc *ir.Document) {
	if !base.IncludeBibliography(doc, w.opts.Bibliography.Include) {
		return
	}
	w.bib = bibItems
	if w.opts.Bibliography.Backend != biblio.BackendBiblatex {
		return
	}
	data := biblio.Format(doc.Bibliography)
	if strings.Contains(data, `\end{filecontents`) || strings.Contains(data, "^^") || !mathproc.IsSafe(data) {
		w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "bibliography database embedded as formatted references"))
		return
	}
	w.bib, w.bibData = bibResource, data
}

func (w *writer) backend() biblio.Backend {
	b := w.opts.Bibliography.Backend
	if b == biblio.BackendBiblatex && w.bib != bibResource {
		return biblio.BackendBibTeX
	}
	return b
}

func (w *writer) document(doc *ir.Document) {
	frontCommands := w.class == "book" || w.class == "memoir" || w.class == "scrbook"
	if doc.FrontMatter.Len() > 0 {
		if frontCommands {
			w.sb.WriteString("\\frontmatter\n\n")
		}
		w.nodes(doc.FrontMatter.Children, -1, nil)
		if frontCommands {
			w.sb.WriteString("\\mainmatter\n\n")
		}
	}
	if doc.Body != nil {
		w.nodes(doc.Body.Children, -1, nil)
	}
	if doc.BackMatter.Len() > 0 {
		w.sb.WriteString("\\appendix\n\n")
		w.nodes(doc.BackMatter.Children, -1, nil)
	}
	w.bibliography(doc)
}

func (w *writer) nodes(nodes ir.Nodes, parent int, inherited []ir.RenderingHint) {
	for _, n := range nodes {
		switch v := n.(type) {
		case *ir.Container:
			w.container(v, parent, inherited)
		case *ir.Block:
			w.block(v, inherited)
		}
	}
}

// levelOf returns the outline level a container kind starts at.
func (w *writer) levelOf(k ir.ContainerKind) int {
	switch {
	case k == ir.KindDivision:
		return 0
	case k == ir.KindChapter || !w.book:
		return 1
	}
	return 2
}

func (w *writer) container(c *ir.Container, parent int, inherited []ir.RenderingHint) {
	resolved := w.hints.Resolve(inherited, c.Hints)
	w.pageBreak(resolved, "before")
	children := hints.Inherit(inherited, c.Hints)

	if c.Label == "abstract" {
		w.sb.WriteString("\\begin{abstract}\n")
		w.nodes(c.Children, parent, children)
		w.sb.WriteString("\\end{abstract}\n\n")
		return
	}

	level := max(parent+1, w.levelOf(c.Kind))
	cmd := w.cmds[w.opts.HeaderLevel(level+1, len(w.cmds))-1]
	w.sb.WriteString("\\" + cmd + "{" + w.runs(c.Title) + "}")
	w.label(c.ID)
	w.sb.WriteString("\n\n")
	w.nodes(c.Children, level, children)
	w.pageBreak(resolved, "after")
}

func (w *writer) label(id string) {
	if labelPattern.MatchString(id) {
		w.sb.WriteString("\\label{" + id + "}")
	}
}

func (w *writer) pageBreak(resolved []ir.RenderingHint, when string) {
	if _, ok := hints.Find(resolved, ir.HintPageBreak); !ok {
		return
	}
	v, _ := hints.String(resolved, ir.HintPageBreak)
	switch {
	case v == when, v == "both":
	case when == "before" && v != "after":
	default:
		return
	}
	w.sb.WriteString("\\clearpage\n")
}

// alignEnv maps an alignment hint to an environment.
func alignEnv(v string) string {
	switch v {
	case "center":
		return "center"
	case "right", "end":
		return "flushright"
	case "left", "start":
		return "flushleft"
	}
	return ""
}

func (w *writer) block(b *ir.Block, inherited []ir.RenderingHint) {
	resolved := w.hints.Resolve(inherited, b.Hints)
	w.pageBreak(resolved, "before")

	env := ""
	switch b.Content.(type) {
	case *ir.Figure, *ir.Table:
	default:
		if v, ok := hints.String(resolved, ir.HintAlignment); ok {
			env = alignEnv(v)
		}
	}
	if env != "" {
		w.sb.WriteString("\\begin{" + env + "}\n")
	}

	switch v := b.Content.(type) {
	case *ir.Paragraph:
		w.sb.WriteString(w.runs(v.Text) + "\n")
	case *ir.Heading:
		cmd := "paragraph"
		if v.Level > 4 {
			cmd = "subparagraph"
		}
		w.sb.WriteString("\\" + cmd + "{" + w.runs(v.Text) + "}")
		w.label(b.ID)
		w.sb.WriteString("\n")
	case *ir.List:
		w.list(v, 0)
	case *ir.Table:
		w.table(b.ID, v)
	case *ir.Figure:
		w.figure(b.ID, v)
	case *ir.MathBlock:
		w.sb.WriteString(w.mathBlock(b.ID, v.Expr) + "\n")
	case *ir.Code:
		w.code(v)
	case *ir.Quote:
		w.sb.WriteString("\\begin{quote}\n" + w.runs(v.Text) + "\n")
		if v.Attribution != "" {
			w.sb.WriteString("\\hfill--- " + encoding.EscapeLaTeXInline(v.Attribution) + "\n")
		}
		w.sb.WriteString("\\end{quote}\n")
	default:
		w.unknown(b)
	}

	if env != "" {
		w.sb.WriteString("\\end{" + env + "}\n")
	}
	w.sb.WriteString("\n")
	w.pageBreak(resolved, "after")
}

// bracketSafe guards text that follows \item or \\ against being read as
// an optional argument.
func bracketSafe(s string) string {
	if strings.HasPrefix(strings.TrimLeft(s, " "), "[") {
		return "{}" + s
	}
	return s
}

var enumCounters = []string{"enumi", "enumii", "enumiii", "enumiv"}

func (w *writer) list(l *ir.List, depth int) {
	env := "itemize"
	if l.Ordered {
		env = "enumerate"
	}
	w.sb.WriteString("\\begin{" + env + "}\n")
	if l.Ordered && l.Start > 1 && depth < len(enumCounters) {
		w.sb.WriteString("\\setcounter{" + enumCounters[depth] + "}{" + strconv.Itoa(l.Start-1) + "}\n")
	}
	if len(l.Items) == 0 {
		w.sb.WriteString("\\item[]\n")
	}
	for _, item := range l.Items {
		w.sb.WriteString("\\item " + bracketSafe(w.runs(item.Text)) + "\n")
		if item.Sublist != nil {
			w.list(item.Sublist, depth+1)
		}
	}
	w.sb.WriteString("\\end{" + env + "}\n")
}

func (w *writer) table(id string, t *ir.Table) {
	cols := max(1, len(t.Header))
	for _, row := range t.Rows {
		cols = max(cols, len(row))
	}
	w.sb.WriteString("\\begin{table}[htbp]\n\\centering\n")
	if !t.Caption.IsEmpty() {
		w.sb.WriteString("\\caption{" + w.runs(t.Caption) + "}\n")
	}
	if labelPattern.MatchString(id) {
		w.sb.WriteString("\\label{" + id + "}\n")
	}
	w.sb.WriteString("\\begin{tabular}{" + strings.Repeat("l", cols) + "}\n\\hline\n")
	row := func(cells []ir.SemanticText) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = bracketSafe(w.runs(c))
		}
		w.sb.WriteString(strings.Join(parts, " & ") + " \\\\\n")
	}
	if len(t.Header) > 0 {
		row(t.Header)
		w.sb.WriteString("\\hline\n")
	}
	for _, r := range t.Rows {
		row(r)
	}
	w.sb.WriteString("\\hline\n\\end{tabular}\n\\end{table}\n")
}

// sanitizePath keeps an image path free of characters that are special to
// TeX. Backslashes become slashes.
func sanitizePath(p string) string {
	var sb strings.Builder
	for _, r := range p {
		switch {
		case r == '\\':
			sb.WriteByte('/')
		case r < 0x20 || r == 0x7f || strings.ContainsRune("{}%#$&^~", r):
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// toLength converts a width to a LaTeX length. Percentages become fractions
// of \linewidth; anything not on the length whitelist is dropped.
func toLength(width string) (string, bool) {
	width = strings.TrimSpace(width)
	if num, ok := strings.CutSuffix(width, "%"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil || f <= 0 || f > 1000 {
			return "", false
		}
		return strconv.FormatFloat(math.Round(f*100)/1e4, 'f', -1, 64) + `\linewidth`, true
	}
	if lengthPattern.MatchString(width) {
		return width, true
	}
	return "", false
}

func (w *writer) figure(id string, f *ir.Figure) {
	w.pkgs["graphicx"] = true
	src := sanitizePath(f.Source)
	if src != f.Source {
		w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "image path %q sanitized", f.Source))
	}
	var opts []string
	if f.Width != "" {
		if l, ok := toLength(f.Width); ok {
			opts = append(opts, "width="+l)
		} else {
			w.res.Add(errors.Warnf(errors.CodeSanitizedElement, "figure width %q dropped", f.Width))
		}
	}
	if f.Alt != "" {
		opts = append(opts, "alt={"+encoding.EscapeLaTeXInline(f.Alt)+"}")
	}
	w.sb.WriteString("\\begin{figure}[htbp]\n\\centering\n\\includegraphics")
	if len(opts) > 0 {
		w.sb.WriteString("[" + strings.Join(opts, ",") + "]")
	}
	w.sb.WriteString("{" + src + "}\n")
	if !f.Caption.IsEmpty() {
		w.sb.WriteString("\\caption{" + w.runs(f.Caption) + "}\n")
	}
	if labelPattern.MatchString(id) {
		w.sb.WriteString("\\label{" + id + "}\n")
	}
	w.sb.WriteString("\\end{figure}\n")
}

// mathSafe reports whether math source can be placed between delimiters
// without ending them early or reaching outside math mode.
func mathSafe(src string, closing ...string) bool {
	if !mathproc.IsSafe(src) || strings.Contains(src, "^^") || !scan.Braces(src).Balanced() {
		return false
	}
	for _, tok := range append([]string{`\end{document}`, `\begin{document}`, `\documentclass`}, closing...) {
		if strings.Contains(src, tok) {
			return false
		}
	}
	for _, tok := range []string{"$", "%"} {
		if hasUnescaped(src, tok) {
			return false
		}
	}
	return scan.Environments(src, scan.DefaultLimits()).Balanced()
}

func hasUnescaped(s, tok string) bool {
	for i := strings.Index(s, tok); i >= 0; {
		if !scan.Escaped(s, i) {
			return true
		}
		next := strings.Index(s[i+1:], tok)
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

var blankLines = regexp.MustCompile(`\n[ \t]*\n[\s]*`)

func (w *writer) usesMath(e ir.MathExpression) {
	for _, p := range mathproc.RequiredPackages(e) {
		w.pkgs[p] = true
	}
}

func (w *writer) unsafeMath(src string) string {
	w.res.Add(errors.Warnf(errors.CodeUnsafeMath, "math rendered as text: source cannot be delimited safely"))
	return "\\texttt{" + encoding.EscapeLaTeXInline(src) + "}"
}

// mathBlock renders display math. Environments the math processor does not
// know become display math.
func (w *writer) mathBlock(id string, e ir.MathExpression) string {
	e.Source = blankLines.ReplaceAllString(strings.TrimSpace(e.Source), "\n")
	if e.Kind == ir.MathEnvironment && !mathproc.IsMathEnvironment(e.Environment) {
		e.Kind, e.Environment = ir.MathDisplay, ""
	}
	if e.Kind == ir.MathInline {
		e.Kind = ir.MathDisplay
	}
	closing := []string{`\]`, `\[`}
	if e.Kind == ir.MathEnvironment {
		closing = []string{`\end{` + e.Environment + `}`}
	}
	if !mathSafe(e.Source, closing...) {
		return w.unsafeMath(e.Source)
	}
	w.usesMath(e)
	if e.Kind == ir.MathEnvironment && !strings.HasSuffix(e.Environment, "*") &&
		labelPattern.MatchString(id) && !strings.Contains(e.Source, `\label`) {
		e.Source += `\label{` + id + `}`
	}
	return mathproc.Markup(e)
}

func (w *writer) inlineMath(src string) string {
	src = blankLines.ReplaceAllString(strings.TrimSpace(src), " ")
	if !mathSafe(src, `\)`, `\(`) {
		return w.unsafeMath(src)
	}
	w.usesMath(ir.MathExpression{Kind: ir.MathInline, Source: src})
	return `\(` + src + `\)`
}

// code emits alltt, where escaped backslashes and braces are the only
// markup, so no code text can end the environment.
func (w *writer) code(c *ir.Code) {
	w.pkgs["alltt"] = true
	if langPattern.MatchString(c.Language) {
		w.sb.WriteString("% language: " + c.Language + "\n")
	}
	w.sb.WriteString("\\begin{alltt}\n" + encoding.EscapeLaTeXVerbatim(c.Code) + "\n\\end{alltt}\n")
}

func (w *writer) unknown(b *ir.Block) {
	w.res.Add(errors.Warnf(errors.CodeUnknownBlock, "block type %q rendered as text", b.Type()).WithSuggestion(b.ID))
	w.sb.WriteString("\\noindent\\textbf{" + encoding.EscapeLaTeXInline(base.UnsupportedMarker(b.Type())) + "}\\\\\n")
	w.sb.WriteString(bracketSafe(encoding.EscapeLaTeXInline(base.FallbackText(b))) + "\n")
}

var styleCommandNames = map[ir.RunKind]string{
	ir.RunStrong:        "textbf",
	ir.RunEmphasis:      "emph",
	ir.RunCode:          "texttt",
	ir.RunUnderline:     "uline",
	ir.RunStrikethrough: "sout",
	ir.RunSubscript:     "textsubscript",
	ir.RunSuperscript:   "textsuperscript",
}

var urlEscaper = strings.NewReplacer(
	`\`, "%5C", "{", "%7B", "}", "%7D", "^", "%5E", " ", "%20",
	"%", `\%`, "#", `\#`, "\n", "", "\r", "", "\t", "",
)

var indexQuoter = strings.NewReplacer(`"`, `""`, "!", `"!`, "@", `"@`, "|", `"|`)

var safeSchemes = []string{"http://", "https://", "mailto:", "ftp://"}

// runs renders semantic text.
func (w *writer) runs(t ir.SemanticText) string {
	var sb strings.Builder
	for _, r := range t {
		switch v := r.(type) {
		case ir.TextRun:
			sb.WriteString(encoding.EscapeLaTeXInline(v.Text))
		case ir.StyledRun:
			cmd, ok := styleCommandNames[v.Style]
			if !ok {
				sb.WriteString(encoding.EscapeLaTeXInline(v.Text))
				continue
			}
			if v.Style == ir.RunUnderline || v.Style == ir.RunStrikethrough {
				w.pkgs["ulem"] = true
			}
			sb.WriteString("\\" + cmd + "{" + encoding.EscapeLaTeXInline(v.Text) + "}")
		case ir.RefRun:
			sb.WriteString(w.ref(v))
		case ir.CiteRun:
			out, ok := biblio.RenderCitation(v.Citation, w.opts.Bibliography.Style, w.backend())
			if !ok {
				w.res.Add(errors.Warnf(errors.CodeInvalidKey, "citation key %q rendered as text", v.Citation.Key))
			} else {
				w.cites = true
			}
			sb.WriteString(out)
		case ir.MathRun:
			sb.WriteString(w.inlineMath(v.Source))
		case ir.IndexRun:
			w.pkgs["makeidx"] = true
			sb.WriteString("\\index{" + indexQuoter.Replace(encoding.EscapeLaTeXInline(v.Term)) + "}")
		case ir.UnknownRun:
			if v.Tag == "footnote" {
				sb.WriteString("\\footnote{" + encoding.EscapeLaTeXInline(v.Text) + "}")
			} else {
				sb.WriteString(encoding.EscapeLaTeXInline(v.Text))
			}
		default:
			sb.WriteString(encoding.EscapeLaTeXInline(r.Plain()))
		}
	}
	return sb.String()
}

func (w *writer) ref(v ir.RefRun) string {
	display := encoding.EscapeLaTeXInline(v.Display)
	if base.IsExternal(v.Target) {
		lower := strings.ToLower(v.Target)
		for _, s := range safeSchemes {
			if strings.HasPrefix(lower, s) {
				w.pkgs["hyperref"] = true
				u := urlEscaper.Replace(v.Target)
				if v.Display == "" {
					return "\\url{" + u + "}"
				}
				return "\\href{" + u + "}{" + display + "}"
			}
		}
		w.res.Add(errors.Warnf(errors.CodeUnsafeURL, "link target %q rendered as text", v.Target))
		return encoding.EscapeLaTeXInline(v.Plain())
	}
	if !labelPattern.MatchString(v.Target) {
		return encoding.EscapeLaTeXInline(v.Plain())
	}
	if v.Display == "" {
		return "\\ref{" + v.Target + "}"
	}
	w.pkgs["hyperref"] = true
	return "\\hyperref[" + v.Target + "]{" + display + "}"
}

func (w *writer) bibliography(doc *ir.Document) {
	switch w.bib {
	case bibResource:
		w.sb.WriteString("\\nocite{*}\n\\printbibliography\n")
	case bibItems:
		w.sb.WriteString("\\begin{thebibliography}{99}\n")
		for i, e := range doc.Bibliography {
			if e != nil {
				w.sb.WriteString(biblio.BibItem(e, w.opts.Bibliography.Style, i+1) + "\n")
			}
		}
		w.sb.WriteString("\\end{thebibliography}\n")
	}
}

// hasAbstract reports a front-matter abstract container.
func hasAbstract(doc *ir.Document) bool {
	if doc.FrontMatter == nil {
		return false
	}
	for _, n := range doc.FrontMatter.Children {
		if c, ok := n.(*ir.Container); ok && c.Label == "abstract" {
			return true
		}
	}
	return false
}

// wrap adds the preamble and document environment.
func (w *writer) wrap(doc *ir.Document, body string) string {
	var sb strings.Builder
	sb.WriteString("\\documentclass{" + w.class + "}\n")
	sb.WriteString("\\usepackage[T1]{fontenc}\n\\usepackage[utf8]{inputenc}\n")
	if name := babelName(doc.Language); name != "" {
		sb.WriteString("\\usepackage[" + name + "]{babel}\n")
	}
	sb.WriteString("\\usepackage{amsmath}\n\\usepackage{amssymb}\n")
	var extra []string
	for p := range w.pkgs {
		switch p {
		case "amsmath", "amssymb", "graphicx", "alltt", "ulem", "makeidx", "hyperref":
		default:
			extra = append(extra, p)
		}
	}
	slices.Sort(extra)
	for _, p := range extra {
		sb.WriteString("\\usepackage{" + p + "}\n")
	}
	for _, p := range []string{"graphicx", "alltt"} {
		if w.pkgs[p] {
			sb.WriteString("\\usepackage{" + p + "}\n")
		}
	}
	if w.pkgs["ulem"] {
		sb.WriteString("\\usepackage[normalem]{ulem}\n")
	}
	if w.pkgs["makeidx"] {
		sb.WriteString("\\usepackage{makeidx}\n\\makeindex\n")
	}
	switch w.backend() {
	case biblio.BackendNatbib:
		if w.cites {
			opt := ""
			if w.opts.Bibliography.Style == ir.StyleNumeric || w.opts.Bibliography.Style == "" {
				opt = "[numbers]"
			}
			sb.WriteString("\\usepackage" + opt + "{natbib}\n")
		}
	case biblio.BackendBiblatex:
		sb.WriteString("\\begin{filecontents*}[overwrite]{\\jobname.bib}\n" + w.bibData + "\\end{filecontents*}\n")
		sb.WriteString("\\usepackage{biblatex}\n\\addbibresource{\\jobname.bib}\n")
	}
	keywords := make([]string, 0, len(doc.Metadata.Keywords))
	for _, k := range doc.Metadata.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, encoding.EscapeLaTeXInline(k))
		}
	}
	if w.pkgs["hyperref"] || len(keywords) > 0 {
		sb.WriteString("\\usepackage{hyperref}\n")
	}
	if len(keywords) > 0 {
		sb.WriteString("\\hypersetup{pdfkeywords={" + strings.Join(keywords, ", ") + "}}\n")
	}

	md := doc.Metadata
	if md.Title != "" {
		sb.WriteString("\\title{" + encoding.EscapeLaTeXInline(md.Title) + "}\n")
		authors := make([]string, len(md.Authors))
		for i, a := range md.Authors {
			authors[i] = encoding.EscapeLaTeXInline(a)
		}
		sb.WriteString("\\author{" + strings.Join(authors, " \\and ") + "}\n")
		sb.WriteString("\\date{" + encoding.EscapeLaTeXInline(md.Date) + "}\n")
	}
	if hasAbstract(doc) && (w.class == "book" || w.class == "scrbook") {
		sb.WriteString("\\newenvironment{abstract}{\\section*{Abstract}}{}\n")
	}
	sb.WriteString("\n\\begin{document}\n")
	if md.Title != "" {
		sb.WriteString("\\maketitle\n")
	}
	sb.WriteString("\n" + body)
	if w.pkgs["makeidx"] {
		sb.WriteString("\\printindex\n")
	}
	sb.WriteString("\\end{document}\n")
	return sb.String()
}
