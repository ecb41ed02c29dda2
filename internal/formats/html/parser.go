package html

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// Parser converts HTML into a canonical document.
//
// Input is first parsed into an HTML5 tree, so malformed markup is repaired
// the way browsers repair it. Section elements become containers; a
// document without sections is outlined from its headings instead.
type Parser struct{}

type parseState struct {
	opts   convert.ParseOptions
	res    *convert.ParseResult
	doc    *ir.Document
	limits scan.Limits

	// sectioned is set when the document marks structure with section
	// elements rather than with heading levels alone.
	sectioned bool
	kinds     map[int]ir.ContainerKind
	deep      bool
}

// scope is the position of a node being converted.
type scope struct {
	parent ir.ContainerKind
	level  int // enclosing containers
	depth  int // enclosing elements
}

// Parse implements convert.Parser.
func (p *Parser) Parse(content []byte, opts convert.ParseOptions) *convert.ParseResult {
	start := time.Now()
	text, issues := base.Input(content, opts.Limits)
	if issues.HasFatal() {
		return convert.FatalResult(FormatID, issues[0]).Finish(start)
	}
	root, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return convert.FatalResult(FormatID, errors.Fatalf(errors.CodeMalformed, "html parse failed: %v", err)).Finish(start)
	}
	res := convert.NewParseResult(FormatID)
	res.Add(issues...)
	ps := &parseState{opts: opts, res: res, doc: res.Document, limits: opts.Limits.Normalize()}

	body := findElement(root, atom.Body)
	if opts.Sanitize.Enabled {
		ps.sanitize(body)
	}
	ps.metadata(root, body)
	ps.document(body)

	base.AssignIDs(ps.doc, base.NewIDs(FormatID))
	if len(ps.doc.Bibliography) > 0 {
		res.Add(base.UnresolvedCitations(ps.doc)...)
	}
	return res.Finish(start)
}

// findElement returns the first element with atom a in document order.
func findElement(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found == nil && c.Type == html.ElementNode && c.DataAtom == a {
			found = c
		}
		return found == nil
	})
	return found
}

// walk visits n and its descendants in document order without recursion.
// Returning false from fn skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil {
		return
	}
	stack := []*html.Node{n}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(c) {
			continue
		}
		for k := c.LastChild; k != nil; k = k.PrevSibling {
			stack = append(stack, k)
		}
	}
}

// textOf returns the concatenated text below n, skipping script and style.
func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			return c.Data != "script" && c.Data != "style"
		}
		return true
	})
	return sb.String()
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func isHeading(n *html.Node) bool {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

func headingRank(n *html.Node) int {
	return int(n.Data[1] - '0')
}

// sanitize removes active content and, when allow-lists are configured,
// every element and attribute not on them.
func (ps *parseState) sanitize(body *html.Node) {
	if body == nil {
		return
	}
	allowTags := toSet(ps.opts.Sanitize.AllowedTags)
	allowAttrs := toSet(ps.opts.Sanitize.AllowedAttributes)
	removed := make(map[string]int)

	var nodes []*html.Node
	walk(body, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n != body {
			nodes = append(nodes, n)
		}
		return true
	})
	for _, n := range nodes {
		if n.Parent == nil {
			continue
		}
		switch {
		case activeElements[n.Data] || strippedElements[n.Data]:
			removed["<"+n.Data+">"]++
			n.Parent.RemoveChild(n)
			continue
		case allowTags != nil && !allowTags[n.Data]:
			removed["<"+n.Data+">"]++
			for c := n.FirstChild; c != nil; c = n.FirstChild {
				n.RemoveChild(c)
				n.Parent.InsertBefore(c, n)
			}
			n.Parent.RemoveChild(n)
			continue
		}
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			key := strings.ToLower(a.Key)
			switch {
			case strings.HasPrefix(key, "on") || deniedAttributes[key],
				urlAttributes[key] && !safeURLAttr(key, a.Val, n.Data == "img"),
				key == "style" && !safeCSS(a.Val),
				allowAttrs != nil && !allowAttrs[key]:
				removed[key+"="]++
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}

	names := make([]string, 0, len(removed))
	for name := range removed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		what := "element " + name
		if strings.HasSuffix(name, "=") {
			what = "attribute " + strings.TrimSuffix(name, "=")
		}
		ps.res.Add(errors.Warnf(errors.CodeSanitizedElement, "removed %s (%d occurrences)", what, removed[name]))
	}
}

func toSet(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[strings.ToLower(s)] = true
	}
	return set
}

func (ps *parseState) metadata(root, body *html.Node) {
	doc := ps.doc
	if h := findElement(root, atom.Html); h != nil {
		doc.Language = attr(h, "lang")
		if d := ir.Direction(strings.ToLower(attr(h, "dir"))); d != "" && d.IsValid() {
			doc.Direction = d
		}
	}
	if head := findElement(root, atom.Head); head != nil {
		for c := head.FirstChild; c != nil; c = c.NextSibling {
			switch c.DataAtom {
			case atom.Title:
				doc.Metadata.Title = base.CollapseSpace(textOf(c))
			case atom.Meta:
				content := strings.TrimSpace(attr(c, "content"))
				switch strings.ToLower(attr(c, "name")) {
				case "author", "dc.creator":
					if content != "" {
						doc.Metadata.Authors = append(doc.Metadata.Authors, content)
					}
				case "date", "dcterms.date", "dc.date":
					doc.Metadata.Date = content
				case "keywords":
					for _, k := range strings.Split(content, ",") {
						if k = strings.TrimSpace(k); k != "" {
							doc.Metadata.Keywords = append(doc.Metadata.Keywords, k)
						}
					}
				case "document-version":
					if content != "" {
						doc.Version = content
					}
				}
			}
		}
	}

	// A visible title block fills what the head leaves out.
	walk(body, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch {
		case hasClass(n, "doc-title") && doc.Metadata.Title == "":
			doc.Metadata.Title = base.CollapseSpace(textOf(n))
		case hasClass(n, "doc-authors") && len(doc.Metadata.Authors) == 0:
			for _, a := range strings.Split(textOf(n), ",") {
				if a = base.CollapseSpace(a); a != "" {
					doc.Metadata.Authors = append(doc.Metadata.Authors, a)
				}
			}
		case hasClass(n, "doc-date") && doc.Metadata.Date == "":
			doc.Metadata.Date = base.CollapseSpace(textOf(n))
		}
		return n.DataAtom != atom.Section && n.DataAtom != atom.Main
	})
}

// document splits the body into front matter, body and back matter and
// converts each.
func (ps *parseState) document(body *html.Node) {
	if body == nil {
		return
	}
	walk(body, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Section && !hasClass(n, "bibliography") {
			ps.sectioned = true
		}
		return !ps.sectioned
	})
	if !ps.sectioned {
		ps.headingKinds(body)
	}

	var front, back, main []*html.Node
	var rest []*html.Node
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type != html.ElementNode:
			rest = append(rest, c)
		case hasClass(c, "front-matter"):
			front = append(front, children(c)...)
		case hasClass(c, "back-matter"):
			back = append(back, children(c)...)
		case c.DataAtom == atom.Main && main == nil:
			main = children(c)
		case c.DataAtom == atom.Section && hasClass(c, "bibliography"):
			ps.bibliography(c)
		default:
			rest = append(rest, c)
		}
	}
	if main == nil {
		main = rest
	}

	convertMatter := func(nodes []*html.Node) ir.Nodes {
		var o base.Outline
		ps.flow(nodes, &o, scope{depth: 1})
		return o.Nodes()
	}
	if len(front) > 0 {
		ps.doc.FrontMatter = &ir.Matter{Children: convertMatter(front)}
	}
	ps.doc.Body = &ir.Matter{Children: convertMatter(main)}
	if len(back) > 0 {
		ps.doc.BackMatter = &ir.Matter{Children: convertMatter(back)}
	}
}

// headingKinds assigns container kinds to the heading levels of a document
// without sections.
func (ps *parseState) headingKinds(body *html.Node) {
	var levels []int
	walk(body, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if hasClass(n, "doc-header") || hasClass(n, "bibliography") {
			return false
		}
		if isHeading(n) && !hasClass(n, "heading") {
			levels = append(levels, headingRank(n))
		}
		return true
	})
	ps.kinds = base.KindsForLevels(levels)
}

// phrasing elements gather into an anonymous paragraph at block level.
var phrasing = map[string]bool{
	"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "br": true,
	"cite": true, "code": true, "data": true, "dfn": true, "em": true, "i": true,
	"kbd": true, "mark": true, "q": true, "s": true, "samp": true, "small": true,
	"span": true, "strong": true, "sub": true, "sup": true, "time": true, "u": true,
	"var": true, "del": true, "ins": true, "strike": true, "tt": true, "big": true,
	"font": true, "label": true, "wbr": true,
}

func isPhrasing(n *html.Node) bool {
	if n.Type == html.TextNode {
		return true
	}
	if n.Data == "math" {
		return attr(n, "display") != "block"
	}
	return n.Type == html.ElementNode && phrasing[n.Data]
}

// wrappers group content without meaning of their own.
var wrappers = map[string]bool{
	"main": true, "article": true, "aside": true, "nav": true, "footer": true,
	"address": true, "center": true, "details": true, "summary": true,
	"hgroup": true, "picture": true, "body": true, "search": true,
}

// flow converts a sequence of sibling nodes into the outline.
func (ps *parseState) flow(nodes []*html.Node, o *base.Outline, sc scope) {
	var pending []*html.Node
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if t := ps.runs(pending, sc.depth).TrimSpace(); !t.IsEmpty() {
			o.Add(ir.NewBlock("", &ir.Paragraph{Text: t}))
			ps.res.Mapped(1)
		}
		pending = nil
	}
	for _, n := range nodes {
		if isPhrasing(n) {
			pending = append(pending, n)
			continue
		}
		flush()
		if n.Type == html.ElementNode {
			ps.element(n, o, sc)
		}
	}
	flush()
}

func (ps *parseState) tooDeep(n *html.Node, o *base.Outline) {
	if !ps.deep {
		ps.deep = true
		ps.res.Add(errors.Warnf(errors.CodeScanLimit, "markup nested deeper than %d levels flattened to text", ps.limits.MaxDepth))
	}
	if t := base.CollapseSpace(textOf(n)); t != "" {
		o.Add(ir.NewBlock("", &ir.Paragraph{Text: ir.Plain(t)}))
	}
	ps.res.Metadata.UnmappedElements++
}

func (ps *parseState) add(o *base.Outline, n *html.Node, p ir.Payload) {
	b := &ir.Block{ID: attr(n, "id"), Content: p, Hints: hintsFrom(n), Language: attr(n, "lang")}
	if d := ir.Direction(strings.ToLower(attr(n, "dir"))); d != "" && d.IsValid() {
		b.Direction = d
	}
	o.Add(b)
	ps.res.Mapped(1)
}

func (ps *parseState) unknown(o *base.Outline, n *html.Node, rawType, raw string) {
	o.Add(&ir.Block{ID: attr(n, "id"), Content: &ir.Unknown{RawType: rawType, Raw: raw}})
	ps.res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "<%s> kept as %q fallback block", n.Data, rawType))
}

// element converts one block-level element.
func (ps *parseState) element(n *html.Node, o *base.Outline, sc scope) {
	if sc.depth > ps.limits.MaxDepth {
		ps.tooDeep(n, o)
		return
	}
	inner := scope{parent: sc.parent, level: sc.level, depth: sc.depth + 1}
	switch {
	case isHeading(n):
		ps.heading(n, o, sc)
		return
	case activeElements[n.Data] || strippedElements[n.Data]:
		return
	case n.Data == "math":
		ps.mathBlock(n, o)
		return
	}

	switch n.DataAtom {
	case atom.Section:
		if hasClass(n, "bibliography") {
			ps.bibliography(n)
			return
		}
		ps.section(n, o, sc)
	case atom.P:
		if img := soleImage(n); img != nil {
			ps.figure(n, img, nil, o)
			return
		}
		if t := ps.text(n, sc.depth); !t.IsEmpty() {
			ps.add(o, n, &ir.Paragraph{Text: t})
		}
	case atom.Ul, atom.Ol:
		ps.add(o, n, ps.list(n, sc.depth))
	case atom.Dl:
		ps.add(o, n, ps.definitions(n, sc.depth))
	case atom.Table:
		ps.add(o, n, ps.table(n, sc.depth))
	case atom.Figure:
		img := findElement(n, atom.Img)
		if img == nil {
			ps.flow(children(n), o, inner)
			return
		}
		var caption ir.SemanticText
		if fc := findElement(n, atom.Figcaption); fc != nil {
			caption = ps.text(fc, sc.depth)
		}
		ps.figure(n, img, caption, o)
	case atom.Img:
		ps.figure(n, n, nil, o)
	case atom.Pre:
		ps.add(o, n, codeBlock(n))
	case atom.Blockquote:
		ps.add(o, n, ps.quote(n, sc.depth))
	case atom.Hr, atom.Br:
	case atom.Header:
		if !hasClass(n, "doc-header") {
			ps.flow(children(n), o, inner)
		}
	case atom.Div:
		switch {
		case hasClass(n, "unsupported"):
			raw := textOf(n)
			if pre := findElement(n, atom.Pre); pre != nil {
				raw = textOf(pre)
			}
			typ := attr(n, "data-type")
			if typ == "" {
				typ = "unknown"
			}
			o.Add(&ir.Block{ID: attr(n, "id"), Content: &ir.Unknown{RawType: typ, Raw: raw}, Hints: hintsFrom(n)})
			ps.res.Unmapped(errors.Warnf(errors.CodeUnknownBlock, "unsupported block %q kept as fallback", typ))
		case hasClass(n, "math"):
			ps.mathBlock(n, o)
		default:
			ps.flow(children(n), o, inner)
		}
	default:
		if wrappers[n.Data] {
			ps.flow(children(n), o, inner)
			return
		}
		ps.unknown(o, n, n.Data, base.CollapseSpace(textOf(n)))
	}
}

// heading opens a container in a heading-outlined document and yields a
// heading block otherwise.
func (ps *parseState) heading(n *html.Node, o *base.Outline, sc scope) {
	rank := headingRank(n)
	if !ps.sectioned && !hasClass(n, "heading") {
		c := &ir.Container{ID: attr(n, "id"), Kind: ps.kinds[rank], Title: ps.text(n, sc.depth), Hints: hintsFrom(n)}
		if c.Kind == "" {
			c.Kind = ir.KindSection
		}
		o.Open(rank, c)
		ps.res.Mapped(1)
		return
	}
	level := rank - sc.level - o.Depth()
	if v, err := strconv.Atoi(attr(n, "data-level")); err == nil && v > 0 {
		level = v
	}
	ps.add(o, n, &ir.Heading{Level: max(level, 1), Text: ps.text(n, sc.depth)})
}

// section converts a section element into a container. The kind comes
// from the class attribute when present and is inferred from the height of
// the section tree otherwise.
func (ps *parseState) section(n *html.Node, o *base.Outline, sc scope) {
	kind := kindFromClass(n)
	if kind == "" {
		kind = base.KindForHeight(sectionHeight(n, 3))
	}
	kind = base.ClampKind(sc.parent, kind)
	c := &ir.Container{ID: attr(n, "id"), Kind: kind, Label: attr(n, "data-label"), Hints: hintsFrom(n)}

	rest := children(n)
	for i, k := range rest {
		if k.Type == html.TextNode && strings.TrimSpace(k.Data) == "" {
			continue
		}
		if k.Type == html.ElementNode && isHeading(k) && !hasClass(k, "heading") {
			c.Title = ps.text(k, sc.depth+1)
			rest = append(rest[:i:i], rest[i+1:]...)
		}
		break
	}

	var inner base.Outline
	ps.flow(rest, &inner, scope{parent: kind, level: sc.level + 1, depth: sc.depth + 1})
	c.Children = inner.Nodes()
	o.Add(c)
	ps.res.Mapped(1)
}

func kindFromClass(n *html.Node) ir.ContainerKind {
	for _, c := range classes(n) {
		switch c {
		case "division", "part":
			return ir.KindDivision
		case "chapter":
			return ir.KindChapter
		case "section":
			return ir.KindSection
		}
	}
	return ""
}

// sectionHeight counts the section levels at and below n, up to limit.
func sectionHeight(n *html.Node, limit int) int {
	if limit <= 1 {
		return 1
	}
	height := 1
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, func(k *html.Node) bool {
			if k.Type == html.ElementNode && k.DataAtom == atom.Section && !hasClass(k, "bibliography") {
				height = max(height, 1+sectionHeight(k, limit-1))
				return false
			}
			return height < limit
		})
	}
	return height
}

// soleImage returns the only element of a paragraph when it is an image.
func soleImage(p *html.Node) *html.Node {
	var img *html.Node
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode && strings.TrimSpace(c.Data) == "":
		case c.Type == html.ElementNode && c.DataAtom == atom.Img && img == nil:
			img = c
		default:
			return nil
		}
	}
	return img
}

func (ps *parseState) figure(n, img *html.Node, caption ir.SemanticText, o *base.Outline) {
	f := &ir.Figure{Source: attr(img, "src"), Alt: attr(img, "alt"), Caption: caption}
	for _, d := range parseStyle(attr(img, "style")) {
		if d.prop == "width" && cssLength.MatchString(d.value) {
			f.Width = d.value
		}
	}
	if f.Width == "" {
		if w := attr(img, "width"); w != "" {
			if _, err := strconv.Atoi(w); err == nil {
				w += "px"
			}
			if cssLength.MatchString(w) {
				f.Width = w
			}
		}
	}
	ps.add(o, n, f)
}

func (ps *parseState) list(n *html.Node, depth int) *ir.List {
	l := &ir.List{Ordered: n.DataAtom == atom.Ol}
	if l.Ordered {
		if s, err := strconv.Atoi(attr(n, "start")); err == nil && s != 1 {
			l.Start = s
		}
	}
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		var parts []*html.Node
		var sub *ir.List
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol) && depth < ps.limits.MaxDepth {
				s := ps.list(c, depth+1)
				if sub == nil {
					sub = s
				} else {
					sub.Items = append(sub.Items, s.Items...)
				}
				continue
			}
			parts = append(parts, c)
		}
		l.Items = append(l.Items, ir.ListItem{Text: ps.runs(parts, depth+1).TrimSpace(), Sublist: sub})
	}
	return l
}

// definitions turns a description list into an unordered list of
// "term: description" items.
func (ps *parseState) definitions(n *html.Node, depth int) *ir.List {
	l := &ir.List{}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.DataAtom {
		case atom.Dt:
			l.Items = append(l.Items, ir.ListItem{Text: ps.text(c, depth)})
		case atom.Dd:
			dd := ps.text(c, depth)
			if k := len(l.Items); k > 0 {
				it := &l.Items[k-1]
				it.Text = append(append(it.Text, ir.TextRun{Text: ": "}), dd...).Merge()
			} else {
				l.Items = append(l.Items, ir.ListItem{Text: dd})
			}
		}
	}
	return l
}

func (ps *parseState) table(n *html.Node, depth int) *ir.Table {
	t := &ir.Table{}
	var head, body []*html.Node
	collect := func(group *html.Node, into *[]*html.Node) {
		for r := group.FirstChild; r != nil; r = r.NextSibling {
			if r.DataAtom == atom.Tr {
				*into = append(*into, r)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.DataAtom {
		case atom.Caption:
			t.Caption = ps.text(c, depth)
		case atom.Thead:
			collect(c, &head)
		case atom.Tbody, atom.Tfoot:
			collect(c, &body)
		case atom.Tr:
			body = append(body, c)
		}
	}
	if len(head) == 0 && len(body) > 0 && allHeaderCells(body[0]) {
		head, body = body[:1], body[1:]
	}
	if len(head) > 0 {
		t.Header = ps.cells(head[0], depth)
		for _, r := range head[1:] {
			t.Rows = append(t.Rows, ps.cells(r, depth))
		}
	}
	for _, r := range body {
		t.Rows = append(t.Rows, ps.cells(r, depth))
	}
	return t
}

func allHeaderCells(tr *html.Node) bool {
	seen := false
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		switch c.DataAtom {
		case atom.Th:
			seen = true
		case atom.Td:
			return false
		}
	}
	return seen
}

func (ps *parseState) cells(tr *html.Node, depth int) []ir.SemanticText {
	var out []ir.SemanticText
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == atom.Td || c.DataAtom == atom.Th {
			out = append(out, ps.text(c, depth))
		}
	}
	return out
}

func codeBlock(pre *html.Node) *ir.Code {
	c := &ir.Code{Code: textOf(pre), Language: attr(pre, "data-lang")}
	langOf := func(n *html.Node) {
		for _, cl := range classes(n) {
			for _, prefix := range []string{"language-", "lang-"} {
				if v, ok := strings.CutPrefix(cl, prefix); ok && c.Language == "" {
					c.Language = v
				}
			}
		}
	}
	if code := findElement(pre, atom.Code); code != nil {
		langOf(code)
	}
	langOf(pre)
	return c
}

func (ps *parseState) quote(n *html.Node, depth int) *ir.Quote {
	q := &ir.Quote{}
	var parts []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Footer {
			a := base.CollapseSpace(textOf(c))
			a = strings.TrimLeft(a, "—–- ")
			q.Attribution = a
			continue
		}
		parts = append(parts, c)
	}
	q.Text = ps.runs(parts, depth).TrimSpace()
	return q
}

// mathExpr reads an expression from a math element: the preserved source
// attribute first, then a TeX annotation, then the text itself.
func (ps *parseState) mathExpr(n *html.Node) (ir.MathExpression, bool) {
	markup := attr(n, "data-tex")
	if markup == "" {
		m := n
		if n.Data != "math" {
			m = nil
			walk(n, func(c *html.Node) bool {
				if m == nil && c.Type == html.ElementNode && c.Data == "math" {
					m = c
				}
				return m == nil
			})
		}
		if m != nil {
			markup = texAnnotation(m)
			if markup == "" {
				return ir.MathExpression{}, false
			}
		} else {
			markup = textOf(n)
		}
	}
	if strings.TrimSpace(markup) == "" {
		return ir.MathExpression{}, false
	}
	e := mathproc.Classify(markup)
	if !ps.opts.Math.PreserveSource {
		e.Original = ""
	}
	return e, true
}

func texAnnotation(m *html.Node) string {
	var tex string
	walk(m, func(c *html.Node) bool {
		if tex == "" && c.Type == html.ElementNode && c.Data == "annotation" {
			if enc := attr(c, "encoding"); enc == "application/x-tex" || enc == "TeX" {
				tex = strings.TrimSpace(textOf(c))
			}
		}
		return tex == ""
	})
	return tex
}

func (ps *parseState) mathBlock(n *html.Node, o *base.Outline) {
	e, ok := ps.mathExpr(n)
	if !ok {
		var buf bytes.Buffer
		if err := html.Render(&buf, n); err != nil {
			buf.Reset()
			buf.WriteString(textOf(n))
		}
		ps.unknown(o, n, "mathml", buf.String())
		return
	}
	if e.Kind == ir.MathInline {
		e.Kind = ir.MathDisplay
	}
	ps.add(o, n, &ir.MathBlock{Expr: e})
}

// text converts the children of n to trimmed semantic text.
func (ps *parseState) text(n *html.Node, depth int) ir.SemanticText {
	return ps.runs(children(n), depth).TrimSpace()
}

// runs converts phrasing content. Whitespace collapses the way a browser
// collapses it.
func (ps *parseState) runs(nodes []*html.Node, depth int) ir.SemanticText {
	var out ir.SemanticText
	for _, n := range nodes {
		ps.run(n, &out, depth)
	}
	out = out.Merge()
	for i, r := range out {
		if tr, ok := r.(ir.TextRun); ok {
			out[i] = ir.TextRun{Text: collapseSpace(tr.Text)}
		}
	}
	return out
}

func collapseSpace(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(r)
	}
	if space {
		sb.WriteByte(' ')
	}
	return sb.String()
}

var styleElements = map[string]ir.RunKind{
	"em": ir.RunEmphasis, "i": ir.RunEmphasis, "cite": ir.RunEmphasis, "var": ir.RunEmphasis, "dfn": ir.RunEmphasis,
	"strong": ir.RunStrong, "b": ir.RunStrong,
	"code": ir.RunCode, "kbd": ir.RunCode, "samp": ir.RunCode, "tt": ir.RunCode,
	"sub": ir.RunSubscript, "sup": ir.RunSuperscript,
	"s": ir.RunStrikethrough, "del": ir.RunStrikethrough, "strike": ir.RunStrikethrough,
	"u": ir.RunUnderline, "ins": ir.RunUnderline,
}

// blockish elements met inside phrasing content are separated by spaces.
var blockish = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "br": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "tr": true, "td": true, "th": true,
}

func (ps *parseState) run(n *html.Node, out *ir.SemanticText, depth int) {
	switch n.Type {
	case html.TextNode:
		*out = append(*out, ir.TextRun{Text: n.Data})
		return
	case html.ElementNode:
	default:
		return
	}
	if activeElements[n.Data] || strippedElements[n.Data] {
		return
	}
	if depth > ps.limits.MaxDepth {
		*out = append(*out, ir.TextRun{Text: textOf(n)})
		return
	}
	if kind, ok := styleElements[n.Data]; ok {
		if kind == ir.RunEmphasis && hasClass(n, "math") {
			ps.mathRun(n, out)
			return
		}
		*out = append(*out, ir.StyledRun{Style: kind, Text: collapseSpace(textOf(n))})
		return
	}
	switch n.Data {
	case "a":
		ps.link(n, out, depth)
		return
	case "math":
		ps.mathRun(n, out)
		return
	case "img":
		if alt := attr(n, "alt"); alt != "" {
			*out = append(*out, ir.TextRun{Text: alt})
		}
		return
	case "span":
		switch {
		case hasClass(n, "math"):
			ps.mathRun(n, out)
			return
		case hasClass(n, "index"):
			*out = append(*out, ir.IndexRun{Term: attr(n, "data-term")})
			return
		case hasClass(n, "unknown-run"):
			*out = append(*out, ir.UnknownRun{Tag: attr(n, "data-tag"), Text: collapseSpace(textOf(n))})
			return
		}
	}
	sep := blockish[n.Data]
	if sep {
		*out = append(*out, ir.TextRun{Text: " "})
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		ps.run(c, out, depth+1)
	}
	if sep {
		*out = append(*out, ir.TextRun{Text: " "})
	}
}

func (ps *parseState) mathRun(n *html.Node, out *ir.SemanticText) {
	if e, ok := ps.mathExpr(n); ok {
		*out = append(*out, ir.MathRun{Source: e.Source})
		return
	}
	*out = append(*out, ir.UnknownRun{Tag: "math", Text: collapseSpace(textOf(n))})
	ps.res.Unmapped(errors.Warnf(errors.CodeUnknownRun, "MathML without TeX annotation kept as text"))
}

func (ps *parseState) link(n *html.Node, out *ir.SemanticText, depth int) {
	href := strings.TrimSpace(attr(n, "href"))
	display := strings.TrimSpace(collapseSpace(textOf(n)))

	if hasClass(n, "citation") || hasAttr(n, "data-key") {
		c := ir.Citation{
			Command: attr(n, "data-command"),
			Key:     attr(n, "data-key"),
			Prefix:  attr(n, "data-prefix"),
			Suffix:  attr(n, "data-suffix"),
			Locator: attr(n, "data-locator"),
		}
		if c.Key == "" {
			c.Key = strings.TrimPrefix(href, "#bib-")
		}
		if err := biblio.CheckKey(c.Key); err != nil {
			ps.res.Add(errors.Warnf(errors.CodeInvalidKey, "citation kept as text: %v", err))
			*out = append(*out, ir.TextRun{Text: display})
			return
		}
		*out = append(*out, ir.CiteRun{Citation: c})
		return
	}

	switch {
	case href == "":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			ps.run(c, out, depth+1)
		}
	case strings.HasPrefix(href, "#") && len(href) > 1:
		r := ir.RefRun{Target: href[1:], Display: display}
		if display == r.Target {
			r.Display = ""
		}
		*out = append(*out, r)
	case SafeURL(href, false):
		r := ir.RefRun{Target: href, Display: display}
		if display == href {
			r.Display = ""
		}
		*out = append(*out, r)
	default:
		ps.res.Add(errors.Warnf(errors.CodeUnsafeURL, "link with unsafe target kept as text"))
		*out = append(*out, ir.TextRun{Text: display})
	}
}

// bibliography reads entries written with one span per field. Lists of
// plain references are read as notes.
func (ps *parseState) bibliography(n *html.Node) {
	walk(n, func(li *html.Node) bool {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			return true
		}
		e := &ir.BibliographyEntry{ID: attr(li, "data-key"), Type: attr(li, "data-type")}
		if e.ID == "" {
			e.ID = strings.TrimPrefix(attr(li, "id"), "bib-")
		}
		if e.Type == "" {
			e.Type = "misc"
		}
		if refs := attr(li, "data-crossref"); refs != "" {
			e.CrossRefs = strings.Fields(refs)
		}
		walk(li, func(s *html.Node) bool {
			if s.Type == html.ElementNode && hasClass(s, "field") {
				e.Fields = append(e.Fields, ir.Field{Name: strings.ToLower(attr(s, "data-field")), Value: textOf(s)})
				return false
			}
			return true
		})
		if len(e.Fields) == 0 {
			if note := base.CollapseSpace(textOf(li)); note != "" {
				e.Fields = ir.Fields{{Name: "note", Value: note}}
			}
		}
		if e.ID == "" {
			ps.res.Unmapped(errors.Warnf(errors.CodeBibliographyParse, "reference without a key skipped"))
			return false
		}
		ps.doc.Bibliography = append(ps.doc.Bibliography, e)
		ps.res.Mapped(1)
		return false
	})
}
