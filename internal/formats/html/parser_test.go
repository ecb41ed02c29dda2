package html

import (
	"strings"
	"testing"
	"time"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

const samplePage = `<!DOCTYPE html>
<html lang="fr" dir="ltr">
<head>
<title>Intro to   Sets</title>
<meta name="author" content="Ada">
<meta name="author" content="Alan">
<meta name="date" content="2024-01-02">
<meta name="keywords" content="sets, logic">
</head>
<body>
<main>
<section class="chapter" id="ch1">
<h1>Basics</h1>
<p class="lead" style="text-align: center">A set <span class="math inline">\(A \subseteq B\)</span> is <em>small</em> <a class="citation" href="#bib-halmos" data-key="halmos">[1]</a>.</p>
<section id="s1">
<h2>Operations</h2>
<ul><li>Union<ul><li>binary</li></ul></li><li>Intersection</li></ul>
</section>
</section>
</main>
<section class="bibliography">
<ol class="references">
<li data-key="halmos" data-type="book"><span class="field" data-field="author">Paul Halmos</span>, <span class="field" data-field="title">Naive Set Theory</span></li>
</ol>
</section>
</body>
</html>
`

func parse(t *testing.T, src string) *convert.ParseResult {
	t.Helper()
	res := (&Parser{}).Parse([]byte(src), convert.DefaultParseOptions())
	if res.Fatal() {
		t.Fatalf("Expected parse to succeed, got %v", res.Errors)
	}
	return res
}

func firstBlock(t *testing.T, doc *ir.Document) *ir.Block {
	t.Helper()
	blocks := doc.Blocks()
	if len(blocks) == 0 {
		t.Fatal("Expected at least one block")
	}
	return blocks[0]
}

func body(s string) string {
	return "<!DOCTYPE html><html><body>" + s + "</body></html>"
}

func TestParseMetadata(t *testing.T) {
	doc := parse(t, samplePage).Document
	md := doc.Metadata
	if md.Title != "Intro to Sets" {
		t.Errorf("Expected collapsed title, got %q", md.Title)
	}
	if len(md.Authors) != 2 || md.Authors[1] != "Alan" {
		t.Errorf("Expected two authors, got %q", md.Authors)
	}
	if md.Date != "2024-01-02" {
		t.Errorf("Expected date, got %q", md.Date)
	}
	if len(md.Keywords) != 2 || md.Keywords[1] != "logic" {
		t.Errorf("Expected keywords, got %q", md.Keywords)
	}
	if doc.Language != "fr" || doc.Direction != ir.DirectionLTR {
		t.Errorf("Expected fr/ltr, got %q/%q", doc.Language, doc.Direction)
	}
}

func TestParseTitleBlockFallback(t *testing.T) {
	doc := parse(t, body(`<header class="doc-header"><h1 class="doc-title">Shown</h1><p class="doc-authors">A, B</p></header><p>x</p>`)).Document
	if doc.Metadata.Title != "Shown" || len(doc.Metadata.Authors) != 2 {
		t.Errorf("Expected title block metadata, got %+v", doc.Metadata)
	}
	if len(doc.Body.Children) != 1 {
		t.Errorf("Expected header kept out of the body, got %d nodes", len(doc.Body.Children))
	}
}

func TestParseStructure(t *testing.T) {
	doc := parse(t, samplePage).Document
	if len(doc.Body.Children) != 1 {
		t.Fatalf("Expected one top-level container, got %d", len(doc.Body.Children))
	}
	ch, ok := doc.Body.Children[0].(*ir.Container)
	if !ok || ch.Kind != ir.KindChapter || ch.ID != "ch1" || ch.Title.String() != "Basics" {
		t.Fatalf("Expected chapter ch1 'Basics', got %+v", doc.Body.Children[0])
	}
	if len(ch.Children) != 2 {
		t.Fatalf("Expected paragraph and section, got %d children", len(ch.Children))
	}
	sec, ok := ch.Children[1].(*ir.Container)
	if !ok || sec.Kind != ir.KindSection || sec.Title.String() != "Operations" {
		t.Fatalf("Expected nested section, got %+v", ch.Children[1])
	}
	l, ok := sec.Children[0].(*ir.Block).Content.(*ir.List)
	if !ok || len(l.Items) != 2 || l.Items[0].Sublist == nil || l.Items[0].Text.String() != "Union" {
		t.Errorf("Expected nested list, got %+v", sec.Children[0])
	}
}

func TestParseInline(t *testing.T) {
	doc := parse(t, samplePage).Document
	b := firstBlock(t, doc)
	p, ok := b.Content.(*ir.Paragraph)
	if !ok {
		t.Fatalf("Expected paragraph, got %T", b.Content)
	}
	var math, cite, styled bool
	for _, r := range p.Text {
		switch v := r.(type) {
		case ir.MathRun:
			math = v.Source == `A \subseteq B`
		case ir.CiteRun:
			cite = v.Citation.Key == "halmos"
		case ir.StyledRun:
			styled = v.Style == ir.RunEmphasis && v.Text == "small"
		}
	}
	if !math || !cite || !styled {
		t.Errorf("Expected math, citation and emphasis runs, got %#v", p.Text)
	}
	if got := p.Text.String(); !strings.HasSuffix(got, ".") || strings.Contains(got, "  ") {
		t.Errorf("Expected collapsed text, got %q", got)
	}

	var class, align bool
	for _, h := range b.Hints {
		class = class || (h.Type == ir.HintCSSClass && h.Value == "lead")
		align = align || (h.Type == ir.HintAlignment && h.Value == "center")
	}
	if !class || !align {
		t.Errorf("Expected class and alignment hints, got %+v", b.Hints)
	}
}

func TestParseHeadingOutline(t *testing.T) {
	doc := parse(t, body(`<h1>A</h1><p>x</p><h2>B</h2><p>y</p><h1>C</h1><p>z</p>`)).Document
	if len(doc.Body.Children) != 2 {
		t.Fatalf("Expected two top-level containers, got %d", len(doc.Body.Children))
	}
	a := doc.Body.Children[0].(*ir.Container)
	if a.Kind != ir.KindChapter || a.Title.String() != "A" {
		t.Errorf("Expected chapter A, got %s %q", a.Kind, a.Title.String())
	}
	if b, ok := a.Children[1].(*ir.Container); !ok || b.Kind != ir.KindSection {
		t.Errorf("Expected section B inside A, got %+v", a.Children[1])
	}
}

func TestParseHeadingBlock(t *testing.T) {
	doc := parse(t, body(`<section><h2>T</h2><h4 class="heading" data-level="3">Aside</h4></section>`)).Document
	h, ok := firstBlock(t, doc).Content.(*ir.Heading)
	if !ok || h.Level != 3 || h.Text.String() != "Aside" {
		t.Errorf("Expected heading block level 3, got %+v", firstBlock(t, doc).Content)
	}
}

func TestParseTable(t *testing.T) {
	doc := parse(t, body(`<table><caption>Data</caption><tr><th>x</th><th>y</th></tr><tr><td>1</td><td>2</td></tr></table>`)).Document
	tb, ok := firstBlock(t, doc).Content.(*ir.Table)
	if !ok {
		t.Fatalf("Expected table, got %T", firstBlock(t, doc).Content)
	}
	if tb.Caption.String() != "Data" || len(tb.Header) != 2 || len(tb.Rows) != 1 || tb.Rows[0][1].String() != "2" {
		t.Errorf("Expected caption, header and one row, got %+v", tb)
	}
}

func TestParseFigure(t *testing.T) {
	doc := parse(t, body(`<figure><img src="a.png" alt="A plot" width="300"><figcaption>The <em>plot</em></figcaption></figure><p><img src="b.png" style="width: 40%"></p>`)).Document
	blocks := doc.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("Expected two figures, got %d", len(blocks))
	}
	f := blocks[0].Content.(*ir.Figure)
	if f.Source != "a.png" || f.Alt != "A plot" || f.Width != "300px" || f.Caption.String() != "The plot" {
		t.Errorf("Expected figure fields, got %+v", f)
	}
	if g := blocks[1].Content.(*ir.Figure); g.Width != "40%" {
		t.Errorf("Expected style width, got %q", g.Width)
	}
}

func TestParseCodeAndQuote(t *testing.T) {
	doc := parse(t, body(`<pre><code class="language-go">x := 1 &lt; 2</code></pre><blockquote><p>Be brief.</p><footer>— Strunk</footer></blockquote>`)).Document
	blocks := doc.Blocks()
	c := blocks[0].Content.(*ir.Code)
	if c.Language != "go" || c.Code != "x := 1 < 2" {
		t.Errorf("Expected go code, got %+v", c)
	}
	q := blocks[1].Content.(*ir.Quote)
	if q.Text.String() != "Be brief." || q.Attribution != "Strunk" {
		t.Errorf("Expected quote with attribution, got %+v", q)
	}
}

func TestParseMath(t *testing.T) {
	src := body(`<div class="math display">\[x^2\]</div>` +
		`<math display="block"><semantics><mi>y</mi><annotation encoding="application/x-tex">y</annotation></semantics></math>` +
		`<math display="block"><mi>z</mi></math>`)
	res := parse(t, src)
	blocks := res.Document.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("Expected three blocks, got %d", len(blocks))
	}
	if m := blocks[0].Content.(*ir.MathBlock); m.Expr.Kind != ir.MathDisplay || m.Expr.Source != "x^2" {
		t.Errorf("Expected display math, got %+v", m.Expr)
	}
	if m := blocks[1].Content.(*ir.MathBlock); m.Expr.Source != "y" {
		t.Errorf("Expected TeX annotation, got %+v", m.Expr)
	}
	if u, ok := blocks[2].Content.(*ir.Unknown); !ok || u.RawType != "mathml" || !strings.Contains(u.Raw, "<mi>z</mi>") {
		t.Errorf("Expected MathML fallback block, got %+v", blocks[2].Content)
	}
}

func TestParseUnknownElement(t *testing.T) {
	res := parse(t, body(`<custom-widget>payload  here</custom-widget><div class="unsupported" data-type="quiz"><p><strong>[Unsupported block: quiz]</strong></p><pre>Q1</pre></div>`))
	blocks := res.Document.Blocks()
	if u, ok := blocks[0].Content.(*ir.Unknown); !ok || u.RawType != "custom-widget" || u.Raw != "payload here" {
		t.Errorf("Expected unknown element block, got %+v", blocks[0].Content)
	}
	if u, ok := blocks[1].Content.(*ir.Unknown); !ok || u.RawType != "quiz" || u.Raw != "Q1" {
		t.Errorf("Expected unsupported block read back, got %+v", blocks[1].Content)
	}
	if res.Metadata.UnmappedElements != 2 {
		t.Errorf("Expected two unmapped elements, got %d", res.Metadata.UnmappedElements)
	}
}

func TestParseSanitize(t *testing.T) {
	src := body(`<p onclick="steal()">Hi<script>alert(1)</script> <a href="javascript:alert(1)">there</a></p><iframe src="https://evil"></iframe>`)
	res := parse(t, src)
	p := firstBlock(t, res.Document).Content.(*ir.Paragraph)
	if got := p.Text.String(); got != "Hi there" {
		t.Errorf("Expected script and link removed, got %q", got)
	}
	for _, r := range p.Text {
		if _, ok := r.(ir.RefRun); ok {
			t.Error("Expected javascript link dropped")
		}
	}
	if !res.Warnings.HasCode(errors.CodeSanitizedElement) {
		t.Errorf("Expected sanitize warnings, got %v", res.Warnings)
	}
}

func TestParseAllowList(t *testing.T) {
	opts := convert.DefaultParseOptions()
	opts.Sanitize.AllowedTags = []string{"p", "em"}
	res := (&Parser{}).Parse([]byte(body(`<p>a <em>b</em> <strong>c</strong></p>`)), opts)
	p := firstBlock(t, res.Document).Content.(*ir.Paragraph)
	for _, r := range p.Text {
		if s, ok := r.(ir.StyledRun); ok && s.Style == ir.RunStrong {
			t.Error("Expected strong unwrapped")
		}
	}
	if p.Text.String() != "a b c" {
		t.Errorf("Expected text kept, got %q", p.Text.String())
	}
}

func TestParseInvalidCitationKeys(t *testing.T) {
	for _, key := range []string{"1abc", "a b", strings.Repeat("k", 500)} {
		res := parse(t, body(`<p><a class="citation" data-key="`+key+`">cite</a></p>`))
		if !res.Warnings.HasCode(errors.CodeInvalidKey) {
			t.Errorf("Expected invalid key warning for %.20q", key)
		}
		for _, r := range firstBlock(t, res.Document).Content.(*ir.Paragraph).Text {
			if _, ok := r.(ir.CiteRun); ok {
				t.Errorf("Expected key %.20q rejected", key)
			}
		}
	}
}

func TestParseLinks(t *testing.T) {
	doc := parse(t, body(`<p><a href="#sec-1">sec-1</a> <a href="https://example.org">site</a></p>`)).Document
	var refs []ir.RefRun
	for _, r := range firstBlock(t, doc).Content.(*ir.Paragraph).Text {
		if v, ok := r.(ir.RefRun); ok {
			refs = append(refs, v)
		}
	}
	if len(refs) != 2 || refs[0].Target != "sec-1" || refs[0].Display != "" || refs[1].Display != "site" {
		t.Errorf("Expected internal and external refs, got %+v", refs)
	}
}

func TestParseBibliography(t *testing.T) {
	res := parse(t, samplePage)
	bib := res.Document.Bibliography
	if len(bib) != 1 || bib[0].ID != "halmos" || bib[0].Type != "book" {
		t.Fatalf("Expected one book entry, got %+v", bib)
	}
	if bib[0].Fields.Value("title") != "Naive Set Theory" || bib[0].Fields[0].Name != "author" {
		t.Errorf("Expected ordered fields, got %+v", bib[0].Fields)
	}
	if res.Warnings.HasCode(errors.CodeUnresolvedCite) {
		t.Errorf("Expected citation resolved, got %v", res.Warnings)
	}
}

func TestParseFatalInput(t *testing.T) {
	opts := convert.DefaultParseOptions()
	opts.Limits.MaxInput = 10
	res := (&Parser{}).Parse([]byte(body("too long")), opts)
	if !res.Fatal() || !res.Errors.HasCode(errors.CodeInputTooLarge) {
		t.Errorf("Expected fatal size error, got %v", res.Errors)
	}
	if len(res.Document.Blocks()) != 0 {
		t.Error("Expected empty document")
	}
}

func TestParseNestedSections(t *testing.T) {
	for _, n := range []int{1, 10, 50} {
		src := strings.Repeat("<section><h2>T</h2>", n) + "<p>x</p>" + strings.Repeat("</section>", n)
		doc := parse(t, body(src)).Document
		count := 0
		doc.WalkDocument(func(node ir.Node, _ int) bool {
			if _, ok := node.(*ir.Container); ok {
				count++
			}
			return true
		})
		if count != n {
			t.Errorf("Expected %d containers, got %d", n, count)
		}
	}
}

func TestParseDeepNesting(t *testing.T) {
	src := strings.Repeat("<div>", 300) + "deep" + strings.Repeat("</div>", 300)
	res := parse(t, body(src))
	if !res.Warnings.HasCode(errors.CodeScanLimit) {
		t.Errorf("Expected depth warning, got %v", res.Warnings)
	}
	if !strings.Contains(firstBlock(t, res.Document).Content.(*ir.Paragraph).Text.String(), "deep") {
		t.Error("Expected deep text kept")
	}
}

func TestParsePathologicalInput(t *testing.T) {
	src := body("<p>" + strings.Repeat(`<&\{`, 200000/4) + "</p>")
	start := time.Now()
	res := (&Parser{}).Parse([]byte(src), convert.DefaultParseOptions())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected parse under 1s, took %v", elapsed)
	}
	if res.Fatal() {
		t.Errorf("Expected parse to succeed, got %v", res.Errors)
	}
}

func FuzzParse(f *testing.F) {
	f.Add([]byte(samplePage))
	f.Add([]byte(`<p><a class="citation" data-key="x">`))
	f.Add([]byte(`<section><section><h1>`))
	f.Fuzz(func(t *testing.T, data []byte) {
		res := convert.SafeParse(&Parser{}, FormatID, data, convert.DefaultParseOptions())
		if res == nil {
			t.Fatal("Expected a result")
		}
	})
}
