package html

import (
	"strings"
	"testing"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/fidelity"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

func render(t *testing.T, doc *ir.Document, opts convert.RenderOptions) *convert.RenderResult {
	t.Helper()
	res := (&Renderer{}).Render(doc, opts)
	if len(res.Errors) > 0 {
		t.Fatalf("Expected render without errors, got %v", res.Errors)
	}
	return res
}

func fragment() convert.RenderOptions {
	opts := convert.DefaultRenderOptions()
	opts.Wrapper.IncludeWrapper = false
	return opts
}

func richDocument() *ir.Document {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Metadata = ir.Metadata{Title: "Calculus 101", Authors: []string{"Ada", "Alan"}, Date: "2024", Keywords: []string{"limits"}}
	doc.Language = "en"

	sec := &ir.Container{ID: "sec-limits", Kind: ir.KindSection, Title: ir.Plain("Limits and continuity")}
	sec.Append(
		ir.NewBlock("p1", &ir.Paragraph{Text: ir.SemanticText{
			ir.TextRun{Text: "The limit "},
			ir.MathRun{Source: `\lim_{x \to 0} \frac{\sin x}{x} = 1`},
			ir.TextRun{Text: " is "},
			ir.StyledRun{Style: ir.RunEmphasis, Text: "fundamental"},
			ir.TextRun{Text: " "},
			ir.CiteRun{Citation: ir.Citation{Command: "cite", Key: "spivak"}},
			ir.TextRun{Text: "."},
		}}),
		ir.NewBlock("h1", &ir.Heading{Level: 4, Text: ir.Plain("Worked example")}),
		ir.NewBlock("l1", &ir.List{Ordered: true, Items: []ir.ListItem{
			{Text: ir.Plain("Substitute the value")},
			{Text: ir.Plain("Simplify the fraction"), Sublist: &ir.List{Items: []ir.ListItem{{Text: ir.Plain("cancel terms")}}}},
		}}),
		ir.NewBlock("t1", &ir.Table{
			Caption: ir.Plain("Sample values"),
			Header:  []ir.SemanticText{ir.Plain("x"), ir.Plain("f of x")},
			Rows: [][]ir.SemanticText{
				{ir.Plain("0.1"), ir.Plain("0.998")},
				{ir.Plain("0.01"), ir.Plain("0.99998")},
			},
		}),
		ir.NewBlock("fig1", &ir.Figure{Source: "img/sinc.png", Caption: ir.Plain("The sinc function"), Width: "50%"}),
		ir.NewBlock("eq1", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathEnvironment, Environment: "equation", Source: `f(x) = \frac{\sin x}{x}`}}),
		ir.NewBlock("m2", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathDisplay, Source: `e^{i\pi} + 1 = 0`}}),
		ir.NewBlock("p2", &ir.Paragraph{Text: ir.Plain("Continuity follows from the limit laws.")}),
	)
	doc.Body.Append(sec)
	doc.Bibliography = []*ir.BibliographyEntry{{ID: "spivak", Type: "book"}}
	doc.Bibliography[0].Fields.Set("author", "Michael Spivak")
	doc.Bibliography[0].Fields.Set("title", "Calculus")
	doc.Bibliography[0].Fields.Set("year", "1967")
	return doc
}

func TestRenderWrapper(t *testing.T) {
	out := render(t, richDocument(), convert.DefaultRenderOptions()).Content
	for _, want := range []string{
		"<!DOCTYPE html>",
		`<html lang="en">`,
		`<title>Calculus 101</title>`,
		`<meta name="author" content="Ada">`,
		`<meta name="keywords" content="limits">`,
		`<h1 class="doc-title">Calculus 101</h1>`,
		`<script id="MathJax-script" async src="` + mathJaxScript + `"></script>`,
		`<section id="sec-limits" class="section">`,
		`<h1>Limits and continuity</h1>`,
		`<h4 id="h1" class="heading" data-level="4">Worked example</h4>`,
		`<span class="math inline">\(\lim_{x \to 0} \frac{\sin x}{x} = 1\)</span>`,
		`<em>fundamental</em>`,
		`<a class="citation" href="#bib-spivak" data-key="spivak" data-command="cite">[1]</a>`,
		`<caption>Sample values</caption>`,
		`<img src="img/sinc.png" alt="" style="width: 50%">`,
		`<div id="eq1" class="math environment">`,
		`<div id="m2" class="math display">\[e^{i\pi} + 1 = 0\]</div>`,
		`<li id="bib-spivak" data-key="spivak" data-type="book">`,
		`<span class="field" data-field="year">1967</span>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q", want)
		}
	}
}

func TestRenderFragment(t *testing.T) {
	out := render(t, richDocument(), fragment()).Content
	if strings.Contains(out, "<html") || strings.Contains(out, "<main>") || strings.Contains(out, "<script") {
		t.Errorf("Expected fragment without wrapper, got %s", out)
	}
}

func TestRenderKaTeX(t *testing.T) {
	opts := convert.DefaultRenderOptions()
	opts.Math.Renderer = convert.KaTeX
	out := render(t, richDocument(), opts).Content
	for _, want := range []string{katexStylesheet, katexScript, katexAutoRender, katexBootstrap} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q", want)
		}
	}
}

func TestRenderMathML(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.SemanticText{ir.MathRun{Source: "x^2"}}}))
	opts := convert.DefaultRenderOptions()
	opts.Math.Renderer = convert.MathML
	out := render(t, doc, opts).Content
	if !strings.Contains(out, "<math") || !strings.Contains(out, `data-tex="\(x^2\)"`) {
		t.Errorf("Expected MathML with preserved source, got %s", out)
	}
	if strings.Contains(out, "<script") {
		t.Error("Expected no renderer script for MathML output")
	}

	res := (&Parser{}).Parse([]byte(out), convert.DefaultParseOptions())
	p := firstBlock(t, res.Document).Content.(*ir.Paragraph)
	if m, ok := p.Text[0].(ir.MathRun); !ok || m.Source != "x^2" {
		t.Errorf("Expected math source read back, got %#v", p.Text)
	}
}

func TestRenderHeaderLevelClamp(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	outer := &ir.Container{Kind: ir.KindSection, Title: ir.Plain("A")}
	mid := &ir.Container{Kind: ir.KindSection, Title: ir.Plain("B")}
	mid.Append(&ir.Container{Kind: ir.KindSection, Title: ir.Plain("C")})
	outer.Append(mid)
	doc.Body.Append(outer)

	opts := fragment()
	opts.Wrapper.MaxHeaderLevel = 2
	out := render(t, doc, opts).Content
	if strings.Contains(out, "<h3>") || strings.Count(out, "<h2>") != 2 {
		t.Errorf("Expected headings clamped to h2, got %s", out)
	}
}

func TestRenderEscaping(t *testing.T) {
	const text = `a < b & "c" 'd' &amp; <script>x</script>`
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("p1", &ir.Paragraph{Text: ir.Plain(text)}))

	opts := fragment()
	out := render(t, doc, opts).Content
	if strings.Contains(out, "<script>") || strings.Contains(out, " & ") {
		t.Errorf("Expected specials escaped, got %s", out)
	}

	for i := 0; i < 3; i++ {
		res := (&Parser{}).Parse([]byte(out), convert.DefaultParseOptions())
		got := firstBlock(t, res.Document).Content.(*ir.Paragraph).Text.String()
		if got != text {
			t.Fatalf("Expected text preserved on pass %d, got %q", i, got)
		}
		next := render(t, res.Document, opts).Content
		if next != out {
			t.Fatalf("Expected stable output on pass %d, got %s", i, next)
		}
	}
}

func TestRenderInjection(t *testing.T) {
	payloads := []string{
		`<script>alert(1)</script>`,
		`"><img src=x onerror=alert(1)>`,
		`' onmouseover='alert(1)`,
		`javascript:alert(1)`,
		`</textarea><svg onload=alert(1)>`,
		`x\) <script>alert(1)</script> \(`,
		`\input{/etc/passwd}`,
	}
	for _, p := range payloads {
		doc := ir.NewDocument(ir.CurrentVersion)
		doc.Metadata.Title = p
		doc.Metadata.Authors = []string{p}
		doc.Metadata.Keywords = []string{p}
		doc.Language = p
		doc.Body.Append(
			&ir.Container{Kind: ir.KindSection, Title: ir.Plain(p), ID: p, Label: p, Hints: []ir.RenderingHint{
				{Type: ir.HintCSSClass, Value: p}, {Type: ir.HintColor, Value: p}, {Type: ir.HintWidth, Value: p},
			}},
			ir.NewBlock(p, &ir.Paragraph{Text: ir.SemanticText{
				ir.TextRun{Text: p},
				ir.StyledRun{Style: ir.RunStrong, Text: p},
				ir.MathRun{Source: p},
				ir.RefRun{Target: p, Display: p},
				ir.RefRun{Target: "https://x.org/" + p},
				ir.CiteRun{Citation: ir.Citation{Command: "cite", Key: p}},
				ir.CiteRun{Citation: ir.Citation{Command: "cite", Key: "ok", Prefix: p, Suffix: p, Locator: p}},
				ir.IndexRun{Term: p},
				ir.UnknownRun{Tag: p, Text: p},
			}}),
			ir.NewBlock("", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathDisplay, Source: p}}),
			ir.NewBlock("", &ir.Code{Language: p, Code: p}),
			ir.NewBlock("", &ir.Figure{Source: p, Alt: p, Width: p, Caption: ir.Plain(p)}),
			ir.NewBlock("", &ir.Quote{Text: ir.Plain(p), Attribution: p}),
			ir.NewBlock("", &ir.Table{Caption: ir.Plain(p), Header: []ir.SemanticText{ir.Plain(p)}, Rows: [][]ir.SemanticText{{ir.Plain(p)}}}),
			ir.NewBlock("", &ir.Unknown{RawType: p, Raw: p}),
		)
		e := &ir.BibliographyEntry{ID: "ok", Type: p, CrossRefs: []string{p}}
		e.Fields.Set("title", p)
		doc.Bibliography = []*ir.BibliographyEntry{e}

		for _, renderer := range []convert.MathRenderer{convert.MathJax, convert.KaTeX, convert.MathML} {
			opts := convert.DefaultRenderOptions()
			opts.Math.Renderer = renderer
			opts.Wrapper.Stylesheet = p
			res := render(t, doc, opts)
			v := (&Validator{}).Validate([]byte(res.Content))
			if v.Errors.HasCategory(errors.CategorySecurity) {
				t.Errorf("Expected no active content for %q with %s, got %v", p, renderer, v.Errors)
			}
			if v.Errors.HasCode(errors.CodeUnbalancedTag) {
				t.Errorf("Expected balanced output for %q with %s, got %v", p, renderer, v.Errors)
			}
		}
	}
}

func TestRenderUnsafeMath(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathDisplay, Source: `\input{x}`}}))
	res := render(t, doc, fragment())
	if !res.Warnings.HasCode(errors.CodeUnsafeMath) {
		t.Errorf("Expected unsafe math warning, got %v", res.Warnings)
	}
	if !strings.Contains(res.Content, `<pre><code class="math-source">\[\input{x}\]</code></pre>`) {
		t.Errorf("Expected math rendered as code, got %s", res.Content)
	}
}

func TestRenderUnknownBlock(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("w1", &ir.Unknown{RawType: "widget", Raw: "payload <b>"}))
	res := render(t, doc, fragment())
	if !strings.Contains(res.Content, "[Unsupported block: widget]") {
		t.Errorf("Expected diagnostic marker, got %s", res.Content)
	}
	if !strings.Contains(res.Content, "<pre>payload &lt;b&gt;</pre>") {
		t.Errorf("Expected escaped raw payload, got %s", res.Content)
	}
	if !res.Warnings.HasCode(errors.CodeUnknownBlock) {
		t.Errorf("Expected unknown block warning, got %v", res.Warnings)
	}

	back := parse(t, res.Content).Document
	if u, ok := firstBlock(t, back).Content.(*ir.Unknown); !ok || u.RawType != "widget" || u.Raw != "payload <b>" {
		t.Errorf("Expected unknown block read back, got %+v", firstBlock(t, back).Content)
	}
}

func TestRenderLinks(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.SemanticText{
		ir.RefRun{Target: "https://example.org/a?b=1&c=2", Display: "site"},
		ir.TextRun{Text: " "},
		ir.RefRun{Target: "javascript:alert(1)", Display: "bad"},
		ir.TextRun{Text: " "},
		ir.RefRun{Target: "sec:one"},
	}}))
	res := render(t, doc, fragment())
	if !strings.Contains(res.Content, `<a href="https://example.org/a?b=1&amp;c=2">site</a>`) {
		t.Errorf("Expected escaped href, got %s", res.Content)
	}
	if !res.Warnings.HasCode(errors.CodeUnsafeURL) || strings.Contains(res.Content, "javascript") {
		t.Errorf("Expected unsafe url dropped, got %s", res.Content)
	}
	if !strings.Contains(res.Content, `<a class="xref" href="#sec:one">sec:one</a>`) {
		t.Errorf("Expected internal reference, got %s", res.Content)
	}
}

func TestRenderHints(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	sec := &ir.Container{Kind: ir.KindSection, Title: ir.Plain("Centered"), Hints: []ir.RenderingHint{
		{Type: ir.HintAlignment, Value: "center", Inheritance: ir.InheritChildren},
		{Type: ir.HintPageBreak, Value: "before"},
		{Type: ir.HintCSSClass, Value: "box wide"},
	}}
	sec.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.Plain("Middle.")}))
	doc.Body.Append(sec)
	out := render(t, doc, fragment()).Content
	if !strings.Contains(out, `<section class="section box wide" style="text-align: center; break-before: page">`) {
		t.Errorf("Expected section hints, got %s", out)
	}
	if !strings.Contains(out, `<p style="text-align: center">Middle.</p>`) {
		t.Errorf("Expected inherited alignment, got %s", out)
	}

	res := (&Parser{}).Parse([]byte(out), convert.DefaultParseOptions())
	p := firstBlock(t, res.Document)
	if len(p.Hints) == 0 || p.Hints[0].Type != ir.HintAlignment {
		t.Errorf("Expected alignment hint parsed back, got %+v", p.Hints)
	}
}

func TestRoundTrip(t *testing.T) {
	report := fidelity.NewTester(Backend()).TestRoundTrip(richDocument(), fidelity.DefaultOptions())
	if report.FidelityScore < 0.85 {
		t.Fatalf("Expected fidelity >= 0.85, got %.3f: %+v\n%s", report.FidelityScore, report.Issues, report.Rendered)
	}
	if report.MathFidelity < 1 {
		t.Errorf("Expected math preserved, got %.3f", report.MathFidelity)
	}
	if report.StructureFidelity < 1 {
		t.Errorf("Expected structure preserved, got %.3f", report.StructureFidelity)
	}
}

func BenchmarkRender(b *testing.B) {
	doc := richDocument()
	opts := convert.DefaultRenderOptions()
	r := &Renderer{}
	for i := 0; i < b.N; i++ {
		r.Render(doc, opts)
	}
}
