package latex

import (
	"strings"
	"testing"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/fidelity"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
)

func render(t *testing.T, doc *ir.Document, opts convert.RenderOptions) *convert.RenderResult {
	t.Helper()
	res := (&Renderer{}).Render(doc, opts)
	if len(res.Errors) > 0 {
		t.Fatalf("Expected render without errors, got %v", res.Errors)
	}
	return res
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
		`\documentclass{article}`,
		`\usepackage[english]{babel}`,
		`\usepackage{amsmath}`,
		`\usepackage{graphicx}`,
		`\title{Calculus 101}`,
		`\author{Ada \and Alan}`,
		`\begin{document}`,
		`\maketitle`,
		`\section{Limits and continuity}\label{sec-limits}`,
		`\paragraph{Worked example}`,
		`\(\lim_{x \to 0} \frac{\sin x}{x} = 1\)`,
		`\emph{fundamental}`,
		`\cite{spivak}`,
		`\begin{enumerate}`,
		`\begin{itemize}`,
		`\caption{Sample values}`,
		`\includegraphics[width=0.5\linewidth]{img/sinc.png}`,
		"\\begin{equation}\nf(x) = \\frac{\\sin x}{x}\\label{eq1}\n\\end{equation}",
		`\[e^{i\pi} + 1 = 0\]`,
		`\begin{thebibliography}{99}`,
		`\bibitem{spivak}`,
		`\end{document}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q", want)
		}
	}
	if strings.Index(out, `\usepackage{hyperref}`) < strings.Index(out, `\usepackage{graphicx}`) {
		t.Error("Expected hyperref to load last")
	}
}

func TestRenderFragment(t *testing.T) {
	opts := convert.DefaultRenderOptions()
	opts.Wrapper.IncludeWrapper = false
	out := render(t, richDocument(), opts).Content
	if strings.Contains(out, `\documentclass`) || strings.Contains(out, `\begin{document}`) {
		t.Errorf("Expected fragment without wrapper, got %s", out)
	}
}

func TestRenderBookClass(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	ch := &ir.Container{Kind: ir.KindChapter, Title: ir.Plain("One")}
	ch.Append(&ir.Container{Kind: ir.KindSection, Title: ir.Plain("Inner")})
	doc.Body.Append(ch)
	doc.FrontMatter = &ir.Matter{Children: ir.Nodes{&ir.Container{Kind: ir.KindSection, Label: "abstract", Title: ir.Plain("Abstract"),
		Children: ir.Nodes{ir.NewBlock("", &ir.Paragraph{Text: ir.Plain("Summary.")})}}}}
	out := render(t, doc, convert.DefaultRenderOptions()).Content
	for _, want := range []string{`\documentclass{book}`, `\frontmatter`, `\mainmatter`, `\chapter{One}`, `\section{Inner}`, `\begin{abstract}`, `\newenvironment{abstract}`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in book output", want)
		}
	}
}

func TestRenderHeaderLevelClamp(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	outer := &ir.Container{Kind: ir.KindSection, Title: ir.Plain("A")}
	mid := &ir.Container{Kind: ir.KindSection, Title: ir.Plain("B")}
	mid.Append(&ir.Container{Kind: ir.KindSection, Title: ir.Plain("C")})
	outer.Append(mid)
	doc.Body.Append(outer)

	opts := convert.DefaultRenderOptions()
	opts.Wrapper.MaxHeaderLevel = 3
	out := render(t, doc, opts).Content
	if strings.Contains(out, `\subsubsection`) {
		t.Error("Expected depth clamped to subsection")
	}
	if strings.Count(out, `\subsection{`) != 2 {
		t.Errorf("Expected two subsections, got %s", out)
	}
}

func TestRenderEscaping(t *testing.T) {
	const text = `Cost: $5 & 10% of #1_a^b~c {x} \path`
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.Plain(text)}))

	opts := convert.DefaultRenderOptions()
	opts.Wrapper.IncludeWrapper = false
	out := render(t, doc, opts).Content
	if strings.Contains(out, ": $5") || strings.Contains(out, " & ") {
		t.Errorf("Expected specials escaped, got %s", out)
	}

	for i := 0; i < 3; i++ {
		res := (&Parser{}).Parse([]byte(out), convert.DefaultParseOptions())
		got := res.Document.Blocks()[0].Content.(*ir.Paragraph).Text.String()
		if got != text {
			t.Fatalf("Expected text preserved on pass %d, got %q", i, got)
		}
		doc = res.Document
		out = render(t, doc, opts).Content
	}
}

func TestRenderInjection(t *testing.T) {
	payloads := []string{`\input{/etc/passwd}`, `\write18{rm -rf /}`, `\immediate\write18{id}`, `\catcode` + "`" + `\@=11`, `\end{alltt}\input{x}`}
	for _, p := range payloads {
		doc := ir.NewDocument(ir.CurrentVersion)
		doc.Metadata.Title = p
		doc.Metadata.Keywords = []string{p}
		doc.Body.Append(
			&ir.Container{Kind: ir.KindSection, Title: ir.Plain(p), ID: p},
			ir.NewBlock("", &ir.Paragraph{Text: ir.SemanticText{
				ir.TextRun{Text: p},
				ir.StyledRun{Style: ir.RunStrong, Text: p},
				ir.MathRun{Source: p},
				ir.MathRun{Source: `x\) ` + p + ` \(`},
				ir.RefRun{Target: p, Display: p},
				ir.RefRun{Target: "https://x.org/" + p},
				ir.CiteRun{Citation: ir.Citation{Command: "cite", Key: p}},
				ir.IndexRun{Term: p},
				ir.UnknownRun{Tag: "footnote", Text: p},
			}}),
			ir.NewBlock("", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathDisplay, Source: p}}),
			ir.NewBlock("", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathEnvironment, Environment: "align", Source: `a \end{align}` + p}}),
			ir.NewBlock("", &ir.Code{Language: p, Code: p}),
			ir.NewBlock("", &ir.Figure{Source: p, Alt: p, Width: p, Caption: ir.Plain(p)}),
			ir.NewBlock("", &ir.Quote{Text: ir.Plain(p), Attribution: p}),
			ir.NewBlock("", &ir.List{Items: []ir.ListItem{{Text: ir.Plain(p)}}}),
			ir.NewBlock("", &ir.Table{Header: []ir.SemanticText{ir.Plain(p)}, Rows: [][]ir.SemanticText{{ir.Plain(p)}}}),
			ir.NewBlock("", &ir.Unknown{RawType: p, Raw: p}),
		)
		e := &ir.BibliographyEntry{ID: "ok", Type: "misc"}
		e.Fields.Set("title", p)
		doc.Bibliography = []*ir.BibliographyEntry{e}

		for _, backend := range []biblio.Backend{biblio.BackendBibTeX, biblio.BackendBiblatex} {
			opts := convert.DefaultRenderOptions()
			opts.Bibliography.Backend = backend
			opts.Wrapper.DocumentClass = p
			res := render(t, doc, opts)
			if found := mathproc.Unsafe(res.Content); len(found) > 0 {
				t.Errorf("Expected no denylisted sequence for %q with %s, got %v", p, backend, found)
			}
			if strings.Contains(res.Content, "^^") {
				t.Errorf("Expected no ^^ notation for %q", p)
			}
		}
	}
}

func TestRenderUnsafeMathWarning(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathDisplay, Source: `\input{x}`}}))
	res := render(t, doc, convert.DefaultRenderOptions())
	if !res.Warnings.HasCode(errors.CodeUnsafeMath) {
		t.Errorf("Expected unsafe math warning, got %v", res.Warnings)
	}
	if !strings.Contains(res.Content, `\texttt{\textbackslash{}input\{x\}}`) {
		t.Errorf("Expected math rendered as escaped text, got %s", res.Content)
	}
}

func TestRenderUnknownBlock(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("w1", &ir.Unknown{RawType: "widget", Raw: "payload 100%"}))
	res := render(t, doc, convert.DefaultRenderOptions())
	if !strings.Contains(res.Content, "Unsupported block: widget") {
		t.Errorf("Expected diagnostic marker, got %s", res.Content)
	}
	if !strings.Contains(res.Content, `payload 100\%`) {
		t.Errorf("Expected escaped raw payload, got %s", res.Content)
	}
	if !res.Warnings.HasCode(errors.CodeUnknownBlock) {
		t.Errorf("Expected unknown block warning, got %v", res.Warnings)
	}
}

func TestRenderLinks(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.SemanticText{
		ir.RefRun{Target: "https://example.org/a b#c", Display: "site"},
		ir.TextRun{Text: " "},
		ir.RefRun{Target: "javascript:alert(1)", Display: "bad"},
		ir.TextRun{Text: " "},
		ir.RefRun{Target: "sec:one"},
	}}))
	res := render(t, doc, convert.DefaultRenderOptions())
	if !strings.Contains(res.Content, `\href{https://example.org/a%20b\#c}{site}`) {
		t.Errorf("Expected encoded href, got %s", res.Content)
	}
	if !res.Warnings.HasCode(errors.CodeUnsafeURL) || strings.Contains(res.Content, `{javascript`) {
		t.Error("Expected unsafe url warning")
	}
	if !strings.Contains(res.Content, `\ref{sec:one}`) {
		t.Errorf("Expected internal reference, got %s", res.Content)
	}
}

func TestRenderBiblatex(t *testing.T) {
	opts := convert.DefaultRenderOptions()
	opts.Bibliography.Backend = biblio.BackendBiblatex
	out := render(t, richDocument(), opts).Content
	for _, want := range []string{`\begin{filecontents*}[overwrite]{\jobname.bib}`, `\addbibresource{\jobname.bib}`, `\printbibliography`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q", want)
		}
	}

	res := (&Parser{}).Parse([]byte(out), convert.DefaultParseOptions())
	if len(res.Document.Bibliography) != 1 || res.Document.Bibliography[0].Fields.Value("year") != "1967" {
		t.Errorf("Expected embedded database to parse back, got %+v", res.Document.Bibliography)
	}
}

func TestRenderHints(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	sec := &ir.Container{Kind: ir.KindSection, Title: ir.Plain("Centered"), Hints: []ir.RenderingHint{
		{Type: ir.HintAlignment, Value: "center", Inheritance: ir.InheritChildren},
		{Type: ir.HintPageBreak, Value: "before"},
	}}
	sec.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.Plain("Middle.")}))
	doc.Body.Append(sec)
	out := render(t, doc, convert.DefaultRenderOptions()).Content
	if !strings.Contains(out, "\\clearpage\n\\section{Centered}") {
		t.Errorf("Expected page break before section, got %s", out)
	}
	if !strings.Contains(out, "\\begin{center}\nMiddle.\n\\end{center}") {
		t.Errorf("Expected inherited alignment, got %s", out)
	}

	res := (&Parser{}).Parse([]byte(out), convert.DefaultParseOptions())
	p := res.Document.Blocks()[0]
	if v, _ := p.Hints[len(p.Hints)-1].Value.(string); v != "center" {
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
