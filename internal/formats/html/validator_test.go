package html

import (
	"strings"
	"testing"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

func validate(src string) *convert.ValidationResult {
	return (&Validator{}).Validate([]byte(src))
}

func TestValidateClean(t *testing.T) {
	res := validate(samplePage)
	if !res.Valid {
		t.Errorf("Expected sample to validate, got %v", res.Errors)
	}
}

func TestValidateRenderedOutput(t *testing.T) {
	for _, renderer := range []convert.MathRenderer{convert.MathJax, convert.KaTeX} {
		opts := convert.DefaultRenderOptions()
		opts.Math.Renderer = renderer
		out := (&Renderer{}).Render(richDocument(), opts).Content
		res := validate(out)
		if !res.Valid {
			t.Errorf("Expected %s output to validate, got %v", renderer, res.Errors)
		}
		if res.Warnings.HasCode(errors.CodeMissingRenderer) {
			t.Errorf("Expected %s script recognised, got %v", renderer, res.Warnings)
		}
	}
}

func TestValidateBalance(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unclosed", "<div>\n<section>text</div>", 2},
		{"stray", "<p>ok</p>\n\n</span>", 3},
		{"never closed", "<article>\n<p>x", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validate(tt.src)
			if res.Valid || !res.Errors.HasCode(errors.CodeUnbalancedTag) {
				t.Fatalf("Expected unbalanced tag, got %v", res.Errors)
			}
			if res.Errors[0].Line != tt.line {
				t.Errorf("Expected line %d, got %d", tt.line, res.Errors[0].Line)
			}
		})
	}
}

func TestValidateOptionalEndTags(t *testing.T) {
	res := validate("<ul><li>a<li>b</ul><p>one<p>two<table><tr><td>x</table>")
	if !res.Valid {
		t.Errorf("Expected implied end tags accepted, got %v", res.Errors)
	}
}

func TestValidateActiveContent(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"script", `<p>x</p><script>alert(1)</script>`, errors.CodeScriptElement},
		{"remote script", `<script src="https://evil.example/x.js"></script>`, errors.CodeScriptElement},
		{"iframe", `<iframe src="https://example.org"></iframe>`, errors.CodeScriptElement},
		{"handler", `<img src="a.png" onerror="alert(1)">`, errors.CodeEventHandler},
		{"javascript url", `<a href=" java&#x09;script:alert(1)">x</a>`, errors.CodeUnsafeURL},
		{"data url", `<a href="data:text/html,x">x</a>`, errors.CodeUnsafeURL},
		{"style", `<p style="background: url(javascript:alert(1))">x</p>`, errors.CodeUnsafeURL},
		{"refresh", `<meta http-equiv="refresh" content="0;url=https://x">`, errors.CodeUnsafeURL},
		{"srcdoc", `<iframe srcdoc="<b>x</b>"></iframe>`, errors.CodeScriptElement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validate(tt.src)
			if res.Valid || !res.Errors.HasCode(tt.code) || !res.Errors.HasCategory(errors.CategorySecurity) {
				t.Errorf("Expected security error %s, got %v", tt.code, res.Errors)
			}
		})
	}
}

func TestValidateDataImage(t *testing.T) {
	res := validate(`<img src="data:image/png;base64,iVBORw0KGgo=" alt="">`)
	if !res.Valid {
		t.Errorf("Expected raster data image accepted, got %v", res.Errors)
	}
	res = validate(`<img src="data:image/svg+xml,<svg onload=alert(1)>" alt="">`)
	if res.Valid {
		t.Error("Expected svg data image rejected")
	}
}

func TestValidateMissingRenderer(t *testing.T) {
	res := validate(`<p>Euler: <span class="math inline">\(e^{i\pi}\)</span></p><pre>\(not math\)</pre>`)
	if !res.Valid || !res.Warnings.HasCode(errors.CodeMissingRenderer) {
		t.Errorf("Expected missing renderer warning, got %v %v", res.Errors, res.Warnings)
	}
	res = validate(`<pre><code>\(x\)</code></pre>`)
	if res.Warnings.HasCode(errors.CodeMissingRenderer) {
		t.Error("Expected code content ignored")
	}
	res = validate(`<p><math><mi>x</mi></math> and \(y\)</p>`)
	if res.Warnings.HasCode(errors.CodeMissingRenderer) {
		t.Error("Expected native MathML to count as rendered")
	}
}

func TestValidateTagErrorCap(t *testing.T) {
	res := validate(strings.Repeat("</b>", 100))
	if len(res.Errors) != maxTagErrors {
		t.Errorf("Expected %d errors, got %d", maxTagErrors, len(res.Errors))
	}
	if !res.Warnings.HasCode(errors.CodeScanLimit) {
		t.Error("Expected suppression warning")
	}
}

func TestValidateDocument(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(
		ir.NewBlock("b1", &ir.Paragraph{Text: ir.SemanticText{
			ir.CiteRun{Citation: ir.Citation{Key: "1abc"}},
			ir.RefRun{Target: "javascript:alert(1)"},
			ir.RefRun{Target: "sec:intro"},
		}}),
		ir.NewBlock("b2", &ir.Figure{Source: "vbscript:x"}),
		ir.NewBlock("b3", &ir.Unknown{RawType: "widget"}),
		ir.NewBlock("b4", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathDisplay, Source: `\frac{1}{2`}}),
	)
	res := (&Validator{}).ValidateDocument(doc)
	for _, code := range []string{errors.CodeInvalidKey, errors.CodeUnsafeURL, errors.CodeUnbalancedBraces} {
		if !res.Errors.HasCode(code) {
			t.Errorf("Expected %s, got %v", code, res.Errors)
		}
	}
	if !res.Warnings.HasCode(errors.CodeUnknownBlock) {
		t.Errorf("Expected unknown block warning, got %v", res.Warnings)
	}
	unsafe := 0
	for _, is := range res.Errors {
		if is.Code == errors.CodeUnsafeURL {
			unsafe++
		}
	}
	if unsafe != 2 {
		t.Errorf("Expected link and figure flagged, got %d", unsafe)
	}
}

func TestValidateFatal(t *testing.T) {
	res := (&Validator{}).Validate([]byte("a\x00b"))
	if res.Valid || !res.Errors.HasFatal() {
		t.Errorf("Expected fatal input error, got %v", res.Errors)
	}
}
