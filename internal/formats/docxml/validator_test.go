package docxml

import (
	"testing"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

func validate(src string) *convert.ValidationResult {
	return (&Validator{}).Validate([]byte(src))
}

func TestValidateClean(t *testing.T) {
	if res := validate(sampleDoc); !res.Valid || len(res.Warnings) != 0 {
		t.Errorf("Expected sample to validate, got %v %v", res.Errors, res.Warnings)
	}
}

func TestValidateRenderedOutput(t *testing.T) {
	out := (&Renderer{}).Render(fullDocument(), convert.DefaultRenderOptions()).Content
	res := validate(out)
	if !res.Valid {
		t.Errorf("Expected rendered output to validate, got %v", res.Errors)
	}
	if !res.Warnings.HasCode(errors.CodeUnknownBlock) {
		t.Errorf("Expected the unknown block to be reported, got %v", res.Warnings)
	}
}

func TestValidateWellFormedness(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		code     string
		category errors.Category
	}{
		{"unclosed", "<document>\n<body>\n</document>", errors.CodeMalformed, errors.CategoryValidation},
		{"entity", `<!DOCTYPE d [<!ENTITY x "y">]><document/>`, errors.CodeEntityDecl, errors.CategorySecurity},
		{"wrong root", "<html/>", errors.CodeMalformed, errors.CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validate(tt.src)
			if res.Valid || !res.Errors.HasCode(tt.code) || !res.Errors.HasCategory(tt.category) {
				t.Errorf("Expected %s, got %v", tt.code, res.Errors)
			}
		})
	}
}

func TestValidateUnsafeTargets(t *testing.T) {
	res := validate(wrap(`<figure id="f1" src="javascript:alert(1)"/>` +
		`<paragraph id="p1"><xref target="vbscript:x">a</xref> <xref target="sec:intro"/> <xref target="https://example.org"/></paragraph>`))
	n := 0
	for _, is := range res.Errors {
		if is.Code == errors.CodeUnsafeURL {
			n++
			if is.Category != errors.CategorySecurity {
				t.Errorf("Expected security category, got %s", is.Category)
			}
		}
	}
	if n != 2 {
		t.Errorf("Expected figure and one link flagged, got %v", res.Errors)
	}
	for _, is := range res.Errors {
		if is.Code == errors.CodeUnsafeURL && is.Suggestion != "f1" && is.Suggestion != "p1" {
			t.Errorf("Expected issue located at its block, got %q", is.Suggestion)
		}
	}
}

func TestValidateCitationKeys(t *testing.T) {
	res := validate(wrap(`<paragraph><cite key="1abc"/><cite key="a b"/><cite key="ok"/></paragraph>`))
	n := 0
	for _, is := range res.Errors {
		if is.Code == errors.CodeInvalidKey {
			n++
		}
	}
	if n != 2 {
		t.Errorf("Expected two invalid keys, got %v", res.Errors)
	}
}

func TestValidateMath(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"unbalanced inline", `<paragraph><math>\frac{1}{2</math></paragraph>`, errors.CodeUnbalancedBraces},
		{"file access", `<math kind="display"><source>\input{/etc/passwd}</source></math>`, errors.CodeFileAccess},
		{"shell escape in run", `<paragraph><math>\write18{ls}</math></paragraph>`, errors.CodeShellEscape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validate(wrap(tt.body))
			if res.Valid || !res.Errors.HasCode(tt.code) {
				t.Errorf("Expected %s, got %v", tt.code, res.Errors)
			}
		})
	}
}

func TestValidateStructureWarnings(t *testing.T) {
	res := validate(`<document dir="up"><bibliography><entry type="book"/></bibliography></document>`)
	if res.Valid || !res.Errors.HasCode(errors.CodeMalformed) {
		t.Errorf("Expected bad direction error, got %v", res.Errors)
	}
	if !res.Warnings.HasCode(errors.CodeBibliographyParse) {
		t.Errorf("Expected entry warning, got %v", res.Warnings)
	}
}

func TestValidateDocument(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(
		ir.NewBlock("b1", &ir.Paragraph{Text: ir.SemanticText{ir.CiteRun{Citation: ir.Citation{Key: "1abc"}}}}),
		ir.NewBlock("b2", &ir.Unknown{RawType: "widget"}),
		ir.NewBlock("b3", &ir.MathBlock{Expr: ir.MathExpression{Kind: ir.MathDisplay, Source: `\frac{1}{2`}}),
	)
	res := (&Validator{}).ValidateDocument(doc)
	for _, code := range []string{errors.CodeInvalidKey, errors.CodeUnbalancedBraces} {
		if !res.Errors.HasCode(code) {
			t.Errorf("Expected %s, got %v", code, res.Errors)
		}
	}
	if !res.Warnings.HasCode(errors.CodeUnknownBlock) {
		t.Errorf("Expected unknown block warning, got %v", res.Warnings)
	}
}

func TestValidateFatal(t *testing.T) {
	res := validate("<document>\x00</document>")
	if res.Valid || !res.Errors.HasFatal() {
		t.Errorf("Expected fatal input error, got %v", res.Errors)
	}
}

func FuzzValidate(f *testing.F) {
	f.Add([]byte(sampleDoc))
	f.Add([]byte(wrap(`<math><source>\input{x}</source></math>`)))
	f.Fuzz(func(t *testing.T, data []byte) {
		(&Validator{}).Validate(data)
	})
}
