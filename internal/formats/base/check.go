package base

import (
	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
)

// BlockCheck reports format-specific findings for one block.
type BlockCheck func(b *ir.Block) errors.Issues

// CheckDocument runs the tree checks every backend shares before render:
// structure, math in blocks and runs, citation keys, unknown blocks and
// bibliography entries. format names the target in unknown-block warnings.
// check, when set, adds findings for each block.
func CheckDocument(doc *ir.Document, format string, check BlockCheck) *convert.ValidationResult {
	res := convert.ValidateTree(doc)
	if doc == nil {
		return res
	}
	doc.WalkDocument(func(n ir.Node, _ int) bool {
		b, ok := n.(*ir.Block)
		if !ok {
			return true
		}
		switch p := b.Content.(type) {
		case *ir.MathBlock:
			res.Add(WithBlock(mathproc.Validate(p.Expr), b.ID)...)
		case *ir.Unknown:
			res.Add(errors.Warnf(errors.CodeUnknownBlock, "block %s of type %q has no %s form", b.ID, p.RawType, format))
		}
		ir.EachText(b, func(t ir.SemanticText) {
			for _, r := range t {
				switch run := r.(type) {
				case ir.CiteRun:
					if err := biblio.CheckKey(run.Citation.Key); err != nil {
						res.Add(errors.Invalidf(errors.CodeInvalidKey, "%v", err).WithSuggestion(b.ID))
					}
				case ir.MathRun:
					res.Add(WithBlock(mathproc.Validate(ir.MathExpression{Kind: ir.MathInline, Source: run.Source}), b.ID)...)
				}
			}
		})
		if check != nil {
			res.Add(WithBlock(check(b), b.ID)...)
		}
		return true
	})
	for _, e := range doc.Bibliography {
		if e != nil {
			res.Add(biblio.ValidateEntry(e)...)
		}
	}
	return res
}

// WithBlock fills in the block id as the suggestion of issues that have
// none, so findings point back at their block.
func WithBlock(issues errors.Issues, id string) errors.Issues {
	for i := range issues {
		if issues[i].Suggestion == "" {
			issues[i].Suggestion = id
		}
	}
	return issues
}
