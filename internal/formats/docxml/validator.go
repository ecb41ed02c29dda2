package docxml

import (
	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
	xmlutil "github.com/FocuswithJustin/edudoc/core/xml"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
	htmlfmt "github.com/FocuswithJustin/edudoc/internal/formats/html"
)

// Validator checks the canonical XML form: well-formedness, entity
// declarations, the root element, unsafe link and image targets, citation
// keys and math.
type Validator struct {
	Limits scan.Limits
}

// Validate implements convert.Validator.
func (v *Validator) Validate(content []byte) *convert.ValidationResult {
	res := convert.NewValidationResult()
	text, issues := base.Input(content, v.Limits)
	res.Add(issues...)
	if issues.HasFatal() {
		return res
	}
	data := []byte(text)
	wf := xmlutil.Validate(data, elementDepth(v.Limits.Normalize()))
	res.Add(wf...)
	if len(wf.Errors()) > 0 {
		return res
	}
	doc, err := xmlutil.Parse(data)
	if err != nil {
		res.Add(parseIssue(err))
		return res
	}
	if root := doc.Root(); root == nil || root.Name() != elDocument {
		res.Add(errors.Invalidf(errors.CodeMalformed, "root element is <%s>, want <%s>", rootName(root), elDocument))
		return res
	}
	for _, r := range checks {
		nodes, err := doc.XPath(r.path)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			res.Add(located(n, r.check(n))...)
		}
	}
	return res
}

// located points issues at the nearest element with an id.
func located(n *xmlutil.Node, issues errors.Issues) errors.Issues {
	if len(issues) == 0 {
		return nil
	}
	if owner, _ := n.XPath("ancestor-or-self::*[@id][1]"); len(owner) > 0 {
		return base.WithBlock(issues, owner[0].Attr("id"))
	}
	return issues
}

type rule struct {
	path  string
	check func(n *xmlutil.Node) errors.Issues
}

var checks = []rule{
	{"//figure", func(n *xmlutil.Node) errors.Issues {
		if src := n.Attr("src"); !htmlfmt.SafeURL(src, true) {
			return errors.Issues{errors.Unsafef(errors.CodeUnsafeURL, "figure source %q", src)}
		}
		return nil
	}},
	{"//xref", func(n *xmlutil.Node) errors.Issues {
		if t := n.Attr("target"); base.IsExternal(t) && !htmlfmt.SafeURL(t, false) {
			return errors.Issues{errors.Unsafef(errors.CodeUnsafeURL, "link to %q", t)}
		}
		return nil
	}},
	{"//cite | //citation", func(n *xmlutil.Node) errors.Issues {
		if err := biblio.CheckKey(n.Attr("key")); err != nil {
			return errors.Issues{errors.Invalidf(errors.CodeInvalidKey, "%v", err)}
		}
		return nil
	}},
	{"//math", func(n *xmlutil.Node) errors.Issues {
		if src := n.Child(elSource); src != nil {
			return mathproc.Validate(ir.MathExpression{
				Kind:        ir.MathKind(n.Attr("kind")),
				Environment: n.Attr("env"),
				Source:      src.Text(),
			})
		}
		return mathproc.Validate(ir.MathExpression{Kind: ir.MathInline, Source: n.Text()})
	}},
	{"//unknown", func(n *xmlutil.Node) errors.Issues {
		return errors.Issues{errors.Warnf(errors.CodeUnknownBlock, "block of type %q has no known payload", n.Attr("type"))}
	}},
	{"//bibliography/entry", func(n *xmlutil.Node) errors.Issues {
		if n.Attr("id") == "" {
			return errors.Issues{errors.Warnf(errors.CodeBibliographyParse, "bibliography entry without id")}
		}
		return nil
	}},
	{"//*[@dir]", func(n *xmlutil.Node) errors.Issues {
		if d := ir.Direction(n.Attr("dir")); !d.IsValid() {
			return errors.Issues{errors.Invalidf(errors.CodeMalformed, "<%s> has unknown direction %q", n.Name(), d)}
		}
		return nil
	}},
}

// ValidateDocument implements convert.Validator. Every tree has a docxml
// form, so only the shared checks apply.
func (v *Validator) ValidateDocument(doc *ir.Document) *convert.ValidationResult {
	return base.CheckDocument(doc, "docxml", nil)
}
