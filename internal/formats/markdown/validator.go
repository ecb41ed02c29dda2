package markdown

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
	htmlfmt "github.com/FocuswithJustin/edudoc/internal/formats/html"
)

// Validator checks Markdown for malformed front matter, unbalanced or
// unsafe math, unsafe link targets, invalid citation keys and active
// content in raw HTML.
type Validator struct {
	Limits scan.Limits
}

type sourceCheck struct {
	res    *convert.ValidationResult
	ps     *parseState
	lines  scan.Lines
	offset int
	cuts   quoteCuts
}

// add locates an issue found at an offset in the protected body.
func (c *sourceCheck) add(is errors.Issue, off int) {
	off = c.offset + c.ps.math.origin(c.cuts.origin(off))
	line, col := c.lines.Locate(off)
	c.res.Add(is.At(line, col).WithOffset(off))
}

// Validate implements convert.Validator.
func (v *Validator) Validate(content []byte) *convert.ValidationResult {
	res := convert.NewValidationResult()
	input, issues := base.Input(content, v.Limits)
	res.Add(issues...)
	if issues.HasFatal() {
		return res
	}
	limits := v.Limits.Normalize()
	input = stripPlaceholders.Replace(input)
	c := &sourceCheck{
		res:   res,
		lines: scan.LineStarts(input),
		ps: &parseState{
			opts:   convert.ParseOptions{Limits: limits},
			res:    convert.NewParseResult(FormatID),
			limits: limits,
			math:   &mathTable{limits: limits},
		},
	}

	body := input
	if y, rest, off, ok := splitFrontMatter(input, limits.MaxSpan); ok {
		body, c.offset = rest, off
		if fm, err := decodeFrontMatter(y); err != nil {
			res.Add(errors.Invalidf(errors.CodeMalformed, "front matter: %v", err).At(1, 1))
		} else if _, errs := fm.entries(); len(errs) > 0 {
			for _, err := range errs {
				res.Add(errors.Warnf(errors.CodeBibliographyParse, "%v", err).At(1, 1))
			}
		}
	}

	c.ps.src = []byte(c.ps.math.protect(body))
	for _, is := range c.ps.math.issues {
		off := c.offset + is.Offset
		line, col := c.lines.Locate(off)
		if is.Code == errors.CodeUnbalancedMath {
			is = errors.Invalidf(is.Code, "%s", is.Message)
		}
		res.Add(is.At(line, col).WithOffset(off))
	}
	for _, span := range c.ps.math.spans {
		off := c.offset + span.off
		line, col := c.lines.Locate(off)
		for _, is := range mathproc.Validate(span.expr) {
			res.Add(is.At(line, col).WithOffset(off))
		}
	}

	if capped, cuts := capQuotes(c.ps.src, limits.MaxDepth); len(cuts) > 0 {
		c.ps.src, c.cuts = capped, cuts
		res.Add(errors.Warnf(errors.CodeScanLimit, "nesting deeper than %d flattened to text", limits.MaxDepth))
	}

	root := markdown.Parser().Parse(text.NewReader(c.ps.src))
	c.walk(root)
	return res
}

func (c *sourceCheck) walk(root ast.Node) {
	block := 0
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeBlock && n.Lines() != nil && n.Lines().Len() > 0 {
			block = n.Lines().At(0).Start
		}
		switch v := n.(type) {
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading, *east.TableCell:
			c.citations(n, block)
		case *ast.Link:
			if dest := c.ps.literal(string(v.Destination)); !htmlfmt.SafeURL(dest, false) {
				c.add(errors.Unsafef(errors.CodeUnsafeURL, "link to %q", dest), block)
			}
		case *ast.Image:
			if dest := c.ps.literal(string(v.Destination)); !htmlfmt.SafeURL(dest, true) {
				c.add(errors.Unsafef(errors.CodeUnsafeURL, "image source %q", dest), block)
			}
		case *ast.AutoLink:
			if dest := string(v.URL(c.ps.src)); !htmlfmt.SafeURL(dest, false) {
				c.add(errors.Unsafef(errors.CodeUnsafeURL, "link to %q", dest), block)
			}
		case *ast.RawHTML:
			var sb strings.Builder
			for i := 0; i < v.Segments.Len(); i++ {
				seg := v.Segments.At(i)
				sb.Write(seg.Value(c.ps.src))
			}
			for _, is := range htmlfmt.ActiveContent(sb.String()) {
				c.add(is, block)
			}
		case *ast.HTMLBlock:
			raw := c.ps.rawLines(v)
			if v.HasClosure() {
				raw += string(v.ClosureLine.Value(c.ps.src))
			}
			for _, is := range htmlfmt.ActiveContent(raw) {
				c.add(is, block)
			}
		}
		return ast.WalkContinue, nil
	})
}

// citations decodes the inline text of n and reports citation groups with
// invalid keys.
func (c *sourceCheck) citations(n ast.Node, off int) {
	scratch := convert.NewParseResult(FormatID)
	c.ps.res = scratch
	c.ps.inline(n)
	for _, is := range scratch.Warnings {
		if is.Code == errors.CodeInvalidKey {
			c.add(errors.Invalidf(errors.CodeInvalidKey, "%s", is.Message), off)
		}
	}
}

// ValidateDocument checks a document before it is rendered as Markdown.
func (v *Validator) ValidateDocument(doc *ir.Document) *convert.ValidationResult {
	return base.CheckDocument(doc, "Markdown", checkURLs)
}

func checkURLs(b *ir.Block) errors.Issues {
	var issues errors.Issues
	if f, ok := b.Content.(*ir.Figure); ok && !htmlfmt.SafeURL(f.Source, true) {
		issues = append(issues, errors.Unsafef(errors.CodeUnsafeURL, "figure source %q", f.Source))
	}
	ir.EachText(b, func(t ir.SemanticText) {
		for _, r := range t {
			if ref, ok := r.(ir.RefRun); ok && base.IsExternal(ref.Target) && !htmlfmt.SafeURL(ref.Target, false) {
				issues = append(issues, errors.Unsafef(errors.CodeUnsafeURL, "link to %q", ref.Target))
			}
		}
	})
	return issues
}
