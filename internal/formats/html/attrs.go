package html

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/FocuswithJustin/edudoc/core/ir"
)

// reservedClasses carry document structure and never become css-class
// hints.
var reservedClasses = map[string]bool{
	"division": true, "chapter": true, "section": true,
	"heading": true, "math": true, "inline": true, "display": true, "environment": true,
	"unsupported": true, "citation": true, "xref": true, "index": true, "unknown-run": true,
	"bibliography": true, "references": true, "field": true, "label": true,
	"front-matter": true, "back-matter": true, "doc-header": true,
	"doc-title": true, "doc-authors": true, "doc-date": true, "attribution": true,
}

var (
	classToken    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)
	cssLength     = regexp.MustCompile(`^\d*\.?\d+(px|pt|em|rem|%|vw|vh|cm|mm|in|ex|ch)$`)
	cssColor      = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|[a-zA-Z]{3,20}|rgba?\([0-9.,%\s]{5,40}\)|hsla?\([0-9.,%\s]{5,40}\))$`)
	fontSizeWords = []string{"xx-small", "x-small", "small", "medium", "large", "x-large", "xx-large", "smaller", "larger"}
	alignments    = []string{"left", "right", "center", "justify", "start", "end"}
)

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func classes(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(classes(n), class)
}

// styleDecl is one CSS declaration.
type styleDecl struct {
	prop, value string
}

func parseStyle(s string) []styleDecl {
	var out []styleDecl
	for _, d := range strings.Split(s, ";") {
		prop, val, ok := strings.Cut(d, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important"))
		if prop != "" && val != "" {
			out = append(out, styleDecl{prop, val})
		}
	}
	return out
}

// styleHint converts one CSS value to a hint value, or reports that the
// value is not one this backend writes.
func styleHint(typ, v string) (string, bool) {
	switch typ {
	case ir.HintAlignment:
		return v, slices.Contains(alignments, strings.ToLower(v))
	case ir.HintFontSize:
		return v, cssLength.MatchString(v) || slices.Contains(fontSizeWords, strings.ToLower(v))
	case ir.HintColor:
		return v, cssColor.MatchString(v)
	case ir.HintWidth:
		return v, cssLength.MatchString(v)
	}
	return "", false
}

// hintsFrom reads rendering hints from an element's class and style
// attributes.
func hintsFrom(n *html.Node) []ir.RenderingHint {
	var out []ir.RenderingHint
	var extra []string
	for _, c := range classes(n) {
		if !reservedClasses[c] && classToken.MatchString(c) {
			extra = append(extra, c)
		}
	}
	if len(extra) > 0 {
		out = append(out, ir.RenderingHint{Type: ir.HintCSSClass, Value: strings.Join(extra, " ")})
	}
	var before, after bool
	for _, d := range parseStyle(attr(n, "style")) {
		switch d.prop {
		case "text-align":
			if v, ok := styleHint(ir.HintAlignment, d.value); ok {
				out = append(out, ir.RenderingHint{Type: ir.HintAlignment, Value: v})
			}
		case "font-size":
			if v, ok := styleHint(ir.HintFontSize, d.value); ok {
				out = append(out, ir.RenderingHint{Type: ir.HintFontSize, Value: v})
			}
		case "color":
			if v, ok := styleHint(ir.HintColor, d.value); ok {
				out = append(out, ir.RenderingHint{Type: ir.HintColor, Value: v})
			}
		case "width":
			if n.Data != "img" {
				if v, ok := styleHint(ir.HintWidth, d.value); ok {
					out = append(out, ir.RenderingHint{Type: ir.HintWidth, Value: v})
				}
			}
		case "break-before", "page-break-before":
			before = d.value == "page" || d.value == "always"
		case "break-after", "page-break-after":
			after = d.value == "page" || d.value == "always"
		}
	}
	switch {
	case before && after:
		out = append(out, ir.RenderingHint{Type: ir.HintPageBreak, Value: "both"})
	case before:
		out = append(out, ir.RenderingHint{Type: ir.HintPageBreak, Value: "before"})
	case after:
		out = append(out, ir.RenderingHint{Type: ir.HintPageBreak, Value: "after"})
	}
	return out
}
