package html

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// Validator checks markup for tag balance, active content and math that
// has no renderer to display it.
type Validator struct {
	Limits scan.Limits
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true, "keygen": true,
}

// optionalEnd elements may be closed implicitly by their parent.
var optionalEnd = map[string]bool{
	"p": true, "li": true, "dt": true, "dd": true, "tr": true, "td": true, "th": true,
	"thead": true, "tbody": true, "tfoot": true, "option": true, "optgroup": true,
	"colgroup": true, "caption": true, "rt": true, "rp": true,
	"html": true, "head": true, "body": true,
}

// opaqueElements hold text that is never typeset as math.
var opaqueElements = map[string]bool{"pre": true, "code": true, "script": true, "style": true, "textarea": true}

const maxTagErrors = 10

type openTag struct {
	name string
	off  int
}

type scriptMode int

const (
	noScript scriptMode = iota
	externalScript
	inlineScript
	dataScript
)

type tagCheck struct {
	res    *convert.ValidationResult
	lines  scan.Lines
	stack  []openTag
	open   map[string]int
	opaque int
	script scriptMode
	at     int

	tagErrors int
	renderer  bool
	texMath   bool
}

func (t *tagCheck) add(is errors.Issue, off int) {
	line, col := t.lines.Locate(off)
	t.res.Add(is.At(line, col).WithOffset(off))
}

func (t *tagCheck) unbalanced(off int, format string, args ...any) {
	t.tagErrors++
	switch {
	case t.tagErrors <= maxTagErrors:
		t.add(errors.Invalidf(errors.CodeUnbalancedTag, format, args...), off)
	case t.tagErrors == maxTagErrors+1:
		t.res.Add(errors.Warnf(errors.CodeScanLimit, "further tag balance errors suppressed"))
	}
}

// Validate implements convert.Validator.
func (v *Validator) Validate(content []byte) *convert.ValidationResult {
	res := convert.NewValidationResult()
	text, issues := base.Input(content, v.Limits)
	res.Add(issues...)
	if issues.HasFatal() {
		return res
	}
	t := &tagCheck{res: res, lines: scan.LineStarts(text), open: make(map[string]int)}
	z := html.NewTokenizer(strings.NewReader(text))
	offset := 0
	for {
		tt := z.Next()
		start := offset
		offset += len(z.Raw())
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				t.add(errors.Invalidf(errors.CodeMalformed, "%v", z.Err()), start)
			}
			t.finish()
			return res
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			t.start(tok, start, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			tok := z.Token()
			t.end(tok.Data, start)
		case html.TextToken:
			t.text(string(z.Text()))
		}
	}
}

func (t *tagCheck) start(tok html.Token, off int, selfClosing bool) {
	name := tok.Data
	for _, is := range attrIssues(tok) {
		t.add(is, off)
	}
	switch {
	case name == "script":
		t.scriptStart(tok, off)
	case activeElements[name]:
		t.add(errors.Unsafef(errors.CodeScriptElement, "<%s> element", name), off)
	case name == "math":
		t.renderer = true
	}
	if selfClosing || voidElements[name] {
		return
	}
	t.stack = append(t.stack, openTag{name, off})
	t.open[name]++
	if opaqueElements[name] {
		t.opaque++
	}
}

func (t *tagCheck) scriptStart(tok html.Token, off int) {
	src := tokenAttr(tok, "src")
	typ := strings.ToLower(strings.TrimSpace(tokenAttr(tok, "type")))
	t.at = off
	switch {
	case strings.HasPrefix(typ, "math/tex"):
		t.script = dataScript
		t.texMath = true
	case src != "":
		if !mathScript(src) {
			t.add(errors.Unsafef(errors.CodeScriptElement, "script loads %s", src), off)
		} else {
			t.renderer = true
		}
		t.script = externalScript
	default:
		t.script = inlineScript
	}
}

func (t *tagCheck) end(name string, off int) {
	if name == "script" {
		t.script = noScript
	}
	if voidElements[name] {
		return
	}
	if t.open[name] == 0 {
		t.unbalanced(off, "unexpected </%s>", name)
		return
	}
	i := len(t.stack) - 1
	for t.stack[i].name != name {
		i--
	}
	for _, o := range t.stack[i+1:] {
		if !optionalEnd[o.name] {
			t.unbalanced(o.off, "<%s> is not closed before </%s>", o.name, name)
		}
		t.pop(o.name)
	}
	t.pop(name)
	t.stack = t.stack[:i]
}

func (t *tagCheck) pop(name string) {
	t.open[name]--
	if opaqueElements[name] {
		t.opaque--
	}
}

func (t *tagCheck) text(s string) {
	switch t.script {
	case externalScript:
		if strings.TrimSpace(s) != "" {
			t.add(errors.Unsafef(errors.CodeScriptElement, "script with src has an inline body"), t.at)
		}
		return
	case inlineScript:
		if strings.TrimSpace(s) != katexBootstrap {
			t.add(errors.Unsafef(errors.CodeScriptElement, "inline script"), t.at)
		}
		return
	case dataScript:
		return
	}
	if t.opaque == 0 && (strings.Contains(s, `\(`) || strings.Contains(s, `\[`) || strings.Contains(s, "$$")) {
		t.texMath = true
	}
}

func (t *tagCheck) finish() {
	for _, o := range t.stack {
		if !optionalEnd[o.name] {
			t.unbalanced(o.off, "<%s> is never closed", o.name)
		}
	}
	if t.texMath && !t.renderer {
		t.res.Add(errors.Warnf(errors.CodeMissingRenderer, "document contains TeX math but loads no math renderer").
			WithSuggestion(mathJaxScript))
	}
}

func tokenAttr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// attrIssues reports attributes that run script or load unsafe URLs.
func attrIssues(tok html.Token) errors.Issues {
	var out errors.Issues
	image := tok.Data == "img" || tok.Data == "source"
	for _, a := range tok.Attr {
		key := strings.ToLower(a.Key)
		switch {
		case strings.HasPrefix(key, "on"):
			out = append(out, errors.Unsafef(errors.CodeEventHandler, "event handler %s on <%s>", key, tok.Data))
		case deniedAttributes[key]:
			out = append(out, errors.Unsafef(errors.CodeScriptElement, "attribute %s on <%s>", key, tok.Data))
		case urlAttributes[key] && !safeURLAttr(key, a.Val, image):
			out = append(out, errors.Unsafef(errors.CodeUnsafeURL, "unsafe URL in %s on <%s>", key, tok.Data))
		case key == "style" && !safeCSS(a.Val):
			out = append(out, errors.Unsafef(errors.CodeUnsafeURL, "unsafe style on <%s>", tok.Data))
		}
	}
	if tok.Data == "meta" && strings.EqualFold(strings.TrimSpace(tokenAttr(tok, "http-equiv")), "refresh") {
		out = append(out, errors.Unsafef(errors.CodeUnsafeURL, "meta refresh"))
	}
	return out
}

// ActiveContent reports the elements and attributes of a markup fragment
// that could execute script or load an unsafe URL.
func ActiveContent(markup string) errors.Issues {
	var out errors.Issues
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if activeElements[tok.Data] {
				out = append(out, errors.Unsafef(errors.CodeScriptElement, "<%s> element", tok.Data))
			}
			out = append(out, attrIssues(tok)...)
		}
	}
}

// hasActiveContent reports whether a markup fragment contains anything
// that could execute or navigate.
func hasActiveContent(markup string) bool {
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if activeElements[tok.Data] || strippedElements[tok.Data] || len(attrIssues(tok)) > 0 {
				return true
			}
		}
	}
}

// ValidateDocument implements convert.Validator. It reports what the
// renderer would have to drop or degrade.
func (v *Validator) ValidateDocument(doc *ir.Document) *convert.ValidationResult {
	return base.CheckDocument(doc, "HTML", checkURLs)
}

// checkURLs reports figure sources and link targets the renderer would drop.
func checkURLs(b *ir.Block) errors.Issues {
	var out errors.Issues
	if f, ok := b.Content.(*ir.Figure); ok && !SafeURL(f.Source, true) {
		out = append(out, errors.Unsafef(errors.CodeUnsafeURL, "figure source %q", f.Source))
	}
	ir.EachText(b, func(t ir.SemanticText) {
		for _, r := range t {
			if ref, ok := r.(ir.RefRun); ok && base.IsExternal(ref.Target) && !SafeURL(ref.Target, false) {
				out = append(out, errors.Unsafef(errors.CodeUnsafeURL, "link target %q", ref.Target))
			}
		}
	})
	return out
}
