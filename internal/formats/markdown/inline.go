package markdown

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"golang.org/x/net/html"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
	htmlfmt "github.com/FocuswithJustin/edudoc/internal/formats/html"
)

// maxCitationGroup bounds the search for the ] closing a citation group.
const maxCitationGroup = 1024

var styleTag = regexp.MustCompile(`^<(/?)(sub|sup|u|ins|s|del|strike)\s*>$`)

var tagStyles = map[string]ir.RunKind{
	"sub":    ir.RunSubscript,
	"sup":    ir.RunSuperscript,
	"u":      ir.RunUnderline,
	"ins":    ir.RunUnderline,
	"s":      ir.RunStrikethrough,
	"del":    ir.RunStrikethrough,
	"strike": ir.RunStrikethrough,
}

// inliner collects the runs of one inline container. Text is gathered raw
// and decoded when flushed, so escapes and citations that span several
// goldmark text nodes are read as one.
type inliner struct {
	ps *parseState

	// flat drops styling and links, keeping only the visible text.
	flat  bool
	raw   strings.Builder
	out   ir.SemanticText
	style ir.RunKind
}

func (ps *parseState) inline(n ast.Node) ir.SemanticText {
	in := &inliner{ps: ps}
	in.children(n)
	in.flush()
	return in.out.Merge().TrimSpace()
}

// plain returns the visible text of n.
func (ps *parseState) plain(n ast.Node) string {
	in := &inliner{ps: ps, flat: true}
	in.children(n)
	in.flush()
	return base.CollapseSpace(in.out.String())
}

func (in *inliner) children(n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		in.node(c)
	}
}

func (in *inliner) node(n ast.Node) {
	ps := in.ps
	switch v := n.(type) {
	case *ast.Text:
		in.raw.Write(v.Segment.Value(ps.src))
		if v.SoftLineBreak() || v.HardLineBreak() {
			in.raw.WriteByte(' ')
		}
	case *ast.String:
		in.raw.Write(v.Value)
	case *ast.CodeSpan:
		in.flush()
		var sb strings.Builder
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				sb.Write(t.Segment.Value(ps.src))
			}
		}
		in.emit(ir.StyledRun{Style: ir.RunCode, Text: ps.math.restore(sb.String())})
	case *ast.Emphasis:
		style := ir.RunEmphasis
		if v.Level >= 2 {
			style = ir.RunStrong
		}
		in.styled(v, style)
	case *east.Strikethrough:
		in.styled(v, ir.RunStrikethrough)
	case *ast.Link:
		if in.flat {
			in.children(v)
			return
		}
		in.flush()
		in.link(ps.literal(string(v.Destination)), ps.plain(v))
	case *ast.AutoLink:
		if in.flat {
			in.raw.Write(v.Label(ps.src))
			return
		}
		in.flush()
		in.link(string(v.URL(ps.src)), string(v.Label(ps.src)))
	case *ast.RawHTML:
		in.rawHTML(v)
	default:
		if n.Type() == ast.TypeBlock {
			in.raw.WriteByte(' ')
		}
		in.children(n)
	}
}

func (in *inliner) styled(n ast.Node, style ir.RunKind) {
	if in.flat {
		in.children(n)
		return
	}
	in.flush()
	if t := in.ps.plain(n); t != "" {
		in.emit(ir.StyledRun{Style: style, Text: t})
	}
}

func (in *inliner) link(dest, display string) {
	ps := in.ps
	if target, ok := strings.CutPrefix(dest, "#"); ok && target != "" {
		if display == target {
			display = ""
		}
		in.emit(ir.RefRun{Target: target, Display: display})
		return
	}
	if !htmlfmt.SafeURL(dest, false) {
		ps.res.Add(errors.Warnf(errors.CodeUnsafeURL, "link to %q dropped", dest))
		in.emit(ir.TextRun{Text: display})
		return
	}
	if display == dest {
		display = ""
	}
	in.emit(ir.RefRun{Target: dest, Display: display})
}

// rawHTML maps simple style tags to runs. Other inline HTML is removed when
// sanitising and kept as an unknown run otherwise.
func (in *inliner) rawHTML(n *ast.RawHTML) {
	ps := in.ps
	var sb strings.Builder
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		sb.Write(seg.Value(ps.src))
	}
	tag := sb.String()
	if m := styleTag.FindStringSubmatch(strings.ToLower(tag)); m != nil {
		in.flush()
		if m[1] == "" {
			in.style = tagStyles[m[2]]
		} else {
			in.style = ""
		}
		return
	}
	if strings.HasPrefix(tag, "<!--") {
		return
	}
	if ps.opts.Sanitize.Enabled {
		ps.htmlTags++
		return
	}
	in.flush()
	ps.res.Unmapped(errors.Warnf(errors.CodeUnknownRun, "inline HTML kept as fallback"))
	in.out = append(in.out, ir.UnknownRun{Tag: "html", Text: tag})
}

func (in *inliner) emit(r ir.Run) {
	if t, ok := r.(ir.TextRun); ok && !in.flat && in.style != "" {
		r = ir.StyledRun{Style: in.style, Text: t.Text}
	}
	if in.flat {
		r = ir.TextRun{Text: r.Plain()}
	}
	in.out = append(in.out, r)
}

func (in *inliner) flush() {
	if in.raw.Len() == 0 {
		return
	}
	s := in.raw.String()
	in.raw.Reset()
	switch {
	case in.flat:
		in.out = append(in.out, ir.TextRun{Text: in.ps.literal(s)})
	case in.style != "":
		in.out = append(in.out, ir.StyledRun{Style: in.style, Text: in.ps.literal(s)})
	default:
		in.out = append(in.out, in.ps.textRuns(s)...)
	}
}

// textRuns decodes raw inline text: backslash escapes, entity references,
// math placeholders and pandoc citations.
func (ps *parseState) textRuns(s string) ir.SemanticText {
	var out ir.SemanticText
	var sb strings.Builder
	text := func() {
		if sb.Len() > 0 {
			out = append(out, ir.TextRun{Text: sb.String()})
			sb.Reset()
		}
	}
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s) && isPunct(s[i+1]):
			sb.WriteByte(s[i+1])
			i += 2
			continue
		case c == '&':
			if dec, end, ok := entity(s, i); ok {
				sb.WriteString(dec)
				i = end
				continue
			}
		case c == phOpen[0]:
			if idx, end, ok := ps.math.lookup(s, i); ok {
				text()
				out = append(out, ir.MathRun{Source: ps.math.spans[idx].expr.Source})
				i = end
				continue
			}
		case c == '[':
			if runs, end, ok := ps.citations(s, i); ok {
				text()
				out = append(out, runs...)
				i = end
				continue
			}
		case c == '@' && (i == 0 || s[i-1] == ' ' || s[i-1] == '('):
			if key, end := citeKey(s, i+1); biblio.ValidKey(key) {
				text()
				out = append(out, ir.CiteRun{Citation: ir.Citation{Command: "citet", Key: key}})
				i = end
				continue
			}
		}
		sb.WriteByte(s[i])
		i++
	}
	text()
	return out
}

// literal decodes escapes and entities and restores math markup.
func (ps *parseState) literal(s string) string {
	if !strings.ContainsAny(s, "\\&"+phOpen) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s) && isPunct(s[i+1]):
			sb.WriteByte(s[i+1])
			i += 2
			continue
		case c == '&':
			if dec, end, ok := entity(s, i); ok {
				sb.WriteString(dec)
				i = end
				continue
			}
		case c == phOpen[0]:
			if idx, end, ok := ps.math.lookup(s, i); ok {
				sb.WriteString(ps.math.spans[idx].raw)
				i = end
				continue
			}
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}

// citations reads a bracketed group of citations such as
// [see @a, p. 3; -@b]. The group is left as text when any member is not a
// citation.
func (ps *parseState) citations(s string, i int) (ir.SemanticText, int, bool) {
	end := -1
	for j := i + 1; j < len(s) && j-i <= maxCitationGroup && end < 0; j++ {
		switch s[j] {
		case '\\':
			j++
		case '[':
			return nil, 0, false
		case ']':
			end = j
		}
	}
	if end < 0 || !strings.Contains(s[i+1:end], "@") {
		return nil, 0, false
	}
	var out ir.SemanticText
	for _, part := range splitUnescaped(s[i+1:end], ';') {
		c, ok := ps.citation(part)
		if !ok {
			return nil, 0, false
		}
		out = append(out, ir.CiteRun{Citation: c})
	}
	return out, end + 1, true
}

func (ps *parseState) citation(part string) (ir.Citation, bool) {
	at := -1
	for j := 0; j < len(part) && at < 0; j++ {
		switch {
		case part[j] == '\\':
			j++
		case part[j] == '@' && (j == 0 || part[j-1] == ' ' || part[j-1] == '-'):
			at = j
		}
	}
	if at < 0 {
		return ir.Citation{}, false
	}
	c := ir.Citation{Command: "cite"}
	prefix := part[:at]
	if p, ok := strings.CutSuffix(prefix, "-"); ok {
		c.Command = "citeyear"
		prefix = p
	}
	key, end := citeKey(part, at+1)
	if err := biblio.CheckKey(key); err != nil {
		ps.res.Add(errors.Warnf(errors.CodeInvalidKey, "citation left as text: %v", err))
		return ir.Citation{}, false
	}
	c.Key = key
	c.Prefix = strings.TrimSpace(ps.literal(prefix))
	post := strings.TrimPrefix(strings.TrimSpace(part[end:]), ",")
	c.Locator, c.Suffix = biblio.SplitPostnote(ps.literal(post))
	return c, true
}

// citeKey reads a key at s[i:], either {braced} or a run of key
// characters. Trailing punctuation belongs to the sentence.
func citeKey(s string, i int) (string, int) {
	if i < len(s) && s[i] == '{' {
		if j := strings.IndexByte(s[i:min(len(s), i+maxCitationGroup)], '}'); j > 0 {
			return s[i+1 : i+j], i + j + 1
		}
		return "", i
	}
	j := i
	for j < len(s) && isKeyByte(s[j]) {
		j++
	}
	for j > i && (s[j-1] == ':' || s[j-1] == '-') {
		j--
	}
	return s[i:j], j
}

func isKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c) || c == '_' || c == ':' || c == '-'
}

// entity decodes a character reference starting at s[i].
func entity(s string, i int) (string, int, bool) {
	j := strings.IndexByte(s[i:min(len(s), i+32)], ';')
	if j < 2 {
		return "", 0, false
	}
	ref := s[i : i+j+1]
	dec := html.UnescapeString(ref)
	if dec == ref {
		return "", 0, false
	}
	return dec, i + j + 1, true
}

func splitUnescaped(s string, sep byte) []string {
	var parts []string
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	return append(parts, s[last:])
}

func isPunct(c byte) bool {
	return c >= '!' && c <= '/' || c >= ':' && c <= '@' || c >= '[' && c <= '`' || c >= '{' && c <= '~'
}
