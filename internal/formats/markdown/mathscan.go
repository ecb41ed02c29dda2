package markdown

import (
	"sort"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// Math spans are swapped for placeholders before the Markdown parser runs,
// so emphasis, escapes and links never apply inside TeX. Input containing
// the private-use delimiters has them replaced first.
const (
	phOpen  = "\uE000"
	phClose = "\uE001"
)

var stripPlaceholders = strings.NewReplacer(phOpen, "\uFFFD", phClose, "\uFFFD")

// maxInlineMath bounds how far a $ opener looks for its closer.
const maxInlineMath = 4096

type mathSpan struct {
	expr ir.MathExpression
	raw  string
	off  int

	// at is the placeholder offset in the protected text; shift is the
	// total length removed by this and earlier replacements.
	at, shift int
}

// mathTable holds the spans of one document. Offsets are relative to the
// text passed to protect.
type mathTable struct {
	limits scan.Limits
	spans  []mathSpan
	issues errors.Issues
	capped bool
}

// finder caches the last search for a token so repeated lookups from
// increasing positions stay linear.
type finder struct {
	tok      string
	searched bool
	from, at int
}

func (f *finder) next(s string, from int) int {
	if f.searched && from >= f.from && (f.at < 0 || f.at >= from) {
		return f.at
	}
	at := strings.Index(s[from:], f.tok)
	if at >= 0 {
		at += from
	}
	f.searched, f.from, f.at = true, from, at
	return at
}

type protector struct {
	t       *mathTable
	s       string
	out     strings.Builder
	finders map[string]*finder
	ticks   map[int]bool // backtick run lengths with no closer left
	noClose int          // $ openers before this offset have no closer
}

// protect replaces the math spans of s with placeholders. Fenced code and
// code spans are copied unchanged.
func (t *mathTable) protect(s string) string {
	p := &protector{t: t, s: s, finders: make(map[string]*finder), ticks: make(map[int]bool)}
	p.out.Grow(len(s))
	for i := 0; i < len(s); {
		if i == 0 || s[i-1] == '\n' {
			if end, ok := p.fence(i); ok {
				p.out.WriteString(s[i:end])
				i = end
				continue
			}
		}
		switch s[i] {
		case '`':
			i = p.codeSpan(i)
		case '\\':
			i = p.backslash(i)
		case '$':
			i = p.dollar(i)
		default:
			p.out.WriteByte(s[i])
			i++
		}
	}
	return p.out.String()
}

func (p *protector) find(tok string, from int) int {
	f, ok := p.finders[tok]
	if !ok {
		f = &finder{tok: tok}
		p.finders[tok] = f
	}
	return f.next(p.s, from)
}

// fence returns the end of a fenced code block starting on the line at i.
func (p *protector) fence(i int) (int, bool) {
	s := p.s
	j := i
	for j < len(s) && j-i < 3 && s[j] == ' ' {
		j++
	}
	if j >= len(s) || (s[j] != '`' && s[j] != '~') {
		return 0, false
	}
	c := s[j]
	n := 0
	for j+n < len(s) && s[j+n] == c {
		n++
	}
	if n < 3 {
		return 0, false
	}
	lineEnd := strings.IndexByte(s[j:], '\n')
	if lineEnd < 0 {
		return len(s), true
	}
	if c == '`' && strings.IndexByte(s[j+n:j+lineEnd], '`') >= 0 {
		return 0, false
	}
	for k := j + lineEnd + 1; k < len(s); {
		e := strings.IndexByte(s[k:], '\n')
		line := s[k:]
		next := len(s)
		if e >= 0 {
			line = s[k : k+e]
			next = k + e + 1
		}
		if isClosingFence(line, c, n) {
			return next, true
		}
		k = next
	}
	return len(s), true
}

func isClosingFence(line string, c byte, n int) bool {
	t := strings.TrimLeft(line, " ")
	if len(line)-len(t) > 3 {
		return false
	}
	k := 0
	for k < len(t) && t[k] == c {
		k++
	}
	return k >= n && strings.TrimSpace(t[k:]) == ""
}

// codeSpan copies a backtick code span unchanged.
func (p *protector) codeSpan(i int) int {
	s := p.s
	n := 0
	for i+n < len(s) && s[i+n] == '`' {
		n++
	}
	if !p.ticks[n] {
		for j := i + n; j < len(s); {
			k := strings.IndexByte(s[j:], '`')
			if k < 0 {
				break
			}
			k += j
			m := 0
			for k+m < len(s) && s[k+m] == '`' {
				m++
			}
			if m == n {
				p.out.WriteString(s[i : k+m])
				return k + m
			}
			j = k + m
		}
		p.ticks[n] = true
	}
	p.out.WriteString(s[i : i+n])
	return i + n
}

// backslash copies a Markdown escape. Backslash punctuation such as \[ or
// \( is always a literal character here; math uses dollar delimiters or a
// math environment.
func (p *protector) backslash(i int) int {
	s := p.s
	if i+1 >= len(s) {
		p.out.WriteByte('\\')
		return i + 1
	}
	if s[i+1] == 'b' && strings.HasPrefix(s[i:], `\begin{`) {
		return p.environment(i)
	}
	p.out.WriteString(s[i : i+2])
	return i + 2
}

func (p *protector) delimited(i int, open, close string) int {
	end := p.find(close, i+len(open))
	if end < 0 || end-i > p.t.limits.MaxSpan {
		p.t.issues = append(p.t.issues, errors.Warnf(errors.CodeUnbalancedMath, "%s without closing %s", open, close).WithOffset(i))
		p.out.WriteString(open)
		return i + len(open)
	}
	end += len(close)
	p.replace(i, end)
	return end
}

func (p *protector) environment(i int) int {
	s := p.s
	close := strings.IndexByte(s[i:min(len(s), i+80)], '}')
	if close < 0 {
		p.out.WriteString(`\b`)
		return i + 2
	}
	name := s[i+len(`\begin{`) : i+close]
	if !mathproc.IsMathEnvironment(name) {
		p.out.WriteString(s[i : i+close+1])
		return i + close + 1
	}
	endTok := `\end{` + name + `}`
	end := p.find(endTok, i+close+1)
	if end < 0 || end-i > p.t.limits.MaxSpan {
		p.t.issues = append(p.t.issues, errors.Warnf(errors.CodeUnbalancedMath, `\begin{%s} without \end{%s}`, name, name).WithOffset(i))
		p.out.WriteString(s[i : i+close+1])
		return i + close + 1
	}
	end += len(endTok)
	p.replace(i, end)
	return end
}

func (p *protector) dollar(i int) int {
	s := p.s
	if strings.HasPrefix(s[i:], "$$") {
		return p.delimited(i, "$$", "$$")
	}
	if i < p.noClose || i+1 >= len(s) || isSpace(s[i+1]) {
		p.out.WriteByte('$')
		return i + 1
	}
	limit := min(len(s), i+maxInlineMath)
	for j := i + 1; j < limit; j++ {
		switch s[j] {
		case '\\':
			j++
		case '\n':
			if j+1 < len(s) && (s[j+1] == '\n' || strings.TrimSpace(lineAt(s, j+1)) == "") {
				p.noClose = j
				p.out.WriteByte('$')
				return i + 1
			}
		case '$':
			if j > i+1 && !isSpace(s[j-1]) && (j+1 >= len(s) || !isDigit(s[j+1])) {
				p.replace(i, j+1)
				return j + 1
			}
		}
	}
	p.noClose = limit
	p.out.WriteByte('$')
	return i + 1
}

// replace swaps s[start:end] for a placeholder.
func (p *protector) replace(start, end int) {
	t := p.t
	if len(t.spans) >= t.limits.MaxMatches {
		if !t.capped {
			t.capped = true
			t.issues = append(t.issues, errors.Warnf(errors.CodeScanLimit, "too many math spans; the rest kept as text"))
		}
		p.out.WriteString(p.s[start:end])
		return
	}
	raw := p.s[start:end]
	ph := phOpen + strconv.Itoa(len(t.spans)) + phClose
	span := mathSpan{expr: mathproc.Classify(raw), raw: raw, off: start, at: p.out.Len(), shift: len(raw) - len(ph)}
	if n := len(t.spans); n > 0 {
		span.shift += t.spans[n-1].shift
	}
	p.out.WriteString(ph)
	t.spans = append(t.spans, span)
}

// origin maps an offset in the protected text back to the text given to a
// single protect call.
func (t *mathTable) origin(off int) int {
	i := sort.Search(len(t.spans), func(i int) bool { return t.spans[i].at >= off })
	if i == 0 {
		return off
	}
	return off + t.spans[i-1].shift
}

// lookup reads the placeholder at s[i:].
func (t *mathTable) lookup(s string, i int) (idx, end int, ok bool) {
	if !strings.HasPrefix(s[i:], phOpen) {
		return 0, 0, false
	}
	j := i + len(phOpen)
	k := strings.Index(s[j:], phClose)
	if k < 0 || k > 9 {
		return 0, 0, false
	}
	idx, err := strconv.Atoi(s[j : j+k])
	if err != nil || idx < 0 || idx >= len(t.spans) {
		return 0, 0, false
	}
	return idx, j + k + len(phClose), true
}

// only reports the span when s holds nothing but one placeholder.
func (t *mathTable) only(s string) (mathSpan, bool) {
	s = strings.TrimSpace(s)
	idx, end, ok := t.lookup(s, 0)
	if !ok || end != len(s) {
		return mathSpan{}, false
	}
	return t.spans[idx], true
}

// restore puts the original markup back in place of placeholders.
func (t *mathTable) restore(s string) string {
	if !strings.Contains(s, phOpen) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); {
		if idx, end, ok := t.lookup(s, i); ok {
			sb.WriteString(t.spans[idx].raw)
			i = end
			continue
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}

func lineAt(s string, i int) string {
	if e := strings.IndexByte(s[i:], '\n'); e >= 0 {
		return s[i : i+e]
	}
	return s[i:]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
