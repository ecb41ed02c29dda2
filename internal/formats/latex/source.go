package latex

import (
	"sort"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/scan"
)

// source is LaTeX text prepared for scanning. Comments are blanked with
// NUL bytes in s so every offset into s is also an offset into raw; the
// input check rejects NUL, so a NUL in s always marks a comment.
type source struct {
	raw    string
	s      string
	limits scan.Limits
	braces *scan.BraceIndex
	envs   *scan.EnvIndex
	lines  scan.Lines

	closers map[string][]int
}

func newSource(raw string, l scan.Limits) *source {
	l = l.Normalize()
	s := stripComments(raw)
	return &source{
		raw:     raw,
		s:       s,
		limits:  l,
		braces:  scan.Braces(s),
		envs:    scan.Environments(s, l),
		lines:   scan.LineStarts(raw),
		closers: make(map[string][]int),
	}
}

// stripComments replaces every comment, from an unescaped % to the end of
// its line, with NUL bytes. The newline itself is kept.
func stripComments(raw string) string {
	if !strings.Contains(raw, "%") {
		return raw
	}
	b := []byte(raw)
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '%':
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = 0
			}
		}
	}
	return string(b)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == 0
}

// skipBlank returns the first offset at or after pos that is not
// whitespace or a blanked comment.
func (src *source) skipBlank(pos, to int) int {
	for pos < to && isBlank(src.s[pos]) {
		pos++
	}
	return pos
}

// command returns the control word at i, where s[i] is a backslash, and
// the offset just past it. Control symbols return an empty name.
func (src *source) command(i int) (name string, end int) {
	s := src.s
	j := i + 1
	for j < len(s) && isLetter(s[j]) {
		j++
	}
	if j == i+1 {
		return "", min(i+2, len(s))
	}
	return s[i+1 : j], j
}

// star skips a '*' directly after a command.
func (src *source) star(pos int) (int, bool) {
	if pos < len(src.s) && src.s[pos] == '*' {
		return pos + 1, true
	}
	return pos, false
}

// arg locates a mandatory {...} argument at or after pos. from and to
// delimit the content; end is the offset past the closing brace.
func (src *source) arg(pos int) (from, to, end int, ok bool) {
	p := src.skipBlank(pos, len(src.s))
	if p >= len(src.s) || src.s[p] != '{' {
		return 0, 0, pos, false
	}
	c, ok := src.braces.Close(p)
	if !ok {
		return 0, 0, pos, false
	}
	return p + 1, c, c + 1, true
}

// argText returns the content of a mandatory argument.
func (src *source) argText(pos int) (string, int, bool) {
	from, to, end, ok := src.arg(pos)
	if !ok {
		return "", pos, false
	}
	return src.s[from:to], end, true
}

// maxOptional bounds how far an optional argument is searched for.
const maxOptional = 4096

// opt locates an optional [...] argument at or after pos.
func (src *source) opt(pos int) (from, to, end int, ok bool) {
	p := src.skipBlank(pos, len(src.s))
	_, e, ok := src.braces.OptionalArg(src.s, p, maxOptional)
	if !ok {
		return 0, 0, pos, false
	}
	return p + 1, e - 1, e, true
}

// optText returns the content of an optional argument.
func (src *source) optText(pos int) (string, int, bool) {
	from, to, end, ok := src.opt(pos)
	if !ok {
		return "", pos, false
	}
	return src.s[from:to], end, true
}

// skipArgs skips up to nOpt optional and exactly nReq mandatory arguments
// where present.
func (src *source) skipArgs(pos, nOpt, nReq int) int {
	for range nOpt {
		_, _, end, ok := src.opt(pos)
		if !ok {
			break
		}
		pos = end
	}
	for range nReq {
		_, _, end, ok := src.arg(pos)
		if !ok {
			break
		}
		pos = end
	}
	return pos
}

// closer returns the first unescaped occurrence of tok in [from, to), or
// -1. Occurrences are indexed once per token so repeated lookups stay
// linear overall.
func (src *source) closer(tok string, from, to int) int {
	pos, ok := src.closers[tok]
	if !ok {
		all, _ := scan.Positions(src.s, tok, src.limits.MaxMatches)
		for _, p := range all {
			if !scan.Escaped(src.s, p) {
				pos = append(pos, p)
			}
		}
		src.closers[tok] = pos
	}
	i := sort.SearchInts(pos, from)
	if i < len(pos) && pos[i]+len(tok) <= to {
		return pos[i]
	}
	return -1
}

// pairsIn returns the environment pairs lying entirely inside [from, to).
func (src *source) pairsIn(from, to int) []scan.EnvPair {
	ps := src.envs.Pairs
	i := sort.Search(len(ps), func(k int) bool { return ps[k].BeginStart >= from })
	var out []scan.EnvPair
	for ; i < len(ps) && ps[i].BeginStart < to; i++ {
		if ps[i].EndEnd <= to {
			out = append(out, ps[i])
		}
	}
	return out
}

// outermost drops pairs nested inside an earlier pair of the list.
func outermost(pairs []scan.EnvPair) []scan.EnvPair {
	var out []scan.EnvPair
	end := -1
	for _, p := range pairs {
		if p.BeginStart < end {
			continue
		}
		out = append(out, p)
		end = p.EndEnd
	}
	return out
}

// findCommand returns the offset of the first unescaped \name control word
// in [from, to), or -1.
func (src *source) findCommand(name string, from, to int) int {
	tok := `\` + name
	for i := from; i < to; {
		j := strings.Index(src.s[i:to], tok)
		if j < 0 {
			return -1
		}
		at := i + j
		end := at + len(tok)
		if !scan.Escaped(src.s, at) && (end >= len(src.s) || !isLetter(src.s[end])) {
			return at
		}
		i = at + 1
	}
	return -1
}

// label returns the target of the first \label in [from, to).
func (src *source) label(from, to int) (string, bool) {
	at := src.findCommand("label", from, to)
	if at < 0 {
		return "", false
	}
	text, _, ok := src.argText(at + len(`\label`))
	if !ok {
		return "", false
	}
	return strings.TrimSpace(text), true
}

// labelAfter reads a \label directly following pos, separated only by
// blanks.
func (src *source) labelAfter(pos int) (string, int, bool) {
	p := src.skipBlank(pos, len(src.s))
	if !strings.HasPrefix(src.s[p:], `\label`) {
		return "", pos, false
	}
	text, end, ok := src.argText(p + len(`\label`))
	if !ok {
		return "", pos, false
	}
	return strings.TrimSpace(text), end, true
}

// clean removes blanked comments from a slice of s.
func (src *source) clean(from, to int) string {
	return strings.ReplaceAll(src.s[from:to], "\x00", "")
}

// keyVals splits a key=value option list at top-level commas. Values lose
// one pair of surrounding braces.
func keyVals(opt string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitTop(opt, ',') {
		k, v, _ := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '{' && v[len(v)-1] == '}' {
			v = v[1 : len(v)-1]
		}
		out[k] = v
	}
	return out
}

// splitTop splits s at sep outside brace groups.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// lineBefore returns the line preceding the one that contains offset, when
// only blanks separate offset from its line start.
func (src *source) lineBefore(offset int) (string, bool) {
	start := strings.LastIndexByte(src.raw[:offset], '\n') + 1
	if strings.TrimSpace(src.raw[start:offset]) != "" || start == 0 {
		return "", false
	}
	prev := strings.LastIndexByte(src.raw[:start-1], '\n') + 1
	return src.raw[prev : start-1], true
}
