// Package scan provides the bounded scanning primitive shared by every
// extractor in edudoc.
//
// All pattern matching goes through RE2 (regexp), which runs in time linear
// in its input, and every scan is capped in matched-span length and in the
// number of matches attempted. Structural pairing (braces, environments,
// delimiters) is done in single forward passes with explicit stacks, never
// by regular expressions over nested content.
package scan

import (
	"regexp"
	"sort"
	"strings"
)

// Limits caps the work any single scan may do.
type Limits struct {
	// MaxInput is the largest input, in bytes, a parser accepts.
	MaxInput int `json:"maxInput"`

	// MaxSpan is the longest single match, in bytes.
	MaxSpan int `json:"maxSpan"`

	// MaxMatches is the most matches one scan returns.
	MaxMatches int `json:"maxMatches"`

	// MaxDepth is the deepest nesting a recursive consumer follows.
	MaxDepth int `json:"maxDepth"`
}

// DefaultLimits returns limits suitable for untrusted documents.
func DefaultLimits() Limits {
	return Limits{
		MaxInput:   16 << 20,
		MaxSpan:    1 << 20,
		MaxMatches: 100000,
		MaxDepth:   64,
	}
}

// Normalize fills zero fields from DefaultLimits.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.MaxInput <= 0 {
		l.MaxInput = d.MaxInput
	}
	if l.MaxSpan <= 0 {
		l.MaxSpan = d.MaxSpan
	}
	if l.MaxMatches <= 0 {
		l.MaxMatches = d.MaxMatches
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	return l
}

// Match is one bounded pattern match. Groups holds submatch text; an
// unmatched group is "".
type Match struct {
	Start  int
	End    int
	Groups []string
}

// Text returns the matched text.
func (m Match) Text(s string) string {
	return s[m.Start:m.End]
}

// Pattern is a compiled RE2 expression bound to limits.
type Pattern struct {
	re     *regexp.Regexp
	limits Limits
}

// Compile compiles expr with the given limits.
func Compile(expr string, l Limits) (*Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Pattern{re: re, limits: l.Normalize()}, nil
}

// MustCompile is like Compile but panics on a bad expression. It is meant
// for package-level patterns.
func MustCompile(expr string, l Limits) *Pattern {
	p, err := Compile(expr, l)
	if err != nil {
		panic(err)
	}
	return p
}

// WithLimits returns a copy of the pattern bound to other limits.
func (p *Pattern) WithLimits(l Limits) *Pattern {
	return &Pattern{re: p.re, limits: l.Normalize()}
}

// FindAll returns up to MaxMatches matches no longer than MaxSpan.
// truncated reports whether either cap discarded a match.
func (p *Pattern) FindAll(s string) (matches []Match, truncated bool) {
	idx := p.re.FindAllStringSubmatchIndex(s, p.limits.MaxMatches+1)
	if len(idx) > p.limits.MaxMatches {
		idx = idx[:p.limits.MaxMatches]
		truncated = true
	}
	for _, loc := range idx {
		if loc[1]-loc[0] > p.limits.MaxSpan {
			truncated = true
			continue
		}
		m := Match{Start: loc[0], End: loc[1]}
		for g := 2; g+1 < len(loc); g += 2 {
			if loc[g] < 0 {
				m.Groups = append(m.Groups, "")
				continue
			}
			m.Groups = append(m.Groups, s[loc[g]:loc[g+1]])
		}
		matches = append(matches, m)
	}
	return matches, truncated
}

// Find returns the first match, if it is within MaxSpan.
func (p *Pattern) Find(s string) (Match, bool) {
	loc := p.re.FindStringSubmatchIndex(s)
	if loc == nil || loc[1]-loc[0] > p.limits.MaxSpan {
		return Match{}, false
	}
	m := Match{Start: loc[0], End: loc[1]}
	for g := 2; g+1 < len(loc); g += 2 {
		if loc[g] < 0 {
			m.Groups = append(m.Groups, "")
			continue
		}
		m.Groups = append(m.Groups, s[loc[g]:loc[g+1]])
	}
	return m, true
}

// MatchString reports whether s contains a match.
func (p *Pattern) MatchString(s string) bool {
	return p.re.MatchString(s)
}

// Positions returns the offsets of up to max non-overlapping occurrences of
// tok in s.
func Positions(s, tok string, max int) (out []int, truncated bool) {
	if tok == "" {
		return nil, false
	}
	for i := 0; i <= len(s)-len(tok); {
		j := strings.Index(s[i:], tok)
		if j < 0 {
			break
		}
		if len(out) == max {
			return out, true
		}
		out = append(out, i+j)
		i += j + len(tok)
	}
	return out, false
}

// Span is a delimited region: [Start, End) covers the delimiters and
// [InnerStart, InnerEnd) the content between them.
type Span struct {
	Start, End           int
	InnerStart, InnerEnd int
}

// Inner returns the text between the delimiters.
func (sp Span) Inner(s string) string {
	return s[sp.InnerStart:sp.InnerEnd]
}

// Delimited pairs each unescaped open delimiter with the next unescaped
// close delimiter. Regions longer than MaxSpan are skipped. The scan is a
// single forward pass.
func Delimited(s, open, close string, l Limits) (spans []Span, truncated bool) {
	l = l.Normalize()
	i, lastClose := 0, -1
	for i < len(s) {
		o := indexUnescaped(s, open, i)
		if o < 0 {
			break
		}
		// The next close after o is unchanged while o stays before it.
		c := lastClose
		if c < o+len(open) {
			c = indexUnescaped(s, close, o+len(open))
			lastClose = c
		}
		if c < 0 {
			break
		}
		end := c + len(close)
		if end-o > l.MaxSpan {
			truncated = true
			i = o + len(open)
			continue
		}
		if len(spans) == l.MaxMatches {
			return spans, true
		}
		spans = append(spans, Span{Start: o, End: end, InnerStart: o + len(open), InnerEnd: c})
		i = end
	}
	return spans, truncated
}

// indexUnescaped finds tok at or after from, skipping occurrences preceded
// by an odd number of backslashes.
func indexUnescaped(s, tok string, from int) int {
	for from <= len(s)-len(tok) {
		j := strings.Index(s[from:], tok)
		if j < 0 {
			return -1
		}
		at := from + j
		if !Escaped(s, at) {
			return at
		}
		from = at + 1
	}
	return -1
}

// Escaped reports whether the byte at i is preceded by an odd run of
// backslashes.
func Escaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// Lines holds line start offsets for fast offset-to-position lookups.
type Lines []int

// Locate converts a byte offset to a 1-based line and column.
func (l Lines) Locate(offset int) (line, col int) {
	i := sort.SearchInts(l, offset+1) - 1
	if i < 0 {
		return 1, 1
	}
	return i + 1, offset - l[i] + 1
}

// LineStarts returns the byte offset of every line start in s.
func LineStarts(s string) Lines {
	starts := Lines{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}
