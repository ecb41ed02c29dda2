package scan

// BraceIndex pairs every unescaped '{' with its matching '}'. It is built in
// one forward pass; a backslash always escapes the byte after it.
type BraceIndex struct {
	close     map[int]int
	unmatched []int
	maxDepth  int
}

// maxUnmatched caps the recorded unmatched offsets.
const maxUnmatched = 64

// Braces builds the brace index of s.
func Braces(s string) *BraceIndex {
	idx := &BraceIndex{close: make(map[int]int)}
	var stack []int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			stack = append(stack, i)
			if len(stack) > idx.maxDepth {
				idx.maxDepth = len(stack)
			}
		case '}':
			if len(stack) == 0 {
				idx.addUnmatched(i)
				continue
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			idx.close[open] = i
		}
	}
	for _, open := range stack {
		idx.addUnmatched(open)
	}
	return idx
}

func (b *BraceIndex) addUnmatched(i int) {
	if len(b.unmatched) < maxUnmatched {
		b.unmatched = append(b.unmatched, i)
	}
}

// Close returns the offset of the '}' matching the '{' at open.
func (b *BraceIndex) Close(open int) (int, bool) {
	c, ok := b.close[open]
	return c, ok
}

// Balanced reports whether every brace is paired.
func (b *BraceIndex) Balanced() bool {
	return len(b.unmatched) == 0
}

// Unmatched returns offsets of unpaired braces (capped).
func (b *BraceIndex) Unmatched() []int {
	return b.unmatched
}

// MaxDepth returns the deepest brace nesting seen.
func (b *BraceIndex) MaxDepth() int {
	return b.maxDepth
}

// Pairs returns the number of matched pairs.
func (b *BraceIndex) Pairs() int {
	return len(b.close)
}

// Arg reads a mandatory {...} argument at or after pos, skipping spaces.
// It returns the content and the offset just past the closing brace.
func (b *BraceIndex) Arg(s string, pos int) (arg string, end int, ok bool) {
	pos = skipSpace(s, pos)
	if pos >= len(s) || s[pos] != '{' {
		return "", pos, false
	}
	c, ok := b.close[pos]
	if !ok {
		return "", pos, false
	}
	return s[pos+1 : c], c + 1, true
}

// OptionalArg reads a [...] argument at or after pos. Brackets inside brace
// groups do not terminate it. maxSpan bounds how far the scan looks.
func (b *BraceIndex) OptionalArg(s string, pos, maxSpan int) (arg string, end int, ok bool) {
	start := skipSpace(s, pos)
	if start >= len(s) || s[start] != '[' {
		return "", pos, false
	}
	depth := 0
	limit := min(len(s), start+maxSpan)
	for i := start + 1; i < limit; i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			c, ok := b.close[i]
			if !ok {
				return "", pos, false
			}
			i = c
		case '[':
			depth++
		case ']':
			if depth == 0 {
				return s[start+1 : i], i + 1, true
			}
			depth--
		}
	}
	return "", pos, false
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\n' || s[pos] == '\r') {
		pos++
	}
	return pos
}

// ControlSequence is a backslash command found by Commands.
type ControlSequence struct {
	// Name excludes the backslash. Control symbols have a one-byte name.
	Name   string
	Offset int
	End    int
}

// Commands tokenizes the control sequences of s in one pass. A control word
// is a backslash followed by ASCII letters; any other byte after a backslash
// forms a control symbol. At most max sequences are returned.
func Commands(s string, max int) (out []ControlSequence, truncated bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			continue
		}
		if i+1 >= len(s) {
			break
		}
		j := i + 1
		for j < len(s) && isLetter(s[j]) {
			j++
		}
		if j == i+1 {
			j = i + 2
		}
		if len(out) == max {
			return out, true
		}
		out = append(out, ControlSequence{Name: s[i+1 : j], Offset: i, End: j})
		i = j - 1
	}
	return out, false
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
