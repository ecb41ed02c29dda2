package scan

import (
	"sort"
)

// EnvPair is one matched \begin{Name} ... \end{Name} region.
type EnvPair struct {
	Name string

	// BeginStart..BeginEnd covers "\begin{Name}".
	BeginStart, BeginEnd int

	// EndStart..EndEnd covers "\end{Name}".
	EndStart, EndEnd int

	// Depth is the number of enclosing environments with the same name.
	Depth int
}

// Body returns the text between the begin and end markers.
func (p EnvPair) Body(s string) string {
	return s[p.BeginEnd:p.EndStart]
}

// Outer returns the full environment text including markers.
func (p EnvPair) Outer(s string) string {
	return s[p.BeginStart:p.EndEnd]
}

// EnvMarker is an unpaired begin or end marker.
type EnvMarker struct {
	Name   string
	Begin  bool
	Offset int
}

// EnvIndex is the result of pairing all environment markers of a text.
type EnvIndex struct {
	Pairs     []EnvPair
	Unmatched []EnvMarker
	Truncated bool

	byBegin map[int]int
}

// envMarker matches \begin{name} and \end{name}. Names are bounded so a
// match never exceeds a few dozen bytes.
var envMarker = MustCompile(`\\(begin|end)[ \t]*\{([A-Za-z@]{1,64}\*?)\}`, Limits{MaxSpan: 128})

// Environments pairs every environment marker in s. Each name is tracked on
// its own stack: nested opens of the same name increase depth and the
// matching close pops back, so same-named nesting pairs correctly without a
// grammar. Pairs are ordered by begin offset.
func Environments(s string, l Limits) *EnvIndex {
	l = l.Normalize()
	matches, truncated := envMarker.WithLimits(Limits{MaxSpan: 128, MaxMatches: l.MaxMatches}).FindAll(s)
	idx := &EnvIndex{Truncated: truncated, byBegin: make(map[int]int)}

	stacks := make(map[string][]Match)
	for _, m := range matches {
		if Escaped(s, m.Start) {
			continue
		}
		name := m.Groups[1]
		if m.Groups[0] == "begin" {
			stacks[name] = append(stacks[name], m)
			continue
		}
		st := stacks[name]
		if len(st) == 0 {
			idx.Unmatched = append(idx.Unmatched, EnvMarker{Name: name, Offset: m.Start})
			continue
		}
		open := st[len(st)-1]
		stacks[name] = st[:len(st)-1]
		idx.Pairs = append(idx.Pairs, EnvPair{
			Name:       name,
			BeginStart: open.Start,
			BeginEnd:   open.End,
			EndStart:   m.Start,
			EndEnd:     m.End,
			Depth:      len(st) - 1,
		})
	}
	for name, st := range stacks {
		for _, m := range st {
			idx.Unmatched = append(idx.Unmatched, EnvMarker{Name: name, Begin: true, Offset: m.Start})
		}
	}

	sort.Slice(idx.Pairs, func(i, j int) bool { return idx.Pairs[i].BeginStart < idx.Pairs[j].BeginStart })
	sort.Slice(idx.Unmatched, func(i, j int) bool { return idx.Unmatched[i].Offset < idx.Unmatched[j].Offset })
	for i, p := range idx.Pairs {
		idx.byBegin[p.BeginStart] = i
	}
	return idx
}

// At returns the pair whose begin marker starts at offset.
func (e *EnvIndex) At(offset int) (EnvPair, bool) {
	i, ok := e.byBegin[offset]
	if !ok {
		return EnvPair{}, false
	}
	return e.Pairs[i], true
}

// Balanced reports whether every marker is paired.
func (e *EnvIndex) Balanced() bool {
	return len(e.Unmatched) == 0
}

// Named returns the pairs with the given name.
func (e *EnvIndex) Named(name string) []EnvPair {
	var out []EnvPair
	for _, p := range e.Pairs {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Outermost returns pairs not contained in any other pair, in order.
func (e *EnvIndex) Outermost() []EnvPair {
	var out []EnvPair
	end := -1
	for _, p := range e.Pairs {
		if p.BeginStart < end {
			continue
		}
		out = append(out, p)
		end = p.EndEnd
	}
	return out
}
