package scan

import (
	"strings"
	"testing"
	"time"
)

func TestEnvironmentsNestedSameName(t *testing.T) {
	for _, n := range []int{1, 2, 10, 50, 200} {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteString(`\begin{align}x`)
		}
		for i := 0; i < n; i++ {
			sb.WriteString(`\end{align}`)
		}
		s := sb.String()

		idx := Environments(s, DefaultLimits())
		if len(idx.Pairs) != n {
			t.Fatalf("n=%d: Expected %d pairs, got %d", n, n, len(idx.Pairs))
		}
		if !idx.Balanced() {
			t.Errorf("n=%d: Expected balanced, got unmatched %v", n, idx.Unmatched)
		}
		ends := strings.Count(s, `\end{align}`)
		for i, p := range idx.Pairs {
			if p.Depth != i {
				t.Errorf("n=%d: pair %d Expected depth %d, got %d", n, i, i, p.Depth)
			}
			// The i-th begin closes with the (n-1-i)-th end.
			wantEnd := len(s) - (i+1)*len(`\end{align}`)
			if p.EndStart != wantEnd {
				t.Errorf("n=%d: pair %d Expected end at %d, got %d", n, i, wantEnd, p.EndStart)
			}
		}
		if ends != n {
			t.Fatalf("bad fixture")
		}
	}
}

func TestEnvironmentsMixed(t *testing.T) {
	s := `\begin{align}a\begin{split}b\end{split}\end{align} \begin{itemize}\item x\end{itemize}\end{foo}\begin{bar}`
	idx := Environments(s, DefaultLimits())

	if len(idx.Pairs) != 3 {
		t.Fatalf("Expected 3 pairs, got %d", len(idx.Pairs))
	}
	if idx.Pairs[0].Name != "align" || idx.Pairs[1].Name != "split" || idx.Pairs[2].Name != "itemize" {
		t.Errorf("Unexpected pair order: %+v", idx.Pairs)
	}
	if got := idx.Pairs[1].Body(s); got != "b" {
		t.Errorf("Expected split body %q, got %q", "b", got)
	}
	outer := idx.Outermost()
	if len(outer) != 2 {
		t.Errorf("Expected 2 outermost pairs, got %d", len(outer))
	}
	if len(idx.Unmatched) != 2 {
		t.Fatalf("Expected 2 unmatched markers, got %v", idx.Unmatched)
	}
	if idx.Unmatched[0].Name != "foo" || idx.Unmatched[0].Begin {
		t.Errorf("Expected unmatched end{foo}, got %+v", idx.Unmatched[0])
	}
	if !idx.Unmatched[1].Begin {
		t.Errorf("Expected unmatched begin{bar}, got %+v", idx.Unmatched[1])
	}
	if p, ok := idx.At(0); !ok || p.Name != "align" {
		t.Errorf("Expected pair at 0, got %+v %v", p, ok)
	}
}

func TestEnvironmentsIgnoresEscapedMarker(t *testing.T) {
	s := `\\begin{x} \begin{y}\end{y}`
	idx := Environments(s, DefaultLimits())
	if len(idx.Pairs) != 1 || !idx.Balanced() {
		t.Errorf("Expected a single balanced pair, got %+v unmatched %+v", idx.Pairs, idx.Unmatched)
	}
}

func TestBraces(t *testing.T) {
	s := `\textbf{a {b} \{ c} {d`
	idx := Braces(s)

	c, ok := idx.Close(7)
	if !ok || s[c] != '}' || c != 18 {
		t.Errorf("Expected close at 18, got %d %v", c, ok)
	}
	if idx.Balanced() {
		t.Error("Expected unbalanced braces")
	}
	if got := idx.Unmatched(); len(got) != 1 || got[0] != 20 {
		t.Errorf("Expected unmatched [20], got %v", got)
	}
	arg, end, ok := idx.Arg(s, 7)
	if !ok || arg != `a {b} \{ c` || end != 19 {
		t.Errorf("Arg() = %q, %d, %v", arg, end, ok)
	}
	if idx.MaxDepth() != 2 {
		t.Errorf("Expected max depth 2, got %d", idx.MaxDepth())
	}
}

func TestOptionalArg(t *testing.T) {
	tests := []struct {
		s    string
		want string
		ok   bool
	}{
		{`[p.~5]{key}`, "p.~5", true},
		{` [see {a]b}][x]`, "see {a]b}", true},
		{`[a [b] c]`, "a [b] c", true},
		{`{key}`, "", false},
		{`[unterminated`, "", false},
	}

	for _, tt := range tests {
		idx := Braces(tt.s)
		got, _, ok := idx.OptionalArg(tt.s, 0, 1024)
		if ok != tt.ok || got != tt.want {
			t.Errorf("OptionalArg(%q) = %q, %v; want %q, %v", tt.s, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDelimited(t *testing.T) {
	s := `a \$5 and $x+1$ then \[ y \] and $z$`

	spans, truncated := Delimited(s, "$", "$", DefaultLimits())
	if truncated {
		t.Error("Expected no truncation")
	}
	if len(spans) != 2 || spans[0].Inner(s) != "x+1" || spans[1].Inner(s) != "z" {
		t.Errorf("Unexpected spans: %+v", spans)
	}

	display, _ := Delimited(s, `\[`, `\]`, DefaultLimits())
	if len(display) != 1 || strings.TrimSpace(display[0].Inner(s)) != "y" {
		t.Errorf("Unexpected display spans: %+v", display)
	}

	if got, _ := Delimited(`line\\[2pt] next`, `\[`, `\]`, DefaultLimits()); len(got) != 0 {
		t.Errorf("Expected escaped opener to be skipped, got %+v", got)
	}
}

func TestDelimitedSpanCap(t *testing.T) {
	s := "$" + strings.Repeat("a", 100) + "$ $b$"
	spans, truncated := Delimited(s, "$", "$", Limits{MaxSpan: 50})
	if !truncated {
		t.Error("Expected truncation")
	}
	for _, sp := range spans {
		if sp.End-sp.Start > 50 {
			t.Errorf("Span exceeds cap: %+v", sp)
		}
	}
}

func TestPatternCaps(t *testing.T) {
	p := MustCompile(`x+`, Limits{MaxMatches: 3, MaxSpan: 4})
	matches, truncated := p.FindAll("x xx xxxxxx x x x")
	if !truncated {
		t.Error("Expected truncation")
	}
	if len(matches) != 2 {
		t.Errorf("Expected 2 matches within caps, got %d", len(matches))
	}
	if _, err := Compile(`(`, DefaultLimits()); err == nil {
		t.Error("Expected compile error")
	}
}

func TestPositions(t *testing.T) {
	got, truncated := Positions("$$a$$b$$", "$$", 2)
	if !truncated || len(got) != 2 || got[0] != 0 || got[1] != 3 {
		t.Errorf("Positions() = %v, %v", got, truncated)
	}
}

func TestCommands(t *testing.T) {
	s := `\\write18 \immediate\write18{x} \% \input{f}`
	cmds, _ := Commands(s, 100)
	var names []string
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	want := []string{`\`, "immediate", "write", "%", "input"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, names)
	}
}

func TestBoundedTimePathologicalInput(t *testing.T) {
	inputs := map[string]string{
		"open braces":  strings.Repeat("{", 200000),
		"close braces": strings.Repeat("}", 200000),
		"backslashes":  strings.Repeat(`\`, 200000),
		"dollars":      strings.Repeat("$", 200000),
		"display open": strings.Repeat(`\[`, 100000),
		"begins":       strings.Repeat(`\begin{a}`, 20000),
	}

	for name, s := range inputs {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			Braces(s)
			Environments(s, DefaultLimits())
			Delimited(s, "$", "$", DefaultLimits())
			Delimited(s, `\[`, `\]`, DefaultLimits())
			Commands(s, DefaultLimits().MaxMatches)
			if d := time.Since(start); d > time.Second {
				t.Errorf("Expected scan under 1s, took %v", d)
			}
		})
	}
}

func FuzzEnvironments(f *testing.F) {
	f.Add(`\begin{a}\begin{a}\end{a}\end{a}`)
	f.Add(`\end{x}\begin{y}`)
	f.Add(`{\{}}\[\]$$`)
	f.Fuzz(func(t *testing.T, s string) {
		idx := Environments(s, DefaultLimits())
		for _, p := range idx.Pairs {
			if p.BeginEnd > p.EndStart {
				t.Fatalf("pair boundaries crossed: %+v", p)
			}
			_ = p.Body(s)
		}
		b := Braces(s)
		if b.Pairs() > len(s) {
			t.Fatal("more pairs than bytes")
		}
		for _, sp := range mustDelimited(s) {
			_ = sp.Inner(s)
		}
	})
}

func mustDelimited(s string) []Span {
	spans, _ := Delimited(s, "$", "$", DefaultLimits())
	return spans
}

func BenchmarkEnvironments(b *testing.B) {
	s := strings.Repeat(`\begin{itemize}\item a \begin{itemize}\item b\end{itemize}\end{itemize}`, 1000)
	for i := 0; i < b.N; i++ {
		Environments(s, DefaultLimits())
	}
}

func TestLinesLocate(t *testing.T) {
	lines := LineStarts("ab\ncde\nf")
	tests := []struct{ off, line, col int }{
		{0, 1, 1}, {2, 1, 3}, {3, 2, 1}, {6, 2, 4}, {7, 3, 1},
	}
	for _, tt := range tests {
		line, col := lines.Locate(tt.off)
		if line != tt.line || col != tt.col {
			t.Errorf("Locate(%d) = %d:%d, want %d:%d", tt.off, line, col, tt.line, tt.col)
		}
	}
}
