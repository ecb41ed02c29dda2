package base

import (
	"strings"
	"testing"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

func TestInput(t *testing.T) {
	text, issues := Input([]byte("\ufeffa\r\nb"), scan.Limits{})
	if text != "a\nb" || len(issues) != 0 {
		t.Errorf("Expected normalized text, got %q %v", text, issues)
	}

	_, issues = Input([]byte("a\x00b"), scan.Limits{})
	if !issues.HasFatal() || issues[0].Offset != 1 {
		t.Errorf("Expected fatal NUL issue at 1, got %v", issues)
	}

	_, issues = Input([]byte(strings.Repeat("x", 11)), scan.Limits{MaxInput: 10})
	if !issues.HasCode(errors.CodeInputTooLarge) {
		t.Errorf("Expected size issue, got %v", issues)
	}

	text, issues = Input([]byte("ok\xffok"), scan.Limits{})
	if issues.HasFatal() || !issues.HasCode(errors.CodeInvalidEncoding) {
		t.Errorf("Expected encoding warning, got %v", issues)
	}
	if text != "ok\ufffdok" {
		t.Errorf("Expected replacement character, got %q", text)
	}
}

func TestDetector(t *testing.T) {
	detect := Detector(DetectConfig{Markers: []string{`\documentclass`, `\begin{document}`}, Window: 64})
	if !detect([]byte(`\documentclass{article}`)) {
		t.Error("Expected marker to be detected")
	}
	if detect([]byte(strings.Repeat(" ", 100) + `\documentclass`)) {
		t.Error("Expected marker outside the window to be ignored")
	}
}

func TestIDs(t *testing.T) {
	a, b := NewIDs("latex"), NewIDs("latex")
	for i := 0; i < 100; i++ {
		if x, y := a.Next("p", "same"), b.Next("p", "same"); x != y {
			t.Fatalf("Expected deterministic ids, got %s and %s", x, y)
		}
	}

	g := NewIDs("html")
	if got := g.Use("intro", "sec", ""); got != "intro" {
		t.Errorf("Expected explicit id kept, got %s", got)
	}
	if got := g.Use("intro", "sec", ""); got == "intro" || !strings.HasPrefix(got, "sec-") {
		t.Errorf("Expected duplicate id replaced, got %s", got)
	}
}

func TestAssignIDs(t *testing.T) {
	doc := ir.NewDocument("")
	sec := &ir.Container{Kind: ir.KindChapter, Title: ir.Plain("One")}
	sec.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.Plain("x")}), ir.NewBlock("dup", &ir.Paragraph{}))
	doc.Body.Append(sec, ir.NewBlock("dup", &ir.Paragraph{}))

	if n := AssignIDs(doc, NewIDs("test")); n != 3 {
		t.Errorf("Expected 3 generated ids, got %d", n)
	}
	if !strings.HasPrefix(sec.ID, "ch-") {
		t.Errorf("Expected chapter prefix, got %s", sec.ID)
	}
	if errs := ir.ValidateDocument(doc); len(errs) != 0 {
		t.Errorf("Expected unique ids, got %v", errs)
	}
}

func TestOutline(t *testing.T) {
	var o Outline
	o.Add(ir.NewBlock("p0", &ir.Paragraph{}))
	ch := &ir.Container{ID: "c1", Kind: ir.KindChapter}
	s1 := &ir.Container{ID: "s1", Kind: ir.KindSection}
	s2 := &ir.Container{ID: "s2", Kind: ir.KindSection}
	o.Open(1, ch)
	o.Open(2, s1)
	o.Add(ir.NewBlock("p1", &ir.Paragraph{}))
	o.Open(2, s2)
	if o.Depth() != 2 || o.Current() != s2 {
		t.Errorf("Expected s2 open at depth 2, got %d", o.Depth())
	}
	o.Open(1, &ir.Container{ID: "c2", Kind: ir.KindChapter})

	nodes := o.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("Expected 3 top-level nodes, got %d", len(nodes))
	}
	if len(ch.Children) != 2 || len(s1.Children) != 1 {
		t.Errorf("Unexpected nesting: chapter %d, s1 %d", len(ch.Children), len(s1.Children))
	}
}

func TestKindsForLevels(t *testing.T) {
	tests := []struct {
		levels []int
		want   map[int]ir.ContainerKind
	}{
		{[]int{2}, map[int]ir.ContainerKind{2: ir.KindSection}},
		{[]int{1, 2, 1}, map[int]ir.ContainerKind{1: ir.KindChapter, 2: ir.KindSection}},
		{[]int{1, 2, 3, 4}, map[int]ir.ContainerKind{1: ir.KindDivision, 2: ir.KindChapter, 3: ir.KindSection, 4: ir.KindSection}},
	}
	for _, tt := range tests {
		got := KindsForLevels(tt.levels)
		for l, k := range tt.want {
			if got[l] != k {
				t.Errorf("KindsForLevels(%v)[%d] = %s, want %s", tt.levels, l, got[l], k)
			}
		}
	}
}

func TestKindInference(t *testing.T) {
	if KindForHeight(1) != ir.KindSection || KindForHeight(2) != ir.KindChapter || KindForHeight(7) != ir.KindDivision {
		t.Error("Unexpected height mapping")
	}
	if got := ClampKind(ir.KindChapter, ir.KindDivision); got != ir.KindSection {
		t.Errorf("Expected section under chapter, got %s", got)
	}
	if got := ClampKind(ir.KindSection, ir.KindSection); got != ir.KindSection {
		t.Errorf("Expected nested section, got %s", got)
	}
	if got := ClampKind("", ir.KindChapter); got != ir.KindChapter {
		t.Errorf("Expected chapter at top level, got %s", got)
	}
}

func TestFallbacks(t *testing.T) {
	b := Unknown("u1", "hologram", "raw payload")
	if got := UnsupportedMarker(b.Type()); got != "[Unsupported block: hologram]" {
		t.Errorf("Unexpected marker %q", got)
	}
	if FallbackText(b) != "raw payload" {
		t.Error("Expected raw payload fallback")
	}
	if CollapseSpace("  a \n\t b ") != "a b" {
		t.Error("Expected collapsed whitespace")
	}
}
