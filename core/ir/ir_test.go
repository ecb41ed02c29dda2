package ir

import (
	"encoding/json"
	"strings"
	"testing"
)

// sampleDocument builds a small document touching every payload variant.
func sampleDocument() *Document {
	doc := NewDocument("1.0")
	doc.Metadata = Metadata{Title: "Linear Algebra", Authors: []string{"A. Author"}, Date: "2024"}
	doc.Language = "en"
	doc.Direction = DirectionLTR

	prio := 2
	ch := &Container{
		ID:    "ch1",
		Kind:  KindChapter,
		Title: Plain("Vectors"),
		Hints: []RenderingHint{{Type: HintAlignment, Value: "center", Priority: &prio, Inheritance: InheritCascade}},
	}
	sec := &Container{ID: "s1", Kind: KindSection, Title: Plain("Norms")}
	sec.Append(
		NewBlock("p1", &Paragraph{Text: SemanticText{
			TextRun{Text: "A vector "},
			StyledRun{Style: RunEmphasis, Text: "space"},
			TextRun{Text: " has "},
			MathRun{Source: `\|v\|`},
			CiteRun{Citation: Citation{Key: "knuth84", Locator: "p. 3"}},
			UnknownRun{Tag: "glossary", Text: "norm"},
		}}),
		NewBlock("h1", &Heading{Level: 4, Text: Plain("Examples")}),
		NewBlock("l1", &List{Ordered: true, Items: []ListItem{
			{Text: Plain("one")},
			{Text: Plain("two"), Sublist: &List{Items: []ListItem{{Text: Plain("nested")}}}},
		}}),
		NewBlock("t1", &Table{
			Caption: Plain("Values"),
			Header:  []SemanticText{Plain("x"), Plain("y")},
			Rows:    [][]SemanticText{{Plain("1"), Plain("2")}},
		}),
		NewBlock("f1", &Figure{Source: "plot.png", Caption: Plain("A plot")}),
		NewBlock("m1", &MathBlock{Expr: MathExpression{Kind: MathDisplay, Source: "a^2+b^2=c^2"}}),
		NewBlock("c1", &Code{Language: "go", Code: "fmt.Println(1)"}),
		NewBlock("q1", &Quote{Text: Plain("Mathematics is a game."), Attribution: "Hilbert"}),
		NewBlock("u1", &Unknown{RawType: "exercise", Raw: `{"prompt":"Prove it"}`}),
	)
	ch.Append(sec)
	doc.Body.Append(ch)
	doc.Bibliography = []*BibliographyEntry{{
		ID:     "knuth84",
		Type:   "book",
		Fields: Fields{{Name: "title", Value: "The TeXbook"}, {Name: "author", Value: "Knuth"}},
	}}
	return doc
}

func TestCodecRoundTrip(t *testing.T) {
	doc := sampleDocument()
	data, err := MarshalDocument(doc)
	if err != nil {
		t.Fatalf("MarshalDocument failed: %v", err)
	}

	decoded, err := UnmarshalDocument(data)
	if err != nil {
		t.Fatalf("UnmarshalDocument failed: %v", err)
	}

	again, err := MarshalDocument(decoded)
	if err != nil {
		t.Fatalf("second MarshalDocument failed: %v", err)
	}
	if string(again) != string(data) {
		t.Errorf("Expected stable encoding, got\n%s\nvs\n%s", again, data)
	}
	if !EqualDocuments(doc, decoded) {
		t.Error("Expected decoded document to equal original")
	}

	sec := decoded.Body.Children[0].(*Container).Children[0].(*Container)
	if sec.Kind != KindSection {
		t.Errorf("Expected section kind, got %q", sec.Kind)
	}
	u, ok := sec.Children[8].(*Block).Content.(*Unknown)
	if !ok {
		t.Fatalf("Expected Unknown payload, got %T", sec.Children[8].(*Block).Content)
	}
	if u.RawType != "exercise" || !strings.Contains(u.Raw, "Prove it") {
		t.Errorf("Expected unknown payload preserved, got %+v", u)
	}
	p := sec.Children[0].(*Block).Content.(*Paragraph)
	if _, ok := p.Text[5].(UnknownRun); !ok {
		t.Errorf("Expected UnknownRun, got %T", p.Text[5])
	}
	if p.Text[4].(CiteRun).Citation.Locator != "p. 3" {
		t.Errorf("Expected locator preserved, got %+v", p.Text[4])
	}
}

func TestCodecUnknownBlockFromJSON(t *testing.T) {
	input := `{"version":"2.0","metadata":{},"body":{"children":[
		{"node":"block","id":"x","type":"simulation","content":{"engine":"phet","params":[1,2]}},
		{"node":"block","id":"y","type":"paragraph","content":{"text":[{"kind":"hologram","text":"visible"}]}}
	]}}`

	doc, err := UnmarshalDocument([]byte(input))
	if err != nil {
		t.Fatalf("UnmarshalDocument failed: %v", err)
	}
	if doc.Version != "2.0" {
		t.Errorf("Expected version 2.0, got %q", doc.Version)
	}
	b := doc.Body.Children[0].(*Block)
	if b.Type() != "simulation" {
		t.Errorf("Expected type simulation, got %q", b.Type())
	}
	p := doc.Body.Children[1].(*Block).Content.(*Paragraph)
	if p.Text.String() != "visible" {
		t.Errorf("Expected unknown run to degrade to its text, got %q", p.Text.String())
	}

	out, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(out), `"engine":"phet"`) {
		t.Errorf("Expected raw payload preserved, got %s", out)
	}
}

func TestCodecRejectsUnknownNode(t *testing.T) {
	input := `{"body":{"children":[{"node":"sidebar","id":"z"}]}}`
	if _, err := UnmarshalDocument([]byte(input)); err == nil {
		t.Error("Expected error for unknown node discriminator")
	}
}

func TestUnmarshalDocumentDefaults(t *testing.T) {
	doc, err := UnmarshalDocument([]byte(`{"metadata":{"title":"T"}}`))
	if err != nil {
		t.Fatalf("UnmarshalDocument failed: %v", err)
	}
	if doc.Body == nil {
		t.Fatal("Expected non-nil body")
	}
	if doc.Version != CurrentVersion {
		t.Errorf("Expected version %q, got %q", CurrentVersion, doc.Version)
	}
}

func TestSemanticTextPlain(t *testing.T) {
	text := SemanticText{
		TextRun{Text: "See "},
		RefRun{Target: "fig1"},
		TextRun{Text: " and "},
		RefRun{Target: "https://example.org", Display: "the site"},
		IndexRun{Term: "vector"},
	}
	if got, want := text.String(), "See fig1 and the site"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if !(SemanticText{TextRun{Text: "  "}}).IsEmpty() {
		t.Error("Expected whitespace-only text to be empty")
	}
	if Plain("") != nil {
		t.Error("Expected Plain(\"\") to be nil")
	}
}

func TestSemanticTextMergeAndTrim(t *testing.T) {
	text := SemanticText{
		TextRun{Text: "  a"},
		TextRun{Text: ""},
		TextRun{Text: "b "},
		StyledRun{Style: RunStrong, Text: "c"},
		TextRun{Text: " d  "},
	}
	got := text.TrimSpace()
	if len(got) != 3 {
		t.Fatalf("Expected 3 runs, got %d: %#v", len(got), got)
	}
	if got[0].(TextRun).Text != "ab " {
		t.Errorf("Expected %q, got %q", "ab ", got[0].(TextRun).Text)
	}
	if got[2].(TextRun).Text != " d" {
		t.Errorf("Expected %q, got %q", " d", got[2].(TextRun).Text)
	}
}

func TestFieldsOrderedAccess(t *testing.T) {
	var f Fields
	f.Set("Title", "Calculus")
	f.Set("author", "Spivak")
	f.Set("TITLE", "Calculus, 4th ed.")

	if got := f.Names(); len(got) != 2 || got[0] != "title" || got[1] != "author" {
		t.Errorf("Expected [title author], got %v", got)
	}
	if v := f.Value("title"); v != "Calculus, 4th ed." {
		t.Errorf("Expected replaced value, got %q", v)
	}
	if _, ok := f.Get("year"); ok {
		t.Error("Expected missing year")
	}
}

func TestComputeStats(t *testing.T) {
	s := ComputeStats(sampleDocument())

	if s.Containers != 2 {
		t.Errorf("Expected 2 containers, got %d", s.Containers)
	}
	if s.Blocks != 9 {
		t.Errorf("Expected 9 blocks, got %d", s.Blocks)
	}
	if s.Unknown != 1 {
		t.Errorf("Expected 1 unknown block, got %d", s.Unknown)
	}
	if s.MathInline != 1 || s.MathDisplay != 1 {
		t.Errorf("Expected 1 inline and 1 display math, got %d and %d", s.MathInline, s.MathDisplay)
	}
	if s.Citations != 1 {
		t.Errorf("Expected 1 citation, got %d", s.Citations)
	}
	if s.MaxDepth != 3 {
		t.Errorf("Expected max depth 3, got %d", s.MaxDepth)
	}
	if s.HintedNodes != 1 {
		t.Errorf("Expected 1 hinted node, got %d", s.HintedNodes)
	}
	if s.Words == 0 {
		t.Error("Expected a positive word count")
	}
}

func TestWords(t *testing.T) {
	got := Words("Hello, World! It's 42.")
	want := []string{"hello", "world", "it's", "42"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %q at %d, got %q", want[i], i, got[i])
		}
	}
}

func TestFingerprintBlock(t *testing.T) {
	a := NewBlock("a", &Paragraph{Text: Plain("same")})
	b := NewBlock("b", &Paragraph{Text: Plain("same")})
	c := NewBlock("c", &Quote{Text: Plain("same")})

	if FingerprintBlock(a) != FingerprintBlock(b) {
		t.Error("Expected ids to be ignored by fingerprint")
	}
	if FingerprintBlock(a) == FingerprintBlock(c) {
		t.Error("Expected block type to change fingerprint")
	}
	if len(FingerprintBytes(nil)) != 64 {
		t.Error("Expected 32-byte hex fingerprint")
	}
}
