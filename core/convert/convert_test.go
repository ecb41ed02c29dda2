package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// textBackend treats every line as a paragraph. A line "!panic" panics and
// an empty input is fatal.
func textBackend() *Backend {
	return &Backend{
		Manifest: &Manifest{ID: "text", Name: "Plain text", Extensions: []string{".txt"}},
		Parser: ParserFunc(func(content []byte, opts ParseOptions) *ParseResult {
			start := time.Now()
			if len(content) == 0 {
				return FatalResult("text", errors.Fatalf(errors.CodeFatalInput, "empty input"))
			}
			res := NewParseResult("text")
			for i, line := range strings.Split(string(content), "\n") {
				switch {
				case line == "!panic":
					panic("boom")
				case strings.HasPrefix(line, "?"):
					res.Unmapped(errors.Warnf(errors.CodeUnknownElement, "unknown line").At(i+1, 1))
				}
				res.Document.Body.Append(ir.NewBlock("", &ir.Paragraph{Text: ir.Plain(line)}))
				res.Mapped(1)
			}
			return res.Finish(start)
		}),
		Renderer: RendererFunc(func(doc *ir.Document, opts RenderOptions) *RenderResult {
			start := time.Now()
			res := NewRenderResult("text")
			var lines []string
			for _, b := range doc.Blocks() {
				lines = append(lines, ir.BlockText(b))
			}
			res.Content = strings.Join(lines, "\n")
			return res.Finish(doc, start)
		}),
		Detect: func(content []byte) bool { return !strings.Contains(string(content), "<") },
	}
}

func withTextBackend(t *testing.T) {
	t.Helper()
	ClearRegistry()
	Register(textBackend())
	t.Cleanup(ClearRegistry)
}

func TestRegistry(t *testing.T) {
	withTextBackend(t)

	if !Has("text") || Get("TEXT") == nil {
		t.Error("Expected text backend to be registered")
	}
	if _, err := Lookup("nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if b := ForPath("notes/a.TXT.xz"); b == nil || b.Manifest.ID != "text" {
		t.Errorf("Expected backend for .txt.xz, got %v", b)
	}
	if ForPath("a.tex") != nil {
		t.Error("Expected no backend for .tex")
	}
	if b := DetectContent([]byte("plain")); b == nil {
		t.Error("Expected content detection")
	}
	Register(&Backend{Manifest: &Manifest{}})
	if len(List()) != 1 {
		t.Errorf("Expected backends without ID to be ignored, got %d", len(List()))
	}
}

func TestSafeParseRecoversPanic(t *testing.T) {
	withTextBackend(t)
	res := Get("text").Parse([]byte("a\n!panic"), DefaultParseOptions())
	if !res.Fatal() {
		t.Fatal("Expected fatal result")
	}
	if res.Document == nil || res.Document.Body == nil || res.Document.Body.Len() != 0 {
		t.Error("Expected minimal empty document")
	}
	if !res.Errors.HasCode(errors.CodeFatalInput) {
		t.Errorf("Expected fatal code, got %v", res.Errors)
	}
}

func TestParseResultScore(t *testing.T) {
	withTextBackend(t)
	res := Get("text").Parse([]byte("a\n?b\nc\n?d"), DefaultParseOptions())
	if res.Metadata.MappedElements != 4 || res.Metadata.UnmappedElements != 2 {
		t.Errorf("Unexpected counts %+v", res.Metadata)
	}
	if got := res.Metadata.FidelityScore; got < 0.66 || got > 0.67 {
		t.Errorf("Expected score 4/6, got %f", got)
	}
	if len(res.Warnings) != 2 || len(res.Errors) != 0 {
		t.Errorf("Expected 2 warnings, got %v / %v", res.Warnings, res.Errors)
	}
	if len(res.Issues()) != 2 {
		t.Errorf("Expected 2 issues, got %d", len(res.Issues()))
	}
}

func TestStructureValidatorCollaborator(t *testing.T) {
	withTextBackend(t)
	var gotVersion string
	opts := DefaultParseOptions()
	opts.Version = "2.0"
	opts.StructureValidator = ir.StructureValidatorFunc(func(doc *ir.Document, version string) (bool, []error) {
		gotVersion = version
		return false, nil
	})

	res := Get("text").Parse([]byte("x"), opts)
	if gotVersion != "2.0" {
		t.Errorf("Expected version 2.0, got %q", gotVersion)
	}
	if !res.Errors.HasCode(errors.CodeStructure) {
		t.Errorf("Expected structure error, got %v", res.Errors)
	}
}

func TestSafeRender(t *testing.T) {
	withTextBackend(t)
	res := Get("text").Render(nil, DefaultRenderOptions())
	if len(res.Errors) != 1 {
		t.Errorf("Expected error for nil document, got %v", res.Errors)
	}

	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("p1", &ir.Paragraph{Text: ir.Plain("two words")}))
	res = Get("text").Render(doc, DefaultRenderOptions())
	if res.Content != "two words" || res.Metadata.WordCount != 2 {
		t.Errorf("Unexpected render %q (%d words)", res.Content, res.Metadata.WordCount)
	}
}

func TestBatch(t *testing.T) {
	withTextBackend(t)
	jobs := []Job{
		{Name: "ok", Content: []byte("hello"), From: "text", To: "text"},
		{Name: "empty", Content: nil, From: "text", To: "text"},
		{Name: "panic", Content: []byte("!panic"), From: "text", To: "text"},
		{Name: "unknown", Content: []byte("x"), From: "klingon"},
		{Name: "parse-only", Content: []byte("y"), From: "text"},
	}

	results := Batch(context.Background(), jobs, BatchOptions{Parse: DefaultParseOptions(), Render: DefaultRenderOptions(), Parallelism: 2})
	if len(results) != len(jobs) {
		t.Fatalf("Expected %d results, got %d", len(jobs), len(results))
	}
	for i, r := range results {
		if r.Name != jobs[i].Name {
			t.Errorf("Expected result order to match jobs, got %s at %d", r.Name, i)
		}
	}
	if !results[0].OK() || results[0].Render.Content != "hello" {
		t.Errorf("Expected first job to succeed, got %+v", results[0])
	}
	if results[1].OK() || !results[1].Parse.Fatal() || len(results[1].Render.Errors) == 0 {
		t.Error("Expected fatal parse to skip rendering with an error")
	}
	if results[2].OK() || !results[2].Parse.Fatal() {
		t.Error("Expected panic to become a fatal result")
	}
	if results[3].Err == nil {
		t.Error("Expected unknown format error")
	}
	if !results[4].OK() || results[4].Render != nil {
		t.Error("Expected parse-only job without render")
	}
}

func TestBatchCancelled(t *testing.T) {
	withTextBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := Batch(ctx, []Job{{Name: "a", Content: []byte("a"), From: "text"}}, BatchOptions{})
	if results[0].Err == nil {
		t.Error("Expected cancellation error")
	}
}

func TestBatchParseCache(t *testing.T) {
	withTextBackend(t)
	jobs := []Job{
		{Name: "a", Content: []byte("same"), From: "text", To: "text"},
		{Name: "b", Content: []byte("same"), From: "text", To: "text"},
		{Name: "c", Content: []byte("other"), From: "text"},
		{Name: "d", Content: nil, From: "text"},
		{Name: "e", Content: nil, From: "text"},
	}
	c := NewParseCache(8)
	results := Batch(context.Background(), jobs, BatchOptions{Parallelism: 1, Cache: c})
	if results[0].Parse != results[1].Parse {
		t.Error("Expected identical sources to share a parse result")
	}
	if results[1].Render.Content != "same" {
		t.Errorf("Expected cached parse to render, got %q", results[1].Render.Content)
	}
	if results[3].Parse == results[4].Parse {
		t.Error("Expected fatal results not to be cached")
	}
	if s := c.Stats(); s.Hits != 1 || s.Size != 2 {
		t.Errorf("Unexpected cache stats %+v", s)
	}
}

func TestHeaderLevel(t *testing.T) {
	opts := DefaultRenderOptions()
	if got := opts.HeaderLevel(9, 6); got != 6 {
		t.Errorf("Expected 6, got %d", got)
	}
	opts.Wrapper.MaxHeaderLevel = 3
	if got := opts.HeaderLevel(5, 6); got != 3 {
		t.Errorf("Expected 3, got %d", got)
	}
	if got := opts.HeaderLevel(0, 6); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "refs.bib"), []byte("@misc{a,}"), 0o600); err != nil {
		t.Fatal(err)
	}
	r := DirResolver(dir, 1024)
	if data, err := r.Resolve("refs.bib"); err != nil || string(data) != "@misc{a,}" {
		t.Errorf("Resolve() = %q, %v", data, err)
	}
	for _, bad := range []string{"../etc/passwd", "/etc/passwd", "missing.bib"} {
		if _, err := r.Resolve(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
	if _, err := DirResolver(dir, 4).Resolve("refs.bib"); err == nil {
		t.Error("Expected size limit error")
	}
}

func TestValidationResult(t *testing.T) {
	res := NewValidationResult()
	res.Add(errors.Warnf(errors.CodeDeprecatedSyntax, "old"))
	if !res.Valid {
		t.Error("Expected warnings to keep result valid")
	}
	other := NewValidationResult()
	other.Add(errors.Unsafef(errors.CodeShellEscape, "shell"))
	res.Merge(other)
	if res.Valid || len(res.Errors) != 1 || len(res.Warnings) != 1 {
		t.Errorf("Unexpected merged result %+v", res)
	}
}

func TestValidateTree(t *testing.T) {
	doc := ir.NewDocument(ir.CurrentVersion)
	doc.Body.Append(ir.NewBlock("h", &ir.Heading{Level: 9, Text: ir.Plain("x")}))
	if res := ValidateTree(doc); res.Valid {
		t.Error("Expected invalid heading level to fail")
	}
	if res := ValidateTree(nil); res.Valid {
		t.Error("Expected nil document to fail")
	}
}
