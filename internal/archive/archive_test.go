package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/edudoc/internal/validation"
)

const sample = "\\documentclass{article}\n\\begin{document}\nHello $x^2$.\n\\end{document}\n"

func TestReadFilePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.tex")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path, 0)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != sample {
		t.Errorf("ReadFile() = %q", got)
	}
}

func TestWriteReadCompressed(t *testing.T) {
	for _, name := range []string{"notes.tex.xz", "notes.tex.gz", "notes.tex"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", name)
			if err := WriteFile(path, []byte(sample)); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			compressed := strings.HasSuffix(name, ".xz") || strings.HasSuffix(name, ".gz")
			if compressed == bytes.Equal(raw, []byte(sample)) {
				t.Errorf("Expected compressed=%v on disk", compressed)
			}
			got, err := ReadFile(path, 0)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			if string(got) != sample {
				t.Errorf("Round trip mismatch: %q", got)
			}
			left, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".edudoc-*"))
			if len(left) != 0 {
				t.Errorf("Expected temp files removed, found %v", left)
			}
		})
	}
}

func TestDecodeSniffsContent(t *testing.T) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, sample)
	w.Close()

	got, err := Decode(&buf, 0)
	if err != nil || string(got) != sample {
		t.Errorf("Decode() = %q, %v", got, err)
	}

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	io.WriteString(gw, sample)
	gw.Close()
	if got, err := Decode(&gz, 0); err != nil || string(got) != sample {
		t.Errorf("Decode(gzip) = %q, %v", got, err)
	}
}

func TestDecodeSizeLimit(t *testing.T) {
	if _, err := Decode(strings.NewReader(strings.Repeat("a", 101)), 100); !errors.Is(err, validation.ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge, got %v", err)
	}
	if got, err := Decode(strings.NewReader(strings.Repeat("a", 100)), 100); err != nil || len(got) != 100 {
		t.Errorf("Expected exactly the limit to pass, got %d %v", len(got), err)
	}

	// Decompression bombs are measured after decoding.
	var buf bytes.Buffer
	w, _ := xz.NewWriter(&buf)
	w.Write(bytes.Repeat([]byte("a"), 1<<20))
	w.Close()
	if _, err := Decode(&buf, 1024); !errors.Is(err, validation.ErrFileTooLarge) {
		t.Errorf("Expected compressed input to be capped, got %v", err)
	}
}

func TestReadFileErrors(t *testing.T) {
	if _, err := ReadFile("", 0); !errors.Is(err, validation.ErrEmptyPath) {
		t.Errorf("Expected empty path error, got %v", err)
	}
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.md"), 0); err == nil {
		t.Error("Expected missing file error")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "notes.html", Data: []byte("<p>a</p>")},
		{Name: "ch1/intro.md", Data: []byte("# Intro\n")},
	}
	for _, name := range []string{"out.tar.xz", "out.tar.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := WriteBundle(path, entries); err != nil {
				t.Fatalf("WriteBundle() error = %v", err)
			}
			got, err := ReadBundle(path, 0)
			if err != nil {
				t.Fatalf("ReadBundle() error = %v", err)
			}
			if len(got) != 2 || got[1].Name != filepath.Join("ch1", "intro.md") || string(got[0].Data) != "<p>a</p>" {
				t.Errorf("ReadBundle() = %+v", got)
			}
		})
	}
}

func TestBundleDeterministic(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{{Name: "a.md", Data: []byte("a")}}
	a, b := filepath.Join(dir, "a.tar.gz"), filepath.Join(dir, "b.tar.gz")
	if err := WriteBundle(a, entries); err != nil {
		t.Fatal(err)
	}
	if err := WriteBundle(b, entries); err != nil {
		t.Fatal(err)
	}
	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if !bytes.Equal(da, db) {
		t.Error("Expected identical bundles")
	}
}

func TestBundleRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	if err := WriteBundle(filepath.Join(dir, "bad.tar.gz"), []Entry{{Name: "../x.md"}}); !errors.Is(err, validation.ErrPathTraversal) {
		t.Errorf("Expected traversal error on write, got %v", err)
	}
	if err := WriteBundle(filepath.Join(dir, "bad.zip"), nil); err == nil {
		t.Error("Expected unsupported format error")
	}

	// A hostile bundle written by hand.
	path := filepath.Join(dir, "evil.tar.gz")
	f, _ := os.Create(path)
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Mode: 0644, Size: 1, Typeflag: tar.TypeReg})
	tw.Write([]byte("x"))
	tw.Close()
	gw.Close()
	f.Close()
	if _, err := ReadBundle(path, 0); !errors.Is(err, validation.ErrPathTraversal) {
		t.Errorf("Expected traversal error on read, got %v", err)
	}
}

func TestIsBundle(t *testing.T) {
	for path, want := range map[string]bool{
		"a.tar.xz": true,
		"a.TAR.GZ": true,
		"a.tgz":    true,
		"a.tex.xz": false,
		"a.tar":    false,
	} {
		if IsBundle(path) != want {
			t.Errorf("IsBundle(%q) != %v", path, want)
		}
	}
}
