package validation

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizePath(t *testing.T) {
	baseDir := "/tmp/test"

	tests := []struct {
		name      string
		userPath  string
		want      string
		wantError error
	}{
		{"simple valid path", "notes.tex", "notes.tex", nil},
		{"nested valid path", "ch1/notes.tex", filepath.Join("ch1", "notes.tex"), nil},
		{"redundant separators", "ch1//notes.tex", filepath.Join("ch1", "notes.tex"), nil},
		{"dot component", "./notes.tex", "notes.tex", nil},
		{"dots inside a name", "v1..2.tex", "v1..2.tex", nil},
		{"traversal with dotdot", "../etc/passwd", "", ErrPathTraversal},
		{"traversal in middle", "ch1/../../etc/passwd", "", ErrPathTraversal},
		{"bare dotdot", "..", "", ErrPathTraversal},
		{"absolute path", "/etc/passwd", "", ErrPathTraversal},
		{"empty path", "", "", ErrEmptyPath},
		{"very long path", strings.Repeat("a", MaxPathLength+1), "", ErrPathTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(baseDir, tt.userPath)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Errorf("SanitizePath() error = %v, want %v", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizePath() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsPathSafe(t *testing.T) {
	if !IsPathSafe("/tmp", "out/a.html") {
		t.Error("Expected nested path to be safe")
	}
	if IsPathSafe("/tmp", "../a.html") {
		t.Error("Expected traversal to be unsafe")
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantError error
	}{
		{"relative", "docs/notes.tex", nil},
		{"absolute", "/home/user/notes.tex", nil},
		{"empty", "", ErrEmptyPath},
		{"too long", strings.Repeat("a", MaxPathLength+1), ErrPathTooLong},
		{"null byte", "notes\x00.tex", ErrInvalidCharacter},
		{"control character", "notes\x1b.tex", ErrInvalidCharacter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantError == nil && err != nil {
				t.Errorf("ValidatePath() unexpected error = %v", err)
			}
			if tt.wantError != nil && !errors.Is(err, tt.wantError) {
				t.Errorf("ValidatePath() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		wantError error
	}{
		{"simple", "notes.md", nil},
		{"unicode", "résumé.tex", nil},
		{"empty", "", ErrInvalidFilename},
		{"dot", ".", ErrInvalidFilename},
		{"dotdot", "..", ErrInvalidFilename},
		{"separator", "a/b.md", ErrInvalidFilename},
		{"backslash", "a\\b.md", ErrInvalidFilename},
		{"control", "a\tb.md", ErrInvalidFilename},
		{"hyphen", "-rf.md", ErrInvalidFilename},
		{"too long", strings.Repeat("a", MaxFilenameLength+1), ErrFilenameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantError == nil && err != nil {
				t.Errorf("ValidateFilename() unexpected error = %v", err)
			}
			if tt.wantError != nil && !errors.Is(err, tt.wantError) {
				t.Errorf("ValidateFilename() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"notes.md", "notes.md", false},
		{"  padded.md  ", "padded.md", false},
		{"a/b\\c.md", "a_b_c.md", false},
		{"--flag.md", "flag.md", false},
		{"ne\x00w\nline.md", "newline.md", false},
		{"", "", true},
		{"---", "", true},
	}
	for _, tt := range tests {
		got, err := SanitizeFilename(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SanitizeFilename(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		input    string
		ext      string
		compress bool
		want     string
	}{
		{"notes.tex", ".html", false, "notes.html"},
		{"dir/notes.tex.xz", ".md", false, "notes.md"},
		{"dir/notes.tex", ".xml", true, "notes.xml.xz"},
		{"README", ".tex", false, "README.tex"},
	}
	for _, tt := range tests {
		got, err := OutputName(tt.input, tt.ext, tt.compress)
		if err != nil {
			t.Fatalf("OutputName(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("OutputName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want FileType
	}{
		{"xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0x00, 0x01}, FileTypeXZ},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, FileTypeGzip},
		{"latex", []byte("\\documentclass{article}\n"), FileTypeText},
		{"latin1", []byte("caf\xe9 au lait"), FileTypeText},
		{"null bytes", []byte("ab\x00cd"), FileTypeBinary},
		{"control heavy", bytes.Repeat([]byte{0x01, 'a'}, 20), FileTypeBinary},
		{"empty", nil, FileTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFileType(tt.buf); got != tt.want {
				t.Errorf("DetectFileType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateFileType(t *testing.T) {
	xzHeader := []byte{0xfd, '7', 'z', 'X', 'Z', 0x00, 0x00, 0x04}

	tests := []struct {
		name     string
		content  []byte
		filename string
		want     FileType
		wantErr  bool
	}{
		{"text source", []byte("# Title\n"), "notes.md", FileTypeText, false},
		{"empty source", nil, "empty.tex", FileTypeText, false},
		{"compressed source", xzHeader, "notes.tex.xz", FileTypeXZ, false},
		{"xz name with text", []byte("plain"), "notes.tex.xz", FileTypeText, true},
		{"xz data without suffix", xzHeader, "notes.tex", FileTypeXZ, true},
		{"binary", []byte("\x00\x01\x02"), "notes.html", FileTypeBinary, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFileType(bytes.NewReader(tt.content), tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFileType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateFileType() = %s, want %s", got, tt.want)
			}
		})
	}
	if _, err := ValidateFileType(bytes.NewReader([]byte{0}), "x.md"); !errors.Is(err, ErrNotText) {
		t.Errorf("Expected ErrNotText, got %v", err)
	}
}
