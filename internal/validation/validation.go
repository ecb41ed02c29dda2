// Package validation checks user-supplied paths and input files before the
// CLI reads or writes them: path traversal, file name safety, size limits
// and content type sniffing.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

// Security limits to prevent resource exhaustion (CWE-400).
const (
	// MaxFileSize is the maximum allowed input file size after
	// decompression (64 MB).
	MaxFileSize = 64 << 20
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNotText          = errors.New("content is not text")
)

// SanitizePath validates a user-supplied path relative to baseDir and
// returns it cleaned. Paths that escape baseDir are rejected.
func SanitizePath(baseDir, userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if len(userPath) > MaxPathLength {
		return "", ErrPathTooLong
	}

	cleanPath := filepath.Clean(userPath)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	if filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	relPath, err := filepath.Rel(absBase, absPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}

	return cleanPath, nil
}

// IsPathSafe reports whether SanitizePath accepts userPath.
func IsPathSafe(baseDir, userPath string) bool {
	_, err := SanitizePath(baseDir, userPath)
	return err == nil
}

// ValidatePath checks length and characters of a path without a base
// directory.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// ValidateFilename checks that filename is a single safe path element.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	// Names starting with a hyphen read as flags.
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// SanitizeFilename turns an arbitrary name into a safe filename, or
// returns an error if nothing usable remains.
func SanitizeFilename(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	filename = strings.NewReplacer("/", "_", "\\", "_").Replace(filename)
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)
	filename = strings.TrimLeft(filename, "-")
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	return filename, nil
}

// OutputName derives the output filename for a converted input: the input
// base name with its format extension replaced by ext. A trailing .xz is
// dropped unless compress is set.
func OutputName(input, ext string, compress bool) (string, error) {
	base := filepath.Base(strings.TrimSuffix(input, ".xz"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name, err := SanitizeFilename(base + ext)
	if err != nil {
		return "", err
	}
	if compress {
		name += ".xz"
	}
	return name, nil
}

// FileType is the sniffed type of an input file.
type FileType string

const (
	FileTypeXZ      FileType = "xz"
	FileTypeGzip    FileType = "gzip"
	FileTypeText    FileType = "text"
	FileTypeBinary  FileType = "binary"
	FileTypeUnknown FileType = "unknown"
)

var magicBytes = []struct {
	fileType FileType
	magic    []byte
}{
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
	{FileTypeGzip, []byte{0x1f, 0x8b}},
}

// DetectFileType sniffs the first bytes of a file.
func DetectFileType(buf []byte) FileType {
	if len(buf) == 0 {
		return FileTypeUnknown
	}
	for _, sig := range magicBytes {
		if bytes.HasPrefix(buf, sig.magic) {
			return sig.fileType
		}
	}
	if isLikelyText(buf) {
		return FileTypeText
	}
	return FileTypeBinary
}

// ValidateFileType reads the header of r and checks it against the
// filename: ".xz" names must hold xz data, anything else must be text.
func ValidateFileType(r io.Reader, filename string) (FileType, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	detected := DetectFileType(buf[:n])

	if strings.HasSuffix(strings.ToLower(filename), ".xz") {
		if detected != FileTypeXZ {
			return detected, fmt.Errorf("file type mismatch: extension suggests xz but content is %s", detected)
		}
		return detected, nil
	}
	switch detected {
	case FileTypeText, FileTypeUnknown:
		return FileTypeText, nil
	case FileTypeBinary:
		return detected, fmt.Errorf("%w: %s", ErrNotText, filename)
	default:
		return detected, fmt.Errorf("file type mismatch: %s content in %s", detected, filename)
	}
}

// isLikelyText reports whether buf looks like text. Invalid UTF-8 is left
// to the parsers, which report it as a warning.
func isLikelyText(buf []byte) bool {
	if bytes.IndexByte(buf, 0) != -1 {
		return false
	}
	control := 0
	for _, b := range buf {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' && b != '\f' {
			control++
		}
	}
	return control*20 < len(buf)
}
