// Package archive reads and writes document files. Single documents may be
// xz or gzip compressed; batches travel as tar.xz or tar.gz bundles.
package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/internal/validation"
)

// ReadFile reads a document, decompressing it when its content is xz or
// gzip. Files larger than maxSize after decompression are rejected; zero
// means validation.MaxFileSize.
func ReadFile(path string, maxSize int64) ([]byte, error) {
	if err := validation.ValidatePath(path); err != nil {
		return nil, errors.Wrap(err, "invalid input path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	defer f.Close()
	return Decode(f, maxSize)
}

// Decode reads r to the end, sniffing for compression.
func Decode(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = validation.MaxFileSize
	}
	br := bufio.NewReader(r)
	head, _ := br.Peek(8)

	var src io.Reader = br
	switch validation.DetectFileType(head) {
	case validation.FileTypeXZ:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		src = xzr
	case validation.FileTypeGzip:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		src = gzr
	}

	data, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		return nil, errors.NewIO("read", "", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", validation.ErrFileTooLarge, maxSize)
	}
	return data, nil
}

// IsBundle reports whether path names a tar bundle.
func IsBundle(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".tar.xz") || strings.HasSuffix(p, ".tar.gz") || strings.HasSuffix(p, ".tgz")
}

// Reader wraps a tar.Reader with automatic decompression handling.
type Reader struct {
	*tar.Reader
	file         *os.File
	decompressor io.Closer
}

// NewReader opens a .tar.xz or .tar.gz bundle.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}

	var reader io.Reader
	var decompressor io.Closer
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		reader = xzr
	case strings.HasSuffix(p, ".tar.gz"), strings.HasSuffix(p, ".tgz"):
		gzr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		reader = gzr
		decompressor = gzr
	default:
		f.Close()
		return nil, errors.NewUnsupported("archive format", path)
	}

	return &Reader{
		Reader:       tar.NewReader(reader),
		file:         f,
		decompressor: decompressor,
	}, nil
}

// Close closes the archive reader and any underlying decompressors.
func (r *Reader) Close() error {
	var first error
	if r.decompressor != nil {
		first = r.decompressor.Close()
	}
	if err := r.file.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Visitor is called for each archive entry. Return true to stop.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate walks through all entries in the archive, calling the visitor for each.
func (r *Reader) Iterate(visitor Visitor) error {
	for {
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}

		stop, err := visitor(header, r)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Entry is one document in a bundle.
type Entry struct {
	Name string
	Data []byte
}

// ReadBundle returns the regular files of a bundle in archive order.
// Entry names that would escape the bundle root are rejected, and each
// entry is capped at maxSize bytes.
func ReadBundle(path string, maxSize int64) ([]Entry, error) {
	if maxSize <= 0 {
		maxSize = validation.MaxFileSize
	}
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []Entry
	err = r.Iterate(func(h *tar.Header, content io.Reader) (bool, error) {
		if h.Typeflag != tar.TypeReg {
			return false, nil
		}
		name, err := validation.SanitizePath(".", h.Name)
		if err != nil {
			return true, fmt.Errorf("bundle entry %q: %w", h.Name, err)
		}
		if h.Size > maxSize {
			return true, fmt.Errorf("bundle entry %q: %w", h.Name, validation.ErrFileTooLarge)
		}
		data, err := io.ReadAll(io.LimitReader(content, maxSize))
		if err != nil {
			return true, fmt.Errorf("read %s: %w", h.Name, err)
		}
		entries = append(entries, Entry{Name: name, Data: data})
		return false, nil
	})
	return entries, err
}
