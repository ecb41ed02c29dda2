package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/internal/validation"
)

// WriteFile writes a document, compressing it when path ends in .xz or
// .gz. The file is written to a temporary name first and renamed into
// place, so readers never see a partial document.
func WriteFile(path string, data []byte) error {
	if err := validation.ValidatePath(path); err != nil {
		return errors.Wrap(err, "invalid output path")
	}
	return atomicWrite(path, func(w io.Writer) error {
		return Encode(w, path, data)
	})
}

// Encode writes data to w, compressed according to the suffix of name.
func Encode(w io.Writer, name string, data []byte) error {
	cw, err := compressor(w, name)
	if err != nil {
		return err
	}
	if _, err := cw.Write(data); err != nil {
		return err
	}
	return cw.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func compressor(w io.Writer, name string) (io.WriteCloser, error) {
	n := strings.ToLower(name)
	switch {
	case strings.HasSuffix(n, ".xz"):
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("xz writer: %w", err)
		}
		return xw, nil
	case strings.HasSuffix(n, ".gz"), strings.HasSuffix(n, ".tgz"):
		return gzip.NewWriter(w), nil
	default:
		return nopCloser{w}, nil
	}
}

// WriteBundle packs entries into a .tar.xz or .tar.gz bundle. Entry
// modification times are fixed so identical inputs give identical bundles.
func WriteBundle(path string, entries []Entry) error {
	if !IsBundle(path) {
		return errors.NewUnsupported("archive format", path)
	}
	if err := validation.ValidatePath(path); err != nil {
		return errors.Wrap(err, "invalid bundle path")
	}
	return atomicWrite(path, func(w io.Writer) error {
		cw, err := compressor(w, path)
		if err != nil {
			return err
		}
		tw := tar.NewWriter(cw)
		for _, e := range entries {
			name, err := validation.SanitizePath(".", e.Name)
			if err != nil {
				return fmt.Errorf("bundle entry %q: %w", e.Name, err)
			}
			header := &tar.Header{
				Name:     filepath.ToSlash(name),
				Mode:     0644,
				Size:     int64(len(e.Data)),
				ModTime:  time.Unix(0, 0),
				Typeflag: tar.TypeReg,
			}
			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			if _, err := tw.Write(e.Data); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return err
		}
		return cw.Close()
	})
}

func atomicWrite(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIO("create directory", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".edudoc-*")
	if err != nil {
		return errors.NewIO("create", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return errors.NewIO("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
