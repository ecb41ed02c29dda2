package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with ID",
			err:      &NotFoundError{Resource: "format", ID: "rtf"},
			wantMsg:  "format not found: rtf",
			wantBase: ErrNotFound,
		},
		{
			name:     "without ID",
			err:      &NotFoundError{Resource: "backend"},
			wantMsg:  "backend not found",
			wantBase: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, tt.wantBase) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantBase)
			}
		})
	}

	// Test with underlying error separately
	t.Run("with underlying error", func(t *testing.T) {
		underlyingErr := fmt.Errorf("disk error")
		err := &NotFoundError{Resource: "file", ID: "test.txt", Err: underlyingErr}
		if got := err.Error(); got != "file not found: test.txt" {
			t.Errorf("Error() = %q, want %q", got, "file not found: test.txt")
		}
		if got := err.Unwrap(); got != underlyingErr {
			t.Errorf("Unwrap() = %v, want %v", got, underlyingErr)
		}
	})
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with field",
			err:      &ValidationError{Field: "maxHeaderLevel", Message: "must be between 1 and 6"},
			wantMsg:  "validation failed for maxHeaderLevel: must be between 1 and 6",
			wantBase: ErrInvalidInput,
		},
		{
			name:     "without field",
			err:      &ValidationError{Message: "invalid format"},
			wantMsg:  "validation failed: invalid format",
			wantBase: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, tt.wantBase) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantBase)
			}
		})
	}

	// Test with underlying error separately
	t.Run("with underlying error", func(t *testing.T) {
		underlyingErr := fmt.Errorf("regex parse error")
		err := &ValidationError{Field: "pattern", Message: "invalid regex", Err: underlyingErr}
		if got := err.Unwrap(); got != underlyingErr {
			t.Errorf("Unwrap() = %v, want %v", got, underlyingErr)
		}
	})
}

func TestSecurityError(t *testing.T) {
	tests := []struct {
		name    string
		err     *SecurityError
		wantMsg string
	}{
		{
			name:    "with offset",
			err:     NewSecurity("latex", `\write18`, 12),
			wantMsg: `unsafe latex construct "\\write18" at offset 12`,
		},
		{
			name:    "unknown offset",
			err:     NewSecurity("html", "<script>", -1),
			wantMsg: `unsafe html construct "<script>"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, ErrUnsafe) {
				t.Errorf("Expected error to match ErrUnsafe")
			}
		})
	}
}

func TestIOError(t *testing.T) {
	baseErr := fmt.Errorf("permission denied")
	tests := []struct {
		name    string
		err     *IOError
		wantMsg string
	}{
		{
			name:    "with path",
			err:     &IOError{Operation: "read", Path: "/test/file.txt", Err: baseErr},
			wantMsg: "failed to read /test/file.txt: permission denied",
		},
		{
			name:    "without path",
			err:     &IOError{Operation: "write", Err: baseErr},
			wantMsg: "failed to write: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, baseErr) {
				t.Errorf("Unwrap() = %v, want %v", got, baseErr)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ParseError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with path",
			err:      &ParseError{Format: "bibtex", Path: "refs.bib", Message: "unexpected EOF"},
			wantMsg:  "failed to parse bibtex at refs.bib: unexpected EOF",
			wantBase: ErrInvalidInput,
		},
		{
			name:     "without path",
			err:      &ParseError{Format: "xml", Message: "malformed tag"},
			wantMsg:  "failed to parse xml: malformed tag",
			wantBase: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, tt.wantBase) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantBase)
			}
		})
	}

	// Test with underlying error separately
	t.Run("with underlying error", func(t *testing.T) {
		underlyingErr := fmt.Errorf("json: unexpected token")
		err := &ParseError{Format: "JSON", Path: "config.json", Message: "invalid syntax", Err: underlyingErr}
		if got := err.Unwrap(); got != underlyingErr {
			t.Errorf("Unwrap() = %v, want %v", got, underlyingErr)
		}
	})
}

func TestUnsupportedError(t *testing.T) {
	tests := []struct {
		name     string
		err      *UnsupportedError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with reason",
			err:      &UnsupportedError{Feature: "output format", Reason: "docx is not implemented"},
			wantMsg:  "unsupported output format: docx is not implemented",
			wantBase: ErrUnsupported,
		},
		{
			name:     "without reason",
			err:      &UnsupportedError{Feature: "format"},
			wantMsg:  "unsupported format",
			wantBase: ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, tt.wantBase) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantBase)
			}
		})
	}

	// Test with underlying error separately
	t.Run("with underlying error", func(t *testing.T) {
		underlyingErr := fmt.Errorf("codec not compiled")
		err := &UnsupportedError{Feature: "math renderer", Reason: "asciimath", Err: underlyingErr}
		if got := err.Unwrap(); got != underlyingErr {
			t.Errorf("Unwrap() = %v, want %v", got, underlyingErr)
		}
	})
}

func TestHelperFunctions(t *testing.T) {
	t.Run("NewNotFound", func(t *testing.T) {
		err := NewNotFound("entry", "knuth84")
		if err.Resource != "entry" || err.ID != "knuth84" {
			t.Errorf("NewNotFound() = %+v, want Resource=entry, ID=knuth84", err)
		}
	})

	t.Run("NewValidation", func(t *testing.T) {
		err := NewValidation("email", "invalid format")
		if err.Field != "email" || err.Message != "invalid format" {
			t.Errorf("NewValidation() = %+v, want Field=email, Message=invalid format", err)
		}
	})

	t.Run("NewIO", func(t *testing.T) {
		baseErr := fmt.Errorf("disk full")
		err := NewIO("write", "/tmp/test", baseErr)
		if err.Operation != "write" || err.Path != "/tmp/test" || err.Err != baseErr {
			t.Errorf("NewIO() = %+v, unexpected values", err)
		}
	})

	t.Run("NewParse", func(t *testing.T) {
		err := NewParse("yaml", "front matter", "invalid syntax")
		if err.Format != "yaml" || err.Path != "front matter" || err.Message != "invalid syntax" {
			t.Errorf("NewParse() = %+v, unexpected values", err)
		}
	})

	t.Run("NewUnsupported", func(t *testing.T) {
		err := NewUnsupported("codec", "not compiled in")
		if err.Feature != "codec" || err.Reason != "not compiled in" {
			t.Errorf("NewUnsupported() = %+v, unexpected values", err)
		}
	})
}

func TestWrap(t *testing.T) {
	t.Run("wraps error", func(t *testing.T) {
		baseErr := fmt.Errorf("base error")
		wrapped := Wrap(baseErr, "context message")
		if wrapped == nil {
			t.Fatal("Wrap() returned nil")
		}
		if !errors.Is(wrapped, baseErr) {
			t.Errorf("Wrap() error does not unwrap to base error")
		}
		wantMsg := "context message: base error"
		if wrapped.Error() != wantMsg {
			t.Errorf("Wrap() = %q, want %q", wrapped.Error(), wantMsg)
		}
	})

	t.Run("nil error returns nil", func(t *testing.T) {
		if got := Wrap(nil, "context"); got != nil {
			t.Errorf("Wrap(nil) = %v, want nil", got)
		}
	})
}

func TestWrapf(t *testing.T) {
	t.Run("wraps error with formatting", func(t *testing.T) {
		baseErr := fmt.Errorf("base error")
		wrapped := Wrapf(baseErr, "failed to convert %s", "notes.tex")
		if wrapped == nil {
			t.Fatal("Wrapf() returned nil")
		}
		if !errors.Is(wrapped, baseErr) {
			t.Errorf("Wrapf() error does not unwrap to base error")
		}
		wantMsg := "failed to convert notes.tex: base error"
		if wrapped.Error() != wantMsg {
			t.Errorf("Wrapf() = %q, want %q", wrapped.Error(), wantMsg)
		}
	})

	t.Run("nil error returns nil", func(t *testing.T) {
		if got := Wrapf(nil, "context %s", "test"); got != nil {
			t.Errorf("Wrapf(nil) = %v, want nil", got)
		}
	})
}

func TestIs(t *testing.T) {
	err := &NotFoundError{Resource: "test"}
	if !Is(err, ErrNotFound) {
		t.Error("Is() failed to match NotFoundError to ErrNotFound")
	}
}

func TestAs(t *testing.T) {
	err := &NotFoundError{Resource: "test", ID: "123"}
	var nfErr *NotFoundError
	if !As(err, &nfErr) {
		t.Error("As() failed to match NotFoundError")
	}
	if nfErr.ID != "123" {
		t.Errorf("As() nfErr.ID = %q, want %q", nfErr.ID, "123")
	}
}
