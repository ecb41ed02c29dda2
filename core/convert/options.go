package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/hints"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// MathRenderer selects how math is presented in hypertext output.
type MathRenderer string

// Math renderers.
const (
	MathJax  MathRenderer = "mathjax"
	KaTeX    MathRenderer = "katex"
	MathML   MathRenderer = "mathml"
	MathNone MathRenderer = "none"
)

// IsValid returns true if the renderer is known.
func (m MathRenderer) IsValid() bool {
	switch m {
	case MathJax, KaTeX, MathML, MathNone:
		return true
	}
	return false
}

// MathOptions configures math handling.
type MathOptions struct {
	Renderer MathRenderer `json:"renderer"`

	// PreserveSource keeps the original delimited markup on parse and
	// emits it alongside rendered math.
	PreserveSource bool `json:"preserveSource"`
}

// FileResolver loads an external file referenced by a document, such as a
// .bib database.
type FileResolver interface {
	Resolve(name string) ([]byte, error)
}

// FileResolverFunc adapts a function to FileResolver.
type FileResolverFunc func(name string) ([]byte, error)

// Resolve calls f.
func (f FileResolverFunc) Resolve(name string) ([]byte, error) {
	return f(name)
}

// DirResolver resolves names inside a directory. Names that would escape
// it are refused.
func DirResolver(dir string, maxSize int64) FileResolver {
	return FileResolverFunc(func(name string) ([]byte, error) {
		clean := filepath.Clean(name)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("refusing to resolve %q outside %s", name, dir)
		}
		path := filepath.Join(dir, clean)
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if maxSize > 0 && info.Size() > maxSize {
			return nil, fmt.Errorf("%s is larger than %d bytes", name, maxSize)
		}
		return os.ReadFile(path)
	})
}

// BibliographyOptions configures bibliography handling.
type BibliographyOptions struct {
	Style   ir.CitationStyle `json:"style"`
	Backend biblio.Backend   `json:"backend"`

	// ParseExternalFiles loads databases named by \bibliography or
	// \addbibresource through Resolver.
	ParseExternalFiles bool         `json:"parseExternalFiles"`
	Resolver           FileResolver `json:"-"`

	// Include emits the trailing bibliography on render.
	Include bool `json:"include"`
}

// WrapperOptions configures the outer document wrapper on render.
type WrapperOptions struct {
	IncludeWrapper bool `json:"includeWrapper"`

	// MaxHeaderLevel clamps heading depth. Zero means the format maximum.
	MaxHeaderLevel int `json:"maxHeaderLevel"`

	DocumentClass string `json:"documentClass,omitempty"`
	Stylesheet    string `json:"stylesheet,omitempty"`
}

// SanitizeOptions configures hypertext sanitisation on parse.
type SanitizeOptions struct {
	Enabled           bool     `json:"enabled"`
	AllowedTags       []string `json:"allowedTags,omitempty"`
	AllowedAttributes []string `json:"allowedAttributes,omitempty"`
}

// ParseOptions configures a Parser.
type ParseOptions struct {
	Math         MathOptions         `json:"math"`
	Bibliography BibliographyOptions `json:"bibliography"`
	Sanitize     SanitizeOptions     `json:"sanitize"`
	Limits       scan.Limits         `json:"limits"`

	// Version is the format version tag given to the structure validator.
	Version string `json:"version,omitempty"`

	// StructureValidator, when set, checks the parsed document.
	StructureValidator ir.StructureValidator `json:"-"`
}

// RenderOptions configures a Renderer.
type RenderOptions struct {
	Math         MathOptions         `json:"math"`
	Bibliography BibliographyOptions `json:"bibliography"`
	Wrapper      WrapperOptions      `json:"wrapper"`

	// Media and Preferences select conditional rendering hints.
	Media       hints.Media `json:"media"`
	Preferences []string    `json:"preferences,omitempty"`
}

// DefaultParseOptions returns options for untrusted input.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		Math:         MathOptions{Renderer: MathJax, PreserveSource: true},
		Bibliography: BibliographyOptions{Style: ir.StyleNumeric, Backend: biblio.BackendBibTeX},
		Sanitize:     SanitizeOptions{Enabled: true},
		Limits:       scan.DefaultLimits(),
	}
}

// DefaultRenderOptions returns options producing a complete standalone file.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Math:         MathOptions{Renderer: MathJax},
		Bibliography: BibliographyOptions{Style: ir.StyleNumeric, Backend: biblio.BackendBibTeX, Include: true},
		Wrapper:      WrapperOptions{IncludeWrapper: true},
		Media:        hints.Media{Type: "screen"},
	}
}

// HintContext returns the hint resolution context for a target format.
func (o RenderOptions) HintContext(format string) hints.Context {
	return hints.Context{Format: format, Media: o.Media, Preferences: o.Preferences}
}

// HeaderLevel clamps level to the configured maximum and the format maximum.
func (o RenderOptions) HeaderLevel(level, formatMax int) int {
	max := formatMax
	if o.Wrapper.MaxHeaderLevel > 0 && o.Wrapper.MaxHeaderLevel < max {
		max = o.Wrapper.MaxHeaderLevel
	}
	switch {
	case level < 1:
		return 1
	case level > max:
		return max
	}
	return level
}
