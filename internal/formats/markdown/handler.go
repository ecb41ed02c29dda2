// Package markdown provides the Markdown backend: a goldmark-based parser
// with TeX math, pandoc-style citations and YAML front matter, a renderer
// that escapes every text emission path, and a source validator.
package markdown

import (
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// FormatID is the registry id of the backend.
const FormatID = "markdown"

// Manifest returns the backend manifest for registration.
func Manifest() *convert.Manifest {
	return &convert.Manifest{
		ID:         FormatID,
		Name:       "Markdown",
		Version:    "1.0.0",
		Extensions: []string{".md", ".markdown", ".mdown"},
		MediaType:  "text/markdown",
	}
}

// Backend returns the parser, renderer and validator bundle.
func Backend() *convert.Backend {
	return &convert.Backend{
		Manifest:  Manifest(),
		Parser:    &Parser{},
		Renderer:  &Renderer{},
		Validator: &Validator{},
		Detect: base.Detector(base.DetectConfig{
			Markers: []string{"\n# ", "\n## ", "```", "[@", "\n- ", "](", "\n---\n"},
			Window:  2048,
		}),
	}
}

// Register registers this backend with the format registry.
func Register() {
	convert.Register(Backend())
}

func init() {
	Register()
}
