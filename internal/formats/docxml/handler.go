// Package docxml provides the canonical XML serialisation of the document
// tree. Every field of the tree has a home in the vocabulary, so a render
// followed by a parse reproduces the document exactly; it is the storage
// and interchange form other backends are compared against.
//
// The vocabulary:
//
//	<document version lang dir>
//	  <metadata> title author* date keyword* </metadata>
//	  <subject scheme level> code* </subject>
//	  <front-matter> <body> <back-matter>
//	    <division|chapter|section id label> title? hint* node* </...>
//	    <paragraph|heading|list|table|figure|math|code|quote|unknown id lang dir> ...
//	  <bibliography> <entry id type> field* crossref* </entry> </bibliography>
//	</document>
//
// Inline text is mixed content with one element per run kind.
package docxml

import (
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// FormatID is the registry id of the backend.
const FormatID = "docxml"

// Manifest returns the backend manifest for registration.
func Manifest() *convert.Manifest {
	return &convert.Manifest{
		ID:         FormatID,
		Name:       "Document XML",
		Version:    "1.0.0",
		Extensions: []string{".xml", ".docxml"},
		MediaType:  "application/xml",
		Lossless:   true,
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
			Markers: []string{"<document ", "<document>"},
			Window:  512,
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
