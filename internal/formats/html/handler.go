// Package html provides the hypertext backend: a parser over the x/net/html
// tree with optional sanitisation, a renderer that escapes every text and
// attribute emission path, and a validator for tag balance and active
// content.
package html

import (
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// FormatID is the registry id of the backend.
const FormatID = "html"

// Manifest returns the backend manifest for registration.
func Manifest() *convert.Manifest {
	return &convert.Manifest{
		ID:         FormatID,
		Name:       "HTML",
		Version:    "1.0.0",
		Extensions: []string{".html", ".htm", ".xhtml"},
		MediaType:  "text/html",
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
			Markers: []string{"<!DOCTYPE html", "<!doctype html", "<html", "<body", "<section", "<p>"},
			Window:  1024,
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
