// Package latex provides the LaTeX backend: a segmenting parser, a renderer
// that escapes every text emission path and a validator with a
// control-sequence denylist.
package latex

import (
	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// FormatID is the registry id of the backend.
const FormatID = "latex"

// Manifest returns the backend manifest for registration.
func Manifest() *convert.Manifest {
	return &convert.Manifest{
		ID:         FormatID,
		Name:       "LaTeX",
		Version:    "1.0.0",
		Extensions: []string{".tex", ".latex", ".ltx"},
		MediaType:  "application/x-latex",
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
			Markers: []string{`\documentclass`, `\begin{document}`, `\section{`, `\chapter{`},
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
