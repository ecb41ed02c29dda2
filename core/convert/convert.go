// Package convert defines the contracts every format backend implements:
// a Parser (external text to canonical tree), a Renderer (canonical tree to
// external text) and a Validator (structural and security checks). It also
// holds the option and result records shared by all backends, the backend
// registry and batch conversion.
//
// Conversion outcomes are never Go errors. Parsers and renderers record
// problems as issues inside their results and always return a usable
// document or content, so a pipeline over many inputs never aborts on one
// bad input.
package convert

import (
	"time"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// Parser converts external content into a canonical document.
type Parser interface {
	Parse(content []byte, opts ParseOptions) *ParseResult
}

// Renderer converts a canonical document into external content.
type Renderer interface {
	Render(doc *ir.Document, opts RenderOptions) *RenderResult
}

// Validator checks external content, or a document destined for the
// format, without modifying anything.
type Validator interface {
	Validate(content []byte) *ValidationResult
	ValidateDocument(doc *ir.Document) *ValidationResult
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(content []byte, opts ParseOptions) *ParseResult

// Parse calls f.
func (f ParserFunc) Parse(content []byte, opts ParseOptions) *ParseResult {
	return f(content, opts)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(doc *ir.Document, opts RenderOptions) *RenderResult

// Render calls f.
func (f RendererFunc) Render(doc *ir.Document, opts RenderOptions) *RenderResult {
	return f(doc, opts)
}

// SafeParse runs p and converts a panic into a fatal issue with a minimal
// empty document.
func SafeParse(p Parser, format string, content []byte, opts ParseOptions) (res *ParseResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = FatalResult(format, errors.Fatalf(errors.CodeFatalInput, "parser panic: %v", r))
			res.Metadata.ParseTime = time.Since(start)
		}
	}()
	res = p.Parse(content, opts)
	if res == nil {
		res = FatalResult(format, errors.Fatalf(errors.CodeFatalInput, "parser returned no result"))
	}
	if res.Document == nil {
		res.Document = ir.NewDocument(ir.CurrentVersion)
	}
	CheckStructure(res, opts)
	return res
}

// SafeRender runs r and converts a panic into a render failure issue.
func SafeRender(r Renderer, format string, doc *ir.Document, opts RenderOptions) (res *RenderResult) {
	defer func() {
		if p := recover(); p != nil {
			res = NewRenderResult(format)
			res.Add(errors.Fatalf(errors.CodeRenderFailure, "renderer panic: %v", p))
		}
	}()
	if doc == nil {
		res = NewRenderResult(format)
		res.Add(errors.Fatalf(errors.CodeRenderFailure, "no document to render"))
		return res
	}
	res = r.Render(doc, opts)
	if res == nil {
		res = NewRenderResult(format)
		res.Add(errors.Fatalf(errors.CodeRenderFailure, "renderer returned no result"))
	}
	return res
}

// CheckStructure runs the configured document-structure validator and
// records its findings as validation errors. The conversion core itself
// does not know version-specific structural rules.
func CheckStructure(res *ParseResult, opts ParseOptions) {
	if opts.StructureValidator == nil || res.Document == nil || res.Fatal() {
		return
	}
	version := opts.Version
	if version == "" {
		version = res.Document.Version
	}
	ok, errs := opts.StructureValidator.ValidateStructure(res.Document, version)
	for _, err := range errs {
		res.Add(errors.Invalidf(errors.CodeStructure, "%v", err))
	}
	if !ok && len(errs) == 0 {
		res.Add(errors.Invalidf(errors.CodeStructure, "document does not satisfy version %s", version))
	}
}
