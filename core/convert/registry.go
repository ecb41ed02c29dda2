package convert

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// Manifest describes a format backend.
type Manifest struct {
	// ID is the short format name used on the command line ("latex").
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`

	// Extensions are the file extensions the backend reads and writes,
	// with leading dot. The first one is used for output files.
	Extensions []string `json:"extensions"`
	MediaType  string   `json:"mediaType,omitempty"`

	// Lossless is true when a render-parse round trip reproduces the tree.
	Lossless bool `json:"lossless"`
}

// Backend bundles the parser, renderer and validator of one format.
type Backend struct {
	Manifest  *Manifest
	Parser    Parser
	Renderer  Renderer
	Validator Validator

	// Detect reports whether content looks like this format.
	Detect func(content []byte) bool
}

// Parse runs the backend parser with panic protection.
func (b *Backend) Parse(content []byte, opts ParseOptions) *ParseResult {
	return SafeParse(b.Parser, b.Manifest.ID, content, opts)
}

// Render runs the backend renderer with panic protection.
func (b *Backend) Render(doc *ir.Document, opts RenderOptions) *RenderResult {
	return SafeRender(b.Renderer, b.Manifest.ID, doc, opts)
}

// Validate runs the backend validator. Backends without one accept
// everything.
func (b *Backend) Validate(content []byte) *ValidationResult {
	if b.Validator == nil {
		return NewValidationResult()
	}
	return b.Validator.Validate(content)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Backend)
)

// Register registers a backend by its manifest ID.
func Register(b *Backend) {
	if b == nil || b.Manifest == nil || b.Manifest.ID == "" {
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Manifest.ID] = b
}

// Get returns a backend by ID, or nil if not found.
func Get(id string) *Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[strings.ToLower(id)]
}

// Lookup returns a backend by ID or a NotFoundError.
func Lookup(id string) (*Backend, error) {
	if b := Get(id); b != nil {
		return b, nil
	}
	return nil, errors.NewNotFound("format", id)
}

// Has checks if a backend with the given ID is registered.
func Has(id string) bool {
	return Get(id) != nil
}

// List returns all registered backends sorted by ID.
func List() []*Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Backend, 0, len(registry))
	for _, b := range registry {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// ForPath returns the backend whose extensions match path, or nil.
func ForPath(path string) *Backend {
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".xz")))
	if ext == "" {
		return nil
	}
	for _, b := range List() {
		for _, e := range b.Manifest.Extensions {
			if strings.EqualFold(e, ext) {
				return b
			}
		}
	}
	return nil
}

// DetectContent returns the first backend, in ID order, whose Detect
// accepts content, or nil.
func DetectContent(content []byte) *Backend {
	for _, b := range List() {
		if b.Detect != nil && b.Detect(content) {
			return b
		}
	}
	return nil
}

// ClearRegistry clears all registered backends (for testing).
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Backend)
}
