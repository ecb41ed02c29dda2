// Package embedded registers every built-in format backend. Importing it
// for side effects makes the backends available through convert.Get and
// convert.DetectContent.
package embedded

import (
	"github.com/FocuswithJustin/edudoc/core/convert"

	// Format backends register themselves in init.
	_ "github.com/FocuswithJustin/edudoc/internal/formats/docxml"
	_ "github.com/FocuswithJustin/edudoc/internal/formats/html"
	_ "github.com/FocuswithJustin/edudoc/internal/formats/latex"
	_ "github.com/FocuswithJustin/edudoc/internal/formats/markdown"
)

// Formats lists the ids of the built-in backends.
var Formats = []string{"docxml", "html", "latex", "markdown"}

// IsInitialized reports whether every built-in backend is registered.
func IsInitialized() bool {
	for _, id := range Formats {
		if !convert.Has(id) {
			return false
		}
	}
	return true
}

// BackendCount returns the number of registered backends.
func BackendCount() int {
	return len(convert.List())
}
