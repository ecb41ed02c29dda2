// Package hints resolves rendering hints for a node.
//
// Every renderer resolves hints the same way: the hints a node inherits from
// its ancestors are combined with its own, hints whose conditions fail are
// replaced by their fallback (or dropped), the survivors are ordered by
// priority, and the first hint of each type wins.
package hints

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/ir"
)

// Context describes the rendering target hints are resolved against.
type Context struct {
	// Format is the output format name (e.g., "html", "latex").
	Format string `json:"format"`

	// Media describes the output medium.
	Media Media `json:"media"`

	// Preferences lists active user accessibility preferences.
	Preferences []string `json:"preferences,omitempty"`
}

// maxFallbackDepth bounds fallback chains.
const maxFallbackDepth = 8

// Resolver resolves hints against a fixed context. It caches parsed media
// queries and is not safe for concurrent use.
type Resolver struct {
	ctx   Context
	media map[string]*MediaQueryList
}

// NewResolver returns a resolver for ctx.
func NewResolver(ctx Context) *Resolver {
	return &Resolver{ctx: ctx, media: make(map[string]*MediaQueryList)}
}

// Context returns the resolver's context.
func (r *Resolver) Context() Context {
	return r.ctx
}

// Resolve returns the effective hints for a node, one per hint type,
// ordered by descending priority. Own hints win ties over inherited ones.
func (r *Resolver) Resolve(inherited, own []ir.RenderingHint) []ir.RenderingHint {
	type candidate struct {
		hint  ir.RenderingHint
		order int
	}
	var cands []candidate
	add := func(hs []ir.RenderingHint, base int) {
		for i, h := range hs {
			if eff, ok := r.applicable(h, 0); ok {
				cands = append(cands, candidate{eff, base + i})
			}
		}
	}
	// Own hints get lower order values so they sort first on equal priority.
	add(own, 0)
	add(inherited, len(own))

	sort.SliceStable(cands, func(i, j int) bool {
		pi, pj := cands[i].hint.PriorityValue(), cands[j].hint.PriorityValue()
		if pi != pj {
			return pi > pj
		}
		return cands[i].order < cands[j].order
	})

	seen := make(map[string]bool)
	var out []ir.RenderingHint
	for _, c := range cands {
		if seen[c.hint.Type] {
			continue
		}
		seen[c.hint.Type] = true
		out = append(out, c.hint)
	}
	return out
}

// applicable returns h if its conditions hold, otherwise its nearest
// applicable fallback.
func (r *Resolver) applicable(h ir.RenderingHint, depth int) (ir.RenderingHint, bool) {
	if h.Type == "" {
		return h, false
	}
	if r.Satisfied(h.Conditions) {
		return h, true
	}
	if h.Fallback == nil || depth >= maxFallbackDepth {
		return h, false
	}
	fb := *h.Fallback
	if fb.Type == "" {
		fb.Type = h.Type
	}
	if fb.Priority == nil {
		fb.Priority = h.Priority
	}
	if fb.Inheritance == "" {
		fb.Inheritance = h.Inheritance
	}
	return r.applicable(fb, depth+1)
}

// Satisfied reports whether conditions hold in the resolver's context.
// Nil conditions always hold. An unparsable media expression never holds.
func (r *Resolver) Satisfied(c *ir.HintConditions) bool {
	if c == nil {
		return true
	}
	if len(c.Formats) > 0 && !slices.ContainsFunc(c.Formats, func(f string) bool {
		return strings.EqualFold(f, r.ctx.Format)
	}) {
		return false
	}
	for _, p := range c.Preferences {
		if !slices.Contains(r.ctx.Preferences, p) {
			return false
		}
	}
	if c.Media != "" {
		q, ok := r.media[c.Media]
		if !ok {
			q, _ = ParseMedia(c.Media)
			r.media[c.Media] = q
		}
		if q == nil || !q.Matches(r.ctx.Media) {
			return false
		}
	}
	return true
}

// Inherit returns the hints a node passes to its children: its own hints
// marked inherit or cascade, plus the cascading hints it inherited.
func Inherit(inherited, own []ir.RenderingHint) []ir.RenderingHint {
	var out []ir.RenderingHint
	for _, h := range own {
		if m := h.Mode(); m == ir.InheritChildren || m == ir.InheritCascade {
			out = append(out, h)
		}
	}
	for _, h := range inherited {
		if h.Mode() == ir.InheritCascade {
			out = append(out, h)
		}
	}
	return out
}

// Find returns the resolved hint of type t.
func Find(resolved []ir.RenderingHint, t string) (ir.RenderingHint, bool) {
	for _, h := range resolved {
		if h.Type == t {
			return h, true
		}
	}
	return ir.RenderingHint{}, false
}

// String returns the value of the resolved hint of type t as a string.
func String(resolved []ir.RenderingHint, t string) (string, bool) {
	h, ok := Find(resolved, t)
	if !ok || h.Value == nil {
		return "", false
	}
	switch v := h.Value.(type) {
	case string:
		return v, v != ""
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}
