// Package base provides common functionality and utilities for format
// backends: input checks, id generation, outline building, container kind
// inference and graceful-degradation helpers.
package base

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// Input checks raw content before tokenization. Oversized input and NUL
// bytes are fatal; invalid UTF-8 is repaired with a warning.
func Input(content []byte, l scan.Limits) (string, errors.Issues) {
	l = l.Normalize()
	if len(content) > l.MaxInput {
		return "", errors.Issues{errors.Fatalf(errors.CodeInputTooLarge,
			"input is %d bytes, limit is %d", len(content), l.MaxInput)}
	}
	if i := bytes.IndexByte(content, 0); i >= 0 {
		return "", errors.Issues{errors.Fatalf(errors.CodeFatalInput, "NUL byte in input").WithOffset(i)}
	}
	var issues errors.Issues
	if !utf8.Valid(content) {
		content = bytes.ToValidUTF8(content, []byte("\ufffd"))
		issues = append(issues, errors.Warnf(errors.CodeInvalidEncoding, "invalid UTF-8 replaced"))
	}
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	return strings.TrimPrefix(s, "\ufeff"), issues
}

// DetectConfig contains configuration for content detection.
type DetectConfig struct {
	// Markers are strings of which at least one must appear near the start
	// of the content.
	Markers []string

	// Window is how many leading bytes are inspected; zero means 4096.
	Window int
}

// Detector returns a content sniffing function for a backend.
func Detector(cfg DetectConfig) func([]byte) bool {
	window := cfg.Window
	if window <= 0 {
		window = 4096
	}
	return func(content []byte) bool {
		head := content[:min(len(content), window)]
		for _, m := range cfg.Markers {
			if bytes.Contains(head, []byte(m)) {
				return true
			}
		}
		return false
	}
}

// IDs generates deterministic, document-unique node ids. The same input
// parsed twice yields the same ids.
type IDs struct {
	ns   uuid.UUID
	seen map[string]bool
	n    int
}

// NewIDs returns an id generator namespaced by format.
func NewIDs(format string) *IDs {
	return &IDs{
		ns:   uuid.NewSHA1(uuid.NameSpaceURL, []byte("edudoc:"+format)),
		seen: make(map[string]bool),
	}
}

// Next returns a fresh id such as "sec-1a2b3c4d".
func (g *IDs) Next(prefix, text string) string {
	for {
		g.n++
		u := uuid.NewSHA1(g.ns, fmt.Appendf(nil, "%d\x00%s", g.n, text))
		id := prefix + "-" + strings.ReplaceAll(u.String(), "-", "")[:8]
		if !g.seen[id] {
			g.seen[id] = true
			return id
		}
	}
}

// Use returns id if it is non-empty and unused, otherwise a fresh id.
func (g *IDs) Use(id, prefix, text string) string {
	if id != "" && !g.seen[id] {
		g.seen[id] = true
		return id
	}
	return g.Next(prefix, text)
}

// Prefix returns the conventional id prefix for a node.
func Prefix(n ir.Node) string {
	switch v := n.(type) {
	case *ir.Container:
		switch v.Kind {
		case ir.KindDivision:
			return "div"
		case ir.KindChapter:
			return "ch"
		}
		return "sec"
	case *ir.Block:
		switch v.Type() {
		case ir.BlockParagraph:
			return "p"
		case ir.BlockHeading:
			return "h"
		case ir.BlockMath:
			return "eq"
		case ir.BlockFigure:
			return "fig"
		case ir.BlockTable:
			return "tab"
		}
		return "b"
	}
	return "n"
}

// AssignIDs gives every node of doc a unique id, keeping existing unique
// ones. It returns the number of ids generated.
func AssignIDs(doc *ir.Document, g *IDs) int {
	generated := 0
	doc.WalkDocument(func(n ir.Node, depth int) bool {
		switch v := n.(type) {
		case *ir.Container:
			if id := g.Use(v.ID, Prefix(v), v.Title.String()); id != v.ID {
				v.ID = id
				generated++
			}
		case *ir.Block:
			if id := g.Use(v.ID, Prefix(v), ir.BlockText(v)); id != v.ID {
				v.ID = id
				generated++
			}
		}
		return true
	})
	return generated
}

// Outline builds a container tree from a flat sequence of headings and
// blocks. A heading at level L closes every open container at level L or
// deeper before opening its own.
type Outline struct {
	root  ir.Nodes
	stack []frame
}

type frame struct {
	level int
	c     *ir.Container
}

// Open starts container c at the given level.
func (o *Outline) Open(level int, c *ir.Container) {
	for len(o.stack) > 0 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	o.Add(c)
	o.stack = append(o.stack, frame{level: level, c: c})
}

// Add appends a node to the innermost open container.
func (o *Outline) Add(nodes ...ir.Node) {
	if len(o.stack) == 0 {
		o.root = append(o.root, nodes...)
		return
	}
	o.stack[len(o.stack)-1].c.Append(nodes...)
}

// Current returns the innermost open container, or nil at top level.
func (o *Outline) Current() *ir.Container {
	if len(o.stack) == 0 {
		return nil
	}
	return o.stack[len(o.stack)-1].c
}

// Depth returns the number of open containers.
func (o *Outline) Depth() int {
	return len(o.stack)
}

// Nodes returns the built tree.
func (o *Outline) Nodes() ir.Nodes {
	return o.root
}

// KindsForLevels maps heading levels to container kinds when a format tags
// only heading levels. The shallowest distinct levels become Division and
// Chapter only when enough levels exist below them: three or more distinct
// levels give Division, Chapter, Section...; two give Chapter, Section; one
// gives Section.
func KindsForLevels(levels []int) map[int]ir.ContainerKind {
	distinct := slices.Clone(levels)
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)

	out := make(map[int]ir.ContainerKind, len(distinct))
	offset := max(0, 3-len(distinct))
	for i, l := range distinct {
		out[l] = kindAtRank(i + offset)
	}
	return out
}

// KindForHeight infers a container kind from its height: the number of
// container levels at and below it. A container with no container children
// has height 1. Irregular nesting takes the shallowest plausible kind.
func KindForHeight(height int) ir.ContainerKind {
	switch {
	case height >= 3:
		return ir.KindDivision
	case height == 2:
		return ir.KindChapter
	}
	return ir.KindSection
}

// ClampKind returns kind, or the next kind below parent when kind would be
// at or above parent's rank.
func ClampKind(parent, kind ir.ContainerKind) ir.ContainerKind {
	if parent == "" || kind.Rank() > parent.Rank() {
		return kind
	}
	return kindAtRank(parent.Rank() + 1)
}

func kindAtRank(r int) ir.ContainerKind {
	switch r {
	case 0:
		return ir.KindDivision
	case 1:
		return ir.KindChapter
	}
	return ir.KindSection
}

// UnsupportedMarker is the visible diagnostic renderers emit for a block
// type they do not know.
func UnsupportedMarker(t ir.BlockType) string {
	return fmt.Sprintf("[Unsupported block: %s]", t)
}

// FallbackText returns the best-effort text of a block a renderer cannot
// represent natively.
func FallbackText(b *ir.Block) string {
	if u, ok := b.Content.(*ir.Unknown); ok {
		return u.Raw
	}
	return ir.BlockText(b)
}

// Unknown returns a fallback block preserving an unrecognized construct.
func Unknown(id, rawType, raw string) *ir.Block {
	return ir.NewBlock(id, &ir.Unknown{RawType: rawType, Raw: raw})
}

// CollapseSpace replaces whitespace runs with one space and trims.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IncludeBibliography reports whether a renderer should emit the trailing
// bibliography.
func IncludeBibliography(doc *ir.Document, include bool) bool {
	return include && len(doc.Bibliography) > 0
}

// UnresolvedCitations reports each cited key that has no bibliography
// entry, once per key.
func UnresolvedCitations(doc *ir.Document) errors.Issues {
	known := make(map[string]bool, len(doc.Bibliography))
	for _, e := range doc.Bibliography {
		if e != nil {
			known[e.ID] = true
		}
	}
	var issues errors.Issues
	warned := make(map[string]bool)
	check := func(t ir.SemanticText) {
		for _, r := range t {
			cr, ok := r.(ir.CiteRun)
			if !ok || known[cr.Citation.Key] || warned[cr.Citation.Key] {
				continue
			}
			warned[cr.Citation.Key] = true
			issues = append(issues, errors.Warnf(errors.CodeUnresolvedCite,
				"citation %q has no bibliography entry", cr.Citation.Key))
		}
	}
	doc.WalkDocument(func(n ir.Node, _ int) bool {
		switch v := n.(type) {
		case *ir.Container:
			check(v.Title)
		case *ir.Block:
			ir.EachText(v, check)
		}
		return true
	})
	return issues
}

// urlSchemes are schemes recognised without an authority part.
var urlSchemes = []string{"mailto", "tel", "javascript", "vbscript", "data", "file", "about", "blob"}

// IsExternal reports whether a cross-reference target is a URL rather than
// an element id. Ids may contain colons ("sec:intro"), so only targets with
// an authority or a well-known scheme count as URLs. Whitespace and control
// characters are ignored the way browsers ignore them.
func IsExternal(target string) bool {
	t := strings.ToLower(strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, target))
	if strings.Contains(t, "://") {
		return true
	}
	scheme, _, ok := strings.Cut(t, ":")
	return ok && slices.Contains(urlSchemes, scheme)
}
