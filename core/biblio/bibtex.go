// Package biblio parses and emits BibTeX, validates entries and citation
// keys, maps entries to and from CSL-JSON and renders citation commands.
package biblio

import (
	"sort"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// FieldOrder lists the canonical emission order of fields per entry type.
// Fields not listed follow in insertion order.
var FieldOrder = map[string][]string{
	"article":       {"author", "title", "journal", "year", "month", "volume", "number", "pages", "doi", "url", "note"},
	"book":          {"author", "editor", "title", "edition", "series", "volume", "number", "publisher", "address", "year", "month", "isbn", "doi", "url", "note"},
	"booklet":       {"author", "title", "howpublished", "address", "year", "month", "note"},
	"inbook":        {"author", "editor", "title", "chapter", "pages", "publisher", "address", "edition", "year", "isbn", "note"},
	"incollection":  {"author", "title", "editor", "booktitle", "publisher", "address", "pages", "year", "doi", "note"},
	"inproceedings": {"author", "title", "editor", "booktitle", "series", "pages", "organization", "publisher", "address", "year", "month", "doi", "url", "note"},
	"manual":        {"author", "title", "organization", "edition", "address", "year", "month", "url", "note"},
	"mastersthesis": {"author", "title", "school", "type", "address", "year", "month", "url", "note"},
	"phdthesis":     {"author", "title", "school", "type", "address", "year", "month", "url", "note"},
	"proceedings":   {"editor", "title", "series", "volume", "publisher", "organization", "address", "year", "month", "note"},
	"techreport":    {"author", "title", "institution", "type", "number", "address", "year", "month", "url", "note"},
	"unpublished":   {"author", "title", "year", "month", "note"},
	"online":        {"author", "title", "organization", "url", "urldate", "year", "month", "note"},
	"misc":          {"author", "title", "howpublished", "year", "month", "url", "note"},
}

// RequiredFields lists required fields per entry type. An alternative set is
// written "author|editor": any one satisfies it.
var RequiredFields = map[string][]string{
	"article":       {"author", "title", "journal", "year"},
	"book":          {"author|editor", "title", "publisher", "year"},
	"booklet":       {"title"},
	"inbook":        {"author|editor", "title", "chapter|pages", "publisher", "year"},
	"incollection":  {"author", "title", "booktitle", "publisher", "year"},
	"inproceedings": {"author", "title", "booktitle", "year"},
	"manual":        {"title"},
	"mastersthesis": {"author", "title", "school", "year"},
	"phdthesis":     {"author", "title", "school", "year"},
	"proceedings":   {"title", "year"},
	"techreport":    {"author", "title", "institution", "year"},
	"unpublished":   {"author", "title", "note"},
	"online":        {"title", "url"},
	"misc":          {},
}

// KnownType reports whether t is a recognized entry type.
func KnownType(t string) bool {
	_, ok := RequiredFields[strings.ToLower(t)]
	return ok
}

// monthMacros are the predefined BibTeX month strings.
var monthMacros = map[string]string{
	"jan": "January", "feb": "February", "mar": "March", "apr": "April",
	"may": "May", "jun": "June", "jul": "July", "aug": "August",
	"sep": "September", "oct": "October", "nov": "November", "dec": "December",
}

// Parse reads BibTeX entries. @string macros are expanded, @comment and
// @preamble are skipped. Entry count is capped by l.MaxMatches and entry
// size by l.MaxSpan; malformed entries are skipped with a warning.
func Parse(src string, l scan.Limits) ([]*ir.BibliographyEntry, errors.Issues) {
	l = l.Normalize()
	p := &bibParser{
		src:    src,
		braces: scan.Braces(src),
		limits: l,
		macros: make(map[string]string),
	}
	for k, v := range monthMacros {
		p.macros[k] = v
	}
	p.run()
	return p.entries, p.issues
}

type bibParser struct {
	src     string
	pos     int
	braces  *scan.BraceIndex
	limits  scan.Limits
	macros  map[string]string
	entries []*ir.BibliographyEntry
	issues  errors.Issues
	lines   scan.Lines
}

func (p *bibParser) warn(offset int, format string, args ...any) {
	if p.lines == nil {
		p.lines = scan.LineStarts(p.src)
	}
	line, col := p.lines.Locate(offset)
	p.issues = append(p.issues, errors.Warnf(errors.CodeBibliographyParse, format, args...).
		At(line, col).WithOffset(offset))
}

func (p *bibParser) run() {
	for {
		at := strings.IndexByte(p.src[p.pos:], '@')
		if at < 0 {
			return
		}
		start := p.pos + at
		if len(p.entries) >= p.limits.MaxMatches {
			p.warn(start, "more than %d entries; remainder ignored", p.limits.MaxMatches)
			return
		}
		p.pos = start + 1
		typ := p.ident()
		if typ == "" {
			continue
		}
		p.skipSpace()
		if p.pos >= len(p.src) || (p.src[p.pos] != '{' && p.src[p.pos] != '(') {
			p.warn(start, "entry @%s has no body", typ)
			continue
		}
		end, ok := p.bodyEnd(p.pos)
		if !ok {
			p.warn(start, "unterminated entry @%s", typ)
			p.pos = start + 1
			continue
		}
		if end-start > p.limits.MaxSpan {
			p.warn(start, "entry @%s exceeds %d bytes; skipped", typ, p.limits.MaxSpan)
			p.pos = end + 1
			continue
		}
		body := p.pos + 1
		p.pos = end + 1

		switch strings.ToLower(typ) {
		case "comment", "preamble":
		case "string":
			for _, f := range p.fields(body, end) {
				p.macros[strings.ToLower(f.Name)] = f.Value
			}
		default:
			p.entry(strings.ToLower(typ), start, body, end)
		}
	}
}

// bodyEnd returns the offset of the delimiter closing the body opened at open.
func (p *bibParser) bodyEnd(open int) (int, bool) {
	if p.src[open] == '{' {
		return p.braces.Close(open)
	}
	depth := 0
	for i := open + 1; i < len(p.src) && i-open <= p.limits.MaxSpan; i++ {
		switch p.src[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ')':
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func (p *bibParser) entry(typ string, start, body, end int) {
	i := body
	for i < end && isSpace(p.src[i]) {
		i++
	}
	k := i
	for k < end && p.src[k] != ',' && !isSpace(p.src[k]) {
		k++
	}
	key := p.src[i:k]
	for k < end && p.src[k] != ',' {
		k++
	}
	if key == "" {
		p.warn(start, "@%s entry has no key", typ)
		return
	}
	e := &ir.BibliographyEntry{ID: key, Type: typ}
	if k < end {
		for _, f := range p.fields(k+1, end) {
			if strings.EqualFold(f.Name, "crossref") {
				for _, ref := range strings.Split(f.Value, ",") {
					if ref = strings.TrimSpace(ref); ref != "" {
						e.CrossRefs = append(e.CrossRefs, ref)
					}
				}
				continue
			}
			e.Fields.Set(f.Name, f.Value)
		}
	}
	p.entries = append(p.entries, e)
}

// fields parses "name = value, ..." between from and to.
func (p *bibParser) fields(from, to int) ir.Fields {
	var out ir.Fields
	i := from
	for i < to {
		for i < to && (isSpace(p.src[i]) || p.src[i] == ',') {
			i++
		}
		if i >= to {
			break
		}
		n := i
		for n < to && isIdentByte(p.src[n]) {
			n++
		}
		name := p.src[i:n]
		for n < to && isSpace(p.src[n]) {
			n++
		}
		if name == "" || n >= to || p.src[n] != '=' {
			p.warn(i, "malformed field")
			// Resynchronize at the next top-level comma.
			i = p.skipValue(n, to)
			continue
		}
		value, next := p.value(n+1, to)
		out = append(out, ir.Field{Name: strings.ToLower(name), Value: value})
		i = next
	}
	return out
}

// value reads a "#"-concatenated value and returns it with the offset
// after it.
func (p *bibParser) value(i, to int) (string, int) {
	var sb strings.Builder
	for {
		for i < to && isSpace(p.src[i]) {
			i++
		}
		if i >= to {
			break
		}
		switch c := p.src[i]; {
		case c == '{':
			close, ok := p.braces.Close(i)
			if !ok || close > to {
				p.warn(i, "unbalanced braces in field value")
				return collapse(sb.String()), to
			}
			sb.WriteString(p.src[i+1 : close])
			i = close + 1
		case c == '"':
			j, depth := i+1, 0
			for ; j < to; j++ {
				switch p.src[j] {
				case '{':
					depth++
				case '}':
					depth--
				case '\\':
					j++
					continue
				}
				if p.src[j] == '"' && depth == 0 {
					break
				}
			}
			if j >= to {
				p.warn(i, "unterminated quoted value")
				return collapse(sb.String()), to
			}
			sb.WriteString(p.src[i+1 : j])
			i = j + 1
		default:
			j := i
			for j < to && isIdentByte(p.src[j]) {
				j++
			}
			if j == i {
				return collapse(sb.String()), p.skipValue(i, to)
			}
			tok := p.src[i:j]
			if m, ok := p.macros[strings.ToLower(tok)]; ok {
				sb.WriteString(m)
			} else {
				sb.WriteString(tok)
			}
			i = j
		}
		for i < to && isSpace(p.src[i]) {
			i++
		}
		if i < to && p.src[i] == '#' {
			i++
			continue
		}
		break
	}
	return collapse(sb.String()), i
}

func (p *bibParser) skipValue(i, to int) int {
	for i < to {
		switch p.src[i] {
		case ',':
			return i + 1
		case '{':
			if close, ok := p.braces.Close(i); ok && close < to {
				i = close
			}
		}
		i++
	}
	return to
}

func (p *bibParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *bibParser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == ':' || c == '.' || c == '+' || c == '/' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Format emits entries as canonical BibTeX: known fields in FieldOrder
// order, the rest in insertion order, values in braces.
func Format(entries []*ir.BibliographyEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		typ := strings.ToLower(e.Type)
		if typ == "" {
			typ = "misc"
		}
		sb.WriteString("@" + typ + "{" + e.ID + ",\n")
		for _, f := range OrderedFields(e) {
			sb.WriteString("  " + f.Name + " = {" + braceSafe(f.Value) + "},\n")
		}
		if len(e.CrossRefs) > 0 {
			sb.WriteString("  crossref = {" + braceSafe(strings.Join(e.CrossRefs, ",")) + "},\n")
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

// OrderedFields returns e's fields in canonical order.
func OrderedFields(e *ir.BibliographyEntry) ir.Fields {
	order := FieldOrder[strings.ToLower(e.Type)]
	rank := make(map[string]int, len(order))
	for i, n := range order {
		rank[n] = i
	}
	out := append(ir.Fields(nil), e.Fields...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[strings.ToLower(out[i].Name)]
		rj, jok := rank[strings.ToLower(out[j].Name)]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}

// braceSafe drops unmatched braces so a value cannot close its field early.
func braceSafe(v string) string {
	idx := scan.Braces(v)
	if idx.Balanced() {
		return v
	}
	unmatched := idx.Unmatched()
	if len(unmatched) >= 64 {
		// The unmatched list is capped; strip every brace.
		return strings.NewReplacer("{", "", "}", "").Replace(v)
	}
	drop := make(map[int]bool, len(unmatched))
	for _, off := range unmatched {
		drop[off] = true
	}
	var sb strings.Builder
	for i := 0; i < len(v); i++ {
		if !drop[i] {
			sb.WriteByte(v[i])
		}
	}
	return sb.String()
}

// ValidateEntry checks the entry key and required fields.
func ValidateEntry(e *ir.BibliographyEntry) errors.Issues {
	var issues errors.Issues
	if err := CheckKey(e.ID); err != nil {
		issues = append(issues, errors.Invalidf(errors.CodeInvalidKey, "entry %q: %v", truncate(e.ID, 40), err))
	}
	req, ok := RequiredFields[strings.ToLower(e.Type)]
	if !ok {
		issues = append(issues, errors.Warnf(errors.CodeBibliographyParse, "entry %s has unknown type %q", e.ID, e.Type).
			WithSuggestion("use misc"))
		return issues
	}
	for _, alt := range req {
		if !hasAny(e.Fields, strings.Split(alt, "|")) {
			issues = append(issues, errors.Invalidf(errors.CodeMissingField,
				"entry %s (%s) is missing required field %s", e.ID, e.Type, strings.ReplaceAll(alt, "|", " or ")))
		}
	}
	return issues
}

// ValidateEntries validates every entry and reports duplicate ids.
func ValidateEntries(entries []*ir.BibliographyEntry) errors.Issues {
	var issues errors.Issues
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			issues = append(issues, errors.Invalidf(errors.CodeInvalidKey, "duplicate entry %s", e.ID))
		}
		seen[e.ID] = true
		issues = append(issues, ValidateEntry(e)...)
	}
	return issues
}

func hasAny(f ir.Fields, names []string) bool {
	for _, n := range names {
		if v, ok := f.Get(n); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
