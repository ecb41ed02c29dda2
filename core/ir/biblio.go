package ir

import "strings"

// Field is a single bibliography field.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Fields is an insertion-ordered field map. Names are compared case-insensitively.
type Fields []Field

// Get returns the value of the named field.
func (f Fields) Get(name string) (string, bool) {
	for _, fld := range f {
		if strings.EqualFold(fld.Name, name) {
			return fld.Value, true
		}
	}
	return "", false
}

// Value returns the value of the named field or "".
func (f Fields) Value(name string) string {
	v, _ := f.Get(name)
	return v
}

// Set replaces the named field in place or appends it.
func (f *Fields) Set(name, value string) {
	for i, fld := range *f {
		if strings.EqualFold(fld.Name, name) {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, Field{Name: strings.ToLower(name), Value: value})
}

// Names returns field names in insertion order.
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, fld := range f {
		names[i] = fld.Name
	}
	return names
}

// BibliographyEntry is one reference.
type BibliographyEntry struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Fields    Fields   `json:"fields,omitempty"`
	CrossRefs []string `json:"cross_refs,omitempty"`
}

// CitationStyle selects the command form used for citations.
type CitationStyle string

// Citation styles.
const (
	StyleNumeric    CitationStyle = "numeric"
	StyleAuthorYear CitationStyle = "author-year"
	StyleAlphabetic CitationStyle = "alphabetic"
)

// IsValid returns true if the style is known.
func (s CitationStyle) IsValid() bool {
	switch s {
	case StyleNumeric, StyleAuthorYear, StyleAlphabetic:
		return true
	}
	return false
}

// Citation references a bibliography entry from running text.
type Citation struct {
	// Command is the source command or style tag (e.g., "citep", "author-year").
	Command string `json:"command,omitempty"`
	Key     string `json:"key"`
	Prefix  string `json:"prefix,omitempty"`
	Suffix  string `json:"suffix,omitempty"`
	Locator string `json:"locator,omitempty"`
}
