package biblio

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/ir"
)

// CSLName is a CSL-JSON name.
type CSLName struct {
	Family  string `json:"family,omitempty"`
	Given   string `json:"given,omitempty"`
	Literal string `json:"literal,omitempty"`
}

// CSLDate is a CSL-JSON date with date-parts.
type CSLDate struct {
	DateParts [][]int `json:"date-parts,omitempty"`
	Literal   string  `json:"literal,omitempty"`
}

// CSLItem is a CSL-JSON item. Variables without a dedicated field are kept
// in Variables and flattened into the JSON object.
type CSLItem struct {
	ID        string
	Type      string
	Author    []CSLName
	Editor    []CSLName
	Issued    *CSLDate
	Variables map[string]string
}

// fieldToCSL translates BibTeX field names to CSL variables.
var fieldToCSL = map[string]string{
	"title":        "title",
	"journal":      "container-title",
	"booktitle":    "container-title",
	"publisher":    "publisher",
	"school":       "publisher",
	"institution":  "publisher",
	"organization": "publisher",
	"address":      "publisher-place",
	"volume":       "volume",
	"number":       "issue",
	"pages":        "page",
	"doi":          "DOI",
	"url":          "URL",
	"isbn":         "ISBN",
	"issn":         "ISSN",
	"edition":      "edition",
	"abstract":     "abstract",
	"note":         "note",
	"series":       "collection-title",
	"chapter":      "chapter-number",
	"keywords":     "keyword",
	"howpublished": "medium",
	"urldate":      "accessed",
	"language":     "language",
}

// typeToCSL translates BibTeX entry types to CSL item types.
var typeToCSL = map[string]string{
	"article":       "article-journal",
	"book":          "book",
	"booklet":       "pamphlet",
	"inbook":        "chapter",
	"incollection":  "chapter",
	"inproceedings": "paper-conference",
	"conference":    "paper-conference",
	"manual":        "book",
	"mastersthesis": "thesis",
	"phdthesis":     "thesis",
	"proceedings":   "book",
	"techreport":    "report",
	"unpublished":   "manuscript",
	"online":        "webpage",
	"misc":          "document",
}

// cslToType is the reverse type table. Ambiguous CSL types pick the most
// common BibTeX type.
var cslToType = map[string]string{
	"article-journal":   "article",
	"article":           "article",
	"article-magazine":  "article",
	"article-newspaper": "article",
	"book":              "book",
	"pamphlet":          "booklet",
	"chapter":           "incollection",
	"paper-conference":  "inproceedings",
	"thesis":            "phdthesis",
	"report":            "techreport",
	"manuscript":        "unpublished",
	"webpage":           "online",
	"document":          "misc",
}

// ToCSL maps an entry to a CSL item. Fields with no CSL variable are kept
// under their BibTeX name so the mapping is reversible.
func ToCSL(e *ir.BibliographyEntry) CSLItem {
	typ := strings.ToLower(e.Type)
	item := CSLItem{ID: e.ID, Type: typeToCSL[typ], Variables: make(map[string]string)}
	if item.Type == "" {
		item.Type = "document"
	}
	var year, month string
	for _, f := range e.Fields {
		name := strings.ToLower(f.Name)
		switch name {
		case "author":
			item.Author = ParseNames(f.Value)
		case "editor":
			item.Editor = ParseNames(f.Value)
		case "year":
			year = f.Value
		case "month":
			month = f.Value
		default:
			if v, ok := fieldToCSL[name]; ok {
				if _, taken := item.Variables[v]; !taken {
					item.Variables[v] = f.Value
					continue
				}
			}
			item.Variables[name] = f.Value
		}
	}
	if year != "" || month != "" {
		item.Issued = issued(year, month)
	}
	if typ == "mastersthesis" {
		item.Variables["genre"] = "Master's thesis"
	}
	return item
}

func issued(year, month string) *CSLDate {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return &CSLDate{Literal: strings.TrimSpace(year + " " + month)}
	}
	parts := []int{y}
	if m := monthNumber(month); m > 0 {
		parts = append(parts, m)
	}
	return &CSLDate{DateParts: [][]int{parts}}
}

func monthNumber(month string) int {
	month = strings.ToLower(strings.TrimSpace(month))
	if n, err := strconv.Atoi(month); err == nil && n >= 1 && n <= 12 {
		return n
	}
	if len(month) >= 3 {
		for i, m := range []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"} {
			if month[:3] == m {
				return i + 1
			}
		}
	}
	return 0
}

// FromCSL maps a CSL item back to an entry.
func FromCSL(item CSLItem) *ir.BibliographyEntry {
	typ := cslToType[item.Type]
	if typ == "" {
		typ = "misc"
	}
	if item.Type == "thesis" && strings.Contains(strings.ToLower(item.Variables["genre"]), "master") {
		typ = "mastersthesis"
	}
	e := &ir.BibliographyEntry{ID: item.ID, Type: typ}
	if len(item.Author) > 0 {
		e.Fields.Set("author", FormatNames(item.Author))
	}
	if len(item.Editor) > 0 {
		e.Fields.Set("editor", FormatNames(item.Editor))
	}

	vars := make([]string, 0, len(item.Variables))
	for v := range item.Variables {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	for _, v := range vars {
		if v == "genre" && strings.HasSuffix(typ, "thesis") {
			continue
		}
		e.Fields.Set(fieldFromCSL(typ, v), item.Variables[v])
	}

	if item.Issued != nil {
		if len(item.Issued.DateParts) > 0 && len(item.Issued.DateParts[0]) > 0 {
			parts := item.Issued.DateParts[0]
			e.Fields.Set("year", strconv.Itoa(parts[0]))
			if len(parts) > 1 {
				e.Fields.Set("month", strconv.Itoa(parts[1]))
			}
		} else if item.Issued.Literal != "" {
			e.Fields.Set("year", item.Issued.Literal)
		}
	}
	e.Fields = OrderedFields(e)
	return e
}

// fieldFromCSL picks the BibTeX field for a CSL variable given the entry type.
func fieldFromCSL(typ, v string) string {
	switch v {
	case "container-title":
		if typ == "article" {
			return "journal"
		}
		return "booktitle"
	case "publisher":
		switch typ {
		case "phdthesis", "mastersthesis":
			return "school"
		case "techreport":
			return "institution"
		}
		return "publisher"
	}
	for field, csl := range fieldToCSL {
		if csl == v && field != "journal" && field != "booktitle" && field != "school" &&
			field != "institution" && field != "organization" {
			return field
		}
	}
	return v
}

// MarshalJSON flattens Variables into the item object.
func (c CSLItem) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Variables)+5)
	for k, v := range c.Variables {
		m[k] = v
	}
	m["id"] = c.ID
	m["type"] = c.Type
	if len(c.Author) > 0 {
		m["author"] = c.Author
	}
	if len(c.Editor) > 0 {
		m["editor"] = c.Editor
	}
	if c.Issued != nil {
		m["issued"] = c.Issued
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a CSL item. Non-string variables other than names and
// dates are kept in their JSON text form.
func (c *CSLItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = CSLItem{Variables: make(map[string]string)}
	for k, v := range raw {
		var err error
		switch k {
		case "id":
			c.ID, err = stringOrNumber(v)
		case "type":
			err = json.Unmarshal(v, &c.Type)
		case "author":
			err = json.Unmarshal(v, &c.Author)
		case "editor":
			err = json.Unmarshal(v, &c.Editor)
		case "issued":
			c.Issued = &CSLDate{}
			err = json.Unmarshal(v, c.Issued)
		default:
			c.Variables[k], err = stringOrNumber(v)
		}
		if err != nil {
			return fmt.Errorf("csl variable %s: %w", k, err)
		}
	}
	return nil
}

func stringOrNumber(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), nil
	}
	return string(v), nil
}

// ParseNames splits a BibTeX name list on top-level " and ". Both
// "Family, Given" and "Given Family" forms are recognized; a braced name is
// literal.
func ParseNames(s string) []CSLName {
	var names []CSLName
	for _, part := range splitAnd(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			names = append(names, CSLName{Literal: part[1 : len(part)-1]})
		case strings.Contains(part, ","):
			family, given, _ := strings.Cut(part, ",")
			names = append(names, CSLName{Family: strings.TrimSpace(family), Given: strings.TrimSpace(given)})
		default:
			if i := strings.LastIndexByte(part, ' '); i > 0 {
				names = append(names, CSLName{Family: part[i+1:], Given: part[:i]})
			} else {
				names = append(names, CSLName{Family: part})
			}
		}
	}
	return names
}

func splitAnd(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ' ':
			if depth == 0 && strings.HasPrefix(s[i:], " and ") {
				parts = append(parts, s[start:i])
				start = i + len(" and ")
				i = start - 1
			}
		}
	}
	return append(parts, s[start:])
}

// FormatNames joins names in "Family, Given and ..." form.
func FormatNames(names []CSLName) string {
	out := make([]string, len(names))
	for i, n := range names {
		switch {
		case n.Literal != "":
			out[i] = "{" + n.Literal + "}"
		case n.Given != "":
			out[i] = n.Family + ", " + n.Given
		default:
			out[i] = n.Family
		}
	}
	return strings.Join(out, " and ")
}
