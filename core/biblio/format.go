package biblio

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/FocuswithJustin/edudoc/core/encoding"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// Label returns the reference label for an entry: "1" for numeric
// (1-based position), "Knu84" for alphabetic, "Knuth 1984" for author-year.
func Label(e *ir.BibliographyEntry, style ir.CitationStyle, position int) string {
	switch style {
	case ir.StyleAlphabetic:
		return alphaLabel(e)
	case ir.StyleAuthorYear:
		year := e.Fields.Value("year")
		name := leadFamily(e)
		if year == "" {
			return name
		}
		return strings.TrimSpace(name + " " + year)
	}
	return strconv.Itoa(position)
}

func leadFamily(e *ir.BibliographyEntry) string {
	names := ParseNames(e.Fields.Value("author"))
	if len(names) == 0 {
		names = ParseNames(e.Fields.Value("editor"))
	}
	if len(names) == 0 {
		return e.ID
	}
	lead := names[0].Family
	if lead == "" {
		lead = names[0].Literal
	}
	if len(names) > 2 {
		return lead + " et al."
	}
	if len(names) == 2 {
		second := names[1].Family
		if second == "" {
			second = names[1].Literal
		}
		return lead + " and " + second
	}
	return lead
}

func alphaLabel(e *ir.BibliographyEntry) string {
	names := ParseNames(e.Fields.Value("author"))
	var label []rune
	for _, n := range names {
		family := n.Family
		if family == "" {
			family = n.Literal
		}
		letters := []rune(strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return r
			}
			return -1
		}, family))
		if len(letters) == 0 {
			continue
		}
		if len(names) == 1 {
			label = letters[:min(3, len(letters))]
			break
		}
		label = append(label, unicode.ToUpper(letters[0]))
		if len(label) == 4 {
			break
		}
	}
	out := string(label)
	if out == "" {
		out = e.ID
	}
	if y := e.Fields.Value("year"); len(y) >= 2 {
		out += y[len(y)-2:]
	}
	return out
}

func stripBraces(s string) string {
	return strings.NewReplacer("{", "", "}", "").Replace(s)
}

// FormatReference renders an entry as plain reference text:
// "Authors (Year). Title. Container, Volume(Number), Pages. Publisher."
func FormatReference(e *ir.BibliographyEntry) string {
	var parts []string
	head := stripBraces(e.Fields.Value("author"))
	if head == "" {
		head = stripBraces(e.Fields.Value("editor"))
	}
	if y := e.Fields.Value("year"); y != "" {
		head = strings.TrimSpace(head + " (" + y + ")")
	}
	if head != "" {
		parts = append(parts, head)
	}
	if t := stripBraces(e.Fields.Value("title")); t != "" {
		parts = append(parts, t)
	}

	container := firstOf(e.Fields, "journal", "booktitle")
	if v := e.Fields.Value("volume"); v != "" {
		container = strings.TrimSpace(container + " " + v)
		if n := e.Fields.Value("number"); n != "" {
			container += "(" + n + ")"
		}
	}
	if p := e.Fields.Value("pages"); p != "" {
		if container != "" {
			container += ", "
		}
		container += p
	}
	if container != "" {
		parts = append(parts, stripBraces(container))
	}
	if pub := firstOf(e.Fields, "publisher", "school", "institution", "organization", "howpublished"); pub != "" {
		parts = append(parts, stripBraces(pub))
	}
	if doi := e.Fields.Value("doi"); doi != "" {
		parts = append(parts, "doi:"+doi)
	} else if u := e.Fields.Value("url"); u != "" {
		parts = append(parts, u)
	}
	if note := stripBraces(e.Fields.Value("note")); note != "" {
		parts = append(parts, strings.TrimSuffix(note, "."))
	}
	if len(parts) == 0 {
		return e.ID
	}
	out := strings.Join(parts, ". ")
	if !strings.HasSuffix(out, ".") {
		out += "."
	}
	return out
}

func firstOf(f ir.Fields, names ...string) string {
	for _, n := range names {
		if v := f.Value(n); v != "" {
			return v
		}
	}
	return ""
}

// BibItem renders an entry as a thebibliography \bibitem line.
func BibItem(e *ir.BibliographyEntry, style ir.CitationStyle, position int) string {
	label := ""
	if style != ir.StyleNumeric && style != "" {
		label = "[" + encoding.EscapeLaTeXInline(Label(e, style, position)) + "]"
	}
	key := e.ID
	if !ValidKey(key) {
		key = "invalid" + strconv.Itoa(position)
	}
	return `\bibitem` + label + "{" + key + "} " + encoding.EscapeLaTeXInline(FormatReference(e))
}
