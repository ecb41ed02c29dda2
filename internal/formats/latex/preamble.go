package latex

import (
	"strconv"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// Package is one \usepackage declaration.
type Package struct {
	Name    string   `json:"name"`
	Options []string `json:"options,omitempty"`
}

// Macro is a user definition made with \newcommand and friends.
type Macro struct {
	Name string `json:"name"`
	Args int    `json:"args"`
	Body string `json:"body"`
}

// Preamble is the result of the metadata pass. It is independent of body
// segmentation, so it is available even when the body cannot be parsed.
type Preamble struct {
	Class        string
	ClassOptions []string
	Packages     []Package
	Macros       map[string]Macro

	Title    string
	Authors  []string
	Date     string
	Keywords []string

	// Language is a BCP 47 tag derived from babel or polyglossia.
	Language string

	// HasDocument reports a \begin{document} ... \end{document} pair.
	HasDocument bool
}

// Has reports whether a package is declared.
func (p *Preamble) Has(name string) bool {
	for _, pkg := range p.Packages {
		if pkg.Name == name {
			return true
		}
	}
	return false
}

// ParsePreamble runs the metadata pass over LaTeX source.
func ParsePreamble(content string, l scan.Limits) *Preamble {
	return newSource(content, l).preamble(nil)
}

// preamble extracts metadata. Class, packages and macros are read from the
// region before \begin{document}; title, author, date and keywords from
// anywhere. text converts an argument range to plain text.
func (src *source) preamble(text func(from, to int) string) *Preamble {
	if text == nil {
		text = func(from, to int) string {
			return (&inlineParser{src: src}).parse(from, to).String()
		}
	}
	p := &Preamble{Macros: make(map[string]Macro)}
	head := len(src.s)
	if docs := src.envs.Named("document"); len(docs) > 0 {
		p.HasDocument = true
		head = docs[0].BeginStart
	}

	cmds, _ := scan.Commands(src.s, src.limits.MaxMatches)
	for _, cs := range cmds {
		inHead := cs.Offset < head
		switch cs.Name {
		case "documentclass":
			if !inHead || p.Class != "" {
				continue
			}
			opt, end, _ := src.optText(cs.End)
			p.ClassOptions = splitList(opt)
			p.Class, _, _ = src.argText(end)
			p.Class = strings.TrimSpace(p.Class)
		case "usepackage", "RequirePackage":
			if !inHead {
				continue
			}
			opt, end, _ := src.optText(cs.End)
			names, _, ok := src.argText(end)
			if !ok {
				continue
			}
			opts := splitList(opt)
			for _, n := range splitList(names) {
				p.Packages = append(p.Packages, Package{Name: n, Options: opts})
				if n == "babel" && len(opts) > 0 {
					p.Language = languageTag(opts[len(opts)-1])
				}
			}
		case "setdefaultlanguage", "setmainlanguage":
			if name, _, ok := src.argText(src.skipArgs(cs.End, 1, 0)); ok && inHead {
				p.Language = languageTag(strings.TrimSpace(name))
			}
		case "newcommand", "renewcommand", "providecommand", "DeclareMathOperator":
			if inHead {
				if m, ok := src.macro(cs.End); ok {
					p.Macros[m.Name] = m
				}
			}
		case "title":
			if p.Title == "" {
				if from, to, _, ok := src.arg(src.skipArgs(cs.End, 1, 0)); ok {
					p.Title = text(from, to)
				}
			}
		case "author":
			if p.Authors == nil {
				if from, to, _, ok := src.arg(src.skipArgs(cs.End, 1, 0)); ok {
					p.Authors = src.authors(from, to, text)
				}
			}
		case "date":
			if p.Date == "" {
				if from, to, _, ok := src.arg(cs.End); ok && strings.TrimSpace(src.s[from:to]) != `\today` {
					p.Date = text(from, to)
				}
			}
		case "hypersetup":
			if opts, _, ok := src.argText(cs.End); ok && p.Keywords == nil {
				if kw := keyVals(opts)["pdfkeywords"]; kw != "" {
					for _, k := range splitList(kw) {
						p.Keywords = append(p.Keywords, strings.TrimSpace(plainString(k)))
					}
				}
			}
		}
	}
	return p
}

// authors splits an \author argument at \and.
func (src *source) authors(from, to int, text func(from, to int) string) []string {
	var out []string
	add := func(a, b int) {
		if name := text(a, b); name != "" {
			out = append(out, name)
		}
	}
	start := from
	for at := src.findCommand("and", from, to); at >= 0; at = src.findCommand("and", start, to) {
		add(start, at)
		start = at + len(`\and`)
	}
	add(start, to)
	return out
}

// macro reads the name, arity and body of a definition starting at pos.
func (src *source) macro(pos int) (Macro, bool) {
	var m Macro
	pos, _ = src.star(pos)
	p := src.skipBlank(pos, len(src.s))
	switch {
	case p < len(src.s) && src.s[p] == '{':
		name, end, ok := src.argText(p)
		if !ok {
			return m, false
		}
		m.Name = strings.TrimPrefix(strings.TrimSpace(name), `\`)
		pos = end
	case p < len(src.s) && src.s[p] == '\\':
		name, end := src.command(p)
		m.Name = name
		pos = end
	default:
		return m, false
	}
	if n, end, ok := src.optText(pos); ok {
		m.Args, _ = strconv.Atoi(strings.TrimSpace(n))
		pos = end
		if _, end, ok := src.optText(pos); ok {
			pos = end
		}
	}
	body, _, ok := src.argText(pos)
	if !ok || m.Name == "" {
		return m, false
	}
	m.Body = strings.ReplaceAll(body, "\x00", "")
	return m, true
}

// splitList splits a comma-separated option or package list.
func splitList(s string) []string {
	var out []string
	for _, part := range splitTop(strings.ReplaceAll(s, "\x00", ""), ',') {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// babelLanguages maps babel and polyglossia names to BCP 47 tags.
var babelLanguages = map[string]string{
	"english": "en", "american": "en-US", "USenglish": "en-US", "british": "en-GB",
	"UKenglish": "en-GB", "french": "fr", "francais": "fr", "german": "de",
	"ngerman": "de", "spanish": "es", "italian": "it", "portuguese": "pt",
	"brazilian": "pt-BR", "dutch": "nl", "russian": "ru", "ukrainian": "uk",
	"polish": "pl", "czech": "cs", "swedish": "sv", "danish": "da",
	"norsk": "no", "finnish": "fi", "greek": "el", "turkish": "tr",
	"hebrew": "he", "arabic": "ar", "persian": "fa", "latin": "la",
	"catalan": "ca", "hungarian": "hu", "romanian": "ro", "indonesian": "id",
	"vietnamese": "vi", "japanese": "ja", "chinese": "zh", "korean": "ko",
}

// babelNames is the inverse of babelLanguages for rendering.
var babelNames = map[string]string{
	"en": "english", "en-us": "american", "en-gb": "british", "fr": "french",
	"de": "ngerman", "es": "spanish", "it": "italian", "pt": "portuguese",
	"pt-br": "brazilian", "nl": "dutch", "ru": "russian", "uk": "ukrainian",
	"pl": "polish", "cs": "czech", "sv": "swedish", "da": "danish",
	"no": "norsk", "fi": "finnish", "el": "greek", "tr": "turkish",
	"he": "hebrew", "ar": "arabic", "fa": "persian", "la": "latin",
	"ca": "catalan", "hu": "hungarian", "ro": "romanian", "id": "indonesian",
	"vi": "vietnamese",
}

func languageTag(name string) string {
	if tag, ok := babelLanguages[strings.TrimSpace(name)]; ok {
		return tag
	}
	return ""
}

// babelName returns the babel option for a BCP 47 tag, trying the full
// tag before its primary subtag.
func babelName(tag string) string {
	tag = strings.ToLower(strings.ReplaceAll(tag, "_", "-"))
	if name, ok := babelNames[tag]; ok {
		return name
	}
	primary, _, _ := strings.Cut(tag, "-")
	return babelNames[primary]
}

// direction returns the writing direction of a language tag.
func direction(tag string) ir.Direction {
	primary, _, _ := strings.Cut(strings.ToLower(tag), "-")
	switch primary {
	case "he", "ar", "fa", "ur", "yi":
		return ir.DirectionRTL
	}
	return ""
}
