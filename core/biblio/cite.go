package biblio

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/FocuswithJustin/edudoc/core/encoding"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// MaxKeyLength caps citation and entry keys.
const MaxKeyLength = 128

var keyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_:-]*$`)

// ValidKey reports whether key is an acceptable citation key.
func ValidKey(key string) bool {
	return CheckKey(key) == nil
}

// CheckKey explains why key is not acceptable.
func CheckKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("empty key")
	case len(key) > MaxKeyLength:
		return fmt.Errorf("key longer than %d characters", MaxKeyLength)
	case !keyPattern.MatchString(key):
		return fmt.Errorf("key must start with a letter and contain only letters, digits, '_', ':' or '-'")
	}
	return nil
}

// Backend is the bibliography package a LaTeX document uses.
type Backend string

// Bibliography backends.
const (
	BackendBibTeX   Backend = "bibtex"
	BackendNatbib   Backend = "natbib"
	BackendBiblatex Backend = "biblatex"
)

// IsValid returns true if the backend is known.
func (b Backend) IsValid() bool {
	switch b {
	case BackendBibTeX, BackendNatbib, BackendBiblatex:
		return true
	}
	return false
}

// Package returns the LaTeX package the backend needs, or "".
func (b Backend) Package() string {
	switch b {
	case BackendNatbib:
		return "natbib"
	case BackendBiblatex:
		return "biblatex"
	}
	return ""
}

// citeCommands maps known citation commands to the backend that defines
// them. Commands of the standard bibtex flow have an empty backend.
var citeCommands = map[string]Backend{
	"cite":       "",
	"nocite":     "",
	"citep":      BackendNatbib,
	"citet":      BackendNatbib,
	"citealp":    BackendNatbib,
	"citealt":    BackendNatbib,
	"citeauthor": BackendNatbib,
	"citeyear":   BackendNatbib,
	"parencite":  BackendBiblatex,
	"Parencite":  BackendBiblatex,
	"textcite":   BackendBiblatex,
	"Textcite":   BackendBiblatex,
	"autocite":   BackendBiblatex,
	"footcite":   BackendBiblatex,
	"Cite":       BackendBiblatex,
	"smartcite":  BackendBiblatex,
	"supercite":  BackendBiblatex,
	"fullcite":   BackendBiblatex,
	"citetitle":  BackendBiblatex,
}

// IsCiteCommand reports whether name (without backslash) is a citation command.
func IsCiteCommand(name string) bool {
	_, ok := citeCommands[strings.TrimSuffix(name, "*")]
	return ok
}

// CiteCommands returns every recognized citation command name.
func CiteCommands() []string {
	out := make([]string, 0, len(citeCommands))
	for n := range citeCommands {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// crossBackend translates commands between natbib and biblatex.
var crossBackend = map[string]string{
	"citep":     "parencite",
	"citet":     "textcite",
	"citealp":   "cite",
	"parencite": "citep",
	"Parencite": "citep",
	"textcite":  "citet",
	"Textcite":  "citet",
	"autocite":  "citep",
	"footcite":  "citep",
	"smartcite": "citep",
	"supercite": "cite",
}

// Command chooses the command for a citation. A source command compatible
// with the backend is kept; otherwise the style picks: numeric and
// alphabetic use \cite, author-year uses \citep with natbib and \parencite
// with biblatex.
func Command(c ir.Citation, style ir.CitationStyle, backend Backend) string {
	if owner, ok := citeCommands[c.Command]; ok {
		switch {
		case owner == "" || owner == backend:
			return c.Command
		case backend != BackendBibTeX && crossBackend[c.Command] != "":
			return crossBackend[c.Command]
		}
	}
	if style == ir.StyleAuthorYear {
		switch backend {
		case BackendNatbib:
			return "citep"
		case BackendBiblatex:
			return "parencite"
		}
	}
	return "cite"
}

// RenderCitation renders a citation as a LaTeX command. One optional
// argument is the postnote; with a prefix both are written as
// [prefix][postnote]. Invalid keys render as escaped bracketed text and
// ok is false.
func RenderCitation(c ir.Citation, style ir.CitationStyle, backend Backend) (out string, ok bool) {
	if !ValidKey(c.Key) {
		return encoding.EscapeLaTeXInline("[" + c.Key + "]"), false
	}
	var sb strings.Builder
	sb.WriteString(`\` + Command(c, style, backend))
	post := Postnote(c)
	if c.Prefix != "" {
		sb.WriteString(optArg(c.Prefix))
		sb.WriteString(optArg(post))
	} else if post != "" {
		sb.WriteString(optArg(post))
	}
	sb.WriteString("{" + c.Key + "}")
	return sb.String(), true
}

// Postnote joins locator and suffix.
func Postnote(c ir.Citation) string {
	switch {
	case c.Locator != "" && c.Suffix != "":
		return c.Locator + ", " + c.Suffix
	case c.Locator != "":
		return c.Locator
	}
	return c.Suffix
}

func optArg(s string) string {
	esc := encoding.EscapeLaTeXInline(s)
	if strings.ContainsAny(esc, "[]") {
		return "[{" + esc + "}]"
	}
	return "[" + esc + "]"
}

// locatorPattern recognizes a postnote that starts with a page or section
// locator. Roman numerals need a locator word in front. The tie may be a
// literal ~ or the no-break space it unescapes to.
var locatorPattern = regexp.MustCompile(`^(?:(?:p|pp|chap|ch|sec|§|fig|vol|no|para)\.?[\s~\x{00A0}]*[0-9ivxlcIVXLC]+|[0-9]+)(?:[-–][0-9ivxlcIVXLC]+)?`)

var locatorSpace = strings.NewReplacer("~", " ", "\u00a0", " ")

// SplitPostnote separates a leading locator from the rest of a postnote.
// Ties inside the locator become plain spaces.
func SplitPostnote(post string) (locator, suffix string) {
	post = strings.TrimSpace(post)
	loc := locatorPattern.FindString(post)
	if loc == "" {
		return "", post
	}
	rest := strings.TrimSpace(post[len(loc):])
	switch {
	case rest == "":
		return locatorSpace.Replace(loc), ""
	case strings.HasPrefix(rest, ","):
		return locatorSpace.Replace(loc), strings.TrimSpace(rest[1:])
	}
	return "", post
}

// citeCall is one citation command: \name*[opt][opt]{k1,k2}.
type citeCall struct {
	Command string   `@Command`
	Options []string `@Option*`
	Keys    string   `@Keys`
}

var citeLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Command", Pattern: `\\[A-Za-z]+\*?`},
	{Name: "Option", Pattern: `\[(?:\{[^{}]*\}|[^\[\]{}])*\]`},
	{Name: "Keys", Pattern: `\{[^{}]*\}`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var citeParser = participle.MustBuild[citeCall](
	participle.Lexer(citeLexer),
	participle.Elide("Whitespace"),
)

// maxCitationLen bounds the citation command text accepted by ParseCitation.
const maxCitationLen = 2048

// ParseCitation parses a citation command such as
// `\citep[see][p.~5]{knuth84,lamport94}` into one citation per key. The
// prefix goes to the first citation and the postnote to the last. Keys are
// not validated here.
func ParseCitation(src string) ([]ir.Citation, error) {
	if len(src) > maxCitationLen {
		return nil, fmt.Errorf("citation longer than %d bytes", maxCitationLen)
	}
	call, err := citeParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse citation %q: %w", src, err)
	}
	name := strings.TrimPrefix(call.Command, `\`)
	if !IsCiteCommand(name) {
		return nil, fmt.Errorf("%s is not a citation command", call.Command)
	}
	if len(call.Options) > 2 {
		return nil, fmt.Errorf("citation has %d optional arguments", len(call.Options))
	}

	var prefix, post string
	opts := make([]string, len(call.Options))
	for i, o := range call.Options {
		o = o[1 : len(o)-1]
		if strings.HasPrefix(o, "{") && strings.HasSuffix(o, "}") {
			o = o[1 : len(o)-1]
		}
		opts[i] = encoding.UnescapeLaTeX(o)
	}
	switch len(opts) {
	case 1:
		post = opts[0]
	case 2:
		prefix, post = opts[0], opts[1]
	}
	locator, suffix := SplitPostnote(post)

	var out []ir.Citation
	for _, k := range strings.Split(call.Keys[1:len(call.Keys)-1], ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, ir.Citation{Command: strings.TrimSuffix(name, "*"), Key: k})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("citation %q has no keys", src)
	}
	out[0].Prefix = strings.TrimSpace(prefix)
	out[len(out)-1].Locator = locator
	out[len(out)-1].Suffix = suffix
	return out, nil
}
