package hints

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// MediaQueryList is a comma-separated list of queries. The list matches
// when any query matches.
type MediaQueryList struct {
	Queries []*MediaQuery `@@ ( "," @@ )*`
}

// MediaQuery is an optionally negated conjunction of terms.
type MediaQuery struct {
	Not   bool         `@"not"?`
	Terms []*MediaTerm `@@ ( "and" @@ )*`
}

// MediaTerm is a media type ("screen") or a parenthesized feature.
type MediaTerm struct {
	Type    string        `  @Ident`
	Feature *MediaFeature `| "(" @@ ")"`
}

// MediaFeature is "(name)" or "(name: value)".
type MediaFeature struct {
	Name  string      `@Ident`
	Value *MediaValue `( ":" @@ )?`
}

// MediaValue is a dimension ("600px"), a number or a keyword.
type MediaValue struct {
	Number  *float64 `(  @Number`
	Unit    string   `   @Ident? )`
	Keyword string   `| @Ident`
}

var mediaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z][A-Za-z0-9-]*`},
	{Name: "Punct", Pattern: `[(),:]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var mediaParser = participle.MustBuild[MediaQueryList](
	participle.Lexer(mediaLexer),
	participle.Elide("Whitespace"),
)

// maxQueryLen bounds the media expressions accepted from documents.
const maxQueryLen = 512

// ParseMedia parses a media-query-like expression such as
// "screen and (min-width: 600px), print".
func ParseMedia(query string) (*MediaQueryList, error) {
	if len(query) > maxQueryLen {
		return nil, fmt.Errorf("media query longer than %d bytes", maxQueryLen)
	}
	q, err := mediaParser.ParseString("", strings.ToLower(query))
	if err != nil {
		return nil, fmt.Errorf("failed to parse media query %q: %w", query, err)
	}
	return q, nil
}

// Media describes the output medium a document is rendered for.
type Media struct {
	// Type is the media type (e.g., "screen", "print", "speech").
	Type string `json:"type,omitempty"`

	// Width and Height are viewport dimensions in CSS pixels; 0 is unknown.
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// Features holds other feature values (e.g., "prefers-color-scheme": "dark").
	Features map[string]string `json:"features,omitempty"`
}

// Matches evaluates the list against m.
func (l *MediaQueryList) Matches(m Media) bool {
	for _, q := range l.Queries {
		if q.matches(m) {
			return true
		}
	}
	return false
}

func (q *MediaQuery) matches(m Media) bool {
	ok := true
	for _, t := range q.Terms {
		if !t.matches(m) {
			ok = false
			break
		}
	}
	return ok != q.Not
}

func (t *MediaTerm) matches(m Media) bool {
	if t.Feature == nil {
		return t.Type == "all" || (m.Type != "" && t.Type == strings.ToLower(m.Type))
	}
	return t.Feature.matches(m)
}

func (f *MediaFeature) matches(m Media) bool {
	name := f.Name
	switch name {
	case "width", "min-width", "max-width":
		return compareDim(name, m.Width, f.Value)
	case "height", "min-height", "max-height":
		return compareDim(name, m.Height, f.Value)
	case "orientation":
		if f.Value == nil || m.Width == 0 || m.Height == 0 {
			return false
		}
		if m.Width >= m.Height {
			return f.Value.Keyword == "landscape"
		}
		return f.Value.Keyword == "portrait"
	}
	got, present := m.Features[name]
	if f.Value == nil {
		return present && got != "" && got != "0" && got != "none"
	}
	return present && strings.EqualFold(got, f.Value.String())
}

func compareDim(name string, have float64, v *MediaValue) bool {
	if have == 0 {
		return false
	}
	if v == nil {
		return true
	}
	want, ok := v.Pixels()
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(name, "min-"):
		return have >= want
	case strings.HasPrefix(name, "max-"):
		return have <= want
	default:
		return have == want
	}
}

// unitPixels converts CSS units to pixels.
var unitPixels = map[string]float64{
	"":    1,
	"px":  1,
	"em":  16,
	"rem": 16,
	"pt":  96.0 / 72.0,
	"in":  96,
	"cm":  96 / 2.54,
	"mm":  96 / 25.4,
}

// Pixels returns the value in CSS pixels.
func (v *MediaValue) Pixels() (float64, bool) {
	if v.Number == nil {
		return 0, false
	}
	f, ok := unitPixels[v.Unit]
	if !ok {
		return 0, false
	}
	return *v.Number * f, true
}

func (v *MediaValue) String() string {
	if v.Number != nil {
		return fmt.Sprintf("%g%s", *v.Number, v.Unit)
	}
	return v.Keyword
}
