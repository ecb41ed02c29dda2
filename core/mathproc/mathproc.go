// Package mathproc classifies, normalizes, grades and validates LaTeX-style
// mathematics. Every backend that carries math uses it, so parsing and
// rendering treat expressions identically.
package mathproc

import (
	"sort"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// displayEnvironments are the environments that stand as a math block.
var displayEnvironments = map[string]bool{
	"equation": true, "equation*": true,
	"align": true, "align*": true,
	"gather": true, "gather*": true,
	"multline": true, "multline*": true,
	"flalign": true, "flalign*": true,
	"alignat": true, "alignat*": true,
	"eqnarray": true, "eqnarray*": true,
	"displaymath": true, "math": true,
}

// IsMathEnvironment reports whether name is a top-level math environment.
func IsMathEnvironment(name string) bool {
	return displayEnvironments[name]
}

// MathEnvironments returns the top-level math environment names, sorted.
func MathEnvironments() []string {
	names := make([]string, 0, len(displayEnvironments))
	for n := range displayEnvironments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Classify turns delimited math markup into an expression. Recognized forms
// are $...$ and \(...\) (inline), $$...$$ and \[...\] (display) and
// \begin{env}...\end{env} for a math environment. Anything else is taken as
// undelimited inline source.
func Classify(markup string) ir.MathExpression {
	m := strings.TrimSpace(markup)
	expr := ir.MathExpression{Original: markup}
	switch {
	case len(m) >= 4 && strings.HasPrefix(m, "$$") && strings.HasSuffix(m, "$$"):
		expr.Kind, expr.Source = ir.MathDisplay, m[2:len(m)-2]
	case len(m) >= 4 && strings.HasPrefix(m, `\[`) && strings.HasSuffix(m, `\]`):
		expr.Kind, expr.Source = ir.MathDisplay, m[2:len(m)-2]
	case len(m) >= 4 && strings.HasPrefix(m, `\(`) && strings.HasSuffix(m, `\)`):
		expr.Kind, expr.Source = ir.MathInline, m[2:len(m)-2]
	case len(m) >= 2 && m[0] == '$' && m[len(m)-1] == '$':
		expr.Kind, expr.Source = ir.MathInline, m[1:len(m)-1]
	case strings.HasPrefix(m, `\begin{`):
		idx := scan.Environments(m, scan.DefaultLimits())
		if outer := idx.Outermost(); len(outer) == 1 && outer[0].BeginStart == 0 && outer[0].EndEnd == len(m) && IsMathEnvironment(outer[0].Name) {
			expr.Kind = ir.MathEnvironment
			expr.Environment = outer[0].Name
			expr.Source = outer[0].Body(m)
		} else {
			expr.Kind, expr.Source = ir.MathInline, m
		}
	default:
		expr.Kind, expr.Source = ir.MathInline, m
	}
	expr.Source = strings.TrimSpace(expr.Source)
	return expr
}

// Markup renders an expression back to delimited LaTeX source.
func Markup(e ir.MathExpression) string {
	switch e.Kind {
	case ir.MathDisplay:
		return `\[` + e.Source + `\]`
	case ir.MathEnvironment:
		env := e.Environment
		if env == "" {
			env = "equation"
		}
		return `\begin{` + env + "}\n" + e.Source + "\n" + `\end{` + env + "}"
	default:
		return `\(` + e.Source + `\)`
	}
}

// Normalize collapses whitespace runs and removes empty groups that cannot
// change meaning: a {} is dropped only when it follows whitespace, an
// opening delimiter or an operator, never after a command or a script marker.
func Normalize(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))
	space := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			space = true
			continue
		case c == '\\' && i+1 < len(src):
			flushSpace(&sb, &space)
			sb.WriteByte(c)
			i++
			sb.WriteByte(src[i])
			continue
		case c == '{' && i+1 < len(src) && src[i+1] == '}' && droppableAfter(sb.String(), space):
			i++
			continue
		}
		flushSpace(&sb, &space)
		sb.WriteByte(c)
	}
	return sb.String()
}

func flushSpace(sb *strings.Builder, space *bool) {
	if *space && sb.Len() > 0 {
		sb.WriteByte(' ')
	}
	*space = false
}

func droppableAfter(prev string, space bool) bool {
	if prev == "" || space {
		return true
	}
	switch prev[len(prev)-1] {
	case '{', '(', '[', '=', '+', '-', ',', '}':
		return !scan.Escaped(prev, len(prev)-1)
	}
	return false
}

// Tier is a coarse complexity grade.
type Tier string

// Complexity tiers.
const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

var (
	fractionCommands = map[string]bool{"frac": true, "dfrac": true, "tfrac": true, "cfrac": true, "binom": true}
	alphabetCommands = map[string]bool{"mathbb": true, "mathcal": true, "mathfrak": true, "mathscr": true, "mathbf": true, "boldsymbol": true}
	multilineEnvs    = map[string]bool{
		"align": true, "align*": true, "gather": true, "gather*": true, "multline": true, "multline*": true,
		"split": true, "cases": true, "eqnarray": true, "eqnarray*": true, "aligned": true, "gathered": true,
	}
	matrixEnvs = map[string]bool{
		"matrix": true, "pmatrix": true, "bmatrix": true, "Bmatrix": true, "vmatrix": true,
		"Vmatrix": true, "smallmatrix": true, "array": true,
	}
)

// Constructs counts the advanced constructs of an expression.
type Constructs struct {
	Fractions int `json:"fractions"`
	Multiline int `json:"multiline"`
	Alphabets int `json:"alphabets"`
	Matrices  int `json:"matrices"`
}

// Total returns the sum of all counts.
func (c Constructs) Total() int {
	return c.Fractions + c.Multiline + c.Alphabets + c.Matrices
}

// Count tallies advanced constructs in one pass over the control sequences.
func Count(e ir.MathExpression) Constructs {
	var c Constructs
	if e.Kind == ir.MathEnvironment && multilineEnvs[e.Environment] {
		c.Multiline++
	}
	cmds, _ := scan.Commands(e.Source, scan.DefaultLimits().MaxMatches)
	idx := scan.Braces(e.Source)
	for _, cs := range cmds {
		switch {
		case fractionCommands[cs.Name]:
			c.Fractions++
		case alphabetCommands[cs.Name]:
			c.Alphabets++
		case cs.Name == "begin":
			name, _, ok := idx.Arg(e.Source, cs.End)
			if !ok {
				continue
			}
			if multilineEnvs[name] {
				c.Multiline++
			}
			if matrixEnvs[name] {
				c.Matrices++
			}
		}
	}
	return c
}

// Complexity grades an expression: no advanced constructs is low, one or
// two is medium, three or more is high.
func Complexity(e ir.MathExpression) Tier {
	switch n := Count(e).Total(); {
	case n == 0:
		return TierLow
	case n <= 2:
		return TierMedium
	default:
		return TierHigh
	}
}

// deprecatedCommands maps plain-TeX commands to their replacement.
var deprecatedCommands = map[string]string{
	"over":   `\frac{a}{b}`,
	"choose": `\binom{n}{k}`,
	"atop":   `\genfrac{}{}{0pt}{}{a}{b}`,
	"bf":     `\mathbf{...}`,
	"rm":     `\mathrm{...}`,
	"it":     `\mathit{...}`,
	"cal":    `\mathcal{...}`,
}

// Validate checks brace balance, \left/\right pairing and environment
// pairing, and flags deprecated syntax as warnings. Denylisted commands
// are security errors.
func Validate(e ir.MathExpression) errors.Issues {
	var issues errors.Issues
	src := e.Source

	braces := scan.Braces(src)
	for _, off := range braces.Unmatched() {
		issues = append(issues, errors.Invalidf(errors.CodeUnbalancedBraces,
			"unbalanced brace in math at offset %d", off).WithOffset(off))
	}

	cmds, truncated := scan.Commands(src, scan.DefaultLimits().MaxMatches)
	if truncated {
		issues = append(issues, errors.Warnf(errors.CodeScanLimit, "math expression has too many commands to check"))
	}
	left, right := 0, 0
	for _, cs := range cmds {
		switch cs.Name {
		case "left":
			left++
		case "right":
			right++
		}
		if repl, ok := deprecatedCommands[cs.Name]; ok {
			issues = append(issues, errors.Warnf(errors.CodeDeprecatedSyntax,
				`deprecated command \%s`, cs.Name).WithOffset(cs.Offset).WithSuggestion("use "+repl))
		}
	}
	if left != right {
		issues = append(issues, errors.Invalidf(errors.CodeUnbalancedMath,
			`unmatched \left/\right: %d \left, %d \right`, left, right))
	}

	envs := scan.Environments(src, scan.DefaultLimits())
	for _, m := range envs.Unmatched {
		kind := "end"
		if m.Begin {
			kind = "begin"
		}
		issues = append(issues, errors.Invalidf(errors.CodeUnbalancedEnv,
			`unmatched \%s{%s} in math`, kind, m.Name).WithOffset(m.Offset))
	}

	if strings.Contains(e.Original, "$$") {
		issues = append(issues, errors.Warnf(errors.CodeDeprecatedSyntax,
			"display math delimited by $$").WithSuggestion(`use \[ ... \]`))
	}
	if strings.HasPrefix(e.Environment, "eqnarray") {
		issues = append(issues, errors.Warnf(errors.CodeDeprecatedSyntax,
			"eqnarray environment is deprecated").WithSuggestion("use align"))
	}

	issues = append(issues, Unsafe(src)...)
	return issues
}

// packageCommands maps commands to the package providing them.
var packageCommands = map[string]string{
	"dfrac": "amsmath", "tfrac": "amsmath", "cfrac": "amsmath", "binom": "amsmath",
	"text": "amsmath", "operatorname": "amsmath", "DeclareMathOperator": "amsmath",
	"eqref": "amsmath", "tag": "amsmath", "intertext": "amsmath",
	"mathbb": "amssymb", "mathfrak": "amssymb", "blacksquare": "amssymb",
	"varnothing": "amssymb", "leqslant": "amssymb", "geqslant": "amssymb",
	"mathscr": "mathrsfs", "bm": "bm",
}

var packageEnvironments = map[string]string{
	"align": "amsmath", "align*": "amsmath", "gather": "amsmath", "gather*": "amsmath",
	"multline": "amsmath", "multline*": "amsmath", "split": "amsmath", "cases": "amsmath",
	"flalign": "amsmath", "flalign*": "amsmath", "alignat": "amsmath", "alignat*": "amsmath",
	"aligned": "amsmath", "gathered": "amsmath", "equation*": "amsmath",
	"matrix": "amsmath", "pmatrix": "amsmath", "bmatrix": "amsmath", "Bmatrix": "amsmath",
	"vmatrix": "amsmath", "Vmatrix": "amsmath", "smallmatrix": "amsmath",
}

// RequiredPackages returns the packages an expression needs, sorted.
func RequiredPackages(e ir.MathExpression) []string {
	set := make(map[string]bool)
	if p, ok := packageEnvironments[e.Environment]; ok {
		set[p] = true
	}
	cmds, _ := scan.Commands(e.Source, scan.DefaultLimits().MaxMatches)
	idx := scan.Braces(e.Source)
	for _, cs := range cmds {
		if p, ok := packageCommands[cs.Name]; ok {
			set[p] = true
		}
		if cs.Name == "begin" {
			if name, _, ok := idx.Arg(e.Source, cs.End); ok {
				if p, ok := packageEnvironments[name]; ok {
					set[p] = true
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
