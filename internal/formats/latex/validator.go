package latex

import (
	"slices"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/convert"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

// Validator checks LaTeX source for balance, missing companion packages and
// denylisted control sequences.
type Validator struct {
	Limits scan.Limits
}

// verbatimEnvs have bodies TeX does not tokenize.
var verbatimEnvs = []string{"verbatim", "verbatim*", "Verbatim", "lstlisting", "minted", "comment", "filecontents", "filecontents*"}

// companionCommands maps commands to the package that defines them.
var companionCommands = map[string]string{
	"includegraphics": "graphicx", "href": "hyperref", "url": "hyperref",
	"hyperref": "hyperref", "hypersetup": "hyperref", "autoref": "hyperref",
	"textcolor": "xcolor", "colorbox": "xcolor", "definecolor": "xcolor",
	"toprule": "booktabs", "midrule": "booktabs", "bottomrule": "booktabs", "cmidrule": "booktabs",
	"multirow": "multirow", "uline": "ulem", "sout": "ulem",
	"printbibliography": "biblatex", "addbibresource": "biblatex",
	"parencite": "biblatex", "textcite": "biblatex", "autocite": "biblatex",
	"citep": "natbib", "citet": "natbib", "citealp": "natbib",
	"makeindex": "makeidx", "printindex": "makeidx",
	"cref": "cleveref", "Cref": "cleveref", "SI": "siunitx", "si": "siunitx",
}

// companionEnvs maps non-math environments to their package.
var companionEnvs = map[string]string{
	"lstlisting": "listings", "minted": "minted", "Verbatim": "fancyvrb",
	"tikzpicture": "tikz", "tabularx": "tabularx", "longtable": "longtable",
	"alltt": "alltt", "multicols": "multicol", "wrapfigure": "wrapfig",
}

// packageAliases lists packages that load another one.
var packageAliases = map[string][]string{
	"amssymb":   {"amsfonts"},
	"mathtools": {"amsmath"},
	"tikz":      {"xcolor", "graphicx"},
	"minted":    {"fancyvrb"},
	"biblatex":  {"natbib"},
}

// denyPackages may run external programs during compilation.
var denyPackages = map[string]bool{"shellesc": true, "bashful": true, "pythontex": true, "sagetex": true}

// Validate implements convert.Validator.
func (v *Validator) Validate(content []byte) *convert.ValidationResult {
	res := convert.NewValidationResult()
	text, issues := base.Input(content, v.Limits)
	res.Add(issues...)
	if issues.HasFatal() {
		return res
	}
	src := newSource(text, v.Limits)
	locate := func(is errors.Issue, offset int) errors.Issue {
		line, col := src.lines.Locate(offset)
		return is.At(line, col).WithOffset(offset)
	}

	if un := src.braces.Unmatched(); len(un) > 0 {
		for _, off := range un[:min(len(un), 10)] {
			res.Add(locate(errors.Invalidf(errors.CodeUnbalancedBraces, "unmatched brace"), off))
		}
	}
	for _, m := range src.envs.Unmatched {
		kind := "end"
		if m.Begin {
			kind = "begin"
		}
		res.Add(locate(errors.Invalidf(errors.CodeUnbalancedEnv, `unmatched \%s{%s}`, kind, m.Name), m.Offset))
	}
	if src.envs.Truncated {
		res.Add(errors.Warnf(errors.CodeScanLimit, "environment scan stopped after %d markers", src.limits.MaxMatches))
	}
	if off, ok := crossing(src.envs); ok {
		res.Add(locate(errors.Invalidf(errors.CodeUnbalancedEnv, "environments overlap without nesting"), off))
	}

	opaque := blankVerbatim(src, verbatimEnvs)
	if off, msg, ok := mathBalance(blankVerbatim(src, append(verbatimEnvs, "alltt"))); !ok {
		res.Add(locate(errors.Invalidf(errors.CodeUnbalancedMath, "%s", msg), off))
	}
	for _, is := range mathproc.Unsafe(opaque) {
		res.Add(is)
	}
	if strings.Contains(opaque, "^^") {
		res.Add(locate(errors.Unsafef(errors.CodeCatcode, "^^ character notation"), strings.Index(opaque, "^^")))
	}

	pre := src.preamble(nil)
	for _, p := range pre.Packages {
		if denyPackages[p.Name] {
			res.Add(errors.Unsafef(errors.CodeShellEscape, "package %s runs external programs", p.Name))
		}
	}
	v.companions(src, pre, res)
	return res
}

// crossing reports the first environment that ends inside a sibling, such
// as \begin{a}\begin{b}\end{a}\end{b}.
func crossing(idx *scan.EnvIndex) (int, bool) {
	type mark struct {
		off   int
		begin bool
		pair  int
	}
	marks := make([]mark, 0, 2*len(idx.Pairs))
	for i, p := range idx.Pairs {
		marks = append(marks, mark{p.BeginStart, true, i}, mark{p.EndStart, false, i})
	}
	slices.SortFunc(marks, func(a, b mark) int { return a.off - b.off })
	var stack []int
	for _, m := range marks {
		if m.begin {
			stack = append(stack, m.pair)
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != m.pair {
			return m.off, true
		}
		stack = stack[:len(stack)-1]
	}
	return 0, false
}

// blankVerbatim returns the comment-stripped source with the bodies of the
// named environments and \verb arguments replaced by spaces.
func blankVerbatim(src *source, envs []string) string {
	b := []byte(src.s)
	for _, name := range envs {
		for _, p := range src.envs.Named(name) {
			for i := p.BeginEnd; i < p.EndStart; i++ {
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		}
	}
	for i := 0; i+5 < len(b); i++ {
		if b[i] != '\\' || string(b[i+1:i+5]) != "verb" || isLetter(b[i+5]) {
			if b[i] == '\\' {
				i++
			}
			continue
		}
		j := i + 5
		if j < len(b) && b[j] == '*' {
			j++
		}
		if j >= len(b) {
			break
		}
		delim := b[j]
		end := j + 1
		for end < len(b) && b[end] != delim && b[end] != '\n' {
			end++
		}
		for k := j + 1; k < end; k++ {
			b[k] = ' '
		}
		i = end
	}
	return string(b)
}

// mathBalance checks that math delimiters open and close in order.
func mathBalance(s string) (offset int, msg string, ok bool) {
	open, at := "", 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			d := s[i+1]
			i++
			switch d {
			case '(', '[':
				if open != "" {
					return i - 1, `math delimiter \` + string(d) + " inside " + open, false
				}
				open, at = `\`+string(d), i-1
			case ')', ']':
				want := `\(`
				if d == ']' {
					want = `\[`
				}
				if open != want {
					return i - 1, `unexpected \` + string(d), false
				}
				open = ""
			}
		case c == '$':
			tok := "$"
			if i+1 < len(s) && s[i+1] == '$' {
				tok = "$$"
				i++
			}
			switch open {
			case "":
				open, at = tok, i+1-len(tok)
			case tok:
				open = ""
			default:
				return i, tok + " inside " + open, false
			}
		}
	}
	if open != "" {
		return at, "unclosed math " + open, false
	}
	return 0, "", true
}

// companions reports commands and environments whose package is not
// declared. Complete documents get errors, fragments warnings.
func (v *Validator) companions(src *source, pre *Preamble, res *convert.ValidationResult) {
	have := make(map[string]bool)
	for _, p := range pre.Packages {
		have[p.Name] = true
		for _, a := range packageAliases[p.Name] {
			have[a] = true
		}
	}
	missing := make(map[string]int)
	need := func(pkg string, off int) {
		if pkg != "" && !have[pkg] {
			if _, seen := missing[pkg]; !seen {
				missing[pkg] = off
			}
		}
	}
	cmds, _ := scan.Commands(src.s, src.limits.MaxMatches)
	for _, cs := range cmds {
		need(companionCommands[cs.Name], cs.Offset)
	}
	for _, p := range src.envs.Pairs {
		need(companionEnvs[p.Name], p.BeginStart)
		if mathproc.IsMathEnvironment(p.Name) {
			for _, pkg := range mathproc.RequiredPackages(mathproc.Classify(p.Outer(src.s))) {
				need(pkg, p.BeginStart)
			}
		}
	}
	for pkg, off := range missing {
		line, col := src.lines.Locate(off)
		is := errors.Invalidf(errors.CodeMissingPackage, "package %s is not loaded", pkg)
		if pre.Class == "" {
			is = errors.Warnf(errors.CodeMissingPackage, "package %s is not loaded", pkg)
		}
		res.Add(is.At(line, col).WithOffset(off).WithSuggestion(`\usepackage{` + pkg + `}`))
	}
}

// ValidateDocument implements convert.Validator. It checks what the
// renderer would have to degrade.
func (v *Validator) ValidateDocument(doc *ir.Document) *convert.ValidationResult {
	return base.CheckDocument(doc, "LaTeX", nil)
}
