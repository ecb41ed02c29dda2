package latex

import (
	"strings"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/encoding"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// inlineParser turns a range of LaTeX text into semantic runs. Brace
// groups are flattened; nesting beyond the depth limit is reduced to its
// plain text without recursion.
type inlineParser struct {
	src    *source
	macros map[string]Macro

	// unknown counts control words that had no mapping.
	unknown map[string]int
	issues  errors.Issues
}

// styleCommands map text-style commands to run kinds.
var styleCommands = map[string]ir.RunKind{
	"textbf":          ir.RunStrong,
	"textit":          ir.RunEmphasis,
	"emph":            ir.RunEmphasis,
	"textsl":          ir.RunEmphasis,
	"texttt":          ir.RunCode,
	"underline":       ir.RunUnderline,
	"uline":           ir.RunUnderline,
	"sout":            ir.RunStrikethrough,
	"st":              ir.RunStrikethrough,
	"textsubscript":   ir.RunSubscript,
	"textsuperscript": ir.RunSuperscript,
}

// declarations are old-style switches valid at the start of a group.
var declarations = map[string]ir.RunKind{
	"bf": ir.RunStrong, "bfseries": ir.RunStrong,
	"it": ir.RunEmphasis, "itshape": ir.RunEmphasis, "em": ir.RunEmphasis,
	"sl": ir.RunEmphasis, "slshape": ir.RunEmphasis,
	"tt": ir.RunCode, "ttfamily": ir.RunCode,
}

var refCommands = map[string]bool{
	"ref": true, "eqref": true, "autoref": true, "cref": true, "Cref": true,
	"pageref": true, "nameref": true, "vref": true,
}

// symbols are text-mode commands that stand for a literal string.
var symbols = map[string]string{
	"ldots": "...", "dots": "...", "textellipsis": "...",
	"LaTeX": "LaTeX", "TeX": "TeX", "LaTeXe": "LaTeX2e",
	"textbackslash": `\`, "textasciitilde": "~", "textasciicircum": "^",
	"textless": "<", "textgreater": ">", "textbar": "|", "textunderscore": "_",
	"textendash": "–", "textemdash": "—",
	"textquoteleft": "‘", "textquoteright": "’",
	"textquotedblleft": "“", "textquotedblright": "”",
	"S": "§", "P": "¶", "copyright": "©", "textcopyright": "©",
	"textregistered": "®", "texttrademark": "™", "dag": "†",
	"ddag": "‡", "pounds": "£", "euro": "€", "textdegree": "°",
	"i": "i", "j": "j", "ss": "ß", "ae": "æ", "AE": "Æ",
	"oe": "œ", "OE": "Œ", "o": "ø", "O": "Ø",
	"aa": "å", "AA": "Å", "l": "ł", "L": "Ł", "today": "",
}

// spacing commands produce a word space.
var spacing = map[string]bool{
	"quad": true, "qquad": true, "enspace": true, "enskip": true, "thinspace": true,
	"newline": true, "linebreak": true, "par": true, "space": true,
}

// skipped commands carry no text. The value gives the number of optional
// and mandatory arguments to consume.
var skipped = map[string][2]int{
	"label": {0, 1}, "vspace": {0, 1}, "hspace": {0, 1}, "setlength": {0, 2},
	"setcounter": {0, 2}, "addtocounter": {0, 2}, "bibliographystyle": {0, 1},
	"pagestyle": {0, 1}, "thispagestyle": {0, 1}, "hypersetup": {0, 1},
	"graphicspath": {0, 1}, "geometry": {0, 1}, "documentclass": {1, 1},
	"usepackage": {1, 1}, "RequirePackage": {1, 1}, "title": {1, 1},
	"author": {1, 1}, "date": {0, 1}, "thanks": {0, 1}, "selectlanguage": {0, 1},
	"linespread": {0, 1}, "printbibliography": {1, 0}, "addbibresource": {1, 1},
	"bibliography": {0, 1}, "newtheorem": {1, 2}, "item": {1, 0},
	"setdefaultlanguage": {1, 1}, "setmainlanguage": {1, 1}, "caption": {1, 1},
	"includegraphics": {1, 1}, "newenvironment": {2, 3}, "renewenvironment": {2, 3},
	"maketitle": {}, "tableofcontents": {}, "listoffigures": {}, "listoftables": {},
	"noindent": {}, "indent": {}, "centering": {}, "raggedright": {}, "raggedleft": {},
	"clearpage": {}, "newpage": {}, "cleardoublepage": {}, "pagebreak": {1, 0},
	"nopagebreak": {1, 0}, "frontmatter": {}, "mainmatter": {}, "backmatter": {},
	"appendix": {}, "makeindex": {}, "printindex": {}, "makeatletter": {},
	"makeatother": {}, "protect": {}, "relax": {}, "normalfont": {}, "mdseries": {},
	"upshape": {}, "rmfamily": {}, "sffamily": {}, "rm": {}, "sf": {}, "sc": {},
	"scshape": {}, "small": {}, "large": {}, "Large": {}, "LARGE": {}, "huge": {},
	"Huge": {}, "normalsize": {}, "footnotesize": {}, "scriptsize": {}, "tiny": {},
	"hfill": {}, "vfill": {}, "null": {}, "smallskip": {}, "medskip": {}, "bigskip": {},
	"hline": {}, "toprule": {}, "midrule": {}, "bottomrule": {}, "cline": {0, 1},
	"nocite": {0, 1},
}

// accents compose a base letter with an accent control symbol. Each string
// lists base and composed runes in pairs.
var accents = map[byte]string{
	'\'': "aáeéiíoóuúyýcćnńsśzźAÁEÉIÍOÓUÚ",
	'`':  "aàeèiìoòuùAÀEÈIÌOÒUÙ",
	'^':  "aâeêiîoôuûAÂEÊIÎOÔUÛ",
	'"':  "aäeëiïoöuüyÿAÄEËIÏOÖUÜ",
	'~':  "aãnñoõAÃNÑOÕ",
	'=':  "aāeēiīoōuūAĀEĒIĪOŌUŪ",
	'.':  "zżZŻ",
	'c':  "cçCÇsşSŞ",
	'v':  "cčsšzžrřeěCČSŠZŽRŘ",
}

func compose(accent, letter byte) string {
	table := []rune(accents[accent])
	for k := 0; k+1 < len(table); k += 2 {
		if table[k] == rune(letter) {
			return string(table[k+1])
		}
	}
	return string(letter)
}

var urlUnescaper = strings.NewReplacer(
	`\#`, "#", `\%`, "%", `\&`, "&", `\_`, "_", `\~`, "~",
	`\{`, "{", `\}`, "}", `\\`, `\`, "\x00", "",
)

var indexUnquoter = strings.NewReplacer(`""`, `"`, `"!`, "!", `"@`, "@", `"|`, "|")

// runAcc accumulates runs, collapsing whitespace inside text.
type runAcc struct {
	runs  ir.SemanticText
	buf   strings.Builder
	space bool
}

func (a *runAcc) blank() {
	if !a.space && (a.buf.Len() > 0 || len(a.runs) > 0) {
		a.buf.WriteByte(' ')
		a.space = true
	}
}

func (a *runAcc) text(s string) {
	for i := 0; i < len(s); i++ {
		if isBlank(s[i]) {
			a.blank()
			continue
		}
		a.buf.WriteByte(s[i])
		a.space = false
	}
}

func (a *runAcc) literal(c byte) {
	a.buf.WriteByte(c)
	a.space = false
}

func (a *runAcc) run(r ir.Run) {
	a.flush()
	a.runs = append(a.runs, r)
	a.space = false
}

func (a *runAcc) flush() {
	if a.buf.Len() > 0 {
		a.runs = append(a.runs, ir.TextRun{Text: a.buf.String()})
		a.buf.Reset()
	}
}

// styled appends inner runs with style applied to their plain text.
// Nested styled runs keep their own style.
func (a *runAcc) styled(style ir.RunKind, inner ir.SemanticText) {
	for _, r := range inner {
		tr, ok := r.(ir.TextRun)
		switch {
		case !ok:
			a.run(r)
		case strings.TrimSpace(tr.Text) == "":
			a.blank()
		default:
			a.run(ir.StyledRun{Style: style, Text: tr.Text})
		}
	}
}

func (a *runAcc) result() ir.SemanticText {
	a.flush()
	return a.runs.Merge()
}

// parse converts [from, to) into trimmed semantic text.
func (ip *inlineParser) parse(from, to int) ir.SemanticText {
	return ip.sub(from, to, 0).TrimSpace()
}

func (ip *inlineParser) sub(from, to, depth int) ir.SemanticText {
	var acc runAcc
	ip.walk(&acc, from, to, depth)
	return acc.result()
}

func (ip *inlineParser) plain(from, to, depth int) string {
	return strings.TrimSpace(ip.sub(from, to, depth).String())
}

func ordinary(c byte) bool {
	switch c {
	case 0, ' ', '\t', '\n', '\r', '~', '{', '}', '$', '\\':
		return false
	}
	return true
}

func (ip *inlineParser) walk(acc *runAcc, from, to, depth int) {
	s := ip.src.s
	for i := from; i < to; {
		switch c := s[i]; c {
		case 0:
			i++
		case ' ', '\t', '\n', '\r', '~':
			acc.blank()
			i++
		case '{':
			closeAt, ok := ip.src.braces.Close(i)
			if !ok || closeAt >= to {
				acc.literal('{')
				i++
				continue
			}
			ip.group(acc, i+1, closeAt, depth)
			i = closeAt + 1
		case '}':
			acc.literal('}')
			i++
		case '$':
			i = ip.dollar(acc, i, to)
		case '\\':
			i = ip.control(acc, i, to, depth)
		default:
			j := i + 1
			for j < to && ordinary(s[j]) {
				j++
			}
			acc.text(s[i:j])
			i = j
		}
	}
}

// group handles a brace group, including {\bf ...} declarations.
func (ip *inlineParser) group(acc *runAcc, from, to, depth int) {
	if depth+1 >= ip.src.limits.MaxDepth {
		ip.flat(acc, from, to)
		return
	}
	p := ip.src.skipBlank(from, to)
	if p < to && ip.src.s[p] == '\\' {
		name, end := ip.src.command(p)
		if style, ok := declarations[name]; ok && end <= to {
			acc.styled(style, ip.sub(end, to, depth+1))
			return
		}
	}
	ip.walk(acc, from, to, depth+1)
}

// flat appends the text of [from, to) with escapes reversed and braces
// dropped.
func (ip *inlineParser) flat(acc *runAcc, from, to int) {
	text := encoding.UnescapeLaTeX(ip.src.clean(from, to))
	acc.text(strings.NewReplacer("{", "", "}", "").Replace(text))
}

func (ip *inlineParser) dollar(acc *runAcc, i, to int) int {
	s := ip.src.s
	if i+1 < to && s[i+1] == '$' {
		if c := ip.src.closer("$$", i+2, to); c >= 0 {
			ip.math(acc, i, i+2, c)
			return c + 2
		}
		acc.text("$$")
		return i + 2
	}
	if c := ip.src.closer("$", i+1, to); c >= 0 {
		ip.math(acc, i, i+1, c)
		return c + 1
	}
	acc.literal('$')
	return i + 1
}

func (ip *inlineParser) math(acc *runAcc, at, from, to int) {
	src := strings.TrimSpace(ip.src.clean(from, to))
	for _, is := range mathproc.Validate(ir.MathExpression{Kind: ir.MathInline, Source: src}) {
		ip.add(is, at)
	}
	acc.run(ir.MathRun{Source: src})
}

func (ip *inlineParser) add(is errors.Issue, at int) {
	if is.Line == 0 {
		line, col := ip.src.lines.Locate(at + is.Offset)
		is = is.At(line, col)
	}
	ip.issues = append(ip.issues, is)
}

func (ip *inlineParser) control(acc *runAcc, i, to, depth int) int {
	s := ip.src.s
	if i+1 >= to {
		acc.literal('\\')
		return i + 1
	}
	switch n := s[i+1]; {
	case isLetter(n):
		name, end := ip.src.command(i)
		if end > to {
			acc.text(s[i+1 : to])
			return to
		}
		return ip.word(acc, name, i, end, to, depth)
	case n == '\\':
		acc.blank()
		if i+2 < to && s[i+2] == '[' {
			if _, _, end, ok := ip.src.opt(i + 2); ok && end <= to {
				return end
			}
		}
		return i + 2
	case n == '(' || n == '[':
		tok := `\)`
		if n == '[' {
			tok = `\]`
		}
		if c := ip.src.closer(tok, i+2, to); c >= 0 {
			ip.math(acc, i, i+2, c)
			return c + 2
		}
		return i + 2
	case strings.IndexByte("{}$%&#_", n) >= 0:
		acc.literal(n)
		return i + 2
	case accents[n] != "" && n != 'c' && n != 'v':
		return ip.accent(acc, n, i+2, to)
	case strings.IndexByte(",; :\n\t>", n) >= 0:
		acc.blank()
		return i + 2
	case strings.IndexByte("-/@!)]", n) >= 0:
		return i + 2
	}
	acc.literal(s[i+1])
	return i + 2
}

// accent composes an accent with the letter or single-letter group at p.
// An accent over an empty group is the literal accent character, which is
// how ^ and ~ are escaped.
func (ip *inlineParser) accent(acc *runAcc, accent byte, p, to int) int {
	s := ip.src.s
	if p >= to {
		return p
	}
	if s[p] == '{' {
		c, ok := ip.src.braces.Close(p)
		if !ok || c >= to {
			return p
		}
		switch inner := s[p+1 : c]; {
		case inner == "":
			if accent == '^' || accent == '~' {
				acc.literal(accent)
			}
		case len(inner) == 1:
			acc.text(compose(accent, inner[0]))
		default:
			ip.walk(acc, p+1, c, 1)
		}
		return c + 1
	}
	if isLetter(s[p]) {
		acc.text(compose(accent, s[p]))
		return p + 1
	}
	return p
}

// afterWord skips what TeX ignores after a control word: an empty group
// or blanks.
func (ip *inlineParser) afterWord(end, to int) int {
	if end+1 < to && ip.src.s[end] == '{' && ip.src.s[end+1] == '}' {
		return end + 2
	}
	return ip.src.skipBlank(end, to)
}

func (ip *inlineParser) word(acc *runAcc, name string, at, end, to, depth int) int {
	src := ip.src
	deeper := depth + 1
	if deeper >= src.limits.MaxDepth {
		deeper = src.limits.MaxDepth
	}
	argIn := func(pos int) (int, int, int, bool) {
		from, argTo, next, ok := src.arg(pos)
		return from, argTo, next, ok && next <= to
	}

	if style, ok := styleCommands[name]; ok {
		from, argTo, next, ok := argIn(end)
		if !ok {
			return end
		}
		if deeper >= src.limits.MaxDepth {
			ip.flat(acc, from, argTo)
		} else {
			acc.styled(style, ip.sub(from, argTo, deeper))
		}
		return next
	}
	if refCommands[name] {
		p, _ := src.star(end)
		if from, argTo, next, ok := argIn(p); ok {
			acc.run(ir.RefRun{Target: strings.TrimSpace(src.clean(from, argTo))})
			return next
		}
		return end
	}
	if biblio.IsCiteCommand(name) {
		return ip.cite(acc, name, at, end, to)
	}
	if sym, ok := symbols[name]; ok {
		acc.text(sym)
		return ip.afterWord(end, to)
	}
	if spacing[name] {
		acc.blank()
		return ip.afterWord(end, to)
	}

	switch name {
	case "hyperref":
		target, p, _ := src.optText(end)
		if from, argTo, next, ok := argIn(p); ok {
			acc.run(ir.RefRun{Target: strings.TrimSpace(target), Display: ip.plain(from, argTo, deeper)})
			return next
		}
		return end
	case "href":
		uFrom, uTo, p, ok := argIn(end)
		if !ok {
			return end
		}
		from, argTo, next, ok := argIn(p)
		if !ok {
			return end
		}
		acc.run(ir.RefRun{Target: urlUnescaper.Replace(src.s[uFrom:uTo]), Display: ip.plain(from, argTo, deeper)})
		return next
	case "url":
		if from, argTo, next, ok := argIn(end); ok {
			acc.run(ir.RefRun{Target: urlUnescaper.Replace(src.s[from:argTo])})
			return next
		}
		return end
	case "index":
		if from, argTo, next, ok := argIn(end); ok {
			acc.run(ir.IndexRun{Term: indexUnquoter.Replace(ip.plain(from, argTo, deeper))})
			return next
		}
		return end
	case "footnote":
		p := src.skipArgs(end, 1, 0)
		if from, argTo, next, ok := argIn(p); ok {
			acc.run(ir.UnknownRun{Tag: "footnote", Text: ip.plain(from, argTo, deeper)})
			return next
		}
		return end
	case "ensuremath":
		if from, argTo, next, ok := argIn(end); ok {
			ip.math(acc, at, from, argTo)
			return next
		}
		return end
	case "verb":
		return ip.verb(acc, end, to)
	case "begin":
		return ip.env(acc, at, end, to, deeper)
	case "end":
		return src.skipArgs(end, 0, 1)
	case "c", "v":
		if from, argTo, next, ok := argIn(end); ok && argTo-from == 1 {
			acc.text(compose(name[0], src.s[from]))
			return next
		}
	case "multicolumn", "multirow":
		p := src.skipArgs(end, 0, 2)
		if from, argTo, next, ok := argIn(p); ok {
			ip.walk(acc, from, argTo, deeper)
			return next
		}
		return end
	case "newcommand", "renewcommand", "providecommand", "DeclareMathOperator":
		p, _ := src.star(end)
		p = src.skipBlank(p, to)
		if p < to && src.s[p] == '\\' {
			_, p = src.command(p)
		}
		return min(to, src.skipArgs(p, 2, 2))
	}
	if arity, ok := skipped[name]; ok {
		p, _ := src.star(end)
		return min(to, src.skipArgs(p, arity[0], arity[1]))
	}
	if m, ok := ip.macros[name]; ok && m.Args == 0 && !strings.ContainsAny(m.Body, `\{}$`) {
		acc.text(m.Body)
		return ip.afterWord(end, to)
	}

	if ip.unknown == nil {
		ip.unknown = make(map[string]int)
	}
	ip.unknown[name]++
	p := src.skipArgs(end, 1, 0)
	if from, argTo, next, ok := argIn(p); ok {
		acc.run(ir.UnknownRun{Tag: name, Text: ip.plain(from, argTo, deeper)})
		return next
	}
	return ip.afterWord(end, to)
}

// verb reads \verb|...| from the unstripped text, which may contain %.
func (ip *inlineParser) verb(acc *runAcc, end, to int) int {
	raw := ip.src.raw
	p, _ := ip.src.star(end)
	if p >= to {
		return p
	}
	delim := raw[p]
	lineEnd := strings.IndexByte(raw[p+1:to], '\n')
	if lineEnd < 0 {
		lineEnd = to - p - 1
	}
	c := strings.IndexByte(raw[p+1:p+1+lineEnd], delim)
	if c < 0 {
		return p + 1
	}
	acc.run(ir.StyledRun{Style: ir.RunCode, Text: raw[p+1 : p+1+c]})
	return p + 2 + c
}

// env handles an environment inside running text: math becomes an inline
// math run; anything else contributes its text.
func (ip *inlineParser) env(acc *runAcc, at, end, to, depth int) int {
	src := ip.src
	pair, ok := src.envs.At(at)
	if !ok || pair.EndEnd > to {
		return min(to, src.skipArgs(end, 0, 1))
	}
	if mathproc.IsMathEnvironment(pair.Name) {
		ip.math(acc, at, pair.BeginEnd, pair.EndStart)
		return pair.EndEnd
	}
	if depth < src.limits.MaxDepth {
		ip.walk(acc, pair.BeginEnd, pair.EndStart, depth)
	}
	return pair.EndEnd
}

func (ip *inlineParser) cite(acc *runAcc, name string, at, end, to int) int {
	src := ip.src
	p, _ := src.star(end)
	p = src.skipArgs(p, 2, 0)
	_, _, next, ok := src.arg(p)
	if !ok || next > to {
		return end
	}
	text := src.clean(at, next)
	cites, err := biblio.ParseCitation(text)
	if err != nil {
		line, col := src.lines.Locate(at)
		ip.issues = append(ip.issues, errors.Warnf(errors.CodeUnknownRun, "%v", err).At(line, col))
		acc.run(ir.UnknownRun{Tag: name, Text: text})
		return next
	}
	for _, c := range cites {
		if err := biblio.CheckKey(c.Key); err != nil {
			line, col := src.lines.Locate(at)
			ip.issues = append(ip.issues, errors.Warnf(errors.CodeInvalidKey, "citation key %q: %v", c.Key, err).At(line, col))
		}
		acc.run(ir.CiteRun{Citation: c})
	}
	return next
}

// plainString converts a standalone LaTeX fragment to plain text.
func plainString(s string) string {
	ip := &inlineParser{src: newSource(s, scan.Limits{})}
	return ip.parse(0, len(s)).String()
}
