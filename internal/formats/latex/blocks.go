package latex

import (
	"math"
	"strconv"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/encoding"
	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
	"github.com/FocuswithJustin/edudoc/core/mathproc"
	"github.com/FocuswithJustin/edudoc/core/scan"
	"github.com/FocuswithJustin/edudoc/internal/formats/base"
)

var listEnvs = map[string]bool{"itemize": true, "enumerate": true, "description": true}

var tabularEnvs = map[string]bool{"tabular": true, "tabular*": true, "tabularx": true, "longtable": true}

var codeEnvs = map[string]bool{"verbatim": true, "Verbatim": true, "lstlisting": true, "minted": true, "alltt": true}

var alignEnvs = map[string]string{"center": "center", "flushleft": "left", "flushright": "right"}

// transparentEnvs contribute their content without a node of their own.
// The value is the number of optional and mandatory arguments to skip.
var transparentEnvs = map[string][2]int{
	"minipage": {1, 1}, "multicols": {0, 1}, "multicols*": {0, 1},
	"otherlanguage": {0, 1}, "samepage": {}, "small": {}, "footnotesize": {},
	"theorem": {1, 0}, "lemma": {1, 0}, "proof": {1, 0}, "definition": {1, 0},
	"corollary": {1, 0}, "proposition": {1, 0}, "remark": {1, 0},
	"example": {1, 0}, "exercise": {1, 0}, "solution": {1, 0},
}

// env dispatches an environment to its block parser.
func (ps *parseState) env(pair scan.EnvPair, depth int, hints []ir.RenderingHint) {
	name := pair.Name
	if depth >= ps.src.limits.MaxDepth {
		ps.paragraph(pair.BeginEnd, pair.EndStart, hints)
		return
	}
	if align, ok := alignEnvs[name]; ok {
		h := append(append([]ir.RenderingHint(nil), hints...), ir.RenderingHint{Type: ir.HintAlignment, Value: align})
		ps.segment(pair.BeginEnd, pair.EndStart, depth+1, h)
		return
	}
	if args, ok := transparentEnvs[name]; ok {
		p := ps.src.skipArgs(pair.BeginEnd, args[0], args[1])
		ps.segment(min(p, pair.EndStart), pair.EndStart, depth+1, hints)
		return
	}

	switch stem := strings.TrimSuffix(name, "*"); {
	case mathproc.IsMathEnvironment(name):
		expr := mathproc.Classify(ps.src.clean(pair.BeginStart, pair.EndEnd))
		ps.mathBlock(expr, pair.BeginStart, hints)
	case stem == "figure" || stem == "wrapfigure":
		ps.figure(pair, hints)
	case stem == "table" || tabularEnvs[name]:
		ps.table(pair, hints)
	case listEnvs[name]:
		ps.add(ir.NewBlock("", ps.list(pair)), hints, true)
	case codeEnvs[name]:
		ps.code(pair, hints)
	case name == "quote" || name == "quotation" || name == "verse":
		ps.quote(pair, hints)
	case name == "thebibliography":
		ps.bibliography(pair)
	case stem == "filecontents":
		// Loaded before segmentation.
	case name == "abstract":
		ps.abstract(pair, depth)
	default:
		ps.res.Unmapped(ps.warnAt(pair.BeginStart, errors.CodeUnknownEnv,
			"unknown environment %s kept as text", name))
		if text := ps.inline.parse(pair.BeginEnd, pair.EndStart); !text.IsEmpty() {
			ps.add(ir.NewBlock("", &ir.Paragraph{Text: text}), hints, false)
		}
	}
}

// figure reads \includegraphics, \caption and \label from a figure float.
func (ps *parseState) figure(pair scan.EnvPair, hints []ir.RenderingHint) {
	src := ps.src
	from, to := src.skipArgs(pair.BeginEnd, 1, 0), pair.EndStart
	fig := &ir.Figure{}
	if at := src.findCommand("includegraphics", from, to); at >= 0 {
		p, _ := src.star(at + len(`\includegraphics`))
		opt, p, _ := src.optText(p)
		kv := keyVals(opt)
		fig.Width = fromLength(kv["width"])
		if alt := kv["alt"]; alt != "" {
			fig.Alt = plainString(alt)
		}
		if file, _, ok := src.argText(p); ok {
			fig.Source = strings.TrimSpace(strings.ReplaceAll(file, "\x00", ""))
		}
	}
	fig.Caption = ps.caption(from, to)
	id, _ := src.label(from, to)

	if fig.Source == "" {
		ps.res.Unmapped(ps.warnAt(pair.BeginStart, errors.CodeUnknownElement, "figure without an image kept as text"))
		if !fig.Caption.IsEmpty() {
			ps.add(ir.NewBlock(id, &ir.Paragraph{Text: fig.Caption}), hints, false)
		}
		return
	}
	ps.add(ir.NewBlock(id, fig), hints, true)
}

// fromLength turns a fraction of \linewidth or \textwidth into a percentage.
// Other lengths are kept as written.
func fromLength(w string) string {
	w = strings.TrimSpace(w)
	for _, unit := range []string{`\linewidth`, `\textwidth`, `\columnwidth`} {
		if num, ok := strings.CutSuffix(w, unit); ok {
			if num == "" {
				return "100%"
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(num), 64); err == nil {
				return strconv.FormatFloat(math.Round(f*1e4)/1e2, 'f', -1, 64) + "%"
			}
		}
	}
	return w
}

func (ps *parseState) caption(from, to int) ir.SemanticText {
	src := ps.src
	at := src.findCommand("caption", from, to)
	if at < 0 {
		return nil
	}
	p, _ := src.star(at + len(`\caption`))
	p = src.skipArgs(p, 1, 0)
	if cFrom, cTo, _, ok := src.arg(p); ok && cTo <= to {
		return ps.inline.parse(cFrom, cTo)
	}
	return nil
}

// table reads a table float or a bare tabular.
func (ps *parseState) table(pair scan.EnvPair, hints []ir.RenderingHint) {
	src := ps.src
	grid := pair
	if !tabularEnvs[pair.Name] {
		found := false
		for _, inner := range src.pairsIn(pair.BeginEnd, pair.EndStart) {
			if tabularEnvs[inner.Name] {
				grid, found = inner, true
				break
			}
		}
		if !found {
			ps.res.Unmapped(ps.warnAt(pair.BeginStart, errors.CodeUnknownElement, "table without tabular kept as text"))
			if text := ps.inline.parse(pair.BeginEnd, pair.EndStart); !text.IsEmpty() {
				ps.add(ir.NewBlock("", &ir.Paragraph{Text: text}), hints, false)
			}
			return
		}
	}

	t := &ir.Table{Caption: ps.caption(pair.BeginEnd, pair.EndStart)}
	id, _ := src.label(pair.BeginEnd, pair.EndStart)

	p := grid.BeginEnd
	switch grid.Name {
	case "tabularx", "tabular*":
		p = src.skipArgs(p, 0, 1)
	}
	p = src.skipArgs(p, 1, 1)

	rows, ruled := ps.rows(min(p, grid.EndStart), grid.EndStart)
	var cells [][]ir.SemanticText
	for _, row := range rows {
		if len(row) == 1 {
			if at := src.findCommand("caption", row[0].from, row[0].to); at >= 0 && t.Caption == nil {
				t.Caption = ps.caption(row[0].from, row[0].to)
				continue
			}
		}
		line := make([]ir.SemanticText, len(row))
		for k, c := range row {
			line[k] = ps.inline.parse(c.from, c.to)
		}
		cells = append(cells, line)
	}
	for len(cells) > 0 && emptyRow(cells[len(cells)-1]) {
		cells = cells[:len(cells)-1]
	}
	if len(cells) > 1 && len(ruled) > 1 && ruled[1] {
		t.Header, cells = cells[0], cells[1:]
	}
	t.Rows = cells
	ps.add(ir.NewBlock(id, t), hints, true)
}

func emptyRow(row []ir.SemanticText) bool {
	for _, c := range row {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

type span struct{ from, to int }

// ruleCommands are horizontal rules between table rows.
var ruleCommands = map[string]int{
	"hline": 0, "toprule": 0, "midrule": 0, "bottomrule": 0,
	"cline": 1, "cmidrule": 1, "hhline": 1,
}

// rows splits a tabular body into cells. Row separators are \\ and
// \tabularnewline outside groups and nested environments; cells split at
// &. ruled reports whether a rule starts each row.
func (ps *parseState) rows(from, to int) (rows [][]span, ruled []bool) {
	src := ps.src
	s := src.s
	var row []span
	cell := from
	endRow := func(at int) {
		row = append(row, span{cell, at})
		rows = append(rows, row)
		row = nil
	}
	for i := from; i < to; {
		switch s[i] {
		case '{':
			if c, ok := src.braces.Close(i); ok && c < to {
				i = c + 1
				continue
			}
		case '&':
			row = append(row, span{cell, i})
			cell = i + 1
		case '\\':
			if i+1 < to && s[i+1] == '\\' {
				endRow(i)
				next := i + 2
				if q := src.skipBlank(next, to); q < to && s[q] == '[' {
					next = src.skipArgs(next, 1, 0)
				}
				i, cell = next, next
				continue
			}
			name, end := src.command(i)
			switch name {
			case "tabularnewline":
				endRow(i)
				i, cell = end, end
				continue
			case "begin":
				if pair, ok := src.envs.At(i); ok && pair.EndEnd <= to {
					i = pair.EndEnd
					continue
				}
			}
			i = end
			continue
		}
		i++
	}
	if cell < to {
		endRow(to)
	}

	ruled = make([]bool, len(rows))
	for r := range rows {
		rows[r][0].from, ruled[r] = ps.stripRules(rows[r][0].from, rows[r][0].to)
	}
	return rows, ruled
}

// stripRules skips rule commands at the start of a cell.
func (ps *parseState) stripRules(from, to int) (int, bool) {
	src := ps.src
	ruled := false
	for {
		p := src.skipBlank(from, to)
		if p >= to || src.s[p] != '\\' {
			return from, ruled
		}
		name, end := src.command(p)
		nArgs, ok := ruleCommands[name]
		if !ok {
			return from, ruled
		}
		if name == "cmidrule" {
			if q := src.skipBlank(end, to); q < to && src.s[q] == '(' {
				if c := strings.IndexByte(src.s[q:to], ')'); c >= 0 {
					end = q + c + 1
				}
			}
		}
		from, ruled = min(src.skipArgs(end, 0, nArgs), to), true
	}
}

// list reads itemize, enumerate and description environments. The first
// nested list of an item becomes its sublist.
func (ps *parseState) list(pair scan.EnvPair) *ir.List {
	src := ps.src
	s := src.s
	l := &ir.List{Ordered: pair.Name == "enumerate"}
	start := pair.BeginEnd
	if opt, end, ok := src.optText(start); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(keyVals(opt)["start"])); err == nil && n != 1 {
			l.Start = n
		}
		start = end
	}

	var items []int
	for i := start; i < pair.EndStart; {
		switch s[i] {
		case '{':
			if c, ok := src.braces.Close(i); ok && c < pair.EndStart {
				i = c + 1
				continue
			}
		case '\\':
			name, end := src.command(i)
			switch name {
			case "item":
				items = append(items, i)
			case "begin":
				if inner, ok := src.envs.At(i); ok && inner.EndEnd <= pair.EndStart {
					i = inner.EndEnd
					continue
				}
			case "setcounter":
				if counter, p, ok := src.argText(end); ok && strings.HasPrefix(strings.TrimSpace(counter), "enum") {
					if v, _, ok := src.argText(p); ok {
						if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n != 0 {
							l.Start = n + 1
						}
					}
				}
			}
			i = end
			continue
		}
		i++
	}

	for k, at := range items {
		to := pair.EndStart
		if k+1 < len(items) {
			to = items[k+1]
		}
		if item, ok := ps.item(at, to); ok {
			l.Items = append(l.Items, item)
		}
	}
	return l
}

func (ps *parseState) item(at, to int) (ir.ListItem, bool) {
	src := ps.src
	p := at + len(`\item`)
	var label ir.SemanticText
	if lFrom, lTo, end, ok := src.opt(p); ok && end <= to {
		label = ps.inline.parse(lFrom, lTo)
		p = end
	}

	var item ir.ListItem
	textTo := to
	for _, inner := range outermost(src.pairsIn(p, to)) {
		if listEnvs[inner.Name] {
			item.Sublist = ps.list(inner)
			textTo = inner.BeginStart
			break
		}
	}
	text := ps.inline.parse(p, textTo)
	if textTo < to {
		text = append(text, ir.TextRun{Text: " "})
		text = append(text, ps.inline.parse(envEnd(src, textTo, to), to)...)
		text = text.TrimSpace()
	}
	if !label.IsEmpty() {
		lead := ir.SemanticText{ir.StyledRun{Style: ir.RunStrong, Text: label.String()}, ir.TextRun{Text: " "}}
		text = append(lead, text...).TrimSpace()
	}
	if text.IsEmpty() && item.Sublist == nil {
		return item, false
	}
	item.Text = text
	return item, true
}

// envEnd returns the offset after the environment starting at from.
func envEnd(src *source, from, to int) int {
	if pair, ok := src.envs.At(from); ok && pair.EndEnd <= to {
		return pair.EndEnd
	}
	return to
}

// code reads verbatim-like environments from the unstripped source.
func (ps *parseState) code(pair scan.EnvPair, hints []ir.RenderingHint) {
	src := ps.src
	c := &ir.Code{}
	from := pair.BeginEnd
	switch pair.Name {
	case "lstlisting", "Verbatim":
		if opt, end, ok := src.optText(from); ok {
			c.Language = strings.TrimSpace(keyVals(opt)["language"])
			from = end
		}
	case "minted":
		from = src.skipArgs(from, 1, 0)
		if lang, end, ok := src.argText(from); ok {
			c.Language = strings.TrimSpace(lang)
			from = end
		}
	}
	body := src.raw[min(from, pair.EndStart):pair.EndStart]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")
	if pair.Name == "alltt" {
		body = encoding.UnescapeLaTeXVerbatim(body)
	}
	c.Code = body
	if c.Language == "" {
		if line, ok := src.lineBefore(pair.BeginStart); ok {
			if lang, ok := strings.CutPrefix(strings.TrimSpace(line), "% language:"); ok {
				c.Language = strings.TrimSpace(lang)
			}
		}
	}
	ps.add(ir.NewBlock("", c), hints, true)
}

// quote reads a quotation with an optional attribution after \hfill.
func (ps *parseState) quote(pair scan.EnvPair, hints []ir.RenderingHint) {
	src := ps.src
	q := &ir.Quote{}
	textTo := pair.EndStart
	last := -1
	for at := src.findCommand("hfill", pair.BeginEnd, pair.EndStart); at >= 0; at = src.findCommand("hfill", at+1, pair.EndStart) {
		last = at
	}
	if last >= 0 {
		attr := ps.inline.parse(last+len(`\hfill`), pair.EndStart).String()
		q.Attribution = strings.TrimSpace(strings.TrimLeft(attr, "-— "))
		textTo = last
	}
	q.Text = ps.inline.parse(pair.BeginEnd, textTo)
	ps.add(ir.NewBlock("", q), hints, true)
}

// bibliography reads \bibitem entries of a thebibliography environment.
func (ps *parseState) bibliography(pair scan.EnvPair) {
	src := ps.src
	from := src.skipArgs(pair.BeginEnd, 0, 1)
	var items []int
	for at := src.findCommand("bibitem", from, pair.EndStart); at >= 0; at = src.findCommand("bibitem", at+1, pair.EndStart) {
		items = append(items, at)
	}
	var entries []*ir.BibliographyEntry
	for k, at := range items {
		to := pair.EndStart
		if k+1 < len(items) {
			to = items[k+1]
		}
		p := src.skipArgs(at+len(`\bibitem`), 1, 0)
		key, end, ok := src.argText(p)
		if !ok || end > to {
			continue
		}
		e := &ir.BibliographyEntry{ID: strings.TrimSpace(key), Type: "misc"}
		if text := base.CollapseSpace(ps.inline.parse(end, to).String()); text != "" {
			e.Fields.Set("note", text)
		}
		entries = append(entries, e)
	}
	ps.addEntries(entries)
	ps.res.Mapped(1)
}

// abstract builds the front-matter abstract section.
func (ps *parseState) abstract(pair scan.EnvPair, depth int) {
	c := &ir.Container{Kind: ir.KindSection, Label: "abstract", Title: ir.Plain("Abstract"), Hints: ps.takePending()}
	saved := ps.override
	var o base.Outline
	ps.override = &o
	ps.segment(pair.BeginEnd, pair.EndStart, depth+1, nil)
	ps.override = saved
	c.Children = o.Nodes()
	ps.outlines[matterFront].Add(c)
	ps.res.Mapped(1)
}
