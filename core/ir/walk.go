package ir

// WalkFunc is called for every node in document order. depth is 0 for
// direct children of a matter. Returning false skips the node's children.
type WalkFunc func(n Node, depth int) bool

// Walk visits nodes depth-first in document order.
func Walk(nodes Nodes, fn WalkFunc) {
	walk(nodes, 0, fn)
}

func walk(nodes Nodes, depth int, fn WalkFunc) {
	for _, n := range nodes {
		if !fn(n, depth) {
			continue
		}
		if c, ok := n.(*Container); ok {
			walk(c.Children, depth+1, fn)
		}
	}
}

// Matters returns the document's non-nil matters in reading order.
func (d *Document) Matters() []*Matter {
	var out []*Matter
	for _, m := range []*Matter{d.FrontMatter, d.Body, d.BackMatter} {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// WalkDocument visits every node of every matter in reading order.
func (d *Document) WalkDocument(fn WalkFunc) {
	for _, m := range d.Matters() {
		Walk(m.Children, fn)
	}
}

// Blocks returns every block of the document in reading order.
func (d *Document) Blocks() []*Block {
	var out []*Block
	d.WalkDocument(func(n Node, _ int) bool {
		if b, ok := n.(*Block); ok {
			out = append(out, b)
		}
		return true
	})
	return out
}

// Stats summarizes a document.
type Stats struct {
	Containers   int                   `json:"containers"`
	ByKind       map[ContainerKind]int `json:"by_kind"`
	Blocks       int                   `json:"blocks"`
	ByType       map[BlockType]int     `json:"by_type"`
	Unknown      int                   `json:"unknown_blocks"`
	Words        int                   `json:"words"`
	MathInline   int                   `json:"math_inline"`
	MathDisplay  int                   `json:"math_display"`
	Citations    int                   `json:"citations"`
	Bibliography int                   `json:"bibliography"`
	MaxDepth     int                   `json:"max_depth"`
	HintedNodes  int                   `json:"hinted_nodes"`
	TitleWords   int                   `json:"title_words"`
}

// ComputeStats walks the document once and counts its contents.
func ComputeStats(d *Document) Stats {
	s := Stats{
		ByKind:       make(map[ContainerKind]int),
		ByType:       make(map[BlockType]int),
		Bibliography: len(d.Bibliography),
	}
	d.WalkDocument(func(n Node, depth int) bool {
		if depth+1 > s.MaxDepth {
			s.MaxDepth = depth + 1
		}
		switch v := n.(type) {
		case *Container:
			s.Containers++
			s.ByKind[v.Kind]++
			if len(v.Hints) > 0 {
				s.HintedNodes++
			}
			s.TitleWords += len(Words(v.Title.String()))
			s.countRuns(v.Title)
		case *Block:
			s.Blocks++
			s.ByType[v.Type()]++
			if !v.Type().IsKnown() {
				s.Unknown++
			}
			if len(v.Hints) > 0 {
				s.HintedNodes++
			}
			if _, ok := v.Content.(*MathBlock); ok {
				s.MathDisplay++
			}
			s.Words += len(Words(BlockText(v)))
			eachText(v.Content, s.countRuns)
		}
		return true
	})
	return s
}

func (s *Stats) countRuns(t SemanticText) {
	for _, r := range t {
		switch r.(type) {
		case MathRun:
			s.MathInline++
		case CiteRun:
			s.Citations++
		}
	}
}

// eachText calls fn for every SemanticText inside a payload.
func eachText(p Payload, fn func(SemanticText)) {
	switch v := p.(type) {
	case *Paragraph:
		fn(v.Text)
	case *Heading:
		fn(v.Text)
	case *List:
		eachListText(v, fn)
	case *Table:
		fn(v.Caption)
		for _, h := range v.Header {
			fn(h)
		}
		for _, row := range v.Rows {
			for _, cell := range row {
				fn(cell)
			}
		}
	case *Figure:
		fn(v.Caption)
	case *Quote:
		fn(v.Text)
	}
}

func eachListText(l *List, fn func(SemanticText)) {
	for _, it := range l.Items {
		fn(it.Text)
		if it.Sublist != nil {
			eachListText(it.Sublist, fn)
		}
	}
}

// EachText calls fn for every SemanticText carried by a block payload.
func EachText(b *Block, fn func(SemanticText)) {
	eachText(b.Content, fn)
}
