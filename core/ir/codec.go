package ir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// codec.go - JSON encoding of the canonical tree.
// Sum types are encoded with explicit discriminators: nodes carry "node",
// blocks carry "type" and runs carry "kind". Unknown discriminators decode to
// Unknown / UnknownRun with the raw payload preserved.

// Node discriminator values.
const (
	nodeContainer = "container"
	nodeBlock     = "block"
)

// MarshalDocument encodes a document as indented JSON.
func MarshalDocument(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalDocument decodes a document and guarantees a non-nil body.
func UnmarshalDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Body == nil {
		doc.Body = &Matter{}
	}
	if doc.Version == "" {
		doc.Version = CurrentVersion
	}
	return &doc, nil
}

// MarshalJSON implements json.Marshaler.
func (c *Container) MarshalJSON() ([]byte, error) {
	type alias Container
	return json.Marshal(struct {
		Node string `json:"node"`
		alias
	}{nodeContainer, alias(*c)})
}

type blockJSON struct {
	Node      string          `json:"node"`
	ID        string          `json:"id"`
	Type      BlockType       `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	Language  string          `json:"language,omitempty"`
	Direction Direction       `json:"direction,omitempty"`
	Hints     []RenderingHint `json:"hints,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (b *Block) MarshalJSON() ([]byte, error) {
	out := blockJSON{
		Node:      nodeBlock,
		ID:        b.ID,
		Type:      b.Type(),
		Language:  b.Language,
		Direction: b.Direction,
		Hints:     b.Hints,
	}
	switch p := b.Content.(type) {
	case nil:
	case *Unknown:
		if json.Valid([]byte(p.Raw)) && strings.TrimSpace(p.Raw) != "" {
			out.Content = json.RawMessage(p.Raw)
		} else if p.Raw != "" {
			raw, err := json.Marshal(p.Raw)
			if err != nil {
				return nil, err
			}
			out.Content = raw
		}
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", b.ID, err)
		}
		out.Content = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Block) UnmarshalJSON(data []byte) error {
	var in blockJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	payload, err := decodePayload(in.Type, in.Content)
	if err != nil {
		return fmt.Errorf("block %s: %w", in.ID, err)
	}
	*b = Block{
		ID:        in.ID,
		Content:   payload,
		Language:  in.Language,
		Direction: in.Direction,
		Hints:     in.Hints,
	}
	return nil
}

func decodePayload(t BlockType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case BlockParagraph:
		p = &Paragraph{}
	case BlockHeading:
		p = &Heading{}
	case BlockList:
		p = &List{}
	case BlockTable:
		p = &Table{}
	case BlockFigure:
		p = &Figure{}
	case BlockMath:
		p = &MathBlock{}
	case BlockCode:
		p = &Code{}
	case BlockQuote:
		p = &Quote{}
	default:
		u := &Unknown{RawType: string(t)}
		var s string
		if len(raw) > 0 && json.Unmarshal(raw, &s) == nil {
			u.Raw = s
		} else {
			u.Raw = string(raw)
		}
		return u, nil
	}
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nodes) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Nodes, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			Node string `json:"node"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return err
		}
		switch head.Node {
		case nodeContainer:
			c := &Container{}
			if err := json.Unmarshal(raw, c); err != nil {
				return err
			}
			out = append(out, c)
		case nodeBlock, "":
			b := &Block{}
			if err := json.Unmarshal(raw, b); err != nil {
				return err
			}
			out = append(out, b)
		default:
			return fmt.Errorf("node %d: unknown node discriminator %q", i, head.Node)
		}
	}
	*n = out
	return nil
}

type runJSON struct {
	Kind     RunKind   `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Target   string    `json:"target,omitempty"`
	Display  string    `json:"display,omitempty"`
	Citation *Citation `json:"citation,omitempty"`
	Source   string    `json:"source,omitempty"`
	Term     string    `json:"term,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t SemanticText) MarshalJSON() ([]byte, error) {
	runs := make([]runJSON, 0, len(t))
	for _, r := range t {
		rj := runJSON{Kind: r.Kind()}
		switch v := r.(type) {
		case TextRun:
			rj.Text = v.Text
		case StyledRun:
			rj.Text = v.Text
		case RefRun:
			rj.Target, rj.Display = v.Target, v.Display
		case CiteRun:
			c := v.Citation
			rj.Citation = &c
		case MathRun:
			rj.Source = v.Source
		case IndexRun:
			rj.Term = v.Term
		case UnknownRun:
			rj.Text = v.Text
		default:
			rj.Text = r.Plain()
		}
		runs = append(runs, rj)
	}
	return json.Marshal(runs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *SemanticText) UnmarshalJSON(data []byte) error {
	var runs []runJSON
	if err := json.Unmarshal(data, &runs); err != nil {
		return err
	}
	out := make(SemanticText, 0, len(runs))
	for _, rj := range runs {
		switch {
		case rj.Kind == RunText:
			out = append(out, TextRun{Text: rj.Text})
		case rj.Kind.IsStyled():
			out = append(out, StyledRun{Style: rj.Kind, Text: rj.Text})
		case rj.Kind == RunCrossRef:
			out = append(out, RefRun{Target: rj.Target, Display: rj.Display})
		case rj.Kind == RunCitation && rj.Citation != nil:
			out = append(out, CiteRun{Citation: *rj.Citation})
		case rj.Kind == RunMath:
			out = append(out, MathRun{Source: rj.Source})
		case rj.Kind == RunIndex:
			out = append(out, IndexRun{Term: rj.Term})
		default:
			out = append(out, UnknownRun{Tag: string(rj.Kind), Text: rj.Text})
		}
	}
	*t = out
	return nil
}
