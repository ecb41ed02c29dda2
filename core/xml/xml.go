// Package xml provides XML parsing, XPath queries and well-formedness
// checks for the canonical XML serialisation.
//
// Security Notes:
//   - Entity declarations in a DOCTYPE are rejected by Parse and reported
//     as security issues by Validate. Only the five predefined entities
//     are ever expanded.
//   - The xmlquery library is used for parsing, which uses Go's encoding/xml
//     internally and never fetches external resources.
package xml

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/edudoc/core/errors"
)

// DefaultMaxDepth bounds element nesting accepted by Validate.
const DefaultMaxDepth = 256

// Document represents a parsed XML document.
type Document struct {
	root *xmlquery.Node
}

// Node represents an XML node (element, text or character data).
type Node struct {
	node *xmlquery.Node
}

// Parse parses XML data and returns a Document.
func Parse(data []byte) (*Document, error) {
	if hasEntityDecl(data) {
		return nil, errors.NewSecurity("xml", "<!ENTITY", bytes.Index(data, []byte("<!ENTITY")))
	}
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewParse("xml", "", err.Error())
	}
	return &Document{root: root}, nil
}

func hasEntityDecl(data []byte) bool {
	return bytes.Contains(data, []byte("<!DOCTYPE")) && bytes.Contains(data, []byte("<!ENTITY"))
}

// Validate checks well-formedness and reports issues with line and column.
// Nesting deeper than maxDepth (zero means DefaultMaxDepth) is reported
// and stops the check.
func Validate(data []byte, maxDepth int) errors.Issues {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	var issues errors.Issues
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Entity = map[string]string{}

	depth, roots := 0, 0
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		line, col := decoder.InputPos()
		if err != nil {
			issues = append(issues, errors.Invalidf(errors.CodeMalformed, "%s", stripPrefix(err.Error())).At(line, col))
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
			if depth > maxDepth {
				issues = append(issues, errors.Invalidf(errors.CodeScanLimit, "element nesting exceeds %d", maxDepth).At(line, col))
				return issues
			}
		case xml.EndElement:
			depth--
		case xml.Directive:
			if strings.Contains(string(t), "<!ENTITY") {
				issues = append(issues, errors.Unsafef(errors.CodeEntityDecl, "entity declarations are not allowed").At(line, col))
			}
		case xml.ProcInst:
			if t.Target != "xml" {
				issues = append(issues, errors.Warnf(errors.CodeUnknownElement, "processing instruction %q ignored", t.Target).At(line, col))
			}
		}
	}
	if roots == 0 && len(issues) == 0 {
		issues = append(issues, errors.Invalidf(errors.CodeMalformed, "no root element"))
	}
	return issues
}

func stripPrefix(msg string) string {
	if i := strings.Index(msg, ": "); i >= 0 && strings.HasPrefix(msg, "XML syntax error") {
		return msg[i+2:]
	}
	return msg
}

// Root returns the root element of the document.
func (d *Document) Root() *Node {
	if d.root == nil {
		return nil
	}
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return &Node{node: child}
		}
	}
	return nil
}

// XPath executes an XPath query and returns matching nodes.
func (d *Document) XPath(expr string) ([]*Node, error) {
	return query(d.root, expr)
}

// XPathFirst executes an XPath query and returns the first matching node,
// or nil.
func (d *Document) XPathFirst(expr string) (*Node, error) {
	nodes, err := query(d.root, expr)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// XPath runs a query relative to n.
func (n *Node) XPath(expr string) ([]*Node, error) {
	return query(n.node, expr)
}

func query(top *xmlquery.Node, expr string) ([]*Node, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "invalid xpath %q: %v", expr, err)
	}
	nodes := xmlquery.QuerySelectorAll(top, compiled)
	result := make([]*Node, len(nodes))
	for i, n := range nodes {
		result[i] = &Node{node: n}
	}
	return result, nil
}

// Serialize converts the document back to XML bytes.
func (d *Document) Serialize() []byte {
	if d.root == nil {
		return nil
	}
	return []byte(d.root.OutputXML(true))
}

// Name returns the element name without prefix.
func (n *Node) Name() string {
	if n.node == nil || n.node.Type != xmlquery.ElementNode {
		return ""
	}
	return n.node.Data
}

// IsElement reports whether n is an element.
func (n *Node) IsElement() bool {
	return n.node != nil && n.node.Type == xmlquery.ElementNode
}

// IsText reports whether n is text or character data.
func (n *Node) IsText() bool {
	return n.node != nil && (n.node.Type == xmlquery.TextNode || n.node.Type == xmlquery.CharDataNode)
}

// Data returns the raw text of a text node.
func (n *Node) Data() string {
	if !n.IsText() {
		return ""
	}
	return n.node.Data
}

// Text returns all text content of the node and its descendants.
func (n *Node) Text() string {
	if n.node == nil {
		return ""
	}
	return n.node.InnerText()
}

// InnerXML returns the inner XML of the node.
func (n *Node) InnerXML() string {
	if n.node == nil {
		return ""
	}
	var buf bytes.Buffer
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		buf.WriteString(child.OutputXML(true))
	}
	return buf.String()
}

// Children returns the child element nodes.
func (n *Node) Children() []*Node {
	var children []*Node
	for _, c := range n.Nodes() {
		if c.IsElement() {
			children = append(children, c)
		}
	}
	return children
}

// Nodes returns element, text and character-data children in order.
// Comments and processing instructions are skipped.
func (n *Node) Nodes() []*Node {
	if n.node == nil {
		return nil
	}
	var out []*Node
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case xmlquery.ElementNode, xmlquery.TextNode, xmlquery.CharDataNode:
			out = append(out, &Node{node: child})
		}
	}
	return out
}

// Child returns the first child element with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Attributes returns all attributes of the node.
func (n *Node) Attributes() map[string]string {
	if n.node == nil {
		return nil
	}
	attrs := make(map[string]string, len(n.node.Attr))
	for _, attr := range n.node.Attr {
		attrs[attr.Name.Local] = attr.Value
	}
	return attrs
}

// Attr returns the value of a specific attribute.
func (n *Node) Attr(name string) string {
	if n.node == nil {
		return ""
	}
	return n.node.SelectAttr(name)
}
