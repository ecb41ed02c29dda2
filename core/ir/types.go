package ir

// types.go - Canonical document tree type definitions.
// All format backends import these types from core/ir rather than defining their own.

// CurrentVersion is the newest format version tag this module writes.
const CurrentVersion = "1.0"

// Direction is the base text direction of a document or block.
type Direction string

// Direction constants.
const (
	DirectionLTR  Direction = "ltr"
	DirectionRTL  Direction = "rtl"
	DirectionAuto Direction = "auto"
)

// IsValid returns true if the direction is empty or one of the known values.
func (d Direction) IsValid() bool {
	switch d {
	case "", DirectionLTR, DirectionRTL, DirectionAuto:
		return true
	}
	return false
}

// Document is the root of the canonical tree.
type Document struct {
	// Version is the format version tag (e.g., "1.0"). It decides which
	// vocabulary is legal; enforcement belongs to the structure validator.
	Version string `json:"version"`

	// Metadata holds bibliographic metadata.
	Metadata Metadata `json:"metadata"`

	// Subject is the optional subject classification.
	Subject *Subject `json:"subject,omitempty"`

	// Language is the BCP-47 language tag (e.g., "en", "ar").
	Language string `json:"language,omitempty"`

	// Direction is the base text direction.
	Direction Direction `json:"direction,omitempty"`

	// FrontMatter holds abstract, preface and similar material.
	FrontMatter *Matter `json:"front_matter,omitempty"`

	// Body is required and always non-nil for documents built by this module.
	Body *Matter `json:"body"`

	// BackMatter holds appendices and similar material.
	BackMatter *Matter `json:"back_matter,omitempty"`

	// Bibliography holds the entries cited by the document.
	Bibliography []*BibliographyEntry `json:"bibliography,omitempty"`
}

// NewDocument returns a document with the given version tag and an empty body.
func NewDocument(version string) *Document {
	if version == "" {
		version = CurrentVersion
	}
	return &Document{Version: version, Body: &Matter{}}
}

// Metadata is bibliographic metadata.
type Metadata struct {
	Title    string   `json:"title,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Date     string   `json:"date,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Subject classifies a document.
type Subject struct {
	// Scheme is the classification scheme (e.g., "MSC2020", "ISCED").
	Scheme string `json:"scheme,omitempty"`

	// Codes are classification codes within the scheme.
	Codes []string `json:"codes,omitempty"`

	// Level is the educational level (e.g., "undergraduate").
	Level string `json:"level,omitempty"`
}

// Matter is an ordered sequence of nodes (front matter, body or back matter).
type Matter struct {
	Children Nodes `json:"children"`
}

// Append adds nodes at the end of the matter.
func (m *Matter) Append(nodes ...Node) {
	m.Children = append(m.Children, nodes...)
}

// Len returns the number of direct children.
func (m *Matter) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Children)
}

// Node is either a *Container or a *Block.
type Node interface {
	NodeID() string
	isNode()
}

// Nodes is an ordered list of tree nodes.
type Nodes []Node

// ContainerKind is the structural variant of a container.
type ContainerKind string

// Container kind constants, from outermost to innermost.
const (
	KindDivision ContainerKind = "division"
	KindChapter  ContainerKind = "chapter"
	KindSection  ContainerKind = "section"
)

// IsValid returns true if the kind is one of the known variants.
func (k ContainerKind) IsValid() bool {
	switch k {
	case KindDivision, KindChapter, KindSection:
		return true
	}
	return false
}

// Rank returns 0 for divisions, 1 for chapters, 2 for sections and -1 otherwise.
func (k ContainerKind) Rank() int {
	switch k {
	case KindDivision:
		return 0
	case KindChapter:
		return 1
	case KindSection:
		return 2
	default:
		return -1
	}
}

// Container is a structural container: a division, chapter or section.
type Container struct {
	// ID is the unique identifier within the document.
	ID string `json:"id"`

	// Kind is explicit in the canonical tree; formats that do not tag it
	// infer it in their parser.
	Kind ContainerKind `json:"kind"`

	// Label is an optional human label (e.g., "Chapter 3").
	Label string `json:"label,omitempty"`

	// Title is the container heading.
	Title SemanticText `json:"title,omitempty"`

	// Children are nested containers or blocks in document order.
	Children Nodes `json:"children,omitempty"`

	// Hints apply to the container and, depending on their inheritance
	// mode, to its descendants.
	Hints []RenderingHint `json:"hints,omitempty"`
}

// NodeID implements Node.
func (c *Container) NodeID() string { return c.ID }

func (c *Container) isNode() {}

// Append adds nodes at the end of the container.
func (c *Container) Append(nodes ...Node) {
	c.Children = append(c.Children, nodes...)
}

// Block is a content unit.
type Block struct {
	// ID is the unique identifier within the document.
	ID string `json:"id"`

	// Content is the type-specific payload. Its BlockType is the block type.
	Content Payload `json:"content"`

	// Language overrides the document language for this block.
	Language string `json:"language,omitempty"`

	// Direction overrides the document direction for this block.
	Direction Direction `json:"direction,omitempty"`

	// Hints are advisory presentation annotations.
	Hints []RenderingHint `json:"hints,omitempty"`
}

// NewBlock returns a block with the given id and payload.
func NewBlock(id string, content Payload) *Block {
	return &Block{ID: id, Content: content}
}

// NodeID implements Node.
func (b *Block) NodeID() string { return b.ID }

func (b *Block) isNode() {}

// Type returns the block type identifier. A block without a payload reports
// an empty Unknown type.
func (b *Block) Type() BlockType {
	if b.Content == nil {
		return ""
	}
	return b.Content.BlockType()
}

// BlockType is an open-vocabulary block type key.
type BlockType string

// Block types modeled by this package.
const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockList      BlockType = "list"
	BlockTable     BlockType = "table"
	BlockFigure    BlockType = "figure"
	BlockMath      BlockType = "math"
	BlockCode      BlockType = "code"
	BlockQuote     BlockType = "quote"
)

// knownBlockTypes is the set of block types with a dedicated payload.
var knownBlockTypes = map[BlockType]bool{
	BlockParagraph: true,
	BlockHeading:   true,
	BlockList:      true,
	BlockTable:     true,
	BlockFigure:    true,
	BlockMath:      true,
	BlockCode:      true,
	BlockQuote:     true,
}

// IsKnown returns true if the block type has a dedicated payload.
func (t BlockType) IsKnown() bool {
	return knownBlockTypes[t]
}

// Payload is the sum type of block contents.
type Payload interface {
	BlockType() BlockType
	isPayload()
}

// Paragraph is a run of prose.
type Paragraph struct {
	Text SemanticText `json:"text"`
}

// Heading is a free-standing heading inside a container, below the
// container's own title level.
type Heading struct {
	Level int          `json:"level"`
	Text  SemanticText `json:"text"`
}

// List is an ordered or unordered list.
type List struct {
	Ordered bool       `json:"ordered,omitempty"`
	Start   int        `json:"start,omitempty"`
	Items   []ListItem `json:"items"`
}

// ListItem is one list entry, optionally with a nested list.
type ListItem struct {
	Text    SemanticText `json:"text"`
	Sublist *List        `json:"sublist,omitempty"`
}

// Table is a simple grid with an optional header row.
type Table struct {
	Caption SemanticText     `json:"caption,omitempty"`
	Header  []SemanticText   `json:"header,omitempty"`
	Rows    [][]SemanticText `json:"rows"`
}

// Figure is an image with a caption.
type Figure struct {
	Source  string       `json:"source"`
	Caption SemanticText `json:"caption,omitempty"`
	Alt     string       `json:"alt,omitempty"`
	Width   string       `json:"width,omitempty"`
}

// MathBlock is displayed mathematics.
type MathBlock struct {
	Expr MathExpression `json:"expr"`
}

// Code is preformatted source code.
type Code struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// Quote is a block quotation.
type Quote struct {
	Text        SemanticText `json:"text"`
	Attribution string       `json:"attribution,omitempty"`
}

// Unknown carries a block type this package does not model. Raw holds the
// payload as received (JSON for the canonical codec, source text otherwise).
type Unknown struct {
	RawType string `json:"raw_type"`
	Raw     string `json:"raw,omitempty"`
}

func (*Paragraph) BlockType() BlockType { return BlockParagraph }
func (*Heading) BlockType() BlockType   { return BlockHeading }
func (*List) BlockType() BlockType      { return BlockList }
func (*Table) BlockType() BlockType     { return BlockTable }
func (*Figure) BlockType() BlockType    { return BlockFigure }
func (*MathBlock) BlockType() BlockType { return BlockMath }
func (*Code) BlockType() BlockType      { return BlockCode }
func (*Quote) BlockType() BlockType     { return BlockQuote }
func (u *Unknown) BlockType() BlockType { return BlockType(u.RawType) }

func (*Paragraph) isPayload() {}
func (*Heading) isPayload()   {}
func (*List) isPayload()      {}
func (*Table) isPayload()     {}
func (*Figure) isPayload()    {}
func (*MathBlock) isPayload() {}
func (*Code) isPayload()      {}
func (*Quote) isPayload()     {}
func (*Unknown) isPayload()   {}
