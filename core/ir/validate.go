package ir

import (
	"fmt"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// newValidationError creates a new ValidationError.
func newValidationError(path, message string) error {
	return &ValidationError{Path: path, Message: message}
}

// StructureValidator checks a document against the structural rules of a
// version tag. Version-specific rule catalogs live outside this module and
// plug in through this interface.
type StructureValidator interface {
	ValidateStructure(doc *Document, version string) (bool, []error)
}

// StructureValidatorFunc adapts a function to StructureValidator.
type StructureValidatorFunc func(doc *Document, version string) (bool, []error)

// ValidateStructure implements StructureValidator.
func (f StructureValidatorFunc) ValidateStructure(doc *Document, version string) (bool, []error) {
	return f(doc, version)
}

// DefaultStructureValidator runs the version-independent checks of
// ValidateDocument and rejects an empty version tag.
var DefaultStructureValidator StructureValidator = StructureValidatorFunc(func(doc *Document, version string) (bool, []error) {
	errs := ValidateDocument(doc)
	if version == "" {
		errs = append(errs, newValidationError("document.version", "version tag is required"))
	}
	return len(errs) == 0, errs
})

// ValidateDocument validates the version-independent invariants of a
// document and returns all validation errors.
func ValidateDocument(d *Document) []error {
	var errs []error
	if d == nil {
		return []error{newValidationError("document", "document is nil")}
	}
	if d.Body == nil {
		errs = append(errs, newValidationError("document.body", "Body is required"))
	}
	if !d.Direction.IsValid() {
		errs = append(errs, newValidationError("document.direction",
			fmt.Sprintf("invalid Direction: %q", d.Direction)))
	}

	seen := make(map[string]string)
	check := func(path, id string) {
		if id == "" {
			errs = append(errs, newValidationError(path, "ID is required"))
			return
		}
		if prev, dup := seen[id]; dup {
			errs = append(errs, newValidationError(path,
				fmt.Sprintf("duplicate ID %q (first used at %s)", id, prev)))
			return
		}
		seen[id] = path
	}

	names := []string{"front_matter", "body", "back_matter"}
	for i, m := range []*Matter{d.FrontMatter, d.Body, d.BackMatter} {
		if m == nil {
			continue
		}
		errs = append(errs, validateNodes(names[i], m.Children, check)...)
	}

	bibIDs := make(map[string]bool, len(d.Bibliography))
	for i, e := range d.Bibliography {
		path := fmt.Sprintf("bibliography[%d]", i)
		if e == nil || e.ID == "" {
			errs = append(errs, newValidationError(path, "ID is required"))
			continue
		}
		if bibIDs[e.ID] {
			errs = append(errs, newValidationError(path,
				fmt.Sprintf("duplicate entry %q", e.ID)))
		}
		bibIDs[e.ID] = true
		if e.Type == "" {
			errs = append(errs, newValidationError(path+".type", "Type is required"))
		}
	}
	return errs
}

func validateNodes(path string, nodes Nodes, check func(path, id string)) []error {
	var errs []error
	for i, n := range nodes {
		p := fmt.Sprintf("%s[%d]", path, i)
		switch v := n.(type) {
		case *Container:
			check(p, v.ID)
			if !v.Kind.IsValid() {
				errs = append(errs, newValidationError(p+".kind",
					fmt.Sprintf("invalid ContainerKind: %q", v.Kind)))
			}
			errs = append(errs, validateHints(p, v.Hints)...)
			errs = append(errs, validateNodes(p+".children", v.Children, check)...)
		case *Block:
			check(p, v.ID)
			errs = append(errs, ValidateBlock(v)...)
		case nil:
			errs = append(errs, newValidationError(p, "nil node"))
		}
	}
	return errs
}

// ValidateBlock validates a single block's payload.
func ValidateBlock(b *Block) []error {
	var errs []error
	if b.Content == nil {
		errs = append(errs, newValidationError("block."+b.ID, "Content is required"))
		return errs
	}
	if !b.Direction.IsValid() {
		errs = append(errs, newValidationError("block."+b.ID+".direction",
			fmt.Sprintf("invalid Direction: %q", b.Direction)))
	}
	switch p := b.Content.(type) {
	case *Heading:
		if p.Level < 1 || p.Level > 6 {
			errs = append(errs, newValidationError("block."+b.ID+".level",
				"Level must be between 1 and 6"))
		}
	case *MathBlock:
		if !p.Expr.Kind.IsValid() {
			errs = append(errs, newValidationError("block."+b.ID+".expr.kind",
				fmt.Sprintf("invalid MathKind: %q", p.Expr.Kind)))
		}
		if p.Expr.Kind == MathEnvironment && p.Expr.Environment == "" {
			errs = append(errs, newValidationError("block."+b.ID+".expr.environment",
				"Environment is required for environment math"))
		}
	case *Figure:
		if p.Source == "" {
			errs = append(errs, newValidationError("block."+b.ID+".source",
				"Source is required"))
		}
	case *Table:
		width := len(p.Header)
		for i, row := range p.Rows {
			if width > 0 && len(row) > width {
				errs = append(errs, newValidationError(
					fmt.Sprintf("block.%s.rows[%d]", b.ID, i),
					"row is wider than the header"))
			}
		}
	case *Unknown:
		if p.RawType == "" {
			errs = append(errs, newValidationError("block."+b.ID+".type",
				"block type is required"))
		}
	}
	errs = append(errs, validateHints("block."+b.ID, b.Hints)...)
	return errs
}

func validateHints(path string, hints []RenderingHint) []error {
	var errs []error
	for i, h := range hints {
		p := fmt.Sprintf("%s.hints[%d]", path, i)
		if h.Type == "" {
			errs = append(errs, newValidationError(p, "Type is required"))
		}
		switch h.Mode() {
		case InheritNone, InheritChildren, InheritCascade:
		default:
			errs = append(errs, newValidationError(p+".inheritance",
				fmt.Sprintf("invalid inheritance mode: %q", h.Inheritance)))
		}
	}
	return errs
}

// ValidateLossReport validates a LossReport and returns all validation errors.
func ValidateLossReport(lr *LossReport) []error {
	var errs []error

	if lr.SourceFormat == "" {
		errs = append(errs, newValidationError("loss_report",
			"SourceFormat is required"))
	}

	if lr.TargetFormat == "" {
		errs = append(errs, newValidationError("loss_report",
			"TargetFormat is required"))
	}

	if lr.LossClass != "" && !lr.LossClass.IsValid() {
		errs = append(errs, newValidationError("loss_report.loss_class",
			fmt.Sprintf("invalid LossClass: %q", lr.LossClass)))
	}

	return errs
}

// IsValid returns true if the document has no validation errors.
func IsValid(d *Document) bool {
	return len(ValidateDocument(d)) == 0
}
