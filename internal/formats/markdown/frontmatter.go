package markdown

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/edudoc/core/biblio"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// frontMatter is the YAML metadata block at the top of a document. Field
// names follow the pandoc conventions; references hold CSL items.
type frontMatter struct {
	Title        string           `yaml:"title,omitempty"`
	Author       stringList       `yaml:"author,omitempty"`
	Date         string           `yaml:"date,omitempty"`
	Keywords     stringList       `yaml:"keywords,omitempty"`
	Lang         string           `yaml:"lang,omitempty"`
	Dir          string           `yaml:"dir,omitempty"`
	Subject      *ir.Subject      `yaml:"subject,omitempty"`
	Version      string           `yaml:"edudoc-version,omitempty"`
	Bibliography stringList       `yaml:"bibliography,omitempty"`
	References   []map[string]any `yaml:"references,omitempty"`
}

// stringList accepts a scalar or a sequence. Sequence items may be maps
// with a name, or with family and given names.
type stringList []string

func (l *stringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if v := strings.TrimSpace(n.Value); v != "" {
			*l = stringList{v}
		}
		return nil
	case yaml.SequenceNode:
		for _, c := range n.Content {
			switch c.Kind {
			case yaml.ScalarNode:
				if v := strings.TrimSpace(c.Value); v != "" {
					*l = append(*l, v)
				}
			case yaml.MappingNode:
				var m struct {
					Name    string `yaml:"name"`
					Literal string `yaml:"literal"`
					Family  string `yaml:"family"`
					Given   string `yaml:"given"`
				}
				if err := c.Decode(&m); err != nil {
					return err
				}
				switch {
				case m.Name != "":
					*l = append(*l, m.Name)
				case m.Literal != "":
					*l = append(*l, m.Literal)
				case m.Family != "":
					*l = append(*l, strings.TrimSpace(m.Given+" "+m.Family))
				}
			default:
				return fmt.Errorf("line %d: unexpected list item", c.Line)
			}
		}
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list", n.Line)
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// body. It returns the YAML text, the body and the body's offset.
func splitFrontMatter(s string, maxSpan int) (yamlText, body string, offset int, ok bool) {
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return "", s, 0, false
	}
	start := strings.IndexByte(s, '\n') + 1
	for i := start; i < len(s) && i-start <= maxSpan; {
		e := strings.IndexByte(s[i:], '\n')
		line := s[i:]
		next := len(s)
		if e >= 0 {
			line = s[i : i+e]
			next = i + e + 1
		}
		switch strings.TrimRight(line, " \t\r") {
		case "---", "...":
			if i == start {
				return "", s, 0, false
			}
			return s[start:i], s[next:], next, true
		}
		i = next
	}
	return "", s, 0, false
}

// decodeFrontMatter parses YAML metadata.
func decodeFrontMatter(src string) (*frontMatter, error) {
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(src), &fm); err != nil {
		return nil, err
	}
	return &fm, nil
}

// apply copies metadata onto the document.
func (fm *frontMatter) apply(doc *ir.Document) {
	doc.Metadata.Title = strings.TrimSpace(fm.Title)
	doc.Metadata.Authors = []string(fm.Author)
	doc.Metadata.Date = strings.TrimSpace(fm.Date)
	if len(fm.Keywords) == 1 && strings.Contains(fm.Keywords[0], ",") {
		fm.Keywords = strings.Split(fm.Keywords[0], ",")
	}
	for _, k := range fm.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			doc.Metadata.Keywords = append(doc.Metadata.Keywords, k)
		}
	}
	doc.Language = strings.TrimSpace(fm.Lang)
	if d := ir.Direction(strings.ToLower(strings.TrimSpace(fm.Dir))); d != "" && d.IsValid() {
		doc.Direction = d
	}
	doc.Subject = fm.Subject
	if fm.Version != "" {
		doc.Version = fm.Version
	}
}

// entries converts CSL references. YAML maps are bridged through JSON so
// the CSL codec in biblio decodes them.
func (fm *frontMatter) entries() ([]*ir.BibliographyEntry, []error) {
	var out []*ir.BibliographyEntry
	var errs []error
	for i, ref := range fm.References {
		data, err := json.Marshal(ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("reference %d: %w", i+1, err))
			continue
		}
		var item biblio.CSLItem
		if err := json.Unmarshal(data, &item); err != nil {
			errs = append(errs, fmt.Errorf("reference %d: %w", i+1, err))
			continue
		}
		if item.ID == "" {
			errs = append(errs, fmt.Errorf("reference %d has no id", i+1))
			continue
		}
		out = append(out, biblio.FromCSL(item))
	}
	return out, errs
}

// newFrontMatter collects the document metadata for rendering.
func newFrontMatter(doc *ir.Document, references bool) (*frontMatter, error) {
	fm := &frontMatter{
		Title:    doc.Metadata.Title,
		Author:   stringList(doc.Metadata.Authors),
		Date:     doc.Metadata.Date,
		Keywords: stringList(doc.Metadata.Keywords),
		Lang:     doc.Language,
		Subject:  doc.Subject,
	}
	if doc.Direction != "" && doc.Direction != ir.DirectionLTR {
		fm.Dir = string(doc.Direction)
	}
	if doc.Version != "" && doc.Version != ir.CurrentVersion {
		fm.Version = doc.Version
	}
	if references {
		for _, e := range doc.Bibliography {
			if e == nil {
				continue
			}
			data, err := json.Marshal(biblio.ToCSL(e))
			if err != nil {
				return nil, err
			}
			var m map[string]any
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, err
			}
			fm.References = append(fm.References, m)
		}
	}
	return fm, nil
}

func (fm *frontMatter) empty() bool {
	return fm.Title == "" && len(fm.Author) == 0 && fm.Date == "" && len(fm.Keywords) == 0 &&
		fm.Lang == "" && fm.Dir == "" && fm.Subject == nil && fm.Version == "" && len(fm.References) == 0
}

// encode writes the delimited YAML block.
func (fm *frontMatter) encode() (string, error) {
	data, err := yaml.Marshal(fm)
	if err != nil {
		return "", err
	}
	return "---\n" + string(data) + "---\n\n", nil
}
