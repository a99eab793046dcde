// Package xml parses recognition-engine XML output and converts it into the
// loose object tree the notation normalizer walks.
//
// Security Notes:
//   - XXE (External Entity) attacks are mitigated by using Go's xml.Decoder
//     which doesn't fetch external entities by default, and Validate explicitly
//     disables entity expansion.
//   - The xmlquery library is used for parsing, which uses Go's encoding/xml
//     internally and inherits its security properties.
package xml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Tree keys used for attributes and mixed text, following the usual
// XML-to-object converter conventions.
const (
	AttrKey = "$"
	TextKey = "_"
)

// Document represents a parsed XML document.
type Document struct {
	root *xmlquery.Node
}

// Node represents an XML element.
type Node struct {
	node *xmlquery.Node
}

// ValidationResult contains the result of well-formedness checking.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Offset  int64
	Message string
}

// Parse parses XML data and returns a Document.
func Parse(data []byte) (*Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	return &Document{root: root}, nil
}

// Validate checks XML data for well-formedness.
//
// Security: entity expansion is disabled. Go's xml.Decoder does not fetch
// external entities by default, and internal entities are not expanded either.
func Validate(data []byte) ValidationResult {
	result := ValidationResult{Valid: true}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Entity = map[string]string{}
	// MusicXML exports regularly declare encodings other than UTF-8.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	for {
		_, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Offset:  decoder.InputOffset(),
				Message: err.Error(),
			})
			break
		}
	}

	return result
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

// CountLocal counts elements whose local name is name, ignoring namespace
// prefixes and case.
func (d *Document) CountLocal(name string) (int, error) {
	lower := strings.ToLower(name)
	expr := fmt.Sprintf(
		"count(//*[translate(local-name(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz') = '%s'])",
		lower)
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid xpath: %w", err)
	}
	v := compiled.Evaluate(xmlquery.CreateXPathNavigator(d.root))
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("xpath count returned %T", v)
	}
	return int(f), nil
}

// Tree converts the document into a loose object tree: a map with one key,
// the root element's qualified name.
func (d *Document) Tree() map[string]any {
	root := d.Root()
	if root == nil {
		return map[string]any{}
	}
	return map[string]any{root.QualifiedName(): root.Tree()}
}

// Name returns the element's local name.
func (n *Node) Name() string {
	if n.node == nil {
		return ""
	}
	return n.node.Data
}

// QualifiedName returns "prefix:local" when the element carries a prefix.
func (n *Node) QualifiedName() string {
	if n.node == nil {
		return ""
	}
	return qualified(n.node)
}

// Tree converts the element into its loose form:
//   - an element with neither attributes nor child elements becomes its trimmed text
//     (an empty element becomes ""),
//   - otherwise a map whose AttrKey entry holds the attributes, whose TextKey entry
//     holds non-blank text, and whose other entries hold child elements: a single
//     child as a value, repeated children as a []any in document order.
func (n *Node) Tree() any {
	return toTree(n.node)
}

func toTree(n *xmlquery.Node) any {
	var (
		text     strings.Builder
		children = map[string]any{}
		hasChild bool
	)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			hasChild = true
			name := qualified(c)
			v := toTree(c)
			// toTree never yields a slice, so a slice here means a repeated child.
			switch prev := children[name].(type) {
			case nil:
				children[name] = v
			case []any:
				children[name] = append(prev, v)
			default:
				children[name] = []any{prev, v}
			}
		case xmlquery.TextNode, xmlquery.CharDataNode:
			text.WriteString(c.Data)
		}
	}

	attrs := map[string]any{}
	for _, a := range n.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		attrs[a.Name.Local] = a.Value
	}

	trimmed := strings.TrimSpace(text.String())
	if !hasChild && len(attrs) == 0 {
		return trimmed
	}

	out := children
	if len(attrs) > 0 {
		out[AttrKey] = attrs
	}
	if trimmed != "" {
		out[TextKey] = trimmed
	}
	return out
}

func qualified(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}
	return n.Data
}
