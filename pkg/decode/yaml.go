package decode

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/Procrustes/pkg/node"
)

// YAML decodes a single YAML document, preserving mapping key order. The
// intermediate yaml.Node representation is used because it keeps mapping
// entries in source order, unlike decoding into a Go map.
func YAML(data []byte) (node.Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, newDecodeError("yaml", "invalid document", err)
	}

	// An empty input produces a zero node with no content.
	if root.Kind == 0 || len(root.Content) == 0 {
		return node.Scalar{Value: nil}, nil
	}

	return fromYAML(root.Content[0])
}

func fromYAML(n *yaml.Node) (node.Node, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return node.Scalar{Value: nil}, nil
		}
		return fromYAML(n.Content[0])

	case yaml.MappingNode:
		doc := make(node.Document, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			value, err := fromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			doc = append(doc, node.Entry{Key: n.Content[i].Value, Value: value})
		}
		return doc, nil

	case yaml.SequenceNode:
		arr := make(node.Array, 0, len(n.Content))
		for _, el := range n.Content {
			value, err := fromYAML(el)
			if err != nil {
				return nil, err
			}
			arr = append(arr, value)
		}
		return arr, nil

	case yaml.ScalarNode:
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return nil, newDecodeError("yaml", fmt.Sprintf("invalid scalar at line %d", n.Line), err)
		}
		return node.Scalar{Value: v}, nil

	case yaml.AliasNode:
		return fromYAML(n.Alias)

	default:
		return nil, newDecodeError("yaml", fmt.Sprintf("unsupported node kind %d at line %d", n.Kind, n.Line), nil)
	}
}
