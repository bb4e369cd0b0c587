// Package decode parses raw documents into the tree shape consumed by the
// flatten engine. The standard library's map-based JSON decoding would lose
// source key order, which the engine needs for stable column order, so the
// JSON decoder walks the token stream and builds ordered documents directly.
package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/wehubfusion/Procrustes/pkg/node"
)

// Parse decodes data in the named format. Recognized formats are "json",
// "yaml" and "yml" (case-insensitive).
func Parse(format string, data []byte) (node.Node, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return JSON(bytes.NewReader(data))
	case "yaml", "yml":
		return YAML(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// JSON decodes a single JSON document from r, preserving object key order.
// Numbers are kept as json.Number so values pass through without precision
// loss; the engine treats all leaf values as opaque anyway.
func JSON(r io.Reader) (node.Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	n, err := jsonValue(dec)
	if err != nil {
		return nil, err
	}

	if dec.More() {
		return nil, newDecodeError("json", "trailing data after document", nil)
	}
	return n, nil
}

func jsonValue(dec *json.Decoder) (node.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, newDecodeError("json", "unexpected end of input", nil)
		}
		return nil, newDecodeError("json", "invalid document", err)
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return jsonDocument(dec)
		case '[':
			return jsonArray(dec)
		default:
			return nil, newDecodeError("json", fmt.Sprintf("unexpected %q", t), nil)
		}
	default:
		return node.Scalar{Value: tok}, nil
	}
}

func jsonDocument(dec *json.Decoder) (node.Node, error) {
	doc := node.Document{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, newDecodeError("json", "invalid object key", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, newDecodeError("json", fmt.Sprintf("object key is not a string: %v", keyTok), nil)
		}

		value, err := jsonValue(dec)
		if err != nil {
			return nil, err
		}
		doc = append(doc, node.Entry{Key: key, Value: value})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, newDecodeError("json", "unterminated object", err)
	}
	return doc, nil
}

func jsonArray(dec *json.Decoder) (node.Node, error) {
	arr := node.Array{}
	for dec.More() {
		el, err := jsonValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, el)
	}

	// Consume the closing bracket.
	if _, err := dec.Token(); err != nil {
		return nil, newDecodeError("json", "unterminated array", err)
	}
	return arr, nil
}
