// Package node defines the tree shape consumed by the flatten engine.
//
// A tree is built from exactly three shapes: Scalar (a leaf holding any
// value), Document (an ordered key/value collection), and Array (an ordered
// list). Documents are deliberately not Go maps: map iteration order is
// randomized, while the engine derives output column order from the order
// keys appear in the source document.
package node

import "sort"

// Kind identifies the shape of a Node.
type Kind int

const (
	// KindScalar is a leaf value with no children.
	KindScalar Kind = iota

	// KindDocument is an ordered key -> Node collection with unique keys.
	KindDocument

	// KindArray is an ordered list of nodes.
	KindArray
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindDocument:
		return "document"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Node is one value in an input tree: a Scalar, a Document, or an Array.
// The set of implementations is closed; consumers switch exhaustively on the
// concrete type (or on Kind).
type Node interface {
	Kind() Kind
}

// Scalar wraps a leaf value. The value is opaque to the engine: nil, numbers,
// strings, booleans and anything else pass through unchanged.
type Scalar struct {
	Value interface{}
}

// Kind implements Node.
func (Scalar) Kind() Kind { return KindScalar }

// Entry is a single key/value pair inside a Document.
type Entry struct {
	Key   string
	Value Node
}

// Document is an ordered collection of key/value entries. Keys are unique and
// iteration order is the source order of the parsed document.
type Document []Entry

// Kind implements Node.
func (Document) Kind() Kind { return KindDocument }

// Get returns the value for key and whether the key is present.
func (d Document) Get(key string) (Node, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Keys returns the document keys in iteration order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}

// Array is an ordered list of nodes.
type Array []Node

// Kind implements Node.
func (Array) Kind() Kind { return KindArray }

// S wraps a value as a Scalar.
func S(value interface{}) Scalar { return Scalar{Value: value} }

// E builds a Document entry.
func E(key string, value Node) Entry { return Entry{Key: key, Value: value} }

// Doc builds a Document from entries, preserving their order.
func Doc(entries ...Entry) Document { return Document(entries) }

// Arr builds an Array from elements, preserving their order.
func Arr(elements ...Node) Array { return Array(elements) }

// FromValue converts an already-decoded Go value (the shape produced by
// encoding/json into interface{}) into a Node. Maps are converted with their
// keys sorted lexically: Go maps have no source order to preserve, and sorted
// keys at least make the result deterministic. Decoders that can see the
// source order should build Documents directly instead.
func FromValue(v interface{}) Node {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc := make(Document, 0, len(keys))
		for _, k := range keys {
			doc = append(doc, Entry{Key: k, Value: FromValue(val[k])})
		}
		return doc
	case []interface{}:
		arr := make(Array, 0, len(val))
		for _, el := range val {
			arr = append(arr, FromValue(el))
		}
		return arr
	case Node:
		return val
	default:
		return Scalar{Value: v}
	}
}
