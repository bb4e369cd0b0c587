// Package flatten converts an arbitrarily nested tree of documents, arrays
// and scalars into a flat sequence of rows suitable for tabular output.
//
// Two combination rules do all the work. Elements of the same array are
// alternative branches of one logical record: each element produces its own
// rows and the results are concatenated ("explode"). Distinct keys of the
// same document are independent dimensions: their per-key alternatives are
// combined exhaustively by cross product. A record with 3 tags becomes 3
// rows; a record with 2 tags and 2 regions becomes 4.
//
// The transform is pure: no I/O, no shared state, deterministic output order.
// It is safe to call concurrently for independent inputs.
package flatten

import "github.com/wehubfusion/Procrustes/pkg/node"

// Flatten converts n into an ordered RowSet.
//
// Behavior by shape:
//   - Array: each element is flattened with the unchanged path and the
//     results are concatenated in element order. An empty array yields no
//     rows.
//   - Document: each key's value is flattened under the extended path to an
//     alternative set, and the per-key sets are folded together by cross
//     product, starting from a single empty row. An empty document yields
//     exactly one empty row; an empty alternative set for any key collapses
//     the whole document to no rows.
//   - Scalar: one row mapping the accumulated path to the value, or RootKey
//     when there is no accumulated path.
//
// The only possible error is a DepthError when WithMaxDepth is set and the
// input nests deeper; without a limit Flatten never fails.
func Flatten(n node.Node, opts ...Option) (RowSet, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return walk(n, o.RootPath, 0, o)
}

func walk(n node.Node, path string, depth int, o Options) (RowSet, error) {
	if o.MaxDepth > 0 && depth > o.MaxDepth {
		return nil, &DepthError{Path: path, Depth: o.MaxDepth}
	}

	switch v := n.(type) {
	case node.Array:
		out := RowSet{}
		for _, el := range v {
			rows, err := walk(el, path, depth+1, o)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		return out, nil

	case node.Document:
		acc := RowSet{NewRow()}
		for _, e := range v {
			alts, err := walk(e.Value, joinKey(path, e.Key, o.Separator), depth+1, o)
			if err != nil {
				return nil, err
			}
			acc = cross(acc, alts)
		}
		return acc, nil

	case node.Scalar:
		key := path
		if key == "" {
			key = RootKey
		}
		return RowSet{NewRow().With(key, v.Value)}, nil

	default:
		// A nil Node has no children; treat it as a nil scalar.
		key := path
		if key == "" {
			key = RootKey
		}
		return RowSet{NewRow().With(key, nil)}, nil
	}
}

// cross replaces the accumulator with every merge of an accumulated row and
// an alternative row. An empty alternative set annihilates the accumulator,
// matching cross-product-with-empty-factor semantics.
func cross(acc RowSet, alts RowSet) RowSet {
	out := make(RowSet, 0, len(acc)*len(alts))
	for _, base := range acc {
		for _, alt := range alts {
			out = append(out, base.merge(alt))
		}
	}
	return out
}

// joinKey extends the accumulated path with a document key. The bare key is
// used when the path is empty so root-level keys carry no leading separator.
func joinKey(path, key, sep string) string {
	if path == "" {
		return key
	}
	return path + sep + key
}
