package flatten

// Row is a single flat record: flat key -> scalar value. Key order is
// preserved from insertion so downstream consumers can derive a stable
// column order from it.
type Row struct {
	keys []string
	vals map[string]interface{}
}

// NewRow returns an empty row.
func NewRow() Row {
	return Row{vals: make(map[string]interface{})}
}

// Len returns the number of keys in the row.
func (r Row) Len() int { return len(r.keys) }

// Keys returns the row's keys in insertion order. The returned slice is a
// copy and safe to modify.
func (r Row) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

// Get returns the value for key and whether the key is present.
func (r Row) Get(key string) (interface{}, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Map returns the row as a plain map. Key order is lost; use Keys for order.
// The returned map is a copy and safe to modify.
func (r Row) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.vals))
	for k, v := range r.vals {
		m[k] = v
	}
	return m
}

// With returns a copy of the row with key set to value. Setting an existing
// key replaces its value without changing its position. The receiver is
// never modified.
func (r Row) With(key string, value interface{}) Row {
	out := Row{
		keys: make([]string, len(r.keys), len(r.keys)+1),
		vals: make(map[string]interface{}, len(r.vals)+1),
	}
	copy(out.keys, r.keys)
	for k, v := range r.vals {
		out.vals[k] = v
	}
	if _, exists := out.vals[key]; !exists {
		out.keys = append(out.keys, key)
	}
	out.vals[key] = value
	return out
}

// merge returns a new row holding the receiver's pairs followed by other's
// pairs. On key collision other wins, keeping the receiver's key position.
func (r Row) merge(other Row) Row {
	out := Row{
		keys: make([]string, len(r.keys), len(r.keys)+len(other.keys)),
		vals: make(map[string]interface{}, len(r.vals)+len(other.vals)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.vals {
		out.vals[k] = v
	}
	for _, k := range other.keys {
		if _, exists := out.vals[k]; !exists {
			out.keys = append(out.keys, k)
		}
		out.vals[k] = other.vals[k]
	}
	return out
}

// RowSet is an ordered sequence of rows. It is never sorted or deduplicated;
// order is derived from document key order and array element order.
type RowSet []Row
