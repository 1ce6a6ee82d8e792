package types

import "encoding/json"

// Document is an open JSON-like object. Thread metadata, checkpoint values,
// run inputs, and store values are all Documents: a fixed set of recognized
// fields lives on the typed structs, everything else travels in the bag.
type Document map[string]any

// Clone returns a shallow copy of the document. A nil document clones to an
// empty, non-nil document so callers can write into the result.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge applies patch onto the document field-wise and returns the result.
// A nil value for a key deletes that key; all other keys are preserved.
// The receiver is not modified.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Equal reports whether two documents have the same JSON encoding of every
// key. It is used for exact metadata matching in thread search.
func (d Document) Equal(other Document) bool {
	if len(d) != len(other) {
		return false
	}
	for k, v := range d {
		ov, ok := other[k]
		if !ok || !jsonEqual(v, ov) {
			return false
		}
	}
	return true
}

// Contains reports whether every key in want is present in the document with
// an equal value.
func (d Document) Contains(want Document) bool {
	for k, v := range want {
		got, ok := d[k]
		if !ok || !jsonEqual(got, v) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
