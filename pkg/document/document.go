// Package document defines the in-memory representation of a MongoDB-style
// document used throughout the translation pipeline, plus the dot-path and
// JSON-path helpers every translator (C1-C7) depends on.
//
// BSON encode/decode itself — the wire codec — is an external collaborator
// per the specification; this package only defines the value shape the
// pipeline operates on and the handful of structural operations (path
// navigation, dedup, deep copy) that shape depends on.
package document

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Document is an ordered mapping from field name to value, matching BSON's
// field order semantics. Most of the pipeline is order-insensitive and uses
// Map for convenience; Document is kept for values that cross the wire in
// order (command replies, firstBatch entries).
type Document = bson.D

// M is the unordered form used internally by translators, mirroring
// go.mongodb.org/mongo-driver's bson.M convention used across the pack
// (teacher's postgres adapter, squall-chua-gmqb's Filter/BsonM).
type M = bson.M

// A is a BSON array value.
type A = bson.A

// ToMap converts an ordered Document to an M, merging duplicate keys with
// last-key-wins semantics (spec §4.1 "duplicate keys from the client are
// merged with last-key-wins before translation").
func ToMap(d Document) M {
	m := make(M, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

// ToDocument converts an M back to an ordered Document. Key order is not
// meaningful for an M, so the result order is Go's (randomized) map
// iteration order; callers that need stable output should sort first.
func ToDocument(m M) Document {
	d := make(Document, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

// DeepCopyMap returns a structural copy of m so that mutation of the
// returned value never aliases the caller's document. Nested maps and
// slices are copied recursively; scalar values are assigned by value.
func DeepCopyMap(m M) M {
	out := make(M, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case M:
		return DeepCopyMap(val)
	case map[string]interface{}:
		return DeepCopyMap(M(val))
	case bson.D:
		return ToDocument(DeepCopyMap(ToMap(val)))
	case A:
		out := make(A, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	case []interface{}:
		out := make(A, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// SplitPath splits a dot-notation field path into its segments. Numeric
// segments are left as strings; callers interpret them as array indices
// where the surrounding value is an array.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// IsArrayIndex reports whether a path segment denotes an array index, i.e.
// it parses as a non-negative integer.
func IsArrayIndex(segment string) (int, bool) {
	if segment == "" {
		return 0, false
	}
	n, err := strconv.Atoi(segment)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FieldToJSONPath derives the backend JSON-extract path for a dot-notation
// field path, per spec §4.1: "a.b.0.c" maps to "$.a.b[0].c" — numeric
// segments become bracketed indices.
func FieldToJSONPath(path string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range SplitPath(path) {
		if n, ok := IsArrayIndex(seg); ok {
			b.WriteString("[")
			b.WriteString(strconv.Itoa(n))
			b.WriteString("]")
		} else {
			b.WriteString(".")
			b.WriteString(seg)
		}
	}
	return b.String()
}

// JSONPathToField is the inverse of FieldToJSONPath, used by tests to
// verify the round-trip law in spec §8: "the inverse derivation maps back."
func JSONPathToField(jsonPath string) string {
	jsonPath = strings.TrimPrefix(jsonPath, "$")
	jsonPath = strings.TrimPrefix(jsonPath, ".")
	var out []string
	var cur strings.Builder
	i := 0
	for i < len(jsonPath) {
		c := jsonPath[i]
		switch c {
		case '.':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			i++
		case '[':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			end := strings.IndexByte(jsonPath[i:], ']')
			if end < 0 {
				i = len(jsonPath)
				break
			}
			out = append(out, jsonPath[i+1:i+end])
			i += end + 1
		default:
			cur.WriteByte(c)
			i++
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return strings.Join(out, ".")
}

// Get navigates m by dot-path and returns the value found, mirroring
// MongoDB's dotted-path read semantics: numeric segments index into arrays,
// any other segment indexes into a nested map.
func Get(m M, path string) (interface{}, bool) {
	segs := SplitPath(path)
	var cur interface{} = m
	for _, seg := range segs {
		switch v := cur.(type) {
		case M:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = val
		case map[string]interface{}:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = val
		case bson.D:
			found := false
			for _, e := range v {
				if e.Key == seg {
					cur = e.Value
					found = true
					break
				}
			}
			if !found {
				return nil, false
			}
		case A:
			idx, ok := IsArrayIndex(seg)
			if !ok || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		case []interface{}:
			idx, ok := IsArrayIndex(seg)
			if !ok || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at the dot-path in m, creating intermediate maps as
// needed (MongoDB's $set semantics for non-existent parents). Returns m for
// chaining; m is mutated in place.
func Set(m M, path string, value interface{}) M {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return m
	}
	cur := m
	for i := 0; i < len(segs)-1; i++ {
		seg := segs[i]
		next, ok := cur[seg]
		if !ok {
			nm := make(M)
			cur[seg] = nm
			cur = nm
			continue
		}
		switch v := next.(type) {
		case M:
			cur = v
		case map[string]interface{}:
			nm := M(v)
			cur[seg] = nm
			cur = nm
		default:
			nm := make(M)
			cur[seg] = nm
			cur = nm
		}
	}
	cur[segs[len(segs)-1]] = value
	return m
}

// Unset removes the dot-path from m, matching $unset semantics: a missing
// intermediate segment is a no-op, never an error.
func Unset(m M, path string) M {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return m
	}
	cur := m
	for i := 0; i < len(segs)-1; i++ {
		next, ok := cur[segs[i]]
		if !ok {
			return m
		}
		switch v := next.(type) {
		case M:
			cur = v
		case map[string]interface{}:
			cur = M(v)
		default:
			return m
		}
	}
	delete(cur, segs[len(segs)-1])
	return m
}

// Pair is one key/value entry of an ordered document walk.
type Pair struct {
	Key   string
	Value interface{}
}

// Pairs returns v's entries in field order when v is an ordered Document
// (bson.D, as produced by the BSON codec for wire-decoded command bodies),
// or in Go's unordered map iteration order when v is an M/map — callers
// that need deterministic field order (e.g. $sort, $project output shape)
// should be fed a Document from the wire layer; Pairs degrades gracefully
// rather than failing when only an M is available.
func Pairs(v interface{}) ([]Pair, bool) {
	switch t := v.(type) {
	case Document:
		out := make([]Pair, len(t))
		for i, e := range t {
			out[i] = Pair{Key: e.Key, Value: e.Value}
		}
		return out, true
	case M:
		out := make([]Pair, 0, len(t))
		for k, val := range t {
			out = append(out, Pair{Key: k, Value: val})
		}
		return out, true
	case map[string]interface{}:
		out := make([]Pair, 0, len(t))
		for k, val := range t {
			out = append(out, Pair{Key: k, Value: val})
		}
		return out, true
	default:
		return nil, false
	}
}

// IsOperatorDocument reports whether every key in m starts with "$", the
// tie-break spec §4.1 uses to distinguish an operator sub-document from an
// equality literal.
func IsOperatorDocument(m M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}
