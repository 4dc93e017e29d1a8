package query

import (
	"fmt"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// Parse turns a filter document into a Node tree. filter is expected as a
// document.M (duplicate keys already merged last-key-wins by the caller's
// document.ToMap conversion, per spec §4.1).
func Parse(filter document.M) (Node, error) {
	if len(filter) == 0 {
		return True{}, nil
	}
	children := make([]Node, 0, len(filter))
	for key, value := range filter {
		node, err := parseTopLevelKey(key, value)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return flattenAnd(children), nil
}

func parseTopLevelKey(key string, value interface{}) (Node, error) {
	switch key {
	case "$and":
		return parseLogicalList(value, func(ns []Node) Node { return flattenAnd(ns) }, true)
	case "$or":
		return parseLogicalList(value, func(ns []Node) Node {
			flat := make([]Node, 0, len(ns))
			for _, n := range ns {
				if o, ok := n.(Or); ok {
					flat = append(flat, o.Children...)
				} else {
					flat = append(flat, n)
				}
			}
			return Or{Children: flat}
		}, false)
	case "$nor":
		return parseLogicalList(value, func(ns []Node) Node { return Nor{Children: ns} }, false)
	case "$not":
		return nil, mongoerr.BadValue("$not must be applied to a single field, e.g. {field: {$not: {...}}}")
	case "$text":
		return parseText(value)
	default:
		if len(key) > 0 && key[0] == '$' {
			return nil, mongoerr.BadValue("unrecognized top-level operator %q", key)
		}
		return parseField(key, value)
	}
}

// parseLogicalList parses $and/$or/$nor's array-of-filters value. emptyIsTrue
// handles spec §8's boundary cases: empty $and matches everything, empty
// $or/$nor match nothing.
func parseLogicalList(value interface{}, combine func([]Node) Node, emptyIsTrue bool) (Node, error) {
	arr, ok := value.(document.A)
	if !ok {
		if slice, ok2 := value.([]interface{}); ok2 {
			arr = document.A(slice)
		} else {
			return nil, mongoerr.BadValue("logical operator expects an array, got %T", value)
		}
	}
	if len(arr) == 0 {
		if emptyIsTrue {
			return True{}, nil
		}
		return False{}, nil
	}
	children := make([]Node, 0, len(arr))
	for _, item := range arr {
		sub, ok := asMap(item)
		if !ok {
			return nil, mongoerr.BadValue("logical operator array element must be a document")
		}
		node, err := Parse(sub)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}
	return combine(children), nil
}

func flattenAnd(nodes []Node) Node {
	flat := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if a, ok := n.(And); ok {
			flat = append(flat, a.Children...)
		} else {
			flat = append(flat, n)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return And{Children: flat}
}

func parseText(value interface{}) (Node, error) {
	m, ok := asMap(value)
	if !ok {
		return nil, mongoerr.BadValue("$text expects a document")
	}
	search, ok := m["$search"].(string)
	if !ok {
		return nil, mongoerr.BadValue("$text requires a $search string")
	}
	return Text{Search: search}, nil
}

// parseField parses a single field constraint, either a literal (equality)
// or an operator sub-document (spec §4.1's tie-break: "An object whose keys
// all begin with $ is treated as an operator sub-document; otherwise as an
// equality literal").
func parseField(path string, value interface{}) (Node, error) {
	m, ok := asMap(value)
	if !ok || !document.IsOperatorDocument(m) {
		return Compare{Path: path, Op: OpEq, Value: value}, nil
	}

	conds := make([]Node, 0, len(m))
	for op, opValue := range m {
		node, err := parseFieldOperator(path, op, opValue)
		if err != nil {
			return nil, err
		}
		conds = append(conds, node)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return And{Children: conds}, nil
}

func parseFieldOperator(path, op string, value interface{}) (Node, error) {
	switch op {
	case "$eq":
		return Compare{Path: path, Op: OpEq, Value: value}, nil
	case "$ne":
		return Compare{Path: path, Op: OpNe, Value: value}, nil
	case "$gt":
		return Compare{Path: path, Op: OpGt, Value: value}, nil
	case "$gte":
		return Compare{Path: path, Op: OpGte, Value: value}, nil
	case "$lt":
		return Compare{Path: path, Op: OpLt, Value: value}, nil
	case "$lte":
		return Compare{Path: path, Op: OpLte, Value: value}, nil
	case "$in":
		vals, err := asSlice(value)
		if err != nil {
			return nil, err
		}
		return Compare{Path: path, Op: OpIn, Values: vals}, nil
	case "$nin":
		vals, err := asSlice(value)
		if err != nil {
			return nil, err
		}
		return Compare{Path: path, Op: OpNin, Values: vals}, nil
	case "$exists":
		b, ok := value.(bool)
		if !ok {
			return nil, mongoerr.BadValue("$exists expects a boolean")
		}
		return Exists{Path: path, Value: b}, nil
	case "$type":
		s, ok := value.(string)
		if !ok {
			// Numeric BSON type codes are also accepted; stringify.
			s = fmt.Sprintf("%v", value)
		}
		return TypeCheck{Path: path, MongoType: s}, nil
	case "$size":
		n, err := asInt(value)
		if err != nil {
			return nil, mongoerr.BadValue("$size expects an integer: %v", err)
		}
		return Size{Path: path, Count: n}, nil
	case "$all":
		vals, err := asSlice(value)
		if err != nil {
			return nil, err
		}
		return All{Path: path, Values: vals}, nil
	case "$elemMatch":
		sub, ok := asMap(value)
		if !ok {
			return nil, mongoerr.BadValue("$elemMatch expects a document")
		}
		node, err := Parse(sub)
		if err != nil {
			return nil, mongoerr.BadValue("malformed $elemMatch filter: %v", err)
		}
		return ElemMatch{Path: path, Sub: node}, nil
	case "$not":
		sub, ok := asMap(value)
		if !ok {
			return nil, mongoerr.BadValue("$not expects an operator document")
		}
		node, err := parseField(path, sub)
		if err != nil {
			return nil, err
		}
		return Not{Path: path, Sub: node}, nil
	default:
		return nil, mongoerr.BadValue("unrecognized operator %q", op)
	}
}

func asMap(v interface{}) (document.M, bool) {
	switch t := v.(type) {
	case document.M:
		return t, true
	case map[string]interface{}:
		return document.M(t), true
	case document.Document:
		return document.ToMap(t), true
	default:
		return nil, false
	}
}

func asSlice(v interface{}) ([]interface{}, error) {
	switch t := v.(type) {
	case document.A:
		return []interface{}(t), nil
	case []interface{}:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, mongoerr.BadValue("expected an array, got %T", v)
	}
}

func asInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}
