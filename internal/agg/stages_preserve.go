package agg

import (
	"fmt"
	"strconv"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/internal/query"
	"github.com/relaydb/relaydb/pkg/document"
)

// applyMatch folds a $match stage into f's WHERE clause (spec §4.3:
// "Delegates to C1. Contributes whereClause."). matchNeedsFlush reports whether
// the caller must flush f before folding, because f already represents a
// grouped or paged result (a post-group $match behaves like HAVING, and a
// post-limit $match must see only the limited rows).
func matchNeedsFlush(f *fragment) bool {
	return f.aggregated() || f.hasOrderingOrPaging()
}

func applyMatch(f *fragment, body interface{}, namespace string, d Dialect) error {
	m, ok := asDoc(body)
	if !ok {
		return mongoerr.BadValue("$match expects a document")
	}
	stmt, err := query.TranslateWithSource(m, namespace, d, f.docExpr)
	if err != nil {
		return err
	}
	f.where = append(f.where, "("+stmt.SQL+")")
	f.addParams(stmt.Params)
	return nil
}

// pageNeedsFlush reports whether a new $sort/$limit/$skip must start a
// fresh fragment because f already carries a LIMIT/OFFSET/ORDER BY that
// would otherwise be silently overwritten.
func pageNeedsFlush(f *fragment) bool {
	return f.hasOrderingOrPaging()
}

func applySort(f *fragment, body interface{}, d Dialect) error {
	pairs, ok := document.Pairs(body)
	if !ok || len(pairs) == 0 {
		return mongoerr.BadValue("$sort expects a non-empty document")
	}
	order := make([]string, 0, len(pairs))
	for _, p := range pairs {
		dir, err := sortDirection(p.Value)
		if err != nil {
			return err
		}
		extract := d.JSONExtract(f.docExpr, document.FieldToJSONPath(p.Key))
		order = append(order, extract+" "+dir)
	}
	f.orderBy = order
	return nil
}

func sortDirection(v interface{}) (string, error) {
	switch n := v.(type) {
	case int:
		if n >= 0 {
			return "ASC", nil
		}
		return "DESC", nil
	case int32:
		return sortDirection(int(n))
	case int64:
		return sortDirection(int(n))
	case float64:
		return sortDirection(int(n))
	default:
		return "", mongoerr.BadValue("$sort value must be 1 or -1")
	}
}

func applyLimit(f *fragment, body interface{}) error {
	n, err := toInt(body)
	if err != nil {
		return mongoerr.BadValue("$limit expects an integer: %v", err)
	}
	f.limit = strconv.Itoa(n)
	return nil
}

func applySkip(f *fragment, body interface{}) error {
	n, err := toInt(body)
	if err != nil {
		return mongoerr.BadValue("$skip expects an integer: %v", err)
	}
	f.offset = strconv.Itoa(n)
	return nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
