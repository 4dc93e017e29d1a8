package agg

import (
	"fmt"

	"github.com/relaydb/relaydb/internal/expr"
	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// groupNeedsFlush reports whether a new $group/$bucket/$count must start a
// fresh fragment because f is already aggregated or paged.
func groupNeedsFlush(f *fragment) bool {
	return f.aggregated() || f.hasOrderingOrPaging()
}

// applyGroup folds a $group stage into f (spec §4.3): f.docExpr becomes the
// object {"_id": <key>, field: accumulator(...), ...} and f.groupBy is set
// to the compiled _id expression.
func applyGroup(f *fragment, body interface{}, d Dialect) error {
	m, ok := asDoc(body)
	if !ok {
		return mongoerr.BadValue("$group expects a document")
	}
	idVal, ok := m["_id"]
	if !ok {
		return mongoerr.BadValue("$group requires an _id expression")
	}
	idStmt, err := expr.TranslateWithSource(idVal, d, f.docExpr)
	if err != nil {
		return err
	}
	groupKey := idStmt.SQL
	f.addParams(idStmt.Params)

	pairs := []string{bindLiteral(f, d, "_id"), groupKey}
	for key, val := range m {
		if key == "_id" {
			continue
		}
		accSQL, err := compileAccumulator(f, val, d)
		if err != nil {
			return fmt.Errorf("$group field %q: %w", key, err)
		}
		pairs = append(pairs, bindLiteral(f, d, key), accSQL)
	}
	f.docExpr = d.JSONObject(pairs)
	f.groupBy = groupKey
	return nil
}

// compileAccumulator compiles one {$op: expr} accumulator document against
// f's pre-aggregation row expression (spec §4.3).
func compileAccumulator(f *fragment, val interface{}, d Dialect) (string, error) {
	m, ok := asDoc(val)
	if !ok || len(m) != 1 {
		return "", mongoerr.BadValue("accumulator must be a single-key document")
	}
	for op, arg := range m {
		switch op {
		case "$sum":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return fmt.Sprintf("SUM(%s)", stmt.SQL), nil
		case "$avg":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return fmt.Sprintf("AVG(%s)", stmt.SQL), nil
		case "$min":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return fmt.Sprintf("MIN(%s)", stmt.SQL), nil
		case "$max":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return fmt.Sprintf("MAX(%s)", stmt.SQL), nil
		case "$first":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return d.First(stmt.SQL), nil
		case "$last":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return d.Last(stmt.SQL), nil
		case "$push":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return d.JSONGroupArray(stmt.SQL), nil
		case "$addToSet":
			stmt, err := expr.TranslateWithSource(arg, d, f.docExpr)
			if err != nil {
				return "", err
			}
			f.addParams(stmt.Params)
			return d.JSONGroupArrayDistinct(stmt.SQL), nil
		case "$count":
			return "COUNT(*)", nil
		default:
			return "", mongoerr.BadValue("unrecognized accumulator %q", op)
		}
	}
	panic("unreachable")
}

// applyBucket folds $bucket into f: a CASE expression assigns each row to a
// bucket key from boundaries, then the same accumulator machinery as
// $group runs GROUP BY that key (spec §4.3).
func applyBucket(f *fragment, body interface{}, d Dialect) error {
	m, ok := asDoc(body)
	if !ok {
		return mongoerr.BadValue("$bucket expects a document")
	}
	groupByVal, ok := m["groupBy"]
	if !ok {
		return mongoerr.BadValue("$bucket requires groupBy")
	}
	boundaries, ok := asDocSlice(m["boundaries"])
	if !ok || len(boundaries) < 2 {
		return mongoerr.BadValue("$bucket requires a boundaries array of at least 2 values")
	}
	keyStmt, err := expr.TranslateWithSource(groupByVal, d, f.docExpr)
	if err != nil {
		return err
	}
	keyExpr := keyStmt.SQL
	f.addParams(keyStmt.Params)

	caseExpr := "CASE"
	for i := 0; i < len(boundaries)-1; i++ {
		lo := bindLiteral(f, d, boundaries[i])
		caseExpr += fmt.Sprintf(" WHEN %s >= %s AND %s < %s THEN %s",
			keyExpr, lo, keyExpr, bindLiteral(f, d, boundaries[i+1]), lo)
	}
	if def, ok := m["default"]; ok {
		caseExpr += " ELSE " + bindLiteral(f, d, def)
	} else {
		caseExpr += " ELSE NULL"
	}
	caseExpr += " END"

	output, hasOutput := m["output"]
	pairs := []string{bindLiteral(f, d, "_id"), caseExpr}
	if hasOutput {
		outM, ok := asDoc(output)
		if !ok {
			return mongoerr.BadValue("$bucket output must be a document")
		}
		for key, val := range outM {
			accSQL, err := compileAccumulator(f, val, d)
			if err != nil {
				return fmt.Errorf("$bucket output field %q: %w", key, err)
			}
			pairs = append(pairs, bindLiteral(f, d, key), accSQL)
		}
	} else {
		pairs = append(pairs, bindLiteral(f, d, "count"), "COUNT(*)")
	}
	f.docExpr = d.JSONObject(pairs)
	f.groupBy = caseExpr
	return nil
}

// applyCount folds $count into f: a single output document {"<name>":
// COUNT(*)} with no GROUP BY (spec §4.3).
func applyCount(f *fragment, body interface{}, d Dialect) error {
	name, ok := body.(string)
	if !ok || name == "" {
		return mongoerr.BadValue("$count expects a non-empty field name string")
	}
	f.docExpr = d.JSONObject([]string{bindLiteral(f, d, name), "COUNT(*)"})
	f.groupBy = "" // aggregates the whole fragment as a single group
	f.forceSingleRow = true
	return nil
}
