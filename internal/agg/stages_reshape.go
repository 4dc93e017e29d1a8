package agg

import (
	"strings"

	"github.com/relaydb/relaydb/internal/expr"
	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// applyProject folds a $project stage into f.docExpr (spec §4.3). Polarity
// is classified per-stage: any 1/expression value makes it an inclusion
// (rebuilt via json_object); if every value is 0 (with "_id" exempted from
// the polarity check), it is an exclusion (applied via json_remove).
func applyProject(f *fragment, body interface{}, d Dialect) error {
	pairs, ok := document.Pairs(body)
	if !ok {
		return mongoerr.BadValue("$project expects a document")
	}

	inclusion := false
	for _, p := range pairs {
		if p.Key == "_id" {
			continue
		}
		if !isProjectZero(p.Value) {
			inclusion = true
			break
		}
	}

	if inclusion {
		return applyProjectInclusion(f, pairs, d)
	}
	return applyProjectExclusion(f, pairs, d)
}

func applyProjectInclusion(f *fragment, pairs []document.Pair, d Dialect) error {
	dropID := false
	jsonPairs := make([]string, 0, len(pairs)*2)
	seen := make(map[string]bool)
	for _, p := range pairs {
		if p.Key == "_id" && isProjectZero(p.Value) {
			dropID = true
			continue
		}
		var valSQL string
		if isProjectOne(p.Value) {
			valSQL = d.JSONExtract(f.docExpr, document.FieldToJSONPath(p.Key))
		} else {
			stmt, err := expr.TranslateWithSource(p.Value, d, f.docExpr)
			if err != nil {
				return err
			}
			valSQL = stmt.SQL
			f.addParams(stmt.Params)
			f.addFunctions(p.Key, stmt.Functions)
		}
		jsonPairs = append(jsonPairs, bindLiteral(f, d, p.Key), valSQL)
		seen[p.Key] = true

		for _, fieldPath := range functionFieldArgs(p.Value) {
			if fieldPath == "" || seen[fieldPath] {
				continue
			}
			seen[fieldPath] = true
			jsonPairs = append(jsonPairs,
				bindLiteral(f, d, fieldPath),
				d.JSONExtract(f.docExpr, document.FieldToJSONPath(fieldPath)))
		}
	}
	if !dropID && !seen["_id"] {
		jsonPairs = append([]string{bindLiteral(f, d, "_id"), d.JSONExtract(f.docExpr, "$._id")}, jsonPairs...)
	}
	f.docExpr = d.JSONObject(jsonPairs)
	return nil
}

func applyProjectExclusion(f *fragment, pairs []document.Pair, d Dialect) error {
	paths := make([]string, 0, len(pairs))
	for _, p := range pairs {
		paths = append(paths, document.FieldToJSONPath(p.Key))
	}
	f.docExpr = d.JSONRemove(f.docExpr, paths)
	return nil
}

// applyAddFields folds $addFields/$set into f.docExpr via a sequence of
// json_set writes (spec §4.3).
func applyAddFields(f *fragment, body interface{}, d Dialect) error {
	pairs, ok := document.Pairs(body)
	if !ok {
		return mongoerr.BadValue("$addFields/$set expects a document")
	}
	paths := make([]string, 0, len(pairs))
	values := make([]string, 0, len(pairs))
	for _, p := range pairs {
		stmt, err := expr.TranslateWithSource(p.Value, d, f.docExpr)
		if err != nil {
			return err
		}
		paths = append(paths, document.FieldToJSONPath(p.Key))
		values = append(values, stmt.SQL)
		f.addParams(stmt.Params)
		f.addFunctions(p.Key, stmt.Functions)
	}
	f.docExpr = d.JSONSet(f.docExpr, paths, values)
	return nil
}

func bindLiteral(f *fragment, d Dialect, v interface{}) string {
	f.addParams([]interface{}{v})
	return d.Placeholder(len(f.params))
}

func isProjectOne(v interface{}) bool {
	switch n := v.(type) {
	case int:
		return n == 1
	case int32:
		return n == 1
	case int64:
		return n == 1
	case float64:
		return n == 1
	case bool:
		return n
	default:
		// Any non-numeric value (string field ref, nested expression
		// document) is an inclusion expression, handled the same way as
		// a literal "1" field copy except compiled as an expression.
		return false
	}
}

func isProjectZero(v interface{}) bool {
	switch n := v.(type) {
	case int:
		return n == 0
	case int32:
		return n == 0
	case int64:
		return n == 0
	case float64:
		return n == 0
	case bool:
		return !n
	default:
		return false
	}
}

// functionFieldArgs scans a raw (pre-parse) aggregation expression value for
// any nested {$function: {args: [...]}} and returns the "$path" field
// references among its args, so the caller can auto-include those source
// fields in an inclusion-mode $project (spec §4.3).
func functionFieldArgs(v interface{}) []string {
	var out []string
	var walk func(interface{})
	walk = func(val interface{}) {
		switch t := val.(type) {
		case document.M:
			if body, ok := t["$function"]; ok {
				if bm, ok := asDoc(body); ok {
					if args, ok := asDocSlice(bm["args"]); ok {
						for _, a := range args {
							if s, ok := a.(string); ok && strings.HasPrefix(s, "$") && !strings.HasPrefix(s, "$$") {
								out = append(out, s[1:])
							}
						}
					}
				}
				return
			}
			for _, nested := range t {
				walk(nested)
			}
		case map[string]interface{}:
			walk(document.M(t))
		case document.A:
			for _, e := range t {
				walk(e)
			}
		case []interface{}:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(v)
	return out
}
