// Package docstore implements C9, the document backend: an embedded
// JSON-relational document store built on modernc.org/sqlite's pure-Go
// driver and JSON1 extension, grounded on the teacher's
// internal/database/adapters/postgres package (same "documents as a JSONB
// column" shape) retargeted from PostgreSQL's JSONB operators to SQLite's
// json_extract/json_set/json_remove/json_object/json_group_array/json_each
// functions (named verbatim in spec §4.3), the real-world analogue being
// FerretDB's own modernc.org/sqlite backend.
package docstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relaydb/relaydb/internal/mongoerr"
)

// sqliteDialect implements query.Dialect, expr.Dialect and agg.Dialect
// against SQLite's JSON1 extension. One Dialect value is shared by every
// collection; namespace-to-table resolution is the only place collection
// identity enters.
type sqliteDialect struct {
	tableName func(namespace string) string
}

func newDialect(tableName func(string) string) *sqliteDialect {
	return &sqliteDialect{tableName: tableName}
}

func (d *sqliteDialect) Column() string { return "data" }

func (d *sqliteDialect) Placeholder(n int) string { return "?" }

func (d *sqliteDialect) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (d *sqliteDialect) JSONExtract(source, jsonPath string) string {
	return fmt.Sprintf("json_extract(%s, %s)", source, sqlLit(jsonPath))
}

func (d *sqliteDialect) JSONType(source, jsonPath string) string {
	return fmt.Sprintf("json_type(%s, %s)", source, sqlLit(jsonPath))
}

func (d *sqliteDialect) ArrayExpand(source, jsonPath string) string {
	return fmt.Sprintf("json_each(%s, %s)", source, sqlLit(jsonPath))
}

func (d *sqliteDialect) ArrayExpandIndexed(source, jsonPath string) string {
	// json_each already exposes both "value" and "key" (the 0-based array
	// index for array-valued input); callers needing the index alias it
	// as idx via the query it's embedded in (spec §4.3 $unwind
	// includeArrayIndex). SQLite's json_each names the index column "key".
	return fmt.Sprintf("(SELECT value, key AS idx FROM json_each(%s, %s))", source, sqlLit(jsonPath))
}

func (d *sqliteDialect) FTSTable(namespace string) string {
	return ftsTableName(d.tableName(namespace))
}

func (d *sqliteDialect) CollectionTable(namespace string) string {
	return d.tableName(namespace)
}

func (d *sqliteDialect) Concat(parts []string) string {
	return strings.Join(parts, " || ")
}

func (d *sqliteDialect) Substr(strExpr, start, length string) string {
	// spec §4.2: "$substr shifts to 1-based indexing where required" —
	// SQLite's substr is already 1-based, but $substr's start argument is
	// 0-based, so add 1 here rather than in the expression translator.
	return fmt.Sprintf("substr(%s, (%s) + 1, %s)", strExpr, start, length)
}

func (d *sqliteDialect) ToLower(strExpr string) string { return fmt.Sprintf("lower(%s)", strExpr) }
func (d *sqliteDialect) ToUpper(strExpr string) string { return fmt.Sprintf("upper(%s)", strExpr) }

func (d *sqliteDialect) JSONObject(pairs []string) string {
	return fmt.Sprintf("json_object(%s)", strings.Join(pairs, ", "))
}

func (d *sqliteDialect) JSONArray(items []string) string {
	return fmt.Sprintf("json_array(%s)", strings.Join(items, ", "))
}

func (d *sqliteDialect) Mod(a, b string) string {
	return fmt.Sprintf("(%s %% %s)", a, b)
}

func (d *sqliteDialect) JSONSet(source string, paths []string, values []string) string {
	if len(paths) == 0 {
		return source
	}
	args := make([]string, 0, len(paths)*2+1)
	args = append(args, source)
	for i := range paths {
		args = append(args, sqlLit(paths[i]), values[i])
	}
	return fmt.Sprintf("json_set(%s)", strings.Join(args, ", "))
}

func (d *sqliteDialect) JSONRemove(source string, paths []string) string {
	if len(paths) == 0 {
		return source
	}
	args := make([]string, 0, len(paths)+1)
	args = append(args, source)
	for _, p := range paths {
		args = append(args, sqlLit(p))
	}
	return fmt.Sprintf("json_remove(%s)", strings.Join(args, ", "))
}

func (d *sqliteDialect) JSONGroupArray(valueExpr string) string {
	return fmt.Sprintf("json_group_array(json(%s))", valueExpr)
}

func (d *sqliteDialect) JSONGroupArrayDistinct(valueExpr string) string {
	return fmt.Sprintf("json_group_array(DISTINCT %s)", valueExpr)
}

// First and Last use SQLite's aggregate evaluation order over the input
// rowset: MIN/MAX-by-rowid-of-group is not portable as a one-liner, so
// these rely on a correlated scalar subquery selecting the first/last
// value in insertion (rowid) order within the same FROM clause.
func (d *sqliteDialect) First(valueExpr string) string {
	return fmt.Sprintf("(SELECT %s LIMIT 1)", valueExpr)
}

func (d *sqliteDialect) Last(valueExpr string) string {
	return fmt.Sprintf("(SELECT %s ORDER BY rowid DESC LIMIT 1)", valueExpr)
}

func (d *sqliteDialect) MongoTypeTag(mongoType string) []string {
	switch mongoType {
	case "double", "1":
		return []string{"real", "integer"}
	case "string", "2":
		return []string{"text"}
	case "object", "3":
		return []string{"object"}
	case "array", "4":
		return []string{"array"}
	case "bool", "8":
		return []string{"true", "false"}
	case "null", "10":
		return []string{"null"}
	case "int", "16":
		return []string{"integer"}
	case "long", "18":
		return []string{"integer"}
	case "number":
		return []string{"real", "integer"}
	default:
		return nil
	}
}

func (d *sqliteDialect) NotEqual(extract, bound string) string {
	return fmt.Sprintf("%s IS NOT %s", extract, bound)
}

func (d *sqliteDialect) CompileFullText(positive, negative []string) (string, error) {
	if len(positive) == 0 && len(negative) == 0 {
		return "", mongoerr.BadValue("$text/$search requires at least one term")
	}
	var parts []string
	for _, p := range positive {
		parts = append(parts, ftsQuote(p))
	}
	posExpr := strings.Join(parts, " OR ")
	if posExpr == "" {
		// spec §6: "NOT clauses applied after an optional universal match
		// if only negative terms are present" — FTS5 has no wildcard
		// match-everything token, so fall back to a column-level prefix
		// match that is true for any non-empty indexed text.
		posExpr = "*"
	}
	if len(negative) == 0 {
		return sqlLit(posExpr), nil
	}
	negParts := make([]string, len(negative))
	for i, n := range negative {
		negParts[i] = ftsQuote(n)
	}
	return sqlLit(fmt.Sprintf("(%s) NOT (%s)", posExpr, strings.Join(negParts, " OR "))), nil
}

func ftsQuote(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

func sqlLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func ftsTableName(table string) string { return table + "_fts" }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sanitizeTableName mirrors the teacher's PostgresAdapter.sanitizeTableName
// (postgres/adapter.go), adapted so a MongoDB namespace maps to a single
// safe SQLite table name.
func sanitizeTableName(database, collection string) string {
	clean := func(s string) string {
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "-", "_")
		s = strings.ReplaceAll(s, ".", "_")
		return s
	}
	return "doc_" + clean(database) + "__" + clean(collection)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
