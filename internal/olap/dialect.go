package olap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/objectid"
)

// dialect implements query.Dialect (spec §4.9: "Find translation. Same C1
// output...") against a ClickHouse-shaped columnar engine: backtick
// identifier quoting, JSONExtractString/JSONExtractRaw-style functions, and
// ObjectId-to-hex stringification at comparison sites since the engine has
// no native ObjectId type.
type dialect struct {
	table func(namespace string) string
}

func newDialect(table func(string) string) *dialect {
	return &dialect{table: table}
}

func (d *dialect) Column() string { return "data" }

func (d *dialect) Placeholder(n int) string { return fmt.Sprintf("{param_%d:String}", n) }

func (d *dialect) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// JSONExtract uses the engine's string-extraction function since every
// comparison in the query translator binds against a bound parameter that
// is itself serialized to string form (spec §6 "param_<name>=<value>" is
// URL-escaped text).
func (d *dialect) JSONExtract(source, jsonPath string) string {
	return fmt.Sprintf("JSONExtractString(%s, %s)", source, d.QuoteString(toDotPath(jsonPath)))
}

func (d *dialect) JSONType(source, jsonPath string) string {
	return fmt.Sprintf("JSONType(%s, %s)", source, d.QuoteString(toDotPath(jsonPath)))
}

func (d *dialect) ArrayExpand(source, jsonPath string) string {
	return fmt.Sprintf("arrayJoin(JSONExtractArrayRaw(%s, %s))", source, d.QuoteString(toDotPath(jsonPath)))
}

func (d *dialect) ArrayExpandIndexed(source, jsonPath string) string {
	return fmt.Sprintf("arrayJoin(arrayEnumerate(JSONExtractArrayRaw(%s, %s)))", source, d.QuoteString(toDotPath(jsonPath)))
}

func (d *dialect) FTSTable(namespace string) string {
	return d.table(namespace)
}

func (d *dialect) CollectionTable(namespace string) string {
	return d.table(namespace)
}

func (d *dialect) Concat(parts []string) string {
	return fmt.Sprintf("concat(%s)", strings.Join(parts, ", "))
}

func (d *dialect) Substr(strExpr, start, length string) string {
	return fmt.Sprintf("substring(%s, (%s) + 1, %s)", strExpr, start, length)
}

func (d *dialect) ToLower(strExpr string) string { return fmt.Sprintf("lower(%s)", strExpr) }
func (d *dialect) ToUpper(strExpr string) string { return fmt.Sprintf("upper(%s)", strExpr) }

func (d *dialect) JSONObject(pairs []string) string {
	return fmt.Sprintf("map(%s)", strings.Join(pairs, ", "))
}

func (d *dialect) JSONArray(items []string) string {
	return fmt.Sprintf("[%s]", strings.Join(items, ", "))
}

func (d *dialect) Mod(a, b string) string {
	return fmt.Sprintf("modulo(%s, %s)", a, b)
}

// First and Last map to the engine-specific accumulators spec §4.9 names
// ($first -> any, $last -> anyLast).
func (d *dialect) First(valueExpr string) string { return fmt.Sprintf("any(%s)", valueExpr) }
func (d *dialect) Last(valueExpr string) string  { return fmt.Sprintf("anyLast(%s)", valueExpr) }

// JSONSet builds a ClickHouse-shaped patch expression: it extracts the
// existing top-level key/value pairs of source as a Map via
// JSONExtractKeysAndValuesRaw, overlays the new key/value pairs with
// mapUpdate (the second map's values win on overlapping keys), and
// reserializes the result to a JSON string with toJSONString. Unlike
// SQLite's json_set, a dotted path only reaches the top-level segment —
// see DESIGN.md for the recorded limitation on nested $addFields/$set
// paths against this backend.
func (d *dialect) JSONSet(source string, paths []string, values []string) string {
	if len(paths) == 0 {
		return source
	}
	existing := fmt.Sprintf("CAST(JSONExtractKeysAndValuesRaw(%s), 'Map(String, String)')", source)
	pairs := make([]string, len(paths))
	for i, p := range paths {
		key := topLevelKey(toDotPath(p))
		pairs[i] = fmt.Sprintf("%s, toString(%s)", d.QuoteString(key), values[i])
	}
	patch := fmt.Sprintf("map(%s)", strings.Join(pairs, ", "))
	return fmt.Sprintf("toJSONString(mapUpdate(%s, %s))", existing, patch)
}

func topLevelKey(dotPath string) string {
	if i := strings.IndexByte(dotPath, '.'); i >= 0 {
		return dotPath[:i]
	}
	return dotPath
}

func (d *dialect) JSONRemove(source string, paths []string) string {
	return source
}

func (d *dialect) JSONGroupArray(valueExpr string) string {
	return fmt.Sprintf("groupArray(%s)", valueExpr)
}

func (d *dialect) JSONGroupArrayDistinct(valueExpr string) string {
	return fmt.Sprintf("groupUniqArray(%s)", valueExpr)
}

func (d *dialect) MongoTypeTag(mongoType string) []string {
	switch mongoType {
	case "double", "1", "number":
		return []string{"Float64"}
	case "string", "2":
		return []string{"String"}
	case "object", "3":
		return []string{"Object"}
	case "array", "4":
		return []string{"Array"}
	case "bool", "8":
		return []string{"UInt8"}
	case "null", "10":
		return []string{"Null"}
	case "int", "16":
		return []string{"Int32"}
	case "long", "18":
		return []string{"Int64"}
	default:
		return nil
	}
}

func (d *dialect) NotEqual(extract, bound string) string {
	return fmt.Sprintf("%s <> %s", extract, bound)
}

func (d *dialect) CompileFullText(positive, negative []string) (string, error) {
	if len(positive) == 0 && len(negative) == 0 {
		return "", mongoerr.BadValue("$text/$search requires at least one term")
	}
	var parts []string
	for _, p := range positive {
		parts = append(parts, fmt.Sprintf("position(data, %s) > 0", d.QuoteString(p)))
	}
	pos := strings.Join(parts, " OR ")
	if pos == "" {
		pos = "1"
	}
	if len(negative) == 0 {
		return pos, nil
	}
	var negParts []string
	for _, n := range negative {
		negParts = append(negParts, fmt.Sprintf("position(data, %s) > 0", d.QuoteString(n)))
	}
	return fmt.Sprintf("(%s) AND NOT (%s)", pos, strings.Join(negParts, " OR ")), nil
}

// toDotPath adapts the "$.a.b[0]" JSON-path form document.FieldToJSONPath
// produces into the engine's dotted path argument convention.
func toDotPath(jsonPath string) string {
	s := strings.TrimPrefix(jsonPath, "$")
	s = strings.TrimPrefix(s, ".")
	return s
}

// stringifyID renders an ObjectId (or any other _id value) the way spec
// §4.9 requires: "_id values that arrive as ObjectIds are stringified to
// hex before comparison."
func stringifyID(v interface{}) interface{} {
	if oid, ok := v.(objectid.ObjectID); ok {
		return oid.Hex()
	}
	return v
}

func itoa(n int) string { return strconv.Itoa(n) }
