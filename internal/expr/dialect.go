// Package expr implements C2, the expression translator: compiling
// aggregation value expressions ("$path" field references, literals, and
// nested operator documents) into relational scalar SQL, with a reserved
// placeholder form for $function callouts evaluated out of band by C6/C7.
package expr

// Dialect abstracts the backend-specific scalar SQL the translator needs.
// Implementations live alongside a query.Dialect for the same backend;
// the two are kept as separate interfaces because the expression
// translator's concerns (string/arithmetic functions, CASE) are distinct
// from the filter translator's (JSON path predicates, array expansion).
type Dialect interface {
	// Column is the name of the JSON document column, e.g. "data".
	Column() string

	// JSONExtract returns a scalar SQL expression extracting the value at
	// jsonPath (in "$.a.b[0]" form) out of source.
	JSONExtract(source, jsonPath string) string

	// Placeholder returns the bound-parameter placeholder for the n-th
	// (1-based) parameter in the statement.
	Placeholder(n int) string

	// Concat renders a variadic string concatenation over already-compiled
	// scalar expressions.
	Concat(parts []string) string

	// Substr renders a 0-based start/length substring call. start and
	// length are already-compiled scalar expressions (literal or SQL).
	Substr(strExpr, start, length string) string

	// ToLower and ToUpper render case-folding calls.
	ToLower(strExpr string) string
	ToUpper(strExpr string) string

	// JSONObject renders an object constructor from alternating key/value
	// SQL fragments, e.g. json_object('a', expr1, 'b', expr2).
	JSONObject(pairs []string) string

	// JSONArray renders an array constructor from already-compiled element
	// expressions, e.g. json_array(expr1, expr2).
	JSONArray(items []string) string

	// Mod renders the modulo of two already-compiled numeric expressions.
	Mod(a, b string) string
}
