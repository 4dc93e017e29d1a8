// Package query implements C1, the query translator: compiling a MongoDB
// filter document into a relational WHERE expression and bound parameters
// (spec §4.1).
//
// Per the redesign notes in spec §9 ("Dynamic operator registries",
// "Recursive structural walks"), the filter document is first parsed into a
// typed expression tree (Node), then translated; there is no open map of
// operator name to closure, and no untyped recursive walk over the input.
package query

// Dialect abstracts the backend-specific SQL fragments the translator
// needs: how to extract a JSON value, how to quote an identifier, and how
// to expand a JSON array for $all/$elemMatch/$size. One IR, one translator,
// N dialect implementations — the document backend (SQLite/JSON1) and the
// OLAP backend (columnar engine) each provide one, per spec §9's "OLAP
// pipeline translator vs general translator" note generalized to the query
// translator as well.
type Dialect interface {
	// Column is the name of the JSON document column, e.g. "data".
	Column() string

	// JSONExtract returns a scalar SQL expression extracting the value at
	// jsonPath (in "$.a.b[0]" form) out of the source expression source.
	// source is normally Column(), but inside a $elemMatch scope it is the
	// current array element's value expression instead (spec §4.1:
	// "the subject of further operators is the current array element").
	JSONExtract(source, jsonPath string) string

	// JSONType returns a SQL expression yielding the backend's type tag
	// string for the value at jsonPath within source, used by $type.
	JSONType(source, jsonPath string) string

	// ArrayExpand returns a correlated SQL table expression yielding one
	// row per element of the array at jsonPath within source, exposing a
	// single `value` column. Used by $all, $elemMatch, $size and
	// array-unwinding stages.
	ArrayExpand(source, jsonPath string) string

	// Placeholder returns the bound-parameter placeholder for the n-th
	// (1-based) parameter in the statement.
	Placeholder(n int) string

	// QuoteString escapes a string literal for direct interpolation
	// (used only where a placeholder cannot appear, e.g. inside a
	// MATCH(...) full text predicate). Backends that never need this may
	// return the input unchanged.
	QuoteString(s string) string

	// FTSTable returns the full-text index table reference for a $text /
	// $search lookup against the named collection/namespace.
	FTSTable(namespace string) string

	// MongoTypeTag maps a MongoDB $type alias (including numeric aliases)
	// to one or more backend type tag strings that should all match.
	MongoTypeTag(mongoType string) []string

	// CompileFullText renders a parsed $text/$search query (spec §6) into
	// the backend's MATCH boolean syntax. positive holds OR'd terms and
	// quoted phrases; negative holds the leading-minus NOT terms.
	CompileFullText(positive, negative []string) (string, error)

	// NotEqual renders a non-null $ne comparison between extract and the
	// bound placeholder bound, since "IS NOT <literal>" is SQLite-specific
	// syntax the rest of the pack's engines don't accept.
	NotEqual(extract, bound string) string
}
