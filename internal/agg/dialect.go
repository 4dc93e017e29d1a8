package agg

import (
	"github.com/relaydb/relaydb/internal/expr"
	"github.com/relaydb/relaydb/internal/query"
)

// Dialect is the union of the filter and expression dialects plus the
// additional relational primitives the stage translators need: document
// mutation (json_set/json_remove), array aggregation (for $push/$addToSet/
// $lookup), and collection-to-relation resolution.
type Dialect interface {
	query.Dialect
	expr.Dialect

	// CollectionTable returns the FROM-clause relation for namespace,
	// already scoped to the backend's collection identity (e.g. a
	// "collection_id = ?" filter baked into a view, or a bare table name
	// for the OLAP backend).
	CollectionTable(namespace string) string

	// JSONSet applies a sequence of (jsonPath, valueSQL) writes to source,
	// left to right, returning the resulting document expression.
	JSONSet(source string, paths []string, values []string) string

	// JSONRemove removes the given json paths from source.
	JSONRemove(source string, paths []string) string

	// JSONGroupArray aggregates expr across the rows of the current GROUP
	// BY into a JSON array, used by $push and $lookup's foreign join.
	JSONGroupArray(valueExpr string) string

	// JSONGroupArrayDistinct is JSONGroupArray with de-duplication, used by
	// $addToSet.
	JSONGroupArrayDistinct(valueExpr string) string

	// ArrayExpandIndexed is ArrayExpand but additionally exposes the
	// array's 0-based position as an "idx" column, for $unwind's
	// includeArrayIndex option.
	ArrayExpandIndexed(source, jsonPath string) string

	// First and Last render the $first/$last accumulators: the value of
	// valueExpr from, respectively, the first and last row of each group in
	// input order. SQL has no portable standard aggregate for this; backend
	// dialects implement it with whatever mechanism they have (a custom
	// registered aggregate function, or an engine-native extension).
	First(valueExpr string) string
	Last(valueExpr string) string
}
