package agg

import (
	"fmt"
	"strings"

	"github.com/relaydb/relaydb/internal/expr"
)

// fragment is the pending SELECT the C5 walker builds up as it folds
// shape-preserving stages together (spec §4.5). A shape-transforming stage
// flushes it: the fragment's SELECT becomes a CTE, and a fresh fragment
// begins reading from that CTE.
type fragment struct {
	source  string // FROM-clause relation: a table name or an upstream CTE name
	alias   string
	docExpr string // SQL expression yielding the current row's document JSON
	where   []string
	groupBy string // non-empty once a $group/$bucket has folded into this fragment
	orderBy []string
	limit   string
	offset  string
	params  []interface{}

	// placeholders accumulates the $function sites folded into this
	// fragment's docExpr so far, keyed by the output field path they were
	// projected under.
	placeholders []PlaceholderSite

	// forceSingleRow marks a fragment that already collapses its input to
	// one row via an ungrouped aggregate (e.g. $count), so any further
	// stage referencing per-row shape must flush first.
	forceSingleRow bool
}

// aggregated reports whether f's SELECT list already contains an aggregate
// computation, grouped or not — a later stage that needs to see individual
// input rows must flush before folding in.
func (f *fragment) aggregated() bool {
	return f.groupBy != "" || f.forceSingleRow
}

func newBaseFragment(namespace string, d Dialect) *fragment {
	alias := "t"
	return &fragment{
		source:  d.CollectionTable(namespace),
		alias:   alias,
		docExpr: alias + "." + d.Column(),
	}
}

func newCTEFragment(cteName string, d Dialect) *fragment {
	return &fragment{
		source:  cteName,
		alias:   cteName,
		docExpr: cteName + "." + d.Column(),
	}
}

func (f *fragment) addParams(p []interface{}) { f.params = append(f.params, p...) }

// addFunctions records the $function descriptors compiled for a single
// output field path, in the order encountered.
func (f *fragment) addFunctions(path string, fns []expr.FunctionDescriptor) {
	for _, fn := range fns {
		f.placeholders = append(f.placeholders, PlaceholderSite{Path: path, Descriptor: fn})
	}
}

func (f *fragment) fromClause() string {
	if f.source == f.alias {
		return f.source
	}
	return fmt.Sprintf("%s AS %s", f.source, f.alias)
}

// selectSQL renders the fragment as a full SELECT statement, with docExpr
// aliased to the document column name expected by the next stage.
func (f *fragment) selectSQL(d Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s AS %s FROM %s", f.docExpr, d.Column(), f.fromClause())
	if len(f.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.where, " AND "))
	}
	if f.groupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(f.groupBy)
	}
	if len(f.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(f.orderBy, ", "))
	}
	if f.limit != "" {
		b.WriteString(" LIMIT ")
		b.WriteString(f.limit)
	}
	if f.offset != "" {
		b.WriteString(" OFFSET ")
		b.WriteString(f.offset)
	}
	return b.String()
}

// hasOrderingOrPaging reports whether the fragment has accumulated a
// $sort/$limit/$skip that a following stage's own semantics must respect by
// flushing first rather than folding in further predicates.
func (f *fragment) hasOrderingOrPaging() bool {
	return len(f.orderBy) > 0 || f.limit != "" || f.offset != ""
}
