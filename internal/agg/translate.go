package agg

import (
	"fmt"
	"strings"

	"github.com/relaydb/relaydb/internal/expr"
	"github.com/relaydb/relaydb/internal/mongoerr"
)

// PlaceholderSite records where a compiled $function call's result lives in
// the final result document: the field path it was projected under, and the
// descriptor C7 needs to evaluate it. Carrying this out-of-band on the
// Statement is what lets decoded rows stay free of any encoded marker (spec
// §9's redesign note on $function handling).
type PlaceholderSite struct {
	Path       string
	Descriptor expr.FunctionDescriptor
}

// Statement is the compiled output of the aggregation translator (spec
// §4.5): either a single SQL text with bound params, or — when the
// pipeline contained $facet — a map of branch name to its own compiled
// Statement (spec §4.3's "facets" record field).
type Statement struct {
	SQL          string
	Params       []interface{}
	Facets       map[string]Statement
	Placeholders []PlaceholderSite
}

// IsFacet reports whether this Statement is a $facet result requiring the
// executor to run each branch independently and merge (spec §4.7 step 2).
func (s Statement) IsFacet() bool { return s.Facets != nil }

type cteEntry struct {
	Name string
	SQL  string
}

// walker implements the C5 CTE-chaining strategy: it tracks a pending
// fragment representing the shape currently under construction, flushing
// it into a named CTE whenever a stage can't be folded into the pending
// fragment in place (spec §4.5).
type walker struct {
	dialect   Dialect
	namespace string
	ctes         []cteEntry
	params       []interface{}     // params contributed by already-flushed CTEs, in emission order
	placeholders []PlaceholderSite // $function sites contributed by already-flushed CTEs
	counter      int
	cur          *fragment
}

// Translate compiles an optimized aggregation pipeline against namespace.
func Translate(stages []Stage, namespace string, d Dialect) (Statement, error) {
	w := &walker{dialect: d, namespace: namespace, cur: newBaseFragment(namespace, d)}
	return w.run(Optimize(stages))
}

func (w *walker) nextName() string {
	w.counter++
	return fmt.Sprintf("stage_%d", w.counter)
}

// flushCurrent finalizes the pending fragment as a new CTE and replaces it
// with a fresh fragment reading from that CTE, returning the CTE's name.
func (w *walker) flushCurrent() string {
	name := w.nextName()
	w.ctes = append(w.ctes, cteEntry{Name: name, SQL: w.cur.selectSQL(w.dialect)})
	w.params = append(w.params, w.cur.params...)
	w.placeholders = append(w.placeholders, w.cur.placeholders...)
	w.cur = newCTEFragment(name, w.dialect)
	return name
}

// run walks stages, folding or flushing the pending fragment per stage, and
// assembles the final statement (or returns early on $facet).
func (w *walker) run(stages []Stage) (Statement, error) {
	for i, stage := range stages {
		var err error
		switch stage.Name {
		case "$match":
			if matchNeedsFlush(w.cur) {
				w.flushCurrent()
			}
			err = applyMatch(w.cur, stage.Body, w.namespace, w.dialect)
		case "$sort":
			if pageNeedsFlush(w.cur) {
				w.flushCurrent()
			}
			err = applySort(w.cur, stage.Body, w.dialect)
		case "$limit":
			if pageNeedsFlush(w.cur) {
				w.flushCurrent()
			}
			err = applyLimit(w.cur, stage.Body)
		case "$skip":
			if pageNeedsFlush(w.cur) {
				w.flushCurrent()
			}
			err = applySkip(w.cur, stage.Body)
		case "$project":
			err = applyProject(w.cur, stage.Body, w.dialect)
		case "$addFields", "$set":
			err = applyAddFields(w.cur, stage.Body, w.dialect)
		case "$group":
			if groupNeedsFlush(w.cur) {
				w.flushCurrent()
			}
			err = applyGroup(w.cur, stage.Body, w.dialect)
		case "$bucket":
			if groupNeedsFlush(w.cur) {
				w.flushCurrent()
			}
			err = applyBucket(w.cur, stage.Body, w.dialect)
		case "$count":
			if groupNeedsFlush(w.cur) {
				w.flushCurrent()
			}
			err = applyCount(w.cur, stage.Body, w.dialect)
		case "$lookup":
			upstream := w.flushCurrent()
			err = w.applyLookupStage(upstream, stage.Body)
		case "$unwind":
			upstream := w.flushCurrent()
			err = w.applyUnwindStage(upstream, stage.Body)
		case "$search":
			upstream := w.flushCurrent()
			err = w.applySearchStage(upstream, stage.Body)
		case "$facet":
			upstream := w.flushCurrent()
			return w.compileFacet(upstream, stage.Body, stages[i+1:])
		default:
			err = mongoerr.BadValue("unhandled aggregation stage %q", stage.Name)
		}
		if err != nil {
			return Statement{}, fmt.Errorf("stage %d (%s): %w", i, stage.Name, err)
		}
	}
	return w.finalize(), nil
}

func (w *walker) finalize() Statement {
	var b strings.Builder
	if len(w.ctes) > 0 {
		b.WriteString("WITH ")
		for i, c := range w.ctes {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s AS (%s)", c.Name, c.SQL)
		}
		b.WriteString(" ")
	}
	b.WriteString(w.cur.selectSQL(w.dialect))

	allParams := make([]interface{}, 0, len(w.params)+len(w.cur.params))
	allParams = append(allParams, w.params...)
	allParams = append(allParams, w.cur.params...)

	allPlaceholders := make([]PlaceholderSite, 0, len(w.placeholders)+len(w.cur.placeholders))
	allPlaceholders = append(allPlaceholders, w.placeholders...)
	allPlaceholders = append(allPlaceholders, w.cur.placeholders...)

	return Statement{SQL: b.String(), Params: allParams, Placeholders: allPlaceholders}
}
