// Package executor implements C7, the aggregation executor: it runs a
// compiled C5 statement against a backend's SQL driver, rehydrates rows
// into documents, drives C6 for $function placeholder resolution, and
// applies the residual post-processing step 7 describes (re-sorting after
// placeholder resolution when a $sort followed a $function projection).
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/relaydb/relaydb/internal/agg"
	"github.com/relaydb/relaydb/internal/expr"
	"github.com/relaydb/relaydb/internal/jsfunc"
	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
	"github.com/relaydb/relaydb/pkg/objectid"
)

// Queryer is the subset of *sql.DB (or *sql.Tx) the executor needs to run
// compiled SQL. Kept as an interface so docstore can hand in either a pool
// handle or a transaction.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Executor runs compiled aggregation statements and resolves $function
// placeholders (spec §4.7).
type Executor struct {
	eval jsfunc.Evaluator
}

// New builds an Executor around the process-wide function evaluator (C6).
func New(eval jsfunc.Evaluator) *Executor {
	return &Executor{eval: eval}
}

// Run executes stmt against q (spec §4.7 steps 1-7). sortKeys carries the
// keys of a $sort stage positioned after a $project/$addFields/$set (nil
// otherwise); when any placeholder was resolved, the backend sorted on the
// pre-resolution values, so Run re-sorts in memory by sortKeys (step 7).
// Callers determine sortKeys from the pipeline shape before compiling,
// since it is not recoverable from stmt alone.
func (e *Executor) Run(ctx context.Context, q Queryer, stmt agg.Statement, sortKeys []SortKey) ([]document.M, map[string][]document.M, error) {
	if stmt.IsFacet() {
		facets := make(map[string][]document.M, len(stmt.Facets))
		for name, branch := range stmt.Facets {
			docs, _, err := e.Run(ctx, q, branch, nil)
			if err != nil {
				return nil, nil, fmt.Errorf("facet %q: %w", name, err)
			}
			facets[name] = docs
		}
		return nil, facets, nil
	}

	docs, err := e.runFlat(ctx, q, stmt)
	if err != nil {
		return nil, nil, err
	}

	resolutions, err := e.resolvePlaceholders(ctx, docs, stmt.Placeholders)
	if err != nil {
		return nil, nil, err
	}

	if len(resolutions) > 0 && len(sortKeys) > 0 {
		resort(docs, sortKeys)
	}
	return docs, nil, nil
}

// SortKey is a single $sort field used for the in-memory re-sort step 7
// requires when a downstream $function resolution can change order.
type SortKey struct {
	Path       string
	Descending bool
}

func (e *Executor) runFlat(ctx context.Context, q Queryer, stmt agg.Statement) ([]document.M, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Params...)
	if err != nil {
		return nil, mongoerr.Wrap(mongoerr.CodeInternalError, err, "aggregation query failed")
	}
	defer rows.Close()

	var docs []document.M
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("executor: scanning row: %w", err)
		}
		doc, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("executor: decoding row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executor: iterating rows: %w", err)
	}
	return docs, nil
}

func decodeRow(raw string) (document.M, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	rehydrateObjectIDs(m)
	return document.M(m), nil
}

// rehydrateObjectIDs walks a freshly json.Unmarshal'd document and replaces
// any 24-char hex string at key "_id" with the typed ObjectID
// value, so downstream comparisons (spec §8 "Inserted documents round-trip")
// see an ObjectID rather than its wire string form.
func rehydrateObjectIDs(m map[string]interface{}) {
	if v, ok := m["_id"]; ok {
		if s, ok := v.(string); ok && objectid.IsValidHex(s) {
			if oid, err := objectid.FromHex(s); err == nil {
				m["_id"] = oid
			}
		}
	}
}

// placeholderSite is one (document, field path) location a $function call
// needs to be evaluated at.
type placeholderSite struct {
	docIndex int
	path     string
	desc     expr.FunctionDescriptor
}

// resolvePlaceholders implements C7 steps 4-6: for every row and every
// $function site the compiled statement recorded (spec §9's out-of-band
// placeholder list, in agg.Statement.Placeholders), group by function body,
// batch-call C6, and assign results back in place. Returns the resolved
// sites so the caller can decide whether a re-sort is needed.
func (e *Executor) resolvePlaceholders(ctx context.Context, docs []document.M, placeholders []agg.PlaceholderSite) ([]placeholderSite, error) {
	if len(placeholders) == 0 {
		return nil, nil
	}
	sites := make([]placeholderSite, 0, len(docs)*len(placeholders))
	for i := range docs {
		for _, ps := range placeholders {
			sites = append(sites, placeholderSite{docIndex: i, path: ps.Path, desc: ps.Descriptor})
		}
	}

	groups := make(map[string][]int) // body -> indices into sites
	for i, s := range sites {
		groups[s.desc.Body] = append(groups[s.desc.Body], i)
	}

	for body, idxs := range groups {
		argsList := make([][]interface{}, len(idxs))
		for j, siteIdx := range idxs {
			argsList[j] = buildArgs(docs[sites[siteIdx].docIndex], sites[siteIdx].desc)
		}
		results, err := e.eval.ExecuteBatch(ctx, body, argsList)
		if err != nil {
			return nil, mongoerr.Wrap(mongoerr.CodeInternalError, err, "$function batch evaluation failed")
		}
		for j, siteIdx := range idxs {
			s := sites[siteIdx]
			document.Set(docs[s.docIndex], s.path, results[j])
		}
	}
	return sites, nil
}

// buildArgs reconstructs the argument list a $function call needs from its
// descriptor: for each position in ArgOrder, either the field value read
// off doc (FieldArgs[pos] non-empty) or the literal recorded at that
// position (spec §4.2).
func buildArgs(doc document.M, desc expr.FunctionDescriptor) []interface{} {
	args := make([]interface{}, len(desc.ArgOrder))
	for i, pos := range desc.ArgOrder {
		if pos < len(desc.FieldArgs) && desc.FieldArgs[pos] != "" {
			v, _ := document.Get(doc, desc.FieldArgs[pos])
			args[i] = v
			continue
		}
		args[i] = desc.LiteralArgs[pos]
	}
	return args
}

// resort re-sorts docs in memory by sortKeys (spec §4.7 step 7).
func resort(docs []document.M, sortKeys []SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range sortKeys {
			vi, _ := document.Get(docs[i], k.Path)
			vj, _ := document.Get(docs[j], k.Path)
			cmp := compareValues(vi, vj)
			if cmp == 0 {
				continue
			}
			if k.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareValues(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
