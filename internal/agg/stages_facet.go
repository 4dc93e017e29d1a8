package agg

import (
	"fmt"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// compileFacet compiles $facet (spec §4.3, §4.5): each branch pipeline is
// translated independently from the same upstream CTE, and compilation
// terminates — no stage may follow $facet.
func (w *walker) compileFacet(upstream string, body interface{}, rest []Stage) (Statement, error) {
	if len(rest) > 0 {
		return Statement{}, mongoerr.BadValue("$facet must be the last stage in the pipeline")
	}
	m, ok := asDoc(body)
	if !ok {
		return Statement{}, mongoerr.BadValue("$facet expects a document of branch pipelines")
	}
	facets := make(map[string]Statement, len(m))
	for name, raw := range m {
		arr, ok := asDocSlice(raw)
		if !ok {
			return Statement{}, mongoerr.BadValue("$facet branch %q must be a pipeline array", name)
		}
		branchStages, err := ParsePipeline(document.A(arr))
		if err != nil {
			return Statement{}, fmt.Errorf("$facet branch %q: %w", name, err)
		}
		branchStages = Optimize(branchStages)

		sub := &walker{
			dialect:      w.dialect,
			namespace:    w.namespace,
			ctes:         append([]cteEntry{}, w.ctes...),
			params:       append([]interface{}{}, w.params...),
			placeholders: append([]PlaceholderSite{}, w.placeholders...),
			counter:      w.counter,
			cur:          newCTEFragment(upstream, w.dialect),
		}
		stmt, err := sub.run(branchStages)
		if err != nil {
			return Statement{}, fmt.Errorf("$facet branch %q: %w", name, err)
		}
		facets[name] = stmt
	}
	return Statement{Facets: facets}, nil
}
