// Package agg implements C3 (stage translators), C4 (pipeline optimizer)
// and C5 (aggregation translator): compiling a MongoDB aggregation pipeline
// into a chain of relational SELECTs.
package agg

import (
	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// Stage is one parsed pipeline stage, e.g. {$match: {...}}.
type Stage struct {
	Name string
	Body interface{}
}

// Shape classifies a stage's effect on the row set it operates over (spec
// §3).
type Shape int

const (
	ShapePreserving Shape = iota
	ShapeTransforming
)

var recognizedStages = map[string]bool{
	"$match": true, "$project": true, "$group": true, "$sort": true,
	"$limit": true, "$skip": true, "$count": true, "$lookup": true,
	"$unwind": true, "$addFields": true, "$set": true, "$bucket": true,
	"$facet": true, "$search": true,
}

// Shape reports whether s preserves or transforms the current document
// shape (spec §3: $match/$sort/$limit/$skip preserve; the rest transform).
func (s Stage) Shape() Shape {
	switch s.Name {
	case "$match", "$sort", "$limit", "$skip":
		return ShapePreserving
	default:
		return ShapeTransforming
	}
}

// AlwaysFlushes reports stages that terminate the current SELECT fragment
// and start a new CTE regardless of shape classification (spec §4.5).
func (s Stage) AlwaysFlushes() bool {
	switch s.Name {
	case "$lookup", "$unwind", "$search", "$facet":
		return true
	default:
		return false
	}
}

// ParsePipeline parses a raw aggregation pipeline array into Stages.
func ParsePipeline(raw document.A) ([]Stage, error) {
	stages := make([]Stage, 0, len(raw))
	for _, item := range raw {
		m, ok := asDoc(item)
		if !ok {
			return nil, mongoerr.BadValue("pipeline element must be a document")
		}
		if len(m) != 1 {
			return nil, mongoerr.BadValue("pipeline stage document must have exactly one key")
		}
		for name, body := range m {
			if !recognizedStages[name] {
				return nil, mongoerr.BadValue("unrecognized aggregation stage %q", name)
			}
			stages = append(stages, Stage{Name: name, Body: body})
		}
	}
	return stages, nil
}

// asDoc normalizes a stage/operator body to document.M regardless of
// whether the driver decoded it order-preserving (document.Document, for
// wire-level bodies) or as a plain map.
func asDoc(v interface{}) (document.M, bool) {
	switch t := v.(type) {
	case document.M:
		return t, true
	case map[string]interface{}:
		return document.M(t), true
	case document.Document:
		return document.ToMap(t), true
	default:
		return nil, false
	}
}

func asDocSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case document.A:
		return []interface{}(t), true
	case []interface{}:
		return t, true
	default:
		return nil, false
	}
}
