package agg

import (
	"strings"

	"github.com/relaydb/relaydb/pkg/document"
)

// Optimize applies the three semantics-preserving rewrites from spec §4.4
// in this order: elimination (empty $match, redundant $sort), fusion,
// predicate pushdown, fusion again, and a final empty-$match elimination.
// Fusion runs a second time because pushdown can create new fusion
// opportunities (a pushed $match landing next to another $match).
func Optimize(stages []Stage) []Stage {
	stages = eliminateEmptyMatches(stages)
	stages = eliminateRedundantSorts(stages)
	stages = fuseAdjacent(stages)
	stages = pushdownMatch(stages)
	stages = fuseAdjacent(stages)
	stages = eliminateEmptyMatches(stages)
	return stages
}

func eliminateEmptyMatches(stages []Stage) []Stage {
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s.Name == "$match" {
			if m, ok := asDoc(s.Body); ok && len(m) == 0 {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// eliminateRedundantSorts drops a $sort stage that is immediately followed
// by another $sort with nothing between them (spec §4.4): the later sort
// alone determines the final order.
func eliminateRedundantSorts(stages []Stage) []Stage {
	out := make([]Stage, 0, len(stages))
	for i, s := range stages {
		if s.Name == "$sort" && i+1 < len(stages) && stages[i+1].Name == "$sort" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// fuseAdjacent merges adjacent stages of compatible kind (spec §4.4):
// $match+$match under $and, $addFields/$set merged key-wise (later
// overrides earlier), and $project+$project of the same polarity.
func fuseAdjacent(stages []Stage) []Stage {
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		prev := &out[len(out)-1]
		switch {
		case prev.Name == "$match" && s.Name == "$match":
			pm, ok1 := asDoc(prev.Body)
			sm, ok2 := asDoc(s.Body)
			if ok1 && ok2 {
				*prev = Stage{Name: "$match", Body: document.M{"$and": document.A{pm, sm}}}
				continue
			}
		case (prev.Name == "$addFields" || prev.Name == "$set") && s.Name == prev.Name:
			pm, ok1 := asDoc(prev.Body)
			sm, ok2 := asDoc(s.Body)
			if ok1 && ok2 {
				merged := document.M{}
				for k, v := range pm {
					merged[k] = v
				}
				for k, v := range sm {
					merged[k] = v
				}
				*prev = Stage{Name: prev.Name, Body: merged}
				continue
			}
		case prev.Name == "$project" && s.Name == "$project":
			pm, ok1 := asDoc(prev.Body)
			sm, ok2 := asDoc(s.Body)
			if ok1 && ok2 && samePolarity(pm, sm) {
				merged := document.M{}
				for k, v := range pm {
					merged[k] = v
				}
				for k, v := range sm {
					merged[k] = v
				}
				*prev = Stage{Name: "$project", Body: merged}
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func samePolarity(a, b document.M) bool {
	return projectPolarity(a) == projectPolarity(b)
}

func projectPolarity(m document.M) bool {
	for k, v := range m {
		if k == "_id" {
			continue
		}
		if !isProjectZero(v) {
			return true
		}
	}
	return false
}

// pushdownMatch moves a $match stage toward the front of the pipeline,
// stopping before the earliest upstream stage whose output it cannot see
// through: a $addFields/$set/$project that writes a field the match
// references, or any other stage kind ($limit/$skip/$group and every other
// stage). $sort is always transparent since it only reorders, never
// changes field values.
func pushdownMatch(stages []Stage) []Stage {
	for i := 1; i < len(stages); i++ {
		if stages[i].Name != "$match" {
			continue
		}
		m, ok := asDoc(stages[i].Body)
		if !ok {
			continue
		}
		refs := referencedFields(m)
		j := i
		for j > 0 && canPushPast(stages[j-1], refs) {
			stages[j-1], stages[j] = stages[j], stages[j-1]
			j--
		}
	}
	return stages
}

func canPushPast(prior Stage, matchRefs map[string]bool) bool {
	switch prior.Name {
	case "$sort":
		return true
	case "$addFields", "$set":
		m, ok := asDoc(prior.Body)
		if !ok {
			return false
		}
		for k := range m {
			if fieldConflicts(k, matchRefs) {
				return false
			}
		}
		return true
	case "$project":
		m, ok := asDoc(prior.Body)
		if !ok {
			return false
		}
		for k := range m {
			if fieldConflicts(k, matchRefs) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// fieldConflicts reports whether a prior stage writing writeKey can change
// what a downstream $match sees through any of matchRefs: an exact match, or
// a path-prefix relation in either direction (writeKey rewrites a whole
// sub-document a match path reaches into, or a match path names a field
// nested under writeKey).
func fieldConflicts(writeKey string, matchRefs map[string]bool) bool {
	for ref := range matchRefs {
		if ref == writeKey {
			return true
		}
		if strings.HasPrefix(ref, writeKey+".") {
			return true
		}
		if strings.HasPrefix(writeKey, ref+".") {
			return true
		}
	}
	return false
}

// referencedFields collects the top-level field paths a filter document
// constrains, walking through $and/$or/$nor so pushdown can conservatively
// detect whether an upstream stage's writes overlap.
func referencedFields(m document.M) map[string]bool {
	out := make(map[string]bool)
	var walk func(document.M)
	walk = func(doc document.M) {
		for k, v := range doc {
			switch k {
			case "$and", "$or", "$nor":
				if arr, ok := asDocSlice(v); ok {
					for _, item := range arr {
						if sub, ok := asDoc(item); ok {
							walk(sub)
						}
					}
				}
			case "$text", "$not":
				// not a field reference
			default:
				if len(k) > 0 && k[0] != '$' {
					out[k] = true
				}
			}
		}
	}
	walk(m)
	return out
}
