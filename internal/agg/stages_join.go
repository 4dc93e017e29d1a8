package agg

import (
	"fmt"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/internal/query"
	"github.com/relaydb/relaydb/pkg/document"
)

// applyLookupStage compiles $lookup (spec §4.3): a CTE that left-joins the
// upstream source with the foreign collection on local/foreign fields,
// aggregating matches into a JSON array via json_group_array. Only the
// equality-join form (localField/foreignField) is supported; a $lookup
// with let+pipeline is out of scope for this translator (see DESIGN.md).
func (w *walker) applyLookupStage(upstream string, body interface{}) error {
	m, ok := asDoc(body)
	if !ok {
		return mongoerr.BadValue("$lookup expects a document")
	}
	if _, hasPipeline := m["pipeline"]; hasPipeline {
		return mongoerr.BadValue("$lookup with a sub-pipeline is not supported")
	}
	from, _ := m["from"].(string)
	localField, _ := m["localField"].(string)
	foreignField, _ := m["foreignField"].(string)
	as, _ := m["as"].(string)
	if from == "" || localField == "" || foreignField == "" || as == "" {
		return mongoerr.BadValue("$lookup requires from, localField, foreignField, and as")
	}

	d := w.dialect
	upstreamDoc := upstream + "." + d.Column()
	foreignAlias := upstream + "_f"
	foreignTable := d.CollectionTable(from)
	localExtract := d.JSONExtract(upstreamDoc, document.FieldToJSONPath(localField))
	foreignExtract := d.JSONExtract(foreignAlias+"."+d.Column(), document.FieldToJSONPath(foreignField))
	matched := d.JSONGroupArray(foreignAlias + "." + d.Column())

	subselect := fmt.Sprintf("(SELECT %s FROM %s AS %s WHERE %s = %s)",
		matched, foreignTable, foreignAlias, foreignExtract, localExtract)
	newDoc := d.JSONSet(upstreamDoc, []string{document.FieldToJSONPath(as)}, []string{subselect})

	name := w.nextName()
	sql := fmt.Sprintf("SELECT %s AS %s FROM %s", newDoc, d.Column(), upstream)
	w.ctes = append(w.ctes, cteEntry{Name: name, SQL: sql})
	w.cur = newCTEFragment(name, d)
	return nil
}

// applyUnwindStage compiles $unwind (spec §4.3): a CTE joining the upstream
// source against a JSON-each expansion of the target array.
// preserveNullAndEmptyArrays selects an inner vs left join;
// includeArrayIndex additionally writes the iteration index into the
// output document.
func (w *walker) applyUnwindStage(upstream string, body interface{}) error {
	path, includeIndexField, preserveEmpty, err := parseUnwindSpec(body)
	if err != nil {
		return err
	}

	d := w.dialect
	upstreamDoc := upstream + "." + d.Column()
	jsonPath := document.FieldToJSONPath(path)
	alias := upstream + "_u"

	var expandTable string
	paths := []string{jsonPath}
	values := []string{alias + ".value"}
	if includeIndexField != "" {
		expandTable = d.ArrayExpandIndexed(upstreamDoc, jsonPath)
		paths = append(paths, document.FieldToJSONPath(includeIndexField))
		values = append(values, alias+".idx")
	} else {
		expandTable = d.ArrayExpand(upstreamDoc, jsonPath)
	}
	newDoc := d.JSONSet(upstreamDoc, paths, values)

	joinKind := "JOIN"
	if preserveEmpty {
		joinKind = "LEFT JOIN"
	}

	name := w.nextName()
	sql := fmt.Sprintf("SELECT %s AS %s FROM %s %s %s AS %s ON 1=1",
		newDoc, d.Column(), upstream, joinKind, expandTable, alias)
	w.ctes = append(w.ctes, cteEntry{Name: name, SQL: sql})
	w.cur = newCTEFragment(name, d)
	return nil
}

func parseUnwindSpec(body interface{}) (path, includeIndexField string, preserveEmpty bool, err error) {
	switch v := body.(type) {
	case string:
		if len(v) == 0 || v[0] != '$' {
			return "", "", false, mongoerr.BadValue("$unwind string form must be a field path")
		}
		return v[1:], "", false, nil
	case document.M:
		p, _ := v["path"].(string)
		if len(p) == 0 || p[0] != '$' {
			return "", "", false, mongoerr.BadValue("$unwind.path must be a field path")
		}
		includeIndexField, _ = v["includeArrayIndex"].(string)
		preserveEmpty, _ = v["preserveNullAndEmptyArrays"].(bool)
		return p[1:], includeIndexField, preserveEmpty, nil
	default:
		return "", "", false, mongoerr.BadValue("$unwind expects a field path string or a document")
	}
}

// applySearchStage compiles $search (spec §4.3): a join against a
// full-text index table and a MATCH predicate. Only the simple
// {text: {query: "..."}} form is supported.
func (w *walker) applySearchStage(upstream string, body interface{}) error {
	m, ok := asDoc(body)
	if !ok {
		return mongoerr.BadValue("$search expects a document")
	}
	textM, ok := asDoc(m["text"])
	if !ok {
		return mongoerr.BadValue("$search requires a text.query clause")
	}
	queryStr, _ := textM["query"].(string)
	if queryStr == "" {
		return mongoerr.BadValue("$search.text.query must be a non-empty string")
	}

	d := w.dialect
	parsed := query.ParseFullTextQuery(queryStr)
	matchExpr, err := parsed.Compile(d)
	if err != nil {
		return err
	}
	ftsTable := d.FTSTable(w.namespace)

	name := w.nextName()
	sql := fmt.Sprintf("SELECT %s.%s AS %s FROM %s JOIN %s ON %s.rowid = %s.rowid AND %s MATCH %s",
		upstream, d.Column(), d.Column(), upstream, ftsTable, ftsTable, upstream, ftsTable, matchExpr)
	w.ctes = append(w.ctes, cteEntry{Name: name, SQL: sql})
	w.cur = newCTEFragment(name, d)
	return nil
}
