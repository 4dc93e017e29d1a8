package agg

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/pkg/document"
)

// fakeDialect is a minimal sqlite-flavored stand-in exercising the
// aggregation translator without a real database connection.
type fakeDialect struct{}

func (fakeDialect) Column() string { return "data" }
func (fakeDialect) JSONExtract(source, jsonPath string) string {
	return fmt.Sprintf("json_extract(%s, '%s')", source, jsonPath)
}
func (fakeDialect) JSONType(source, jsonPath string) string {
	return fmt.Sprintf("json_type(%s, '%s')", source, jsonPath)
}
func (fakeDialect) ArrayExpand(source, jsonPath string) string {
	return fmt.Sprintf("json_each(json_extract(%s, '%s'))", source, jsonPath)
}
func (fakeDialect) ArrayExpandIndexed(source, jsonPath string) string {
	return fmt.Sprintf("json_each(json_extract(%s, '%s'))", source, jsonPath)
}
func (fakeDialect) Placeholder(n int) string      { return "?" }
func (fakeDialect) QuoteString(s string) string   { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }
func (fakeDialect) FTSTable(namespace string) string { return "fts_" + namespace }
func (fakeDialect) MongoTypeTag(mongoType string) []string {
	return []string{mongoType}
}
func (fakeDialect) CompileFullText(positive, negative []string) (string, error) {
	return "'" + strings.Join(positive, " ") + "'", nil
}
func (fakeDialect) NotEqual(extract, bound string) string {
	return fmt.Sprintf("%s IS NOT %s", extract, bound)
}
func (fakeDialect) Concat(parts []string) string { return "(" + strings.Join(parts, " || ") + ")" }
func (fakeDialect) Substr(s, start, length string) string {
	return fmt.Sprintf("substr(%s, %s + 1, %s)", s, start, length)
}
func (fakeDialect) ToLower(s string) string { return "lower(" + s + ")" }
func (fakeDialect) ToUpper(s string) string { return "upper(" + s + ")" }
func (fakeDialect) JSONObject(pairs []string) string {
	return "json_object(" + strings.Join(pairs, ", ") + ")"
}
func (fakeDialect) JSONArray(items []string) string {
	return "json_array(" + strings.Join(items, ", ") + ")"
}
func (fakeDialect) Mod(a, b string) string { return fmt.Sprintf("(%s %% %s)", a, b) }
func (fakeDialect) CollectionTable(namespace string) string { return "coll_" + namespace }
func (fakeDialect) JSONSet(source string, paths, values []string) string {
	args := []string{source}
	for i := range paths {
		args = append(args, "'"+paths[i]+"'", values[i])
	}
	return "json_set(" + strings.Join(args, ", ") + ")"
}
func (fakeDialect) JSONRemove(source string, paths []string) string {
	args := append([]string{source}, quoteAll(paths)...)
	return "json_remove(" + strings.Join(args, ", ") + ")"
}
func (fakeDialect) JSONGroupArray(v string) string         { return "json_group_array(" + v + ")" }
func (fakeDialect) JSONGroupArrayDistinct(v string) string { return "json_group_array(DISTINCT " + v + ")" }
func (fakeDialect) First(v string) string                  { return "RELAYDB_FIRST(" + v + ")" }
func (fakeDialect) Last(v string) string                   { return "RELAYDB_LAST(" + v + ")" }

func quoteAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = "'" + p + "'"
	}
	return out
}

func mustParse(t *testing.T, raw document.A) []Stage {
	t.Helper()
	stages, err := ParsePipeline(raw)
	require.NoError(t, err)
	return stages
}

func TestFlatPipelineNoCTEs(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$match": document.M{"status": "active"}},
		document.M{"$project": document.M{"name": 1}},
	})
	stmt, err := Translate(stages, "widgets", fakeDialect{})
	require.NoError(t, err)
	assert.NotContains(t, stmt.SQL, "WITH ")
	assert.Contains(t, stmt.SQL, "WHERE")
	assert.Contains(t, stmt.SQL, "json_object(")
}

func TestProjectFunctionCallRecordsPlaceholderSite(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$project": document.M{
			"doubled": document.M{"$function": document.M{
				"body": "function(n) { return n * 2; }",
				"args": document.A{"$n"},
			}},
		}},
	})
	stmt, err := Translate(stages, "widgets", fakeDialect{})
	require.NoError(t, err)
	require.Len(t, stmt.Placeholders, 1)
	assert.Equal(t, "doubled", stmt.Placeholders[0].Path)
	assert.Equal(t, "function(n) { return n * 2; }", stmt.Placeholders[0].Descriptor.Body)
	assert.NotContains(t, stmt.SQL, "relaydb:fn:")
}

func TestAddFieldsFunctionCallRecordsPlaceholderSite(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$addFields": document.M{
			"tripled": document.M{"$function": document.M{
				"body": "function(n) { return n * 3; }",
				"args": document.A{"$n"},
			}},
		}},
	})
	stmt, err := Translate(stages, "widgets", fakeDialect{})
	require.NoError(t, err)
	require.Len(t, stmt.Placeholders, 1)
	assert.Equal(t, "tripled", stmt.Placeholders[0].Path)
	assert.Equal(t, "function(n) { return n * 3; }", stmt.Placeholders[0].Descriptor.Body)
}

func TestGroupProducesGroupBy(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$group": document.M{"_id": "$status", "total": document.M{"$sum": 1}}},
	})
	stmt, err := Translate(stages, "widgets", fakeDialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "GROUP BY")
	assert.Contains(t, stmt.SQL, "SUM(")
}

func TestLookupEmitsCTE(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$lookup": document.M{
			"from": "orders", "localField": "_id", "foreignField": "customerId", "as": "orders",
		}},
	})
	stmt, err := Translate(stages, "customers", fakeDialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "WITH stage_1 AS")
	assert.Contains(t, stmt.SQL, "json_group_array(")
	assert.Contains(t, stmt.SQL, "coll_orders")
}

func TestFacetReturnsPerBranchStatements(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$facet": document.M{
			"byStatus": document.A{document.M{"$group": document.M{"_id": "$status", "n": document.M{"$sum": 1}}}},
			"count":    document.A{document.M{"$count": "total"}},
		}},
	})
	stmt, err := Translate(stages, "widgets", fakeDialect{})
	require.NoError(t, err)
	require.True(t, stmt.IsFacet())
	require.Contains(t, stmt.Facets, "byStatus")
	require.Contains(t, stmt.Facets, "count")
	assert.Contains(t, stmt.Facets["byStatus"].SQL, "GROUP BY")
	assert.Contains(t, stmt.Facets["count"].SQL, "COUNT(*)")
}

func TestFacetBranchesInheritUpstreamPlaceholderSites(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$addFields": document.M{
			"doubled": document.M{"$function": document.M{
				"body": "function(n) { return n * 2; }",
				"args": document.A{"$n"},
			}},
		}},
		document.M{"$facet": document.M{
			"all": document.A{document.M{"$match": document.M{"status": "active"}}},
		}},
	})
	stmt, err := Translate(stages, "widgets", fakeDialect{})
	require.NoError(t, err)
	require.True(t, stmt.IsFacet())
	require.Contains(t, stmt.Facets, "all")
	require.Len(t, stmt.Facets["all"].Placeholders, 1)
	assert.Equal(t, "doubled", stmt.Facets["all"].Placeholders[0].Path)
}

func TestOptimizeDropsEmptyMatch(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$match": document.M{}},
		document.M{"$project": document.M{"a": 1}},
	})
	optimized := Optimize(stages)
	for _, s := range optimized {
		assert.NotEqual(t, "$match", s.Name)
	}
}

func TestOptimizeFusesAdjacentMatches(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$match": document.M{"a": 1}},
		document.M{"$match": document.M{"b": 2}},
	})
	optimized := Optimize(stages)
	require.Len(t, optimized, 1)
	assert.Equal(t, "$match", optimized[0].Name)
}

func TestOptimizeDropsRedundantSort(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$sort": document.M{"a": 1}},
		document.M{"$sort": document.M{"b": -1}},
	})
	optimized := Optimize(stages)
	require.Len(t, optimized, 1)
	sortBody := optimized[0].Body.(document.M)
	_, hasB := sortBody["b"]
	assert.True(t, hasB)
}

func TestOptimizeDoesNotPushMatchPastAddFieldsOnNestedPath(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$addFields": document.M{"a": document.M{"$literal": document.M{"b": 1}}}},
		document.M{"$match": document.M{"a.b": document.M{"$gt": 5}}},
	})
	optimized := Optimize(stages)
	require.Len(t, optimized, 2)
	assert.Equal(t, "$addFields", optimized[0].Name)
	assert.Equal(t, "$match", optimized[1].Name)
}

func TestOptimizePushesMatchPastAddFieldsOnUnrelatedField(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$addFields": document.M{"a": 1}},
		document.M{"$match": document.M{"b": document.M{"$gt": 5}}},
	})
	optimized := Optimize(stages)
	require.Len(t, optimized, 2)
	assert.Equal(t, "$match", optimized[0].Name)
	assert.Equal(t, "$addFields", optimized[1].Name)
}

func TestParamCountMatchesPlaceholders(t *testing.T) {
	stages := mustParse(t, document.A{
		document.M{"$match": document.M{"age": document.M{"$gte": 18}}},
		document.M{"$addFields": document.M{"bucket": document.M{"$cond": document.M{
			"if": document.M{"$gt": document.A{"$age", 30}}, "then": "old", "else": "young",
		}}}},
	})
	stmt, err := Translate(stages, "people", fakeDialect{})
	require.NoError(t, err)
	assert.Equal(t, strings.Count(stmt.SQL, "?"), len(stmt.Params))
}
