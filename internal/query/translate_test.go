package query

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/pkg/document"
)

// fakeDialect is a minimal sqlite-flavored Dialect used to exercise the
// translator without a real database connection.
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

func (fakeDialect) Placeholder(n int) string { return "?" }

func (fakeDialect) QuoteString(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func (fakeDialect) FTSTable(namespace string) string { return "fts_" + namespace }

func (fakeDialect) MongoTypeTag(mongoType string) []string {
	switch mongoType {
	case "string":
		return []string{"text"}
	case "number":
		return []string{"integer", "real"}
	default:
		return []string{mongoType}
	}
}

func (fakeDialect) NotEqual(extract, bound string) string {
	return fmt.Sprintf("%s IS NOT %s", extract, bound)
}

func (fakeDialect) CompileFullText(positive, negative []string) (string, error) {
	var parts []string
	parts = append(parts, positive...)
	if len(positive) == 0 {
		parts = append(parts, "*")
	}
	for _, n := range negative {
		parts = append(parts, "NOT "+n)
	}
	return "'" + strings.Join(parts, " ") + "'", nil
}

func countPlaceholders(sql string) int {
	return strings.Count(sql, "?")
}

func TestTranslateEmptyFilter(t *testing.T) {
	stmt, err := Translate(document.M{}, "widgets", fakeDialect{})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", stmt.SQL)
	assert.Empty(t, stmt.Params)
}

func TestParamCountMatchesPlaceholders(t *testing.T) {
	filters := []document.M{
		{"age": document.M{"$gte": 18}},
		{"$and": document.A{document.M{"a": 1}, document.M{"b": 2}}},
		{"age": document.M{"$in": document.A{1, 2, 3}}},
		{"tags": document.M{"$elemMatch": document.M{"k": "x", "n": document.M{"$gt": 5}}}},
	}
	for _, f := range filters {
		stmt, err := Translate(f, "c", fakeDialect{})
		require.NoError(t, err)
		assert.Equal(t, countPlaceholders(stmt.SQL), len(stmt.Params), "sql=%s", stmt.SQL)
	}
}

func TestInEmptyMatchesNothing(t *testing.T) {
	stmt, err := Translate(document.M{"a": document.M{"$in": document.A{}}}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", stmt.SQL)
}

func TestNinEmptyMatchesEverything(t *testing.T) {
	stmt, err := Translate(document.M{"a": document.M{"$nin": document.A{}}}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", stmt.SQL)
}

func TestAndEmptyMatchesEverything(t *testing.T) {
	stmt, err := Translate(document.M{"$and": document.A{}}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", stmt.SQL)
}

func TestOrEmptyMatchesNothing(t *testing.T) {
	stmt, err := Translate(document.M{"$or": document.A{}}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", stmt.SQL)
}

func TestElemMatchScopesToElement(t *testing.T) {
	stmt, err := Translate(document.M{
		"tags": document.M{"$elemMatch": document.M{"k": "x", "n": document.M{"$gt": 5}}},
	}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "EXISTS (SELECT 1 FROM json_each(json_extract(data, '$.tags'))")
	assert.Contains(t, stmt.SQL, "json_extract(value, '$.k')")
	assert.Contains(t, stmt.SQL, "json_extract(value, '$.n')")
	// $elemMatch's sub-filter has two fields; map iteration order over the
	// parsed sub-document is unspecified, so only the param set is checked.
	assert.ElementsMatch(t, []interface{}{"x", 5}, stmt.Params)
}

func TestUnknownOperatorFails(t *testing.T) {
	_, err := Translate(document.M{"a": document.M{"$bogus": 1}}, "c", fakeDialect{})
	require.Error(t, err)
}

func TestEqNullIsNull(t *testing.T) {
	stmt, err := Translate(document.M{"a": nil}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "IS NULL")
	assert.Empty(t, stmt.Params)
}

func TestBooleanCoercion(t *testing.T) {
	stmt, err := Translate(document.M{"active": true}, "c", fakeDialect{})
	require.NoError(t, err)
	require.Len(t, stmt.Params, 1)
	assert.Equal(t, 1, stmt.Params[0])
}

func TestNeNullIsNotNull(t *testing.T) {
	stmt, err := Translate(document.M{"a": document.M{"$ne": nil}}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "IS NOT NULL")
	assert.Empty(t, stmt.Params)
}

func TestNeNonNullDelegatesToDialect(t *testing.T) {
	stmt, err := Translate(document.M{"a": document.M{"$ne": 5}}, "c", fakeDialect{})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "IS NOT ?")
	require.Len(t, stmt.Params, 1)
	assert.Equal(t, 5, stmt.Params[0])
}
