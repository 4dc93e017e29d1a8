package olap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/pkg/objectid"
)

func TestDialectPlaceholderUsesNamedClickHouseParam(t *testing.T) {
	d := newDialect(fixedTableName)
	require.Equal(t, "{param_1:String}", d.Placeholder(1))
}

func TestDialectAccumulatorNamesMatchEngineFunctions(t *testing.T) {
	d := newDialect(fixedTableName)
	require.Equal(t, "any(x)", d.First("x"))
	require.Equal(t, "anyLast(x)", d.Last("x"))
	require.Equal(t, "groupArray(x)", d.JSONGroupArray("x"))
	require.Equal(t, "groupUniqArray(x)", d.JSONGroupArrayDistinct("x"))
}

func TestDialectMongoTypeTagMapsToEngineTypes(t *testing.T) {
	d := newDialect(fixedTableName)
	require.Equal(t, []string{"String"}, d.MongoTypeTag("string"))
	require.Equal(t, []string{"Int64"}, d.MongoTypeTag("long"))
	require.Nil(t, d.MongoTypeTag("unknown"))
}

func TestDialectCompileFullTextBuildsPositionPredicate(t *testing.T) {
	d := newDialect(fixedTableName)
	expr, err := d.CompileFullText([]string{"foo"}, nil)
	require.NoError(t, err)
	require.Contains(t, expr, "position(data,")
	require.Contains(t, expr, "foo")

	expr, err = d.CompileFullText([]string{"foo"}, []string{"bar"})
	require.NoError(t, err)
	require.Contains(t, expr, "AND NOT")
}

func TestDialectCompileFullTextRejectsEmptyTerms(t *testing.T) {
	d := newDialect(fixedTableName)
	_, err := d.CompileFullText(nil, nil)
	require.Error(t, err)
}

func TestStringifyIDConvertsObjectIDToHex(t *testing.T) {
	oid := objectid.Nil
	require.Equal(t, oid.Hex(), stringifyID(oid))
	require.Equal(t, "plain", stringifyID("plain"))
}

func TestToDotPathStripsDollarPrefix(t *testing.T) {
	require.Equal(t, "a.b", toDotPath("$.a.b"))
}

func TestDialectNotEqualUsesComparisonOperatorNotIsNot(t *testing.T) {
	d := newDialect(fixedTableName)
	got := d.NotEqual("data", "{param_1:String}")
	require.Equal(t, "data <> {param_1:String}", got)
	require.NotContains(t, got, "IS NOT")
}

func TestDialectJSONSetBuildsMapPatchExpression(t *testing.T) {
	d := newDialect(fixedTableName)
	got := d.JSONSet("data", []string{"$.status"}, []string{"'active'"})
	require.Contains(t, got, "JSONExtractKeysAndValuesRaw(data)")
	require.Contains(t, got, "Map(String, String)")
	require.Contains(t, got, "mapUpdate(")
	require.Contains(t, got, "toJSONString(")
	require.Contains(t, got, "'status'")
	require.NotContains(t, got, "JSON_MODIFY")
}

func TestDialectJSONSetTruncatesNestedPathToTopLevelKey(t *testing.T) {
	d := newDialect(fixedTableName)
	got := d.JSONSet("data", []string{"$.a.b"}, []string{"'1'"})
	require.Contains(t, got, "'a'")
	require.NotContains(t, got, "'a.b'")
}

func TestDialectJSONSetNoopWhenNoPaths(t *testing.T) {
	d := newDialect(fixedTableName)
	require.Equal(t, "data", d.JSONSet("data", nil, nil))
}
