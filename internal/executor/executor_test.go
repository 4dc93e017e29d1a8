package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/agg"
	"github.com/relaydb/relaydb/internal/expr"
	"github.com/relaydb/relaydb/internal/jsfunc"
	"github.com/relaydb/relaydb/pkg/document"
)

// openRowSource opens an in-memory sqlite database seeded with a single
// "rows" table whose "data" column holds JSON text, giving Run a real
// *sql.Rows source without standing up a whole docstore.
func openRowSource(t *testing.T, jsonRows ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE rows (data TEXT NOT NULL)`)
	require.NoError(t, err)
	for _, r := range jsonRows {
		_, err := db.Exec(`INSERT INTO rows (data) VALUES (?)`, r)
		require.NoError(t, err)
	}
	return db
}

func TestRunDecodesFlatRows(t *testing.T) {
	db := openRowSource(t,
		`{"_id":"507f1f77bcf86cd799439011","name":"a"}`,
		`{"_id":"507f1f77bcf86cd799439012","name":"b"}`,
	)
	exec := New(jsfunc.NewEvaluator())
	stmt := agg.Statement{SQL: `SELECT data FROM rows`}

	docs, facets, err := exec.Run(context.Background(), db, stmt, nil)
	require.NoError(t, err)
	require.Nil(t, facets)
	require.Len(t, docs, 2)
	require.Equal(t, "a", docs[0]["name"])
	require.Equal(t, "b", docs[1]["name"])
}

func TestRunRehydratesObjectIDStrings(t *testing.T) {
	db := openRowSource(t, `{"_id":"507f1f77bcf86cd799439011","name":"a"}`)
	exec := New(jsfunc.NewEvaluator())
	stmt := agg.Statement{SQL: `SELECT data FROM rows`}

	docs, _, err := exec.Run(context.Background(), db, stmt, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	_, isString := docs[0]["_id"].(string)
	require.False(t, isString, "_id should have been rehydrated into an ObjectID, not left as a string")
}

func TestRunResolvesFunctionPlaceholders(t *testing.T) {
	desc := expr.FunctionDescriptor{
		Body:      "function(x) { return x * 2; }",
		FieldArgs: []string{"n"},
		ArgOrder:  []int{0},
	}

	// The compiled row carries no encoded marker, just a null in the
	// function's output position; the descriptor travels out-of-band on
	// the statement instead.
	raw := mustJSON(t, document.M{"n": 5, "doubled": nil})
	db := openRowSource(t, raw)
	exec := New(jsfunc.NewEvaluator())
	stmt := agg.Statement{
		SQL:          `SELECT data FROM rows`,
		Placeholders: []agg.PlaceholderSite{{Path: "doubled", Descriptor: desc}},
	}

	docs, _, err := exec.Run(context.Background(), db, stmt, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.EqualValues(t, 10, docs[0]["doubled"])
}

func TestRunResolvesFunctionPlaceholdersAcrossAllRows(t *testing.T) {
	desc := expr.FunctionDescriptor{
		Body:      "function(x) { return x * 2; }",
		FieldArgs: []string{"n"},
		ArgOrder:  []int{0},
	}

	rows := []string{
		mustJSON(t, document.M{"n": 5, "doubled": nil}),
		mustJSON(t, document.M{"n": 7, "doubled": nil}),
	}
	db := openRowSource(t, rows...)
	exec := New(jsfunc.NewEvaluator())
	stmt := agg.Statement{
		SQL:          `SELECT data FROM rows`,
		Placeholders: []agg.PlaceholderSite{{Path: "doubled", Descriptor: desc}},
	}

	docs, _, err := exec.Run(context.Background(), db, stmt, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.EqualValues(t, 10, docs[0]["doubled"])
	require.EqualValues(t, 14, docs[1]["doubled"])
}

func TestRunHandlesFacetStatement(t *testing.T) {
	dbA := openRowSource(t, `{"n":1}`)
	// facets share one Queryer in real use (one backend connection); reuse
	// the same in-memory db across both branches by attaching both tables.
	_, err := dbA.Exec(`CREATE TABLE rows_b (data TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = dbA.Exec(`INSERT INTO rows_b (data) VALUES (?)`, `{"n":2}`)
	require.NoError(t, err)

	exec := New(jsfunc.NewEvaluator())
	stmt := agg.Statement{
		Facets: map[string]agg.Statement{
			"branchA": {SQL: `SELECT data FROM rows`},
			"branchB": {SQL: `SELECT data FROM rows_b`},
		},
	}

	docs, facets, err := exec.Run(context.Background(), dbA, stmt, nil)
	require.NoError(t, err)
	require.Nil(t, docs)
	require.Len(t, facets, 2)
	require.EqualValues(t, 1, facets["branchA"][0]["n"])
	require.EqualValues(t, 2, facets["branchB"][0]["n"])
}

func TestResortOrdersDescendingByPath(t *testing.T) {
	docs := []document.M{
		{"v": float64(1)},
		{"v": float64(3)},
		{"v": float64(2)},
	}
	resort(docs, []SortKey{{Path: "v", Descending: true}})
	require.EqualValues(t, 3, docs[0]["v"])
	require.EqualValues(t, 2, docs[1]["v"])
	require.EqualValues(t, 1, docs[2]["v"])
}

func TestCompareValuesMixedTypesTreatsAsEqual(t *testing.T) {
	require.Equal(t, 0, compareValues("a", 1))
	require.Equal(t, -1, compareValues(1, 2))
	require.Equal(t, 1, compareValues("b", "a"))
}

func mustJSON(t *testing.T, m document.M) string {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}(m))
	require.NoError(t, err)
	return string(b)
}
