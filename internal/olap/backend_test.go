package olap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/backend"
	"github.com/relaydb/relaydb/pkg/document"
	"github.com/relaydb/relaydb/pkg/objectid"
)

func fixedTableName(ns string) string { return "events" }

func TestMutatingMethodsReturnReadOnlyError(t *testing.T) {
	b := NewBackend(Config{Endpoint: "http://unused.invalid"}, fixedTableName)
	ctx := context.Background()
	ns := backend.Namespace{Database: "analytics", Collection: "events"}

	_, err := b.InsertOne(ctx, ns, document.M{})
	require.Error(t, err)
	var roErr *backend.ReadOnlyError
	require.ErrorAs(t, err, &roErr)
	require.Equal(t, "insertOne", roErr.Operation)

	_, err = b.InsertMany(ctx, ns, nil)
	require.ErrorAs(t, err, &roErr)

	_, err = b.UpdateOne(ctx, ns, document.M{}, document.M{})
	require.ErrorAs(t, err, &roErr)

	_, err = b.DeleteMany(ctx, ns, document.M{})
	require.ErrorAs(t, err, &roErr)

	require.ErrorAs(t, b.CreateIndex(ctx, ns, backend.IndexSpec{}), &roErr)
	require.ErrorAs(t, b.DropCollection(ctx, ns), &roErr)
	require.ErrorAs(t, b.DropDatabase(ctx, "analytics"), &roErr)
}

func TestFindSendsTranslatedFilterAndDecodesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"data":"{\"kind\":\"click\"}"}],"meta":[]}`))
	}))
	defer srv.Close()

	b := NewBackend(Config{Endpoint: srv.URL, Database: "analytics"}, fixedTableName)
	docs, err := b.Find(context.Background(), backend.Namespace{Database: "analytics", Collection: "events"},
		document.M{"kind": "click"}, backend.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "click", docs[0]["kind"])
}

func TestFindStringifiesObjectIDFilterValues(t *testing.T) {
	oid := objectid.Nil
	var capturedParam string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedParam = r.URL.Query().Get("param_1")
		w.Write([]byte(`{"data":[],"meta":[]}`))
	}))
	defer srv.Close()

	b := NewBackend(Config{Endpoint: srv.URL, Database: "analytics"}, fixedTableName)
	_, err := b.Find(context.Background(), backend.Namespace{Database: "analytics", Collection: "events"},
		document.M{"_id": oid}, backend.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, oid.Hex(), capturedParam)
}

func TestCountDocumentsParsesNumericResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"data":7}],"meta":[]}`))
	}))
	defer srv.Close()

	b := NewBackend(Config{Endpoint: srv.URL, Database: "analytics"}, fixedTableName)
	n, err := b.CountDocuments(context.Background(), backend.Namespace{Database: "analytics", Collection: "events"}, document.M{})
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
}

func TestAggregateDecodesFlatPipelineResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"data":"{\"total\":3}"}],"meta":[]}`))
	}))
	defer srv.Close()

	b := NewBackend(Config{Endpoint: srv.URL, Database: "analytics"}, fixedTableName)
	result, err := b.Aggregate(context.Background(), backend.Namespace{Database: "analytics", Collection: "events"},
		document.A{document.M{"$count": "total"}})
	require.NoError(t, err)
	require.False(t, result.IsFacet)
	require.Len(t, result.Documents, 1)
	require.EqualValues(t, 3, result.Documents[0]["total"])
}

func TestAggregateRejectsDisallowedStage(t *testing.T) {
	b := NewBackend(Config{Endpoint: "http://unused.invalid"}, fixedTableName)
	_, err := b.Aggregate(context.Background(), backend.Namespace{Database: "analytics", Collection: "events"},
		document.A{document.M{"$bucket": document.M{}}})
	require.Error(t, err)
}

func TestFinalClauseAppendsFinalOnlyWhenConfigured(t *testing.T) {
	b := NewBackend(Config{Endpoint: "http://unused.invalid", UseFinal: true}, fixedTableName)
	require.Equal(t, "events FINAL", b.finalClause("events"))

	b2 := NewBackend(Config{Endpoint: "http://unused.invalid"}, fixedTableName)
	require.Equal(t, "events", b2.finalClause("events"))
}
