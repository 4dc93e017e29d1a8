package olap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/mongoerr"
)

func TestQuerySuccessDecodesRowsAndMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "analytics", r.URL.Query().Get("database"))
		w.Write([]byte(`{"data":[{"data":"{\"n\":1}"}],"meta":[{"name":"data","type":"String"}]}`))
	}))
	defer srv.Close()

	tr := New(Config{Endpoint: srv.URL, Database: "analytics"})
	rows, meta, err := tr.Query(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, `{"n":1}`, rows[0]["data"])
	require.Len(t, meta, 1)
	require.Equal(t, "data", meta[0].Name)
}

func TestQueryRetriesOnServiceUnavailableThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[],"meta":[]}`))
	}))
	defer srv.Close()

	tr := New(Config{Endpoint: srv.URL, Database: "analytics", InitialBackoff: time.Millisecond, MaxRetries: 3})
	_, _, err := tr.Query(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestQueryBadRequestIsPermanentBadValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("syntax error"))
	}))
	defer srv.Close()

	tr := New(Config{Endpoint: srv.URL, Database: "analytics", InitialBackoff: time.Millisecond, MaxRetries: 2})
	_, _, err := tr.Query(context.Background(), "SELECT bogus", nil)
	require.Error(t, err)
	merr, ok := mongoerr.As(err)
	require.True(t, ok)
	require.Equal(t, mongoerr.CodeBadValue, merr.Code)
}

func TestQueryPassesParamsAsQueryArgs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "42", r.URL.Query().Get("param_1"))
		w.Write([]byte(`{"data":[],"meta":[]}`))
	}))
	defer srv.Close()

	tr := New(Config{Endpoint: srv.URL, Database: "analytics"})
	_, _, err := tr.Query(context.Background(), "SELECT ?", []interface{}{42})
	require.NoError(t, err)
}
