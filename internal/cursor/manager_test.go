package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

func docs(n int) []document.M {
	out := make([]document.M, n)
	for i := range out {
		out[i] = document.M{"i": i}
	}
	return out
}

func TestOpenAssignsMonotonicIDs(t *testing.T) {
	m := New(time.Minute)
	id1 := m.Open("db.coll", docs(3))
	id2 := m.Open("db.coll", docs(3))
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), id2)
}

func TestAdvancePagesThroughResults(t *testing.T) {
	m := New(time.Minute)
	id := m.Open("db.coll", docs(5))

	batch, more, err := m.Advance(id, 2)
	require.NoError(t, err)
	require.True(t, more)
	require.Len(t, batch, 2)
	require.Equal(t, 0, batch[0]["i"])

	batch, more, err = m.Advance(id, 2)
	require.NoError(t, err)
	require.True(t, more)
	require.Len(t, batch, 2)
	require.Equal(t, 2, batch[0]["i"])

	batch, more, err = m.Advance(id, 2)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, batch, 1)
	require.Equal(t, 4, batch[0]["i"])
}

func TestAdvanceExhaustedCursorRemovesIt(t *testing.T) {
	m := New(time.Minute)
	id := m.Open("db.coll", docs(1))

	_, more, err := m.Advance(id, 10)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, 0, m.Count())

	_, _, err = m.Advance(id, 1)
	require.Error(t, err)
	merr, ok := mongoerr.As(err)
	require.True(t, ok)
	require.Equal(t, mongoerr.CodeCursorNotFound, merr.Code)
}

func TestAdvanceUnknownCursorReturnsNotFound(t *testing.T) {
	m := New(time.Minute)
	_, _, err := m.Advance(999, 1)
	require.Error(t, err)
	merr, ok := mongoerr.As(err)
	require.True(t, ok)
	require.Equal(t, mongoerr.CodeCursorNotFound, merr.Code)
}

func TestAdvanceRejectsConcurrentGetMore(t *testing.T) {
	m := New(time.Minute)
	id := m.Open("db.coll", docs(100))

	// Simulate an in-flight getMore by marking the cursor in-use directly,
	// the same state Advance sets before releasing its lock to do work.
	m.mu.Lock()
	st := m.cursors[id]
	st.inUse = true
	m.mu.Unlock()

	_, _, err := m.Advance(id, 1)
	require.Error(t, err)
	merr, ok := mongoerr.As(err)
	require.True(t, ok)
	require.Equal(t, mongoerr.CodeCursorInUse, merr.Code)

	m.mu.Lock()
	st.inUse = false
	m.mu.Unlock()

	_, more, err := m.Advance(id, 1)
	require.NoError(t, err)
	require.True(t, more)
}

func TestCloseRemovesCursor(t *testing.T) {
	m := New(time.Minute)
	id := m.Open("db.coll", docs(5))
	m.Close(id)
	require.Equal(t, 0, m.Count())

	_, _, err := m.Advance(id, 1)
	require.Error(t, err)
}

func TestCleanupExpiredRemovesStaleCursors(t *testing.T) {
	m := New(time.Millisecond)
	m.Open("db.coll", docs(5))
	require.Equal(t, 1, m.Count())

	time.Sleep(5 * time.Millisecond)
	removed := m.CleanupExpired()
	require.Equal(t, 1, removed)
	require.Equal(t, 0, m.Count())
}

func TestCleanupExpiredSkipsCursorsInUse(t *testing.T) {
	m := New(time.Millisecond)
	id := m.Open("db.coll", docs(5))
	m.mu.Lock()
	m.cursors[id].inUse = true
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	removed := m.CleanupExpired()
	require.Equal(t, 0, removed)
	require.Equal(t, 1, m.Count())
}
