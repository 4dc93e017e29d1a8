package app

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/cursor"
	"github.com/relaydb/relaydb/internal/dispatch"
	"github.com/relaydb/relaydb/internal/docstore"
	"github.com/relaydb/relaydb/internal/wire"
	"github.com/relaydb/relaydb/pkg/document"
)

func TestHandleConnectionRoundTripsHelloOverWire(t *testing.T) {
	store, err := docstore.Open(docstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dispatcher := dispatch.New(dispatch.Router{Default: store}, cursor.New(time.Minute), zap.NewNop(), 0)

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan struct{})
	go func() {
		handleConnection(server, dispatcher, zap.NewNop())
		close(done)
	}()

	require.NoError(t, wire.WriteReply(client, 1, document.M{"hello": 1, "$db": "admin"}))

	msg, err := wire.ReadMessage(client)
	require.NoError(t, err)
	require.EqualValues(t, 1, msg.Command["ok"])
	require.Equal(t, true, msg.Command["isWritablePrimary"])

	client.Close()
	<-done
}

func TestHandleConnectionClosesOnEOF(t *testing.T) {
	store, err := docstore.Open(docstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	dispatcher := dispatch.New(dispatch.Router{Default: store}, cursor.New(time.Minute), zap.NewNop(), 0)

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		handleConnection(server, dispatcher, zap.NewNop())
		close(done)
	}()
	client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConnection did not return after client closed")
	}
}

func TestRunCursorCleanupStopsOnSignal(t *testing.T) {
	cursors := cursor.New(time.Minute)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		runCursorCleanup(cursors, stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runCursorCleanup did not stop")
	}
}
