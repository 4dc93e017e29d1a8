package dispatch

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/backend"
	"github.com/relaydb/relaydb/internal/cursor"
	"github.com/relaydb/relaydb/pkg/document"
)

// fakeBackend is a minimal in-memory backend.Backend used to exercise the
// dispatcher without a real storage engine underneath it.
type fakeBackend struct {
	name     string
	docs     map[string][]document.M
	readOnly bool
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, docs: make(map[string][]document.M)}
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) roErr(op string) error {
	if b.readOnly {
		return &backend.ReadOnlyError{Operation: op}
	}
	return nil
}

func (b *fakeBackend) InsertOne(ctx context.Context, ns backend.Namespace, doc document.M) (interface{}, error) {
	if err := b.roErr("insertOne"); err != nil {
		return nil, err
	}
	b.docs[ns.String()] = append(b.docs[ns.String()], doc)
	return doc["_id"], nil
}

func (b *fakeBackend) InsertMany(ctx context.Context, ns backend.Namespace, docs []document.M) ([]interface{}, error) {
	if err := b.roErr("insertMany"); err != nil {
		return nil, err
	}
	ids := make([]interface{}, len(docs))
	for i, d := range docs {
		b.docs[ns.String()] = append(b.docs[ns.String()], d)
		ids[i] = d["_id"]
	}
	return ids, nil
}

func (b *fakeBackend) Find(ctx context.Context, ns backend.Namespace, filter document.M, opts backend.FindOptions) ([]document.M, error) {
	return b.docs[ns.String()], nil
}

func (b *fakeBackend) FindOne(ctx context.Context, ns backend.Namespace, filter document.M) (document.M, bool, error) {
	docs := b.docs[ns.String()]
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

func (b *fakeBackend) CountDocuments(ctx context.Context, ns backend.Namespace, filter document.M) (int64, error) {
	return int64(len(b.docs[ns.String()])), nil
}

func (b *fakeBackend) Distinct(ctx context.Context, ns backend.Namespace, field string, filter document.M) ([]interface{}, error) {
	return nil, nil
}

func (b *fakeBackend) UpdateOne(ctx context.Context, ns backend.Namespace, filter, update document.M) (backend.WriteResult, error) {
	if err := b.roErr("updateOne"); err != nil {
		return backend.WriteResult{}, err
	}
	return backend.WriteResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (b *fakeBackend) UpdateMany(ctx context.Context, ns backend.Namespace, filter, update document.M) (backend.WriteResult, error) {
	if err := b.roErr("updateMany"); err != nil {
		return backend.WriteResult{}, err
	}
	return backend.WriteResult{MatchedCount: 2, ModifiedCount: 2}, nil
}

func (b *fakeBackend) DeleteOne(ctx context.Context, ns backend.Namespace, filter document.M) (backend.WriteResult, error) {
	if err := b.roErr("deleteOne"); err != nil {
		return backend.WriteResult{}, err
	}
	return backend.WriteResult{DeletedCount: 1}, nil
}

func (b *fakeBackend) DeleteMany(ctx context.Context, ns backend.Namespace, filter document.M) (backend.WriteResult, error) {
	if err := b.roErr("deleteMany"); err != nil {
		return backend.WriteResult{}, err
	}
	return backend.WriteResult{DeletedCount: 3}, nil
}

func (b *fakeBackend) Aggregate(ctx context.Context, ns backend.Namespace, pipeline document.A) (backend.AggregateResult, error) {
	return backend.AggregateResult{Documents: b.docs[ns.String()]}, nil
}

func (b *fakeBackend) CreateIndex(ctx context.Context, ns backend.Namespace, idx backend.IndexSpec) error {
	return b.roErr("createIndexes")
}

func (b *fakeBackend) DropIndex(ctx context.Context, ns backend.Namespace, name string) error {
	return b.roErr("dropIndexes")
}

func (b *fakeBackend) ListIndexes(ctx context.Context, ns backend.Namespace) ([]backend.IndexSpec, error) {
	return nil, nil
}

func (b *fakeBackend) CreateCollection(ctx context.Context, ns backend.Namespace) error {
	return b.roErr("create")
}

func (b *fakeBackend) DropCollection(ctx context.Context, ns backend.Namespace) error {
	return b.roErr("drop")
}

func (b *fakeBackend) ListCollections(ctx context.Context, database string) ([]string, error) {
	return []string{"widgets"}, nil
}

func (b *fakeBackend) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{"testdb"}, nil
}

func (b *fakeBackend) DropDatabase(ctx context.Context, database string) error {
	return b.roErr("dropDatabase")
}

func (b *fakeBackend) Stats(ctx context.Context, ns backend.Namespace) (backend.CollectionStats, error) {
	return backend.CollectionStats{Namespace: ns.String(), Count: int64(len(b.docs[ns.String()])), BackendType: b.name}, nil
}

func newTestDispatcher(def backend.Backend, olap map[string]backend.Backend) *Dispatcher {
	return New(Router{Default: def, OLAP: olap}, cursor.New(time.Minute), zap.NewNop(), 0)
}

func TestHandleUnrecognizedCommandReturnsCommandNotFound(t *testing.T) {
	d := newTestDispatcher(newFakeBackend("docstore"), nil)
	reply := d.Handle(context.Background(), "testdb", document.M{"bogus": 1})
	require.EqualValues(t, 0, reply["ok"])
	require.Equal(t, "CommandNotFound", reply["codeName"])
}

func TestHandleHelloReportsWritablePrimary(t *testing.T) {
	d := newTestDispatcher(newFakeBackend("docstore"), nil)
	reply := d.Handle(context.Background(), "admin", document.M{"hello": 1})
	require.EqualValues(t, 1, reply["ok"])
	require.Equal(t, true, reply["isWritablePrimary"])
}

func TestHandleInsertThenFindRoundTrips(t *testing.T) {
	d := newTestDispatcher(newFakeBackend("docstore"), nil)
	ctx := context.Background()

	insertReply := d.Handle(ctx, "testdb", document.M{
		"insert":    "widgets",
		"documents": document.A{document.M{"_id": "a", "name": "sprocket"}},
	})
	require.EqualValues(t, 1, insertReply["ok"])
	require.Equal(t, 1, insertReply["n"])

	findReply := d.Handle(ctx, "testdb", document.M{"find": "widgets", "filter": document.M{}})
	require.EqualValues(t, 1, findReply["ok"])
	c := findReply["cursor"].(document.M)
	require.EqualValues(t, 0, c["id"])
	batch := c["firstBatch"].([]document.M)
	require.Len(t, batch, 1)
	require.Equal(t, "sprocket", batch[0]["name"])
}

func TestHandleFindOpensCursorWhenBatchExceeded(t *testing.T) {
	fb := newFakeBackend("docstore")
	d := New(Router{Default: fb}, cursor.New(time.Minute), zap.NewNop(), 2)
	ctx := context.Background()

	var docs document.A
	for i := 0; i < 5; i++ {
		docs = append(docs, document.M{"_id": i})
	}
	d.Handle(ctx, "testdb", document.M{"insert": "widgets", "documents": docs})

	reply := d.Handle(ctx, "testdb", document.M{"find": "widgets", "filter": document.M{}})
	c := reply["cursor"].(document.M)
	id := c["id"].(int64)
	require.NotZero(t, id)
	first := c["firstBatch"].([]document.M)
	require.Len(t, first, 2)

	more := d.Handle(ctx, "testdb", document.M{"getMore": id, "collection": "widgets"})
	c2 := more["cursor"].(document.M)
	next := c2["nextBatch"].([]document.M)
	require.Len(t, next, 3)
	require.EqualValues(t, 0, c2["id"])
	require.Equal(t, "testdb.widgets", c2["ns"])
}

func TestHandleUpdateAggregatesMatchedAndModified(t *testing.T) {
	d := newTestDispatcher(newFakeBackend("docstore"), nil)
	reply := d.Handle(context.Background(), "testdb", document.M{
		"update": "widgets",
		"updates": document.A{
			document.M{"q": document.M{"a": 1}, "u": document.M{"$set": document.M{"a": 2}}, "multi": false},
			document.M{"q": document.M{}, "u": document.M{"$set": document.M{"a": 3}}, "multi": true},
		},
	})
	require.EqualValues(t, 1, reply["ok"])
	require.EqualValues(t, 3, reply["n"])
	require.EqualValues(t, 3, reply["nModified"])
}

func TestHandleDeleteRoutesByLimit(t *testing.T) {
	d := newTestDispatcher(newFakeBackend("docstore"), nil)
	reply := d.Handle(context.Background(), "testdb", document.M{
		"delete": "widgets",
		"deletes": document.A{
			document.M{"q": document.M{}, "limit": 1},
			document.M{"q": document.M{}, "limit": 0},
		},
	})
	require.EqualValues(t, 1, reply["ok"])
	require.EqualValues(t, 4, reply["n"]) // 1 (DeleteOne) + 3 (DeleteMany)
}

func TestHandleOlapBackendRejectsMutationsAsReadOnly(t *testing.T) {
	olap := newFakeBackend("olap")
	olap.readOnly = true
	d := newTestDispatcher(newFakeBackend("docstore"), map[string]backend.Backend{"analytics": olap})

	reply := d.Handle(context.Background(), "analytics", document.M{
		"insert":    "events",
		"documents": document.A{document.M{"_id": "e1"}},
	})
	require.EqualValues(t, 0, reply["ok"])
	require.Equal(t, "ReadOnlyOperation", reply["codeName"])
}

func TestHandleKillCursorsClosesCursor(t *testing.T) {
	fb := newFakeBackend("docstore")
	d := New(Router{Default: fb}, cursor.New(time.Minute), zap.NewNop(), 1)
	ctx := context.Background()

	d.Handle(ctx, "testdb", document.M{"insert": "widgets", "documents": document.A{
		document.M{"_id": 1}, document.M{"_id": 2},
	}})
	findReply := d.Handle(ctx, "testdb", document.M{"find": "widgets", "filter": document.M{}})
	id := findReply["cursor"].(document.M)["id"].(int64)
	require.NotZero(t, id)

	killReply := d.Handle(ctx, "testdb", document.M{"killCursors": "widgets", "cursors": document.A{id}})
	require.EqualValues(t, 1, killReply["ok"])

	more := d.Handle(ctx, "testdb", document.M{"getMore": id, "collection": "widgets"})
	require.EqualValues(t, 0, more["ok"])
	require.Equal(t, "CursorNotFound", more["codeName"])
}

func TestHandleServerStatusReportsOpenCursorCount(t *testing.T) {
	d := newTestDispatcher(newFakeBackend("docstore"), nil)
	reply := d.Handle(context.Background(), "admin", document.M{"serverStatus": 1})
	require.EqualValues(t, 1, reply["ok"])
	cursors := reply["cursors"].(document.M)
	require.EqualValues(t, 0, cursors["open"])
}

func TestHandleCommandMissingCollectionReturnsFailedToParse(t *testing.T) {
	d := newTestDispatcher(newFakeBackend("docstore"), nil)
	reply := d.Handle(context.Background(), "testdb", document.M{"find": ""})
	require.EqualValues(t, 0, reply["ok"])
	require.Equal(t, "FailedToParse", reply["codeName"])
}
