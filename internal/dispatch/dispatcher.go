// Package dispatch implements C12, the command dispatcher: it routes a
// decoded wire command document to the backend bound to its namespace,
// translates the result into the MongoDB command-reply shape, and
// translates any error into the {ok:0, code, codeName, errmsg} shape (spec
// §4.11, §6, §7). It is grounded on the teacher's handler layer
// (api/v1 handlers calling into a service and shaping a JSON response) but
// speaks BSON command documents instead of HTTP/JSON, since the wire
// protocol here is MongoDB's OP_MSG, not REST.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/backend"
	"github.com/relaydb/relaydb/internal/cursor"
	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/pkg/document"
)

// Router resolves which backend a database name is bound to. The embedded
// document store is always the default; individual databases may be bound
// to the OLAP backend (spec §4.9: a namespace is bound to one backend).
type Router struct {
	Default backend.Backend
	OLAP    map[string]backend.Backend
}

func (r Router) resolve(database string) backend.Backend {
	if r.OLAP != nil {
		if b, ok := r.OLAP[database]; ok {
			return b
		}
	}
	return r.Default
}

// Dispatcher is C12.
type Dispatcher struct {
	router       Router
	cursors      *cursor.Manager
	logger       *zap.Logger
	defaultBatch int64
}

// New builds a Dispatcher. defaultBatch is the batch size used when a
// find/aggregate/getMore omits batchSize (spec §4.10).
func New(router Router, cursors *cursor.Manager, logger *zap.Logger, defaultBatch int64) *Dispatcher {
	if defaultBatch <= 0 {
		defaultBatch = 101
	}
	return &Dispatcher{router: router, cursors: cursors, logger: logger, defaultBatch: defaultBatch}
}

// Handle runs one command document against database and returns the reply
// document — either a {ok:1, ...} success shape or a {ok:0, code,
// codeName, errmsg} error shape. Handle never returns a Go error itself;
// every failure is already folded into the reply per spec §7.
func (d *Dispatcher) Handle(ctx context.Context, database string, cmd document.M) document.M {
	name, body, err := commandName(cmd)
	if err != nil {
		return errorReply(err)
	}

	reply, err := d.dispatch(ctx, database, name, body, cmd)
	if err != nil {
		d.logger.Debug("command failed", zap.String("command", name), zap.String("database", database), zap.Error(err))
		return errorReply(err)
	}
	return reply
}

// commandName resolves the leading command key of a MongoDB command
// document: the first key whose value names the target collection (or, for
// admin commands, the command's own flag), per the OP_MSG command
// convention (spec §6).
func commandName(cmd document.M) (string, document.M, error) {
	for _, key := range commandOrder {
		if _, ok := cmd[key]; ok {
			return key, cmd, nil
		}
	}
	for key := range cmd {
		if len(key) > 0 && key[0] != '$' {
			return "", nil, mongoerr.CommandNotFound(key)
		}
	}
	return "", nil, mongoerr.FailedToParse("no recognized command key in request")
}

// commandOrder lists every command name the dispatcher accepts (spec §6
// "Wire commands"), checked in a fixed order since a command document may
// legally carry other bookkeeping keys ($db, lsid, ...) alongside its one
// command key.
var commandOrder = []string{
	"hello", "ismaster",
	"find", "getMore", "killCursors",
	"insert", "update", "delete", "aggregate",
	"count", "distinct",
	"listDatabases", "listCollections", "listIndexes",
	"createIndexes", "dropIndexes",
	"create", "drop", "dropDatabase",
	"collStats", "dbStats", "serverStatus",
}

func (d *Dispatcher) dispatch(ctx context.Context, database, name string, cmd document.M, full document.M) (document.M, error) {
	switch name {
	case "hello", "ismaster":
		return d.handleHello(), nil
	case "find":
		return d.handleFind(ctx, database, cmd)
	case "getMore":
		return d.handleGetMore(database, cmd)
	case "killCursors":
		return d.handleKillCursors(cmd)
	case "insert":
		return d.handleInsert(ctx, database, cmd)
	case "update":
		return d.handleUpdate(ctx, database, cmd)
	case "delete":
		return d.handleDelete(ctx, database, cmd)
	case "aggregate":
		return d.handleAggregate(ctx, database, cmd)
	case "count":
		return d.handleCount(ctx, database, cmd)
	case "distinct":
		return d.handleDistinct(ctx, database, cmd)
	case "listDatabases":
		return d.handleListDatabases(ctx)
	case "listCollections":
		return d.handleListCollections(ctx, database)
	case "listIndexes":
		return d.handleListIndexes(ctx, database, cmd)
	case "createIndexes":
		return d.handleCreateIndexes(ctx, database, cmd)
	case "dropIndexes":
		return d.handleDropIndexes(ctx, database, cmd)
	case "create":
		return d.handleCreate(ctx, database, cmd)
	case "drop":
		return d.handleDrop(ctx, database, cmd)
	case "dropDatabase":
		return d.handleDropDatabase(ctx, database)
	case "collStats":
		return d.handleCollStats(ctx, database, cmd)
	case "dbStats":
		return d.handleDbStats(ctx, database)
	case "serverStatus":
		return d.handleServerStatus(), nil
	default:
		return nil, mongoerr.CommandNotFound(name)
	}
}

func (d *Dispatcher) handleHello() document.M {
	return document.M{
		"ok":             1.0,
		"ismaster":       true,
		"isWritablePrimary": true,
		"maxWireVersion": 17,
		"minWireVersion": 0,
		"maxBsonObjectSize": 16 * 1024 * 1024,
		"readOnly":       false,
	}
}

func (d *Dispatcher) handleServerStatus() document.M {
	return document.M{
		"ok":      1.0,
		"cursors": document.M{"open": int64(d.cursors.Count())},
	}
}

// --- find / getMore / killCursors ---

func collectionName(cmd document.M, key string) (string, error) {
	v, ok := cmd[key]
	if !ok {
		return "", mongoerr.FailedToParse("command missing %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", mongoerr.FailedToParse("%q must be a non-empty string", key)
	}
	return s, nil
}

func asM(v interface{}) document.M {
	if m, ok := v.(document.M); ok {
		return m
	}
	if mm, ok := v.(map[string]interface{}); ok {
		return document.M(mm)
	}
	return document.M{}
}

func asA(v interface{}) document.A {
	if a, ok := v.(document.A); ok {
		return a
	}
	return nil
}

func batchSizeOf(cmd document.M, fallback int64) int64 {
	if v, ok := cmd["batchSize"]; ok {
		if n, ok := toInt64(v); ok {
			return n
		}
	}
	return fallback
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// cursorReply builds the {cursor:{id,ns,firstBatch|nextBatch}} shape (spec
// §6), opening a server-side cursor when more documents remain than fit in
// one batch.
func (d *Dispatcher) cursorReply(ns, batchKey string, docs []document.M, batchSize int64) document.M {
	if batchSize <= 0 || int64(len(docs)) <= batchSize {
		return document.M{
			"ok": 1.0,
			"cursor": document.M{
				"id":     int64(0),
				"ns":     ns,
				batchKey: docs,
			},
		}
	}
	first := docs[:batchSize]
	rest := docs[batchSize:]
	id := d.cursors.Open(ns, rest)
	return document.M{
		"ok": 1.0,
		"cursor": document.M{
			"id":     int64(id),
			"ns":     ns,
			batchKey: first,
		},
	}
}

func (d *Dispatcher) handleFind(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "find")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	opts := backend.FindOptions{Sort: asM(cmd["sort"]), Projection: asM(cmd["projection"])}
	if n, ok := toInt64(cmd["limit"]); ok {
		opts.Limit = n
	}
	if n, ok := toInt64(cmd["skip"]); ok {
		opts.Skip = n
	}

	docs, err := d.router.resolve(database).Find(ctx, ns, asM(cmd["filter"]), opts)
	if err != nil {
		return nil, err
	}
	return d.cursorReply(ns.String(), "firstBatch", docs, batchSizeOf(cmd, d.defaultBatch)), nil
}

func (d *Dispatcher) handleGetMore(database string, cmd document.M) (document.M, error) {
	idVal, ok := toInt64(cmd["getMore"])
	if !ok {
		return nil, mongoerr.FailedToParse("getMore requires a cursor id")
	}
	coll, err := collectionName(cmd, "collection")
	if err != nil {
		return nil, err
	}
	batch := batchSizeOf(cmd, d.defaultBatch)
	docs, hasMore, err := d.cursors.Advance(uint64(idVal), batch)
	if err != nil {
		return nil, err
	}
	id := uint64(idVal)
	if !hasMore {
		id = 0
	}
	return document.M{
		"ok": 1.0,
		"cursor": document.M{
			"id":        int64(id),
			"ns":        fmt.Sprintf("%s.%s", database, coll),
			"nextBatch": docs,
		},
	}, nil
}

func (d *Dispatcher) handleKillCursors(cmd document.M) (document.M, error) {
	ids := asA(cmd["cursors"])
	killed := make(document.A, 0, len(ids))
	for _, v := range ids {
		if n, ok := toInt64(v); ok {
			d.cursors.Close(uint64(n))
			killed = append(killed, n)
		}
	}
	return document.M{"ok": 1.0, "cursorsKilled": killed}, nil
}

// --- writes ---

func (d *Dispatcher) handleInsert(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "insert")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	raw := asA(cmd["documents"])
	docs := make([]document.M, 0, len(raw))
	for _, v := range raw {
		docs = append(docs, asM(v))
	}
	ids, err := d.router.resolve(database).InsertMany(ctx, ns, docs)
	if err != nil {
		return nil, err
	}
	return document.M{"ok": 1.0, "n": len(ids)}, nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "update")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	b := d.router.resolve(database)
	var matched, modified, upserted int64
	var upsertedIDs document.A
	for _, raw := range asA(cmd["updates"]) {
		u := asM(raw)
		multi, _ := u["multi"].(bool)
		var res backend.WriteResult
		var err error
		if multi {
			res, err = b.UpdateMany(ctx, ns, asM(u["q"]), asM(u["u"]))
		} else {
			res, err = b.UpdateOne(ctx, ns, asM(u["q"]), asM(u["u"]))
		}
		if err != nil {
			return nil, err
		}
		matched += res.MatchedCount
		modified += res.ModifiedCount
		if res.UpsertedID != nil {
			upserted++
			upsertedIDs = append(upsertedIDs, document.M{"_id": res.UpsertedID})
		}
	}
	reply := document.M{"ok": 1.0, "n": matched, "nModified": modified}
	if upserted > 0 {
		reply["upserted"] = upsertedIDs
	}
	return reply, nil
}

func (d *Dispatcher) handleDelete(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "delete")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	b := d.router.resolve(database)
	var deleted int64
	for _, raw := range asA(cmd["deletes"]) {
		del := asM(raw)
		limit, _ := toInt64(del["limit"])
		var res backend.WriteResult
		var err error
		if limit == 1 {
			res, err = b.DeleteOne(ctx, ns, asM(del["q"]))
		} else {
			res, err = b.DeleteMany(ctx, ns, asM(del["q"]))
		}
		if err != nil {
			return nil, err
		}
		deleted += res.DeletedCount
	}
	return document.M{"ok": 1.0, "n": deleted}, nil
}

// --- aggregate / count / distinct ---

func (d *Dispatcher) handleAggregate(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "aggregate")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	pipeline := asA(cmd["pipeline"])
	result, err := d.router.resolve(database).Aggregate(ctx, ns, pipeline)
	if err != nil {
		return nil, err
	}
	if result.IsFacet {
		doc := document.M{}
		for name, docs := range result.Facets {
			doc[name] = docs
		}
		return document.M{
			"ok": 1.0,
			"cursor": document.M{
				"id":         int64(0),
				"ns":         ns.String(),
				"firstBatch": []document.M{doc},
			},
		}, nil
	}
	return d.cursorReply(ns.String(), "firstBatch", result.Documents, batchSizeOf(cmd, d.defaultBatch)), nil
}

func (d *Dispatcher) handleCount(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "count")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	n, err := d.router.resolve(database).CountDocuments(ctx, ns, asM(cmd["query"]))
	if err != nil {
		return nil, err
	}
	return document.M{"ok": 1.0, "n": n}, nil
}

func (d *Dispatcher) handleDistinct(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "distinct")
	if err != nil {
		return nil, err
	}
	key, _ := cmd["key"].(string)
	if key == "" {
		return nil, mongoerr.FailedToParse("distinct requires a key")
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	values, err := d.router.resolve(database).Distinct(ctx, ns, key, asM(cmd["query"]))
	if err != nil {
		return nil, err
	}
	return document.M{"ok": 1.0, "values": values}, nil
}

// --- admin / catalog ---

func (d *Dispatcher) handleListDatabases(ctx context.Context) (document.M, error) {
	names, err := d.router.Default.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	dbs := make(document.A, 0, len(names))
	for _, n := range names {
		dbs = append(dbs, document.M{"name": n})
	}
	return document.M{"ok": 1.0, "databases": dbs}, nil
}

func (d *Dispatcher) handleListCollections(ctx context.Context, database string) (document.M, error) {
	names, err := d.router.resolve(database).ListCollections(ctx, database)
	if err != nil {
		return nil, err
	}
	docs := make([]document.M, 0, len(names))
	for _, n := range names {
		docs = append(docs, document.M{"name": n, "type": "collection"})
	}
	return document.M{
		"ok": 1.0,
		"cursor": document.M{
			"id":         int64(0),
			"ns":         database + ".$cmd.listCollections",
			"firstBatch": docs,
		},
	}, nil
}

func (d *Dispatcher) handleListIndexes(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "listIndexes")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	specs, err := d.router.resolve(database).ListIndexes(ctx, ns)
	if err != nil {
		return nil, err
	}
	docs := make([]document.M, 0, len(specs))
	for _, s := range specs {
		docs = append(docs, document.M{"name": s.Name, "key": s.Keys, "unique": s.Unique})
	}
	return document.M{
		"ok": 1.0,
		"cursor": document.M{
			"id":         int64(0),
			"ns":         ns.String() + ".$cmd.listIndexes",
			"firstBatch": docs,
		},
	}, nil
}

func (d *Dispatcher) handleCreateIndexes(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "createIndexes")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	b := d.router.resolve(database)
	n := 0
	for _, raw := range asA(cmd["indexes"]) {
		spec := asM(raw)
		name, _ := spec["name"].(string)
		unique, _ := spec["unique"].(bool)
		if err := b.CreateIndex(ctx, ns, backend.IndexSpec{Name: name, Keys: asM(spec["key"]), Unique: unique}); err != nil {
			return nil, err
		}
		n++
	}
	return document.M{"ok": 1.0, "numIndexesAfter": n}, nil
}

func (d *Dispatcher) handleDropIndexes(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "dropIndexes")
	if err != nil {
		return nil, err
	}
	name, _ := cmd["index"].(string)
	if name == "" {
		return nil, mongoerr.FailedToParse("dropIndexes requires an index name")
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	if err := d.router.resolve(database).DropIndex(ctx, ns, name); err != nil {
		return nil, err
	}
	return document.M{"ok": 1.0}, nil
}

func (d *Dispatcher) handleCreate(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "create")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	if err := d.router.resolve(database).CreateCollection(ctx, ns); err != nil {
		return nil, err
	}
	return document.M{"ok": 1.0}, nil
}

func (d *Dispatcher) handleDrop(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "drop")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	if err := d.router.resolve(database).DropCollection(ctx, ns); err != nil {
		return nil, err
	}
	return document.M{"ok": 1.0}, nil
}

func (d *Dispatcher) handleDropDatabase(ctx context.Context, database string) (document.M, error) {
	if err := d.router.resolve(database).DropDatabase(ctx, database); err != nil {
		return nil, err
	}
	return document.M{"ok": 1.0}, nil
}

func (d *Dispatcher) handleCollStats(ctx context.Context, database string, cmd document.M) (document.M, error) {
	coll, err := collectionName(cmd, "collStats")
	if err != nil {
		return nil, err
	}
	ns := backend.Namespace{Database: database, Collection: coll}
	stats, err := d.router.resolve(database).Stats(ctx, ns)
	if err != nil {
		return nil, err
	}
	return document.M{
		"ok":          1.0,
		"ns":          stats.Namespace,
		"count":       stats.Count,
		"storageSize": stats.StorageBytes,
		"backend":     stats.BackendType,
	}, nil
}

func (d *Dispatcher) handleDbStats(ctx context.Context, database string) (document.M, error) {
	names, err := d.router.resolve(database).ListCollections(ctx, database)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, coll := range names {
		stats, err := d.router.resolve(database).Stats(ctx, backend.Namespace{Database: database, Collection: coll})
		if err != nil {
			return nil, err
		}
		total += stats.Count
	}
	return document.M{"ok": 1.0, "db": database, "collections": len(names), "objects": total}, nil
}

// --- error shaping ---

func errorReply(err error) document.M {
	if merr, ok := mongoerr.As(err); ok {
		return document.M{
			"ok":       0.0,
			"code":     int(merr.Code),
			"codeName": merr.Code.Name(),
			"errmsg":   merr.Message,
		}
	}
	if roErr, ok := err.(*backend.ReadOnlyError); ok {
		return document.M{
			"ok":       0.0,
			"code":     int(mongoerr.CodeReadOnlyOperation),
			"codeName": mongoerr.CodeReadOnlyOperation.Name(),
			"errmsg":   roErr.Error(),
		}
	}
	return document.M{
		"ok":       0.0,
		"code":     int(mongoerr.CodeInternalError),
		"codeName": mongoerr.CodeInternalError.Name(),
		"errmsg":   err.Error(),
	}
}
