// Package backend defines C8, the abstract backend interface every storage
// implementation (C9's embedded document store, C10's OLAP adapter) must
// satisfy, plus the shared request/result shapes the command dispatcher
// (C12) builds against regardless of which backend a namespace is bound to.
package backend

import (
	"context"
	"time"

	"github.com/relaydb/relaydb/pkg/document"
)

// Namespace identifies a collection within a database, spec §3 "Collection
// Namespace".
type Namespace struct {
	Database   string
	Collection string
}

func (n Namespace) String() string {
	return n.Database + "." + n.Collection
}

// FindOptions carries the parsed options of a find/aggregate request that
// are not part of the filter document itself.
type FindOptions struct {
	Sort       document.M
	Projection document.M
	Limit      int64 // 0 means unbounded
	Skip       int64
}

// WriteResult is the outcome of a mutating operation, mirroring the wire
// shapes for insert/update/delete command replies.
type WriteResult struct {
	InsertedIDs   []interface{}
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedID    interface{}
}

// IndexSpec describes one index, spec §6 "createIndexes"/"listIndexes".
type IndexSpec struct {
	Name   string
	Keys   document.M
	Unique bool
}

// AggregateResult is C5/C7's output rehydrated into documents: either a
// flat document slice, or — when the pipeline contained $facet — a single
// document of branch name to document slice (spec §4.7 step 2).
type AggregateResult struct {
	Documents []document.M
	IsFacet   bool
	Facets    map[string][]document.M
}

// CollectionStats backs collStats/dbStats (spec §9 "Supplemented
// Features"): enough for a driver handshake smoke test, not a full metrics
// surface.
type CollectionStats struct {
	Namespace    string
	Count        int64
	BackendType  string
	StorageBytes int64
}

// Backend is C8: the operations the command dispatcher (C12) issues
// against whichever storage a namespace is bound to. Every method that
// crosses the storage boundary accepts a context for cancellation (spec §5
// "Cancellation") and may suspend; there is no synchronous variant.
type Backend interface {
	// Name identifies the backend for error messages and collStats/dbStats
	// responses, e.g. "docstore" or "olap".
	Name() string

	InsertOne(ctx context.Context, ns Namespace, doc document.M) (interface{}, error)
	InsertMany(ctx context.Context, ns Namespace, docs []document.M) ([]interface{}, error)

	Find(ctx context.Context, ns Namespace, filter document.M, opts FindOptions) ([]document.M, error)
	FindOne(ctx context.Context, ns Namespace, filter document.M) (document.M, bool, error)
	CountDocuments(ctx context.Context, ns Namespace, filter document.M) (int64, error)
	Distinct(ctx context.Context, ns Namespace, field string, filter document.M) ([]interface{}, error)

	UpdateOne(ctx context.Context, ns Namespace, filter, update document.M) (WriteResult, error)
	UpdateMany(ctx context.Context, ns Namespace, filter, update document.M) (WriteResult, error)
	DeleteOne(ctx context.Context, ns Namespace, filter document.M) (WriteResult, error)
	DeleteMany(ctx context.Context, ns Namespace, filter document.M) (WriteResult, error)

	Aggregate(ctx context.Context, ns Namespace, pipeline document.A) (AggregateResult, error)

	CreateIndex(ctx context.Context, ns Namespace, idx IndexSpec) error
	DropIndex(ctx context.Context, ns Namespace, name string) error
	ListIndexes(ctx context.Context, ns Namespace) ([]IndexSpec, error)

	CreateCollection(ctx context.Context, ns Namespace) error
	DropCollection(ctx context.Context, ns Namespace) error
	ListCollections(ctx context.Context, database string) ([]string, error)
	ListDatabases(ctx context.Context) ([]string, error)
	DropDatabase(ctx context.Context, database string) error

	Stats(ctx context.Context, ns Namespace) (CollectionStats, error)
}

// ReadOnlyError is the sentinel the OLAP backend's mutating methods return
// unconditionally (spec §4.9). Kept here, not in mongoerr, because it is a
// backend-contract detail the dispatcher translates rather than a
// translation-layer error.
type ReadOnlyError struct {
	Operation string
}

func (e *ReadOnlyError) Error() string {
	return e.Operation + " is not supported: backend is read-only"
}

// Clock is the time source threaded through backends that need it (cursor
// timestamps, _created_at/_updated_at columns), so tests can substitute a
// fixed clock instead of depending on wall time.
type Clock func() time.Time
