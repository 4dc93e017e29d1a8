package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/relaydb/relaydb/internal/agg"
	"github.com/relaydb/relaydb/internal/backend"
	"github.com/relaydb/relaydb/internal/executor"
	"github.com/relaydb/relaydb/internal/jsfunc"
	"github.com/relaydb/relaydb/internal/mongoerr"
	"github.com/relaydb/relaydb/internal/query"
	"github.com/relaydb/relaydb/pkg/document"
	"github.com/relaydb/relaydb/pkg/objectid"
)

// Store is C9, the document backend: the embedded JSON-relational store
// every "native" namespace binds to. It owns the migration manager, the
// collection-name-to-table resolution, the ObjectID generator, and the
// sole SQL connection pool collections live behind.
type Store struct {
	db   *sql.DB
	gen  *objectid.Generator
	exec *executor.Executor

	mu    sync.RWMutex
	known map[string]string // namespace string -> physical table name

	dialect *sqliteDialect
}

// Config configures the on-disk location and busy timeout of the embedded
// store (spec's AMBIENT STACK "DocStoreConfig" section).
type Config struct {
	Path           string
	BusyTimeoutMS  int
	EvaluatorCache jsfunc.Evaluator
}

// Open opens (creating if absent) the SQLite file at cfg.Path, runs
// migrations, and returns a ready Store.
func Open(cfg Config) (*Store, error) {
	dsn := cfg.Path
	if cfg.BusyTimeoutMS > 0 {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)", cfg.Path, cfg.BusyTimeoutMS)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: opening %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, matches teacher's conservative pool sizing intent

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	gen, err := objectid.NewGenerator()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: seeding ObjectID generator: %w", err)
	}

	eval := cfg.EvaluatorCache
	if eval == nil {
		eval = jsfunc.NewEvaluator()
	}

	s := &Store{
		db:    db,
		gen:   gen,
		exec:  executor.New(eval),
		known: make(map[string]string),
	}
	s.dialect = newDialect(func(ns string) string {
		s.mu.RLock()
		tbl, ok := s.known[ns]
		s.mu.RUnlock()
		if !ok {
			return fmt.Sprintf("(SELECT NULL AS %s WHERE 0)", s.dialect.Column())
		}
		return tbl
	})

	if err := s.loadKnownCollections(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return "docstore" }

func (s *Store) loadKnownCollections(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT database, name FROM collections`)
	if err != nil {
		return fmt.Errorf("docstore: loading collections: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dbName, coll string
		if err := rows.Scan(&dbName, &coll); err != nil {
			return err
		}
		ns := backend.Namespace{Database: dbName, Collection: coll}
		s.mu.Lock()
		s.known[ns.String()] = sanitizeTableName(dbName, coll)
		s.mu.Unlock()
	}
	return rows.Err()
}

// ensureTable creates the physical table (and metadata row) for ns if it
// doesn't exist yet (spec §3: "created lazily on first write").
func (s *Store) ensureTable(ctx context.Context, ns backend.Namespace) (string, error) {
	s.mu.RLock()
	tbl, ok := s.known[ns.String()]
	s.mu.RUnlock()
	if ok {
		return tbl, nil
	}

	tbl = sanitizeTableName(ns.Database, ns.Collection)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`, quoteIdent(tbl))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return "", fmt.Errorf("docstore: creating table for %s: %w", ns, err)
	}
	if err := s.ensureFTS(ctx, tbl); err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (database, name) VALUES (?, ?) ON CONFLICT(database, name) DO NOTHING`,
		ns.Database, ns.Collection); err != nil {
		return "", fmt.Errorf("docstore: recording collection %s: %w", ns, err)
	}

	s.mu.Lock()
	s.known[ns.String()] = tbl
	s.mu.Unlock()
	return tbl, nil
}

// ensureFTS creates the external-content FTS5 table backing tbl's $text/
// $search support, plus the triggers keeping it in sync with writes to tbl
// (spec §4.1 "$text"/"$search"). The indexed column is the document's raw
// JSON text rather than individual fields: a per-field index would need a
// schema (which fields are indexed) the collection-creation path here has
// no way to receive, and indexing the whole document still lets
// CompileFullText's MATCH predicate find any term a document contains.
func (s *Store) ensureFTS(ctx context.Context, tbl string) error {
	fts := ftsTableName(tbl)
	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(body, content=%s, content_rowid='rowid')`,
			quoteIdent(fts), quoteIdent(tbl)),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s BEGIN
			INSERT INTO %s(rowid, body) VALUES (new.rowid, new.data);
		END`, quoteIdent(tbl+"_ai"), quoteIdent(tbl), quoteIdent(fts)),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s BEGIN
			INSERT INTO %s(%s, rowid, body) VALUES ('delete', old.rowid, old.data);
		END`, quoteIdent(tbl+"_ad"), quoteIdent(tbl), quoteIdent(fts), quoteIdent(fts)),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s BEGIN
			INSERT INTO %s(%s, rowid, body) VALUES ('delete', old.rowid, old.data);
			INSERT INTO %s(rowid, body) VALUES (new.rowid, new.data);
		END`, quoteIdent(tbl+"_au"), quoteIdent(tbl), quoteIdent(fts), quoteIdent(fts), quoteIdent(fts)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("docstore: creating fts index for %s: %w", tbl, err)
		}
	}
	return nil
}

// lookupTable returns the physical table for ns without creating it; ok is
// false if the namespace has never been written to.
func (s *Store) lookupTable(ns backend.Namespace) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tbl, ok := s.known[ns.String()]
	return tbl, ok
}

// --- writes ---

func (s *Store) InsertOne(ctx context.Context, ns backend.Namespace, doc document.M) (interface{}, error) {
	ids, err := s.InsertMany(ctx, ns, []document.M{doc})
	if err != nil {
		return nil, err
	}
	return ids[0], nil
}

func (s *Store) InsertMany(ctx context.Context, ns backend.Namespace, docs []document.M) ([]interface{}, error) {
	tbl, err := s.ensureTable(ctx, ns)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: insert: %w", err)
	}
	defer tx.Rollback()

	ids := make([]interface{}, len(docs))
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (_id, data) VALUES (?, ?)`, quoteIdent(tbl)))
	if err != nil {
		return nil, fmt.Errorf("docstore: insert: %w", err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		idVal, hexID := s.resolveInsertID(doc)
		doc["_id"] = idVal
		raw, err := json.Marshal(map[string]interface{}(doc))
		if err != nil {
			return nil, fmt.Errorf("docstore: marshaling document: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, hexID, string(raw)); err != nil {
			return nil, mongoerr.Wrap(mongoerr.CodeInternalError, err, "insert failed")
		}
		ids[i] = idVal
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("docstore: insert: %w", err)
	}
	return ids, nil
}

// resolveInsertID generates an ObjectID when the document has no _id (spec
// §4.8), or preserves whatever _id the caller supplied, returning both the
// value to store in the document and its hex form for the primary key
// column.
func (s *Store) resolveInsertID(doc document.M) (interface{}, string) {
	if existing, ok := doc["_id"]; ok {
		switch v := existing.(type) {
		case objectid.ObjectID:
			return v, v.Hex()
		case string:
			return v, v
		default:
			b, _ := json.Marshal(v)
			return v, string(b)
		}
	}
	oid := s.gen.New()
	return oid, oid.Hex()
}

func (s *Store) UpdateOne(ctx context.Context, ns backend.Namespace, filter, update document.M) (backend.WriteResult, error) {
	return s.update(ctx, ns, filter, update, false)
}

func (s *Store) UpdateMany(ctx context.Context, ns backend.Namespace, filter, update document.M) (backend.WriteResult, error) {
	return s.update(ctx, ns, filter, update, true)
}

func (s *Store) update(ctx context.Context, ns backend.Namespace, filter, update document.M, many bool) (backend.WriteResult, error) {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return backend.WriteResult{}, nil
	}
	stmt, err := query.Translate(filter, ns.String(), s.dialect)
	if err != nil {
		return backend.WriteResult{}, err
	}
	limitClause := ""
	if !many {
		limitClause = " LIMIT 1"
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.WriteResult{}, err
	}
	defer tx.Rollback()

	sqlText := fmt.Sprintf(`SELECT _id, data FROM %s WHERE %s%s`, quoteIdent(tbl), stmt.SQL, limitClause)
	rows, err := tx.QueryContext(ctx, sqlText, stmt.Params...)
	if err != nil {
		return backend.WriteResult{}, mongoerr.Wrap(mongoerr.CodeInternalError, err, "update query failed")
	}
	type row struct {
		id  string
		doc map[string]interface{}
	}
	var matched []row
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return backend.WriteResult{}, err
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			rows.Close()
			return backend.WriteResult{}, err
		}
		matched = append(matched, row{id: id, doc: m})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return backend.WriteResult{}, err
	}

	result := backend.WriteResult{MatchedCount: int64(len(matched))}
	if len(matched) == 0 {
		return result, nil
	}

	upd, err := tx.PrepareContext(ctx, fmt.Sprintf(`UPDATE %s SET data = ? WHERE _id = ?`, quoteIdent(tbl)))
	if err != nil {
		return backend.WriteResult{}, err
	}
	defer upd.Close()

	for _, r := range matched {
		applyUpdateOperators(document.M(r.doc), update)
		raw, err := json.Marshal(r.doc)
		if err != nil {
			return backend.WriteResult{}, err
		}
		if _, err := upd.ExecContext(ctx, string(raw), r.id); err != nil {
			return backend.WriteResult{}, err
		}
		result.ModifiedCount++
	}
	if err := tx.Commit(); err != nil {
		return backend.WriteResult{}, err
	}
	return result, nil
}

// applyUpdateOperators applies $set/$unset to doc in place (spec §4.8:
// "apply update operators ($set sets dot-paths; $unset removes) without
// touching _id").
func applyUpdateOperators(doc document.M, update document.M) {
	if setDoc, ok := update["$set"]; ok {
		if m, ok := asDoc(setDoc); ok {
			for k, v := range m {
				if k == "_id" {
					continue
				}
				document.Set(doc, k, v)
			}
		}
	}
	if unsetDoc, ok := update["$unset"]; ok {
		if m, ok := asDoc(unsetDoc); ok {
			for k := range m {
				if k == "_id" {
					continue
				}
				document.Unset(doc, k)
			}
		}
	}
}

func asDoc(v interface{}) (document.M, bool) {
	switch t := v.(type) {
	case document.M:
		return t, true
	case map[string]interface{}:
		return document.M(t), true
	default:
		return nil, false
	}
}

func (s *Store) DeleteOne(ctx context.Context, ns backend.Namespace, filter document.M) (backend.WriteResult, error) {
	return s.delete(ctx, ns, filter, false)
}

func (s *Store) DeleteMany(ctx context.Context, ns backend.Namespace, filter document.M) (backend.WriteResult, error) {
	return s.delete(ctx, ns, filter, true)
}

func (s *Store) delete(ctx context.Context, ns backend.Namespace, filter document.M, many bool) (backend.WriteResult, error) {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return backend.WriteResult{}, nil
	}
	stmt, err := query.Translate(filter, ns.String(), s.dialect)
	if err != nil {
		return backend.WriteResult{}, err
	}
	var sqlText string
	if many {
		sqlText = fmt.Sprintf(`DELETE FROM %s WHERE %s`, quoteIdent(tbl), stmt.SQL)
	} else {
		sqlText = fmt.Sprintf(`DELETE FROM %s WHERE _id IN (SELECT _id FROM %s WHERE %s LIMIT 1)`,
			quoteIdent(tbl), quoteIdent(tbl), stmt.SQL)
	}
	res, err := s.db.ExecContext(ctx, sqlText, stmt.Params...)
	if err != nil {
		return backend.WriteResult{}, mongoerr.Wrap(mongoerr.CodeInternalError, err, "delete failed")
	}
	n, _ := res.RowsAffected()
	return backend.WriteResult{DeletedCount: n}, nil
}

// --- reads ---

// fromClause renders the FROM clause for tbl, joining in the FTS5 shadow
// table when stmt's filter used $text/$search (spec §6) so the MATCH
// predicate translateText emitted has something to bind against.
func fromClause(tbl string, stmt query.Statement) string {
	if !stmt.UsesFullText() {
		return quoteIdent(tbl)
	}
	return fmt.Sprintf("%s AS t JOIN %s ON %s.rowid = t.rowid", quoteIdent(tbl), stmt.FTSTable, stmt.FTSTable)
}

func (s *Store) Find(ctx context.Context, ns backend.Namespace, filter document.M, opts backend.FindOptions) ([]document.M, error) {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return nil, nil
	}
	stmt, err := query.Translate(filter, ns.String(), s.dialect)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT data FROM %s WHERE %s", fromClause(tbl, stmt), stmt.SQL)
	if len(opts.Sort) > 0 {
		pairs, _ := document.Pairs(opts.Sort)
		order := make([]string, 0, len(pairs))
		for _, p := range pairs {
			dir := "ASC"
			if n, ok := p.Value.(int); ok && n < 0 {
				dir = "DESC"
			} else if n, ok := p.Value.(int32); ok && n < 0 {
				dir = "DESC"
			} else if n, ok := p.Value.(int64); ok && n < 0 {
				dir = "DESC"
			} else if n, ok := p.Value.(float64); ok && n < 0 {
				dir = "DESC"
			}
			order = append(order, s.dialect.JSONExtract("data", document.FieldToJSONPath(p.Key))+" "+dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}
	if opts.Skip > 0 {
		if opts.Limit <= 0 {
			b.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&b, " OFFSET %d", opts.Skip)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), stmt.Params...)
	if err != nil {
		return nil, mongoerr.Wrap(mongoerr.CodeInternalError, err, "find query failed")
	}
	defer rows.Close()

	var docs []document.M
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
		rehydrateID(m)
		docs = append(docs, document.M(m))
	}
	return docs, rows.Err()
}

func rehydrateID(m map[string]interface{}) {
	if v, ok := m["_id"]; ok {
		if s, ok := v.(string); ok && objectid.IsValidHex(s) {
			if oid, err := objectid.FromHex(s); err == nil {
				m["_id"] = oid
			}
		}
	}
}

func (s *Store) FindOne(ctx context.Context, ns backend.Namespace, filter document.M) (document.M, bool, error) {
	docs, err := s.Find(ctx, ns, filter, backend.FindOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

func (s *Store) CountDocuments(ctx context.Context, ns backend.Namespace, filter document.M) (int64, error) {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return 0, nil
	}
	stmt, err := query.Translate(filter, ns.String(), s.dialect)
	if err != nil {
		return 0, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, fromClause(tbl, stmt), stmt.SQL), stmt.Params...)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, mongoerr.Wrap(mongoerr.CodeInternalError, err, "count query failed")
	}
	return n, nil
}

func (s *Store) Distinct(ctx context.Context, ns backend.Namespace, field string, filter document.M) ([]interface{}, error) {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return nil, nil
	}
	stmt, err := query.Translate(filter, ns.String(), s.dialect)
	if err != nil {
		return nil, err
	}
	extract := s.dialect.JSONExtract("data", document.FieldToJSONPath(field))
	sqlText := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s`, extract, quoteIdent(tbl), stmt.SQL)
	rows, err := s.db.QueryContext(ctx, sqlText, stmt.Params...)
	if err != nil {
		return nil, mongoerr.Wrap(mongoerr.CodeInternalError, err, "distinct query failed")
	}
	defer rows.Close()
	var out []interface{}
	for rows.Next() {
		var raw interface{}
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if raw != nil {
			out = append(out, raw)
		}
	}
	return out, rows.Err()
}

// Aggregate compiles pipeline via C5 scoped to ns and hands the result to
// C7 (spec §4.8 "aggregate").
func (s *Store) Aggregate(ctx context.Context, ns backend.Namespace, pipeline document.A) (backend.AggregateResult, error) {
	stages, err := agg.ParsePipeline(pipeline)
	if err != nil {
		return backend.AggregateResult{}, err
	}
	sortKeys := trailingSortKeys(stages)

	stmt, err := agg.Translate(stages, ns.String(), s.dialect)
	if err != nil {
		return backend.AggregateResult{}, err
	}

	docs, facets, err := s.exec.Run(ctx, s.db, stmt, sortKeys)
	if err != nil {
		return backend.AggregateResult{}, err
	}
	if facets != nil {
		return backend.AggregateResult{IsFacet: true, Facets: facets}, nil
	}
	return backend.AggregateResult{Documents: docs}, nil
}

// trailingSortKeys reports the keys of the pipeline's last $sort stage when
// any $project/$addFields/$set stage precedes it, and nil otherwise; the
// executor uses them to re-sort after $function resolution (spec §4.7
// step 7).
func trailingSortKeys(stages []agg.Stage) []executor.SortKey {
	var sortIdx = -1
	for i, st := range stages {
		if st.Name == "$sort" {
			sortIdx = i
		}
	}
	if sortIdx < 0 {
		return nil
	}
	hasFunctionUpstream := false
	for i := 0; i < sortIdx; i++ {
		if stages[i].Name == "$project" || stages[i].Name == "$addFields" || stages[i].Name == "$set" {
			hasFunctionUpstream = true
		}
	}
	if !hasFunctionUpstream {
		return nil
	}
	pairs, ok := document.Pairs(stages[sortIdx].Body)
	if !ok {
		return nil
	}
	keys := make([]executor.SortKey, 0, len(pairs))
	for _, p := range pairs {
		desc := false
		switch n := p.Value.(type) {
		case int:
			desc = n < 0
		case int32:
			desc = n < 0
		case int64:
			desc = n < 0
		case float64:
			desc = n < 0
		}
		keys = append(keys, executor.SortKey{Path: p.Key, Descending: desc})
	}
	return keys
}

// --- indexes ---

func (s *Store) CreateIndex(ctx context.Context, ns backend.Namespace, idx backend.IndexSpec) error {
	tbl, err := s.ensureTable(ctx, ns)
	if err != nil {
		return err
	}
	keysJSON, err := json.Marshal(idx.Keys)
	if err != nil {
		return err
	}
	name := idx.Name
	if name == "" {
		name = "idx_auto"
	}
	pairs, _ := document.Pairs(idx.Keys)
	exprs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		exprs = append(exprs, s.dialect.JSONExtract("data", document.FieldToJSONPath(p.Key)))
	}
	uniqueKw := ""
	if idx.Unique {
		uniqueKw = "UNIQUE "
	}
	ddl := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)`,
		uniqueKw, quoteIdent(tbl+"_"+name), quoteIdent(tbl), strings.Join(exprs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return mongoerr.Wrap(mongoerr.CodeInternalError, err, "createIndexes failed")
	}

	collID, err := s.collectionID(ctx, ns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO _indexes (collection_id, name, keys_json, "unique") VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection_id, name) DO UPDATE SET keys_json = excluded.keys_json, "unique" = excluded."unique"`,
		collID, name, string(keysJSON), boolToInt(idx.Unique))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) collectionID(ctx context.Context, ns backend.Namespace) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM collections WHERE database = ? AND name = ?`, ns.Database, ns.Collection)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, mongoerr.NamespaceNotFound(ns.String())
	}
	return id, nil
}

func (s *Store) DropIndex(ctx context.Context, ns backend.Namespace, name string) error {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return mongoerr.New(mongoerr.CodeIndexNotFound, "index %q not found", name)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quoteIdent(tbl+"_"+name))); err != nil {
		return err
	}
	collID, err := s.collectionID(ctx, ns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM _indexes WHERE collection_id = ? AND name = ?`, collID, name)
	return err
}

func (s *Store) ListIndexes(ctx context.Context, ns backend.Namespace) ([]backend.IndexSpec, error) {
	collID, err := s.collectionID(ctx, ns)
	if err != nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, keys_json, "unique" FROM _indexes WHERE collection_id = ?`, collID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []backend.IndexSpec
	for rows.Next() {
		var name, keysJSON string
		var unique int
		if err := rows.Scan(&name, &keysJSON, &unique); err != nil {
			return nil, err
		}
		var keys document.M
		if err := json.Unmarshal([]byte(keysJSON), &keys); err != nil {
			return nil, err
		}
		out = append(out, backend.IndexSpec{Name: name, Keys: keys, Unique: unique != 0})
	}
	return out, rows.Err()
}

// --- collection/database lifecycle ---

func (s *Store) CreateCollection(ctx context.Context, ns backend.Namespace) error {
	_, err := s.ensureTable(ctx, ns)
	return err
}

func (s *Store) DropCollection(ctx context.Context, ns backend.Namespace) error {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(tbl))); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(ftsTableName(tbl)))); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE database = ? AND name = ?`, ns.Database, ns.Collection); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.known, ns.String())
	s.mu.Unlock()
	return nil
}

func (s *Store) ListCollections(ctx context.Context, database string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections WHERE database = ? ORDER BY name`, database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT database FROM collections ORDER BY database`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) DropDatabase(ctx context.Context, database string) error {
	colls, err := s.ListCollections(ctx, database)
	if err != nil {
		return err
	}
	for _, c := range colls {
		if err := s.DropCollection(ctx, backend.Namespace{Database: database, Collection: c}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, ns backend.Namespace) (backend.CollectionStats, error) {
	tbl, ok := s.lookupTable(ns)
	if !ok {
		return backend.CollectionStats{Namespace: ns.String(), BackendType: s.Name()}, nil
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(tbl)))
	var count int64
	if err := row.Scan(&count); err != nil {
		return backend.CollectionStats{}, err
	}
	return backend.CollectionStats{Namespace: ns.String(), Count: count, BackendType: s.Name()}, nil
}
