package olap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/relaydb/relaydb/internal/agg"
	"github.com/relaydb/relaydb/internal/backend"
	"github.com/relaydb/relaydb/internal/query"
	"github.com/relaydb/relaydb/pkg/document"
)

// Backend is C10: a read-only binding of namespaces to tables already
// materialized in the columnar engine (e.g. by an external CDC/ingestion
// pipeline, out of scope per spec §1's Non-goals). It implements the same
// backend.Backend surface as the document store so the dispatcher (C12)
// can treat either uniformly, but every mutating method fails immediately
// per spec §4.9's read-only policy.
type Backend struct {
	transport *Transport
	dialect   *dialect
	useFinal  bool
}

// NewBackend builds the OLAP backend around the given transport
// configuration. tableName maps a namespace to the physical table the
// engine already holds for it (spec assumes the table exists; this
// backend never creates one).
func NewBackend(cfg Config, tableName func(namespace string) string) *Backend {
	return &Backend{
		transport: New(cfg),
		dialect:   newDialect(tableName),
		useFinal:  cfg.UseFinal,
	}
}

func (b *Backend) Name() string { return "olap" }

// --- mutating methods: read-only policy (spec §4.9, §8 scenario 6) ---

func (b *Backend) InsertOne(ctx context.Context, ns backend.Namespace, doc document.M) (interface{}, error) {
	return nil, &backend.ReadOnlyError{Operation: "insertOne"}
}

func (b *Backend) InsertMany(ctx context.Context, ns backend.Namespace, docs []document.M) ([]interface{}, error) {
	return nil, &backend.ReadOnlyError{Operation: "insertMany"}
}

func (b *Backend) UpdateOne(ctx context.Context, ns backend.Namespace, filter, update document.M) (backend.WriteResult, error) {
	return backend.WriteResult{}, &backend.ReadOnlyError{Operation: "updateOne"}
}

func (b *Backend) UpdateMany(ctx context.Context, ns backend.Namespace, filter, update document.M) (backend.WriteResult, error) {
	return backend.WriteResult{}, &backend.ReadOnlyError{Operation: "updateMany"}
}

func (b *Backend) DeleteOne(ctx context.Context, ns backend.Namespace, filter document.M) (backend.WriteResult, error) {
	return backend.WriteResult{}, &backend.ReadOnlyError{Operation: "deleteOne"}
}

func (b *Backend) DeleteMany(ctx context.Context, ns backend.Namespace, filter document.M) (backend.WriteResult, error) {
	return backend.WriteResult{}, &backend.ReadOnlyError{Operation: "deleteMany"}
}

func (b *Backend) CreateIndex(ctx context.Context, ns backend.Namespace, idx backend.IndexSpec) error {
	return &backend.ReadOnlyError{Operation: "createIndexes"}
}

func (b *Backend) DropIndex(ctx context.Context, ns backend.Namespace, name string) error {
	return &backend.ReadOnlyError{Operation: "dropIndexes"}
}

func (b *Backend) CreateCollection(ctx context.Context, ns backend.Namespace) error {
	return &backend.ReadOnlyError{Operation: "create"}
}

func (b *Backend) DropCollection(ctx context.Context, ns backend.Namespace) error {
	return &backend.ReadOnlyError{Operation: "drop"}
}

func (b *Backend) DropDatabase(ctx context.Context, database string) error {
	return &backend.ReadOnlyError{Operation: "dropDatabase"}
}

// --- read methods ---

// finalClause renders the table reference for the dedup spec §4.9
// ("Version semantics") describes: the table name, followed by FINAL when
// the backend is configured to use it. The predicate excluding tombstoned
// rows (_deleted = 0) is not part of it; Find, CountDocuments and Distinct
// append that themselves.
func (b *Backend) finalClause(table string) string {
	if !b.useFinal {
		return table
	}
	return table + " FINAL"
}

func (b *Backend) Find(ctx context.Context, ns backend.Namespace, filter document.M, opts backend.FindOptions) ([]document.M, error) {
	tbl := b.dialect.table(ns.String())
	stmt, err := query.Translate(stringifyFilterIDs(filter), ns.String(), b.dialect)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT data FROM %s WHERE (%s) AND _deleted = 0", b.finalClause(tbl), stmt.SQL)
	if len(opts.Sort) > 0 {
		pairs, _ := document.Pairs(opts.Sort)
		order := make([]string, 0, len(pairs))
		for _, p := range pairs {
			dir := "ASC"
			if n, ok := toInt(p.Value); ok && n < 0 {
				dir = "DESC"
			}
			order = append(order, b.dialect.JSONExtract("data", document.FieldToJSONPath(p.Key))+" "+dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(order, ", "))
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}
	if opts.Skip > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", opts.Skip)
	}

	rows, _, err := b.transport.Query(ctx, sb.String(), stmt.Params)
	if err != nil {
		return nil, err
	}
	return decodeRows(rows)
}

func toInt(v interface{}) (int64, bool) {
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

func decodeRows(rows []Row) ([]document.M, error) {
	docs := make([]document.M, 0, len(rows))
	for _, r := range rows {
		raw, ok := r["data"].(string)
		if !ok {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("olap: decoding row: %w", err)
		}
		docs = append(docs, document.M(m))
	}
	return docs, nil
}

func (b *Backend) FindOne(ctx context.Context, ns backend.Namespace, filter document.M) (document.M, bool, error) {
	docs, err := b.Find(ctx, ns, filter, backend.FindOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

func (b *Backend) CountDocuments(ctx context.Context, ns backend.Namespace, filter document.M) (int64, error) {
	tbl := b.dialect.table(ns.String())
	stmt, err := query.Translate(stringifyFilterIDs(filter), ns.String(), b.dialect)
	if err != nil {
		return 0, err
	}
	sqlText := fmt.Sprintf("SELECT count(*) AS data FROM %s WHERE (%s) AND _deleted = 0", b.finalClause(tbl), stmt.SQL)
	rows, _, err := b.transport.Query(ctx, sqlText, stmt.Params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	switch v := rows[0]["data"].(type) {
	case float64:
		return int64(v), nil
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n, nil
	default:
		return 0, nil
	}
}

func (b *Backend) Distinct(ctx context.Context, ns backend.Namespace, field string, filter document.M) ([]interface{}, error) {
	tbl := b.dialect.table(ns.String())
	stmt, err := query.Translate(stringifyFilterIDs(filter), ns.String(), b.dialect)
	if err != nil {
		return nil, err
	}
	extract := b.dialect.JSONExtract("data", document.FieldToJSONPath(field))
	sqlText := fmt.Sprintf("SELECT DISTINCT %s AS data FROM %s WHERE (%s) AND _deleted = 0", extract, b.finalClause(tbl), stmt.SQL)
	rows, _, err := b.transport.Query(ctx, sqlText, stmt.Params)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		if v, ok := r["data"]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Aggregate runs the pipeline through compilePipeline and decodes the
// resulting rows the same way Find does, since C5's CTE chain always
// projects a single document column (agg/fragment.go's selectSQL aliases
// the fragment's doc expression to d.Column()). Unlike the document store's
// executor (C7), this path does not resolve $function placeholders:
// spec §4.9's allowed-stage subset has no sandboxed evaluation step for the
// analytical engine, so a pipeline containing $function was already
// rejected by compilePipeline, which refuses any compiled statement that
// carries $function placeholders, before any SQL is sent.
func (b *Backend) Aggregate(ctx context.Context, ns backend.Namespace, pipeline document.A) (backend.AggregateResult, error) {
	stages, err := agg.ParsePipeline(pipeline)
	if err != nil {
		return backend.AggregateResult{}, err
	}
	stmt, err := compilePipeline(stages, ns.String(), b.dialect)
	if err != nil {
		return backend.AggregateResult{}, err
	}

	if stmt.IsFacet() {
		facets := make(map[string][]document.M, len(stmt.Facets))
		for name, branch := range stmt.Facets {
			rows, _, err := b.transport.Query(ctx, branch.SQL, branch.Params)
			if err != nil {
				return backend.AggregateResult{}, err
			}
			docs, err := decodeRows(rows)
			if err != nil {
				return backend.AggregateResult{}, err
			}
			facets[name] = docs
		}
		return backend.AggregateResult{IsFacet: true, Facets: facets}, nil
	}

	rows, _, err := b.transport.Query(ctx, stmt.SQL, stmt.Params)
	if err != nil {
		return backend.AggregateResult{}, err
	}
	docs, err := decodeRows(rows)
	if err != nil {
		return backend.AggregateResult{}, err
	}
	return backend.AggregateResult{Documents: docs}, nil
}

func (b *Backend) ListIndexes(ctx context.Context, ns backend.Namespace) ([]backend.IndexSpec, error) {
	return nil, nil
}

func (b *Backend) ListCollections(ctx context.Context, database string) ([]string, error) {
	return nil, nil
}

func (b *Backend) ListDatabases(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (b *Backend) Stats(ctx context.Context, ns backend.Namespace) (backend.CollectionStats, error) {
	n, err := b.CountDocuments(ctx, ns, document.M{})
	if err != nil {
		return backend.CollectionStats{}, err
	}
	return backend.CollectionStats{Namespace: ns.String(), Count: n, BackendType: b.Name()}, nil
}

// stringifyFilterIDs walks filter, replacing any objectid.ObjectID value
// (including inside $in/$eq/etc. operator documents) with its hex string
// form, per spec §4.9: "_id values that arrive as ObjectIds are
// stringified to hex before comparison."
func stringifyFilterIDs(filter document.M) document.M {
	out := document.DeepCopyMap(filter)
	walkStringifyIDs(out)
	return out
}

func walkStringifyIDs(v interface{}) {
	m, ok := v.(document.M)
	if !ok {
		if mm, ok := v.(map[string]interface{}); ok {
			m = document.M(mm)
		} else {
			return
		}
	}
	for k, val := range m {
		m[k] = stringifyID(val)
		switch t := m[k].(type) {
		case document.M:
			walkStringifyIDs(t)
		case map[string]interface{}:
			walkStringifyIDs(document.M(t))
		case document.A:
			for i, e := range t {
				t[i] = stringifyID(e)
				walkStringifyIDs(t[i])
			}
		}
	}
}
