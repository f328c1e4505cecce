// internal/database/store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

// Store is the write path used by the normalizer and the workflow decomposer.
//
// Tables and columns are created on demand from the model.Table definition and the
// values present in the row; a nil value never creates a column.
type Store interface {
	// Replace inserts row or overwrites every column of the existing row
	// with the same primary key. Columns absent from row become NULL.
	Replace(ctx context.Context, t model.Table, row model.Record) error
	// Upsert inserts row or updates only the columns present in row.
	Upsert(ctx context.Context, t model.Table, row model.Record) error
	// InsertIgnore inserts row unless its primary key already exists and
	// reports whether a row was written.
	InsertIgnore(ctx context.Context, t model.Table, row model.Record) (bool, error)
	// Insert adds a row to a table with a surrogate key and returns the key.
	Insert(ctx context.Context, t model.Table, row model.Record) (int64, error)
	// Find returns the rows matching every column=value pair in where. A
	// slice value matches any of its elements. Missing tables match nothing.
	Find(ctx context.Context, table string, where map[string]any) ([]model.Record, error)
	// Delete removes the rows matching where.
	Delete(ctx context.Context, table string, where map[string]any) (int64, error)
	EnsureIndex(ctx context.Context, table string, columns []string, unique bool) error
	// InTx runs fn against a Store bound to one transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB is the Postgres implementation of Store and of the schema catalog.
type DB struct {
	pool   *pgxpool.Pool
	q      querier
	logger *slog.Logger
	// vector is established once in Open and never changes afterwards.
	vector bool
	cache  *columnCache
}

type columnCache struct {
	mu     sync.Mutex
	tables map[string]map[string]model.ColumnType
}

func (c *columnCache) get(table string) (map[string]model.ColumnType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.tables[table]
	if cols == nil {
		return nil, ok
	}
	out := make(map[string]model.ColumnType, len(cols))
	for k, v := range cols {
		out[k] = v
	}
	return out, ok
}

func (c *columnCache) set(table string, cols map[string]model.ColumnType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[table] = cols
}

func (c *columnCache) add(table, column string, ct model.ColumnType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tables[table] == nil {
		c.tables[table] = map[string]model.ColumnType{}
	}
	c.tables[table][column] = ct
}

func (c *columnCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = map[string]map[string]model.ColumnType{}
}

// Open connects to Postgres, detects whether the pgvector extension can be
// used, and returns a ready DB.
func Open(ctx context.Context, dbURL string, logger *slog.Logger) (*DB, error) {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	vector := detectVector(ctx, conn, logger)
	conn.Close(ctx)

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool, vector, logger), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, vector bool, logger *slog.Logger) *DB {
	return &DB{
		pool:   pool,
		q:      pool,
		logger: logger,
		vector: vector,
		cache:  &columnCache{tables: map[string]map[string]model.ColumnType{}},
	}
}

// detectVector tries to enable pgvector. Any failure means embeddings are
// stored as bytea blobs instead.
func detectVector(ctx context.Context, conn *pgx.Conn, logger *slog.Logger) bool {
	var installed bool
	err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&installed)
	if err == nil && installed {
		return true
	}
	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		logger.Info("pgvector extension not available; storing embeddings as blobs", "error", err)
		return false
	}
	logger.Info("pgvector extension enabled")
	return true
}

// Close releases the pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool exposes the underlying pool.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// VectorEnabled reports whether embedding columns use pgvector.
func (d *DB) VectorEnabled() bool {
	return d.vector
}

func (d *DB) Replace(ctx context.Context, t model.Table, row model.Record) error {
	_, err := d.write(ctx, t, row, modeReplace)
	return err
}

func (d *DB) Upsert(ctx context.Context, t model.Table, row model.Record) error {
	_, err := d.write(ctx, t, row, modeUpsert)
	return err
}

func (d *DB) InsertIgnore(ctx context.Context, t model.Table, row model.Record) (bool, error) {
	n, err := d.write(ctx, t, row, modeIgnore)
	return n == 1, err
}

func (d *DB) Insert(ctx context.Context, t model.Table, row model.Record) (int64, error) {
	if !t.Surrogate {
		return 0, fmt.Errorf("table %s has no surrogate key", t.Name)
	}
	pk := t.PrimaryKey[0]
	row = row.Clone()
	delete(row, pk)

	cols, err := d.ensureTable(ctx, t, row)
	if err != nil {
		return 0, err
	}
	names, values, err := columnValues(t, cols, row)
	if err != nil {
		return 0, err
	}
	query, args, err := psql.Insert(ident(t.Name)).
		Columns(names...).
		Values(values...).
		Suffix("RETURNING " + ident(pk)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert into %s: %w", t.Name, err)
	}

	var id int64
	if err := d.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", t.Name, err)
	}
	return id, nil
}

func (d *DB) Find(ctx context.Context, table string, where map[string]any) ([]model.Record, error) {
	return d.List(ctx, ListQuery{Table: table, Where: where})
}

func (d *DB) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	exists, err := d.tableExists(ctx, table)
	if err != nil || !exists {
		return 0, err
	}
	query, args, err := psql.Delete(ident(table)).Where(eq(where)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete from %s: %w", table, err)
	}
	tag, err := d.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func (d *DB) EnsureIndex(ctx context.Context, table string, columns []string, unique bool) error {
	stmt := "CREATE INDEX IF NOT EXISTS "
	if unique {
		stmt = "CREATE UNIQUE INDEX IF NOT EXISTS "
	}
	name := ident("idx_" + table + "_" + strings.Join(columns, "_"))
	stmt += name + " ON " + ident(table) + " (" + strings.Join(identList(columns), ", ") + ")"
	if _, err := d.q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", table, err)
	}
	return nil
}

func (d *DB) InTx(ctx context.Context, fn func(Store) error) error {
	if _, nested := d.q.(pgx.Tx); nested {
		return fn(d)
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	txDB := *d
	txDB.q = tx
	if err := fn(&txDB); err != nil {
		// Columns added inside the transaction are gone again.
		d.cache.reset()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		d.cache.reset()
		return err
	}
	return nil
}

// ListQuery selects rows from one table or view.
type ListQuery struct {
	Table   string
	Where   map[string]any
	OrderBy string
	Limit   uint64
}

// List runs a ListQuery. Missing relations yield no rows.
func (d *DB) List(ctx context.Context, lq ListQuery) ([]model.Record, error) {
	exists, err := d.relationExists(ctx, lq.Table)
	if err != nil || !exists {
		return nil, err
	}
	b := psql.Select("*").From(ident(lq.Table))
	if len(lq.Where) > 0 {
		b = b.Where(eq(lq.Where))
	}
	if lq.OrderBy != "" {
		b = b.OrderBy(lq.OrderBy)
	}
	if lq.Limit > 0 {
		b = b.Limit(lq.Limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select from %s: %w", lq.Table, err)
	}
	return d.collect(ctx, query, args...)
}

func (d *DB) collect(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := d.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, len(maps))
	for i, m := range maps {
		out[i] = model.Record(m)
	}
	return out, nil
}

type writeMode int

const (
	modeReplace writeMode = iota
	modeUpsert
	modeIgnore
)

func (d *DB) write(ctx context.Context, t model.Table, row model.Record, mode writeMode) (int64, error) {
	for _, pk := range t.PrimaryKey {
		if row[pk] == nil {
			return 0, fmt.Errorf("%s.%s: %w", t.Name, pk, custom_errors.ErrMissingKey)
		}
	}
	cols, err := d.ensureTable(ctx, t, row)
	if err != nil {
		return 0, err
	}
	names, values, err := columnValues(t, cols, row)
	if err != nil {
		return 0, err
	}

	var updates []string
	switch mode {
	case modeReplace:
		for _, c := range sortedKeys(cols) {
			if !isKey(t, c) {
				updates = append(updates, c)
			}
		}
	case modeUpsert:
		for _, c := range sortedKeys(row) {
			if _, ok := cols[c]; ok && !isKey(t, c) {
				updates = append(updates, c)
			}
		}
	}

	conflict := "ON CONFLICT (" + strings.Join(identList(t.PrimaryKey), ", ") + ") "
	if len(updates) == 0 {
		conflict += "DO NOTHING"
	} else {
		sets := make([]string, len(updates))
		for i, c := range updates {
			sets[i] = ident(c) + " = EXCLUDED." + ident(c)
		}
		conflict += "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query, args, err := psql.Insert(ident(t.Name)).
		Columns(names...).
		Values(values...).
		Suffix(conflict).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert into %s: %w", t.Name, err)
	}
	tag, err := d.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", t.Name, err)
	}
	return tag.RowsAffected(), nil
}

// ensureTable creates t if needed and adds a column for every non-nil value
// of row that the table does not have yet. It returns the table's columns.
func (d *DB) ensureTable(ctx context.Context, t model.Table, row model.Record) (map[string]model.ColumnType, error) {
	cols, err := d.columns(ctx, t.Name)
	if err != nil {
		return nil, err
	}
	if cols == nil {
		if err := d.createTable(ctx, t, row); err != nil {
			return nil, err
		}
		if cols, err = d.columns(ctx, t.Name); err != nil {
			return nil, err
		}
	}

	for _, name := range sortedKeys(row) {
		if _, ok := cols[name]; ok {
			continue
		}
		ct := ColumnTypeFor(t, name, row[name])
		if ct == "" {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", ident(t.Name), ident(name), d.sqlType(ct))
		if _, err := d.q.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to add column %s.%s: %w", t.Name, name, err)
		}
		d.logger.Debug("Added column", "table", t.Name, "column", name, "type", ct)
		d.cache.add(t.Name, name, ct)
		cols[name] = ct
	}
	return cols, nil
}

func (d *DB) createTable(ctx context.Context, t model.Table, row model.Record) error {
	defs := map[string]model.ColumnType{}
	for name, ct := range t.Columns {
		defs[name] = ct
	}
	for name, v := range row {
		if _, ok := defs[name]; ok {
			continue
		}
		if ct := ColumnTypeFor(t, name, v); ct != "" {
			defs[name] = ct
		}
	}

	var parts []string
	for _, pk := range t.PrimaryKey {
		typ := d.sqlType(defs[pk])
		if t.Surrogate {
			typ = "bigserial"
		}
		parts = append(parts, ident(pk)+" "+typ)
	}
	for _, name := range sortedKeys(defs) {
		if !isKey(t, name) {
			parts = append(parts, ident(name)+" "+d.sqlType(defs[name]))
		}
	}
	parts = append(parts, "PRIMARY KEY ("+strings.Join(identList(t.PrimaryKey), ", ")+")")

	for _, fk := range t.ForeignKeys {
		exists, err := d.tableExists(ctx, fk.RefTable)
		if err != nil {
			return err
		}
		if !exists && fk.RefTable != t.Name {
			continue
		}
		parts = append(parts, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			ident(fkName(fk)), ident(fk.Column), ident(fk.RefTable), ident(fk.RefColumn)))
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", ident(t.Name), strings.Join(parts, ",\n  "))
	if _, err := d.q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	d.cache.set(t.Name, nil)
	d.logger.Debug("Created table", "table", t.Name)

	if d.vector {
		for _, name := range sortedKeys(defs) {
			if defs[name] != model.Vector {
				continue
			}
			idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (%s vector_cosine_ops)",
				ident("idx_"+t.Name+"_"+name), ident(t.Name), ident(name))
			if _, err := d.q.Exec(ctx, idx); err != nil {
				return fmt.Errorf("failed to create vector index on %s.%s: %w", t.Name, name, err)
			}
		}
	}
	return nil
}

// columns returns the cached column set of table, loading it from the
// catalog on first use. A nil map means the table does not exist.
func (d *DB) columns(ctx context.Context, table string) (map[string]model.ColumnType, error) {
	if cols, ok := d.cache.get(table); ok && cols != nil {
		return cols, nil
	}
	rows, err := d.q.Query(ctx, `
SELECT column_name, data_type, udt_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols map[string]model.ColumnType
	for rows.Next() {
		var name, dataType, udt string
		if err := rows.Scan(&name, &dataType, &udt); err != nil {
			return nil, err
		}
		if cols == nil {
			cols = map[string]model.ColumnType{}
		}
		cols[name] = columnTypeFromCatalog(dataType, udt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cols != nil {
		d.cache.set(table, cols)
		cols, _ = d.cache.get(table)
	}
	return cols, nil
}

func (d *DB) tableExists(ctx context.Context, table string) (bool, error) {
	cols, err := d.columns(ctx, table)
	return cols != nil, err
}

func (d *DB) relationExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, ident(name)).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	return exists, nil
}

func (d *DB) sqlType(ct model.ColumnType) string {
	switch ct {
	case "":
		return string(model.Text)
	case model.Vector:
		if d.vector {
			return fmt.Sprintf("vector(%d)", model.EmbeddingDimensions)
		}
		return string(model.Bytes)
	default:
		return string(ct)
	}
}

func columnTypeFromCatalog(dataType, udt string) model.ColumnType {
	switch dataType {
	case "bigint", "integer", "smallint":
		return model.BigInt
	case "double precision", "real", "numeric":
		return model.Float
	case "boolean":
		return model.Bool
	case "jsonb", "json":
		return model.JSON
	case "bytea":
		return model.Bytes
	case "USER-DEFINED":
		if udt == "vector" {
			return model.Vector
		}
	}
	return model.Text
}

// ColumnTypeFor picks the declared type of column or infers one from v.
// Undeclared columns of document tables are always jsonb. It returns "" for
// a nil value of an undeclared column.
func ColumnTypeFor(t model.Table, column string, v any) model.ColumnType {
	if ct, ok := t.ColumnType(column); ok {
		return ct
	}
	if v == nil {
		return ""
	}
	if t.Document {
		return model.JSON
	}
	switch v.(type) {
	case bool:
		return model.Bool
	case int64, int, int32:
		return model.BigInt
	case float64, float32:
		return model.Float
	case string:
		return model.Text
	case []byte:
		return model.Bytes
	default:
		return model.JSON
	}
}

// columnValues returns the quoted column names and coerced values to insert.
// Nil values of columns the table does not have are left out.
func columnValues(t model.Table, cols map[string]model.ColumnType, row model.Record) ([]string, []any, error) {
	names := make([]string, 0, len(row))
	values := make([]any, 0, len(row))
	for _, name := range sortedKeys(row) {
		ct, ok := cols[name]
		if !ok {
			continue
		}
		v, err := ColumnValue(t, name, ct, row[name])
		if err != nil {
			return nil, nil, err
		}
		names = append(names, ident(name))
		values = append(values, v)
	}
	return names, values, nil
}

func isKey(t model.Table, column string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == column {
			return true
		}
	}
	return false
}

func eq(where map[string]any) sq.Eq {
	out := sq.Eq{}
	for k, v := range where {
		out[ident(k)] = v
	}
	return out
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident(n)
	}
	return out
}

func fkName(fk model.ForeignKey) string {
	return fk.Table + "_" + fk.Column + "_fkey"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
