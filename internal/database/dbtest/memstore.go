// internal/database/dbtest/memstore.go
package dbtest

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"

	"github-ingest/internal/database"
	"github-ingest/internal/model"
)

// MemStore is an in-memory database.Store for unit tests. Rows are kept in
// insertion order; Replace drops the columns a row no longer carries, like
// the Postgres store does. Column types are fixed by the first value a column
// receives, and later values must convert to that type.
type MemStore struct {
	mu      sync.Mutex
	tables  map[string]*memTable
	indexes map[string]bool

	// WriteErr, when set, is consulted before every write and its error
	// returned as the write's result.
	WriteErr func(table string) error
}

type memTable struct {
	def    model.Table
	keys   []string
	rows   map[string]model.Record
	types  map[string]model.ColumnType
	nextID int64
}

var _ database.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{tables: map[string]*memTable{}, indexes: map[string]bool{}}
}

func (m *MemStore) Replace(ctx context.Context, t model.Table, row model.Record) error {
	_, err := m.put(t, row, func(old model.Record) model.Record { return clean(row) })
	return err
}

func (m *MemStore) Upsert(ctx context.Context, t model.Table, row model.Record) error {
	_, err := m.put(t, row, func(old model.Record) model.Record {
		merged := old.Clone()
		for k, v := range clean(row) {
			merged[k] = v
		}
		return merged
	})
	return err
}

func (m *MemStore) InsertIgnore(ctx context.Context, t model.Table, row model.Record) (bool, error) {
	return m.put(t, row, func(old model.Record) model.Record { return old })
}

func (m *MemStore) Insert(ctx context.Context, t model.Table, row model.Record) (int64, error) {
	if err := m.check(t.Name); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl := m.table(t)
	r := clean(row)
	delete(r, t.PrimaryKey[0])
	if err := tbl.typecheck(r); err != nil {
		return 0, err
	}
	tbl.nextID++
	r[t.PrimaryKey[0]] = tbl.nextID
	key := rowKey(t, r)
	tbl.keys = append(tbl.keys, key)
	tbl.rows[key] = r
	return tbl.nextID, nil
}

func (m *MemStore) Find(ctx context.Context, table string, where map[string]any) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl, ok := m.tables[table]
	if !ok {
		return nil, nil
	}
	var out []model.Record
	for _, key := range tbl.keys {
		r := tbl.rows[key]
		if matches(r, where) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemStore) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	if err := m.check(table); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl, ok := m.tables[table]
	if !ok {
		return 0, nil
	}
	var n int64
	keep := tbl.keys[:0]
	for _, key := range tbl.keys {
		if matches(tbl.rows[key], where) {
			delete(tbl.rows, key)
			n++
			continue
		}
		keep = append(keep, key)
	}
	tbl.keys = keep
	return n, nil
}

func (m *MemStore) EnsureIndex(ctx context.Context, table string, columns []string, unique bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[table+"("+strings.Join(columns, ",")+")"] = unique
	return nil
}

// InTx runs fn against the store itself and restores the previous contents
// if fn fails.
func (m *MemStore) InTx(ctx context.Context, fn func(database.Store) error) error {
	m.mu.Lock()
	snapshot := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.tables = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// Rows returns a copy of every row of table in insertion order.
func (m *MemStore) Rows(table string) []model.Record {
	rows, _ := m.Find(context.Background(), table, nil)
	return rows
}

// Count returns the number of rows in table.
func (m *MemStore) Count(table string) int {
	return len(m.Rows(table))
}

// HasIndex reports whether EnsureIndex was called for table(columns).
func (m *MemStore) HasIndex(table string, columns ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indexes[table+"("+strings.Join(columns, ",")+")"]
	return ok
}

func (m *MemStore) put(t model.Table, row model.Record, merge func(old model.Record) model.Record) (bool, error) {
	if err := m.check(t.Name); err != nil {
		return false, err
	}
	for _, pk := range t.PrimaryKey {
		if row[pk] == nil {
			return false, fmt.Errorf("%s.%s: missing primary key", t.Name, pk)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl := m.table(t)
	r := clean(row)
	if err := tbl.typecheck(r); err != nil {
		return false, err
	}
	key := rowKey(t, r)
	old, exists := tbl.rows[key]
	if !exists {
		tbl.keys = append(tbl.keys, key)
		tbl.rows[key] = r
		return true, nil
	}
	tbl.rows[key] = merge(old)
	return false, nil
}

func (m *MemStore) check(table string) error {
	if m.WriteErr == nil {
		return nil
	}
	return m.WriteErr(table)
}

func (m *MemStore) table(t model.Table) *memTable {
	tbl, ok := m.tables[t.Name]
	if !ok {
		tbl = &memTable{def: t, rows: map[string]model.Record{}, types: map[string]model.ColumnType{}}
		m.tables[t.Name] = tbl
	}
	return tbl
}

func (m *MemStore) snapshot() map[string]*memTable {
	out := make(map[string]*memTable, len(m.tables))
	for name, tbl := range m.tables {
		cp := &memTable{
			def:    tbl.def,
			keys:   append([]string(nil), tbl.keys...),
			rows:   map[string]model.Record{},
			types:  maps.Clone(tbl.types),
			nextID: tbl.nextID,
		}
		for k, r := range tbl.rows {
			cp.rows[k] = r.Clone()
		}
		out[name] = cp
	}
	return out
}

// typecheck converts every value of r the way the Postgres store would and
// records the types of new columns once all of them fit.
func (tbl *memTable) typecheck(r model.Record) error {
	added := map[string]model.ColumnType{}
	for col, v := range r {
		ct, ok := tbl.types[col]
		if !ok {
			if ct = database.ColumnTypeFor(tbl.def, col, v); ct == "" {
				continue
			}
			added[col] = ct
		}
		if _, err := database.ColumnValue(tbl.def, col, ct, v); err != nil {
			return err
		}
	}
	maps.Copy(tbl.types, added)
	return nil
}

// clean copies row and normalizes its values the way the store would read
// them back.
func clean(row model.Record) model.Record {
	out := make(model.Record, len(row))
	for k, v := range row {
		if v == nil {
			continue
		}
		switch v.(type) {
		case []byte, []float32:
			out[k] = v
		default:
			out[k] = model.Normalize(v)
		}
	}
	return out
}

func rowKey(t model.Table, r model.Record) string {
	parts := make([]string, len(t.PrimaryKey))
	for i, pk := range t.PrimaryKey {
		parts[i] = fmt.Sprint(r[pk])
	}
	return strings.Join(parts, "\x00")
}

func matches(r model.Record, where map[string]any) bool {
	for col, want := range where {
		got := r[col]
		if rv := reflect.ValueOf(want); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			found := false
			for i := 0; i < rv.Len(); i++ {
				if equal(got, rv.Index(i).Interface()) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !equal(got, want) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	return reflect.DeepEqual(model.Normalize(a), model.Normalize(b))
}
