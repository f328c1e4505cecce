// internal/schema/maintainer.go
package schema

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github-ingest/internal/model"
)

// Catalog is the part of the database the maintainer inspects and alters.
// *database.DB implements it.
type Catalog interface {
	TableNames(ctx context.Context) (map[string]bool, error)
	Columns(ctx context.Context, table string) ([]string, error)
	ForeignKeys(ctx context.Context) ([]model.ForeignKey, error)
	AddForeignKey(ctx context.Context, fk model.ForeignKey) error
	IndexForeignKeys(ctx context.Context) (int, error)
	VectorEnabled() bool
	CreateTable(ctx context.Context, t model.Table) error
	EnableFTS(ctx context.Context, t model.Table, columns []string) error
	ViewFingerprint(ctx context.Context, name string) (string, error)
	CreateView(ctx context.Context, name, definition, fingerprint string) error
}

// Report summarizes what one Ensure pass changed.
type Report struct {
	ForeignKeys   []string
	Indexes       int
	Tables        []string
	SearchIndexes []string
	Views         []string
}

// Changed reports whether the pass altered the schema.
func (r Report) Changed() bool {
	return len(r.ForeignKeys)+r.Indexes+len(r.Tables)+len(r.SearchIndexes)+len(r.Views) > 0
}

// Maintainer brings the schema in line with the table registry after
// ingestion has created or widened tables.
type Maintainer struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewMaintainer(catalog Catalog, logger *slog.Logger) *Maintainer {
	return &Maintainer{catalog: catalog, logger: logger}
}

// Ensure adds missing foreign keys and their indexes, creates the embedding
// tables, enables full-text search and (re)creates derived views. Running it
// twice in a row changes nothing the second time.
func (m *Maintainer) Ensure(ctx context.Context) (Report, error) {
	var report Report

	tables, err := m.catalog.TableNames(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list tables: %w", err)
	}
	columns := map[string][]string{}
	columnsOf := func(table string) ([]string, error) {
		if cols, ok := columns[table]; ok {
			return cols, nil
		}
		cols, err := m.catalog.Columns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		columns[table] = cols
		return cols, nil
	}

	if err := m.ensureForeignKeys(ctx, tables, columnsOf, &report); err != nil {
		return report, err
	}

	for _, t := range model.EmbeddingTables() {
		if tables[t.Name] {
			continue
		}
		if err := m.catalog.CreateTable(ctx, t); err != nil {
			return report, fmt.Errorf("failed to create %s: %w", t.Name, err)
		}
		tables[t.Name] = true
		report.Tables = append(report.Tables, t.Name)
	}
	if len(report.Tables) > 0 {
		m.logger.Info("Created embedding tables", "tables", report.Tables, "vector", m.catalog.VectorEnabled())
	}
	if report.Indexes, err = m.catalog.IndexForeignKeys(ctx); err != nil {
		return report, fmt.Errorf("failed to index foreign keys: %w", err)
	}

	if err := m.ensureSearch(ctx, tables, columnsOf, &report); err != nil {
		return report, err
	}
	if err := m.ensureViews(ctx, tables, columnsOf, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (m *Maintainer) ensureForeignKeys(ctx context.Context, tables map[string]bool, columnsOf func(string) ([]string, error), report *Report) error {
	existing, err := m.catalog.ForeignKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to read foreign keys: %w", err)
	}
	for _, fk := range model.ExpectedForeignKeys() {
		if slices.Contains(existing, fk) || !tables[fk.Table] || !tables[fk.RefTable] {
			continue
		}
		cols, err := columnsOf(fk.Table)
		if err != nil {
			return err
		}
		refCols, err := columnsOf(fk.RefTable)
		if err != nil {
			return err
		}
		if !slices.Contains(cols, fk.Column) || !slices.Contains(refCols, fk.RefColumn) {
			continue
		}
		name := fmt.Sprintf("%s.%s", fk.Table, fk.Column)
		if err := m.catalog.AddForeignKey(ctx, fk); err != nil {
			m.logger.Warn("Skipping foreign key", "key", name, "error", err)
			continue
		}
		report.ForeignKeys = append(report.ForeignKeys, name)
	}
	return nil
}

func (m *Maintainer) ensureSearch(ctx context.Context, tables map[string]bool, columnsOf func(string) ([]string, error), report *Report) error {
	for _, table := range sortedTables() {
		if !tables[table] || tables[table+"_fts"] {
			continue
		}
		t, ok := model.Lookup(table)
		if !ok {
			continue
		}
		cols, err := columnsOf(table)
		if err != nil {
			return err
		}
		var indexed []string
		for _, c := range ftsColumns[table] {
			if slices.Contains(cols, c) {
				indexed = append(indexed, c)
			}
		}
		if len(indexed) == 0 {
			continue
		}
		if err := m.catalog.EnableFTS(ctx, t, indexed); err != nil {
			m.logger.Warn("Skipping full-text search", "table", table, "error", err)
			continue
		}
		tables[table+"_fts"] = true
		report.SearchIndexes = append(report.SearchIndexes, table)
	}
	return nil
}

func (m *Maintainer) ensureViews(ctx context.Context, tables map[string]bool, columnsOf func(string) ([]string, error), report *Report) error {
	for _, v := range Views() {
		if !allExist(tables, v.Tables) {
			continue
		}
		prerequisites := make([][]string, len(v.Tables))
		for i, table := range v.Tables {
			cols, err := columnsOf(table)
			if err != nil {
				return err
			}
			prerequisites[i] = cols
		}
		if missing := v.missingColumns(prerequisites); len(missing) > 0 {
			m.logger.Debug("View prerequisites missing", "view", v.Name, "columns", missing)
			continue
		}
		fp := Fingerprint(v, prerequisites)
		current, err := m.catalog.ViewFingerprint(ctx, v.Name)
		if err != nil {
			return err
		}
		if current == fp {
			continue
		}
		if err := m.catalog.CreateView(ctx, v.Name, v.Definition, fp); err != nil {
			m.logger.Warn("Skipping view", "view", v.Name, "error", err)
			continue
		}
		report.Views = append(report.Views, v.Name)
	}
	return nil
}

// Fingerprint identifies a view definition over a given shape of its
// tables. columns holds the column list of each of v.Tables in order.
func Fingerprint(v View, columns [][]string) string {
	h := sha1.New()
	h.Write([]byte(v.Definition))
	for i, table := range v.Tables {
		fmt.Fprintf(h, "\n%s:", table)
		if i < len(columns) {
			h.Write([]byte(strings.Join(columns[i], ",")))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func allExist(tables map[string]bool, names []string) bool {
	for _, n := range names {
		if !tables[n] {
			return false
		}
	}
	return true
}

func sortedTables() []string {
	out := make([]string, 0, len(ftsColumns))
	for t := range ftsColumns {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
