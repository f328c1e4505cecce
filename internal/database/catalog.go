// internal/database/catalog.go
package database

import (
	"context"
	"fmt"
	"strings"

	"github-ingest/internal/model"
)

// TableNames returns the base tables of the current schema.
func (d *DB) TableNames(ctx context.Context) (map[string]bool, error) {
	rows, err := d.q.Query(ctx, `
SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// Columns returns the sorted column names of table, or nil if it does not exist.
func (d *DB) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := d.columns(ctx, table)
	if err != nil || cols == nil {
		return nil, err
	}
	return sortedKeys(cols), nil
}

// ForeignKeys returns every single-column foreign key of the current schema.
func (d *DB) ForeignKeys(ctx context.Context) ([]model.ForeignKey, error) {
	rows, err := d.q.Query(ctx, `
SELECT cl.relname, a.attname, rcl.relname, ra.attname
FROM pg_constraint c
JOIN pg_class cl ON cl.oid = c.conrelid
JOIN pg_namespace n ON n.oid = cl.relnamespace
JOIN pg_class rcl ON rcl.oid = c.confrelid
JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = c.conkey[1]
JOIN pg_attribute ra ON ra.attrelid = c.confrelid AND ra.attnum = c.confkey[1]
WHERE c.contype = 'f' AND n.nspname = current_schema()
ORDER BY 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}
	defer rows.Close()

	var out []model.ForeignKey
	for rows.Next() {
		var fk model.ForeignKey
		if err := rows.Scan(&fk.Table, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

// AddForeignKey declares fk without validating rows written before it existed.
func (d *DB) AddForeignKey(ctx context.Context, fk model.ForeignKey) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) NOT VALID",
		ident(fk.Table), ident(fkName(fk)), ident(fk.Column), ident(fk.RefTable), ident(fk.RefColumn))
	if _, err := d.q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to add foreign key %s.%s: %w", fk.Table, fk.Column, err)
	}
	return nil
}

// IndexForeignKeys creates a missing index for every foreign key column and
// returns how many it created.
func (d *DB) IndexForeignKeys(ctx context.Context) (int, error) {
	fks, err := d.ForeignKeys(ctx)
	if err != nil {
		return 0, err
	}
	existing, err := d.indexNames(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, fk := range fks {
		name := "idx_" + fk.Table + "_" + fk.Column
		if existing[name] {
			continue
		}
		if err := d.EnsureIndex(ctx, fk.Table, []string{fk.Column}, false); err != nil {
			return created, err
		}
		existing[name] = true
		created++
	}
	return created, nil
}

func (d *DB) indexNames(ctx context.Context) (map[string]bool, error) {
	rows, err := d.q.Query(ctx, `SELECT indexname FROM pg_indexes WHERE schemaname = current_schema()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// CreateTable creates t with only its declared columns.
func (d *DB) CreateTable(ctx context.Context, t model.Table) error {
	return d.createTable(ctx, t, nil)
}

// EnableFTS builds the <table>_fts shadow table over columns, keeps it in sync
// with a trigger and indexes the rows already stored.
func (d *DB) EnableFTS(ctx context.Context, t model.Table, columns []string) error {
	cols, err := d.columns(ctx, t.Name)
	if err != nil {
		return err
	}
	if cols == nil {
		return fmt.Errorf("table %s does not exist", t.Name)
	}

	shadow := ident(t.Name + "_fts")
	fn := ident(t.Name + "_fts_sync")

	var keyDefs, keys, oldMatch, newKeys []string
	for _, pk := range t.PrimaryKey {
		keyDefs = append(keyDefs, ident(pk)+" "+d.sqlType(cols[pk]))
		keys = append(keys, ident(pk))
		oldMatch = append(oldMatch, ident(pk)+" = OLD."+ident(pk))
		newKeys = append(newKeys, "NEW."+ident(pk))
	}

	var stmts []string
	stmts = append(stmts,
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, document tsvector NOT NULL, PRIMARY KEY (%s))",
			shadow, strings.Join(keyDefs, ", "), strings.Join(keys, ", ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (document)",
			ident(t.Name+"_fts_document_idx"), shadow),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger LANGUAGE plpgsql AS $fts$
BEGIN
  IF TG_OP <> 'INSERT' THEN
    DELETE FROM %s WHERE %s;
  END IF;
  IF TG_OP <> 'DELETE' THEN
    INSERT INTO %s (%s, document) VALUES (%s, %s);
  END IF;
  RETURN NULL;
END
$fts$`, fn, shadow, strings.Join(oldMatch, " AND "), shadow, strings.Join(keys, ", "),
			strings.Join(newKeys, ", "), document("NEW.", columns)),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", fn, ident(t.Name)),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
			fn, ident(t.Name), fn),
		fmt.Sprintf("INSERT INTO %s (%s, document) SELECT %s, %s FROM %s ON CONFLICT DO NOTHING",
			shadow, strings.Join(keys, ", "), strings.Join(keys, ", "), document("", columns), ident(t.Name)),
	)

	return d.InTx(ctx, func(s Store) error {
		tx := s.(*DB)
		for _, stmt := range stmts {
			if _, err := tx.q.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to enable full-text search on %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

func document(prefix string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = prefix + ident(c) + "::text"
	}
	return "to_tsvector('english', concat_ws(' ', " + strings.Join(parts, ", ") + "))"
}

// ViewFingerprint returns the fingerprint stored on view name, or "".
func (d *DB) ViewFingerprint(ctx context.Context, name string) (string, error) {
	var fp string
	err := d.q.QueryRow(ctx,
		`SELECT coalesce(obj_description(to_regclass($1), 'pg_class'), '')`, ident(name)).Scan(&fp)
	if err != nil {
		return "", fmt.Errorf("failed to read view %s: %w", name, err)
	}
	return fp, nil
}

// CreateView replaces view name with definition and tags it with fingerprint.
func (d *DB) CreateView(ctx context.Context, name, definition, fingerprint string) error {
	stmts := []string{
		"DROP VIEW IF EXISTS " + ident(name),
		"CREATE VIEW " + ident(name) + " AS " + definition,
		"COMMENT ON VIEW " + ident(name) + " IS '" + strings.ReplaceAll(fingerprint, "'", "''") + "'",
	}
	return d.InTx(ctx, func(s Store) error {
		tx := s.(*DB)
		for _, stmt := range stmts {
			if _, err := tx.q.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create view %s: %w", name, err)
			}
		}
		return nil
	})
}
