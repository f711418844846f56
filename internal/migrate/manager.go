// Package migrate applies the auth schema and its builtin seed.
//
// Schema files are named NNNN_name.up.sql with a matching .down.sql; seeds
// are plain NNNN_name.sql files applied once, after the schema. Each file runs
// in its own transaction together with the row that records it, so a failed
// file leaves neither partial tables nor a bookkeeping entry behind.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

// Embedded returns the bundled schema and seed files.
func Embedded() (migrations, seeds fs.FS) {
	migrations, _ = fs.Sub(embedded, "sql")
	seeds, _ = fs.Sub(embedded, "seeds")
	return migrations, seeds
}

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

// journal is a bookkeeping table listing the files already applied.
type journal string

func (j journal) create(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default current_timestamp
	)`, j))
	return err
}

// applied lists recorded file names in name order.
func (j journal) applied(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by name`, j))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (j journal) record(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, j), name, time.Now().UTC())
	return err
}

func (j journal) forget(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, j), name)
	return err
}

// Manager runs schema migrations and seeds against one database.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	schema     journal
	seeded     journal
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable renames the schema bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.schema = journal(name)
		}
	}
}

// WithSeedsTable renames the seed bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeded = journal(name)
		}
	}
}

// NewManager constructs a Manager. Nil file systems select the embedded ones.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	em, es := Embedded()
	if migrations == nil {
		migrations = em
	}
	if seeds == nil {
		seeds = es
	}
	m := &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		schema:     "schema_migrations",
		seeded:     "schema_seeds",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) prepare(ctx context.Context) error {
	if err := m.schema.create(ctx, m.db); err != nil {
		return fmt.Errorf("create %s: %w", m.schema, err)
	}
	if err := m.seeded.create(ctx, m.db); err != nil {
		return fmt.Errorf("create %s: %w", m.seeded, err)
	}
	return nil
}

// Up applies every schema file not yet recorded.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.migrations, upSuffix, m.schema)
}

// Seed inserts the builtin permissions, groups and grants once.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds, seedSuffix, m.seeded)
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix string, j journal) error {
	if err := m.prepare(ctx); err != nil {
		return err
	}
	done, err := j.applied(ctx, m.db)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(done))
	for _, name := range done {
		seen[name] = true
	}
	files, err := fs.Glob(fsys, "*"+suffix)
	if err != nil {
		return err
	}
	for _, name := range files {
		if seen[name] {
			continue
		}
		err := m.run(ctx, fsys, name, func(tx *sql.Tx) error { return j.record(ctx, tx, name) })
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Down reverts the latest schema file.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.prepare(ctx); err != nil {
		return err
	}
	done, err := m.schema.applied(ctx, m.db)
	if err != nil {
		return err
	}
	if len(done) == 0 {
		return errors.New("no migrations applied")
	}
	last := done[len(done)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	err = m.run(ctx, m.migrations, down, func(tx *sql.Tx) error { return m.schema.forget(ctx, tx, last) })
	if err != nil {
		return fmt.Errorf("revert %s: %w", last, err)
	}
	return nil
}

// Status lists applied schema files.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.prepare(ctx); err != nil {
		return nil, err
	}
	return m.schema.applied(ctx, m.db)
}

// run executes one file and its bookkeeping step in a single transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name string, book func(*sql.Tx) error) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for i, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if err := book(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements cuts a script on semicolons outside quoted strings and
// drops "--" comments. Blank statements are skipped.
func splitStatements(script string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				cur.WriteRune(r)
			}
		case r == '\'':
			quoted = !quoted
			cur.WriteRune(r)
		case !quoted && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			i++
		case !quoted && r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
