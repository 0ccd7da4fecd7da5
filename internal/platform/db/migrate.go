package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationsTable lives inside each tenant schema, so every schema tracks
// its own applied set independently.
const migrationsTable = "_migrations"

// Migration is one SQL file from the migrations directory. Version and Name
// come from the filename: "002_assessment.sql" has version 2, name
// "assessment".
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus pairs a known migration with its applied state in one
// schema.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies versioned SQL files to a schema and records each one in
// the schema's _migrations table. One Migrator can serve any number of
// schemas.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

// NewMigrator returns a Migrator reading SQL files from migrationsDir and
// executing them on pool.
func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return &Migrator{pool: pool, dir: migrationsDir}
}

// parseMigrationName splits "002_assessment.sql" into (2, "assessment").
// ok is false for any file that does not follow the version_name.sql
// pattern, including version 0, which UpTo reserves as "no ceiling".
func parseMigrationName(file string) (version int, name string, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return 0, "", false
	}
	prefix, rest, found := strings.Cut(base, "_")
	if !found || rest == "" {
		return 0, "", false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", false
	}
	return version, rest, true
}

// LoadMigrations reads every versioned .sql file from the directory, sorted
// by version. Files without a version_name.sql filename are ignored, so the
// directory can hold notes or fixtures next to the migrations. Two files
// claiming the same version is an error at load time rather than a conflict
// halfway through an apply.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		sql, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(sql)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// EnsureMigrationsTable creates the tracking table in the schema if it does
// not exist yet. The schema itself must already exist.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context, schema string) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, trackingTable(schema))

	if _, err := m.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensure %s table in %s: %w", migrationsTable, schema, err)
	}
	return nil
}

// trackingTable returns the schema-qualified, quoted name of the tracking
// table. Quoting keeps operator-supplied schema names from being read as
// SQL.
func trackingTable(schema string) string {
	return pgx.Identifier{schema, migrationsTable}.Sanitize()
}

// appliedVersions returns the applied migrations for a schema keyed by
// version.
func (m *Migrator) appliedVersions(ctx context.Context, schema string) (map[int]time.Time, error) {
	rows, err := m.pool.Query(ctx, "SELECT version, applied_at FROM "+trackingTable(schema))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations in %s: %w", schema, err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// Up applies every pending migration to the schema in version order and
// returns how many were applied.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	return m.UpTo(ctx, schema, 0)
}

// UpTo applies pending migrations whose version does not exceed target; a
// target of 0 means no ceiling. Each migration commits in its own
// transaction, so a failure leaves earlier migrations applied and only the
// failing one rolled back.
func (m *Migrator) UpTo(ctx context.Context, schema string, target int) (int, error) {
	if err := m.EnsureMigrationsTable(ctx, schema); err != nil {
		return 0, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx, schema)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range migrations {
		if target > 0 && mig.Version > target {
			break
		}
		if _, done := applied[mig.Version]; done {
			continue
		}
		if err := m.apply(ctx, schema, mig); err != nil {
			return n, fmt.Errorf("migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		n++
	}
	return n, nil
}

// apply runs one migration inside a transaction with the target schema
// first on the search path, then records it in the tracking table. SET
// LOCAL reverts when the transaction ends, so the path change never leaks
// back into the pool.
func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	path := fmt.Sprintf("SET LOCAL search_path TO %s, shared, public", pgx.Identifier{schema}.Sanitize())
	if _, err := tx.Exec(ctx, path); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO "+trackingTable(schema)+" (version, name) VALUES ($1, $2)",
		mig.Version, mig.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

// Status reports every known migration together with its applied state in
// the schema. Pending migrations have a nil AppliedAt.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	if err := m.EnsureMigrationsTable(ctx, schema); err != nil {
		return nil, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx, schema)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
