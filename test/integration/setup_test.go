package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentis/mentis/internal/domain/assessment"
	"github.com/mentis/mentis/internal/domain/scale"
	"github.com/mentis/mentis/internal/platform/db"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool          *pgxpool.Pool
	ConnStr       string
	MigrationsDir string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tdb, cleanup, err := setupPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupPostgresContainer starts a Postgres 16 container and connects a pool
// to it. The container is shared by the whole package; isolation between
// tests comes from per-test tenant schemas, not per-test databases.
func setupPostgresContainer(ctx context.Context) (*testDB, func(), error) {
	migrationsDir := findMigrationsDir()

	connStr, cleanup, err := startPostgresContainer(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		cleanup()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	return &testDB{
		Pool:          pool,
		ConnStr:       connStr,
		MigrationsDir: migrationsDir,
	}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// findMigrationsDir locates the migrations directory relative to this test file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	// test/integration -> repo root
	root := filepath.Join(dir, "..", "..")
	return filepath.Join(root, "migrations")
}

// createTenantSchema creates a new tenant schema and runs all migrations.
func createTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	err := db.CreateTenantSchema(ctx, globalDB.Pool, tenantID, globalDB.MigrationsDir)
	if err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
}

// dropTenantSchema drops a tenant schema for cleanup.
func dropTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	schema := fmt.Sprintf("tenant_%s", tenantID)
	_, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
	if err != nil {
		t.Logf("warning: failed to drop schema %s: %v", schema, err)
	}
}

// execWithSchema executes SQL within a specific tenant schema.
func execWithSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, sql string, args ...interface{}) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	schema := fmt.Sprintf("tenant_%s", tenantID)
	_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema))
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, sql, args...)
	return err
}

// withTenantConn acquires a connection, sets the search path to the tenant schema,
// and passes it to the callback. The connection is released after the callback.
func withTenantConn(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	schema := fmt.Sprintf("tenant_%s", tenantID)
	_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema))
	if err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	// Put the connection into context so repos can find it
	ctx = context.WithValue(ctx, db.DBConnKey, conn)
	return fn(ctx)
}

// connFromCtx retrieves the pgxpool.Conn from the context for direct SQL queries.
func connFromCtx(ctx context.Context) *pgxpool.Conn {
	return db.ConnFromContext(ctx)
}

// uniqueTenantID generates a unique tenant ID for test isolation.
func uniqueTenantID(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

// testScaleDefinition returns a small three-item likert instrument with one
// interpretation band per tier, used as the standard catalog entry across
// suites. Item 3 is reverse-scored.
func testScaleDefinition(name, abbreviation string) *scale.Scale {
	options := []scale.ResponseOption{
		{Value: "0", Label: "Never", Score: 0},
		{Value: "1", Label: "Sometimes", Score: 1},
		{Value: "2", Label: "Often", Score: 2},
	}
	return &scale.Scale{
		Name:         name,
		Abbreviation: abbreviation,
		Category:     ptrStr("screening"),
		Items: []scale.Item{
			{Number: 1, Prompt: "Trouble falling asleep", ResponseType: scale.ResponseLikert, Options: options, Required: true},
			{Number: 2, Prompt: "Waking during the night", ResponseType: scale.ResponseLikert, Options: options, Required: true},
			{Number: 3, Prompt: "Feeling rested on waking", ResponseType: scale.ResponseLikert, Options: options, ReverseScored: true},
		},
		MinScore: 0,
		MaxScore: 6,
		Rules: []scale.InterpretationRule{
			{ID: "low", Label: "No significant difficulty", MinScore: 0, MaxScore: 2, Severity: scale.SeverityMinimal},
			{ID: "moderate", Label: "Moderate difficulty", MinScore: 3, MaxScore: 4, Severity: scale.SeverityModerate},
			{ID: "high", Label: "Severe difficulty", MinScore: 5, MaxScore: 6, Severity: scale.SeveritySevere},
		},
	}
}

// Helper to create a test scale through the service so it is validated and
// activated the same way API writes are.
func createTestScale(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, name, abbreviation string) *scale.Scale {
	t.Helper()
	var result *scale.Scale
	err := withTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
		svc := scale.NewService(scale.NewScaleRepoPG(pool))
		sc := testScaleDefinition(name, abbreviation)
		if err := svc.CreateScale(ctx, sc); err != nil {
			return err
		}
		result = sc
		return nil
	})
	if err != nil {
		t.Fatalf("create test scale: %v", err)
	}
	return result
}

// Helper to create a test assessment in the assigned state.
func createTestAssessment(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID string, scaleID, patientID uuid.UUID) *assessment.Assessment {
	t.Helper()
	var result *assessment.Assessment
	err := withTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
		scaleSvc := scale.NewService(scale.NewScaleRepoPG(pool))
		svc := assessment.NewService(assessment.NewAssessmentRepoPG(pool), scaleSvc)
		a := &assessment.Assessment{
			ScaleID:   scaleID,
			PatientID: patientID,
		}
		if err := svc.CreateAssessment(ctx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		t.Fatalf("create test assessment: %v", err)
	}
	return result
}

// runMigrationsManually runs migration SQL files against a schema directly,
// bypassing the Migrator's bookkeeping. Used to verify the migration files
// are self-contained.
func runMigrationsManually(ctx context.Context, pool *pgxpool.Pool, schema, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	type migFile struct {
		version int
		name    string
	}
	var files []migFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		v, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		files = append(files, migFile{version: v, name: e.Name()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].version < files[j].version
	})

	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(migrationsDir, f.name))
		if err != nil {
			return fmt.Errorf("read %s: %w", f.name, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f.name, err)
		}

		_, err = tx.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema))
		if err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("set search_path for %s: %w", f.name, err)
		}

		_, err = tx.Exec(ctx, string(content))
		if err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("exec %s: %w", f.name, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit %s: %w", f.name, err)
		}
	}

	return nil
}

// ptrStr returns a pointer to the given string.
func ptrStr(s string) *string { return &s }

// ptrInt returns a pointer to the given int.
func ptrInt(i int) *int { return &i }

// ptrUUID returns a pointer to the given UUID.
func ptrUUID(u uuid.UUID) *uuid.UUID { return &u }
