package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/mentis/mentis/internal/platform/db"
)

func TestTenantMigrations(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("mig")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	schema := fmt.Sprintf("tenant_%s", tenantID)
	migrator := db.NewMigrator(globalDB.Pool, globalDB.MigrationsDir)

	t.Run("AllApplied", func(t *testing.T) {
		statuses, err := migrator.Status(ctx, schema)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if len(statuses) == 0 {
			t.Fatal("expected at least one migration")
		}
		for _, st := range statuses {
			if !st.Applied {
				t.Errorf("migration %03d_%s should be applied", st.Version, st.Name)
			}
			if st.AppliedAt == nil {
				t.Errorf("migration %03d_%s missing applied_at", st.Version, st.Name)
			}
		}
	})

	t.Run("Up_Idempotent", func(t *testing.T) {
		applied, err := migrator.Up(ctx, schema)
		if err != nil {
			t.Fatalf("second Up: %v", err)
		}
		if applied != 0 {
			t.Errorf("expected 0 newly applied migrations, got %d", applied)
		}
	})

	t.Run("CreateTenantSchema_Idempotent", func(t *testing.T) {
		// Provisioning the same tenant again must not fail or re-apply.
		createTenantSchema(t, ctx, tenantID)
	})
}

// TestMigrationFilesStandalone applies the migration files without the
// Migrator's bookkeeping, verifying each file is self-contained and the
// numeric ordering alone is enough to build the schema.
func TestMigrationFilesStandalone(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("manual")
	schema := fmt.Sprintf("tenant_%s", tenantID)

	if _, err := globalDB.Pool.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	defer dropTenantSchema(t, ctx, tenantID)

	if err := runMigrationsManually(ctx, globalDB.Pool, schema, globalDB.MigrationsDir); err != nil {
		t.Fatalf("run migrations manually: %v", err)
	}

	err := execWithSchema(ctx, globalDB.Pool, tenantID,
		`INSERT INTO scale (id, name, abbreviation, items, max_score)
		 VALUES (gen_random_uuid(), 'Probe Screen', 'PRB-1', '[]'::jsonb, 10)`)
	if err != nil {
		t.Fatalf("insert into manually migrated schema: %v", err)
	}

	// The scale FK on assessment must come along with the tables.
	err = execWithSchema(ctx, globalDB.Pool, tenantID,
		`INSERT INTO assessment (id, scale_id, patient_id, status)
		 VALUES (gen_random_uuid(), gen_random_uuid(), gen_random_uuid(), 'assigned')`)
	if err == nil {
		t.Fatal("expected FK violation for unknown scale")
	}
}
