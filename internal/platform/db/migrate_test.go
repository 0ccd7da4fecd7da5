package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeMigrations(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		file    string
		version int
		name    string
		ok      bool
	}{
		{"001_scale.sql", 1, "scale", true},
		{"002_assessment.sql", 2, "assessment", true},
		{"010_scoring_rules.sql", 10, "scoring_rules", true},
		{"7_short.sql", 7, "short", true},
		{"notes.txt", 0, "", false},
		{"readme.sql", 0, "", false},
		{"abc_letters.sql", 0, "", false},
		{"003_.sql", 0, "", false},
		{"_orphan.sql", 0, "", false},
		{"0_zero.sql", 0, "", false},
		{"-1_negative.sql", 0, "", false},
		{".sql", 0, "", false},
	}
	for _, tt := range tests {
		version, name, ok := parseMigrationName(tt.file)
		if ok != tt.ok || version != tt.version || name != tt.name {
			t.Errorf("parseMigrationName(%q) = (%d, %q, %v), want (%d, %q, %v)",
				tt.file, version, name, ok, tt.version, tt.name, tt.ok)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"001_scale.sql":      "CREATE TABLE scale (id UUID PRIMARY KEY);",
		"002_assessment.sql": "CREATE TABLE assessment (id UUID PRIMARY KEY);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}

	first := migrations[0]
	if first.Version != 1 || first.Name != "scale" {
		t.Errorf("first migration = %d %q, want 1 %q", first.Version, first.Name, "scale")
	}
	if first.SQL != "CREATE TABLE scale (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL: %s", first.SQL)
	}
	if migrations[1].Version != 2 || migrations[1].Name != "assessment" {
		t.Errorf("second migration = %d %q", migrations[1].Version, migrations[1].Name)
	}
}

func TestLoadMigrations_SortedByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"010_views.sql":   "SELECT 10;",
		"002_indexes.sql": "SELECT 2;",
		"001_tables.sql":  "SELECT 1;",
		"005_columns.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}

	want := []int{1, 2, 5, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migrations[%d].Version = %d, want %d", i, migrations[i].Version, v)
		}
	}
}

func TestLoadMigrations_SkipsUnversioned(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"001_scale.sql":   "SELECT 1;",
		"notes.txt":       "not sql",
		"readme.sql":      "-- no version prefix",
		"abc_letters.sql": "-- non-numeric prefix",
	})

	// A subdirectory must be ignored even if it contains .sql files.
	sub := filepath.Join(dir, "archive")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeMigrations(t, sub, map[string]string{"002_old.sql": "SELECT 2;"})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
	if migrations[0].Name != "scale" {
		t.Errorf("migration name = %q, want scale", migrations[0].Name)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"003_first.sql":  "SELECT 1;",
		"003_second.sql": "SELECT 2;",
	})

	_, err := NewMigrator(nil, dir).LoadMigrations()
	if err == nil {
		t.Fatal("expected an error for two files with the same version")
	}
	if !strings.Contains(err.Error(), "duplicate migration version 3") {
		t.Errorf("error %q should name the duplicated version", err)
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	migrations, err := NewMigrator(nil, t.TempDir()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	_, err := NewMigrator(nil, filepath.Join(t.TempDir(), "does-not-exist")).LoadMigrations()
	if err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestTrackingTable(t *testing.T) {
	if got := trackingTable("tenant_acme"); got != `"tenant_acme"."_migrations"` {
		t.Errorf("trackingTable = %s", got)
	}

	// Embedded quotes must be escaped, not interpreted.
	if got := trackingTable(`tenant_a"b`); got != `"tenant_a""b"."_migrations"` {
		t.Errorf("trackingTable with quote = %s", got)
	}
}
