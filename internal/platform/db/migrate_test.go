package db

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"002_bookings.sql": {Data: []byte("CREATE TABLE booking (id UUID PRIMARY KEY);")},
		"001_core.sql":     {Data: []byte("CREATE TABLE practice (id TEXT PRIMARY KEY);")},
		"010_indexes.sql":  {Data: []byte("CREATE INDEX x ON booking (id);")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("expected name 001_core.sql, got %s", migrations[0].Name)
	}
	if !strings.Contains(migrations[0].SQL, "practice") {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonSQL(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"README.md":     {Data: []byte("docs")},
		"notes_001.sql": {Data: []byte("SELECT 2;")},
		"seed.sql":      {Data: []byte("SELECT 3;")},
		"sub/002_x.sql": {Data: []byte("SELECT 4;")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 2;")},
	}

	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestCheckSchema(t *testing.T) {
	tests := []struct {
		schema string
		ok     bool
	}{
		{"public", true},
		{"carematch_test", true},
		{"1bad", false},
		{"bad; DROP TABLE x", false},
		{"", false},
	}
	for _, tt := range tests {
		err := checkSchema(tt.schema)
		if tt.ok && err != nil {
			t.Errorf("checkSchema(%q) unexpected error: %v", tt.schema, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("checkSchema(%q) expected error", tt.schema)
		}
	}
}
