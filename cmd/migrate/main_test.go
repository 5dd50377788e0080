package main

import (
	"strings"
	"testing"
)

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_create_linked_credentials.sql", true, 1, "create_linked_credentials"},
		{"0012_add_pending_index.sql", true, 12, "add_pending_index"},
		{"001_invalid.sql", false, 0, ""},        // wrong number format
		{"0001_test", false, 0, ""},              // missing .sql
		{"0001.sql", false, 0, ""},               // missing name
		{"invalid_0001_test.sql", false, 0, ""},  // wrong order
		{"README.md", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationName(tt.filename)
			if ok != tt.valid {
				t.Fatalf("ok = %v, want %v", ok, tt.valid)
			}
			if !tt.valid {
				return
			}
			if version != tt.version || name != tt.name {
				t.Errorf("parsed (%d, %q), want (%d, %q)", version, name, tt.version, tt.name)
			}
		})
	}
}

func TestReadMigrations_SubstitutesPlaceholders(t *testing.T) {
	migrations, err := readMigrations("../../migrations/bigquery", "proj", "ds")
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations found")
	}

	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			t.Errorf("migrations out of order at %s", m.Filename)
		}
		prev = m.Version

		if m.Checksum == "" {
			t.Errorf("%s has no checksum", m.Filename)
		}
		for _, placeholder := range []string{"{{PROJECT_ID}}", "{{DATASET_ID}}"} {
			if strings.Contains(m.SQL, placeholder) {
				t.Errorf("%s still contains %s", m.Filename, placeholder)
			}
		}
	}
}
