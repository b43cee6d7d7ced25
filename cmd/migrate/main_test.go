package main

import "testing"

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error loading embedded migrations: %v", err)
	}
	if len(migrations) != 5 {
		t.Fatalf("expected 5 migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != int64(i+1) {
			t.Fatalf("expected migration %d to have version %d, got %d", i, i+1, m.Version)
		}
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Fatalf("expected non-empty up/down sql for version %d", m.Version)
		}
	}
	if migrations[0].Name != "create_prices" {
		t.Fatalf("unexpected first migration name: %s", migrations[0].Name)
	}
	if migrations[4].Name != "create_ssh_users" {
		t.Fatalf("unexpected last migration name: %s", migrations[4].Name)
	}
}
