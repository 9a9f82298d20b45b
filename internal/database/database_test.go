package database

import (
	"context"
	"testing"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		query  string
		want   string
	}{
		{DriverSQLite, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = ? AND b = ?"},
		{DriverPostgres, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = $1 AND b = $2"},
		{DriverPostgres, "SELECT 1", "SELECT 1"},
		{DriverPostgres, "UPDATE t SET a = ?, b = ?, c = ? WHERE id = ?", "UPDATE t SET a = $1, b = $2, c = $3 WHERE id = $4"},
	}
	for _, tt := range tests {
		if got := rebind(tt.driver, tt.query); got != tt.want {
			t.Errorf("rebind(%q, %q) = %q, want %q", tt.driver, tt.query, got, tt.want)
		}
	}
}

func TestOpenMemoryRunsMigrations(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{"courses", "accounts", "profiles", "course_purchases", "course_enrollments"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	v, err := db.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Errorf("version = %d, want >= 1", v)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
