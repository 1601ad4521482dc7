package db

import (
	"path/filepath"
	"testing"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	var name string
	err = conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&name)
	if err != nil {
		t.Fatalf("sessions table missing: %v", err)
	}

	// Migrations are idempotent.
	if err := runMigrations(conn); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestNewTestDB(t *testing.T) {
	conn, err := NewTestDB()
	if err != nil {
		t.Fatalf("NewTestDB failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(`INSERT INTO sessions (id, session_key, host, port) VALUES ('a', 'h_23', 'h', 23)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}
