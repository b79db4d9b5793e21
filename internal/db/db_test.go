package db

import (
	"errors"
	"strings"
	"testing"
)

func TestDialectOf(t *testing.T) {
	tests := []struct {
		dsn  string
		want Dialect
	}{
		{"postgres://u:p@localhost/lostfound", Postgres},
		{"postgresql://localhost/lostfound", Postgres},
		{"sqlite:lostfound.sqlite3", SQLite},
		{"lostfound.sqlite3", SQLite},
		{":memory:", SQLite},
	}
	for _, tt := range tests {
		if got := DialectOf(tt.dsn); got != tt.want {
			t.Errorf("DialectOf(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestApplyAccessKey(t *testing.T) {
	got, err := ApplyAccessKey("postgres://board@db.example.com:5432/lostfound?sslmode=require", "s3cret")
	if err != nil {
		t.Fatalf("ApplyAccessKey: %v", err)
	}
	if !strings.Contains(got, "board:s3cret@db.example.com") {
		t.Errorf("expected password injected, got %q", got)
	}

	got, err = ApplyAccessKey("postgres://db.example.com/lostfound", "k")
	if err != nil {
		t.Fatalf("ApplyAccessKey: %v", err)
	}
	if !strings.Contains(got, "postgres:k@") {
		t.Errorf("expected default user, got %q", got)
	}

	got, _ = ApplyAccessKey("lostfound.sqlite3", "k")
	if got != "lostfound.sqlite3" {
		t.Errorf("sqlite path should be unchanged, got %q", got)
	}
}

func TestOpenWithoutDSN(t *testing.T) {
	if _, _, err := Open(""); !errors.Is(err, ErrNoDSN) {
		t.Errorf("expected ErrNoDSN, got %v", err)
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)
	if err := EnsureSchema(database, SQLite); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}

	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		t.Fatalf("querying items: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty items table, got %d rows", n)
	}
}
