package internal

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// OpenTestDB opens a private in-memory SQLite database closed with the test.
func OpenTestDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
