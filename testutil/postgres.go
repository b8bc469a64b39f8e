// Package testutil provides shared helpers for tests that need a database.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/vod-excerpt/db"
)

// SetupTestDB creates a test database connection and applies the schema.
// It skips the test if the TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		// drop rows so repeated runs start clean
		_, _ = database.Exec(`DELETE FROM chat_events`)
		_, _ = database.Exec(`DELETE FROM excerpts`)
		_, _ = database.Exec(`DELETE FROM kv`)
		database.Close()
	})
	return database
}
