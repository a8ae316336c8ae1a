package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/vrsandeep/vidscribe/internal/assets"
	"github.com/vrsandeep/vidscribe/internal/db"
)

// SetupTestDB creates a throwaway SQLite database with every migration
// applied. It is closed when the test completes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, assets.MigrationsFS, DiscardLogger()); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}
