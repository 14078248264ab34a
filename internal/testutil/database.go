package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/intake/internal/migrate"
	"github.com/roach88/intake/internal/store"
	"github.com/roach88/intake/migration"
)

// MigratedDatabase creates a database under t.TempDir with the submission
// schema applied and returns its path.
func MigratedDatabase(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "server.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	migrations, err := migrate.Discover(migration.FS)
	if err != nil {
		t.Fatalf("discover migrations: %v", err)
	}
	if _, err := migrate.NewPlanner(db).Migrate(context.Background(), migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return path
}
