package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/intake/internal/query"
)

// testPath returns a database path in a per-test temporary directory.
func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// createTestDatabase opens a database with a single table "item".
func createTestDatabase(t *testing.T) (*Database, string) {
	t.Helper()

	path := testPath(t)
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Exec(context.Background(),
		`create table item (id integer primary key, name text not null) strict`))
	return db, path
}

// startTestWorker starts a worker on path and stops it at cleanup.
func startTestWorker(t *testing.T, path string, mode query.Mode) *Worker {
	t.Helper()

	w, err := StartWorker(path, "default-"+mode.String()+"-0", mode)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}
