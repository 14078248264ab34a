package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intake/internal/query"
)

func TestOpenAppliesPragmas(t *testing.T) {
	db, err := Open(testPath(t))
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, db.verifyPragma("synchronous", "1"))
	assert.NoError(t, db.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, db.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, db.verifyPragma("query_only", "0"))
}

func TestOpenExternalCheckpoint(t *testing.T) {
	db, err := Open(testPath(t), WithExternalCheckpoint())
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.verifyPragma("wal_autocheckpoint", "0"))
}

func TestOpenReadModeIsQueryOnly(t *testing.T) {
	_, path := createTestDatabase(t)

	reader, err := Open(path, WithMode(query.Read))
	require.NoError(t, err)
	defer reader.Close()

	assert.NoError(t, reader.verifyPragma("query_only", "1"))
	assert.Error(t, reader.Exec(context.Background(), `insert into item (name) values ('x')`))
}

func TestLocation(t *testing.T) {
	path := testPath(t)
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Location())

	mem, err := Open(":memory:")
	require.NoError(t, err)
	defer mem.Close()
	assert.Equal(t, "", mem.Location())
}

func TestInMemory(t *testing.T) {
	assert.True(t, InMemory(":memory:"))
	assert.True(t, InMemory(""))
	assert.True(t, InMemory("file::memory:?cache=shared"))
	assert.True(t, InMemory("file:test.db?mode=memory"))
	assert.False(t, InMemory("server.db"))
}

func TestInTx(t *testing.T) {
	ctx := context.Background()
	db, _ := createTestDatabase(t)

	err := db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`insert into item (name) values ('kept')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`insert into item (name) values ('discarded')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var names []string
	rows, err := db.Query(ctx, `select name from item order by id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"kept"}, names)
}

func TestTableExists(t *testing.T) {
	ctx := context.Background()
	db, _ := createTestDatabase(t)

	exists, err := db.TableExists(ctx, "item")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.TableExists(ctx, "migration")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFilesystem(t *testing.T) {
	db, _ := createTestDatabase(t)

	stats, err := db.Filesystem()
	require.NoError(t, err)
	assert.Greater(t, stats.Capacity, uint64(0))
	assert.LessOrEqual(t, stats.Available, stats.Capacity)
}
