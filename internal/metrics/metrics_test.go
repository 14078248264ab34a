package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intake/internal/store"
)

func TestQueryObserver(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues("observer-test", "default-w-0"))

	QueryObserver{}.ObserveQuery("observer-test", "default-w-0", 20*time.Millisecond)
	QueryObserver{}.ObserveQuery("observer-test", "default-w-0", 30*time.Millisecond)

	after := testutil.ToFloat64(QueriesTotal.WithLabelValues("observer-test", "default-w-0"))
	assert.Equal(t, 2.0, after-before)
}

func TestRegisterFilesystem(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "fs.db"))
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterFilesystem(reg, db))

	n, err := testutil.GatherAndCount(reg,
		"database_filesystem_available_total", "database_filesystem_capacity_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRegisterFilesystemInMemory(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterFilesystem(reg, db))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
