package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/intake/internal/query"
)

// Snapshot streams a consistent copy of the database.
//
// A second connection runs VACUUM INTO a temporary file. The copy is taken
// inside one read transaction, so it holds exactly the data committed when
// that transaction started, including frames not yet checkpointed out of
// the WAL. Writers are not blocked. Closing the stream removes the copy.
//
// Cancelling ctx interrupts the copy or aborts the stream; subsequent reads
// return ctx.Err().
func (d *Database) Snapshot(ctx context.Context) (io.ReadCloser, error) {
	if InMemory(d.path) {
		return nil, ErrInMemorySnapshot
	}

	dir, err := os.MkdirTemp("", "intake-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	target := filepath.Join(dir, filepath.Base(d.path))

	// query_only connections refuse VACUUM, including VACUUM INTO.
	conn, err := Open(d.path, append(slices.Clone(d.opts), WithMode(query.Write))...)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	err = conn.Exec(ctx, "VACUUM INTO ?", target)
	conn.Close()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("snapshot: copy: %w", err)
	}

	f, err := os.Open(target)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &snapshotStream{ctx: ctx, file: f, dir: dir}, nil
}

type snapshotStream struct {
	ctx    context.Context
	file   *os.File
	dir    string
	closed bool
}

func (s *snapshotStream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	return s.file.Read(p)
}

func (s *snapshotStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.file.Close()
	if rmErr := os.RemoveAll(s.dir); rmErr != nil {
		slog.Warn("snapshot: remove copy", "component", "store", "error", rmErr)
	}
	return err
}
