package supervisor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/store"
)

// Tx runs statements on one leased worker inside an open transaction.
// It is only valid inside the body passed to Begin.
type Tx struct {
	mode   query.Mode
	worker *store.Worker
	done   atomic.Bool
}

// Mode returns the transaction mode.
func (tx *Tx) Mode() query.Mode {
	return tx.mode
}

func (tx *Tx) check(b query.Bound, expected query.Cardinality) error {
	if tx.done.Load() {
		return ErrTxDone
	}
	if !tx.mode.Permits(b.Mode()) {
		return &ModeError{Query: b.Descriptor, Mode: tx.mode}
	}
	return b.Expect(expected)
}

// Exec runs a None statement inside the transaction.
func (tx *Tx) Exec(ctx context.Context, b query.Bound) error {
	if err := tx.check(b, query.None); err != nil {
		return err
	}
	return tx.worker.Exec(ctx, b)
}

// One runs a One statement inside the transaction.
func (tx *Tx) One(ctx context.Context, b query.Bound) (query.Row, error) {
	if err := tx.check(b, query.One); err != nil {
		return nil, err
	}
	return tx.worker.One(ctx, b)
}

// Many streams a Many statement inside the transaction.
func (tx *Tx) Many(ctx context.Context, b query.Bound) iter.Seq2[query.Row, error] {
	return func(yield func(query.Row, error) bool) {
		if err := tx.check(b, query.Many); err != nil {
			yield(nil, err)
			return
		}
		for row, err := range tx.worker.Many(ctx, b) {
			if !yield(row, err) {
				return
			}
		}
	}
}

// TxOption configures Begin.
type TxOption func(*txOptions)

type txOptions struct {
	priority query.Priority
}

// AtPriority runs the transaction on the pool of the given priority. Write
// transactions always run on the default pool.
func AtPriority(p query.Priority) TxOption {
	return func(o *txOptions) {
		o.priority = p
	}
}

// Begin runs fn inside a transaction on a single worker. The transaction
// commits when fn returns nil and rolls back otherwise; fn's error is
// returned unchanged. A panic in fn rolls back and is re-raised.
//
// Write transactions start with BEGIN IMMEDIATE on the writer, so they
// serialize with every other write.
func (s *Supervisor) Begin(ctx context.Context, mode query.Mode, fn func(context.Context, *Tx) error, opts ...TxOption) error {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}

	l, err := s.acquire(ctx, o.priority, mode)
	if err != nil {
		return err
	}
	defer l.release()

	if err := l.worker.Begin(ctx); err != nil {
		return fmt.Errorf("begin %s transaction: %w", mode, err)
	}

	tx := &Tx{mode: mode, worker: l.worker}
	defer tx.done.Store(true)

	// Rollback must run even if ctx was cancelled inside fn.
	rollback := func() error {
		if err := l.worker.Rollback(context.WithoutCancel(ctx)); err != nil && !l.worker.Faulted() {
			return err
		}
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := rollback(); rbErr != nil {
				s.log.Error("rollback after panic failed", "error", rbErr)
			}
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	tx.done.Store(true)
	if err := l.worker.Commit(context.WithoutCancel(ctx)); err != nil {
		if !l.worker.Faulted() {
			if rbErr := rollback(); rbErr != nil {
				s.log.Error("rollback after failed commit", "error", rbErr)
			}
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
