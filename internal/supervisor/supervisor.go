package supervisor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/store"
)

// Supervisor presents one read/write interface over pooled workers.
//
// A nil *Supervisor is valid and fails every call with ErrUnavailable.
type Supervisor struct {
	pools map[query.Priority]*pool
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	log   *slog.Logger
}

// Spawn starts the worker pools on the database at path.
// Workers are started synchronously; the first failure is returned after
// stopping the workers already started.
func Spawn(ctx context.Context, path string, opts ...Option) (*Supervisor, error) {
	if store.InMemory(path) {
		return nil, ErrInMemorySpawn
	}

	o := buildOptions(opts)
	if o.workers[query.Default] < 1 {
		return nil, fmt.Errorf("supervisor: default pool needs at least one worker, got %d", o.workers[query.Default])
	}

	s := &Supervisor{
		pools: make(map[query.Priority]*pool),
		quit:  make(chan struct{}),
		log:   slog.With("component", "supervisor"),
	}

	// The writer goes first: it switches the database to WAL before any
	// reader connects.
	for _, priority := range []query.Priority{query.Default, query.Background} {
		count := o.workers[priority]
		if count < 0 {
			s.closeAll()
			return nil, fmt.Errorf("supervisor: negative worker count %d for %s pool", count, priority)
		}
		if count == 0 {
			continue
		}

		p := newPool(priority, path, o, s.quit, &s.wg)
		s.pools[priority] = p
		if err := p.spawn(ctx, count); err != nil {
			s.closeAll()
			return nil, fmt.Errorf("supervisor: spawn %s pool: %w", priority, err)
		}
	}

	for _, p := range s.pools {
		p.start()
	}
	return s, nil
}

func (s *Supervisor) closeAll() {
	for _, p := range s.pools {
		p.closeWorkers()
	}
}

// Despawn stops every worker. Calls made afterwards return ErrDespawned.
// Safe to call multiple times.
func (s *Supervisor) Despawn() error {
	if s == nil {
		return ErrUnavailable
	}
	s.once.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
	return nil
}

// pool selects the pool serving priority and mode. Writes always go to the
// default pool, as do priorities without workers.
func (s *Supervisor) pool(priority query.Priority, mode query.Mode) (*pool, error) {
	if s == nil {
		return nil, ErrUnavailable
	}
	select {
	case <-s.quit:
		return nil, ErrDespawned
	default:
	}

	if mode == query.Write {
		return s.pools[query.Default], nil
	}
	if p, ok := s.pools[priority]; ok {
		return p, nil
	}
	return s.pools[query.Default], nil
}

func (s *Supervisor) acquire(ctx context.Context, priority query.Priority, mode query.Mode) (lease, error) {
	p, err := s.pool(priority, mode)
	if err != nil {
		return lease{}, err
	}
	return p.acquire(ctx, mode)
}

// Exec runs a None statement on an idle worker, waiting for one if needed.
func (s *Supervisor) Exec(ctx context.Context, b query.Bound) error {
	if err := b.Expect(query.None); err != nil {
		return err
	}
	l, err := s.acquire(ctx, b.Priority, b.Mode())
	if err != nil {
		return err
	}
	defer l.release()

	return l.worker.Exec(ctx, b)
}

// One runs a One statement. It returns nil when no row matched and a
// *query.MoreThanOneError when several did.
func (s *Supervisor) One(ctx context.Context, b query.Bound) (query.Row, error) {
	if err := b.Expect(query.One); err != nil {
		return nil, err
	}
	l, err := s.acquire(ctx, b.Priority, b.Mode())
	if err != nil {
		return nil, err
	}
	defer l.release()

	return l.worker.One(ctx, b)
}

// Many streams the rows of a Many statement. A worker is acquired when
// iteration starts and released when it ends, including on break.
func (s *Supervisor) Many(ctx context.Context, b query.Bound) iter.Seq2[query.Row, error] {
	return func(yield func(query.Row, error) bool) {
		if err := b.Expect(query.Many); err != nil {
			yield(nil, err)
			return
		}
		l, err := s.acquire(ctx, b.Priority, b.Mode())
		if err != nil {
			yield(nil, err)
			return
		}
		defer l.release()

		for row, err := range l.worker.Many(ctx, b) {
			if !yield(row, err) {
				return
			}
		}
	}
}

// Collect drains a row sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[query.Row, error]) ([]query.Row, error) {
	var rows []query.Row
	for row, err := range seq {
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var healthCheck = query.Define("health-check", query.One, query.Read, `select 1`)

// AssertHealthy runs a trivial statement in a write and a read transaction
// concurrently.
func (s *Supervisor) AssertHealthy(ctx context.Context) error {
	if s == nil {
		return ErrUnavailable
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, mode := range []query.Mode{query.Write, query.Read} {
		g.Go(func() error {
			return s.Begin(gctx, mode, func(ctx context.Context, tx *Tx) error {
				_, err := tx.One(ctx, healthCheck.Bind())
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Join(errors.New("supervisor: unhealthy"), err)
	}
	return nil
}
