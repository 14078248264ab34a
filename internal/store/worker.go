package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/intake/internal/query"
)

// replyBuffer bounds the rows in flight between a worker and its caller.
const replyBuffer = 16

type jobKind int

const (
	jobStatement jobKind = iota + 1
	jobBegin
	jobCommit
	jobRollback
)

func (k jobKind) String() string {
	switch k {
	case jobStatement:
		return "statement"
	case jobBegin:
		return "begin"
	case jobCommit:
		return "commit"
	case jobRollback:
		return "rollback"
	default:
		return fmt.Sprintf("job(%d)", int(k))
	}
}

// job is one request sent to a worker. The worker closes reply when the
// job is finished; stop is closed by a caller that abandons a stream.
type job struct {
	kind  jobKind
	bound query.Bound
	reply chan message
	stop  chan struct{}
}

type message struct {
	row query.Row
	err error
}

// Worker owns one SQLite connection and executes jobs sequentially on its
// own goroutine. Callers never touch the connection directly.
//
// A Worker must be used by one caller at a time; the supervisor
// guarantees this by handing out workers exclusively.
type Worker struct {
	name string
	mode query.Mode
	db   *Database
	obs  Observer
	log  *slog.Logger

	// stmts is only accessed from the worker goroutine.
	stmts *lru.Cache
	inTx  bool

	jobs chan job
	quit chan struct{}
	done chan struct{}

	// fault is written before done is closed and read only after.
	fault error

	closeOnce sync.Once
}

// StartWorker opens a connection in the given mode and starts serving jobs.
// Connection and pragma failures are returned synchronously.
func StartWorker(path, name string, mode query.Mode, opts ...Option) (*Worker, error) {
	db, err := Open(path, append(slices.Clone(opts), WithMode(mode))...)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", name, err)
	}

	stmts, err := lru.NewWithEvict(db.o.statementCache, func(_, value interface{}) {
		value.(*sql.Stmt).Close()
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("worker %s: statement cache: %w", name, err)
	}

	w := &Worker{
		name:  name,
		mode:  mode,
		db:    db,
		obs:   db.o.observer,
		log:   slog.With("component", "worker", "worker", name),
		stmts: stmts,
		jobs:  make(chan job),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// Mode returns the connection mode.
func (w *Worker) Mode() query.Mode {
	return w.mode
}

// Done is closed when the worker stops, either by Close or by a fault.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Fault returns the error that terminated the worker, or nil if it is
// running or was closed normally.
func (w *Worker) Fault() error {
	select {
	case <-w.done:
		return w.fault
	default:
		return nil
	}
}

// Faulted reports whether the worker terminated with a fault.
func (w *Worker) Faulted() bool {
	return w.Fault() != nil
}

// Close stops the worker, rolling back an open transaction.
// Safe to call multiple times.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
	return nil
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.quit:
			w.shutdown()
			close(w.done)
			return
		case j := <-w.jobs:
			err := w.handle(j)

			var moreThanOne *query.MoreThanOneError
			if err != nil && !errors.As(err, &moreThanOne) {
				fault := &FaultError{Worker: w.name, Err: err}
				if j.kind == jobStatement {
					fault.Query = j.bound.Name()
				}
				w.fail(fault)
				w.send(j, message{err: fault})
				close(j.reply)
				return
			}
			if err != nil {
				w.send(j, message{err: err})
			}
			close(j.reply)
		}
	}
}

// fail records the fault and releases the connection before any caller
// can observe the error.
func (w *Worker) fail(err error) {
	w.log.Error("worker fault", "error", err)
	w.stmts.Purge()
	w.db.Close()
	w.fault = err
	close(w.done)
}

func (w *Worker) shutdown() {
	if w.inTx {
		if _, err := w.db.conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
			w.log.Warn("rollback on close failed", "error", err)
		}
	}
	w.stmts.Purge()
	if err := w.db.Close(); err != nil {
		w.log.Warn("close failed", "error", err)
	}
}

// send delivers m unless the caller has abandoned the job or the worker is
// shutting down. Returns false if m was dropped.
func (w *Worker) send(j job, m message) bool {
	select {
	case j.reply <- m:
		return true
	case <-j.stop:
		return false
	case <-w.quit:
		return false
	}
}

func (w *Worker) handle(j job) error {
	ctx := context.Background()

	switch j.kind {
	case jobBegin:
		stmt := "BEGIN DEFERRED"
		if w.mode == query.Write {
			stmt = "BEGIN IMMEDIATE"
		}
		if _, err := w.db.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
		w.inTx = true
		return nil
	case jobCommit, jobRollback:
		stmt := "COMMIT"
		if j.kind == jobRollback {
			stmt = "ROLLBACK"
		}
		w.inTx = false
		_, err := w.db.conn.ExecContext(ctx, stmt)
		return err
	case jobStatement:
		return w.statement(ctx, j)
	default:
		return fmt.Errorf("unknown job %s", j.kind)
	}
}

func (w *Worker) statement(ctx context.Context, j job) error {
	b := j.bound
	if w.obs != nil {
		start := time.Now()
		defer func() {
			w.obs.ObserveQuery(b.Name(), w.name, time.Since(start))
		}()
	}

	stmt, err := w.prepare(ctx, b.Descriptor.SQL)
	if err != nil {
		return err
	}

	switch b.Cardinality() {
	case query.None:
		_, err := stmt.ExecContext(ctx, b.Args...)
		return err

	case query.One:
		rows, err := stmt.QueryContext(ctx, b.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		// Drain fully: a row left unread would hold the statement open.
		var first query.Row
		count := 0
		for rows.Next() {
			row, err := scan(rows, b)
			if err != nil {
				return err
			}
			if count == 0 {
				first = row
			}
			count++
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if count > 1 {
			return &query.MoreThanOneError{Query: b.Descriptor, Rows: count}
		}
		if first != nil {
			w.send(j, message{row: first})
		}
		return nil

	case query.Many:
		rows, err := stmt.QueryContext(ctx, b.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			row, err := scan(rows, b)
			if err != nil {
				return err
			}
			if !w.send(j, message{row: row}) {
				return nil
			}
		}
		return rows.Err()

	default:
		return fmt.Errorf("query %q: unknown cardinality %s", b.Name(), b.Cardinality())
	}
}

func (w *Worker) prepare(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	if cached, ok := w.stmts.Get(sqlText); ok {
		return cached.(*sql.Stmt), nil
	}
	stmt, err := w.db.conn.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	w.stmts.Add(sqlText, stmt)
	return stmt, nil
}

func scan(rows *sql.Rows, b query.Bound) (query.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return b.Encode(columns, values), nil
}

// call hands a job to the worker goroutine.
func (w *Worker) call(ctx context.Context, kind jobKind, b query.Bound, stop chan struct{}) (<-chan message, error) {
	j := job{
		kind:  kind,
		bound: b,
		reply: make(chan message, replyBuffer),
		stop:  stop,
	}
	select {
	case w.jobs <- j:
		return j.reply, nil
	case <-w.done:
		if fault := w.Fault(); fault != nil {
			return nil, fault
		}
		return nil, ErrWorkerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wait collects the terminal error of a job that yields no rows.
func wait(reply <-chan message) error {
	var err error
	for m := range reply {
		if m.err != nil {
			err = m.err
		}
	}
	return err
}

// Exec runs a None statement.
func (w *Worker) Exec(ctx context.Context, b query.Bound) error {
	if err := b.Expect(query.None); err != nil {
		return err
	}
	reply, err := w.call(ctx, jobStatement, b, nil)
	if err != nil {
		return err
	}
	return wait(reply)
}

// One runs a One statement and returns its row, or nil if there was none.
func (w *Worker) One(ctx context.Context, b query.Bound) (query.Row, error) {
	if err := b.Expect(query.One); err != nil {
		return nil, err
	}
	reply, err := w.call(ctx, jobStatement, b, nil)
	if err != nil {
		return nil, err
	}

	var row query.Row
	for m := range reply {
		if m.err != nil {
			err = m.err
			continue
		}
		row = m.row
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Many streams the rows of a Many statement. Breaking out of the loop
// releases the cursor; the worker is free again once the sequence returns.
func (w *Worker) Many(ctx context.Context, b query.Bound) iter.Seq2[query.Row, error] {
	return func(yield func(query.Row, error) bool) {
		if err := b.Expect(query.Many); err != nil {
			yield(nil, err)
			return
		}

		stop := make(chan struct{})
		reply, err := w.call(ctx, jobStatement, b, stop)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			close(stop)
			for range reply {
			}
		}()

		for {
			select {
			case m, ok := <-reply:
				if !ok {
					return
				}
				if m.err != nil {
					yield(nil, m.err)
					return
				}
				if !yield(m.row, nil) {
					return
				}
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
	}
}

// Begin starts a transaction: IMMEDIATE on the writer, DEFERRED otherwise.
func (w *Worker) Begin(ctx context.Context) error {
	return w.control(ctx, jobBegin)
}

// Commit commits the open transaction.
func (w *Worker) Commit(ctx context.Context) error {
	return w.control(ctx, jobCommit)
}

// Rollback aborts the open transaction.
func (w *Worker) Rollback(ctx context.Context) error {
	return w.control(ctx, jobRollback)
}

func (w *Worker) control(ctx context.Context, kind jobKind) error {
	reply, err := w.call(ctx, kind, query.Bound{}, nil)
	if err != nil {
		return err
	}
	return wait(reply)
}
