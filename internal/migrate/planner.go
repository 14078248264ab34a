package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/roach88/intake/internal/store"
)

// LedgerTable is the name of the table recording applied migrations.
const LedgerTable = "migration"

const ledgerDDL = `create table migration (
  id integer not null,
  name text not null,
  hash text not null,
  created_at integer not null
) strict`

// Planner computes and applies migration plans on a direct database
// handle. It is not safe for concurrent use and must not run while a
// supervisor writes to the same database.
type Planner struct {
	db    *store.Database
	clock clock.Clock
	log   *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithClock sets the clock stamping ledger rows.
func WithClock(c clock.Clock) PlannerOption {
	return func(p *Planner) {
		p.clock = c
	}
}

// NewPlanner creates a planner over db.
func NewPlanner(db *store.Database, opts ...PlannerOption) *Planner {
	p := &Planner{
		db:    db,
		clock: clock.WallClock,
		log:   slog.With("component", "migrate"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan compares migrations against the ledger. Planning failures are
// returned as a *Failure plan; the error is reserved for database errors.
//
// Duplicate and malformed migrations are reported before the ledger is
// read.
func (p *Planner) Plan(ctx context.Context, migrations []Migration) (Plan, error) {
	seen := make(map[int64]struct{}, len(migrations))
	for i := range migrations {
		m := migrations[i]
		if _, ok := seen[m.ID]; ok {
			return &Failure{Kind: DuplicateIdentifier, Migration: &m}, nil
		}
		seen[m.ID] = struct{}{}
	}
	for i := range migrations {
		m := migrations[i]
		if !m.Valid() {
			return &Failure{Kind: MalformedMigration, Migration: &m}, nil
		}
	}

	all := sorted(migrations)

	deployed, err := p.db.TableExists(ctx, LedgerTable)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return &Strategy{Kind: Initial, Pending: all}, nil
	}

	ledger, failure, err := p.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		return failure, nil
	}

	for i := range all {
		if i >= len(ledger) {
			return &Strategy{Kind: Subsequent, Pending: all[i:]}, nil
		}
		if ledger[i] != all[i].Descriptor {
			expected := ledger[i]
			received := all[i]
			return &Failure{Kind: UnexpectedMigration, Expected: &expected, Migration: &received}, nil
		}
	}
	return &Strategy{Kind: Inert}, nil
}

// ledger reads applied migrations in application order.
func (p *Planner) ledger(ctx context.Context) ([]Descriptor, *Failure, error) {
	rows, err := p.db.Query(ctx, `select id, name, hash from migration order by rowid`)
	if err != nil {
		return nil, nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer rows.Close()

	var ledger []Descriptor
	for rows.Next() {
		var id, name, hash any
		if err := rows.Scan(&id, &name, &hash); err != nil {
			return nil, nil, fmt.Errorf("read migration ledger: %w", err)
		}

		d, ok := decodeRow(id, name, hash)
		if !ok {
			return nil, &Failure{
				Kind:  TableIntegrityViolation,
				Found: map[string]any{"id": id, "name": name, "hash": hash},
			}, nil
		}
		ledger = append(ledger, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read migration ledger: %w", err)
	}
	return ledger, nil, nil
}

func decodeRow(id, name, hash any) (Descriptor, bool) {
	var d Descriptor
	var ok bool
	if d.ID, ok = id.(int64); !ok {
		return d, false
	}
	if d.Name, ok = text(name); !ok {
		return d, false
	}
	if d.Hash, ok = text(hash); !ok {
		return d, false
	}
	return d, d.Valid()
}

func text(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Act applies a strategy. Each migration runs in its own transaction
// together with its ledger row; the first failure rolls back that
// migration and stops with an *ActError.
func (p *Planner) Act(ctx context.Context, s *Strategy) error {
	if s.Kind == Inert {
		return nil
	}

	if s.Kind == Initial {
		if err := p.db.Exec(ctx, ledgerDDL); err != nil {
			return fmt.Errorf("create migration ledger: %w", err)
		}
	}

	now := p.clock.Now().Unix()
	for _, m := range s.Pending {
		err := p.db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Content); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`insert into migration (id, name, hash, created_at) values (?, ?, ?, ?)`,
				m.ID, m.Name, m.Hash, now)
			return err
		})
		if err != nil {
			return &ActError{Migration: m.Descriptor, Err: err}
		}
		p.log.Info("applied migration", "id", m.ID, "name", m.Name)
	}
	return nil
}

// Migrate plans and, if viable, acts. A failed plan is returned as the
// error.
func (p *Planner) Migrate(ctx context.Context, migrations []Migration) (*Strategy, error) {
	plan, err := p.Plan(ctx, migrations)
	if err != nil {
		return nil, err
	}
	s, ok := Peek(plan)
	if !ok {
		return nil, plan.(*Failure)
	}
	if err := p.Act(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
