package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/roach88/intake/internal/migrate"
	"github.com/roach88/intake/internal/store"
	"github.com/roach88/intake/internal/testutil"
)

// epoch stamps every ledger row written by the harness.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness executes scenario steps against one database.
type Harness struct {
	db         *store.Database
	planner    *migrate.Planner
	seq        *testutil.Sequence
	migrations map[string]migrate.Migration
	logger     *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Expectation and
// assertion failures are collected in the result; the error is reserved
// for failures of the harness itself.
func Run(scenario *Scenario) (*Result, error) {
	db, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	defer db.Close()

	h := &Harness{
		db:         db,
		planner:    migrate.NewPlanner(db, migrate.WithClock(testclock.NewClock(epoch))),
		seq:        testutil.NewSequence(),
		migrations: make(map[string]migrate.Migration, len(scenario.Migrations)),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, def := range scenario.Migrations {
		h.migrations[def.Name] = def.Migration()
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		var err error
		if step.Exec != "" {
			err = h.exec(ctx, i, step, result)
		} else {
			err = h.plan(ctx, i, step, result)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, db, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) exec(ctx context.Context, index int, step Step, result *Result) error {
	outcome := OutcomeOK
	if err := h.db.Exec(ctx, step.Exec); err != nil {
		h.logger.Info("exec step failed", "step", index, "error", err)
		outcome = OutcomeError
	}
	result.AddTrace(TraceEvent{Seq: h.seq.Next(), Step: StepExec, Outcome: outcome})

	expected := step.Expect
	if expected == "" {
		expected = OutcomeOK
	}
	if outcome != expected {
		result.AddError(fmt.Sprintf("steps[%d]: exec: expected %s, got %s", index, expected, outcome))
	}
	return nil
}

func (h *Harness) plan(ctx context.Context, index int, step Step, result *Result) error {
	migrations := make([]migrate.Migration, 0, len(step.Plan))
	for _, name := range step.Plan {
		migrations = append(migrations, h.migrations[name])
	}

	plan, err := h.planner.Plan(ctx, migrations)
	if err != nil {
		return err
	}

	ev := TraceEvent{Seq: h.seq.Next(), Step: StepPlan}
	switch p := plan.(type) {
	case *migrate.Strategy:
		ev.Outcome = p.Kind.String()
		for _, m := range p.Pending {
			ev.Pending = append(ev.Pending, m.Name)
		}
	case *migrate.Failure:
		ev.Outcome = p.Kind.String()
		if p.Migration != nil {
			ev.Migration = p.Migration.Name
		}
	}
	result.AddTrace(ev)

	if step.Expect != "" && ev.Outcome != step.Expect {
		result.AddError(fmt.Sprintf("steps[%d]: plan: expected %s, got %s", index, step.Expect, ev.Outcome))
	}

	if !step.Act {
		return nil
	}

	s, ok := migrate.Peek(plan)
	if !ok {
		result.AddError(fmt.Sprintf("steps[%d]: act: plan is not viable (%s)", index, ev.Outcome))
		return nil
	}

	act := TraceEvent{Step: StepAct, Outcome: OutcomeOK}
	if err := h.planner.Act(ctx, s); err != nil {
		act.Outcome = OutcomeError
		var actErr *migrate.ActError
		if errors.As(err, &actErr) {
			act.Migration = actErr.Migration.Name
		}
		h.logger.Info("act step failed", "step", index, "error", err)
	}
	act.Seq = h.seq.Next()
	result.AddTrace(act)

	expected := step.ExpectAct
	if expected == "" {
		expected = OutcomeOK
	}
	if act.Outcome != expected {
		result.AddError(fmt.Sprintf("steps[%d]: act: expected %s, got %s", index, expected, act.Outcome))
	}
	return nil
}
