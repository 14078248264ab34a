package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/intake/internal/migrate"
	"github.com/roach88/intake/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %v\n", ev.Seq, ev.Step, ev.Outcome, ev.Pending)
		}
	}
	return buf.String()
}

// EvaluateAssertions evaluates all assertions and returns a message per
// failed assertion.
func EvaluateAssertions(ctx context.Context, db *store.Database, result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertLedger:
			err = assertLedger(ctx, db, a)
		case AssertTableExists:
			err = assertTable(ctx, db, a, true)
		case AssertTableAbsent:
			err = assertTable(ctx, db, a, false)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// assertLedger checks the ledger lists exactly the named migrations in
// application order. A missing ledger counts as empty.
func assertLedger(ctx context.Context, db *store.Database, a Assertion) error {
	var names []string

	exists, err := db.TableExists(ctx, migrate.LedgerTable)
	if err != nil {
		return err
	}
	if exists {
		rows, err := db.Query(ctx, `select name from migration order by rowid`)
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("read ledger: %w", err)
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
	}

	if !slices.Equal(names, a.Names) {
		return &AssertionError{
			Type:     AssertLedger,
			Expected: fmt.Sprintf("%v", a.Names),
			Actual:   fmt.Sprintf("%v", names),
		}
	}
	return nil
}

func assertTable(ctx context.Context, db *store.Database, a Assertion, want bool) error {
	exists, err := db.TableExists(ctx, a.Table)
	if err != nil {
		return err
	}
	if exists != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("table %s exists = %t", a.Table, want),
			Actual:   fmt.Sprintf("table %s exists = %t", a.Table, exists),
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Outcome == a.Outcome {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d events with outcome %s", a.Count, a.Outcome),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}
