package migrate

import (
	"fmt"
)

// StrategyKind is the shape of an achievable plan.
type StrategyKind int

const (
	// Initial creates the ledger, then applies every migration.
	Initial StrategyKind = iota + 1
	// Subsequent applies migrations the ledger does not list yet.
	Subsequent
	// Inert means the ledger already matches every migration.
	Inert
)

func (k StrategyKind) String() string {
	switch k {
	case Initial:
		return "initial"
	case Subsequent:
		return "subsequent"
	case Inert:
		return "inert"
	default:
		return fmt.Sprintf("strategy(%d)", int(k))
	}
}

// FailureKind names why no plan could be produced.
type FailureKind int

const (
	DuplicateIdentifier FailureKind = iota + 1
	MalformedMigration
	UnexpectedMigration
	TableIntegrityViolation
)

func (k FailureKind) String() string {
	switch k {
	case DuplicateIdentifier:
		return "duplicate-identifier"
	case MalformedMigration:
		return "malformed-migration"
	case UnexpectedMigration:
		return "unexpected-migration"
	case TableIntegrityViolation:
		return "table-integrity-violation"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// Plan is the outcome of Planner.Plan: either a *Strategy or a *Failure.
type Plan interface {
	isPlan()
}

// Strategy is an achievable plan. Pending is sorted by id and free of
// duplicates; it is empty for Inert.
type Strategy struct {
	Kind    StrategyKind
	Pending []Migration
}

func (*Strategy) isPlan() {}

// Failure is a plan that cannot be acted on. Which fields are set depends
// on Kind:
//   - DuplicateIdentifier, MalformedMigration: Migration
//   - UnexpectedMigration: Expected (the ledger row) and Migration (received)
//   - TableIntegrityViolation: Found (the offending ledger row)
type Failure struct {
	Kind      FailureKind
	Migration *Migration
	Expected  *Descriptor
	Found     map[string]any
}

func (*Failure) isPlan() {}

// Error implements the error interface so a failure can be returned as one.
func (f *Failure) Error() string {
	switch f.Kind {
	case DuplicateIdentifier, MalformedMigration:
		return fmt.Sprintf("migration plan: %s: %s", f.Kind, f.Migration.Descriptor)
	case UnexpectedMigration:
		return fmt.Sprintf("migration plan: %s: ledger has %s <%s>, found %s <%s>",
			f.Kind, f.Expected, f.Expected.Hash, f.Migration.Descriptor, f.Migration.Hash)
	case TableIntegrityViolation:
		return fmt.Sprintf("migration plan: %s: row %v", f.Kind, f.Found)
	default:
		return fmt.Sprintf("migration plan: %s", f.Kind)
	}
}

// Viable reports whether p can be acted on.
func Viable(p Plan) bool {
	_, ok := p.(*Strategy)
	return ok
}

// Peek returns the strategy of a viable plan.
func Peek(p Plan) (*Strategy, bool) {
	s, ok := p.(*Strategy)
	return s, ok
}

// ActError reports the migration that failed to apply. Migrations before
// it stay committed; it and every migration after it are not applied.
type ActError struct {
	Migration Descriptor
	Err       error
}

// Error implements the error interface.
func (e *ActError) Error() string {
	return fmt.Sprintf("error while deploying migration %s: %v", e.Migration, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActError) Unwrap() error {
	return e.Err
}
