package query

import (
	"database/sql"
	"fmt"
	"slices"
)

// Cardinality is the expected row-count class of a statement's result.
type Cardinality int

const (
	// One resolves to a single row, or nil when no row is produced.
	One Cardinality = iota + 1
	// Many streams any number of rows.
	Many
	// None produces no rows.
	None
)

// String returns the lowercase name of the cardinality.
func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	case None:
		return "none"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// Mode is the connection affinity of a statement or transaction.
type Mode int

const (
	// Read statements may be served by any worker.
	Read Mode = iota + 1
	// Write statements are served by the single writer.
	Write
)

// String returns the short name used in worker names and metric labels.
func (m Mode) String() string {
	switch m {
	case Read:
		return "r"
	case Write:
		return "w"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Permits reports whether a handle in mode m may run a statement in mode other.
// Write handles are a superset of read handles.
func (m Mode) Permits(other Mode) bool {
	return m == Write || other == Read
}

// Priority selects the worker pool a statement is dispatched to.
type Priority int

const (
	// Default is the interactive pool.
	Default Priority = iota
	// Background is a separate pool for long-running reads.
	Background
)

// String returns the pool name.
func (p Priority) String() string {
	switch p {
	case Default:
		return "default"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// RowMode selects how rows are encoded.
type RowMode int

const (
	// RowRecord encodes rows as column name to value maps.
	RowRecord RowMode = iota
	// RowTuple encodes rows as positional value slices.
	RowTuple
)

// IntegerMode selects the integer width of decoded values.
type IntegerMode int

const (
	// IntegerWord decodes integers as int64.
	IntegerWord IntegerMode = iota
	// IntegerBig decodes integers as *big.Int.
	IntegerBig
)

// Descriptor is the static description of a statement.
type Descriptor struct {
	Name        string
	SQL         string
	Cardinality Cardinality
	Mode        Mode
}

// Define creates a Descriptor.
func Define(name string, cardinality Cardinality, mode Mode, sql string) Descriptor {
	return Descriptor{
		Name:        name,
		SQL:         sql,
		Cardinality: cardinality,
		Mode:        mode,
	}
}

// Bind attaches positional parameters.
func (d Descriptor) Bind(args ...any) Bound {
	return Bound{
		Descriptor: d,
		Args:       slices.Clone(args),
	}
}

// BindNamed attaches named parameters. Keys are referenced as :key in SQL.
// Parameters are ordered by key so that identical bindings produce
// identical argument lists.
func (d Descriptor) BindNamed(params map[string]any) Bound {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, sql.Named(k, params[k]))
	}
	return Bound{Descriptor: d, Args: args}
}

// Bound is a Descriptor with concrete parameters and encoding choices.
type Bound struct {
	Descriptor  Descriptor
	Args        []any
	RowMode     RowMode
	IntegerMode IntegerMode
	Priority    Priority
}

// Tuples returns a copy of b that encodes rows as Tuple.
func (b Bound) Tuples() Bound {
	b.RowMode = RowTuple
	return b
}

// BigIntegers returns a copy of b that decodes integers as *big.Int.
func (b Bound) BigIntegers() Bound {
	b.IntegerMode = IntegerBig
	return b
}

// Background returns a copy of b dispatched to the background pool.
func (b Bound) Background() Bound {
	b.Priority = Background
	return b
}

// Name returns the descriptor name.
func (b Bound) Name() string {
	return b.Descriptor.Name
}

// Mode returns the descriptor connection mode.
func (b Bound) Mode() Mode {
	return b.Descriptor.Mode
}

// Cardinality returns the descriptor cardinality.
func (b Bound) Cardinality() Cardinality {
	return b.Descriptor.Cardinality
}
