package query

import (
	"fmt"
	"math/big"
)

// Row is a decoded result row.
//
// This is a sealed interface: only Record and Tuple implement it.
type Row interface {
	row()
}

// Record is a row keyed by column name.
type Record map[string]any

func (Record) row() {}

// Tuple is a row of positional values in column order.
type Tuple []any

func (Tuple) row() {}

// Encode builds a Row from scanned column values using b's encoding choices.
// values is consumed.
func (b Bound) Encode(columns []string, values []any) Row {
	if b.IntegerMode == IntegerBig {
		for i, v := range values {
			if n, ok := v.(int64); ok {
				values[i] = big.NewInt(n)
			}
		}
	}

	switch b.RowMode {
	case RowTuple:
		return Tuple(values)
	default:
		rec := make(Record, len(columns))
		for i, col := range columns {
			rec[col] = values[i]
		}
		return rec
	}
}

// MoreThanOneError is returned when a One statement produces several rows.
// The cursor has been drained, so the connection remains usable.
type MoreThanOneError struct {
	Query Descriptor
	Rows  int
}

// Error implements the error interface.
func (e *MoreThanOneError) Error() string {
	return fmt.Sprintf("query %q: expected at most one row, received %d", e.Query.Name, e.Rows)
}

// CardinalityError is returned when a bound query is run through a call
// shape that does not match its declared cardinality.
type CardinalityError struct {
	Query    Descriptor
	Expected Cardinality
}

// Error implements the error interface.
func (e *CardinalityError) Error() string {
	return fmt.Sprintf("query %q has cardinality %s, called as %s",
		e.Query.Name, e.Query.Cardinality, e.Expected)
}

// Expect returns a CardinalityError unless b has cardinality c.
func (b Bound) Expect(c Cardinality) error {
	if b.Descriptor.Cardinality != c {
		return &CardinalityError{Query: b.Descriptor, Expected: c}
	}
	return nil
}
