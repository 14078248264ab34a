// Package query describes parameterized SQL statements and the shape of
// their results.
//
// A Descriptor is declared once per statement and never mutated:
//
//	var getSubmission = query.Define("get-submission", query.One, query.Read,
//		`select id, complete from submission where id = :id`)
//
// Binding parameters produces a Bound query, which is what the supervisor
// and workers execute:
//
//	b := getSubmission.BindNamed(map[string]any{"id": id})
//
// RESULT SHAPES:
//
// Cardinality is a closed set matched exhaustively by the worker:
//   - One: a single row, or nil when the statement yields nothing.
//     Two or more rows is a MoreThanOneError after the cursor is drained.
//   - Many: a lazily pulled sequence of rows.
//   - None: execution only, no rows.
//
// Rows are encoded either as a Record (column name to value) or as a Tuple
// (positional values). Integers are int64 unless the bound query asks for
// arbitrary precision, in which case they are *big.Int.
package query
