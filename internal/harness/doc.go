// Package harness runs migration planner scenarios.
//
// A scenario defines a library of migrations and a sequence of steps, each
// of which plans (and optionally applies) a subset of them or runs raw SQL
// against the database, for example to corrupt the ledger. Every step is
// recorded in a trace that is compared against a golden file.
//
// # Scenario Format
//
//	name: subsequent_after_initial
//	description: "A second migration is planned after the first is applied"
//	migrations:
//	  - id: 1
//	    name: 1_alpha.sql
//	    content: create table alpha (id integer) strict;
//	steps:
//	  - plan: [1_alpha.sql]
//	    act: true
//	    expect: initial
//	  - exec: update migration set id = -1
//	  - plan: [1_alpha.sql]
//	    expect: table-integrity-violation
//	assertions:
//	  - type: ledger
//	    names: [1_alpha.sql]
//	  - type: table_exists
//	    table: alpha
//
// # Assertion Types
//
//   - ledger: the ledger lists exactly these migrations in application order
//   - table_exists, table_absent: schema inspection
//   - trace_count: an outcome was traced exactly N times
//
// # Deterministic Testing
//
// Scenarios run in a fresh in-memory database with a fixed clock and
// sequence numbers starting at 1, so traces are byte-identical across runs.
package harness
