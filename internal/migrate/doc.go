// Package migrate keeps a SQLite schema in step with a set of numbered SQL
// files.
//
// Applied migrations are recorded in the migration ledger table with the
// SHA-256 of their content. Planner.Plan compares the ledger against the
// known migrations and yields either a Strategy (initial, subsequent or
// inert) or a Failure naming the offending migration. Planner.Act applies a
// strategy, one transaction per migration.
package migrate
