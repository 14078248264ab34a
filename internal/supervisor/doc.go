// Package supervisor multiplexes logical read and write connections over a
// fixed pool of store workers.
//
// # Pools
//
// Workers are grouped by priority. The default pool holds the single writer
// in slot 0 and readers in every other slot. The optional background pool
// holds readers only; write work at any priority goes to the default
// writer, so exactly one writer exists per database.
//
// A default pool of one worker is a degraded configuration: the writer also
// serves reads, which then queue behind writes. It exists for tests and
// low-resource deployments.
//
// # Coordinator
//
// Each pool has one coordinator goroutine that owns the idle sets and the
// per-mode FIFO queues. Callers, worker completions and crash recovery only
// communicate with it through events, so "a worker just went idle" and
// "new work just arrived" are never observed out of order.
//
// Thread-safety model:
//   - Exec, One, Many, Begin: safe from any goroutine
//   - Tx: must be used by the goroutine running the transaction body
//   - Despawn: safe from any goroutine, idempotent
//
// # Crash Recovery
//
// A worker that faults is replaced in the same slot and mode. The
// replacement drains its slot's queue before becoming idle, so work queued
// while it was starting is not stranded. A transaction running on a faulted
// worker fails with the worker's error; the transaction path never returns
// a faulted worker to the idle set.
package supervisor
