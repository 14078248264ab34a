package supervisor

import (
	"runtime"
	"time"

	"github.com/juju/clock"

	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/store"
)

type options struct {
	workers         map[query.Priority]int
	store           []store.Option
	clock           clock.Clock
	respawnDelay    time.Duration
	respawnMaxDelay time.Duration
}

// Option configures Spawn.
type Option func(*options)

// WithWorkers sets the worker count of a pool. The default pool needs at
// least one worker; a count of one makes the writer serve reads as well.
func WithWorkers(priority query.Priority, count int) Option {
	return func(o *options) {
		o.workers[priority] = count
	}
}

// WithStoreOptions sets the connection options of every worker.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) {
		o.store = append(o.store, opts...)
	}
}

// WithClock sets the clock used to pace respawn attempts.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRespawnDelay sets the initial and maximum delay between respawn
// attempts. The delay doubles after each failed attempt.
func WithRespawnDelay(initial, max time.Duration) Option {
	return func(o *options) {
		o.respawnDelay = initial
		o.respawnMaxDelay = max
	}
}

func buildOptions(opts []Option) options {
	o := options{
		workers: map[query.Priority]int{
			query.Default: max(2, runtime.NumCPU()),
		},
		clock:           clock.WallClock,
		respawnDelay:    100 * time.Millisecond,
		respawnMaxDelay: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
