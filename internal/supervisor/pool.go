package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/juju/retry"

	"github.com/roach88/intake/internal/metrics"
	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/store"
)

// slot is a fixed position in a pool. Its worker is replaced on fault.
type slot struct {
	index  int
	mode   query.Mode
	worker *store.Worker // nil while respawning
}

// lease grants exclusive use of a worker until released.
type lease struct {
	pool   *pool
	slot   int
	worker *store.Worker
}

// release hands the worker back to the coordinator.
func (l lease) release() {
	l.pool.post(releaseEvent{lease: l})
}

type (
	acquireEvent struct{ waiter *waiter }
	releaseEvent struct{ lease lease }
	abandonEvent struct{ waiter *waiter }
	faultEvent   struct {
		slot   int
		worker *store.Worker
	}
	respawnEvent struct {
		slot   int
		worker *store.Worker
	}
)

// pool is one priority's set of workers plus its coordinator.
type pool struct {
	priority query.Priority
	path     string
	opts     options
	log      *slog.Logger

	events chan any
	quit   <-chan struct{}
	wg     *sync.WaitGroup

	// Owned by the coordinator goroutine after start.
	slots  []*slot
	idle   map[query.Mode][]int
	queues map[query.Mode]*waitQueue
}

func newPool(priority query.Priority, path string, opts options, quit <-chan struct{}, wg *sync.WaitGroup) *pool {
	return &pool{
		priority: priority,
		path:     path,
		opts:     opts,
		log:      slog.With("component", "supervisor", "priority", priority.String()),
		events:   make(chan any),
		quit:     quit,
		wg:       wg,
		idle: map[query.Mode][]int{
			query.Read:  nil,
			query.Write: nil,
		},
		queues: map[query.Mode]*waitQueue{
			query.Read:  newWaitQueue(),
			query.Write: newWaitQueue(),
		},
	}
}

func (p *pool) workerName(index int, mode query.Mode) string {
	return fmt.Sprintf("%s-%s-%d", p.priority, mode, index)
}

// spawn starts count workers synchronously. In the default pool slot 0 is
// the writer; every other slot, and every background slot, is a reader.
func (p *pool) spawn(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		mode := query.Read
		if p.priority == query.Default && i == 0 {
			mode = query.Write
		}

		w, err := store.StartWorker(p.path, p.workerName(i, mode), mode, p.opts.store...)
		if err != nil {
			return err
		}
		p.slots = append(p.slots, &slot{index: i, mode: mode, worker: w})
		p.idle[mode] = append(p.idle[mode], i)
	}

	p.log.Debug(fmt.Sprintf("spawned %d <%s> workers", count, p.priority), "count", count)
	return nil
}

// start launches the coordinator and one monitor per worker.
func (p *pool) start() {
	p.wg.Add(1)
	go p.run()
	for _, s := range p.slots {
		p.watch(s.index, s.worker)
	}
}

// closeWorkers stops every worker. Used when spawning fails part way.
func (p *pool) closeWorkers() {
	for _, s := range p.slots {
		if s.worker != nil {
			s.worker.Close()
		}
	}
}

// fallback reports whether the writer serves reads because the pool has no
// readers.
func (p *pool) fallback() bool {
	return len(p.slots) == 1 && p.slots[0].mode == query.Write
}

// post delivers an event to the coordinator.
func (p *pool) post(ev any) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.quit:
		return false
	}
}

// acquire blocks until a worker able to serve mode is leased to the caller.
func (p *pool) acquire(ctx context.Context, mode query.Mode) (lease, error) {
	w := &waiter{mode: mode, reply: make(chan lease, 1)}
	if !p.post(acquireEvent{waiter: w}) {
		return lease{}, ErrDespawned
	}

	select {
	case l := <-w.reply:
		return l, nil
	case <-ctx.Done():
		p.post(abandonEvent{waiter: w})
		return lease{}, ctx.Err()
	case <-p.quit:
		return lease{}, ErrDespawned
	}
}

func (p *pool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			p.closeWorkers()
			return
		case ev := <-p.events:
			switch e := ev.(type) {
			case acquireEvent:
				p.onAcquire(e.waiter)
			case releaseEvent:
				p.onRelease(e.lease)
			case abandonEvent:
				p.onAbandon(e.waiter)
			case faultEvent:
				p.onFault(e.slot, e.worker)
			case respawnEvent:
				p.onRespawn(e.slot, e.worker)
			default:
				p.log.Error("unknown event", "event", fmt.Sprintf("%T", ev))
			}
		}
	}
}

func (p *pool) onAcquire(w *waiter) {
	mode := w.mode
	if p.fallback() {
		mode = query.Write
	}

	if idle := p.idle[mode]; len(idle) > 0 {
		index := idle[len(idle)-1]
		p.idle[mode] = idle[:len(idle)-1]
		w.reply <- p.lease(index)
		return
	}

	p.queues[w.mode].Push(w)
	p.gauge(w.mode)
}

func (p *pool) onRelease(l lease) {
	s := p.slots[l.slot]
	if s.worker != l.worker || l.worker.Faulted() {
		// Fault recovery owns this slot.
		return
	}
	p.drain(s)
}

func (p *pool) onAbandon(w *waiter) {
	if p.queues[w.mode].Remove(w) {
		p.gauge(w.mode)
		return
	}
	// Already granted: the lease sits unread in the reply buffer.
	select {
	case l := <-w.reply:
		p.onRelease(l)
	default:
	}
}

func (p *pool) onFault(index int, w *store.Worker) {
	s := p.slots[index]
	if s.worker != w {
		return
	}
	s.worker = nil

	p.log.Error("worker crashed", "worker", w.Name(), "error", w.Fault())
	metrics.WorkerFaultsTotal.WithLabelValues(w.Name()).Inc()

	p.wg.Add(1)
	go p.respawn(index, s.mode)
}

func (p *pool) onRespawn(index int, w *store.Worker) {
	s := p.slots[index]
	s.worker = w
	p.watch(index, w)
	p.log.Info("worker respawned", "worker", w.Name())

	// Work may have queued while the slot was down and no other worker was
	// available; pick it up before going idle.
	p.drain(s)
}

// drain hands s to the next queued waiter for its mode, or marks it idle.
// In the single-worker fallback the writer also drains queued reads.
func (p *pool) drain(s *slot) {
	w := p.queues[s.mode].Pop()
	if w == nil && p.fallback() {
		w = p.queues[query.Read].Pop()
	}
	if w == nil {
		p.idle[s.mode] = append(p.idle[s.mode], s.index)
		return
	}
	p.gauge(w.mode)
	w.reply <- p.lease(s.index)
}

func (p *pool) lease(index int) lease {
	return lease{pool: p, slot: index, worker: p.slots[index].worker}
}

func (p *pool) gauge(mode query.Mode) {
	metrics.QueuedWorkGauge.WithLabelValues(p.priority.String(), mode.String()).
		Set(float64(p.queues[mode].Len()))
}

// watch reports a fault of w to the coordinator.
func (p *pool) watch(index int, w *store.Worker) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-w.Done():
			if w.Faulted() {
				p.post(faultEvent{slot: index, worker: w})
			}
		case <-p.quit:
		}
	}()
}

// respawn starts a replacement worker, retrying with backoff until it
// comes up or the supervisor is despawned.
func (p *pool) respawn(index int, mode query.Mode) {
	defer p.wg.Done()

	name := p.workerName(index, mode)
	var w *store.Worker
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			w, err = store.StartWorker(p.path, name, mode, p.opts.store...)
			return err
		},
		NotifyFunc: func(err error, attempt int) {
			p.log.Warn("respawn failed", "worker", name, "attempt", attempt, "error", err)
		},
		Attempts:    -1,
		Delay:       p.opts.respawnDelay,
		MaxDelay:    p.opts.respawnMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       p.opts.clock,
		Stop:        p.quit,
	})
	if err != nil {
		p.log.Debug("respawn abandoned", "worker", name, "error", err)
		return
	}

	if !p.post(respawnEvent{slot: index, worker: w}) {
		w.Close()
	}
}
