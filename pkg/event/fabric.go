package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// DeliverFunc pushes one event to one session. Implementations must not
// block indefinitely; the transport queues per session and drops oldest on
// overflow.
type DeliverFunc func(sessionID string, ev model.Event)

// Fabric is the in-process event bus. Publish never blocks: events are
// appended to an in-memory queue and a single fan-out goroutine delivers
// them to subscribers in publish order.
type Fabric struct {
	watchers *Watchers
	deliver  DeliverFunc

	mu    sync.Mutex
	queue []model.Event
	wake  chan struct{}

	published atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewFabric creates a fabric fanning out to the given watcher registry.
// The delivery callback is set separately so the transport can be wired
// after construction.
func NewFabric(watchers *Watchers) *Fabric {
	return &Fabric{
		watchers: watchers,
		wake:     make(chan struct{}, 1),
	}
}

// SetDeliverFunc sets the per-session delivery callback.
// Must be called before Start.
func (f *Fabric) SetDeliverFunc(deliver DeliverFunc) {
	f.deliver = deliver
}

// Watchers returns the watcher registry the fabric fans out to.
func (f *Fabric) Watchers() *Watchers {
	return f.watchers
}

// Publish enqueues an event for fan-out. A zero timestamp is stamped with
// the current time. Safe for concurrent use; never blocks.
func (f *Fabric) Publish(ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	f.mu.Lock()
	f.queue = append(f.queue, ev)
	f.mu.Unlock()

	f.published.Add(1)

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Published returns the total number of events published.
func (f *Fabric) Published() uint64 {
	return f.published.Load()
}

// Start begins the fan-out goroutine.
func (f *Fabric) Start(ctx context.Context) {
	if f.running.Swap(true) {
		return // Already running
	}

	f.ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.run()
}

// Stop halts fan-out. Events still queued are dropped.
func (f *Fabric) Stop() {
	if !f.running.Swap(false) {
		return // Not running
	}

	f.cancel()
	f.wg.Wait()
}

// run drains the queue and delivers each event to all subscribers of the
// "all" stream, preserving publish order.
func (f *Fabric) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.wake:
		}

		for {
			f.mu.Lock()
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			batch := f.queue
			f.queue = nil
			f.mu.Unlock()

			for _, ev := range batch {
				f.fanOut(ev)
			}
		}
	}
}

// fanOut delivers one event to every subscriber.
func (f *Fabric) fanOut(ev model.Event) {
	if f.deliver == nil {
		return
	}
	for _, sessionID := range f.watchers.Subscribers(StreamAll) {
		f.deliver(sessionID, ev)
	}
}
