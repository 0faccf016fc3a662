// Package discovery drives periodic device enumeration and keeps the
// registry reconciled with what the platform currently reports. It also
// resolves network print queue URIs to host/port pairs and can advertise
// the broker itself over mDNS.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/adapter"
	"github.com/devlink-broker/devlink-go/pkg/log"
	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/registry"
)

// Engine timing defaults.
const (
	// DefaultInterval between discovery cycles.
	DefaultInterval = 30 * time.Second

	// snapshotTTL is how long a completed cycle satisfies enumerate calls
	// before a fresh one is forced.
	snapshotTTL = 10 * time.Second
)

// Engine periodically enumerates devices through the adapter set and
// merges the results into the registry.
type Engine struct {
	adapters *adapter.Set
	registry *registry.Registry
	logger   log.Logger

	interval time.Duration
	enabled  map[model.DeviceKind]bool
	resolver QueueResolver

	mu        sync.Mutex
	lastCycle time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
}

// NewEngine creates a discovery engine. enabled lists the kinds to
// enumerate; logger may be nil.
func NewEngine(adapters *adapter.Set, reg *registry.Registry, enabled map[model.DeviceKind]bool, interval time.Duration, logger log.Logger) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Engine{
		adapters: adapters,
		registry: reg,
		logger:   logger,
		interval: interval,
		enabled:  enabled,
		resolver: ResolveQueueURI,
	}
}

// SetResolver replaces the network queue URI resolver. Used by tests and
// by deployments without mDNS.
func (e *Engine) SetResolver(r QueueResolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolver = r
}

// Start launches the periodic cycle loop. The first cycle runs
// immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	e.running = true

	go func() {
		defer close(e.done)

		e.RunCycle(ctx)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.RunCycle(ctx)
			}
		}
	}()
}

// Stop halts the cycle loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
}

// RunCycle enumerates every enabled kind once and reconciles the registry.
func (e *Engine) RunCycle(ctx context.Context) {
	for _, kind := range e.adapters.Kinds() {
		if !e.enabled[kind] {
			continue
		}
		e.cycleKind(ctx, kind)
	}

	e.mu.Lock()
	e.lastCycle = time.Now()
	e.mu.Unlock()
}

// cycleKind runs one enumeration for a kind. An enumeration error skips
// reconciliation entirely, so a failing OS tool cannot trigger removals.
func (e *Engine) cycleKind(ctx context.Context, kind model.DeviceKind) {
	a, ok := e.adapters.Get(kind)
	if !ok {
		return
	}

	devices, err := a.Discover(ctx)
	if err != nil {
		e.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerService,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Message: err.Error(),
				Context: "device enumeration: " + string(kind),
			},
		})
		return
	}

	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if kind == model.KindPrinter {
			e.resolveNetworkQueue(ctx, d)
		}
		e.registry.Upsert(d)
		seen[d.ID] = struct{}{}
	}
	e.registry.ReconcileCycle(kind, seen)
}

// resolveNetworkQueue fills host/port properties for printer queues whose
// URI points at the network. Resolution is best effort; failures leave the
// record as enumerated.
func (e *Engine) resolveNetworkQueue(ctx context.Context, d *model.Device) {
	uri, _ := d.Properties["uri"].(string)
	if uri == "" || !adapter.IsNetworkQueueURI(uri) {
		return
	}

	e.mu.Lock()
	resolver := e.resolver
	e.mu.Unlock()

	host, port, err := resolver(ctx, uri)
	if err != nil {
		return
	}
	d.Properties["host"] = host
	d.Properties["port"] = port
}

// Enumerate returns the registry snapshot, first running a fresh cycle if
// the last one is stale or forceRefresh is set.
func (e *Engine) Enumerate(ctx context.Context, forceRefresh bool) []model.Device {
	e.mu.Lock()
	stale := time.Since(e.lastCycle) > snapshotTTL
	e.mu.Unlock()

	if forceRefresh || stale {
		e.RunCycle(ctx)
	}
	return e.registry.List()
}
