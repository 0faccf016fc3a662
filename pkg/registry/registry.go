// Package registry holds the canonical in-memory device store.
//
// All mutations run under a single writer lock; readers get snapshots.
// Change events are emitted after the internal state is updated, so a
// subscriber that sees a status_changed event and then reads the registry
// observes at least the new state.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// RemoveAfterMisses is how many consecutive discovery cycles a device must
// be absent from before it is removed. A single flaky enumeration (an OS
// tool momentarily returning nothing) therefore cannot delete real devices.
const RemoveAfterMisses = 2

// HandleChecker reports whether any adapter handle or live network
// connection currently references the device. Devices with open handles
// are never removed by discovery reconciliation.
type HandleChecker func(deviceID string) bool

// Registry is the single source of truth for known devices.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*model.Device
	missed    map[string]int
	publish   func(model.Event)
	hasHandle HandleChecker
}

// New creates a registry publishing change events through the given sink.
// A nil sink disables events.
func New(publish func(model.Event)) *Registry {
	if publish == nil {
		publish = func(model.Event) {}
	}
	return &Registry{
		devices: make(map[string]*model.Device),
		missed:  make(map[string]int),
		publish: publish,
	}
}

// SetHandleChecker wires the open-handle probe used by reconciliation.
func (r *Registry) SetHandleChecker(fn HandleChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasHandle = fn
}

// List returns a snapshot of all devices, ordered by ID.
func (r *Registry) List() []model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of the device with the given ID.
func (r *Registry) Get(deviceID string) (model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return model.Device{}, false
	}
	return *d.Clone(), true
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Upsert merges a (possibly partially populated) device record into the
// store. New devices emit a discovered event; a status transition on an
// existing device emits status_changed; otherwise no event. Only discovery
// and the network connection manager call this.
func (r *Registry) Upsert(incoming *model.Device) {
	now := time.Now()

	r.mu.Lock()

	existing, ok := r.devices[incoming.ID]
	if !ok {
		d := incoming.Clone()
		if d.Status == "" {
			d.Status = model.StatusAvailable
		}
		d.LastSeen = now
		r.devices[d.ID] = d
		r.missed[d.ID] = 0
		ev := model.Event{Type: model.EventDiscovered, DeviceID: d.ID, DeviceKind: d.Kind}
		r.mu.Unlock()

		r.publish(ev)
		return
	}

	oldStatus := existing.Status
	mergeInto(existing, incoming)
	existing.LastSeen = now
	r.missed[existing.ID] = 0

	// A connected device stays connected regardless of what an enumerator
	// reports; the network manager owns that transition.
	if existing.IsConnected {
		existing.Status = model.StatusConnected
	}

	changed := existing.Status != oldStatus
	ev := model.Event{
		Type:       model.EventStatusChanged,
		DeviceID:   existing.ID,
		DeviceKind: existing.Kind,
		Data:       map[string]any{"status": string(existing.Status), "previous": string(oldStatus)},
	}
	r.mu.Unlock()

	if changed {
		r.publish(ev)
	}
}

// mergeInto copies the populated fields of src over dst.
func mergeInto(dst, src *model.Device) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Manufacturer != "" {
		dst.Manufacturer = src.Manufacturer
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.SerialNumber != "" {
		dst.SerialNumber = src.SerialNumber
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if len(src.Properties) > 0 {
		if dst.Properties == nil {
			dst.Properties = make(model.Properties, len(src.Properties))
		}
		for k, v := range src.Properties {
			dst.Properties[k] = v
		}
	}
}

// SetConnected flips the connection state of a device. The caller (the
// network manager or an adapter path) publishes the corresponding
// connected/disconnected event itself, after this state change lands.
// Returns false if the device is unknown.
func (r *Registry) SetConnected(deviceID string, connected bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	d.IsConnected = connected
	if connected {
		d.Status = model.StatusConnected
		d.LastSeen = time.Now()
	} else {
		d.Status = model.StatusAvailable
	}
	return true
}

// MarkError sets a device into the error status.
func (r *Registry) MarkError(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	d.Status = model.StatusError
	d.IsConnected = false
	return true
}

// Remove deletes a device and emits a removed event.
// Returns false if the device was unknown.
func (r *Registry) Remove(deviceID string) bool {
	r.mu.Lock()
	d, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	kind := d.Kind
	delete(r.devices, deviceID)
	delete(r.missed, deviceID)
	r.mu.Unlock()

	r.publish(model.Event{Type: model.EventRemoved, DeviceID: deviceID, DeviceKind: kind})
	return true
}

// ReconcileCycle processes the outcome of one discovery cycle for a kind.
// Devices of that kind absent from seen accumulate a miss; after
// RemoveAfterMisses consecutive misses a device is removed, unless it is
// connected or an open handle still references it. Devices that were seen
// have their miss count reset by Upsert. Returns the removed IDs.
func (r *Registry) ReconcileCycle(kind model.DeviceKind, seen map[string]struct{}) []string {
	r.mu.Lock()

	var removed []model.Event
	for id, d := range r.devices {
		if d.Kind != kind {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}

		r.missed[id]++
		if r.missed[id] < RemoveAfterMisses {
			continue
		}
		if d.IsConnected || (r.hasHandle != nil && r.hasHandle(id)) {
			// Physically gone but still held open; keep the record so close
			// and teardown paths can find it. Mark it offline.
			d.Status = model.StatusOffline
			continue
		}

		delete(r.devices, id)
		delete(r.missed, id)
		removed = append(removed, model.Event{Type: model.EventRemoved, DeviceID: id, DeviceKind: kind})
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(removed))
	for _, ev := range removed {
		r.publish(ev)
		ids = append(ids, ev.DeviceID)
	}
	return ids
}
