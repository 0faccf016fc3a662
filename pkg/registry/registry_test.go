package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// eventSink collects published events synchronously.
type eventSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *eventSink) publish(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *eventSink) types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func serialDevice(id string) *model.Device {
	return &model.Device{
		ID:     id,
		Kind:   model.KindSerial,
		Name:   id,
		Status: model.StatusAvailable,
	}
}

func TestUpsertEmitsDiscoveredOnce(t *testing.T) {
	sink := &eventSink{}
	reg := New(sink.publish)

	reg.Upsert(serialDevice("serial_com1"))
	reg.Upsert(serialDevice("serial_com1"))

	assert.Equal(t, []model.EventType{model.EventDiscovered}, sink.types())
	assert.Equal(t, 1, reg.Count())
}

func TestUpsertStatusChange(t *testing.T) {
	sink := &eventSink{}
	reg := New(sink.publish)

	reg.Upsert(serialDevice("serial_com1"))

	d := serialDevice("serial_com1")
	d.Status = model.StatusError
	reg.Upsert(d)

	types := sink.types()
	require.Len(t, types, 2)
	assert.Equal(t, model.EventDiscovered, types[0])
	assert.Equal(t, model.EventStatusChanged, types[1])

	got, ok := reg.Get("serial_com1")
	require.True(t, ok)
	assert.Equal(t, model.StatusError, got.Status)
}

func TestDiscoveredPrecedesStatusChanged(t *testing.T) {
	sink := &eventSink{}
	reg := New(sink.publish)

	d := serialDevice("serial_com1")
	d.Status = model.StatusError
	reg.Upsert(d)
	reg.Upsert(serialDevice("serial_com1")) // back to available

	types := sink.types()
	require.NotEmpty(t, types)
	assert.Equal(t, model.EventDiscovered, types[0])
	for _, tp := range types[1:] {
		assert.Equal(t, model.EventStatusChanged, tp)
	}
}

func TestUpsertMergePreservesConnectedState(t *testing.T) {
	sink := &eventSink{}
	reg := New(sink.publish)

	reg.Upsert(serialDevice("serial_com1"))
	require.True(t, reg.SetConnected("serial_com1", true))

	// A later enumeration reporting "available" must not flip a connected
	// device back.
	reg.Upsert(serialDevice("serial_com1"))

	got, _ := reg.Get("serial_com1")
	assert.True(t, got.IsConnected)
	assert.Equal(t, model.StatusConnected, got.Status)
}

func TestRemovalDebounce(t *testing.T) {
	sink := &eventSink{}
	reg := New(sink.publish)

	reg.Upsert(serialDevice("serial_com1"))

	// One missed cycle is not enough.
	removed := reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})
	assert.Empty(t, removed)
	assert.Equal(t, 1, reg.Count())

	// Second consecutive miss removes it.
	removed = reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})
	assert.Equal(t, []string{"serial_com1"}, removed)
	assert.Zero(t, reg.Count())

	types := sink.types()
	assert.Equal(t, model.EventRemoved, types[len(types)-1])
}

func TestReconcileResetsMissCountWhenSeen(t *testing.T) {
	sink := &eventSink{}
	reg := New(sink.publish)

	reg.Upsert(serialDevice("serial_com1"))
	reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})

	// Seen again: the miss streak resets.
	reg.Upsert(serialDevice("serial_com1"))
	reg.ReconcileCycle(model.KindSerial, map[string]struct{}{"serial_com1": {}})

	removed := reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})
	assert.Empty(t, removed, "one miss after a hit must not remove")
}

func TestOpenHandleBlocksRemoval(t *testing.T) {
	sink := &eventSink{}
	reg := New(sink.publish)

	held := true
	reg.SetHandleChecker(func(deviceID string) bool { return held })

	reg.Upsert(serialDevice("serial_com1"))

	reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})
	removed := reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})
	assert.Empty(t, removed, "held device must survive the debounce window")

	got, _ := reg.Get("serial_com1")
	assert.Equal(t, model.StatusOffline, got.Status)

	// Handle released: the next empty cycle removes it, exactly once.
	held = false
	removed = reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})
	assert.Equal(t, []string{"serial_com1"}, removed)

	removedCount := 0
	for _, ev := range sink.all() {
		if ev.Type == model.EventRemoved {
			removedCount++
		}
	}
	assert.Equal(t, 1, removedCount)
}

func TestReconcileIgnoresOtherKinds(t *testing.T) {
	reg := New(nil)

	reg.Upsert(serialDevice("serial_com1"))
	net := &model.Device{ID: "net_10_0_0_7_9100", Kind: model.KindNetwork, Status: model.StatusAvailable}
	reg.Upsert(net)

	reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})
	reg.ReconcileCycle(model.KindSerial, map[string]struct{}{})

	_, ok := reg.Get("net_10_0_0_7_9100")
	assert.True(t, ok, "reconciling serial must not touch network devices")
}

func TestListSnapshotIsolation(t *testing.T) {
	reg := New(nil)
	d := serialDevice("serial_com1")
	d.Properties = model.Properties{"port_name": "COM1"}
	reg.Upsert(d)

	snap := reg.List()
	require.Len(t, snap, 1)
	snap[0].Properties["port_name"] = "COM9"

	got, _ := reg.Get("serial_com1")
	assert.Equal(t, "COM1", got.Properties["port_name"])
}

func TestSetConnectedUnknownDevice(t *testing.T) {
	reg := New(nil)
	assert.False(t, reg.SetConnected("nope", true))
	assert.False(t, reg.MarkError("nope"))
	assert.False(t, reg.Remove("nope"))
}
