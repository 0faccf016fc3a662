package model

import "time"

// EventType classifies a device event.
type EventType string

// Event types.
const (
	EventDiscovered    EventType = "discovered"
	EventStatusChanged EventType = "status_changed"
	EventRemoved       EventType = "removed"
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventError         EventType = "error"
)

// Event is a structured notification describing a change of device state.
// Published by the registry, the network connection manager, and the
// operation queue; fanned out to subscribed sessions by the event fabric.
//
// For any device the registry guarantees that a discovered event precedes
// any status_changed, and that removed is the final event until a
// subsequent discovered.
type Event struct {
	Type       EventType      `json:"event_type"`
	DeviceID   string         `json:"device_id"`
	DeviceKind DeviceKind     `json:"device_kind,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}
