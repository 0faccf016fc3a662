package service

import (
	"context"
	"encoding/json"

	"github.com/devlink-broker/devlink-go/pkg/adapter"
	"github.com/devlink-broker/devlink-go/pkg/event"
	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handleDevicesEnumerate lists known devices, optionally filtered by kind.
// force_refresh runs a discovery cycle synchronously first.
func (b *Broker) handleDevicesEnumerate(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p enumerateParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.Kind != "" && !model.DeviceKind(p.Kind).Valid() {
		return nil, wire.NewInvalidParams("unknown device kind: " + p.Kind)
	}

	devices := b.discovery.Enumerate(ctx, p.ForceRefresh)
	if p.Kind != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.Kind == model.DeviceKind(p.Kind) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	return map[string]any{
		"devices": devices,
		"count":   len(devices),
	}, nil
}

// handleDevicesGet returns one device record.
func (b *Broker) handleDevicesGet(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	device, ok := b.registry.Get(p.DeviceID)
	if !ok {
		return nil, adapter.ErrUnknownDevice
	}
	return device, nil
}

// handleDevicesWatch subscribes the session to device events.
func (b *Broker) handleDevicesWatch(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	b.watchers.Subscribe(sess.SessionID(), event.StreamAll)
	return map[string]any{"watching": true}, nil
}

// handleDevicesUnwatch drops the session's device event subscription.
func (b *Broker) handleDevicesUnwatch(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	b.watchers.Unsubscribe(sess.SessionID(), event.StreamAll)
	return map[string]any{"watching": false}, nil
}
