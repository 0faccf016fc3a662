package service

import (
	"context"
	"encoding/json"

	"github.com/devlink-broker/devlink-go/pkg/netman"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handleNetworkConnect opens a persistent TCP connection to an endpoint
// and registers it as a network device.
func (b *Broker) handleNetworkConnect(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p endpointParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	deviceID, err := b.network.Connect(p.Host, p.Port, timeoutFromMS(p.TimeoutMS, 0))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":   true,
		"status":    "connected",
		"device_id": deviceID,
	}, nil
}

// handleNetworkDisconnect closes a live connection. Disconnecting an
// already-disconnected device succeeds and reports not_connected either
// way; was_connected tells the two apart.
func (b *Broker) handleNetworkDisconnect(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	applied := b.network.Disconnect(p.DeviceID)
	return map[string]any{
		"success":       true,
		"status":        "not_connected",
		"device_id":     p.DeviceID,
		"was_connected": applied,
	}, nil
}

// handleNetworkSend pushes bytes to a device. With a device_id the live
// connection is used; with host and port the payload goes one-shot.
// expect_reply collects the response until the device goes quiet.
func (b *Broker) handleNetworkSend(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p networkSendParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	raw, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	switch {
	case p.DeviceID != "":
		if p.ExpectReply {
			reply, err := b.network.SendAndReceive(p.DeviceID, raw, timeoutFromMS(p.TimeoutMS, 0))
			if err != nil {
				return nil, err
			}
			data, encErr := encodePayload(reply, p.ReplyEncoding)
			if encErr != nil {
				return nil, wire.NewInvalidParams(encErr.Error())
			}
			return map[string]any{
				"bytes_sent":     len(raw),
				"data":           data,
				"bytes_received": len(reply),
			}, nil
		}
		n, err := b.network.Send(p.DeviceID, raw)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bytes_sent": n}, nil

	case p.Host != "" && p.Port != 0:
		n, err := b.network.OneShotSend(p.Host, p.Port, raw, timeoutFromMS(p.TimeoutMS, 0))
		if err != nil {
			return nil, err
		}
		return map[string]any{"bytes_sent": n}, nil

	default:
		return nil, wire.NewInvalidParams("device_id or host and port required")
	}
}

// handleNetworkPing probes endpoint reachability with a connect-and-close.
func (b *Broker) handleNetworkPing(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p endpointParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return b.network.Ping(p.Host, p.Port, timeoutFromMS(p.TimeoutMS, 0)), nil
}

// handleNetworkDiscover scans a /24 subnet for devices on well-known
// ports. Hits enter the registry only when register is set.
func (b *Broker) handleNetworkDiscover(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p discoverParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	hits, err := b.network.Scan(ctx, netman.ScanOptions{
		Subnet:        p.Subnet,
		Ports:         p.Ports,
		Timeout:       timeoutFromMS(p.TimeoutMS, 0),
		MaxConcurrent: p.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}

	if p.Register {
		for _, h := range hits {
			b.registry.Upsert(h.Device())
		}
	}
	return map[string]any{
		"devices":    hits,
		"count":      len(hits),
		"registered": p.Register,
	}, nil
}

// handleNetworkGetStatus reports one live connection, or all of them when
// no device_id is given.
func (b *Broker) handleNetworkGetStatus(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	if p.DeviceID == "" {
		return map[string]any{
			"connections": b.network.List(),
			"count":       b.network.Count(),
		}, nil
	}
	return b.network.Status(p.DeviceID)
}
