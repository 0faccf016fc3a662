package service

import (
	"context"
	"encoding/json"

	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handleSerialOpen opens a serial port, applying line settings from the
// optional config object (baud_rate, data_bits, stop_bits, parity,
// flow_control).
func (b *Broker) handleSerialOpen(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p serialOpenParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}

	if err := b.serial.Open(p.DeviceID, p.Config); err != nil {
		return nil, err
	}
	return map[string]any{"device_id": p.DeviceID, "is_open": true}, nil
}

// handleSerialClose closes an open serial port. Closing a port that is not
// open succeeds.
func (b *Broker) handleSerialClose(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	if err := b.serial.Close(p.DeviceID); err != nil {
		return nil, err
	}
	return map[string]any{"device_id": p.DeviceID, "is_open": false}, nil
}

// handleSerialSend writes a payload to an open serial port.
func (b *Broker) handleSerialSend(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p dataParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}
	raw, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	n, err := b.serial.Write(p.DeviceID, raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"bytes_sent": n}, nil
}

// handleSerialReceive reads buffered input from an open serial port. A
// timeout with nothing buffered returns empty data, not an error.
func (b *Broker) handleSerialReceive(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p receiveParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}

	raw, err := b.serial.Read(p.DeviceID, p.MaxBytes, timeoutFromMS(p.TimeoutMS, 0))
	if err != nil {
		return nil, err
	}
	data, err := encodePayload(raw, p.Encoding)
	if err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return map[string]any{
		"data":           data,
		"bytes_received": len(raw),
	}, nil
}

// handleSerialGetStatus reports port state and I/O counters.
func (b *Broker) handleSerialGetStatus(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return b.serial.Status(p.DeviceID)
}
