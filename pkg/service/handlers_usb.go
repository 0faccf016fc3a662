package service

import (
	"context"
	"encoding/json"

	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handleUSBOpen opens a HID device node.
func (b *Broker) handleUSBOpen(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	if err := b.usb.Open(p.DeviceID, nil); err != nil {
		return nil, err
	}
	return map[string]any{"device_id": p.DeviceID, "is_open": true}, nil
}

// handleUSBClose closes an open HID device.
func (b *Broker) handleUSBClose(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	if err := b.usb.Close(p.DeviceID); err != nil {
		return nil, err
	}
	return map[string]any{"device_id": p.DeviceID, "is_open": false}, nil
}

// handleUSBSendReport writes an output report. Report data is hex unless
// another encoding is named.
func (b *Broker) handleUSBSendReport(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p reportParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}
	encoding := p.Encoding
	if encoding == "" {
		encoding = encodingHex
	}
	raw, err := decodePayload(p.Data, encoding)
	if err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	n, err := b.usb.SendReport(p.DeviceID, p.ReportID, raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"bytes_sent": n}, nil
}

// handleUSBReceiveReport reads an input report as hex. A timeout with no
// report available returns empty data.
func (b *Broker) handleUSBReceiveReport(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p reportReceiveParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id is required")
	}

	raw, err := b.usb.ReceiveReport(p.DeviceID, p.ReportID, timeoutFromMS(p.TimeoutMS, 0))
	if err != nil {
		return nil, err
	}
	data, _ := encodePayload(raw, encodingHex)
	return map[string]any{
		"report_id":      p.ReportID,
		"data":           data,
		"bytes_received": len(raw),
	}, nil
}

// handleUSBGetStatus reports HID device state.
func (b *Broker) handleUSBGetStatus(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return b.usb.Status(p.DeviceID)
}
