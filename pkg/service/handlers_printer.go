package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devlink-broker/devlink-go/pkg/adapter"
	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handlePrinterPrint submits a print payload. Routing, in order: an
// explicit host and port go one-shot over a raw socket; a device with a
// live network connection reuses it; a known OS print queue goes through
// the spooler; anything else is rejected.
func (b *Broker) handlePrinterPrint(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p printParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	raw, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if len(raw) == 0 {
		return nil, wire.NewInvalidParams("data is empty")
	}

	if p.Host != "" && p.Port != 0 {
		n, err := b.network.OneShotSend(p.Host, p.Port, raw, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to send to %s:%d: %w", p.Host, p.Port, err)
		}
		jobID := b.recordPrint(model.NetworkDeviceID(p.Host, p.Port), model.KindNetwork, params)
		return printResult(jobID, n), nil
	}

	if p.DeviceID == "" {
		return nil, wire.NewInvalidParams("device_id or host and port required")
	}

	if b.network.IsConnected(p.DeviceID) {
		n, err := b.network.Send(p.DeviceID, raw)
		if err != nil {
			return nil, err
		}
		jobID := b.recordPrint(p.DeviceID, model.KindNetwork, params)
		return printResult(jobID, n), nil
	}

	device, ok := b.registry.Get(p.DeviceID)
	if !ok {
		return nil, adapter.ErrUnknownDevice
	}
	if device.Kind != model.KindPrinter {
		return nil, wire.NewInvalidParams(
			fmt.Sprintf("device %s is %s, not a printer or live connection", device.ID, device.Kind))
	}

	osJobID, err := b.printer.Submit(ctx, p.DeviceID, raw)
	if err != nil {
		return nil, err
	}
	jobID := b.recordPrint(p.DeviceID, model.KindPrinter, params)

	result := printResult(jobID, len(raw))
	if osJobID != "" {
		result["os_job_id"] = osJobID
	}
	return result, nil
}

// recordPrint writes the completed-job audit row for a synchronous print.
// Audit failures are logged, never surfaced: the payload already left.
func (b *Broker) recordPrint(deviceID string, kind model.DeviceKind, params json.RawMessage) string {
	jobID, err := b.jobs.RecordCompleted(deviceID, kind, "printer.print", params)
	if err != nil {
		b.logError(deviceID, "record print job", err)
		return ""
	}
	return jobID
}

func printResult(jobID string, bytesPrinted int) map[string]any {
	result := map[string]any{
		"success":       true,
		"status":        string(model.JobCompleted),
		"bytes_printed": bytesPrinted,
	}
	if jobID != "" {
		result["job_id"] = jobID
	}
	return result
}

// handlePrinterGetStatus reports the spooler state of one printer.
func (b *Broker) handlePrinterGetStatus(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return b.printer.Status(p.DeviceID)
}

// handlePrinterGetCapabilities reports formats and queue options.
func (b *Broker) handlePrinterGetCapabilities(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p deviceIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if err := p.validate(); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	return b.printer.Capabilities(p.DeviceID)
}
