package service

import (
	"context"
	"fmt"

	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// Operations the queue worker knows how to replay. Reads are excluded:
// a deferred receive has no one to hand the data to.
var queueableOperations = map[string]bool{
	"printer.print": true,
	"serial.send":   true,
	"network.send":  true,
}

func queueableOperation(op string) bool {
	return queueableOperations[op]
}

// executeJob runs one claimed queue job. Called from the worker goroutine;
// a returned error triggers the retry policy.
func (b *Broker) executeJob(ctx context.Context, job *model.OperationJob) error {
	switch job.Operation {
	case "printer.print":
		return b.executePrintJob(ctx, job)
	case "serial.send":
		return b.executeSerialJob(job)
	case "network.send":
		return b.executeNetworkJob(job)
	default:
		return fmt.Errorf("unknown operation %q", job.Operation)
	}
}

func (b *Broker) executePrintJob(ctx context.Context, job *model.OperationJob) error {
	var p printParams
	if err := wire.DecodeParams(job.Params, &p); err != nil {
		return fmt.Errorf("failed to decode job params: %w", err)
	}
	raw, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return err
	}

	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = job.DeviceID
	}

	if b.network.IsConnected(deviceID) {
		_, err := b.network.Send(deviceID, raw)
		return err
	}
	if job.DeviceKind == model.KindPrinter {
		_, err := b.printer.Submit(ctx, deviceID, raw)
		return err
	}

	device, ok := b.registry.Get(deviceID)
	if !ok {
		return fmt.Errorf("device %s not found", deviceID)
	}
	host, hostOK := device.Properties["host"].(string)
	port := propertyInt(device.Properties["port"])
	if !hostOK || port == 0 {
		return fmt.Errorf("device %s has no print route", deviceID)
	}
	_, err = b.network.OneShotSend(host, port, raw, 0)
	return err
}

func (b *Broker) executeSerialJob(job *model.OperationJob) error {
	var p dataParams
	if err := wire.DecodeParams(job.Params, &p); err != nil {
		return fmt.Errorf("failed to decode job params: %w", err)
	}
	raw, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return err
	}

	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = job.DeviceID
	}
	_, err = b.serial.Write(deviceID, raw)
	return err
}

func (b *Broker) executeNetworkJob(job *model.OperationJob) error {
	var p networkSendParams
	if err := wire.DecodeParams(job.Params, &p); err != nil {
		return fmt.Errorf("failed to decode job params: %w", err)
	}
	raw, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return err
	}

	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = job.DeviceID
	}
	if b.network.IsConnected(deviceID) {
		_, err := b.network.Send(deviceID, raw)
		return err
	}
	if p.Host != "" && p.Port != 0 {
		_, err := b.network.OneShotSend(p.Host, p.Port, raw, 0)
		return err
	}
	return fmt.Errorf("device %s is not connected", deviceID)
}

// propertyInt reads a numeric device property. JSON round-trips turn ints
// into float64, so both arrive here.
func propertyInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
