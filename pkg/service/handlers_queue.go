package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/devlink-broker/devlink-go/pkg/adapter"
	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/queue"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// handleQueueGetStatus reports per-status job counts and throughput.
func (b *Broker) handleQueueGetStatus(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	return b.jobs.Status()
}

// handleQueueGetJobs lists jobs, newest first, optionally filtered.
func (b *Broker) handleQueueGetJobs(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p jobListParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}

	jobs, err := b.jobs.List(queue.ListFilter{
		DeviceID: p.DeviceID,
		Status:   model.JobStatus(p.Status),
		Limit:    p.Limit,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobs": jobs, "count": len(jobs)}, nil
}

// handleQueueSubmitJob enqueues a durable operation against a known
// device. The worker picks it up on its next tick.
func (b *Broker) handleQueueSubmitJob(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p submitJobParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.DeviceID == "" || p.Operation == "" {
		return nil, wire.NewInvalidParams("device_id and operation are required")
	}
	if !queueableOperation(p.Operation) {
		return nil, wire.NewInvalidParams(fmt.Sprintf("operation %q cannot be queued", p.Operation))
	}

	device, ok := b.registry.Get(p.DeviceID)
	if !ok {
		return nil, adapter.ErrUnknownDevice
	}

	jobParams, err := json.Marshal(p.Params)
	if err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	jobID, err := b.jobs.Enqueue(p.DeviceID, device.Kind, p.Operation, jobParams)
	if err != nil {
		return nil, err
	}
	return map[string]any{"job_id": jobID, "status": "pending"}, nil
}

// handleQueueCancelJob cancels a pending or in-flight job.
func (b *Broker) handleQueueCancelJob(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p jobIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.JobID == "" {
		return nil, wire.NewInvalidParams("job_id is required")
	}

	cancelled, err := b.jobs.Cancel(p.JobID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": cancelled, "job_id": p.JobID}, nil
}

// handleQueueRetryJob requeues a failed or cancelled job.
func (b *Broker) handleQueueRetryJob(ctx context.Context, sess Session, params json.RawMessage) (any, error) {
	var p jobIDParams
	if err := wire.DecodeParams(params, &p); err != nil {
		return nil, wire.NewInvalidParams(err.Error())
	}
	if p.JobID == "" {
		return nil, wire.NewInvalidParams("job_id is required")
	}

	requeued, err := b.jobs.Retry(p.JobID)
	if err != nil {
		return nil, err
	}
	if !requeued {
		return nil, wire.NewInvalidParams("job is not in a terminal state")
	}
	return map[string]any{"job_id": p.JobID, "status": "pending"}, nil
}
