package queue

import (
	"context"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/log"
	"github.com/devlink-broker/devlink-go/pkg/model"
)

// Executor runs one job against the device layer. Implemented by the
// broker service; faked in tests.
type Executor interface {
	Execute(ctx context.Context, job *model.OperationJob) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *model.OperationJob) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *model.OperationJob) error {
	return f(ctx, job)
}

// Worker is the single queue processor. One claimed job executes at a
// time, so any job runs at most once concurrently per process.
type Worker struct {
	store       *Store
	exec        Executor
	interval    time.Duration
	maxAttempts int
	publish     func(model.Event)
	logger      log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewWorker creates the queue worker. publish may be nil to disable
// events; logger may be nil to disable tracing.
func NewWorker(store *Store, exec Executor, interval time.Duration, maxAttempts int, publish func(model.Event), logger log.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if publish == nil {
		publish = func(model.Event) {}
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Worker{
		store:       store,
		exec:        exec,
		interval:    interval,
		maxAttempts: maxAttempts,
		publish:     publish,
		logger:      logger,
	}
}

// Start launches the processing loop. Starting a running worker is a
// no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	go w.run(ctx)
}

// Stop halts the loop and waits for an in-flight job to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims and executes the oldest pending job, if any. Exported so
// tests and the drain path can drive the worker without waiting for the
// timer.
func (w *Worker) Tick(ctx context.Context) {
	job, err := w.store.ClaimOldestPending()
	if err != nil {
		w.logError("", "claim pending job", err)
		return
	}
	if job == nil {
		return
	}

	w.logState(job, string(model.JobProcessing))

	if err := w.exec.Execute(ctx, job); err != nil {
		status, markErr := w.store.MarkFailed(job.ID, err, w.maxAttempts)
		if markErr != nil {
			w.logError(job.ID, "record job failure", markErr)
			return
		}
		w.logState(job, string(status))
		if status == model.JobFailed {
			w.publish(model.Event{
				Type:       model.EventError,
				DeviceID:   job.DeviceID,
				DeviceKind: job.DeviceKind,
				Data: map[string]any{
					"job_id":    job.ID,
					"operation": job.Operation,
					"error":     err.Error(),
				},
			})
		}
		return
	}

	if err := w.store.MarkCompleted(job.ID); err != nil {
		w.logError(job.ID, "record job completion", err)
		return
	}
	w.logState(job, string(model.JobCompleted))
}

func (w *Worker) logState(job *model.OperationJob, newState string) {
	w.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		DeviceID:  job.DeviceID,
		JobID:     job.ID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityJob,
			OldState: string(job.Status),
			NewState: newState,
		},
	})
}

func (w *Worker) logError(jobID, context string, err error) {
	w.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		JobID:     jobID,
		Error: &log.ErrorEventData{
			Message: err.Error(),
			Context: context,
		},
	})
}
