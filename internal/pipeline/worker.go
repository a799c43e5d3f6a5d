// Package pipeline drives the task queue: workers claim and execute stage
// tasks, completed tasks fan out along the trigger chain, and triggers feed
// the queue from operators and the scheduler.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"currents/internal/bus"
	"currents/internal/config"
	"currents/internal/gates"
	"currents/internal/logging"
	"currents/internal/queue"
	"currents/internal/services"
	"currents/internal/stage"
	"currents/internal/stages"
)

// Worker polls the queue, executes claimed tasks, and records transitions.
// Workers share nothing in process; all coordination happens through the
// task store's claim protocol.
type Worker struct {
	id           string
	store        *queue.Store
	registry     *stages.Registry
	featureGates *gates.FeatureGate
	events       bus.Publisher
	cfg          *config.Config
	logger       *slog.Logger
}

// NewWorker constructs a worker with a unique identity.
func NewWorker(store *queue.Store, registry *stages.Registry, featureGates *gates.FeatureGate, events bus.Publisher, cfg *config.Config, logger *slog.Logger) *Worker {
	id := "worker-" + uuid.NewString()[:8]
	if events == nil {
		events = bus.NopPublisher{}
	}
	return &Worker{
		id:           id,
		store:        store,
		registry:     registry,
		featureGates: featureGates,
		events:       events,
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "worker").With(logging.String(logging.FieldWorkerID, id)),
	}
}

// ID returns the worker's claim identity.
func (w *Worker) ID() string {
	return w.id
}

// Run claims and executes tasks until the context ends. The loop never
// exits on task failure; a failed execution records the failure and moves
// on to the next claim.
func (w *Worker) Run(ctx context.Context) {
	pollInterval := time.Duration(w.cfg.Pipeline.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	errorInterval := time.Duration(w.cfg.Pipeline.ErrorRetryInterval) * time.Second
	if errorInterval <= 0 {
		errorInterval = pollInterval
	}

	w.logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}

		worked, err := w.RunOnce(ctx)
		switch {
		case err != nil:
			w.logger.Error("claim cycle failed", logging.Error(err))
			if !sleepCtx(ctx, errorInterval) {
				return
			}
		case !worked:
			if !sleepCtx(ctx, pollInterval) {
				return
			}
		}
	}
}

// RunOnce claims at most one task and executes it. The bool reports whether
// a task was claimed; callers drain the queue by looping while it is true.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	enabled, err := w.enabledStages(ctx)
	if err != nil {
		return false, err
	}

	// With every gate off only forced tasks remain claimable; ClaimNext
	// with zero stages would widen the filter to all stages instead.
	var task *queue.Task
	if len(enabled) == 0 {
		task, err = w.store.ClaimForced(ctx, w.id)
	} else {
		task, err = w.store.ClaimNext(ctx, w.id, enabled...)
	}
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	w.events.Publish(bus.Event{
		Type:     bus.EventTaskClaimed,
		Stage:    string(task.Stage),
		TaskID:   task.ID,
		WorkerID: w.id,
		Attempt:  task.AttemptCount,
	})
	w.execute(ctx, task)
	return true, nil
}

// enabledStages resolves the claim filter from the feature gates. Forced
// tasks bypass this filter inside the claim statement itself.
func (w *Worker) enabledStages(ctx context.Context) ([]queue.Stage, error) {
	all := queue.AllStages()
	enabled := make([]queue.Stage, 0, len(all))
	for _, s := range all {
		if w.featureGates.IsEnabled(ctx, s) {
			enabled = append(enabled, s)
		}
	}
	return enabled, nil
}

func (w *Worker) execute(ctx context.Context, task *queue.Task) {
	// Handler-side log records and outbound calls inherit the task identity
	// through the context.
	ctx = services.WithTaskID(ctx, task.ID)
	ctx = services.WithStage(ctx, string(task.Stage))
	ctx = services.WithWorkerID(ctx, w.id)

	taskLogger := w.logger.With(
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldStage, string(task.Stage)))
	taskLogger.Info("task claimed", logging.Int("attempt", task.AttemptCount))

	result, err := w.executeHandler(ctx, task)
	if err != nil {
		w.recordFailure(ctx, task, err, taskLogger)
		return
	}

	if err := w.store.Complete(ctx, task.ID, result.Failed); err != nil {
		taskLogger.Error("complete task failed", logging.Error(err))
		return
	}
	taskLogger.Info("task completed",
		logging.Int("processed", result.Processed),
		logging.Int("failed", result.Failed))
	w.events.Publish(bus.Event{
		Type:      bus.EventTaskCompleted,
		Stage:     string(task.Stage),
		TaskID:    task.ID,
		WorkerID:  w.id,
		Processed: result.Processed,
		Failed:    result.Failed,
	})

	if err := FanOut(ctx, w.store, w.featureGates, task.Stage, result.ItemIDs, w.cfg.Pipeline.AutoPriority, taskLogger); err != nil {
		taskLogger.Error("downstream fan-out failed", logging.Error(err))
	}
}

// executeHandler runs the stage handler with panic isolation: a panicking
// handler fails its task instead of killing the worker.
func (w *Worker) executeHandler(ctx context.Context, task *queue.Task) (result stage.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	handler, ok := w.registry.Handler(task.Stage)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, string(task.Stage), "dispatch", "no handler registered", nil)
	}
	return handler.Execute(ctx, task)
}

// recordFailure retries retryable failures as a fresh task and finalizes
// the rest. Attempt exhaustion also finalizes.
func (w *Worker) recordFailure(ctx context.Context, task *queue.Task, execErr error, taskLogger *slog.Logger) {
	message := execErr.Error()

	if services.IsRetryable(execErr) && !task.AttemptsExhausted() {
		replacement, err := w.store.Retry(ctx, task, message)
		if err != nil {
			taskLogger.Error("retry task failed", logging.Error(err))
			return
		}
		taskLogger.Warn("task failed, retry scheduled",
			logging.Int("next_attempt", replacement.AttemptCount),
			logging.Error(execErr))
		w.events.Publish(bus.Event{
			Type:        bus.EventTaskRetried,
			Stage:       string(task.Stage),
			TaskID:      task.ID,
			WorkerID:    w.id,
			Attempt:     replacement.AttemptCount,
			ErrorDetail: message,
		})
		return
	}

	if err := w.store.Fail(ctx, task.ID, message); err != nil {
		taskLogger.Error("fail task failed", logging.Error(err))
		return
	}
	taskLogger.Error("task failed permanently",
		logging.Int("attempt", task.AttemptCount),
		logging.Error(execErr))
	w.events.Publish(bus.Event{
		Type:        bus.EventTaskFailed,
		Stage:       string(task.Stage),
		TaskID:      task.ID,
		WorkerID:    w.id,
		Attempt:     task.AttemptCount,
		ErrorDetail: message,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
