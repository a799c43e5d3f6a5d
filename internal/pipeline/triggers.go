package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"currents/internal/config"
	"currents/internal/content"
	"currents/internal/gates"
	"currents/internal/logging"
	"currents/internal/queue"
)

// ErrGateDisabled indicates a trigger targeted a stage whose feature gate is
// off and --force was not given.
var ErrGateDisabled = errors.New("stage feature gate disabled")

// Trigger enqueues pipeline tasks on demand (operator) or on a schedule.
type Trigger struct {
	store        *queue.Store
	contentStore *content.Store
	featureGates *gates.FeatureGate
	cfg          *config.Config
	logger       *slog.Logger
	now          func() time.Time
}

// NewTrigger constructs a trigger front end over the task store.
func NewTrigger(store *queue.Store, contentStore *content.Store, featureGates *gates.FeatureGate, cfg *config.Config, logger *slog.Logger) *Trigger {
	return &Trigger{
		store:        store,
		contentStore: contentStore,
		featureGates: featureGates,
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "trigger"),
		now:          time.Now,
	}
}

// Manual enqueues an operator-requested task for one stage at elevated
// priority. A disabled gate rejects the trigger unless force is set; forced
// tasks are flagged so workers claim them even while the gate stays off.
// The returned bool reports whether a new task was created; false means an
// equivalent task is already pending or running.
func (t *Trigger) Manual(ctx context.Context, stage queue.Stage, limit int, force bool) (*queue.Task, bool, error) {
	if !force && !t.featureGates.IsEnabled(ctx, stage) {
		return nil, false, ErrGateDisabled
	}

	task, inserted, err := t.store.Enqueue(ctx, queue.EnqueueRequest{
		Stage:       stage,
		Payload:     queue.Payload{Limit: limit},
		Priority:    t.cfg.Pipeline.ManualPriority,
		DedupeKey:   queue.DedupeKey(stage, "manual", t.now()),
		MaxAttempts: t.cfg.Pipeline.MaxAttempts,
		Forced:      force,
	})
	if err != nil {
		return nil, false, err
	}
	if inserted {
		t.logger.Info("manual task enqueued",
			logging.String("stage", string(stage)),
			logging.Int64("task_id", task.ID),
			logging.Bool("forced", force))
	}
	return task, inserted, nil
}

// AutoOnce runs one scheduler sweep: when unanalyzed content has
// accumulated and the content analysis gate is on, it enqueues a backlog
// scan at standard priority. The dedupe key hour bucket keeps repeated
// sweeps within the hour idempotent.
func (t *Trigger) AutoOnce(ctx context.Context) error {
	stage := queue.StageContentAnalysis
	if !t.featureGates.IsEnabled(ctx, stage) {
		return nil
	}

	backlog, err := t.contentStore.CountUnprocessed(ctx, string(stage))
	if err != nil {
		return err
	}
	if backlog == 0 {
		return nil
	}

	task, inserted, err := t.store.Enqueue(ctx, queue.EnqueueRequest{
		Stage:       stage,
		Payload:     queue.Payload{Limit: t.cfg.Pipeline.BatchSize},
		Priority:    t.cfg.Pipeline.AutoPriority,
		DedupeKey:   queue.DedupeKey(stage, "auto", t.now()),
		MaxAttempts: t.cfg.Pipeline.MaxAttempts,
	})
	if err != nil {
		return err
	}
	if inserted {
		t.logger.Info("auto task enqueued",
			logging.String("stage", string(stage)),
			logging.Int64("task_id", task.ID),
			logging.Int("backlog", backlog))
	}
	return nil
}

// RunScheduler sweeps on the configured interval until the context ends.
func (t *Trigger) RunScheduler(ctx context.Context) {
	interval := time.Duration(t.cfg.Pipeline.AutoTriggerMinutes) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.AutoOnce(ctx); err != nil {
				t.logger.Warn("scheduler sweep failed", logging.Error(err))
			}
		}
	}
}
