package stages

import (
	"context"
	"log/slog"

	"currents/internal/clustering"
	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/queue"
	"currents/internal/stage"
)

// Clustering assigns embedded items to event clusters.
type Clustering struct {
	store     *content.Store
	engine    *clustering.Engine
	batchSize int
	logger    *slog.Logger
}

// NewClustering constructs the event clustering handler.
func NewClustering(store *content.Store, engine *clustering.Engine, batchSize int, logger *slog.Logger) *Clustering {
	return &Clustering{
		store:     store,
		engine:    engine,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(logger, "stage-clustering"),
	}
}

// Execute runs cluster assignment for each item in the batch. Items the
// engine leaves unclustered are not marked processed, so they stay eligible
// for future runs once more clusters exist.
func (h *Clustering) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	items, err := resolveItems(ctx, h.store, task, string(queue.StageEventClustering), h.batchSize)
	if err != nil {
		return stage.Result{}, err
	}

	var result stage.Result
	var firstErr error
	for _, item := range items {
		assignment, err := h.engine.AssignItem(ctx, item)
		if err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			h.logger.WarnContext(ctx, "cluster assignment failed",
				logging.Int64("item_id", item.ID),
				logging.Error(err))
			continue
		}
		result.Processed++
		result.ItemIDs = append(result.ItemIDs, item.ID)
		if assignment == nil {
			continue
		}
		if err := h.store.MarkProcessed(ctx, item.ID, string(queue.StageEventClustering), string(assignment.Method)); err != nil {
			h.logger.WarnContext(ctx, "mark clustered item failed",
				logging.Int64("item_id", item.ID),
				logging.Error(err))
		}
	}

	if result.AllFailed() {
		return result, batchError(string(queue.StageEventClustering), result.Failed, firstErr)
	}
	return result, nil
}

// HealthCheck verifies the engine is wired.
func (h *Clustering) HealthCheck(context.Context) stage.Health {
	if h.engine == nil {
		return stage.Unhealthy(string(queue.StageEventClustering), "clustering engine not configured")
	}
	return stage.Healthy(string(queue.StageEventClustering))
}
