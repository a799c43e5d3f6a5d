package pipeline

import (
	"context"
	"log/slog"
	"time"

	"currents/internal/gates"
	"currents/internal/logging"
	"currents/internal/queue"
)

// stageEdges is the trigger chain: completing a task for the key stage
// enqueues one task per downstream stage, scoped to the items the upstream
// task just finished.
var stageEdges = map[queue.Stage][]queue.Stage{
	queue.StageContentAnalysis: {queue.StageEmbedding, queue.StageActionExtraction},
	queue.StageEmbedding:       {queue.StageEventClustering},
}

// Downstream returns the stages triggered by completing the given stage.
func Downstream(s queue.Stage) []queue.Stage {
	edges := stageEdges[s]
	cp := make([]queue.Stage, len(edges))
	copy(cp, edges)
	return cp
}

// FanOut enqueues downstream tasks for the items an upstream task finished.
// Each edge is independently conditional on the downstream stage's feature
// gate; a disabled gate skips that edge without affecting the others. The
// derived payload carries only the finished items, so fan-out stays
// proportional to work done rather than rescanning the backlog.
func FanOut(ctx context.Context, store *queue.Store, featureGates *gates.FeatureGate, upstream queue.Stage, itemIDs []int64, autoPriority int, logger *slog.Logger) error {
	if len(itemIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	signature := queue.ItemSignature(itemIDs)

	for _, downstream := range stageEdges[upstream] {
		if !featureGates.IsEnabled(ctx, downstream) {
			logger.Debug("downstream gate disabled, skipping edge",
				logging.String("upstream", string(upstream)),
				logging.String("downstream", string(downstream)))
			continue
		}

		task, inserted, err := store.Enqueue(ctx, queue.EnqueueRequest{
			Stage:     downstream,
			Payload:   queue.Payload{ItemIDs: itemIDs},
			Priority:  autoPriority,
			DedupeKey: queue.DedupeKey(downstream, signature, now),
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.Debug("downstream task deduplicated",
				logging.String("downstream", string(downstream)))
			continue
		}
		logger.Info("downstream task enqueued",
			logging.String("upstream", string(upstream)),
			logging.String("downstream", string(downstream)),
			logging.Int64("task_id", task.ID),
			logging.Int("items", len(itemIDs)))
	}
	return nil
}
