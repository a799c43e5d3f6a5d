package stages

import (
	"context"
	"log/slog"

	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/queue"
	"currents/internal/services/ai"
	"currents/internal/stage"
)

type actionExtractor interface {
	ExtractActions(ctx context.Context, title, body string) ([]ai.ActionResult, error)
}

// Actions extracts follow-up items from analyzed content.
type Actions struct {
	store     *content.Store
	ai        actionExtractor
	batchSize int
	logger    *slog.Logger
}

// NewActions constructs the action extraction handler.
func NewActions(store *content.Store, client actionExtractor, batchSize int, logger *slog.Logger) *Actions {
	return &Actions{
		store:     store,
		ai:        client,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(logger, "stage-actions"),
	}
}

// Execute extracts actions from each item in the batch.
func (h *Actions) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	items, err := resolveItems(ctx, h.store, task, string(queue.StageActionExtraction), h.batchSize)
	if err != nil {
		return stage.Result{}, err
	}

	var result stage.Result
	var firstErr error
	for _, item := range items {
		if err := h.extractItem(ctx, item); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			h.logger.WarnContext(ctx, "action extraction failed",
				logging.Int64("item_id", item.ID),
				logging.Error(err))
			continue
		}
		result.Processed++
		result.ItemIDs = append(result.ItemIDs, item.ID)
	}

	if result.AllFailed() {
		return result, batchError(string(queue.StageActionExtraction), result.Failed, firstErr)
	}
	return result, nil
}

func (h *Actions) extractItem(ctx context.Context, item *content.Item) error {
	body := item.Body
	if item.Translation != "" {
		body = item.Translation
	}
	extracted, err := h.ai.ExtractActions(ctx, item.Title, body)
	if err != nil {
		return err
	}

	actions := make([]*content.ActionItem, 0, len(extracted))
	for _, result := range extracted {
		actions = append(actions, &content.ActionItem{
			ItemID:      item.ID,
			Description: result.Description,
			Owner:       result.Owner,
			DueHint:     result.DueHint,
		})
	}
	if err := h.store.SaveActionItems(ctx, item.ID, actions); err != nil {
		return err
	}
	return h.store.MarkProcessed(ctx, item.ID, string(queue.StageActionExtraction), "")
}

// HealthCheck verifies the AI client is wired.
func (h *Actions) HealthCheck(context.Context) stage.Health {
	if h.ai == nil {
		return stage.Unhealthy(string(queue.StageActionExtraction), "ai client not configured")
	}
	return stage.Healthy(string(queue.StageActionExtraction))
}
