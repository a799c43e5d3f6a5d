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

type translator interface {
	Translate(ctx context.Context, body string) (ai.Translation, error)
}

// Translate renders foreign-language items into the working language.
type Translate struct {
	store     *content.Store
	ai        translator
	batchSize int
	logger    *slog.Logger
}

// NewTranslate constructs the translation handler.
func NewTranslate(store *content.Store, client translator, batchSize int, logger *slog.Logger) *Translate {
	return &Translate{
		store:     store,
		ai:        client,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(logger, "stage-translate"),
	}
}

// Execute translates each item in the batch.
func (h *Translate) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	items, err := resolveItems(ctx, h.store, task, string(queue.StageTranslate), h.batchSize)
	if err != nil {
		return stage.Result{}, err
	}

	var result stage.Result
	var firstErr error
	for _, item := range items {
		if err := h.translateItem(ctx, item); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			h.logger.WarnContext(ctx, "item translation failed",
				logging.Int64("item_id", item.ID),
				logging.Error(err))
			continue
		}
		result.Processed++
		result.ItemIDs = append(result.ItemIDs, item.ID)
	}

	if result.AllFailed() {
		return result, batchError(string(queue.StageTranslate), result.Failed, firstErr)
	}
	return result, nil
}

func (h *Translate) translateItem(ctx context.Context, item *content.Item) error {
	translation, err := h.ai.Translate(ctx, item.Body)
	if err != nil {
		return err
	}
	if err := h.store.UpdateItemTranslation(ctx, item.ID, translation.Text); err != nil {
		return err
	}
	return h.store.MarkProcessed(ctx, item.ID, string(queue.StageTranslate), translation.SourceLanguage)
}

// HealthCheck verifies the AI client is wired.
func (h *Translate) HealthCheck(context.Context) stage.Health {
	if h.ai == nil {
		return stage.Unhealthy(string(queue.StageTranslate), "ai client not configured")
	}
	return stage.Healthy(string(queue.StageTranslate))
}
