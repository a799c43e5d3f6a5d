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

type analyzer interface {
	Analyze(ctx context.Context, title, body string) (ai.Analysis, error)
}

// Analysis summarizes, classifies, and scores raw content items.
type Analysis struct {
	store     *content.Store
	ai        analyzer
	batchSize int
	logger    *slog.Logger
}

// NewAnalysis constructs the content analysis handler.
func NewAnalysis(store *content.Store, client analyzer, batchSize int, logger *slog.Logger) *Analysis {
	return &Analysis{
		store:     store,
		ai:        client,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(logger, "stage-analysis"),
	}
}

// Execute analyzes each item in the batch. A single item failing does not
// abort the batch; the task only fails when every item failed.
func (h *Analysis) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	items, err := resolveItems(ctx, h.store, task, string(queue.StageContentAnalysis), h.batchSize)
	if err != nil {
		return stage.Result{}, err
	}

	var result stage.Result
	var firstErr error
	for _, item := range items {
		if err := h.analyzeItem(ctx, item); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			h.logger.WarnContext(ctx, "item analysis failed",
				logging.Int64("item_id", item.ID),
				logging.Error(err))
			continue
		}
		result.Processed++
		result.ItemIDs = append(result.ItemIDs, item.ID)
	}

	if result.AllFailed() {
		return result, batchError(string(queue.StageContentAnalysis), result.Failed, firstErr)
	}
	return result, nil
}

func (h *Analysis) analyzeItem(ctx context.Context, item *content.Item) error {
	body := item.Body
	if item.Translation != "" {
		body = item.Translation
	}
	analysis, err := h.ai.Analyze(ctx, item.Title, body)
	if err != nil {
		return err
	}
	if err := h.store.UpdateItemAnalysis(ctx, item.ID, analysis.Summary, analysis.Category, analysis.Keywords, analysis.Importance); err != nil {
		return err
	}
	return h.store.MarkProcessed(ctx, item.ID, string(queue.StageContentAnalysis), analysis.Category)
}

// HealthCheck verifies the AI client is wired.
func (h *Analysis) HealthCheck(context.Context) stage.Health {
	if h.ai == nil {
		return stage.Unhealthy(string(queue.StageContentAnalysis), "ai client not configured")
	}
	return stage.Healthy(string(queue.StageContentAnalysis))
}
