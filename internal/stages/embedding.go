package stages

import (
	"context"
	"log/slog"
	"strings"

	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/queue"
	"currents/internal/stage"
)

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedding produces dense vectors for analyzed items.
type Embedding struct {
	store     *content.Store
	vectors   embedder
	batchSize int
	logger    *slog.Logger
}

// NewEmbedding constructs the embedding handler.
func NewEmbedding(store *content.Store, vectors embedder, batchSize int, logger *slog.Logger) *Embedding {
	return &Embedding{
		store:     store,
		vectors:   vectors,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(logger, "stage-embedding"),
	}
}

// Execute embeds each item in the batch. Embedding calls stay per-item so a
// provider failure on one text does not discard vectors for the rest.
func (h *Embedding) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	items, err := resolveItems(ctx, h.store, task, string(queue.StageEmbedding), h.batchSize)
	if err != nil {
		return stage.Result{}, err
	}

	var result stage.Result
	var firstErr error
	for _, item := range items {
		if err := h.embedItem(ctx, item); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			h.logger.WarnContext(ctx, "item embedding failed",
				logging.Int64("item_id", item.ID),
				logging.Error(err))
			continue
		}
		result.Processed++
		result.ItemIDs = append(result.ItemIDs, item.ID)
	}

	if result.AllFailed() {
		return result, batchError(string(queue.StageEmbedding), result.Failed, firstErr)
	}
	return result, nil
}

func (h *Embedding) embedItem(ctx context.Context, item *content.Item) error {
	// Summaries embed better than raw bodies; fall back for unanalyzed items.
	text := item.Summary
	if strings.TrimSpace(text) == "" {
		text = item.Title + "\n" + item.Body
	}
	vector, err := h.vectors.Embed(ctx, text)
	if err != nil {
		return err
	}
	if err := h.store.UpdateItemEmbedding(ctx, item.ID, vector); err != nil {
		return err
	}
	return h.store.MarkProcessed(ctx, item.ID, string(queue.StageEmbedding), "")
}

// HealthCheck verifies the vector client is wired.
func (h *Embedding) HealthCheck(context.Context) stage.Health {
	if h.vectors == nil {
		return stage.Unhealthy(string(queue.StageEmbedding), "vector client not configured")
	}
	return stage.Healthy(string(queue.StageEmbedding))
}
