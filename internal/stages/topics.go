package stages

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/queue"
	"currents/internal/services/ai"
	"currents/internal/stage"
)

type topicFinder interface {
	DiscoverTopics(ctx context.Context, summaries []string) ([]ai.TopicResult, error)
}

// Topics discovers recurring themes across recently analyzed items.
type Topics struct {
	store      *content.Store
	ai         topicFinder
	windowDays int
	logger     *slog.Logger
}

// NewTopics constructs the topic discovery handler.
func NewTopics(store *content.Store, client topicFinder, windowDays int, logger *slog.Logger) *Topics {
	return &Topics{
		store:      store,
		ai:         client,
		windowDays: windowDays,
		logger:     logging.NewComponentLogger(logger, "stage-topics"),
	}
}

// Execute discovers topics over the recency window and replaces the stored
// topic set for it. The whole window is one unit of work, so any failure
// fails the task.
func (h *Topics) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	payload, err := task.Payload()
	if err != nil {
		return stage.Result{}, err
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-time.Duration(h.windowDays) * 24 * time.Hour)

	limit := payload.Limit
	items, err := h.store.RecentItems(ctx, windowStart, limit)
	if err != nil {
		return stage.Result{}, err
	}

	summaries := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Summary) != "" {
			summaries = append(summaries, item.Summary)
		}
	}
	if len(summaries) == 0 {
		h.logger.InfoContext(ctx, "no summarized items in window, skipping topic discovery")
		return stage.Result{}, nil
	}

	discovered, err := h.ai.DiscoverTopics(ctx, summaries)
	if err != nil {
		return stage.Result{Failed: len(summaries)}, err
	}

	topics := make([]*content.Topic, 0, len(discovered))
	for _, result := range discovered {
		topics = append(topics, &content.Topic{
			Name:      result.Name,
			Keywords:  result.Keywords,
			ItemCount: result.ItemCount,
		})
	}
	if err := h.store.SaveTopics(ctx, windowStart, windowEnd, topics); err != nil {
		return stage.Result{Failed: len(summaries)}, err
	}

	h.logger.InfoContext(ctx, "topics discovered",
		logging.Int("topics", len(topics)),
		logging.Int("items", len(summaries)))
	return stage.Result{Processed: len(summaries)}, nil
}

// HealthCheck verifies the AI client is wired.
func (h *Topics) HealthCheck(context.Context) stage.Health {
	if h.ai == nil {
		return stage.Unhealthy(string(queue.StageTopicDiscovery), "ai client not configured")
	}
	return stage.Healthy(string(queue.StageTopicDiscovery))
}
