package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/queue"
	"currents/internal/services/ai"
	"currents/internal/stage"
)

type reportComposer interface {
	ComposeReport(ctx context.Context, period string, material []string) (ai.ReportResult, error)
}

// Report composes a digest over recent clusters and extracted actions.
type Report struct {
	store      *content.Store
	ai         reportComposer
	windowDays int
	logger     *slog.Logger
}

// NewReport constructs the report generation handler.
func NewReport(store *content.Store, client reportComposer, windowDays int, logger *slog.Logger) *Report {
	return &Report{
		store:      store,
		ai:         client,
		windowDays: windowDays,
		logger:     logging.NewComponentLogger(logger, "stage-report"),
	}
}

// Execute generates one report over the recency window.
func (h *Report) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	since := time.Now().UTC().Add(-time.Duration(h.windowDays) * 24 * time.Hour)

	clusters, err := h.store.CandidateClusters(ctx, since, 0)
	if err != nil {
		return stage.Result{}, err
	}
	actions, err := h.store.RecentActions(ctx, since, 0)
	if err != nil {
		return stage.Result{}, err
	}

	if len(clusters) == 0 && len(actions) == 0 {
		h.logger.InfoContext(ctx, "nothing to report on, skipping")
		return stage.Result{}, nil
	}

	material := make([]string, 0, len(clusters)+len(actions))
	itemCount := 0
	for _, cluster := range clusters {
		material = append(material, fmt.Sprintf("event: %s (%s, %d items, last updated %s)",
			cluster.Title, cluster.Category, cluster.MemberCount,
			cluster.LastUpdatedAt.Format("2006-01-02")))
		itemCount += cluster.MemberCount
	}
	for _, action := range actions {
		entry := "action: " + action.Description
		if action.Owner != "" {
			entry += " (owner: " + action.Owner + ")"
		}
		material = append(material, entry)
	}

	composed, err := h.ai.ComposeReport(ctx, "daily", material)
	if err != nil {
		return stage.Result{Failed: 1}, err
	}

	if _, err := h.store.SaveReport(ctx, &content.Report{
		Period:       "daily",
		Body:         composed.Body,
		ClusterCount: len(clusters),
		ItemCount:    itemCount,
	}); err != nil {
		return stage.Result{Failed: 1}, err
	}

	h.logger.InfoContext(ctx, "report generated",
		logging.Int("clusters", len(clusters)),
		logging.Int("actions", len(actions)))
	return stage.Result{Processed: 1}, nil
}

// HealthCheck verifies the AI client is wired.
func (h *Report) HealthCheck(context.Context) stage.Health {
	if h.ai == nil {
		return stage.Unhealthy(string(queue.StageReportGeneration), "ai client not configured")
	}
	return stage.Healthy(string(queue.StageReportGeneration))
}
