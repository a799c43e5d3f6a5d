package stages

import (
	"context"
	"log/slog"

	"currents/internal/clustering"
	"currents/internal/config"
	"currents/internal/content"
	"currents/internal/queue"
	"currents/internal/services/ai"
	"currents/internal/services/vector"
	"currents/internal/sources"
	"currents/internal/stage"
)

// Registry maps pipeline stages to their handlers.
type Registry struct {
	handlers map[queue.Stage]stage.Handler
}

// NewRegistry wires all stage handlers from configuration and shared
// collaborators.
func NewRegistry(cfg *config.Config, store *content.Store, registry *sources.Registry, logger *slog.Logger) *Registry {
	aiClient := ai.NewFromConfig(cfg)
	vectorClient := vector.NewFromConfig(cfg)

	// With a vector service configured, semantic similarity and index
	// upkeep go through it; otherwise the engine scores against locally
	// stored centroids.
	var engineOpts []clustering.Option
	if cfg.Vector.BaseURL != "" {
		engineOpts = append(engineOpts, clustering.WithSearcher(&clusterSearcher{client: vectorClient}))
	}
	engine := clustering.NewEngine(store, registry, cfg.Clustering, logger, engineOpts...)

	batchSize := cfg.Pipeline.BatchSize
	windowDays := cfg.Clustering.WindowDays

	return &Registry{handlers: map[queue.Stage]stage.Handler{
		queue.StageContentAnalysis:  NewAnalysis(store, aiClient, batchSize, logger),
		queue.StageTranslate:        NewTranslate(store, aiClient, batchSize, logger),
		queue.StageEmbedding:        NewEmbedding(store, vectorClient, batchSize, logger),
		queue.StageEventClustering:  NewClustering(store, engine, batchSize, logger),
		queue.StageTopicDiscovery:   NewTopics(store, aiClient, windowDays, logger),
		queue.StageActionExtraction: NewActions(store, aiClient, batchSize, logger),
		queue.StageReportGeneration: NewReport(store, aiClient, windowDays, logger),
	}}
}

// NewRegistryFromHandlers builds a registry over explicit handlers, for
// callers that assemble their own collaborators (tests, tooling).
func NewRegistryFromHandlers(handlers map[queue.Stage]stage.Handler) *Registry {
	cp := make(map[queue.Stage]stage.Handler, len(handlers))
	for s, handler := range handlers {
		cp[s] = handler
	}
	return &Registry{handlers: cp}
}

// clusterSearcher adapts the vector service to the clustering engine's
// search and index interfaces. Indexed IDs are cluster IDs.
type clusterSearcher struct {
	client *vector.Client
}

func (s *clusterSearcher) Similar(ctx context.Context, vec []float32, topK int, minScore float64) ([]clustering.Match, error) {
	hits, err := s.client.Similar(ctx, vec, topK, minScore)
	if err != nil {
		return nil, err
	}
	matches := make([]clustering.Match, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, clustering.Match{ClusterID: hit.ID, Score: hit.Score})
	}
	return matches, nil
}

func (s *clusterSearcher) Upsert(ctx context.Context, clusterID int64, vec []float32) error {
	return s.client.Upsert(ctx, clusterID, vec)
}

// Handler returns the handler for a stage.
func (r *Registry) Handler(s queue.Stage) (stage.Handler, bool) {
	handler, ok := r.handlers[s]
	return handler, ok
}

// Health runs every handler's health check.
func (r *Registry) Health(ctx context.Context) []stage.Health {
	checks := make([]stage.Health, 0, len(r.handlers))
	for _, s := range queue.AllStages() {
		handler, ok := r.handlers[s]
		if !ok {
			continue
		}
		checks = append(checks, handler.HealthCheck(ctx))
	}
	return checks
}
