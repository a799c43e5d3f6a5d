// Package clustering implements the event clustering engine. Items are
// scored against recently active clusters with a weighted blend of
// rule-based similarity (category, keywords, source) and semantic
// similarity (vector distance), then attached to the best match above a
// threshold or promoted into a new cluster when important enough.
package clustering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"currents/internal/config"
	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/sources"
)

// Match is one semantic similarity hit against a candidate cluster.
type Match struct {
	ClusterID int64
	Score     float64
}

// Searcher finds clusters semantically similar to a vector. The engine
// falls back to local centroid similarity when no Searcher is injected,
// and degrades to rule-only scoring when a Searcher call fails.
type Searcher interface {
	Similar(ctx context.Context, vector []float32, topK int, minScore float64) ([]Match, error)
}

// Indexer mirrors cluster representative vectors into the external search
// index so Similar results stay current. A Searcher that also implements
// Indexer receives a centroid update after every assignment.
type Indexer interface {
	Upsert(ctx context.Context, clusterID int64, vector []float32) error
}

// Assignment describes where an item landed.
type Assignment struct {
	ClusterID int64
	Created   bool
	Score     float64
	Method    content.DetectionMethod
}

// Engine scores and assigns content items to event clusters.
type Engine struct {
	store    *content.Store
	registry *sources.Registry
	cfg      config.Clustering
	logger   *slog.Logger
	searcher Searcher
	now      func() time.Time
}

// Option customizes the engine.
type Option func(*Engine)

// WithSearcher routes semantic similarity through an external vector
// search service instead of local centroid math.
func WithSearcher(searcher Searcher) Option {
	return func(e *Engine) {
		e.searcher = searcher
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs a clustering engine.
func NewEngine(store *content.Store, registry *sources.Registry, cfg config.Clustering, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "clustering"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// AssignItem scores one item against the candidate clusters and either
// attaches it, creates a new cluster seeded by it, or leaves it
// unclustered. A nil Assignment with nil error means the item was skipped
// (already clustered) or left unclustered for this run.
func (e *Engine) AssignItem(ctx context.Context, item *content.Item) (*Assignment, error) {
	clustered, err := e.store.IsItemClustered(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if clustered {
		return nil, nil
	}

	profiles, err := e.loadCandidates(ctx)
	if err != nil {
		return nil, err
	}

	best, score, method := e.scoreCandidates(ctx, item, profiles)
	if best != nil && score >= e.cfg.MinSimilarity {
		if err := e.store.AttachMember(ctx, best.cluster.ID, item.ID, score, method); err != nil {
			return nil, fmt.Errorf("attach item %d to cluster %d: %w", item.ID, best.cluster.ID, err)
		}
		e.indexCluster(ctx, best.cluster.ID, joinedCentroid(best.centroid, item))
		e.logger.InfoContext(ctx, "item joined cluster",
			logging.Int64("item_id", item.ID),
			logging.Int64("cluster_id", best.cluster.ID),
			logging.Float64("score", score),
			logging.String("method", string(method)))
		return &Assignment{ClusterID: best.cluster.ID, Score: score, Method: method}, nil
	}

	if item.Importance < e.cfg.MinImportance {
		e.logger.DebugContext(ctx, "item left unclustered",
			logging.Int64("item_id", item.ID),
			logging.Int("importance", item.Importance),
			logging.Float64("best_score", score))
		return nil, nil
	}

	method = seedMethod(item)
	cluster, err := e.store.CreateCluster(ctx, item.Title, item.Category, item.ID, method)
	if err != nil {
		return nil, fmt.Errorf("create cluster for item %d: %w", item.ID, err)
	}
	e.indexCluster(ctx, cluster.ID, item.Embedding)
	e.logger.InfoContext(ctx, "item seeded new cluster",
		logging.Int64("item_id", item.ID),
		logging.Int64("cluster_id", cluster.ID),
		logging.Int("importance", item.Importance))
	return &Assignment{ClusterID: cluster.ID, Created: true, Score: 1.0, Method: method}, nil
}

type clusterProfile struct {
	cluster  *content.EventCluster
	category string
	keywords []string
	sources  map[string]bool
	centroid []float32
}

// loadCandidates builds scoring profiles for active clusters inside the
// recency window. Candidates come back most recently updated first, which
// doubles as the tie-break order when scores are equal.
func (e *Engine) loadCandidates(ctx context.Context) ([]*clusterProfile, error) {
	windowStart := e.now().Add(-time.Duration(e.cfg.WindowDays) * 24 * time.Hour)
	clusters, err := e.store.CandidateClusters(ctx, windowStart, e.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("load candidate clusters: %w", err)
	}

	profiles := make([]*clusterProfile, 0, len(clusters))
	for _, cluster := range clusters {
		profile, err := e.buildProfile(ctx, cluster)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func (e *Engine) buildProfile(ctx context.Context, cluster *content.EventCluster) (*clusterProfile, error) {
	members, err := e.store.ClusterMembers(ctx, cluster.ID)
	if err != nil {
		return nil, fmt.Errorf("load members for cluster %d: %w", cluster.ID, err)
	}

	itemIDs := make([]int64, 0, len(members))
	for _, member := range members {
		itemIDs = append(itemIDs, member.ItemID)
	}
	items, err := e.store.ItemsByID(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("load items for cluster %d: %w", cluster.ID, err)
	}

	profile := &clusterProfile{
		cluster:  cluster,
		category: cluster.Category,
		sources:  make(map[string]bool),
	}
	seen := make(map[string]bool)
	var vectors [][]float32
	for _, item := range items {
		for _, keyword := range item.Keywords {
			if !seen[keyword] {
				seen[keyword] = true
				profile.keywords = append(profile.keywords, keyword)
			}
		}
		if item.Source != "" {
			profile.sources[item.Source] = true
		}
		if item.HasEmbedding() {
			vectors = append(vectors, item.Embedding)
		}
	}
	profile.centroid = Centroid(vectors)
	return profile, nil
}

// scoreCandidates returns the best-scoring profile, its hybrid score, and
// the detection method that produced the score. Profiles arrive in
// recency order, so a strict greater-than comparison keeps the most
// recently updated cluster on ties.
func (e *Engine) scoreCandidates(ctx context.Context, item *content.Item, profiles []*clusterProfile) (*clusterProfile, float64, content.DetectionMethod) {
	semanticScores, semanticOK := e.semanticScores(ctx, item, profiles)
	ruleOK := hasRuleSignal(item.Category, item.Keywords, item.Source)
	sourceWeight := 1.0
	if e.registry != nil {
		sourceWeight = e.registry.Weight(item.Source)
	}

	var (
		best       *clusterProfile
		bestScore  float64
		bestMethod content.DetectionMethod
	)
	for _, profile := range profiles {
		semantic, hasSemantic := semanticScores[profile.cluster.ID]
		hasSemantic = hasSemantic && semanticOK

		var score float64
		var method content.DetectionMethod
		switch {
		case ruleOK && hasSemantic:
			score = e.cfg.RuleWeight*ruleScore(item.Category, item.Keywords, item.Source, sourceWeight, profile) + e.cfg.SemanticWeight*semantic
			method = content.DetectionHybrid
		case ruleOK:
			score = ruleScore(item.Category, item.Keywords, item.Source, sourceWeight, profile)
			method = content.DetectionRule
		case hasSemantic:
			score = semantic
			method = content.DetectionSemantic
		default:
			continue
		}

		if best == nil || score > bestScore {
			best = profile
			bestScore = score
			bestMethod = method
		}
	}
	return best, bestScore, bestMethod
}

// semanticScores computes per-cluster semantic similarity for the item.
// The boolean reports whether the semantic signal is usable at all; false
// degrades the item to rule-only scoring rather than failing the batch.
func (e *Engine) semanticScores(ctx context.Context, item *content.Item, profiles []*clusterProfile) (map[int64]float64, bool) {
	if !item.HasEmbedding() {
		return nil, false
	}

	if e.searcher != nil {
		topK := e.cfg.CandidateTopK
		if topK <= 0 {
			topK = len(profiles)
		}
		matches, err := e.searcher.Similar(ctx, item.Embedding, topK, e.cfg.MinSemanticScore)
		if err != nil {
			e.logger.WarnContext(ctx, "vector search failed, degrading to rule-only scoring",
				logging.Int64("item_id", item.ID),
				logging.Error(err))
			return nil, false
		}
		scores := make(map[int64]float64, len(matches))
		for _, match := range matches {
			scores[match.ClusterID] = match.Score
		}
		return scores, true
	}

	scores := make(map[int64]float64, len(profiles))
	for _, profile := range profiles {
		if len(profile.centroid) == 0 {
			continue
		}
		scores[profile.cluster.ID] = CosineSimilarity(item.Embedding, profile.centroid)
	}
	return scores, true
}

// indexCluster pushes a cluster's representative vector to the external
// index when the configured searcher supports writes. Failures are logged
// and dropped; local centroid math keeps working without the index.
func (e *Engine) indexCluster(ctx context.Context, clusterID int64, vector []float32) {
	indexer, ok := e.searcher.(Indexer)
	if !ok || len(vector) == 0 {
		return
	}
	if err := indexer.Upsert(ctx, clusterID, vector); err != nil {
		e.logger.WarnContext(ctx, "vector index update failed",
			logging.Int64("cluster_id", clusterID),
			logging.Error(err))
	}
}

// joinedCentroid folds a newly attached item's vector into the cluster's
// current centroid.
func joinedCentroid(centroid []float32, item *content.Item) []float32 {
	vectors := make([][]float32, 0, 2)
	if len(centroid) > 0 {
		vectors = append(vectors, centroid)
	}
	if item.HasEmbedding() {
		vectors = append(vectors, item.Embedding)
	}
	return Centroid(vectors)
}

func seedMethod(item *content.Item) content.DetectionMethod {
	ruleOK := hasRuleSignal(item.Category, item.Keywords, item.Source)
	switch {
	case ruleOK && item.HasEmbedding():
		return content.DetectionHybrid
	case item.HasEmbedding():
		return content.DetectionSemantic
	default:
		return content.DetectionRule
	}
}
