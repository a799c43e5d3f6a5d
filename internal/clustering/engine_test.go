package clustering_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"currents/internal/clustering"
	"currents/internal/config"
	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/testsupport"
)

type fakeSearcher struct {
	scores map[int64]float64
	err    error
}

func (f *fakeSearcher) Similar(_ context.Context, _ []float32, _ int, _ float64) ([]clustering.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	matches := make([]clustering.Match, 0, len(f.scores))
	for clusterID, score := range f.scores {
		matches = append(matches, clustering.Match{ClusterID: clusterID, Score: score})
	}
	return matches, nil
}

func clusteringConfig() config.Clustering {
	return config.Clustering{
		WindowDays:     7,
		RuleWeight:     0.4,
		SemanticWeight: 0.6,
		MinSimilarity:  0.7,
		MinImportance:  5,
		CandidateLimit: 50,
	}
}

func seedItem(t *testing.T, store *content.Store, externalID, category string, keywords []string, importance int, embedding []float32) *content.Item {
	t.Helper()
	ctx := context.Background()
	item, err := store.AddItem(ctx, &content.Item{
		ExternalID:  externalID,
		Source:      "wire",
		Title:       "item " + externalID,
		Body:        "body",
		PublishedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if category != "" || len(keywords) > 0 || importance > 0 {
		if err := store.UpdateItemAnalysis(ctx, item.ID, "summary", category, keywords, importance); err != nil {
			t.Fatalf("UpdateItemAnalysis: %v", err)
		}
	}
	if len(embedding) > 0 {
		if err := store.UpdateItemEmbedding(ctx, item.ID, embedding); err != nil {
			t.Fatalf("UpdateItemEmbedding: %v", err)
		}
	}
	fetched, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	return fetched
}

func TestAssignItemPicksHighestScoringCluster(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seedA := seedItem(t, store, "seed-a", "", nil, 0, []float32{1, 0})
	seedB := seedItem(t, store, "seed-b", "", nil, 0, []float32{0, 1})
	clusterA, err := store.CreateCluster(ctx, "cluster a", "", seedA.ID, content.DetectionSemantic)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	clusterB, err := store.CreateCluster(ctx, "cluster b", "", seedB.ID, content.DetectionSemantic)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	clusterCfg := clusteringConfig()
	clusterCfg.RuleWeight = 0
	clusterCfg.SemanticWeight = 1.0

	searcher := &fakeSearcher{scores: map[int64]float64{
		clusterA.ID: 0.72,
		clusterB.ID: 0.81,
	}}
	engine := clustering.NewEngine(store, nil, clusterCfg, logging.NewNop(), clustering.WithSearcher(searcher))

	item := seedItem(t, store, "joiner", "", nil, 3, []float32{0.5, 0.5})
	assignment, err := engine.AssignItem(ctx, item)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment == nil {
		t.Fatal("expected an assignment")
	}
	if assignment.ClusterID != clusterB.ID {
		t.Fatalf("expected item assigned to cluster %d, got %d", clusterB.ID, assignment.ClusterID)
	}
	if assignment.Score < 0.8 || assignment.Score > 0.82 {
		t.Fatalf("unexpected score %f", assignment.Score)
	}

	updated, err := store.GetCluster(ctx, clusterB.ID)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if updated.MemberCount != 2 {
		t.Fatalf("expected member count 2, got %d", updated.MemberCount)
	}
}

func TestAssignItemBelowThresholdLowImportanceStaysUnclustered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seed := seedItem(t, store, "seed", "", nil, 0, []float32{1, 0})
	cluster, err := store.CreateCluster(ctx, "cluster", "", seed.ID, content.DetectionSemantic)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	searcher := &fakeSearcher{scores: map[int64]float64{cluster.ID: 0.4}}
	engine := clustering.NewEngine(store, nil, clusteringConfig(), logging.NewNop(), clustering.WithSearcher(searcher))

	item := seedItem(t, store, "minor", "", nil, 3, []float32{0, 1})
	assignment, err := engine.AssignItem(ctx, item)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment != nil {
		t.Fatalf("expected item to remain unclustered, got %+v", assignment)
	}

	clusters, err := store.CandidateClusters(ctx, time.Now().Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("CandidateClusters: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected no new cluster, got %d clusters", len(clusters))
	}

	// The item stays eligible for a future run.
	clustered, err := store.IsItemClustered(ctx, item.ID)
	if err != nil {
		t.Fatalf("IsItemClustered: %v", err)
	}
	if clustered {
		t.Fatal("expected item to remain unclustered")
	}
}

func TestAssignItemBelowThresholdHighImportanceSeedsCluster(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seed := seedItem(t, store, "seed", "", nil, 0, []float32{1, 0})
	cluster, err := store.CreateCluster(ctx, "cluster", "", seed.ID, content.DetectionSemantic)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	searcher := &fakeSearcher{scores: map[int64]float64{cluster.ID: 0.4}}
	engine := clustering.NewEngine(store, nil, clusteringConfig(), logging.NewNop(), clustering.WithSearcher(searcher))

	item := seedItem(t, store, "major", "tech", []string{"outage"}, 8, []float32{0, 1})
	assignment, err := engine.AssignItem(ctx, item)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment == nil || !assignment.Created {
		t.Fatalf("expected a new cluster, got %+v", assignment)
	}

	created, err := store.GetCluster(ctx, assignment.ClusterID)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if created.MemberCount != 1 {
		t.Fatalf("expected exactly one member, got %d", created.MemberCount)
	}
	if created.Category != "tech" {
		t.Fatalf("expected cluster category from seed item, got %q", created.Category)
	}

	members, err := store.ClusterMembers(ctx, created.ID)
	if err != nil {
		t.Fatalf("ClusterMembers: %v", err)
	}
	if len(members) != 1 || members[0].ItemID != item.ID {
		t.Fatalf("expected exactly one member row for the item, got %+v", members)
	}
}

func TestAssignItemDegradesToRuleOnlyWhenVectorSearchFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	// Seed a cluster whose profile matches the joiner on category,
	// keywords, and source, so rule similarity alone clears 0.7.
	seed := seedItem(t, store, "seed", "finance", []string{"rates", "inflation"}, 7, []float32{1, 0})
	cluster, err := store.CreateCluster(ctx, "rate hikes", "finance", seed.ID, content.DetectionHybrid)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	searcher := &fakeSearcher{err: errors.New("vector search unavailable")}
	engine := clustering.NewEngine(store, nil, clusteringConfig(), logging.NewNop(), clustering.WithSearcher(searcher))

	item := seedItem(t, store, "joiner", "finance", []string{"rates", "inflation"}, 4, []float32{0, 1})
	assignment, err := engine.AssignItem(ctx, item)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment == nil {
		t.Fatal("expected rule-only assignment")
	}
	if assignment.ClusterID != cluster.ID {
		t.Fatalf("expected assignment to cluster %d, got %d", cluster.ID, assignment.ClusterID)
	}
	if assignment.Method != content.DetectionRule {
		t.Fatalf("expected rule detection method, got %s", assignment.Method)
	}
}

func TestAssignItemTieBreaksOnRecency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seedOld := seedItem(t, store, "seed-old", "", nil, 0, []float32{1, 0})
	older, err := store.CreateCluster(ctx, "older", "", seedOld.ID, content.DetectionSemantic)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	seedNew := seedItem(t, store, "seed-new", "", nil, 0, []float32{0, 1})
	newer, err := store.CreateCluster(ctx, "newer", "", seedNew.ID, content.DetectionSemantic)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	clusterCfg := clusteringConfig()
	clusterCfg.RuleWeight = 0
	clusterCfg.SemanticWeight = 1.0

	searcher := &fakeSearcher{scores: map[int64]float64{
		older.ID: 0.9,
		newer.ID: 0.9,
	}}
	engine := clustering.NewEngine(store, nil, clusterCfg, logging.NewNop(), clustering.WithSearcher(searcher))

	item := seedItem(t, store, "joiner", "", nil, 3, []float32{0.5, 0.5})
	assignment, err := engine.AssignItem(ctx, item)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment == nil || assignment.ClusterID != newer.ID {
		t.Fatalf("expected tie to prefer the most recently updated cluster %d, got %+v", newer.ID, assignment)
	}
}

func TestAssignItemSkipsAlreadyClusteredItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seed := seedItem(t, store, "seed", "tech", []string{"outage"}, 8, nil)
	if _, err := store.CreateCluster(ctx, "outage", "tech", seed.ID, content.DetectionRule); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	engine := clustering.NewEngine(store, nil, clusteringConfig(), logging.NewNop())
	assignment, err := engine.AssignItem(ctx, seed)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment != nil {
		t.Fatalf("expected clustered item to be skipped, got %+v", assignment)
	}
}

func TestLocalCentroidSimilarityWithoutSearcher(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seed := seedItem(t, store, "seed", "", nil, 0, []float32{1, 0, 0})
	cluster, err := store.CreateCluster(ctx, "cluster", "", seed.ID, content.DetectionSemantic)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	clusterCfg := clusteringConfig()
	clusterCfg.RuleWeight = 0
	clusterCfg.SemanticWeight = 1.0
	engine := clustering.NewEngine(store, nil, clusterCfg, logging.NewNop())

	// Identical vector: cosine 1.0 against the single-member centroid.
	item := seedItem(t, store, "joiner", "", nil, 3, []float32{1, 0, 0})
	assignment, err := engine.AssignItem(ctx, item)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment == nil || assignment.ClusterID != cluster.ID {
		t.Fatalf("expected centroid match, got %+v", assignment)
	}
	if assignment.Score < 0.99 {
		t.Fatalf("expected near-perfect cosine score, got %f", assignment.Score)
	}
}

type indexingSearcher struct {
	fakeSearcher
	upserts map[int64][]float32
}

func (f *indexingSearcher) Upsert(_ context.Context, clusterID int64, vector []float32) error {
	if f.upserts == nil {
		f.upserts = make(map[int64][]float32)
	}
	f.upserts[clusterID] = vector
	return nil
}

func TestAssignItemUpdatesSearchIndex(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	searcher := &indexingSearcher{}
	engine := clustering.NewEngine(store, nil, clusteringConfig(), logging.NewNop(), clustering.WithSearcher(searcher))

	// Seeding a cluster pushes the seed vector under the new cluster ID.
	seed := seedItem(t, store, "seed", "tech", []string{"outage"}, 8, []float32{1, 0})
	assignment, err := engine.AssignItem(ctx, seed)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assignment == nil || !assignment.Created {
		t.Fatalf("expected a new cluster, got %+v", assignment)
	}
	if got := searcher.upserts[assignment.ClusterID]; len(got) != 2 {
		t.Fatalf("expected seed vector indexed for cluster %d, got %v", assignment.ClusterID, got)
	}

	// Attaching a member refreshes the indexed centroid.
	searcher.scores = map[int64]float64{assignment.ClusterID: 0.95}
	joiner := seedItem(t, store, "joiner", "tech", []string{"outage"}, 4, []float32{0, 1})
	joined, err := engine.AssignItem(ctx, joiner)
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if joined == nil || joined.Created || joined.ClusterID != assignment.ClusterID {
		t.Fatalf("expected attach to existing cluster, got %+v", joined)
	}
	centroid := searcher.upserts[assignment.ClusterID]
	if len(centroid) != 2 || centroid[0] == 1 {
		t.Fatalf("expected refreshed centroid after attach, got %v", centroid)
	}
}
