package content_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"currents/internal/content"
	"currents/internal/testsupport"
)

func addItem(t *testing.T, store *content.Store, externalID string, publishedAt time.Time) *content.Item {
	t.Helper()
	item, err := store.AddItem(context.Background(), &content.Item{
		ExternalID:  externalID,
		Source:      "wire",
		Title:       "title " + externalID,
		Body:        "body " + externalID,
		PublishedAt: publishedAt,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	return item
}

func TestAddItemUpsertsByExternalID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	first := addItem(t, store, "ext-1", time.Now().Add(-time.Hour))
	if err := store.UpdateItemAnalysis(ctx, first.ID, "summary", "finance", []string{"rates"}, 7); err != nil {
		t.Fatalf("UpdateItemAnalysis: %v", err)
	}

	refreshed, err := store.AddItem(ctx, &content.Item{
		ExternalID:  "ext-1",
		Source:      "wire",
		Title:       "revised title",
		Body:        "revised body",
		PublishedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("AddItem refresh: %v", err)
	}
	if refreshed.ID != first.ID {
		t.Fatalf("expected same row on refresh, got %d and %d", first.ID, refreshed.ID)
	}
	if refreshed.Title != "revised title" {
		t.Fatalf("expected refreshed title, got %q", refreshed.Title)
	}
	if refreshed.Summary != "summary" || refreshed.Category != "finance" || refreshed.Importance != 7 {
		t.Fatalf("expected derived fields preserved on refresh, got %+v", refreshed)
	}
}

func TestFetchUnprocessedTracksProgressPerStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	older := addItem(t, store, "ext-a", time.Now().Add(-2*time.Hour))
	newer := addItem(t, store, "ext-b", time.Now().Add(-time.Hour))

	pending, err := store.FetchUnprocessed(ctx, "content_analysis", 0)
	if err != nil {
		t.Fatalf("FetchUnprocessed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(pending))
	}
	if pending[0].ID != older.ID {
		t.Fatalf("expected oldest published first, got item %d", pending[0].ID)
	}

	if err := store.MarkProcessed(ctx, older.ID, "content_analysis", "ok"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	// Re-marking the same stage must not error; handlers retry.
	if err := store.MarkProcessed(ctx, older.ID, "content_analysis", "ok"); err != nil {
		t.Fatalf("MarkProcessed repeat: %v", err)
	}

	pending, err = store.FetchUnprocessed(ctx, "content_analysis", 0)
	if err != nil {
		t.Fatalf("FetchUnprocessed after mark: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != newer.ID {
		t.Fatalf("expected only the unprocessed item, got %d entries", len(pending))
	}

	// Progress is per stage: the embedding stage still sees both items.
	count, err := store.CountUnprocessed(ctx, "embedding")
	if err != nil {
		t.Fatalf("CountUnprocessed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 items pending embedding, got %d", count)
	}
}

func TestUpdateItemEmbeddingRoundTrips(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	item := addItem(t, store, "ext-vec", time.Now())
	if item.HasEmbedding() {
		t.Fatal("expected no embedding on a fresh item")
	}

	vector := []float32{0.25, -0.5, 0.75}
	if err := store.UpdateItemEmbedding(ctx, item.ID, vector); err != nil {
		t.Fatalf("UpdateItemEmbedding: %v", err)
	}

	fetched, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !fetched.HasEmbedding() || len(fetched.Embedding) != 3 {
		t.Fatalf("expected 3-dimension embedding, got %v", fetched.Embedding)
	}
	if fetched.Embedding[1] != -0.5 {
		t.Fatalf("expected embedding round trip, got %v", fetched.Embedding)
	}
}

func TestCreateClusterSeedsFirstMember(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seed := addItem(t, store, "ext-seed", time.Now())
	cluster, err := store.CreateCluster(ctx, "rate decision", "finance", seed.ID, content.DetectionHybrid)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	if cluster.MemberCount != 1 {
		t.Fatalf("expected member count 1, got %d", cluster.MemberCount)
	}
	if !cluster.IsActive {
		t.Fatal("expected new cluster to be active")
	}

	members, err := store.ClusterMembers(ctx, cluster.ID)
	if err != nil {
		t.Fatalf("ClusterMembers: %v", err)
	}
	if len(members) != 1 || members[0].ItemID != seed.ID {
		t.Fatalf("expected seed member, got %+v", members)
	}
	if members[0].SimilarityScore != 1.0 {
		t.Fatalf("expected seed similarity 1.0, got %f", members[0].SimilarityScore)
	}

	clustered, err := store.IsItemClustered(ctx, seed.ID)
	if err != nil {
		t.Fatalf("IsItemClustered: %v", err)
	}
	if !clustered {
		t.Fatal("expected seed item to be clustered")
	}
}

func TestAttachMemberBumpsCountAndRecency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	seed := addItem(t, store, "ext-s", time.Now())
	joiner := addItem(t, store, "ext-j", time.Now())

	cluster, err := store.CreateCluster(ctx, "outage", "tech", seed.ID, content.DetectionRule)
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	if err := store.AttachMember(ctx, cluster.ID, joiner.ID, 0.82, content.DetectionHybrid); err != nil {
		t.Fatalf("AttachMember: %v", err)
	}

	updated, err := store.GetCluster(ctx, cluster.ID)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if updated.MemberCount != 2 {
		t.Fatalf("expected member count 2, got %d", updated.MemberCount)
	}
	if updated.LastUpdatedAt.Before(cluster.LastUpdatedAt) {
		t.Fatal("expected last_updated_at to advance")
	}

	// An item belongs to at most one cluster.
	if err := store.AttachMember(ctx, cluster.ID, joiner.ID, 0.9, content.DetectionRule); err == nil {
		t.Fatal("expected duplicate membership to be rejected")
	}

	if err := store.AttachMember(ctx, cluster.ID+100, seed.ID+100, 0.8, content.DetectionRule); err == nil {
		t.Fatal("expected missing cluster to be rejected")
	}
}

func TestCandidateClustersFiltersWindowAndActivity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seed := addItem(t, store, fmt.Sprintf("ext-c%d", i), time.Now())
		if _, err := store.CreateCluster(ctx, fmt.Sprintf("cluster %d", i), "general", seed.ID, content.DetectionRule); err != nil {
			t.Fatalf("CreateCluster: %v", err)
		}
	}

	clusters, err := store.CandidateClusters(ctx, time.Now().Add(-7*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("CandidateClusters: %v", err)
	}
	if len(clusters) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(clusters))
	}
	// Out-of-window cutoff excludes everything.
	clusters, err = store.CandidateClusters(ctx, time.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("CandidateClusters future cutoff: %v", err)
	}
	if len(clusters) != 0 {
		t.Fatalf("expected no candidates past cutoff, got %d", len(clusters))
	}

	deactivated, err := store.DeactivateClustersBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeactivateClustersBefore: %v", err)
	}
	if deactivated != 3 {
		t.Fatalf("expected 3 deactivated, got %d", deactivated)
	}
	clusters, err = store.CandidateClusters(ctx, time.Now().Add(-7*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("CandidateClusters after deactivate: %v", err)
	}
	if len(clusters) != 0 {
		t.Fatalf("expected inactive clusters excluded, got %d", len(clusters))
	}
}

func TestSaveActionItemsReplacesPriorExtraction(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	item := addItem(t, store, "ext-act", time.Now())
	first := []*content.ActionItem{
		{Description: "review budget", Owner: "ops"},
		{Description: "schedule follow-up"},
	}
	if err := store.SaveActionItems(ctx, item.ID, first); err != nil {
		t.Fatalf("SaveActionItems: %v", err)
	}

	second := []*content.ActionItem{{Description: "review budget", Owner: "finance"}}
	if err := store.SaveActionItems(ctx, item.ID, second); err != nil {
		t.Fatalf("SaveActionItems replace: %v", err)
	}

	actions, err := store.RecentActions(ctx, time.Now().Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected replacement to drop stale actions, got %d", len(actions))
	}
	if actions[0].Owner != "finance" {
		t.Fatalf("expected fresh owner, got %q", actions[0].Owner)
	}
}

func TestSaveTopicsScopedToWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	end := time.Now().Truncate(time.Hour)
	start := end.Add(-24 * time.Hour)

	topics := []*content.Topic{
		{Name: "elections", Keywords: []string{"vote", "poll"}, ItemCount: 12},
		{Name: "storms", ItemCount: 4},
	}
	if err := store.SaveTopics(ctx, start, end, topics); err != nil {
		t.Fatalf("SaveTopics: %v", err)
	}
	// A rerun over the same window replaces rather than appends.
	if err := store.SaveTopics(ctx, start, end, topics[:1]); err != nil {
		t.Fatalf("SaveTopics rerun: %v", err)
	}

	recent, err := store.RecentTopics(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("RecentTopics: %v", err)
	}
	if len(recent) != 1 || recent[0].Name != "elections" {
		t.Fatalf("expected single replaced topic, got %+v", recent)
	}
	if len(recent[0].Keywords) != 2 {
		t.Fatalf("expected keywords to round trip, got %v", recent[0].Keywords)
	}
}

func TestSaveReportAndLatest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	if report, err := store.LatestReport(ctx); err != nil || report != nil {
		t.Fatalf("expected no report yet, got %+v err=%v", report, err)
	}

	saved, err := store.SaveReport(ctx, &content.Report{
		Period:       "daily",
		Body:         "three clusters, two actions",
		ClusterCount: 3,
		ItemCount:    9,
	})
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("expected report ID to be assigned")
	}

	latest, err := store.LatestReport(ctx)
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if latest == nil || latest.ID != saved.ID {
		t.Fatalf("expected latest report %d, got %+v", saved.ID, latest)
	}
}
