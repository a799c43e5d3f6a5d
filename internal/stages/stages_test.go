package stages_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"currents/internal/content"
	"currents/internal/logging"
	"currents/internal/queue"
	"currents/internal/services/ai"
	"currents/internal/stages"
	"currents/internal/testsupport"
)

type fakeAI struct {
	analyzeErr   map[string]error
	translateErr error
	topics       []ai.TopicResult
	topicsErr    error
	actions      []ai.ActionResult
	actionsErr   error
	report       string
	reportErr    error
}

func (f *fakeAI) Analyze(_ context.Context, title, _ string) (ai.Analysis, error) {
	if err := f.analyzeErr[title]; err != nil {
		return ai.Analysis{}, err
	}
	return ai.Analysis{
		Summary:    "summary of " + title,
		Category:   "tech",
		Keywords:   []string{"keyword"},
		Importance: 6,
	}, nil
}

func (f *fakeAI) Translate(_ context.Context, body string) (ai.Translation, error) {
	if f.translateErr != nil {
		return ai.Translation{}, f.translateErr
	}
	return ai.Translation{Text: "translated " + body, SourceLanguage: "de"}, nil
}

func (f *fakeAI) DiscoverTopics(context.Context, []string) ([]ai.TopicResult, error) {
	return f.topics, f.topicsErr
}

func (f *fakeAI) ExtractActions(context.Context, string, string) ([]ai.ActionResult, error) {
	return f.actions, f.actionsErr
}

func (f *fakeAI) ComposeReport(context.Context, string, []string) (ai.ReportResult, error) {
	if f.reportErr != nil {
		return ai.ReportResult{}, f.reportErr
	}
	return ai.ReportResult{Body: f.report}, nil
}

type fakeEmbedder struct {
	vector []float32
	errFor map[string]bool
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.errFor[text] {
		return nil, errors.New("embedding unavailable")
	}
	return f.vector, nil
}

func taskFor(t *testing.T, stageName queue.Stage, payload queue.Payload) *queue.Task {
	t.Helper()
	encoded, err := payload.Encode()
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return &queue.Task{Stage: stageName, PayloadJSON: encoded}
}

func addItems(t *testing.T, store *content.Store, titles ...string) []*content.Item {
	t.Helper()
	items := make([]*content.Item, 0, len(titles))
	for i, title := range titles {
		item, err := store.AddItem(context.Background(), &content.Item{
			ExternalID:  title,
			Source:      "wire",
			Title:       title,
			Body:        "body of " + title,
			PublishedAt: time.Now().Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddItem: %v", err)
		}
		items = append(items, item)
	}
	return items
}

func TestAnalysisProcessesBacklogAndMarksProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	addItems(t, store, "alpha", "beta")

	handler := stages.NewAnalysis(store, &fakeAI{}, 50, logging.NewNop())
	result, err := handler.Execute(ctx, taskFor(t, queue.StageContentAnalysis, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 2 || result.Failed != 0 {
		t.Fatalf("expected 2 processed, got %+v", result)
	}
	if len(result.ItemIDs) != 2 {
		t.Fatalf("expected finished item ids, got %v", result.ItemIDs)
	}

	count, err := store.CountUnprocessed(ctx, string(queue.StageContentAnalysis))
	if err != nil {
		t.Fatalf("CountUnprocessed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected backlog drained, got %d", count)
	}

	item, err := store.GetByExternalID(ctx, "alpha")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if item.Summary == "" || item.Category != "tech" || item.Importance != 6 {
		t.Fatalf("expected analysis written back, got %+v", item)
	}
}

func TestAnalysisPartialFailureCompletesWithFailedCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)

	addItems(t, store, "good", "bad")
	client := &fakeAI{analyzeErr: map[string]error{"bad": errors.New("provider error")}}

	handler := stages.NewAnalysis(store, client, 50, logging.NewNop())
	result, err := handler.Execute(context.Background(), taskFor(t, queue.StageContentAnalysis, queue.Payload{}))
	if err != nil {
		t.Fatalf("expected partial failure to not fail the task, got %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 processed and 1 failed, got %+v", result)
	}
}

func TestAnalysisAllFailedFailsTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)

	addItems(t, store, "bad")
	client := &fakeAI{analyzeErr: map[string]error{"bad": errors.New("provider error")}}

	handler := stages.NewAnalysis(store, client, 50, logging.NewNop())
	result, err := handler.Execute(context.Background(), taskFor(t, queue.StageContentAnalysis, queue.Payload{}))
	if err == nil {
		t.Fatal("expected an all-failed batch to fail the task")
	}
	if result.Failed != 1 {
		t.Fatalf("expected failed count 1, got %+v", result)
	}
}

func TestAnalysisEmptyBacklogIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)

	handler := stages.NewAnalysis(store, &fakeAI{}, 50, logging.NewNop())
	result, err := handler.Execute(context.Background(), taskFor(t, queue.StageContentAnalysis, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 0 || result.Failed != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestAnalysisScopesToPayloadItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	items := addItems(t, store, "scoped", "unscoped")

	handler := stages.NewAnalysis(store, &fakeAI{}, 50, logging.NewNop())
	task := taskFor(t, queue.StageContentAnalysis, queue.Payload{ItemIDs: []int64{items[0].ID}})
	result, err := handler.Execute(ctx, task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected only the payload item processed, got %+v", result)
	}

	count, err := store.CountUnprocessed(ctx, string(queue.StageContentAnalysis))
	if err != nil {
		t.Fatalf("CountUnprocessed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the unscoped item left in backlog, got %d", count)
	}
}

func TestTranslateWritesTranslation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	addItems(t, store, "foreign")

	handler := stages.NewTranslate(store, &fakeAI{}, 50, logging.NewNop())
	result, err := handler.Execute(ctx, taskFor(t, queue.StageTranslate, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", result)
	}

	item, err := store.GetByExternalID(ctx, "foreign")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if item.Translation == "" {
		t.Fatal("expected translation written back")
	}
}

func TestEmbeddingPartialFailureKeepsOtherVectors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	items := addItems(t, store, "ok", "broken")
	embedderClient := &fakeEmbedder{
		vector: []float32{0.1, 0.2},
		errFor: map[string]bool{"broken\nbody of broken": true},
	}

	handler := stages.NewEmbedding(store, embedderClient, 50, logging.NewNop())
	result, err := handler.Execute(ctx, taskFor(t, queue.StageEmbedding, queue.Payload{}))
	if err != nil {
		t.Fatalf("expected partial failure to not fail the task, got %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 processed and 1 failed, got %+v", result)
	}

	ok, err := store.GetItem(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !ok.HasEmbedding() {
		t.Fatal("expected successful item to keep its vector")
	}
}

func TestActionsStoresExtractedItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	addItems(t, store, "meeting notes")
	client := &fakeAI{actions: []ai.ActionResult{
		{Description: "send follow-up", Owner: "sam"},
	}}

	handler := stages.NewActions(store, client, 50, logging.NewNop())
	result, err := handler.Execute(ctx, taskFor(t, queue.StageActionExtraction, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", result)
	}

	actions, err := store.RecentActions(ctx, time.Now().Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(actions) != 1 || actions[0].Owner != "sam" {
		t.Fatalf("expected stored action, got %+v", actions)
	}
}

func TestTopicsSavesDiscoveredThemes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	items := addItems(t, store, "one", "two")
	for _, item := range items {
		if err := store.UpdateItemAnalysis(ctx, item.ID, "summary "+item.Title, "tech", nil, 5); err != nil {
			t.Fatalf("UpdateItemAnalysis: %v", err)
		}
	}

	client := &fakeAI{topics: []ai.TopicResult{
		{Name: "releases", Keywords: []string{"launch"}, ItemCount: 2},
	}}
	handler := stages.NewTopics(store, client, 7, logging.NewNop())
	result, err := handler.Execute(ctx, taskFor(t, queue.StageTopicDiscovery, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected 2 summaries processed, got %+v", result)
	}

	topics, err := store.RecentTopics(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("RecentTopics: %v", err)
	}
	if len(topics) != 1 || topics[0].Name != "releases" {
		t.Fatalf("expected stored topic, got %+v", topics)
	}
}

func TestTopicsSkipsWhenNothingSummarized(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)

	handler := stages.NewTopics(store, &fakeAI{topicsErr: errors.New("should not be called")}, 7, logging.NewNop())
	result, err := handler.Execute(context.Background(), taskFor(t, queue.StageTopicDiscovery, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected noop, got %+v", result)
	}
}

func TestReportComposesOverClustersAndActions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)
	ctx := context.Background()

	items := addItems(t, store, "seed")
	if _, err := store.CreateCluster(ctx, "outage", "tech", items[0].ID, content.DetectionRule); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	client := &fakeAI{report: "daily digest body"}
	handler := stages.NewReport(store, client, 7, logging.NewNop())
	result, err := handler.Execute(ctx, taskFor(t, queue.StageReportGeneration, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected report produced, got %+v", result)
	}

	report, err := store.LatestReport(ctx)
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if report == nil || report.Body != "daily digest body" || report.ClusterCount != 1 {
		t.Fatalf("expected stored report, got %+v", report)
	}
}

func TestReportSkipsWithNoMaterial(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenContent(t, cfg)

	handler := stages.NewReport(store, &fakeAI{reportErr: errors.New("should not be called")}, 7, logging.NewNop())
	result, err := handler.Execute(context.Background(), taskFor(t, queue.StageReportGeneration, queue.Payload{}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected noop, got %+v", result)
	}
}
