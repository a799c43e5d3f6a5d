package clustering

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCentroid(t *testing.T) {
	centroid := Centroid([][]float32{
		{1, 0},
		{0, 1},
		nil,
		{1, 1, 1}, // wrong length, skipped
	})
	if len(centroid) != 2 {
		t.Fatalf("expected 2-dimension centroid, got %v", centroid)
	}
	if centroid[0] != 0.5 || centroid[1] != 0.5 {
		t.Fatalf("expected averaged centroid, got %v", centroid)
	}

	if got := Centroid(nil); got != nil {
		t.Fatalf("expected nil centroid for no vectors, got %v", got)
	}
}

func TestKeywordJaccard(t *testing.T) {
	if got := keywordJaccard([]string{"a", "b"}, []string{"b", "c"}); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Fatalf("expected 1/3, got %f", got)
	}
	if got := keywordJaccard([]string{"A", " b "}, []string{"a", "b"}); got != 1 {
		t.Fatalf("expected case and whitespace insensitive match, got %f", got)
	}
	if got := keywordJaccard(nil, []string{"a"}); got != 0 {
		t.Fatalf("expected 0 for empty side, got %f", got)
	}
}

func TestRuleScoreBounds(t *testing.T) {
	profile := &clusterProfile{
		category: "finance",
		keywords: []string{"rates", "inflation"},
		sources:  map[string]bool{"wire": true},
	}

	full := ruleScore("finance", []string{"rates", "inflation"}, "wire", 1.0, profile)
	if math.Abs(full-1.0) > 1e-9 {
		t.Fatalf("expected full match to score 1.0, got %f", full)
	}

	none := ruleScore("sports", []string{"goal"}, "forum", 1.0, profile)
	if none != 0 {
		t.Fatalf("expected no match to score 0, got %f", none)
	}

	// A low-weight source shrinks only the source component.
	discounted := ruleScore("finance", []string{"rates", "inflation"}, "wire", 0.5, profile)
	if math.Abs(discounted-(1.0-0.075)) > 1e-9 {
		t.Fatalf("expected discounted source component, got %f", discounted)
	}
}
