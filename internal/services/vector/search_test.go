package vector_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"currents/internal/services"
	"currents/internal/services/vector"
)

func TestSimilarDecodesMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var request struct {
			Vector   []float32 `json:"vector"`
			TopK     int       `json:"top_k"`
			MinScore float64   `json:"min_score"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if request.TopK != 5 || request.MinScore != 0.3 {
			t.Errorf("unexpected request %+v", request)
		}
		response := map[string]any{
			"matches": []map[string]any{
				{"id": 7, "score": 0.91},
				{"id": 3, "score": 0.64},
			},
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := vector.NewClient(server.URL, "key")
	matches, err := client.Similar(context.Background(), []float32{0.5, 0.5}, 5, 0.3)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != 7 || matches[0].Score != 0.91 {
		t.Fatalf("unexpected first match %+v", matches[0])
	}
}

func TestSimilarRejectsBadArguments(t *testing.T) {
	client := vector.NewClient("http://localhost:1", "key")
	if _, err := client.Similar(context.Background(), nil, 5, 0.3); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty vector, got %v", err)
	}
	if _, err := client.Similar(context.Background(), []float32{0.1}, 0, 0.3); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero top_k, got %v", err)
	}
}

func TestUpsertSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vectors" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "index full"},
		})
	}))
	defer server.Close()

	client := vector.NewClient(server.URL, "key")
	err := client.Upsert(context.Background(), 42, []float32{0.1, 0.2})
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestUpsertSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			ID     int64     `json:"id"`
			Vector []float32 `json:"vector"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if request.ID != 42 || len(request.Vector) != 2 {
			t.Errorf("unexpected request %+v", request)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	client := vector.NewClient(server.URL, "key")
	if err := client.Upsert(context.Background(), 42, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}
