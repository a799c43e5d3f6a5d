package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"currents/internal/services"
)

// Match is one similarity hit from the search index. ID is the identifier
// the vector was upserted under.
type Match struct {
	ID    int64
	Score float64
}

// Similar queries the search index for the vectors closest to the given
// one, keeping at most topK hits at or above minScore.
func (c *Client) Similar(ctx context.Context, vector []float32, topK int, minScore float64) ([]Match, error) {
	if len(vector) == 0 {
		return nil, services.Wrap(services.ErrValidation, "vector_search", "similar", "empty query vector", nil)
	}
	if topK <= 0 {
		return nil, services.Wrap(services.ErrValidation, "vector_search", "similar", "top_k must be positive", nil)
	}

	request := searchRequest{Vector: vector, TopK: topK, MinScore: minScore}
	var response searchResponse
	if err := c.postJSON(ctx, "/search", "similar", request, &response); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(response.Matches))
	for _, hit := range response.Matches {
		matches = append(matches, Match{ID: hit.ID, Score: hit.Score})
	}
	return matches, nil
}

// Upsert stores a vector under the given identifier, replacing any vector
// already indexed for it.
func (c *Client) Upsert(ctx context.Context, id int64, vector []float32) error {
	if len(vector) == 0 {
		return services.Wrap(services.ErrValidation, "vector_search", "upsert", "empty vector", nil)
	}
	request := upsertRequest{ID: id, Vector: vector}
	var response statusResponse
	return c.postJSON(ctx, "/vectors", "upsert", request, &response)
}

func (c *Client) postJSON(ctx context.Context, path, operation string, payload, out any) error {
	if c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "vector_search", operation, "vector base url required", nil)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "vector_search", operation, "encode request", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "vector_search", operation, "build url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return services.Wrap(services.ErrExternalService, "vector_search", operation, "build request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "vector_search", operation, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "vector_search", operation, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		message := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return services.Wrap(services.ErrExternalService, "vector_search", operation, message, nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrExternalService, "vector_search", operation, "decode response", err)
	}
	if apiErr := responseError(out); apiErr != "" {
		return services.Wrap(services.ErrExternalService, "vector_search", operation, "api error: "+apiErr, nil)
	}
	return nil
}

func responseError(out any) string {
	switch response := out.(type) {
	case *searchResponse:
		if response.Error != nil {
			return strings.TrimSpace(response.Error.Message)
		}
	case *statusResponse:
		if response.Error != nil {
			return strings.TrimSpace(response.Error.Message)
		}
	}
	return ""
}

type upsertRequest struct {
	ID     int64     `json:"id"`
	Vector []float32 `json:"vector"`
}

type searchRequest struct {
	Vector   []float32 `json:"vector"`
	TopK     int       `json:"top_k"`
	MinScore float64   `json:"min_score"`
}

type searchResponse struct {
	Matches []struct {
		ID    int64   `json:"id"`
		Score float64 `json:"score"`
	} `json:"matches"`
	Error *apiError `json:"error"`
}

type statusResponse struct {
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}
