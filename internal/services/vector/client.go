// Package vector wraps the embedding service used to produce dense vectors
// for content items. Similarity math over the stored vectors happens in the
// clustering engine; this package only talks to the provider.
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
	"time"

	"currents/internal/config"
	"currents/internal/services"
)

const (
	defaultModel       = "text-embedding-3-small"
	defaultHTTPTimeout = 30 * time.Second
)

// Client wraps the embeddings API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option customizes the vector client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithModel overrides the default embedding model.
func WithModel(model string) Option {
	return func(c *Client) {
		model = strings.TrimSpace(model)
		if model != "" {
			c.model = model
		}
	}
}

// NewClient constructs an embeddings client. baseURL is required; there is
// no sensible public default for a self-hosted embedding service.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// NewFromConfig constructs a client from the configured Vector section.
func NewFromConfig(cfg *config.Config) *Client {
	var opts []Option
	if cfg.Vector.TimeoutSeconds > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Vector.TimeoutSeconds) * time.Second,
		}))
	}
	return NewClient(cfg.Vector.BaseURL, cfg.Vector.APIKey, opts...)
}

// Embed produces a vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch produces vectors for several texts in one request. The result
// has one vector per input, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "embedding", "embed", "vector base url required", nil)
	}
	if len(texts) == 0 {
		return nil, services.Wrap(services.ErrValidation, "embedding", "embed", "no texts to embed", nil)
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, services.Wrap(services.ErrValidation, "embedding", "embed", "empty text", nil)
		}
	}

	request := embeddingRequest{Model: c.model, Input: texts}
	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", "encode request", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, "/embeddings")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "embedding", "embed", "build url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", "build request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		message := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", message, nil)
	}

	var response embeddingResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", "decode response", err)
	}
	if response.Error != nil {
		message := "api error: " + strings.TrimSpace(response.Error.Message)
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", message, nil)
	}
	if len(response.Data) != len(texts) {
		message := fmt.Sprintf("expected %d vectors, got %d", len(texts), len(response.Data))
		return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", message, nil)
	}

	vectors := make([][]float32, len(texts))
	for _, entry := range response.Data {
		if entry.Index < 0 || entry.Index >= len(vectors) {
			message := fmt.Sprintf("vector index %d out of range", entry.Index)
			return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", message, nil)
		}
		vectors[entry.Index] = entry.Embedding
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			message := fmt.Sprintf("missing vector for input %d", i)
			return nil, services.Wrap(services.ErrExternalService, "embedding", "embed", message, nil)
		}
	}
	return vectors, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
