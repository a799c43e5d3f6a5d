// Package ai wraps the chat completion provider used by the analysis,
// translation, topic discovery, action extraction, and report stages.
// All calls request JSON-object responses and parse them into typed results.
package ai

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
	defaultBaseURL     = "https://api.deepseek.com"
	defaultModel       = "deepseek-chat"
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
)

// Client wraps the chat completion API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option customizes the AI client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the default API base (useful for tests/mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(c *Client) {
		model = strings.TrimSpace(model)
		if model != "" {
			c.model = model
		}
	}
}

// NewClient constructs a chat completion client.
func NewClient(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// NewFromConfig constructs a client from the configured AI section.
func NewFromConfig(cfg *config.Config) *Client {
	opts := []Option{
		WithBaseURL(cfg.AI.BaseURL),
		WithModel(cfg.AI.Model),
	}
	if cfg.AI.TimeoutSeconds > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		}))
	}
	return NewClient(cfg.AI.APIKey, opts...)
}

// Analysis captures the structured output of content analysis.
type Analysis struct {
	Summary    string   `json:"summary"`
	Category   string   `json:"category"`
	Keywords   []string `json:"keywords"`
	Importance int      `json:"importance"`
}

// Analyze summarizes and classifies one content item.
func (c *Client) Analyze(ctx context.Context, title, body string) (Analysis, error) {
	var analysis Analysis
	input := strings.TrimSpace(title + "\n\n" + body)
	if input == "" {
		return analysis, services.Wrap(services.ErrValidation, "ai", "analyze", "content required", nil)
	}
	if err := c.chatJSON(ctx, "analyze", analysisPrompt, input, &analysis); err != nil {
		return Analysis{}, err
	}
	analysis.Summary = strings.TrimSpace(analysis.Summary)
	analysis.Category = strings.ToLower(strings.TrimSpace(analysis.Category))
	if analysis.Importance < 1 {
		analysis.Importance = 1
	}
	if analysis.Importance > 10 {
		analysis.Importance = 10
	}
	return analysis, nil
}

// Translation captures the structured output of translation.
type Translation struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
}

// Translate renders the body into the pipeline's working language. Items
// already in the working language come back unchanged.
func (c *Client) Translate(ctx context.Context, body string) (Translation, error) {
	var translation Translation
	if strings.TrimSpace(body) == "" {
		return translation, services.Wrap(services.ErrValidation, "translate", "translate", "content required", nil)
	}
	if err := c.chatJSON(ctx, "translate", translationPrompt, body, &translation); err != nil {
		return Translation{}, err
	}
	translation.Text = strings.TrimSpace(translation.Text)
	return translation, nil
}

// TopicResult is one discovered theme.
type TopicResult struct {
	Name      string   `json:"name"`
	Keywords  []string `json:"keywords"`
	ItemCount int      `json:"item_count"`
}

type topicsEnvelope struct {
	Topics []TopicResult `json:"topics"`
}

// DiscoverTopics finds recurring themes across summarized items.
func (c *Client) DiscoverTopics(ctx context.Context, summaries []string) ([]TopicResult, error) {
	if len(summaries) == 0 {
		return nil, nil
	}
	var envelope topicsEnvelope
	input := strings.Join(summaries, "\n---\n")
	if err := c.chatJSON(ctx, "topics", topicsPrompt, input, &envelope); err != nil {
		return nil, err
	}
	return envelope.Topics, nil
}

// ActionResult is one extracted follow-up.
type ActionResult struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	DueHint     string `json:"due_hint"`
}

type actionsEnvelope struct {
	Actions []ActionResult `json:"actions"`
}

// ExtractActions pulls actionable follow-ups from one content item. Items
// without actionable content yield an empty slice, not an error.
func (c *Client) ExtractActions(ctx context.Context, title, body string) ([]ActionResult, error) {
	input := strings.TrimSpace(title + "\n\n" + body)
	if input == "" {
		return nil, services.Wrap(services.ErrValidation, "action_extraction", "extract", "content required", nil)
	}
	var envelope actionsEnvelope
	if err := c.chatJSON(ctx, "actions", actionsPrompt, input, &envelope); err != nil {
		return nil, err
	}
	return envelope.Actions, nil
}

// ReportResult is the composed digest body.
type ReportResult struct {
	Body string `json:"body"`
}

// ComposeReport writes a digest over the given cluster and action summaries.
func (c *Client) ComposeReport(ctx context.Context, period string, material []string) (ReportResult, error) {
	var report ReportResult
	if len(material) == 0 {
		return report, services.Wrap(services.ErrValidation, "report_generation", "compose", "no material to report on", nil)
	}
	input := "period: " + period + "\n\n" + strings.Join(material, "\n---\n")
	if err := c.chatJSON(ctx, "report", reportPrompt, input, &report); err != nil {
		return ReportResult{}, err
	}
	report.Body = strings.TrimSpace(report.Body)
	if report.Body == "" {
		return ReportResult{}, services.Wrap(services.ErrExternalService, "report_generation", "compose", "provider returned empty report", nil)
	}
	return report, nil
}

func (c *Client) chatJSON(ctx context.Context, operation, systemPrompt, userContent string, out any) error {
	if c.apiKey == "" {
		return services.Wrap(services.ErrConfiguration, "ai", operation, "api key required", nil)
	}

	request := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0,
		ResponseFormat: map[string]string{
			"type": jsonResponseType,
		},
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "ai", operation, "encode request", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, "/chat/completions")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "ai", operation, "build url", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return services.Wrap(services.ErrExternalService, "ai", operation, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "ai", operation, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "ai", operation, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		message := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return services.Wrap(services.ErrExternalService, "ai", operation, message, nil)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return services.Wrap(services.ErrExternalService, "ai", operation, "decode response", err)
	}
	if completion.Error != nil {
		message := "api error: " + strings.TrimSpace(completion.Error.Message)
		return services.Wrap(services.ErrExternalService, "ai", operation, message, nil)
	}
	if len(completion.Choices) == 0 {
		return services.Wrap(services.ErrExternalService, "ai", operation, "empty choices", nil)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return services.Wrap(services.ErrExternalService, "ai", operation, "empty content", nil)
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return services.Wrap(services.ErrExternalService, "ai", operation, "parse payload", err)
	}
	return nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
