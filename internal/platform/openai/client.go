package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slidesmith/deckgen-backend/internal/platform/httpx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

// Client is the LLM provider surface the pipeline stage functions depend on.
// Stage functions own validation of whatever comes back; the client only
// guarantees transport, retries and JSON decoding of the envelope.
type Client interface {
	// GenerateJSON runs a chat completion constrained to a JSON schema and
	// returns the decoded object.
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)

	// GenerateText runs a plain chat completion.
	GenerateText(ctx context.Context, system string, user string) (string, error)
}

type Options struct {
	APIKey     string
	BaseURL    string // default https://api.openai.com/v1
	Model      string // default gpt-4o-mini
	MaxRetries int    // default 3
	Timeout    time.Duration
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
}

func NewClient(log *logger.Logger, opts Options) (Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &client{
		log:        log.With("component", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		model:      model,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("openai: status=%d %s", e.Status, e.Message)
}

func (e *apiError) HTTPStatusCode() int { return e.Status }

func (c *client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"strict": true,
				"schema": schema,
			},
		},
	}
	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("openai: decode %s response: %w", schemaName, err)
	}
	return out, nil
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	return c.complete(ctx, req)
}

func (c *client) complete(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		content, retryable, retryAfter, err := c.completeOnce(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable || attempt == c.maxRetries {
			break
		}
		sleep := httpx.JitterSleep(time.Duration(attempt) * time.Second)
		if retryAfter > sleep {
			// The server asked for a longer pause (429 Retry-After).
			sleep = retryAfter
		}
		c.log.Warn("OpenAI call failed; retrying", "attempt", attempt, "sleep", sleep, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleep):
		}
	}
	return "", lastErr
}

func (c *client) completeOnce(ctx context.Context, body []byte) (string, bool, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", httpx.IsRetryableError(err), 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		retryAfter := httpx.RetryAfterDuration(resp, 0, 30*time.Second)
		return "", httpx.IsRetryableHTTPStatus(resp.StatusCode), retryAfter, apiErr
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", false, 0, fmt.Errorf("openai: decode envelope: %w", err)
	}
	if decoded.Error != nil {
		return "", false, 0, fmt.Errorf("openai: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", false, 0, fmt.Errorf("openai: empty choices")
	}
	return decoded.Choices[0].Message.Content, false, 0, nil
}
