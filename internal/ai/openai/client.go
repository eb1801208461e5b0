// Package openai talks to OpenAI-compatible chat completion endpoints,
// including Azure OpenAI deployments.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/logger"
)

const (
	ProviderName      = "openai"
	AzureProviderName = "azure"

	DefaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o"
	defaultTimeout      = 120 * time.Second
	defaultMaxRetryWait = 30 * time.Second
	maxErrorBody        = 2048
)

// Config selects the endpoint. A non-empty APIVersion switches to the Azure
// URL layout, where Model is the deployment name and the key goes into the
// api-key header.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	APIVersion   string
	Temperature  float64
	Timeout      time.Duration
	MaxRetryWait time.Duration
	HTTPClient   *http.Client
}

// Client implements ai.Generator over the chat completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		if cfg.isAzure() {
			return nil, errors.New("azure openai requires a base url")
		}
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = defaultMaxRetryWait
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	provider := ProviderName
	if cfg.isAzure() {
		provider = AzureProviderName
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.WithCommonFields(log, provider, cfg.Model),
	}, nil
}

func (c Config) isAzure() bool {
	return strings.TrimSpace(c.APIVersion) != ""
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.cfg.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
	Messages       []chatMessage  `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate asks for a JSON object holding a "candidates" array shaped by schema.
func (c *Client) Generate(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	if c == nil || c.httpClient == nil {
		return "", ai.Permanent(errors.New("openai client is not initialized"))
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ai.Permanent(errors.New("prompt must not be empty"))
	}

	system := "Return ONLY a JSON object of the form {\"candidates\": [...]}."
	if len(schema) > 0 {
		b, err := json.Marshal(schema)
		if err != nil {
			return "", ai.Permanent(fmt.Errorf("marshal schema: %w", err))
		}
		system += " The candidates array must match this JSON Schema:\n" + string(b)
	}

	body := chatRequest{
		Temperature:    c.cfg.Temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	if !c.cfg.isAzure() {
		body.Model = c.cfg.Model
	}

	raw, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in openai response")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", ai.Permanent(errors.New("openai response was blocked by the content filter"))
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", errors.New("openai returned empty response")
	}

	return content, nil
}

func (c *Client) endpoint() string {
	if c.cfg.isAzure() {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.cfg.BaseURL, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIVersion))
	}
	return c.cfg.BaseURL + "/chat/completions"
}

func (c *Client) post(ctx context.Context, body chatRequest) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, ai.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(b))
	if err != nil {
		return nil, ai.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.isAzure() {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("openai response body close error", zap.Error(err))
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}

	c.logger.Debug("openai response received",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classify(resp, raw)
	}

	return raw, nil
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("openai status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openai status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) classify(resp *http.Response, raw []byte) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		statusErr.Message = parsed.Error.Message
		if parsed.Error.Code != nil {
			statusErr.Code = fmt.Sprint(parsed.Error.Code)
		}
	} else {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		statusErr.Message = msg
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if statusErr.Code == "insufficient_quota" {
			return ai.Permanent(statusErr)
		}
		hint := retryAfter(resp.Header)
		if hint > c.cfg.MaxRetryWait {
			c.logger.Warn("openai rate limit delay exceeds retry budget",
				zap.Duration("retry_after", hint),
				zap.Duration("max_retry_wait", c.cfg.MaxRetryWait),
			)
			return ai.Permanent(statusErr)
		}
		if hint > 0 {
			return &ai.RetryAfterError{Err: statusErr, After: hint}
		}
		return statusErr
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusConflict:
		return statusErr
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ai.Permanent(statusErr)
	default:
		return statusErr
	}
}

// retryAfter reads Retry-After (seconds or HTTP date) and the millisecond
// variant some OpenAI-compatible servers send.
func retryAfter(h http.Header) time.Duration {
	if ms := strings.TrimSpace(h.Get("retry-after-ms")); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
	}

	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
