package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/logger"
)

const (
	ProviderName = "gemini"

	defaultModel        = "gemini-2.5-pro"
	defaultMaxRetryWait = 30 * time.Second
)

var retryHintPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*(ms|s|sec|secs|seconds?)?\b`)

// Config holds everything needed to talk to the Gemini API.
type Config struct {
	APIKey string
	Model  string
	// MaxRetryWait is the longest server-suggested delay still worth waiting for.
	MaxRetryWait time.Duration
	Temperature  float32
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator implements ai.Generator on top of the Google GenAI client.
type Generator struct {
	models       contentGenerator
	model        string
	maxRetryWait time.Duration
	temperature  float32
	logger       *zap.Logger
}

// NewGenerator creates a Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, cfg Config, log *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGenerator(client.Models, cfg, log), nil
}

func newGenerator(models contentGenerator, cfg Config, log *zap.Logger) *Generator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	maxWait := cfg.MaxRetryWait
	if maxWait <= 0 {
		maxWait = defaultMaxRetryWait
	}

	return &Generator{
		models:       models,
		model:        model,
		maxRetryWait: maxWait,
		temperature:  cfg.Temperature,
		logger:       logger.WithCommonFields(log, ProviderName, model),
	}
}

// Generate sends the prompt to Gemini asking for JSON that follows schema and
// returns the text of the first candidate.
func (g *Generator) Generate(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	if g == nil || g.models == nil {
		return "", ai.Permanent(errors.New("gemini generator is not initialized"))
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ai.Permanent(errors.New("prompt must not be empty"))
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      ptr(g.temperature),
	}
	if len(schema) > 0 {
		config.ResponseSchema = toGenaiSchema(schema)
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", g.classify(err)
	}

	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", ai.Permanent(fmt.Errorf("gemini blocked the prompt: %s", resp.PromptFeedback.BlockReason))
	}

	output := responseText(resp)
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	return output, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
		// Only the first usable candidate is returned.
		if builder.Len() > 0 {
			break
		}
	}

	return strings.TrimSpace(builder.String())
}

// classify tags API errors that retrying cannot fix. Transport errors stay
// retryable.
func (g *Generator) classify(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return fmt.Errorf("generate content: %w", err)
	}

	wrapped := fmt.Errorf("generate content: %w", err)
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		hint := retryHint(apiErr)
		if hint > g.maxRetryWait {
			g.logger.Warn("gemini quota delay exceeds retry budget",
				zap.Duration("retry_after", hint),
				zap.Duration("max_retry_wait", g.maxRetryWait),
			)
			return ai.Permanent(wrapped)
		}
		if hint > 0 {
			return &ai.RetryAfterError{Err: wrapped, After: hint}
		}
		return wrapped
	case apiErr.Code == http.StatusRequestTimeout:
		return wrapped
	case apiErr.Code >= 400 && apiErr.Code < 500:
		return ai.Permanent(wrapped)
	default:
		return wrapped
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

// retryHint reads the suggested delay from a RetryInfo detail or, failing
// that, from the error message.
func retryHint(apiErr genai.APIError) time.Duration {
	for _, detail := range apiErr.Details {
		raw, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
			return d
		}
	}

	match := retryHintPattern.FindStringSubmatch(apiErr.Message)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(match[2], "ms") {
		return time.Duration(value * float64(time.Millisecond))
	}
	return time.Duration(value * float64(time.Second))
}

// toGenaiSchema converts a JSON schema map into the subset genai understands.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		out.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if lo, ok := number(schema["minimum"]); ok {
		out.Minimum = ptr(lo)
	}
	if hi, ok := number(schema["maximum"]); ok {
		out.Maximum = ptr(hi)
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGenaiSchema(items)
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGenaiSchema(prop)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		out.Required = append([]string(nil), required...)
		out.PropertyOrdering = append([]string(nil), required...)
	} else if len(out.Properties) > 0 {
		for name := range out.Properties {
			out.PropertyOrdering = append(out.PropertyOrdering, name)
		}
		sort.Strings(out.PropertyOrdering)
	}

	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func ptr[T any](v T) *T {
	return &v
}
