// Package bedrock runs prompts through the AWS Bedrock Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/logger"
)

const (
	ProviderName = "bedrock"

	defaultModel     = "us.anthropic.claude-sonnet-4-20250514-v1:0"
	defaultRegion    = "us-east-1"
	defaultMaxTokens = 4096

	toolName = "record_candidates"
)

// retryableCodes are client fault codes still worth another attempt.
var retryableCodes = map[string]struct{}{
	"ThrottlingException":         {},
	"ModelTimeoutException":       {},
	"ModelNotReadyException":      {},
	"ServiceUnavailableException": {},
	"InternalServerException":     {},
}

// Config selects the model and the AWS account. Credentials come from the
// default AWS chain (environment, shared config, instance role).
type Config struct {
	Region      string
	Profile     string
	Model       string
	MaxTokens   int32
	Temperature float32
}

type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements ai.Generator over Converse with a forced tool call, so
// the answer arrives as structured JSON.
type Client struct {
	api         converser
	model       string
	maxTokens   int32
	temperature float32
	logger      *zap.Logger
}

func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile := strings.TrimSpace(cfg.Profile); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		// ai.Invoker owns retries.
		o.RetryMaxAttempts = 1
	})

	return newClient(api, cfg, log), nil
}

func newClient(api converser, cfg Config, log *zap.Logger) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		api:         api,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      logger.WithCommonFields(log, ProviderName, model),
	}
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Generate forces a call of a single tool whose input is {"candidates": schema}
// and returns that input as JSON. A plain text answer is returned as is.
func (c *Client) Generate(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	if c == nil || c.api == nil {
		return "", ai.Permanent(errors.New("bedrock client is not initialized"))
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ai.Permanent(errors.New("prompt must not be empty"))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.maxTokens),
			Temperature: aws.Float32(c.temperature),
		},
	}
	if len(schema) > 0 {
		input.ToolConfig = toolConfig(schema)
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return "", c.classify(err)
	}

	switch out.StopReason {
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return "", ai.Permanent(fmt.Errorf("bedrock blocked the response: %s", out.StopReason))
	case types.StopReasonMaxTokens:
		c.logger.Warn("bedrock response hit the token limit", zap.Int32("max_tokens", c.maxTokens))
	}

	text, err := responseText(out)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("bedrock returned empty response")
	}

	return text, nil
}

func toolConfig(schema map[string]any) *types.ToolConfiguration {
	wrapped := map[string]any{
		"type":       "object",
		"properties": map[string]any{"candidates": schema},
		"required":   []string{"candidates"},
	}

	return &types.ToolConfiguration{
		Tools: []types.Tool{&types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(toolName),
			Description: aws.String("Record every candidate evaluated in the resume."),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(wrapped)},
		}}},
		ToolChoice: &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(toolName)}},
	}
}

func responseText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", nil
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", nil
	}

	var builder strings.Builder
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberToolUse:
			if b.Value.Input == nil {
				continue
			}
			raw, err := b.Value.Input.MarshalSmithyDocument()
			if err != nil {
				return "", fmt.Errorf("decode tool input: %w", err)
			}
			return strings.TrimSpace(string(raw)), nil
		case *types.ContentBlockMemberText:
			builder.WriteString(b.Value)
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

// classify tags client faults that retrying cannot fix. Throttling and
// server faults stay retryable, as do transport errors.
func (c *Client) classify(err error) error {
	wrapped := fmt.Errorf("converse: %w", err)

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return wrapped
	}
	if _, ok := retryableCodes[apiErr.ErrorCode()]; ok {
		return wrapped
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return ai.Permanent(wrapped)
	}
	return wrapped
}
