package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/candidate"
	"github.com/spigell/resume-ranker/internal/filtering"
)

func TestPrepareFiltersOrderAndDisable(t *testing.T) {
	steps := prepareFilters(&RankingConfig{MinScore: 6, MinCompanyYears: 1, DisableFilter: true})

	var names []string
	for _, s := range steps {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{filtering.DedupName, "exclude_names", "exclude_file", filtering.ThresholdName}, names)
	assert.False(t, steps[3].IsEnabled())

	low, err := candidate.New("Low", 0, 2, "Little relevant experience.")
	require.NoError(t, err)
	kept, _ := filtering.Run(steps, []candidate.Record{low})
	assert.Len(t, kept, 1)
}

func TestNewGeneratorRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{AI: &AIConfig{Provider: "bedrock"}}
	cfg.normalize()

	_, err := newGenerator(context.Background(), cfg.AI, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported ai provider")
}

func TestNewGeneratorAzureNeedsAPIVersion(t *testing.T) {
	t.Setenv("AZURE_OPENAI_API_KEY", "key")
	cfg := &Config{AI: &AIConfig{Provider: "azure", OpenAI: &OpenAIConfig{BaseURL: "https://example.openai.azure.com"}}}
	cfg.normalize()

	_, err := newGenerator(context.Background(), cfg.AI, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api-version")
}

func TestNewGeneratorOpenAIFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "key")
	cfg := &Config{AI: &AIConfig{Provider: "OpenAI", OpenAI: &OpenAIConfig{Model: "gpt-test", APIVersion: "ignored"}}}
	cfg.normalize()

	gen, err := newGenerator(context.Background(), cfg.AI, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", gen.Model())
}

func TestInvokerOptions(t *testing.T) {
	assert.Empty(t, invokerOptions(&AIConfig{}))
	assert.Len(t, invokerOptions(&AIConfig{RequestsPerMinute: 30}), 1)
}

func TestNormalizeFillsSections(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()
	require.NotNil(t, cfg.AI.Gemini)
	require.NotNil(t, cfg.Report)
	assert.Equal(t, filtering.DefaultMinScore, cfg.Ranking.MinScore)
}

func TestNewGeneratorBedrock(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", dir+"/config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", dir+"/credentials")
	t.Setenv("AWS_PROFILE", "")

	cfg := &Config{AI: &AIConfig{Provider: "bedrock", Bedrock: &BedrockConfig{Region: "us-west-2", Model: "claude-test"}}}
	cfg.normalize()

	gen, err := newGenerator(context.Background(), cfg.AI, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "claude-test", gen.Model())

	cfg.AI.Bedrock.Profile = "missing-profile"
	_, err = newGenerator(context.Background(), cfg.AI, zap.NewNop())
	require.Error(t, err)
}
