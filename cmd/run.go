package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/ai/bedrock"
	"github.com/spigell/resume-ranker/internal/ai/gemini"
	"github.com/spigell/resume-ranker/internal/ai/openai"
	"github.com/spigell/resume-ranker/internal/batch"
	"github.com/spigell/resume-ranker/internal/converter"
	"github.com/spigell/resume-ranker/internal/filtering"
	"github.com/spigell/resume-ranker/internal/logger"
	"github.com/spigell/resume-ranker/internal/pipeline"
	"github.com/spigell/resume-ranker/internal/report"
	"github.com/spigell/resume-ranker/internal/secrets"
	"github.com/spigell/resume-ranker/internal/staging"
)

const (
	PromptExit             = "Exit"
	PromptBack             = "back"
	PromptReportByBand     = "Report by score band"
	PromptExcludeManually  = "Exclude candidates in manual mode"
	PromptCandidatesToFile = "Dump candidates to file"
	PromptExportXLSX       = "Export ranking to XLSX"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptExit, PromptReportByBand, PromptExcludeManually, PromptCandidatesToFile, PromptExportXLSX},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze resumes and print the ranked candidates",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("input", "i", "", "file or directory with resumes")
	runCmd.Flags().StringP("output", "o", "", "directory for converted text and analysis artifacts")
	runCmd.Flags().IntP("concurrency", "c", 0, "number of documents processed in parallel")
	runCmd.Flags().Duration("timeout", 0, "abort the whole run after this duration (0 disables)")
	runCmd.Flags().String("converter", "", "document converter: auto, pdf or text")
	runCmd.Flags().StringP("provider", "p", "", "language model provider: gemini, openai, azure or bedrock")
	runCmd.Flags().Int("max-retries", 0, "retries per document after the first model call")
	runCmd.Flags().Int("requests-per-minute", 0, "limit model calls across all documents (0 disables)")
	runCmd.Flags().String("prompt-file", "", "custom prompt template containing "+ai.Placeholder)
	runCmd.Flags().Int("min-score", 0, "minimum AI/ML score to keep a candidate")
	runCmd.Flags().Int("min-company-years", 0, "keep candidates with more years than this at well-known companies")
	runCmd.Flags().Bool("disable-filter", false, "keep every deduplicated candidate regardless of score and experience")
	runCmd.Flags().StringP("exclude-file", "e", "", "file with candidate names to exclude, one per line")
	runCmd.Flags().StringP("format", "f", "", "report format: text, json or yaml")
	runCmd.Flags().String("xlsx", "", "also write the ranking to this XLSX file")
	runCmd.Flags().Bool("interactive", false, "ask for follow-up actions after the report")

	for key, flag := range map[string]string{
		"input":                     "input",
		"output":                    "output",
		"concurrency":               "concurrency",
		"timeout":                   "timeout",
		"converter":                 "converter",
		"ai.provider":               "provider",
		"ai.max-retries":            "max-retries",
		"ai.requests-per-minute":    "requests-per-minute",
		"ai.prompt-file":            "prompt-file",
		"ranking.min-score":         "min-score",
		"ranking.min-company-years": "min-company-years",
		"ranking.disable-filter":    "disable-filter",
		"ranking.exclude-file":      "exclude-file",
		"report.format":             "format",
		"report.xlsx":               "xlsx",
	} {
		viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	runID := uuid.NewString()

	base, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	zlog := logger.WithRunID(base, runID)

	config, err := getConfig()
	if err != nil {
		zlog.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		zlog.Fatal("config is required")
	}
	config.normalize()

	zlog.Info("starting the resume-ranker", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	zlog.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	conv, exts, err := converter.New(config.Converter)
	if err != nil {
		zlog.Fatal("creating a converter", zap.Error(err))
	}

	paths, err := converter.Discover(config.Input, exts)
	if err != nil {
		zlog.Fatal("discovering documents", zap.Error(err), zap.String("input", config.Input))
	}
	if len(paths) == 0 {
		zlog.Info("exiting", zap.String("reason", "no documents found"), zap.String("input", config.Input), zap.Strings("extensions", exts))
		return
	}
	zlog.Info("found documents", zap.Int("count", len(paths)), zap.String("output", config.Output))

	cache, err := staging.New(staging.Config{
		Dir:       config.Output,
		OnCorrupt: staging.CorruptPolicy(strings.ToLower(strings.TrimSpace(config.Cache.OnCorrupt))),
	}, zlog)
	if err != nil {
		zlog.Fatal("creating the artifact cache", zap.Error(err))
	}

	prompts, err := ai.LoadPromptBuilder(config.AI.PromptFile)
	if err != nil {
		zlog.Fatal("loading the prompt template", zap.Error(err))
	}

	generator, err := newGenerator(ctx, config.AI, zlog)
	if err != nil {
		zlog.Fatal("creating the model backend", zap.Error(err))
	}

	invoker := ai.NewInvoker(generator, ai.RetryConfig{
		MaxRetries:   config.AI.MaxRetries,
		InitialDelay: config.AI.InitialDelay,
		MaxLogLength: config.AI.MaxLogLength,
	}, zlog, invokerOptions(config.AI)...)

	steps := prepareFilters(config.Ranking)
	for _, status := range filtering.Describe(steps) {
		zlog.Debug("ranking step", zap.String("name", status.Name), zap.Bool("enabled", status.Enabled),
			zap.String("reason", status.Reason), zap.Any("details", status.Details))
	}

	proc := pipeline.New(conv, cache, invoker, prompts, zlog)
	agg := batch.New(proc, batch.Config{Concurrency: config.Concurrency, Steps: steps}, zlog)

	result, err := agg.Run(ctx, paths)
	if err != nil {
		zlog.Fatal("ranking failed", zap.Error(err))
	}

	doc := report.NewDocument(result, runID)
	if err := report.Render(os.Stdout, config.Report.Format, doc); err != nil {
		zlog.Fatal("rendering the report", zap.Error(err))
	}
	if config.Report.XLSX != "" {
		if err := report.XLSX(config.Report.XLSX, doc); err != nil {
			zlog.Fatal("writing the xlsx report", zap.Error(err))
		}
		zlog.Info("xlsx report written", zap.String("filename", config.Report.XLSX))
	}
	zlog.Info("analysis files saved", zap.String("output", cache.Dir()))

	interactive, _ := cmd.Flags().GetBool("interactive")
	if !interactive || len(doc.Candidates) == 0 {
		return
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			zlog.Fatal("exiting", zap.Error(err))
		}

		if err := handleAction(action, zlog, config, &doc); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			zlog.Fatal("exiting", zap.Error(err))
		}
	}
}

func (c *Config) normalize() {
	if c.Cache == nil {
		c.Cache = &CacheConfig{}
	}
	if c.AI == nil {
		c.AI = &AIConfig{}
	}
	if c.AI.Gemini == nil {
		c.AI.Gemini = &GeminiConfig{}
	}
	if c.AI.OpenAI == nil {
		c.AI.OpenAI = &OpenAIConfig{}
	}
	if c.AI.Bedrock == nil {
		c.AI.Bedrock = &BedrockConfig{}
	}
	if c.Ranking == nil {
		c.Ranking = &RankingConfig{MinScore: filtering.DefaultMinScore, MinCompanyYears: filtering.DefaultMinCompanyYears}
	}
	if c.Report == nil {
		c.Report = &ReportConfig{}
	}
}

func handleAction(action string, zlog *zap.Logger, config *Config, doc *report.Document) error {
	switch action {
	case PromptExit:
		zlog.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	case PromptReportByBand:
		for _, band := range report.ByScoreBand(doc.Candidates) {
			names := make([]string, 0, len(band.Candidates))
			for _, c := range band.Candidates {
				names = append(names, c.Name)
			}
			zlog.Info(fmt.Sprintf("score %d-%d (%s)", band.Min, band.Max, band.Label), zap.Strings("candidates", names))
		}
		return nil
	case PromptExcludeManually:
		return manualExclude(zlog, config, doc)
	case PromptCandidatesToFile:
		filename, err := report.DumpToTmpFile(*doc)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		zlog.Info("dumping result to file", zap.String("filename", filename))
		return nil
	case PromptExportXLSX:
		pathPrompt := promptui.Prompt{Label: "XLSX file", Default: "ranking.xlsx"}
		path, err := pathPrompt.Run()
		if err != nil {
			return err
		}
		if err := report.XLSX(strings.TrimSpace(path), *doc); err != nil {
			return err
		}
		zlog.Info("xlsx report written", zap.String("filename", path))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// manualExclude lets the user drop candidates from the ranking and remember
// them in the exclude file for later runs.
func manualExclude(zlog *zap.Logger, config *Config, doc *report.Document) error {
	excludeFile := strings.TrimSpace(config.Ranking.ExcludeFile)

	for {
		if len(doc.Candidates) == 0 {
			return nil
		}

		items := make([]string, 0, len(doc.Candidates)+1)
		for i, c := range doc.Candidates {
			items = append(items, fmt.Sprintf("%d. %s / score %d / %d years", i+1, c.Name, c.Score, c.CompanyExperienceYears))
		}

		candidatePrompt := promptui.Select{
			Label: "Choose a candidate to exclude and press ENTER",
			Items: append(items, PromptBack),
		}

		idx, selected, err := candidatePrompt.Run()
		if err != nil {
			return err
		}
		if selected == PromptBack {
			return nil
		}

		excluded := doc.Candidates[idx]
		if excludeFile != "" {
			if err := filtering.AppendNames(excludeFile, []string{excluded.Name}); err != nil {
				return fmt.Errorf("append to exclude file: %w", err)
			}
			zlog.Info("appended to exclude file", zap.String("filename", excludeFile), zap.String("candidate", excluded.Name))
		}

		kept, _ := filtering.NewExcludeNames([]string{excluded.Name}).Apply(doc.Candidates)
		doc.Candidates = kept
		doc.Summary.Ranked = len(kept)
	}
}

func newGenerator(ctx context.Context, cfg *AIConfig, zlog *zap.Logger) (ai.Generator, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))

	switch provider {
	case "", gemini.ProviderName:
		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: cfg.Gemini.APIKeyFile,
			Env:  "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
		}
		return gemini.NewGenerator(ctx, gemini.Config{
			APIKey:       apiKey,
			Model:        cfg.Gemini.Model,
			MaxRetryWait: cfg.MaxRetryWait,
		}, zlog)
	case openai.ProviderName, openai.AzureProviderName:
		env := "OPENAI_API_KEY"
		if provider == openai.AzureProviderName {
			env = "AZURE_OPENAI_API_KEY"
		}
		apiKey, err := secrets.Load(secrets.Source{
			Name: provider + " api key",
			File: cfg.OpenAI.APIKeyFile,
			Env:  env,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openai.api-key-file, OPENAI_API_KEY_FILE or %s)", err, env)
		}
		apiVersion := cfg.OpenAI.APIVersion
		if provider == openai.AzureProviderName && apiVersion == "" {
			return nil, errors.New("azure provider requires ai.openai.api-version")
		}
		if provider == openai.ProviderName {
			apiVersion = ""
		}
		return openai.New(openai.Config{
			APIKey:       apiKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.OpenAI.Model,
			APIVersion:   apiVersion,
			MaxRetryWait: cfg.MaxRetryWait,
		}, zlog)
	case bedrock.ProviderName:
		return bedrock.New(ctx, bedrock.Config{
			Region:    cfg.Bedrock.Region,
			Profile:   cfg.Bedrock.Profile,
			Model:     cfg.Bedrock.Model,
			MaxTokens: cfg.Bedrock.MaxTokens,
		}, zlog)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

func invokerOptions(cfg *AIConfig) []ai.InvokerOption {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	return []ai.InvokerOption{ai.WithRateLimiter(limiter)}
}

func prepareFilters(cfg *RankingConfig) []filtering.Filter {
	steps := []filtering.Filter{
		filtering.NewDedup(),
		filtering.NewExcludeNames(cfg.Exclude),
		filtering.NewExcludeFile(cfg.ExcludeFile),
		filtering.NewThreshold(cfg.MinScore, cfg.MinCompanyYears),
	}

	if cfg.DisableFilter {
		filtering.DisableByName(steps, filtering.ThresholdName, "disabled via ranking.disable-filter")
	}

	return steps
}
