package cmd

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "resume-ranker"
)

type Config struct {
	Input       string         `mapstructure:"input"`
	Output      string         `mapstructure:"output"`
	Concurrency int            `mapstructure:"concurrency"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Converter   string         `mapstructure:"converter"`
	Cache       *CacheConfig   `mapstructure:"cache"`
	AI          *AIConfig      `mapstructure:"ai"`
	Ranking     *RankingConfig `mapstructure:"ranking"`
	Report      *ReportConfig  `mapstructure:"report"`
}

type CacheConfig struct {
	OnCorrupt string `mapstructure:"on-corrupt"`
}

type AIConfig struct {
	Provider          string         `mapstructure:"provider"`
	MaxRetries        int            `mapstructure:"max-retries"`
	InitialDelay      time.Duration  `mapstructure:"initial-delay"`
	RequestsPerMinute int            `mapstructure:"requests-per-minute"`
	MaxLogLength      int            `mapstructure:"max-log-length"`
	MaxRetryWait      time.Duration  `mapstructure:"max-retry-wait"`
	PromptFile        string         `mapstructure:"prompt-file"`
	Gemini            *GeminiConfig  `mapstructure:"gemini"`
	OpenAI            *OpenAIConfig  `mapstructure:"openai"`
	Bedrock           *BedrockConfig `mapstructure:"bedrock"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	BaseURL    string `mapstructure:"base-url"`
	Model      string `mapstructure:"model"`
	APIVersion string `mapstructure:"api-version"`
}

type BedrockConfig struct {
	Region    string `mapstructure:"region"`
	Profile   string `mapstructure:"profile"`
	Model     string `mapstructure:"model"`
	MaxTokens int32  `mapstructure:"max-tokens"`
}

type RankingConfig struct {
	MinScore        int      `mapstructure:"min-score"`
	MinCompanyYears int      `mapstructure:"min-company-years"`
	DisableFilter   bool     `mapstructure:"disable-filter"`
	ExcludeFile     string   `mapstructure:"exclude-file"`
	Exclude         []string `mapstructure:"exclude"`
}

type ReportConfig struct {
	Format string `mapstructure:"format"`
	XLSX   string `mapstructure:"xlsx"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "resume-ranker converts resumes to text, scores them with a language model and ranks the candidates",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("loading .env file: %v", err)
	}

	bindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE")
	bindEnv("ai.openai.api-key-file", "OPENAI_API_KEY_FILE")

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is resume-ranker.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func bindEnv(key, env string) {
	if err := viper.BindEnv(key, env); err != nil {
		log.Fatalf("binding %s environment variable: %v", env, err)
	}
}

func setDefaults() {
	viper.SetDefault("input", "./resumes")
	viper.SetDefault("output", "./resume_analysis_results")
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("timeout", time.Duration(0))
	viper.SetDefault("converter", "auto")
	viper.SetDefault("cache.on-corrupt", "recompute")
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.max-retries", 3)
	viper.SetDefault("ai.initial-delay", time.Second)
	viper.SetDefault("ai.requests-per-minute", 0)
	viper.SetDefault("ai.max-log-length", 200)
	viper.SetDefault("ai.max-retry-wait", 30*time.Second)
	viper.SetDefault("ai.gemini.model", "gemini-2.5-pro")
	viper.SetDefault("ai.openai.model", "gpt-4o")
	viper.SetDefault("ai.bedrock.region", "us-east-1")
	viper.SetDefault("ai.bedrock.model", "us.anthropic.claude-sonnet-4-20250514-v1:0")
	viper.SetDefault("ai.bedrock.max-tokens", 4096)
	viper.SetDefault("ranking.min-score", 6)
	viper.SetDefault("ranking.min-company-years", 1)
	viper.SetDefault("report.format", "text")
}

func initConfig() {
	// Config is needed only for the run command.
	if runCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// Every setting has a default, so a missing default config file is fine.
	// An explicit --config or an unparseable file is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
