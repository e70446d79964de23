package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/cv-screener/internal/ai/ollama"
	"github.com/spigell/cv-screener/internal/screening"
)

const (
	app = "cv-screener"
)

type Config struct {
	Provider        string         `mapstructure:"provider"`
	Model           string         `mapstructure:"model"`
	Samples         int            `mapstructure:"samples"`
	RunName         string         `mapstructure:"run-name"`
	Concurrency     int            `mapstructure:"concurrency"`
	MaxRetries      int            `mapstructure:"max-retries"`
	OutputRetries   int            `mapstructure:"output-retries"`
	Timeout         time.Duration  `mapstructure:"timeout"`
	RecomputeInvite bool           `mapstructure:"recompute-invite"`
	RankingPolicy   string         `mapstructure:"ranking-policy"`
	RepairJSON      bool           `mapstructure:"repair-json"`
	MaxLogLength    int            `mapstructure:"max-log-length"`
	Input           *InputConfig   `mapstructure:"input"`
	Output          *OutputConfig  `mapstructure:"output"`
	Prompts         *PromptsConfig `mapstructure:"prompts"`
	Ollama          *OllamaConfig  `mapstructure:"ollama"`
	Gemini          *GeminiConfig  `mapstructure:"gemini"`
}

type InputConfig struct {
	Job string `mapstructure:"job"`
	CVs string `mapstructure:"cvs"`
}

type OutputConfig struct {
	Runs           string `mapstructure:"runs"`
	Metrics        string `mapstructure:"metrics"`
	PrometheusFile string `mapstructure:"prometheus-file"`
}

type PromptsConfig struct {
	Score string `mapstructure:"score"`
	Rank  string `mapstructure:"rank"`
}

type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "cv-screener scores résumés against a job description with a language model and ranks the candidates",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

var envBindings = map[string]string{
	"model":               "OLLAMA_MODEL",
	"samples":             "N_SAMPLES",
	"run-name":            "RUN_NAME",
	"provider":            "ORACLE_PROVIDER",
	"ollama.host":         "OLLAMA_HOST",
	"gemini.api-key-file": "GEMINI_API_KEY_FILE",
}

func init() {
	setDefaults()

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is cv-screener.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("provider", ollama.Provider)
	viper.SetDefault("model", "llama3.2")
	viper.SetDefault("samples", 5)
	viper.SetDefault("run-name", "v1")
	viper.SetDefault("concurrency", 1)
	viper.SetDefault("max-retries", 2)
	viper.SetDefault("output-retries", 0)
	viper.SetDefault("timeout", 120*time.Second)
	viper.SetDefault("recompute-invite", false)
	viper.SetDefault("ranking-policy", string(screening.PolicyStrict))
	viper.SetDefault("repair-json", false)
	viper.SetDefault("max-log-length", 512)
	viper.SetDefault("input.job", "data/job.txt")
	viper.SetDefault("input.cvs", "data/cvs")
	viper.SetDefault("output.runs", "logs/runs")
	viper.SetDefault("output.metrics", "logs/metrics.csv")
	viper.SetDefault("output.prometheus-file", "")
	viper.SetDefault("ollama.host", ollama.DefaultHost)
}

func initConfig() {
	// Values from .env never override the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// The config file is optional unless set explicitly.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errors.New("config is empty")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks the settings every run depends on.
func (c *Config) Validate() error {
	if c.Samples < 1 {
		return fmt.Errorf("samples must be positive, got %d", c.Samples)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model is required")
	}
	if strings.TrimSpace(c.RunName) == "" {
		return errors.New("run-name is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxRetries < 0 || c.OutputRetries < 0 {
		return errors.New("retries must not be negative")
	}
	if _, err := screening.ParseRankingPolicy(c.RankingPolicy); err != nil {
		return err
	}
	if c.Input == nil || c.Input.Job == "" || c.Input.CVs == "" {
		return errors.New("input.job and input.cvs are required")
	}
	if c.Output == nil || c.Output.Runs == "" || c.Output.Metrics == "" {
		return errors.New("output.runs and output.metrics are required")
	}
	if c.Prompts == nil {
		c.Prompts = &PromptsConfig{}
	}
	if c.Ollama == nil {
		c.Ollama = &OllamaConfig{Host: ollama.DefaultHost}
	}
	if c.Gemini == nil {
		c.Gemini = &GeminiConfig{}
	}
	return nil
}
