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

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-screener/internal/ai"
	"github.com/spigell/cv-screener/internal/ai/gemini"
	"github.com/spigell/cv-screener/internal/ai/ollama"
	"github.com/spigell/cv-screener/internal/logger"
	"github.com/spigell/cv-screener/internal/metrics"
	"github.com/spigell/cv-screener/internal/pipeline"
	"github.com/spigell/cv-screener/internal/runstore"
	"github.com/spigell/cv-screener/internal/screening"
	"github.com/spigell/cv-screener/internal/secrets"
)

const (
	PromptYes         = "Yes"
	PromptNo          = "No"
	PromptShowRanking = "Show ranking"
	PromptRunToFile   = "Dump run to file"
)

var prompt = promptui.Select{
	Label: "Persist this run?",
	Items: []string{PromptYes, PromptNo, PromptShowRanking, PromptRunToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Score every candidate, rank them and persist the run",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("samples", "n", 0, "scoring requests per candidate (default 5, env N_SAMPLES)")
	runCmd.Flags().String("run-name", "", "label of the run (default v1, env RUN_NAME)")
	runCmd.Flags().StringP("model", "m", "", "oracle model (default llama3.2, env OLLAMA_MODEL)")
	runCmd.Flags().BoolP("auto-approve", "y", false, "persist the run without asking for confirmation")

	for _, name := range []string{"samples", "run-name", "model"} {
		viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync() //nolint:errcheck

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the cv-screener", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	recorder := metrics.New()

	oracle, err := newOracle(ctx, config, recorder, logger)
	if err != nil {
		logger.Fatal("building the oracle", zap.Error(err))
	}

	runLogger := logWithRun(logger, config)

	sampler, synthesizer, err := newScreeners(oracle, config, runLogger)
	if err != nil {
		logger.Fatal("building the screeners", zap.Error(err))
	}

	store, err := runstore.New(config.Output.Runs, config.Output.Metrics)
	if err != nil {
		logger.Fatal("opening the run store", zap.Error(err))
	}

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")

	deps := pipeline.Deps{
		Logger:      runLogger,
		Sampler:     sampler,
		Synthesizer: synthesizer,
		Store:       store,
		Metrics:     recorder,
		Approve:     approver(autoApprove, runLogger),
	}

	cfg := &pipeline.Config{
		JobPath:       config.Input.Job,
		CandidatesDir: config.Input.CVs,
		RunName:       config.RunName,
		Model:         config.Model,
		Samples:       config.Samples,
		OutputRetries: config.OutputRetries,
	}

	state := &pipeline.State{}
	runErr := pipeline.Run(ctx, cfg, deps, pipeline.Default(), state)

	if err := recorder.WriteTextfile(config.Output.PrometheusFile); err != nil {
		logger.Warn("writing prometheus textfile", zap.Error(err))
	}

	if runErr != nil {
		// The wrapped chain is the failure reason; keep it verbatim.
		logger.Fatal("screening run failed", zap.Error(runErr))
	}

	if state.Declined {
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return
	}

	logger.Info("final ranking saved",
		zap.String("run_id", state.RunID),
		zap.String("path", store.RunPath(state.RunID)),
		zap.String("metrics", config.Output.Metrics),
	)
}

func logWithRun(l *zap.Logger, config *Config) *zap.Logger {
	return logger.WithRun(l, config.RunName, config.Model)
}

func newOracle(ctx context.Context, config *Config, recorder *metrics.Recorder, log *zap.Logger) (ai.Oracle, error) {
	provider := strings.TrimSpace(strings.ToLower(config.Provider))
	oracleLogger := logger.WithOracle(log, provider, config.Model)

	var oracle ai.Oracle
	switch provider {
	case "", ollama.Provider:
		provider = ollama.Provider
		oracle = ollama.New(ollama.Config{
			Host:    config.Ollama.Host,
			Timeout: config.Timeout,
		}, oracleLogger)
	case gemini.Provider:
		apiKey, err := secrets.Load(geminiKeySource(config))
		if err != nil {
			return nil, fmt.Errorf("%w (set gemini.api-key-file, GEMINI_API_KEY_FILE or %s)", err, geminiKeyEnv)
		}

		client, err := gemini.New(ctx, apiKey, oracleLogger)
		if err != nil {
			return nil, err
		}
		oracle = ai.WithTimeout(client, config.Timeout, gemini.Provider)
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", config.Provider)
	}

	oracle = metrics.InstrumentOracle(oracle, provider, recorder)

	return ai.WithRetry(oracle, config.MaxRetries, oracleLogger), nil
}

func newScreeners(oracle ai.Oracle, config *Config, log *zap.Logger) (*screening.Sampler, *screening.Synthesizer, error) {
	scorePrompt, err := screening.LoadPrompt(config.Prompts.Score, screening.DefaultScorePrompt())
	if err != nil {
		return nil, nil, err
	}
	rankPrompt, err := screening.LoadPrompt(config.Prompts.Rank, screening.DefaultRankPrompt())
	if err != nil {
		return nil, nil, err
	}

	sampler, err := screening.NewSampler(oracle, screening.SamplerConfig{
		Model:           config.Model,
		SystemPrompt:    scorePrompt,
		Concurrency:     config.Concurrency,
		RecomputeInvite: config.RecomputeInvite,
		Repair:          config.RepairJSON,
		MaxLogLength:    config.MaxLogLength,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("sampler: %w", err)
	}

	synthesizer, err := screening.NewSynthesizer(oracle, screening.SynthesizerConfig{
		Model:        config.Model,
		SystemPrompt: rankPrompt,
		Policy:       screening.RankingPolicy(config.RankingPolicy),
		Repair:       config.RepairJSON,
		MaxLogLength: config.MaxLogLength,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("synthesizer: %w", err)
	}

	return sampler, synthesizer, nil
}

func approver(auto bool, logger *zap.Logger) pipeline.Approver {
	return func(_ context.Context, st *pipeline.State) (bool, error) {
		logger.Info("ranking ready",
			zap.Strings("invite", st.Result.Recommendation.Invite),
			zap.Strings("reject", st.Result.Recommendation.Reject),
			zap.String("notes", st.Result.Notes),
		)

		if auto {
			return true, nil
		}

		for {
			_, action, err := prompt.Run()
			if err != nil {
				return false, err
			}

			ok, done, err := handleAction(action, logger, st.Result)
			if err != nil {
				return false, err
			}
			if done {
				return ok, nil
			}
		}
	}
}

// handleAction reports whether the prompt loop is finished and, if so, whether to persist.
func handleAction(action string, logger *zap.Logger, result *screening.RunResult) (bool, bool, error) {
	switch action {
	case PromptYes:
		return true, true, nil
	case PromptNo:
		return false, true, nil
	case PromptShowRanking:
		for i, entry := range result.Ranking {
			logger.Info(fmt.Sprintf("#%d %s", i+1, entry.CandidateID),
				zap.Float64("fit_score", entry.FitScore),
				zap.String("invite", string(entry.Invite)),
				zap.Strings("strengths", entry.Strengths),
				zap.Strings("gaps", entry.Gaps),
				zap.String("reason", entry.Reason),
			)
		}
		return false, false, nil
	case PromptRunToFile:
		filename, err := dumpToTmpFile(result)
		if err != nil {
			return false, false, fmt.Errorf("dump run to file: %w", err)
		}
		logger.Info("dumping run to file", zap.String("filename", filename))
		return false, false, nil
	default:
		return false, false, fmt.Errorf("invalid action: %s", action)
	}
}

func dumpToTmpFile(result *screening.RunResult) (string, error) {
	file, err := os.CreateTemp("", app+"_run_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return "", err
	}

	return file.Name(), nil
}

func redacted(config *Config) *Config {
	if config == nil || config.Gemini == nil || config.Gemini.APIKey == "" {
		return config
	}
	clone := *config
	gem := *config.Gemini
	gem.APIKey = "***"
	clone.Gemini = &gem
	return &clone
}

var errNoRuns = errors.New("no persisted runs found")

const geminiKeyEnv = "GEMINI_API_KEY"

// geminiKeySource prefers the key file, then the inline config value, then GEMINI_API_KEY.
func geminiKeySource(config *Config) secrets.Source {
	return secrets.Source{
		Name:  "gemini api key",
		File:  config.Gemini.APIKeyFile,
		Value: config.Gemini.APIKey,
		Env:   geminiKeyEnv,
	}
}
