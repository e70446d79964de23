package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/cv-screener/internal/logger"
	"github.com/spigell/cv-screener/internal/runstore"
)

var showCmd = &cobra.Command{
	Use:   "show [run-file]",
	Short: "Print a persisted run, choosing it interactively when no file is given",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		show(args)
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func show(args []string) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	store, err := runstore.New(config.Output.Runs, config.Output.Metrics)
	if err != nil {
		logger.Fatal("opening the run store", zap.Error(err))
	}

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		path, err = pickRun(store)
		if err != nil {
			logger.Fatal("choosing a run", zap.Error(err))
		}
	}

	result, err := runstore.LoadRun(path)
	if err != nil {
		logger.Fatal("loading the run", zap.Error(err))
	}

	if err := result.Validate(); err != nil {
		logger.Warn("persisted run is inconsistent", zap.Error(err))
	}

	pretty, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(os.Stdout, string(pretty))

	rows, err := store.ReadMetrics()
	if err != nil {
		logger.Warn("reading metrics", zap.Error(err))
		return
	}
	for _, row := range rows {
		if fmt.Sprintf("%s_%d", row.Run, row.Timestamp) == runIDFromPath(path) {
			logger.Info("run metrics",
				zap.String("run", row.Run),
				zap.String("model", row.Model),
				zap.Int("n_samples", row.Samples),
				zap.Int("invites", row.Invites),
				zap.String("top1", row.Top1),
				zap.Int64("ts", row.Timestamp),
			)
		}
	}
}

func pickRun(store *runstore.Store) (string, error) {
	runs, err := store.ListRuns()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("%w in %s", errNoRuns, store.RunsDir())
	}

	items := make([]string, 0, len(runs))
	for _, r := range runs {
		items = append(items, fmt.Sprintf("%s (%s)", r.ID, r.ModTime.Format("2006-01-02 15:04:05")))
	}

	runPrompt := promptui.Select{
		Label: "Choose a run and press ENTER",
		Items: items,
		Size:  10,
	}

	idx, _, err := runPrompt.Run()
	if err != nil {
		return "", err
	}

	return runs[idx].Path, nil
}

func runIDFromPath(path string) string {
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	return strings.TrimSuffix(base, ".json")
}
