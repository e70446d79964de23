package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-screener/internal/documents"
	"github.com/spigell/cv-screener/internal/metrics"
	"github.com/spigell/cv-screener/internal/screening"
)

// Stage represents a single step of a screening run.
type Stage interface {
	Name() string

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, st *State) (Step, error)
}

// Sampler produces the verdicts of one candidate.
type Sampler interface {
	Sample(ctx context.Context, candidateID, candidateText, jobText string, n int) ([]screening.CandidateVerdict, error)
}

// Synthesizer ranks the aggregated verdicts of a run.
type Synthesizer interface {
	Synthesize(ctx context.Context, jobText string, aggregated []screening.CandidateVerdict) (*screening.RunResult, error)
}

// Persister stores a finished run.
type Persister interface {
	Persist(result *screening.RunResult, runName, model string, samples int) (string, error)
}

// Approver decides whether a finished run is persisted.
type Approver func(ctx context.Context, st *State) (bool, error)

// Deps aggregates dependencies shared across all stages.
type Deps struct {
	Logger      *zap.Logger
	Sampler     Sampler
	Synthesizer Synthesizer
	Store       Persister
	Metrics     *metrics.Recorder
	Approve     Approver
}

// Config contains the run settings consumed by the stages.
type Config struct {
	JobPath       string
	CandidatesDir string
	RunName       string
	Model         string
	Samples       int
	// OutputRetries re-samples a candidate whose sample set failed on malformed or invalid
	// oracle output.
	OutputRetries int
}

// State is carried from stage to stage.
type State struct {
	Job        string
	Candidates []documents.Candidate
	Verdicts   []screening.CandidateVerdict
	Result     *screening.RunResult
	RunID      string
	Declined   bool
}

// Step describes the result of executing a stage.
type Step struct {
	Items int
}

// Default returns the stages of a full screening run in execution order.
func Default() []Stage {
	return []Stage{
		NewLoadInputs(),
		NewScoreCandidates(),
		NewRank(),
		NewPersist(),
	}
}

// Run validates every stage and then executes them in order. Any failure stops the run.
func Run(ctx context.Context, cfg *Config, deps Deps, stages []Stage, st *State) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if st == nil {
		return errors.New("state is nil")
	}

	for _, stage := range stages {
		if err := stage.Validate(cfg); err != nil {
			return fmt.Errorf("%s: %w", stage.Name(), err)
		}
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			deps.Metrics.IncRun(metrics.OutcomeError)
			return fmt.Errorf("%s: %w", stage.Name(), err)
		}

		start := time.Now()
		info, err := stage.Apply(ctx, deps, st)
		elapsed := time.Since(start)
		deps.Metrics.ObserveStage(stage.Name(), err, elapsed)
		if err != nil {
			deps.Metrics.IncRun(metrics.OutcomeError)
			return fmt.Errorf("%s: %w", stage.Name(), err)
		}

		deps.Logger.Info("pipeline stage",
			zap.String("name", stage.Name()),
			zap.Int("items", info.Items),
			zap.Duration("duration", elapsed),
		)
	}

	if st.Declined {
		deps.Metrics.IncRun(metrics.OutcomeDeclined)
		return nil
	}
	deps.Metrics.IncRun(metrics.OutcomeSuccess)

	return nil
}
