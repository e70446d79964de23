package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/cv-screener/internal/ai"
	"github.com/spigell/cv-screener/internal/documents"
	"github.com/spigell/cv-screener/internal/logger"
	"github.com/spigell/cv-screener/internal/screening"
)

// Failure kinds reported for failed sample sets.
const (
	KindMalformed = "malformed_output"
	KindInvalid   = "invalid_verdict"
	KindTransient = "transient"
	KindOther     = "other"
)

// FailureKind classifies a sampling error.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, screening.ErrMalformedOutput):
		return KindMalformed
	case errors.Is(err, screening.ErrInvalidVerdict):
		return KindInvalid
	case ai.IsTransient(err):
		return KindTransient
	default:
		return KindOther
	}
}

type loadInputs struct {
	jobPath string
	dir     string
}

// NewLoadInputs creates the stage reading the job description and candidate documents.
func NewLoadInputs() Stage {
	return &loadInputs{}
}

func (s *loadInputs) Name() string { return "load_inputs" }

func (s *loadInputs) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	s.jobPath = strings.TrimSpace(cfg.JobPath)
	s.dir = strings.TrimSpace(cfg.CandidatesDir)
	if s.jobPath == "" {
		return errors.New("job description path is required")
	}
	if s.dir == "" {
		return errors.New("candidates directory is required")
	}
	return nil
}

func (s *loadInputs) Apply(_ context.Context, deps Deps, st *State) (Step, error) {
	job, err := documents.LoadJob(s.jobPath)
	if err != nil {
		return Step{}, err
	}

	candidates, err := documents.LoadCandidates(s.dir)
	if err != nil {
		return Step{}, err
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	deps.Logger.Debug("inputs loaded",
		zap.String("job_path", s.jobPath),
		zap.Strings("candidates", ids),
	)

	st.Job = job
	st.Candidates = candidates

	return Step{Items: len(candidates)}, nil
}

type scoreCandidates struct {
	samples int
	retries int
}

// NewScoreCandidates creates the stage sampling and aggregating every candidate. It completes
// only when all candidates have an aggregated verdict.
func NewScoreCandidates() Stage {
	return &scoreCandidates{}
}

func (s *scoreCandidates) Name() string { return "score_candidates" }

func (s *scoreCandidates) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.Samples < 1 {
		return fmt.Errorf("samples must be positive, got %d", cfg.Samples)
	}
	if cfg.OutputRetries < 0 {
		return fmt.Errorf("output retries must not be negative, got %d", cfg.OutputRetries)
	}
	s.samples = cfg.Samples
	s.retries = cfg.OutputRetries
	return nil
}

func (s *scoreCandidates) Apply(ctx context.Context, deps Deps, st *State) (Step, error) {
	if deps.Sampler == nil {
		return Step{}, errors.New("sampler is required")
	}

	verdicts := make([]screening.CandidateVerdict, 0, len(st.Candidates))
	for _, candidate := range st.Candidates {
		log := deps.Logger.With(zap.String(logger.FieldCandidate, candidate.ID))

		samples, err := s.sample(ctx, deps, log, candidate, st.Job)
		if err != nil {
			return Step{}, fmt.Errorf("score %s: %w", candidate.ID, err)
		}

		aggregated, err := screening.Aggregate(samples, candidate.ID)
		if err != nil {
			return Step{}, fmt.Errorf("aggregate %s: %w", candidate.ID, err)
		}

		log.Info("candidate scored",
			zap.Float64("fit_score", roundScore(aggregated.FitScore)),
			zap.String("invite", string(aggregated.Invite)),
			zap.Strings("strengths", aggregated.Strengths),
			zap.Strings("gaps", aggregated.Gaps),
		)
		deps.Metrics.SetFitScore(candidate.ID, aggregated.FitScore)

		verdicts = append(verdicts, aggregated)
	}

	st.Verdicts = verdicts

	return Step{Items: len(verdicts)}, nil
}

func (s *scoreCandidates) sample(ctx context.Context, deps Deps, log *zap.Logger, candidate documents.Candidate, job string) ([]screening.CandidateVerdict, error) {
	for attempt := 0; ; attempt++ {
		samples, err := deps.Sampler.Sample(ctx, candidate.ID, candidate.Text, job, s.samples)
		if err == nil {
			return samples, nil
		}

		kind := FailureKind(err)
		deps.Metrics.IncSampleFailure(kind)

		if attempt >= s.retries || (kind != KindMalformed && kind != KindInvalid) {
			return nil, err
		}

		log.Warn("resampling candidate after unusable oracle output",
			zap.Int("attempt", attempt+1),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

type rank struct{}

// NewRank creates the stage synthesizing the final ranking.
func NewRank() Stage {
	return &rank{}
}

func (s *rank) Name() string { return "rank" }

func (s *rank) Validate(*Config) error { return nil }

func (s *rank) Apply(ctx context.Context, deps Deps, st *State) (Step, error) {
	if deps.Synthesizer == nil {
		return Step{}, errors.New("synthesizer is required")
	}

	result, err := deps.Synthesizer.Synthesize(ctx, st.Job, st.Verdicts)
	if err != nil {
		return Step{}, err
	}

	deps.Logger.Info("ranking synthesized",
		zap.Strings("invite", result.Recommendation.Invite),
		zap.Strings("reject", result.Recommendation.Reject),
		zap.String("top1", result.Top()),
	)

	st.Result = result

	return Step{Items: len(result.Ranking)}, nil
}

type persist struct {
	runName string
	model   string
	samples int
}

// NewPersist creates the stage writing the run document and metrics row after approval.
func NewPersist() Stage {
	return &persist{}
}

func (s *persist) Name() string { return "persist" }

func (s *persist) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	s.runName = strings.TrimSpace(cfg.RunName)
	s.model = cfg.Model
	s.samples = cfg.Samples
	if s.runName == "" {
		return errors.New("run name is required")
	}
	return nil
}

func (s *persist) Apply(ctx context.Context, deps Deps, st *State) (Step, error) {
	if deps.Store == nil {
		return Step{}, errors.New("store is required")
	}
	if err := st.Result.Validate(); err != nil {
		return Step{}, err
	}

	if deps.Approve != nil {
		ok, err := deps.Approve(ctx, st)
		if err != nil {
			return Step{}, fmt.Errorf("approval: %w", err)
		}
		if !ok {
			st.Declined = true
			deps.Logger.Info("run was not approved, nothing persisted")
			return Step{}, nil
		}
	}

	runID, err := deps.Store.Persist(st.Result, s.runName, s.model, s.samples)
	if err != nil {
		return Step{}, err
	}
	st.RunID = runID

	deps.Logger.Info("run persisted", zap.String("run_id", runID))

	return Step{Items: 1}, nil
}

func roundScore(v float64) float64 {
	return math.Round(v*1000) / 1000
}
