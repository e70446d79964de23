package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/cv-screener/internal/ai"
	"github.com/spigell/cv-screener/internal/logger"
	"github.com/spigell/cv-screener/internal/utils"
)

const defaultMaxLogLength = 512

// SamplerConfig controls how a Sampler queries the oracle.
type SamplerConfig struct {
	Model        string
	SystemPrompt string
	// Concurrency bounds the in-flight requests per candidate. Values below 1 mean sequential.
	Concurrency int
	// RecomputeInvite overwrites the oracle's invite with the decision implied by fit_score.
	RecomputeInvite bool
	Repair          bool
	MaxLogLength    int
}

// Sampler issues repeated scoring requests for one candidate.
type Sampler struct {
	oracle    ai.Oracle
	cfg       SamplerConfig
	extractor *Extractor
	logger    *zap.Logger
}

// NewSampler creates a Sampler. An empty system prompt selects the embedded rubric.
func NewSampler(oracle ai.Oracle, cfg SamplerConfig, log *zap.Logger) (*Sampler, error) {
	if oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model is required")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultScorePrompt()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Sampler{
		oracle:    oracle,
		cfg:       cfg,
		extractor: NewExtractor(cfg.Repair),
		logger:    log,
	}, nil
}

type sampleIndexKey struct{}

func withSampleIndex(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, sampleIndexKey{}, idx)
}

// SampleIndex reports the zero-based issue slot of the sample an oracle request belongs to.
func SampleIndex(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(sampleIndexKey{}).(int)
	return idx, ok
}

// Sample returns n validated verdicts for the candidate in issue order. The first failing
// sample aborts the set and its error is returned unchanged in kind.
func (s *Sampler) Sample(ctx context.Context, candidateID, candidateText, jobText string, n int) ([]CandidateVerdict, error) {
	if n < 1 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return nil, errors.New("candidate id is required")
	}

	log := s.logger.With(zap.String(logger.FieldCandidate, candidateID))
	user := scoreUserPrompt(jobText, candidateID, candidateText)

	verdicts := make([]CandidateVerdict, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := range n {
		g.Go(func() error {
			verdict, err := s.sampleOnce(withSampleIndex(gctx, i), log, candidateID, user, i)
			if err != nil {
				return fmt.Errorf("sample %d of %s: %w", i+1, candidateID, err)
			}
			verdicts[i] = verdict
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return verdicts, nil
}

func (s *Sampler) sampleOnce(ctx context.Context, log *zap.Logger, candidateID, user string, idx int) (CandidateVerdict, error) {
	raw, err := s.oracle.Complete(ctx, s.cfg.Model, s.cfg.SystemPrompt, user)
	if err != nil {
		return CandidateVerdict{}, err
	}

	log.Debug("oracle response received",
		zap.Int("sample", idx+1),
		zap.String("response", utils.TruncateForLog(raw, s.cfg.MaxLogLength)),
	)

	obj, err := s.extractor.Extract(raw)
	if err != nil {
		log.Warn("unparseable oracle response",
			zap.Int("sample", idx+1),
			zap.String("response", utils.TruncateForLog(raw, s.cfg.MaxLogLength)),
		)
		return CandidateVerdict{}, err
	}

	// The candidate id is assigned by the caller, so whatever the oracle echoes is ignored.
	delete(obj, "cv_id")
	verdict, err := DecodeVerdict(obj)
	if err != nil {
		return CandidateVerdict{}, err
	}
	verdict.CandidateID = candidateID

	if implied := DecisionFor(verdict.FitScore); implied != verdict.Invite {
		log.Warn("oracle invite disagrees with fit score",
			zap.Int("sample", idx+1),
			zap.Float64("fit_score", verdict.FitScore),
			zap.String("invite", string(verdict.Invite)),
			zap.Bool("recomputed", s.cfg.RecomputeInvite),
		)
		if s.cfg.RecomputeInvite {
			verdict.Invite = implied
		}
	}

	return verdict, nil
}
