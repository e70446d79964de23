package screening

import (
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/spigell/cv-screener/internal/ai"
	"github.com/spigell/cv-screener/internal/utils"
)

// RankingPolicy selects how the synthesizer treats the oracle's ranking.
type RankingPolicy string

const (
	// PolicyStrict accepts the oracle's ranking only when it passes every check.
	PolicyStrict RankingPolicy = "strict"
	// PolicyRecompute derives ranking and partition from the aggregated verdicts and keeps
	// only the oracle's notes. Disagreements are logged.
	PolicyRecompute RankingPolicy = "recompute"
)

//go:embed schema/run_result.json
var runResultSchema string

var runResultSchemaLoader = gojsonschema.NewStringLoader(runResultSchema)

// ParseRankingPolicy validates a configured policy name. Empty selects PolicyStrict.
func ParseRankingPolicy(name string) (RankingPolicy, error) {
	switch RankingPolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyRecompute:
		return PolicyRecompute, nil
	}
	return "", fmt.Errorf("unknown ranking policy %q (want %s or %s)", name, PolicyStrict, PolicyRecompute)
}

// SynthesizerConfig controls the ranking request.
type SynthesizerConfig struct {
	Model        string
	SystemPrompt string
	Policy       RankingPolicy
	Repair       bool
	MaxLogLength int
}

// Synthesizer asks the oracle for a holistic ranking of aggregated verdicts.
type Synthesizer struct {
	oracle    ai.Oracle
	cfg       SynthesizerConfig
	extractor *Extractor
	logger    *zap.Logger
}

// NewSynthesizer creates a Synthesizer. An empty system prompt selects the embedded one.
func NewSynthesizer(oracle ai.Oracle, cfg SynthesizerConfig, log *zap.Logger) (*Synthesizer, error) {
	if oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model is required")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultRankPrompt()
	}
	policy, err := ParseRankingPolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Synthesizer{
		oracle:    oracle,
		cfg:       cfg,
		extractor: NewExtractor(cfg.Repair),
		logger:    log,
	}, nil
}

// Synthesize issues one ranking request and returns a validated RunResult. Oracle transport
// errors are returned as is; everything about the response itself fails with
// ErrInvalidRanking.
func (s *Synthesizer) Synthesize(ctx context.Context, jobText string, aggregated []CandidateVerdict) (*RunResult, error) {
	if err := checkAggregated(aggregated); err != nil {
		return nil, err
	}

	raw, err := s.oracle.Complete(ctx, s.cfg.Model, s.cfg.SystemPrompt, rankUserPrompt(jobText, aggregated))
	if err != nil {
		return nil, fmt.Errorf("ranking request: %w", err)
	}

	s.logger.Debug("ranking response received",
		zap.String("response", utils.TruncateForLog(raw, s.cfg.MaxLogLength)),
	)

	obj, err := s.extractor.Extract(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRanking, err)
	}

	if s.cfg.Policy == PolicyRecompute {
		return s.recompute(obj, aggregated)
	}

	result, err := parseRanking(obj, aggregated)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Synthesizer) recompute(obj map[string]any, aggregated []CandidateVerdict) (*RunResult, error) {
	if _, err := parseRanking(obj, aggregated); err != nil {
		s.logger.Warn("oracle ranking disagrees with aggregated verdicts, using recomputed ranking",
			zap.Error(err),
		)
	}

	notes, _ := obj["notes"].(string)
	result := BuildRunResult(aggregated, strings.TrimSpace(notes))
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// BuildRunResult ranks verdicts by fit score descending, keeping input order for ties, and
// partitions them by their invite decision.
func BuildRunResult(aggregated []CandidateVerdict, notes string) *RunResult {
	entries := make([]RankingEntry, 0, len(aggregated))
	for _, v := range aggregated {
		entry := v
		entry.Strengths = NormalizeListField(v.Strengths, ListArity)
		entry.Gaps = NormalizeListField(v.Gaps, ListArity)
		entries = append(entries, entry)
	}

	slices.SortStableFunc(entries, func(a, b RankingEntry) int {
		return cmp.Compare(b.FitScore, a.FitScore)
	})

	invite, reject := partition(entries)
	return &RunResult{
		Ranking:        entries,
		Recommendation: Recommendation{Invite: invite, Reject: reject},
		Notes:          notes,
	}
}

// parseRanking validates an extracted object against the RunResult schema and against the
// aggregated verdicts it was derived from.
func parseRanking(obj map[string]any, aggregated []CandidateVerdict) (*RunResult, error) {
	schemaResult, err := gojsonschema.Validate(runResultSchemaLoader, gojsonschema.NewGoLoader(obj))
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %w", ErrInvalidRanking, err)
	}
	if !schemaResult.Valid() {
		problems := make([]string, 0, len(schemaResult.Errors()))
		for _, desc := range schemaResult.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: schema: %s", ErrInvalidRanking, strings.Join(problems, "; "))
	}

	items, _ := obj["ranking"].([]any)
	entries := make([]RankingEntry, 0, len(items))
	for i, item := range items {
		fields, _ := item.(map[string]any)
		entry, err := DecodeVerdict(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidRanking, i, err)
		}
		entry.CandidateID = strings.TrimSpace(entry.CandidateID)
		entries = append(entries, entry)
	}

	var rec Recommendation
	if err := mapstructure.Decode(obj["recommendation"], &rec); err != nil {
		return nil, fmt.Errorf("%w: recommendation: %w", ErrInvalidRanking, err)
	}

	notes, _ := obj["notes"].(string)
	result := &RunResult{
		Ranking:        entries,
		Recommendation: rec,
		Notes:          strings.TrimSpace(notes),
	}

	if err := checkAgainst(result, aggregated); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	return result, nil
}

// checkAgainst verifies that the ranking covers every aggregated candidate once, keeps their
// decisions and orders score ties by input order.
func checkAgainst(result *RunResult, aggregated []CandidateVerdict) error {
	position := make(map[string]int, len(aggregated))
	for i, v := range aggregated {
		position[v.CandidateID] = i
	}

	if len(result.Ranking) != len(aggregated) {
		return fmt.Errorf("%w: ranking has %d entries, expected %d", ErrInvalidRanking, len(result.Ranking), len(aggregated))
	}

	seen := make(map[string]struct{}, len(result.Ranking))
	for i, entry := range result.Ranking {
		idx, ok := position[entry.CandidateID]
		if !ok {
			return fmt.Errorf("%w: unknown cv_id %q", ErrInvalidRanking, entry.CandidateID)
		}
		if _, dup := seen[entry.CandidateID]; dup {
			return fmt.Errorf("%w: duplicate cv_id %q in ranking", ErrInvalidRanking, entry.CandidateID)
		}
		seen[entry.CandidateID] = struct{}{}

		if want := aggregated[idx].Invite; entry.Invite != want {
			return fmt.Errorf("%w: %s has invite %q, aggregated verdict says %q", ErrInvalidRanking, entry.CandidateID, entry.Invite, want)
		}

		if i > 0 {
			prev := result.Ranking[i-1]
			if prev.FitScore == entry.FitScore && position[prev.CandidateID] > idx {
				return fmt.Errorf("%w: tie between %s and %s is not in input order", ErrInvalidRanking, prev.CandidateID, entry.CandidateID)
			}
		}
	}

	return nil
}

func checkAggregated(aggregated []CandidateVerdict) error {
	seen := make(map[string]struct{}, len(aggregated))
	for _, v := range aggregated {
		if strings.TrimSpace(v.CandidateID) == "" {
			return errors.New("aggregated verdict without candidate id")
		}
		if _, dup := seen[v.CandidateID]; dup {
			return fmt.Errorf("duplicate candidate id %q", v.CandidateID)
		}
		seen[v.CandidateID] = struct{}{}
	}
	return nil
}
