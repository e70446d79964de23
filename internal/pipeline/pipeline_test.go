package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/cv-screener/internal/ai"
	"github.com/spigell/cv-screener/internal/metrics"
	"github.com/spigell/cv-screener/internal/runstore"
	"github.com/spigell/cv-screener/internal/screening"
)

type fakeSampler struct {
	scores map[string]float64
	errs   []error
	calls  int
}

func (f *fakeSampler) Sample(_ context.Context, id, _, _ string, n int) ([]screening.CandidateVerdict, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}

	score := f.scores[id]
	out := make([]screening.CandidateVerdict, n)
	for i := range out {
		out[i] = screening.CandidateVerdict{
			CandidateID: id,
			FitScore:    score,
			Invite:      screening.DecisionFor(score),
			Strengths:   []string{"s1", "s2", "s3"},
			Gaps:        []string{"g1", "g2", "g3"},
			Reason:      fmt.Sprintf("%s sample %d", id, i),
		}
	}
	return out, nil
}

type fakeSynthesizer struct {
	err error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string, aggregated []screening.CandidateVerdict) (*screening.RunResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return screening.BuildRunResult(aggregated, "Invite candidate_A."), nil
}

type fixture struct {
	cfg   *Config
	store *runstore.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()

	jobPath := filepath.Join(dir, "job.txt")
	require.NoError(t, os.WriteFile(jobPath, []byte("Senior PHP Developer, Laravel, REST APIs, MySQL"), 0o644))

	cvs := filepath.Join(dir, "cvs")
	require.NoError(t, os.Mkdir(cvs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cvs, "candidate_A.txt"), []byte("PHP, Laravel, MySQL"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cvs, "candidate_B.txt"), []byte("Go, Kubernetes"), 0o644))

	store, err := runstore.New(filepath.Join(dir, "runs"), filepath.Join(dir, "metrics.csv"))
	require.NoError(t, err)

	return fixture{
		cfg: &Config{
			JobPath:       jobPath,
			CandidatesDir: cvs,
			RunName:       "v1",
			Model:         "llama3.2",
			Samples:       5,
		},
		store: store,
	}
}

func scores() map[string]float64 {
	return map[string]float64{"candidate_A": 0.85, "candidate_B": 0.42}
}

func TestRunPersistsRankedResult(t *testing.T) {
	f := newFixture(t)
	recorder := metrics.New()

	deps := Deps{
		Logger:      zap.NewNop(),
		Sampler:     &fakeSampler{scores: scores()},
		Synthesizer: &fakeSynthesizer{},
		Store:       f.store,
		Metrics:     recorder,
	}

	st := &State{}
	require.NoError(t, Run(context.Background(), f.cfg, deps, Default(), st))

	require.Len(t, st.Verdicts, 2)
	assert.Equal(t, "candidate_A", st.Verdicts[0].CandidateID)
	assert.Equal(t, "candidate_A sample 0", st.Verdicts[0].Reason)
	assert.NotEmpty(t, st.RunID)

	loaded, err := runstore.LoadRun(f.store.RunPath(st.RunID))
	require.NoError(t, err)
	assert.Equal(t, "candidate_A", loaded.Ranking[0].CandidateID)
	assert.Equal(t, []string{"candidate_A"}, loaded.Recommendation.Invite)
	assert.Equal(t, []string{"candidate_B"}, loaded.Recommendation.Reject)

	rows, err := f.store.ReadMetrics()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Invites)
	assert.Equal(t, "candidate_A", rows[0].Top1)
	assert.Equal(t, 5, rows[0].Samples)

	count, err := testutil.GatherAndCount(recorder.Registry(), "cv_screener_aggregated_fit_score")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunFailureLeavesNoArtifacts(t *testing.T) {
	f := newFixture(t)

	deps := Deps{
		Sampler:     &fakeSampler{scores: scores()},
		Synthesizer: &fakeSynthesizer{err: fmt.Errorf("%w: ranking has 1 entries, expected 2", screening.ErrInvalidRanking)},
		Store:       f.store,
	}

	st := &State{}
	err := Run(context.Background(), f.cfg, deps, Default(), st)
	require.ErrorIs(t, err, screening.ErrInvalidRanking)
	assert.Contains(t, err.Error(), "rank: invalid ranking: ranking has 1 entries, expected 2")

	runs, err := f.store.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)

	rows, err := f.store.ReadMetrics()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunResamplesAfterUnusableOutput(t *testing.T) {
	f := newFixture(t)
	f.cfg.OutputRetries = 1

	core, logs := observer.New(zapcore.WarnLevel)
	sampler := &fakeSampler{
		scores: scores(),
		errs:   []error{fmt.Errorf("sample 3 of candidate_A: %w", screening.ErrMalformedOutput)},
	}
	deps := Deps{
		Logger:      zap.New(core),
		Sampler:     sampler,
		Synthesizer: &fakeSynthesizer{},
		Store:       f.store,
	}

	require.NoError(t, Run(context.Background(), f.cfg, deps, Default(), &State{}))
	assert.Equal(t, 3, sampler.calls)
	assert.Equal(t, 1, logs.FilterMessage("resampling candidate after unusable oracle output").Len())
}

func TestRunSurfacesSampleFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		retries int
		calls   int
	}{
		{name: "no retries", err: screening.ErrInvalidVerdict, retries: 0, calls: 1},
		{name: "transient is not resampled", err: ai.Transient(context.Background(), "ollama", 503, errors.New("busy")), retries: 3, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.OutputRetries = tt.retries
			sampler := &fakeSampler{scores: scores(), errs: []error{tt.err}}

			err := Run(context.Background(), f.cfg, Deps{Sampler: sampler, Synthesizer: &fakeSynthesizer{}, Store: f.store}, Default(), &State{})
			require.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "score_candidates: score candidate_A")
			assert.Equal(t, tt.calls, sampler.calls)
		})
	}
}

func TestRunDeclinedIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	approved := false

	deps := Deps{
		Sampler:     &fakeSampler{scores: scores()},
		Synthesizer: &fakeSynthesizer{},
		Store:       f.store,
		Approve: func(_ context.Context, st *State) (bool, error) {
			approved = st.Result != nil
			return false, nil
		},
	}

	st := &State{}
	require.NoError(t, Run(context.Background(), f.cfg, deps, Default(), st))
	assert.True(t, approved)
	assert.True(t, st.Declined)
	assert.Empty(t, st.RunID)

	runs, err := f.store.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunValidatesBeforeApplying(t *testing.T) {
	f := newFixture(t)
	f.cfg.Samples = 0
	sampler := &fakeSampler{scores: scores()}

	err := Run(context.Background(), f.cfg, Deps{Sampler: sampler, Synthesizer: &fakeSynthesizer{}, Store: f.store}, Default(), &State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score_candidates: samples must be positive")
	assert.Equal(t, 0, sampler.calls)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, f.cfg, Deps{Sampler: &fakeSampler{}, Synthesizer: &fakeSynthesizer{}, Store: f.store}, Default(), &State{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, KindMalformed, FailureKind(fmt.Errorf("x: %w", screening.ErrMalformedOutput)))
	assert.Equal(t, KindInvalid, FailureKind(screening.ErrInvalidVerdict))
	assert.Equal(t, KindTransient, FailureKind(ai.Transient(context.Background(), "p", 0, errors.New("eof"))))
	assert.Equal(t, KindOther, FailureKind(errors.New("x")))
}
