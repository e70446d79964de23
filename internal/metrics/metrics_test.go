package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/cv-screener/internal/ai"
)

func TestInstrumentOracleCountsOutcomes(t *testing.T) {
	recorder := New()

	calls := 0
	oracle := InstrumentOracle(ai.OracleFunc(func(ctx context.Context, _, _, _ string) (string, error) {
		calls++
		switch calls {
		case 1:
			return "{}", nil
		case 2:
			return "", ai.Transient(ctx, "ollama", 503, errors.New("busy"))
		default:
			return "", errors.New("bad request")
		}
	}), "ollama", recorder)

	for range 3 {
		_, _ = oracle.Complete(context.Background(), "m", "s", "u")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.oracleCalls.WithLabelValues("ollama", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.oracleCalls.WithLabelValues("ollama", OutcomeTransient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.oracleCalls.WithLabelValues("ollama", OutcomeError)))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.oracleLatency))
}

func TestRecorderValues(t *testing.T) {
	recorder := New()

	recorder.IncSampleFailure("malformed_output")
	recorder.SetFitScore("cv1", 0.75)
	recorder.ObserveStage("rank", nil, time.Second)
	recorder.IncRun(OutcomeSuccess)

	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.sampleFailures.WithLabelValues("malformed_output")))
	assert.Equal(t, 0.75, testutil.ToFloat64(recorder.fitScore.WithLabelValues("cv1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.runs.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.stageDuration))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var recorder *Recorder

	recorder.IncSampleFailure("x")
	recorder.SetFitScore("cv1", 1)
	recorder.ObserveStage("rank", errors.New("x"), time.Second)
	recorder.IncRun(OutcomeError)
	recorder.ObserveOracleCall("ollama", nil, time.Second)
	assert.NoError(t, recorder.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
	assert.Nil(t, recorder.Registry())

	next := ai.OracleFunc(func(context.Context, string, string, string) (string, error) { return "ok", nil })
	out, err := InstrumentOracle(next, "ollama", nil).Complete(context.Background(), "m", "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestWriteTextfile(t *testing.T) {
	recorder := New()
	recorder.IncRun(OutcomeSuccess)

	path := filepath.Join(t.TempDir(), "cv_screener.prom")
	require.NoError(t, recorder.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `cv_screener_pipeline_runs_total{outcome="success"} 1`))

	assert.NoError(t, recorder.WriteTextfile(""))
}
