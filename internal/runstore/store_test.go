package runstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/cv-screener/internal/screening"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "runs"), filepath.Join(dir, "metrics.csv"))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func twoCandidateResult() *screening.RunResult {
	return &screening.RunResult{
		Ranking: []screening.RankingEntry{
			{CandidateID: "cv2", FitScore: 0.81, Invite: screening.Invite, Strengths: []string{"a", "b", "c"}, Gaps: []string{"d", "e", "f"}, Reason: "Good."},
			{CandidateID: "cv1", FitScore: 0.4, Invite: screening.Reject, Strengths: []string{"a", "b", "c"}, Gaps: []string{"d", "e", "f"}, Reason: "Weak."},
		},
		Recommendation: screening.Recommendation{Invite: []string{"cv2"}, Reject: []string{"cv1"}},
		Notes:          "Invite cv2.",
	}
}

func TestPersistWritesDocumentAndMetrics(t *testing.T) {
	s := newTestStore(t)
	result := twoCandidateResult()

	runID, err := s.Persist(result, "v1", "llama3.2", 5)
	require.NoError(t, err)
	assert.Equal(t, "v1_1700000000", runID)

	loaded, err := LoadRun(s.RunPath(runID))
	require.NoError(t, err)
	assert.Equal(t, result, loaded)

	rows, err := s.ReadMetrics()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, MetricsRow{Run: "v1", Model: "llama3.2", Samples: 5, Invites: 1, Top1: "cv2", Timestamp: 1700000000}, rows[0])

	data, err := os.ReadFile(s.metricsPath)
	require.NoError(t, err)
	assert.Equal(t, "run,model,n_samples,invites,top1,ts\nv1,llama3.2,5,1,cv2,1700000000\n", string(data))

	leftovers, err := filepath.Glob(filepath.Join(s.RunsDir(), ".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPersistAppendsWithoutRepeatingHeader(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Persist(twoCandidateResult(), "v1", "llama3.2", 5)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Unix(1700000100, 0) }
	_, err = s.Persist(&screening.RunResult{}, "v2", "llama3.2", 3)
	require.NoError(t, err)

	data, err := os.ReadFile(s.metricsPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "run,model"))

	rows, err := s.ReadMetrics()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1].Top1)
	assert.Equal(t, 0, rows[1].Invites)
}

func TestPersistEmptyResultDocument(t *testing.T) {
	s := newTestStore(t)

	runID, err := s.Persist(&screening.RunResult{}, "v1", "m", 1)
	require.NoError(t, err)

	data, err := os.ReadFile(s.RunPath(runID))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ranking":[],"recommendation":{"invite":[],"reject":[]},"notes":""}`, string(data))
}

func TestPersistRejectsBadInput(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Persist(nil, "v1", "m", 1)
	assert.Error(t, err)

	_, err = s.Persist(twoCandidateResult(), " ", "m", 1)
	assert.Error(t, err)

	_, err = s.Persist(twoCandidateResult(), "../escape", "m", 1)
	assert.Error(t, err)

	_, statErr := os.Stat(s.metricsPath)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestPersistRemovesDocumentWhenMetricsFail(t *testing.T) {
	s := newTestStore(t)
	// A directory where the metrics file should be makes the append fail.
	require.NoError(t, os.MkdirAll(s.metricsPath, 0o755))

	_, err := s.Persist(twoCandidateResult(), "v1", "m", 1)
	require.Error(t, err)

	runs, err := s.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	runs, err := s.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)

	for i, name := range []string{"a", "b", "c"} {
		s.now = func() time.Time { return time.Unix(int64(1700000000+i), 0) }
		runID, err := s.Persist(twoCandidateResult(), name, "m", 1)
		require.NoError(t, err)
		mod := time.Unix(int64(1700000000+i), 0)
		require.NoError(t, os.Chtimes(s.RunPath(runID), mod, mod))
	}

	runs, err = s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c_1700000002", runs[0].ID)
	assert.Equal(t, "a_1700000000", runs[2].ID)
}

func TestReadMetricsMissingFile(t *testing.T) {
	rows, err := newTestStore(t).ReadMetrics()
	require.NoError(t, err)
	assert.Empty(t, rows)
}
