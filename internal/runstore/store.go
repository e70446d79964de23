package runstore

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/cv-screener/internal/screening"
)

var metricsHeader = []string{"run", "model", "n_samples", "invites", "top1", "ts"}

// MetricsRow is one line of the metrics log.
type MetricsRow struct {
	Run       string
	Model     string
	Samples   int
	Invites   int
	Top1      string
	Timestamp int64
}

// RunFile describes a persisted run document.
type RunFile struct {
	ID      string
	Path    string
	ModTime time.Time
}

// Store persists run documents and metrics rows.
type Store struct {
	runsDir     string
	metricsPath string
	now         func() time.Time
}

// New creates a Store writing run documents into runsDir and metrics rows into metricsPath.
func New(runsDir, metricsPath string) (*Store, error) {
	if strings.TrimSpace(runsDir) == "" {
		return nil, errors.New("runs directory is required")
	}
	if strings.TrimSpace(metricsPath) == "" {
		return nil, errors.New("metrics file is required")
	}
	return &Store{runsDir: runsDir, metricsPath: metricsPath, now: time.Now}, nil
}

// RunsDir returns the directory holding run documents.
func (s *Store) RunsDir() string { return s.runsDir }

// Persist writes the run document and appends the metrics row. The returned id is
// <run_name>_<unix seconds>. Two runs under one name within the same second collide.
func (s *Store) Persist(result *screening.RunResult, runName, model string, samples int) (string, error) {
	if result == nil {
		return "", errors.New("result is nil")
	}
	runName = strings.TrimSpace(runName)
	if runName == "" {
		return "", errors.New("run name is required")
	}
	if strings.ContainsAny(runName, `/\`) {
		return "", fmt.Errorf("run name %q must not contain path separators", runName)
	}

	ts := s.now().Unix()
	runID := fmt.Sprintf("%s_%d", runName, ts)

	if err := s.writeRun(runID, result); err != nil {
		return "", err
	}

	row := MetricsRow{
		Run:       runName,
		Model:     model,
		Samples:   samples,
		Invites:   result.Invites(),
		Top1:      result.Top(),
		Timestamp: ts,
	}
	if err := s.AppendMetrics(row); err != nil {
		if rmErr := os.Remove(s.RunPath(runID)); rmErr != nil {
			return "", errors.Join(err, fmt.Errorf("remove run file: %w", rmErr))
		}
		return "", err
	}

	return runID, nil
}

// RunPath returns the document path of a run id.
func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.runsDir, runID+".json")
}

func (s *Store) writeRun(runID string, result *screening.RunResult) error {
	if err := os.MkdirAll(s.runsDir, 0o755); err != nil {
		return fmt.Errorf("create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}

	tmp, err := os.CreateTemp(s.runsDir, "."+runID+"_*.tmp")
	if err != nil {
		return fmt.Errorf("create run file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close run file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.RunPath(runID)); err != nil {
		return fmt.Errorf("publish run file: %w", err)
	}

	return nil
}

// AppendMetrics appends one row to the metrics log, writing the header first when the log is
// empty. The row goes out in a single write on an O_APPEND descriptor.
func (s *Store) AppendMetrics(row MetricsRow) error {
	if dir := filepath.Dir(s.metricsPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}

	file, err := os.OpenFile(s.metricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat metrics file: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		_ = w.Write(metricsHeader)
	}
	_ = w.Write([]string{
		row.Run,
		row.Model,
		strconv.Itoa(row.Samples),
		strconv.Itoa(row.Invites),
		row.Top1,
		strconv.FormatInt(row.Timestamp, 10),
	})
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode metrics row: %w", err)
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append metrics row: %w", err)
	}

	return nil
}

// ListRuns returns persisted run documents, newest first.
func (s *Store) ListRuns() ([]RunFile, error) {
	entries, err := os.ReadDir(s.runsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runs directory: %w", err)
	}

	runs := make([]RunFile, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		runs = append(runs, RunFile{
			ID:      strings.TrimSuffix(name, ".json"),
			Path:    filepath.Join(s.runsDir, name),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].ModTime.Equal(runs[j].ModTime) {
			return runs[i].ModTime.After(runs[j].ModTime)
		}
		return runs[i].ID > runs[j].ID
	})

	return runs, nil
}

// LoadRun decodes a run document.
func LoadRun(path string) (*screening.RunResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run %s: %w", path, err)
	}
	defer file.Close()

	var result screening.RunResult
	if err := json.NewDecoder(file).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", path, err)
	}

	return &result, nil
}

// ReadMetrics returns every row of the metrics log. A missing log yields no rows.
func (s *Store) ReadMetrics() ([]MetricsRow, error) {
	file, err := os.Open(s.metricsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(metricsHeader)

	var rows []MetricsRow
	for line := 1; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metrics: %w", err)
		}
		if line == 1 && record[0] == metricsHeader[0] {
			continue
		}

		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("metrics line %d: %w", line, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func parseRow(record []string) (MetricsRow, error) {
	samples, err := strconv.Atoi(record[2])
	if err != nil {
		return MetricsRow{}, fmt.Errorf("n_samples: %w", err)
	}
	invites, err := strconv.Atoi(record[3])
	if err != nil {
		return MetricsRow{}, fmt.Errorf("invites: %w", err)
	}
	ts, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil {
		return MetricsRow{}, fmt.Errorf("ts: %w", err)
	}
	return MetricsRow{
		Run:       record[0],
		Model:     record[1],
		Samples:   samples,
		Invites:   invites,
		Top1:      record[4],
		Timestamp: ts,
	}, nil
}
