package documents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJob(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "job.txt", "\nSenior PHP Developer, Laravel, REST APIs, MySQL\n")

	job, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, "Senior PHP Developer, Laravel, REST APIs, MySQL", job)

	_, err = LoadJob(writeFile(t, dir, "empty.txt", "  \n"))
	assert.Error(t, err)

	_, err = LoadJob(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadCandidatesSortedByName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cv2.txt", "second")
	writeFile(t, dir, "cv1.txt", "first")
	writeFile(t, dir, "notes.md", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.txt"), 0o755))

	candidates, err := LoadCandidates(dir)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "cv1", candidates[0].ID)
	assert.Equal(t, "first", candidates[0].Text)
	assert.Equal(t, "cv2", candidates[1].ID)
	assert.Equal(t, filepath.Join(dir, "cv2.txt"), candidates[1].Path)
}

func TestLoadCandidatesErrors(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		_, err := LoadCandidates(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("missing dir", func(t *testing.T) {
		_, err := LoadCandidates(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})

	t.Run("empty candidate", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "cv1.txt", " ")
		_, err := LoadCandidates(dir)
		assert.Error(t, err)
	})

	t.Run("duplicate id", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "cv1.txt", "a")
		writeFile(t, dir, "CV1.TXT", "b")
		_, err := LoadCandidates(dir)
		assert.Error(t, err)
	})
}
