package documents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const candidateExt = ".txt"

// Candidate is one résumé keyed by the stem of its file name.
type Candidate struct {
	ID   string
	Path string
	Text string
}

// LoadJob reads the job description. An empty description is an error.
func LoadJob(path string) (string, error) {
	text, err := readText(path)
	if err != nil {
		return "", fmt.Errorf("load job description: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("job description %s is empty", path)
	}
	return text, nil
}

// LoadCandidates reads every *.txt file of dir in lexical order. The candidate id is the file
// name without extension, so cvs/cv1.txt becomes cv1.
func LoadCandidates(dir string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read candidates directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), candidateExt) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", candidateExt, dir)
	}

	seen := make(map[string]string, len(names))
	candidates := make([]Candidate, 0, len(names))
	for _, name := range names {
		id := strings.TrimSpace(strings.TrimSuffix(name, filepath.Ext(name)))
		if id == "" {
			return nil, fmt.Errorf("candidate file %s has no name", name)
		}
		if prev, dup := seen[strings.ToLower(id)]; dup {
			return nil, fmt.Errorf("candidate id %q is used by both %s and %s", id, prev, name)
		}
		seen[strings.ToLower(id)] = name

		path := filepath.Join(dir, name)
		text, err := readText(path)
		if err != nil {
			return nil, fmt.Errorf("load candidate %s: %w", id, err)
		}
		if text == "" {
			return nil, fmt.Errorf("candidate %s is empty", path)
		}

		candidates = append(candidates, Candidate{ID: id, Path: path, Text: text})
	}

	return candidates, nil
}

func readText(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
