package screening

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

var (
	//go:embed prompts/score.md
	defaultScorePrompt string

	//go:embed prompts/rank.md
	defaultRankPrompt string
)

// DefaultScorePrompt returns the embedded scoring rubric.
func DefaultScorePrompt() string { return defaultScorePrompt }

// DefaultRankPrompt returns the embedded ranking instructions.
func DefaultRankPrompt() string { return defaultRankPrompt }

// LoadPrompt reads a system prompt override. An empty path yields fallback.
func LoadPrompt(path, fallback string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt %s is empty", path)
	}

	return prompt, nil
}

func scoreUserPrompt(jobText, candidateID, candidateText string) string {
	return fmt.Sprintf("JOB DESCRIPTION:\n%s\n\nCANDIDATE CV (%s):\n%s\n", jobText, candidateID, candidateText)
}

func rankUserPrompt(jobText string, aggregated []CandidateVerdict) string {
	lines := make([]string, 0, len(aggregated))
	for _, v := range aggregated {
		lines = append(lines, fmt.Sprintf("%s: fit_score=%.3f, invite=%s, strengths=%s, gaps=%s",
			v.CandidateID, v.FitScore, v.Invite, quoteList(v.Strengths), quoteList(v.Gaps)))
	}

	return fmt.Sprintf("JOB DESCRIPTION:\n%s\n\nAGGREGATED CV EVALUATIONS:\n%s\n\nNow produce the final JSON ranking and recommendation.\n",
		jobText, strings.Join(lines, "\n"))
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
