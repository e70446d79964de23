package screening

import (
	"fmt"
	"slices"
)

// maxEvidence caps merged strengths and gaps after aggregation.
const maxEvidence = 4

// Aggregate collapses the samples of one candidate into a single verdict: mean score,
// majority invite with ties going to no, first-seen union of evidence and the first reason.
func Aggregate(verdicts []CandidateVerdict, candidateID string) (CandidateVerdict, error) {
	if len(verdicts) == 0 {
		return CandidateVerdict{}, fmt.Errorf("%w: %s", ErrEmptySampleSet, candidateID)
	}

	var (
		sum     float64
		invites int
	)
	for _, v := range verdicts {
		sum += v.FitScore
		if v.Invite == Invite {
			invites++
		}
	}

	decision := Reject
	if invites > len(verdicts)-invites {
		decision = Invite
	}

	strengths := make([]string, 0, maxEvidence)
	gaps := make([]string, 0, maxEvidence)
	for _, v := range verdicts {
		strengths = mergeUnique(strengths, v.Strengths)
		gaps = mergeUnique(gaps, v.Gaps)
	}

	return CandidateVerdict{
		CandidateID: candidateID,
		FitScore:    sum / float64(len(verdicts)),
		Invite:      decision,
		Strengths:   truncate(strengths, maxEvidence),
		Gaps:        truncate(gaps, maxEvidence),
		Reason:      verdicts[0].Reason,
	}, nil
}

func mergeUnique(dst, items []string) []string {
	for _, item := range items {
		if !slices.Contains(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}

func truncate(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
