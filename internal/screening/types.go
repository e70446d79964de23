package screening

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Decision is the invite outcome of a verdict.
type Decision string

const (
	Invite Decision = "yes"
	Reject Decision = "no"

	// InviteThreshold is the minimum fit score that earns an invite.
	InviteThreshold = 0.70

	// ListArity is the number of strengths and gaps a verdict carries.
	ListArity = 3
)

// DecisionFor returns the decision implied by a fit score.
func DecisionFor(score float64) Decision {
	if score >= InviteThreshold {
		return Invite
	}
	return Reject
}

// CandidateVerdict is the fit assessment of one candidate against one job description.
type CandidateVerdict struct {
	CandidateID string   `json:"cv_id" mapstructure:"cv_id"`
	FitScore    float64  `json:"fit_score" mapstructure:"fit_score" validate:"gte=0,lte=1"`
	Invite      Decision `json:"invite" mapstructure:"invite" validate:"oneof=yes no"`
	Strengths   []string `json:"strengths" mapstructure:"strengths" validate:"len=3,dive,notblank"`
	Gaps        []string `json:"gaps" mapstructure:"gaps" validate:"len=3,dive,notblank"`
	Reason      string   `json:"reason" mapstructure:"reason" validate:"notblank"`
}

// RankingEntry is a verdict placed into the run-level ordering.
type RankingEntry = CandidateVerdict

// Recommendation partitions the ranked candidate ids.
type Recommendation struct {
	Invite []string `json:"invite" mapstructure:"invite"`
	Reject []string `json:"reject" mapstructure:"reject"`
}

// MarshalJSON keeps empty partitions as [] instead of null.
func (r Recommendation) MarshalJSON() ([]byte, error) {
	type plain Recommendation
	out := plain(r)
	if out.Invite == nil {
		out.Invite = []string{}
	}
	if out.Reject == nil {
		out.Reject = []string{}
	}
	return json.Marshal(out)
}

// RunResult is the persisted output of one pipeline execution.
type RunResult struct {
	Ranking        []RankingEntry `json:"ranking"`
	Recommendation Recommendation `json:"recommendation"`
	Notes          string         `json:"notes"`
}

// MarshalJSON keeps an empty ranking as [] instead of null.
func (r RunResult) MarshalJSON() ([]byte, error) {
	type plain RunResult
	out := plain(r)
	if out.Ranking == nil {
		out.Ranking = []RankingEntry{}
	}
	return json.Marshal(out)
}

// Invites returns the number of invited candidates.
func (r *RunResult) Invites() int {
	if r == nil {
		return 0
	}
	return len(r.Recommendation.Invite)
}

// Top returns the id of the first ranked candidate or an empty string.
func (r *RunResult) Top() string {
	if r == nil || len(r.Ranking) == 0 {
		return ""
	}
	return r.Ranking[0].CandidateID
}

// Validate checks the internal invariants of a result: entry shape, sort order and the
// invite/reject partition.
func (r *RunResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: result is nil", ErrInvalidRanking)
	}

	seen := make(map[string]struct{}, len(r.Ranking))
	for i, entry := range r.Ranking {
		if err := validate.Struct(entry); err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrInvalidRanking, i, err)
		}
		if entry.CandidateID == "" {
			return fmt.Errorf("%w: entry %d has no cv_id", ErrInvalidRanking, i)
		}
		if _, dup := seen[entry.CandidateID]; dup {
			return fmt.Errorf("%w: duplicate cv_id %q in ranking", ErrInvalidRanking, entry.CandidateID)
		}
		seen[entry.CandidateID] = struct{}{}

		if i > 0 && entry.FitScore > r.Ranking[i-1].FitScore {
			return fmt.Errorf("%w: ranking is not sorted by fit_score at position %d", ErrInvalidRanking, i)
		}
	}

	wantInvite, wantReject := partition(r.Ranking)
	if !sameSet(r.Recommendation.Invite, wantInvite) {
		return fmt.Errorf("%w: recommendation.invite %v does not match invited entries %v", ErrInvalidRanking, r.Recommendation.Invite, wantInvite)
	}
	if !sameSet(r.Recommendation.Reject, wantReject) {
		return fmt.Errorf("%w: recommendation.reject %v does not match rejected entries %v", ErrInvalidRanking, r.Recommendation.Reject, wantReject)
	}

	return nil
}

func partition(entries []RankingEntry) (invite, reject []string) {
	invite = []string{}
	reject = []string{}
	for _, entry := range entries {
		if entry.Invite == Invite {
			invite = append(invite, entry.CandidateID)
			continue
		}
		reject = append(reject, entry.CandidateID)
	}
	return invite, reject
}

// sameSet reports whether got holds exactly the ids of want, each once.
func sameSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[string]struct{}, len(got))
	for _, id := range got {
		if _, dup := seen[id]; dup {
			return false
		}
		if !slices.Contains(want, id) {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}
