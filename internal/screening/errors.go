package screening

import "errors"

var (
	// ErrMalformedOutput means no structured object could be recovered from oracle output.
	ErrMalformedOutput = errors.New("malformed oracle output")
	// ErrInvalidVerdict means a parsed object failed the verdict schema after normalization.
	ErrInvalidVerdict = errors.New("invalid candidate verdict")
	// ErrInvalidRanking means a parsed object failed the run result schema or consistency checks.
	ErrInvalidRanking = errors.New("invalid ranking")
	// ErrEmptySampleSet is returned when aggregating zero verdicts.
	ErrEmptySampleSet = errors.New("empty sample set")
)
