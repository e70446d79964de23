package screening

import (
	"context"
	"sync"
)

// fakeOracle answers requests from a fixed list of raw responses in call order. The last
// response repeats once the list is exhausted.
type fakeOracle struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	systems   []string
	users     []string
}

func (f *fakeOracle) Complete(_ context.Context, _ string, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++
	f.systems = append(f.systems, system)
	f.users = append(f.users, user)

	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}
