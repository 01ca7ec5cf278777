package docker

import (
	"sync"

	"batchctl/internal/apperrors"
)

// runState is one local run.
type runState struct {
	containerID string
	name        string
}

// stateRepo tracks live runs so Close can stop them.
type stateRepo struct {
	mu   sync.RWMutex
	runs map[string]*runState
}

func newStateRepo() *stateRepo {
	return &stateRepo{runs: make(map[string]*runState)}
}

// reserve claims runID. The slot holds nil until commit.
func (r *stateRepo) reserve(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[runID]; exists {
		return apperrors.Conflict("run", runID, "run already exists")
	}
	r.runs[runID] = nil
	return nil
}

// commit records the container of a reserved run.
func (r *stateRepo) commit(runID string, rs *runState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = rs
}

// release forgets runID and returns its state.
func (r *stateRepo) release(runID string) (*runState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, exists := r.runs[runID]
	if exists {
		delete(r.runs, runID)
	}
	return rs, exists
}

// list returns a copy of the live runs.
func (r *stateRepo) list() map[string]*runState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*runState, len(r.runs))
	for id, rs := range r.runs {
		out[id] = rs
	}
	return out
}
