package workflow

import "sync"

// lockRegistry provides mutual exclusion per run id so a run is
// advanced by at most one worker at a time. Entries are reference
// counted; an entry with no holders or waiters is dropped, keeping the
// map bounded by the number of in-flight operations.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*runLock)}
}

// acquire blocks until the run lock is held and returns its release
// function.
func (r *lockRegistry) acquire(runID string) func() {
	r.mu.Lock()
	entry, ok := r.locks[runID]
	if !ok {
		entry = &runLock{}
		r.locks[runID] = entry
	}
	entry.refs++
	r.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		r.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(r.locks, runID)
		}
		r.mu.Unlock()
	}
}
