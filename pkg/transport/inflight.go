package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks the cancel function of the execution running for
// each session, so a cancel or delete request can stop it. It is safe for
// concurrent use.
type InFlightRegistry struct {
	mu   sync.Mutex
	next uint64
	runs map[string]registration
}

type registration struct {
	gen    uint64
	cancel context.CancelCauseFunc
}

// NewInFlightRegistry returns an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{runs: make(map[string]registration)}
}

// Register stores cancel under id, replacing any earlier entry. The
// returned release removes this registration only; it is a no-op once the
// entry was cancelled or replaced.
func (r *InFlightRegistry) Register(id string, cancel context.CancelCauseFunc) (release func()) {
	r.mu.Lock()
	r.next++
	gen := r.next
	r.runs[id] = registration{gen: gen, cancel: cancel}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if cur, ok := r.runs[id]; ok && cur.gen == gen {
			delete(r.runs, id)
		}
		r.mu.Unlock()
	}
}

// Cancel stops the execution registered under id with cause and forgets
// it. It reports whether one was registered.
func (r *InFlightRegistry) Cancel(id string, cause error) bool {
	r.mu.Lock()
	reg, ok := r.runs[id]
	delete(r.runs, id)
	r.mu.Unlock()
	if ok {
		reg.cancel(cause)
	}
	return ok
}

// Len returns the number of registered executions.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
