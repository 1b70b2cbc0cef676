package steps

import "sync"

// Registry holds one Sink per session.
type Registry struct {
	publisher Publisher

	mu    sync.Mutex
	sinks map[string]*Sink
}

// NewRegistry creates a Registry whose sinks publish to publisher, which
// may be nil.
func NewRegistry(publisher Publisher) *Registry {
	return &Registry{publisher: publisher, sinks: make(map[string]*Sink)}
}

// For returns the session's sink, creating it on first use.
func (r *Registry) For(sessionID string) *Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sinks[sessionID]
	if !ok {
		s = NewSink(sessionID, r.publisher)
		r.sinks[sessionID] = s
	}
	return s
}

// Remove discards the session's sink and detaches its subscribers.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	s, ok := r.sinks[sessionID]
	delete(r.sinks, sessionID)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}
