// Package steps collects the reasoning loop's steps for one task. It is
// purely observational: nothing here gates execution, and a slow or
// missing reader never blocks an append.
package steps

import (
	"sync"
	"time"

	"github.com/rhuss/codegate/pkg/api"
)

// subscriberBuffer is the channel capacity of each subscriber. A
// subscriber that falls further behind loses steps.
const subscriberBuffer = 64

// Event is a step together with the session it belongs to and its
// position within the current task.
type Event struct {
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Step      api.AgentStep `json:"step"`
}

// Publisher receives every appended step, in Seq order per sink. Publish
// runs under the sink's lock and must not block for long.
type Publisher interface {
	Publish(ev Event)
}

// Sink is the append-only step log of one session's current task.
type Sink struct {
	sessionID string
	publisher Publisher

	mu     sync.Mutex
	steps  []api.AgentStep
	subs   map[int]chan Event
	nextID int
}

// NewSink creates a sink for sessionID. publisher may be nil.
func NewSink(sessionID string, publisher Publisher) *Sink {
	return &Sink{
		sessionID: sessionID,
		publisher: publisher,
		subs:      make(map[int]chan Event),
	}
}

// Append adds a step. A zero timestamp is set to now.
func (s *Sink) Append(step api.AgentStep) Event {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	ev := Event{SessionID: s.sessionID, Seq: len(s.steps) - 1, Step: step}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	// Published under the lock so the publisher sees events in Seq order.
	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
	return ev
}

// Steps returns a copy of the steps appended since the last Reset.
func (s *Sink) Steps() []api.AgentStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.AgentStep, len(s.steps))
	copy(out, s.steps)
	return out
}

// Len returns the number of steps in the current task.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Reset clears the log at the start of a new task. Subscribers stay
// attached.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.steps = nil
	s.mu.Unlock()
}

// Subscribe returns the steps so far and a channel that receives every
// later step. The snapshot and the channel do not overlap or leave a gap.
// Call cancel to detach; it closes the channel.
func (s *Sink) Subscribe() (snapshot []api.AgentStep, ch <-chan Event, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot = make([]api.AgentStep, len(s.steps))
	copy(snapshot, s.steps)

	c := make(chan Event, subscriberBuffer)
	id := s.nextID
	s.nextID++
	s.subs[id] = c

	cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return snapshot, c, cancel
}

// Close detaches all subscribers.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.subs {
		delete(s.subs, id)
		close(c)
	}
}
