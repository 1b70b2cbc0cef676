// Package session holds the process-wide registry of conversation
// sessions. Each session is guarded by its own lock so sessions never
// block each other; the active-session pointer has a separate lock.
//
// Values handed out by the Store are clones. All mutation goes through
// Update or one of the Record methods.
package session

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/codegate/pkg/api"
	"github.com/rhuss/codegate/pkg/debug"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

const (
	// PlaceholderName is the display name of a session that has not seen a
	// user prompt yet.
	PlaceholderName = "New Conversation"

	// UntitledName is used when the first prompt has no visible text.
	UntitledName = "Untitled Chat"

	maxDisplayName = 30
)

type entry struct {
	mu      sync.Mutex
	session *api.Session
}

// Store is an in-memory session registry. Sessions live until deleted.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // creation order

	activeMu sync.Mutex
	active   string
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Create adds a new idle session with the given LLM configuration. It does
// not change the active session.
func (s *Store) Create(cfg api.LLMConfig) *api.Session {
	sess := &api.Session{
		ID:          api.NewSessionID(),
		DisplayName: PlaceholderName,
		CreatedAt:   time.Now(),
		State:       api.StateIdle,
		Messages:    []api.Message{},
		LLMConfig:   cfg,
		Feedback:    api.FeedbackNone,
	}

	s.mu.Lock()
	s.entries[sess.ID] = &entry{session: sess}
	s.order = append(s.order, sess.ID)
	s.mu.Unlock()

	debug.Log("gate", "session created", "session_id", sess.ID, "model", cfg.Model)
	return sess.Clone()
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (*api.Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// List returns snapshots of all sessions in creation order.
func (s *Store) List() []*api.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	out := make([]*api.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.session.Clone())
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// SetActive makes id the active session.
func (s *Store) SetActive(id string) error {
	if _, err := s.lookup(id); err != nil {
		return err
	}
	s.activeMu.Lock()
	s.active = id
	s.activeMu.Unlock()
	return nil
}

// ActiveID returns the active session's ID, or "" when there is none.
func (s *Store) ActiveID() string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.active
}

// Active returns a snapshot of the active session.
func (s *Store) Active() (*api.Session, error) {
	id := s.ActiveID()
	if id == "" {
		return nil, ErrNotFound
	}
	return s.Get(id)
}

// Delete removes a session. If it was active, the most recently created
// remaining session becomes active.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.entries[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	next := ""
	if n := len(s.order); n > 0 {
		next = s.order[n-1]
	}
	s.mu.Unlock()

	s.activeMu.Lock()
	if s.active == id {
		s.active = next
	}
	s.activeMu.Unlock()

	debug.Log("gate", "session deleted", "session_id", id)
	return nil
}

// Update applies fn to a working copy of the session under the session's
// lock. The copy replaces the stored session only if fn returns nil, so a
// failed update leaves no partial changes. Updates to one session are
// linearizable.
func (s *Store) Update(id string, fn func(*api.Session) error) (*api.Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.session.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	e.session = work
	return work.Clone(), nil
}

// RecordOutcome completes an execution. It is valid only while the session
// is executing. effects run in the same update, after the outcome is set.
func (s *Store) RecordOutcome(id string, outcome *api.ExecutionOutcome, metrics *api.ExecutionMetrics, effects ...func(*api.Session)) (*api.Session, error) {
	return s.Update(id, func(sess *api.Session) error {
		if sess.State != api.StateExecuting {
			return api.NewInvalidTransitionError(sess.State, "record an outcome")
		}
		sess.State = api.StateCompleted
		sess.LastOutcome = outcome
		sess.LastMetrics = metrics
		sess.ExecutionCount++
		for _, fx := range effects {
			fx(sess)
		}
		return nil
	})
}

// RecordFeedback stores the human's vote on the completed task. Only one
// vote per task is accepted.
func (s *Store) RecordFeedback(id string, vote api.FeedbackVote) (*api.Session, error) {
	if vote != api.FeedbackUp && vote != api.FeedbackDown {
		return nil, api.NewInvalidRequestError("vote", "vote must be 'up' or 'down'")
	}
	return s.Update(id, func(sess *api.Session) error {
		if sess.State != api.StateCompleted {
			return api.NewInvalidTransitionError(sess.State, "submit feedback")
		}
		if sess.Feedback != api.FeedbackNone {
			return api.NewInvalidTransitionError(sess.State, "submit feedback twice")
		}
		sess.Feedback = vote
		return nil
	})
}

// DisplayName derives a session name from the first user message.
func DisplayName(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return UntitledName
	}
	runes := []rune(name)
	if len(runes) > maxDisplayName {
		return string(runes[:maxDisplayName-3]) + "..."
	}
	return name
}

// NameFromPrompt names the session after text when it has no user message
// yet. Call it before appending the prompt; later prompts do not rename it.
func NameFromPrompt(sess *api.Session, text string) {
	named := slices.ContainsFunc(sess.Messages, func(m api.Message) bool {
		return m.Role == api.RoleUser
	})
	if !named {
		sess.DisplayName = DisplayName(text)
	}
}
