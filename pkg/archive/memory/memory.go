// Package memory keeps execution records in process memory. It backs tests
// and single-replica deployments; nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/rhuss/codegate/pkg/archive"
)

// Store is an Archive held in memory. When a capacity is set, saving a new
// record beyond it drops the record with the oldest CreatedAt.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*archive.Record
	timeline []*archive.Record // ascending by CreatedAt, then ExecutionID
	capacity int
}

var _ archive.Archive = (*Store)(nil)

// New returns an empty store holding at most capacity records. A capacity
// of zero or less means no limit.
func New(capacity int) *Store {
	return &Store{
		byID:     make(map[string]*archive.Record),
		capacity: capacity,
	}
}

func chronological(a, b *archive.Record) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ExecutionID, b.ExecutionID)
}

func (s *Store) Save(_ context.Context, rec *archive.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[rec.ExecutionID]; dup {
		return archive.ErrConflict
	}
	if s.capacity > 0 && len(s.timeline) >= s.capacity {
		delete(s.byID, s.timeline[0].ExecutionID)
		s.timeline = slices.Delete(s.timeline, 0, 1)
	}

	at, _ := slices.BinarySearchFunc(s.timeline, rec, chronological)
	s.timeline = slices.Insert(s.timeline, at, rec)
	s.byID[rec.ExecutionID] = rec
	return nil
}

func (s *Store) Get(_ context.Context, executionID string) (*archive.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[executionID]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return rec, nil
}

// List walks the timeline from the newest record. An After cursor that is
// not in the store yields an empty page.
func (s *Store) List(_ context.Context, opts archive.ListOptions) ([]*archive.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.timeline) - 1
	if opts.After != "" {
		cursor, ok := s.byID[opts.After]
		if !ok {
			return []*archive.Record{}, nil
		}
		at, _ := slices.BinarySearchFunc(s.timeline, cursor, chronological)
		start = at - 1
	}

	limit := opts.NormalizedLimit()
	page := make([]*archive.Record, 0, min(limit, start+1))
	for i := start; i >= 0 && len(page) < limit; i-- {
		if rec := s.timeline[i]; opts.SessionID == "" || rec.SessionID == opts.SessionID {
			page = append(page, rec)
		}
	}
	return page, nil
}

func (s *Store) HealthCheck(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
