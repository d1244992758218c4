package game

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps rounds in process. All access goes through one mutex,
// which also makes CreateInSlot atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[string]Round
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[string]Round),
		now:    time.Now,
	}
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return Round{}, ErrRoundNotFound
	}
	return r, nil
}

func (s *MemoryStore) FindByStatus(ctx context.Context, status Status) ([]Round, error) {
	return s.filter(func(r Round) bool { return r.Status == status }), nil
}

func (s *MemoryStore) FindDue(ctx context.Context, status Status, field TimeField, before time.Time) ([]Round, error) {
	return s.filter(func(r Round) bool {
		return r.Status == status && !r.At(field).After(before)
	}), nil
}

func (s *MemoryStore) ExistsByStartBetween(ctx context.Context, from, to time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startTakenLocked(from, to), nil
}

func (s *MemoryStore) CreateInSlot(ctx context.Context, r Round, from, to time.Time) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTakenLocked(from, to) {
		return Round{}, ErrDuplicateSlot
	}
	return s.insertLocked(r), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return Round{}, ErrRoundNotFound
	}
	if r.Status != from {
		return r, ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = at
	s.rounds[id] = r
	return r, nil
}

// Save inserts r when it has no id. For an existing round only the status
// is written, and only along Status.CanBecome; schedule, outcome and
// creation time are kept.
func (s *MemoryStore) Save(ctx context.Context, r Round) (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		return s.insertLocked(r), nil
	}
	existing, ok := s.rounds[r.ID]
	if !ok {
		return Round{}, ErrRoundNotFound
	}
	if !existing.Status.CanBecome(r.Status) {
		return existing, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, existing.Status, r.Status)
	}
	existing.Status = r.Status
	existing.UpdatedAt = s.now()
	s.rounds[r.ID] = existing
	return existing, nil
}

// Len returns the number of stored rounds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rounds)
}

func (s *MemoryStore) insertLocked(r Round) Round {
	now := s.now()
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rounds[r.ID] = r
	return r
}

func (s *MemoryStore) startTakenLocked(from, to time.Time) bool {
	for _, r := range s.rounds {
		if !r.Start.Before(from) && !r.Start.After(to) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) filter(keep func(Round) bool) []Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Round
	for _, r := range s.rounds {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
