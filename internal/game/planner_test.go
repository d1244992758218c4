package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flakyStore wraps a MemoryStore and fails selected calls.
type flakyStore struct {
	*MemoryStore
	mu            sync.Mutex
	failExists    error
	failCreateAt  int // 1-based CreateInSlot call that fails, 0 for none
	failUpdateIDs map[string]bool
	failFind      error
	creates       int
	updates       int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore(), failUpdateIDs: map[string]bool{}}
}

func (s *flakyStore) ExistsByStartBetween(ctx context.Context, from, to time.Time) (bool, error) {
	if s.failExists != nil {
		return false, s.failExists
	}
	return s.MemoryStore.ExistsByStartBetween(ctx, from, to)
}

func (s *flakyStore) CreateInSlot(ctx context.Context, r Round, from, to time.Time) (Round, error) {
	s.mu.Lock()
	s.creates++
	n := s.creates
	s.mu.Unlock()
	if n == s.failCreateAt {
		return Round{}, ErrStoreUnavailable
	}
	return s.MemoryStore.CreateInSlot(ctx, r, from, to)
}

func (s *flakyStore) FindDue(ctx context.Context, status Status, field TimeField, before time.Time) ([]Round, error) {
	if s.failFind != nil {
		return nil, s.failFind
	}
	return s.MemoryStore.FindDue(ctx, status, field, before)
}

func (s *flakyStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (Round, error) {
	s.mu.Lock()
	s.updates++
	fail := s.failUpdateIDs[id]
	s.mu.Unlock()
	if fail {
		return Round{}, ErrStoreUnavailable
	}
	return s.MemoryStore.UpdateStatus(ctx, id, from, to, at)
}

type brokenGenerator struct{}

func (brokenGenerator) Generate() (Outcome, error) {
	return Outcome{}, ErrFairnessGeneration
}

type recordingNotifier struct {
	mu     sync.Mutex
	rounds []Round
}

func (n *recordingNotifier) RoundChanged(ctx context.Context, r Round) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rounds = append(n.rounds, r)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.rounds)
}

func TestPlanner_EnsureRounds_EmptyStore(t *testing.T) {
	store := NewMemoryStore()
	planner := NewPlanner(store, NewGenerator(), DefaultPolicy(), nil)

	created, err := planner.EnsureRounds(context.Background(), refTime)
	require.NoError(t, err)
	require.Len(t, created, 5)

	wantStarts := []time.Duration{1 * time.Minute, 4 * time.Minute, 7 * time.Minute, 10 * time.Minute, 13 * time.Minute}
	for i, r := range created {
		start := refTime.Add(wantStarts[i])
		assert.Equal(t, StatusPlanned, r.Status)
		assert.True(t, r.Start.Equal(start), "round %d start = %v, want %v", i, r.Start, start)
		assert.True(t, r.BettingStart.Equal(start.Add(-time.Minute)))
		assert.True(t, r.BettingEnd.Equal(start))
		assert.True(t, r.End.Equal(start.Add(time.Minute)))
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.CreatedAt.IsZero())
		assert.True(t, r.Verify(), "round %d commitment does not verify", i)
		assert.True(t, r.BettingStart.Before(r.BettingEnd) && r.BettingEnd.Equal(r.Start) && r.Start.Before(r.End))
	}
}

func TestPlanner_EnsureRounds_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	planner := NewPlanner(store, NewGenerator(), DefaultPolicy(), nil)

	first, err := planner.EnsureRounds(context.Background(), refTime)
	require.NoError(t, err)
	require.Len(t, first, 5)

	second, err := planner.EnsureRounds(context.Background(), refTime)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 5, store.Len())
}

func TestPlanner_EnsureRounds_NoOverlap(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
	}{
		{name: "Same reference", offset: 0},
		{name: "Ten seconds later", offset: 10 * time.Second},
		{name: "Twenty-nine seconds later", offset: 29 * time.Second},
		{name: "Thirty seconds earlier", offset: -30 * time.Second},
		{name: "Three minutes later", offset: 3 * time.Minute},
		{name: "Fifty-nine seconds later", offset: 59 * time.Second},
		{name: "Ninety seconds later", offset: 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			planner := NewPlanner(store, NewGenerator(), DefaultPolicy(), nil)

			_, err := planner.EnsureRounds(context.Background(), refTime)
			require.NoError(t, err)
			_, err = planner.EnsureRounds(context.Background(), refTime.Add(tt.offset))
			require.NoError(t, err)

			rounds, err := store.FindByStatus(context.Background(), StatusPlanned)
			require.NoError(t, err)
			for i := 1; i < len(rounds); i++ {
				gap := rounds[i].Start.Sub(rounds[i-1].Start)
				assert.Greater(t, gap, 60*time.Second, "rounds %d and %d overlap", i-1, i)
			}
		})
	}
}

func TestPlanner_EnsureRounds_ConcurrentRuns(t *testing.T) {
	store := NewMemoryStore()
	planner := NewPlanner(store, NewGenerator(), DefaultPolicy(), nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := planner.EnsureRounds(context.Background(), refTime)
			assert.NoError(t, err)
			mu.Lock()
			total += len(created)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, total)
	assert.Equal(t, 5, store.Len())
}

func TestPlanner_EnsureRounds_GeneratorFailure(t *testing.T) {
	store := NewMemoryStore()
	planner := NewPlanner(store, brokenGenerator{}, DefaultPolicy(), nil)

	created, err := planner.EnsureRounds(context.Background(), refTime)
	require.ErrorIs(t, err, ErrFairnessGeneration)
	assert.Empty(t, created)
	assert.Zero(t, store.Len())
}

func TestPlanner_EnsureRounds_StoreFailure(t *testing.T) {
	t.Run("Existence check fails", func(t *testing.T) {
		store := newFlakyStore()
		store.failExists = ErrStoreUnavailable
		planner := NewPlanner(store, NewGenerator(), DefaultPolicy(), nil)

		created, err := planner.EnsureRounds(context.Background(), refTime)
		require.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Empty(t, created)
	})

	t.Run("Third insert fails", func(t *testing.T) {
		store := newFlakyStore()
		store.failCreateAt = 3
		planner := NewPlanner(store, NewGenerator(), DefaultPolicy(), nil)

		created, err := planner.EnsureRounds(context.Background(), refTime)
		require.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Len(t, created, 2)

		// The next run fills the remaining slots.
		store.failCreateAt = 0
		created, err = planner.EnsureRounds(context.Background(), refTime)
		require.NoError(t, err)
		assert.Len(t, created, 3)
		assert.Equal(t, 5, store.Len())
	})
}

func TestPlanner_EnsureRounds_Notifies(t *testing.T) {
	notifier := &recordingNotifier{}
	planner := NewPlanner(NewMemoryStore(), NewGenerator(), DefaultPolicy(), notifier)

	_, err := planner.EnsureRounds(context.Background(), refTime)
	require.NoError(t, err)
	assert.Equal(t, 5, notifier.count())
}

func TestPlanner_EnsureRounds_NotifierFailureIgnored(t *testing.T) {
	failing := NotifierFunc(func(ctx context.Context, r Round) error {
		return errors.New("cache down")
	})
	planner := NewPlanner(NewMemoryStore(), NewGenerator(), DefaultPolicy(), failing)

	created, err := planner.EnsureRounds(context.Background(), refTime)
	require.NoError(t, err)
	assert.Len(t, created, 5)
}

func TestPlanner_Slots_CustomPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.Candidates = 3
	policy.Spacing = 2 * time.Minute
	planner := NewPlanner(NewMemoryStore(), NewGenerator(), policy, nil)

	slots := planner.Slots(refTime)
	require.Len(t, slots, 3)
	assert.True(t, slots[0].Equal(refTime.Add(time.Minute)))
	assert.True(t, slots[1].Equal(refTime.Add(3*time.Minute)))
	assert.True(t, slots[2].Equal(refTime.Add(5*time.Minute)))
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{name: "Default", mutate: func(*Policy) {}},
		{name: "No candidates", mutate: func(p *Policy) { p.Candidates = 0 }, wantErr: true},
		{name: "Zero spin", mutate: func(p *Policy) { p.SpinDuration = 0 }, wantErr: true},
		{name: "Slots collide", mutate: func(p *Policy) { p.SlotWindow = 90 * time.Second }, wantErr: true},
		{name: "Rounds overlap", mutate: func(p *Policy) { p.BettingWindow = 150 * time.Second }, wantErr: true},
		{name: "Zero lead allowed", mutate: func(p *Policy) { p.Lead = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
