package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy holds the horizon and round-shape constants.
type Policy struct {
	Candidates    int           // slots considered per run
	Spacing       time.Duration // distance between consecutive slots
	Lead          time.Duration // first slot is reference time + Lead
	SlotWindow    time.Duration // half-width of the window a round occupies around its start
	BettingWindow time.Duration
	SpinDuration  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Candidates:    5,
		Spacing:       3 * time.Minute,
		Lead:          1 * time.Minute,
		SlotWindow:    30 * time.Second,
		BettingWindow: 1 * time.Minute,
		SpinDuration:  1 * time.Minute,
	}
}

// Validate rejects policies under which planned rounds could overlap or
// claim each other's slots.
func (p Policy) Validate() error {
	switch {
	case p.Candidates <= 0:
		return fmt.Errorf("candidates must be positive, got %d", p.Candidates)
	case p.Spacing <= 0, p.Lead < 0, p.SlotWindow <= 0, p.BettingWindow <= 0, p.SpinDuration <= 0:
		return errors.New("policy durations must be positive")
	case p.Spacing <= 2*p.SlotWindow:
		return fmt.Errorf("spacing %s must exceed twice the slot window %s", p.Spacing, p.SlotWindow)
	case p.Spacing < p.BettingWindow+p.SpinDuration:
		return fmt.Errorf("spacing %s is shorter than a round (%s)", p.Spacing, p.BettingWindow+p.SpinDuration)
	}
	return nil
}

// OutcomeGenerator is satisfied by *Generator.
type OutcomeGenerator interface {
	Generate() (Outcome, error)
}

// Planner keeps the rolling horizon of future rounds populated.
type Planner struct {
	store     RoundStore
	generator OutcomeGenerator
	policy    Policy
	notifier  Notifier
}

func NewPlanner(store RoundStore, generator OutcomeGenerator, policy Policy, notifier Notifier) *Planner {
	return &Planner{
		store:     store,
		generator: generator,
		policy:    policy,
		notifier:  notifier,
	}
}

// Slots returns the candidate start times for a run at ref.
func (p *Planner) Slots(ref time.Time) []time.Time {
	slots := make([]time.Time, 0, p.policy.Candidates)
	for i := 0; i < p.policy.Candidates; i++ {
		slots = append(slots, ref.Add(p.policy.Lead+time.Duration(i)*p.policy.Spacing))
	}
	return slots
}

// EnsureRounds creates a round for every candidate slot that has none yet and
// returns the rounds it created. Calling it again for the same reference
// time creates nothing. On error the rounds created so far are returned with it.
func (p *Planner) EnsureRounds(ctx context.Context, ref time.Time) ([]Round, error) {
	ref = ref.UTC()
	log.Debug().Time("reference", ref).Msg("ensuring rounds")

	var created []Round
	for _, start := range p.Slots(ref) {
		from, to := p.conflictWindow(start)

		taken, err := p.store.ExistsByStartBetween(ctx, from, to)
		if err != nil {
			return created, fmt.Errorf("check slot %s: %w", start.Format(time.RFC3339), err)
		}
		if taken {
			continue
		}

		round, err := p.newRound(start)
		if err != nil {
			return created, err
		}

		saved, err := p.store.CreateInSlot(ctx, round, from, to)
		if errors.Is(err, ErrDuplicateSlot) {
			log.Debug().Time("start", start).Msg("slot taken by concurrent run")
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create round at %s: %w", start.Format(time.RFC3339), err)
		}

		log.Debug().
			Str("round_id", saved.ID).
			Time("start", saved.Start).
			Str("commitment", shortHash(saved.CommitmentHash)).
			Msg("created round")
		notify(ctx, p.notifier, saved)
		created = append(created, saved)
	}

	log.Info().Int("created", len(created)).Time("reference", ref).Msg("ensured rounds")
	return created, nil
}

// conflictWindow returns the starts that would make a round at start
// overlap: two [s-SlotWindow, s+SlotWindow] windows intersect when the
// starts are at most 2*SlotWindow apart.
func (p *Planner) conflictWindow(start time.Time) (time.Time, time.Time) {
	return start.Add(-2 * p.policy.SlotWindow), start.Add(2 * p.policy.SlotWindow)
}

func (p *Planner) newRound(start time.Time) (Round, error) {
	outcome, err := p.generator.Generate()
	if err != nil {
		return Round{}, fmt.Errorf("generate outcome for %s: %w", start.Format(time.RFC3339), err)
	}
	return Round{
		Status:         StatusPlanned,
		WinningNumber:  outcome.Number,
		WinningColor:   outcome.Color,
		SecretKey:      outcome.SecretKey,
		CommitmentHash: outcome.CommitmentHash,
		BettingStart:   start.Add(-p.policy.BettingWindow),
		BettingEnd:     start,
		Start:          start,
		End:            start.Add(p.policy.SpinDuration),
	}, nil
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}
