package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Advancer moves due rounds one lifecycle step forward. Every operation is a
// query for due rounds followed by one compare-and-set write per round, so
// overlapping calls are safe and rounds left behind by a failure are picked
// up again on the next call.
type Advancer struct {
	store    RoundStore
	policy   Policy
	notifier Notifier
}

func NewAdvancer(store RoundStore, policy Policy, notifier Notifier) *Advancer {
	return &Advancer{
		store:    store,
		policy:   policy,
		notifier: notifier,
	}
}

// OpenBetting opens planned rounds whose betting window has started.
func (a *Advancer) OpenBetting(ctx context.Context, now time.Time) ([]Round, error) {
	return a.advance(ctx, now, StatusPlanned, FieldBettingStart, now)
}

// CloseBetting closes open rounds whose betting window has ended.
func (a *Advancer) CloseBetting(ctx context.Context, now time.Time) ([]Round, error) {
	return a.advance(ctx, now, StatusBettingOpen, FieldBettingEnd, now)
}

// StartRounds starts spinning closed rounds whose start time has passed.
func (a *Advancer) StartRounds(ctx context.Context, now time.Time) ([]Round, error) {
	return a.advance(ctx, now, StatusBettingClosed, FieldStart, now)
}

// FinishRounds finishes rounds that have spun for the full spin duration.
// Finished rounds reveal their outcome and secret key.
func (a *Advancer) FinishRounds(ctx context.Context, now time.Time) ([]Round, error) {
	return a.advance(ctx, now, StatusSpinning, FieldStart, now.Add(-a.policy.SpinDuration))
}

func (a *Advancer) advance(ctx context.Context, now time.Time, from Status, field TimeField, before time.Time) ([]Round, error) {
	to, ok := from.Next()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no successor", ErrInvalidTransition, from)
	}

	due, err := a.store.FindDue(ctx, from, field, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("find %s rounds due by %s: %w", from, field, err)
	}

	var (
		advanced []Round
		errs     []error
	)
	for _, r := range due {
		updated, err := a.store.UpdateStatus(ctx, r.ID, from, to, now.UTC())
		if errors.Is(err, ErrInvalidTransition) {
			log.Debug().
				Str("round_id", r.ID).
				Str("from", string(from)).
				Str("to", string(to)).
				Msg("round already moved on")
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("advance round %s to %s: %w", r.ID, to, err))
			continue
		}

		event := log.Info().
			Str("round_id", updated.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Time("at", now)
		if to.Revealed() {
			event = event.Int("winning_number", updated.WinningNumber).Str("winning_color", string(updated.WinningColor))
		}
		event.Msg("advanced round")

		notify(ctx, a.notifier, updated)
		advanced = append(advanced, updated)
	}

	return advanced, errors.Join(errs...)
}
