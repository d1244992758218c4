package game

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Notifiers fans a change out to every notifier and joins their errors.
type Notifiers []Notifier

func (n Notifiers) RoundChanged(ctx context.Context, r Round) error {
	var errs []error
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		if err := notifier.RoundChanged(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notify never fails the caller; a round that was persisted stays persisted.
func notify(ctx context.Context, n Notifier, r Round) {
	if n == nil {
		return
	}
	if err := n.RoundChanged(ctx, r); err != nil {
		log.Warn().
			Err(err).
			Str("round_id", r.ID).
			Str("status", string(r.Status)).
			Msg("round notification failed")
	}
}
