package game

import (
	"context"
	"errors"
	"time"
)

var (
	ErrFairnessGeneration = errors.New("fairness generation failed")
	ErrStoreUnavailable   = errors.New("round store unavailable")
	ErrDuplicateSlot      = errors.New("slot already has a round")
	ErrInvalidTransition  = errors.New("invalid round transition")
	ErrRoundNotFound      = errors.New("round not found")
)

// RoundStore is the persistence boundary for rounds. Implementations own the
// records; callers only hold copies.
type RoundStore interface {
	FindByID(ctx context.Context, id string) (Round, error)
	FindByStatus(ctx context.Context, status Status) ([]Round, error)
	// FindDue returns rounds in status whose field is at or before before.
	FindDue(ctx context.Context, status Status, field TimeField, before time.Time) ([]Round, error)
	ExistsByStartBetween(ctx context.Context, from, to time.Time) (bool, error)
	// CreateInSlot inserts r unless some round starts within [from, to]. The
	// check and the insert are atomic; a taken slot yields ErrDuplicateSlot.
	CreateInSlot(ctx context.Context, r Round, from, to time.Time) (Round, error)
	// UpdateStatus moves a round from one status to another only if it is
	// still in from; otherwise it returns ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (Round, error)
	Save(ctx context.Context, r Round) (Round, error)
}

// Notifier is told about every round the scheduler creates or advances.
type Notifier interface {
	RoundChanged(ctx context.Context, r Round) error
}

type NotifierFunc func(ctx context.Context, r Round) error

func (f NotifierFunc) RoundChanged(ctx context.Context, r Round) error {
	return f(ctx, r)
}
