package game

import (
	"time"
)

type Status string

const (
	StatusPlanned       Status = "PLANNED"
	StatusBettingOpen   Status = "BETTING_OPEN"
	StatusBettingClosed Status = "BETTING_CLOSED"
	StatusSpinning      Status = "SPINNING"
	StatusFinished      Status = "FINISHED"
	StatusSettled       Status = "SETTLED"
	StatusCancelled     Status = "CANCELLED"
)

// lifecycle is the forward order driven by the scheduler. Settled and
// Cancelled are owned by the settlement side and are not part of it.
var lifecycle = []Status{
	StatusPlanned,
	StatusBettingOpen,
	StatusBettingClosed,
	StatusSpinning,
	StatusFinished,
}

// Next returns the status that follows s in the scheduler lifecycle.
func (s Status) Next() (Status, bool) {
	for i, st := range lifecycle {
		if st == s && i+1 < len(lifecycle) {
			return lifecycle[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether moving from s to to is a single forward step.
func (s Status) CanTransition(to Status) bool {
	next, ok := s.Next()
	return ok && next == to
}

// Revealed reports whether the outcome and secret key may be published.
func (s Status) Revealed() bool {
	switch s {
	case StatusFinished, StatusSettled, StatusCancelled:
		return true
	}
	return false
}

var statuses = []Status{
	StatusPlanned,
	StatusBettingOpen,
	StatusBettingClosed,
	StatusSpinning,
	StatusFinished,
	StatusSettled,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// CanBecome reports whether a stored round in s may be saved as to: one
// lifecycle step, FINISHED to SETTLED, or a cancellation before FINISHED.
func (s Status) CanBecome(to Status) bool {
	switch to {
	case StatusSettled:
		return s == StatusFinished
	case StatusCancelled:
		return s.Valid() && s.Rank() < StatusFinished.Rank()
	}
	return s.CanTransition(to)
}

// Predecessors lists the statuses that may become s.
func (s Status) Predecessors() []Status {
	var out []Status
	for _, st := range statuses {
		if st.CanBecome(s) {
			out = append(out, st)
		}
	}
	return out
}

// Rank orders statuses by progress. SETTLED and CANCELLED share the last
// rank; an unknown status ranks -1.
func (s Status) Rank() int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	if s == StatusSettled || s == StatusCancelled {
		return len(lifecycle)
	}
	return -1
}

type Color string

const (
	ColorRed   Color = "RED"
	ColorBlack Color = "BLACK"
	ColorGreen Color = "GREEN"
)

// TimeField names one of the schedule instants a due query can filter on.
type TimeField string

const (
	FieldBettingStart TimeField = "betting_start"
	FieldBettingEnd   TimeField = "betting_end"
	FieldStart        TimeField = "start"
)

// Round is one game instance with a fixed schedule and a committed outcome.
type Round struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	WinningNumber  int    `json:"-"`
	WinningColor   Color  `json:"-"`
	SecretKey      string `json:"-"` // Never expose until reveal
	CommitmentHash string `json:"commitment_hash"`

	BettingStart time.Time `json:"betting_start"`
	BettingEnd   time.Time `json:"betting_end"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// At returns the value of the schedule instant named by f.
func (r Round) At(f TimeField) time.Time {
	switch f {
	case FieldBettingStart:
		return r.BettingStart
	case FieldBettingEnd:
		return r.BettingEnd
	default:
		return r.Start
	}
}

// Verify recomputes the commitment from the stored outcome.
func (r Round) Verify() bool {
	return VerifyCommitment(r.WinningNumber, r.WinningColor, r.SecretKey, r.CommitmentHash)
}

// PublicRound is the view handed to API clients, websocket subscribers and
// event consumers. Outcome fields stay nil until the round is revealed.
type PublicRound struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	WinningNumber  *int      `json:"winning_number,omitempty"`
	WinningColor   *Color    `json:"winning_color,omitempty"`
	SecretKey      *string   `json:"secret_key,omitempty"`
	CommitmentHash string    `json:"commitment_hash"`
	BettingStart   time.Time `json:"betting_start"`
	BettingEnd     time.Time `json:"betting_end"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

// Public projects r onto the fields its status allows to be published.
func (r Round) Public() PublicRound {
	p := PublicRound{
		ID:             r.ID,
		Status:         r.Status,
		CommitmentHash: r.CommitmentHash,
		BettingStart:   r.BettingStart,
		BettingEnd:     r.BettingEnd,
		Start:          r.Start,
		End:            r.End,
	}
	if r.Status.Revealed() {
		number, color, key := r.WinningNumber, r.WinningColor, r.SecretKey
		p.WinningNumber = &number
		p.WinningColor = &color
		p.SecretKey = &key
	}
	return p
}

func PublicRounds(rounds []Round) []PublicRound {
	out := make([]PublicRound, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, r.Public())
	}
	return out
}
