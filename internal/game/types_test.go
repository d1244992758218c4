package game

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Next(t *testing.T) {
	tests := []struct {
		from   Status
		want   Status
		wantOK bool
	}{
		{from: StatusPlanned, want: StatusBettingOpen, wantOK: true},
		{from: StatusBettingOpen, want: StatusBettingClosed, wantOK: true},
		{from: StatusBettingClosed, want: StatusSpinning, wantOK: true},
		{from: StatusSpinning, want: StatusFinished, wantOK: true},
		{from: StatusFinished, wantOK: false},
		{from: StatusSettled, wantOK: false},
		{from: StatusCancelled, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			got, ok := tt.from.Next()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_CanTransition(t *testing.T) {
	assert.True(t, StatusPlanned.CanTransition(StatusBettingOpen))
	assert.False(t, StatusPlanned.CanTransition(StatusBettingClosed), "skips a state")
	assert.False(t, StatusSpinning.CanTransition(StatusBettingOpen), "moves backwards")
}

func TestStatus_CanBecome(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{from: StatusPlanned, to: StatusBettingOpen, want: true},
		{from: StatusPlanned, to: StatusFinished, want: false},
		{from: StatusSpinning, to: StatusFinished, want: true},
		{from: StatusFinished, to: StatusSpinning, want: false},
		{from: StatusFinished, to: StatusSettled, want: true},
		{from: StatusSpinning, to: StatusSettled, want: false},
		{from: StatusPlanned, to: StatusCancelled, want: true},
		{from: StatusSpinning, to: StatusCancelled, want: true},
		{from: StatusFinished, to: StatusCancelled, want: false},
		{from: StatusCancelled, to: StatusPlanned, want: false},
		{from: StatusSettled, to: StatusSettled, want: false},
		{from: Status("REFUNDED"), to: StatusCancelled, want: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanBecome(tt.to))
		})
	}
}

func TestStatus_Predecessors(t *testing.T) {
	assert.Equal(t, []Status{StatusSpinning}, StatusFinished.Predecessors())
	assert.Equal(t, []Status{StatusFinished}, StatusSettled.Predecessors())
	assert.ElementsMatch(t,
		[]Status{StatusPlanned, StatusBettingOpen, StatusBettingClosed, StatusSpinning},
		StatusCancelled.Predecessors())
	assert.Empty(t, StatusPlanned.Predecessors())
}

func TestStatus_ValidAndRank(t *testing.T) {
	for i, s := range []Status{StatusPlanned, StatusBettingOpen, StatusBettingClosed, StatusSpinning, StatusFinished} {
		assert.True(t, s.Valid(), s)
		assert.Equal(t, i, s.Rank(), s)
	}
	assert.Equal(t, StatusSettled.Rank(), StatusCancelled.Rank())
	assert.Greater(t, StatusSettled.Rank(), StatusFinished.Rank())

	assert.False(t, Status("REFUNDED").Valid())
	assert.Equal(t, -1, Status("REFUNDED").Rank())
}

func TestStatus_Revealed(t *testing.T) {
	revealed := map[Status]bool{
		StatusPlanned:       false,
		StatusBettingOpen:   false,
		StatusBettingClosed: false,
		StatusSpinning:      false,
		StatusFinished:      true,
		StatusSettled:       true,
		StatusCancelled:     true,
	}
	for status, want := range revealed {
		assert.Equal(t, want, status.Revealed(), status)
	}
}

func testRound(status Status) Round {
	start := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	key := strings.Repeat("a1", 32)
	return Round{
		ID:             "round-1",
		Status:         status,
		WinningNumber:  14,
		WinningColor:   ColorRed,
		SecretKey:      key,
		CommitmentHash: HashCommitment(14, ColorRed, key),
		BettingStart:   start.Add(-time.Minute),
		BettingEnd:     start,
		Start:          start,
		End:            start.Add(time.Minute),
	}
}

func TestRound_Public_Hidden(t *testing.T) {
	for _, status := range []Status{StatusPlanned, StatusBettingOpen, StatusBettingClosed, StatusSpinning} {
		t.Run(string(status), func(t *testing.T) {
			p := testRound(status).Public()
			assert.Nil(t, p.WinningNumber)
			assert.Nil(t, p.WinningColor)
			assert.Nil(t, p.SecretKey)
			assert.NotEmpty(t, p.CommitmentHash)

			data, err := json.Marshal(p)
			require.NoError(t, err)
			for _, field := range []string{"winning_number", "winning_color", "secret_key"} {
				assert.NotContains(t, string(data), field)
			}
		})
	}
}

func TestRound_Public_Revealed(t *testing.T) {
	r := testRound(StatusFinished)
	p := r.Public()

	require.NotNil(t, p.WinningNumber)
	require.NotNil(t, p.WinningColor)
	require.NotNil(t, p.SecretKey)
	assert.Equal(t, r.WinningNumber, *p.WinningNumber)
	assert.Equal(t, r.WinningColor, *p.WinningColor)
	assert.Equal(t, r.SecretKey, *p.SecretKey)
	assert.True(t, VerifyCommitment(*p.WinningNumber, *p.WinningColor, *p.SecretKey, p.CommitmentHash))
}

func TestRound_JSONHidesSecret(t *testing.T) {
	r := testRound(StatusFinished)
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), r.SecretKey)
}

func TestRound_At(t *testing.T) {
	r := testRound(StatusPlanned)
	assert.True(t, r.At(FieldBettingStart).Equal(r.BettingStart))
	assert.True(t, r.At(FieldBettingEnd).Equal(r.BettingEnd))
	assert.True(t, r.At(FieldStart).Equal(r.Start))
}
