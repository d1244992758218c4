package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roulette/internal/game"
)

// roundCreateLock serializes round creation across every process sharing
// the database.
const roundCreateLock int64 = 0x726f756c65747465

const roundColumns = `id::text, status, winning_number, winning_color, secret_key, commitment_hash,
	betting_start, betting_end, start_at, end_at, created_at, updated_at`

var dueColumns = map[game.TimeField]string{
	game.FieldBettingStart: "betting_start",
	game.FieldBettingEnd:   "betting_end",
	game.FieldStart:        "start_at",
}

// RoundStore persists rounds in Postgres.
type RoundStore struct {
	pool *pgxpool.Pool
}

func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

func (s *RoundStore) FindByID(ctx context.Context, id string) (game.Round, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return game.Round{}, game.ErrRoundNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, uid)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Round{}, game.ErrRoundNotFound
	}
	if err != nil {
		return game.Round{}, unavailable("find round", err)
	}
	return r, nil
}

func (s *RoundStore) FindByStatus(ctx context.Context, status game.Status) ([]game.Round, error) {
	return s.query(ctx, "find rounds by status",
		`SELECT `+roundColumns+` FROM rounds WHERE status = $1 ORDER BY start_at`, string(status))
}

func (s *RoundStore) FindDue(ctx context.Context, status game.Status, field game.TimeField, before time.Time) ([]game.Round, error) {
	column, ok := dueColumns[field]
	if !ok {
		return nil, fmt.Errorf("unknown round time field %q", field)
	}
	return s.query(ctx, "find due rounds",
		`SELECT `+roundColumns+` FROM rounds WHERE status = $1 AND `+column+` <= $2 ORDER BY start_at`,
		string(status), before)
}

func (s *RoundStore) ExistsByStartBetween(ctx context.Context, from, to time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rounds WHERE start_at BETWEEN $1 AND $2)`, from, to).Scan(&exists)
	if err != nil {
		return false, unavailable("check slot", err)
	}
	return exists, nil
}

// CreateInSlot holds a transaction-scoped advisory lock across the slot check
// and the insert, so concurrent planners cannot both claim a slot.
func (s *RoundStore) CreateInSlot(ctx context.Context, r game.Round, from, to time.Time) (game.Round, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return game.Round{}, unavailable("begin create", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, roundCreateLock); err != nil {
		return game.Round{}, unavailable("lock slot", err)
	}

	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rounds WHERE start_at BETWEEN $1 AND $2)`, from, to).Scan(&taken)
	if err != nil {
		return game.Round{}, unavailable("check slot", err)
	}
	if taken {
		return game.Round{}, game.ErrDuplicateSlot
	}

	saved, err := insertRound(ctx, tx, r)
	if err != nil {
		return game.Round{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return game.Round{}, unavailable("commit create", err)
	}
	return saved, nil
}

func (s *RoundStore) UpdateStatus(ctx context.Context, id string, from, to game.Status, at time.Time) (game.Round, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return game.Round{}, game.ErrRoundNotFound
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE rounds SET status = $3, updated_at = $4
		 WHERE id = $1 AND status = $2
		 RETURNING `+roundColumns,
		uid, string(from), string(to), at)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, findErr := s.FindByID(ctx, id)
		if findErr != nil {
			return game.Round{}, findErr
		}
		return current, game.ErrInvalidTransition
	}
	if err != nil {
		return game.Round{}, unavailable("update round status", err)
	}
	return r, nil
}

// Save inserts r when it has no id. For an existing round only the status is
// written, and only from a status allowed by Status.CanBecome; the commitment
// and schedule are frozen by a trigger.
func (s *RoundStore) Save(ctx context.Context, r game.Round) (game.Round, error) {
	if r.ID == "" {
		return insertRound(ctx, s.pool, r)
	}
	uid, err := uuid.Parse(r.ID)
	if err != nil {
		return game.Round{}, game.ErrRoundNotFound
	}
	from := make([]string, 0, 2)
	for _, st := range r.Status.Predecessors() {
		from = append(from, string(st))
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE rounds SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = ANY($3::text[])
		 RETURNING `+roundColumns,
		uid, string(r.Status), from)
	saved, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, findErr := s.FindByID(ctx, r.ID)
		if findErr != nil {
			return game.Round{}, findErr
		}
		return current, fmt.Errorf("%w: %s to %s", game.ErrInvalidTransition, current.Status, r.Status)
	}
	if err != nil {
		return game.Round{}, unavailable("save round", err)
	}
	return saved, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertRound(ctx context.Context, q querier, r game.Round) (game.Round, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO rounds (
			id, status, winning_number, winning_color, secret_key, commitment_hash,
			betting_start, betting_end, start_at, end_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+roundColumns,
		uuid.New(), string(r.Status), r.WinningNumber, string(r.WinningColor), r.SecretKey, r.CommitmentHash,
		r.BettingStart, r.BettingEnd, r.Start, r.End,
	)
	saved, err := scanRound(row)
	if err != nil {
		return game.Round{}, unavailable("insert round", err)
	}
	return saved, nil
}

func (s *RoundStore) query(ctx context.Context, op, sql string, args ...any) ([]game.Round, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	rounds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.Round, error) {
		return scanRound(row)
	})
	if err != nil {
		return nil, unavailable(op, err)
	}
	return rounds, nil
}

func scanRound(row pgx.Row) (game.Round, error) {
	var (
		r      game.Round
		status string
		color  string
	)
	err := row.Scan(
		&r.ID, &status, &r.WinningNumber, &color, &r.SecretKey, &r.CommitmentHash,
		&r.BettingStart, &r.BettingEnd, &r.Start, &r.End, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return game.Round{}, err
	}
	r.Status = game.Status(status)
	if !r.Status.Valid() {
		return game.Round{}, fmt.Errorf("round %s has unknown status %q", r.ID, status)
	}
	r.WinningColor = game.Color(color)
	r.BettingStart = r.BettingStart.UTC()
	r.BettingEnd = r.BettingEnd.UTC()
	r.Start = r.Start.UTC()
	r.End = r.End.UTC()
	return r, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", game.ErrStoreUnavailable, op, err)
}
