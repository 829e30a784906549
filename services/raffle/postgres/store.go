// Package postgres persists raffle snapshots in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/neoraffle/services/raffle"
)

// Store implements raffle.Store on the raffle_snapshots table.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a PostgreSQL-backed snapshot store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type snapshotRow struct {
	Account        string         `db:"account"`
	State          int16          `db:"state"`
	Players        pq.StringArray `db:"players"`
	LastTimestamp  time.Time      `db:"last_timestamp"`
	RecentWinner   string         `db:"recent_winner"`
	PendingRequest int64          `db:"pending_request"`
	RequestedAt    sql.NullTime   `db:"requested_at"`
	Sequence       int64          `db:"sequence"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (s *Store) SaveSnapshot(ctx context.Context, snap raffle.Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	players := snap.Players
	if players == nil {
		players = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_snapshots (account, state, players, last_timestamp, recent_winner, pending_request, requested_at, sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account) DO UPDATE SET
			state = EXCLUDED.state,
			players = EXCLUDED.players,
			last_timestamp = EXCLUDED.last_timestamp,
			recent_winner = EXCLUDED.recent_winner,
			pending_request = EXCLUDED.pending_request,
			requested_at = EXCLUDED.requested_at,
			sequence = EXCLUDED.sequence,
			updated_at = EXCLUDED.updated_at
	`, snap.Account, int16(snap.State), pq.Array(players), snap.LastTimestamp, snap.RecentWinner,
		int64(snap.PendingRequest), toNullTime(snap.RequestedAt), int64(snap.Sequence), snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Account, err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, account string) (raffle.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT account, state, players, last_timestamp, recent_winner, pending_request, requested_at, sequence, updated_at
		FROM raffle_snapshots
		WHERE account = $1
	`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Snapshot{}, raffle.ErrSnapshotNotFound
	}
	if err != nil {
		return raffle.Snapshot{}, fmt.Errorf("load snapshot %s: %w", account, err)
	}

	snap := raffle.Snapshot{
		Account:        row.Account,
		State:          raffle.State(row.State),
		Players:        []string(row.Players),
		LastTimestamp:  row.LastTimestamp.UTC(),
		RecentWinner:   row.RecentWinner,
		PendingRequest: uint64(row.PendingRequest),
		Sequence:       uint64(row.Sequence),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.RequestedAt.Valid {
		snap.RequestedAt = row.RequestedAt.Time.UTC()
	}
	return snap, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
