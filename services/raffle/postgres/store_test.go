package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/neoraffle/services/raffle"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

var snapshotColumns = []string{
	"account", "state", "players", "last_timestamp", "recent_winner",
	"pending_request", "requested_at", "sequence", "updated_at",
}

func TestSaveSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)

	mock.ExpectExec("INSERT INTO raffle_snapshots").
		WithArgs("pool", int16(1), sqlmock.AnyArg(), now, "", int64(7), sqlmock.AnyArg(), int64(3), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveSnapshot(context.Background(), raffle.Snapshot{
		Account:        "pool",
		State:          raffle.StateCalculating,
		Players:        []string{"alice", "bob"},
		LastTimestamp:  now,
		PendingRequest: 7,
		RequestedAt:    now,
		Sequence:       3,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM raffle_snapshots").
		WithArgs("pool").
		WillReturnRows(sqlmock.NewRows(snapshotColumns).
			AddRow("pool", int64(1), "{alice,bob}", now, "", int64(7), now, int64(3), now))

	snap, err := s.LoadSnapshot(context.Background(), "pool")
	require.NoError(t, err)
	assert.Equal(t, raffle.StateCalculating, snap.State)
	assert.Equal(t, []string{"alice", "bob"}, snap.Players)
	assert.Equal(t, uint64(7), snap.PendingRequest)
	assert.Equal(t, now, snap.RequestedAt)
	assert.Equal(t, uint64(3), snap.Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSnapshot_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM raffle_snapshots").
		WithArgs("pool").
		WillReturnRows(sqlmock.NewRows(snapshotColumns))

	_, err := s.LoadSnapshot(context.Background(), "pool")
	assert.ErrorIs(t, err, raffle.ErrSnapshotNotFound)
}

func TestStore_RestoresEngine(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM raffle_snapshots").
		WithArgs("pool").
		WillReturnRows(sqlmock.NewRows(snapshotColumns).
			AddRow("pool", int64(0), "{carol}", now, "dave", int64(0), nil, int64(9), now))

	e, err := raffle.New(raffle.Config{Account: "pool", EntranceFee: 1, Interval: time.Second},
		nopLedger{}, raffle.NewStubProvider(), raffle.WithStore(s))
	require.NoError(t, err)
	require.NoError(t, e.Restore(context.Background()))

	assert.Equal(t, []string{"carol"}, e.Players())
	assert.Equal(t, "dave", e.RecentWinner())
	assert.Equal(t, now, e.LastTimestamp())
	require.NoError(t, mock.ExpectationsWereMet())
}

type nopLedger struct{}

func (nopLedger) Balance(context.Context, string) (int64, error)         { return 0, nil }
func (nopLedger) Transfer(context.Context, string, string, int64) error { return nil }
