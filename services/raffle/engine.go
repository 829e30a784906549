package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/ledger"
	"github.com/R3E-Network/neoraffle/internal/logging"
	"github.com/R3E-Network/neoraffle/internal/metrics"
)

// Engine is the raffle state machine. All mutating operations run under one
// mutex and check every precondition before changing anything.
type Engine struct {
	cfg      Config
	ledger   ledger.Ledger
	provider RandomnessProvider
	notifier events.Notifier
	store    Store
	clock    Clock
	log      *logging.Logger

	mu             sync.Mutex
	state          State
	players        []string
	lastTimestamp  time.Time
	recentWinner   string
	pendingRequest uint64
	requestedAt    time.Time
	sequence       uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier sets where notifications are delivered.
func WithNotifier(n events.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithStore enables snapshot persistence.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an open engine with an empty pool. The timing cursor starts at
// construction time.
func New(cfg Config, l ledger.Ledger, provider RandomnessProvider, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil || provider == nil {
		return nil, fmt.Errorf("%w: ledger and randomness provider are required", ErrInvalidConfig)
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   l,
		provider: provider,
		notifier: events.NoOp{},
		clock:    SystemClock{},
		state:    StateOpen,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.NewDefault("raffle")
	}
	e.lastTimestamp = e.clock.Now()
	return e, nil
}

// Restore loads the last snapshot saved for this engine's account. A missing
// snapshot keeps the fresh state.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.LoadSnapshot(ctx, e.cfg.Account)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap.State == StateCalculating && (snap.PendingRequest == 0 || len(snap.Players) == 0) {
		return fmt.Errorf("%w: calculating without pending request or players", ErrInconsistentRestore)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = snap.State
	e.players = append([]string(nil), snap.Players...)
	e.lastTimestamp = snap.LastTimestamp
	e.recentWinner = snap.RecentWinner
	e.pendingRequest = snap.PendingRequest
	e.requestedAt = snap.RequestedAt
	e.sequence = snap.Sequence
	metrics.SetPool(len(e.players), e.state == StateCalculating)

	e.log.WithField("state", e.state.String()).
		WithField("players", len(e.players)).
		WithField("pending_request", e.pendingRequest).
		Info("raffle restored")
	return nil
}

// Enter moves amount from player into the pool and appends player once.
// Any amount above the entrance fee stays in the pool.
func (e *Engine) Enter(ctx context.Context, player string, amount int64) error {
	if amount < e.cfg.EntranceFee {
		metrics.RecordEntry("insufficient_fee")
		return fmt.Errorf("%w: paid %s, fee is %s", ErrInsufficientFee,
			ledger.FormatAmount(amount), ledger.FormatAmount(e.cfg.EntranceFee))
	}
	if strings.TrimSpace(player) == "" {
		metrics.RecordEntry("invalid_participant")
		return ErrInvalidParticipant
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpen {
		metrics.RecordEntry("not_open")
		return ErrRaffleNotOpen
	}
	if err := e.ledger.Transfer(ctx, player, e.cfg.Account, amount); err != nil {
		metrics.RecordEntry("transfer_failed")
		return fmt.Errorf("collect entrance fee: %w", err)
	}

	e.players = append(e.players, player)
	e.notifyLocked(ctx, events.Notification{Type: events.TypeParticipantEntered, Player: player, Amount: amount})
	e.persistLocked(ctx)
	metrics.RecordEntry("accepted")
	metrics.SetPool(len(e.players), false)

	e.log.WithField("player", player).
		WithField("amount", ledger.FormatAmount(amount)).
		WithField("players", len(e.players)).
		Info("participant entered")
	return nil
}

// CheckUpkeep evaluates the draw predicate without changing anything.
// checkData is passed back as the perform data.
func (e *Engine) CheckUpkeep(ctx context.Context, checkData []byte) UpkeepCheck {
	e.mu.Lock()
	defer e.mu.Unlock()
	check := e.evaluateLocked(ctx)
	check.PerformData = checkData
	return check
}

func (e *Engine) evaluateLocked(ctx context.Context) UpkeepCheck {
	elapsed := e.clock.Now().Sub(e.lastTimestamp)
	balance, err := e.ledger.Balance(ctx, e.cfg.Account)
	if err != nil {
		e.log.WithError(err).Warn("read pool balance")
		balance = 0
	}
	c := UpkeepCheck{
		IsOpen:     e.state == StateOpen,
		TimePassed: elapsed >= e.cfg.Interval,
		HasPlayers: len(e.players) > 0,
		HasBalance: err == nil && balance > 0,
		Balance:    balance,
		Players:    len(e.players),
		State:      e.state,
		Elapsed:    elapsed,
	}
	c.Needed = c.IsOpen && c.TimePassed && c.HasPlayers && c.HasBalance
	return c
}

// PerformUpkeep re-evaluates the draw predicate, closes entry and requests
// randomness. It returns the provider's request id. Anyone may call it.
func (e *Engine) PerformUpkeep(ctx context.Context, performData []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	check := e.evaluateLocked(ctx)
	if !check.Needed {
		return 0, &UpkeepNotNeededError{Balance: check.Balance, Players: check.Players, State: check.State}
	}

	e.state = StateCalculating
	requestID, err := e.provider.RequestRandomness(ctx, e.cfg.Randomness)
	if err != nil {
		e.state = StateOpen
		metrics.RecordDraw("request_failed")
		e.log.WithError(err).Warn("randomness request failed, raffle reopened")
		return 0, fmt.Errorf("request randomness: %w", err)
	}

	e.pendingRequest = requestID
	e.requestedAt = e.clock.Now()
	e.notifyLocked(ctx, events.Notification{Type: events.TypeDrawRequested, RequestID: requestID})
	e.persistLocked(ctx)
	metrics.RecordDraw("requested")
	metrics.SetPool(len(e.players), true)

	e.log.WithField("request_id", requestID).
		WithField("players", len(e.players)).
		WithField("balance", ledger.FormatAmount(check.Balance)).
		Info("draw requested")
	return requestID, nil
}

// FulfillRandomWords completes the pending draw: it selects
// players[words[0] mod len(players)], pays the whole pool to that player and
// reopens entry. The plain modulo has a bias that is negligible for pool sizes
// far below 2^256. If the payout fails nothing changes.
func (e *Engine) FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateCalculating || requestID == 0 || requestID != e.pendingRequest {
		return fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}
	if len(words) == 0 || words[0] == nil {
		return ErrInvalidRandomWords
	}
	if len(e.players) == 0 {
		return fmt.Errorf("%w: pool is empty", ErrInconsistentRestore)
	}

	idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(e.players)))).Int64()
	winner := e.players[idx]

	amount, err := e.ledger.Balance(ctx, e.cfg.Account)
	if err != nil {
		metrics.RecordDraw("payout_failed")
		return &PayoutError{Winner: winner, Err: err}
	}
	if amount > 0 {
		if err := e.ledger.Transfer(ctx, e.cfg.Account, winner, amount); err != nil {
			metrics.RecordDraw("payout_failed")
			e.log.WithError(err).
				WithField("request_id", requestID).
				WithField("winner", winner).
				Error("payout failed, draw left pending")
			return &PayoutError{Winner: winner, Amount: amount, Err: err}
		}
	}

	e.recentWinner = winner
	e.players = nil
	e.state = StateOpen
	e.lastTimestamp = e.clock.Now()
	e.pendingRequest = 0
	e.requestedAt = time.Time{}
	e.notifyLocked(ctx, events.Notification{Type: events.TypeWinnerPicked, RequestID: requestID, Winner: winner, Amount: amount})
	e.persistLocked(ctx)
	metrics.RecordDraw("completed")
	metrics.SetPool(0, false)

	e.log.WithField("request_id", requestID).
		WithField("winner", winner).
		WithField("winner_index", idx).
		WithField("amount", ledger.FormatAmount(amount)).
		Info("winner picked")
	return nil
}

// RecoverStaleDraw re-requests randomness for a draw that has waited at least
// RequestTimeout. The previous request id is forgotten, so a late fulfilment
// for it fails with ErrNonexistentRequest. The pool is left untouched.
func (e *Engine) RecoverStaleDraw(ctx context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.RequestTimeout <= 0 {
		return 0, ErrRecoveryDisabled
	}
	if e.state != StateCalculating {
		return 0, fmt.Errorf("%w: raffle is %s", ErrDrawNotStale, e.state)
	}
	waited := e.clock.Now().Sub(e.requestedAt)
	if waited < e.cfg.RequestTimeout {
		return 0, fmt.Errorf("%w: waited %s of %s", ErrDrawNotStale, waited, e.cfg.RequestTimeout)
	}

	requestID, err := e.provider.RequestRandomness(ctx, e.cfg.Randomness)
	if err != nil {
		return 0, fmt.Errorf("request randomness: %w", err)
	}
	stale := e.pendingRequest
	e.pendingRequest = requestID
	e.requestedAt = e.clock.Now()
	e.notifyLocked(ctx, events.Notification{Type: events.TypeDrawRequested, RequestID: requestID})
	e.persistLocked(ctx)
	metrics.RecordDraw("recovered")

	e.log.WithField("request_id", requestID).
		WithField("stale_request_id", stale).
		WithField("waited", waited.String()).
		Warn("stale draw re-requested")
	return requestID, nil
}

// EntranceFee returns the minimum entry payment in base units.
func (e *Engine) EntranceFee() int64 { return e.cfg.EntranceFee }

// Interval returns the minimum time between draws.
func (e *Engine) Interval() time.Duration { return e.cfg.Interval }

// RandomnessParams returns the parameters sent with every randomness request.
func (e *Engine) RandomnessParams() RandomnessParams { return e.cfg.Randomness }

// Account returns the ledger account holding the pool.
func (e *Engine) Account() string { return e.cfg.Account }

// RequestTimeout returns the stale draw timeout; zero means disabled.
func (e *Engine) RequestTimeout() time.Duration { return e.cfg.RequestTimeout }

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RecentWinner returns the last winner, or "" before the first draw.
func (e *Engine) RecentWinner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recentWinner
}

// NumberOfPlayers returns the number of entries in the current round.
func (e *Engine) NumberOfPlayers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

// Player returns the i-th entry in entry order.
func (e *Engine) Player(i int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.players) {
		return "", fmt.Errorf("%w: %d (players: %d)", ErrIndexOutOfRange, i, len(e.players))
	}
	return e.players[i], nil
}

// Players returns a copy of the pool.
func (e *Engine) Players() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.players...)
}

// LastTimestamp returns the time of the last completed draw, or the
// construction time before the first one.
func (e *Engine) LastTimestamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTimestamp
}

// PendingRequest returns the in-flight request id and when it was issued.
// The id is zero while the raffle is open.
func (e *Engine) PendingRequest() (uint64, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingRequest, e.requestedAt
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Account:        e.cfg.Account,
		State:          e.state,
		Players:        append([]string(nil), e.players...),
		LastTimestamp:  e.lastTimestamp,
		RecentWinner:   e.recentWinner,
		PendingRequest: e.pendingRequest,
		RequestedAt:    e.requestedAt,
		Sequence:       e.sequence,
		UpdatedAt:      e.clock.Now(),
	}
}

func (e *Engine) notifyLocked(ctx context.Context, n events.Notification) {
	e.sequence++
	n.Sequence = e.sequence
	n.Timestamp = e.clock.Now()
	e.notifier.Notify(ctx, n)
}

// persistLocked saves a snapshot after a committed change. The change stands
// even if the save fails.
func (e *Engine) persistLocked(ctx context.Context) {
	if e.store == nil {
		return
	}
	snap := e.snapshotLocked()
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		entry := e.log.WithError(err).
			WithField("sequence", snap.Sequence).
			WithField("state", snap.State.String()).
			WithField("players", len(snap.Players))
		if n := len(snap.Players); n > 0 {
			entry = entry.WithField("last_player", snap.Players[n-1])
		}
		if snap.PendingRequest != 0 {
			entry = entry.WithField("request_id", snap.PendingRequest)
		}
		entry.Warn("save raffle snapshot")
	}
}
