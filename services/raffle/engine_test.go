package raffle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/ledger"
	"github.com/R3E-Network/neoraffle/internal/logging"
	"github.com/R3E-Network/neoraffle/services/vrf"
)

const (
	testFee      = int64(1_000_000) // 0.01
	testInterval = 30 * time.Second
	poolAccount  = "raffle-pool"
)

type fixture struct {
	engine   *Engine
	ledger   *ledger.MemoryLedger
	clock    *ManualClock
	provider *StubProvider
	notes    *events.RingBuffer
	store    *MemoryStore
}

func testConfig() Config {
	return Config{
		Account:     poolAccount,
		EntranceFee: testFee,
		Interval:    testInterval,
		Randomness: RandomnessParams{
			KeyHash:              "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc",
			SubscriptionID:       42,
			RequestConfirmations: 3,
			CallbackGasLimit:     500_000,
			NumWords:             1,
		},
		RequestTimeout: 10 * time.Minute,
	}
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{
		ledger:   ledger.NewMemoryLedger(),
		clock:    NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		provider: NewStubProvider(),
		notes:    events.NewRingBuffer(100),
		store:    NewMemoryStore(),
	}
	e, err := New(cfg, f.ledger, f.provider,
		WithClock(f.clock),
		WithNotifier(f.notes),
		WithStore(f.store),
		WithLogger(logging.NewDiscard("raffle")),
	)
	require.NoError(t, err)
	f.engine = e
	return f
}

// enter funds player with amount and enters it.
func (f *fixture) enter(t *testing.T, player string, amount int64) {
	t.Helper()
	require.NoError(t, f.ledger.Credit(player, amount))
	require.NoError(t, f.engine.Enter(context.Background(), player, amount))
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

// startDraw enters players, waits out the interval and performs upkeep.
func (f *fixture) startDraw(t *testing.T, players ...string) uint64 {
	t.Helper()
	for _, p := range players {
		f.enter(t, p, testFee)
	}
	f.clock.Advance(testInterval)
	id, err := f.engine.PerformUpkeep(context.Background(), nil)
	require.NoError(t, err)
	return id
}

func words(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestNew_InitialState(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	assert.Equal(t, StateOpen, e.State())
	assert.Equal(t, 0, e.NumberOfPlayers())
	assert.Equal(t, "", e.RecentWinner())
	assert.Equal(t, f.clock.Now(), e.LastTimestamp())
	id, _ := e.PendingRequest()
	assert.Zero(t, id)
}

func TestNew_InvalidConfig(t *testing.T) {
	l := ledger.NewMemoryLedger()
	p := NewStubProvider()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero fee", func(c *Config) { c.EntranceFee = 0 }},
		{"negative fee", func(c *Config) { c.EntranceFee = -1 }},
		{"no account", func(c *Config) { c.Account = " " }},
		{"negative interval", func(c *Config) { c.Interval = -time.Second }},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := New(cfg, l, p)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(testConfig(), nil, p)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(testConfig(), l, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_RoundTripAcrossDraws(t *testing.T) {
	f := newFixture(t)
	want := testConfig()

	check := func() {
		assert.Equal(t, want.EntranceFee, f.engine.EntranceFee())
		assert.Equal(t, want.Interval, f.engine.Interval())
		assert.Equal(t, want.Randomness, f.engine.RandomnessParams())
		assert.Equal(t, want.Account, f.engine.Account())
		assert.Equal(t, want.RequestTimeout, f.engine.RequestTimeout())
	}

	check()
	for round := 0; round < 3; round++ {
		id := f.startDraw(t, "alice", "bob")
		require.NoError(t, f.engine.FulfillRandomWords(context.Background(), id, words(int64(round))))
		check()
	}
	for _, req := range f.provider.Requests() {
		assert.Equal(t, want.Randomness, req)
	}
}

func TestConfig_DefaultsNumWords(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Randomness.NumWords = 0 })
	assert.Equal(t, uint32(1), f.engine.RandomnessParams().NumWords)
}

func TestEnter_RecordsPlayersInOrder(t *testing.T) {
	f := newFixture(t)
	players := []string{"alice", "bob", "alice", "carol"}
	for _, p := range players {
		f.enter(t, p, testFee)
	}

	require.Equal(t, len(players), f.engine.NumberOfPlayers())
	for i, want := range players {
		got, err := f.engine.Player(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, players, f.engine.Players())
	assert.Equal(t, int64(len(players))*testFee, f.balance(t, poolAccount))

	entered := f.notes.RecentByType(events.TypeParticipantEntered, 10)
	require.Len(t, entered, len(players))
	assert.Equal(t, "carol", entered[0].Player)
}

func TestEnter_InsufficientFee(t *testing.T) {
	for _, fee := range []int64{1, testFee, 500_000_000} {
		f := newFixture(t, func(c *Config) { c.EntranceFee = fee })
		for _, amount := range []int64{0, fee - 1} {
			require.NoError(t, f.ledger.Credit("alice", fee))
			err := f.engine.Enter(context.Background(), "alice", amount)
			assert.ErrorIs(t, err, ErrInsufficientFee, "fee %d amount %d", fee, amount)
		}
		assert.Equal(t, 0, f.engine.NumberOfPlayers())
		assert.Equal(t, int64(0), f.balance(t, poolAccount))
	}
}

func TestEnter_ExcessStaysInPool(t *testing.T) {
	f := newFixture(t)
	f.enter(t, "alice", 3*testFee)

	assert.Equal(t, 1, f.engine.NumberOfPlayers())
	assert.Equal(t, 3*testFee, f.balance(t, poolAccount))
}

func TestEnter_RaffleNotOpen(t *testing.T) {
	f := newFixture(t)
	f.startDraw(t, "alice")

	for _, amount := range []int64{testFee, 10 * testFee} {
		require.NoError(t, f.ledger.Credit("bob", amount))
		err := f.engine.Enter(context.Background(), "bob", amount)
		assert.ErrorIs(t, err, ErrRaffleNotOpen)
	}
	assert.Equal(t, 1, f.engine.NumberOfPlayers())
	assert.Equal(t, 11*testFee, f.balance(t, "bob"))
}

func TestEnter_FeeCheckedBeforeState(t *testing.T) {
	f := newFixture(t)
	f.startDraw(t, "alice")

	require.NoError(t, f.ledger.Credit("bob", testFee))
	err := f.engine.Enter(context.Background(), "bob", testFee-1)
	assert.ErrorIs(t, err, ErrInsufficientFee)
	assert.NotErrorIs(t, err, ErrRaffleNotOpen)
	assert.Equal(t, StateCalculating, f.engine.State())
	assert.Equal(t, testFee, f.balance(t, "bob"))
}

func TestEnter_TransferFailureLeavesPool(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Enter(context.Background(), "broke", testFee)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, 0, f.engine.NumberOfPlayers())
	assert.Zero(t, f.notes.Count())
}

func TestEnter_InvalidParticipant(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.engine.Enter(context.Background(), "  ", testFee), ErrInvalidParticipant)
}

func TestCheckUpkeep_Conditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		want  UpkeepCheck
	}{
		{
			name:  "no players",
			setup: func(t *testing.T, f *fixture) { f.clock.Advance(testInterval + time.Second) },
			want:  UpkeepCheck{IsOpen: true, TimePassed: true},
		},
		{
			name: "interval not elapsed",
			setup: func(t *testing.T, f *fixture) {
				f.enter(t, "alice", testFee)
				f.clock.Advance(testInterval - time.Second)
			},
			want: UpkeepCheck{IsOpen: true, HasPlayers: true, HasBalance: true},
		},
		{
			name: "calculating",
			setup: func(t *testing.T, f *fixture) {
				f.startDraw(t, "alice")
			},
			want: UpkeepCheck{TimePassed: true, HasPlayers: true, HasBalance: true},
		},
		{
			name: "no balance",
			setup: func(t *testing.T, f *fixture) {
				f.enter(t, "alice", testFee)
				require.NoError(t, f.ledger.Transfer(context.Background(), poolAccount, "elsewhere", testFee))
				f.clock.Advance(testInterval)
			},
			want: UpkeepCheck{IsOpen: true, TimePassed: true, HasPlayers: true},
		},
		{
			name: "all conditions hold",
			setup: func(t *testing.T, f *fixture) {
				f.enter(t, "alice", testFee)
				f.clock.Advance(testInterval)
			},
			want: UpkeepCheck{Needed: true, IsOpen: true, TimePassed: true, HasPlayers: true, HasBalance: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(t, f)

			before := f.engine.Snapshot()
			got := f.engine.CheckUpkeep(ctx, []byte("0x"))
			assert.Equal(t, tc.want.Needed, got.Needed)
			assert.Equal(t, tc.want.IsOpen, got.IsOpen)
			assert.Equal(t, tc.want.TimePassed, got.TimePassed)
			assert.Equal(t, tc.want.HasPlayers, got.HasPlayers)
			assert.Equal(t, tc.want.HasBalance, got.HasBalance)
			assert.Equal(t, []byte("0x"), got.PerformData)
			assert.Equal(t, before, f.engine.Snapshot(), "CheckUpkeep must not mutate")

			// PerformUpkeep agrees with CheckUpkeep on the same state.
			if got.Needed {
				return
			}
			_, err := f.engine.PerformUpkeep(ctx, got.PerformData)
			require.ErrorIs(t, err, ErrUpkeepNotNeeded)
			var notNeeded *UpkeepNotNeededError
			require.True(t, errors.As(err, &notNeeded))
			assert.Equal(t, got.Balance, notNeeded.Balance)
			assert.Equal(t, got.Players, notNeeded.Players)
			assert.Equal(t, got.State, notNeeded.State)
		})
	}
}

type failingBalanceLedger struct {
	*ledger.MemoryLedger
}

func (failingBalanceLedger) Balance(context.Context, string) (int64, error) {
	return 0, errors.New("ledger unavailable")
}

func TestCheckUpkeep_LedgerErrorReportsNoBalance(t *testing.T) {
	l := failingBalanceLedger{ledger.NewMemoryLedger()}
	clock := NewManualClock(time.Now())
	e, err := New(testConfig(), l, NewStubProvider(), WithClock(clock), WithLogger(logging.NewDiscard("raffle")))
	require.NoError(t, err)

	require.NoError(t, l.Credit("alice", testFee))
	require.NoError(t, e.Enter(context.Background(), "alice", testFee))
	clock.Advance(testInterval)

	check := e.CheckUpkeep(context.Background(), nil)
	assert.False(t, check.Needed)
	assert.False(t, check.HasBalance)
}

func TestPerformUpkeep_EmptyRaffleDiagnostics(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.PerformUpkeep(context.Background(), nil)
	var notNeeded *UpkeepNotNeededError
	require.True(t, errors.As(err, &notNeeded))
	assert.Equal(t, int64(0), notNeeded.Balance)
	assert.Equal(t, 0, notNeeded.Players)
	assert.Equal(t, StateOpen, notNeeded.State)
	assert.EqualError(t, err, "upkeep not needed (balance=0, players=0, state=open)")
	assert.Empty(t, f.provider.Requests())
}

func TestPerformUpkeep_SingleOutstandingRequest(t *testing.T) {
	f := newFixture(t)
	id := f.startDraw(t, "alice")

	assert.Equal(t, uint64(1), id)
	assert.Equal(t, StateCalculating, f.engine.State())
	pending, at := f.engine.PendingRequest()
	assert.Equal(t, id, pending)
	assert.Equal(t, f.clock.Now(), at)

	f.clock.Advance(time.Hour)
	_, err := f.engine.PerformUpkeep(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUpkeepNotNeeded)
	assert.Len(t, f.provider.Requests(), 1)

	requested := f.notes.RecentByType(events.TypeDrawRequested, 10)
	require.Len(t, requested, 1)
	assert.Equal(t, id, requested[0].RequestID)
}

func TestPerformUpkeep_ProviderFailureReopens(t *testing.T) {
	f := newFixture(t)
	f.enter(t, "alice", testFee)
	f.clock.Advance(testInterval)
	f.provider.FailWith(errors.New("coordinator offline"))

	_, err := f.engine.PerformUpkeep(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordinator offline")
	assert.Equal(t, StateOpen, f.engine.State())
	pending, _ := f.engine.PendingRequest()
	assert.Zero(t, pending)
	assert.Empty(t, f.notes.RecentByType(events.TypeDrawRequested, 10))

	f.provider.FailWith(nil)
	_, err = f.engine.PerformUpkeep(context.Background(), nil)
	require.NoError(t, err)
}

func TestScenario_ThreeEntrantsSecondWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fee, err := ledger.ParseAmount("0.01")
	require.NoError(t, err)
	require.Equal(t, testFee, fee)

	for _, p := range []string{"alice", "bob", "carol"} {
		f.enter(t, p, fee)
	}
	f.clock.Advance(30 * time.Second)
	require.True(t, f.engine.CheckUpkeep(ctx, nil).Needed)

	id, err := f.engine.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCalculating, f.engine.State())

	bobBefore := f.balance(t, "bob")
	start := f.engine.LastTimestamp()
	f.clock.Advance(time.Second)

	require.NoError(t, f.engine.FulfillRandomWords(ctx, id, words(7)))

	assert.Equal(t, "bob", f.engine.RecentWinner())
	assert.Equal(t, "0.03", ledger.FormatAmount(f.balance(t, "bob")-bobBefore))
	assert.Equal(t, 0, f.engine.NumberOfPlayers())
	assert.Equal(t, StateOpen, f.engine.State())
	assert.True(t, f.engine.LastTimestamp().After(start))
	assert.Equal(t, int64(0), f.balance(t, poolAccount))

	picked := f.notes.RecentByType(events.TypeWinnerPicked, 1)
	require.Len(t, picked, 1)
	assert.Equal(t, "bob", picked[0].Winner)
	assert.Equal(t, 3*testFee, picked[0].Amount)
}

func TestFulfillRandomWords_WinnerIsWordModPoolSize(t *testing.T) {
	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	cases := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(12345), huge}
	all := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6"}

	for n := 1; n <= len(all); n++ {
		for _, w := range cases {
			f := newFixture(t)
			id := f.startDraw(t, all[:n]...)
			pool := f.balance(t, poolAccount)

			wantIdx := new(big.Int).Mod(w, big.NewInt(int64(n))).Int64()
			winner := all[wantIdx]
			before := f.balance(t, winner)

			require.NoError(t, f.engine.FulfillRandomWords(context.Background(), id, []*big.Int{w}))
			assert.Equal(t, winner, f.engine.RecentWinner(), "n=%d w=%s", n, w)
			assert.Equal(t, before+pool, f.balance(t, winner))
			assert.Equal(t, 0, f.engine.NumberOfPlayers())
			assert.Equal(t, StateOpen, f.engine.State())
		}
	}
}

func TestFulfillRandomWords_NonexistentRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enter(t, "alice", testFee)
	f.clock.Advance(testInterval)

	assert.ErrorIs(t, f.engine.FulfillRandomWords(ctx, 0, words(1)), ErrNonexistentRequest)
	assert.ErrorIs(t, f.engine.FulfillRandomWords(ctx, 1, words(1)), ErrNonexistentRequest)

	id, err := f.engine.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.FulfillRandomWords(ctx, id+1, words(1)), ErrNonexistentRequest)

	require.NoError(t, f.engine.FulfillRandomWords(ctx, id, words(1)))
	assert.ErrorIs(t, f.engine.FulfillRandomWords(ctx, id, words(1)), ErrNonexistentRequest)
	assert.Len(t, f.notes.RecentByType(events.TypeWinnerPicked, 10), 1)
}

func TestFulfillRandomWords_InvalidWords(t *testing.T) {
	f := newFixture(t)
	id := f.startDraw(t, "alice")

	assert.ErrorIs(t, f.engine.FulfillRandomWords(context.Background(), id, nil), ErrInvalidRandomWords)
	assert.ErrorIs(t, f.engine.FulfillRandomWords(context.Background(), id, []*big.Int{nil}), ErrInvalidRandomWords)
	assert.Equal(t, StateCalculating, f.engine.State())
}

func TestFulfillRandomWords_PayoutFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startDraw(t, "alice", "bob", "carol")
	f.ledger.Block("bob")

	before := f.engine.Snapshot()
	notes := f.notes.Count()

	err := f.engine.FulfillRandomWords(ctx, id, words(7))
	require.ErrorIs(t, err, ErrPayoutFailed)
	assert.ErrorIs(t, err, ledger.ErrRejected)
	var payout *PayoutError
	require.True(t, errors.As(err, &payout))
	assert.Equal(t, "bob", payout.Winner)
	assert.Equal(t, 3*testFee, payout.Amount)

	assert.Equal(t, before, f.engine.Snapshot())
	assert.Equal(t, StateCalculating, f.engine.State())
	assert.Equal(t, 3, f.engine.NumberOfPlayers())
	assert.Equal(t, "", f.engine.RecentWinner())
	assert.Equal(t, 3*testFee, f.balance(t, poolAccount))
	assert.Equal(t, notes, f.notes.Count())
	assert.Empty(t, f.notes.RecentByType(events.TypeWinnerPicked, 10))

	f.ledger.Unblock("bob")
	require.NoError(t, f.engine.FulfillRandomWords(ctx, id, words(7)))
	assert.Equal(t, "bob", f.engine.RecentWinner())
}

func TestRecoverStaleDraw(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.RequestTimeout = 0 })
		f.startDraw(t, "alice")
		f.clock.Advance(24 * time.Hour)
		_, err := f.engine.RecoverStaleDraw(ctx)
		assert.ErrorIs(t, err, ErrRecoveryDisabled)
	})

	t.Run("open raffle", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.RecoverStaleDraw(ctx)
		assert.ErrorIs(t, err, ErrDrawNotStale)
	})

	t.Run("before timeout", func(t *testing.T) {
		f := newFixture(t)
		f.startDraw(t, "alice")
		f.clock.Advance(10*time.Minute - time.Second)
		_, err := f.engine.RecoverStaleDraw(ctx)
		assert.ErrorIs(t, err, ErrDrawNotStale)
	})

	t.Run("after timeout", func(t *testing.T) {
		f := newFixture(t)
		stale := f.startDraw(t, "alice", "bob")
		f.clock.Advance(10 * time.Minute)

		fresh, err := f.engine.RecoverStaleDraw(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, stale, fresh)
		assert.Equal(t, StateCalculating, f.engine.State())
		assert.Equal(t, 2, f.engine.NumberOfPlayers())

		assert.ErrorIs(t, f.engine.FulfillRandomWords(ctx, stale, words(0)), ErrNonexistentRequest)
		require.NoError(t, f.engine.FulfillRandomWords(ctx, fresh, words(0)))
		assert.Equal(t, "alice", f.engine.RecentWinner())
		assert.Len(t, f.notes.RecentByType(events.TypeDrawRequested, 10), 2)
	})
}

func TestRestore_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startDraw(t, "alice", "bob")
	saved := f.engine.Snapshot()

	restored, err := New(testConfig(), f.ledger, f.provider,
		WithClock(f.clock), WithStore(f.store), WithLogger(logging.NewDiscard("raffle")))
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))

	got := restored.Snapshot()
	saved.UpdatedAt, got.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, saved, got)

	require.NoError(t, restored.FulfillRandomWords(ctx, id, words(1)))
	assert.Equal(t, "bob", restored.RecentWinner())
}

func TestRestore_MissingAndInconsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Restore(ctx))
	assert.Equal(t, StateOpen, f.engine.State())

	require.NoError(t, f.store.SaveSnapshot(ctx, Snapshot{Account: poolAccount, State: StateCalculating}))
	assert.ErrorIs(t, f.engine.Restore(ctx), ErrInconsistentRestore)
}

func TestNotifications_TotalOrder(t *testing.T) {
	f := newFixture(t)
	id := f.startDraw(t, "alice", "bob")
	require.NoError(t, f.engine.FulfillRandomWords(context.Background(), id, words(0)))

	recent := f.notes.Recent(10)
	require.Len(t, recent, 4)
	wantTypes := []events.Type{
		events.TypeWinnerPicked,
		events.TypeDrawRequested,
		events.TypeParticipantEntered,
		events.TypeParticipantEntered,
	}
	for i, n := range recent {
		assert.Equal(t, wantTypes[i], n.Type)
		assert.Equal(t, uint64(4-i), n.Sequence)
	}
}

func TestConcurrency_SingleDrawAmongRacingCallers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const players = 50
	for i := 0; i < players; i++ {
		require.NoError(t, f.ledger.Credit("p", testFee))
	}

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.engine.Enter(ctx, "p", testFee)
		}()
	}
	wg.Wait()
	require.Equal(t, players, f.engine.NumberOfPlayers())
	f.clock.Advance(testInterval)

	var (
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.PerformUpkeep(ctx, nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.provider.Requests(), 1)
}

func TestUpkeepAdapter(t *testing.T) {
	f := newFixture(t)
	u := Upkeep(f.engine)
	ctx := context.Background()

	needed, _, err := u.CheckUpkeep(ctx, nil)
	require.NoError(t, err)
	assert.False(t, needed)
	assert.ErrorIs(t, u.PerformUpkeep(ctx, nil), ErrUpkeepNotNeeded)

	f.enter(t, "alice", testFee)
	f.clock.Advance(testInterval)
	needed, data, err := u.CheckUpkeep(ctx, []byte("x"))
	require.NoError(t, err)
	assert.True(t, needed)
	require.NoError(t, u.PerformUpkeep(ctx, data))
	assert.Equal(t, StateCalculating, f.engine.State())
}

func TestVRFProvider_EndToEnd(t *testing.T) {
	coord, err := vrf.NewCoordinator(vrf.Config{Secret: []byte("raffle-test-secret-0123456789abc")}, logging.NewDiscard("vrf"))
	require.NoError(t, err)
	provider := NewVRFProvider(coord, "raffle")

	l := ledger.NewMemoryLedger()
	clock := NewManualClock(time.Now())
	e, err := New(testConfig(), l, provider, WithClock(clock), WithLogger(logging.NewDiscard("raffle")))
	require.NoError(t, err)
	require.NoError(t, provider.Bind(e))
	ctx := context.Background()

	_, err = coord.FulfillRandomWords(ctx, 1)
	assert.ErrorIs(t, err, vrf.ErrNonexistentRequest)

	for _, p := range []string{"alice", "bob", "carol"} {
		require.NoError(t, l.Credit(p, testFee))
		require.NoError(t, e.Enter(ctx, p, testFee))
	}
	clock.Advance(testInterval)
	id, err := e.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	_, err = coord.FulfillRandomWordsWithOverride(ctx, id, words(7))
	require.NoError(t, err)
	assert.Equal(t, "bob", e.RecentWinner())
	assert.Equal(t, StateOpen, e.State())

	// A generated fulfilment for the next draw verifies against the coordinator key.
	for _, p := range []string{"dave", "erin"} {
		require.NoError(t, l.Credit(p, testFee))
		require.NoError(t, e.Enter(ctx, p, testFee))
	}
	clock.Advance(testInterval)
	id, err = e.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	req, err := coord.FulfillRandomWords(ctx, id)
	require.NoError(t, err)
	require.NoError(t, coord.Verify(req))
	assert.Contains(t, []string{"dave", "erin"}, e.RecentWinner())
}

func TestState_StringAndJSON(t *testing.T) {
	tests := []struct {
		state State
		str   string
	}{
		{StateOpen, "open"},
		{StateCalculating, "calculating"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.str, tc.state.String())
		data, err := tc.state.MarshalJSON()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalJSON(data))
		assert.Equal(t, tc.state, back)
	}
	assert.Equal(t, "state(9)", State(9).String())
	_, err := ParseState("closed")
	assert.Error(t, err)
}

type failingStore struct {
	MemoryStore
}

func (s *failingStore) SaveSnapshot(context.Context, Snapshot) error {
	return errors.New("connection reset")
}

func TestPersist_FailureIsLoggedForReconciliation(t *testing.T) {
	l := ledger.NewMemoryLedger()
	log := logging.NewDiscard("raffle")
	log.Logger.SetLevel(logrus.WarnLevel)
	hook := test.NewLocal(log.Logger)

	e, err := New(testConfig(), l, NewStubProvider(),
		WithClock(NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
		WithStore(&failingStore{}),
		WithLogger(log),
	)
	require.NoError(t, err)

	require.NoError(t, l.Credit("alice", testFee))
	require.NoError(t, e.Enter(context.Background(), "alice", testFee))
	assert.Equal(t, 1, e.NumberOfPlayers())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "save raffle snapshot", entry.Message)
	assert.Equal(t, uint64(1), entry.Data["sequence"])
	assert.Equal(t, "alice", entry.Data["last_player"])
	assert.Equal(t, 1, entry.Data["players"])
}
