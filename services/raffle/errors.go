package raffle

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInsufficientFee     = errors.New("insufficient entrance fee")
	ErrRaffleNotOpen       = errors.New("raffle not open")
	ErrUpkeepNotNeeded     = errors.New("upkeep not needed")
	ErrIndexOutOfRange     = errors.New("player index out of range")
	ErrPayoutFailed        = errors.New("payout failed")
	ErrNonexistentRequest  = errors.New("nonexistent request")
	ErrInvalidParticipant  = errors.New("invalid participant")
	ErrInvalidRandomWords  = errors.New("invalid random words")
	ErrInvalidConfig       = errors.New("invalid raffle config")
	ErrRecoveryDisabled    = errors.New("stale draw recovery disabled")
	ErrDrawNotStale        = errors.New("draw is not stale")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrInconsistentRestore = errors.New("inconsistent snapshot")
)

// UpkeepNotNeededError carries the values that made the draw predicate false.
type UpkeepNotNeededError struct {
	Balance int64
	Players int
	State   State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed (balance=%d, players=%d, state=%s)", e.Balance, e.Players, e.State)
}

// Is reports ErrUpkeepNotNeeded as a match.
func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}

// PayoutError reports a failed transfer of the pool to the winner. Nothing
// was committed when it is returned.
type PayoutError struct {
	Winner string
	Amount int64
	Err    error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("payout of %d to %s failed: %v", e.Amount, e.Winner, e.Err)
}

// Is reports ErrPayoutFailed as a match.
func (e *PayoutError) Is(target error) bool {
	return target == ErrPayoutFailed
}

func (e *PayoutError) Unwrap() error {
	return e.Err
}
