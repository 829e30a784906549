// Package raffle implements the periodically drawn raffle: participants pay an
// entrance fee into a shared pool, an upkeep trigger closes entry once the draw
// interval has passed and requests randomness, and the randomness fulfilment
// pays the whole pool to the selected participant and reopens entry.
package raffle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the engine state. Entries are accepted iff the state is StateOpen.
type State int32

const (
	// StateOpen accepts entries.
	StateOpen State = iota
	// StateCalculating waits for the randomness fulfilment of the pending request.
	StateCalculating
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCalculating:
		return "calculating"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a string to State.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "0":
		return StateOpen, nil
	case "calculating", "1":
		return StateCalculating, nil
	default:
		return StateOpen, fmt.Errorf("unknown raffle state %q", s)
	}
}

// RandomnessParams are passed unchanged to the randomness provider.
type RandomnessParams struct {
	KeyHash              string `json:"key_hash" yaml:"key_hash"`
	SubscriptionID       uint64 `json:"subscription_id" yaml:"subscription_id"`
	RequestConfirmations uint16 `json:"request_confirmations" yaml:"request_confirmations"`
	CallbackGasLimit     uint32 `json:"callback_gas_limit" yaml:"callback_gas_limit"`
	NumWords             uint32 `json:"num_words" yaml:"num_words"`
}

// Config is fixed at construction.
type Config struct {
	// Account is the ledger account holding the pool funds.
	Account string
	// EntranceFee is the minimum payment in base units.
	EntranceFee int64
	// Interval is the minimum time between the last completed draw and the next request.
	Interval time.Duration
	Randomness RandomnessParams
	// RequestTimeout is how long a draw may wait for randomness before an
	// administrator can re-request it. Zero disables recovery.
	RequestTimeout time.Duration
}

// Validate checks cfg and fills defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Account) == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidConfig)
	}
	if c.EntranceFee <= 0 {
		return fmt.Errorf("%w: entrance fee must be positive", ErrInvalidConfig)
	}
	if c.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidConfig)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must not be negative", ErrInvalidConfig)
	}
	if c.Randomness.NumWords == 0 {
		c.Randomness.NumWords = 1
	}
	return nil
}

// UpkeepCheck reports the draw predicate and each of its conditions.
type UpkeepCheck struct {
	Needed      bool          `json:"upkeep_needed"`
	IsOpen      bool          `json:"is_open"`
	TimePassed  bool          `json:"time_passed"`
	HasPlayers  bool          `json:"has_players"`
	HasBalance  bool          `json:"has_balance"`
	Balance     int64         `json:"balance"`
	Players     int           `json:"players"`
	State       State         `json:"state"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	PerformData []byte        `json:"perform_data,omitempty"`
}

// Snapshot is the persisted engine state.
type Snapshot struct {
	Account        string    `json:"account"`
	State          State     `json:"state"`
	Players        []string  `json:"players"`
	LastTimestamp  time.Time `json:"last_timestamp"`
	RecentWinner   string    `json:"recent_winner,omitempty"`
	PendingRequest uint64    `json:"pending_request,omitempty"`
	RequestedAt    time.Time `json:"requested_at,omitempty"`
	Sequence       uint64    `json:"sequence"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
