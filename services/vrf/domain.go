// Package vrf provides the randomness coordinator consumers request verifiable
// random words from. Requests are fulfilled asynchronously, exactly once.
package vrf

import (
	"context"
	"math/big"
	"time"

	"github.com/R3E-Network/neoraffle/internal/crypto"
)

// Limits enforced on every request.
const (
	MaxNumWords         = 500
	MaxCallbackGasLimit = 2_500_000
	MaxConfirmations    = 200
)

// RequestStatus represents the status of a randomness request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusFailed    RequestStatus = "failed"
)

// RandomWordsRequest is what a consumer asks for.
type RandomWordsRequest struct {
	Consumer             string `json:"consumer"`
	KeyHash              string `json:"key_hash"`
	SubscriptionID       uint64 `json:"subscription_id"`
	RequestConfirmations uint16 `json:"request_confirmations"`
	CallbackGasLimit     uint32 `json:"callback_gas_limit"`
	NumWords             uint32 `json:"num_words"`
}

// Request is a tracked randomness request.
type Request struct {
	ID uint64 `json:"id"`
	RandomWordsRequest

	Seed   []byte           `json:"seed"`
	Status RequestStatus    `json:"status"`
	Words  []*big.Int       `json:"words,omitempty"`
	Proof  *crypto.VRFProof `json:"proof,omitempty"`
	Error  string           `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	FulfilledAt time.Time `json:"fulfilled_at,omitempty"`
}

// Stats provides coordinator statistics.
type Stats struct {
	TotalRequests     int64     `json:"total_requests"`
	PendingRequests   int64     `json:"pending_requests"`
	FulfilledRequests int64     `json:"fulfilled_requests"`
	FailedRequests    int64     `json:"failed_requests"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Consumer receives the random words of the requests it issued.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, requestID uint64, words []*big.Int) error

func (f ConsumerFunc) FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	return f(ctx, requestID, words)
}
