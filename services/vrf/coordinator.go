package vrf

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/R3E-Network/neoraffle/internal/crypto"
	"github.com/R3E-Network/neoraffle/internal/logging"
	"github.com/R3E-Network/neoraffle/internal/metrics"
)

// Errors
var (
	ErrNonexistentRequest   = errors.New("nonexistent request")
	ErrInvalidNumWords      = errors.New("invalid number of words")
	ErrGasLimitTooBig       = errors.New("callback gas limit too big")
	ErrInvalidConfirmations = errors.New("invalid request confirmations")
	ErrUnknownConsumer      = errors.New("unknown consumer")
	ErrInvalidRandomWords   = errors.New("invalid random words")
	ErrQueueFull            = errors.New("fulfilment queue full")
)

// Config configures a Coordinator.
type Config struct {
	// Secret seeds the signing key. At least 16 bytes.
	Secret []byte
	// BlockTime is how long one confirmation takes; the fulfiller waits
	// RequestConfirmations * BlockTime before fulfilling.
	BlockTime time.Duration
	// QueueSize bounds the requests waiting for the fulfiller.
	QueueSize int
}

// Coordinator issues randomness requests and delivers their fulfilment to
// the registered consumer.
type Coordinator struct {
	mu        sync.Mutex
	key       ed25519.PrivateKey
	consumers map[string]Consumer
	requests  map[uint64]*Request
	nonces    map[string]uint64
	nextID    uint64
	blockTime time.Duration
	pending   chan uint64
	log       *logging.Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator with a key derived from cfg.Secret.
func NewCoordinator(cfg Config, log *logging.Logger) (*Coordinator, error) {
	key, err := crypto.DeriveSigningKey(cfg.Secret, "neoraffle-vrf-signing")
	if err != nil {
		return nil, fmt.Errorf("vrf: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if log == nil {
		log = logging.NewDefault("vrf")
	}
	return &Coordinator{
		key:       key,
		consumers: make(map[string]Consumer),
		requests:  make(map[uint64]*Request),
		nonces:    make(map[string]uint64),
		nextID:    1,
		blockTime: cfg.BlockTime,
		pending:   make(chan uint64, cfg.QueueSize),
		log:       log,
		now:       time.Now,
	}, nil
}

// PublicKey returns the key fulfilment proofs verify against.
func (c *Coordinator) PublicKey() ed25519.PublicKey {
	return c.key.Public().(ed25519.PublicKey)
}

// RegisterConsumer makes consumer eligible to request randomness under name.
func (c *Coordinator) RegisterConsumer(name string, consumer Consumer) error {
	if name == "" || consumer == nil {
		return fmt.Errorf("%w: name and consumer are required", ErrUnknownConsumer)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[name] = consumer
	return nil
}

// RequestRandomWords validates and records a request, queues it for the
// fulfiller and returns its id. Ids are sequential from 1.
func (c *Coordinator) RequestRandomWords(ctx context.Context, req RandomWordsRequest) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrInvalidNumWords, req.NumWords, MaxNumWords)
	}
	if req.CallbackGasLimit > MaxCallbackGasLimit {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrGasLimitTooBig, req.CallbackGasLimit, MaxCallbackGasLimit)
	}
	if req.RequestConfirmations > MaxConfirmations {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrInvalidConfirmations, req.RequestConfirmations, MaxConfirmations)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.consumers[req.Consumer]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownConsumer, req.Consumer)
	}

	id := c.nextID
	nonce := c.nonces[req.Consumer] + 1
	request := &Request{
		ID:                 id,
		RandomWordsRequest: req,
		Seed:               deriveSeed(req.KeyHash, req.Consumer, id, nonce),
		Status:             StatusPending,
		CreatedAt:          c.now().UTC(),
	}

	select {
	case c.pending <- id:
	default:
		return 0, ErrQueueFull
	}

	c.nextID++
	c.nonces[req.Consumer] = nonce
	c.requests[id] = request
	metrics.RecordVRF(string(StatusPending))

	c.log.WithField("request_id", id).
		WithField("consumer", req.Consumer).
		WithField("num_words", req.NumWords).
		Info("randomness requested")
	return id, nil
}

// FulfillRandomWords generates the words for a pending request and delivers
// them to its consumer.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, requestID uint64) (*Request, error) {
	return c.fulfill(ctx, requestID, nil)
}

// FulfillRandomWordsWithOverride delivers caller-chosen words instead of
// generated ones. len(words) must equal the requested word count.
func (c *Coordinator) FulfillRandomWordsWithOverride(ctx context.Context, requestID uint64, words []*big.Int) (*Request, error) {
	if len(words) == 0 {
		return nil, ErrInvalidRandomWords
	}
	return c.fulfill(ctx, requestID, words)
}

func (c *Coordinator) fulfill(ctx context.Context, requestID uint64, override []*big.Int) (*Request, error) {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	if !ok || req.Status != StatusPending {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}
	if override != nil && len(override) != int(req.NumWords) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: got %d words, want %d", ErrInvalidRandomWords, len(override), req.NumWords)
	}
	consumer, ok := c.consumers[req.Consumer]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownConsumer, req.Consumer)
	}

	var (
		words []*big.Int
		proof *crypto.VRFProof
	)
	if override != nil {
		words = override
	} else {
		var err error
		proof, err = crypto.GenerateVRF(c.key, req.Seed)
		if err != nil {
			c.markFailedLocked(req, fmt.Sprintf("generate VRF: %v", err))
			c.mu.Unlock()
			return nil, fmt.Errorf("generate VRF: %w", err)
		}
		words = crypto.ExpandWords(proof.Output, int(req.NumWords))
	}
	// Settled before the callback so a concurrent call cannot deliver twice.
	req.Status = StatusFulfilled
	req.Words = words
	req.Proof = proof
	req.FulfilledAt = c.now().UTC()
	c.mu.Unlock()

	if err := consumer.FulfillRandomWords(ctx, requestID, words); err != nil {
		c.mu.Lock()
		c.markFailedLocked(req, fmt.Sprintf("consumer callback: %v", err))
		c.mu.Unlock()
		return c.snapshot(req), fmt.Errorf("consumer callback: %w", err)
	}

	metrics.RecordVRF(string(StatusFulfilled))
	c.log.WithField("request_id", requestID).
		WithField("consumer", req.Consumer).
		Info("randomness fulfilled")
	return c.snapshot(req), nil
}

func (c *Coordinator) markFailedLocked(req *Request, msg string) {
	req.Status = StatusFailed
	req.Error = msg
	metrics.RecordVRF(string(StatusFailed))
	c.log.WithField("request_id", req.ID).WithField("error", msg).Warn("randomness request failed")
}

// Request returns a copy of the request with the given id.
func (c *Coordinator) Request(requestID uint64) (*Request, error) {
	c.mu.Lock()
	req, ok := c.requests[requestID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}
	return c.snapshot(req), nil
}

// Stats summarises the tracked requests.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{GeneratedAt: c.now().UTC()}
	for _, r := range c.requests {
		stats.TotalRequests++
		switch r.Status {
		case StatusPending:
			stats.PendingRequests++
		case StatusFulfilled:
			stats.FulfilledRequests++
		case StatusFailed:
			stats.FailedRequests++
		}
	}
	return stats
}

// Verify checks that a fulfilment proof was produced by this coordinator and
// that words were derived from it.
func (c *Coordinator) Verify(req *Request) error {
	if req == nil || req.Proof == nil {
		return crypto.ErrInvalidProof
	}
	if !c.PublicKey().Equal(ed25519.PublicKey(req.Proof.PublicKey)) {
		return crypto.ErrInvalidProof
	}
	if err := crypto.VerifyVRF(req.Proof); err != nil {
		return err
	}
	expected := crypto.ExpandWords(req.Proof.Output, len(req.Words))
	for i, w := range req.Words {
		if w == nil || w.Cmp(expected[i]) != 0 {
			return crypto.ErrInvalidProof
		}
	}
	return nil
}

func (c *Coordinator) snapshot(req *Request) *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *req
	cp.Words = append([]*big.Int(nil), req.Words...)
	return &cp
}

func deriveSeed(keyHash, consumer string, id, nonce uint64) []byte {
	h := sha256.New()
	h.Write([]byte(keyHash))
	h.Write([]byte(consumer))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	return h.Sum(nil)
}
