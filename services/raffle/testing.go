package raffle

import (
	"context"
	"sync"
	"time"
)

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubProvider records randomness requests and hands out sequential ids.
// Fulfilment is left to the caller.
type StubProvider struct {
	mu       sync.Mutex
	nextID   uint64
	requests []RandomnessParams
	err      error
}

// NewStubProvider creates a provider whose first request id is 1.
func NewStubProvider() *StubProvider {
	return &StubProvider{nextID: 1}
}

func (p *StubProvider) RequestRandomness(ctx context.Context, params RandomnessParams) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	id := p.nextID
	p.nextID++
	p.requests = append(p.requests, params)
	return id, nil
}

// FailWith makes subsequent requests fail with err; nil restores success.
func (p *StubProvider) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Requests returns the parameters of every accepted request.
func (p *StubProvider) Requests() []RandomnessParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RandomnessParams(nil), p.requests...)
}
