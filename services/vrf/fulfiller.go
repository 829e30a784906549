package vrf

import (
	"context"
	"errors"
	"time"
)

// Run fulfils queued requests until ctx is cancelled. Each request waits
// RequestConfirmations * BlockTime first. A request that was settled by other
// means in the meantime is skipped.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.pending:
			c.fulfillQueued(ctx, id)
		}
	}
}

func (c *Coordinator) fulfillQueued(ctx context.Context, id uint64) {
	c.mu.Lock()
	req, ok := c.requests[id]
	var confirmations uint16
	if ok {
		confirmations = req.RequestConfirmations
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if wait := time.Duration(confirmations) * c.blockTime; wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if _, err := c.FulfillRandomWords(ctx, id); err != nil {
		if errors.Is(err, ErrNonexistentRequest) {
			c.log.WithField("request_id", id).Debug("request already settled")
			return
		}
		c.log.WithError(err).WithField("request_id", id).Warn("fulfil request")
	}
}
