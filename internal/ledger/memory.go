package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]int64
	blocked  map[string]bool
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int64),
		blocked:  make(map[string]bool),
	}
}

// Credit mints amount into account.
func (l *MemoryLedger) Credit(account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if account == "" {
		return ErrInvalidAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
	return nil
}

// Block makes account refuse incoming transfers.
func (l *MemoryLedger) Block(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked[account] = true
}

// Unblock reverses Block.
func (l *MemoryLedger) Unblock(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocked, account)
}

func (l *MemoryLedger) Balance(_ context.Context, account string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to string, amount int64) error {
	if err := validateTransfer(from, to, amount); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blocked[to] {
		return fmt.Errorf("%w: %s", ErrRejected, to)
	}
	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}
