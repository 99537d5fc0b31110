package payment

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MemoryRail is an in-process rail backed by a balance map.
type MemoryRail struct {
	mu       sync.Mutex
	balances map[string]uint64
	logger   *zap.Logger
}

// NewMemoryRail creates an empty in-memory rail.
func NewMemoryRail(logger *zap.Logger) *MemoryRail {
	return &MemoryRail{
		balances: make(map[string]uint64),
		logger:   logger,
	}
}

// Deposit credits an account from outside the rail.
func (r *MemoryRail) Deposit(account string, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[account] += amount
}

// Balance returns the current balance of account.
func (r *MemoryRail) Balance(account string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[account]
}

// Transfer validates the whole batch against scratch balances before applying it.
func (r *MemoryRail) Transfer(_ context.Context, batch []Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	scratch := make(map[string]uint64)
	get := func(acct string) uint64 {
		if v, ok := scratch[acct]; ok {
			return v
		}
		return r.balances[acct]
	}
	for _, t := range batch {
		if t.From == "" || t.To == "" || t.From == t.To {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransfer, t.From, t.To)
		}
		if t.Amount == 0 {
			continue
		}
		from := get(t.From)
		if from < t.Amount {
			return fmt.Errorf("debit %s: %w (have %d, need %d)", t.From, ErrInsufficientFunds, from, t.Amount)
		}
		scratch[t.From] = from - t.Amount
		scratch[t.To] = get(t.To) + t.Amount
	}
	for acct, bal := range scratch {
		r.balances[acct] = bal
	}
	r.logger.Debug("transfer batch applied", zap.Int("transfers", len(batch)))
	return nil
}
