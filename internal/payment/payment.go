// Package payment describes the value-transfer rail the registry settles on.
// The registry only computes amounts and issues transfer batches; moving value
// is the rail's job.
package payment

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

// Transfer moves Amount smallest units from one named account to another.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

// Rail applies a batch of transfers atomically: every transfer in the batch
// succeeds or none does.
type Rail interface {
	Transfer(ctx context.Context, batch []Transfer) error
}

// Reverse returns the compensating batch for b.
func Reverse(b []Transfer) []Transfer {
	out := make([]Transfer, 0, len(b))
	for i := len(b) - 1; i >= 0; i-- {
		t := b[i]
		out = append(out, Transfer{From: t.To, To: t.From, Amount: t.Amount, Memo: "reversal: " + t.Memo})
	}
	return out
}

// Accounts names the protocol-owned destinations.
type Accounts struct {
	Treasury   string `json:"treasury"`
	RewardFund string `json:"reward_fund"`
}

// WalletAccount is the payment account owned by an identity.
func WalletAccount(identity string) string { return "wallet:" + identity }

// CustodyAccount holds an auditor's locked stake.
func CustodyAccount(auditor string) string { return "custody:" + auditor }
