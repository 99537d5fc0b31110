package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"go.uber.org/zap"
)

// Transfer applies the batch against the balances table in one transaction.
// A debit that would overdraw its account aborts the whole batch.
func (s *Store) Transfer(ctx context.Context, batch []payment.Transfer) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, t := range batch {
			if t.From == "" || t.To == "" || t.From == t.To || t.Amount > math.MaxInt64 {
				return fmt.Errorf("%w: %s -> %s", payment.ErrInvalidTransfer, t.From, t.To)
			}
			if t.Amount == 0 {
				continue
			}
			amount := int64(t.Amount)

			tag, err := tx.Exec(ctx, `
				UPDATE balances SET amount = amount - $2
				WHERE account = $1 AND amount >= $2`, t.From, amount)
			if err != nil {
				return fmt.Errorf("debit %s: %w", t.From, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("debit %s: %w", t.From, payment.ErrInsufficientFunds)
			}
			if err := credit(ctx, tx, t.To, amount); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO transfers (from_acct, to_acct, amount, memo)
				VALUES ($1, $2, $3, $4)`, t.From, t.To, amount, t.Memo); err != nil {
				return fmt.Errorf("record transfer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("transfer batch applied", zap.Int("transfers", len(batch)))
	return nil
}

// Deposit credits an account from outside the rail.
func (s *Store) Deposit(ctx context.Context, account string, amount uint64) error {
	if account == "" || amount > math.MaxInt64 {
		return fmt.Errorf("deposit: %w", payment.ErrInvalidTransfer)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return credit(ctx, tx, account, int64(amount))
	})
}

// Balance returns the balance of account, zero if it was never credited.
func (s *Store) Balance(ctx context.Context, account string) (uint64, error) {
	var amount int64
	err := s.db.QueryRow(ctx, `SELECT amount FROM balances WHERE account = $1`, account).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", account, err)
	}
	return uint64(amount), nil
}

func credit(ctx context.Context, tx pgx.Tx, account string, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (account, amount) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		account, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}
