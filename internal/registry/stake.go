package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/sigil-registry/internal/payment"
	"go.uber.org/zap"
)

const (
	// MinimumStake is 50 USDC at 6 decimals.
	MinimumStake uint64 = 50_000_000
	// UnbondingPeriod is the wait between RequestUnstake and WithdrawStake.
	UnbondingPeriod = 7 * 24 * time.Hour
)

// Stake moves amount from the auditor's wallet into custody. The resulting
// stake must clear MinimumStake; staking again during unbonding cancels it.
func (l *Ledger) Stake(ctx context.Context, caller, auditor Identity, amount uint64) (*Auditor, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if caller != auditor {
		return nil, fmt.Errorf("stake for %s: %w", auditor, ErrUnauthorized)
	}
	if amount == 0 {
		return nil, fmt.Errorf("stake: %w", ErrInvalidAmount)
	}
	e, err := l.lockAuditor(auditor)
	if err != nil {
		return nil, fmt.Errorf("stake: %w", err)
	}
	defer e.mu.Unlock()

	next, err := e.auditor.State.next(evStake)
	if err != nil {
		return nil, fmt.Errorf("stake for %s: %w", auditor, err)
	}
	total := e.auditor.StakeAmount + amount
	if total < e.auditor.StakeAmount || total < MinimumStake {
		return nil, fmt.Errorf("stake for %s: %w (total %d, minimum %d)", auditor, ErrInsufficientStake, total, MinimumStake)
	}

	a := e.auditor.clone()
	a.StakeAmount = total
	a.State = next
	a.UnbondingUnlockAt = time.Time{}

	batch := []payment.Transfer{{
		From:   payment.WalletAccount(string(auditor)),
		To:     payment.CustodyAccount(string(auditor)),
		Amount: amount,
		Memo:   "stake",
	}}
	if err := l.settle(ctx, &Change{Auditor: a}, batch); err != nil {
		return nil, fmt.Errorf("stake for %s: %w", auditor, err)
	}
	e.auditor = a

	now := l.clock.Now()
	l.logger.Info("auditor staked",
		zap.String("auditor", string(auditor)),
		zap.Uint64("amount", amount),
		zap.Uint64("total", total))
	pending.add(Event{Type: EventAuditorStaked, Auditor: auditor, Amount: amount, At: now})
	return a.clone(), nil
}

// RequestUnstake starts the unbonding window and deactivates the auditor at once.
func (l *Ledger) RequestUnstake(ctx context.Context, caller, auditor Identity) (*Auditor, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if caller != auditor {
		return nil, fmt.Errorf("request unstake for %s: %w", auditor, ErrUnauthorized)
	}
	e, err := l.lockAuditor(auditor)
	if err != nil {
		return nil, fmt.Errorf("request unstake: %w", err)
	}
	defer e.mu.Unlock()

	next, err := e.auditor.State.next(evUnstake)
	if err != nil {
		return nil, fmt.Errorf("request unstake for %s: %w", auditor, err)
	}

	now := l.clock.Now()
	a := e.auditor.clone()
	a.State = next
	a.UnbondingUnlockAt = now.Add(UnbondingPeriod)

	if err := l.settle(ctx, &Change{Auditor: a}, nil); err != nil {
		return nil, fmt.Errorf("request unstake for %s: %w", auditor, err)
	}
	e.auditor = a

	l.logger.Info("unstake requested",
		zap.String("auditor", string(auditor)),
		zap.Time("unlock_at", a.UnbondingUnlockAt))
	pending.add(Event{Type: EventUnstakeRequested, Auditor: auditor, Amount: a.StakeAmount, At: now})
	return a.clone(), nil
}

// WithdrawStake returns custody to the auditor's wallet once unbonding elapsed.
func (l *Ledger) WithdrawStake(ctx context.Context, caller, auditor Identity) (*Auditor, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if caller != auditor {
		return nil, fmt.Errorf("withdraw for %s: %w", auditor, ErrUnauthorized)
	}
	e, err := l.lockAuditor(auditor)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	defer e.mu.Unlock()

	next, err := e.auditor.State.next(evWithdraw)
	if err != nil {
		return nil, fmt.Errorf("withdraw for %s: %w", auditor, err)
	}
	now := l.clock.Now()
	if now.Before(e.auditor.UnbondingUnlockAt) {
		return nil, fmt.Errorf("withdraw for %s: %w until %s", auditor, ErrStillLocked, e.auditor.UnbondingUnlockAt.Format(time.RFC3339))
	}

	amount := e.auditor.StakeAmount
	a := e.auditor.clone()
	a.State = next
	a.StakeAmount = 0
	a.UnbondingUnlockAt = time.Time{}

	batch := []payment.Transfer{{
		From:   payment.CustodyAccount(string(auditor)),
		To:     payment.WalletAccount(string(auditor)),
		Amount: amount,
		Memo:   "withdraw stake",
	}}
	if err := l.settle(ctx, &Change{Auditor: a}, batch); err != nil {
		return nil, fmt.Errorf("withdraw for %s: %w", auditor, err)
	}
	e.auditor = a

	l.logger.Info("stake withdrawn", zap.String("auditor", string(auditor)), zap.Uint64("amount", amount))
	pending.add(Event{Type: EventStakeWithdrawn, Auditor: auditor, Amount: amount, At: now})
	return a.clone(), nil
}

// SlashAuditor forfeits the auditor's entire stake to the reward fund,
// bypassing unbonding, and bans the identity. Only the admin may slash.
func (l *Ledger) SlashAuditor(ctx context.Context, caller, auditor Identity) (*Auditor, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	e, err := l.lockAuditor(auditor)
	if err != nil {
		return nil, fmt.Errorf("slash: %w", err)
	}
	defer e.mu.Unlock()

	if caller != l.Registry().Admin {
		return nil, fmt.Errorf("slash %s: %w", auditor, ErrUnauthorized)
	}
	if e.auditor.StakeAmount == 0 {
		return nil, fmt.Errorf("slash %s: %w", auditor, ErrNothingToSlash)
	}
	next, err := e.auditor.State.next(evSlash)
	if err != nil {
		return nil, fmt.Errorf("slash %s: %w", auditor, err)
	}
	if l.accounts.RewardFund == "" {
		return nil, fmt.Errorf("slash %s: %w: reward fund not configured", auditor, ErrInvalidProtocolTreasury)
	}

	now := l.clock.Now()
	amount := e.auditor.StakeAmount
	a := e.auditor.clone()
	a.State = next
	a.StakeAmount = 0
	a.Reputation = 0
	a.UnbondingUnlockAt = time.Time{}
	a.SlashedAt = now

	batch := []payment.Transfer{{
		From:   payment.CustodyAccount(string(auditor)),
		To:     l.accounts.RewardFund,
		Amount: amount,
		Memo:   "slash",
	}}
	if err := l.settle(ctx, &Change{Auditor: a}, batch); err != nil {
		return nil, fmt.Errorf("slash %s: %w", auditor, err)
	}
	e.auditor = a

	l.logger.Warn("auditor slashed",
		zap.String("auditor", string(auditor)),
		zap.Uint64("amount", amount),
		zap.String("reward_fund", l.accounts.RewardFund))
	pending.add(Event{Type: EventAuditorSlashed, Auditor: auditor, Actor: caller, Amount: amount, At: now})
	return a.clone(), nil
}

// ReinstateAuditor lifts a slash ban, returning the auditor to Unstaked with
// a fresh starting reputation for its tier.
func (l *Ledger) ReinstateAuditor(ctx context.Context, caller, auditor Identity) (*Auditor, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	e, err := l.lockAuditor(auditor)
	if err != nil {
		return nil, fmt.Errorf("reinstate: %w", err)
	}
	defer e.mu.Unlock()

	if caller != l.Registry().Admin {
		return nil, fmt.Errorf("reinstate %s: %w", auditor, ErrUnauthorized)
	}
	next, err := e.auditor.State.next(evReinstate)
	if err != nil {
		return nil, fmt.Errorf("reinstate %s: %w", auditor, err)
	}

	now := l.clock.Now()
	a := e.auditor.clone()
	a.State = next
	a.Reputation = startingReputation[a.Tier]
	a.SlashedAt = time.Time{}

	if err := l.settle(ctx, &Change{Auditor: a}, nil); err != nil {
		return nil, fmt.Errorf("reinstate %s: %w", auditor, err)
	}
	e.auditor = a

	l.logger.Info("auditor reinstated", zap.String("auditor", string(auditor)))
	pending.add(Event{Type: EventAuditorReinstated, Auditor: auditor, Actor: caller, At: now})
	return a.clone(), nil
}

// SetAuditorTier changes the tier used for the auditor's future attestations.
func (l *Ledger) SetAuditorTier(ctx context.Context, caller, auditor Identity, tier AuditorTier) (*Auditor, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if !tier.Valid() {
		return nil, fmt.Errorf("set tier: unknown tier %q", tier)
	}
	e, err := l.lockAuditor(auditor)
	if err != nil {
		return nil, fmt.Errorf("set tier: %w", err)
	}
	defer e.mu.Unlock()

	if caller != l.Registry().Admin {
		return nil, fmt.Errorf("set tier for %s: %w", auditor, ErrUnauthorized)
	}

	a := e.auditor.clone()
	a.Tier = tier
	if err := l.settle(ctx, &Change{Auditor: a}, nil); err != nil {
		return nil, fmt.Errorf("set tier for %s: %w", auditor, err)
	}
	e.auditor = a

	l.logger.Info("auditor tier changed", zap.String("auditor", string(auditor)), zap.String("tier", string(tier)))
	pending.add(Event{Type: EventAuditorTierChanged, Auditor: auditor, Actor: caller, Tier: tier, At: l.clock.Now()})
	return a.clone(), nil
}

// UnbondingUnlocked lists auditors whose unbonding window has elapsed at now.
func (l *Ledger) UnbondingUnlocked(now time.Time) []*Auditor {
	var out []*Auditor
	for _, a := range l.Auditors() {
		if a.State == StakeUnbonding && !now.Before(a.UnbondingUnlockAt) {
			out = append(out, a)
		}
	}
	return out
}
