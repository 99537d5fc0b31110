package registry

import (
	"testing"
	"time"

	"github.com/nidhogg/sigil-registry/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStakeMinimum(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.InitializeAuditor(f.ctx, "alice")
	require.NoError(t, err)
	wallet := payment.WalletAccount("alice")
	f.rail.Deposit(wallet, 100_000_000)

	_, err = f.ledger.Stake(f.ctx, "alice", "alice", 40_000_000)
	require.ErrorIs(t, err, ErrInsufficientStake)
	a, err := f.ledger.Auditor("alice")
	require.NoError(t, err)
	assert.Zero(t, a.StakeAmount)
	assert.False(t, a.Active())
	assert.EqualValues(t, 100_000_000, f.rail.Balance(wallet))

	a, err = f.ledger.Stake(f.ctx, "alice", "alice", 50_000_000)
	require.NoError(t, err)
	assert.True(t, a.Active())
	assert.EqualValues(t, 50_000_000, a.StakeAmount)
	assert.EqualValues(t, 50_000_000, f.rail.Balance(wallet))
	assert.EqualValues(t, 50_000_000, f.rail.Balance(payment.CustodyAccount("alice")))

	// top-ups below the minimum are fine once the total clears it
	a, err = f.ledger.Stake(f.ctx, "alice", "alice", 10_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 60_000_000, a.StakeAmount)
}

func TestStakeValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.InitializeAuditor(f.ctx, "alice")
	require.NoError(t, err)

	_, err = f.ledger.Stake(f.ctx, "mallory", "alice", MinimumStake)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.ledger.Stake(f.ctx, "alice", "alice", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.ledger.Stake(f.ctx, "ghost", "ghost", MinimumStake)
	require.ErrorIs(t, err, ErrAuditorNotFound)

	// wallet is empty
	_, err = f.ledger.Stake(f.ctx, "alice", "alice", MinimumStake)
	require.ErrorIs(t, err, payment.ErrInsufficientFunds)
	a, err := f.ledger.Auditor("alice")
	require.NoError(t, err)
	assert.Equal(t, StakeUnstaked, a.State)
}

func TestUnbondingLifecycle(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier3)
	wallet := payment.WalletAccount("alice")

	_, err := f.ledger.WithdrawStake(f.ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrUnstakeNotRequested)

	requested := f.clock.Now()
	a, err := f.ledger.RequestUnstake(f.ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, StakeUnbonding, a.State)
	assert.False(t, a.Active())
	assert.Equal(t, requested.Add(UnbondingPeriod), a.UnbondingUnlockAt)

	_, err = f.ledger.RequestUnstake(f.ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrNotStaked)

	f.clock.Set(requested.Add(6 * day))
	_, err = f.ledger.WithdrawStake(f.ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrStillLocked)
	assert.Zero(t, f.rail.Balance(wallet))

	f.clock.Set(requested.Add(7*day + time.Second))
	a, err = f.ledger.WithdrawStake(f.ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, StakeUnstaked, a.State)
	assert.Zero(t, a.StakeAmount)
	assert.True(t, a.UnbondingUnlockAt.IsZero())
	assert.Equal(t, MinimumStake, f.rail.Balance(wallet))
	assert.Zero(t, f.rail.Balance(payment.CustodyAccount("alice")))

	_, err = f.ledger.WithdrawStake(f.ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrUnstakeNotRequested)
	assert.Equal(t, MinimumStake, f.rail.Balance(wallet))
}

func TestWithdrawAtExactUnlock(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier3)
	a, err := f.ledger.RequestUnstake(f.ctx, "alice", "alice")
	require.NoError(t, err)

	f.clock.Set(a.UnbondingUnlockAt)
	_, err = f.ledger.WithdrawStake(f.ctx, "alice", "alice")
	require.NoError(t, err)
}

func TestStakeDuringUnbondingCancelsIt(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier3)
	_, err := f.ledger.RequestUnstake(f.ctx, "alice", "alice")
	require.NoError(t, err)

	f.rail.Deposit(payment.WalletAccount("alice"), 5)
	a, err := f.ledger.Stake(f.ctx, "alice", "alice", 5)
	require.NoError(t, err)
	assert.True(t, a.Active())
	assert.True(t, a.UnbondingUnlockAt.IsZero())
	assert.Equal(t, MinimumStake+5, a.StakeAmount)
}

func TestSlashAuditor(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier2)

	_, err := f.ledger.SlashAuditor(f.ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrUnauthorized)

	a, err := f.ledger.SlashAuditor(f.ctx, admin, "alice")
	require.NoError(t, err)
	assert.Equal(t, StakeSlashed, a.State)
	assert.Zero(t, a.StakeAmount)
	assert.Zero(t, a.Reputation)
	assert.Equal(t, epoch, a.SlashedAt)
	assert.Equal(t, MinimumStake, f.rail.Balance(rewards))
	assert.Zero(t, f.rail.Balance(payment.CustodyAccount("alice")))

	_, err = f.ledger.SlashAuditor(f.ctx, admin, "alice")
	require.ErrorIs(t, err, ErrNothingToSlash)

	f.rail.Deposit(payment.WalletAccount("alice"), MinimumStake)
	_, err = f.ledger.Stake(f.ctx, "alice", "alice", MinimumStake)
	require.ErrorIs(t, err, ErrAuditorBanned)

	id := f.mint("banned", 100)
	_, err = f.ledger.AddAuditorSignature(f.ctx, id, "alice", Signature{}, "")
	require.ErrorIs(t, err, ErrAuditorNotActive)
}

func TestSlashDuringUnbonding(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier3)
	_, err := f.ledger.RequestUnstake(f.ctx, "alice", "alice")
	require.NoError(t, err)

	a, err := f.ledger.SlashAuditor(f.ctx, admin, "alice")
	require.NoError(t, err)
	assert.Equal(t, StakeSlashed, a.State)
	assert.True(t, a.UnbondingUnlockAt.IsZero())

	f.clock.Advance(8 * day)
	_, err = f.ledger.WithdrawStake(f.ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrAuditorBanned)
}

func TestSlashWithoutStake(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.InitializeAuditor(f.ctx, "alice")
	require.NoError(t, err)
	_, err = f.ledger.SlashAuditor(f.ctx, admin, "alice")
	require.ErrorIs(t, err, ErrNothingToSlash)
}

func TestReinstateAuditor(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier1)

	_, err := f.ledger.ReinstateAuditor(f.ctx, admin, "alice")
	require.ErrorIs(t, err, ErrNotSlashed)

	_, err = f.ledger.SlashAuditor(f.ctx, admin, "alice")
	require.NoError(t, err)
	_, err = f.ledger.ReinstateAuditor(f.ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrUnauthorized)

	a, err := f.ledger.ReinstateAuditor(f.ctx, admin, "alice")
	require.NoError(t, err)
	assert.Equal(t, StakeUnstaked, a.State)
	assert.EqualValues(t, 100, a.Reputation)
	assert.True(t, a.SlashedAt.IsZero())

	f.rail.Deposit(payment.WalletAccount("alice"), MinimumStake)
	a, err = f.ledger.Stake(f.ctx, "alice", "alice", MinimumStake)
	require.NoError(t, err)
	assert.True(t, a.Active())
}

func TestUnbondingUnlocked(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier3)
	f.stakedAuditor("bob", Tier3)
	_, err := f.ledger.RequestUnstake(f.ctx, "alice", "alice")
	require.NoError(t, err)

	assert.Empty(t, f.ledger.UnbondingUnlocked(f.clock.Now()))
	unlocked := f.ledger.UnbondingUnlocked(f.clock.Now().Add(UnbondingPeriod))
	require.Len(t, unlocked, 1)
	assert.Equal(t, Identity("alice"), unlocked[0].Identity)
}

func TestSlashRequiresRewardFund(t *testing.T) {
	f := newFixture(t)
	f.stakedAuditor("alice", Tier3)
	reg := f.ledger.Registry()
	l, err := Restore(&Snapshot{Registry: &reg, Auditors: f.ledger.Auditors()}, Options{
		Clock:    f.clock,
		Rail:     f.rail,
		Accounts: payment.Accounts{Treasury: treasury},
	})
	require.NoError(t, err)

	_, err = l.SlashAuditor(f.ctx, admin, "alice")
	require.ErrorIs(t, err, ErrInvalidProtocolTreasury)
	a, err := l.Auditor("alice")
	require.NoError(t, err)
	assert.Equal(t, StakeStaked, a.State)
}
