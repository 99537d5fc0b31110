package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/sigil-registry/internal/clock"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"github.com/nidhogg/sigil-registry/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSink struct {
	mu     sync.Mutex
	events []registry.Event
}

func (c *captureSink) Publish(_ context.Context, ev registry.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) ofType(t registry.EventType) []registry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []registry.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func setup(t *testing.T) (*registry.Ledger, *clock.Manual, *payment.MemoryRail) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	rail := payment.NewMemoryRail(zap.NewNop())
	l, err := registry.InitializeRegistry(context.Background(), "admin", registry.Options{
		Clock:    clk,
		Rail:     rail,
		Accounts: payment.Accounts{Treasury: "treasury", RewardFund: "rewards"},
	})
	require.NoError(t, err)
	return l, clk, rail
}

func TestSweepExpiresConsensusOnce(t *testing.T) {
	ctx := context.Background()
	l, clk, _ := setup(t)
	id := registry.SkillID{1}
	_, err := l.MintSkill(ctx, registry.MintRequest{ID: id, Creator: "creator", Price: 100})
	require.NoError(t, err)
	_, err = l.RecordConsensus(ctx, "admin", id, registry.ConsensusInput{Verdict: registry.VerdictApproved, Confidence: 80, TrustScore: 777})
	require.NoError(t, err)

	sink := &captureSink{}
	s := New(l, sink, time.Minute, zap.NewNop())

	rep := s.RunOnce(ctx)
	assert.Zero(t, rep.Expired)

	clk.Advance(registry.ConsensusValidity)
	rep = s.RunOnce(ctx)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Refreshed)

	expired := sink.ofType(registry.EventConsensusExpired)
	require.Len(t, expired, 1)
	assert.EqualValues(t, 1, expired[0].Round)
	assert.Zero(t, expired[0].TrustScore)

	skill, err := l.Skill(id)
	require.NoError(t, err)
	assert.Zero(t, skill.TrustScore)

	rep = s.RunOnce(ctx)
	assert.Zero(t, rep.Expired)
	assert.Len(t, sink.ofType(registry.EventConsensusExpired), 1)
	assert.Equal(t, rep, s.Last())
}

func TestSweepAnnouncesUnbondingUnlock(t *testing.T) {
	ctx := context.Background()
	l, clk, rail := setup(t)
	_, err := l.InitializeAuditor(ctx, "alice")
	require.NoError(t, err)
	rail.Deposit(payment.WalletAccount("alice"), registry.MinimumStake)
	_, err = l.Stake(ctx, "alice", "alice", registry.MinimumStake)
	require.NoError(t, err)
	_, err = l.RequestUnstake(ctx, "alice", "alice")
	require.NoError(t, err)

	sink := &captureSink{}
	s := New(l, sink, time.Minute, zap.NewNop())

	clk.Advance(registry.UnbondingPeriod - time.Second)
	assert.Zero(t, s.RunOnce(ctx).Unlocked)

	clk.Advance(time.Second)
	assert.Equal(t, 1, s.RunOnce(ctx).Unlocked)
	assert.Zero(t, s.RunOnce(ctx).Unlocked)

	unlocked := sink.ofType(registry.EventUnbondingUnlocked)
	require.Len(t, unlocked, 1)
	assert.Equal(t, registry.Identity("alice"), unlocked[0].Auditor)
	assert.Equal(t, registry.MinimumStake, unlocked[0].Amount)
}

func TestSweepForgetsSettledEntries(t *testing.T) {
	ctx := context.Background()
	l, clk, rail := setup(t)
	id := registry.SkillID{2}
	_, err := l.MintSkill(ctx, registry.MintRequest{ID: id, Creator: "creator", Price: 100})
	require.NoError(t, err)
	_, err = l.RecordConsensus(ctx, "admin", id, registry.ConsensusInput{Verdict: registry.VerdictApproved, Confidence: 80, TrustScore: 600})
	require.NoError(t, err)

	_, err = l.InitializeAuditor(ctx, "bob")
	require.NoError(t, err)
	rail.Deposit(payment.WalletAccount("bob"), registry.MinimumStake)
	_, err = l.Stake(ctx, "bob", "bob", registry.MinimumStake)
	require.NoError(t, err)
	_, err = l.RequestUnstake(ctx, "bob", "bob")
	require.NoError(t, err)

	s := New(l, nil, time.Minute, zap.NewNop())
	clk.Advance(registry.ConsensusValidity)
	rep := s.RunOnce(ctx)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Unlocked)
	assert.Len(t, s.expired, 1)
	assert.Len(t, s.unlocked, 1)

	_, err = l.RecordConsensus(ctx, "admin", id, registry.ConsensusInput{Verdict: registry.VerdictApproved, Confidence: 85, TrustScore: 650})
	require.NoError(t, err)
	_, err = l.WithdrawStake(ctx, "bob", "bob")
	require.NoError(t, err)

	rep = s.RunOnce(ctx)
	assert.Zero(t, rep.Expired)
	assert.Zero(t, rep.Unlocked)
	assert.Empty(t, s.expired)
	assert.Empty(t, s.unlocked)
}

func TestSweeperStartStop(t *testing.T) {
	l, _, _ := setup(t)
	s := New(l, nil, 10*time.Millisecond, zap.NewNop())
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	assert.False(t, s.Last().At.IsZero())
	s.Stop()
}
