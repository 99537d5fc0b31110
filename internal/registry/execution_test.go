package registry

import (
	"math"
	"math/big"
	"sync"
	"testing"

	"github.com/nidhogg/sigil-registry/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogExecutionSplitsPayment(t *testing.T) {
	f := newFixture(t)
	id := f.mint("split", 1_000_000)
	wallet := payment.WalletAccount(string(executor))
	f.rail.Deposit(wallet, 2_000_000)

	log, err := f.ledger.LogExecution(f.ctx, id, executor, false, 1200)
	require.NoError(t, err)
	assert.NotEmpty(t, log.ID)
	assert.EqualValues(t, 1_000_000, log.PaymentAmount)
	assert.EqualValues(t, 700_000, log.CreatorShare)
	assert.EqualValues(t, 50_000, log.ProtocolShare)
	assert.EqualValues(t, 1200, log.LatencyMS)
	assert.False(t, log.Success)

	assert.EqualValues(t, 1_250_000, f.rail.Balance(wallet))
	assert.EqualValues(t, 700_000, f.rail.Balance(payment.WalletAccount(string(creator))))
	assert.EqualValues(t, 50_000, f.rail.Balance(treasury))

	s, err := f.ledger.Skill(id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.ExecutionCount)
	assert.Zero(t, s.SuccessCount)
	assert.EqualValues(t, 1_000_000, s.TotalEarned)
	assert.Equal(t, epoch, s.LastUsedAt)
	assert.EqualValues(t, 1, f.ledger.Registry().TotalExecutions)
}

func TestSplitTruncatesPerTerm(t *testing.T) {
	for _, price := range []uint64{1, 3, 19, 99, 101, 1_000_001, 123_456_789} {
		s := payment.SplitPrice(price)
		assert.Equal(t, price*70/100, s.Creator, "price %d", price)
		assert.Equal(t, price*5/100, s.Protocol, "price %d", price)
		assert.Equal(t, price*70/100+price*5/100, s.Charged(), "price %d", price)
		assert.LessOrEqual(t, s.Charged(), price*75/100)
	}
}

func TestLogExecutionInsufficientFundsIsAtomic(t *testing.T) {
	f := newFixture(t)
	id := f.mint("broke", 1_000_000)
	wallet := payment.WalletAccount(string(executor))
	// covers the creator share but not the protocol share
	f.rail.Deposit(wallet, 720_000)

	_, err := f.ledger.LogExecution(f.ctx, id, executor, true, 5)
	require.ErrorIs(t, err, payment.ErrInsufficientFunds)

	assert.EqualValues(t, 720_000, f.rail.Balance(wallet))
	assert.Zero(t, f.rail.Balance(payment.WalletAccount(string(creator))))
	assert.Zero(t, f.rail.Balance(treasury))

	s, err := f.ledger.Skill(id)
	require.NoError(t, err)
	assert.Zero(t, s.ExecutionCount)
	assert.True(t, s.LastUsedAt.IsZero())
	logs, err := f.ledger.Executions(id, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, f.ledger.Registry().TotalExecutions)
}

func TestLogExecutionPersistFailureCompensates(t *testing.T) {
	f := newFixture(t)
	id := f.mint("compensate", 1_000_000)
	wallet := payment.WalletAccount(string(executor))
	f.rail.Deposit(wallet, 1_000_000)

	f.persister.fail = true
	_, err := f.ledger.LogExecution(f.ctx, id, executor, true, 5)
	require.Error(t, err)

	assert.EqualValues(t, 1_000_000, f.rail.Balance(wallet))
	assert.Zero(t, f.rail.Balance(payment.WalletAccount(string(creator))))
	assert.Zero(t, f.rail.Balance(treasury))
	s, err := f.ledger.Skill(id)
	require.NoError(t, err)
	assert.Zero(t, s.ExecutionCount)
}

func TestLogExecutionValidation(t *testing.T) {
	f := newFixture(t)
	free := f.mint("free", 0)

	_, err := f.ledger.LogExecution(f.ctx, free, executor, true, 1)
	require.ErrorIs(t, err, ErrSkillNotPriced)
	_, err = f.ledger.LogExecution(f.ctx, skillID("ghost"), executor, true, 1)
	require.ErrorIs(t, err, ErrSkillNotFound)
	_, err = f.ledger.LogExecution(f.ctx, free, "", true, 1)
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestLogExecutionRejectsBadTreasury(t *testing.T) {
	f := newFixture(t)
	id := f.mint("treasury", 100)
	reg := f.ledger.Registry()
	skills := f.ledger.Skills()

	for _, acct := range []string{"", payment.WalletAccount(string(executor)), payment.WalletAccount(string(creator))} {
		l, err := Restore(&Snapshot{Registry: &reg, Skills: skills}, Options{
			Clock:    f.clock,
			Rail:     f.rail,
			Accounts: payment.Accounts{Treasury: acct, RewardFund: rewards},
		})
		require.NoError(t, err)
		_, err = l.LogExecution(f.ctx, id, executor, true, 1)
		require.ErrorIs(t, err, ErrInvalidProtocolTreasury, "treasury %q", acct)
	}
}

func TestExecutionsNewestFirst(t *testing.T) {
	f := newFixture(t)
	id := f.mint("history", 100)
	f.rail.Deposit(payment.WalletAccount(string(executor)), 1_000)

	for i := 0; i < 3; i++ {
		_, err := f.ledger.LogExecution(f.ctx, id, executor, i%2 == 0, uint32(i))
		require.NoError(t, err)
		f.clock.Advance(day)
	}
	logs, err := f.ledger.Executions(id, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.EqualValues(t, 2, logs[0].LatencyMS)
	assert.EqualValues(t, 1, logs[1].LatencyMS)

	all, err := f.ledger.Executions(id, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConcurrentExecutions(t *testing.T) {
	f := newFixture(t)
	a := f.mint("hot-a", 1_000)
	b := f.mint("hot-b", 2_000)

	const n = 40
	executors := make([]Identity, n)
	for i := range executors {
		executors[i] = Identity("exec-" + string(rune('a'+i%26)) + string(rune('a'+i/26)))
		f.rail.Deposit(payment.WalletAccount(string(executors[i])), 10_000)
	}

	var wg sync.WaitGroup
	for i, who := range executors {
		wg.Add(1)
		go func(i int, who Identity) {
			defer wg.Done()
			id := a
			if i%2 == 1 {
				id = b
			}
			_, err := f.ledger.LogExecution(f.ctx, id, who, true, 1)
			assert.NoError(t, err)
		}(i, who)
	}
	wg.Wait()

	sa, err := f.ledger.Skill(a)
	require.NoError(t, err)
	sb, err := f.ledger.Skill(b)
	require.NoError(t, err)
	assert.EqualValues(t, n/2, sa.ExecutionCount)
	assert.EqualValues(t, n/2, sb.ExecutionCount)
	assert.EqualValues(t, n, f.ledger.Registry().TotalExecutions)

	creatorWant := uint64(n/2)*700 + uint64(n/2)*1400
	treasuryWant := uint64(n/2)*50 + uint64(n/2)*100
	assert.Equal(t, creatorWant, f.rail.Balance(payment.WalletAccount(string(creator))))
	assert.Equal(t, treasuryWant, f.rail.Balance(treasury))
}

func TestLogExecutionLargePrice(t *testing.T) {
	f := newFixture(t)
	const price = math.MaxUint64 / 50
	id := f.mint("expensive", price)
	wallet := payment.WalletAccount(string(executor))
	f.rail.Deposit(wallet, price)

	log, err := f.ledger.LogExecution(f.ctx, id, executor, true, 1)
	require.NoError(t, err)

	pct := func(n int64) uint64 {
		v := new(big.Int).SetUint64(price)
		v.Mul(v, big.NewInt(n))
		return v.Quo(v, big.NewInt(100)).Uint64()
	}
	assert.Equal(t, pct(70), log.CreatorShare)
	assert.Equal(t, pct(5), log.ProtocolShare)
	assert.Equal(t, price-pct(70)-pct(5), f.rail.Balance(wallet))
	assert.Equal(t, pct(70), f.rail.Balance(payment.WalletAccount(string(creator))))
	assert.Equal(t, pct(5), f.rail.Balance(treasury))
}

func TestCreatorRunsOwnSkill(t *testing.T) {
	f := newFixture(t)
	id := f.mint("self-serve", 1_000_000)
	wallet := payment.WalletAccount(string(creator))
	f.rail.Deposit(wallet, 100_000)

	log, err := f.ledger.LogExecution(f.ctx, id, creator, true, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 700_000, log.CreatorShare)
	assert.EqualValues(t, 50_000, log.ProtocolShare)

	// only the protocol share leaves the creator's wallet
	assert.EqualValues(t, 50_000, f.rail.Balance(wallet))
	assert.EqualValues(t, 50_000, f.rail.Balance(treasury))

	s, err := f.ledger.Skill(id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.ExecutionCount)
	assert.EqualValues(t, 1, s.SuccessCount)
}
