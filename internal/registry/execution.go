package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"go.uber.org/zap"
)

// LogExecution charges the executor the creator and protocol shares of the
// skill's price as one atomic batch, appends the execution log, updates the
// skill's statistics and recomputes its trust score.
func (l *Ledger) LogExecution(ctx context.Context, skillID SkillID, executor Identity, success bool, latencyMS uint32) (*ExecutionLog, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if executor == "" {
		return nil, fmt.Errorf("log execution: %w", ErrInvalidIdentity)
	}
	se, err := l.lockSkill(skillID)
	if err != nil {
		return nil, fmt.Errorf("log execution: %w", err)
	}
	defer se.mu.Unlock()

	if se.skill.Price == 0 {
		return nil, fmt.Errorf("log execution on %s: %w", skillID, ErrSkillNotPriced)
	}
	executorAcct := payment.WalletAccount(string(executor))
	creatorAcct := payment.WalletAccount(string(se.skill.Creator))
	treasury := l.accounts.Treasury
	if treasury == "" || treasury == executorAcct || treasury == creatorAcct {
		return nil, fmt.Errorf("log execution on %s: %w", skillID, ErrInvalidProtocolTreasury)
	}

	l.regMu.Lock()
	defer l.regMu.Unlock()

	now := l.clock.Now()
	split := payment.SplitPrice(se.skill.Price)
	var batch []payment.Transfer
	// a creator running their own skill keeps the creator share in place
	if executorAcct != creatorAcct {
		batch = append(batch, payment.Transfer{From: executorAcct, To: creatorAcct, Amount: split.Creator, Memo: "creator share " + skillID.String()})
	}
	batch = append(batch, payment.Transfer{From: executorAcct, To: treasury, Amount: split.Protocol, Memo: "protocol share " + skillID.String()})

	entry := &ExecutionLog{
		ID:            uuid.New().String(),
		Skill:         skillID,
		Executor:      executor,
		Success:       success,
		LatencyMS:     latencyMS,
		PaymentAmount: split.Price,
		CreatorShare:  split.Creator,
		ProtocolShare: split.Protocol,
		Timestamp:     now,
	}

	s := se.skill.clone()
	s.ExecutionCount++
	if success {
		s.SuccessCount++
	}
	s.TotalEarned += split.Price
	s.LastUsedAt = now
	l.recompute(s, now)

	reg := l.registry
	reg.TotalExecutions++

	if err := l.settle(ctx, &Change{Registry: &reg, Skill: s, Execution: entry}, batch); err != nil {
		return nil, fmt.Errorf("log execution on %s: %w", skillID, err)
	}

	l.mu.Lock()
	l.executions[skillID] = append(l.executions[skillID], entry)
	l.mu.Unlock()
	se.skill = s
	l.registry = reg

	l.logger.Info("execution logged",
		zap.String("skill", skillID.String()),
		zap.String("executor", string(executor)),
		zap.Bool("success", success),
		zap.Uint32("latency_ms", latencyMS),
		zap.Uint64("creator_share", split.Creator),
		zap.Uint64("protocol_share", split.Protocol),
		zap.Uint16("trust_score", s.TrustScore))
	pending.add(Event{
		Type:       EventExecutionLogged,
		Skill:      skillID.String(),
		Actor:      executor,
		Amount:     split.Charged(),
		Success:    success,
		TrustScore: s.TrustScore,
		At:         now,
	})
	out := *entry
	return &out, nil
}

// Executions returns up to limit logs for the skill, newest first. A
// non-positive limit returns all of them.
func (l *Ledger) Executions(skillID SkillID, limit int) ([]*ExecutionLog, error) {
	if _, err := l.lookupSkill(skillID); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	logs := l.executions[skillID]
	if limit <= 0 || limit > len(logs) {
		limit = len(logs)
	}
	out := make([]*ExecutionLog, 0, limit)
	for i := len(logs) - 1; i >= 0 && len(out) < limit; i-- {
		e := *logs[i]
		out = append(out, &e)
	}
	return out, nil
}

// RefreshTrustScore recomputes the stored score at the current time, letting
// the running score resume authority once a consensus record has expired.
func (l *Ledger) RefreshTrustScore(ctx context.Context, skillID SkillID) (*Skill, error) {
	se, err := l.lockSkill(skillID)
	if err != nil {
		return nil, fmt.Errorf("refresh trust score: %w", err)
	}
	defer se.mu.Unlock()

	s := se.skill.clone()
	l.recompute(s, l.clock.Now())
	if s.TrustScore == se.skill.TrustScore && s.RunningScore == se.skill.RunningScore {
		return s, nil
	}
	if err := l.settle(ctx, &Change{Skill: s}, nil); err != nil {
		return nil, fmt.Errorf("refresh trust score on %s: %w", skillID, err)
	}
	se.skill = s
	l.logger.Debug("trust score refreshed",
		zap.String("skill", skillID.String()),
		zap.Uint16("trust_score", s.TrustScore))
	return s.clone(), nil
}
