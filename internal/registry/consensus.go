package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ConsensusValidity is how long a consensus record stays authoritative.
const ConsensusValidity = 365 * 24 * time.Hour

const (
	maxConfidence = 100
	maxMetric     = 1000
)

// ConsensusInput is the verdict and evidence produced by the off-chain
// evaluation process. Variance and overlap are fixed-point per-mille values.
type ConsensusInput struct {
	Verdict          Verdict    `json:"verdict"`
	Confidence       uint8      `json:"confidence"`
	TrustScore       uint16     `json:"trust_score"`
	EvaluatorCount   uint8      `json:"evaluator_count"`
	MeanScore        uint16     `json:"mean_score"`
	ScoreVariance    uint16     `json:"score_variance"`
	CriticalOverlap  uint16     `json:"critical_overlap"`
	MethodologyCount uint8      `json:"methodology_count"`
	ReportsRef       ContentRef `json:"reports_ref"`
	ReasoningRef     ContentRef `json:"reasoning_ref"`
}

func (in ConsensusInput) validate() error {
	if _, ok := in.Verdict.Status(); !ok {
		return fmt.Errorf("%w: unknown verdict %q", ErrInvalidConsensusVerdict, in.Verdict)
	}
	if in.Confidence > maxConfidence {
		return fmt.Errorf("%w: confidence %d exceeds %d", ErrInvalidConsensusVerdict, in.Confidence, maxConfidence)
	}
	if in.TrustScore > MaxTrustScore {
		return fmt.Errorf("%w: trust score %d exceeds %d", ErrInvalidConsensusVerdict, in.TrustScore, MaxTrustScore)
	}
	if in.MeanScore > maxMetric || in.CriticalOverlap > maxMetric {
		return fmt.Errorf("%w: metric out of range", ErrInvalidConsensusVerdict)
	}
	// variance is the per-mille range/mean ratio, which cannot exceed the
	// number of evaluators
	if uint32(in.ScoreVariance) > uint32(in.EvaluatorCount)*maxMetric {
		return fmt.Errorf("%w: variance %d out of range for %d evaluators", ErrInvalidConsensusVerdict, in.ScoreVariance, in.EvaluatorCount)
	}
	return nil
}

// RecordConsensus writes a new immutable consensus record for the skill's
// next round and makes its score and status authoritative. Rounds come from
// an explicit per-skill counter, so attestations added between rounds never
// collide with an existing record.
func (l *Ledger) RecordConsensus(ctx context.Context, caller Identity, skillID SkillID, in ConsensusInput) (*ConsensusRecord, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if caller != l.Registry().Admin {
		return nil, fmt.Errorf("record consensus on %s: %w", skillID, ErrUnauthorized)
	}
	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("record consensus: %w", err)
	}

	se, err := l.lockSkill(skillID)
	if err != nil {
		return nil, fmt.Errorf("record consensus: %w", err)
	}
	defer se.mu.Unlock()

	l.regMu.Lock()
	defer l.regMu.Unlock()

	key := ConsensusKey{Skill: skillID, Round: se.skill.ConsensusRound + 1}
	l.mu.RLock()
	_, exists := l.consensus[key]
	l.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("record consensus %s: %w", key, ErrConsensusAlreadyRecorded)
	}

	now := l.clock.Now()
	status, _ := in.Verdict.Status()
	rec := &ConsensusRecord{
		Skill:            skillID,
		Round:            key.Round,
		Verdict:          in.Verdict,
		Confidence:       in.Confidence,
		TrustScore:       in.TrustScore,
		EvaluatorCount:   in.EvaluatorCount,
		MeanScore:        in.MeanScore,
		ScoreVariance:    in.ScoreVariance,
		CriticalOverlap:  in.CriticalOverlap,
		MethodologyCount: in.MethodologyCount,
		ReportsRef:       in.ReportsRef,
		ReasoningRef:     in.ReasoningRef,
		EvaluatedAt:      now,
		ExpiresAt:        now.Add(ConsensusValidity),
		RecordedBy:       caller,
	}

	s := se.skill.clone()
	s.TrustScore = in.TrustScore
	s.RunningScore = Score(s, now)
	s.ConsensusRef = &key
	s.ConsensusStatus = status
	s.ConsensusRound = key.Round

	reg := l.registry
	reg.TotalConsensusRecords++

	if err := l.settle(ctx, &Change{Registry: &reg, Skill: s, Consensus: rec}, nil); err != nil {
		return nil, fmt.Errorf("record consensus %s: %w", key, err)
	}

	l.mu.Lock()
	l.consensus[key] = rec
	l.history[skillID] = append(l.history[skillID], rec)
	l.mu.Unlock()
	se.skill = s
	l.registry = reg

	l.logger.Info("consensus recorded",
		zap.String("skill", skillID.String()),
		zap.Uint32("round", key.Round),
		zap.String("verdict", string(in.Verdict)),
		zap.Uint16("trust_score", in.TrustScore),
		zap.Uint8("confidence", in.Confidence))
	pending.add(Event{
		Type:       EventConsensusRecorded,
		Skill:      skillID.String(),
		Actor:      caller,
		Round:      key.Round,
		Verdict:    in.Verdict,
		TrustScore: in.TrustScore,
		At:         now,
	})
	out := *rec
	return &out, nil
}

// ConsensusHistory returns every record for the skill in round order.
func (l *Ledger) ConsensusHistory(skillID SkillID) ([]*ConsensusRecord, error) {
	if _, err := l.lookupSkill(skillID); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	h := l.history[skillID]
	out := make([]*ConsensusRecord, len(h))
	for i, r := range h {
		rec := *r
		out[i] = &rec
	}
	return out, nil
}

// CurrentConsensus returns the skill's latest record if it has not expired, or nil.
func (l *Ledger) CurrentConsensus(skillID SkillID) (*ConsensusRecord, error) {
	e, err := l.lockSkill(skillID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	rec := l.currentConsensus(e.skill, l.clock.Now())
	if rec == nil {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// ExpiredConsensus lists the latest record of every skill whose authority has
// lapsed at now.
func (l *Ledger) ExpiredConsensus(now time.Time) []*ConsensusRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*ConsensusRecord
	for _, h := range l.history {
		if len(h) == 0 {
			continue
		}
		latest := h[len(h)-1]
		if !latest.Current(now) {
			rec := *latest
			out = append(out, &rec)
		}
	}
	return out
}
