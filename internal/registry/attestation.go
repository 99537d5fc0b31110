package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AddAuditorSignature appends the auditor's attestation to the skill and
// recomputes its trust score. The auditor's current tier is snapshotted into
// the attestation; later tier changes do not reweight it.
func (l *Ledger) AddAuditorSignature(ctx context.Context, skillID SkillID, auditor Identity, sig Signature, auditReport ContentRef) (*Skill, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	ae, err := l.lockAuditor(auditor)
	if err != nil {
		return nil, fmt.Errorf("add signature: %w", err)
	}
	defer ae.mu.Unlock()

	se, err := l.lockSkill(skillID)
	if err != nil {
		return nil, fmt.Errorf("add signature: %w", err)
	}
	defer se.mu.Unlock()

	if !ae.auditor.Active() {
		return nil, fmt.Errorf("add signature by %s: %w", auditor, ErrAuditorNotActive)
	}
	if se.skill.HasSigned(auditor) {
		return nil, fmt.Errorf("add signature by %s on %s: %w", auditor, skillID, ErrAuditorAlreadySigned)
	}

	now := l.clock.Now()
	s := se.skill.clone()
	a := ae.auditor.clone()

	s.Attestations = append(s.Attestations, AuditorSignature{
		Auditor:   a.Identity,
		Signature: sig,
		Tier:      a.Tier,
		Timestamp: now,
	})
	s.AttestationCount++
	s.AuditReportRef = auditReport
	l.recompute(s, now)
	a.AuditsPerformed++

	if err := l.settle(ctx, &Change{Skill: s, Auditor: a}, nil); err != nil {
		return nil, fmt.Errorf("add signature: %w", err)
	}
	se.skill = s
	ae.auditor = a

	l.logger.Info("auditor signed skill",
		zap.String("skill", s.ID.String()),
		zap.String("auditor", string(a.Identity)),
		zap.String("tier", string(a.Tier)),
		zap.Uint16("trust_score", s.TrustScore))
	pending.add(Event{
		Type:       EventAttestationAdded,
		Skill:      s.ID.String(),
		Auditor:    a.Identity,
		Tier:       a.Tier,
		TrustScore: s.TrustScore,
		At:         now,
	})
	return s.clone(), nil
}
