package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InitializeRegistry creates a fresh Ledger with zeroed counters and admin as
// the only identity allowed to record consensus and slash.
func InitializeRegistry(ctx context.Context, admin Identity, opts Options) (*Ledger, error) {
	if admin == "" {
		return nil, fmt.Errorf("initialize registry: %w", ErrInvalidIdentity)
	}
	l, err := newLedger(opts)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	reg := Registry{Admin: admin, CreatedAt: now}
	if err := l.settle(ctx, &Change{Bootstrap: true, Registry: &reg}, nil); err != nil {
		return nil, fmt.Errorf("initialize registry: %w", err)
	}
	l.registry = reg
	l.logger.Info("registry initialized", zap.String("admin", string(admin)))
	l.emit(ctx, Event{Type: EventRegistryInitialized, Actor: admin, At: now})
	return l, nil
}

// InitializeAuditor registers identity as a community auditor with no stake.
func (l *Ledger) InitializeAuditor(ctx context.Context, identity Identity) (*Auditor, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if identity == "" {
		return nil, fmt.Errorf("initialize auditor: %w", ErrInvalidIdentity)
	}

	e := &auditorEntry{}
	e.mu.Lock()
	defer e.mu.Unlock()

	l.mu.Lock()
	if _, exists := l.auditors[identity]; exists {
		l.mu.Unlock()
		return nil, fmt.Errorf("initialize auditor %s: %w", identity, ErrAuditorExists)
	}
	l.auditors[identity] = e
	l.mu.Unlock()

	now := l.clock.Now()
	a := &Auditor{
		Identity:   identity,
		Tier:       DefaultTier,
		Reputation: startingReputation[DefaultTier],
		State:      StakeUnstaked,
		CreatedAt:  now,
	}
	if err := l.settle(ctx, &Change{Auditor: a}, nil); err != nil {
		l.mu.Lock()
		delete(l.auditors, identity)
		l.mu.Unlock()
		return nil, fmt.Errorf("initialize auditor %s: %w", identity, err)
	}
	e.auditor = a

	l.logger.Info("auditor initialized", zap.String("auditor", string(identity)))
	pending.add(Event{Type: EventAuditorInitialized, Auditor: identity, Tier: a.Tier, At: now})
	return a.clone(), nil
}

// MintRequest carries the inputs of MintSkill.
type MintRequest struct {
	ID               SkillID    `json:"id"`
	Creator          Identity   `json:"creator"`
	CreatorSignature Signature  `json:"creator_signature"`
	Price            uint64     `json:"price"`
	CodeRef          ContentRef `json:"code_ref"`
}

// MintSkill registers a new skill under its content fingerprint.
func (l *Ledger) MintSkill(ctx context.Context, req MintRequest) (*Skill, error) {
	var pending outbox
	defer l.flush(ctx, &pending)

	if req.Creator == "" {
		return nil, fmt.Errorf("mint skill: %w", ErrInvalidIdentity)
	}

	e := &skillEntry{}
	e.mu.Lock()
	defer e.mu.Unlock()

	l.mu.Lock()
	if _, exists := l.skills[req.ID]; exists {
		l.mu.Unlock()
		return nil, fmt.Errorf("mint skill %s: %w", req.ID, ErrSkillExists)
	}
	l.skills[req.ID] = e
	l.mu.Unlock()

	l.regMu.Lock()
	defer l.regMu.Unlock()

	now := l.clock.Now()
	s := &Skill{
		ID:               req.ID,
		Creator:          req.Creator,
		CreatorSignature: req.CreatorSignature,
		Price:            req.Price,
		CodeRef:          req.CodeRef,
		Attestations:     []AuditorSignature{},
		ConsensusStatus:  StatusPending,
		CreatedAt:        now,
	}
	reg := l.registry
	reg.SkillCount++

	if err := l.settle(ctx, &Change{Registry: &reg, Skill: s}, nil); err != nil {
		l.mu.Lock()
		delete(l.skills, req.ID)
		l.mu.Unlock()
		return nil, fmt.Errorf("mint skill %s: %w", req.ID, err)
	}
	e.skill = s
	l.registry = reg

	l.logger.Info("skill minted",
		zap.String("skill", s.ID.String()),
		zap.String("creator", string(s.Creator)),
		zap.Uint64("price", s.Price))
	pending.add(Event{Type: EventSkillMinted, Skill: s.ID.String(), Actor: s.Creator, Amount: s.Price, At: now})
	return s.clone(), nil
}
