// Package registry implements the skill registry's reputation, staking and
// consensus core.
//
// A Ledger is the explicitly constructed context every operation runs
// against. Each Skill, Auditor and the Registry singleton carries its own
// lock; an operation locks what it mutates (auditor, then skill, then
// registry), works on copies, settles external transfers as one atomic batch,
// persists the change set, and only then swaps the copies in. Any failure
// leaves the live state untouched.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/sigil-registry/internal/clock"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"go.uber.org/zap"
)

// Change is the set of entities written by one committed operation.
type Change struct {
	// Bootstrap marks the change that creates the registry; persisters must
	// refuse it with ErrRegistryExists when a registry is already stored.
	Bootstrap bool             `json:"bootstrap,omitempty"`
	Registry  *Registry        `json:"registry,omitempty"`
	Skill     *Skill           `json:"skill,omitempty"`
	Auditor   *Auditor         `json:"auditor,omitempty"`
	Consensus *ConsensusRecord `json:"consensus,omitempty"`
	Execution *ExecutionLog    `json:"execution,omitempty"`
}

// Persister durably writes a change set in a single transaction.
type Persister interface {
	Commit(ctx context.Context, ch *Change) error
}

// Snapshot is the full persisted state used to restore a Ledger.
type Snapshot struct {
	Registry   *Registry
	Skills     []*Skill
	Auditors   []*Auditor
	Consensus  []*ConsensusRecord
	Executions []*ExecutionLog
}

// Options wires a Ledger to its collaborators. Rail is required.
type Options struct {
	Clock     clock.Clock
	Rail      payment.Rail
	Accounts  payment.Accounts
	Persister Persister
	Sink      EventSink
	Logger    *zap.Logger
}

type skillEntry struct {
	mu    sync.Mutex
	skill *Skill // nil while a mint is in flight or after it failed
}

type auditorEntry struct {
	mu      sync.Mutex
	auditor *Auditor
}

// Ledger owns all registry state.
type Ledger struct {
	clock     clock.Clock
	rail      payment.Rail
	accounts  payment.Accounts
	persister Persister
	sink      EventSink
	logger    *zap.Logger

	regMu    sync.Mutex
	registry Registry

	mu         sync.RWMutex
	skills     map[SkillID]*skillEntry
	auditors   map[Identity]*auditorEntry
	consensus  map[ConsensusKey]*ConsensusRecord
	history    map[SkillID][]*ConsensusRecord
	executions map[SkillID][]*ExecutionLog
}

func newLedger(opts Options) (*Ledger, error) {
	if opts.Rail == nil {
		return nil, errors.New("registry: payment rail is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ledger{
		clock:      opts.Clock,
		rail:       opts.Rail,
		accounts:   opts.Accounts,
		persister:  opts.Persister,
		sink:       opts.Sink,
		logger:     opts.Logger,
		skills:     make(map[SkillID]*skillEntry),
		auditors:   make(map[Identity]*auditorEntry),
		consensus:  make(map[ConsensusKey]*ConsensusRecord),
		history:    make(map[SkillID][]*ConsensusRecord),
		executions: make(map[SkillID][]*ExecutionLog),
	}, nil
}

// Restore rebuilds a Ledger from persisted state.
func Restore(snap *Snapshot, opts Options) (*Ledger, error) {
	if snap == nil || snap.Registry == nil {
		return nil, ErrRegistryNotFound
	}
	l, err := newLedger(opts)
	if err != nil {
		return nil, err
	}
	l.registry = *snap.Registry
	for _, s := range snap.Skills {
		l.skills[s.ID] = &skillEntry{skill: s.clone()}
	}
	for _, a := range snap.Auditors {
		l.auditors[a.Identity] = &auditorEntry{auditor: a.clone()}
	}
	for _, r := range snap.Consensus {
		rec := *r
		l.consensus[rec.Key()] = &rec
		l.history[rec.Skill] = append(l.history[rec.Skill], &rec)
	}
	for id := range l.history {
		h := l.history[id]
		sort.Slice(h, func(i, j int) bool { return h[i].Round < h[j].Round })
	}
	for _, e := range snap.Executions {
		log := *e
		l.executions[log.Skill] = append(l.executions[log.Skill], &log)
	}
	for id := range l.executions {
		x := l.executions[id]
		sort.SliceStable(x, func(i, j int) bool { return x[i].Timestamp.Before(x[j].Timestamp) })
	}
	l.logger.Info("registry restored",
		zap.String("admin", string(l.registry.Admin)),
		zap.Int("skills", len(l.skills)),
		zap.Int("auditors", len(l.auditors)),
		zap.Int("consensus_records", len(l.consensus)))
	return l, nil
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.clock.Now() }

// settle applies the transfer batch, then persists the change. A persistence
// failure reverses the batch so that no partial payment is observable.
func (l *Ledger) settle(ctx context.Context, ch *Change, batch []payment.Transfer) error {
	if len(batch) > 0 {
		if err := l.rail.Transfer(ctx, batch); err != nil {
			return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
		}
	}
	if l.persister == nil {
		return nil
	}
	if err := l.persister.Commit(ctx, ch); err != nil {
		if len(batch) > 0 {
			if rerr := l.rail.Transfer(ctx, payment.Reverse(batch)); rerr != nil {
				l.logger.Error("compensating transfer failed", zap.Error(rerr))
			}
		}
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return nil
}

// outbox holds events raised while entity locks are held.
type outbox struct {
	events []Event
}

func (o *outbox) add(ev Event) { o.events = append(o.events, ev) }

// flush publishes queued events. Operations defer it before taking any
// entity lock so that sinks run only after every lock is released.
func (l *Ledger) flush(ctx context.Context, o *outbox) {
	for _, ev := range o.events {
		l.emit(ctx, ev)
	}
}

func (l *Ledger) emit(ctx context.Context, ev Event) {
	if l.sink == nil {
		return
	}
	if err := l.sink.Publish(ctx, ev); err != nil {
		l.logger.Warn("event delivery failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (l *Ledger) lookupSkill(id SkillID) (*skillEntry, error) {
	l.mu.RLock()
	e, ok := l.skills[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}
	return e, nil
}

func (l *Ledger) lookupAuditor(id Identity) (*auditorEntry, error) {
	l.mu.RLock()
	e, ok := l.auditors[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuditorNotFound, id)
	}
	return e, nil
}

// lockSkill returns the locked entry; the caller must unlock it.
func (l *Ledger) lockSkill(id SkillID) (*skillEntry, error) {
	e, err := l.lookupSkill(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.skill == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}
	return e, nil
}

func (l *Ledger) lockAuditor(id Identity) (*auditorEntry, error) {
	e, err := l.lookupAuditor(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.auditor == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAuditorNotFound, id)
	}
	return e, nil
}

// currentConsensus returns the skill's latest record while it is unexpired.
func (l *Ledger) currentConsensus(s *Skill, now time.Time) *ConsensusRecord {
	if s.ConsensusRef == nil {
		return nil
	}
	l.mu.RLock()
	rec := l.consensus[*s.ConsensusRef]
	l.mu.RUnlock()
	if rec == nil || !rec.Current(now) {
		return nil
	}
	return rec
}

// recompute refreshes the running score and the authoritative score.
func (l *Ledger) recompute(s *Skill, now time.Time) {
	s.RunningScore = Score(s, now)
	if rec := l.currentConsensus(s, now); rec != nil {
		s.TrustScore = rec.TrustScore
		return
	}
	s.TrustScore = s.RunningScore
}

// Registry returns a copy of the registry counters.
func (l *Ledger) Registry() Registry {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	return l.registry
}

// Skill returns a copy of the skill.
func (l *Ledger) Skill(id SkillID) (*Skill, error) {
	e, err := l.lockSkill(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.skill.clone(), nil
}

// Skills returns copies of every registered skill, oldest first.
func (l *Ledger) Skills() []*Skill {
	l.mu.RLock()
	entries := make([]*skillEntry, 0, len(l.skills))
	for _, e := range l.skills {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]*Skill, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.skill != nil {
			out = append(out, e.skill.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Auditor returns a copy of the auditor.
func (l *Ledger) Auditor(id Identity) (*Auditor, error) {
	e, err := l.lockAuditor(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.auditor.clone(), nil
}

// Auditors returns copies of every auditor ordered by identity.
func (l *Ledger) Auditors() []*Auditor {
	l.mu.RLock()
	entries := make([]*auditorEntry, 0, len(l.auditors))
	for _, e := range l.auditors {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]*Auditor, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.auditor != nil {
			out = append(out, e.auditor.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// EffectiveScore resolves the score a reader should display for the skill.
func (l *Ledger) EffectiveScore(id SkillID) (uint16, error) {
	e, err := l.lockSkill(id)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	now := l.clock.Now()
	return EffectiveTrustScore(e.skill, l.currentConsensus(e.skill, now), now), nil
}

// SkillsAttestedBy lists the fingerprints of skills the auditor has signed.
func (l *Ledger) SkillsAttestedBy(_ context.Context, auditor Identity) ([]string, error) {
	var out []string
	for _, s := range l.Skills() {
		if s.HasSigned(auditor) {
			out = append(out, s.ID.String())
		}
	}
	return out, nil
}
