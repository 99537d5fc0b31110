// Package sweep runs the periodic lifecycle pass over the registry: it hands
// authority back to running scores once consensus lapses and announces
// auditors whose unbonding window has elapsed.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/sigil-registry/internal/registry"
	"go.uber.org/zap"
)

// Ledger is the part of the registry the sweeper drives.
type Ledger interface {
	Now() time.Time
	ExpiredConsensus(now time.Time) []*registry.ConsensusRecord
	UnbondingUnlocked(now time.Time) []*registry.Auditor
	RefreshTrustScore(ctx context.Context, id registry.SkillID) (*registry.Skill, error)
}

// Report summarizes one pass.
type Report struct {
	At        time.Time `json:"at"`
	Expired   int       `json:"expired"`
	Refreshed int       `json:"refreshed"`
	Unlocked  int       `json:"unlocked"`
}

// Sweeper announces each lapsed consensus round and each unlocked unbonding
// window exactly once per process.
type Sweeper struct {
	ledger   Ledger
	sink     registry.EventSink
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	expired  map[registry.ConsensusKey]bool
	unlocked map[registry.Identity]time.Time
	last     Report

	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// New creates a sweeper. sink may be nil.
func New(ledger Ledger, sink registry.EventSink, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		ledger:   ledger,
		sink:     sink,
		interval: interval,
		timeout:  30 * time.Second,
		expired:  make(map[registry.ConsensusKey]bool),
		unlocked: make(map[registry.Identity]time.Time),
		logger:   logger,
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.logger.Info("lifecycle sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("lifecycle sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, s.timeout)
			s.RunOnce(passCtx)
			cancel()
		}
	}
}

// RunOnce performs a single pass immediately.
func (s *Sweeper) RunOnce(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.ledger.Now()
	rep := Report{At: now}

	lapsed := s.ledger.ExpiredConsensus(now)
	seen := make(map[registry.ConsensusKey]bool, len(lapsed))
	for _, rec := range lapsed {
		seen[rec.Key()] = true
	}
	// a newer round supersedes an announced one
	for key := range s.expired {
		if !seen[key] {
			delete(s.expired, key)
		}
	}

	for _, rec := range lapsed {
		key := rec.Key()
		if s.expired[key] {
			continue
		}
		skill, err := s.ledger.RefreshTrustScore(ctx, rec.Skill)
		if err != nil {
			s.logger.Warn("refresh after consensus expiry failed",
				zap.String("consensus", key.String()), zap.Error(err))
			continue
		}
		s.expired[key] = true
		rep.Expired++
		rep.Refreshed++
		s.publish(ctx, registry.Event{
			Type:       registry.EventConsensusExpired,
			Skill:      rec.Skill.String(),
			Round:      rec.Round,
			Verdict:    rec.Verdict,
			TrustScore: skill.TrustScore,
			At:         now,
		})
	}

	unbonded := s.ledger.UnbondingUnlocked(now)
	waiting := make(map[registry.Identity]bool, len(unbonded))
	for _, a := range unbonded {
		waiting[a.Identity] = true
	}
	for id := range s.unlocked {
		if !waiting[id] {
			delete(s.unlocked, id)
		}
	}

	for _, a := range unbonded {
		if at, ok := s.unlocked[a.Identity]; ok && at.Equal(a.UnbondingUnlockAt) {
			continue
		}
		s.unlocked[a.Identity] = a.UnbondingUnlockAt
		rep.Unlocked++
		s.publish(ctx, registry.Event{
			Type:    registry.EventUnbondingUnlocked,
			Auditor: a.Identity,
			Amount:  a.StakeAmount,
			At:      now,
		})
	}

	if rep.Expired > 0 || rep.Unlocked > 0 {
		s.logger.Info("lifecycle sweep",
			zap.Int("expired", rep.Expired),
			zap.Int("unlocked", rep.Unlocked))
	}
	s.last = rep
	return rep
}

// Last returns the most recent pass.
func (s *Sweeper) Last() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) publish(ctx context.Context, ev registry.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.logger.Warn("sweep event delivery failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
