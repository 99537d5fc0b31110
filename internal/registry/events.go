package registry

import (
	"context"
	"errors"
	"time"
)

// EventType names a committed ledger change.
type EventType string

const (
	EventRegistryInitialized EventType = "registry.initialized"
	EventSkillMinted         EventType = "skill.minted"
	EventAttestationAdded    EventType = "attestation.added"
	EventAuditorInitialized  EventType = "auditor.initialized"
	EventAuditorStaked       EventType = "auditor.staked"
	EventUnstakeRequested    EventType = "auditor.unstake_requested"
	EventStakeWithdrawn      EventType = "auditor.withdrawn"
	EventAuditorSlashed      EventType = "auditor.slashed"
	EventAuditorReinstated   EventType = "auditor.reinstated"
	EventAuditorTierChanged  EventType = "auditor.tier_changed"
	EventConsensusRecorded   EventType = "consensus.recorded"
	EventExecutionLogged     EventType = "execution.logged"

	// Emitted by the lifecycle sweeper, not by ledger operations.
	EventConsensusExpired  EventType = "consensus.expired"
	EventUnbondingUnlocked EventType = "auditor.unbonding_unlocked"
)

// Event describes a change after it has been committed.
type Event struct {
	Type       EventType   `json:"type"`
	Skill      string      `json:"skill,omitempty"`
	Auditor    Identity    `json:"auditor,omitempty"`
	Actor      Identity    `json:"actor,omitempty"`
	Amount     uint64      `json:"amount,omitempty"`
	Round      uint32      `json:"round,omitempty"`
	Verdict    Verdict     `json:"verdict,omitempty"`
	Tier       AuditorTier `json:"tier,omitempty"`
	TrustScore uint16      `json:"trust_score,omitempty"`
	Success    bool        `json:"success,omitempty"`
	At         time.Time   `json:"at"`
}

// EventSink receives committed events. Delivery failures never undo a commit.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// Sinks fans an event out to every sink and joins their errors.
type Sinks []EventSink

func (s Sinks) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
