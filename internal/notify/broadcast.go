package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/sigil-registry/internal/registry"
	"go.uber.org/zap"
)

const maxHistory = 200

// AlertRecord tracks a delivered alert.
type AlertRecord struct {
	Alert   *Alert    `json:"alert"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
}

// Broadcaster is a registry.EventSink that turns operator-relevant events
// into alerts. Routine events are dropped.
type Broadcaster struct {
	hub     *Hub
	history []AlertRecord
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by hub.
func NewBroadcaster(hub *Hub, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, logger: logger}
}

// Publish implements registry.EventSink.
func (b *Broadcaster) Publish(ctx context.Context, ev registry.Event) error {
	alert, ok := alertFor(ev)
	if !ok {
		return nil
	}

	b.logger.Info("sending registry alert",
		zap.String("kind", alert.Kind),
		zap.String("severity", alert.Severity.String()),
		zap.String("title", alert.Title))

	targets, err := b.hub.Notify(ctx, alert)
	if len(targets) > 0 {
		b.mu.Lock()
		b.history = append(b.history, AlertRecord{Alert: alert, SentAt: time.Now(), Targets: targets})
		if len(b.history) > maxHistory {
			b.history = b.history[len(b.history)-maxHistory:]
		}
		b.mu.Unlock()
	}
	return err
}

// History returns up to limit of the most recent alerts, oldest first.
func (b *Broadcaster) History(limit int) []AlertRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]AlertRecord, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// alertFor decides whether ev warrants an operator alert.
func alertFor(ev registry.Event) (*Alert, bool) {
	a := &Alert{Kind: string(ev.Type), Skill: ev.Skill, Auditor: string(ev.Auditor), At: ev.At}

	switch ev.Type {
	case registry.EventAuditorSlashed:
		a.Severity = SeverityCritical
		a.Title = "Auditor slashed"
		a.Content = fmt.Sprintf("%s forfeited %s to the reward fund and is banned.", ev.Auditor, usdc(ev.Amount))

	case registry.EventConsensusRecorded:
		a.Title = fmt.Sprintf("Consensus round %d: %s", ev.Round, ev.Verdict)
		a.Content = fmt.Sprintf("Skill %s now has trust score %d.", short(ev.Skill), ev.TrustScore)
		switch ev.Verdict {
		case registry.VerdictRejected:
			a.Severity = SeverityWarning
		case registry.VerdictInconclusive:
			a.Severity = SeverityWarning
			a.Content += " The verdict is contested."
		}

	case registry.EventConsensusExpired:
		a.Severity = SeverityWarning
		a.Title = "Consensus expired"
		a.Content = fmt.Sprintf("Round %d for skill %s lapsed; the running score of %d is authoritative again.",
			ev.Round, short(ev.Skill), ev.TrustScore)

	case registry.EventAuditorReinstated:
		a.Title = "Auditor reinstated"
		a.Content = fmt.Sprintf("%s may stake again.", ev.Auditor)

	default:
		return nil, false
	}
	return a, true
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

// usdc formats a 6-decimal amount.
func usdc(amount uint64) string {
	return fmt.Sprintf("%d.%06d USDC", amount/1_000_000, amount%1_000_000)
}
