package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Hub manages the registered notifiers and fans alerts out to them.
type Hub struct {
	notifiers map[string]Notifier
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		notifiers: make(map[string]Notifier),
		logger:    logger,
	}
}

// Register adds a notifier, replacing any previous one for the same platform.
func (h *Hub) Register(n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifiers[n.Platform()] = n
	h.logger.Info("registered notifier", zap.String("platform", n.Platform()))
}

// ConnectAll connects every registered notifier.
func (h *Hub) ConnectAll(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for platform, n := range h.notifiers {
		if err := n.Connect(ctx); err != nil {
			h.logger.Error("notifier connect failed",
				zap.String("platform", platform), zap.Error(err))
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		h.logger.Info("notifier connected", zap.String("platform", platform))
	}
	return nil
}

// Notify delivers the alert to every notifier and returns the platforms that
// accepted it. Delivery continues past individual failures.
func (h *Hub) Notify(ctx context.Context, alert *Alert) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		delivered []string
		failed    int
	)
	for platform, n := range h.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			h.logger.Error("notify failed",
				zap.String("platform", platform), zap.Error(err))
			failed++
			continue
		}
		delivered = append(delivered, platform)
	}
	sort.Strings(delivered)
	if failed > 0 {
		return delivered, fmt.Errorf("notify failed on %d platform(s)", failed)
	}
	return delivered, nil
}

// Platforms returns the registered platform names.
func (h *Hub) Platforms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.notifiers))
	for p := range h.notifiers {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// Close shuts down every notifier.
func (h *Hub) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for platform, n := range h.notifiers {
		if err := n.Close(); err != nil {
			h.logger.Error("notifier close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}
