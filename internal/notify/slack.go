package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

var severityEmoji = map[Severity]string{
	SeverityInfo:     ":information_source:",
	SeverityWarning:  ":warning:",
	SeverityCritical: ":rotating_light:",
}

// SlackNotifier posts alerts to a single Slack channel with a bot token.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
	status    AdapterStatus
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewSlackNotifier creates a Slack notifier. Extra client options are passed
// through, which lets tests point the client at a local server.
func NewSlackNotifier(botToken, channelID string, logger *zap.Logger, opts ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		client:    slack.New(botToken, opts...),
		channelID: channelID,
		status:    AdapterStatus{Platform: "slack"},
		logger:    logger,
	}
}

func (n *SlackNotifier) Platform() string { return "slack" }

// Connect verifies the bot token.
func (n *SlackNotifier) Connect(ctx context.Context) error {
	resp, err := n.client.AuthTestContext(ctx)
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.status.LastError = fmt.Sprintf("auth test: %v", err)
		return fmt.Errorf("slack auth: %w", err)
	}
	n.status.Connected = true
	n.status.ConnectedAt = time.Now()
	n.status.LastError = ""
	n.logger.Info("slack notifier ready", zap.String("team", resp.Team), zap.String("bot", resp.User))
	return nil
}

// Notify posts the alert as a formatted message.
func (n *SlackNotifier) Notify(ctx context.Context, alert *Alert) error {
	text := fmt.Sprintf("%s *%s*\n%s", severityEmoji[alert.Severity], alert.Title, alert.Content)
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionUsername("sigil-registry"),
	)
	if err != nil {
		n.mu.Lock()
		n.status.LastError = err.Error()
		n.mu.Unlock()
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Status reports the notifier's connection health.
func (n *SlackNotifier) Status() AdapterStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Close is a no-op; the Slack web client holds no connection.
func (n *SlackNotifier) Close() error {
	return nil
}
