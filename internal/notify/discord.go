package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var severityColor = map[Severity]int{
	SeverityInfo:     0x3498db,
	SeverityWarning:  0xf1c40f,
	SeverityCritical: 0xe74c3c,
}

// DiscordNotifier posts alerts as embeds to a single Discord channel.
type DiscordNotifier struct {
	token     string
	channelID string
	session   *discordgo.Session
	status    AdapterStatus
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewDiscordNotifier creates a Discord notifier for a bot token.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		token:     token,
		channelID: channelID,
		status:    AdapterStatus{Platform: "discord"},
		logger:    logger,
	}
}

func (n *DiscordNotifier) Platform() string { return "discord" }

// Connect creates the REST session and checks that the channel is visible to the bot.
func (n *DiscordNotifier) Connect(ctx context.Context) error {
	session, err := discordgo.New("Bot " + n.token)
	if err != nil {
		n.fail(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	ch, err := session.Channel(n.channelID, discordgo.WithContext(ctx))
	if err != nil {
		n.fail(fmt.Sprintf("channel lookup: %v", err))
		return fmt.Errorf("discord channel %s: %w", n.channelID, err)
	}

	n.mu.Lock()
	n.session = session
	n.status.Connected = true
	n.status.ConnectedAt = time.Now()
	n.status.LastError = ""
	n.mu.Unlock()
	n.logger.Info("discord notifier ready", zap.String("channel", ch.Name))
	return nil
}

// Notify sends the alert as an embed colored by severity.
func (n *DiscordNotifier) Notify(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	session := n.session
	n.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord notifier not connected")
	}
	if _, err := session.ChannelMessageSendEmbed(n.channelID, embedFor(alert), discordgo.WithContext(ctx)); err != nil {
		n.fail(err.Error())
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func embedFor(alert *Alert) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       alert.Title,
		Description: alert.Content,
		Color:       severityColor[alert.Severity],
		Footer:      &discordgo.MessageEmbedFooter{Text: alert.Kind},
	}
	if !alert.At.IsZero() {
		e.Timestamp = alert.At.UTC().Format(time.RFC3339)
	}
	if alert.Skill != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Skill", Value: alert.Skill})
	}
	if alert.Auditor != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Auditor", Value: alert.Auditor, Inline: true})
	}
	return e
}

func (n *DiscordNotifier) fail(msg string) {
	n.mu.Lock()
	n.status.LastError = msg
	n.mu.Unlock()
}

// Status reports the notifier's connection health.
func (n *DiscordNotifier) Status() AdapterStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Close drops the REST session.
func (n *DiscordNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.session = nil
	n.status.Connected = false
	return nil
}
