package slack

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/bczopp/edda/pkg/messaging"
)

// Notifier sends messages to Slack channels.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// will be a noop (logging only).
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// IsEnabled returns true if the notifier has a valid Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// PostSecurityAlert sends a Heimdall security alert to the configured
// channel. Returns the channel ID and message timestamp for tracking.
func (n *Notifier) PostSecurityAlert(ctx context.Context, alert AlertInfo) (channelID, ts string, err error) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping security alert",
			"kind", alert.Kind, "realm", alert.RealmSlug)
		return "", "", nil
	}

	blocks := SecurityAlertBlocks(alert)
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fmt.Sprintf("%s %s", messaging.SeverityEmoji(alert.Severity), alert.Summary), false),
	}

	channelID, ts, err = n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return "", "", fmt.Errorf("posting security alert to slack: %w", err)
	}

	n.logger.Info("posted security alert to slack",
		"kind", alert.Kind, "realm", alert.RealmSlug, "channel", channelID, "ts", ts)
	return channelID, ts, nil
}

// PostBlocks posts a raw set of Block Kit blocks to the configured channel.
func (n *Notifier) PostBlocks(ctx context.Context, blocks []goslack.Block, fallbackText string) error {
	if !n.IsEnabled() {
		return nil
	}
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fallbackText, false),
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return fmt.Errorf("posting blocks to slack: %w", err)
	}
	return nil
}

// SendDM sends a direct message to a user by their Slack user ID.
func (n *Notifier) SendDM(ctx context.Context, slackUserID, text string) error {
	if !n.IsEnabled() {
		return nil
	}

	channel, _, _, err := n.client.OpenConversationContext(ctx, &goslack.OpenConversationParameters{
		Users: []string{slackUserID},
	})
	if err != nil {
		return fmt.Errorf("opening DM conversation: %w", err)
	}

	_, _, err = n.client.PostMessageContext(ctx, channel.ID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("sending DM: %w", err)
	}
	return nil
}

// LookupUser resolves an email address to a Slack user ID.
func (n *Notifier) LookupUser(ctx context.Context, email string) (string, error) {
	if !n.IsEnabled() {
		return "", nil
	}
	user, err := n.client.GetUserByEmailContext(ctx, email)
	if err != nil {
		return "", fmt.Errorf("looking up slack user by email: %w", err)
	}
	return user.ID, nil
}
