package slack

import (
	"context"
	"log/slog"

	"github.com/bczopp/edda/pkg/messaging"
)

// Provider implements messaging.Provider for Slack.
type Provider struct {
	notifier *Notifier
	logger   *slog.Logger
}

// NewProvider creates a Slack messaging provider wrapping the existing notifier.
func NewProvider(notifier *Notifier, logger *slog.Logger) *Provider {
	return &Provider{notifier: notifier, logger: logger}
}

func (p *Provider) Name() string { return "slack" }

func (p *Provider) PostSecurityAlert(ctx context.Context, msg messaging.SecurityAlertMessage) (*messaging.MessageRef, error) {
	alert := AlertInfo{
		Kind:      msg.Kind,
		RealmSlug: msg.RealmSlug,
		DeviceID:  msg.DeviceID,
		TokenID:   msg.TokenID,
		Severity:  msg.Severity,
		Summary:   msg.Summary,
		Detail:    msg.Detail,
		Devices:   msg.Devices,
	}

	channelID, ts, err := p.notifier.PostSecurityAlert(ctx, alert)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, nil // notifier disabled
	}

	return &messaging.MessageRef{
		Provider:  "slack",
		ChannelID: channelID,
		MessageID: ts,
	}, nil
}

func (p *Provider) PostDeviceEnrolled(ctx context.Context, msg messaging.DeviceEnrolledMessage) error {
	return p.notifier.PostBlocks(ctx, DeviceEnrolledBlocks(msg), "New device enrolled: "+msg.DeviceName)
}

func (p *Provider) SendDM(ctx context.Context, userRef string, msg messaging.DirectMessage) error {
	return p.notifier.SendDM(ctx, userRef, msg.Text)
}

func (p *Provider) LookupUser(ctx context.Context, email string) (string, error) {
	return p.notifier.LookupUser(ctx, email)
}
