package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/bczopp/edda/pkg/messaging"
)

// SecurityAlertBlocks renders a Heimdall security event as Slack Block Kit
// blocks, grounded on the teacher's AlertNotificationBlocks layout
// (header + severity-colored context + field grid).
func SecurityAlertBlocks(alert AlertInfo) []goslack.Block {
	header := goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType,
		fmt.Sprintf("%s %s", messaging.SeverityEmoji(alert.Severity), alert.Summary), false, false))

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Realm:*\n"+alert.RealmSlug, false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Kind:*\n"+alert.Kind, false, false),
	}
	if alert.DeviceID != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, "*Device:*\n"+alert.DeviceID, false, false))
	}
	if alert.TokenID != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, "*Token:*\n"+alert.TokenID, false, false))
	}
	fieldsBlock := goslack.NewSectionBlock(nil, fields, nil)

	blocks := []goslack.Block{header, fieldsBlock}

	if alert.Detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, alert.Detail, false, false), nil, nil))
	}

	if len(alert.Devices) > 0 {
		list := ""
		for _, d := range alert.Devices {
			list += "• " + d + "\n"
		}
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "*Devices observed:*\n"+list, false, false), nil, nil))
	}

	return blocks
}

// DeviceEnrolledBlocks renders a device-enrollment notification.
func DeviceEnrolledBlocks(msg messaging.DeviceEnrolledMessage) []goslack.Block {
	text := fmt.Sprintf(":white_check_mark: *New device enrolled*\n*Realm:* %s\n*Device:* %s\n*Owner:* %s",
		msg.RealmSlug, msg.DeviceName, msg.OwnerEmail)
	return []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
}
