package messaging

import "time"

// MessageRef identifies a sent message for future updates.
type MessageRef struct {
	Provider  string `json:"provider"`   // "slack"
	ChannelID string `json:"channel_id"` // platform channel identifier
	MessageID string `json:"message_id"` // platform message identifier (Slack: ts)
}

// SecurityAlertMessage is the platform-agnostic notification for a Heimdall
// security event: a leaked/replayed token, a failed device challenge, or an
// anomalous authorization attempt. Grounded on
// original_source/heimdall/src/token/leak_detector.rs's alert shape,
// generalized to cover every intrusion-detection signal Heimdall emits.
type SecurityAlertMessage struct {
	Kind       string // "token_leak", "challenge_failure", "revoked_token_use"
	RealmSlug  string
	DeviceID   string
	TokenID    string
	Severity   string // critical, warning, info
	Summary    string
	Detail     string
	OccurredAt time.Time

	// Devices lists every device ID implicated, when Kind is "token_leak".
	Devices []string
}

// DeviceEnrolledMessage notifies a realm's administrators that a new device
// completed enrollment, grounded on internal/enroll's device-registration flow.
type DeviceEnrolledMessage struct {
	RealmSlug  string
	DeviceName string
	DeviceID   string
	OwnerEmail string
}

// DirectMessage is a simple DM to a user.
type DirectMessage struct {
	Text    string
	Urgency string // "critical", "normal"
}
