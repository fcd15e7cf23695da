package slack

// AlertInfo holds the data needed to build a Slack security alert
// notification, adapted from the teacher's on-call AlertInfo shape to
// Heimdall's intrusion-detection vocabulary.
type AlertInfo struct {
	Kind      string
	RealmSlug string
	DeviceID  string
	TokenID   string
	Severity  string
	Summary   string
	Detail    string
	Devices   []string
}
