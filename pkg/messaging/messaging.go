// Package messaging defines the provider-agnostic interface for delivering
// Heimdall security alerts and device-enrollment notifications to a chat
// platform. Trimmed from the teacher's on-call/incident notification
// registry (PostAlert/PostEscalation/PostHandoff/command-and-interaction
// handling) down to Edda's outbound-only alerting needs — Heimdall pushes,
// nothing here ever receives a slash command or button click back.
package messaging

import "context"

// Provider is the interface that all messaging platforms implement.
type Provider interface {
	// Name returns the provider identifier ("slack").
	Name() string

	// PostSecurityAlert delivers a Heimdall security event notification to
	// the configured channel.
	PostSecurityAlert(ctx context.Context, msg SecurityAlertMessage) (*MessageRef, error)

	// PostDeviceEnrolled notifies the realm's administrators of a newly
	// enrolled device.
	PostDeviceEnrolled(ctx context.Context, msg DeviceEnrolledMessage) error

	// SendDM sends a direct message to a user by platform-specific reference.
	SendDM(ctx context.Context, userRef string, msg DirectMessage) error

	// LookupUser resolves an email address to a platform-specific user
	// reference. Returns empty string if the user isn't found.
	LookupUser(ctx context.Context, email string) (string, error)
}
