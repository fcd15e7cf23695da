package heimdall

import "fmt"

// ConnectionType mirrors spec.md §4.6.
type ConnectionType string

const (
	ConnectionDirect ConnectionType = "direct"
	ConnectionRelay  ConnectionType = "relay"
)

// ConnectionValidationError is the taxonomy-typed error for C6 failures.
type ConnectionValidationError struct {
	Code    string
	Message string
}

func (e *ConnectionValidationError) Error() string {
	return fmt.Sprintf("heimdall: connection validation: %s: %s", e.Code, e.Message)
}

// DeviceRecord is the minimal device shape the validator needs.
type DeviceRecord struct {
	DeviceID string
	UserID   string
}

// GuestMeshChecker is the minimal capability ConnectionValidator needs from
// Bifrost's guest-mesh manager, injected per spec.md §9.
type GuestMeshChecker interface {
	Allowed(sourceMeshID, targetMeshID, targetDeviceID string) bool
}

// ConnectionValidator enforces cross-user isolation: same user allows a
// direct connection; different users require relay unless the guest-mesh
// manager permits it, then checks the source device's
// (resource=connection, action=establish) permission. Grounded on
// original_source/heimdall/src/bifrost/validator.rs.
type ConnectionValidator struct {
	guestMesh GuestMeshChecker
	roles     *RoleManager
}

// NewConnectionValidator creates a ConnectionValidator.
func NewConnectionValidator(guestMesh GuestMeshChecker, roles *RoleManager) *ConnectionValidator {
	return &ConnectionValidator{guestMesh: guestMesh, roles: roles}
}

// Validate checks (source, target, connType) per spec.md §4.6, returning
// UserIsolationViolation, PermissionDenied, or nil.
func (v *ConnectionValidator) Validate(source, target DeviceRecord, connType ConnectionType, sourceMeshID, targetMeshID string) error {
	if source.UserID != target.UserID {
		if !v.guestMesh.Allowed(sourceMeshID, targetMeshID, target.DeviceID) {
			if connType != ConnectionRelay {
				return &ConnectionValidationError{Code: "UserIsolationViolation", Message: "cross-user connection requires relay or an explicit guest rule"}
			}
		}
	}

	if err := v.roles.RequirePermission(source.DeviceID, "connection", "establish"); err != nil {
		return &ConnectionValidationError{Code: "PermissionDenied", Message: err.Error()}
	}

	return nil
}
