package heimdall

import "github.com/bczopp/edda/internal/bifrost"

// BifrostConnectionValidator adapts ConnectionValidator to
// internal/bifrost.ConnectionValidator, so Bifrost's read loop can enforce
// cross-user isolation on every routed frame without depending on Heimdall
// directly (bifrost.Server only knows the narrow ConnectionValidator
// capability interface it declares itself).
type BifrostConnectionValidator struct {
	Validator *ConnectionValidator
}

// ValidateConnection implements internal/bifrost.ConnectionValidator.
func (a *BifrostConnectionValidator) ValidateConnection(source, target *bifrost.Connection, relay bool) error {
	connType := ConnectionDirect
	if relay {
		connType = ConnectionRelay
	}

	return a.Validator.Validate(
		DeviceRecord{DeviceID: source.DeviceID, UserID: source.UserID},
		DeviceRecord{DeviceID: target.DeviceID, UserID: target.UserID},
		connType,
		source.MeshID,
		target.MeshID,
	)
}
