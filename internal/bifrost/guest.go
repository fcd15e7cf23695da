package bifrost

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MainMeshID is the literal mesh identifier for devices belonging to the
// instance's own users, per spec.md §4.3.
const MainMeshID = "main"

// GuestMeshManager assigns foreign devices (no user account on this
// instance) to an isolated guest segment and enforces that cross-mesh
// traffic is forbidden unless explicitly whitelisted. Grounded on
// original_source/bifrost/src/guest/mod.rs.
type GuestMeshManager struct {
	mu        sync.RWMutex
	whitelist map[string]map[string]struct{} // guest mesh id -> set of allowed target device ids
}

// NewGuestMeshManager creates an empty manager.
func NewGuestMeshManager() *GuestMeshManager {
	return &GuestMeshManager{whitelist: make(map[string]map[string]struct{})}
}

// NewGuestMesh allocates a fresh guest-{uuid} mesh identifier.
func (m *GuestMeshManager) NewGuestMesh() string {
	return fmt.Sprintf("guest-%s", uuid.NewString())
}

// AllowCrossMesh whitelists targetDeviceID as reachable from guestMeshID.
func (m *GuestMeshManager) AllowCrossMesh(guestMeshID, targetDeviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.whitelist[guestMeshID] == nil {
		m.whitelist[guestMeshID] = make(map[string]struct{})
	}
	m.whitelist[guestMeshID][targetDeviceID] = struct{}{}
}

// Allowed reports whether traffic from sourceMeshID to targetDeviceID is
// permitted: same mesh is always allowed; main mesh is always allowed to
// reach itself; cross-mesh requires an explicit whitelist entry.
func (m *GuestMeshManager) Allowed(sourceMeshID, targetMeshID, targetDeviceID string) bool {
	if sourceMeshID == targetMeshID {
		return true
	}
	if sourceMeshID == MainMeshID || targetMeshID == MainMeshID {
		m.mu.RLock()
		defer m.mu.RUnlock()
		guestMesh := sourceMeshID
		if guestMesh == MainMeshID {
			guestMesh = targetMeshID
		}
		allowed, ok := m.whitelist[guestMesh]
		if !ok {
			return false
		}
		_, ok = allowed[targetDeviceID]
		return ok
	}
	// Two distinct non-main meshes never interoperate.
	return false
}
