package heimdall

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceStore persists devices in a realm's own schema and mints their
// first access token on registration. It implements internal/enroll's
// DeviceRegistrar.
type DeviceStore struct {
	pool   *pgxpool.Pool
	gen    *TokenGenerator
	roles  *RoleManager
	logger *slog.Logger
}

// NewDeviceStore creates a DeviceStore. gen mints the device's first
// access token on registration; roles assigns the new device the "user"
// role so it can establish connections immediately.
func NewDeviceStore(pool *pgxpool.Pool, gen *TokenGenerator, roles *RoleManager, logger *slog.Logger) *DeviceStore {
	return &DeviceStore{pool: pool, gen: gen, roles: roles, logger: logger}
}

// RegisterDevice implements internal/enroll.DeviceRegistrar: it inserts the
// device row — including its registered Ed25519 public key, per spec.md's
// Device type — into the realm's schema and mints its first access token.
// realmSlug selects which "realm_<slug>" schema to write into — the pool
// connection is acquired and search_path set explicitly here rather than
// relying on request-scoped middleware, since Redeem can be called outside
// an HTTP request's realm-resolved context.
func (s *DeviceStore) RegisterDevice(ctx context.Context, realmSlug, ownerSubject, deviceName string, devicePubKey ed25519.PublicKey) (deviceID, wireToken string, err error) {
	if len(devicePubKey) != ed25519.PublicKeySize {
		return "", "", fmt.Errorf("heimdall: device public key must be %d bytes, got %d", ed25519.PublicKeySize, len(devicePubKey))
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", "", fmt.Errorf("heimdall: acquiring connection: %w", err)
	}
	defer conn.Release()

	schema := "realm_" + realmSlug
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		return "", "", fmt.Errorf("heimdall: setting search_path: %w", err)
	}

	id, err := randomID()
	if err != nil {
		return "", "", fmt.Errorf("heimdall: generating device id: %w", err)
	}

	if _, err := conn.Exec(ctx,
		`INSERT INTO devices (id, name, owner_subject, public_key, registered_at) VALUES ($1, $2, $3, $4, now())`,
		id, deviceName, ownerSubject, []byte(devicePubKey),
	); err != nil {
		return "", "", fmt.Errorf("heimdall: inserting device: %w", err)
	}

	// Bifrost/Heimdall's connection and envelope-validation paths resolve a
	// device's public key by device_id alone, with no realm already in
	// hand (a device can reconnect to the relay cold, before any
	// realm-scoped HTTP request has run). public.device_keys is a realm-
	// independent index kept alongside the realm-scoped devices row so
	// that lookup doesn't need to search every realm schema.
	if _, err := conn.Exec(ctx,
		`INSERT INTO public.device_keys (device_id, realm_slug, public_key) VALUES ($1, $2, $3)`,
		id, realmSlug, []byte(devicePubKey),
	); err != nil {
		return "", "", fmt.Errorf("heimdall: indexing device public key: %w", err)
	}

	s.roles.AssignRole(id, "user")

	wire, _, err := s.gen.Mint(id, ownerSubject, TokenAccess, nil)
	if err != nil {
		return "", "", fmt.Errorf("heimdall: minting device token: %w", err)
	}

	s.logger.Info("device registered", "realm", realmSlug, "device_id", id, "owner", ownerSubject)
	return id, wire, nil
}

// PublicKey looks up a registered device's Ed25519 public key by device_id
// alone, via the realm-independent public.device_keys index populated by
// RegisterDevice. Device keys are immutable per spec.md — rotating a
// device's key creates a new device record rather than replacing this one
// — so there is no deprecated-key grace period to report here, unlike the
// Heimdall authority's own signing key. Shaped to serve both
// heimdall.DeviceLookup and (wrapped to add a nil deprecated key)
// ratatoskr.PublicKeyLookup.
func (s *DeviceStore) PublicKey(ctx context.Context, deviceID string) (ed25519.PublicKey, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT public_key FROM public.device_keys WHERE device_id = $1`, deviceID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("heimdall: device %q not found: %w", deviceID, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("heimdall: device %q has no registered public key", deviceID)
	}
	return ed25519.PublicKey(raw), nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
