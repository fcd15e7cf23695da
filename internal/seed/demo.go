package seed

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bczopp/edda/internal/audit"
	"github.com/bczopp/edda/internal/core/auth"
	"github.com/bczopp/edda/internal/db"
	"github.com/bczopp/edda/pkg/apikey"
	"github.com/bczopp/edda/pkg/realm"
)

// RunDemo provisions the "acme" realm with a representative set of
// devices, as a household or small office running Edda would accumulate
// over time. It is destructive: it drops and recreates the realm if it
// already exists.
func RunDemo(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir string, logger *slog.Logger) error {
	q := db.New(pool)

	if existing, err := q.GetRealmBySlug(ctx, "acme"); err == nil {
		logger.Info("seed-demo: dropping existing realm 'acme'")
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", realm.SchemaName(existing.Slug))); err != nil {
			return fmt.Errorf("dropping realm schema: %w", err)
		}
		if err := q.DeleteRealm(ctx, existing.ID); err != nil {
			return fmt.Errorf("deleting realm record: %w", err)
		}
	}

	prov := &realm.Provisioner{
		DB:            pool,
		DatabaseURL:   databaseURL,
		MigrationsDir: migrationsDir,
		Logger:        logger,
	}

	info, err := prov.Provision(ctx, "Acme Household", "acme", json.RawMessage(
		`{"timezone":"Europe/Berlin","slack_channel":"#acme-security"}`))
	if err != nil {
		return fmt.Errorf("provisioning realm: %w", err)
	}
	logger.Info("seed-demo: provisioned realm", "realm_id", info.ID, "slug", info.Slug)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", info.Schema)); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}

	// ── Devices ─────────────────────────────────────────────────────────
	type deviceSpec struct {
		id, name, owner string
	}
	deviceSpecs := []deviceSpec{
		{"a1b2c3d4e5f60001", "front-door-lock", "alice@acme.example.com"},
		{"a1b2c3d4e5f60002", "living-room-hub", "alice@acme.example.com"},
		{"a1b2c3d4e5f60003", "garage-sensor", "bob@acme.example.com"},
		{"a1b2c3d4e5f60004", "thermostat-main", "bob@acme.example.com"},
		{"a1b2c3d4e5f60005", "alices-phone", "alice@acme.example.com"},
	}

	for _, d := range deviceSpecs {
		// Each demo device gets its own real Ed25519 keypair so the seeded
		// realm can exercise challenge/proof auth and Ratatoskr envelope
		// validation exactly as a real enrollment would, rather than
		// leaving public_key empty.
		pub, _, err := ed25519.GenerateKey(nil)
		if err != nil {
			return fmt.Errorf("generating device keypair for %q: %w", d.name, err)
		}

		if _, err := conn.Exec(ctx,
			`INSERT INTO devices (id, name, owner_subject, public_key, registered_at) VALUES ($1, $2, $3, $4, now())`,
			d.id, d.name, d.owner, []byte(pub),
		); err != nil {
			return fmt.Errorf("creating device %q: %w", d.name, err)
		}
		if _, err := conn.Exec(ctx,
			`INSERT INTO public.device_keys (device_id, realm_slug, public_key) VALUES ($1, $2, $3)`,
			d.id, info.Slug, []byte(pub),
		); err != nil {
			return fmt.Errorf("indexing device %q public key: %w", d.name, err)
		}
	}
	logger.Info("seed-demo: created devices", "count", len(deviceSpecs))

	// ── Audit log entries (global table, not realm-scoped) ──────────────
	loopback := netip.MustParseAddr("10.0.1.50")
	ua := "edda-seed/0.1.0"

	writer := audit.NewWriter(pool, logger)
	auditSpecs := []struct {
		subject    string
		action     string
		resource   string
		resourceID string
		detail     string
	}{
		{"alice@acme.example.com", "create", "device", deviceSpecs[0].id, `{"name":"front-door-lock"}`},
		{"alice@acme.example.com", "create", "device", deviceSpecs[1].id, `{"name":"living-room-hub"}`},
		{"bob@acme.example.com", "create", "device", deviceSpecs[2].id, `{"name":"garage-sensor"}`},
		{"bob@acme.example.com", "create", "device", deviceSpecs[3].id, `{"name":"thermostat-main"}`},
		{"alice@acme.example.com", "create", "device", deviceSpecs[4].id, `{"name":"alices-phone"}`},
	}
	for _, s := range auditSpecs {
		writer.Log(audit.Entry{
			RealmID:    info.ID,
			Subject:    s.subject,
			Action:     s.action,
			Resource:   s.resource,
			ResourceID: deterministicUUID(s.resource + s.resourceID),
			Detail:     []byte(s.detail),
			IPAddress:  &loopback,
			UserAgent:  &ua,
		})
	}
	writer.Start(ctx)
	writer.Close()
	logger.Info("seed-demo: created audit log entries", "count", len(auditSpecs))

	// ── API key ─────────────────────────────────────────────────────────
	keyStore := apikey.NewStore(pool)
	row, err := keyStore.Create(ctx, apikey.CreateParams{
		RealmID:     info.ID,
		RealmSlug:   info.Slug,
		KeyHash:     auth.HashAPIKey(DevAPIKey),
		KeyPrefix:   DevAPIKey[:16],
		Description: "Development seed API key",
		Role:        "admin",
	})
	if err != nil {
		return fmt.Errorf("creating seed API key: %w", err)
	}

	logger.Info("seed-demo: completed",
		"realm", info.Slug,
		"devices", len(deviceSpecs),
		"audit_entries", len(auditSpecs),
		"api_key_id", row.ID,
	)
	return nil
}

// deterministicUUID derives a stable UUIDv5 from a string, used only to
// give demo audit entries a resource_id without round-tripping through the
// devices table's text ids.
func deterministicUUID(s string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(s))
}
