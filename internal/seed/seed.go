package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bczopp/edda/internal/core/auth"
	"github.com/bczopp/edda/internal/db"
	"github.com/bczopp/edda/pkg/apikey"
	"github.com/bczopp/edda/pkg/realm"
)

// DevAPIKey is the raw API key seeded for development/testing.
// It is only created by the seed command and should never be used in production.
const DevAPIKey = "edda_dev_seed_key_do_not_use_in_production"

// Run provisions the "acme" development realm and an admin API key scoped
// to it. It is idempotent: if the realm already exists it logs a message
// and returns nil.
func Run(ctx context.Context, pool *pgxpool.Pool, databaseURL, migrationsDir string, logger *slog.Logger) error {
	q := db.New(pool)

	if existing, err := q.GetRealmBySlug(ctx, "acme"); err == nil {
		logger.Info("seed: realm 'acme' already exists, skipping", "realm_id", existing.ID)
		return nil
	}

	prov := &realm.Provisioner{
		DB:            pool,
		DatabaseURL:   databaseURL,
		MigrationsDir: migrationsDir,
		Logger:        logger,
	}

	info, err := prov.Provision(ctx, "Acme Household", "acme", json.RawMessage(`{"timezone":"Europe/Berlin"}`))
	if err != nil {
		return fmt.Errorf("provisioning seed realm: %w", err)
	}
	logger.Info("seed: provisioned realm", "realm_id", info.ID, "slug", info.Slug)

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
	logger.Info("seed: created API key", "id", row.ID, "prefix", row.KeyPrefix, "raw_key", DevAPIKey)

	logger.Info("seed: completed successfully", "realm", info.Slug, "api_keys", 1)
	return nil
}
