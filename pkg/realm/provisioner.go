package realm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bczopp/edda/internal/db"
	"github.com/bczopp/edda/internal/platform"
)

// slugPattern restricts realm slugs to safe identifiers for schema names.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// Provisioner handles creating and destroying realm schemas, grounded on
// pkg/tenant/provisioner.go's Provision/Deprovision flow.
type Provisioner struct {
	DB            *pgxpool.Pool
	DatabaseURL   string
	MigrationsDir string // path to realm migration files
	Logger        *slog.Logger
}

// Provision creates a new realm: inserts the global record, creates the
// PostgreSQL schema, and runs realm migrations.
func (p *Provisioner) Provision(ctx context.Context, name, slug string, config json.RawMessage) (*Info, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid realm slug %q: must match %s", slug, slugPattern.String())
	}

	if config == nil {
		config = json.RawMessage(`{}`)
	}

	q := db.New(p.DB)
	r, err := q.CreateRealm(ctx, db.CreateRealmParams{Name: name, Slug: slug, Config: config})
	if err != nil {
		return nil, fmt.Errorf("inserting realm record: %w", err)
	}

	schema := SchemaName(slug)

	// Create the realm schema. The slug is validated above so this is safe.
	if _, err := p.DB.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		_ = q.DeleteRealm(ctx, r.ID)
		return nil, fmt.Errorf("creating schema %s: %w", schema, err)
	}

	realmURL, err := withSearchPath(p.DatabaseURL, schema)
	if err != nil {
		return nil, fmt.Errorf("building realm database URL: %w", err)
	}

	if err := platform.RunTenantMigrations(realmURL, p.MigrationsDir); err != nil {
		_, _ = p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		_ = q.DeleteRealm(ctx, r.ID)
		return nil, fmt.Errorf("running realm migrations: %w", err)
	}

	p.Logger.Info("realm provisioned", "realm_id", r.ID, "slug", slug, "schema", schema)

	return &Info{ID: r.ID, Name: r.Name, Slug: r.Slug, Schema: schema}, nil
}

// Deprovision drops the realm schema and removes the global record.
func (p *Provisioner) Deprovision(ctx context.Context, slug string) error {
	schema := SchemaName(slug)

	if _, err := p.DB.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		return fmt.Errorf("dropping schema %s: %w", schema, err)
	}

	q := db.New(p.DB)
	r, err := q.GetRealmBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("looking up realm %q: %w", slug, err)
	}

	if err := q.DeleteRealm(ctx, r.ID); err != nil {
		return fmt.Errorf("deleting realm record: %w", err)
	}

	p.Logger.Info("realm deprovisioned", "slug", slug, "schema", schema)
	return nil
}

func withSearchPath(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
