// Package realm provides schema-per-realm Postgres isolation for Edda
// installs: a realm is one independently administered household, team, or
// organization sharing a single Edda binary and database instance but
// never able to see another realm's devices, tokens, or audit history.
// Grounded on the teacher's pkg/tenant (SaaS-tenant isolation),
// repurposed here from tenant-per-customer to realm-per-install.
package realm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	coretenant "github.com/bczopp/edda/internal/core/tenant"
)

// Info holds the resolved realm metadata for the current request.
type Info struct {
	ID     uuid.UUID
	Name   string
	Slug   string
	Schema string
}

// SchemaName returns the PostgreSQL schema name for a realm slug.
func SchemaName(slug string) string {
	return fmt.Sprintf("realm_%s", slug)
}

// NewContext stores realm info in the context.
func NewContext(ctx context.Context, info *Info) context.Context {
	return coretenant.NewContext(ctx, (*coretenant.Info)(info))
}

// FromContext extracts the realm info from the context, or nil if unset.
func FromContext(ctx context.Context) *Info {
	return (*Info)(coretenant.FromContext(ctx))
}

// ConnFromContext extracts the realm-scoped database connection from the
// context, or nil if unset.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	return coretenant.ConnFromContext(ctx)
}
