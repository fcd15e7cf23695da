package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

const createRealm = `
INSERT INTO public.realms (name, slug, config)
VALUES ($1, $2, $3)
RETURNING id, name, slug, config, created_at
`

// CreateRealmParams holds the fields required to register a new realm.
type CreateRealmParams struct {
	Name   string
	Slug   string
	Config json.RawMessage
}

// CreateRealm inserts the global realm record. It does not create the
// realm's PostgreSQL schema or run migrations — see pkg/realm.Provisioner.
func (q *Queries) CreateRealm(ctx context.Context, arg CreateRealmParams) (Realm, error) {
	row := q.db.QueryRow(ctx, createRealm, arg.Name, arg.Slug, arg.Config)
	var r Realm
	err := row.Scan(&r.ID, &r.Name, &r.Slug, &r.Config, &r.CreatedAt)
	return r, err
}

const getRealmBySlug = `
SELECT id, name, slug, config, created_at FROM public.realms WHERE slug = $1
`

// GetRealmBySlug looks up a realm by its slug.
func (q *Queries) GetRealmBySlug(ctx context.Context, slug string) (Realm, error) {
	row := q.db.QueryRow(ctx, getRealmBySlug, slug)
	var r Realm
	err := row.Scan(&r.ID, &r.Name, &r.Slug, &r.Config, &r.CreatedAt)
	return r, err
}

const listRealms = `
SELECT id, name, slug, config, created_at FROM public.realms ORDER BY created_at
`

// ListRealms returns every registered realm, oldest first.
func (q *Queries) ListRealms(ctx context.Context) ([]Realm, error) {
	rows, err := q.db.Query(ctx, listRealms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var realms []Realm
	for rows.Next() {
		var r Realm
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &r.Config, &r.CreatedAt); err != nil {
			return nil, err
		}
		realms = append(realms, r)
	}
	return realms, rows.Err()
}

const deleteRealm = `
DELETE FROM public.realms WHERE id = $1
`

// DeleteRealm removes the global realm record. Callers are responsible for
// dropping the realm's schema first (see pkg/realm.Provisioner.Deprovision).
func (q *Queries) DeleteRealm(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteRealm, id)
	return err
}
