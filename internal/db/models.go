package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Realm is a row of public.realms: one independently administered Edda
// install sharing the binary and database instance with every other realm.
type Realm struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	Config    json.RawMessage
	CreatedAt time.Time
}
