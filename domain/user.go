// Package domain holds the entity types shared by every component of the
// core: users, API keys, competitions, participants, positions, orders
// and trades, plus the Tick type the ingest/archive/matching pipeline
// passes around.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a stable identity mapped from an opaque external identity
// token. Identity issuance itself is out of scope here —
// this is just the row the rest of the system joins against.
type User struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

// ApiKey is stored as the hash of an opaque random 256-bit token. The
// plaintext token is shown to the caller exactly once at creation time
// and never persisted.
type ApiKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	KeyHash    string     `json:"-"`
	Prefix     string     `json:"prefix"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MaxActiveApiKeysPerUser bounds how many live API keys a user may hold.
const MaxActiveApiKeysPerUser = 5
