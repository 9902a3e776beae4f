// Package store persists conversation state and the identity mapping from
// chat user handles to backend subjects. Two drivers are provided: sqlite
// for single-node deployments and redis for shared ones.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paybot/pkg/config"
)

// ErrNotFound is returned when no record exists for the given key.
var ErrNotFound = errors.New("store: not found")

// IdentityKind distinguishes temporary subjects from registered ones.
type IdentityKind string

const (
	KindGuest      IdentityKind = "guest"
	KindRegistered IdentityKind = "registered"
)

// Identity binds a chat user handle to a backend subject.
type Identity struct {
	UserHandle string       `json:"userHandle"`
	PlayerUUID string       `json:"playerUuid"`
	Kind       IdentityKind `json:"kind"`
	Language   string       `json:"language"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Store is the durable state surface. Session payloads are opaque bytes;
// the flow layer owns their shape and decoding.
type Store interface {
	LoadSession(ctx context.Context, userHandle string) ([]byte, error)
	SaveSession(ctx context.Context, userHandle string, data []byte) error
	DeleteSession(ctx context.Context, userHandle string) error

	Identity(ctx context.Context, userHandle string) (*Identity, error)
	SaveIdentity(ctx context.Context, id *Identity) error
	DeleteIdentity(ctx context.Context, userHandle string) error
	// IdentityByPlayerUUID resolves the reverse mapping used when the
	// backend addresses a subject rather than a chat user.
	IdentityByPlayerUUID(ctx context.Context, playerUUID string) (*Identity, error)

	Close() error
}

// Open creates the store named by cfg.Driver.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return OpenSQLite(cfg.DBPath)
	case config.DriverRedis:
		return OpenRedis(cfg.RedisAddr)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
