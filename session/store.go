// Package session keeps per-client state across requests.
//
// A session is identified by a random id carried in a cookie. Its values
// live in a Store; the Handler step loads them before the rest of the
// chain runs and saves them afterwards, holding a per-id lock in between
// so concurrent requests of one client see each other's writes in order.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Store.Load and Store.Touch when the id is
	// unknown or its session expired.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidID is returned when an id is not a session id.
	ErrInvalidID = errors.New("session: invalid id")
)

// Store persists session values by id. Implementations must be safe for
// concurrent use; the Handler serializes access per id, not across ids.
type Store interface {
	// Load returns the values saved for id.
	Load(ctx context.Context, id string) (map[string]any, error)

	// Save replaces the values of id and renews its lifetime.
	Save(ctx context.Context, id string, values map[string]any) error

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Touch renews the lifetime of id without changing its values.
	Touch(ctx context.Context, id string) error

	// Close releases background resources.
	Close() error
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id has the form produced by NewID.
func ValidID(id string) bool {
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}

	return u.String() == id && u.Version() == 4
}
