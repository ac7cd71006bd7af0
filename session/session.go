// Package session defines the session-token contract shared by the auth
// endpoints, the request middleware, and the subscription transport. A
// session maps an opaque token to a small identity record with a fixed
// time-to-live; the store is the sole writer, everything else only reads.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of a freshly created session.
const DefaultTTL = 30 * 24 * time.Hour

// Role tags the broad access level of an identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Record is the identity stored against a session token.
type Record struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	Role   Role   `json:"userType"`
	// CredentialEcho carries the credential digest captured at login. It
	// exists only for legacy equality checks and must never be treated as a
	// secret channel.
	CredentialEcho string `json:"password,omitempty"`
}

// Store persists session records keyed by opaque token.
//
// Resolve returns (nil, nil) for tokens that are absent or expired. A non-nil
// error always means the backing store itself failed; callers must surface
// that as an authentication failure rather than treating the request as
// anonymous.
type Store interface {
	Create(ctx context.Context, token string, rec Record, ttl time.Duration) error
	Resolve(ctx context.Context, token string) (*Record, error)
	// Destroy removes the record. Destroying an absent token is not an error.
	Destroy(ctx context.Context, token string) error
	Close() error
}

// NewToken returns a fresh unguessable session token.
func NewToken() string {
	return uuid.NewString()
}

type identityKey struct{}

// WithIdentity attaches the resolved identity to the execution context.
// A nil record is a valid anonymous context.
func WithIdentity(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, identityKey{}, rec)
}

// IdentityFrom extracts the identity attached by WithIdentity. It returns nil
// for anonymous contexts.
func IdentityFrom(ctx context.Context) *Record {
	rec, _ := ctx.Value(identityKey{}).(*Record)
	return rec
}
