package lockout

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no credential matches.
var ErrNotFound = errors.New("credential not found")

// ErrUnavailable indicates the credential backend could not be reached.
// Authentication fails closed on it.
var ErrUnavailable = errors.New("credential store unavailable")

// Credential is the identity record the state machine operates on. It is a
// plain value; all mutation goes through the transition functions and a
// [Repository.Mutate] call.
type Credential struct {
	ID             string
	Identifier     string
	Username       string
	Email          string
	Role           string
	PasswordHash   string
	Active         bool
	EmailVerified  bool
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	LastLoginIP    string
}

// Locked reports whether the credential is under an active lock at the given
// instant. A LockedUntil in the past means unlocked, regardless of the
// failure counter.
func (c Credential) Locked(now time.Time) bool {
	return c.LockedUntil != nil && c.LockedUntil.After(now)
}

// State is the derived lockout state.
type State int

const (
	StateActive State = iota
	StateTempLocked
	StatePermLockedDisabled
)

func (s State) String() string {
	switch s {
	case StateTempLocked:
		return "temp_locked"
	case StatePermLockedDisabled:
		return "perm_locked_disabled"
	default:
		return "active"
	}
}

// DeriveState computes the credential's state at the given instant.
func DeriveState(c Credential, now time.Time) State {
	if !c.Active {
		return StatePermLockedDisabled
	}
	if c.Locked(now) {
		return StateTempLocked
	}
	return StateActive
}

// Repository is the credential persistence contract consumed by the [Guard].
type Repository interface {
	// FindByIdentifier returns the credential for a login identifier, or
	// [ErrNotFound].
	FindByIdentifier(ctx context.Context, identifier string) (Credential, error)

	// FindByID returns the credential by primary ID, or [ErrNotFound].
	FindByID(ctx context.Context, id string) (Credential, error)

	// Create inserts a new credential.
	Create(ctx context.Context, cred Credential) error

	// Mutate applies fn to the current stored state of the credential and
	// persists the result. Implementations MUST serialize Mutate calls per
	// credential (row lock or equivalent) so concurrent read-modify-write
	// cycles cannot lose updates. fn must be side-effect free; it may be
	// retried by implementations that use optimistic concurrency.
	Mutate(ctx context.Context, id string, fn func(Credential) (Credential, error)) (Credential, error)
}
