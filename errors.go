package authguard

import (
	"fmt"
	"time"

	"github.com/voralis/authguard/lockout"
	"github.com/voralis/authguard/ratelimit"
	"github.com/voralis/authguard/refresh"
	"github.com/voralis/authguard/token"
)

// Sentinel errors surfaced by Engine operations. Each aliases the
// subpackage sentinel it originates from, so errors.Is works whether
// callers compare against this package or the subpackage directly.
var (
	// ErrInvalidCredentials covers unknown identifiers and wrong
	// passwords alike. Match with errors.As against
	// [InvalidCredentialsError] to read the remaining-attempt budget.
	ErrInvalidCredentials = lockout.ErrInvalidCredentials

	// ErrAccountDisabled is returned for inactive accounts.
	ErrAccountDisabled = lockout.ErrAccountDisabled

	// ErrEmailUnverified is returned when verification is required and pending.
	ErrEmailUnverified = lockout.ErrEmailUnverified

	// ErrAccountExists is returned by Register on identifier collision.
	ErrAccountExists = lockout.ErrConflict

	// ErrAccountNotFound is returned by admin operations on unknown identifiers.
	ErrAccountNotFound = lockout.ErrNotFound

	// ErrTokenExpired is returned when an access token is past its expiry.
	ErrTokenExpired = token.ErrExpired

	// ErrTokenMalformed is returned for unparseable or badly signed access tokens.
	ErrTokenMalformed = token.ErrMalformed

	// ErrIssuerMismatch is returned for access tokens minted by a different issuer.
	ErrIssuerMismatch = token.ErrIssuerMismatch

	// ErrRefreshNotFound is returned for unknown refresh-token strings.
	ErrRefreshNotFound = refresh.ErrNotFound

	// ErrRefreshRevoked is returned for revoked refresh tokens.
	ErrRefreshRevoked = refresh.ErrRevoked

	// ErrRefreshExpired is returned for expired refresh tokens.
	ErrRefreshExpired = refresh.ErrExpired

	// ErrReplayDetected is returned when an already-rotated refresh token
	// is presented again. The owner's whole token family is revoked
	// before this error is returned.
	ErrReplayDetected = refresh.ErrReplay

	// ErrStoreUnavailable wraps backend failures on fail-closed paths.
	ErrStoreUnavailable = lockout.ErrUnavailable
)

// AccountLockedError reports a temporarily or permanently locked account.
type AccountLockedError = lockout.AccountLockedError

// InvalidCredentialsError carries the remaining attempts before lockout.
type InvalidCredentialsError = lockout.InvalidCredentialsError

// RateLimitedError is returned by Admit when an action is rejected by
// the rate limiter or the caller's IP is blocked for abuse.
type RateLimitedError struct {
	Action     ratelimit.Action
	RetryAfter time.Duration
	IPBlocked  bool
}

func (e *RateLimitedError) Error() string {
	if e.IPBlocked {
		return fmt.Sprintf("%s rejected: ip blocked for abuse", e.Action)
	}
	return fmt.Sprintf("%s rate limited, retry after %s", e.Action, e.RetryAfter)
}
