package lockout

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both wrong password and unknown identity.
	// The shared message is deliberate: distinct failures would let a caller
	// enumerate which identities exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled indicates a permanently locked or administratively
	// disabled account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrEmailUnverified indicates valid credentials with incomplete
	// verification.
	ErrEmailUnverified = errors.New("email not verified")
	// ErrConflict indicates an insert collided with an existing credential.
	ErrConflict = errors.New("credential already exists")
)

// InvalidCredentialsError carries the remaining attempt budget so callers can
// present actionable messaging without re-querying. It matches
// [ErrInvalidCredentials] under errors.Is.
type InvalidCredentialsError struct {
	RemainingAttempts int
}

func (e *InvalidCredentialsError) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e *InvalidCredentialsError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// AccountLockedError reports an active temporary lock. Remaining is the lock
// time left at the moment the error was produced.
type AccountLockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *AccountLockedError) Error() string {
	minutes := int(e.Remaining.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("account locked, try again in %d minutes", minutes)
}
