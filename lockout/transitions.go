package lockout

import "time"

// Config holds the lockout thresholds and durations. These are operator
// tunables, not constants; see [DefaultConfig] for the defaults.
type Config struct {
	// TempThreshold is the consecutive-failure count that engages a
	// temporary lock.
	TempThreshold int
	// TempLockDuration is the length of a temporary lock.
	TempLockDuration time.Duration
	// PermThreshold is the failure count that deactivates the account.
	PermThreshold int
	// PermLockDuration is the lock stamped alongside deactivation.
	PermLockDuration time.Duration
	// RequireVerifiedEmail blocks login for unverified accounts.
	RequireVerifiedEmail bool
}

// DefaultConfig returns the production defaults: 5 failures lock for 30
// minutes, 10 failures lock for a day and deactivate.
func DefaultConfig() Config {
	return Config{
		TempThreshold:        5,
		TempLockDuration:     30 * time.Minute,
		PermThreshold:        10,
		PermLockDuration:     24 * time.Hour,
		RequireVerifiedEmail: true,
	}
}

// ApplyFailure is the transition for a genuine wrong-password attempt: the
// counter advances, a temporary lock engages at TempThreshold, and reaching
// PermThreshold overwrites the lock with the permanent duration and
// deactivates the account.
func ApplyFailure(c Credential, cfg Config, now time.Time) Credential {
	c.FailedAttempts++

	if c.FailedAttempts >= cfg.TempThreshold {
		until := now.Add(cfg.TempLockDuration)
		c.LockedUntil = &until
	}
	if c.FailedAttempts >= cfg.PermThreshold {
		until := now.Add(cfg.PermLockDuration)
		c.LockedUntil = &until
		c.Active = false
	}
	return c
}

// ApplySuccess is the transition for a verified correct password: the
// counter resets to zero and the lock clears unconditionally, whatever the
// prior counter value, and the last-login stamp is updated.
func ApplySuccess(c Credential, now time.Time, ip string) Credential {
	c.FailedAttempts = 0
	c.LockedUntil = nil
	at := now
	c.LastLoginAt = &at
	c.LastLoginIP = ip
	return c
}

// ApplyAdminReset clears the failure counter and lock. The account is
// reactivated only when it was deactivated by reaching PermThreshold; an
// account disabled for unrelated administrative reasons stays disabled —
// that policy decision is not this package's to make.
func ApplyAdminReset(c Credential, cfg Config) Credential {
	reactivate := !c.Active && c.FailedAttempts >= cfg.PermThreshold

	c.FailedAttempts = 0
	c.LockedUntil = nil
	if reactivate {
		c.Active = true
	}
	return c
}
