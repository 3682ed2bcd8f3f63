package authguard

import (
	"errors"
	"time"

	"github.com/voralis/authguard/audit"
	"github.com/voralis/authguard/lockout"
	"github.com/voralis/authguard/password"
	"github.com/voralis/authguard/ratelimit"
)

// TokenConfig holds signing and lifetime settings for issued tokens.
type TokenConfig struct {
	// Secret is the HMAC signing key for access tokens. At least 32 bytes.
	Secret []byte

	// Issuer is stamped into and required from every access token.
	Issuer string

	// AccessTTL is the access-token lifetime. Minutes, not days.
	AccessTTL time.Duration

	// RefreshTTL is the refresh-token lifetime.
	RefreshTTL time.Duration
}

// RefreshConfig tunes refresh-token bookkeeping.
type RefreshConfig struct {
	// MaxPerOwner caps alive refresh tokens per account. Creating one
	// past the cap evicts the oldest. Zero disables the cap.
	MaxPerOwner int

	// SweepInterval is the cadence of the background purge of revoked
	// and expired records. Zero defaults to 24h.
	SweepInterval time.Duration
}

// Config is the full engine configuration. Zero values are filled from
// [DefaultConfig] equivalents where a safe default exists; secrets and
// thresholds must be supplied explicitly.
type Config struct {
	Password password.Params
	Token    TokenConfig
	Lockout  lockout.Config
	Refresh  RefreshConfig

	// RateLimit maps an action to its token-bucket policy. Actions
	// without a policy are not limited.
	RateLimit map[ratelimit.Action]ratelimit.Policy

	Abuse ratelimit.AbuseConfig
	Audit audit.Config

	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string
}

// DefaultConfig returns production-leaning defaults for everything
// except Token.Secret, which has no safe default and must be set.
func DefaultConfig() Config {
	return Config{
		Password: password.DefaultParams(),
		Token: TokenConfig{
			Issuer:     "authguard",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Lockout: lockout.DefaultConfig(),
		Refresh: RefreshConfig{
			MaxPerOwner:   5,
			SweepInterval: 24 * time.Hour,
		},
		RateLimit: map[ratelimit.Action]ratelimit.Policy{
			ratelimit.ActionLogin:    {Capacity: 5, Window: time.Minute},
			ratelimit.ActionRegister: {Capacity: 3, Window: time.Hour},
			ratelimit.ActionRefresh:  {Capacity: 10, Window: time.Minute},
			ratelimit.ActionWrite:    {Capacity: 60, Window: time.Minute},
		},
		Abuse: ratelimit.AbuseConfig{
			Threshold:     5,
			ViolationTTL:  10 * time.Minute,
			BlockDuration: time.Hour,
		},
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		KeyPrefix: "ag",
	}
}

// Validate checks cross-field consistency. Component-level constraints
// are enforced again by the component constructors during Build.
func (c Config) Validate() error {
	if len(c.Token.Secret) == 0 {
		return errors.New("token secret is required")
	}
	if c.Token.Issuer == "" {
		return errors.New("token issuer is required")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if c.Refresh.MaxPerOwner < 0 {
		return errors.New("refresh max per owner must not be negative")
	}
	if c.Lockout.TempThreshold <= 0 || c.Lockout.PermThreshold < c.Lockout.TempThreshold {
		return errors.New("lockout thresholds are inconsistent")
	}
	for action, policy := range c.RateLimit {
		if policy.Capacity <= 0 || policy.Window <= 0 {
			return errors.New("rate limit policy for " + string(action) + " must have positive capacity and window")
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	if cfg.RateLimit != nil {
		out.RateLimit = make(map[ratelimit.Action]ratelimit.Policy, len(cfg.RateLimit))
		for action, policy := range cfg.RateLimit {
			out.RateLimit[action] = policy
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
