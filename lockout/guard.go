package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voralis/authguard/audit"
	"github.com/voralis/authguard/password"
)

// Guard wraps password verification in the lockout state machine and emits
// one audit record per attempt.
type Guard struct {
	repo    Repository
	hasher  *password.Hasher
	config  Config
	auditor *audit.Dispatcher
	logger  *zap.Logger
	now     func() time.Time
}

// NewGuard creates a [Guard]. auditor may be nil (no auditing); logger may be
// nil; now defaults to time.Now.
func NewGuard(
	repo Repository,
	hasher *password.Hasher,
	cfg Config,
	auditor *audit.Dispatcher,
	logger *zap.Logger,
	now func() time.Time,
) (*Guard, error) {
	if repo == nil {
		return nil, errors.New("credential repository is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if cfg.TempThreshold <= 0 || cfg.PermThreshold < cfg.TempThreshold {
		return nil, errors.New("invalid lockout thresholds")
	}
	if cfg.TempLockDuration <= 0 || cfg.PermLockDuration <= 0 {
		return nil, errors.New("invalid lockout durations")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{
		repo:    repo,
		hasher:  hasher,
		config:  cfg,
		auditor: auditor,
		logger:  logger,
		now:     now,
	}, nil
}

// Authenticate verifies the identifier/password pair under the lockout rules
// and returns the credential on success. Every attempt produces exactly one
// audit record. Status checks run before the slow password verification;
// blocked attempts never touch the failure counter.
func (g *Guard) Authenticate(ctx context.Context, identifier, rawPassword, ip, userAgent string) (Credential, error) {
	now := g.now()

	cred, err := g.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			g.emit(ctx, "", identifier, now, false, ip, userAgent, audit.ReasonUnknownIdentity)
			// Same error shape as a wrong password, with a full remaining
			// budget, so unknown identities are indistinguishable.
			return Credential{}, &InvalidCredentialsError{RemainingAttempts: g.config.TempThreshold}
		}
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !cred.Active {
		g.emit(ctx, cred.ID, identifier, now, false, ip, userAgent, audit.ReasonAccountDisabled)
		return Credential{}, ErrAccountDisabled
	}

	if cred.Locked(now) {
		g.emit(ctx, cred.ID, identifier, now, false, ip, userAgent, audit.ReasonAccountLocked)
		return Credential{}, &AccountLockedError{
			Until:     *cred.LockedUntil,
			Remaining: cred.LockedUntil.Sub(now),
		}
	}

	if g.config.RequireVerifiedEmail && !cred.EmailVerified {
		g.emit(ctx, cred.ID, identifier, now, false, ip, userAgent, audit.ReasonEmailUnverified)
		return Credential{}, ErrEmailUnverified
	}

	// Memory-hard verification. No lock or transaction is held here.
	if !g.hasher.Matches(rawPassword, cred.PasswordHash) {
		return Credential{}, g.recordFailure(ctx, cred, identifier, now, ip, userAgent)
	}

	updated, err := g.repo.Mutate(ctx, cred.ID, func(current Credential) (Credential, error) {
		return ApplySuccess(current, now, ip), nil
	})
	if err != nil {
		// Fail closed: a login that cannot be recorded does not succeed.
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.emit(ctx, updated.ID, identifier, now, true, ip, userAgent, "")
	return updated, nil
}

// recordFailure applies the failure transition under the repository's
// serialization guarantee and chooses the caller-facing error from the
// post-transition state.
func (g *Guard) recordFailure(ctx context.Context, cred Credential, identifier string, now time.Time, ip, userAgent string) error {
	g.emit(ctx, cred.ID, identifier, now, false, ip, userAgent, audit.ReasonPasswordMismatch)

	updated, err := g.repo.Mutate(ctx, cred.ID, func(current Credential) (Credential, error) {
		return ApplyFailure(current, g.config, now), nil
	})
	if err != nil {
		// The attempt is denied either way; only the counter update was
		// lost. Log it and answer with the pre-transition budget.
		g.logger.Warn("failed-attempt counter update lost",
			zap.String("credential_id", cred.ID),
			zap.Error(err))
		updated = ApplyFailure(cred, g.config, now)
	}

	if !updated.Active {
		return ErrAccountDisabled
	}
	if updated.Locked(now) {
		return &AccountLockedError{
			Until:     *updated.LockedUntil,
			Remaining: updated.LockedUntil.Sub(now),
		}
	}

	remaining := g.config.TempThreshold - updated.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	return &InvalidCredentialsError{RemainingAttempts: remaining}
}

// Reset is the administrative lockout reset: counter and lock clear, and the
// account is reactivated only if it was deactivated by the permanent
// threshold. The prior state needed for that distinction lives in the stored
// counter, so the decision happens inside the transaction.
func (g *Guard) Reset(ctx context.Context, identifier string) (Credential, error) {
	cred, err := g.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Credential{}, err
		}
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	updated, err := g.repo.Mutate(ctx, cred.ID, func(current Credential) (Credential, error) {
		return ApplyAdminReset(current, g.config), nil
	})
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return updated, nil
}

// Config returns the guard's lockout configuration.
func (g *Guard) Config() Config { return g.config }

func (g *Guard) emit(ctx context.Context, ownerID, identifier string, at time.Time, success bool, ip, userAgent, reason string) {
	g.auditor.Emit(ctx, audit.Record{
		OwnerID:    ownerID,
		Identifier: identifier,
		Timestamp:  at,
		Success:    success,
		IP:         ip,
		UserAgent:  userAgent,
		Reason:     reason,
	})
}
