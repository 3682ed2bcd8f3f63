package authguard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voralis/authguard/audit"
	"github.com/voralis/authguard/lockout"
	"github.com/voralis/authguard/password"
	"github.com/voralis/authguard/ratelimit"
	"github.com/voralis/authguard/refresh"
	"github.com/voralis/authguard/token"
)

// Session is the success payload of Register, Login, and Refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Identifier string
	Username   string
	Email      string
	Role       string
	Password   string
	IP         string
	UserAgent  string
}

// RegisterResult is returned by Register. Session is nil when email
// verification is required; the caller runs its verification flow and
// the account logs in normally afterwards.
type RegisterResult struct {
	AccountID string
	Session   *Session
}

// Engine is the assembled authentication and abuse-control unit. All
// methods are safe for concurrent use. Construct via [Builder.Build].
type Engine struct {
	config      Config
	hasher      *password.Hasher
	issuer      *token.Issuer
	guard       *lockout.Guard
	credentials lockout.Repository
	refreshes   *refresh.Store
	limiter     *ratelimit.Limiter
	detector    *ratelimit.Detector
	auditor     *audit.Dispatcher
	logger      *zap.Logger
	now         func() time.Time
}

// Register creates a credential and, unless email verification gates
// it, immediately issues a session. Identifier collisions surface as
// [ErrAccountExists].
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if in.Identifier == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := e.hasher.Encode(in.Password)
	if err != nil {
		return nil, err
	}

	cred := lockout.Credential{
		ID:           uuid.NewString(),
		Identifier:   in.Identifier,
		Username:     in.Username,
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: hash,
		Active:       true,
	}
	if err := e.credentials.Create(ctx, cred); err != nil {
		return nil, err
	}

	result := &RegisterResult{AccountID: cred.ID}
	if e.config.Lockout.RequireVerifiedEmail {
		return result, nil
	}

	sess, err := e.issueSession(ctx, cred, in.IP, in.UserAgent)
	if err != nil {
		return nil, err
	}
	result.Session = sess
	return result, nil
}

// Login verifies the identifier and password under the lockout rules
// and issues a fresh session. Failures carry the typed errors from the
// lockout package; every attempt is audited.
func (e *Engine) Login(ctx context.Context, identifier, rawPassword, ip, userAgent string) (*Session, error) {
	cred, err := e.guard.Authenticate(ctx, identifier, rawPassword, ip, userAgent)
	if err != nil {
		return nil, err
	}

	if e.hasher.NeedsRehash(cred.PasswordHash) {
		e.rehash(ctx, cred, rawPassword)
	}

	return e.issueSession(ctx, cred, ip, userAgent)
}

// Refresh rotates a refresh token and returns a new session. Presenting
// an already-rotated token revokes the owner's whole token family and
// fails with [ErrReplayDetected]. Accounts that went inactive or locked
// since the token was minted are refused and their tokens revoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*Session, error) {
	newRaw, err := e.issuer.IssueRefresh()
	if err != nil {
		return nil, err
	}

	rotated, err := e.refreshes.Rotate(ctx, refreshToken, newRaw, ip, userAgent)
	if err != nil {
		return nil, err
	}

	cred, err := e.credentials.FindByID(ctx, rotated.OwnerID)
	if err != nil {
		return nil, err
	}
	if !cred.Active || cred.Locked(e.now()) {
		if _, revokeErr := e.refreshes.RevokeAll(ctx, cred.ID); revokeErr != nil {
			e.logger.Error("revoking tokens of inactive account failed",
				zap.String("account_id", cred.ID), zap.Error(revokeErr))
		}
		if !cred.Active {
			return nil, ErrAccountDisabled
		}
		return nil, &AccountLockedError{
			Until:     *cred.LockedUntil,
			Remaining: cred.LockedUntil.Sub(e.now()),
		}
	}

	access, expiresAt, err := e.issuer.IssueAccess(cred.ID, cred.Username, cred.Email, cred.Role)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: rotated.Token,
		ExpiresAt:    expiresAt,
	}, nil
}

// Logout revokes a single refresh token. Idempotent; unknown tokens are
// not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	return e.refreshes.Revoke(ctx, refreshToken)
}

// LogoutAll revokes every refresh token of an account and returns how
// many were revoked.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	return e.refreshes.RevokeAll(ctx, accountID)
}

// ValidateAccess parses and verifies an access token.
func (e *Engine) ValidateAccess(tokenStr string) (*token.Claims, error) {
	return e.issuer.ValidateAccess(tokenStr)
}

// StartSweeper runs the background purge of defunct refresh tokens
// until ctx is canceled.
func (e *Engine) StartSweeper(ctx context.Context) {
	refresh.NewSweeper(e.refreshes, e.config.Refresh.SweepInterval, e.logger).Run(ctx)
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	e.auditor.Close()
}

func (e *Engine) issueSession(ctx context.Context, cred lockout.Credential, ip, userAgent string) (*Session, error) {
	access, expiresAt, err := e.issuer.IssueAccess(cred.ID, cred.Username, cred.Email, cred.Role)
	if err != nil {
		return nil, err
	}

	raw, err := e.issuer.IssueRefresh()
	if err != nil {
		return nil, err
	}
	if _, err := e.refreshes.Create(ctx, cred.ID, raw, ip, userAgent); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresAt:    expiresAt,
	}, nil
}

// rehash upgrades a stored hash to the current parameters after a
// successful verification. Best effort; login already succeeded.
func (e *Engine) rehash(ctx context.Context, cred lockout.Credential, rawPassword string) {
	hash, err := e.hasher.Encode(rawPassword)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("account_id", cred.ID), zap.Error(err))
		return
	}
	_, err = e.credentials.Mutate(ctx, cred.ID, func(current lockout.Credential) (lockout.Credential, error) {
		current.PasswordHash = hash
		return current, nil
	})
	if err != nil {
		e.logger.Warn("password rehash persist failed", zap.String("account_id", cred.ID), zap.Error(err))
	}
}
