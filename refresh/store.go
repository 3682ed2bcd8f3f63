package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no record exists for a token string.
var ErrNotFound = errors.New("refresh token not found")

// ErrRevoked is returned when the token record exists but has been revoked.
var ErrRevoked = errors.New("refresh token revoked")

// ErrExpired is returned when the token record exists but its expiry has passed.
var ErrExpired = errors.New("refresh token expired")

// ErrReplay is returned by Rotate when the presented token was already
// consumed by a previous rotation. The whole token family for the owner
// has been revoked by the time this error is returned.
var ErrReplay = errors.New("refresh token replay detected")

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("refresh storage unavailable")

// Token is one persisted refresh-token record.
type Token struct {
	ID        string
	Token     string
	OwnerID   string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Alive reports whether the token is neither revoked nor expired at now.
func (t *Token) Alive(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}

// Storage is the persistence contract for refresh-token records.
//
// Consume is the load-bearing operation: it must atomically flip an
// alive record to revoked and return it, so that two concurrent calls
// for the same token string see exactly one success. The second call
// observes ErrRevoked together with the record, which lets the caller
// identify the owner for family revocation.
type Storage interface {
	Insert(ctx context.Context, tok *Token) error

	// Get returns the record regardless of its state, or ErrNotFound.
	Get(ctx context.Context, token string) (*Token, error)

	// Consume atomically revokes an alive record and returns its prior
	// state. Classification errors: ErrNotFound, ErrRevoked (record is
	// still returned alongside), ErrExpired.
	Consume(ctx context.Context, token string, now time.Time) (*Token, error)

	// Revoke marks a single record revoked. Unknown and already-revoked
	// tokens are not errors.
	Revoke(ctx context.Context, token string) error

	// RevokeAllForOwner marks every record for the owner revoked and
	// returns how many were flipped.
	RevokeAllForOwner(ctx context.Context, ownerID string) (int, error)

	// ActiveForOwner returns the owner's alive records ordered oldest
	// first by creation time.
	ActiveForOwner(ctx context.Context, ownerID string, now time.Time) ([]*Token, error)

	// PurgeDefunct physically deletes records that are revoked or past
	// expiry and returns how many were removed.
	PurgeDefunct(ctx context.Context, now time.Time) (int, error)
}

// Config controls Store behavior.
type Config struct {
	// TTL is the lifetime of newly minted tokens.
	TTL time.Duration

	// MaxPerOwner caps alive tokens per owner. Zero disables the cap.
	MaxPerOwner int

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Store implements the refresh-token lifecycle over a [Storage] backend:
// cap-enforced creation, atomic rotation with replay detection, and
// idempotent revocation.
type Store struct {
	storage Storage
	ttl     time.Duration
	maxPer  int
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore wires a Store. storage must be non-nil and cfg.TTL positive.
func NewStore(storage Storage, cfg Config, logger *zap.Logger) (*Store, error) {
	if storage == nil {
		return nil, errors.New("refresh: storage is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("refresh: ttl must be positive")
	}
	if cfg.MaxPerOwner < 0 {
		return nil, errors.New("refresh: max per owner must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		storage: storage,
		ttl:     cfg.TTL,
		maxPer:  cfg.MaxPerOwner,
		logger:  logger,
		now:     now,
	}, nil
}

// TTL returns the configured token lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create persists a new record for raw, evicting the owner's oldest
// alive tokens first when the per-owner cap would otherwise be exceeded.
func (s *Store) Create(ctx context.Context, ownerID, raw, ip, userAgent string) (*Token, error) {
	if ownerID == "" {
		return nil, errors.New("refresh: owner id is required")
	}
	if raw == "" {
		return nil, errors.New("refresh: token string is required")
	}

	now := s.now()
	if err := s.enforceCap(ctx, ownerID, now); err != nil {
		return nil, err
	}

	tok := &Token{
		ID:        uuid.NewString(),
		Token:     raw,
		OwnerID:   ownerID,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.storage.Insert(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Rotate consumes oldRaw and persists newRaw for the same owner. A
// not-found, expired, or revoked old token fails the rotation; the
// revoked case additionally revokes the owner's whole family and
// surfaces as ErrReplay.
func (s *Store) Rotate(ctx context.Context, oldRaw, newRaw, ip, userAgent string) (*Token, error) {
	consumed, err := s.storage.Consume(ctx, oldRaw, s.now())
	if err != nil {
		if errors.Is(err, ErrRevoked) && consumed != nil {
			revoked, revokeErr := s.storage.RevokeAllForOwner(ctx, consumed.OwnerID)
			if revokeErr != nil {
				s.logger.Error("family revocation after replay failed",
					zap.String("owner_id", consumed.OwnerID),
					zap.Error(revokeErr))
			} else {
				s.logger.Warn("refresh token replay, family revoked",
					zap.String("owner_id", consumed.OwnerID),
					zap.Int("revoked", revoked))
			}
			return nil, fmt.Errorf("%w: token already consumed", ErrReplay)
		}
		return nil, err
	}

	return s.Create(ctx, consumed.OwnerID, newRaw, ip, userAgent)
}

// Revoke marks a single token revoked. Idempotent.
func (s *Store) Revoke(ctx context.Context, raw string) error {
	return s.storage.Revoke(ctx, raw)
}

// RevokeAll marks every token for the owner revoked and returns the count.
func (s *Store) RevokeAll(ctx context.Context, ownerID string) (int, error) {
	return s.storage.RevokeAllForOwner(ctx, ownerID)
}

// IsValid reports whether raw maps to an alive record, returning the
// record when it does. Classification errors mirror Storage.Consume
// without mutating anything.
func (s *Store) IsValid(ctx context.Context, raw string) (*Token, error) {
	tok, err := s.storage.Get(ctx, raw)
	if err != nil {
		return nil, err
	}
	if tok.Revoked {
		return nil, ErrRevoked
	}
	if !s.now().Before(tok.ExpiresAt) {
		return nil, ErrExpired
	}
	return tok, nil
}

// Sweep deletes revoked and expired records. Safe to run on any cadence.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	purged, err := s.storage.PurgeDefunct(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("refresh token sweep", zap.Int("purged", purged))
	}
	return purged, nil
}

func (s *Store) enforceCap(ctx context.Context, ownerID string, now time.Time) error {
	if s.maxPer <= 0 {
		return nil
	}

	active, err := s.storage.ActiveForOwner(ctx, ownerID, now)
	if err != nil {
		return err
	}
	if len(active) < s.maxPer {
		return nil
	}

	// Evict oldest first until one slot is free for the incoming token.
	excess := len(active) - s.maxPer + 1
	for _, victim := range active[:excess] {
		if err := s.storage.Revoke(ctx, victim.Token); err != nil {
			return err
		}
	}
	s.logger.Debug("evicted oldest refresh tokens",
		zap.String("owner_id", ownerID),
		zap.Int("evicted", excess))
	return nil
}
