package authguard

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voralis/authguard/audit"
	"github.com/voralis/authguard/kv"
	"github.com/voralis/authguard/lockout"
	"github.com/voralis/authguard/password"
	"github.com/voralis/authguard/ratelimit"
	"github.com/voralis/authguard/refresh"
	"github.com/voralis/authguard/token"
)

// Builder assembles an [Engine]. Configure it during initialization and
// call Build exactly once.
type Builder struct {
	config Config

	redis       redis.UniversalClient
	credentials lockout.Repository
	refreshes   refresh.Storage
	auditSink   audit.Sink
	logger      *zap.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecret sets the access-token signing key without replacing the
// rest of the configuration.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.Token.Secret = cloneBytes(secret)
	return b
}

// WithRedis sets the shared Redis client backing rate limiting, abuse
// tracking, and (unless overridden) refresh-token storage.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentials sets the credential repository. Required.
func (b *Builder) WithCredentials(repo lockout.Repository) *Builder {
	b.credentials = repo
	return b
}

// WithRefreshStorage overrides the refresh-token backend. Defaults to
// Redis-backed storage on the client from WithRedis; pass a
// [refresh.PostgresStorage] to keep tokens in transactional storage.
func (b *Builder) WithRefreshStorage(storage refresh.Storage) *Builder {
	b.refreshes = storage
	return b
}

// WithAuditSink sets the destination for login-attempt records.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithNow overrides the engine clock.
func (b *Builder) WithNow(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, wires every component, and returns
// the ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.credentials == nil {
		return nil, errors.New("credential repository required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, err
	}

	issuer, err := token.New(token.Config{
		Secret:     cfg.Token.Secret,
		Issuer:     cfg.Token.Issuer,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	auditor := audit.NewDispatcher(cfg.Audit, b.auditSink)

	guard, err := lockout.NewGuard(b.credentials, hasher, cfg.Lockout, auditor, logger, now)
	if err != nil {
		return nil, err
	}

	refreshStorage := b.refreshes
	if refreshStorage == nil {
		refreshStorage = refresh.NewRedisStorage(b.redis, cfg.KeyPrefix+":rt")
	}
	refreshes, err := refresh.NewStore(refreshStorage, refresh.Config{
		TTL:         cfg.Token.RefreshTTL,
		MaxPerOwner: cfg.Refresh.MaxPerOwner,
		Now:         now,
	}, logger)
	if err != nil {
		return nil, err
	}

	store := kv.NewRedisStore(b.redis, cfg.KeyPrefix)
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit, logger, now)
	detector := ratelimit.NewDetector(store, cfg.Abuse, logger)

	b.built = true

	return &Engine{
		config:      cfg,
		hasher:      hasher,
		issuer:      issuer,
		guard:       guard,
		credentials: b.credentials,
		refreshes:   refreshes,
		limiter:     limiter,
		detector:    detector,
		auditor:     auditor,
		logger:      logger,
		now:         now,
	}, nil
}
