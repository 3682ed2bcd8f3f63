// Command authguard-demo wires a full engine against real or embedded
// backends and walks one account through the register, login, refresh,
// replay, and lockout flows. Useful as living documentation and as a
// smoke test against a staging Redis/Postgres pair.
//
// Configuration comes from flags and, via godotenv, a local .env file:
//
//	REDIS_ADDR      redis host:port (empty runs embedded miniredis)
//	DATABASE_URL    postgres DSN (empty uses the in-memory repository)
//	TOKEN_SECRET    HMAC signing key, min 32 bytes
//	KAFKA_BROKERS   comma-separated brokers for audit events (optional)
//	KAFKA_TOPIC     audit topic, default "authguard.audit"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voralis/authguard"
	"github.com/voralis/authguard/audit"
	"github.com/voralis/authguard/lockout"
	"github.com/voralis/authguard/ratelimit"
	"github.com/voralis/authguard/refresh"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		identifier = flag.String("identifier", "demo@example.com", "account identifier to exercise")
		pw         = flag.String("password", "correct-horse-battery", "account password")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	client, cleanup, err := redisClient(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := authguard.DefaultConfig()
	cfg.Token.Secret = []byte(os.Getenv("TOKEN_SECRET"))
	if len(cfg.Token.Secret) == 0 {
		// Demo-only fallback; never ship a baked-in secret.
		cfg.Token.Secret = []byte("demo-secret-demo-secret-demo-secret!")
		logger.Warn("TOKEN_SECRET not set, using demo secret")
	}
	cfg.Lockout.RequireVerifiedEmail = false

	builder := authguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger)

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		builder = builder.
			WithCredentials(lockout.NewPostgresRepository(pool)).
			WithRefreshStorage(refresh.NewPostgresStorage(pool))
		logger.Info("using postgres credential and refresh storage")
	} else {
		builder = builder.WithCredentials(lockout.NewMemoryRepository())
		logger.Info("using in-memory credential repository")
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := os.Getenv("KAFKA_TOPIC")
		if topic == "" {
			topic = "authguard.audit"
		}
		sink := audit.NewKafkaSink(audit.KafkaSinkConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   topic,
		}, logger)
		defer func() { _ = sink.Close() }()
		builder = builder.WithAuditSink(sink)
	} else {
		builder = builder.WithAuditSink(audit.NewZapSink(logger))
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go engine.StartSweeper(sweepCtx)

	return walkthrough(ctx, engine, logger, *identifier, *pw)
}

func redisClient(logger *zap.Logger) (redis.UniversalClient, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Info("using embedded miniredis", zap.String("addr", mr.Addr()))
		return client, func() { _ = client.Close(); mr.Close() }, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	logger.Info("using redis", zap.String("addr", addr))
	return client, func() { _ = client.Close() }, nil
}

func walkthrough(ctx context.Context, engine *authguard.Engine, logger *zap.Logger, identifier, pw string) error {
	const ip = "203.0.113.50"

	if err := engine.Admit(ctx, ratelimit.ActionRegister, identifier, ip); err != nil {
		return err
	}
	reg, err := engine.Register(ctx, authguard.RegisterInput{
		Identifier: identifier,
		Username:   strings.SplitN(identifier, "@", 2)[0],
		Email:      identifier,
		Role:       "user",
		Password:   pw,
		IP:         ip,
		UserAgent:  "authguard-demo",
	})
	if err != nil && !errors.Is(err, authguard.ErrAccountExists) {
		return fmt.Errorf("register: %w", err)
	}
	if reg != nil {
		logger.Info("registered", zap.String("account_id", reg.AccountID))
	}

	if err := engine.Admit(ctx, ratelimit.ActionLogin, identifier, ip); err != nil {
		return err
	}
	sess, err := engine.Login(ctx, identifier, pw, ip, "authguard-demo")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	logger.Info("logged in", zap.Time("access_expires", sess.ExpiresAt))

	claims, err := engine.ValidateAccess(sess.AccessToken)
	if err != nil {
		return fmt.Errorf("validate access: %w", err)
	}
	logger.Info("access token valid",
		zap.String("subject", claims.Subject),
		zap.String("role", claims.Role))

	rotated, err := engine.Refresh(ctx, sess.RefreshToken, ip, "authguard-demo")
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	logger.Info("refresh token rotated")

	// Replaying the consumed token must fail and burn the family.
	if _, err := engine.Refresh(ctx, sess.RefreshToken, ip, "authguard-demo"); errors.Is(err, authguard.ErrReplayDetected) {
		logger.Info("replay detected as expected, token family revoked")
	} else {
		return fmt.Errorf("replay was not detected: %v", err)
	}
	if _, err := engine.Refresh(ctx, rotated.RefreshToken, ip, "authguard-demo"); err == nil {
		return errors.New("family member survived replay revocation")
	}

	// Wrong passwords walk the account toward a temporary lock.
	for i := 0; ; i++ {
		_, err := engine.Login(ctx, identifier, "not-the-password", ip, "authguard-demo")
		var locked *authguard.AccountLockedError
		if errors.As(err, &locked) {
			logger.Info("account temporarily locked",
				zap.Int("failed_attempts", i+1),
				zap.Duration("remaining", locked.Remaining))
			break
		}
		if !errors.Is(err, authguard.ErrInvalidCredentials) {
			return fmt.Errorf("unexpected login failure: %v", err)
		}
		if i > 20 {
			return errors.New("lockout never engaged")
		}
	}

	if _, err := engine.ResetLockout(ctx, identifier); err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	if _, err := engine.Login(ctx, identifier, pw, ip, "authguard-demo"); err != nil {
		return fmt.Errorf("login after reset: %w", err)
	}
	logger.Info("admin reset restored access")

	// Give the async audit dispatcher a beat to flush to its sink.
	time.Sleep(100 * time.Millisecond)
	return nil
}
