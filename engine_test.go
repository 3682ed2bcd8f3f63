package authguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voralis/authguard/lockout"
	"github.com/voralis/authguard/password"
	"github.com/voralis/authguard/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineFixture struct {
	engine *Engine
	clock  *fakeClock
	repo   *lockout.MemoryRepository
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Params{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.Lockout.RequireVerifiedEmail = false
	return cfg
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	mr.SetTime(clock.Now())
	repo := lockout.NewMemoryRepository()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentials(repo).
		WithNow(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, clock: clock, repo: repo}
}

func (f *engineFixture) register(t *testing.T, identifier, pw string) *RegisterResult {
	t.Helper()

	result, err := f.engine.Register(context.Background(), RegisterInput{
		Identifier: identifier,
		Username:   identifier,
		Email:      identifier + "@example.com",
		Role:       "user",
		Password:   pw,
		IP:         "198.51.100.7",
		UserAgent:  "test",
	})
	if err != nil {
		t.Fatalf("Register %s: %v", identifier, err)
	}
	return result
}

func TestRegisterThenLogin(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	result := f.register(t, "alice", "correct-horse-battery")
	if result.Session == nil {
		t.Fatal("Register should issue a session when verification is not required")
	}

	sess, err := f.engine.Login(ctx, "alice", "correct-horse-battery", "198.51.100.7", "test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := f.engine.ValidateAccess(sess.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.Subject != result.AccountID {
		t.Fatalf("claims subject = %q, want %q", claims.Subject, result.AccountID)
	}
	if claims.Username != "alice" || claims.Role != "user" {
		t.Fatalf("claims = %q/%q, want alice/user", claims.Username, claims.Role)
	}
}

func TestRegisterDuplicateIdentifier(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	f.register(t, "alice", "pw-one-lengthy")
	_, err := f.engine.Register(ctx, RegisterInput{Identifier: "alice", Password: "pw-two-lengthy"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate register: err = %v, want ErrAccountExists", err)
	}
}

func TestRegisterWithVerificationGate(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.RequireVerifiedEmail = true
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	result := f.register(t, "alice", "correct-horse-battery")
	if result.Session != nil {
		t.Fatal("Register must not issue a session before verification")
	}

	_, err := f.engine.Login(ctx, "alice", "correct-horse-battery", "", "")
	if !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("Login before verification: err = %v, want ErrEmailUnverified", err)
	}
}

func TestWrongPasswordCarriesRemainingAttempts(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	f.register(t, "alice", "correct-horse-battery")
	_, err := f.engine.Login(ctx, "alice", "wrong", "", "")

	var invalid *InvalidCredentialsError
	if !errors.As(err, &invalid) {
		t.Fatalf("Login with wrong password: err = %v, want InvalidCredentialsError", err)
	}
	if invalid.RemainingAttempts != f.engine.config.Lockout.TempThreshold-1 {
		t.Fatalf("remaining attempts = %d, want %d",
			invalid.RemainingAttempts, f.engine.config.Lockout.TempThreshold-1)
	}
}

func TestRefreshRotation(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	result := f.register(t, "alice", "correct-horse-battery")
	first := result.Session

	second, err := f.engine.Refresh(ctx, first.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}
	if _, err := f.engine.ValidateAccess(second.AccessToken); err != nil {
		t.Fatalf("ValidateAccess on rotated session: %v", err)
	}

	// The consumed token is now a replay signal that burns the family.
	if _, err := f.engine.Refresh(ctx, first.RefreshToken, "", ""); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("replayed refresh: err = %v, want ErrReplayDetected", err)
	}
	if _, err := f.engine.Refresh(ctx, second.RefreshToken, "", ""); !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("family member after replay: err = %v, want ErrRefreshRevoked", err)
	}
}

func TestRefreshOfDisabledAccountRefused(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	result := f.register(t, "alice", "correct-horse-battery")

	_, err := f.repo.Mutate(ctx, result.AccountID, func(c lockout.Credential) (lockout.Credential, error) {
		c.Active = false
		return c, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if _, err := f.engine.Refresh(ctx, result.Session.RefreshToken, "", ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("refresh of disabled account: err = %v, want ErrAccountDisabled", err)
	}
	if _, err := f.engine.Refresh(ctx, result.Session.RefreshToken, "", ""); err == nil {
		t.Fatal("tokens of a disabled account must be revoked")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	result := f.register(t, "alice", "correct-horse-battery")

	for i := 0; i < 2; i++ {
		if err := f.engine.Logout(ctx, result.Session.RefreshToken); err != nil {
			t.Fatalf("Logout round %d: %v", i, err)
		}
	}
	if err := f.engine.Logout(ctx, "never-issued"); err != nil {
		t.Fatalf("Logout of unknown token: %v", err)
	}

	if _, err := f.engine.Refresh(ctx, result.Session.RefreshToken, "", ""); !errors.Is(err, ErrReplayDetected) && !errors.Is(err, ErrRefreshRevoked) {
		t.Fatalf("refresh after logout: err = %v, want revoked or replay", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	result := f.register(t, "alice", "correct-horse-battery")
	second, err := f.engine.Login(ctx, "alice", "correct-horse-battery", "", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	n, err := f.engine.LogoutAll(ctx, result.AccountID)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("LogoutAll revoked %d tokens, want 2", n)
	}

	for _, raw := range []string{result.Session.RefreshToken, second.RefreshToken} {
		if _, err := f.engine.Refresh(ctx, raw, "", ""); err == nil {
			t.Fatal("refresh must fail after LogoutAll")
		}
	}
}

func TestAccessTokenExpires(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	result := f.register(t, "alice", "correct-horse-battery")
	f.clock.Advance(f.engine.config.Token.AccessTTL + time.Minute)

	if _, err := f.engine.ValidateAccess(result.Session.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired access token: err = %v, want ErrTokenExpired", err)
	}
}

func TestAdmitEnforcesPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = map[ratelimit.Action]ratelimit.Policy{
		ratelimit.ActionLogin: {Capacity: 2, Window: time.Minute},
	}
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.engine.Admit(ctx, ratelimit.ActionLogin, "alice", "203.0.113.9"); err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
	}

	err := f.engine.Admit(ctx, ratelimit.ActionLogin, "alice", "203.0.113.9")
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("over-capacity Admit: err = %v, want RateLimitedError", err)
	}
	if limited.IPBlocked {
		t.Fatal("single rejection must not be an IP block")
	}
	if limited.RetryAfter <= 0 || limited.RetryAfter > time.Minute {
		t.Fatalf("RetryAfter = %s, want within (0, 1m]", limited.RetryAfter)
	}

	if f.engine.ViolationCount(ctx, "alice") != 1 {
		t.Fatalf("violation count = %d, want 1", f.engine.ViolationCount(ctx, "alice"))
	}
}

func TestAbuseEscalationBlocksIP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = map[ratelimit.Action]ratelimit.Policy{
		ratelimit.ActionLogin: {Capacity: 1, Window: time.Hour},
	}
	cfg.Abuse.Threshold = 3
	f := newEngineFixture(t, cfg)
	ctx := context.Background()

	const ip = "203.0.113.9"
	if err := f.engine.Admit(ctx, ratelimit.ActionLogin, "mallory", ip); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.engine.Admit(ctx, ratelimit.ActionLogin, "mallory", ip); err == nil {
			t.Fatalf("Admit %d should be rejected", i)
		}
	}

	// The IP is now blocked outright, even for identifiers with budget.
	err := f.engine.Admit(ctx, ratelimit.ActionLogin, "fresh-identity", ip)
	var limited *RateLimitedError
	if !errors.As(err, &limited) || !limited.IPBlocked {
		t.Fatalf("Admit from blocked IP: err = %v, want IP-blocked RateLimitedError", err)
	}

	// Blocked callers are rejected before the bucket, so the fresh
	// identifier's budget is untouched.
	info := f.engine.RateLimitStatus(ctx, ratelimit.ActionLogin, "fresh-identity", "")
	if info.Remaining != 1 {
		t.Fatalf("fresh identifier remaining = %d, want 1", info.Remaining)
	}
}

func TestResetLockoutRestoresLogin(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	ctx := context.Background()

	f.register(t, "alice", "correct-horse-battery")
	for i := 0; i < f.engine.config.Lockout.TempThreshold; i++ {
		_, _ = f.engine.Login(ctx, "alice", "wrong", "", "")
	}
	if _, err := f.engine.Login(ctx, "alice", "correct-horse-battery", "", ""); err == nil {
		t.Fatal("login must be refused while locked")
	}

	if _, err := f.engine.ResetLockout(ctx, "alice"); err != nil {
		t.Fatalf("ResetLockout: %v", err)
	}
	if _, err := f.engine.Login(ctx, "alice", "correct-horse-battery", "", ""); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}
