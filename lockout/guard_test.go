package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voralis/authguard/audit"
	"github.com/voralis/authguard/password"
)

type guardFixture struct {
	guard *Guard
	repo  *MemoryRepository
	sink  *audit.ChannelSink
	clock *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newGuardFixture(t *testing.T, cfg Config) *guardFixture {
	t.Helper()

	hasher, err := password.New(password.Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("password.New error: %v", err)
	}

	repo := NewMemoryRepository()
	sink := audit.NewChannelSink(64)
	dispatcher := audit.NewDispatcher(audit.Config{Enabled: true, BufferSize: 64}, sink)
	t.Cleanup(dispatcher.Close)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	guard, err := NewGuard(repo, hasher, cfg, dispatcher, nil, clock.Now)
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}

	blob, err := hasher.Encode("correct-horse-battery")
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if err := repo.Create(context.Background(), Credential{
		ID:            "cred-1",
		Identifier:    "alice",
		Username:      "alice",
		Email:         "alice@example.com",
		Role:          "member",
		PasswordHash:  blob,
		Active:        true,
		EmailVerified: true,
	}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	return &guardFixture{guard: guard, repo: repo, sink: sink, clock: clock}
}

func (f *guardFixture) drainAudit(t *testing.T, want int) []audit.Record {
	t.Helper()

	records := make([]audit.Record, 0, want)
	for len(records) < want {
		select {
		case record := <-f.sink.Records():
			records = append(records, record)
		case <-time.After(time.Second):
			t.Fatalf("audit records = %d, want %d", len(records), want)
		}
	}
	return records
}

func (f *guardFixture) credential(t *testing.T) Credential {
	t.Helper()
	cred, err := f.repo.FindByIdentifier(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByIdentifier error: %v", err)
	}
	return cred
}

func TestAuthenticateSuccess(t *testing.T) {
	f := newGuardFixture(t, testConfig())
	ctx := context.Background()

	cred, err := f.guard.Authenticate(ctx, "alice", "correct-horse-battery", "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if cred.LastLoginIP != "10.0.0.1" {
		t.Fatalf("last login ip = %q", cred.LastLoginIP)
	}

	records := f.drainAudit(t, 1)
	if !records[0].Success || records[0].Reason != "" || records[0].OwnerID != "cred-1" {
		t.Fatalf("unexpected audit record: %+v", records[0])
	}
}

func TestWrongPasswordCountsAndReportsRemaining(t *testing.T) {
	f := newGuardFixture(t, testConfig())
	ctx := context.Background()

	var invalid *InvalidCredentialsError

	_, err := f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidCredentialsError", err)
	}
	if invalid.RemainingAttempts != 4 {
		t.Fatalf("remaining = %d, want 4", invalid.RemainingAttempts)
	}
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("typed error must match ErrInvalidCredentials")
	}

	if got := f.credential(t).FailedAttempts; got != 1 {
		t.Fatalf("failed attempts = %d, want 1", got)
	}

	records := f.drainAudit(t, 1)
	if records[0].Reason != audit.ReasonPasswordMismatch {
		t.Fatalf("reason = %q", records[0].Reason)
	}
}

func TestFifthFailureLocksThirtyMinutes(t *testing.T) {
	f := newGuardFixture(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	}

	_, err := f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("fifth failure err = %v, want AccountLockedError", err)
	}
	if want := f.clock.Now().Add(30 * time.Minute); !locked.Until.Equal(want) {
		t.Fatalf("lock until = %v, want %v", locked.Until, want)
	}

	cred := f.credential(t)
	if !cred.Active {
		t.Fatal("temporary lock must not deactivate")
	}

	// While locked, even the correct password is refused and the counter
	// does not move.
	_, err = f.guard.Authenticate(ctx, "alice", "correct-horse-battery", "10.0.0.1", "ua")
	if !errors.As(err, &locked) {
		t.Fatalf("locked-window err = %v, want AccountLockedError", err)
	}
	if got := f.credential(t).FailedAttempts; got != 5 {
		t.Fatalf("failed attempts while locked = %d, want 5", got)
	}

	// Lock expires on its own.
	f.clock.Advance(31 * time.Minute)
	if _, err := f.guard.Authenticate(ctx, "alice", "correct-horse-battery", "10.0.0.1", "ua"); err != nil {
		t.Fatalf("post-expiry Authenticate error: %v", err)
	}
	if got := f.credential(t).FailedAttempts; got != 0 {
		t.Fatalf("failed attempts after success = %d, want 0", got)
	}
}

func TestTenthFailureDisables(t *testing.T) {
	f := newGuardFixture(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	}

	// Every failure past the temp threshold re-engages the lock, so each
	// genuine attempt needs the previous lock to expire first.
	var err error
	for i := 0; i < 5; i++ {
		f.clock.Advance(31 * time.Minute)
		_, err = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	}
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("tenth failure err = %v, want ErrAccountDisabled", err)
	}

	cred := f.credential(t)
	if cred.Active {
		t.Fatal("account must be deactivated at the permanent threshold")
	}

	// Disabled beats everything, even after the lock timestamp passes.
	f.clock.Advance(48 * time.Hour)
	_, err = f.guard.Authenticate(ctx, "alice", "correct-horse-battery", "10.0.0.1", "ua")
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("post-lock err = %v, want ErrAccountDisabled", err)
	}
}

func TestBlockedAttemptsDoNotCount(t *testing.T) {
	f := newGuardFixture(t, testConfig())
	ctx := context.Background()

	// Unknown identity.
	_, err := f.guard.Authenticate(ctx, "nobody", "whatever", "10.0.0.1", "ua")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown identity err = %v, want ErrInvalidCredentials", err)
	}

	// Lock the account, then hammer it.
	for i := 0; i < 5; i++ {
		_, _ = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	}
	for i := 0; i < 10; i++ {
		_, _ = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	}
	if got := f.credential(t).FailedAttempts; got != 5 {
		t.Fatalf("locked-door attempts moved the counter: %d, want 5", got)
	}

	records := f.drainAudit(t, 16)
	reasons := map[string]int{}
	for _, record := range records {
		reasons[record.Reason]++
	}
	if reasons[audit.ReasonUnknownIdentity] != 1 {
		t.Fatalf("unknown_identity records = %d, want 1", reasons[audit.ReasonUnknownIdentity])
	}
	if reasons[audit.ReasonPasswordMismatch] != 5 {
		t.Fatalf("password_mismatch records = %d, want 5", reasons[audit.ReasonPasswordMismatch])
	}
	if reasons[audit.ReasonAccountLocked] != 10 {
		t.Fatalf("account_locked records = %d, want 10", reasons[audit.ReasonAccountLocked])
	}
}

func TestUnverifiedEmailBlocked(t *testing.T) {
	f := newGuardFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.repo.Mutate(ctx, "cred-1", func(c Credential) (Credential, error) {
		c.EmailVerified = false
		return c, nil
	})
	if err != nil {
		t.Fatalf("Mutate error: %v", err)
	}

	_, err = f.guard.Authenticate(ctx, "alice", "correct-horse-battery", "10.0.0.1", "ua")
	if !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("err = %v, want ErrEmailUnverified", err)
	}
	if got := f.credential(t).FailedAttempts; got != 0 {
		t.Fatalf("unverified attempt moved the counter: %d", got)
	}
}

func TestUnverifiedEmailAllowedWhenNotRequired(t *testing.T) {
	cfg := testConfig()
	cfg.RequireVerifiedEmail = false
	f := newGuardFixture(t, cfg)
	ctx := context.Background()

	_, err := f.repo.Mutate(ctx, "cred-1", func(c Credential) (Credential, error) {
		c.EmailVerified = false
		return c, nil
	})
	if err != nil {
		t.Fatalf("Mutate error: %v", err)
	}

	if _, err := f.guard.Authenticate(ctx, "alice", "correct-horse-battery", "10.0.0.1", "ua"); err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
}

func TestConcurrentFailuresLoseNoIncrements(t *testing.T) {
	cfg := testConfig()
	cfg.TempThreshold = 100
	cfg.PermThreshold = 200
	f := newGuardFixture(t, cfg)
	ctx := context.Background()

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _ = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
		}()
	}

	close(start)
	wg.Wait()

	if got := f.credential(t).FailedAttempts; got != workers {
		t.Fatalf("failed attempts = %d, want %d (lost increments)", got, workers)
	}
}

func TestAdminReset(t *testing.T) {
	f := newGuardFixture(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	}
	for i := 0; i < 5; i++ {
		f.clock.Advance(31 * time.Minute)
		_, _ = f.guard.Authenticate(ctx, "alice", "wrong", "10.0.0.1", "ua")
	}
	if f.credential(t).Active {
		t.Fatal("expected deactivated account")
	}

	cred, err := f.guard.Reset(ctx, "alice")
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if !cred.Active || cred.FailedAttempts != 0 || cred.LockedUntil != nil {
		t.Fatalf("reset credential = %+v", cred)
	}

	if _, err := f.guard.Authenticate(ctx, "alice", "correct-horse-battery", "10.0.0.1", "ua"); err != nil {
		t.Fatalf("post-reset Authenticate error: %v", err)
	}
}

func TestResetUnknownIdentifier(t *testing.T) {
	f := newGuardFixture(t, testConfig())

	if _, err := f.guard.Reset(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
