package authguard

import (
	"context"

	"github.com/voralis/authguard/lockout"
)

// ResetLockout is the administrative unlock: it clears the failure
// counter and lock, and reactivates the account only when it was
// deactivated by the lockout machinery itself. Accounts disabled for
// unrelated reasons stay disabled.
func (e *Engine) ResetLockout(ctx context.Context, identifier string) (lockout.Credential, error) {
	return e.guard.Reset(ctx, identifier)
}

// ClearViolations resets an identifier's abuse counter. Idempotent.
func (e *Engine) ClearViolations(ctx context.Context, identifier string) error {
	return e.detector.ClearViolations(ctx, identifier)
}

// ViolationCount reports the identifier's current abuse-violation count.
func (e *Engine) ViolationCount(ctx context.Context, identifier string) int {
	return e.detector.ViolationCount(ctx, identifier)
}

// IsMarkedAbusive reports whether the identifier crossed the abuse
// threshold within the violation window.
func (e *Engine) IsMarkedAbusive(ctx context.Context, identifier string) bool {
	return e.detector.IsMarkedAbusive(ctx, identifier)
}
