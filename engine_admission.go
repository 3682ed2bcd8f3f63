package authguard

import (
	"context"

	"github.com/voralis/authguard/ratelimit"
)

// Admit is the request-admission gate for rate-limited actions. The IP
// block check runs first so a blocked caller never touches bucket
// state; a bucket rejection records a violation, which can escalate
// into an IP block. Rejections return [RateLimitedError].
//
// identifier should be the authenticated account ID when known and the
// caller IP otherwise.
func (e *Engine) Admit(ctx context.Context, action ratelimit.Action, identifier, ip string) error {
	if ip != "" && e.detector.IsBlocked(ctx, ip) {
		return &RateLimitedError{
			Action:     action,
			RetryAfter: e.config.Abuse.BlockDuration,
			IPBlocked:  true,
		}
	}

	decision := e.limiter.TryConsume(ctx, action, identifier)
	if decision.Allowed {
		return nil
	}

	e.detector.RecordViolation(ctx, identifier, action, ip)
	return &RateLimitedError{
		Action:     action,
		RetryAfter: decision.RetryAfter,
	}
}

// RateLimitStatus returns the current bucket projection for an
// identifier without consuming anything, plus the abuse block flag.
func (e *Engine) RateLimitStatus(ctx context.Context, action ratelimit.Action, identifier, ip string) ratelimit.Info {
	info := e.limiter.GetInfo(ctx, action, identifier)
	if ip != "" && e.detector.IsBlocked(ctx, ip) {
		info.Blocked = true
	}
	return info
}
