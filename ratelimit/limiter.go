package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voralis/authguard/kv"
)

// Action names a rate-limited operation class. Policies are configured per
// action; identifiers (subject id or caller IP) are chosen by the caller.
type Action string

// Well-known actions used by the engine. Callers may define their own.
const (
	ActionLogin    Action = "login"
	ActionRegister Action = "register"
	ActionRefresh  Action = "refresh"
	ActionWrite    Action = "write"
)

// Policy is one bucket shape: Capacity admissions refilling fully over Window.
type Policy struct {
	Capacity int
	Window   time.Duration
}

// Decision is the outcome of a consume attempt.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Info is the read-only projection for informational headers and status
// endpoints. Producing it never consumes a token.
type Info struct {
	Max       int
	Remaining int
	ResetIn   time.Duration
	Blocked   bool
}

// Bucket state is encoded as "millitokens|lastRefillUnixMilli". Millitoken
// granularity keeps refill arithmetic integral.
const tokenScale = 1000

// casAttempts bounds the optimistic-concurrency loop. Losing every attempt
// means extreme contention on one identifier; the limiter then admits the
// request, consistent with its fail-open policy.
const casAttempts = 4

// Limiter is a distributed token-bucket admission controller.
type Limiter struct {
	store    kv.Store
	policies map[Action]Policy
	logger   *zap.Logger
	now      func() time.Time
}

// NewLimiter creates a [Limiter]. A nil logger disables logging; a nil now
// uses the system clock.
func NewLimiter(store kv.Store, policies map[Action]Policy, logger *zap.Logger, now func() time.Time) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	owned := make(map[Action]Policy, len(policies))
	for action, policy := range policies {
		owned[action] = policy
	}
	return &Limiter{
		store:    store,
		policies: owned,
		logger:   logger,
		now:      now,
	}
}

func bucketKey(action Action, identifier string) string {
	return "rl:" + string(action) + ":" + identifier
}

// TryConsume attempts to take one token from the (action, identifier) bucket.
// On rejection, RetryAfter reports the time until at least one token is
// available. Store failures admit the request and are logged.
func (l *Limiter) TryConsume(ctx context.Context, action Action, identifier string) Decision {
	policy, ok := l.policies[action]
	if !ok || policy.Capacity <= 0 || policy.Window <= 0 {
		// No policy configured for this action: unlimited.
		return Decision{Allowed: true, Remaining: -1}
	}

	key := bucketKey(action, identifier)
	ttl := 2 * policy.Window
	capacityMilli := int64(policy.Capacity) * tokenScale

	for attempt := 0; attempt < casAttempts; attempt++ {
		current, exists, err := l.store.Get(ctx, key)
		if err != nil {
			return l.failOpen(action, identifier, err)
		}

		nowMilli := l.now().UnixMilli()

		var tokens, last int64
		if exists {
			tokens, last, err = decodeBucket(current)
			if err != nil {
				// Corrupt state: reset to a full bucket rather than deny.
				l.logger.Warn("rate limit bucket corrupt, resetting",
					zap.String("action", string(action)),
					zap.String("identifier", identifier))
				tokens, last = capacityMilli, nowMilli
				exists = false
				current = ""
			}
		} else {
			tokens, last = capacityMilli, nowMilli
		}

		tokens = refill(tokens, last, nowMilli, capacityMilli, policy.Window)

		if tokens < tokenScale {
			return Decision{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: timeToTokens(tokenScale-tokens, policy),
			}
		}

		next := encodeBucket(tokens-tokenScale, nowMilli)
		swapped, err := l.store.CompareAndSwap(ctx, key, current, next, ttl)
		if err != nil {
			return l.failOpen(action, identifier, err)
		}
		if swapped {
			return Decision{
				Allowed:   true,
				Remaining: int((tokens - tokenScale) / tokenScale),
			}
		}
		// Lost the race; re-read and retry.
	}

	l.logger.Debug("rate limit CAS contention, admitting",
		zap.String("action", string(action)),
		zap.String("identifier", identifier))
	return Decision{Allowed: true, Remaining: 0}
}

// GetInfo returns the current bucket projection without consuming a token.
func (l *Limiter) GetInfo(ctx context.Context, action Action, identifier string) Info {
	policy, ok := l.policies[action]
	if !ok || policy.Capacity <= 0 || policy.Window <= 0 {
		return Info{Max: -1, Remaining: -1}
	}

	capacityMilli := int64(policy.Capacity) * tokenScale
	info := Info{Max: policy.Capacity, Remaining: policy.Capacity}

	current, exists, err := l.store.Get(ctx, bucketKey(action, identifier))
	if err != nil {
		l.logger.Warn("rate limit info read failed",
			zap.String("action", string(action)),
			zap.String("identifier", identifier),
			zap.Error(err))
		return info
	}
	if !exists {
		return info
	}

	tokens, last, err := decodeBucket(current)
	if err != nil {
		return info
	}

	tokens = refill(tokens, last, l.now().UnixMilli(), capacityMilli, policy.Window)
	info.Remaining = int(tokens / tokenScale)
	info.Blocked = tokens < tokenScale
	if tokens < capacityMilli {
		info.ResetIn = timeToTokens(capacityMilli-tokens, policy)
	}
	return info
}

// Policy returns the configured policy for an action, if any.
func (l *Limiter) Policy(action Action) (Policy, bool) {
	policy, ok := l.policies[action]
	return policy, ok
}

func (l *Limiter) failOpen(action Action, identifier string, err error) Decision {
	l.logger.Warn("rate limit store unavailable, failing open",
		zap.String("action", string(action)),
		zap.String("identifier", identifier),
		zap.Error(err))
	return Decision{Allowed: true, Remaining: 0}
}

func refill(tokens, lastMilli, nowMilli, capacityMilli int64, window time.Duration) int64 {
	elapsed := nowMilli - lastMilli
	if elapsed <= 0 {
		return tokens
	}
	gained := elapsed * capacityMilli / window.Milliseconds()
	tokens += gained
	if tokens > capacityMilli {
		tokens = capacityMilli
	}
	return tokens
}

// timeToTokens converts a millitoken deficit into wall time at the policy's
// refill rate, rounded up to a whole millisecond and clamped to >= 1s so
// Retry-After headers are never zero.
func timeToTokens(deficitMilli int64, policy Policy) time.Duration {
	windowMilli := policy.Window.Milliseconds()
	capacityMilli := int64(policy.Capacity) * tokenScale
	millis := (deficitMilli*windowMilli + capacityMilli - 1) / capacityMilli
	wait := time.Duration(millis) * time.Millisecond
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func encodeBucket(tokens, lastMilli int64) string {
	return strconv.FormatInt(tokens, 10) + "|" + strconv.FormatInt(lastMilli, 10)
}

func decodeBucket(state string) (tokens, lastMilli int64, err error) {
	sep := strings.IndexByte(state, '|')
	if sep < 0 {
		return 0, 0, fmt.Errorf("invalid bucket state %q", state)
	}
	tokens, err = strconv.ParseInt(state[:sep], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid bucket tokens %q", state)
	}
	lastMilli, err = strconv.ParseInt(state[sep+1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid bucket timestamp %q", state)
	}
	return tokens, lastMilli, nil
}
