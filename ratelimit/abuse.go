package ratelimit

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/voralis/authguard/kv"
)

// AbuseConfig tunes violation counting and IP-block escalation.
type AbuseConfig struct {
	// Threshold is the violation count at which the source IP is blocked.
	Threshold int
	// ViolationTTL is the sliding window for the per-identifier counter;
	// each new violation refreshes it.
	ViolationTTL time.Duration
	// BlockDuration is how long an escalated IP block lasts.
	BlockDuration time.Duration
}

// Detector counts rate-limit violations per identifier and escalates to
// temporary IP blocks. It is a separate, stronger control layered on top of
// ordinary rate limiting: the blocked key is the IP, which need not equal the
// violating identifier.
type Detector struct {
	store  kv.Store
	config AbuseConfig
	logger *zap.Logger
}

// NewDetector creates a [Detector]. A nil logger disables logging.
func NewDetector(store kv.Store, cfg AbuseConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, config: cfg, logger: logger}
}

func violationKey(identifier string) string { return "av:" + identifier }
func blockKey(ip string) string             { return "ab:" + ip }

// RecordViolation increments the identifier's violation counter and, once the
// counter reaches the threshold, blocks the IP for the configured duration.
// Store failures are logged and swallowed; recording a violation must never
// abort the caller's request flow.
func (d *Detector) RecordViolation(ctx context.Context, identifier string, action Action, ip string) {
	count, err := d.store.Incr(ctx, violationKey(identifier), d.config.ViolationTTL)
	if err != nil {
		d.logger.Warn("abuse violation increment failed",
			zap.String("identifier", identifier),
			zap.String("action", string(action)),
			zap.Error(err))
		return
	}

	if count < int64(d.config.Threshold) || ip == "" {
		return
	}

	if err := d.store.SetWithTTL(ctx, blockKey(ip), "1", d.config.BlockDuration); err != nil {
		d.logger.Warn("abuse IP block write failed",
			zap.String("ip", ip),
			zap.Error(err))
		return
	}

	d.logger.Info("abusive source blocked",
		zap.String("identifier", identifier),
		zap.String("action", string(action)),
		zap.String("ip", ip),
		zap.Int64("violations", count),
		zap.Duration("block_duration", d.config.BlockDuration))
}

// IsBlocked reports whether the IP currently has an escalated block. An
// unreachable store reports not blocked (fail open) and logs the failure.
func (d *Detector) IsBlocked(ctx context.Context, ip string) bool {
	if ip == "" {
		return false
	}
	_, exists, err := d.store.Get(ctx, blockKey(ip))
	if err != nil {
		d.logger.Warn("abuse block check failed, failing open",
			zap.String("ip", ip),
			zap.Error(err))
		return false
	}
	return exists
}

// IsMarkedAbusive reports whether the identifier's violation count has
// reached the escalation threshold.
func (d *Detector) IsMarkedAbusive(ctx context.Context, identifier string) bool {
	return d.ViolationCount(ctx, identifier) >= d.config.Threshold
}

// ViolationCount returns the identifier's current violation count. Missing
// counters and store failures read as zero.
func (d *Detector) ViolationCount(ctx context.Context, identifier string) int {
	value, exists, err := d.store.Get(ctx, violationKey(identifier))
	if err != nil {
		d.logger.Warn("abuse violation read failed",
			zap.String("identifier", identifier),
			zap.Error(err))
		return 0
	}
	if !exists {
		return 0
	}
	count, err := strconv.Atoi(value)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// ClearViolations resets the identifier's violation counter. Idempotent;
// clearing an identifier with no violations is not an error.
func (d *Detector) ClearViolations(ctx context.Context, identifier string) error {
	return d.store.Del(ctx, violationKey(identifier))
}
