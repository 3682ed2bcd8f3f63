package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs Store.Sweep on a fixed cadence. It is maintenance only:
// expired and revoked tokens are already rejected on lookup, the sweep
// just bounds storage growth.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper. A non-positive interval defaults to 24h.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run blocks sweeping until ctx is canceled. Sweep failures are logged
// and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.store.Sweep(ctx); err != nil {
				s.logger.Error("refresh token sweep failed", zap.Error(err))
			}
		}
	}
}
