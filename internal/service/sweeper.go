package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper polls for due pledges and charges them.
type Sweeper struct {
	donations *DonationProcessor
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// defaultSweepInterval applies when the configured interval is not positive.
const defaultSweepInterval = 24 * time.Hour

// NewSweeper creates a sweeper running every interval.
func NewSweeper(donations *DonationProcessor, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{donations: donations, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("recurring sweeper started", zap.Duration("interval", s.interval))
	for {
		if _, err := s.donations.SweepDue(ctx, s.now().UTC()); err != nil && ctx.Err() == nil {
			s.logger.Error("recurring sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("recurring sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
