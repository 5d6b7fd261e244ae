package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"parkwise/backend/services/parking-service/internal/metrics"
)

const (
	overdueSweepJob     = "overdue_sweep"
	overdueSweepLockKey = "parking:jobs:overdue_sweep"

	// DefaultSweepInterval is used when no interval is configured.
	DefaultSweepInterval = time.Hour
)

// Locker grants exclusive leases shared across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, owner string) error
}

// OverdueMarker flags overdue charges.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context) (int, error)
}

// OverdueSweeper periodically runs overdue reconciliation. With a Locker only
// one replica runs each sweep; without one every replica sweeps.
type OverdueSweeper struct {
	marker   OverdueMarker
	locker   Locker
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewOverdueSweeper builds sweeper. locker may be nil.
func NewOverdueSweeper(marker OverdueMarker, locker Locker, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *OverdueSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueSweeper{
		marker:   marker,
		locker:   locker,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// RunForever sweeps once immediately and then on every tick until ctx ends.
func (s *OverdueSweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("overdue sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. It reports ran=false when another replica
// holds the lease.
func (s *OverdueSweeper) RunOnce(ctx context.Context) (ran bool, err error) {
	if s.locker != nil {
		owner, ok, lockErr := s.locker.TryLock(ctx, overdueSweepLockKey, s.interval)
		if lockErr != nil {
			s.metrics.ObserveJobError(overdueSweepJob, lockErr)
			return false, lockErr
		}
		if !ok {
			s.logger.Debug("overdue sweep skipped, lease held elsewhere")
			return false, nil
		}
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(ctx), overdueSweepLockKey, owner); releaseErr != nil {
				s.logger.Warn("failed to release sweep lease", zap.Error(releaseErr))
			}
		}()
	}

	flagged, err := s.marker.MarkOverdue(ctx)
	if err != nil {
		s.metrics.ObserveJobError(overdueSweepJob, err)
		return true, err
	}
	s.logger.Debug("overdue sweep finished", zap.Int("flagged", flagged))
	return true, nil
}
