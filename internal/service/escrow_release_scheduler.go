package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/internal/metrics"
	"notes-escrow/pkg/apperror"

	"github.com/rs/zerolog"
)

const releaseLockKey = "escrow-release"

// SchedulerConfig controls the auto-release loop.
type SchedulerConfig struct {
	Interval  time.Duration
	HoldHours int
	BatchSize int
	LockTTL   time.Duration
}

// EscrowReleaseScheduler releases held orders once their hold period elapses.
type EscrowReleaseScheduler struct {
	orderRepo ports.OrderRepository
	escrow    ports.EscrowStateMachine
	lock      ports.DistributedLock
	cfg       SchedulerConfig
	log       zerolog.Logger
	now       func() time.Time

	stop    chan struct{}
	running atomic.Bool
}

// NewEscrowReleaseScheduler creates a scheduler. lock may be nil for single-replica deployments.
func NewEscrowReleaseScheduler(
	orderRepo ports.OrderRepository,
	escrow ports.EscrowStateMachine,
	lock ports.DistributedLock,
	cfg SchedulerConfig,
	log zerolog.Logger,
) *EscrowReleaseScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &EscrowReleaseScheduler{
		orderRepo: orderRepo,
		escrow:    escrow,
		lock:      lock,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
	}
}

// ProcessEscrowRelease releases every HELD order whose held_at is at least holdHours old.
// Orders that fail or lose a race are logged and skipped. Returns the number released.
func (s *EscrowReleaseScheduler) ProcessEscrowRelease(ctx context.Context, holdHours int) (int, error) {
	if holdHours < 0 {
		return 0, apperror.Validation("Hold hours must not be negative")
	}

	cutoff := s.now().Add(-time.Duration(holdHours) * time.Hour)
	released := 0
	var cursor *ports.ReleaseCursor

	for {
		if err := ctx.Err(); err != nil {
			return released, err
		}

		batch, err := s.orderRepo.ListReleasable(ctx, cutoff, cursor, s.cfg.BatchSize)
		if err != nil {
			return released, apperror.InternalError(fmt.Errorf("list releasable orders: %w", err))
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				return released, err
			}
			if s.releaseOne(ctx, &batch[i]) {
				released++
			}
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
		last := batch[len(batch)-1]
		cursor = &ports.ReleaseCursor{HeldAt: last.HeldAt, ID: last.ID}
	}

	if released > 0 {
		s.log.Info().
			Int("released", released).
			Int("hold_hours", holdHours).
			Msg("auto-release pass finished")
	}
	return released, nil
}

func (s *EscrowReleaseScheduler) releaseOne(ctx context.Context, order *domain.Order) bool {
	_, err := s.escrow.Release(ctx, order.ID, domain.EscrowStatusHeld, domain.TransactionTypeEscrowAutoRelease)
	switch {
	case err == nil:
		return true
	case apperror.Is(err, apperror.KindStaleState):
		s.log.Debug().
			Str("order_id", order.ID.String()).
			Msg("order settled concurrently, skipping")
	default:
		metrics.AutoReleaseFailuresTotal.Inc()
		s.log.Warn().Err(err).
			Str("order_id", order.ID.String()).
			Msg("failed to auto-release order")
	}
	return false
}

// Running reports whether the loop is active.
func (s *EscrowReleaseScheduler) Running() bool {
	return s.running.Load()
}

// Run ticks at the configured interval until ctx is cancelled or Stop is called.
// Call in a goroutine.
func (s *EscrowReleaseScheduler) Run(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("hold_hours", s.cfg.HoldHours).
		Msg("escrow release scheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeRunOnce(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (s *EscrowReleaseScheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *EscrowReleaseScheduler) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerRunsTotal.WithLabelValues(metrics.RunFailed).Inc()
			s.log.Error().Str("panic", fmt.Sprint(r)).Msg("panic in escrow release scheduler")
		}
	}()
	s.RunOnce(ctx)
}

// RunOnce performs a single pass under the cluster-wide lock.
// A Redis failure does not block the pass; the row-level guard keeps releases exactly-once.
func (s *EscrowReleaseScheduler) RunOnce(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, releaseLockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("scheduler lock unavailable, running without it")
		case !acquired:
			metrics.SchedulerRunsTotal.WithLabelValues(metrics.RunSkipped).Inc()
			s.log.Debug().Msg("another replica holds the release lock")
			return
		default:
			defer func() {
				if err := s.lock.Release(context.Background(), releaseLockKey); err != nil {
					s.log.Warn().Err(err).Msg("failed to release scheduler lock")
				}
			}()
		}
	}

	if _, err := s.ProcessEscrowRelease(ctx, s.cfg.HoldHours); err != nil {
		metrics.SchedulerRunsTotal.WithLabelValues(metrics.RunFailed).Inc()
		s.log.Error().Err(err).Msg("auto-release pass failed")
		return
	}
	metrics.SchedulerRunsTotal.WithLabelValues(metrics.RunCompleted).Inc()
}
