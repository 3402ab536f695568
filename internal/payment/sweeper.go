package payment

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// orphanGrace keeps the sweeper away from reservations whose admission is
// still in flight.
const orphanGrace = 5 * time.Minute

type AbandonedCanceller interface {
	CancelAbandoned(ctx context.Context, cutoff time.Time) (int, error)
}

type OrphanReleaser interface {
	ReleaseOrphans(ctx context.Context, cutoff time.Time) ([]string, error)
}

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Expired   int
	Resettled int
	Abandoned int
	Orphans   int
}

// Sweeper is the background reconciliation job.
type Sweeper struct {
	orch           *Orchestrator
	bookings       AbandonedCanceller
	orphans        OrphanReleaser
	interval       time.Duration
	abandonedAfter time.Duration
	logger         *zap.Logger
	stopChan       chan struct{}
}

func NewSweeper(orch *Orchestrator, bookings AbandonedCanceller, orphans OrphanReleaser,
	interval, abandonedAfter time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		orch:           orch,
		bookings:       bookings,
		orphans:        orphans,
		interval:       interval,
		abandonedAfter: abandonedAfter,
		logger:         logger,
		stopChan:       make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting payment sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

func (s *Sweeper) Stop() {
	s.logger.Info("stopping payment sweeper")
	close(s.stopChan)
}

func (s *Sweeper) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs every reconciliation step; a failing step does not stop
// the others.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	var rep SweepReport
	var err error

	if rep.Expired, err = s.orch.ExpireStale(ctx); err != nil {
		s.logger.Error("expire stale attempts", zap.Error(err))
	}
	if rep.Resettled, err = s.orch.Resettle(ctx); err != nil {
		s.logger.Error("resettle succeeded attempts", zap.Error(err))
	}

	now := s.orch.now().UTC()
	if s.bookings != nil {
		if rep.Abandoned, err = s.bookings.CancelAbandoned(ctx, now.Add(-s.abandonedAfter)); err != nil {
			s.logger.Error("cancel abandoned bookings", zap.Error(err))
		}
	}
	if s.orphans != nil {
		ids, err := s.orphans.ReleaseOrphans(ctx, now.Add(-orphanGrace))
		if err != nil {
			s.logger.Error("release orphan reservations", zap.Error(err))
		}
		rep.Orphans = len(ids)
		for _, id := range ids {
			s.logger.Warn("released orphan reservation", zap.String("reservation_id", id))
		}
	}

	if rep != (SweepReport{}) {
		s.logger.Info("sweep finished",
			zap.Int("expired", rep.Expired),
			zap.Int("resettled", rep.Resettled),
			zap.Int("abandoned", rep.Abandoned),
			zap.Int("orphans", rep.Orphans))
	}
	return rep
}
