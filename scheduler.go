package archibald

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SchedulerConfig controls the background sync loop.
type SchedulerConfig struct {
	Interval    time.Duration
	Jobs        []*SyncJob
	Coordinator *PriorityCoordinator
}

// Scheduler owns the background sync jobs, runs them on an interval and
// registers each with the priority coordinator so interactive operations
// can park them.
type Scheduler struct {
	cfg SchedulerConfig
}

// NewScheduler validates the wiring and registers every job as a pausable
// participant.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if len(cfg.Jobs) == 0 {
		return nil, errors.New("scheduler requires at least one job")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Coordinator != nil {
		for _, job := range cfg.Jobs {
			cfg.Coordinator.Register("sync:"+job.SyncType(), job)
		}
	}
	return &Scheduler{cfg: cfg}, nil
}

// Start runs the sync cycle immediately and then on every interval tick
// until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Dur("interval", s.cfg.Interval).Msg("start sync scheduler")
	if err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial sync cycle failed")
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("sync cycle failed")
			}
		}
	}
}

// RunOnce runs every job sequentially. The jobs share one automation
// session per user, so running them in series avoids pointless contention
// on the pool. Per-job failures are logged and do not stop the cycle.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, job := range s.cfg.Jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		start := time.Now()
		err := job.Run(ctx)
		switch {
		case err == nil:
			log.Info().
				Str("sync_type", job.SyncType()).
				Dur("elapsed", time.Since(start)).
				Msg("sync job finished")
		case errors.Is(err, ErrSyncInProgress):
			log.Info().Str("sync_type", job.SyncType()).Msg("sync job already running, skipped")
		default:
			log.Error().
				Err(err).
				Str("sync_type", job.SyncType()).
				Str("class", string(Classify(err))).
				Msg("sync job failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RequestStop forwards a cooperative stop to every job.
func (s *Scheduler) RequestStop() {
	for _, job := range s.cfg.Jobs {
		job.RequestStop()
	}
}
