package collector

import (
	"context"
	"log/slog"
	"time"
)

// RunFunc performs one full report run.
type RunFunc func(ctx context.Context) error

type Scheduler struct {
	logger       *slog.Logger
	run          RunFunc
	interval     time.Duration
	errorBackoff time.Duration
}

func NewScheduler(logger *slog.Logger, run RunFunc, interval, errorBackoff time.Duration) *Scheduler {
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		logger:       logger,
		run:          run,
		interval:     interval,
		errorBackoff: errorBackoff,
	}
}

// Run reports once immediately, then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.run(ctx); err != nil {
		s.logger.Warn("initial report run failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.run(ctx); err != nil {
				s.logger.Error("report run failed", "error", err)
				s.sleepWithContext(ctx, s.errorBackoff)
			}
		}
	}
}

func (s *Scheduler) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
