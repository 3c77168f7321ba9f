package keeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Keeper on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	keeper *Keeper
	logger *slog.Logger
}

// NewScheduler registers k to run on spec, a six-field cron expression
// (seconds first) or a descriptor such as "@every 30s". Overlapping runs
// are skipped.
func NewScheduler(ctx context.Context, k *Keeper, spec string) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		keeper: k,
		logger: k.logger,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return nil, fmt.Errorf("register keeper schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	action, err := s.keeper.RunOnce(ctx)
	if err != nil {
		s.logger.Error("keeper run failed", "action", string(action), "error", err)
		return
	}
	s.logger.Debug("keeper run", "action", string(action))
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("keeper scheduler started")
}

// Stop stops the scheduler and waits for a running keeper pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("keeper scheduler stopped")
}
