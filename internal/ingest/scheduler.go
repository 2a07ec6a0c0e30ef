package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Cycler runs one collection cycle.
type Cycler interface {
	RunOnce(ctx context.Context) (CycleResult, error)
}

// Scheduler runs cycles on a fixed interval in a background worker. A cycle
// runs immediately on Start; a tick that arrives while the previous cycle is
// still running is dropped.
type Scheduler struct {
	collector Cycler
	interval  time.Duration
	loc       *time.Location
	logger    *zap.Logger

	mu     sync.Mutex
	cron   *gocron.Scheduler
	cancel context.CancelFunc
}

func NewScheduler(collector Cycler, interval time.Duration, loc *time.Location, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		collector: collector,
		interval:  interval,
		loc:       loc,
		logger:    logger,
	}
}

// Start begins running cycles. Calling Start on a running scheduler logs a
// warning and does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.logger.Warn("scheduler: already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cron := gocron.NewScheduler(s.loc)
	cron.SingletonModeAll()

	_, err := cron.Every(s.interval).StartImmediately().Do(func() {
		s.runCycle(ctx)
	})
	if err != nil {
		cancel()
		return err
	}

	s.logger.Info("scheduler: starting", zap.Duration("interval", s.interval))
	cron.StartAsync()
	s.cron = cron
	s.cancel = cancel
	return nil
}

// Stop halts the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		s.logger.Warn("scheduler: not running")
		return
	}

	s.logger.Info("scheduler: stopping")
	s.cancel()
	s.cron.Stop()
	s.cron = nil
	s.cancel = nil
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil && s.cron.IsRunning()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.collector.RunOnce(ctx); err != nil {
		s.logger.Error("scheduler: cycle failed", zap.Error(err))
	}
}
