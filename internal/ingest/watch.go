package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lox/visitorlog/internal/lockfile"
)

// EveryMinute is the watcher's cron spec.
const EveryMinute = "* * * * *"

// Watcher runs a cycle at the top of every minute for as long as it holds
// the PID lock file. Because rows are deduplicated per bucket, polling more
// often than the bucket width only fills gaps.
type Watcher struct {
	collector Cycler
	lockPath  string
	loc       *time.Location
	spec      string
	logger    *zap.Logger
}

func NewWatcher(collector Cycler, lockPath string, loc *time.Location, logger *zap.Logger) *Watcher {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		collector: collector,
		lockPath:  lockPath,
		loc:       loc,
		spec:      EveryMinute,
		logger:    logger,
	}
}

// Run acquires the lock and blocks running cycles until ctx is done. A
// lockfile.ErrLocked error means another instance is running.
func (w *Watcher) Run(ctx context.Context) error {
	lock, err := lockfile.Acquire(w.lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			w.logger.Warn("watcher: release lock", zap.Error(err))
		}
	}()

	cl := cronLogger{w.logger}
	c := cron.New(
		cron.WithLocation(w.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(w.spec, func() { w.runCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", w.spec, err)
	}

	w.logger.Info("watcher: started", zap.String("lock", lock.Path()), zap.String("spec", w.spec))
	c.Start()

	<-ctx.Done()
	w.logger.Info("watcher: shutting down")
	<-c.Stop().Done()
	return nil
}

func (w *Watcher) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.collector.RunOnce(ctx); err != nil {
		w.logger.Error("watcher: cycle failed", zap.Error(err))
	}
}

// cronLogger routes cron's diagnostics through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}
