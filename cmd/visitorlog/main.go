package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"

	"github.com/lox/visitorlog/internal/calendar"
	"github.com/lox/visitorlog/internal/config"
	"github.com/lox/visitorlog/internal/ingest"
	"github.com/lox/visitorlog/internal/lockfile"
	"github.com/lox/visitorlog/internal/logging"
	"github.com/lox/visitorlog/internal/metrics"
	"github.com/lox/visitorlog/internal/store"
)

// Exit statuses.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
	exitLocked = 3
)

var errConfig = errors.New("configuration error")

type CLI struct {
	Config config.Config `embed:""`

	Once  OnceCmd  `cmd:"" default:"1" help:"Run one collection cycle and exit."`
	Run   RunCmd   `cmd:"" help:"Run a cycle every --interval until interrupted."`
	Watch WatchCmd `cmd:"" help:"Run a cycle every minute, holding the PID lock file."`
	Runs  RunsCmd  `cmd:"" help:"Show recent cycles from the audit database."`
}

// env is shared by every command.
type env struct {
	cfg    *config.Config
	loc    *time.Location
	logger *zap.Logger
	out    io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("visitorlog"),
		kong.Description("Records the venue's visitor count to a 15-minute CSV series."),
		kong.UsageOnError(),
		kong.Vars(config.Vars()),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)
	os.Exit(run(kctx, &cli))
}

func run(kctx *kong.Context, cli *CLI) int {
	cfg := &cli.Config
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "visitorlog: %v\n", err)
		return exitConfig
	}
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "visitorlog: %v\n", err)
		return exitConfig
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visitorlog: build logger: %v\n", err)
		return exitConfig
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("metrics: listening", zap.String("addr", cfg.MetricsAddr))
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics: server stopped", zap.Error(err))
			}
		}()
	}

	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(&env{cfg: cfg, loc: loc, logger: logger, out: os.Stdout})
	code := exitCode(err)
	if err != nil {
		logger.Error("visitorlog: command failed", zap.String("command", kctx.Command()), zap.Error(err), zap.Int("exit_code", code))
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, lockfile.ErrLocked):
		return exitLocked
	case errors.Is(err, errConfig), errors.Is(err, store.ErrUnknownSchema), errors.Is(err, store.ErrLegacySchema):
		return exitConfig
	default:
		return exitFailed
	}
}

// collector opens the store and optional audit log and wires a Collector.
// The returned cleanup closes the audit log.
func (e *env) collector() (*ingest.Collector, func(), error) {
	st, err := store.Open(e.cfg.Store(e.loc), calendar.NewNorway(), e.logger)
	if err != nil {
		return nil, nil, err
	}

	var audit *store.Audit
	cleanup := func() {}
	if e.cfg.AuditDB != "" {
		if audit, err = store.OpenAudit(e.cfg.AuditDB, e.logger); err != nil {
			return nil, nil, err
		}
		cleanup = func() {
			if err := audit.Close(); err != nil {
				e.logger.Warn("audit: close", zap.Error(err))
			}
		}
	}

	cc := ingest.CollectorConfig{
		Store:     st,
		Visitors:  ingest.NewVisitorPage(e.cfg.VisitorURL, e.cfg.Fetch(e.cfg.ScraperUserAgent)),
		Audit:     audit,
		Latitude:  e.cfg.Latitude,
		Longitude: e.cfg.Longitude,
		Logger:    e.logger,
	}
	if !e.cfg.NoWeather {
		cc.Weather = ingest.NewMETClient(e.cfg.WeatherURL, e.cfg.Fetch(e.cfg.WeatherUserAgent))
	}
	return ingest.NewCollector(cc), cleanup, nil
}

type OnceCmd struct{}

func (c *OnceCmd) Run(ctx context.Context, e *env) error {
	collector, cleanup, err := e.collector()
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = collector.RunOnce(ctx)
	return err
}

type RunCmd struct{}

func (c *RunCmd) Run(ctx context.Context, e *env) error {
	collector, cleanup, err := e.collector()
	if err != nil {
		return err
	}
	defer cleanup()

	scheduler := ingest.NewScheduler(collector, e.cfg.Interval, e.loc, e.logger)
	if err := scheduler.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	scheduler.Stop()
	return nil
}

type WatchCmd struct{}

func (c *WatchCmd) Run(ctx context.Context, e *env) error {
	collector, cleanup, err := e.collector()
	if err != nil {
		return err
	}
	defer cleanup()

	return ingest.NewWatcher(collector, e.cfg.LockFile, e.loc, e.logger).Run(ctx)
}

type RunsCmd struct {
	Limit    int  `default:"20" help:"Number of runs to show."`
	Failures bool `help:"Only show runs where a fetch or the write failed."`
}

func (c *RunsCmd) Run(e *env) error {
	if e.cfg.AuditDB == "" {
		return fmt.Errorf("%w: --audit-db is required", errConfig)
	}
	audit, err := store.OpenAudit(e.cfg.AuditDB, e.logger)
	if err != nil {
		return err
	}
	defer audit.Close()

	var runs []store.CycleRun
	if c.Failures {
		runs, err = audit.RecentFailures(c.Limit)
	} else {
		runs, err = audit.RecentRuns(c.Limit)
	}
	if err != nil {
		return err
	}
	printRuns(e.out, runs, e.loc)
	return nil
}

func printRuns(w io.Writer, runs []store.CycleRun, loc *time.Location) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	fmt.Fprintf(w, "%-19s  %-19s  %-9s  %7s  %-8s  %s\n", "STARTED", "BUCKET", "OUTCOME", "COUNT", "WEATHER", "ERRORS")
	for _, r := range runs {
		count := "-"
		if r.VisitorCount.Valid {
			count = fmt.Sprint(r.VisitorCount.Int64)
		}
		weather := "-"
		if r.WeatherCategory.Valid {
			weather = r.WeatherCategory.String
		}
		errs := "-"
		if r.Failed() {
			errs = runErrors(r)
		}
		fmt.Fprintf(w, "%-19s  %-19s  %-9s  %7s  %-8s  %s\n",
			r.StartedAt.In(loc).Format("2006-01-02 15:04:05"), r.Bucket, outcome(r), count, weather, errs)
	}
}

func outcome(r store.CycleRun) string {
	switch {
	case r.Written:
		return "written"
	case r.Duplicate:
		return "duplicate"
	case r.StoreError.Valid:
		return "failed"
	case !r.FinishedAt.Valid:
		return "running"
	default:
		return "skipped"
	}
}

func runErrors(r store.CycleRun) string {
	var s string
	for _, e := range []struct {
		name string
		val  string
		ok   bool
	}{
		{"count", r.CountError.String, r.CountError.Valid},
		{"weather", r.WeatherError.String, r.WeatherError.Valid},
		{"store", r.StoreError.String, r.StoreError.Valid},
	} {
		if !e.ok {
			continue
		}
		if s != "" {
			s += "; "
		}
		s += e.name + ": " + e.val
	}
	return s
}
