package ingest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lox/visitorlog/internal/metrics"
	"github.com/lox/visitorlog/internal/models"
	"github.com/lox/visitorlog/internal/store"
)

// CollectorConfig wires a Collector. Weather and Audit are optional.
type CollectorConfig struct {
	Store     *store.Store
	Visitors  VisitorCountSource
	Weather   WeatherSource
	Audit     *store.Audit
	Latitude  float64
	Longitude float64
	Logger    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Collector runs one fetch, enrich and append cycle at a time.
type Collector struct {
	store    *store.Store
	visitors VisitorCountSource
	weather  WeatherSource
	audit    *store.Audit
	lat, lon float64
	logger   *zap.Logger
	now      func() time.Time
}

// CycleResult describes what one cycle did. Record is the row that was, or
// would have been, written; it is the zero value when the count could not be
// fetched.
type CycleResult struct {
	ID         string
	FetchedAt  time.Time
	Record     models.VisitorRecord
	Bucket     time.Time
	Written    bool
	Duplicate  bool
	CountErr   error
	WeatherErr error
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Collector{
		store:    cfg.Store,
		visitors: cfg.Visitors,
		weather:  cfg.Weather,
		audit:    cfg.Audit,
		lat:      cfg.Latitude,
		lon:      cfg.Longitude,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// RunOnce fetches the visitor count and weather independently and appends a
// row when a count was obtained. Fetch failures are reported in the result;
// only a storage failure is returned as an error.
func (c *Collector) RunOnce(ctx context.Context) (CycleResult, error) {
	fetchedAt := c.now().In(c.store.Location())
	res := CycleResult{
		ID:        uuid.NewString(),
		FetchedAt: fetchedAt,
		Bucket:    store.Bucket(fetchedAt),
	}
	logger := c.logger.With(
		zap.String("cycle_id", res.ID),
		zap.Time("fetched_at", fetchedAt),
		zap.String("bucket", res.Bucket.Format(models.TimestampLayout)),
	)

	var run *store.CycleRun
	if c.audit != nil {
		var err error
		if run, err = c.audit.StartRun(res.ID, fetchedAt, res.Bucket.Format(models.TimestampLayout)); err != nil {
			logger.Warn("audit: start run", zap.Error(err))
		}
	}

	count, countErr := c.visitors.FetchCount(ctx)
	if countErr != nil {
		res.CountErr = countErr
		logFetchFailure(logger, "visitor count fetch failed", countErr)
	} else {
		metrics.VisitorCount.Set(float64(count))
	}

	var reading *models.WeatherReading
	if c.weather != nil {
		var err error
		if reading, err = c.weather.FetchWeather(ctx, c.lat, c.lon); err != nil {
			res.WeatherErr = err
			reading = nil
			logFetchFailure(logger, "weather fetch failed", err)
		}
	}

	var storeErr error
	if countErr == nil {
		res.Record, res.Written, storeErr = c.store.Append(count, reading, fetchedAt)
		res.Duplicate = storeErr == nil && !res.Written
	}

	c.report(logger, res, storeErr)
	c.completeRun(logger, run, res, storeErr)

	if storeErr != nil {
		return res, storeErr
	}
	return res, nil
}

func (c *Collector) report(logger *zap.Logger, res CycleResult, storeErr error) {
	switch {
	case res.CountErr != nil:
		metrics.CyclesTotal.WithLabelValues(metrics.OutcomeNoCount).Inc()
		logger.Info("cycle skipped: no visitor count")
		return
	case storeErr != nil:
		metrics.CyclesTotal.WithLabelValues(metrics.OutcomeStorageError).Inc()
		logger.Error("cycle failed: storage error", zap.Error(storeErr))
		return
	case res.Written:
		metrics.CyclesTotal.WithLabelValues(metrics.OutcomeWritten).Inc()
		metrics.LastWriteTimestamp.Set(float64(res.Bucket.Unix()))
	default:
		metrics.CyclesTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
	}

	rec := res.Record
	fields := []zap.Field{
		zap.Bool("written", res.Written),
		zap.Bool("duplicate", res.Duplicate),
		zap.Int("visitor_count", rec.VisitorCount),
		zap.String("weather_category", string(rec.WeatherCategory)),
		zap.String("is_raining", string(rec.IsRaining)),
		zap.String("is_daytime", string(rec.IsDaytime)),
		zap.Bool("is_holiday", rec.IsHoliday),
		zap.Bool("is_vacation_period", rec.IsVacationPeriod),
		zap.String("special_date_name", rec.SpecialDateName),
	}
	if rec.Temperature != nil {
		fields = append(fields, zap.Float64("temperature", *rec.Temperature))
	}
	if res.Written {
		logger.Info("cycle stored row", fields...)
	} else {
		logger.Info("cycle skipped: bucket already stored", fields...)
	}
}

func (c *Collector) completeRun(logger *zap.Logger, run *store.CycleRun, res CycleResult, storeErr error) {
	if c.audit == nil || run == nil {
		return
	}

	run.Written = res.Written
	run.Duplicate = res.Duplicate
	if res.CountErr != nil {
		run.CountError = sql.NullString{String: res.CountErr.Error(), Valid: true}
	} else {
		run.VisitorCount = sql.NullInt64{Int64: int64(res.Record.VisitorCount), Valid: true}
		run.WeatherCategory = sql.NullString{String: string(res.Record.WeatherCategory), Valid: true}
		run.SpecialDateName = sql.NullString{String: res.Record.SpecialDateName, Valid: res.Record.SpecialDateName != ""}
		if res.Record.Temperature != nil {
			run.Temperature = sql.NullFloat64{Float64: *res.Record.Temperature, Valid: true}
		}
	}
	if res.WeatherErr != nil {
		run.WeatherError = sql.NullString{String: res.WeatherErr.Error(), Valid: true}
	}
	if storeErr != nil {
		run.StoreError = sql.NullString{String: storeErr.Error(), Valid: true}
	}

	if err := c.audit.CompleteRun(run); err != nil {
		logger.Warn("audit: complete run", zap.Error(err))
	}
}

// logFetchFailure logs upstream and parse failures as warnings. Anything
// else a source returns is unexpected and logged as an error.
func logFetchFailure(logger *zap.Logger, msg string, err error) {
	if IsFetchError(err) {
		logger.Warn(msg, zap.Error(err))
		return
	}
	logger.Error(msg, zap.Error(err))
}

// IsFetchError reports whether err came from an upstream fetch.
func IsFetchError(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrParse) || errors.Is(err, ErrElementNotFound)
}
