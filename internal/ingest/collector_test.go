package ingest

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lox/visitorlog/internal/calendar"
	"github.com/lox/visitorlog/internal/models"
	"github.com/lox/visitorlog/internal/store"
)

type fakeVisitors struct {
	count int
	err   error
	calls int
}

func (f *fakeVisitors) FetchCount(context.Context) (int, error) {
	f.calls++
	return f.count, f.err
}

type fakeWeather struct {
	reading *models.WeatherReading
	err     error
	lat     float64
	lon     float64
	calls   int
}

func (f *fakeWeather) FetchWeather(_ context.Context, lat, lon float64) (*models.WeatherReading, error) {
	f.calls++
	f.lat, f.lon = lat, lon
	return f.reading, f.err
}

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	return loc
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{
		Dir:      t.TempDir(),
		Filename: "visitor_counts.csv",
		Location: testLocation(t),
	}, calendar.NewNorway(), nil)
	require.NoError(t, err)
	return s
}

func testAudit(t *testing.T) *store.Audit {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	a := store.NewAudit(db, nil)
	require.NoError(t, a.Migrate())
	return a
}

func clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRunOnceStoresRow(t *testing.T) {
	st := testStore(t)
	core, logs := observer.New(zap.InfoLevel)
	w := &fakeWeather{reading: &models.WeatherReading{Temperature: models.Float64(16.5), Symbol: "partlycloudy_day"}}

	c := NewCollector(CollectorConfig{
		Store:     st,
		Visitors:  &fakeVisitors{count: 42},
		Weather:   w,
		Latitude:  58.853,
		Longitude: 5.732,
		Logger:    zap.New(core),
		Now:       clock(time.Date(2024, 6, 10, 14, 9, 30, 0, testLocation(t))),
	})

	res, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.True(t, res.Written)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "2024-06-10 14:15:00", res.Record.Key())
	assert.Equal(t, models.CategoryCloudy, res.Record.WeatherCategory)
	assert.Equal(t, models.FlagNo, res.Record.IsRaining)
	assert.Equal(t, models.FlagYes, res.Record.IsDaytime)
	assert.True(t, res.Record.IsVacationPeriod)
	assert.Equal(t, 58.853, w.lat)
	assert.Equal(t, 5.732, w.lon)

	entries := logs.FilterMessage("cycle stored row").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, res.ID, fields["cycle_id"])
	assert.Equal(t, "2024-06-10 14:15:00", fields["bucket"])
	assert.Equal(t, int64(42), fields["visitor_count"])
	assert.Equal(t, 16.5, fields["temperature"])
	assert.Equal(t, "Studentferie (Student Summer Vacation)", fields["special_date_name"])

	n, err := st.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunOnceDuplicateBucket(t *testing.T) {
	st := testStore(t)
	loc := testLocation(t)
	visitors := &fakeVisitors{count: 10}

	first := NewCollector(CollectorConfig{Store: st, Visitors: visitors, Now: clock(time.Date(2024, 6, 10, 14, 0, 10, 0, loc))})
	res, err := first.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Written)

	second := NewCollector(CollectorConfig{Store: st, Visitors: visitors, Now: clock(time.Date(2024, 6, 10, 14, 7, 59, 0, loc))})
	res, err = second.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.True(t, res.Duplicate)

	n, err := st.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunOnceWeatherFailure(t *testing.T) {
	st := testStore(t)
	c := NewCollector(CollectorConfig{
		Store:    st,
		Visitors: &fakeVisitors{count: 5},
		Weather:  &fakeWeather{err: ErrUpstream},
		Now:      clock(time.Date(2024, 3, 4, 10, 0, 0, 0, testLocation(t))),
	})

	res, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.ErrorIs(t, res.WeatherErr, ErrUpstream)
	assert.Nil(t, res.Record.Temperature)
	assert.Equal(t, models.CategoryUnknown, res.Record.WeatherCategory)
	assert.Equal(t, models.FlagUnknown, res.Record.IsRaining)
	assert.Equal(t, models.FlagUnknown, res.Record.IsDaytime)
}

func TestRunOnceCountFailure(t *testing.T) {
	st := testStore(t)
	audit := testAudit(t)
	core, logs := observer.New(zap.WarnLevel)
	w := &fakeWeather{reading: &models.WeatherReading{Symbol: "fog"}}

	c := NewCollector(CollectorConfig{
		Store:    st,
		Visitors: &fakeVisitors{err: ErrElementNotFound},
		Weather:  w,
		Audit:    audit,
		Logger:   zap.New(core),
		Now:      clock(time.Date(2024, 3, 4, 10, 0, 0, 0, testLocation(t))),
	})

	res, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.False(t, res.Duplicate)
	assert.ErrorIs(t, res.CountErr, ErrElementNotFound)
	assert.Equal(t, 1, w.calls, "weather is still fetched")
	assert.Equal(t, 1, logs.FilterMessage("visitor count fetch failed").Len())

	_, err = os.Stat(st.Path())
	assert.True(t, os.IsNotExist(err), "no row means no file")

	failures, err := audit.RecentFailures(5)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, res.ID, failures[0].ID)
	assert.Contains(t, failures[0].CountError.String, "not found")
	assert.False(t, failures[0].VisitorCount.Valid)
}

func TestRunOnceFetchFailureLevels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{"upstream", ErrUpstream, zapcore.WarnLevel},
		{"parse", ErrParse, zapcore.WarnLevel},
		{"unexpected", errors.New("source misconfigured"), zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			c := NewCollector(CollectorConfig{
				Store:    testStore(t),
				Visitors: &fakeVisitors{err: tt.err},
				Weather:  &fakeWeather{err: tt.err},
				Logger:   zap.New(core),
				Now:      clock(time.Date(2024, 3, 4, 10, 0, 0, 0, testLocation(t))),
			})

			_, err := c.RunOnce(context.Background())
			require.NoError(t, err)

			for _, msg := range []string{"visitor count fetch failed", "weather fetch failed"} {
				entries := logs.FilterMessage(msg).All()
				require.Len(t, entries, 1, msg)
				assert.Equal(t, tt.level, entries[0].Level, msg)
			}
		})
	}
}

func TestRunOnceAuditsSuccess(t *testing.T) {
	st := testStore(t)
	audit := testAudit(t)
	c := NewCollector(CollectorConfig{
		Store:    st,
		Visitors: &fakeVisitors{count: 8},
		Weather:  &fakeWeather{reading: &models.WeatherReading{Temperature: models.Float64(2), Symbol: "snow"}},
		Audit:    audit,
		Now:      clock(time.Date(2024, 12, 25, 11, 50, 0, 0, testLocation(t))),
	})

	res, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	runs, err := audit.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, res.ID, run.ID)
	assert.Equal(t, "2024-12-25 11:45:00", run.Bucket)
	assert.True(t, run.Written)
	assert.Equal(t, int64(8), run.VisitorCount.Int64)
	assert.Equal(t, 2.0, run.Temperature.Float64)
	assert.Equal(t, "snowy", run.WeatherCategory.String)
	assert.Equal(t, "Første juledag", run.SpecialDateName.String)
	assert.False(t, run.Failed())
}

func TestRunOnceStorageError(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(store.Config{Dir: dir, Filename: "visitor_counts.csv", Location: time.UTC}, nil, nil)
	require.NoError(t, err)

	// A directory where the file should be makes every append fail.
	require.NoError(t, os.Mkdir(st.Path(), 0o755))

	c := NewCollector(CollectorConfig{
		Store:    st,
		Visitors: &fakeVisitors{count: 1},
		Now:      clock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)),
	})
	_, err = c.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))
	assert.False(t, IsFetchError(err))
	assert.False(t, errors.Is(err, ErrUpstream))
}
