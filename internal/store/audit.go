package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// CycleRun is the audit row for one collection cycle.
type CycleRun struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	FetchedAt       time.Time
	Bucket          string
	VisitorCount    sql.NullInt64
	Temperature     sql.NullFloat64
	WeatherCategory sql.NullString
	SpecialDateName sql.NullString
	Written         bool
	Duplicate       bool
	CountError      sql.NullString
	WeatherError    sql.NullString
	StoreError      sql.NullString
}

// Failed reports whether any stage of the cycle failed.
func (r CycleRun) Failed() bool {
	return r.CountError.Valid || r.WeatherError.Valid || r.StoreError.Valid
}

// Audit records every cycle in sqlite so gaps in the CSV series can be
// explained after the fact.
type Audit struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAudit(db *sql.DB, logger *zap.Logger) *Audit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Audit{db: db, logger: logger}
}

// auditPragmas are applied to every pooled connection, so a reader such as
// "visitorlog runs" waits for a running watcher instead of failing with
// SQLITE_BUSY.
const auditPragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// OpenAudit opens (or creates) the sqlite database at path and migrates it.
func OpenAudit(path string, logger *zap.Logger) (*Audit, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?"+auditPragmas)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	a := NewAudit(db, logger)
	if err := a.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	version, err := a.MigrationVersion()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read audit schema version: %w", err)
	}
	a.logger.Debug("audit: opened", zap.String("path", path), zap.Int("schema_version", version))
	return a, nil
}

func (a *Audit) Close() error {
	return a.db.Close()
}

// StartRun inserts an unfinished run. An empty id is replaced with a new
// UUID.
func (a *Audit) StartRun(id string, fetchedAt time.Time, bucket string) (*CycleRun, error) {
	if id == "" {
		id = uuid.NewString()
	}
	run := &CycleRun{
		ID:        id,
		StartedAt: time.Now().UTC(),
		FetchedAt: fetchedAt.UTC(),
		Bucket:    bucket,
	}

	_, err := a.db.Exec(`
		INSERT INTO cycle_runs (id, started_at, fetched_at, bucket)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.FetchedAt, run.Bucket)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun stores the outcome fields of run and marks it finished.
func (a *Audit) CompleteRun(run *CycleRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := a.db.Exec(`
		UPDATE cycle_runs SET
			finished_at = ?,
			visitor_count = ?,
			temperature = ?,
			weather_category = ?,
			special_date_name = ?,
			written = ?,
			duplicate = ?,
			count_error = ?,
			weather_error = ?,
			storage_error = ?
		WHERE id = ?
	`, run.FinishedAt, run.VisitorCount, run.Temperature, run.WeatherCategory,
		run.SpecialDateName, run.Written, run.Duplicate, run.CountError,
		run.WeatherError, run.StoreError, run.ID)
	return err
}

const cycleRunColumns = `id, started_at, finished_at, fetched_at, bucket, visitor_count,
	temperature, weather_category, special_date_name, written, duplicate,
	count_error, weather_error, storage_error`

// RecentRuns returns the latest runs, newest first.
func (a *Audit) RecentRuns(limit int) ([]CycleRun, error) {
	return a.queryRuns(`
		SELECT `+cycleRunColumns+`
		FROM cycle_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
}

// RecentFailures returns the latest runs where a fetch or the write failed.
func (a *Audit) RecentFailures(limit int) ([]CycleRun, error) {
	return a.queryRuns(`
		SELECT `+cycleRunColumns+`
		FROM cycle_runs
		WHERE count_error IS NOT NULL OR weather_error IS NOT NULL OR storage_error IS NOT NULL
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
}

func (a *Audit) queryRuns(query string, args ...any) ([]CycleRun, error) {
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CycleRun
	for rows.Next() {
		var r CycleRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.FetchedAt, &r.Bucket,
			&r.VisitorCount, &r.Temperature, &r.WeatherCategory, &r.SpecialDateName,
			&r.Written, &r.Duplicate, &r.CountError, &r.WeatherError, &r.StoreError); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
