package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/visitorlog/internal/calendar"
	"github.com/lox/visitorlog/internal/models"
	"github.com/lox/visitorlog/internal/weather"
)

// Oracle classifies a date as holiday, vacation or regular.
type Oracle interface {
	Classify(t time.Time) models.Classification
}

type Config struct {
	Dir      string
	Filename string
	// Location is the venue timezone. Timestamps are bucketed and written in
	// it. Defaults to time.Local.
	Location *time.Location
	// UpgradeLegacy rewrites files using an older column layout into the
	// current one on Open. When false such files fail with ErrLegacySchema.
	UpgradeLegacy bool
}

// Store is an append-only CSV file holding at most one VisitorRecord per
// 15-minute bucket. It is safe for use by multiple goroutines, but not by
// multiple processes; callers serialise processes with a lock file.
type Store struct {
	mu     sync.Mutex
	path   string
	loc    *time.Location
	oracle Oracle
	logger *zap.Logger

	seen        map[string]struct{}
	size        int64
	indexed     bool
	needNewline bool
}

// Open prepares the store at cfg.Dir/cfg.Filename. The directory is created
// if needed; the file itself is created on the first Append. An existing
// file has its schema checked and, if allowed, upgraded in place.
func Open(cfg Config, oracle Oracle, logger *zap.Logger) (*Store, error) {
	if cfg.Filename == "" {
		return nil, errors.New("store: filename is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if oracle == nil {
		oracle = calendar.NewNorway()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		path:   filepath.Join(cfg.Dir, cfg.Filename),
		loc:    cfg.Location,
		oracle: oracle,
		logger: logger.With(zap.String("path", filepath.Join(cfg.Dir, cfg.Filename))),
		seen:   make(map[string]struct{}),
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, &StorageError{Op: "mkdir", Path: cfg.Dir, Err: err}
		}
	}

	version, err := s.schema()
	if err != nil {
		return nil, err
	}
	switch {
	case version == CurrentSchema:
	case version == SchemaUnknown:
		return nil, &StorageError{Op: "open", Path: s.path, Err: ErrUnknownSchema}
	case !cfg.UpgradeLegacy:
		return nil, &StorageError{Op: "open", Path: s.path, Err: fmt.Errorf("%w: %s", ErrLegacySchema, version)}
	default:
		if err := s.upgrade(version); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Location returns the timezone records are bucketed in.
func (s *Store) Location() *time.Location {
	return s.loc
}

// Len returns the number of distinct buckets currently stored.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return 0, err
	}
	return len(s.seen), nil
}

// Record builds the row that Append would write for the given inputs,
// without touching the file.
func (s *Store) Record(count int, w *models.WeatherReading, now time.Time) models.VisitorRecord {
	bucket := Bucket(now.In(s.loc))
	class := s.oracle.Classify(bucket)
	cond := weather.Conditions(w)

	rec := models.VisitorRecord{
		Timestamp:        bucket,
		VisitorCount:     count,
		WeatherCategory:  cond.Category,
		IsRaining:        cond.IsRaining,
		IsDaytime:        cond.IsDaytime,
		IsHoliday:        class.Kind == models.KindHoliday,
		IsVacationPeriod: class.Kind == models.KindVacation,
	}
	if class.IsSpecial() {
		rec.SpecialDateName = class.Name
	}
	if w != nil && w.Temperature != nil {
		rec.Temperature = models.Float64(*w.Temperature)
	}
	return rec
}

// Append stores one row for the bucket containing now. If that bucket is
// already present nothing is written and written is false; the computed
// record is returned either way. Only I/O failures return a *StorageError.
func (s *Store) Append(count int, w *models.WeatherReading, now time.Time) (rec models.VisitorRecord, written bool, err error) {
	if count < 0 {
		return models.VisitorRecord{}, false, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	rec = s.Record(count, w, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return rec, false, err
	}
	key := rec.Key()
	if _, ok := s.seen[key]; ok {
		return rec, false, nil
	}

	var buf bytes.Buffer
	if s.size == 0 {
		writeRows(&buf, Header())
	} else if s.needNewline {
		buf.WriteByte('\n')
	}
	writeRows(&buf, encodeRecord(rec))

	if err := s.write(buf.Bytes()); err != nil {
		return rec, false, err
	}
	s.seen[key] = struct{}{}
	return rec, true, nil
}

func writeRows(buf *bytes.Buffer, rows ...[]string) {
	w := csv.NewWriter(buf)
	// Cannot fail on a bytes.Buffer.
	_ = w.WriteAll(rows)
}

// appendFile is the part of *os.File that write uses.
type appendFile interface {
	io.Writer
	Sync() error
	Close() error
}

var openAppend = func(path string) (appendFile, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
}

// write appends b with a single write call and syncs it to disk. Once any
// bytes may have reached the file, a failure marks the index stale so the
// next refresh rescans instead of trusting the size.
func (s *Store) write(b []byte) error {
	f, err := openAppend(s.path)
	if err != nil {
		return &StorageError{Op: "open", Path: s.path, Err: err}
	}
	n, err := f.Write(b)
	s.size += int64(n)
	if err != nil {
		f.Close()
		s.indexed = false
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.indexed = false
		return &StorageError{Op: "sync", Path: s.path, Err: err}
	}
	if err := f.Close(); err != nil {
		s.indexed = false
		return &StorageError{Op: "close", Path: s.path, Err: err}
	}
	s.needNewline = false
	return nil
}

// refresh rebuilds the timestamp index when the file size differs from what
// this store last wrote or read. s.mu must be held.
func (s *Store) refresh() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if s.size != 0 || !s.indexed {
			s.seen = make(map[string]struct{})
			s.size = 0
			s.needNewline = false
			s.indexed = true
		}
		return nil
	}
	if err != nil {
		return &StorageError{Op: "stat", Path: s.path, Err: err}
	}
	if s.indexed && info.Size() == s.size {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return &StorageError{Op: "open", Path: s.path, Err: err}
	}
	defer f.Close()

	seen := make(map[string]struct{})
	r := newReader(f)
	header, err := r.Read()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return &StorageError{Op: "scan", Path: s.path, Err: err}
	case DetectSchema(header) != CurrentSchema:
		return &StorageError{Op: "scan", Path: s.path, Err: ErrUnknownSchema}
	default:
		for {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return &StorageError{Op: "scan", Path: s.path, Err: err}
			}
			if len(row) > 0 {
				seen[row[0]] = struct{}{}
			}
		}
	}

	needNewline := false
	if info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err != nil {
			return &StorageError{Op: "scan", Path: s.path, Err: err}
		}
		needNewline = last[0] != '\n'
	}

	if needNewline {
		s.logger.Warn("store: file does not end in a newline, repairing on next append")
	}
	s.logger.Debug("store: indexed", zap.Int("rows", len(seen)), zap.Int64("size", info.Size()))

	s.seen = seen
	s.size = info.Size()
	s.needNewline = needNewline
	s.indexed = true
	return nil
}

// Records reads every row back from disk in file order. Rows that cannot be
// decoded are logged and skipped.
func (s *Store) Records() ([]models.VisitorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "open", Path: s.path, Err: err}
	}
	defer f.Close()

	r := newReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Path: s.path, Err: err}
	}
	if DetectSchema(header) != CurrentSchema {
		return nil, &StorageError{Op: "read", Path: s.path, Err: ErrUnknownSchema}
	}

	var records []models.VisitorRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, &StorageError{Op: "read", Path: s.path, Err: err}
		}
		rec, err := decodeRecord(row, s.loc)
		if err != nil {
			line, _ := r.FieldPos(0)
			s.logger.Warn("store: skipping row", zap.Int("line", line), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return cr
}
