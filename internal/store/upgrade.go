package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lox/visitorlog/internal/models"
)

// schema reports the layout of the existing file. A missing or empty file
// counts as the current schema since it will be created with that header.
func (s *Store) schema() (SchemaVersion, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return CurrentSchema, nil
	}
	if err != nil {
		return SchemaUnknown, &StorageError{Op: "open", Path: s.path, Err: err}
	}
	defer f.Close()

	header, err := newReader(f).Read()
	if errors.Is(err, io.EOF) {
		return CurrentSchema, nil
	}
	if err != nil {
		return SchemaUnknown, &StorageError{Op: "open", Path: s.path, Err: err}
	}
	return DetectSchema(header), nil
}

// upgrade rewrites a legacy file in the current schema. Weather fields come
// from the stored symbol, calendar fields from each row's own date. The new
// file is written beside the old one and renamed over it.
func (s *Store) upgrade(from SchemaVersion) error {
	src, err := os.Open(s.path)
	if err != nil {
		return &StorageError{Op: "upgrade", Path: s.path, Err: err}
	}
	defer src.Close()

	r := newReader(src)
	if _, err := r.Read(); err != nil {
		return &StorageError{Op: "upgrade", Path: s.path, Err: err}
	}

	rows := [][]string{Header()}
	offGrid := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &StorageError{Op: "upgrade", Path: s.path, Err: err}
		}
		rec, err := decodeLegacy(from, row, s.loc)
		if err != nil {
			line, _ := r.FieldPos(0)
			return &StorageError{Op: "upgrade", Path: s.path, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		// Older writers stored the raw fetch time. Such rows are kept as-is.
		if !rec.Timestamp.Equal(Bucket(rec.Timestamp)) {
			offGrid++
		}
		class := s.oracle.Classify(rec.Timestamp)
		rec.IsHoliday = class.Kind == models.KindHoliday
		rec.IsVacationPeriod = class.Kind == models.KindVacation
		if class.IsSpecial() {
			rec.SpecialDateName = class.Name
		}
		rows = append(rows, encodeRecord(rec))
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".upgrade-*")
	if err != nil {
		return &StorageError{Op: "upgrade", Path: s.path, Err: err}
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return &StorageError{Op: "upgrade", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &StorageError{Op: "upgrade", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "upgrade", Path: tmp.Name(), Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return &StorageError{Op: "upgrade", Path: tmp.Name(), Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &StorageError{Op: "upgrade", Path: s.path, Err: err}
	}

	s.logger.Info("store: upgraded schema",
		zap.Stringer("from", from),
		zap.Stringer("to", CurrentSchema),
		zap.Int("rows", len(rows)-1),
	)
	if offGrid > 0 {
		s.logger.Warn("store: upgraded file has rows off the 15-minute grid",
			zap.Int("off_grid_rows", offGrid),
		)
	}
	return nil
}
