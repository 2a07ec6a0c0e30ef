package store

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCount  = errors.New("visitor count must be non-negative")
	ErrUnknownSchema = errors.New("unrecognised csv header")
	ErrLegacySchema  = errors.New("csv uses a legacy schema and upgrade is disabled")
	ErrMalformedRow  = errors.New("malformed csv row")
)

// StorageError reports an I/O or format failure on the backing file. A cycle
// that hits one has left a gap in the series.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
