package raster

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports invalid parameters detected before any work is done.
	ErrConfiguration = errors.New("configuration error")
	// ErrBackend reports a failure of the raster I/O backend (open, create, read, write, close).
	ErrBackend = errors.New("backend error")
	// ErrDataShape reports an array whose shape does not match the target bands or window.
	ErrDataShape = errors.New("data shape error")
	// ErrReadOnly is returned by backends that cannot create or modify datasets.
	ErrReadOnly = fmt.Errorf("%w: backend is read-only", ErrBackend)
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func shapeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataShape, fmt.Sprintf(format, args...))
}

func backendError(op string, err error) error {
	if errors.Is(err, ErrBackend) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
}

// ConfigErrorf builds an error wrapping ErrConfiguration.
func ConfigErrorf(format string, args ...any) error {
	return configErrorf(format, args...)
}

// BackendError wraps err as a backend failure of operation op. Errors already
// classified as backend errors are only annotated.
func BackendError(op string, err error) error {
	return backendError(op, err)
}
