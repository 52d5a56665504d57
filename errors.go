package hbs

import "errors"

var (
	// ErrIO is the error kind of a failure in an underlying store.
	// Test for it with errors.Is.
	ErrIO = errors.New("i/o error")

	// ErrNotFound is returned when the requested content has no known bytes.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when content has known locations
	// but none of them can be reached.
	ErrUnavailable = errors.New("unavailable")

	// ErrTimeout is returned when a windowed transfer step exceeds its bound.
	ErrTimeout = errors.New("timeout")

	// ErrNoBackend is returned when a Router has no storage node to save to.
	ErrNoBackend = errors.New("no backend available")

	// ErrTooLarge is returned for a chunk bigger than the configured block size.
	ErrTooLarge = errors.New("chunk too large")
)

// IOError marks err as being of kind ErrIO,
// while keeping err itself available to errors.Is and errors.As.
func IOError(err error) error {
	if err == nil {
		return nil
	}
	return ioError{err: err}
}

type ioError struct {
	err error
}

func (e ioError) Error() string { return e.err.Error() }
func (e ioError) Unwrap() error { return e.err }

func (e ioError) Is(target error) bool {
	return target == ErrIO
}
