// Package window implements windowed transfer:
// moving a stream of items in bounded batches,
// with every step guarded by a timeout.
//
// It knows nothing about the transport.
// Callers supply a source and a send function (for Send)
// or a receive function (for Recv),
// which are typically thin wrappers around a gRPC stream.
package window

import (
	"context"
	stderrs "errors"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/hbs"
)

// Config declares the shape of a windowed transfer.
type Config struct {
	// Batch is the number of items moved per window step.
	Batch int

	// Timeout bounds each window step.
	// Zero means no bound.
	Timeout time.Duration
}

// Send drains src,
// handing its items to send in windows of cfg.Batch items.
// Each window must be fully sent within cfg.Timeout,
// otherwise Send fails with an error wrapping hbs.ErrTimeout.
//
// The src function calls its callback once per item, in order,
// and must stop and return the callback's error if it gets one.
//
// When a step times out, the goroutine running send may still be blocked.
// The caller must then abandon the underlying stream
// (e.g. by canceling its context)
// to release it.
func Send[T any](ctx context.Context, cfg Config, src func(func(T) error) error, send func(T) error) error {
	if cfg.Batch < 1 {
		cfg.Batch = 1
	}

	batch := make([]T, 0, cfg.Batch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		items := batch
		batch = make([]T, 0, cfg.Batch)
		return Step(ctx, cfg.Timeout, func() error {
			for _, item := range items {
				if err := send(item); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := src(func(item T) error {
		batch = append(batch, item)
		if len(batch) < cfg.Batch {
			return nil
		}
		return flush()
	})
	if err != nil {
		return err
	}
	return flush()
}

// Recv calls recv repeatedly,
// passing each item it produces to f,
// until recv reports io.EOF.
// Each call to recv must complete within timeout,
// otherwise Recv fails with an error wrapping hbs.ErrTimeout.
func Recv[T any](ctx context.Context, timeout time.Duration, recv func() (T, error), f func(T) error) error {
	for {
		var item T
		err := Step(ctx, timeout, func() error {
			var err error
			item, err = recv()
			return err
		})
		if stderrs.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err = f(item); err != nil {
			return err
		}
	}
}

// Step runs fn and waits for it for at most timeout.
// A non-positive timeout means wait indefinitely.
// If ctx is canceled first, Step returns ctx.Err().
func Step(ctx context.Context, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errors.Wrapf(hbs.ErrTimeout, "window step exceeded %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
