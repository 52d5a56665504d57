package rpc

import (
	"context"
	stderrs "errors"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bobg/hbs"
)

var kinds = []struct {
	err  error
	code codes.Code
}{
	{err: hbs.ErrNotFound, code: codes.NotFound},
	{err: hbs.ErrUnavailable, code: codes.Unavailable},
	{err: hbs.ErrTimeout, code: codes.DeadlineExceeded},
	{err: hbs.ErrNoBackend, code: codes.FailedPrecondition},
	{err: hbs.ErrTooLarge, code: codes.ResourceExhausted},
	{err: hbs.ErrIO, code: codes.Internal},
	{err: context.Canceled, code: codes.Canceled},
	{err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
}

// ToStatus converts an error to a gRPC status error for returning from a handler.
// Errors of the kinds defined in package hbs get a matching status code.
// Errors that already carry a status are returned unchanged.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, k := range kinds {
		if stderrs.Is(err, k.err) {
			return status.Error(k.code, err.Error())
		}
	}
	return status.Error(codes.Unknown, err.Error())
}

// Invalid produces an InvalidArgument status error.
func Invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// FromStatus converts an error returned by a gRPC call
// back into an error of the matching hbs kind,
// so that callers can test it with errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	var kind error
	switch s.Code() {
	case codes.NotFound:
		kind = hbs.ErrNotFound
	case codes.Unavailable:
		kind = hbs.ErrUnavailable
	case codes.DeadlineExceeded:
		kind = hbs.ErrTimeout
	case codes.FailedPrecondition:
		kind = hbs.ErrNoBackend
	case codes.ResourceExhausted:
		kind = hbs.ErrTooLarge
	case codes.Internal:
		kind = hbs.ErrIO
	case codes.Canceled:
		kind = context.Canceled
	default:
		return err
	}
	return errors.Wrap(kind, s.Message())
}
