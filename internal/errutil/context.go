// Package errutil centralizes the translation between Go's context/error
// idioms and the structured *errors.Error the core returns everywhere.
package errutil

import (
	"context"
	stderr "errors"
	"fmt"
	"os"

	"github.com/nimblerpc/core/errors"
)

// normalize turns a well-known Go error into a protocol error. cause
// indicates the error came from context.Cause, in which case an
// unrecognized error is returned as-is (it's either already a protocol
// error or a caller-supplied parent-context error that should be
// respected verbatim).
func normalize(err error, msg string, cause bool) error {
	if e, ok := err.(*errors.Error); ok {
		return e
	}

	switch {
	case err == nil:
		return nil

	case os.IsTimeout(err), stderr.Is(err, context.DeadlineExceeded):
		return &errors.Error{
			Message: fmt.Sprintf("%s timed out", msg),
			Kind:    errors.Timeout,
		}

	case stderr.Is(err, context.Canceled):
		return &errors.Error{
			Message: fmt.Sprintf("%s cancelled", msg),
			Kind:    errors.Cancellation,
		}

	default:
		if cause {
			return err
		}
		return &errors.Error{
			Message:     fmt.Sprintf("%s error: %s", msg, err.Error()),
			Kind:        errors.UnknownError,
			NestedError: err,
		}
	}
}

// Normalize maps a well-known Go error onto a protocol error.
func Normalize(err error, msg string) error {
	return normalize(err, msg, false)
}

// Context extracts the timeout or cancellation error from ctx, if any.
func Context(ctx context.Context, msg string) error {
	return normalize(context.Cause(ctx), msg, true)
}
