package errutil

import (
	"context"
	"fmt"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/pubsub"
)

// Pubsub translates a pubsub client's ack/error return into a protocol
// error. An actual error indicates a client-library failure; a non-nil ack
// with a failure reason code indicates the broker rejected the request.
func Pubsub(ctx context.Context, msg string, ack *pubsub.Ack, err error) error {
	if ack != nil {
		if ack.ReasonCode >= 0x80 {
			return &errors.Error{
				Message: fmt.Sprintf(
					"%s error: %s (reason code 0x%x)", msg, ack.ReasonString, ack.ReasonCode,
				),
				Kind: errors.MqttError,
			}
		}
	} else if err == nil {
		return &errors.Error{
			Message: "pub/sub client returned a nil ack without an error",
			Kind:    errors.InternalLogicError,
		}
	}

	if ctxErr := Context(ctx, msg); ctxErr != nil {
		return ctxErr
	}
	return Normalize(err, msg)
}
