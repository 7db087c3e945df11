package rpc

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/hlc"
	"github.com/nimblerpc/core/internal/constants"
	"github.com/nimblerpc/core/internal/dispatch"
	"github.com/nimblerpc/core/internal/errutil"
	"github.com/nimblerpc/core/internal/log"
	"github.com/nimblerpc/core/internal/topic"
	"github.com/nimblerpc/core/internal/version"
	"github.com/nimblerpc/core/pubsub"
)

type (
	// Listener is anything the root package runs to drive incoming
	// messages off a subscription: a CommandInvoker's response listener
	// or a CommandExecutor's request listener.
	Listener interface {
		Start(context.Context) error
		Close()
	}

	// Listeners is a group of listeners managed together.
	Listeners []Listener

	// listener holds the implementation shared by the invoker's
	// response-side subscription and the executor's request-side
	// subscription: envelope validation, payload decode, and handing off
	// to the owner's bounded-concurrency dispatch pool.
	listener[T any] struct {
		client         pubsub.Client
		encoding       Encoding[T]
		filter         *topic.Filter
		filterString   string
		shareName      string
		reqCorrelation bool
		isResponse     bool
		log            log.Logger
		handle         *dispatch.Handle
		handler        interface {
			onMsg(context.Context, *pubsub.Message, *Message[T]) error
			onErr(context.Context, *pubsub.Message, error) error
		}

		deregister func()
		active     atomic.Bool
	}
)

func (l *listener[T]) register() error {
	l.deregister = l.client.RegisterMessageHandler(func(ctx context.Context, msg *pubsub.Message) {
		if !l.matches(msg.Topic) {
			return
		}
		l.handle.Submit(ctx, func() { l.process(ctx, msg) }, func() {})
	})
	return nil
}

func (l *listener[T]) matches(topicName string) bool {
	_, ok := l.filter.Tokens(topicName)
	return ok
}

// Start subscribes to the listener's topic filter. It is idempotent.
func (l *listener[T]) Start(ctx context.Context) error {
	if !l.active.CompareAndSwap(false, true) {
		return nil
	}

	filter := l.filterString
	if l.shareName != "" {
		filter = "$share/" + l.shareName + "/" + filter
	}

	ack, err := l.client.Subscribe(
		ctx, filter,
		pubsub.WithQoS(1),
		pubsub.WithNoLocal(l.shareName == ""),
	)
	if err != nil || (ack != nil && ack.ReasonCode >= 0x80) {
		l.active.Store(false)
		return errutil.Pubsub(ctx, "subscribe", ack, err)
	}
	return nil
}

// Close unsubscribes and releases the listener's dispatch handle.
func (l *listener[T]) Close() {
	if l.active.CompareAndSwap(true, false) {
		filter := l.filterString
		if l.shareName != "" {
			filter = "$share/" + l.shareName + "/" + filter
		}
		if _, err := l.client.Unsubscribe(context.Background(), filter); err != nil {
			l.log.Err(context.Background(), err)
		}
	}
	if l.deregister != nil {
		l.deregister()
	}
	l.handle.Release()
}

func (l *listener[T]) process(ctx context.Context, pub *pubsub.Message) {
	msg := &Message[T]{}

	// The version must be checked first: nothing else is trustworthy if
	// we can't agree on the envelope format. Only a response may omit the
	// header and default to 1.0; a request missing a parseable version is
	// rejected outright.
	ver := pub.UserProperties[constants.ProtocolVersion]
	if !l.isResponse && ver == "" {
		l.error(ctx, pub, &errors.Error{
			Message:                        "protocol version missing",
			Kind:                           errors.UnsupportedRequestVersion,
			SupportedMajorProtocolVersions: version.RPCSupported,
		})
		return
	}
	if !version.IsSupported(version.RPCSupported, ver) {
		kind := errors.UnsupportedRequestVersion
		if l.isResponse {
			kind = errors.UnsupportedResponseVersion
		}
		l.error(ctx, pub, &errors.Error{
			Message:                        "unsupported protocol version",
			Kind:                           kind,
			ProtocolVersion:                ver,
			SupportedMajorProtocolVersions: version.RPCSupported,
		})
		return
	}

	if l.reqCorrelation && len(pub.CorrelationData) == 0 {
		l.error(ctx, pub, &errors.Error{
			Message:    "correlation data missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.CorrelationData,
		})
		return
	}
	if len(pub.CorrelationData) != 0 {
		id, err := uuid.FromBytes(pub.CorrelationData)
		if err != nil {
			l.error(ctx, pub, &errors.Error{
				Message:    "correlation data is not a valid UUID",
				Kind:       errors.HeaderInvalid,
				HeaderName: constants.CorrelationData,
			})
			return
		}
		msg.CorrelationData = id.String()
	}

	if ts := pub.UserProperties[constants.Timestamp]; ts != "" {
		parsed, err := hlc.Parse(constants.Timestamp, ts)
		if err != nil {
			l.error(ctx, pub, err)
			return
		}
		msg.Timestamp = parsed
	}
	msg.ClientID = pub.UserProperties[constants.SourceID]

	metadata, fencingToken, err := errutil.PropToMetadata(pub.UserProperties)
	if err != nil {
		l.error(ctx, pub, err)
		return
	}
	msg.Metadata = metadata
	msg.FencingToken = fencingToken
	msg.TopicTokens, _ = l.filter.Tokens(pub.Topic)

	payload, err := deserialize(l.encoding, &Data{
		Payload:       pub.Payload,
		ContentType:   pub.ContentType,
		PayloadFormat: pub.PayloadFormat,
	})
	if err != nil {
		l.error(ctx, pub, err)
		return
	}
	msg.Payload = payload
	msg.Data = &Data{Payload: pub.Payload, ContentType: pub.ContentType, PayloadFormat: pub.PayloadFormat}

	if err := l.handler.onMsg(ctx, pub, msg); err != nil {
		l.error(ctx, pub, err)
	}
}

func (l *listener[T]) error(ctx context.Context, pub *pubsub.Message, err error) {
	if e := l.handler.onErr(ctx, pub, err); e != nil {
		l.log.Err(ctx, e)
	}
}

func (l *listener[T]) ack(ctx context.Context, pub *pubsub.Message) {
	if pub.Ack == nil {
		return
	}
	if err := pub.Ack(); err != nil {
		l.log.Err(ctx, err)
	}
}

// Start starts every listener in the group.
func (ls Listeners) Start(ctx context.Context) error {
	for _, l := range ls {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every listener in the group.
func (ls Listeners) Close() {
	for _, l := range ls {
		l.Close()
	}
}
