package rpc

import (
	"context"

	"github.com/google/uuid"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/constants"
	"github.com/nimblerpc/core/internal/errutil"
	"github.com/nimblerpc/core/internal/log"
	"github.com/nimblerpc/core/internal/topic"
	"github.com/nimblerpc/core/pubsub"
)

// publisher holds the shared implementation details used by both the
// invoker (publishing requests) and the executor (publishing responses):
// building a wire message from a Message[T] and sending it at QoS 1.
type publisher[T any] struct {
	app      *Application
	client   pubsub.Client
	encoding Encoding[T]
	topic    *topic.Pattern
	log      log.Logger
	version  string
}

// wireMessage is the fully-resolved outbound publish, ready to hand to the
// pub/sub client.
type wireMessage struct {
	topic   string
	payload []byte
	opts    []pubsub.PublishOption
}

func (p *publisher[T]) build(msg *Message[T], topicTokens map[string]string, expirySeconds uint32) (*wireMessage, error) {
	out := &wireMessage{}

	if p.topic != nil {
		t, err := p.topic.Topic(topicTokens)
		if err != nil {
			return nil, err
		}
		out.topic = t
	}

	properties := pubsub.PublishOptions{}
	userProperties := map[string]string{}

	if msg != nil {
		data, err := serialize(p.encoding, msg.Payload)
		if err != nil {
			return nil, err
		}

		out.payload = data.Payload
		properties.ContentType = data.ContentType
		properties.PayloadFormat = data.PayloadFormat

		if msg.CorrelationData != "" {
			id, err := uuid.Parse(msg.CorrelationData)
			if err != nil {
				return nil, &errors.Error{
					Message: "correlation data is not a valid UUID",
					Kind:    errors.InternalLogicError,
				}
			}
			properties.CorrelationData = id[:]
		}

		if msg.Metadata != nil {
			for k, v := range msg.Metadata {
				userProperties[k] = v
			}
		}
	}

	ts, err := p.app.HLC()
	if err != nil {
		return nil, err
	}
	userProperties[constants.SourceID] = p.client.ID()
	userProperties[constants.Timestamp] = ts.String()
	userProperties[constants.ProtocolVersion] = p.version

	out.opts = []pubsub.PublishOption{
		pubsub.WithQoS(1),
		pubsub.WithMessageExpiry(expirySeconds),
		pubsub.WithContentType(properties.ContentType),
		pubsub.WithPayloadFormat(properties.PayloadFormat),
		pubsub.WithCorrelationData(properties.CorrelationData),
		pubsub.WithUserProperties(userProperties),
	}

	return out, nil
}

func (p *publisher[T]) publish(ctx context.Context, msg *wireMessage, extra ...pubsub.PublishOption) error {
	ack, err := p.client.Publish(ctx, msg.topic, msg.payload, append(msg.opts, extra...)...)
	return errutil.Pubsub(ctx, "publish", ack, err)
}
