// Package pubsub defines the external-collaborator port the RPC core needs
// from the underlying publish/subscribe bus (spec.md §6). The core never
// depends on a concrete MQTT client; it depends only on this interface, so
// any conforming implementation (a real broker client, a test stub, or an
// in-memory fake) can drive the invoker and executor.
package pubsub

import "context"

type (
	// Client is the minimal surface the core needs from a connected pub/sub
	// client. Connect/keep-alive/reconnect mechanics are the client's own
	// concern and are not part of this port.
	Client interface {
		// ID returns the client identifier used to build default response
		// topics and partition headers.
		ID() string

		// Publish sends payload to topic at least once, applying opts.
		Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) (*Ack, error)

		// Subscribe installs or updates a subscription on filter.
		Subscribe(ctx context.Context, filter string, opts ...SubscribeOption) (*Ack, error)

		// Unsubscribe removes a subscription on filter.
		Unsubscribe(ctx context.Context, filter string, opts ...UnsubscribeOption) (*Ack, error)

		// RegisterMessageHandler adds a callback invoked for every message
		// the client delivers, regardless of which filter matched it; the
		// core is responsible for filtering by topic itself. The returned
		// function deregisters the handler.
		RegisterMessageHandler(MessageHandler) (deregister func())
	}

	// Message is a received publish, with manual acknowledgment deferred
	// to the caller.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions

		// Ack acknowledges the message. It is a no-op if the underlying
		// QoS does not require acknowledgment. Handlers must call this
		// exactly once per message.
		Ack func() error
	}

	// MessageHandler is invoked for every message received by the client.
	MessageHandler = func(context.Context, *Message)

	// Ack carries the reason code/string and any user properties returned
	// by the broker for a PUBACK/SUBACK/UNSUBACK.
	Ack struct {
		ReasonCode     byte
		ReasonString   string
		UserProperties map[string]string
	}
)
