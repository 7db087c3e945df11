package pubsub

import "github.com/nimblerpc/core/internal/options"

type (
	// PublishOptions are the resolved publish options, and also the shape
	// used to represent a received message's envelope (MQTT 5 publish
	// properties).
	PublishOptions struct {
		ContentType     string
		CorrelationData []byte
		MessageExpiry   uint32
		PayloadFormat   byte
		QoS             byte
		ResponseTopic   string
		Retain          bool
		UserProperties  map[string]string
	}

	// PublishOption represents a single publish option.
	PublishOption interface{ publish(*PublishOptions) }

	// SubscribeOptions are the resolved subscribe options.
	SubscribeOptions struct {
		NoLocal        bool
		QoS            byte
		UserProperties map[string]string
	}

	// SubscribeOption represents a single subscribe option.
	SubscribeOption interface{ subscribe(*SubscribeOptions) }

	// UnsubscribeOptions are the resolved unsubscribe options.
	UnsubscribeOptions struct {
		UserProperties map[string]string
	}

	// UnsubscribeOption represents a single unsubscribe option.
	UnsubscribeOption interface{ unsubscribe(*UnsubscribeOptions) }

	// WithContentType sets the content type for a publish.
	WithContentType string

	// WithCorrelationData sets the correlation data for a publish.
	WithCorrelationData []byte

	// WithMessageExpiry sets the message-expiry interval, in seconds, for
	// a publish.
	WithMessageExpiry uint32

	// WithNoLocal sets the no-local flag for a subscription.
	WithNoLocal bool

	// WithPayloadFormat sets the payload-format indicator for a publish.
	WithPayloadFormat byte

	// WithQoS sets the QoS level for a publish or subscribe.
	WithQoS byte

	// WithResponseTopic sets the response topic for a publish.
	WithResponseTopic string

	// WithUserProperties sets user properties for a publish, subscribe, or
	// unsubscribe.
	WithUserProperties map[string]string
)

func (o WithContentType) publish(opt *PublishOptions)     { opt.ContentType = string(o) }
func (o WithCorrelationData) publish(opt *PublishOptions) { opt.CorrelationData = []byte(o) }
func (o WithMessageExpiry) publish(opt *PublishOptions)   { opt.MessageExpiry = uint32(o) }
func (o WithPayloadFormat) publish(opt *PublishOptions)   { opt.PayloadFormat = byte(o) }
func (o WithResponseTopic) publish(opt *PublishOptions)   { opt.ResponseTopic = string(o) }

func (o WithQoS) publish(opt *PublishOptions)   { opt.QoS = byte(o) }
func (o WithQoS) subscribe(opt *SubscribeOptions) { opt.QoS = byte(o) }

func (o WithNoLocal) subscribe(opt *SubscribeOptions) { opt.NoLocal = bool(o) }

func (o WithUserProperties) apply(user map[string]string) map[string]string {
	if user == nil {
		user = make(map[string]string, len(o))
	}
	for k, v := range o {
		user[k] = v
	}
	return user
}

func (o WithUserProperties) publish(opt *PublishOptions)       { opt.UserProperties = o.apply(opt.UserProperties) }
func (o WithUserProperties) subscribe(opt *SubscribeOptions)   { opt.UserProperties = o.apply(opt.UserProperties) }
func (o WithUserProperties) unsubscribe(opt *UnsubscribeOptions) {
	opt.UserProperties = o.apply(opt.UserProperties)
}

// Apply resolves the provided list of options.
func (o *PublishOptions) Apply(opts []PublishOption, rest ...PublishOption) {
	for opt := range options.Apply[PublishOption](opts, rest...) {
		opt.publish(o)
	}
}

// Apply resolves the provided list of options.
func (o *SubscribeOptions) Apply(opts []SubscribeOption, rest ...SubscribeOption) {
	for opt := range options.Apply[SubscribeOption](opts, rest...) {
		opt.subscribe(o)
	}
}

// Apply resolves the provided list of options.
func (o *UnsubscribeOptions) Apply(opts []UnsubscribeOption, rest ...UnsubscribeOption) {
	for opt := range options.Apply[UnsubscribeOption](opts, rest...) {
		opt.unsubscribe(o)
	}
}
