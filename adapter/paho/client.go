// Package paho is a reference pubsub.Client implementation wrapping
// github.com/eclipse/paho.golang, used by the integration test and the
// cmd/greeter sample to prove the core is exercisable against a real MQTT 5
// client. It is not a production session client: it dials once and does not
// reconnect, retry, or persist session state across connections.
package paho

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session/state"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/log"
	"github.com/nimblerpc/core/pubsub"
)

type (
	// Client is a single-connection pubsub.Client backed by *paho.Client.
	Client struct {
		clientID string
		conn     *paho.Client
		log      log.Logger

		mu       sync.RWMutex
		handlers map[int]pubsub.MessageHandler
		nextID   int
	}

	// DialOption configures Dial.
	DialOption interface{ dial(*dialOptions) }

	dialOptions struct {
		clientID  string
		tlsConfig *tls.Config
		keepAlive uint16
		logger    log.Logger
	}

	// WithClientID sets the MQTT client identifier. Required.
	WithClientID string

	// WithTLSConfig dials over TLS using the given configuration instead
	// of a plain TCP connection.
	WithTLSConfig struct{ Config *tls.Config }

	// WithKeepAlive sets the MQTT keep-alive interval, in seconds.
	WithKeepAlive uint16

	// WithLogger attaches a logger to the client.
	WithLogger struct{ log.Logger }
)

func (o WithClientID) dial(opt *dialOptions)  { opt.clientID = string(o) }
func (o WithTLSConfig) dial(opt *dialOptions) { opt.tlsConfig = o.Config }
func (o WithKeepAlive) dial(opt *dialOptions) { opt.keepAlive = uint16(o) }
func (o WithLogger) dial(opt *dialOptions)    { opt.logger = o.Logger }

// Dial opens a connection to address ("host:port") and completes the MQTT
// CONNECT handshake, returning a ready-to-use Client.
func Dial(ctx context.Context, address string, opt ...DialOption) (*Client, error) {
	var opts dialOptions
	for _, o := range opt {
		o.dial(&opts)
	}
	if opts.clientID == "" {
		return nil, &errors.Error{
			Message: "paho client requires WithClientID",
			Kind:    errors.ConfigurationInvalid,
		}
	}

	conn, err := dialConn(ctx, address, opts.tlsConfig)
	if err != nil {
		return nil, &errors.Error{
			Message:     "error opening MQTT connection",
			Kind:        errors.MqttError,
			NestedError: err,
		}
	}

	c := &Client{
		clientID: opts.clientID,
		log:      opts.logger,
		handlers: make(map[int]pubsub.MessageHandler),
	}

	c.conn = paho.NewClient(paho.ClientConfig{
		ClientID:          opts.clientID,
		Conn:              conn,
		Session:           state.NewInMemory(),
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){c.onPublishReceived},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.log.Warn(ctx, &errors.Error{
				Message: "MQTT server disconnected the client",
				Kind:    errors.MqttError,
				PropertyValue: d.ReasonCode,
			})
		},
	})

	connack, err := c.conn.Connect(ctx, &paho.Connect{
		ClientID:   opts.clientID,
		CleanStart: true,
		KeepAlive:  opts.keepAlive,
	})
	if err != nil {
		return nil, &errors.Error{Message: "MQTT connect failed", Kind: errors.MqttError, NestedError: err}
	}
	if connack.ReasonCode >= 0x80 {
		return nil, &errors.Error{
			Message: "MQTT broker rejected connection: " + connack.Properties.ReasonString,
			Kind:    errors.MqttError,
		}
	}

	return c, nil
}

func dialConn(ctx context.Context, address string, tlsConfig *tls.Config) (net.Conn, error) {
	if tlsConfig != nil {
		d := tls.Dialer{Config: tlsConfig}
		return d.DialContext(ctx, "tcp", address)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

// ID returns the MQTT client identifier.
func (c *Client) ID() string { return c.clientID }

// Close sends a normal MQTT DISCONNECT and closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Disconnect(&paho.Disconnect{ReasonCode: 0x00})
}

// Publish sends a PUBLISH packet.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, opt ...pubsub.PublishOption) (*pubsub.Ack, error) {
	var o pubsub.PublishOptions
	o.Apply(opt)

	props := &paho.PublishProperties{
		ContentType:     o.ContentType,
		CorrelationData: o.CorrelationData,
		ResponseTopic:   o.ResponseTopic,
		User:            mapToUserProperties(o.UserProperties),
	}
	if o.PayloadFormat != 0 {
		pf := o.PayloadFormat
		props.PayloadFormat = &pf
	}
	if o.MessageExpiry > 0 {
		me := o.MessageExpiry
		props.MessageExpiry = &me
	}

	res, err := c.conn.Publish(ctx, &paho.Publish{
		QoS:        o.QoS,
		Retain:     o.Retain,
		Topic:      topic,
		Payload:    payload,
		Properties: props,
	})
	if err != nil {
		return nil, &errors.Error{Message: "MQTT publish failed", Kind: errors.MqttError, NestedError: err}
	}
	if res == nil {
		// QoS 0 publishes have no PUBACK.
		return &pubsub.Ack{}, nil
	}
	return &pubsub.Ack{
		ReasonCode:     res.ReasonCode,
		ReasonString:   reasonString(res.Properties),
		UserProperties: userPropertiesToMap(userPropsOf(res.Properties)),
	}, nil
}

// Subscribe installs a SUBSCRIBE for filter.
func (c *Client) Subscribe(ctx context.Context, filter string, opt ...pubsub.SubscribeOption) (*pubsub.Ack, error) {
	var o pubsub.SubscribeOptions
	o.Apply(opt)

	sub := &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic:   filter,
			QoS:     o.QoS,
			NoLocal: o.NoLocal,
		}},
	}
	if len(o.UserProperties) > 0 {
		sub.Properties = &paho.SubscribeProperties{User: mapToUserProperties(o.UserProperties)}
	}

	suback, err := c.conn.Subscribe(ctx, sub)
	if err != nil {
		return nil, &errors.Error{Message: "MQTT subscribe failed", Kind: errors.MqttError, NestedError: err}
	}
	return &pubsub.Ack{
		ReasonCode:     suback.Reasons[0],
		ReasonString:   suback.Properties.ReasonString,
		UserProperties: userPropertiesToMap(suback.Properties.User),
	}, nil
}

// Unsubscribe removes a subscription on filter.
func (c *Client) Unsubscribe(ctx context.Context, filter string, opt ...pubsub.UnsubscribeOption) (*pubsub.Ack, error) {
	var o pubsub.UnsubscribeOptions
	o.Apply(opt)

	unsub := &paho.Unsubscribe{Topics: []string{filter}}
	if len(o.UserProperties) > 0 {
		unsub.Properties = &paho.UnsubscribeProperties{User: mapToUserProperties(o.UserProperties)}
	}

	unsuback, err := c.conn.Unsubscribe(ctx, unsub)
	if err != nil {
		return nil, &errors.Error{Message: "MQTT unsubscribe failed", Kind: errors.MqttError, NestedError: err}
	}
	return &pubsub.Ack{
		ReasonCode:     unsuback.Reasons[0],
		ReasonString:   unsuback.Properties.ReasonString,
		UserProperties: userPropertiesToMap(unsuback.Properties.User),
	}, nil
}

// RegisterMessageHandler adds a callback invoked for every PUBLISH the
// client receives. The returned function deregisters it.
func (c *Client) RegisterMessageHandler(handler pubsub.MessageHandler) (deregister func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// onPublishReceived is paho's single incoming-publish callback. It fans the
// packet out to every registered handler; the message's Ack function sends
// the acknowledgment for QoS > 0 the first time a handler calls it, and the
// callback itself does not ack.
func (c *Client) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	packet := pr.Packet
	msg := &pubsub.Message{
		Topic:   packet.Topic,
		Payload: packet.Payload,
		PublishOptions: pubsub.PublishOptions{
			ContentType:     packet.Properties.ContentType,
			CorrelationData: packet.Properties.CorrelationData,
			QoS:             packet.QoS,
			Retain:          packet.Retain,
			ResponseTopic:   packet.Properties.ResponseTopic,
			UserProperties:  userPropertiesToMap(packet.Properties.User),
		},
	}
	if packet.Properties.MessageExpiry != nil {
		msg.MessageExpiry = *packet.Properties.MessageExpiry
	}
	if packet.Properties.PayloadFormat != nil {
		msg.PayloadFormat = *packet.Properties.PayloadFormat
	}

	var acked sync.Once
	msg.Ack = func() error {
		var err error
		acked.Do(func() {
			if packet.QoS > 0 {
				err = c.conn.Ack(packet)
			}
		})
		return err
	}

	ctx := context.Background()
	c.mu.RLock()
	handlers := make([]pubsub.MessageHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, msg)
	}

	return true, nil
}

func mapToUserProperties(m map[string]string) paho.UserProperties {
	ups := make(paho.UserProperties, 0, len(m))
	for k, v := range m {
		ups = append(ups, paho.UserProperty{Key: k, Value: v})
	}
	return ups
}

func userPropertiesToMap(ups paho.UserProperties) map[string]string {
	m := make(map[string]string, len(ups))
	for _, p := range ups {
		m[p.Key] = p.Value
	}
	return m
}

func userPropsOf(props *paho.PublishResponseProperties) paho.UserProperties {
	if props == nil {
		return nil
	}
	return props.User
}

func reasonString(props *paho.PublishResponseProperties) string {
	if props == nil {
		return ""
	}
	return props.ReasonString
}
