package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/constants"
	"github.com/nimblerpc/core/internal/container"
	"github.com/nimblerpc/core/internal/dispatch"
	"github.com/nimblerpc/core/internal/errutil"
	"github.com/nimblerpc/core/internal/log"
	"github.com/nimblerpc/core/internal/options"
	"github.com/nimblerpc/core/internal/topic"
	"github.com/nimblerpc/core/internal/version"
	"github.com/nimblerpc/core/internal/wallclock"
	"github.com/nimblerpc/core/pubsub"
)

type (
	// CommandInvoker sends requests for a single named command and
	// correlates their responses (spec.md §4.2).
	CommandInvoker[Req, Res any] struct {
		name          string
		publisher     *publisher[Req]
		listener      *listener[Res]
		responseTopic *topic.Pattern
		dispatch      *dispatch.Handle

		pending container.SyncMap[string, commandPending[Res]]
	}

	// CommandInvokerOption represents a single command invoker option.
	CommandInvokerOption interface{ commandInvoker(*CommandInvokerOptions) }

	// CommandInvokerOptions are the resolved command invoker options.
	CommandInvokerOptions struct {
		ResponseTopicPattern string
		ResponseTopicPrefix  string
		ResponseTopicSuffix  string

		TopicNamespace string
		TopicTokens    map[string]string
		Logger         log.Logger
	}

	// InvokeOption represents a single per-invoke option.
	InvokeOption interface{ invoke(*InvokeOptions) }

	// InvokeOptions are the resolved per-invoke options.
	InvokeOptions struct {
		Timeout     time.Duration
		TopicTokens map[string]string
		Metadata    map[string]string
	}

	// WithResponseTopicPattern specifies a custom response topic pattern,
	// overriding any configured prefix/suffix.
	WithResponseTopicPattern string

	// WithResponseTopicPrefix specifies a custom prefix for the response
	// topic. Applies only when no full pattern is configured; defaults to
	// "clients/<client id>" if neither a prefix nor a suffix is given.
	WithResponseTopicPrefix string

	// WithResponseTopicSuffix specifies a custom suffix for the response
	// topic.
	WithResponseTopicSuffix string

	commandReturn[Res any] struct {
		res *CommandResponse[Res]
		err error
	}

	commandPending[Res any] struct {
		ret  chan<- commandReturn[Res]
		done <-chan struct{}
	}
)

// DefaultTimeout is applied to Invoke when no WithTimeout option is given.
const DefaultTimeout = 10 * time.Second

const invokerErrText = "command invocation"

// NewCommandInvoker creates a new command invoker for requestTopicPattern.
func NewCommandInvoker[Req, Res any](
	app *Application,
	client pubsub.Client,
	requestEncoding Encoding[Req],
	responseEncoding Encoding[Res],
	requestTopicPattern string,
	opt ...CommandInvokerOption,
) (*CommandInvoker[Req, Res], error) {
	var opts CommandInvokerOptions
	opts.Apply(opt)
	logger := opts.Logger
	if logger == (log.Logger{}) {
		logger = app.log
	}

	if client == nil || requestEncoding == nil || responseEncoding == nil {
		return nil, &errors.Error{
			Message: "client and encodings must be non-nil",
			Kind:    errors.ConfigurationInvalid,
		}
	}

	responseTopicPattern := opts.ResponseTopicPattern
	if responseTopicPattern == "" {
		responseTopicPattern = requestTopicPattern

		if opts.ResponseTopicPrefix != "" {
			if err := topic.ValidateComponent("responseTopicPrefix", "invalid response topic prefix", opts.ResponseTopicPrefix); err != nil {
				return nil, err
			}
			responseTopicPattern = opts.ResponseTopicPrefix + "/" + responseTopicPattern
		}
		if opts.ResponseTopicSuffix != "" {
			if err := topic.ValidateComponent("responseTopicSuffix", "invalid response topic suffix", opts.ResponseTopicSuffix); err != nil {
				return nil, err
			}
			responseTopicPattern = responseTopicPattern + "/" + opts.ResponseTopicSuffix
		}

		// Per spec.md §9's resolved Open Question: default to a namespace
		// under the client id when nothing else is configured, rather than
		// requiring an explicit prefix/suffix.
		if opts.ResponseTopicPrefix == "" && opts.ResponseTopicSuffix == "" {
			responseTopicPattern = "clients/" + client.ID() + "/" + requestTopicPattern
		}
	}

	reqPattern, err := topic.NewPattern("requestTopicPattern", requestTopicPattern, opts.TopicTokens, opts.TopicNamespace)
	if err != nil {
		return nil, err
	}
	resPattern, err := topic.NewPattern("responseTopicPattern", responseTopicPattern, opts.TopicTokens, opts.TopicNamespace)
	if err != nil {
		return nil, err
	}
	resFilter, err := resPattern.Filter()
	if err != nil {
		return nil, err
	}

	ci := &CommandInvoker[Req, Res]{
		name:          requestTopicPattern,
		responseTopic: resPattern,
		dispatch:      app.dispatch.Get(client.ID(), 0),
		pending:       container.NewSyncMap[string, commandPending[Res]](),
	}
	ci.publisher = &publisher[Req]{
		app:      app,
		client:   client,
		encoding: requestEncoding,
		version:  version.RPC,
		topic:    reqPattern,
		log:      logger,
	}
	ci.listener = &listener[Res]{
		client:         client,
		encoding:       responseEncoding,
		filter:         resFilter,
		filterString:   resFilter.String(),
		reqCorrelation: true,
		isResponse:     true,
		log:            logger,
		handle:         ci.dispatch,
		handler:        ci,
	}

	if err := ci.listener.register(); err != nil {
		ci.dispatch.Release()
		return nil, err
	}
	return ci, nil
}

// Invoke calls the command and blocks until the response arrives, the
// timeout elapses, or ctx is cancelled.
func (ci *CommandInvoker[Req, Res]) Invoke(ctx context.Context, req Req, opt ...InvokeOption) (*CommandResponse[Res], error) {
	var opts InvokeOptions
	opts.Apply(opt)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < time.Second {
		return nil, &errors.Error{
			Message:      "timeout must be at least one second",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "Timeout",
		}
	}
	expirySeconds := uint32(timeout.Round(time.Second) / time.Second)

	correlationData := uuid.NewString()

	msg := &Message[Req]{CorrelationData: correlationData, Payload: req, Metadata: opts.Metadata}
	pub, err := ci.publisher.build(msg, opts.TopicTokens, expirySeconds)
	if err != nil {
		return nil, err
	}

	responseTopic, err := ci.responseTopic.Topic(opts.TopicTokens)
	if err != nil {
		return nil, err
	}
	pub.opts = append(pub.opts,
		pubsub.WithResponseTopic(responseTopic),
		pubsub.WithUserProperties(map[string]string{constants.Partition: ci.publisher.client.ID()}),
	)

	listen, done := ci.initPending(correlationData)
	defer done()

	if err := ci.publisher.publish(ctx, pub); err != nil {
		return nil, err
	}
	ci.listener.log.Debug(ctx, "request sent", slog.String("correlation_data", correlationData))

	waitCtx, cancel := wallclock.Instance.WithTimeoutCause(ctx, timeout, &errors.Error{
		Message:      "command invocation timed out",
		Kind:         errors.Timeout,
		TimeoutName:  "Timeout",
		TimeoutValue: timeout,
	})
	defer cancel()

	select {
	case ret := <-listen:
		return ret.res, ret.err
	case <-waitCtx.Done():
		return nil, errutil.Context(waitCtx, invokerErrText)
	}
}

// Start subscribes to the response-topic filter. Must be called before any
// Invoke calls; Invoke does not subscribe on its own.
func (ci *CommandInvoker[Req, Res]) Start(ctx context.Context) error {
	return ci.listener.Start(ctx)
}

// Close unsubscribes, fails all pending invocations with cancellation, and
// releases the invoker's dispatch handle.
func (ci *CommandInvoker[Req, Res]) Close() {
	ci.listener.Close()

	var pending []commandPending[Res]
	ci.pending.Range(func(_ string, p commandPending[Res]) bool {
		pending = append(pending, p)
		return true
	})
	closed := &errors.Error{Message: "command invoker closed", Kind: errors.Cancellation}
	for _, p := range pending {
		select {
		case p.ret <- commandReturn[Res]{err: closed}:
		case <-p.done:
		}
	}
}

func (ci *CommandInvoker[Req, Res]) onMsg(ctx context.Context, pub *pubsub.Message, msg *Message[Res]) error {
	var res *CommandResponse[Res]
	err := errutil.ParseStatus(pub.UserProperties, ci.name, msg.CorrelationData)
	if err == nil {
		res = &CommandResponse[Res]{Message: *msg}
	}
	ci.sendPending(ctx, pub, res, err)
	return nil
}

func (ci *CommandInvoker[Req, Res]) onErr(ctx context.Context, pub *pubsub.Message, err error) error {
	ci.sendPending(ctx, pub, nil, err)
	return nil
}

func (ci *CommandInvoker[Req, Res]) initPending(correlation string) (<-chan commandReturn[Res], func()) {
	ret := make(chan commandReturn[Res])
	done := make(chan struct{})
	ci.pending.Set(correlation, commandPending[Res]{ret, done})
	return ret, func() {
		ci.pending.Del(correlation)
		close(done)
	}
}

// sendPending delivers a result to the matching pending invocation and acks
// the response. A response whose correlation is unknown to this invoker is
// dropped silently (spec.md §8 scenario 6): it isn't ours.
func (ci *CommandInvoker[Req, Res]) sendPending(ctx context.Context, pub *pubsub.Message, res *CommandResponse[Res], err error) {
	defer ci.ackAndLog(ctx, pub)

	id, uerr := uuid.FromBytes(pub.CorrelationData)
	if uerr != nil {
		ci.listener.log.Debug(ctx, "response correlation data is not a valid UUID")
		return
	}
	cdata := id.String()

	pending, ok := ci.pending.Get(cdata)
	if !ok {
		ci.listener.log.Debug(ctx, "response not for this invoker", slog.String("correlation_data", cdata))
		return
	}

	select {
	case pending.ret <- commandReturn[Res]{res, err}:
	case <-pending.done:
	case <-ctx.Done():
	}
}

func (ci *CommandInvoker[Req, Res]) ackAndLog(ctx context.Context, pub *pubsub.Message) {
	if pub.Ack != nil {
		if err := pub.Ack(); err != nil {
			ci.listener.log.Err(ctx, err)
		}
	}
}

// Apply resolves the provided list of options.
func (o *CommandInvokerOptions) Apply(opts []CommandInvokerOption, rest ...CommandInvokerOption) {
	for opt := range options.Apply[CommandInvokerOption](opts, rest...) {
		opt.commandInvoker(o)
	}
}

func (o WithResponseTopicPattern) commandInvoker(opt *CommandInvokerOptions) {
	opt.ResponseTopicPattern = string(o)
}
func (WithResponseTopicPattern) option() {}

func (o WithResponseTopicPrefix) commandInvoker(opt *CommandInvokerOptions) {
	opt.ResponseTopicPrefix = string(o)
}
func (WithResponseTopicPrefix) option() {}

func (o WithResponseTopicSuffix) commandInvoker(opt *CommandInvokerOptions) {
	opt.ResponseTopicSuffix = string(o)
}
func (WithResponseTopicSuffix) option() {}

// Apply resolves the provided list of options.
func (o *InvokeOptions) Apply(opts []InvokeOption, rest ...InvokeOption) {
	for opt := range options.Apply[InvokeOption](opts, rest...) {
		opt.invoke(o)
	}
}
