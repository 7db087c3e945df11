package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/caching"
	"github.com/nimblerpc/core/internal/constants"
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
	// CommandExecutor receives requests for a single named command, runs
	// handler at most once per distinct request, and publishes the result
	// to the caller's response topic (spec.md §4.3).
	CommandExecutor[Req, Res any] struct {
		name       string
		listener   *listener[Req]
		publisher  *publisher[Res]
		dispatch   *dispatch.Handle
		handler    CommandHandler[Req, Res]
		cache      *caching.Cache[*wireMessage]
		idempotent bool
		cacheTTL   time.Duration
		timeout    time.Duration
		log        log.Logger
	}

	// CommandHandler processes a single command request and returns its
	// response, or an error to report back to the invoker.
	CommandHandler[Req, Res any] func(context.Context, *CommandRequest[Req]) (*CommandResponse[Res], error)

	// CommandRequest is the decoded request handed to a CommandHandler.
	CommandRequest[Req any] struct {
		Message[Req]
	}

	// CommandResponse is the decoded response returned by a CommandHandler.
	CommandResponse[Res any] struct {
		Message[Res]
	}

	// CommandExecutorOption represents a single command executor option.
	CommandExecutorOption interface{ commandExecutor(*CommandExecutorOptions) }

	// CommandExecutorOptions are the resolved command executor options.
	CommandExecutorOptions struct {
		Idempotent bool
		CacheTTL   time.Duration

		Concurrency uint
		Timeout     time.Duration
		ShareName   string

		TopicNamespace string
		TopicTokens    map[string]string
		Logger         log.Logger
	}

	// RespondOption represents a single option to Respond.
	RespondOption interface{ respond(*RespondOptions) }

	// RespondOptions are the resolved options to Respond.
	RespondOptions struct {
		Metadata map[string]string
	}
)

const executorErrText = "command handler"

// NewCommandExecutor creates a new command executor for requestTopicPattern,
// invoking handler for every distinct incoming request.
func NewCommandExecutor[Req, Res any](
	app *Application,
	client pubsub.Client,
	requestEncoding Encoding[Req],
	responseEncoding Encoding[Res],
	requestTopicPattern string,
	handler CommandHandler[Req, Res],
	opt ...CommandExecutorOption,
) (*CommandExecutor[Req, Res], error) {
	var opts CommandExecutorOptions
	opts.Apply(opt)
	logger := opts.Logger
	if logger == (log.Logger{}) {
		logger = app.log
	}

	if client == nil || requestEncoding == nil || responseEncoding == nil || handler == nil {
		return nil, &errors.Error{
			Message: "client, encodings, and handler must be non-nil",
			Kind:    errors.ConfigurationInvalid,
		}
	}
	if err := topic.ValidateShareName(opts.ShareName); err != nil {
		return nil, err
	}
	if opts.Idempotent && opts.CacheTTL == 0 {
		return nil, &errors.Error{
			Message:      "an idempotent executor must set a cache TTL",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "CacheTTL",
		}
	}

	reqPattern, err := topic.NewPattern("requestTopicPattern", requestTopicPattern, opts.TopicTokens, opts.TopicNamespace)
	if err != nil {
		return nil, err
	}
	reqFilter, err := reqPattern.Filter()
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	cache := caching.New[*wireMessage](nil, caching.Config{})
	cache.Start()

	ex := &CommandExecutor[Req, Res]{
		name:       requestTopicPattern,
		dispatch:   app.dispatch.Get(client.ID(), opts.Concurrency),
		cache:      cache,
		idempotent: opts.Idempotent,
		cacheTTL:   opts.CacheTTL,
		timeout:    timeout,
		log:        logger,
	}
	ex.handler = handler
	ex.publisher = &publisher[Res]{
		app:      app,
		client:   client,
		encoding: responseEncoding,
		version:  version.RPC,
		topic:    nil, // the response topic comes from the request, not a pattern
		log:      logger,
	}
	ex.listener = &listener[Req]{
		client:         client,
		encoding:       requestEncoding,
		filter:         reqFilter,
		filterString:   reqFilter.String(),
		shareName:      opts.ShareName,
		reqCorrelation: true,
		log:            logger,
		handle:         ex.dispatch,
		handler:        ex,
	}

	if err := ex.listener.register(); err != nil {
		ex.dispatch.Release()
		cache.Stop()
		return nil, err
	}
	logger.Debug(context.Background(), "command executor registered", slog.String("command", ex.name))
	return ex, nil
}

// Start subscribes to the request-topic filter.
func (ex *CommandExecutor[Req, Res]) Start(ctx context.Context) error {
	return ex.listener.Start(ctx)
}

// Close unsubscribes, stops the response cache, and releases the
// executor's dispatch handle.
func (ex *CommandExecutor[Req, Res]) Close() {
	ex.listener.Close()
	ex.cache.Stop()
}

// onMsg implements the executor's receipt pipeline (spec.md §4.3): response
// topic validation, message-expiry-bounded cache lookup/insert, handler
// dispatch with a panic-safe deadline, response construction, caching, and
// acknowledgment.
func (ex *CommandExecutor[Req, Res]) onMsg(ctx context.Context, pub *pubsub.Message, msg *Message[Req]) error {
	defer ex.listener.ack(ctx, pub)

	if ex.ignoreRequest(ctx, pub) {
		return nil
	}

	if pub.MessageExpiry == 0 {
		out, err := ex.build(nil, &errors.Error{
			Message:    "message expiry missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.MessageExpiry,
		}, msg.CorrelationData, pub.ResponseTopic, 0)
		if err != nil {
			ex.log.Err(ctx, err)
			return nil
		}
		return ex.publisher.publish(ctx, out)
	}

	now := time.Now().UTC()
	messageExpiry := time.Duration(pub.MessageExpiry) * time.Second
	commandTimeout := min(messageExpiry, ex.timeout)
	commandExpiration := now.Add(commandTimeout)

	retention := ex.cacheTTL
	if retention < commandTimeout {
		retention = commandTimeout
	}
	cacheExpiration := now.Add(retention)

	future, hit, err := ex.cache.Retrieve(
		pub.ResponseTopic, msg.CorrelationData, pub.Payload, ex.idempotent, ex.idempotent,
	)
	if err != nil {
		ex.log.Err(ctx, err)
		return nil
	}

	var out *wireMessage
	if hit {
		waitCtx, cancel := wallclock.Instance.WithTimeoutCause(ctx, commandTimeout, &errors.Error{
			Message:      "waiting for in-flight duplicate request timed out",
			Kind:         errors.Timeout,
			TimeoutName:  "ExecutionTimeout",
			TimeoutValue: ex.timeout,
		})
		defer cancel()
		out, err = future.Wait(waitCtx)
		if err != nil {
			ex.log.Err(ctx, err)
			return nil
		}
	} else {
		start := time.Now()
		out = ex.handle(ctx, msg, commandExpiration, pub.ResponseTopic, pub.MessageExpiry)
		if serr := ex.cache.Store(
			pub.ResponseTopic, msg.CorrelationData, out, nil, ex.idempotent, cacheExpiration, len(out.payload), time.Since(start),
		); serr != nil {
			ex.log.Err(ctx, serr)
		}
	}

	if !time.Now().UTC().Before(commandExpiration) {
		ex.listener.log.Debug(ctx, "response expired before it could be published",
			slog.String("correlation_data", msg.CorrelationData))
		return nil
	}
	return ex.publisher.publish(ctx, out)
}

// onErr builds and publishes an error response for a request the envelope
// codec itself rejected (bad version, missing/invalid headers). Requests
// with no usable response topic, or whose correlation data can't be
// recovered, are dropped instead: there is nowhere to correlate a response.
func (ex *CommandExecutor[Req, Res]) onErr(ctx context.Context, pub *pubsub.Message, err error) error {
	defer ex.listener.ack(ctx, pub)

	if ex.ignoreRequest(ctx, pub) {
		return nil
	}

	var correlationData string
	if id, uerr := uuid.FromBytes(pub.CorrelationData); uerr == nil {
		correlationData = id.String()
	} else {
		ex.listener.log.Debug(ctx, "request has no usable correlation data, dropping")
		return nil
	}

	out, berr := ex.build(nil, err, correlationData, pub.ResponseTopic, pub.MessageExpiry)
	if berr != nil {
		ex.log.Err(ctx, berr)
		return nil
	}
	return ex.publisher.publish(ctx, out)
}

// ignoreRequest reports whether a request cannot be answered at all: no
// valid response topic means there is nowhere to deliver either a response
// or an error.
func (ex *CommandExecutor[Req, Res]) ignoreRequest(ctx context.Context, pub *pubsub.Message) bool {
	if pub.ResponseTopic == "" || !topic.ValidTopic(pub.ResponseTopic) {
		ex.listener.log.Debug(ctx, "request has no usable response topic, dropping")
		return true
	}
	return false
}

// handle runs the handler with a panic-safe deadline derived from
// commandExpiration, returning a fully-built response wireMessage. A
// context deadline always wins over a handler return racing it, so a
// handler that returns right as its deadline expires still reports a
// timeout to the caller.
func (ex *CommandExecutor[Req, Res]) handle(
	ctx context.Context, msg *Message[Req], commandExpiration time.Time, responseTopic string, expirySeconds uint32,
) *wireMessage {
	deadline, cancel := wallclock.Instance.WithTimeoutCause(ctx, time.Until(commandExpiration), &errors.Error{
		Message:      "command handler timed out",
		Kind:         errors.Timeout,
		TimeoutName:  "ExecutionTimeout",
		TimeoutValue: ex.timeout,
	})
	defer cancel()

	type outcome struct {
		res *CommandResponse[Res]
		err error
	}
	result := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{err: &errors.Error{
					Message:       fmt.Sprintf("command handler panicked: %v", r),
					Kind:          errors.ExecutionException,
					InApplication: true,
				}}
			}
		}()
		res, err := ex.handler(deadline, &CommandRequest[Req]{Message: *msg})
		result <- outcome{res, err}
	}()

	var res *CommandResponse[Res]
	var herr error
	select {
	case o := <-result:
		res, herr = o.res, o.err
		if deadline.Err() != nil {
			res, herr = nil, errutil.Context(deadline, executorErrText)
		}
	case <-deadline.Done():
		herr = errutil.Context(deadline, executorErrText)
	}

	out, err := ex.build(res, herr, msg.CorrelationData, responseTopic, expirySeconds)
	if err != nil {
		ex.log.Err(ctx, err)
		out, _ = ex.build(nil, &errors.Error{Message: "failed to build response", Kind: errors.InternalLogicError},
			msg.CorrelationData, responseTopic, expirySeconds)
	}
	return out
}

// build constructs the outbound wireMessage for a handler's outcome,
// stamping the request's correlation data and mapping any error onto the
// reserved status headers (spec.md §4.1).
func (ex *CommandExecutor[Req, Res]) build(
	res *CommandResponse[Res], handlerErr error, correlationData, responseTopic string, expirySeconds uint32,
) (*wireMessage, error) {
	status, headers := errutil.BuildErrorHeaders(handlerErr, version.RPCSupported)

	var msg *Message[Res]
	if res != nil {
		msg = &res.Message
	} else {
		msg = &Message[Res]{}
		if status == 200 {
			status = 204
		}
	}
	msg.CorrelationData = correlationData

	out, err := ex.publisher.build(msg, nil, expirySeconds)
	if err != nil {
		return nil, err
	}
	out.topic = responseTopic
	headers[constants.Status] = fmt.Sprint(status)
	out.opts = append(out.opts, pubsub.WithUserProperties(headers))
	return out, nil
}

// Respond builds a command response from payload and the given options.
func Respond[Res any](payload Res, opt ...RespondOption) (*CommandResponse[Res], error) {
	var opts RespondOptions
	opts.Apply(opt)
	return &CommandResponse[Res]{Message[Res]{Payload: payload, Metadata: opts.Metadata}}, nil
}

// Apply resolves the provided list of options.
func (o *CommandExecutorOptions) Apply(opts []CommandExecutorOption, rest ...CommandExecutorOption) {
	for opt := range options.Apply[CommandExecutorOption](opts, rest...) {
		opt.commandExecutor(o)
	}
}

// Apply resolves the provided list of options.
func (o *RespondOptions) Apply(opts []RespondOption, rest ...RespondOption) {
	for opt := range options.Apply[RespondOption](opts, rest...) {
		opt.respond(o)
	}
}
