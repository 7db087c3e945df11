package rpc

import (
	"maps"
	"time"

	"github.com/nimblerpc/core/hlc"
	"github.com/nimblerpc/core/internal/constants"
	"github.com/nimblerpc/core/internal/log"
)

type (
	// WithConcurrency bounds how many handler invocations an executor may
	// run in parallel (spec.md §4.5). Zero means unbounded. The pool is
	// shared per client id and its bound is fixed by the first invoker or
	// executor created for that id; later values are ignored.
	WithConcurrency uint

	// WithTimeout applies a context timeout to an invocation or handler
	// execution, as appropriate to the option set it's used with.
	WithTimeout time.Duration

	// WithShareName connects an executor's subscription to a shared
	// subscription group ($share/{group}/...).
	WithShareName string

	// WithTopicTokens specifies concrete values for {token} placeholders
	// in a topic pattern.
	WithTopicTokens map[string]string

	// WithTopicTokenNamespace prepends a namespace to every
	// previously-specified topic token. Tokens set after this option is
	// applied are not namespaced, which lets callers separate
	// library-internal tokens from user-supplied ones.
	WithTopicTokenNamespace string

	// WithMetadata specifies application-defined user properties to
	// attach to a request or response.
	WithMetadata map[string]string

	// WithTopicNamespace prepends a namespace to the resolved topic.
	WithTopicNamespace string

	// WithIdempotent marks a command executor's handler as idempotent,
	// allowing its cached responses to be evicted/reused opportunistically
	// (spec.md §4.4). Must be paired with a non-zero cache TTL.
	WithIdempotent bool

	// WithCacheTTL sets how long a response remains eligible for
	// duplicate-suppression/reuse after being produced. A TTL of zero is
	// only valid when the handler is not idempotent (spec.md §4.2).
	WithCacheTTL time.Duration

	// WithFencingToken attaches an optional fencing-token header to a
	// request, carrying the caller-supplied hybrid logical clock value for
	// a downstream service's optimistic-concurrency checks. It rides
	// outside the core envelope as a reserved extension header, stripped
	// back out of Metadata on receipt into Message.FencingToken.
	WithFencingToken hlc.HybridLogicalClock

	withLogger struct{ log.Logger }
)

func (o WithConcurrency) commandExecutor(opt *CommandExecutorOptions) { opt.Concurrency = uint(o) }
func (WithConcurrency) option()                                      {}

func (o WithTimeout) commandExecutor(opt *CommandExecutorOptions) { opt.Timeout = time.Duration(o) }
func (o WithTimeout) invoke(opt *InvokeOptions)                   { opt.Timeout = time.Duration(o) }
func (WithTimeout) option()                                       {}

func (o WithShareName) commandExecutor(opt *CommandExecutorOptions) { opt.ShareName = string(o) }
func (WithShareName) option()                                       {}

func (o WithTopicNamespace) commandExecutor(opt *CommandExecutorOptions) {
	opt.TopicNamespace = string(o)
}
func (o WithTopicNamespace) commandInvoker(opt *CommandInvokerOptions) {
	opt.TopicNamespace = string(o)
}
func (WithTopicNamespace) option() {}

func (o WithTopicTokens) apply(tokens map[string]string) map[string]string {
	if tokens == nil {
		tokens = make(map[string]string, len(o))
	}
	maps.Copy(tokens, o)
	return tokens
}

func (o WithTopicTokens) commandExecutor(opt *CommandExecutorOptions) {
	opt.TopicTokens = o.apply(opt.TopicTokens)
}
func (o WithTopicTokens) commandInvoker(opt *CommandInvokerOptions) {
	opt.TopicTokens = o.apply(opt.TopicTokens)
}
func (o WithTopicTokens) invoke(opt *InvokeOptions) { opt.TopicTokens = o.apply(opt.TopicTokens) }
func (WithTopicTokens) option()                     {}

func (o WithTopicTokenNamespace) apply(tokens map[string]string) map[string]string {
	result := make(map[string]string, len(tokens))
	for token, value := range tokens {
		result[string(o)+token] = value
	}
	return result
}

func (o WithTopicTokenNamespace) commandExecutor(opt *CommandExecutorOptions) {
	opt.TopicTokens = o.apply(opt.TopicTokens)
}
func (o WithTopicTokenNamespace) commandInvoker(opt *CommandInvokerOptions) {
	opt.TopicTokens = o.apply(opt.TopicTokens)
}
func (o WithTopicTokenNamespace) invoke(opt *InvokeOptions) {
	opt.TopicTokens = o.apply(opt.TopicTokens)
}
func (WithTopicTokenNamespace) option() {}

func (o WithMetadata) apply(values map[string]string) map[string]string {
	if values == nil {
		values = make(map[string]string, len(o))
	}
	maps.Copy(values, o)
	return values
}

func (o WithMetadata) invoke(opt *InvokeOptions)     { opt.Metadata = o.apply(opt.Metadata) }
func (o WithMetadata) respond(opt *RespondOptions)   { opt.Metadata = o.apply(opt.Metadata) }
func (WithMetadata) option()                         {}

func (o WithIdempotent) commandExecutor(opt *CommandExecutorOptions) { opt.Idempotent = bool(o) }
func (WithIdempotent) option()                                      {}

func (o WithCacheTTL) commandExecutor(opt *CommandExecutorOptions) { opt.CacheTTL = time.Duration(o) }
func (WithCacheTTL) option()                                       {}

func (o WithFencingToken) invoke(opt *InvokeOptions) {
	opt.Metadata = (WithMetadata{constants.FencingToken: hlc.HybridLogicalClock(o).String()}).apply(opt.Metadata)
}
func (WithFencingToken) option() {}

// WithLogger enables structured logging with the given logger across
// whichever component it's applied to.
func WithLogger(logger log.Logger) interface {
	Option
	ApplicationOption
	CommandExecutorOption
	CommandInvokerOption
} {
	return withLogger{logger}
}

func (o withLogger) application(opt *ApplicationOptions)     { opt.Logger = o.Logger }
func (o withLogger) commandExecutor(opt *CommandExecutorOptions) { opt.Logger = o.Logger }
func (o withLogger) commandInvoker(opt *CommandInvokerOptions)   { opt.Logger = o.Logger }
func (withLogger) option()                                       {}
