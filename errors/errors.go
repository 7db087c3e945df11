// Package errors defines the structured protocol error used across the
// invoker, executor, cache, and envelope codec (spec.md §7).
package errors

import "time"

type (
	// Error represents a structured protocol error. Exactly one of the
	// per-kind payload fields is meaningful for a given Kind; see the
	// mapping in spec.md §4.1 and §7.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		HeaderName  string
		HeaderValue string

		TimeoutName  string
		TimeoutValue time.Duration

		PropertyName  string
		PropertyValue any

		ProtocolVersion                string
		SupportedMajorProtocolVersions []int

		// The following are set by the library and should not be set
		// manually by callers constructing an Error to return from a
		// command handler.
		InApplication bool
		IsRemote      bool
		CommandName   string
		CorrelationID string
	}

	// Kind defines the type of error being thrown, matching spec.md §7
	// exactly.
	Kind int
)

// The defined error kinds, in the order given by spec.md §7.
const (
	HeaderMissing Kind = iota
	HeaderInvalid
	PayloadInvalid
	Timeout
	Cancellation
	ConfigurationInvalid
	ArgumentInvalid
	StateInvalid
	InternalLogicError
	UnknownError
	InvocationException
	ExecutionException
	MqttError
	UnsupportedRequestVersion
	UnsupportedResponseVersion
)

// Error returns the error as a string, satisfying the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes any nested error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.NestedError
}
