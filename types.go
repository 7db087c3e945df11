package rpc

import (
	"github.com/nimblerpc/core/hlc"
)

type (
	// Message wraps a decoded payload with the envelope metadata carried
	// alongside it (spec.md §2, §6).
	Message[T any] struct {
		// Payload is the decoded application payload.
		Payload T

		// ClientID is the identifier of the pub/sub client that sent this
		// message, as carried in its source-id header.
		ClientID string

		// CorrelationData identifies a single request/response exchange.
		CorrelationData string

		// Timestamp is the sender's hybrid logical clock reading at the
		// time of sending.
		Timestamp hlc.HybridLogicalClock

		// TopicTokens holds every {token} substitution resolved from the
		// concrete topic the message arrived on.
		TopicTokens map[string]string

		// Metadata holds application-defined user properties: every user
		// property on the wire that is not one of the core's reserved
		// names.
		Metadata map[string]string

		// FencingToken carries the sender's optimistic-concurrency hint, if
		// one was attached with WithFencingToken. Unlike Metadata, this is
		// parsed out of the reserved-prefixed "__ft" header rather than
		// left for the application to read out of Metadata.
		FencingToken *hlc.HybridLogicalClock

		// Data is the raw encoded payload and its wire content type.
		*Data
	}

	// Option is implemented by every option type in this package so
	// option-applying helpers can type-assert against a common interface
	// where needed.
	Option interface{ option() }
)
