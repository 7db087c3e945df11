// Package constants holds the wire-level names that must never change
// without breaking interoperability: reserved envelope header names and the
// standard MQTT property labels used in error messages.
package constants

// Reserved prefix for protocol envelope headers. Application metadata must
// never start with this prefix.
const Reserved = "__"

// Reserved envelope header names (exact wire strings).
const (
	ProtocolVersion               = Reserved + "protVer"
	Timestamp                     = Reserved + "ts"
	SourceID                      = Reserved + "srcId"
	Status                        = Reserved + "stat"
	StatusMessage                 = Reserved + "stMsg"
	IsApplicationError            = Reserved + "apErr"
	InvalidPropertyName           = Reserved + "propName"
	InvalidPropertyValue          = Reserved + "propVal"
	RequestProtocolVersion        = Reserved + "requestProtVer"
	SupportedProtocolMajorVersion = Reserved + "supProtMajVer"
)

// Partition is a non-reserved-prefix header used to hint at MQ-style
// partition affinity; it is set automatically on every request.
const Partition = "$partition"

// FencingToken is a reserved extension header, outside the core envelope,
// carried by invokers that need to pass an optimistic-concurrency hint to
// an executor. It is special-cased by PropToMetadata: stripped out of
// application Metadata and surfaced instead through Message.FencingToken
// (see SPEC_FULL.md §6, "Fencing token supplement").
const FencingToken = "__ft"

// Standard names used in error messages to identify MQTT-level properties.
const (
	ContentType     = "Content Type"
	FormatIndicator = "Payload Format Indicator"
	CorrelationData = "Correlation Data"
	ResponseTopic   = "Response Topic"
	MessageExpiry   = "Message Expiry"
)
