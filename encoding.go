package rpc

import (
	"encoding/json"
	stderr "errors"
	"fmt"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/constants"
)

type (
	// Encoding translates between a concrete Go type T and the bytes
	// carried on the wire. Implementations must be safe for concurrent
	// use, since a single Encoding value is shared across every message an
	// invoker or executor handles.
	Encoding[T any] interface {
		Serialize(T) (*Data, error)
		Deserialize(*Data) (T, error)
	}

	// Data is an encoded payload together with the wire metadata that
	// describes it.
	Data struct {
		Payload       []byte
		ContentType   string
		PayloadFormat byte
	}

	// JSON encodes/decodes T as a JSON document.
	JSON[T any] struct{}

	// Empty is the encoding for commands that carry no payload at all.
	Empty struct{}

	// Raw passes bytes through unchanged, tagged as an octet stream.
	Raw struct{}

	// Custom hands the Data envelope to the caller unchanged, for payload
	// formats the core has no built-in support for.
	Custom struct{}
)

// ErrUnsupportedContentType is returned by an Encoding's Deserialize method
// when the received content type is not one it understands.
var ErrUnsupportedContentType = stderr.New("unsupported content type")

func serialize[T any](encoding Encoding[T], value T) (data *Data, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = payloadError("serializing payload panicked", p)
		}
	}()
	data, err = encoding.Serialize(value)
	if err != nil {
		return nil, payloadError("cannot serialize payload", err)
	}
	return data, nil
}

func deserialize[T any](encoding Encoding[T], data *Data) (value T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = payloadError("deserializing payload panicked", p)
		}
	}()
	value, err = encoding.Deserialize(data)
	if err != nil {
		if stderr.Is(err, ErrUnsupportedContentType) {
			return value, &errors.Error{
				Message:     "content type mismatch",
				Kind:        errors.HeaderInvalid,
				HeaderName:  constants.ContentType,
				HeaderValue: data.ContentType,
			}
		}
		return value, payloadError("cannot deserialize payload", err)
	}
	return value, nil
}

func payloadError(msg string, err any) error {
	switch e := err.(type) {
	case *errors.Error:
		return e
	case error:
		return &errors.Error{Message: msg, Kind: errors.PayloadInvalid, NestedError: e}
	default:
		return &errors.Error{Message: msg, Kind: errors.PayloadInvalid, NestedError: stderr.New(fmt.Sprint(e))}
	}
}

// Serialize translates t into a JSON document.
func (JSON[T]) Serialize(t T) (*Data, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Data{Payload: b, ContentType: "application/json", PayloadFormat: 1}, nil
}

// Deserialize translates a JSON document into T.
func (JSON[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/json":
		err := json.Unmarshal(data.Payload, &t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize rejects any non-nil payload, since Empty carries none.
func (Empty) Serialize(t any) (*Data, error) {
	if t != nil {
		return nil, &errors.Error{Message: "unexpected payload for empty type", Kind: errors.PayloadInvalid}
	}
	return &Data{}, nil
}

// Deserialize rejects any non-empty payload bytes.
func (Empty) Deserialize(data *Data) (any, error) {
	if len(data.Payload) != 0 {
		return nil, &errors.Error{Message: "unexpected payload for empty type", Kind: errors.PayloadInvalid}
	}
	return nil, nil
}

// Serialize tags t as an octet stream, unchanged.
func (Raw) Serialize(t []byte) (*Data, error) {
	return &Data{Payload: t, ContentType: "application/octet-stream", PayloadFormat: 0}, nil
}

// Deserialize returns the payload bytes unchanged.
func (Raw) Deserialize(data *Data) ([]byte, error) {
	switch data.ContentType {
	case "", "application/octet-stream":
		return data.Payload, nil
	default:
		return nil, ErrUnsupportedContentType
	}
}

// Serialize returns t unchanged.
func (Custom) Serialize(t Data) (*Data, error) {
	return &t, nil
}

// Deserialize returns data unchanged.
func (Custom) Deserialize(data *Data) (Data, error) {
	return *data, nil
}
