package errutil

import (
	"fmt"
	"strconv"

	"github.com/sosodev/duration"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/constants"
	"github.com/nimblerpc/core/internal/version"
)

// Status codes, as specified in spec.md §6.
const (
	StatusOK                   = 200
	StatusNoContent            = 204
	StatusBadRequest           = 400
	StatusRequestTimeout       = 408
	StatusUnsupportedMediaType = 415
	StatusUnprocessableContent = 422
	StatusInternalServerError  = 500
	StatusServiceUnavailable   = 503
	StatusNotSupportedVersion  = 505
)

// BuildErrorHeaders implements the kind-to-status inverse mapping from
// spec.md §4.1, returning the wire status code and the reserved headers an
// executor must set on an error response. err may be nil, in which case
// status is 200 and headers is empty (the caller still needs to decide
// between 200 and 204 based on payload presence).
func BuildErrorHeaders(err error, supported []int) (status int, headers map[string]string) {
	headers = map[string]string{}
	if err == nil {
		return StatusOK, headers
	}

	e, ok := err.(*errors.Error)
	if !ok {
		headers[constants.StatusMessage] = err.Error()
		return StatusInternalServerError, headers
	}

	headers[constants.StatusMessage] = e.Message

	switch e.Kind {
	case errors.HeaderMissing:
		headers[constants.InvalidPropertyName] = e.HeaderName
		return StatusBadRequest, headers

	case errors.HeaderInvalid:
		headers[constants.InvalidPropertyName] = e.HeaderName
		headers[constants.InvalidPropertyValue] = e.HeaderValue
		if e.HeaderName == constants.ContentType || e.HeaderName == constants.FormatIndicator {
			return StatusUnsupportedMediaType, headers
		}
		return StatusBadRequest, headers

	case errors.PayloadInvalid:
		return StatusBadRequest, headers

	case errors.Timeout:
		headers[constants.InvalidPropertyName] = e.TimeoutName
		headers[constants.InvalidPropertyValue] = duration.Format(e.TimeoutValue)
		return StatusRequestTimeout, headers

	case errors.StateInvalid:
		headers[constants.InvalidPropertyName] = e.PropertyName
		return StatusServiceUnavailable, headers

	case errors.InvocationException:
		headers[constants.IsApplicationError] = "true"
		if e.PropertyName != "" {
			headers[constants.InvalidPropertyName] = e.PropertyName
			headers[constants.InvalidPropertyValue] = fmt.Sprint(e.PropertyValue)
		}
		return StatusUnprocessableContent, headers

	case errors.ExecutionException:
		headers[constants.IsApplicationError] = "true"
		return StatusInternalServerError, headers

	case errors.InternalLogicError:
		headers[constants.InvalidPropertyName] = e.PropertyName
		return StatusInternalServerError, headers

	case errors.UnsupportedRequestVersion, errors.UnsupportedResponseVersion:
		headers[constants.RequestProtocolVersion] = e.ProtocolVersion
		headers[constants.SupportedProtocolMajorVersion] = version.Format(supported)
		return StatusNotSupportedVersion, headers

	default:
		return StatusInternalServerError, headers
	}
}

// ParseStatus implements the status-to-kind mapping from spec.md §4.1,
// turning a received response's reserved headers into a protocol error.
// It returns nil for a 200/204 status (success). cmd and correlationID are
// stamped onto the returned error for observability.
func ParseStatus(headers map[string]string, cmd, correlationID string) error {
	status, ok := headers[constants.Status]
	if !ok {
		return &errors.Error{
			Message:       "status missing",
			Kind:          errors.HeaderMissing,
			HeaderName:    constants.Status,
			CommandName:   cmd,
			CorrelationID: correlationID,
		}
	}

	code, err := strconv.Atoi(status)
	if err != nil {
		return &errors.Error{
			Message:       "status is not a valid integer",
			Kind:          errors.HeaderInvalid,
			HeaderName:    constants.Status,
			HeaderValue:   status,
			CommandName:   cmd,
			CorrelationID: correlationID,
		}
	}

	if code == StatusOK || code == StatusNoContent {
		return nil
	}

	message := headers[constants.StatusMessage]
	propName := headers[constants.InvalidPropertyName]
	propValue := headers[constants.InvalidPropertyValue]

	e := &errors.Error{
		Message:       message,
		IsRemote:      true,
		CommandName:   cmd,
		CorrelationID: correlationID,
	}

	switch code {
	case StatusBadRequest, StatusUnsupportedMediaType:
		switch {
		case propName == "" && propValue == "":
			e.Kind = errors.PayloadInvalid
		case propValue == "":
			e.Kind = errors.HeaderMissing
			e.HeaderName = propName
		default:
			e.Kind = errors.HeaderInvalid
			e.HeaderName = propName
			e.HeaderValue = propValue
		}

	case StatusRequestTimeout:
		d, perr := duration.Parse(propValue)
		if perr != nil {
			e.Kind = errors.HeaderInvalid
			e.HeaderName = constants.InvalidPropertyValue
			e.HeaderValue = propValue
			e.NestedError = perr
			return e
		}
		e.Kind = errors.Timeout
		e.TimeoutName = propName
		e.TimeoutValue = d.ToTimeDuration()

	case StatusUnprocessableContent:
		e.Kind = errors.InvocationException
		e.InApplication = true
		e.PropertyName = propName
		e.PropertyValue = propValue

	case StatusInternalServerError:
		appErr := headers[constants.IsApplicationError]
		switch {
		case appErr == "true":
			e.Kind = errors.ExecutionException
			e.InApplication = true
		case propName != "":
			e.Kind = errors.InternalLogicError
			e.PropertyName = propName
		default:
			e.Kind = errors.UnknownError
		}

	case StatusServiceUnavailable:
		e.Kind = errors.StateInvalid
		e.PropertyName = propName

	case StatusNotSupportedVersion:
		e.Kind = errors.UnsupportedRequestVersion
		e.ProtocolVersion = headers[constants.RequestProtocolVersion]
		e.SupportedMajorProtocolVersions = version.ParseSupported(headers[constants.SupportedProtocolMajorVersion])

	default:
		e.Kind = errors.UnknownError
	}

	return e
}
