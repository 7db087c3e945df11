package errors

import "log/slog"

// Attrs returns additional structured attributes for slog, so that logging
// an *Error carries its kind and relevant payload fields without the
// caller needing to know the Kind-specific shape.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 8)

	a = append(a,
		slog.Int("kind", int(e.Kind)),
		slog.Bool("in_application", e.InApplication),
		slog.Bool("is_remote", e.IsRemote),
	)
	if e.CommandName != "" {
		a = append(a, slog.String("command_name", e.CommandName))
	}
	if e.CorrelationID != "" {
		a = append(a, slog.String("correlation_id", e.CorrelationID))
	}
	if e.NestedError != nil {
		a = append(a, slog.Any("nested_error", e.NestedError))
	}

	switch e.Kind {
	case HeaderMissing:
		a = append(a, slog.String("header_name", e.HeaderName))
	case HeaderInvalid:
		a = append(a,
			slog.String("header_name", e.HeaderName),
			slog.String("header_value", e.HeaderValue),
		)
	case Timeout:
		a = append(a,
			slog.String("timeout_name", e.TimeoutName),
			slog.Duration("timeout_value", e.TimeoutValue),
		)
	case ConfigurationInvalid, ArgumentInvalid:
		a = append(a,
			slog.String("property_name", e.PropertyName),
			slog.Any("property_value", e.PropertyValue),
		)
	case StateInvalid, InternalLogicError:
		a = append(a, slog.String("property_name", e.PropertyName))
	case InvocationException:
		if e.PropertyName != "" {
			a = append(a,
				slog.String("property_name", e.PropertyName),
				slog.Any("property_value", e.PropertyValue),
			)
		}
	case UnsupportedRequestVersion, UnsupportedResponseVersion:
		a = append(a,
			slog.String("protocol_version", e.ProtocolVersion),
			slog.Any("supported_major_protocol_versions", e.SupportedMajorProtocolVersions),
		)
	}

	return a
}
