package observe

import "errors"

var (
	// ErrMissingServiceName indicates Config.ServiceName is empty.
	ErrMissingServiceName = errors.New("observe: service name is required")

	// ErrInvalidSampleRatio indicates Config.SampleRatio is outside [0, 1].
	ErrInvalidSampleRatio = errors.New("observe: sample ratio must be between 0 and 1")

	// ErrUnknownExporter indicates an exporter name this package does not
	// support.
	ErrUnknownExporter = errors.New("observe: unknown exporter")

	// ErrUnknownLogLevel indicates a log level outside
	// debug/info/warn/error.
	ErrUnknownLogLevel = errors.New("observe: unknown log level")

	// ErrEndpointNotConfigured indicates the otlp exporter was selected
	// without an endpoint in the environment.
	ErrEndpointNotConfigured = errors.New("observe: otlp endpoint not configured")
)
