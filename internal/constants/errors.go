package constants

import "errors"

// Configuration errors.
var (
	ErrBaseURLRequired   = errors.New("FIREFLY_URL environment variable is required")
	ErrTokenRequired     = errors.New("FIREFLY_TOKEN environment variable is required")
	ErrInsecureBaseURL   = errors.New("base URL must use https (set http.allow_insecure for local development)")
	ErrUnknownTransport  = errors.New("unknown server transport")
	ErrUnknownExporter   = errors.New("unknown telemetry exporter")
	ErrOTLPEndpointEmpty = errors.New("otlp endpoint is required")
)

// Command errors.
var (
	ErrInvalidParamFormat = errors.New("invalid parameter format, expected key=value")
	ErrNoOperations       = errors.New("no operations found in batch file")
	ErrBatchHadFailures   = errors.New("one or more batch operations failed")
	ErrConnectionFailed   = errors.New("connection test failed")
)

// File system errors.
var (
	ErrNotRegularFile             = errors.New("path is not a regular file")
	ErrDirectoryTraversalDetected = errors.New("directory traversal detected in file path")
)
