package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// Service identity.
const (
	// ServiceName is the name reported by the MCP server and health checks.
	ServiceName = "firefly-mcp"

	// EnvPrefix is the prefix for environment-based configuration.
	EnvPrefix = "FIREFLY"

	// DefaultUserAgent is sent with every outbound request.
	DefaultUserAgent = "firefly-mcp"
)

// Firefly III API paths.
const (
	// APIPrefix is the path prefix of every Firefly III v1 endpoint.
	APIPrefix = "/api/v1"

	// APIPathAbout is used to verify connectivity and credentials.
	APIPathAbout = "/api/v1/about"

	// APIPathSearchTransactions is the transaction search endpoint.
	APIPathSearchTransactions = "/api/v1/search/transactions"

	// APIPathSearchAccounts is the account search endpoint.
	APIPathSearchAccounts = "/api/v1/search/accounts"
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default deadline for a single outbound call.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for connectivity checks.
	ShortHTTPTimeout = 10 * time.Second

	// DefaultRetryWait is the fixed backoff before the single network retry.
	DefaultRetryWait = 250 * time.Millisecond

	// NetworkRetryMax is the number of retries after a network-level failure.
	NetworkRetryMax = 1
	// MaxRedirects is the number of redirects followed per request.
	MaxRedirects = 10
)

// HTTP status codes commonly used.
const (
	// HTTPStatusOK represents a successful HTTP response.
	HTTPStatusOK = 200

	// HTTPStatusNoContent is returned by Firefly III on successful deletes.
	HTTPStatusNoContent = 204

	// HTTPStatusBadRequest is the first client error status.
	HTTPStatusBadRequest = 400

	// HTTPStatusInternalServerError is the first server error status.
	HTTPStatusInternalServerError = 500

	// HTTPStatusMaxServerError is the last server error status.
	HTTPStatusMaxServerError = 599
)

// Pagination limits.
const (
	// DefaultPageSize is the number of items requested per page.
	DefaultPageSize = 50

	// MaxPageSize is the largest page size accepted from callers.
	MaxPageSize = 500

	// DefaultMaxPages caps the number of pages fetched in all-pages mode.
	DefaultMaxPages = 100
)

// Cache sizing and lifetimes.
const (
	// DefaultCacheSize is the default cache size limit.
	DefaultCacheSize = 1000

	// DefaultCacheTTL is the default cache time-to-live.
	DefaultCacheTTL = 5 * time.Minute

	// ReferenceDataCacheTTL is used for near-static lookup categories.
	ReferenceDataCacheTTL = 30 * time.Minute

	// VolatileCacheTTL is used for categories mutated by transaction writes.
	VolatileCacheTTL = 1 * time.Minute

	// DefaultNATSBucket is the JetStream KV bucket used by the NATS cache.
	DefaultNATSBucket = "firefly_mcp_cache"
)

// Batch and search limits.
const (
	// MaxBatchOperations is the largest batch accepted in one call.
	MaxBatchOperations = 100

	// DefaultSearchLimit is the per-category result limit for search.
	DefaultSearchLimit = 25

	// SearchConcurrency bounds concurrent category lookups during search.
	SearchConcurrency = 4
)

// Message limits.
const (
	// MaxErrorMessageLength bounds error messages surfaced to callers.
	MaxErrorMessageLength = 512
)

// Format constants.
const (
	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"

	// FormatTable for table output format.
	FormatTable = "table"

	// JSONIndentSize is the number of spaces for JSON indentation.
	JSONIndentSize = 2
)

// UI and display constants.
const (
	// CheckMarkSymbol is used to indicate successful items.
	CheckMarkSymbol = "✓"

	// CrossMarkSymbol is used to indicate failed items.
	CrossMarkSymbol = "✗"

	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "***"
)

// Server transports.
const (
	// TransportStdio serves MCP over stdin/stdout.
	TransportStdio = "stdio"

	// TransportHTTP serves MCP over streamable HTTP.
	TransportHTTP = "http"

	// DefaultHTTPAddr is the listen address for the HTTP transport.
	DefaultHTTPAddr = "127.0.0.1:8765"

	// MCPEndpointPath is where the streamable HTTP transport is mounted.
	MCPEndpointPath = "/mcp"

	// ServerReadHeaderTimeout bounds reading request headers.
	ServerReadHeaderTimeout = 10 * time.Second

	// ServerIdleTimeout closes idle keep-alive connections.
	ServerIdleTimeout = 60 * time.Second

	// ServerShutdownTimeout bounds graceful shutdown.
	ServerShutdownTimeout = 10 * time.Second

	// ServerMaxHeaderBytes caps request header size.
	ServerMaxHeaderBytes = 1 << 20
)

// KeyValueSplitParts is the number of parts when splitting key=value strings.
const KeyValueSplitParts = 2
