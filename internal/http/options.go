package http

import (
	"time"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// Option configures the HTTP client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger firefly.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDebug enables request and response debug logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetryWait sets the pause before the single network retry.
func WithRetryWait(wait time.Duration) Option {
	return func(c *Client) {
		if wait >= 0 {
			c.retryWait = wait
		}
	}
}

// WithAllowInsecure permits plain http base URLs.
func WithAllowInsecure(allow bool) Option {
	return func(c *Client) {
		c.allowInsecure = allow
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(requestsPerSecond int) Option {
	return func(c *Client) {
		c.rateLimit = requestsPerSecond
	}
}

// WithMetrics records per-endpoint request metrics in collector.
func WithMetrics(collector *firefly.MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithRequestInterceptor adds a request interceptor that runs after the
// built-in ones.
func WithRequestInterceptor(interceptor firefly.RequestInterceptor) Option {
	return func(c *Client) {
		c.requestInterceptors = append(c.requestInterceptors, interceptor)
	}
}
