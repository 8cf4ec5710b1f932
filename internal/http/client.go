package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/firefly-mcp/internal/auth"
	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// Static errors for err113 compliance.
var (
	ErrInvalidBaseURL   = errors.New("invalid base URL")
	ErrInsecureRedirect = errors.New("refusing redirect to a non-https URL")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Client is the Firefly III transport. It returns every received response,
// whatever its status, and a *firefly.TransportError when none arrived.
type Client struct {
	baseURL       string
	httpClient    *retryablehttp.Client
	tokenManager  auth.TokenManager
	userAgent     string
	logger        firefly.Logger
	debug         bool
	timeout       time.Duration
	retryWait     time.Duration
	allowInsecure bool
	rateLimit     int
	metrics       *firefly.MetricsCollector
	chain         *firefly.InterceptorChain

	requestInterceptors []firefly.RequestInterceptor
}

// NewClient creates a new HTTP client. tokenManager may be nil for
// unauthenticated calls.
func NewClient(baseURL string, tokenManager auth.TokenManager, opts ...Option) (*Client, error) {
	client := &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokenManager: tokenManager,
		userAgent:    constants.DefaultUserAgent,
		logger:       firefly.NopLogger(),
		timeout:      constants.DefaultHTTPTimeout,
		retryWait:    constants.DefaultRetryWait,
	}

	for _, opt := range opts {
		opt(client)
	}

	err := client.validateBaseURL()
	if err != nil {
		return nil, err
	}

	client.httpClient = client.newRetryClient()
	client.chain = client.newInterceptorChain()

	return client, nil
}

func (c *Client) validateBaseURL() error {
	parsed, err := url.Parse(c.baseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.baseURL)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if c.allowInsecure {
			return nil
		}

		return constants.ErrInsecureBaseURL
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBaseURL, parsed.Scheme)
	}
}

// newRetryClient builds a retryablehttp client that retries once, and only
// when no response was received.
func (c *Client) newRetryClient() *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = c.timeout
	retryClient.HTTPClient.CheckRedirect = redirectPolicy(c.allowInsecure)
	retryClient.RetryMax = constants.NetworkRetryMax
	retryClient.RetryWaitMin = c.retryWait
	retryClient.RetryWaitMax = c.retryWait
	retryClient.Logger = newLeveledLogger(c.logger)

	wait := c.retryWait
	retryClient.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return wait
	}

	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if errors.Is(err, ErrInsecureRedirect) || errors.Is(err, ErrTooManyRedirects) {
			return false, nil
		}

		return err != nil, nil
	}

	return retryClient
}

// redirectPolicy follows at most MaxRedirects redirects and, unless
// allowInsecure is set, only to https URLs so the bearer token never
// travels in plaintext.
func redirectPolicy(allowInsecure bool) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= constants.MaxRedirects {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, len(via))
		}

		if !allowInsecure && req.URL.Scheme != "https" {
			return fmt.Errorf("%w: %s://%s%s", ErrInsecureRedirect, req.URL.Scheme, req.URL.Host, req.URL.Path)
		}

		return nil
	}
}

func (c *Client) newInterceptorChain() *firefly.InterceptorChain {
	chain := firefly.NewInterceptorChain()

	if c.rateLimit > 0 {
		chain.AddRequestInterceptor(firefly.RateLimitInterceptor(c.rateLimit))
	}

	for _, interceptor := range c.requestInterceptors {
		chain.AddRequestInterceptor(interceptor)
	}

	// Authentication runs after custom interceptors so a configured header
	// can never replace the bearer token.
	if c.tokenManager != nil {
		chain.AddRequestInterceptor(firefly.AuthenticationInterceptor(c.tokenManager.GetToken))
	}

	if c.metrics != nil {
		chain.AddRequestInterceptor(firefly.MetricsRequestInterceptor(c.metrics))
		chain.AddResponseInterceptor(firefly.MetricsResponseInterceptor(c.metrics))
	}

	chain.AddResponseInterceptor(firefly.LoggingResponseInterceptor(c.logger))

	return chain
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs an HTTP request.
func (c *Client) Do(ctx context.Context, req *firefly.Request) (*firefly.Response, error) {
	outgoing := *req
	outgoing.Headers = req.Headers.Clone()
	outgoing.Metadata = make(map[string]interface{}, len(req.Metadata)+1)

	for key, value := range req.Metadata {
		outgoing.Metadata[key] = value
	}

	outgoing.Metadata[firefly.MetadataStartTime] = time.Now()

	err := c.chain.ExecuteRequestInterceptors(ctx, &outgoing)
	if err != nil {
		return nil, c.interceptorError(ctx, err)
	}

	httpReq, err := c.buildRequest(ctx, &outgoing)
	if err != nil {
		return nil, err
	}

	if c.debug {
		firefly.LoggerWithContext(ctx, c.logger).Debug("HTTP Request", map[string]interface{}{
			"method": outgoing.Method,
			"path":   outgoing.Path,
		})
	}

	start := time.Now()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		transportErr := firefly.NewTransportError(err)
		_ = c.chain.ExecuteResponseInterceptors(ctx, &outgoing, &firefly.Response{Error: transportErr})

		return nil, transportErr
	}

	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		transportErr := firefly.NewTransportError(fmt.Errorf("reading response body: %w", err))
		_ = c.chain.ExecuteResponseInterceptors(ctx, &outgoing, &firefly.Response{Error: transportErr})

		return nil, transportErr
	}

	resp := &firefly.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	err = c.chain.ExecuteResponseInterceptors(ctx, &outgoing, resp)
	if err != nil {
		return nil, fmt.Errorf("response interceptor: %w", err)
	}

	if c.debug {
		firefly.LoggerWithContext(ctx, c.logger).Debug("HTTP Response", map[string]interface{}{
			"method":      outgoing.Method,
			"path":        outgoing.Path,
			"status_code": resp.StatusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}

	return resp, nil
}

// interceptorError maps a failed request interceptor. Token problems become
// authentication errors; cancellation is reported as a transport failure.
func (c *Client) interceptorError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, auth.ErrTokenExpired):
		return firefly.NewError(firefly.KindAuth, err.Error(), 0)
	case ctx.Err() != nil:
		return firefly.NewTransportError(ctx.Err())
	default:
		return fmt.Errorf("request interceptor: %w", err)
	}
}

func (c *Client) buildRequest(ctx context.Context, req *firefly.Request) (*retryablehttp.Request, error) {
	fullURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var body interface{}
	if req.Body != nil {
		body = req.Body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for key, values := range req.Headers {
		httpReq.Header.Del(key)

		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	return httpReq, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*firefly.Response, error) {
	return c.Do(ctx, &firefly.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
	})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*firefly.Response, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*firefly.Response, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*firefly.Response, error) {
	return c.send(ctx, http.MethodPatch, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*firefly.Response, error) {
	return c.Do(ctx, &firefly.Request{
		Method: http.MethodDelete,
		Path:   path,
	})
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*firefly.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	return c.Do(ctx, &firefly.Request{
		Method: method,
		Path:   path,
		Body:   encoded,
	})
}

// leveledLogger exposes a firefly.Logger as a retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger firefly.Logger
}

func newLeveledLogger(logger firefly.Logger) retryablehttp.LeveledLogger {
	return leveledLogger{logger: logger}
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, fieldsOf(keysAndValues))
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, fieldsOf(keysAndValues))
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fieldsOf(keysAndValues))
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, fieldsOf(keysAndValues))
}

// fieldsOf pairs up retryablehttp's key/value arguments. URLs, whether
// passed as *url.URL, as strings or inside a *url.Error, are reduced to
// their path so query strings never reach the logs.
func fieldsOf(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/constants.KeyValueSplitParts)

	for i := 0; i+1 < len(keysAndValues); i += constants.KeyValueSplitParts {
		fields[fmt.Sprint(keysAndValues[i])] = redactValue(keysAndValues[i+1])
	}

	return fields
}

func redactValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case *url.URL:
		if typed == nil {
			return ""
		}

		return typed.Path
	case string:
		return redactURL(typed)
	case error:
		var urlErr *url.Error
		if errors.As(typed, &urlErr) {
			return fmt.Sprintf("%s %q: %v", urlErr.Op, redactURL(urlErr.URL), urlErr.Err)
		}

		return typed
	default:
		return value
	}
}

// redactURL replaces every absolute URL in raw, such as retryablehttp's
// "GET https://host/path?query" descriptions, with its path.
func redactURL(raw string) string {
	words := strings.Fields(raw)
	changed := false

	for i, word := range words {
		parsed, err := url.Parse(word)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			continue
		}

		words[i] = parsed.Path
		changed = true
	}

	if !changed {
		return raw
	}

	return strings.Join(words, " ")
}
