package fireflyclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fivetwenty-io/firefly-mcp/internal/auth"
	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	fireflyhttp "github.com/fivetwenty-io/firefly-mcp/internal/http"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired = errors.New("configuration is required")
)

// Config configures a gateway client.
type Config struct {
	// BaseURL of the Firefly III instance, e.g. "https://firefly.example.com".
	// A trailing slash is trimmed.
	BaseURL string
	// Token is the personal access token sent as a Bearer token.
	Token string

	// AllowInsecure permits a plain http BaseURL.
	AllowInsecure bool
	// HTTPTimeout bounds a single outbound call. Zero uses the default.
	HTTPTimeout time.Duration
	// RetryWait is the pause before the single retry after a network failure.
	RetryWait time.Duration
	// UserAgent overrides the default User-Agent.
	UserAgent string
	// RateLimit caps outbound requests per second. Zero disables it.
	RateLimit int
	// Debug logs every outbound request and response.
	Debug bool
	// Headers are added to every outbound request.
	Headers map[string]string
	// Logger is used by every layer. Nil disables logging.
	Logger firefly.Logger

	// Cache selects the cache backend. Nil uses an in-memory cache.
	Cache *firefly.CacheConfig
	// CachingPolicy decides which reads are cached. Nil uses the default.
	CachingPolicy *firefly.CachingPolicy
	// Pagination sets the page size and all-pages cap.
	Pagination *firefly.PaginationOptions
	// Registry overrides the resource categories. Nil uses the defaults.
	Registry *firefly.Registry
}

// Stats is a point-in-time view of cache and request metrics.
type Stats struct {
	CacheBackend string                     `json:"cache_backend" yaml:"cache_backend"`
	Cache        firefly.CacheStats         `json:"cache"         yaml:"cache"`
	HitRate      float64                    `json:"hit_rate"      yaml:"hit_rate"`
	Endpoints    map[string]firefly.Metrics `json:"endpoints"     yaml:"endpoints"`
}

// Client is a configured gateway.
type Client struct {
	transport    *fireflyhttp.Client
	router       *firefly.Router
	batch        *firefly.BatchExecutor
	metrics      *firefly.MetricsCollector
	cache        firefly.Cache
	cacheBackend firefly.CacheType
	logger       firefly.Logger
}

// New builds a gateway client from config.
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, constants.ErrBaseURLRequired
	}

	if strings.TrimSpace(config.Token) == "" {
		return nil, constants.ErrTokenRequired
	}

	logger := config.Logger
	if logger == nil {
		logger = firefly.NopLogger()
	}

	metrics := firefly.NewMetricsCollector()

	opts := []fireflyhttp.Option{
		fireflyhttp.WithLogger(logger),
		fireflyhttp.WithDebug(config.Debug),
		fireflyhttp.WithAllowInsecure(config.AllowInsecure),
		fireflyhttp.WithRateLimit(config.RateLimit),
		fireflyhttp.WithMetrics(metrics),
		fireflyhttp.WithUserAgent(config.UserAgent),
		fireflyhttp.WithTimeout(config.HTTPTimeout),
	}

	if config.RetryWait > 0 {
		opts = append(opts, fireflyhttp.WithRetryWait(config.RetryWait))
	}

	if len(config.Headers) > 0 {
		opts = append(opts, fireflyhttp.WithRequestInterceptor(firefly.HeaderInterceptor(config.Headers)))
	}

	if config.Debug {
		metrics.SetOnChange(func(endpoint string, snapshot firefly.Metrics) {
			logger.Debug("Endpoint metrics updated", map[string]interface{}{
				"endpoint":        endpoint,
				"total_requests":  snapshot.TotalRequests,
				"total_errors":    snapshot.TotalErrors,
				"average_latency": snapshot.AverageLatency.String(),
			})
		})
	}

	transport, err := fireflyhttp.NewClient(baseURL, auth.NewStaticTokenManager(config.Token), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	cacheConfig := config.Cache
	if cacheConfig == nil {
		cacheConfig = firefly.DefaultCacheConfig()
	}

	cache, err := firefly.NewCacheFromConfig(ctx, cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	policy := config.CachingPolicy
	if policy == nil {
		policy = firefly.DefaultCachingPolicy()
	}

	if cacheConfig.Type == firefly.CacheTypeNone {
		policy = nil
	}

	router := firefly.NewRouter(transport, config.Registry, firefly.NewCacheManager(cache, logger),
		firefly.WithRouterLogger(logger),
		firefly.WithCachingPolicy(policy),
		firefly.WithPaginationOptions(config.Pagination),
	)

	logger.Debug("Gateway client created", map[string]interface{}{
		"base_url":      baseURL,
		"cache_backend": string(cacheConfig.Type),
	})

	return &Client{
		transport:    transport,
		router:       router,
		batch:        firefly.NewBatchExecutor(router, logger),
		metrics:      metrics,
		cache:        cache,
		cacheBackend: cacheConfig.Type,
		logger:       logger,
	}, nil
}

// NewWithToken creates a client with default settings.
func NewWithToken(ctx context.Context, baseURL, token string) (*Client, error) {
	return New(ctx, &Config{BaseURL: baseURL, Token: token})
}

// Router returns the action router.
func (c *Client) Router() *firefly.Router {
	return c.router
}

// Batch returns the batch executor.
func (c *Client) Batch() *firefly.BatchExecutor {
	return c.batch
}

// Metrics returns the per-endpoint request metrics.
func (c *Client) Metrics() *firefly.MetricsCollector {
	return c.metrics
}

// BaseURL returns the normalized Firefly III base URL.
func (c *Client) BaseURL() string {
	return c.transport.BaseURL()
}

// Execute runs action on resource.
func (c *Client) Execute(ctx context.Context, resource, action string, params map[string]any) (*firefly.Result, error) {
	return c.router.Execute(ctx, resource, action, params)
}

// ExecuteBatch validates and runs operations in order.
func (c *Client) ExecuteBatch(ctx context.Context, operations []firefly.BatchOperation, options firefly.BatchOptions) (*firefly.BatchResponse, error) {
	err := firefly.ValidateBatch(operations)
	if err != nil {
		return nil, err
	}

	return c.batch.Execute(ctx, operations, options), nil
}

// Search runs a cross-category search.
func (c *Client) Search(ctx context.Context, query firefly.SearchQuery) (*firefly.SearchResult, error) {
	return c.router.Search(ctx, query)
}

// TestConnection calls /api/v1/about and returns its data.
func (c *Client) TestConnection(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ShortHTTPTimeout)
	defer cancel()

	resp, err := c.transport.Do(ctx, &firefly.Request{
		Method:   http.MethodGet,
		Path:     constants.APIPathAbout,
		Metadata: map[string]interface{}{firefly.MetadataResource: "about", firefly.MetadataAction: "get"},
	})
	if err != nil {
		return nil, firefly.AsError(err)
	}

	if classified := firefly.Classify(resp); classified != nil {
		return nil, classified
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}

	if json.Unmarshal(resp.Body, &envelope) == nil && len(envelope.Data) > 0 {
		return envelope.Data, nil
	}

	return json.RawMessage(resp.Body), nil
}

// ClearCache invalidates one category, or every category when empty.
func (c *Client) ClearCache(ctx context.Context, category string) error {
	return c.router.InvalidateCategory(ctx, category)
}

// Stats returns cache and request metrics.
func (c *Client) Stats() Stats {
	cacheStats := c.router.Cache().GetStats()

	return Stats{
		CacheBackend: string(c.cacheBackend),
		Cache:        cacheStats,
		HitRate:      cacheStats.GetHitRate(),
		Endpoints:    c.metrics.Snapshot(),
	}
}

// Close releases the cache backend.
func (c *Client) Close() error {
	if closer, ok := c.cache.(io.Closer); ok {
		err := closer.Close()
		if err != nil {
			return fmt.Errorf("closing cache: %w", err)
		}
	}

	return nil
}
