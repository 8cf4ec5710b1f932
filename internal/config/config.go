// Package config loads gateway settings from flags, environment variables
// and an optional YAML file through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/internal/telemetry"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
	"github.com/fivetwenty-io/firefly-mcp/pkg/fireflyclient"
)

// Static errors for err113 compliance.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Viper keys.
const (
	KeyBaseURL            = "base_url"
	KeyToken              = "token"
	KeyCacheEnabled       = "cache.enabled"
	KeyCacheBackend       = "cache.backend"
	KeyCacheDefaultTTL    = "cache.default_ttl"
	KeyCacheTTL           = "cache.ttl"
	KeyCacheMaxSize       = "cache.max_size"
	KeyCacheNATSURL       = "cache.nats.url"
	KeyCacheNATSBucket    = "cache.nats.bucket"
	KeyCacheNATSTTL       = "cache.nats.ttl"
	KeyCacheNATSReplicas  = "cache.nats.replicas"
	KeyPageSize           = "pagination.page_size"
	KeyMaxPages           = "pagination.max_pages"
	KeyHTTPTimeout        = "http.timeout"
	KeyHTTPRetryWait      = "http.retry_wait"
	KeyHTTPUserAgent      = "http.user_agent"
	KeyHTTPRateLimit      = "http.rate_limit"
	KeyHTTPAllowInsecure  = "http.allow_insecure"
	KeyHTTPDebug          = "http.debug"
	KeyLogLevel           = "log.level"
	KeyLogFormat          = "log.format"
	KeyTelemetryExporter  = "telemetry.exporter"
	KeyTelemetryEndpoint  = "telemetry.otlp_endpoint"
	KeyTelemetryInsecure  = "telemetry.otlp_insecure"
	KeyServerTransport    = "server.transport"
	KeyServerAddr         = "server.addr"
	KeyOutput             = "output"
	defaultConfigDirName  = ".firefly-mcp"
	defaultConfigFileName = "config"
)

// Config is the full gateway configuration.
type Config struct {
	BaseURL    string           `json:"base_url"   mapstructure:"base_url"   validate:"required,url" yaml:"base_url"`
	Token      string           `json:"token"      mapstructure:"token"      validate:"required"     yaml:"token"`
	Cache      CacheConfig      `json:"cache"      mapstructure:"cache"                              yaml:"cache"`
	Pagination PaginationConfig `json:"pagination" mapstructure:"pagination"                         yaml:"pagination"`
	HTTP       HTTPConfig       `json:"http"       mapstructure:"http"                               yaml:"http"`
	Log        LogConfig        `json:"log"        mapstructure:"log"                                yaml:"log"`
	Telemetry  TelemetryConfig  `json:"telemetry"  mapstructure:"telemetry"                          yaml:"telemetry"`
	Server     ServerConfig     `json:"server"     mapstructure:"server"                             yaml:"server"`
}

// CacheConfig selects and sizes the read cache.
type CacheConfig struct {
	Enabled    bool                     `json:"enabled"     mapstructure:"enabled"                                              yaml:"enabled"`
	Backend    string                   `json:"backend"     mapstructure:"backend"     validate:"oneof=memory nats tiered none" yaml:"backend"`
	DefaultTTL time.Duration            `json:"default_ttl" mapstructure:"default_ttl" validate:"gte=0"                         yaml:"default_ttl"`
	TTL        map[string]time.Duration `json:"ttl"         mapstructure:"ttl"                                                  yaml:"ttl"`
	MaxSize    int                      `json:"max_size"    mapstructure:"max_size"    validate:"min=1"                         yaml:"max_size"`
	NATS       NATSConfig               `json:"nats"        mapstructure:"nats"                                                 yaml:"nats"`
}

// NATSConfig configures the JetStream key/value cache backend.
type NATSConfig struct {
	URL      string        `json:"url"      mapstructure:"url"                       yaml:"url"`
	Bucket   string        `json:"bucket"   mapstructure:"bucket"                    yaml:"bucket"`
	TTL      time.Duration `json:"ttl"      mapstructure:"ttl"      validate:"gte=0" yaml:"ttl"`
	Replicas int           `json:"replicas" mapstructure:"replicas" validate:"gte=0" yaml:"replicas"`
}

// PaginationConfig sets the page size and all-pages cap.
type PaginationConfig struct {
	PageSize int `json:"page_size" mapstructure:"page_size" validate:"min=1,max=500" yaml:"page_size"`
	MaxPages int `json:"max_pages" mapstructure:"max_pages" validate:"min=1"         yaml:"max_pages"`
}

// HTTPConfig configures the outbound transport.
type HTTPConfig struct {
	Timeout       time.Duration `json:"timeout"        mapstructure:"timeout"        validate:"gte=0" yaml:"timeout"`
	RetryWait     time.Duration `json:"retry_wait"     mapstructure:"retry_wait"     validate:"gte=0" yaml:"retry_wait"`
	UserAgent     string        `json:"user_agent"     mapstructure:"user_agent"                      yaml:"user_agent"`
	RateLimit     int           `json:"rate_limit"     mapstructure:"rate_limit"     validate:"gte=0" yaml:"rate_limit"`
	AllowInsecure bool          `json:"allow_insecure" mapstructure:"allow_insecure"                  yaml:"allow_insecure"`
	Debug         bool          `json:"debug"          mapstructure:"debug"                           yaml:"debug"`
	// Headers are extra request headers, e.g. for a reverse proxy in front of Firefly III.
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers" yaml:"headers,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"  mapstructure:"level"  validate:"oneof=debug info warn warning error" yaml:"level"`
	Format string `json:"format" mapstructure:"format" validate:"oneof=text json"                     yaml:"format"`
}

// TelemetryConfig selects the OpenTelemetry exporter.
type TelemetryConfig struct {
	Exporter     string `json:"exporter"      mapstructure:"exporter"      validate:"oneof=none stdout otlp"    yaml:"exporter"`
	OTLPEndpoint string `json:"otlp_endpoint" mapstructure:"otlp_endpoint" validate:"required_if=Exporter otlp" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure" mapstructure:"otlp_insecure"                                      yaml:"otlp_insecure"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport string `json:"transport" mapstructure:"transport" validate:"oneof=stdio http"           yaml:"transport"`
	Addr      string `json:"addr"      mapstructure:"addr"      validate:"required_if=Transport http" yaml:"addr"`
}

var configValidator = newValidator()

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return field.Name
		}

		return name
	})

	return validate
}

// SetDefaults registers every key with its default value. Keys must be
// registered for AutomaticEnv to apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyCacheEnabled, true)
	v.SetDefault(KeyCacheBackend, string(firefly.CacheTypeMemory))
	v.SetDefault(KeyCacheDefaultTTL, constants.DefaultCacheTTL)
	v.SetDefault(KeyCacheMaxSize, constants.DefaultCacheSize)
	v.SetDefault(KeyCacheNATSURL, "")
	v.SetDefault(KeyCacheNATSBucket, constants.DefaultNATSBucket)
	v.SetDefault(KeyCacheNATSTTL, time.Duration(0))
	v.SetDefault(KeyCacheNATSReplicas, 1)
	v.SetDefault(KeyPageSize, constants.DefaultPageSize)
	v.SetDefault(KeyMaxPages, constants.DefaultMaxPages)
	v.SetDefault(KeyHTTPTimeout, constants.DefaultHTTPTimeout)
	v.SetDefault(KeyHTTPRetryWait, constants.DefaultRetryWait)
	v.SetDefault(KeyHTTPUserAgent, constants.DefaultUserAgent)
	v.SetDefault(KeyHTTPRateLimit, 0)
	v.SetDefault(KeyHTTPAllowInsecure, false)
	v.SetDefault(KeyHTTPDebug, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyTelemetryExporter, telemetry.ExporterNone)
	v.SetDefault(KeyTelemetryEndpoint, "")
	v.SetDefault(KeyTelemetryInsecure, false)
	v.SetDefault(KeyServerTransport, constants.TransportStdio)
	v.SetDefault(KeyServerAddr, constants.DefaultHTTPAddr)
	v.SetDefault(KeyOutput, constants.FormatTable)
}

// Setup prepares v: defaults, FIREFLY_ environment variables and the config
// file. An explicit cfgFile must exist; the default file is optional.
func Setup(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// FIREFLY_URL is the documented name; FIREFLY_BASE_URL follows the key.
	_ = v.BindEnv(KeyBaseURL, constants.EnvPrefix+"_URL", constants.EnvPrefix+"_BASE_URL")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)

		err := v.ReadInConfig()
		if err != nil {
			return fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}

		return nil
	}

	dir, err := DefaultDir()
	if err != nil {
		return nil //nolint:nilerr // No home directory means no default config file.
	}

	v.AddConfigPath(dir)
	v.SetConfigName(defaultConfigFileName)
	v.SetConfigType("yml")

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		return fmt.Errorf("reading config file: %w", err)
	}

	return nil
}

// DefaultDir returns $HOME/.firefly-mcp.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}

	return filepath.Join(home, defaultConfigDirName), nil
}

// Decode unmarshals v without validating.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config

	err := v.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	config.Token = strings.TrimSpace(config.Token)

	return &config, nil
}

// Load decodes and validates v.
func Load(v *viper.Viper) (*Config, error) {
	config, err := Decode(v)
	if err != nil {
		return nil, err
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks required values first, naming their environment
// variables, then every field constraint.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return constants.ErrBaseURLRequired
	}

	if c.Token == "" {
		return constants.ErrTokenRequired
	}

	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	messages := make([]string, 0, len(fieldErrors))

	for _, fieldError := range fieldErrors {
		messages = append(messages, describe(fieldError))
	}

	sort.Strings(messages)

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
}

// describe renders "cache.backend: must be one of [memory nats tiered none]".
func describe(fieldError validator.FieldError) string {
	key := fieldError.Namespace()
	if _, rest, found := strings.Cut(key, "."); found {
		key = rest
	}

	switch fieldError.Tag() {
	case "required", "required_if":
		return key + ": required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", key, fieldError.Param())
	case "min", "gte":
		return fmt.Sprintf("%s: must be at least %s", key, fieldError.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s", key, fieldError.Param())
	case "url":
		return key + ": must be a URL"
	default:
		return fmt.Sprintf("%s: failed %s", key, fieldError.Tag())
	}
}

// Redacted returns a copy with the token masked.
func (c *Config) Redacted() *Config {
	redacted := *c
	if redacted.Token != "" {
		redacted.Token = constants.MaskedSecret
	}

	return &redacted
}

// ClientConfig maps the configuration onto a gateway client config.
func (c *Config) ClientConfig(logger firefly.Logger) *fireflyclient.Config {
	backend := firefly.CacheType(c.Cache.Backend)
	if !c.Cache.Enabled {
		backend = firefly.CacheTypeNone
	}

	cacheConfig := &firefly.CacheConfig{
		Type:   backend,
		Memory: &firefly.MemoryCacheConfig{MaxSize: c.Cache.MaxSize},
	}

	if backend == firefly.CacheTypeNATS || backend == firefly.CacheTypeTiered {
		cacheConfig.NATS = &firefly.NATSKVConfig{
			URL:      c.Cache.NATS.URL,
			Bucket:   c.Cache.NATS.Bucket,
			TTL:      c.Cache.NATS.TTL,
			Replicas: c.Cache.NATS.Replicas,
		}
	}

	return &fireflyclient.Config{
		BaseURL:       c.BaseURL,
		Token:         c.Token,
		AllowInsecure: c.HTTP.AllowInsecure,
		HTTPTimeout:   c.HTTP.Timeout,
		RetryWait:     c.HTTP.RetryWait,
		UserAgent:     c.HTTP.UserAgent,
		RateLimit:     c.HTTP.RateLimit,
		Debug:         c.HTTP.Debug,
		Headers:       c.HTTP.Headers,
		Logger:        logger,
		Cache:         cacheConfig,
		CachingPolicy: &firefly.CachingPolicy{
			Enabled:      c.Cache.Enabled,
			DefaultTTL:   c.Cache.DefaultTTL,
			TTLOverrides: c.Cache.TTL,
		},
		Pagination: &firefly.PaginationOptions{
			PageSize: c.Pagination.PageSize,
			MaxPages: c.Pagination.MaxPages,
		},
	}
}

// TelemetrySettings returns the telemetry exporter settings.
func (c *Config) TelemetrySettings() telemetry.Config {
	return telemetry.Config{
		Exporter:     c.Telemetry.Exporter,
		OTLPEndpoint: c.Telemetry.OTLPEndpoint,
		OTLPInsecure: c.Telemetry.OTLPInsecure,
	}
}
