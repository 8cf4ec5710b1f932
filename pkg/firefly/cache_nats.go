package firefly

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrNATSURLRequired      = errors.New("NATS URL or connection is required")
	ErrUnsupportedKeyPrefix = errors.New("NATS cache only supports category prefixes")
)

// NATSKVConfig configures the JetStream key/value cache backend.
type NATSKVConfig struct {
	// URL of the NATS server. Ignored when Conn is set.
	URL string
	// Conn is an existing connection to use instead of dialing URL.
	Conn *nats.Conn
	// Bucket is the KV bucket name.
	Bucket string
	// TTL is the bucket-level maximum age of any entry.
	TTL time.Duration
	// Replicas is the bucket replica count.
	Replicas int
}

// NATSKVCache stores entries in a JetStream KV bucket so several gateway
// processes can share one cache. Keys are stored as
// "<category>.<sha256 of the cache key>".
type NATSKVCache struct {
	conn    *nats.Conn
	ownConn bool
	kv      jetstream.KeyValue
}

// NewNATSKVCache connects to NATS and opens (or creates) the bucket.
func NewNATSKVCache(ctx context.Context, config *NATSKVConfig) (*NATSKVCache, error) {
	if config == nil || (config.Conn == nil && config.URL == "") {
		return nil, ErrNATSURLRequired
	}

	conn := config.Conn
	ownConn := false

	if conn == nil {
		var err error

		conn, err = nats.Connect(config.URL, nats.Name(constants.ServiceName))
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}

		ownConn = true
	}

	cache, err := openNATSKVCache(ctx, conn, config)
	if err != nil {
		if ownConn {
			conn.Close()
		}

		return nil, err
	}

	cache.ownConn = ownConn

	return cache, nil
}

func openNATSKVCache(ctx context.Context, conn *nats.Conn, config *NATSKVConfig) (*NATSKVCache, error) {
	stream, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	bucket := config.Bucket
	if bucket == "" {
		bucket = constants.DefaultNATSBucket
	}

	kvConfig := jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "firefly-mcp response cache",
		History:     1,
		TTL:         config.TTL,
		Replicas:    config.Replicas,
	}

	kv, err := stream.CreateOrUpdateKeyValue(ctx, kvConfig)
	if err != nil {
		return nil, fmt.Errorf("opening KV bucket %s: %w", bucket, err)
	}

	return &NATSKVCache{conn: conn, kv: kv}, nil
}

// natsKey maps a cache key to a valid KV key.
func natsKey(key string) string {
	category, _, _ := strings.Cut(key, ":")
	sum := sha256.Sum256([]byte(key))

	return category + "." + hex.EncodeToString(sum[:])
}

// Get retrieves an entry.
func (c *NATSKVCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	kvEntry, err := c.kv.Get(ctx, natsKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}

		return nil, fmt.Errorf("reading KV entry: %w", err)
	}

	var entry CacheEntry

	err = json.Unmarshal(kvEntry.Value(), &entry)
	if err != nil {
		return nil, fmt.Errorf("decoding KV entry: %w", err)
	}

	if entry.Expired(time.Now()) {
		_ = c.kv.Delete(ctx, natsKey(key))

		return nil, fmt.Errorf("%w: %s", ErrEntryExpired, key)
	}

	return &entry, nil
}

// Set stores an entry.
func (c *NATSKVCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding KV entry: %w", err)
	}

	_, err = c.kv.Put(ctx, natsKey(key), data)
	if err != nil {
		return fmt.Errorf("writing KV entry: %w", err)
	}

	return nil
}

// Delete removes an entry.
func (c *NATSKVCache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, natsKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("deleting KV entry: %w", err)
	}

	return nil
}

// DeletePrefix removes every entry of a category. prefix must have the form
// "<category>:".
func (c *NATSKVCache) DeletePrefix(ctx context.Context, prefix string) error {
	category, rest, found := strings.Cut(prefix, ":")
	if !found || rest != "" || category == "" {
		return fmt.Errorf("%w: %q", ErrUnsupportedKeyPrefix, prefix)
	}

	return c.deleteMatching(ctx, category+".")
}

// Clear removes every entry in the bucket.
func (c *NATSKVCache) Clear(ctx context.Context) error {
	return c.deleteMatching(ctx, "")
}

func (c *NATSKVCache) deleteMatching(ctx context.Context, prefix string) error {
	lister, err := c.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}

		return fmt.Errorf("listing KV keys: %w", err)
	}

	var keys []string

	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	_ = lister.Stop()

	for _, key := range keys {
		err := c.kv.Delete(ctx, key)
		if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("deleting KV entry: %w", err)
		}
	}

	return nil
}

// Has checks whether an unexpired entry exists.
func (c *NATSKVCache) Has(ctx context.Context, key string) bool {
	_, err := c.Get(ctx, key)

	return err == nil
}

// Close closes the NATS connection if this cache opened it.
func (c *NATSKVCache) Close() error {
	if c.ownConn && c.conn != nil {
		c.conn.Close()
	}

	return nil
}
