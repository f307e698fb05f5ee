package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

const (
	scanBatch = 200

	// lenCacheTTL bounds how often Len rescans the namespace.
	lenCacheTTL = 5 * time.Second
)

// evictScript deletes a key only while it still holds the payload the caller
// judged expired, so a concurrent Store is never lost.
var evictScript = valkey.NewLuaScript(`if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end return 0`)

type redisStore[V any] struct {
	client    valkey.Client
	now       func() time.Time
	namespace string

	mu     sync.RWMutex
	policy Policy

	lenMu       sync.Mutex
	lenValue    int64
	lenObserved time.Time
	lenValid    bool
}

// NewRedis connects to a valkey/redis server. Keys are written with a PX
// matching the category TTL and are re-checked against the current policy on
// every lookup so a shortened policy takes effect before the server expires
// the key.
func NewRedis[V any](cfg RedisConfig, opts ...Option) (Store[V], error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: redis address required")
	}
	o := buildOptions(opts)

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisStore[V]{
		client:    client,
		now:       o.now,
		namespace: o.namespace,
		policy:    o.policy,
	}, nil
}

func (c *redisStore[V]) Lookup(ctx context.Context, key string) (V, bool, error) {
	var zero V
	resp := c.client.Do(ctx, c.client.B().Get().Key(c.namespace+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return zero, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry[V]
	if err := json.Unmarshal(payload, &entry); err != nil {
		return zero, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	if entry.Expired(c.now(), c.currentPolicy()) {
		if _, err := c.evictIfUnchanged(ctx, c.namespace+key, payload); err != nil {
			return zero, false, err
		}
		return zero, false, nil
	}
	return entry.Value, true, nil
}

func (c *redisStore[V]) Store(ctx context.Context, key string, value V, category Category) error {
	entry := Entry[V]{Value: value, Category: category, StoredAt: c.now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	ttl := c.currentPolicy().TTL(category)
	cmd := c.client.B().Set().Key(c.namespace + key).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Clear deletes only keys under the store's namespace; the database may be
// shared with other tenants.
func (c *redisStore[V]) Clear(ctx context.Context) error {
	defer c.invalidateLen()
	return c.scan(ctx, func(keys []string) error {
		if err := c.client.Do(ctx, c.client.B().Del().Key(keys...).Build()).Error(); err != nil {
			return fmt.Errorf("cache: redis del: %w", err)
		}
		return nil
	})
}

// Len counts the keys under the namespace. The count is reused for
// lenCacheTTL so frequent health checks do not rescan the keyspace.
func (c *redisStore[V]) Len(ctx context.Context) (int64, error) {
	c.lenMu.Lock()
	defer c.lenMu.Unlock()
	now := c.now()
	if c.lenValid && now.Sub(c.lenObserved) < lenCacheTTL {
		return c.lenValue, nil
	}
	var total int64
	err := c.scan(ctx, func(keys []string) error {
		total += int64(len(keys))
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.lenValue, c.lenObserved, c.lenValid = total, now, true
	return total, nil
}

func (c *redisStore[V]) invalidateLen() {
	c.lenMu.Lock()
	c.lenValid = false
	c.lenMu.Unlock()
}

// evictIfUnchanged removes fullKey when it still holds payload and reports
// whether it did.
func (c *redisStore[V]) evictIfUnchanged(ctx context.Context, fullKey string, payload []byte) (bool, error) {
	deleted, err := evictScript.Exec(ctx, c.client, []string{fullKey}, []string{string(payload)}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("cache: redis evict: %w", err)
	}
	return deleted > 0, nil
}

func (c *redisStore[V]) SetPolicy(policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

func (c *redisStore[V]) Close(context.Context) error {
	c.client.Close()
	return nil
}

func (c *redisStore[V]) currentPolicy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

func (c *redisStore[V]) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		cmd := c.client.B().Scan().Cursor(cursor).Match(c.namespace + "*").Count(scanBatch).Build()
		entry, err := c.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: redis scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			if err := fn(entry.Elements); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}
