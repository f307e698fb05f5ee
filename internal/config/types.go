package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/l0p7/addrnorm/internal/cache"
)

// Config holds every option the service reads at startup.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Cache   CacheConfig   `koanf:"cache"`
	DaData  DaDataConfig  `koanf:"dadata"`
	Address AddressConfig `koanf:"address"`
	API     APIConfig     `koanf:"api"`
}

// ServerConfig collects the HTTP listener and process-wide knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Admin   AdminConfig   `koanf:"admin"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// AdminConfig guards the administrative routes. An empty token disables them.
type AdminConfig struct {
	Token string `koanf:"token"`
}

// CacheConfig selects the suggestion cache backend and its expiration policy.
type CacheConfig struct {
	Backend    string           `koanf:"backend"`
	MaxEntries int              `koanf:"maxEntries"`
	Namespace  string           `koanf:"namespace"`
	TTL        CacheTTLConfig   `koanf:"ttl"`
	Redis      RedisCacheConfig `koanf:"redis"`
}

// CacheTTLConfig holds per-category lifetimes as Go duration strings.
type CacheTTLConfig struct {
	City     string `koanf:"city"`
	District string `koanf:"district"`
	Street   string `koanf:"street"`
	Default  string `koanf:"default"`
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// DaDataConfig carries the suggestions API credentials and transport settings.
type DaDataConfig struct {
	APIKey              string  `koanf:"apiKey"`
	SecretKey           string  `koanf:"secretKey"`
	BaseURL             string  `koanf:"baseURL"`
	Timeout             string  `koanf:"timeout"`
	RateLimit           float64 `koanf:"rateLimit"`
	DefaultRegionFiasID string  `koanf:"defaultRegionFiasId"`
}

// AddressConfig tunes the tokenizer.
type AddressConfig struct {
	SkipSegments []string `koanf:"skipSegments"`
}

// APIConfig shapes the HTTP facade responses.
type APIConfig struct {
	MaxCount            int    `koanf:"maxCount"`
	SuggestionFilter    string `koanf:"suggestionFilter"`
	EnrichLabelTemplate string `koanf:"enrichLabelTemplate"`
}

// Policy converts the configured TTL strings into a cache policy. Blank values
// keep the built-in default for that category.
func (c CacheTTLConfig) Policy() (cache.Policy, error) {
	policy := cache.DefaultPolicy()
	fields := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"city", c.City, &policy.City},
		{"district", c.District, &policy.District},
		{"street", c.Street, &policy.Street},
		{"default", c.Default, &policy.Default},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(f.value))
		if err != nil {
			return cache.Policy{}, fmt.Errorf("config: cache.ttl.%s invalid: %w", f.name, err)
		}
		if d <= 0 {
			return cache.Policy{}, fmt.Errorf("config: cache.ttl.%s must be positive: %s", f.name, f.value)
		}
		*f.dest = d
	}
	return policy, nil
}

// TimeoutDuration parses Timeout, returning zero when unset.
func (c DaDataConfig) TimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(c.Timeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(c.Timeout))
	if err != nil {
		return 0, fmt.Errorf("config: dadata.timeout invalid: %w", err)
	}
	return d, nil
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: cache.maxEntries invalid: %d", c.Cache.MaxEntries)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}
	if _, err := c.Cache.TTL.Policy(); err != nil {
		return err
	}
	timeout, err := c.DaData.TimeoutDuration()
	if err != nil {
		return err
	}
	if timeout < 0 {
		return fmt.Errorf("config: dadata.timeout invalid: %s", c.DaData.Timeout)
	}
	if c.DaData.RateLimit < 0 {
		return fmt.Errorf("config: dadata.rateLimit invalid: %v", c.DaData.RateLimit)
	}
	if c.API.MaxCount < 0 {
		return fmt.Errorf("config: api.maxCount invalid: %d", c.API.MaxCount)
	}
	return nil
}

// DefaultConfig returns the baseline values used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Cache: CacheConfig{
			Backend:    "memory",
			MaxEntries: 10000,
			Namespace:  "addrnorm:",
			TTL: CacheTTLConfig{
				City:     "12h",
				District: "12h",
				Street:   "1h",
				Default:  "1h",
			},
		},
		DaData: DaDataConfig{
			BaseURL:             "https://suggestions.dadata.ru/suggestions/api/4_1/rs",
			Timeout:             "10s",
			DefaultRegionFiasID: "d00e1013-16bd-4c09-b3d5-3cb09fc54bd8",
		},
		Address: AddressConfig{
			SkipSegments: []string{"Россия", "Краснодарский край"},
		},
		API: APIConfig{
			MaxCount: 20,
		},
	}
}
