package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Credential variables read without the service prefix so deployments can
// share them with other tools that talk to the same API.
const (
	EnvAPIKey    = "DADATA_API_KEY"
	EnvSecretKey = "DADATA_SECRET_KEY"
)

// Loader hydrates the runtime configuration while respecting
// credentials env > prefixed env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator over the given prefix and files.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the non-empty configuration paths the loader reads.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.logging.correlationheader": "server.logging.correlationHeader",
			"cache.maxentries":                 "cache.maxEntries",
			"cache.redis.tls.cafile":           "cache.redis.tls.caFile",
			"dadata.apikey":                    "dadata.apiKey",
			"dadata.secretkey":                 "dadata.secretKey",
			"dadata.baseurl":                   "dadata.baseURL",
			"dadata.ratelimit":                 "dadata.rateLimit",
			"dadata.defaultregionfiasid":       "dadata.defaultRegionFiasId",
			"address.skipsegments":             "address.skipSegments",
			"api.maxcount":                     "api.maxCount",
			"api.suggestionfilter":             "api.suggestionFilter",
			"api.enrichlabeltemplate":          "api.enrichLabelTemplate",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (ADDRNORM_SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	credentials := func(s string) string {
		switch s {
		case EnvAPIKey:
			return "dadata.apiKey"
		case EnvSecretKey:
			return "dadata.secretKey"
		default:
			return ""
		}
	}
	if err := k.Load(env.Provider("DADATA_", ".", credentials), nil); err != nil {
		return Config{}, fmt.Errorf("config: load credentials env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.DaData.APIKey = strings.TrimSpace(cfg.DaData.APIKey)
	cfg.DaData.SecretKey = strings.TrimSpace(cfg.DaData.SecretKey)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %s", ext)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"admin": map[string]any{
				"token": cfg.Server.Admin.Token,
			},
		},
		"cache": map[string]any{
			"backend":    cfg.Cache.Backend,
			"maxEntries": cfg.Cache.MaxEntries,
			"namespace":  cfg.Cache.Namespace,
			"ttl": map[string]any{
				"city":     cfg.Cache.TTL.City,
				"district": cfg.Cache.TTL.District,
				"street":   cfg.Cache.TTL.Street,
				"default":  cfg.Cache.TTL.Default,
			},
			"redis": map[string]any{
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
		},
		"dadata": map[string]any{
			"apiKey":              cfg.DaData.APIKey,
			"secretKey":           cfg.DaData.SecretKey,
			"baseURL":             cfg.DaData.BaseURL,
			"timeout":             cfg.DaData.Timeout,
			"rateLimit":           cfg.DaData.RateLimit,
			"defaultRegionFiasId": cfg.DaData.DefaultRegionFiasID,
		},
		"address": map[string]any{
			"skipSegments": cfg.Address.SkipSegments,
		},
		"api": map[string]any{
			"maxCount":            cfg.API.MaxCount,
			"suggestionFilter":    cfg.API.SuggestionFilter,
			"enrichLabelTemplate": cfg.API.EnrichLabelTemplate,
		},
	}
}
