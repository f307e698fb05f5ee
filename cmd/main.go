package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/addrnorm/internal/address"
	"github.com/l0p7/addrnorm/internal/api"
	"github.com/l0p7/addrnorm/internal/cache"
	"github.com/l0p7/addrnorm/internal/config"
	"github.com/l0p7/addrnorm/internal/dadata"
	"github.com/l0p7/addrnorm/internal/logging"
	"github.com/l0p7/addrnorm/internal/metrics"
	"github.com/l0p7/addrnorm/internal/server"
)

type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
	Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error)
}

type configWatcher interface {
	Stop()
}

type runnableServer interface {
	Run(ctx context.Context) error
}

type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	w, err := l.Loader.Watch(ctx, onChange, onError)
	if err != nil {
		return nil, err
	}
	return w, nil
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return fileLoader{config.NewLoader(envPrefix, configFile)}
	}
	newHTTPServer = func(cfg config.ServerConfig, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file (yaml, json or toml)")
		envPrefix  = flag.String("env-prefix", "ADDRNORM", "environment variable prefix")
		envFile    = flag.String("env-file", ".env", "optional dotenv file loaded before configuration")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("failed to load %s: %v", *envFile, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	store := buildSuggestionCache(logger.With(slog.String("agent", "cache_factory")), cfg.Cache)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	upstream, closeUpstream := buildUpstream(logger, cfg.DaData)
	defer closeUpstream()

	client := address.NewClient(logger, address.Options{
		Upstream:            upstream,
		Cache:               store,
		Metrics:             metricsRecorder,
		DefaultRegionFiasID: cfg.DaData.DefaultRegionFiasID,
		SkipSegments:        cfg.Address.SkipSegments,
	})

	handlers, err := api.New(logger, client, api.Options{
		MaxCount:          cfg.API.MaxCount,
		SuggestionFilter:  cfg.API.SuggestionFilter,
		EnrichLabel:       cfg.API.EnrichLabelTemplate,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
	})
	if err != nil {
		return fmt.Errorf("build api: %w", err)
	}

	if strings.TrimSpace(configFile) != "" {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			policy, err := next.Cache.TTL.Policy()
			if err != nil {
				logger.Error("reloaded cache policy invalid", slog.Any("error", err))
				return
			}
			store.SetPolicy(policy)
			logger.Info("cache policy reloaded",
				slog.Duration("city", policy.City),
				slog.Duration("district", policy.District),
				slog.Duration("street", policy.Street),
				slog.Duration("default", policy.Default))
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewHandler(handlers, server.RouterOptions{
		Metrics:    metricsRecorder.Handler(),
		AdminToken: cfg.Server.Admin.Token,
	})

	srv, err := newHTTPServer(cfg.Server, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

func buildUpstream(logger *slog.Logger, cfg config.DaDataConfig) (address.Upstream, func()) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, func() {}
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		logger.Warn("invalid suggestions api timeout, using default", slog.Any("error", err))
		timeout = dadata.DefaultTimeout
	}
	client, err := dadata.NewClient(dadata.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		BaseURL:   cfg.BaseURL,
		Timeout:   timeout,
		RateLimit: cfg.RateLimit,
	})
	if err != nil {
		logger.Error("suggestions api client setup failed", slog.Any("error", err))
		return nil, func() {}
	}
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn("suggestions api client close failed", slog.Any("error", err))
		}
	}
}

func buildSuggestionCache(logger *slog.Logger, cfg config.CacheConfig) cache.Store[[]address.Suggestion] {
	policy, err := cfg.TTL.Policy()
	if err != nil {
		if logger != nil {
			logger.Warn("invalid cache ttl policy, using defaults", slog.Any("error", err))
		}
		policy = cache.DefaultPolicy()
	}
	opts := []cache.Option{
		cache.WithPolicy(policy),
		cache.WithMaxEntries(cfg.MaxEntries),
		cache.WithNamespace(cfg.Namespace),
	}

	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory suggestion cache", slog.Int("max_entries", cfg.MaxEntries))
		}
		return cache.NewMemory[[]address.Suggestion](opts...)
	case "redis":
		redisCache, err := cache.NewRedis[[]address.Suggestion](cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		}, opts...)
		if err != nil {
			if logger != nil {
				logger.Error("redis cache initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory cache")
			}
			return cache.NewMemory[[]address.Suggestion](opts...)
		}
		if logger != nil {
			logger.Info("using redis suggestion cache", slog.String("address", cfg.Redis.Address))
		}
		return redisCache
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory[[]address.Suggestion](opts...)
	}
}
