package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bimakw/log-harvester/internal/application/services"
	"github.com/bimakw/log-harvester/internal/config"
	"github.com/bimakw/log-harvester/internal/domain/entities"
	"github.com/bimakw/log-harvester/internal/domain/repositories"
	"github.com/bimakw/log-harvester/internal/infrastructure/cache"
	"github.com/bimakw/log-harvester/internal/infrastructure/checkpoint"
	"github.com/bimakw/log-harvester/internal/infrastructure/ethereum"
	"github.com/bimakw/log-harvester/internal/infrastructure/output"
	"github.com/bimakw/log-harvester/internal/infrastructure/rpc"
	"github.com/bimakw/log-harvester/internal/metrics"
	"github.com/bimakw/log-harvester/internal/presentation/handlers"
	"github.com/bimakw/log-harvester/internal/presentation/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting log-harvester",
		zap.Uint64("chain_id", cfg.Chain.ChainID),
		zap.Strings("rpc_urls", cfg.Endpoints.URLs),
		zap.String("from", cfg.Chain.FromBlock),
		zap.String("to", cfg.Chain.ToBlock),
	)

	// Cancel on shutdown signal; in-flight work drains before exit
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Redis capability cache (optional)
	var capCache *cache.CapabilityCache
	if cfg.Redis.Enabled() {
		capCache, err = cache.NewCapabilityCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Failed to connect to Redis, probing without cache", zap.Error(err))
			capCache = nil
		} else {
			defer capCache.Close()
		}
	}

	// Build the endpoint pool
	pool, err := buildPool(ctx, cfg, capCache, logger)
	if err != nil {
		logger.Fatal("Failed to build endpoint pool", zap.Error(err))
	}

	// Open the checkpoint store
	var checkpoints repositories.CheckpointRepository
	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.NewStore(cfg.Checkpoint.Path, logger)
		if err != nil {
			logger.Fatal("Failed to open checkpoint store", zap.Error(err))
		}
		defer store.Close()
		checkpoints = store
	} else {
		checkpoints = noopCheckpoints{}
	}

	// Open the output writer
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		logger.Fatal("Invalid output format", zap.Error(err))
	}
	writer, err := output.New(format, cfg.Output.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open output", zap.Error(err))
	}

	var decoder services.Decoder
	if cfg.Fetcher.DecodeEvents {
		decoder = ethereum.DecodeKnown
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	fetcher := services.NewStreamingFetcher(
		pool,
		checkpoints,
		writer,
		decoder,
		m,
		services.FetcherConfig{
			Concurrency:   cfg.Fetcher.Concurrency,
			MaxRange:      cfg.Fetcher.MaxRange,
			ReorderBuffer: cfg.Fetcher.ReorderBuffer,
			Retry: rpc.RetryConfig{
				MaxAttempts:    cfg.Fetcher.MaxAttempts,
				BaseDelay:      cfg.Fetcher.RetryBaseDelay,
				MaxDelay:       cfg.Fetcher.RetryMaxDelay,
				JitterFraction: 0.2,
			},
		},
		logger,
	)

	// Start the status API
	if cfg.API.Enabled {
		var cacheChecker handlers.HealthChecker
		if capCache != nil {
			cacheChecker = capCache
		}
		go startStatusServer(ctx, cfg.API, handlers.NewStatusHandler(fetcher, pool, cacheChecker), logger)
	}

	query, err := buildQuery(cfg)
	if err != nil {
		logger.Fatal("Invalid query configuration", zap.Error(err))
	}

	stats, err := fetcher.Run(ctx, query)
	if werr := writer.Finalize(); werr != nil {
		logger.Error("Failed to finalize output", zap.Error(werr))
	}
	if err != nil {
		logger.Error("Harvest failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Harvest finished",
		zap.Uint64("logs", stats.TotalLogs),
		zap.Int("chunks", stats.ChunksCompleted),
		zap.Int("failed_ranges", len(stats.FailedRanges)),
		zap.Int64("requests", stats.RequestsIssued),
		zap.Int64("retries", stats.Retries),
		zap.Int64("decode_failures", stats.DecodeFailures),
		zap.Duration("duration", stats.Duration),
	)
	for _, fr := range stats.FailedRanges {
		logger.Warn("Range not harvested",
			zap.String("range", fr.Range.String()),
			zap.String("reason", fr.Reason),
		)
	}
	if len(stats.FailedRanges) > 0 {
		os.Exit(2)
	}
}

// buildPool dials every configured URL, resolving capabilities from the
// cache or live probes
func buildPool(ctx context.Context, cfg *config.Config, capCache *cache.CapabilityCache, logger *zap.Logger) (*rpc.Pool, error) {
	optimizer := rpc.NewOptimizer(logger)
	health := rpc.NewHealthTracker(cfg.Endpoints.RateLimitCooldown)

	var clients []*rpc.Client
	for i, url := range cfg.Endpoints.URLs {
		ep := entities.Endpoint{
			ID:      fmt.Sprintf("endpoint-%d", i),
			URL:     url,
			ChainID: cfg.Chain.ChainID,
			Enabled: true,
		}

		client, err := rpc.DialEndpoint(ctx, ep, logger)
		if err != nil {
			logger.Warn("Skipping unreachable endpoint", zap.String("url", url), zap.Error(err))
			continue
		}
		if err := optimizer.TestConnectivity(ctx, client); err != nil {
			logger.Warn("Skipping unresponsive endpoint", zap.String("url", url), zap.Error(err))
			continue
		}

		resolved := resolveCapabilities(ctx, cfg, ep, client, optimizer, capCache, logger)
		probed := rpc.NewClient(resolved, client.Chain(), logger)
		probed.SetRequestTimeout(cfg.Endpoints.RequestTimeout)
		clients = append(clients, probed)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no reachable endpoints")
	}
	return rpc.NewPool(clients, health, logger), nil
}

func resolveCapabilities(
	ctx context.Context,
	cfg *config.Config,
	ep entities.Endpoint,
	client *rpc.Client,
	optimizer *rpc.Optimizer,
	capCache *cache.CapabilityCache,
	logger *zap.Logger,
) entities.Endpoint {
	if capCache != nil {
		if cached, err := capCache.GetEndpoint(ctx, ep.URL); err == nil {
			logger.Info("Using cached endpoint capabilities", zap.String("url", ep.URL))
			cached.ID = ep.ID
			cached.Enabled = true
			return *cached
		}
	}

	if !cfg.Endpoints.ProbeOnStartup {
		ep.MaxRange = rpc.DefaultMaxRange
		return ep
	}

	raw, err := gethrpc.DialContext(ctx, ep.URL)
	if err != nil {
		logger.Warn("Raw dial failed, probing without debug check", zap.String("url", ep.URL), zap.Error(err))
	} else {
		defer raw.Close()
	}

	var rawCaller rpc.RawCaller
	if raw != nil {
		rawCaller = raw
	}

	probed, err := optimizer.Optimize(ctx, client, rawCaller)
	if err != nil {
		logger.Warn("Probe failed, assuming conservative capabilities", zap.String("url", ep.URL), zap.Error(err))
		ep.MaxRange = rpc.DefaultMaxRange
		return ep
	}

	if capCache != nil {
		if err := capCache.SetEndpoint(ctx, probed); err != nil {
			logger.Warn("Failed to cache endpoint capabilities", zap.Error(err))
		}
	}
	return probed
}

func buildQuery(cfg *config.Config) (services.FetchQuery, error) {
	from, err := entities.ParseBlockNumber(cfg.Chain.FromBlock)
	if err != nil {
		return services.FetchQuery{}, fmt.Errorf("invalid CHAIN_FROM_BLOCK: %w", err)
	}
	to, err := entities.ParseBlockNumber(cfg.Chain.ToBlock)
	if err != nil {
		return services.FetchQuery{}, fmt.Errorf("invalid CHAIN_TO_BLOCK: %w", err)
	}

	contracts := make([]common.Address, 0, len(cfg.Chain.Contracts))
	for _, c := range cfg.Chain.Contracts {
		if !common.IsHexAddress(c) {
			return services.FetchQuery{}, fmt.Errorf("invalid contract address %q", c)
		}
		contracts = append(contracts, common.HexToAddress(c))
	}

	// configured topics filter event signatures, the first topic position
	var topics [][]common.Hash
	if len(cfg.Chain.Topics) > 0 {
		position0 := make([]common.Hash, 0, len(cfg.Chain.Topics))
		for _, t := range cfg.Chain.Topics {
			position0 = append(position0, common.HexToHash(t))
		}
		topics = append(topics, position0)
	}

	return services.FetchQuery{
		ChainID:        cfg.Chain.ChainID,
		Contracts:      contracts,
		Topics:         topics,
		From:           from,
		To:             to,
		Tag:            cfg.Checkpoint.Tag,
		RequireArchive: cfg.Endpoints.RequireArchive,
	}, nil
}

func startStatusServer(ctx context.Context, cfg config.APIConfig, handler *handlers.StatusHandler, logger *zap.Logger) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RateLimiter(cfg.RateLimitRPS))

	r.Get("/health", handler.Health)
	r.Get("/live", handler.Live)
	r.Get("/status/progress", handler.Progress)
	r.Get("/status/endpoints", handler.Endpoints)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Status API starting", zap.String("addr", cfg.Addr()))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Status API error", zap.Error(err))
	}
}

// noopCheckpoints disables resume tracking when checkpoints are off
type noopCheckpoints struct{}

func (noopCheckpoints) Load(ctx context.Context, key string) (*repositories.Checkpoint, error) {
	return nil, nil
}

func (noopCheckpoints) MarkComplete(ctx context.Context, key string, r entities.BlockRange, logCount uint64) error {
	return nil
}

func (noopCheckpoints) Residual(ctx context.Context, key string, full entities.BlockRange) ([]entities.BlockRange, error) {
	return []entities.BlockRange{full}, nil
}

func (noopCheckpoints) Delete(ctx context.Context, key string) error {
	return nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		// records may stream to stdout, so logs go to stderr
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}
