package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/planner/libs/auth"
	"github.com/md-rashed-zaman/planner/libs/config"
	"github.com/md-rashed-zaman/planner/libs/httpx"
	"github.com/md-rashed-zaman/planner/libs/kafkax"
	otelx "github.com/md-rashed-zaman/planner/libs/otel"
	"github.com/md-rashed-zaman/planner/libs/retry"
	"github.com/md-rashed-zaman/planner/libs/runtime"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/clock"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/consumer"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/handlers"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/scheduling"
	"github.com/md-rashed-zaman/planner/services/calendar-service/internal/teamcal"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	if err := config.LoadFile(config.String("CALENDAR_CONFIG_FILE", "")); err != nil {
		panic(err)
	}

	service := config.String("SERVICE_NAME", "calendar-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	rdb := openRedis(ctx, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	cache := openCache(rdb, service)

	brokers := config.String("KAFKA_BROKERS", "")
	instanceID := resolveInstanceID(config.String("INSTANCE_ID", ""), os.Hostname)
	if brokers != "" && config.String("INSTANCE_ID", "") == "" {
		logger.Warn("INSTANCE_ID not set, using derived id for the kafka consumer group", "instance", instanceID)
	}
	policy := retry.Policy{
		MaxAttempts: config.Int("RETRY_MAX_ATTEMPTS", retry.DefaultMaxAttempts),
		BaseDelay:   config.Duration("RETRY_BASE_DELAY", retry.DefaultBaseDelay),
	}
	svc := scheduling.NewService(store, cache, clock.System{}, logger, scheduling.Config{
		Origin:               instanceID,
		Retry:                policy,
		MaxSeriesOccurrences: config.Int("SERIES_MAX_OCCURRENCES", scheduling.DefaultMaxSeriesOccurrences),
	})
	agg := teamcal.NewAggregator(store, cache, policy, logger)

	publisher := outbox.NewPublisher(store, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	if brokers != "" {
		// Every instance keeps its own cache, so each one reads the full topic in its own group.
		invalidations := consumer.New(logger, cache, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service) + "-" + instanceID,
			Topic:   outbox.Topic,
			Origin:  instanceID,
		})
		go invalidations.Run(ctx)
	}

	checks := []runtime.ReadyCheck{{Name: "store", Check: store.Ping}}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Register(mux, handlers.Routes{
		Calendar:     handlers.NewCalendarHandler(agg, clock.System{}, logger),
		TimeBlocks:   handlers.NewTimeBlockHandler(svc, logger),
		Availability: handlers.NewAvailabilityHandler(svc, logger),
		Timeout:      config.Duration("REQUEST_TIMEOUT", 10*time.Second),
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS", ""))),
		authenticate(logger),
		rateLimit(rdb, logger, service),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "calendar")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", config.String("STORE_DRIVER", "sqlite"), "instance", instanceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// authenticate requires bearer tokens when JWT_SECRET or JWKS_URL is set. Without either, the
// caller header set by the fronting gateway is trusted as is.
func authenticate(logger *slog.Logger) httpx.Middleware {
	var keys auth.KeySource
	if url := config.String("JWKS_URL", ""); url != "" {
		keys = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}
	verifier := auth.NewVerifier(config.String("JWT_SECRET", ""), keys)
	if !verifier.Enabled() {
		logger.Warn("token verification disabled, trusting " + httpx.UserIDHeader)
		return nil
	}
	return auth.RequireBearer(verifier, func(path string) bool {
		return path == "/healthz" || path == "/readyz"
	})
}

// rateLimit shares the budget across replicas through Redis when it is configured, with a
// smaller budget for writes.
func rateLimit(rdb *redis.Client, logger *slog.Logger, service string) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 600)
	if limit <= 0 {
		return nil
	}
	if rdb != nil {
		quota := httpx.Quota{
			Reads:  limit,
			Writes: config.Int("RATE_LIMIT_WRITES_PER_MINUTE", limit/4),
			Window: time.Minute,
		}
		return httpx.NewRedisRateLimiter(rdb, quota, service+":rl", logger).Middleware()
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}
