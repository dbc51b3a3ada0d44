package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hairhub/platform/libs/auth"
	"github.com/hairhub/platform/libs/config"
	"github.com/hairhub/platform/libs/db"
	"github.com/hairhub/platform/libs/grpcx"
	"github.com/hairhub/platform/libs/httpx"
	"github.com/hairhub/platform/libs/kafkax"
	otelx "github.com/hairhub/platform/libs/otel"
	"github.com/hairhub/platform/libs/runtime"
	"github.com/hairhub/platform/services/booking-service/internal/booking"
	"github.com/hairhub/platform/services/booking-service/internal/handlers"
	"github.com/hairhub/platform/services/booking-service/internal/jobs"
	"github.com/hairhub/platform/services/booking-service/internal/outbox"
	"github.com/hairhub/platform/services/booking-service/internal/review"
	"github.com/hairhub/platform/services/booking-service/internal/storage"
)

// store is everything the service needs from a persistence backend.
type store interface {
	booking.Store
	booking.Directory
	review.Store
	jobs.BusinessLister
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service)
	if err := run(service, logger); err != nil {
		logger.Error("booking service failed", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	loc, err := config.Location("BOOKING_TIMEZONE", time.UTC)
	if err != nil {
		return err
	}
	slotStep, err := config.Int("SLOT_STEP_MINUTES", 15)
	if err != nil {
		return err
	}
	pollEvery, err := config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return err
	}
	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))

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

	var (
		st     store
		checks []runtime.ReadyCheck
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.PoolConfig{})
		if err != nil {
			return err
		}
		defer pool.Close()

		if config.Bool("MIGRATE_ON_START", true) {
			applied, err := db.Migrate(ctx, pool, storage.Migrations())
			if err != nil {
				return err
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", "files", applied)
			}
		}

		events := outbox.NewRepository()
		st = storage.NewPostgres(pool, events)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, events, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: pollEvery,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
	} else {
		mem, err := memoryStore(logger)
		if err != nil {
			return err
		}
		st = mem
	}
	if len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	bookings := booking.NewService(st, st, logger, booking.Config{
		Location: loc,
		SlotStep: time.Duration(slotStep) * time.Minute,
	})
	reviews := review.NewService(st, st, logger)

	if spec := config.String("RATING_RECONCILE_CRON", "*/30 * * * *"); spec != "" {
		scheduler := jobs.NewCron(logger)
		reconciler := jobs.NewRatingReconciler(st, reviews, logger, 5*time.Minute)
		if _, err := reconciler.Schedule(ctx, scheduler, spec); err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	generalLimit, bookingLimit, err := rateLimits(ctx, logger)
	if err != nil {
		return err
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewBookingHandler(bookings, reviews, logger).Register(mux, bookingLimit)

	timeoutSeconds, err := config.Int("REQUEST_TIMEOUT_SECONDS", 15)
	if err != nil {
		return err
	}
	bodyLimit, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		return err
	}
	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, 10*time.Minute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		auth.RequireAuth(verifier),
		generalLimit,
		httpx.WithBodyLimit(int64(bodyLimit)),
		httpx.WithTimeout(time.Duration(timeoutSeconds)*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcx.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return err
	}
	go grpcSrv.Serve(ctx, lis)
	go grpcSrv.WatchHealth(ctx, 5*time.Second, func(ctx context.Context) error {
		return runtime.CheckAll(ctx, checks...)
	})

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}

func memoryStore(logger *slog.Logger) (*storage.Memory, error) {
	mem := storage.NewMemory()
	path := config.String("SEED_FILE", "")
	if path == "" {
		logger.Warn("DATABASE_URL not set; using an empty in-memory store")
		return mem, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	seed, err := storage.ReadSeed(f)
	if err != nil {
		return nil, err
	}
	mem.Load(seed)
	logger.Warn("DATABASE_URL not set; using seeded in-memory store", "seed", path)
	return mem, nil
}

// rateLimits builds the general and booking middlewares. Redis is shared by
// every replica and fails open; without it each process limits on its own.
func rateLimits(ctx context.Context, logger *slog.Logger) (httpx.Middleware, httpx.Middleware, error) {
	general, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, nil, err
	}
	burst, err := config.Int("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, nil, err
	}
	bookingPerMinute, err := config.Int("BOOKING_RATE_LIMIT_PER_MINUTE", 10)
	if err != nil {
		return nil, nil, err
	}
	buckets := map[string]httpx.BucketConfig{
		"general": {PerMinute: general, Burst: burst},
		"booking": {PerMinute: bookingPerMinute, Burst: 2},
	}

	var limiter httpx.Limiter
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			return nil, nil, err
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		go func() {
			<-ctx.Done()
			_ = rdb.Close()
		}()
		limiter = httpx.NewRedisRateLimiter(rdb, buckets, "booking-rl")
		logger.Info("rate limiting via redis", "addr", addr)
	} else {
		keyed := httpx.NewKeyedLimiter(buckets, 10*time.Minute)
		go keyed.Run(ctx, time.Minute)
		limiter = keyed
	}
	return httpx.RateLimit(limiter, "general", logger, true), httpx.RateLimit(limiter, "booking", logger, true), nil
}
