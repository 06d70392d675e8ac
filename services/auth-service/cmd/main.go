package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DiaryPlatform/pkg/config"
	"DiaryPlatform/pkg/database"
	"DiaryPlatform/pkg/health"
	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/pkg/metrics"
	"DiaryPlatform/pkg/rabbitmq"
	"DiaryPlatform/pkg/ratelimit"
	pkgredis "DiaryPlatform/pkg/redis"
	"DiaryPlatform/services/auth-service/internal/domain"
	"DiaryPlatform/services/auth-service/internal/events"
	"DiaryPlatform/services/auth-service/internal/grpcserver"
	authhttp "DiaryPlatform/services/auth-service/internal/http"
	"DiaryPlatform/services/auth-service/internal/middleware"
	"DiaryPlatform/services/auth-service/internal/migrations"
	"DiaryPlatform/services/auth-service/internal/pkg/jwt"
	"DiaryPlatform/services/auth-service/internal/pkg/password"
	"DiaryPlatform/services/auth-service/internal/repository"
	"DiaryPlatform/services/auth-service/internal/repository/cache"
	"DiaryPlatform/services/auth-service/internal/repository/memory"
	"DiaryPlatform/services/auth-service/internal/repository/postgres"
	"DiaryPlatform/services/auth-service/internal/service"

	"github.com/spf13/pflag"
)

const serviceName = "auth-service"

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("CONFIG_PATH"), "path to YAML or JSON config file")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Starting auth service",
		logger.String("version", version),
		logger.String("storage", cfg.Storage.Driver),
		logger.String("rate_limit_backend", cfg.RateLimiting.Backend))

	shutdownTracing := metrics.InitializeOpenTelemetry(serviceName, version)
	appMetrics := metrics.NewMetrics(serviceName)
	checker := health.NewServiceChecker(version, 2*time.Second)

	// Ключи подписи токенов
	privatePEM, publicPEM, err := jwt.LoadKeyPair(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath)
	if err != nil {
		return err
	}
	codec, err := jwt.NewCodec(jwt.Config{
		PrivateKeyPEM: privatePEM,
		PublicKeyPEM:  publicPEM,
		Issuer:        cfg.Auth.Issuer,
		TokenTTL:      config.Duration(cfg.Auth.TokenTTL, jwt.DefaultTokenTTL),
	})
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}

	// Хранилище пользователей и шаблонов
	users, patterns, closeStorage, err := openStorage(ctx, cfg, checker, appLogger)
	if err != nil {
		return err
	}
	defer closeStorage()

	patternCache := cache.NewSponsorPatternCache(patterns, config.Duration(cfg.SponsorCache.TTL, cache.DefaultTTL))
	if err := seedPatterns(ctx, patternCache, cfg.Sponsors, appLogger); err != nil {
		return err
	}
	if err := patternCache.RefreshCache(ctx); err != nil {
		appLogger.Warn("Initial sponsor pattern load failed", logger.Error(err))
	}

	// Лимитеры: попытки входа и общий поток запросов с одного IP
	limiterConfig := ratelimit.Config{
		MaxAttempts: cfg.RateLimiting.MaxAttempts,
		Window:      config.Duration(cfg.RateLimiting.Window, ratelimit.DefaultWindow),
	}
	requestConfig := ratelimit.Config{
		MaxAttempts: cfg.RateLimiting.RequestsPerMinute,
		Window:      time.Minute,
	}
	authLimiter, requestLimiter, closeLimiter, err := openLimiters(ctx, cfg, limiterConfig, requestConfig, appMetrics, checker)
	if err != nil {
		return err
	}
	defer closeLimiter()

	cleanupInterval := config.Duration(cfg.RateLimiting.CleanupInterval, ratelimit.DefaultWindow)
	onCleanupError := func(err error) {
		appLogger.Warn("Rate limiter cleanup failed", logger.Error(err))
	}
	go ratelimit.RunCleanup(ctx, authLimiter, cleanupInterval, onCleanupError)
	if requestLimiter != nil {
		go ratelimit.RunCleanup(ctx, requestLimiter, cleanupInterval, onCleanupError)
	}

	// События аутентификации
	publisher, closePublisher, err := openPublisher(ctx, cfg, checker, appLogger)
	if err != nil {
		return err
	}
	defer closePublisher()

	authService, err := service.NewAuthService(service.Dependencies{
		Users:     users,
		Patterns:  patternCache,
		Codec:     codec,
		Hasher:    password.NewArgon2Hasher(),
		Limiter:   authLimiter,
		Publisher: events.NewInstrumentedPublisher(publisher, appMetrics),
		Recorder:  appMetrics,
		Logger:    appLogger,
	}, service.Config{
		LockoutThreshold: cfg.Lockout.Threshold,
		LockoutDuration:  config.Duration(cfg.Lockout.Duration, 15*time.Minute),
	})
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}

	// HTTP сервер. Адрес клиента из X-Forwarded-For берется только от доверенных прокси
	resolver, err := middleware.NewIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("failed to parse server.trusted_proxies: %w", err)
	}
	handler := authhttp.NewHTTPHandler(appLogger, authService, requestLimiter, resolver)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           authhttp.NewRouter(handler, checker, appMetrics, appLogger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		appLogger.Info("HTTP server listening", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("http server: %w", err)
		}
	}()

	// gRPC сервер
	var grpcServer *grpcserver.Server
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port %d: %w", cfg.GRPC.Port, err)
		}
		grpcServer = grpcserver.New(authService, appLogger)
		go grpcServer.WatchHealth(ctx, checker, 10*time.Second)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				serverErrors <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		appLogger.Info("Shutdown signal received")
	case err := <-serverErrors:
		appLogger.Error("Server failed", logger.Error(err))
		stop()
	}

	shutdownTimeout := config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", logger.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Warn("Tracer provider shutdown failed", logger.Error(err))
	}

	appLogger.Info("Auth service stopped")
	return nil
}

// openStorage выбирает репозитории по storage.driver
func openStorage(ctx context.Context, cfg *config.Config, checker *health.ServiceChecker, log logger.Logger) (
	repository.UserRepository, repository.SponsorPatternRepository, func(), error,
) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("Using in-memory storage, data is lost on restart")
		return memory.NewUserRepository(), memory.NewSponsorPatternRepository(), func() {}, nil
	}

	dbConfig := database.NewConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.User = cfg.Database.User
	dbConfig.Password = cfg.Database.Password
	dbConfig.Database = cfg.Database.Name
	dbConfig.SSLMode = cfg.Database.SSLMode

	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, migrations.Migrations); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		log.Info("Database migrations applied")
	}

	checker.Register("postgres", db.HealthCheck)
	return postgres.NewUserRepository(db.Pool), postgres.NewSponsorPatternRepository(db.Pool), db.Close, nil
}

// seedPatterns создает шаблоны из конфигурации. Уже существующие префиксы пропускаются
func seedPatterns(ctx context.Context, patterns repository.SponsorPatternRepository, seeds []config.SponsorSeed, log logger.Logger) error {
	for _, seed := range seeds {
		err := patterns.CreatePattern(ctx, &domain.SponsorPattern{
			PatternPrefix:    domain.NormalizeLinkingCode(seed.PatternPrefix),
			SponsorID:        seed.SponsorID,
			SponsorName:      seed.SponsorName,
			PortalURL:        seed.PortalURL,
			FirestoreProject: seed.FirestoreProject,
			Active:           true,
			CreatedAt:        time.Now().UTC(),
		})
		switch {
		case errors.Is(err, repository.ErrAlreadyExists):
			continue
		case err != nil:
			return fmt.Errorf("failed to seed sponsor pattern %s: %w", seed.PatternPrefix, err)
		}
		log.Info("Sponsor pattern seeded",
			logger.String("prefix", seed.PatternPrefix),
			logger.String("sponsor_id", seed.SponsorID))
	}
	return nil
}

// trackedLimiter обновляет метрику числа ключей после каждой очистки
type trackedLimiter struct {
	*ratelimit.SlidingWindowLimiter
	metrics *metrics.Metrics
}

func (l trackedLimiter) Cleanup(ctx context.Context) error {
	err := l.SlidingWindowLimiter.Cleanup(ctx)
	l.metrics.SetTrackedKeys(l.Len())
	return err
}

// openLimiters создает лимитер попыток и лимитер запросов по IP на выбранном бэкенде
// Лимитер запросов nil, если requests_per_minute не задан
func openLimiters(
	ctx context.Context,
	cfg *config.Config,
	attempts, requests ratelimit.Config,
	appMetrics *metrics.Metrics,
	checker *health.ServiceChecker,
) (ratelimit.Limiter, ratelimit.Limiter, func(), error) {
	if cfg.RateLimiting.Backend == "redis" {
		redisConfig := pkgredis.NewConfig()
		redisConfig.Addr = cfg.Redis.Addr
		redisConfig.Password = cfg.Redis.Password
		redisConfig.DB = cfg.Redis.DB
		redisConfig.PoolSize = cfg.Redis.PoolSize
		redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
		redisConfig.MaxRetries = cfg.Redis.MaxRetries
		redisConfig.RetryInterval = config.Duration(cfg.Redis.RetryInterval, time.Second)
		redisConfig.HealthCheck = config.Duration(cfg.Redis.HealthCheck, 30*time.Second)

		client, err := pkgredis.Connect(ctx, redisConfig)
		if err != nil {
			return nil, nil, nil, err
		}
		checker.Register("redis", client.HealthCheck)

		var requestLimiter ratelimit.Limiter
		if requests.MaxAttempts > 0 {
			requestLimiter = ratelimit.NewRedisLimiter(client.Client, requests)
		}
		closeClient := func() { _ = client.Close() }
		return ratelimit.NewRedisLimiter(client.Client, attempts), requestLimiter, closeClient, nil
	}

	authLimiter := trackedLimiter{
		SlidingWindowLimiter: ratelimit.NewSlidingWindowLimiter(attempts),
		metrics:              appMetrics,
	}
	var requestLimiter ratelimit.Limiter
	if requests.MaxAttempts > 0 {
		requestLimiter = ratelimit.NewSlidingWindowLimiter(requests)
	}
	return authLimiter, requestLimiter, func() {}, nil
}

// openPublisher подключается к RabbitMQ, если он включен
func openPublisher(ctx context.Context, cfg *config.Config, checker *health.ServiceChecker, log logger.Logger) (
	events.Publisher, func(), error,
) {
	if !cfg.RabbitMQ.Enabled {
		log.Info("RabbitMQ disabled, auth events are not published")
		return events.NoopPublisher{}, func() {}, nil
	}

	rabbitConfig := rabbitmq.NewConfig()
	rabbitConfig.URL = cfg.RabbitMQ.URL
	rabbitConfig.Exchange = cfg.RabbitMQ.Exchange

	conn, err := rabbitmq.Connect(ctx, rabbitConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	checker.Register("rabbitmq", conn.HealthCheck)

	closeConn := func() {
		if err := conn.Close(); err != nil {
			log.Warn("Failed to close RabbitMQ connection", logger.Error(err))
		}
	}
	return events.NewRabbitPublisher(rabbitmq.NewProducer(conn, rabbitConfig)), closeConn, nil
}
