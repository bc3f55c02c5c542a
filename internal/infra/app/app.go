package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/port"
	"github.com/jayceeit/password-expire/internal/infra/config"
	"github.com/jayceeit/password-expire/internal/infra/database"
	kafkainfra "github.com/jayceeit/password-expire/internal/infra/kafka"
	"github.com/jayceeit/password-expire/internal/infra/logger"
	redisinfra "github.com/jayceeit/password-expire/internal/infra/redis"
	"github.com/jayceeit/password-expire/internal/infra/security"
	"github.com/jayceeit/password-expire/internal/infra/telemetry"
	postgresrepo "github.com/jayceeit/password-expire/internal/repository/postgres"
	redisrepo "github.com/jayceeit/password-expire/internal/repository/redis"
	"github.com/jayceeit/password-expire/internal/transport/http/middleware"
	"github.com/jayceeit/password-expire/internal/transport/http/routes"
	"github.com/jayceeit/password-expire/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pools    map[string]*pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pools, err := database.OpenAll(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	for _, alias := range cfg.DatabaseAliases() {
		if !cfg.Databases[alias].RunMigrations {
			continue
		}
		if err := postgresrepo.Migrate(ctx, pools[alias]); err != nil {
			database.CloseAll(pools)
			return nil, fmt.Errorf("migrate %q: %w", alias, err)
		}
		log.Info("migrations applied", zap.String("alias", alias))
	}
	stores := postgresrepo.NewDatabases(pools)

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		database.CloseAll(pools)
		return nil, fmt.Errorf("init redis: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		_ = redisClient.Close()
		database.CloseAll(pools)
		return nil, fmt.Errorf("init argon2: %w", err)
	}

	var (
		eventPublisher port.EventPublisher
		producer       *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	policyMetrics, err := telemetry.NewPolicyMetrics(telemetry.PolicyMetricsOptions{Namespace: cfg.Telemetry.Namespace})
	if err != nil {
		_ = redisClient.Close()
		database.CloseAll(pools)
		return nil, fmt.Errorf("init policy metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Namespace: cfg.Telemetry.Namespace})
	if err != nil {
		_ = redisClient.Close()
		database.CloseAll(pools)
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitStore(redisClient.Client(), cfg.Redis.RatePrefix, rateLimitWindow*2)
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	registry := usecase.NewRegistry()

	sessionService := usecase.NewSessionService(
		redisrepo.NewSessionStore(redisClient.Client(), cfg.Redis.SessionPrefix), stores, cfg.Session.TTL, log)
	messageService := usecase.NewMessageService(
		redisrepo.NewMessageStore(redisClient.Client(), cfg.Redis.MessagePrefix), cfg.Session.MessageTTL)

	replicator := usecase.NewReplicator(stores, cfg.Website, log)
	replicator.WithMetrics(policyMetrics)

	expiryService := usecase.NewExpiryService(cfg.PasswordExpire, stores, replicator, sessionService, log)
	expiryService.WithMetrics(policyMetrics)
	expiryService.WithEventPublisher(eventPublisher)
	expiryService.Register(registry)

	userService := usecase.NewUserService(stores, registry, hasher, security.NewPasswordPolicy(), log)
	userService.WithEventPublisher(eventPublisher)

	authService := usecase.NewAuthService(stores, sessionService, registry, hasher, log)

	passwordResetService := usecase.NewPasswordResetService(userService,
		redisrepo.NewResetTokenStore(redisClient.Client(), cfg.Redis.ResetPrefix), cfg.Session.ResetTokenTTL, log)
	passwordResetService.WithEventPublisher(eventPublisher)

	databases := make(map[string]routes.DatabaseChecker, len(pools))
	for alias, pool := range pools {
		databases[alias] = pool
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		HTTPMetrics: httpMetrics,
		Databases:   databases,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:          authService,
			Users:         userService,
			Expiry:        expiryService,
			Sessions:      sessionService,
			Messages:      messageService,
			PasswordReset: passwordResetService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pools:    pools,
		redis:    redisClient,
		producer: producer,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer database.CloseAll(a.pools)
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				a.logger.Warn("close kafka producer", zap.Error(err))
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting password expire API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("database", a.cfg.CurrentDatabase()),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
