package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/veriguard/auth-service/internal/client"
	"github.com/veriguard/auth-service/internal/config"
	"github.com/veriguard/auth-service/internal/handler"
	"github.com/veriguard/auth-service/internal/middleware"
	"github.com/veriguard/auth-service/internal/provider"
	"github.com/veriguard/auth-service/internal/repository"
	"github.com/veriguard/auth-service/internal/service"
	"github.com/veriguard/auth-service/internal/store"
	"github.com/veriguard/auth-service/internal/telemetry"
	"github.com/veriguard/auth-service/internal/util"
	"github.com/veriguard/auth-service/internal/util/logger"
)

var version = "development"

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.InitLogger(&cfg.Logger)
	defer logger.Sync()
	logger.Infof("starting auth-service %s (env=%s)", version, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if needsSecretResolution(cfg) {
		resolver, err := config.NewSecretResolver(ctx)
		if err != nil {
			return fmt.Errorf("init secret resolver: %w", err)
		}
		if err := resolver.Resolve(ctx, cfg); err != nil {
			return fmt.Errorf("resolve secrets: %w", err)
		}
	}

	// Shared state: Redis in normal operation, in-process map in dev.
	var (
		st  store.Store
		rdb *client.RedisClient
	)
	if cfg.Redis.Address != "" {
		rdb, err = client.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		st = store.NewRedisStore(rdb)
	} else {
		logger.Warnf("no redis configured, falling back to in-process store (single instance only)")
		st = store.NewMemoryStore()
	}

	var (
		db       *sql.DB
		accounts repository.AccountRepository
		fraudLog repository.FraudLogRepository
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		accounts = repository.NewPostgresAccountRepository(db)
		fraudLog = repository.NewPostgresFraudLogRepository(db)
	} else {
		logger.Warnf("no database configured, using in-memory repositories")
		accounts = repository.NewMemoryAccountRepository()
		fraudLog = repository.NewMemoryFraudLogRepository()
	}

	shipper, err := telemetry.NewKafkaShipper(cfg.Telemetry.Kafka)
	if err != nil {
		return fmt.Errorf("init kafka shipper: %w", err)
	}
	shipper.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shipper.Stop(stopCtx)
	}()

	mx, carrier, ipRep, dispatcher := buildProviders(cfg.Providers)

	tracker := service.NewLoginAttemptTracker(st, cfg.Attempts)
	scorer := service.NewFraudScorer(cfg.Fraud, mx, carrier, ipRep, fraudLog, tracker)
	blocks := service.NewIPBlockRegistry(st, cfg.IPBlock)
	ledger := service.NewOtpLedger(st, cfg.OTP, dispatcher, shipper)
	totp := service.NewTOTPVerifier(cfg.MFA)

	tokens, err := util.NewJWTManager(cfg.JWT)
	if err != nil {
		return fmt.Errorf("init token issuer: %w", err)
	}

	aggregator := service.NewVerificationAggregator(accounts, fraudLog, blocks, ledger, scorer, tracker, st, shipper)
	orch := service.NewAuthOrchestrator(accounts, fraudLog, aggregator, scorer, blocks, tracker,
		ledger, totp, tokens, st, shipper, cfg.Lockout, cfg.Fraud)

	limiter := middleware.NewRateLimiter(middleware.LimiterConfig{
		RatePerInterval: cfg.RateLimit.RatePerInterval,
		Interval:        cfg.RateLimit.Interval,
		Burst:           cfg.RateLimit.Burst,
		Redis:           rdb,
		RouteLimits: []middleware.RouteLimit{
			{PathPrefix: "/auth/otp", RatePerInterval: 5, Interval: time.Minute},
			{PathPrefix: "/auth/login", RatePerInterval: 10, Interval: time.Minute},
		},
	})

	router := handler.NewRouter(handler.RouterDeps{
		Auth:    handler.NewAuthHandler(orch, aggregator),
		Fraud:   handler.NewFraudHandler(scorer),
		OTP:     handler.NewOTPHandler(ledger),
		IPBlock: handler.NewIPBlockHandler(blocks),
		Health:  handler.NewHealthHandler(rdb, db),
		Orch:    orch,
		Limiter: limiter,
		FPConfig: middleware.FingerprintConfig{
			Pepper:                cfg.Fingerprint.Pepper,
			TrustedProxyIPHeaders: cfg.Fingerprint.TrustedProxyIPHeaders,
			TrustedProxyCIDRs:     cfg.Fingerprint.TrustedProxyCIDRs,
		},
	})

	// Periodic sweeps back up the lazy-expiry read paths.
	go janitor(ctx, blocks, ledger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func buildProviders(cfg config.ProviderConfig) (provider.MXResolver, provider.CarrierLookup, provider.IPReputationLookup, provider.NotificationDispatcher) {
	if cfg.Mode != "live" {
		logger.Infof("providers running in stub mode")
		return &provider.StubMXResolver{}, provider.StubCarrierLookup{}, provider.StubIPReputationLookup{}, provider.LogDispatcher{}
	}
	return provider.NewDNSMXResolver(),
		provider.NewHTTPCarrierLookup(cfg.CarrierEndpoint, cfg.CarrierAPIKey, cfg.Timeout),
		provider.NewHTTPIPReputationLookup(cfg.IPRepEndpoint, cfg.IPRepAPIKey, cfg.Timeout),
		provider.LogDispatcher{}
}

// janitor runs the expired-block sweep and OTP retention cleanup.
func janitor(ctx context.Context, blocks *service.IPBlockRegistry, ledger *service.OtpLedger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := blocks.SweepExpired(ctx); err != nil {
				logger.Warnf("janitor: block sweep failed: %v", err)
			}
			if _, err := ledger.Cleanup(ctx); err != nil {
				logger.Warnf("janitor: otp cleanup failed: %v", err)
			}
		}
	}
}

func needsSecretResolution(cfg *config.Config) bool {
	for _, s := range []string{cfg.DatabaseURL, cfg.Redis.Password, cfg.JWT.SigningKey, cfg.Providers.CarrierAPIKey, cfg.Providers.IPRepAPIKey} {
		if strings.HasPrefix(s, "aws-sm://") || strings.HasPrefix(s, "aws-ssm://") {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
