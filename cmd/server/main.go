package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"medride/internal/app"
	"medride/internal/auth"
	"medride/internal/config"
	"medride/internal/handler"
	"medride/internal/nsq"
	internalRedis "medride/internal/redis"
	"medride/internal/repository/postgres"
	"medride/internal/retry"
	"medride/internal/service"
)

func main() {
	cfg := config.Load()
	log := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic comes first so the database and Redis clients are instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.WithError(err).Warn("failed to initialize New Relic")
		} else {
			log.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled")
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := app.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("failed to apply migrations")
	}
	log.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	sink, stopSink := newNotificationSink(cfg.NSQ, log)
	defer stopSink()

	// Background work outlives individual requests and stops on a signal.
	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := wireServer(runCtx, db, redisClient, nrApp, sink, cfg, log)

	var workers sync.WaitGroup
	for name, run := range srv.workers {
		workers.Add(1)
		go func(name string, run func(context.Context) error) {
			defer workers.Done()
			if err := run(runCtx); err != nil {
				log.WithError(err).WithField("worker", name).Error("worker stopped")
			}
		}(name, run)
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("starting server")
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-runCtx.Done()
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	workers.Wait()
	srv.payouts.Wait()

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
	log.Info("server exited")
}

// server is the wired HTTP server with the background loops it depends on.
type server struct {
	http    *http.Server
	workers map[string]func(context.Context) error
	payouts *service.PayoutDispatcher
}

// newNotificationSink publishes notifications to NSQ when an address is
// configured and logs them otherwise.
func newNotificationSink(cfg config.NSQConfig, log *logrus.Logger) (service.NotificationSink, func()) {
	if cfg.Addr == "" {
		return service.NewLogSink(log), func() {}
	}
	producer, err := nsq.NewProducer(cfg.Addr, log)
	if err != nil {
		log.WithError(err).Warn("NSQ unavailable, notifications will only be logged")
		return service.NewLogSink(log), func() {}
	}
	log.WithField("topic", cfg.Topic).Info("publishing notifications to NSQ")
	return service.NewQueueSink(producer, cfg.Topic), producer.Stop
}

// wireServer wires all dependencies and returns the server.
func wireServer(
	runCtx context.Context,
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	sink service.NotificationSink,
	cfg *config.Config,
	log *logrus.Logger,
) *server {
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	txManager := postgres.NewTxManager(db)
	userRepo := postgres.NewUserRepository(db)
	settingsRepo := postgres.NewSettingsRepository(db)
	driverRepo := postgres.NewDriverRepository(db)
	rideRepo := postgres.NewRideRepository(db)
	bidRepo := postgres.NewBidRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	methodRepo := postgres.NewPaymentMethodRepository(db)
	payoutRepo := postgres.NewPayoutRepository(db)

	notifier := service.NewNotificationService(sink, log)
	settings := service.NewSettingsService(settingsRepo, cacheStore, cfg.Payments.PlatformFeePercent, log)
	fares := service.NewFareCalculator(settings)
	gateway := service.NewSimulatedGateway()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	retrier := retry.New(service.TransferRetryConfig(cfg.Payouts.MaxAttempts, cfg.Payouts.BaseDelay, cfg.Payouts.MaxDelay), log)
	payoutService := service.NewPayoutService(payoutRepo, driverRepo, gateway, settings, retrier, notifier, service.PayoutConfig{
		Currency:       cfg.Payments.Currency,
		GatewayTimeout: cfg.Payments.GatewayTimeout,
		StaleAfter:     cfg.Payouts.StaleAfter,
	}, log)
	dispatcher := service.NewPayoutDispatcher(runCtx, payoutService, log)

	paymentService := service.NewPaymentService(txManager, rideRepo, paymentRepo, methodRepo, userRepo, gateway, settings, dispatcher, notifier, service.PaymentConfig{
		Currency:       cfg.Payments.Currency,
		GatewayTimeout: cfg.Payments.GatewayTimeout,
	}, log)
	bidService := service.NewBidService(txManager, rideRepo, bidRepo, notifier, log)
	rideService := service.NewRideService(txManager, rideRepo, fares, locationStore, cacheStore, notifier, service.RideConfig{
		RideTTL:   cfg.Sweeper.RideTTL,
		UrgentTTL: cfg.Sweeper.UrgentTTL,
	}, log)
	userService := service.NewUserService(userRepo, methodRepo, cacheStore, log)
	driverService := service.NewDriverService(locationStore, cacheStore, driverRepo, log)
	receipts := service.NewReceiptService(rideRepo, paymentRepo, payoutRepo)

	webhooks := service.NewWebhookProcessor(paymentService, payoutService, cfg.Payments.WebhookQueueSize, log)
	sweeper := service.NewExpirySweeper(rideService, lockStore, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize, log)

	if cfg.Payments.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET is empty, gateway webhooks will be rejected")
	}

	router := app.NewRouter(app.RouterDeps{
		RideHandler:    handler.NewRideHandler(rideService),
		BidHandler:     handler.NewBidHandler(bidService, paymentService),
		PaymentHandler: handler.NewPaymentHandler(paymentService, payoutService, receipts),
		FareHandler:    handler.NewFareHandler(fares, settings),
		UserHandler:    handler.NewUserHandler(userService, tokens),
		DriverHandler:  handler.NewDriverHandler(driverService, tokens),
		WebhookHandler: handler.NewWebhookHandler(webhooks, cfg.Payments.WebhookSecret),
		Tokens:         tokens,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		Logger:         log,
	})

	return &server{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		workers: map[string]func(context.Context) error{
			"webhooks": webhooks.Run,
			"sweeper":  sweeper.Run,
		},
		payouts: dispatcher,
	}
}
