package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
	"github.com/arcade-backend/internal/handler"
	"github.com/arcade-backend/internal/kafka"
	"github.com/arcade-backend/internal/memstore"
	"github.com/arcade-backend/internal/notify"
	"github.com/arcade-backend/internal/postgres"
	"github.com/arcade-backend/internal/quota"
	"github.com/arcade-backend/internal/redis"
	"github.com/arcade-backend/internal/service"
	"github.com/arcade-backend/internal/store"
	"github.com/arcade-backend/internal/verify"
	"github.com/arcade-backend/internal/websocket"
	"github.com/arcade-backend/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	loadErr := err
	if err != nil {
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)
	if loadErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", loadErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := make(map[string]handler.Pinger)

	// Durable store
	var st store.Store
	var limiter store.RateLimiter
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		mem := memstore.New()
		st, limiter = mem, mem
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		st = repo
		deps["postgres"] = repo
	}

	// Redis rate limiter and realtime mirror
	var mirror service.ScoreMirror
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		scopeMirror := redis.NewScopeMirror(client, cfg.Game, logger)
		mirror = scopeMirror
		limiter = redis.NewRateLimiter(client)
		deps["redis"] = scopeMirror
	}
	if limiter == nil {
		logger.Error("postgres store requires redis for rate limiting")
		os.Exit(1)
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	// Event transport
	dispatcher := events.NewDispatcher(logger)
	var publisher events.Publisher
	var notifier notify.Notifier
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka producer", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Error("failed to create Kafka producer", "error", err)
			os.Exit(1)
		}
		publisher, notifier = producer, producer
	} else {
		logger.Info("Kafka disabled, dispatching events in-process")
		publisher = events.NewInlinePublisher(dispatcher, logger)
		notifier = notify.NewLogNotifier(logger)
	}

	// Services
	exec := quota.NewExecutor(st, st, cfg.Game.BatchSize, cfg.Quota.PerInvocation(), logger)
	ranking := service.NewRankingEngine(st, st, mirror, wsHub, exec, cfg.Game, logger)
	scores := service.NewScoreValidator(st, limiter, ranking, publisher, exec, cfg.Game, logger)
	verifiers := map[domain.Platform]verify.Verifier{
		domain.PlatformIOS: verify.NewAppleVerifier(
			cfg.Verify.AppleURL, cfg.Verify.AppleSandboxURL, cfg.Verify.AppleSharedSecret, cfg.Verify.Timeout,
		),
		domain.PlatformAndroid: verify.NewGoogleVerifier(
			cfg.Verify.GoogleBaseURL, cfg.Verify.GoogleAccessToken, cfg.Verify.Timeout,
		),
	}
	purchases := service.NewPurchaseValidator(st, limiter, verifiers, cfg.Products, publisher, exec, cfg.Game, logger)
	tournaments := service.NewTournamentService(st, notifier, wsHub, publisher, exec, cfg.Game, logger)
	detector := service.NewDetector(st, st, exec, cfg.Detector, cfg.Game, logger)
	reporter := service.NewReporter(st, logger)
	jobs := service.NewJobRunner(exec, ranking, scores, purchases, tournaments, detector, reporter, publisher, logger)
	service.Register(dispatcher, scores, purchases, tournaments, jobs)

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewConsumer(&cfg.Kafka, dispatcher, logger)
		if err != nil {
			logger.Error("failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := consumer.Start(); err != nil {
			logger.Error("failed to start Kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	scheduler := worker.NewScheduler(jobs, &cfg.Schedule, logger)
	if cfg.Schedule.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	httpHandler := handler.NewHandler(handler.Services{
		Scores:      scores,
		Purchases:   purchases,
		Tournaments: tournaments,
		Ranking:     ranking,
		Players:     service.NewPlayerQueries(st, st),
		Reports:     reporter,
		Jobs:        jobs,
		Schedule:    scheduler,
	}, wsHub, deps, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if err := scheduler.Stop(); err != nil {
		logger.Error("failed to stop scheduler", "error", err)
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	wsHub.Stop()
	logger.Info("server stopped")
}
