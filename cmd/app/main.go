// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/infra/adapters/pipeline"
	"prospect-engine/internal/infra/api"
	pg "prospect-engine/internal/infra/db/postgres"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
	"prospect-engine/internal/infra/queue"
	red "prospect-engine/internal/infra/redis"
	"prospect-engine/internal/infra/sched"
	"prospect-engine/internal/infra/worker"
	"prospect-engine/internal/infra/ws"
	"prospect-engine/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	userRepo := pg.NewUserRepo(pool)
	jobRepo := pg.NewJobRepo(pool, tm)
	leadRepo := pg.NewLeadRepo(pool)
	contexts := pg.NewContextCacheDecorator(
		pg.NewBusinessContextRepo(pool, cfg.Admission.RequiredContext...),
		redisClient, cfg.Admission.ContextCacheTTL, logging.Component(logger, "context_cache"))

	// ---- Fan-out ----
	hub := ws.NewHub(cfg.WS, cfg.HTTP.CORSOrigins, logger)
	var notifier adapter.Notifier = hub
	var relay *red.NotifyRelay
	if cfg.Redis.Relay {
		relay = red.NewNotifyRelay(redisClient, hub, logging.Component(logger, "notify_relay"))
		notifier = relay
	}

	// ---- Pipeline ----
	httpPipeline, err := pipeline.NewHTTPClient(cfg.Pipeline.BaseURL, cfg.Pipeline.APIKey)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	pipelineClient := pipeline.NewLimitedPipeline(httpPipeline, cfg.Pipeline.RatePerSecond, cfg.Worker.Count)

	// ---- Use cases ----
	ledger := usecase.NewQuotaLedger(userRepo, cfg.Location(), cfg.Quota.BatchCeiling, logger)
	dispatcher := usecase.NewDispatcher(jobRepo, userRepo, pipelineClient, notifier, tm, usecase.DispatchConfig{
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		InitialBackoff: cfg.Pipeline.InitialBackoff,
		StartTimeout:   cfg.Pipeline.StartTimeout,
		SitesPerLead:   cfg.Quota.SitesPerLead,
		MaxSitesCap:    cfg.Quota.MaxSitesCap,
	}, logger)
	admission := usecase.NewAdmissionController(userRepo, jobRepo, contexts, ledger, dispatcher, tm, notifier, logger)
	interpreter := usecase.NewEventInterpreter(jobRepo, userRepo, leadRepo, ledger, tm, notifier, cfg.Quota.Cooldown, logger)

	// ---- Workers ----
	dispatchPool := worker.NewPool(cfg.Worker.Count, logging.Component(logger, "dispatch_pool"))
	eventPool := worker.NewKeyedPool(cfg.Events.Shards, 64, logging.Component(logger, "event_pool"))
	ingester := queue.NewIngester(interpreter, eventPool, logger)

	var mq *queue.RabbitMQ
	if cfg.Events.AMQPURL != "" {
		mq, err = queue.NewRabbitMQ(cfg.Events.AMQPURL, cfg.Events.Queue)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		defer mq.Close()
	}

	// ---- HTTP ----
	health := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    redisClient.Ping,
	}
	if mq != nil {
		health["rabbitmq"] = func(context.Context) error {
			if !mq.Healthy() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	server := api.NewServer(cfg.HTTP, cfg.Pipeline.WebhookSecret, api.Deps{
		Admission:  admission,
		Quota:      ledger,
		Jobs:       dispatcher,
		Events:     ingester,
		Limiter:    red.NewRateLimiter(redisClient),
		WS:         hub,
		Auth:       api.NewAuthManager(cfg.Auth.JWTSecret),
		Health:     health,
		Version:    version,
		StartLimit: cfg.Admission.RequestsPerMin,
	}, logger)

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)

	dispatchPool.Start(gctx)
	eventPool.Start(gctx)
	defer dispatchPool.Stop()
	defer eventPool.Stop()

	g.Go(func() error {
		worker.NewDispatchProcessor(dispatcher, cfg.Worker.PollInterval, logging.Component(logger, "dispatch_processor")).
			Start(gctx, dispatchPool)
		return nil
	})
	g.Go(func() error { return server.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return ignoreCanceled(sched.RunPoolStats(gctx, pool, 15*time.Second)) })

	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if mq != nil {
		consumer := queue.NewConsumer(mq, ingester, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if cfg.Admission.ActiveJobLease > 0 {
		reaper := usecase.NewLeaseReaper(jobRepo, userRepo, tm, notifier, cfg.Admission.ActiveJobLease, logger)
		leaseWorker := sched.NewLeaseWorker(cfg.Admission.ReapInterval, reaper, red.NewLocker(redisClient), logger)
		g.Go(func() error { return ignoreCanceled(leaseWorker.Run(gctx)) })
	}

	logger.Info().
		Str("version", version).
		Str("pipeline", cfg.Pipeline.BaseURL).
		Str("pipeline_key", logging.Redact(cfg.Pipeline.APIKey, cfg.Runtime.Dev)).
		Bool("relay", relay != nil).
		Bool("amqp", mq != nil).
		Msg("service started")
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
