package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"draftdesk/internal/api"
	"draftdesk/internal/approval"
	appconfig "draftdesk/internal/config"
	"draftdesk/internal/drafting"
	"draftdesk/internal/events"
	"draftdesk/internal/fetcher"
	"draftdesk/internal/filter"
	"draftdesk/internal/jobs"
	"draftdesk/internal/memory"
	"draftdesk/internal/persona"
	"draftdesk/internal/pipeline"
	"draftdesk/internal/poster"
	"draftdesk/internal/settings"
	"draftdesk/internal/stats"
	"draftdesk/internal/store"
	"draftdesk/pkg/config"
	"draftdesk/pkg/database"
	"draftdesk/pkg/kafka"
	"draftdesk/pkg/llm"
	"draftdesk/pkg/logging"
	"draftdesk/pkg/monitoring"
	pkgredis "draftdesk/pkg/redis"
	"draftdesk/pkg/secrets"
	"draftdesk/pkg/server"
	"draftdesk/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithComponent("draftdesk")
	config.LoadEnv(logger)

	logger.WithField("version", version.String()).Info("Starting draftdesk")

	cfg := appconfig.Load()
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db, err := database.Connect(ctx, dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer func() { _ = db.Close() }()

	// Connect to Redis
	rdb, err := pkgredis.Connect(ctx, pkgredis.Config{URL: cfg.RedisURL})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() { _ = rdb.Close() }()

	// Kafka is optional; without brokers events are dropped.
	var sink events.Sink
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "draftdesk", logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create Kafka producer - events disabled")
		} else {
			defer func() { _ = producer.Close() }()
			sink = producer
		}
	}
	publisher := events.NewPublisher(sink, cfg.EventsTopic, "draftdesk", logger)

	provider, err := llm.NewProvider(llm.LoadConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure LLM provider")
	}

	promoFilter, err := filter.Load(cfg.FilterConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load filter config")
	}

	st := store.New(db)
	var sealer settings.Sealer
	if cfg.SealSecret != "" {
		cipher, err := secrets.NewCipher([]byte(cfg.SealSecret), secrets.PurposeOAuth)
		if err != nil {
			logger.WithError(err).Fatal("Failed to derive credentials cipher")
		}
		st.WithCredentialOpener(cipher)
		sealer = cipher
	} else {
		logger.Warn("CREDENTIALS_SECRET not set - credentials are stored in plaintext")
	}

	var facts memory.Store = memory.NewSQLStore(db)
	if cfg.MemoryBackend == "mem0" {
		facts = memory.NewMem0Client(memory.Mem0Config{
			BaseURL: cfg.Mem0URL,
			APIKey:  cfg.Mem0APIKey,
			Logger:  logger,
		})
	}
	recorder := memory.NewRecorder(facts, logger)
	assembler := memory.NewAssembler(facts, cfg.FactLimit, logger)

	fetchCfg := fetcher.DefaultConfig()
	fetchCfg.Pool.Size = cfg.FetchPoolSize
	fetchCfg.Pool.Delay = cfg.FetchDelay
	fetchSvc := fetcher.NewService(fetcher.NewClient(fetcher.ClientConfig{
		BaseURL: cfg.RapidAPIURL,
		Host:    cfg.RapidAPIHost,
		APIKey:  cfg.RapidAPIKey,
		Timeout: cfg.FetchTimeout,
	}), fetchCfg, logger)

	drafter := drafting.NewGenerator(provider, cfg.ModelTimeout, logger)
	pipe := pipeline.New(st, func() pipeline.Source { return fetchSvc.Session() },
		promoFilter, assembler, drafter, pipeline.Config{Concurrency: cfg.FetchPoolSize}, logger)
	ingester := stats.NewIngester(st, func() stats.Source { return fetchSvc.Session() }, recorder, logger)
	personas := persona.NewBuilder(st, func() persona.Source { return fetchSvc.Session() },
		provider, recorder, cfg.ModelTimeout, logger)

	xPoster := poster.New(poster.Config{APIURL: cfg.XAPIURL, Logger: logger})
	approvals := approval.NewService(st, xPoster, recorder, publisher, logger)

	// Job orchestration
	brokerCfg := jobs.DefaultBrokerConfig()
	brokerCfg.Prefix = cfg.JobPrefix
	broker := jobs.NewBroker(rdb, brokerCfg, logger)

	limits := jobs.DefaultLimits()
	for typ, l := range limits {
		l.Count = cfg.RateLimit
		limits[typ] = l
	}
	limiter := jobs.NewLimiter(rdb, cfg.JobPrefix, limits)

	workerCfg := jobs.DefaultWorkerConfig()
	workerCfg.Concurrency = cfg.Workers
	workerCfg.MaxAttempts = cfg.MaxAttempts
	worker := jobs.NewWorker(broker, limiter, workerCfg, publisher, logger)
	worker.Handle(jobs.TypeFanOut, jobs.FanOutHandler(st, broker, logger))
	worker.Handle(jobs.TypeScrapeUser, pipe.HandleScrapeUser)
	worker.Handle(jobs.TypeScrapeKeyword, pipe.HandleScrapeKeyword)
	worker.Handle(jobs.TypeIngestStats, ingester.HandleIngestStats)
	worker.Handle(jobs.TypeBuildPersona, personas.HandleBuildPersona)

	prefs := settings.NewService(st, func() settings.ProfileSource { return fetchSvc.Session() },
		sealer, xPoster, broker, settings.Config{ResolveConcurrency: 2}, logger)

	scheduler, err := jobs.NewScheduler(broker, rdb, cfg.Schedule, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid fan-out schedule")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("draftdesk", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("draftdesk", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.PingHealthCheck("redis", monitoring.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})))

	serverConfig := server.DefaultConfig("draftdesk", cfg.Port)
	router := server.SetupServiceRouter(logger, serverConfig, healthChecker, metricsCollector)
	api.RegisterRoutes(router, api.NewHandler(approvals, prefs, broker, logger), []byte(jwtSecret), serviceToken)

	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return server.Start(gctx, serverConfig, router, logger) })

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("draftdesk stopped with error")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	scheduler.Stop(stopCtx)
	logger.Info("draftdesk stopped")
}
