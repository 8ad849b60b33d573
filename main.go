package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cdsflow/config"
	"cdsflow/ingest"
	"cdsflow/logger"
	"cdsflow/processor"
	"cdsflow/source"
	"cdsflow/source/api"
	"cdsflow/source/slice"
	"cdsflow/writer"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.yml", "path to configuration file")
	flag.Parse()

	log := logger.GetLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithComponent("main").WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithComponent("main").WithError(err).Error("failed to configure logging")
		os.Exit(1)
	}

	log.WithComponent("main").WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
		"mode":    cfg.Ingest.Mode,
	}).Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Logging.Level == "report" {
		logger.StartReport(ctx, log, time.Minute)
	}

	metricsRegion := cfg.Logging.MetricsRegion
	if metricsRegion == "" {
		metricsRegion = os.Getenv("AWS_REGION")
	}
	if metricsRegion != "" {
		logger.InitCloudWatch(metricsRegion, cfg.App.Name, cfg.Logging.DashboardName)
	}

	store, err := writer.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN, cfg.Storage.Postgres.Table)
	if err != nil {
		log.WithComponent("main").WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		log.WithComponent("main").WithError(err).Error("failed to ensure schema")
		os.Exit(1)
	}

	dedup := processor.NewDedup(cfg.Dedup.Capacity)
	if keys, err := store.RecentKeys(ctx, cfg.Dedup.SeedLimit); err != nil {
		log.WithComponent("main").WithError(err).Warn("failed to seed dedup set, starting empty")
	} else {
		dedup.Seed(keys)
		log.WithComponent("main").WithFields(logger.Fields{"keys": len(keys)}).Info("seeded dedup set")
	}

	client := source.NewClient(cfg)
	var adapter source.Adapter
	switch cfg.Ingest.Mode {
	case "api":
		adapter = api.NewReader(cfg, client)
	default:
		adapter = slice.NewReader(cfg, client)
	}

	var archiver ingest.Archiver
	if cfg.Storage.S3.Enabled {
		s3arch, err := writer.NewS3Archiver(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithComponent("main").WithError(err).Warn("archival disabled, continuing without it")
		} else {
			archiver = s3arch
		}
	}

	runner := ingest.NewRunner(
		cfg,
		adapter,
		processor.NewEntityFilter(cfg.Universe),
		processor.NewNormalizer(cfg.Universe),
		dedup,
		store,
		archiver,
	)
	if err := runner.Start(ctx); err != nil {
		log.WithComponent("main").WithError(err).Error("failed to start runner")
		os.Exit(1)
	}

	<-ctx.Done()
	log.WithComponent("main").Info("shutdown signal received")
	runner.Stop()
	log.WithComponent("main").Info("service stopped")
}
