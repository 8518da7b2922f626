package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"p2pflow/config"
	"p2pflow/logger"
	"p2pflow/models"
	"p2pflow/processor"
	"p2pflow/reader/binance"
	"p2pflow/writer"
)

const defaultConfigPath = "config/config.yml"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	once := flag.Bool("once", false, "Run a single ingestion cycle and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath, defaultConfigPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.P2PFlow.Name,
		"version":     cfg.P2PFlow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting p2pflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if !cfg.Source.Binance.Enabled {
		log.Error("no listing source enabled")
		os.Exit(1)
	}

	sink, err := writer.NewPostgresSink(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to create postgres sink")
		os.Exit(1)
	}
	defer sink.Close()

	if err := sink.EnsureSchema(ctx); err != nil {
		log.WithError(err).Error("failed to ensure storage schema")
		os.Exit(1)
	}

	var archive *writer.ArchiveWriter
	if cfg.Storage.S3.Enabled {
		archive, err = writer.NewArchiveWriter(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	}

	var publisher *writer.KafkaPublisher
	if cfg.Storage.Kafka.Enabled {
		publisher, err = writer.NewKafkaPublisher(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create kafka publisher")
			os.Exit(1)
		}
		defer publisher.Close()
	}

	source := binance.NewReader(cfg)
	pipeline, err := processor.NewPipeline(cfg, source, sink)
	if err != nil {
		log.WithError(err).Error("failed to create pipeline")
		os.Exit(1)
	}

	runCycle := func() error {
		result, err := pipeline.RunCycle(ctx)
		if err != nil {
			// A failed write is reported and dropped; the next scheduled
			// cycle retries with fresh data.
			log.WithError(err).Error("ingestion cycle failed")
			return err
		}
		if archive != nil {
			if err := archive.Archive(ctx, result); err != nil {
				log.WithError(err).Warn("failed to archive cycle batch")
			}
		}
		if publisher != nil {
			if err := publisher.Publish(ctx, result); err != nil {
				log.WithError(err).Warn("failed to publish cycle batch")
			}
		}
		logCycleSummary(log, result)
		return nil
	}

	if *once {
		if err := runCycle(); err != nil {
			os.Exit(1)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.WithFields(logger.Fields{
		"interval": cfg.Scheduler.Interval,
	}).Info("scheduler started")

	ticker := time.NewTicker(cfg.Scheduler.Interval)
	defer ticker.Stop()

	// First cycle immediately, then one per tick. Cycles never overlap:
	// each runs to completion, including the storage write, before the
	// next tick is consumed.
	_ = runCycle()
	for {
		select {
		case sig := <-sigChan:
			log.WithFields(logger.Fields{"signal": sig.String()}).Info("received shutdown signal")
			cancel()
			log.Info("p2pflow stopped")
			return
		case <-ticker.C:
			_ = runCycle()
		}
	}
}

func logCycleSummary(log *logger.Log, result *models.CycleResult) {
	for _, sb := range result.Sides {
		fields := logger.Fields{
			"batch_id":    result.BatchID,
			"side":        sb.Side.Label(),
			"accepted":    len(sb.Records),
			"out_of_band": sb.OutOfBand,
			"malformed":   sb.Malformed,
			"pages":       sb.Pages,
		}
		if sb.Skipped {
			fields["skip_reason"] = sb.SkipReason
		}
		log.WithComponent("main").WithFields(fields).Info("cycle side summary")
	}
	log.WithComponent("main").WithFields(logger.Fields{
		"batch_id":         result.BatchID,
		"records_appended": result.Appended,
	}).Info("cycle summary")
}
