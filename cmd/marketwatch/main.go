package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sagarzx/Car-Market-Alert/internal/alert"
	"github.com/Sagarzx/Car-Market-Alert/internal/config"
	"github.com/Sagarzx/Car-Market-Alert/internal/logger"
	"github.com/Sagarzx/Car-Market-Alert/internal/market"
	"github.com/Sagarzx/Car-Market-Alert/internal/pipeline"
	"github.com/Sagarzx/Car-Market-Alert/internal/reference"
	"github.com/Sagarzx/Car-Market-Alert/internal/scrape"
	"github.com/Sagarzx/Car-Market-Alert/internal/storage"
	"github.com/Sagarzx/Car-Market-Alert/internal/telegram"
)

const (
	exitOK        = 0
	exitFatal     = 1
	exitNoSources = 2 // ran, but no marketplace was reachable
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	interval   = flag.Duration("interval", 0, "Run continuously at this interval (0 = run one cycle and exit)")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	adapters := buildAdapters(cfg)
	if len(adapters) == 0 {
		logger.Fatal("No sources enabled")
	}

	var notifier pipeline.Notifier
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	calc := reference.New(reference.Config{
		Window:    cfg.Watch.Window(),
		MinSample: cfg.Watch.MinSample,
	})
	runner := pipeline.New(
		pipeline.Config{
			Alert: alert.Config{
				Margin:           cfg.Watch.AlertMargin,
				DropThresholdPct: cfg.Watch.DropThresholdPct,
				DropThresholdAbs: cfg.Watch.DropThresholdAbs,
				PriorityRegions:  cfg.Watch.PriorityRegions,
				NotifyNew:        cfg.Watch.NotifyNew,
			},
			Limits: market.Limits{
				MinPrice: cfg.Watch.MinPrice,
				MaxPrice: cfg.Watch.MaxPrice,
				MaxKm:    cfg.Watch.MaxKm,
			},
		},
		store, calc, adapters, notifier,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *interval == 0 {
		code := runOnce(ctx, runner)
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
		os.Exit(code)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	runLoop(ctx, runner, telegramClient, *interval)
}

func buildAdapters(cfg *config.Config) []scrape.Adapter {
	var adapters []scrape.Adapter
	for name, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		switch name {
		case "olx":
			adapters = append(adapters, scrape.NewOLX(src))
		case "standvirtual":
			adapters = append(adapters, scrape.NewStandvirtual(src))
		default:
			logger.Warn("Unknown source %q in configuration, skipping", name)
		}
	}
	return adapters
}

func runOnce(ctx context.Context, runner *pipeline.Runner) int {
	start := time.Now()
	sum, err := runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrNoSources):
		logger.Error("Cycle could not run: %v", err)
		return exitNoSources
	case err != nil:
		logger.Error("Cycle failed: %v", err)
		return exitFatal
	}
	logger.Info("Cycle completed in %v: %d/%d sources, %d fetched (%d rejected), %d current, %d alerts (%d notified)",
		time.Since(start), sum.SourcesReached, sum.SourcesReached+sum.SourcesFailed,
		sum.Fetched, sum.Rejected, sum.Current, sum.Candidates, sum.Notified)
	return exitOK
}

func runLoop(ctx context.Context, runner *pipeline.Runner, telegramClient *telegram.Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	logger.Info("Starting watch loop (interval: %v)", every)
	_, err := runner.Run(ctx)
	handleCycleResult(err)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return
		case <-ticker.C:
			_, err := runner.Run(ctx)
			handleCycleResult(err)
		}
	}
}
