package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"tradeflow/config"
	"tradeflow/connector"
	"tradeflow/internal/bus"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/recorder"
	"tradeflow/venue"
	"tradeflow/venue/binance"
	"tradeflow/venue/paper"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradeflow.Name,
		"version": cfg.Tradeflow.Version,
		"venue":   cfg.Venue.Name,
	}).Info("starting tradeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	adapter := buildAdapter(cfg, log)

	eventBus := bus.New()

	eventBus.Subscribe(bus.TopicError, func(payload interface{}) {
		if msg, ok := payload.(string); ok {
			log.WithComponent("main").WithFields(logger.Fields{"error": msg}).Warn("connector error event")
		}
	})
	eventBus.Subscribe(bus.TopicFill, func(payload interface{}) {
		fill, ok := payload.(models.FillEvent)
		if !ok {
			return
		}
		log.WithComponent("main").WithFields(logger.Fields{
			"symbol": fill.Symbol,
			"side":   string(fill.Side),
			"price":  fill.Price,
			"amount": fill.Amount,
		}).Info("fill")
	})

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.New(recorder.Config{
			Venue:         cfg.Venue.Name,
			Dir:           cfg.Recorder.Dir,
			FlushInterval: cfg.Recorder.FlushInterval,
			S3: recorder.S3Config{
				Bucket:          s3Bucket(cfg),
				Region:          cfg.Storage.S3.Region,
				Endpoint:        cfg.Storage.S3.Endpoint,
				PathStyle:       cfg.Storage.S3.PathStyle,
				AccessKeyID:     cfg.Storage.S3.AccessKeyID,
				SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			},
		})
		if err != nil {
			log.WithError(err).Error("failed to create recorder")
			os.Exit(1)
		}
		if err := rec.Start(ctx, eventBus); err != nil {
			log.WithError(err).Error("failed to start recorder")
			os.Exit(1)
		}
	}

	conn := connector.New(adapter, eventBus, connector.Options{
		Hedged:       cfg.Venue.Hedged,
		PollInterval: cfg.Connector.PollInterval,
	})
	if err := conn.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start connector")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	conn.Dispose()
	if rec != nil {
		log.Info("stopping recorder")
		rec.Stop()
	}

	log.Info("tradeflow stopped")
}

// buildAdapter constructs the venue selected by the configuration. The paper
// venue ships a small built-in market set so the demo runs with no network.
func buildAdapter(cfg *config.Config, log *logger.Log) venue.Adapter {
	switch cfg.Venue.Name {
	case "binance":
		return binance.New(binance.Config{
			APIKey:        cfg.Venue.Binance.APIKey,
			APISecret:     cfg.Venue.Binance.APISecret,
			StreamURL:     cfg.Venue.Binance.StreamURL,
			Hedged:        cfg.Venue.Hedged,
			StreamSymbols: cfg.Venue.Binance.StreamSymbols,

			RequestsPerSecond: cfg.Venue.Binance.RequestsPerSecond,
			Burst:             cfg.Venue.Binance.Burst,
			PingInterval:      cfg.Connector.PingInterval,
		})
	default:
		log.WithComponent("main").Info("using paper venue")
		markets := []models.Market{
			{
				ID:     "BTCUSDT",
				Symbol: "BTC/USDT",
				Base:   "BTC",
				Quote:  "USDT",
				Active: true,
				Precision: models.PrecisionRange{
					Amount: 0.001,
					Price:  0.1,
				},
				Limits: models.MarketLimits{
					Amount:   models.MinMax{Min: 0.001, Max: 500},
					Leverage: models.MinMax{Min: 1, Max: 125},
				},
			},
			{
				ID:     "ETHUSDT",
				Symbol: "ETH/USDT",
				Base:   "ETH",
				Quote:  "USDT",
				Active: true,
				Precision: models.PrecisionRange{
					Amount: 0.01,
					Price:  0.01,
				},
				Limits: models.MarketLimits{
					Amount:   models.MinMax{Min: 0.01, Max: 5000},
					Leverage: models.MinMax{Min: 1, Max: 100},
				},
			},
		}
		adapter := paper.New(markets, 100_000)
		adapter.SetHedged(cfg.Venue.Hedged)
		adapter.PushPrice("BTC/USDT", 65_000)
		adapter.PushPrice("ETH/USDT", 3_200)
		return adapter
	}
}

func s3Bucket(cfg *config.Config) string {
	if !cfg.Storage.S3.Enabled {
		return ""
	}
	return cfg.Storage.S3.Bucket
}
