package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fixflow/config"
	"fixflow/engine"
	"fixflow/internal/channel"
	"fixflow/logger"
	"fixflow/publisher"
	"fixflow/recorder"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":  cfg.Fixflow.Name,
		"version":  cfg.Fixflow.Version,
		"accounts": len(cfg.Accounts),
	}).Info("starting fixflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Logging.DashboardName != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Fixflow.Name, cfg.Logging.DashboardName)
	}

	var wg sync.WaitGroup

	type accountUnit struct {
		hub      *channel.Hub
		engine   *engine.Engine
		recorder *recorder.Recorder
		pub      *publisher.Publisher
	}

	units := make([]*accountUnit, 0, len(cfg.Accounts))
	fatal := make(chan error, len(cfg.Accounts))

	for _, acc := range cfg.Accounts {
		hub := channel.NewHub(cfg.Channels.InboundBuffer, cfg.Channels.StreamBuffer)
		unit := &accountUnit{
			hub:    hub,
			engine: engine.New(cfg, acc, hub),
		}

		if cfg.Recorder.Enabled {
			unit.recorder, err = recorder.NewRecorder(cfg, acc.Name, hub.Ticks)
			if err != nil {
				log.WithError(err).Error("failed to create tick recorder")
				os.Exit(1)
			}
		} else {
			go drainTicks(ctx, hub)
		}

		if cfg.Publisher.Enabled {
			unit.pub, err = publisher.NewPublisher(cfg, hub.Events)
			if err != nil {
				log.WithError(err).Error("failed to create ledger publisher")
				os.Exit(1)
			}
		} else {
			go drainEvents(ctx, hub)
		}

		units = append(units, unit)
	}

	for _, unit := range units {
		go unit.hub.StartMetricsReporting(ctx)

		if unit.recorder != nil {
			if err := unit.recorder.Start(ctx); err != nil {
				log.WithError(err).Error("failed to start tick recorder")
				os.Exit(1)
			}
		}
		if unit.pub != nil {
			if err := unit.pub.Start(ctx); err != nil {
				log.WithError(err).Error("failed to start ledger publisher")
				os.Exit(1)
			}
		}
		if err := unit.engine.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start engine")
			os.Exit(1)
		}

		wg.Add(1)
		go func(u *accountUnit) {
			defer wg.Done()
			select {
			case <-ctx.Done():
			case err := <-u.engine.Errs():
				fatal <- err
			}
		}(unit)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-fatal:
		log.WithError(err).Error("fatal connectivity error")
	}

	log.Info("starting graceful shutdown")
	cancel()

	for _, unit := range units {
		unit.engine.Stop()
		if unit.recorder != nil {
			unit.recorder.Stop()
		}
		if unit.pub != nil {
			unit.pub.Stop()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("fixflow stopped")
}

// drainTicks discards the tick stream when no recorder consumes it, so
// the hub's non-blocking sends do not count every tick as dropped.
func drainTicks(ctx context.Context, hub *channel.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-hub.Ticks:
			if !ok {
				return
			}
		}
	}
}

func drainEvents(ctx context.Context, hub *channel.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-hub.Events:
			if !ok {
				return
			}
		}
	}
}
