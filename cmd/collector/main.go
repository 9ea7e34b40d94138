package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/streampilot/streampilot-server/internal/api"
	"github.com/streampilot/streampilot-server/internal/config"
	"github.com/streampilot/streampilot-server/internal/events"
	"github.com/streampilot/streampilot-server/internal/poller"
	"github.com/streampilot/streampilot-server/internal/probe"
	"github.com/streampilot/streampilot-server/internal/storage"
	"github.com/streampilot/streampilot-server/internal/streamhub"
	"github.com/streampilot/streampilot-server/internal/tracker"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/collector.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	var cfg *config.Config
	if _, err := os.Stat(configFile); err == nil {
		cfg, err = config.Load(configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	} else {
		log.Info().Str("file", configFile).Msg("Config file not found, using defaults")
		cfg = config.Default()
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Open database
	store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxOpenConns, cfg.Database.BusyTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer store.Close()

	log.Info().Str("path", cfg.Database.Path).Msg("Database opened")

	// Optional: connect the event bus
	var publisher tracker.Publisher
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		np, err := events.Connect(&cfg.NATS, cfg.Server.Name)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer np.Close()
			log.Info().Msg("Connected to NATS")
			publisher = np
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the collection pipeline
	probeClient := probe.NewClient(cfg.Collector.HTTPTimeout, cfg.Collector.HTTPPoolSize)
	collector := streamhub.NewCollector(probeClient, cfg.Collector.LogFetchLimit, cfg.Collector.LogPathOverride)
	tr := tracker.New(store, publisher, cfg.Collector.TickInterval, cfg.Collector.AgeWindow)
	p := poller.New(store, collector, tr, cfg.Collector.PollInterval)

	// WaitGroup for services
	var wg sync.WaitGroup

	// Start sample ticker
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Dur("interval", cfg.Collector.TickInterval).Msg("Starting sample ticker")
		if err := tr.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Sample ticker stopped")
		}
	}()

	// Start background poller
	if err := p.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start poller")
	}

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, p, tr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		log.Info().Str("addr", addr).Msg("Starting REST API server")
		if err := apiServer.ListenAndServe(addr); err != nil {
			log.Error().Err(err).Msg("REST API server stopped")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Stop accepting new poll cycles and let the in-flight one finish
	if err := p.Stop(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("Failed to stop poller")
	}

	// Cancel context to stop the ticker
	cancel()

	// Shutdown API server
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Collector stopped")
}
