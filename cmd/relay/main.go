package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/config"
	"github.com/xrayfleet/xrayfleet/internal/db"
	"github.com/xrayfleet/xrayfleet/internal/service"
	"github.com/xrayfleet/xrayfleet/internal/storage"
	"github.com/xrayfleet/xrayfleet/internal/worker"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "xrayfleet-relay").Logger()
	if cfg.Dev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pools, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pools.Close()

	relay := service.NewRelayService(storage.New(pools), cfg.RelayBatch, cfg.RelayMaxAttempts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.RunLoop(ctx, "outbox-relay", cfg.WorkerPace, cfg.WorkerPause, relay.ProcessBatch)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	stop()
	<-done
}
