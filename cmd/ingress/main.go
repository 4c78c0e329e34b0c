package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/config"
	"github.com/xrayfleet/xrayfleet/internal/db"
	"github.com/xrayfleet/xrayfleet/internal/ingress"
	"github.com/xrayfleet/xrayfleet/internal/service"
	"github.com/xrayfleet/xrayfleet/internal/storage"
)

func main() {
	cfg := config.Load()

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "xrayfleet-ingress").Logger()
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

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bad REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	store := storage.New(pools)
	engines := service.NewEngineService(store, nil)

	name := ingress.ConsumerName()
	ops := ingress.NewStreamOps(rdb)
	consumer := ingress.NewConsumer(ops, engines, name)
	reclaimer := ingress.NewReclaimer(ops, consumer, name)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		reclaimer.Run(ctx)
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down gracefully...")
	stop()
	wg.Wait()
	log.Info().Msg("ingress stopped")
}
