package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/auth"
	"github.com/xrayfleet/xrayfleet/internal/config"
	"github.com/xrayfleet/xrayfleet/internal/db"
	"github.com/xrayfleet/xrayfleet/internal/httpapi"
	"github.com/xrayfleet/xrayfleet/internal/service"
	"github.com/xrayfleet/xrayfleet/internal/storage"
	"github.com/xrayfleet/xrayfleet/internal/xrayrpc"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "xrayfleet-admin").Logger()
	if cfg.Dev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx := context.Background()
	pools, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pools.Close()

	restarts := xrayrpc.NewManager(xrayrpc.Options{
		Insecure:   cfg.GRPCInsecure,
		RootCAFile: cfg.GRPCRootCA,
	})
	defer restarts.Close()

	store := storage.New(pools)
	engines := service.NewEngineService(store, restarts)

	srv := &httpapi.Server{
		Control:     engines,
		Engines:     store.EngineAdmin(),
		Subs:        store.SubscriptionAdmin(),
		Users:       store.Users(),
		Parked:      store,
		MaxAttempts: cfg.RelayMaxAttempts,
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.JWTSecret,
		DevMode:     cfg.Dev(),
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting admin HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
