package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	services, err := setupServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := services.Client.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("session loop failed")
		}
	}()

	if services.Mirror != nil {
		go services.Mirror.Run(ctx)
	}

	var server *http.Server
	if cfg.Inspect.Enabled {
		server = setupServer(cfg.Inspect.Addr, services)
		go func() {
			log.Info().Str("addr", server.Addr).Msg("inspection server starting")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("inspection server failed")
			}
		}()
	}

	if err := services.Client.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("host", cfg.Host.BaseURL).Msg("host health check failed")
	}

	snapshots, unsubscribe := services.Client.Subscribe()
	defer unsubscribe()
	go watchSnapshots(ctx, snapshots)

	if err := services.Client.Start(ctx, cfg.Player.Name); err != nil {
		log.Fatal().Err(err).Str("host", cfg.Host.BaseURL).Msg("failed to start session")
	}

	go runConsole(ctx, services.Client, os.Stdin, cancel)

	// Wait for interrupt signal or quit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("inspection server shutdown failed")
		}
	}

	cancel()
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("session loop did not stop in time")
	}

	if services.Mirror != nil {
		services.Mirror.Close()
	}

	log.Info().Msg("deduction client shutdown complete")
}
