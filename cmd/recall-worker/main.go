// Package main provides the recall worker daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/config"
	"github.com/thebtf/recall/internal/watcher"
	"github.com/thebtf/recall/internal/worker"
)

// version is stamped at link time.
var version = "dev"

// shutdownGrace bounds how long in-flight agent work may run during
// shutdown before the process exits anyway.
const shutdownGrace = 20 * time.Second

func main() {
	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Data directory setup failed")
	}
	cfg := config.Get()
	setupLogging(cfg.LogLevel)

	svc, err := worker.New(version)
	if err != nil {
		log.Fatal().Err(err).Msg("Worker setup failed")
	}

	// A deleted database file means someone reset their memory. The worker
	// exits; the next hook invocation starts a fresh one over a new file.
	dbWatcher, err := watcher.New(config.DBPath(), func() {
		log.Warn().Msg("Database deleted, shutting down for recreation")
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Database watcher unavailable")
	} else {
		if err := dbWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Database watcher failed to start")
		}
		defer dbWatcher.Stop()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Worker exited with error")
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
