package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"casedesk/internal/config"
	"casedesk/internal/logger"
	"casedesk/internal/relay"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := relay.NewServer(ctx, cfg, log)
	if err != nil {
		log.Error("relay_start_failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("relay_configured",
		"ws_route", cfg.RelayRoute(),
		"postgres_outbox", cfg.DatabaseURL != "",
		"redis_fanout", cfg.RedisURL != "",
		"auth", cfg.JWTSecret != "",
	)

	if err := server.Run(ctx); err != nil {
		log.Error("relay_stopped", "error", err.Error())
		os.Exit(1)
	}
}
