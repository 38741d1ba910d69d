package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/outbound-dialer/internal/app"
	"github.com/acme/outbound-dialer/internal/httpserver"
	"github.com/acme/outbound-dialer/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-sweeper")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ops := httpserver.New(container.Config.HTTP, container.Postgres.DB(), nil, container.Logger)
	go func() {
		if err := ops.Start(ctx); err != nil {
			container.Logger.Sugar().Errorf("ops http server terminated: %v", err)
		}
	}()

	sweep := container.Sweeper()
	if err := sweep.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("sweeper terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
