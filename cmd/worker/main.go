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

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-worker")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	ops := httpserver.New(container.Config.HTTP, container.Postgres.DB(), container.Redis.Inner(), container.Logger)
	go func() {
		if err := ops.Start(ctx); err != nil {
			container.Logger.Sugar().Errorf("ops http server terminated: %v", err)
		}
	}()

	pool := container.WorkerPool()
	if err := pool.Run(ctx, container.Config.Kafka.DispatchTopic, container.Config.Kafka.ConsumerGroupID); err != nil && ctx.Err() == nil {
		log.Fatalf("worker pool terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
