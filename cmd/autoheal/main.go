// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/socialsparkai/autoheal/pkg/logging"
	"github.com/socialsparkai/autoheal/services/selfheal"
	"github.com/socialsparkai/autoheal/services/selfheal/executor"
	"github.com/socialsparkai/autoheal/services/selfheal/monitor"
	"github.com/socialsparkai/autoheal/services/selfheal/mutator"
	"github.com/socialsparkai/autoheal/services/selfheal/observability"
	"github.com/socialsparkai/autoheal/services/selfheal/oracle"
	"github.com/socialsparkai/autoheal/services/selfheal/routes"
	"github.com/socialsparkai/autoheal/services/selfheal/store"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "socialspark-otel-collector:4317")
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("selfheal-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	port := getEnv("AUTOHEAL_PORT", "12410")

	logger := logging.Setup(logging.Config{
		Level:   getEnv("LOG_LEVEL", "info"),
		Service: "autoheal",
		JSON:    true,
		LogDir:  os.Getenv("LOG_DIR"),
	})

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// Configuration: file if provided, production defaults otherwise.
	configPath := os.Getenv("AUTOHEAL_CONFIG")
	cfg := selfheal.DefaultConfig()
	if configPath != "" {
		cfg, err = selfheal.LoadConfigFile(configPath)
		if err != nil {
			log.Fatalf("FATAL: could not load config file %s: %v", configPath, err)
		}
	}

	// Health probes against the platform under supervision.
	targetURL := strings.Trim(getEnv("AUTOHEAL_TARGET_URL", "http://localhost:8080"), "\"' ")
	endpoints := strings.Split(getEnv("AUTOHEAL_PROBE_ENDPOINTS", "/api/content,/api/publish,/api/billing"), ",")
	for i := range endpoints {
		endpoints[i] = strings.TrimSpace(endpoints[i])
	}
	storagePath := getEnv("AUTOHEAL_STORAGE_PROBE", "/api/storage/ping")
	probe := monitor.NewHTTPProbe(targetURL, endpoints, storagePath)

	// The session store is not wired here; goroutine count stands in as
	// a rough load signal for the activeUserCount field.
	mon := monitor.New(probe,
		monitor.WithLogger(logger),
		monitor.WithUserCounter(func(ctx context.Context) int {
			return runtime.NumGoroutine()
		}),
	)

	artifactRoot := getEnv("AUTOHEAL_ARTIFACT_ROOT", "/var/lib/autoheal/artifacts")
	snapshotDir := getEnv("AUTOHEAL_SNAPSHOT_DIR", "/var/lib/autoheal/snapshots")
	mut, err := mutator.NewFSMutator(artifactRoot, snapshotDir)
	if err != nil {
		log.Fatalf("FATAL: could not initialize artifact mutator: %v", err)
	}

	exec := executor.New(cfg.Executor, mut, mon, logger)

	orc, err := oracle.NewOpenAIOracle()
	if err != nil {
		log.Fatalf("FATAL: could not initialize diagnosis oracle: %v", err)
	}

	orchestratorOpts := []selfheal.Option{
		selfheal.WithLogger(logger),
		selfheal.WithSnapshotPruner(mut),
	}

	// Durable audit trail is optional; without it histories are
	// in-memory only.
	if archiveDir := os.Getenv("AUTOHEAL_ARCHIVE_DIR"); archiveDir != "" {
		archive, err := store.Open(store.DefaultConfig(archiveDir))
		if err != nil {
			log.Fatalf("FATAL: could not open audit archive: %v", err)
		}
		defer archive.Close()
		orchestratorOpts = append(orchestratorOpts, selfheal.WithArchive(archive))
	}

	orchestrator, err := selfheal.New(cfg, mon, orc, exec, orchestratorOpts...)
	if err != nil {
		log.Fatalf("FATAL: could not create orchestrator: %v", err)
	}

	ctx := context.Background()
	if err := orchestrator.Start(ctx); err != nil {
		log.Fatalf("FATAL: could not start orchestrator: %v", err)
	}
	defer orchestrator.Stop()

	if configPath != "" {
		watcher, err := selfheal.NewConfigWatcher(configPath, orchestrator, logger)
		if err != nil {
			log.Fatalf("FATAL: could not create config watcher: %v", err)
		}
		if err := watcher.Start(); err != nil {
			log.Fatalf("FATAL: could not start config watcher: %v", err)
		}
		defer watcher.Stop()
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("selfheal-service"))
	routes.SetupRoutes(router, orchestrator, ctx)

	slog.Info("starting the self-healing service", "port", port, "target", targetURL)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
