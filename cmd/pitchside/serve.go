// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/pitchside/services/chat"
	"github.com/AleutianAI/pitchside/services/config"
	"github.com/AleutianAI/pitchside/services/gateway"
	"github.com/AleutianAI/pitchside/services/llm"
	"github.com/AleutianAI/pitchside/services/memory"
	"github.com/AleutianAI/pitchside/services/nlu"
	"github.com/AleutianAI/pitchside/services/orchestrator"
	"github.com/AleutianAI/pitchside/services/planner"
	"github.com/AleutianAI/pitchside/services/render"
	"github.com/AleutianAI/pitchside/services/semantics"
	"github.com/AleutianAI/pitchside/services/sqlgen"
	badgerstore "github.com/AleutianAI/pitchside/services/storage/badger"
)

func newServeCommand() *cobra.Command {
	var port int
	var traces bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(port, traces)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().BoolVar(&traces, "traces", false, "Print otel spans to stdout")
	return cmd
}

func runServe(portFlag int, traces bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if traces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("serve: creating trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer tp.Shutdown(context.Background())
	}

	logger := slog.Default()

	// Persistent state
	dataDir := cfg.Memory.DataDir
	badgerCfg := badgerstore.DefaultConfig()
	badgerCfg.Path = filepath.Join(dataDir, "badger")
	db, err := badgerstore.OpenDB(badgerCfg)
	if err != nil {
		return fmt.Errorf("serve: opening state store: %w", err)
	}
	defer db.Close()

	memStore := memory.NewStore(db, logger)
	templateStore := sqlgen.NewTemplateStore(db, logger)

	// One-time migration of the whole-file JSON documents a previous
	// deployment may have left in the data directory.
	ctx := context.Background()
	if err := memStore.ImportLegacy(ctx, dataDir); err != nil {
		logger.Warn("Legacy memory import failed", slog.String("error", err.Error()))
	}
	if err := templateStore.ImportLegacy(ctx, dataDir); err != nil {
		logger.Warn("Legacy template import failed", slog.String("error", err.Error()))
	}

	// Outbound clients
	completer, err := llm.NewClient(llm.Config{
		BaseURL:           cfg.Completion.BaseURL,
		APIKey:            cfg.Completion.APIKey,
		Model:             cfg.Completion.Model,
		FallbackModel:     cfg.Completion.FallbackModel,
		Timeout:           cfg.Completion.Timeout.Std(),
		RequestsPerMinute: cfg.Completion.RequestsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("serve: completion client: %w", err)
	}
	gw, err := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
	if err != nil {
		return fmt.Errorf("serve: gateway client: %w", err)
	}
	schema := gateway.NewSchemaCache(gw, cfg.Gateway.SchemaTTL.Std())
	renderer, err := render.NewClient(cfg.Renderer.BaseURL, cfg.Renderer.Timeout.Std())
	if err != nil {
		return fmt.Errorf("serve: render client: %w", err)
	}
	hints, err := semantics.NewProvider(cfg.Memory.HintsPath, logger)
	if err != nil {
		return fmt.Errorf("serve: semantic hints: %w", err)
	}
	defer hints.Close()

	// Core pipeline
	resolver := nlu.NewResolver(nlu.NewGatewayLookup(gw), memStore, logger)
	plan := planner.New(memStore, templateStore, resolver, gw, logger)
	orch := orchestrator.New(completer, gw, schema, renderer, hints, templateStore, memStore, orchestrator.Config{
		MaxToolRounds:    cfg.Planner.MaxToolRounds,
		AnalysisMaxRows:  cfg.Planner.AnalysisMaxRows,
		AnalysisMaxChars: cfg.Planner.AnalysisMaxChars,
	}, logger)

	broadcaster := chat.NewBroadcaster(logger)
	handlers := chat.NewHandlers(plan, orch, broadcaster, []chat.ReadyCheck{
		{Name: "renderer", Probe: renderer.Health},
		{Name: "gateway", Probe: func(ctx context.Context) error {
			_, err := schema.Snapshot(ctx)
			return err
		}},
	}, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("pitchside"))
	if cfg.Server.Debug {
		router.Use(gin.Logger())
	}
	v1 := router.Group("/v1")
	chat.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down pitchside server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Forced shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Starting pitchside server",
		slog.String("address", srv.Addr),
		slog.String("model", completer.Model()),
		slog.String("data_dir", dataDir))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
