// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serve implements `fyreflowd serve`: the daemon entry point
// composing the pipeline store, secrets vault, run state machine,
// cron scheduler, and HTTP API into one running process.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyreflow/core/internal/api"
	"github.com/fyreflow/core/internal/auth"
	fyconfig "github.com/fyreflow/core/internal/config"
	"github.com/fyreflow/core/internal/gate"
	"github.com/fyreflow/core/internal/log"
	"github.com/fyreflow/core/internal/mcp"
	"github.com/fyreflow/core/internal/metrics"
	"github.com/fyreflow/core/internal/provider"
	"github.com/fyreflow/core/internal/runner"
	"github.com/fyreflow/core/internal/scheduler"
	"github.com/fyreflow/core/internal/store"
	"github.com/fyreflow/core/internal/tracing"
	"github.com/fyreflow/core/internal/vault"
)

// NewCommand creates the `serve` command.
func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fyreflowd daemon: HTTP API, run state machine, and cron scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a fyreflowd config file (YAML)")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := fyconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("preparing storage layout: %w", err)
	}

	logger := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	providers := provider.NewRegistry()
	gates := gate.New()

	v, err := vault.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening secrets vault: %w", err)
	}

	tracerProvider, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:  cfg.Tracing.Enabled,
		Exporter: tracing.ExporterType(cfg.Tracing.Exporter),
		Endpoint: cfg.Tracing.Endpoint,
		Insecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing provider: %w", err)
	}
	if tracerProvider != nil {
		defer func() { _ = tracerProvider.Shutdown(context.Background()) }()
	}

	r := runner.New(providers, gates, v, runner.Config{
		MaxParallel: cfg.MaxParallelRuns,
		StorageRoot: cfg.Storage.ArtifactRoot,
		Tracing:     tracerProvider,
	})

	pipelineStore, err := store.Open(cfg.Storage.DataDir, r, logger)
	if err != nil {
		return fmt.Errorf("opening pipeline store: %w", err)
	}
	defer pipelineStore.Close()

	mcpRegistry := mcp.NewRegistry(0)

	sched := scheduler.New(pipelineStore, r, logger, cfg.SchedulerBurstPerTick)
	sched.Start(ctx)
	defer sched.Stop()

	reg := metrics.NewRegistry()

	var validator *auth.Validator
	if cfg.Server.AuthSecret != "" {
		validator = auth.NewValidator(auth.Config{Secret: []byte(cfg.Server.AuthSecret), Issuer: "fyreflowd"})
	} else {
		logger.Warn("FYREFLOW_API_AUTH_SECRET not set; the HTTP API is running without bearer-token auth")
	}

	srv := api.NewServer(api.Deps{
		Store:     pipelineStore,
		Runner:    r,
		Vault:     v,
		MCP:       mcpRegistry,
		Scheduler: sched,
		Auth:      validator,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", srv.Routes())
	mux.Handle("/metrics", reg.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fyreflowd listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := r.Stop(shutdownCtx); err != nil {
		logger.Warn("runs still in flight at shutdown deadline", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDrain()
	return httpServer.Shutdown(drainCtx)
}
