package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/fsutil"
	"github.com/vk/flowgridgo/internal/graph"
)

// Run executes the application lifecycle: preload graph definitions, recover
// incomplete runs, then serve HTTP until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.GraphsPath != "" {
		if err := a.preloadGraphs(ctx); err != nil {
			return fmt.Errorf("preload graph definitions: %w", err)
		}
	}

	report, err := a.recovery.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery pass failed: %w", err)
	}
	if len(report.Resumed) > 0 || len(report.Quarantined) > 0 {
		a.logger.Info("Recovery pass finished.",
			"resumed", len(report.Resumed), "quarantined", len(report.Quarantined))
	}

	httpServer := &http.Server{
		Addr:    a.config.Listen,
		Handler: a.server.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctxlog.WithLogger(context.Background(), a.logger)
		},
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("🚀 HTTP server starting.", "address", a.config.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed.", "error", err)
	}
	if err := a.sink.Close(); err != nil {
		a.logger.Warn("Event sink close failed.", "error", err)
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// preloadGraphs loads every .hcl graph definition under GraphsPath into the
// gateway. Each startup persists a fresh version; runs created earlier keep
// their pinned versions.
func (a *App) preloadGraphs(ctx context.Context) error {
	files, err := fsutil.FindFilesByExtension(a.config.GraphsPath, ".hcl")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		a.logger.Warn("No .hcl graph files found in path.", "path", a.config.GraphsPath)
		return nil
	}

	for _, file := range files {
		graphs, err := graph.DecodeHCLFile(file)
		if err != nil {
			return err
		}
		for _, g := range graphs {
			version, err := a.gateway.SaveGraph(ctx, g)
			if err != nil {
				return fmt.Errorf("persist graph %q from %s: %w", g.ID, file, err)
			}
			a.logger.Info("Graph definition loaded.", "graph_id", g.ID, "version", version, "file", file)
		}
	}
	return nil
}
