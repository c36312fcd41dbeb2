// Package app is the composition root: it wires the logger, tool registry,
// persistence gateway, executor engine, recovery manager, and HTTP server
// into one runnable application instance.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/flowgridgo/internal/config"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/eventing"
	"github.com/vk/flowgridgo/internal/eventing/socketio"
	"github.com/vk/flowgridgo/internal/executor"
	"github.com/vk/flowgridgo/internal/filestore"
	"github.com/vk/flowgridgo/internal/memstore"
	"github.com/vk/flowgridgo/internal/recovery"
	"github.com/vk/flowgridgo/internal/server"
	"github.com/vk/flowgridgo/internal/store"
	"github.com/vk/flowgridgo/internal/tool"
	"github.com/vk/flowgridgo/modules/anomalies"
	"github.com/vk/flowgridgo/modules/profile"
	"github.com/vk/flowgridgo/modules/rules"
)

// coreModules is the fixed tool set registered at startup.
var coreModules = []tool.Module{
	&profile.Module{},
	&anomalies.Module{},
	&rules.Module{},
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *config.Config
	registry *tool.Registry
	gateway  store.Gateway
	sink     eventing.Sink
	engine   *executor.Engine
	recovery *recovery.Manager
	server   *server.Server
}

// NewApp constructs a fully wired application instance. Additional modules
// may be supplied by tests; with none given, the core tool set registers.
func NewApp(outW io.Writer, cfg *config.Config, modules ...tool.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	registry := tool.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(registry)
	}
	logger.Debug("All tool modules registered.", "tools", registry.Names())

	gateway, err := newGateway(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize persistence gateway: %w", err)
	}
	logger.Debug("Persistence gateway ready.", "store", cfg.Store)

	var sink eventing.Sink = eventing.NoopSink{}
	if cfg.Events.SocketIO.URL != "" {
		sink, err = socketio.New(ctx, socketio.Config{
			URL:                cfg.Events.SocketIO.URL,
			Namespace:          cfg.Events.SocketIO.Namespace,
			EmitEvent:          cfg.Events.SocketIO.EmitEvent,
			InsecureSkipVerify: cfg.Events.SocketIO.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize event sink: %w", err)
		}
		logger.Info("Event sink connected.", "url", cfg.Events.SocketIO.URL)
	}

	engine := executor.New(gateway, registry, sink, executor.Options{})

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: registry,
		gateway:  gateway,
		sink:     sink,
		engine:   engine,
		recovery: recovery.New(gateway, engine, cfg.RecoveryWorkers),
		server:   server.New(engine, gateway),
	}, nil
}

func newGateway(cfg *config.Config) (store.Gateway, error) {
	switch cfg.Store {
	case "memory":
		return memstore.New(), nil
	default:
		return filestore.New(cfg.DataDir)
	}
}

// Engine returns the application's executor engine. Primarily for testing.
func (a *App) Engine() *executor.Engine {
	return a.engine
}

// Gateway returns the application's persistence gateway. Primarily for
// testing.
func (a *App) Gateway() store.Gateway {
	return a.gateway
}
