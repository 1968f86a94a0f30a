package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/runbox-io/runbox/config"
	"github.com/runbox-io/runbox/logger"
	"github.com/runbox-io/runbox/mcpserver"
	"github.com/runbox-io/runbox/supervisor"
	"github.com/runbox-io/runbox/wsserver"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Worker spawner and session registry
			newSpawner,
			newRegistry,

			// Transports
			wsserver.New,
			mcpserver.New,
		),

		// Start the transports
		fx.Invoke(startWebSocket, startMCP),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newSpawner(cfg *config.Config, log *zap.Logger) supervisor.Spawner {
	return supervisor.NewPythonSpawner(log, cfg.Python.Interpreter, cfg.Python.Args...)
}

func newRegistry(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, spawner supervisor.Spawner) (*supervisor.Registry, error) {
	reg, err := supervisor.NewRegistry(log, supervisor.Config{
		Policy: supervisor.TimeoutPolicy{
			Soft: cfg.SoftTimeout(),
			Hard: cfg.HardTimeout(),
		},
		MaxSessions:        cfg.Supervisor.MaxSessions,
		MaxCodeLength:      cfg.Supervisor.MaxCodeLength,
		MaxTimeoutOverride: cfg.MaxTimeoutOverride(),
		Retention:          cfg.Retention(),
	}, spawner)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		// Cancel live sessions on shutdown so no worker process outlives
		// the supervisor.
		OnStop: func(ctx context.Context) error {
			return reg.Close(ctx)
		},
	})
	return reg, nil
}

func startWebSocket(lc fx.Lifecycle, srv *wsserver.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func startMCP(cfg *config.Config, server *mcpserver.MCPServer) {
	switch cfg.Server.MCPTransport {
	case "off":
		// WebSocket only.
	case "stdio":
		go func() {
			if err := server.ServeStdio(); err != nil {
				panic(err)
			}
		}()
	case "http":
		go func() {
			if err := server.ServeHTTP(); err != nil {
				panic(err)
			}
		}()
	}
}
