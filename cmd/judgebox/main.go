// Package main is the entry point for the judgebox MCP server.
//
// The judgebox server implements a Model Context Protocol (MCP) server that
// runs code submissions (Python, Go, C++ and any configured language) in
// isolated containers over a pluggable runtime backend: the docker or podman
// CLI, or the containerd API. The server supports both stdio and HTTP
// transports and applies per-container memory and CPU limits.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/judgebox/judgebox/config"
	"github.com/judgebox/judgebox/container"
	"github.com/judgebox/judgebox/logger"
	"github.com/judgebox/judgebox/mcpserver"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Runtime backend based on config
			func(cfg *config.Config, log *zap.Logger) (container.RuntimeBackend, error) {
				return container.NewBackend(log, cfg.Backend())
			},

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
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
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
