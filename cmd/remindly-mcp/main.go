// Command remindly-mcp serves reminder tools over MCP (stdio) for the user
// named by MCP_USER_ID.
package main

import (
	"context"
	"fmt"
	"os"

	"remindly/internal/app"
	"remindly/internal/config"
	"remindly/internal/logger"
	"remindly/internal/mcpserver"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.MCP.UserID == 0 {
		fmt.Fprintln(os.Stderr, "MCP_USER_ID is required")
		os.Exit(1)
	}

	// stdout carries the protocol; logs go to stderr.
	log, err := logger.New("production", cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	core, err := app.NewCore(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	defer func() { _ = core.Close() }()

	s := mcpserver.NewServer(core.Reminders, core.Estimator, cfg.MCP.UserID)
	if err := server.ServeStdio(s.MCPServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
