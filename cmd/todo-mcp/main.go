package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"todoagent/internal/bootstrap"
)

func main() {
	var configPath, listen string
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC/YAML")
	flag.StringVar(&listen, "listen", "", "Listen address override (default mcp.listen)")
	flag.Parse()

	cfg, logger, err := bootstrap.Setup(configPath, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if listen != "" {
		cfg.MCP.Listen = listen
	}

	srv, err := bootstrap.BuildMCP(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init tool server failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("delegating tools to record api", "base_url", cfg.API.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// SSE 流是长连接，先关闭会话再等待 / streams are long-lived; close sessions so Shutdown can finish
	if err := bootstrap.Serve(ctx, "todo mcp", cfg.MCP.Listen, srv.Handler(), logger, srv.Close); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
