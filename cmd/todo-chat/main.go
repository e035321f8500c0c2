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
	flag.StringVar(&listen, "listen", "", "Listen address override (default chat.listen)")
	flag.Parse()

	cfg, logger, err := bootstrap.Setup(configPath, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if listen != "" {
		cfg.Chat.Listen = listen
	}
	if cfg.Provider.APIKey == "" {
		logger.Warn("no provider api key configured; set TODO_API_KEY, GEMINI_API_KEY or OPENAI_API_KEY")
	}

	srv := bootstrap.BuildChat(cfg, logger)
	logger.Info("chat runtime ready", "model", cfg.Provider.Model, "mcp", cfg.MCP.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := bootstrap.Serve(ctx, "todo chat", cfg.Chat.Listen, srv.Handler(), logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	srv.Wait()
}
