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
	flag.StringVar(&listen, "listen", "", "Listen address override (default api.listen)")
	flag.Parse()

	cfg, logger, err := bootstrap.Setup(configPath, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if listen != "" {
		cfg.API.Listen = listen
	}

	res, err := bootstrap.BuildAPI(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init api failed: %v\n", err)
		os.Exit(1)
	}
	defer res.Store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := bootstrap.Serve(ctx, "todo api", cfg.API.Listen, res.Server.Handler(), logger); err != nil {
		logger.Error("server stopped", "error", err)
		res.Store.Close()
		os.Exit(1)
	}
}
