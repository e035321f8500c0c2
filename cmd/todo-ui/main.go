package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"todoagent/internal/bootstrap"
	"todoagent/internal/config"
	"todoagent/internal/i18n"
	"todoagent/internal/repl"
	"todoagent/internal/tui"
)

func main() {
	var (
		configPath string
		plain      bool
		initConfig bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC/YAML")
	flag.BoolVar(&plain, "plain", false, "Use the line-based REPL instead of the full-screen TUI")
	flag.BoolVar(&initConfig, "init", false, "Write a default .todoagent/config.json in the current directory and exit")
	flag.Parse()

	if initConfig {
		path, created, err := config.InitProjectScaffold("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "init config failed: %v\n", err)
			os.Exit(1)
		}
		if created {
			fmt.Printf("wrote %s\n", path)
		} else {
			fmt.Printf("kept existing %s\n", path)
		}
		return
	}

	// 全屏界面下日志会破坏画面 / logs would corrupt the full-screen view
	var logOut io.Writer = io.Discard
	if plain {
		logOut = os.Stderr
	}
	cfg, _, err := bootstrap.Setup(configPath, logOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ui, err := bootstrap.BuildUI(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init ui failed: %v\n", err)
		os.Exit(1)
	}
	defer ui.Chat.Close()

	if !plain {
		if err := tui.Run(ui.Chat, ui.Todos, ui.Refresh, i18n.Global()); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	historyPath := filepath.Join(filepath.Dir(cfg.Storage.DBPath), "repl.history")
	input, inputErr := repl.NewLineInput(historyPath)
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer input.Close()

	loop := repl.NewLoop(ui.Chat, ui.Todos, input, os.Stdout, i18n.Global())
	if err := loop.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
