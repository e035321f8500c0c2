package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"todoagent/internal/api"
	"todoagent/internal/chatclient"
	"todoagent/internal/chatserver"
	"todoagent/internal/config"
	"todoagent/internal/contextmgr"
	"todoagent/internal/defaults"
	"todoagent/internal/i18n"
	"todoagent/internal/logging"
	"todoagent/internal/mcp"
	"todoagent/internal/orchestrator"
	"todoagent/internal/provider"
	"todoagent/internal/storage"
	"todoagent/internal/tools"
)

// Setup 加载配置并初始化日志与语言；每个二进制启动时调用一次
// Setup loads config and initializes logging and locale. Each binary calls
// it once at startup.
func Setup(configPath string, logOut io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(logOut, cfg.Log.Level)
	lang := cfg.UI.Lang
	if strings.TrimSpace(lang) == "" {
		lang = i18n.DetectLocale()
	}
	i18n.Init(lang)
	return cfg, logger, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// APIResult Record API 的构建结果；调用方负责 Store.Close()
// APIResult is the built Record API. Callers must Close the store.
type APIResult struct {
	Server *api.Server
	Store  storage.Store
}

func BuildAPI(cfg config.Config, logger *slog.Logger) (*APIResult, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	logger.Info("todo store ready", "db", store.Path())
	srv := api.NewServer(store,
		api.WithLogger(logger),
		api.WithAllowedOrigin(cfg.API.AllowedOrigin),
	)
	return &APIResult{Server: srv, Store: store}, nil
}

// NewAPIClient 指向配置中 Record API 的客户端
// NewAPIClient returns a client for the configured Record API
func NewAPIClient(cfg config.Config) *api.Client {
	return api.NewClient(cfg.API.BaseURL, millis(cfg.API.TimeoutMS))
}

// BuildToolRegistry 注册四个待办工具，委托给 Record API
// BuildToolRegistry registers the todo tools against the Record API client
func BuildToolRegistry(cfg config.Config, logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry(logger)
	if err := tools.RegisterTodoTools(reg, NewAPIClient(cfg), i18n.Global()); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return reg, nil
}

func BuildMCP(cfg config.Config, logger *slog.Logger) (*mcp.Server, error) {
	reg, err := BuildToolRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	return mcp.NewServer(reg,
		mcp.WithLogger(logger),
		mcp.WithHeartbeat(millis(cfg.MCP.HeartbeatMS)),
		mcp.WithQueueSize(cfg.MCP.QueueSize),
	), nil
}

// MCPConnector 每次对话打开一个新的 MCP 会话
// MCPConnector opens a fresh MCP session for every chat request
func MCPConnector(endpoint string) chatserver.ToolConnector {
	return func(ctx context.Context) (chatserver.ToolSession, error) {
		session, err := orchestrator.ConnectMCP(ctx, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

func BuildOrchestrator(cfg config.Config, logger *slog.Logger) *orchestrator.Orchestrator {
	prompt := cfg.Chat.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = defaults.DefaultSystemPrompt
	}
	return orchestrator.New(provider.NewFromConfig(cfg.Provider), orchestrator.Options{
		MaxSteps:          cfg.Chat.MaxSteps,
		ContextTokenLimit: cfg.Chat.ContextTokenLimit,
		SystemPrompt:      prompt,
		Tokenizer:         contextmgr.NewTokenizerForModel(cfg.Provider.Model),
		Logger:            logger,
	})
}

func BuildChat(cfg config.Config, logger *slog.Logger) *chatserver.Server {
	return chatserver.NewServer(BuildOrchestrator(cfg, logger), MCPConnector(cfg.MCP.URL),
		chatserver.WithLogger(logger),
		chatserver.WithAllowedOrigin(cfg.API.AllowedOrigin),
	)
}

// UIResult 终端界面所需的客户端
// UIResult holds the clients a terminal UI needs
type UIResult struct {
	Chat    *chatclient.Client
	Todos   *api.Client
	Refresh time.Duration
}

func BuildUI(cfg config.Config) (*UIResult, error) {
	cc, err := chatclient.New(cfg.Chat.URL)
	if err != nil {
		return nil, err
	}
	return &UIResult{
		Chat:    cc,
		Todos:   NewAPIClient(cfg),
		Refresh: millis(cfg.UI.RefreshMS),
	}, nil
}

// Serve 运行 HTTP 服务直到 ctx 结束，然后优雅关闭
// Serve runs handler on addr until ctx is done, then shuts down gracefully.
// onShutdown hooks run when shutdown starts (e.g. closing SSE streams).
func Serve(ctx context.Context, name, addr string, handler http.Handler, logger *slog.Logger, onShutdown ...func()) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	for _, fn := range onShutdown {
		srv.RegisterOnShutdown(fn)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(name+" listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(name + " shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown: %w", name, err)
	}
	return nil
}
