package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"todoagent/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "data", "todo.db")
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetupLoadsConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TODO_LANG", "")
	path := filepath.Join(t.TempDir(), "todo.yaml")
	if err := os.WriteFile(path, []byte("api:\n  listen: \":9090\"\nui:\n  lang: ja\nlog:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, logger, err := Setup(path, io.Discard)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg.API.Listen != ":9090" || cfg.UI.Lang != "ja" {
		t.Fatalf("cfg.API.Listen=%q cfg.UI.Lang=%q", cfg.API.Listen, cfg.UI.Lang)
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level should be enabled")
	}
}

func TestSetupRejectsBadConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "todo.json")
	if err := os.WriteFile(path, []byte(`{"log":{"level":"loud"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Setup(path, io.Discard); err == nil {
		t.Fatal("invalid log level should fail")
	}
}

func TestBuildAPIAndTools(t *testing.T) {
	cfg := testConfig(t)
	res, err := BuildAPI(cfg, discard())
	if err != nil {
		t.Fatalf("BuildAPI: %v", err)
	}
	defer res.Store.Close()
	if _, err := os.Stat(cfg.Storage.DBPath); err != nil {
		t.Fatalf("db not created: %v", err)
	}

	reg, err := BuildToolRegistry(cfg, discard())
	if err != nil {
		t.Fatalf("BuildToolRegistry: %v", err)
	}
	if got := len(reg.Names()); got != 4 {
		t.Fatalf("tools=%v, want 4", reg.Names())
	}
	if _, err := BuildMCP(cfg, discard()); err != nil {
		t.Fatalf("BuildMCP: %v", err)
	}
}

func TestBuildUI(t *testing.T) {
	cfg := testConfig(t)
	res, err := BuildUI(cfg)
	if err != nil {
		t.Fatalf("BuildUI: %v", err)
	}
	if res.Chat.URL() != "ws://localhost:3000/ws" || res.Refresh != time.Second {
		t.Fatalf("chat=%q refresh=%v", res.Chat.URL(), res.Refresh)
	}
}

func TestMCPConnectorUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := MCPConnector("http://127.0.0.1:1/sse")(ctx)
	if err == nil || session != nil {
		t.Fatalf("session=%v err=%v, want nil session and error", session, err)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hooked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "test", "127.0.0.1:0", http.NotFoundHandler(), discard(), func() { close(hooked) })
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	select {
	case <-hooked:
	case <-time.After(time.Second):
		t.Fatal("shutdown hook not called")
	}
}

func TestServeListenError(t *testing.T) {
	err := Serve(context.Background(), "test", "127.0.0.1:-1", http.NotFoundHandler(), discard())
	if err == nil {
		t.Fatal("expected listen error")
	}
}
