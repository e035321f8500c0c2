package chatserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"todoagent/internal/chat"
	"todoagent/internal/orchestrator"
	"todoagent/internal/sse"
)

type fakeRunner struct {
	err     error
	gotLen  int
	gotLast string
}

func (f *fakeRunner) RunTurn(ctx context.Context, history []chat.Message, tools orchestrator.ToolSet, emit orchestrator.EventFunc) ([]chat.Message, error) {
	f.gotLen = len(history)
	f.gotLast = history[len(history)-1].Content
	if f.err != nil {
		return history, f.err
	}
	if tools != nil {
		text, isErr, _ := tools.Call(ctx, "listTodoItems", "{}")
		emit(orchestrator.Event{Type: orchestrator.EventToolCall, Tool: "listTodoItems"})
		emit(orchestrator.Event{Type: orchestrator.EventToolResult, Tool: "listTodoItems", Text: text, IsError: isErr})
	}
	emit(orchestrator.Event{Type: orchestrator.EventText, Text: "You have no todos."})
	return append(history, chat.Message{Role: chat.RoleAssistant, Content: "You have no todos."}), nil
}

type fakeSession struct {
	closed *atomic.Int32
}

func (f fakeSession) Definitions() []chat.ToolDef { return nil }
func (f fakeSession) Call(context.Context, string, string) (string, bool, error) {
	return "There are no todos.", false, nil
}
func (f fakeSession) Close() error {
	f.closed.Add(1)
	return nil
}

func newServer(t *testing.T, runner TurnRunner, connect ToolConnector) *httptest.Server {
	t.Helper()
	s := NewServer(runner, connect,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAllowedOrigin("http://localhost:3000"),
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func readEvents(t *testing.T, body io.Reader) []sse.Event {
	t.Helper()
	rd := sse.NewReader(body)
	var out []sse.Event
	for {
		ev, err := rd.Next()
		if err != nil {
			return out
		}
		if !ev.IsComment() {
			out = append(out, ev)
		}
	}
}

func TestChatSSE(t *testing.T) {
	var closed atomic.Int32
	runner := &fakeRunner{}
	srv := newServer(t, runner, func(context.Context) (ToolSession, error) {
		return fakeSession{closed: &closed}, nil
	})

	resp, err := http.Post(srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"what do I have?"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}
	events := readEvents(t, resp.Body)

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	if got := strings.Join(names, ","); got != "tool_call,tool_result,text,done" {
		t.Fatalf("events=%s", got)
	}
	if !strings.Contains(events[1].Data, "There are no todos.") {
		t.Fatalf("tool_result data=%s", events[1].Data)
	}
	if runner.gotLen != 1 || runner.gotLast != "what do I have?" {
		t.Fatalf("runner got len=%d last=%q", runner.gotLen, runner.gotLast)
	}
	if closed.Load() != 1 {
		t.Fatalf("tool session closed %d times, want 1", closed.Load())
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	srv := newServer(t, &fakeRunner{}, nil)
	tests := []struct {
		name, body, want string
	}{
		{"malformed", `{"messages":`, "Invalid request body"},
		{"empty", `{"messages":[]}`, "messages are required"},
		{"bad role", `{"messages":[{"role":"tool","content":"x"}]}`, "unsupported message role: tool"},
		{"assistant last", `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`, "last message must be from the user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(raw), tt.want) {
				t.Fatalf("got %d %s, want 400 %s", resp.StatusCode, raw, tt.want)
			}
		})
	}
}

func TestChatReportsFailures(t *testing.T) {
	tests := []struct {
		name    string
		runner  *fakeRunner
		connect ToolConnector
		want    string
	}{
		{"tool server down", &fakeRunner{}, func(context.Context) (ToolSession, error) {
			return nil, errors.New("connection refused")
		}, "tool server unavailable"},
		{"model error", &fakeRunner{err: errors.New("quota exceeded")}, nil, "quota exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.runner, tt.connect)
			resp, err := http.Post(srv.URL+"/api/chat", "application/json",
				strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			events := readEvents(t, resp.Body)
			if len(events) != 2 || events[0].Name != "error" || events[1].Name != "done" {
				t.Fatalf("events=%+v", events)
			}
			if !strings.Contains(events[0].Data, tt.want) {
				t.Fatalf("error data=%s, want %q", events[0].Data, tt.want)
			}
		})
	}
}

func TestChatPreflight(t *testing.T) {
	srv := newServer(t, &fakeRunner{}, nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/chat", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("status=%d headers=%v", resp.StatusCode, resp.Header)
	}
}

func TestWebSocketTurns(t *testing.T) {
	srv := newServer(t, &fakeRunner{}, nil)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readUntilDone := func() []orchestrator.Event {
		var out []orchestrator.Event
		for {
			var ev orchestrator.Event
			if err := conn.ReadJSON(&ev); err != nil {
				t.Fatalf("read: %v", err)
			}
			out = append(out, ev)
			if ev.Type == orchestrator.EventDone {
				return out
			}
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"hi"}]}`)); err != nil {
		t.Fatal(err)
	}
	got := readUntilDone()
	if len(got) != 2 || got[0].Type != orchestrator.EventText || got[0].Text != "You have no todos." {
		t.Fatalf("first turn=%+v", got)
	}

	// 连接在错误请求后仍可用 / the connection survives a bad frame
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`nope`)); err != nil {
		t.Fatal(err)
	}
	got = readUntilDone()
	if len(got) != 2 || got[0].Type != orchestrator.EventError {
		t.Fatalf("bad frame=%+v", got)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newServer(t, &fakeRunner{}, nil)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v", resp)
	}
}

// blockingRunner 阻塞到 ctx 结束 / blocks until its turn context ends
type blockingRunner struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (b *blockingRunner) RunTurn(ctx context.Context, history []chat.Message, _ orchestrator.ToolSet, _ orchestrator.EventFunc) ([]chat.Message, error) {
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	return history, ctx.Err()
}

func TestWebSocketDisconnectCancelsTurn(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), cancelled: make(chan struct{})}
	s := NewServer(runner, nil, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"add milk"}]}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not start")
	}

	_ = conn.Close()
	select {
	case <-runner.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("turn context not cancelled after client disconnect")
	}

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait blocked on an abandoned turn")
	}
}
