package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"todoagent/internal/api"
	"todoagent/internal/i18n"
	"todoagent/internal/sse"
	"todoagent/internal/storage"
	"todoagent/internal/tools"
)

type fixture struct {
	mcp     *Server
	httpSrv *httptest.Server
}

// newFixture 启动 Record API + 工具分发服务 / starts a Record API and a dispatch server in front of it
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "mcp.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	apiSrv := httptest.NewServer(api.NewServer(store, api.WithLogger(logger)).Handler())
	t.Cleanup(apiSrv.Close)

	reg := tools.NewRegistry(logger)
	if err := tools.RegisterTodoTools(reg, api.NewClient(apiSrv.URL, 2*time.Second), i18n.New("en")); err != nil {
		t.Fatal(err)
	}
	s := NewServer(reg, append([]Option{WithLogger(logger)}, opts...)...)
	httpSrv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		httpSrv.Close()
	})
	return &fixture{mcp: s, httpSrv: httpSrv}
}

type stream struct {
	id       string
	endpoint string
	events   chan sse.Event
	cancel   context.CancelFunc
}

func (f *fixture) open(t *testing.T) *stream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.httpSrv.URL+"/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("GET /sse: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		cancel()
		t.Fatalf("Content-Type=%q", ct)
	}
	st := &stream{events: make(chan sse.Event, 16), cancel: cancel}
	go func() {
		defer resp.Body.Close()
		defer close(st.events)
		rd := sse.NewReader(resp.Body)
		for {
			ev, err := rd.Next()
			if err != nil {
				return
			}
			st.events <- ev
		}
	}()
	t.Cleanup(cancel)

	ev := st.next(t, time.Second)
	if ev.Name != "endpoint" {
		t.Fatalf("first event=%+v, want endpoint", ev)
	}
	u, err := url.Parse(ev.Data)
	if err != nil || u.Path != "/messages" {
		t.Fatalf("endpoint=%q", ev.Data)
	}
	st.endpoint = ev.Data
	st.id = u.Query().Get("sessionId")
	return st
}

func (st *stream) next(t *testing.T, timeout time.Duration) sse.Event {
	t.Helper()
	select {
	case ev, ok := <-st.events:
		if !ok {
			t.Fatal("stream closed")
		}
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
	}
	return sse.Event{}
}

// nextMessage 跳过心跳，返回下一条 JSON-RPC 回复
func (st *stream) nextMessage(t *testing.T) *JSONRPCResponse {
	t.Helper()
	for {
		ev := st.next(t, 2*time.Second)
		if ev.IsComment() {
			continue
		}
		if ev.Name != "message" {
			t.Fatalf("event=%+v, want message", ev)
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(ev.Data), &resp); err != nil {
			t.Fatalf("decode reply %q: %v", ev.Data, err)
		}
		return &resp
	}
}

func (f *fixture) post(t *testing.T, sessionID, body string) (int, string) {
	t.Helper()
	target := f.httpSrv.URL + "/messages"
	if sessionID != "" {
		target += "?sessionId=" + url.QueryEscape(sessionID)
	}
	resp, err := http.Post(target, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(raw))
}

func TestServer_TwoSessionsAreDistinct(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)
	b := f.open(t)
	if a.id == "" || a.id == b.id {
		t.Fatalf("session ids %q %q", a.id, b.id)
	}
	if n := f.mcp.Sessions().Len(); n != 2 {
		t.Fatalf("sessions=%d, want 2", n)
	}
}

func TestServer_RoutingIsIsolated(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)
	b := f.open(t)

	status, body := f.post(t, a.id, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if status != http.StatusAccepted || body != "Accepted" {
		t.Fatalf("POST got %d %q", status, body)
	}
	resp := a.nextMessage(t)
	if string(resp.ID) != "1" || resp.Error != nil || string(resp.Result) != "{}" {
		t.Fatalf("reply=%+v", resp)
	}

	select {
	case ev := <-b.events:
		t.Fatalf("session b received %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestServer_ClosedSessionIsGone(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)
	b := f.open(t)
	a.cancel()

	deadline := time.Now().Add(2 * time.Second)
	for f.mcp.Sessions().Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions=%d after close, want 1", f.mcp.Sessions().Len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	status, body := f.post(t, a.id, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if status != http.StatusBadRequest || body != "No transport found for sessionId" {
		t.Fatalf("POST to closed session got %d %q", status, body)
	}
	if err := f.mcp.Route(context.Background(), a.id, &JSONRPCRequest{JSONRPC: "2.0", Method: "ping"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Route err=%v, want ErrNoSession", err)
	}

	// 其他会话不受影响 / the other session keeps working
	f.post(t, b.id, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	if resp := b.nextMessage(t); string(resp.ID) != "7" {
		t.Fatalf("b reply=%+v", resp)
	}
}

func TestServer_MessagesRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, session, body string
		wantBody            string
	}{
		{"missing session", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, "No transport found for sessionId"},
		{"unknown session", "does-not-exist", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, "No transport found for sessionId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.post(t, tt.session, tt.body)
			if status != http.StatusBadRequest || !strings.HasPrefix(body, tt.wantBody) {
				t.Fatalf("got %d %q, want 400 %q", status, body, tt.wantBody)
			}
		})
	}
}

func TestServer_MessagesRejectsBadEnvelopes(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)
	tests := []struct {
		name, body string
		wantCode   int
	}{
		{"malformed body", `{"jsonrpc":`, CodeParseError},
		{"not a request", `{"jsonrpc":"2.0","id":1,"result":{}}`, CodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.post(t, a.id, tt.body)
			if status != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400", status)
			}
			var resp JSONRPCResponse
			if err := json.Unmarshal([]byte(body), &resp); err != nil {
				t.Fatalf("body %q is not a JSON-RPC response: %v", body, err)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode || string(resp.ID) != "null" {
				t.Fatalf("resp=%+v, want code %d with null id", resp, tt.wantCode)
			}
		})
	}
}

func TestServer_ToolCallOverStream(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)

	f.post(t, a.id, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
	if resp := a.nextMessage(t); resp.Error != nil || !strings.Contains(string(resp.Result), `"protocolVersion":"2024-11-05"`) {
		t.Fatalf("initialize reply=%+v", resp)
	}
	f.post(t, a.id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	f.post(t, a.id, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"addTodoItem","arguments":{"title":"buy milk"}}}`)
	resp := a.nextMessage(t)
	if string(resp.ID) != "2" {
		t.Fatalf("notification produced a reply: %+v", resp)
	}
	var res ToolsCallResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != `Added "buy milk" (id 1).` {
		t.Fatalf("add result=%+v", res)
	}

	f.post(t, a.id, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"deleteTodoItem","arguments":{"id":42}}}`)
	resp = a.nextMessage(t)
	res = ToolsCallResult{}
	_ = json.Unmarshal(resp.Result, &res)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "42") {
		t.Fatalf("delete missing result=%+v", res)
	}

	f.post(t, a.id, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"updateTodoItem","arguments":{"id":"1"}}}`)
	resp = a.nextMessage(t)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("invalid args reply=%+v", resp)
	}
	if !strings.Contains(string(resp.Error.Data), `"completed"`) {
		t.Fatalf("failing fields not listed: %s", resp.Error.Data)
	}
}

func TestServer_RepliesInArrivalOrder(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)
	for i := 1; i <= 5; i++ {
		f.post(t, a.id, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i))
	}
	for i := 1; i <= 5; i++ {
		if got := string(a.nextMessage(t).ID); got != fmt.Sprint(i) {
			t.Fatalf("reply %d has id %s", i, got)
		}
	}
}

func TestServer_Heartbeat(t *testing.T) {
	f := newFixture(t, WithHeartbeat(20*time.Millisecond))
	a := f.open(t)
	ev := a.next(t, time.Second)
	if !ev.IsComment() || ev.Comment != "ping" {
		t.Fatalf("event=%+v, want ping comment", ev)
	}
}

func TestServer_CloseEndsStreams(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)
	f.mcp.Close()
	select {
	case _, ok := <-a.events:
		if ok {
			t.Fatal("unexpected event after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed by server Close")
	}
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	resp, err := http.Get(f.httpSrv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		OK       bool     `json:"ok"`
		Sessions int      `json:"sessions"`
		Tools    []string `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || body.Sessions != 1 || len(body.Tools) != 4 {
		t.Fatalf("health=%+v", body)
	}
}
