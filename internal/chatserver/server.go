package chatserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"todoagent/internal/chat"
	"todoagent/internal/orchestrator"
	"todoagent/internal/sse"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxRequestBytes = 1 << 20
	// wsFrameQueue 每个连接排队等待的请求数 / requests a connection may queue behind a running turn
	wsFrameQueue = 8
)

// TurnRunner 运行一轮模型对话，*orchestrator.Orchestrator 满足此接口
// TurnRunner runs one model turn. *orchestrator.Orchestrator satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, history []chat.Message, tools orchestrator.ToolSet, emit orchestrator.EventFunc) ([]chat.Message, error)
}

// ToolSession 单次请求使用的工具会话
// ToolSession is the tool backend opened for one chat request
type ToolSession interface {
	orchestrator.ToolSet
	Close() error
}

// ToolConnector 每个请求打开一个新的工具会话
// ToolConnector opens a fresh tool session per request
type ToolConnector func(ctx context.Context) (ToolSession, error)

// ChatRequest 客户端发送的对话历史
// ChatRequest carries the conversation so far; the server keeps no history
type ChatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// SafeConn 串行化写操作的 websocket 连接
// SafeConn serializes writes to a websocket connection
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteJSON(v)
}

type Server struct {
	runner   TurnRunner
	connect  ToolConnector
	logger   *slog.Logger
	origin   string
	upgrader websocket.Upgrader
	turns    sync.WaitGroup
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllowedOrigin 限制浏览器来源；空值表示不限制
// WithAllowedOrigin restricts browser origins. Empty allows any origin.
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) { s.origin = strings.TrimRight(strings.TrimSpace(origin), "/") }
}

func NewServer(runner TurnRunner, connect ToolConnector, opts ...Option) *Server {
	s := &Server{runner: runner, connect: connect, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("OPTIONS /api/chat", s.handlePreflight)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	return mux
}

// Wait 等待进行中的对话结束 / blocks until in-flight turns finish
func (s *Server) Wait() {
	s.turns.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.origin == "" || origin == "" || strings.EqualFold(origin, s.origin)
}

func (s *Server) setCORS(w http.ResponseWriter) {
	if s.origin == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", s.origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	s.setCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	history, msg := parseRequest(body)
	if msg != "" {
		writeJSONError(w, http.StatusBadRequest, msg)
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.runChat(r.Context(), history, func(ev orchestrator.Event) {
		if err := stream.SendEvent(ev.Type, ev); err != nil {
			s.logger.Debug("chat stream write failed", "error", err)
		}
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &SafeConn{Conn: raw}
	defer conn.Close()
	s.logger.Info("websocket connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emit := func(ev orchestrator.Event) {
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
		}
	}

	// 读循环独立运行，断开时能取消进行中的对话
	// The reader keeps running during a turn so a disconnect cancels it.
	frames := make(chan []byte, wsFrameQueue)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			default:
				s.logger.Warn("websocket frame dropped, turn queue full", "remote", r.RemoteAddr)
				emit(orchestrator.Event{Type: orchestrator.EventError, Text: "too many pending requests"})
				emit(orchestrator.Event{Type: orchestrator.EventDone})
			}
		}
	}()

	for {
		select {
		case err := <-readErr:
			s.logger.Info("websocket closed", "remote", r.RemoteAddr, "reason", err)
			return
		case data := <-frames:
			if closed, err := s.runFrame(ctx, data, emit, readErr); closed {
				s.logger.Info("websocket closed during turn", "remote", r.RemoteAddr, "reason", err)
				return
			}
		}
	}
}

// runFrame 在独立 goroutine 中运行一轮；连接断开时取消并等待其结束
// runFrame runs one turn in its own goroutine. If the connection drops first,
// the turn is cancelled and awaited, and closed reports true.
func (s *Server) runFrame(ctx context.Context, data []byte, emit orchestrator.EventFunc, readErr <-chan error) (closed bool, err error) {
	history, msg := parseRequest(data)
	if msg != "" {
		emit(orchestrator.Event{Type: orchestrator.EventError, Text: msg})
		emit(orchestrator.Event{Type: orchestrator.EventDone})
		return false, nil
	}

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		s.runChat(turnCtx, history, emit)
	}()

	select {
	case <-finished:
		return false, nil
	case err = <-readErr:
		cancelTurn()
		<-finished
		return true, err
	}
}

// runChat 打开工具会话、运行模型循环，并总是以 done 结束
// runChat opens a tool session, runs the model loop and always finishes
// with a done event.
func (s *Server) runChat(ctx context.Context, history []chat.Message, emit orchestrator.EventFunc) {
	s.turns.Add(1)
	defer s.turns.Done()
	defer emit(orchestrator.Event{Type: orchestrator.EventDone})

	var tools orchestrator.ToolSet
	if s.connect != nil {
		session, err := s.connect(ctx)
		if err != nil {
			s.logger.Error("tool session unavailable", "error", err)
			emit(orchestrator.Event{Type: orchestrator.EventError, Text: "tool server unavailable: " + err.Error()})
			return
		}
		defer func() {
			if err := session.Close(); err != nil {
				s.logger.Debug("tool session close", "error", err)
			}
		}()
		tools = session
	}

	if _, err := s.runner.RunTurn(ctx, history, tools, emit); err != nil {
		s.logger.Error("chat turn failed", "error", err)
		emit(orchestrator.Event{Type: orchestrator.EventError, Text: err.Error()})
	}
}

// parseRequest 返回对话历史，或面向客户端的错误信息
// parseRequest returns the history, or a client-facing error message
func parseRequest(body []byte) ([]chat.Message, string) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "Invalid request body"
	}
	if len(req.Messages) == 0 {
		return nil, "messages are required"
	}
	out := make([]chat.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleUser, chat.RoleAssistant, chat.RoleSystem:
		default:
			return nil, "unsupported message role: " + m.Role
		}
		out = append(out, chat.Message{Role: m.Role, Content: m.Content})
	}
	if out[len(out)-1].Role != chat.RoleUser {
		return nil, "last message must be from the user"
	}
	return out, ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
