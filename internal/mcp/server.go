package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"todoagent/internal/sse"
	"todoagent/internal/tools"
)

const (
	DefaultHeartbeat = 60 * time.Second
	DefaultQueueSize = 32

	msgNoTransport = "No transport found for sessionId"
	maxBodyBytes   = 4 << 20
)

// Server 工具分发服务：会话表 + 路由 + 协议处理
// Server is the tool-dispatch endpoint: it owns the session registry,
// routes POSTed envelopes to open streams and runs the protocol handler.
type Server struct {
	sessions  *Registry
	tools     *tools.Registry
	protocol  *Protocol
	logger    *slog.Logger
	heartbeat time.Duration
	queueSize int
	info      Implementation
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHeartbeat sets the idle keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithQueueSize sets how many routed envelopes may wait per session.
func WithQueueSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

func WithServerInfo(name, version string) Option {
	return func(s *Server) { s.info = Implementation{Name: name, Version: version} }
}

func NewServer(reg *tools.Registry, opts ...Option) *Server {
	s := &Server{
		sessions:  NewRegistry(),
		tools:     reg,
		logger:    slog.Default(),
		heartbeat: DefaultHeartbeat,
		queueSize: DefaultQueueSize,
		info:      Implementation{Name: "todo-mcp", Version: "1.0.0"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.protocol = NewProtocol(reg, s.info, s.logger)
	return s
}

// Sessions exposes the registry, mainly for health reporting and tests.
func (s *Server) Sessions() *Registry { return s.sessions }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleSSE)
	mux.HandleFunc("POST /messages", s.handleMessages)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Route 把消息交给对应会话
// Route hands req to the session's stream. It returns ErrNoSession when the id
// is unknown and ErrSessionClosed when the stream ended during delivery.
func (s *Server) Route(ctx context.Context, sessionID string, req *JSONRPCRequest) error {
	sess, ok := s.sessions.Lookup(sessionID)
	if !ok {
		return ErrNoSession
	}
	return sess.Deliver(ctx, req)
}

// Close 关闭所有打开的流 / ends every open stream
func (s *Server) Close() {
	s.sessions.CloseAll()
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess := NewSession(s.queueSize)
	id := s.sessions.Register(sess)
	log := s.logger.With("session", id)
	log.Info("session opened", "remote", r.RemoteAddr, "active", s.sessions.Len())
	defer func() {
		s.sessions.Remove(id)
		sess.Close()
		log.Info("session closed", "active", s.sessions.Len(), "age", time.Since(sess.CreatedAt()).Round(time.Millisecond))
	}()

	if err := stream.SendRaw("endpoint", "/messages?sessionId="+id); err != nil {
		log.Warn("send endpoint failed", "error", err)
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case req := <-sess.Inbox():
			resp := s.protocol.Handle(ctx, req)
			if resp != nil {
				if err := stream.SendEvent("message", resp); err != nil {
					log.Warn("write reply failed", "method", req.Method, "error", err)
					return
				}
			}
			ticker.Reset(s.heartbeat)
		case <-ticker.C:
			if err := stream.SendComment("ping"); err != nil {
				log.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if _, ok := s.sessions.Lookup(sessionID); sessionID == "" || !ok {
		http.Error(w, msgNoTransport, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelopeError(w, CodeParseError, "Parse error: "+err.Error())
		return
	}
	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeEnvelopeError(w, CodeParseError, "Parse error: "+err.Error())
		return
	}
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		// 响应 (客户端回包) 和非法消息在此拒绝 / client responses and malformed envelopes stop here
		writeEnvelopeError(w, CodeInvalidRequest, "Invalid Request: expected a JSON-RPC 2.0 request")
		return
	}

	err = s.Route(r.Context(), sessionID, &req)
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrSessionClosed):
		http.Error(w, msgNoTransport, http.StatusBadRequest)
	case err != nil:
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Accepted")
	}
}

// writeEnvelopeError 无法解析的信封直接在 POST 中以 400 回复
// writeEnvelopeError answers an envelope that never reached a session with
// 400 and a JSON-RPC error body carrying a null id.
func writeEnvelopeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(newErrorResponse(jsoniter.RawMessage("null"), code, msg))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":       true,
		"sessions": s.sessions.Len(),
		"tools":    s.tools.Names(),
	})
}
