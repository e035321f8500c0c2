package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"todoagent/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	msgTitleRequired = "Title is required"
	msgInvalidBody   = "Invalid request body"
	msgNotFound      = "Todo not found"
	msgInternal      = "Internal server error"
)

// maxBodyBytes 请求体上限 / request body cap
const maxBodyBytes = 1 << 20

// Server 待办 CRUD HTTP 接口
// Server exposes the todo store over HTTP+JSON
type Server struct {
	store  storage.Store
	logger *slog.Logger
	origin string
}

type Option func(*Server)

// WithLogger sets the logger used by the request middleware.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllowedOrigin sets the CORS origin. Empty disables CORS headers.
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) { s.origin = strings.TrimSpace(origin) }
}

func NewServer(store storage.Store, opts ...Option) *Server {
	s := &Server{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回带中间件的路由 / returns the routed handler wrapped in middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /todos", s.handleList)
	mux.HandleFunc("POST /todos", s.handleCreate)
	mux.HandleFunc("PUT /todos/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /todos/{id}", s.handleDelete)
	return logRequests(s.logger, corsMiddleware(s.origin, mux))
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "todo api is running\n")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListTodos(r.Context())
	if err != nil {
		s.internalError(w, "list todos", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type createRequest struct {
	Title *string `json:"title"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, msgTitleRequired)
		return
	}
	item, err := s.store.CreateTodo(r.Context(), *req.Title)
	if err != nil {
		if errors.Is(err, storage.ErrTitleRequired) {
			writeJSONError(w, http.StatusBadRequest, msgTitleRequired)
			return
		}
		s.internalError(w, "create todo", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type updateRequest struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, msgNotFound)
		return
	}
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	item, err := s.store.UpdateTodo(r.Context(), id, storage.TodoPatch{
		Title:     req.Title,
		Completed: req.Completed,
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, storage.ErrTitleRequired):
		writeJSONError(w, http.StatusBadRequest, msgTitleRequired)
	case err != nil:
		s.internalError(w, "update todo", err)
	default:
		writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, msgNotFound)
		return
	}
	err := s.store.DeleteTodo(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, msgNotFound)
	case err != nil:
		s.internalError(w, "delete todo", err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeJSONError(w, http.StatusInternalServerError, msgInternal)
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
