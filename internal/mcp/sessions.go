package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoSession 会话不存在或已关闭移除 / no active session with that id
	ErrNoSession = errors.New("no active session")
	// ErrSessionClosed 会话在投递过程中关闭 / the session closed while delivering
	ErrSessionClosed = errors.New("session closed")
)

// Session 一条打开的 SSE 连接
// Session is one open stream. Routed envelopes are queued on its inbox and
// consumed, in arrival order, by the goroutine that owns the stream.
type Session struct {
	id        string
	createdAt time.Time
	inbox     chan *JSONRPCRequest
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Session{
		createdAt: time.Now(),
		inbox:     make(chan *JSONRPCRequest, queueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the identifier assigned by Registry.Register.
func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Inbox 由连接所属 goroutine 读取 / read by the goroutine owning the stream
func (s *Session) Inbox() <-chan *JSONRPCRequest { return s.inbox }

func (s *Session) Done() <-chan struct{} { return s.done }

// Close 终止会话，幂等 / terminates the session; idempotent
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Deliver 入队，队列满时等待 / enqueues req, waiting while the inbox is full
func (s *Session) Deliver(ctx context.Context, req *JSONRPCRequest) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	select {
	case s.inbox <- req:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry 会话表，由 Server 实例持有
// Registry maps session ids to open sessions. Each server owns its own instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newID    func() string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
	}
}

// Register 分配新的 id 并登记会话，保证不与在册 id 冲突
// Register assigns a fresh id that no live session holds and stores the mapping.
func (r *Registry) Register(s *Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id := r.newID()
		if _, taken := r.sessions[id]; taken {
			continue
		}
		s.id = id
		r.sessions[id] = s
		return id
	}
}

func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove is a no-op for unknown ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll 关闭并移除全部会话 / closes and removes every session
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
