package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"todoagent/internal/chat"
	"todoagent/internal/orchestrator"
)

// ErrInterrupted 本轮被用户中断 / the turn was interrupted by the caller
var ErrInterrupted = errors.New("chat interrupted")

// Client 通过 /ws 与聊天服务对话，连接按需建立，中断后自动重连
// Client talks to the chat server over /ws. The connection is dialed lazily
// and re-dialed after an interrupt or a dropped connection.
type Client struct {
	wsURL  string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// New 将 chat.url (http/https) 转换为 websocket 地址
// New derives the websocket URL from the chat server's http(s) base URL
func New(chatURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(chatURL))
	if err != nil {
		return nil, fmt.Errorf("parse chat url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported chat url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return &Client{wsURL: u.String(), dialer: websocket.DefaultDialer}, nil
}

// URL returns the websocket endpoint.
func (c *Client) URL() string {
	return c.wsURL
}

// Send 发送完整历史并逐个回调事件，直到 done；ctx 取消时中断本轮
// Send posts the whole history and calls onEvent for each event until done.
// Cancelling ctx abandons the turn and drops the connection.
func (c *Client) Send(ctx context.Context, history []chat.Message, onEvent func(orchestrator.Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", c.wsURL, err)
		}
		c.conn = conn
	}
	conn := c.conn

	if err := conn.WriteJSON(map[string]any{"messages": history}); err != nil {
		c.dropLocked()
		return fmt.Errorf("send chat request: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev orchestrator.Event
		if err := conn.ReadJSON(&ev); err != nil {
			c.dropLocked()
			if ctx.Err() != nil {
				return ErrInterrupted
			}
			return fmt.Errorf("read chat event: %w", err)
		}
		if ev.Type == orchestrator.EventDone {
			return nil
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.dropLocked()
	return err
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
