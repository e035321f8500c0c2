package orchestrator

// 聊天事件类型 / chat event kinds streamed to clients
const (
	EventText       = "text"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventError      = "error"
	EventDone       = "done"
)

// Event 一次对话轮次中推送给前端的事件
// Event is one item streamed to the UI while a turn runs
type Event struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// EventFunc receives events in the order they happen. It is called from the
// goroutine running the turn.
type EventFunc func(Event)
