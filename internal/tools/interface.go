package tools

import (
	"context"
	"encoding/json"

	"todoagent/internal/chat"
)

// Tool 可被模型调用的操作
// Tool is a named operation with a JSON Schema for its arguments
type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}
