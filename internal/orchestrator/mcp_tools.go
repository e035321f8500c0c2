package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"todoagent/internal/chat"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MCPTools 通过 MCP SSE 会话暴露远端工具
// MCPTools exposes the tools of one MCP SSE session as a ToolSet
type MCPTools struct {
	session *sdkmcp.ClientSession
	defs    []chat.ToolDef
}

// ConnectMCP 打开会话并拉取工具列表；调用方负责 Close
// ConnectMCP opens a session to endpoint and lists its tools. Callers must
// Close the result.
func ConnectMCP(ctx context.Context, endpoint string, httpClient *http.Client) (*MCPTools, error) {
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "todo-chat", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &sdkmcp.SSEClientTransport{
		Endpoint:   endpoint,
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp %s: %w", endpoint, err)
	}

	res, err := session.ListTools(ctx, &sdkmcp.ListToolsParams{})
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defs := make([]chat.ToolDef, 0, len(res.Tools))
	for _, t := range res.Tools {
		params, err := schemaMap(t.InputSchema)
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		defs = append(defs, chat.ToolDef{
			Type: "function",
			Function: chat.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return &MCPTools{session: session, defs: defs}, nil
}

func (m *MCPTools) Definitions() []chat.ToolDef {
	return m.defs
}

func (m *MCPTools) Call(ctx context.Context, name, arguments string) (string, bool, error) {
	args := map[string]any{}
	if s := strings.TrimSpace(arguments); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return fmt.Sprintf("arguments for %s are not a JSON object: %v", name, err), true, nil
		}
	}

	res, err := m.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		// 协议级错误（未知工具、参数校验失败）交给模型修正
		// Protocol errors (unknown tool, invalid arguments) go back to the model
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return rpcErr.Message, true, nil
		}
		return "", false, fmt.Errorf("call %s: %w", name, err)
	}

	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tc.Text)
		}
	}
	return b.String(), res.IsError, nil
}

func (m *MCPTools) Close() error {
	return m.session.Close()
}

func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
