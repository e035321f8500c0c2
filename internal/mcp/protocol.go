package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"todoagent/internal/tools"
)

// LatestProtocolVersion is answered when the client asks for an unknown version.
const LatestProtocolVersion = "2024-11-05"

var supportedProtocolVersions = []string{
	"2025-11-25",
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// Protocol 解释单条 JSON-RPC 消息
// Protocol interprets one envelope and builds the reply (nil for notifications).
type Protocol struct {
	tools  *tools.Registry
	info   Implementation
	logger *slog.Logger
}

func NewProtocol(reg *tools.Registry, info Implementation, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{tools: reg, info: info, logger: logger}
}

func (p *Protocol) Handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	if req.IsNotification() {
		// notifications/initialized, notifications/cancelled ... 不回复
		p.logger.Debug("notification", "method", req.Method)
		return nil
	}

	var (
		result any
		rpcErr *JSONRPCError
	)
	switch req.Method {
	case "initialize":
		result, rpcErr = p.initialize(req.Params)
	case "ping":
		result = struct{}{}
	case "tools/list":
		result, rpcErr = p.listTools()
	case "tools/call":
		result, rpcErr = p.callTool(ctx, req.Params)
	default:
		rpcErr = &JSONRPCError{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}
	}

	if rpcErr != nil {
		resp := newErrorResponse(req.ID, rpcErr.Code, rpcErr.Message)
		resp.Error.Data = rpcErr.Data
		return resp
	}
	resp, err := newSuccessResponse(req.ID, result)
	if err != nil {
		p.logger.Error("encode result failed", "method", req.Method, "error", err)
		return newErrorResponse(req.ID, CodeInternalError, "Internal error")
	}
	return resp
}

func (p *Protocol) initialize(raw jsoniter.RawMessage) (any, *JSONRPCError) {
	var params InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &JSONRPCError{Code: CodeInvalidParams, Message: "Invalid params: " + err.Error()}
		}
	}
	version := LatestProtocolVersion
	if slices.Contains(supportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}
	p.logger.Info("client initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol", version,
	)
	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo: p.info,
	}, nil
}

func (p *Protocol) listTools() (any, *JSONRPCError) {
	defs := p.tools.Definitions()
	out := ToolsListResult{Tools: make([]Tool, 0, len(defs))}
	for _, d := range defs {
		schema, err := json.Marshal(d.Function.Parameters)
		if err != nil {
			return nil, &JSONRPCError{Code: CodeInternalError, Message: "Internal error"}
		}
		out.Tools = append(out.Tools, Tool{
			Name:        d.Function.Name,
			Description: d.Function.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

func (p *Protocol) callTool(ctx context.Context, raw jsoniter.RawMessage) (any, *JSONRPCError) {
	var params ToolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil || strings.TrimSpace(params.Name) == "" {
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: "Invalid params: tools/call requires a tool name"}
	}

	res, err := p.tools.Invoke(ctx, params.Name, []byte(params.Arguments))
	var (
		argErr  *tools.ArgumentsError
		execErr *tools.ExecutionError
	)
	switch {
	case err == nil:
		p.logger.Info("tool called", "tool", params.Name, "is_error", res.IsError)
		return ToolsCallResult{
			Content: []ContentItem{{Type: "text", Text: res.Text}},
			IsError: res.IsError,
		}, nil
	case errors.Is(err, tools.ErrToolNotFound):
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: "Unknown tool: " + params.Name}
	case errors.As(err, &argErr):
		data, _ := json.Marshal(map[string]any{"fields": argErr.Fields})
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: argErr.Error(), Data: data}
	case errors.As(err, &execErr):
		// 失败原因已在 Registry 中记录 / the cause is already logged by the registry
		return ToolsCallResult{
			Content: []ContentItem{{Type: "text", Text: execErr.Error()}},
			IsError: true,
		}, nil
	default:
		p.logger.Error("tool call failed", "tool", params.Name, "error", err)
		return nil, &JSONRPCError{Code: CodeInternalError, Message: fmt.Sprintf("Internal error calling %s", params.Name)}
	}
}
