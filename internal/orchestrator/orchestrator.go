package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"todoagent/internal/chat"
	"todoagent/internal/contextmgr"
	"todoagent/internal/provider"
)

// ErrStepLimit 模型在步数上限内没有给出最终回复
// ErrStepLimit means the model kept calling tools past the step budget
var ErrStepLimit = errors.New("step limit reached")

const defaultMaxSteps = 8

// ToolSet 模型循环可调用的工具集合
// ToolSet is the tool backend the model loop calls into
type ToolSet interface {
	Definitions() []chat.ToolDef
	// Call runs a tool. isError reports a tool-level failure the model should
	// see; err is reserved for transport problems.
	Call(ctx context.Context, name, arguments string) (text string, isError bool, err error)
}

type Options struct {
	MaxSteps          int
	ContextTokenLimit int
	SystemPrompt      string
	Tokenizer         *contextmgr.Tokenizer
	Logger            *slog.Logger
}

// Orchestrator 驱动 模型 -> 工具 -> 模型 循环，本身无状态，可并发使用
// Orchestrator drives the model/tool loop. It holds no per-conversation
// state and is safe for concurrent turns.
type Orchestrator struct {
	provider          provider.Provider
	maxSteps          int
	contextTokenLimit int
	systemPrompt      string
	tokenizer         *contextmgr.Tokenizer
	logger            *slog.Logger
}

func New(p provider.Provider, opts Options) *Orchestrator {
	o := &Orchestrator{
		provider:          p,
		maxSteps:          opts.MaxSteps,
		contextTokenLimit: opts.ContextTokenLimit,
		systemPrompt:      strings.TrimSpace(opts.SystemPrompt),
		tokenizer:         opts.Tokenizer,
		logger:            opts.Logger,
	}
	if o.maxSteps <= 0 {
		o.maxSteps = defaultMaxSteps
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tokenizer == nil && o.contextTokenLimit > 0 {
		o.tokenizer = contextmgr.DefaultTokenizer()
	}
	return o
}

// RunTurn 基于给定历史运行一轮对话，返回追加了本轮消息的历史
// RunTurn runs one turn over history and returns the history extended with
// the assistant and tool messages it produced.
func (o *Orchestrator) RunTurn(ctx context.Context, history []chat.Message, tools ToolSet, emit EventFunc) ([]chat.Message, error) {
	if o.provider == nil {
		return history, fmt.Errorf("provider unavailable")
	}
	if emit == nil {
		emit = func(Event) {}
	}
	messages := o.withSystemPrompt(history)

	var defs []chat.ToolDef
	if tools != nil {
		defs = tools.Definitions()
	}

	for step := 0; step < o.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		cb := &provider.StreamCallbacks{
			OnTextChunk: func(chunk string) {
				if chunk != "" {
					emit(Event{Type: EventText, Text: chunk})
				}
			},
		}
		resp, err := o.provider.Chat(ctx, provider.ChatRequest{
			Model:    o.provider.CurrentModel(),
			Messages: o.trim(messages),
			Tools:    defs,
		}, cb)
		if err != nil {
			return messages, fmt.Errorf("provider chat: %w", err)
		}

		messages = append(messages, chat.Message{
			Role:      chat.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			return messages, nil
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return messages, err
			}
			messages = append(messages, o.runTool(ctx, tools, call, emit))
		}
	}
	return messages, ErrStepLimit
}

func (o *Orchestrator) runTool(ctx context.Context, tools ToolSet, call chat.ToolCall, emit EventFunc) chat.Message {
	name := call.Function.Name
	emit(Event{Type: EventToolCall, Tool: name, Arguments: call.Function.Arguments})

	var (
		text    string
		isError bool
		err     error
	)
	if tools == nil {
		text, isError = fmt.Sprintf("tool %s is not available", name), true
	} else {
		text, isError, err = tools.Call(ctx, name, call.Function.Arguments)
	}
	if err != nil {
		o.logger.Warn("tool call failed", "tool", name, "error", err)
		text, isError = fmt.Sprintf("tool %s failed: %v", name, err), true
	}
	emit(Event{Type: EventToolResult, Tool: name, Text: text, IsError: isError})

	return chat.Message{
		Role:       chat.RoleTool,
		Name:       name,
		ToolCallID: call.ID,
		Content:    text,
	}
}

func (o *Orchestrator) withSystemPrompt(history []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(history)+1)
	if o.systemPrompt != "" && (len(history) == 0 || history[0].Role != chat.RoleSystem) {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: o.systemPrompt})
	}
	return append(out, history...)
}

func (o *Orchestrator) trim(messages []chat.Message) []chat.Message {
	if o.tokenizer == nil || o.contextTokenLimit <= 0 {
		return messages
	}
	return o.tokenizer.Trim(messages, o.contextTokenLimit)
}
