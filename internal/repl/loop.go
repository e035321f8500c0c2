package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"todoagent/internal/chat"
	"todoagent/internal/i18n"
	"todoagent/internal/orchestrator"
	"todoagent/internal/storage"
)

// ChatSender 发送一轮对话，*chatclient.Client 满足此接口
// ChatSender streams one turn. *chatclient.Client satisfies it.
type ChatSender interface {
	Send(ctx context.Context, history []chat.Message, onEvent func(orchestrator.Event)) error
}

// TodoLister lists todos for /todos. *api.Client satisfies it.
type TodoLister interface {
	ListTodos(ctx context.Context) ([]storage.Todo, error)
}

// Loop REPL 状态：输入源、对话历史
// Loop holds REPL state: input source and conversation history.
type Loop struct {
	chat    ChatSender
	todos   TodoLister
	in      LineInput
	out     io.Writer
	locale  *i18n.I18n
	history []chat.Message
}

func NewLoop(sender ChatSender, todos TodoLister, in LineInput, out io.Writer, locale *i18n.I18n) *Loop {
	if locale == nil {
		locale = i18n.Global()
	}
	return &Loop{chat: sender, todos: todos, in: in, out: out, locale: locale}
}

// Run 读取输入直到 /exit 或 EOF
// Run reads input until /exit or EOF.
func (l *Loop) Run(ctx context.Context) error {
	fmt.Fprintln(l.out, l.locale.T("repl.welcome"))
	for {
		line, err := l.in.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				fmt.Fprintln(l.out)
				continue
			case errors.Is(err, io.EOF):
				fmt.Fprintln(l.out, l.locale.T("repl.bye"))
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if exit := l.handleCommand(ctx, input); exit {
				fmt.Fprintln(l.out, l.locale.T("repl.bye"))
				return nil
			}
			continue
		}
		l.runTurn(ctx, input)
	}
}

func (l *Loop) handleCommand(ctx context.Context, input string) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Fprintln(l.out, l.locale.T("repl.help"))
	case "/clear":
		l.history = nil
		fmt.Fprintln(l.out, l.locale.T("repl.cleared"))
	case "/todos":
		l.printTodos(ctx)
	default:
		fmt.Fprintln(l.out, l.locale.T("repl.unknown", input))
	}
	return false
}

func (l *Loop) printTodos(ctx context.Context) {
	if l.todos == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	items, err := l.todos.ListTodos(ctx)
	if err != nil {
		fmt.Fprintln(l.out, l.locale.T("error.api", err.Error()))
		return
	}
	if len(items) == 0 {
		fmt.Fprintln(l.out, l.locale.T("todos.empty"))
		return
	}
	for _, it := range items {
		box := "[ ]"
		if it.Completed {
			box = "[x]"
		}
		fmt.Fprintln(l.out, l.locale.T("repl.todo_line", box, it.ID, it.Title))
	}
}

// runTurn 运行一轮对话；Ctrl+C 只中断当前轮次
// runTurn runs one turn. Ctrl+C interrupts the turn, not the REPL.
func (l *Loop) runTurn(ctx context.Context, input string) {
	l.history = append(l.history, chat.Message{Role: chat.RoleUser, Content: input})

	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var reply strings.Builder
	midLine := false
	err := l.chat.Send(turnCtx, l.history, func(ev orchestrator.Event) {
		switch ev.Type {
		case orchestrator.EventText:
			reply.WriteString(ev.Text)
			fmt.Fprint(l.out, ev.Text)
			midLine = !strings.HasSuffix(ev.Text, "\n")
			return
		case orchestrator.EventToolCall:
			l.endLine(&midLine)
			fmt.Fprintln(l.out, l.locale.T("chat.tool_call", ev.Tool, ev.Arguments))
		case orchestrator.EventToolResult:
			l.endLine(&midLine)
			key := "chat.tool_result"
			if ev.IsError {
				key = "chat.tool_error"
			}
			fmt.Fprintln(l.out, l.locale.T(key, ev.Text))
		case orchestrator.EventError:
			l.endLine(&midLine)
			fmt.Fprintln(l.out, l.locale.T("error.chat", ev.Text))
		}
	})
	l.endLine(&midLine)

	if text := strings.TrimSpace(reply.String()); text != "" {
		l.history = append(l.history, chat.Message{Role: chat.RoleAssistant, Content: text})
	}
	if err != nil {
		if turnCtx.Err() != nil && ctx.Err() == nil {
			fmt.Fprintln(l.out, l.locale.T("status.interrupted"))
			return
		}
		fmt.Fprintln(l.out, l.locale.T("error.chat", err.Error()))
	}
}

func (l *Loop) endLine(midLine *bool) {
	if *midLine {
		fmt.Fprintln(l.out)
		*midLine = false
	}
}

// History returns a copy of the conversation so far.
func (l *Loop) History() []chat.Message {
	return append([]chat.Message(nil), l.history...)
}
