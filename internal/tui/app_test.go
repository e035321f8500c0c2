package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"todoagent/internal/chat"
	"todoagent/internal/i18n"
	"todoagent/internal/orchestrator"
	"todoagent/internal/storage"
)

type fakeSender struct {
	events []orchestrator.Event
	err    error
	block  bool
	got    []chat.Message
}

func (f *fakeSender) Send(ctx context.Context, history []chat.Message, onEvent func(orchestrator.Event)) error {
	f.got = history
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, ev := range f.events {
		onEvent(ev)
	}
	return f.err
}

type fakeLister struct {
	items []storage.Todo
	err   error
}

func (f fakeLister) ListTodos(context.Context) ([]storage.Todo, error) {
	return f.items, f.err
}

func newTestApp(sender ChatSender, todos TodoLister) App {
	app := NewApp(sender, todos, 50*time.Millisecond, i18n.New("en"))
	m, _ := app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m.(App)
}

// drive 执行命令直到本轮结束 / runs commands until the turn finishes
func drive(t *testing.T, app App, cmd tea.Cmd) App {
	t.Helper()
	for i := 0; i < 50 && cmd != nil; i++ {
		msg := cmd()
		m, next := app.Update(msg)
		app = m.(App)
		if _, ok := msg.(TurnDoneMsg); ok {
			return app
		}
		cmd = next
	}
	t.Fatal("turn did not finish")
	return app
}

func typeAndSubmit(app App, text string) (App, tea.Cmd) {
	app.input.SetValue(text)
	m, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return m.(App), cmd
}

func TestSubmitStreamsTurn(t *testing.T) {
	sender := &fakeSender{events: []orchestrator.Event{
		{Type: orchestrator.EventToolCall, Tool: "addTodoItem", Arguments: `{"title":"milk"}`},
		{Type: orchestrator.EventToolResult, Tool: "addTodoItem", Text: `Added "milk" (id 1).`},
		{Type: orchestrator.EventText, Text: "Added "},
		{Type: orchestrator.EventText, Text: "milk."},
	}}
	app, cmd := typeAndSubmit(newTestApp(sender, nil), "add milk")
	if !app.streaming || app.input.Value() != "" {
		t.Fatalf("streaming=%v input=%q", app.streaming, app.input.Value())
	}
	app = drive(t, app, cmd)

	if app.streaming || app.status != "Ready" {
		t.Fatalf("streaming=%v status=%q", app.streaming, app.status)
	}
	if len(sender.got) != 1 || sender.got[0].Content != "add milk" {
		t.Fatalf("sent history=%+v", sender.got)
	}
	if len(app.history) != 2 || app.history[1].Role != chat.RoleAssistant || app.history[1].Content != "Added milk." {
		t.Fatalf("history=%+v", app.history)
	}
	for _, want := range []string{"You:", "→ addTodoItem", `← Added "milk" (id 1).`, "Added"} {
		if !strings.Contains(app.chatContent, want) {
			t.Fatalf("chat missing %q:\n%s", want, app.chatContent)
		}
	}
}

func TestSubmitIgnoresBlankAndBusy(t *testing.T) {
	app, cmd := typeAndSubmit(newTestApp(&fakeSender{}, nil), "   ")
	if cmd != nil || app.streaming {
		t.Fatal("blank input should not start a turn")
	}
	app.streaming = true
	app, cmd = typeAndSubmit(app, "hello")
	if cmd != nil || len(app.history) != 0 {
		t.Fatal("input while streaming should be ignored")
	}
}

func TestTurnErrorShown(t *testing.T) {
	sender := &fakeSender{
		events: []orchestrator.Event{{Type: orchestrator.EventError, Text: "quota exceeded"}},
	}
	app, cmd := typeAndSubmit(newTestApp(sender, nil), "hi")
	app = drive(t, app, cmd)
	if app.lastError != "quota exceeded" || !strings.Contains(app.chatContent, "Chat error: quota exceeded") {
		t.Fatalf("lastError=%q chat=%q", app.lastError, app.chatContent)
	}

	sender.events, sender.err = nil, errors.New("dial failed")
	app, cmd = typeAndSubmit(app, "again")
	app = drive(t, app, cmd)
	if app.lastError != "dial failed" {
		t.Fatalf("lastError=%q", app.lastError)
	}
}

func TestEscInterrupts(t *testing.T) {
	app, cmd := typeAndSubmit(newTestApp(&fakeSender{block: true}, nil), "slow")
	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	app = m.(App)
	if app.status != "Generation interrupted" {
		t.Fatalf("status=%q", app.status)
	}
	app = drive(t, app, cmd)
	if app.streaming || app.lastError != "" || app.status != "Generation interrupted" {
		t.Fatalf("streaming=%v lastError=%q status=%q", app.streaming, app.lastError, app.status)
	}
}

func TestClearResetsConversation(t *testing.T) {
	sender := &fakeSender{events: []orchestrator.Event{{Type: orchestrator.EventText, Text: "ok"}}}
	app, cmd := typeAndSubmit(newTestApp(sender, nil), "hi")
	app = drive(t, app, cmd)
	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	app = m.(App)
	if len(app.history) != 0 || app.chatContent != "" {
		t.Fatalf("history=%v chat=%q", app.history, app.chatContent)
	}
}

func TestTodoSidebarRefresh(t *testing.T) {
	lister := fakeLister{items: []storage.Todo{
		{ID: 1, Title: "buy milk"},
		{ID: 2, Title: "walk dog", Completed: true},
	}}
	app := newTestApp(nil, lister)

	msg := app.fetchTodos()()
	m, next := app.Update(msg)
	app = m.(App)
	if next == nil {
		t.Fatal("refresh should schedule the next tick")
	}
	if len(app.todoItems) != 2 || app.offline {
		t.Fatalf("items=%v offline=%v", app.todoItems, app.offline)
	}
	view := app.View()
	for _, want := range []string{"Todos", "buy milk", "walk dog", "1 open / 1 done"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q", want)
		}
	}

	m, _ = app.Update(TodosMsg{Err: errors.New("connection refused")})
	app = m.(App)
	if !app.offline || len(app.todoItems) != 2 {
		t.Fatalf("offline=%v items=%d, want stale items kept", app.offline, len(app.todoItems))
	}
	if !strings.Contains(app.View(), "Todo API unreachable") {
		t.Fatal("offline notice missing")
	}
}

func TestViewBeforeResize(t *testing.T) {
	app := NewApp(nil, nil, 0, nil)
	if app.View() != "Initializing..." {
		t.Fatalf("View()=%q", app.View())
	}
}
