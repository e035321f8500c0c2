package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"todoagent/internal/chat"
	"todoagent/internal/i18n"
	"todoagent/internal/orchestrator"
	"todoagent/internal/storage"
)

// ChatSender 发送对话历史并回调流式事件，*chatclient.Client 满足此接口
// ChatSender streams one turn. *chatclient.Client satisfies it.
type ChatSender interface {
	Send(ctx context.Context, history []chat.Message, onEvent func(orchestrator.Event)) error
}

// TodoLister 侧栏数据源，*api.Client 满足此接口
// TodoLister feeds the sidebar. *api.Client satisfies it.
type TodoLister interface {
	ListTodos(ctx context.Context) ([]storage.Todo, error)
}

// --- Tea Messages ---

// ChatEventMsg 来自聊天服务的一个事件
// ChatEventMsg wraps one event from the chat server
type ChatEventMsg struct{ Event orchestrator.Event }

// TurnDoneMsg 回合完成
// TurnDoneMsg indicates a turn is done
type TurnDoneMsg struct{ Err error }

// TodosMsg 侧栏刷新结果
// TodosMsg carries a sidebar refresh result
type TodosMsg struct {
	Items []storage.Todo
	Err   error
}

type refreshTickMsg struct{}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width  int
	height int

	chatView viewport.Model
	input    textarea.Model

	// 依赖 / Dependencies
	chat    ChatSender
	todos   TodoLister
	refresh time.Duration

	// 对话 / Conversation
	history      []chat.Message
	chatContent  string
	streamBuffer string
	events       chan tea.Msg
	cancel       context.CancelFunc

	// 侧边栏数据 / Sidebar data
	todoItems []storage.Todo
	offline   bool

	// 状态 / State
	streaming bool
	status    string
	lastError string

	theme  Theme
	keys   KeyMap
	locale *i18n.I18n
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application
func NewApp(sender ChatSender, todos TodoLister, refresh time.Duration, locale *i18n.I18n) App {
	if locale == nil {
		locale = i18n.Global()
	}
	if refresh <= 0 {
		refresh = time.Second
	}

	ta := textarea.New()
	ta.Placeholder = locale.T("input.placeholder")
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.Focus()

	return App{
		input:    ta,
		chatView: viewport.New(80, 20),
		chat:     sender,
		todos:    todos,
		refresh:  refresh,
		status:   locale.T("status.ready"),
		theme:    DarkTheme(),
		keys:     DefaultKeyMap(),
		locale:   locale,
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, a.fetchTodos())
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			if a.cancel != nil {
				a.cancel()
			}
			return a, tea.Quit
		case key.Matches(msg, a.keys.Interrupt):
			if a.streaming && a.cancel != nil {
				a.cancel()
				a.status = a.locale.T("status.interrupted")
			}
			return a, nil
		case key.Matches(msg, a.keys.Clear):
			if !a.streaming {
				a.history = nil
				a.chatContent = ""
				a.lastError = ""
				a.refreshChat()
			}
			return a, nil
		case key.Matches(msg, a.keys.ScrollUp):
			a.chatView.HalfPageUp()
			return a, nil
		case key.Matches(msg, a.keys.ScrollDown):
			a.chatView.HalfPageDown()
			return a, nil
		case key.Matches(msg, a.keys.Submit):
			return a.submit()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case ChatEventMsg:
		a.applyEvent(msg.Event)
		return a, waitForEvent(a.events)

	case TurnDoneMsg:
		a.finishTurn(msg.Err)
		return a, a.fetchTodos()

	case TodosMsg:
		if msg.Err != nil {
			a.offline = true
		} else {
			a.offline = false
			a.todoItems = msg.Items
		}
		return a, tea.Tick(a.refresh, func(time.Time) tea.Msg { return refreshTickMsg{} })

	case refreshTickMsg:
		return a, a.fetchTodos()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// submit 发送输入框内容并启动一轮对话
// submit sends the input box content and starts a turn
func (a App) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.input.Value())
	if text == "" || a.streaming || a.chat == nil {
		return a, nil
	}
	a.input.Reset()
	a.history = append(a.history, chat.Message{Role: chat.RoleUser, Content: text})
	a.appendChat(a.theme.UserStyle.Render(a.locale.T("chat.you")+":") + " " + text)

	a.streaming = true
	a.status = a.locale.T("status.streaming")
	a.lastError = ""
	a.streamBuffer = ""

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.events = make(chan tea.Msg, 64)
	history := append([]chat.Message(nil), a.history...)
	go runTurn(ctx, a.chat, history, a.events)
	return a, waitForEvent(a.events)
}

func runTurn(ctx context.Context, sender ChatSender, history []chat.Message, out chan<- tea.Msg) {
	err := sender.Send(ctx, history, func(ev orchestrator.Event) {
		out <- ChatEventMsg{Event: ev}
	})
	out <- TurnDoneMsg{Err: err}
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg { return <-ch }
}

func (a App) fetchTodos() tea.Cmd {
	if a.todos == nil {
		return nil
	}
	lister := a.todos
	timeout := a.refresh
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		items, err := lister.ListTodos(ctx)
		return TodosMsg{Items: items, Err: err}
	}
}

func (a *App) applyEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventText:
		a.streamBuffer += ev.Text
		a.refreshChat()
	case orchestrator.EventToolCall:
		a.flushStream()
		a.appendChat(a.theme.ToolStyle.Render(a.locale.T("chat.tool_call", ev.Tool, ev.Arguments)))
	case orchestrator.EventToolResult:
		if ev.IsError {
			a.appendChat(a.theme.ErrorStyle.Render(a.locale.T("chat.tool_error", ev.Text)))
		} else {
			a.appendChat(a.theme.ToolStyle.Render(a.locale.T("chat.tool_result", ev.Text)))
		}
	case orchestrator.EventError:
		a.lastError = ev.Text
		a.appendChat(a.theme.ErrorStyle.Render(a.locale.T("error.chat", ev.Text)))
	}
}

func (a *App) finishTurn(err error) {
	reply := a.flushStream()
	if reply != "" {
		a.history = append(a.history, chat.Message{Role: chat.RoleAssistant, Content: reply})
	}
	a.streaming = false
	a.cancel = nil
	a.events = nil
	switch {
	case err != nil && a.status == a.locale.T("status.interrupted"):
	case err != nil:
		a.lastError = err.Error()
		a.appendChat(a.theme.ErrorStyle.Render(a.locale.T("error.chat", err.Error())))
		a.status = a.locale.T("status.ready")
	default:
		a.status = a.locale.T("status.ready")
	}
}

// flushStream 将流式文本按 markdown 渲染进聊天记录，返回原文
// flushStream renders the streamed text into the transcript and returns it raw
func (a *App) flushStream() string {
	text := strings.TrimSpace(a.streamBuffer)
	a.streamBuffer = ""
	if text == "" {
		return ""
	}
	label := a.theme.TitleStyle.Render(a.locale.T("chat.assistant") + ":")
	a.appendChat(label + "\n" + RenderMarkdown(text, a.chatView.Width))
	return text
}

// --- 内部方法 / Internal methods ---

func (a *App) relayout() {
	mainWidth, panelHeight := a.mainWidth(), a.height-7
	if panelHeight < 3 {
		panelHeight = 3
	}
	a.chatView.Width = mainWidth
	a.chatView.Height = panelHeight
	a.input.SetWidth(mainWidth - 2)
	a.refreshChat()
}

func (a App) sidebarWidth() int {
	if a.width < 60 {
		return 0
	}
	w := a.width * 30 / 100
	if w < 24 {
		w = 24
	}
	if w > 44 {
		w = 44
	}
	return w
}

func (a App) mainWidth() int {
	w := a.width - a.sidebarWidth()
	if a.sidebarWidth() > 0 {
		w-- // border
	}
	if w < 10 {
		w = 10
	}
	return w
}

func (a *App) appendChat(text string) {
	if a.chatContent != "" {
		a.chatContent += "\n"
	}
	a.chatContent += text + "\n"
	a.refreshChat()
}

func (a *App) refreshChat() {
	content := a.chatContent
	if a.streamBuffer != "" {
		content += "\n" + a.streamBuffer
	}
	a.chatView.SetContent(content)
	a.chatView.GotoBottom()
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}
	mainWidth := a.mainWidth()

	title := a.theme.TitleStyle.Render(" " + a.locale.T("panel.chat"))
	panel := lipgloss.NewStyle().Width(mainWidth).Height(a.chatView.Height).Render(a.chatView.View())
	inputBox := a.theme.InputStyle.Width(mainWidth).Render(a.input.View())
	main := lipgloss.JoinVertical(lipgloss.Left, title, panel, inputBox)

	if sw := a.sidebarWidth(); sw > 0 {
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, a.renderSidebar(sw, a.height-1))
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, a.renderStatusBar(a.width))
}

func (a App) renderSidebar(width, height int) string {
	parts := []string{a.theme.TitleStyle.Render(" " + a.locale.T("panel.todos"))}
	open, done := CountTodos(a.todoItems)
	parts = append(parts, a.theme.MutedStyle.Render(" "+a.locale.T("todos.summary", open, done)), "")

	if len(a.todoItems) == 0 {
		parts = append(parts, a.theme.MutedStyle.Render("  "+a.locale.T("todos.empty")))
	}
	for _, item := range a.todoItems {
		parts = append(parts, " "+RenderTodo(item, width-3, a.theme))
	}
	if a.offline {
		parts = append(parts, "", a.theme.ErrorStyle.Render(" "+a.locale.T("status.offline")))
	}
	return a.theme.SidebarStyle.Width(width).Height(height).Render(strings.Join(parts, "\n"))
}

func (a App) renderStatusBar(width int) string {
	left := " " + a.status
	if a.lastError != "" && !a.streaming {
		left += " · " + a.theme.ErrorStyle.Render(a.lastError)
	}
	right := strings.Join([]string{
		a.locale.T("keys.enter"), a.locale.T("keys.esc"),
		a.locale.T("keys.ctrl_l"), a.locale.T("keys.ctrl_c"),
	}, " · ") + " "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return a.theme.StatusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI application
func Run(sender ChatSender, todos TodoLister, refresh time.Duration, locale *i18n.I18n) error {
	app := NewApp(sender, todos, refresh, locale)
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
