package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// Tool replies
	"tool.add.ok":             "Added %q (id %d).",
	"tool.add.failed":         "Could not add %q: %s",
	"tool.delete.ok":          "Deleted todo %d.",
	"tool.delete.not_found":   "Todo %d does not exist; nothing was deleted.",
	"tool.delete.failed":      "Could not delete todo %d: %s",
	"tool.update.ok":          "Marked todo %d (%q) as %s.",
	"tool.update.not_found":   "Todo %d does not exist; nothing was updated.",
	"tool.update.failed":      "Could not update todo %d: %s",
	"tool.list.empty":         "There are no todos.",
	"tool.list.header":        "Current todos:",
	"tool.list.failed":        "Could not load todos: %s",
	"tool.desc.add":           "Add a new todo item with the given title.",
	"tool.desc.delete":        "Delete the todo item with the given id.",
	"tool.desc.update":        "Mark the todo item with the given id as completed or not completed.",
	"tool.desc.list":          "List all todo items with their ids and completion state.",
	"todo.state.completed":    "completed",
	"todo.state.open":         "not completed",

	// UI - Panel titles
	"panel.chat":  "Chat",
	"panel.todos": "Todos",

	// UI - Status bar
	"status.ready":       "Ready",
	"status.streaming":   "Streaming...",
	"status.interrupted": "Generation interrupted",
	"status.offline":     "Todo API unreachable",

	// UI - Input
	"input.placeholder": "Ask me to add, complete or delete todos... (Alt+Enter for newline)",

	// UI - Keybindings (TUI)
	"keys.enter":  "enter send",
	"keys.esc":    "esc interrupt",
	"keys.ctrl_l": "ctrl+l clear",
	"keys.ctrl_c": "ctrl+c quit",

	// UI - Todo sidebar
	"todos.empty":   "No todos yet",
	"todos.summary": "%d open / %d done",

	// Chat stream
	"chat.you":         "You",
	"chat.assistant":   "Assistant",
	"chat.tool_call":   "→ %s %s",
	"chat.tool_result": "← %s",
	"chat.tool_error":  "✗ %s",

	// REPL
	"repl.welcome":   "todo chat (type /help for commands)",
	"repl.help":      "Commands: /todos list todos, /clear reset conversation, /exit quit",
	"repl.cleared":   "Conversation cleared.",
	"repl.unknown":   "Unknown command: %s",
	"repl.bye":       "Bye.",
	"repl.todo_line": "%s #%d %s",

	// Errors
	"error.chat":     "Chat error: %s",
	"error.provider": "Provider error: %s",
	"error.api":      "Todo API error: %s",
}
