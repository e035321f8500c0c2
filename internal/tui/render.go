package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"todoagent/internal/storage"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderTodo 渲染侧栏中的一条待办
// RenderTodo renders one sidebar entry, truncated to width
func RenderTodo(item storage.Todo, width int, theme Theme) string {
	box, style := "[ ]", theme.OpenStyle
	if item.Completed {
		box, style = "[x]", theme.DoneStyle
	}
	line := fmt.Sprintf("%s #%d %s", box, item.ID, item.Title)
	if width > 1 {
		runes := []rune(line)
		if len(runes) > width {
			line = string(runes[:width-1]) + "…"
		}
	}
	return style.Render(line)
}

// CountTodos 返回未完成与已完成数量 / returns open and done counts
func CountTodos(items []storage.Todo) (open, done int) {
	for _, it := range items {
		if it.Completed {
			done++
		} else {
			open++
		}
	}
	return open, done
}
