package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 主题色彩和样式
// Theme defines TUI colors and styles
type Theme struct {
	Primary lipgloss.Color
	Danger  lipgloss.Color
	Success lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
	TextDim lipgloss.Color
	Border  lipgloss.Color

	TitleStyle     lipgloss.Style
	UserStyle      lipgloss.Style
	ToolStyle      lipgloss.Style
	StatusBarStyle lipgloss.Style
	SidebarStyle   lipgloss.Style
	InputStyle     lipgloss.Style
	ErrorStyle     lipgloss.Style
	DoneStyle      lipgloss.Style
	OpenStyle      lipgloss.Style
	MutedStyle     lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Danger:  lipgloss.Color("#EF4444"),
		Success: lipgloss.Color("#10B981"),
		Muted:   lipgloss.Color("#6B7280"),
		Text:    lipgloss.Color("#E5E7EB"),
		TextDim: lipgloss.Color("#9CA3AF"),
		Border:  lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.UserStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#06B6D4")).
		Bold(true)

	t.ToolStyle = lipgloss.NewStyle().
		Foreground(t.TextDim)

	t.StatusBarStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Background(lipgloss.Color("#111827"))

	t.SidebarStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderLeft(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.InputStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.DoneStyle = lipgloss.NewStyle().
		Foreground(t.Success).
		Strikethrough(true)

	t.OpenStyle = lipgloss.NewStyle().
		Foreground(t.Text)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	return t
}
