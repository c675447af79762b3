package cli

import "github.com/charmbracelet/lipgloss"

// 终端输出配色。输出不是终端时 lipgloss 自动降级为纯文本。
const (
	colorDefault = lipgloss.Color("#10B981")
	colorSession = lipgloss.Color("#3B82F6")
	colorMuted   = lipgloss.Color("#6B7280")
	colorWarning = lipgloss.Color("#F59E0B")
)

type styles struct {
	header  lipgloss.Style
	def     lipgloss.Style
	session lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Bold(true),
		def:     r.NewStyle().Foreground(colorDefault),
		session: r.NewStyle().Bold(true).Foreground(colorSession),
		muted:   r.NewStyle().Foreground(colorMuted),
		warning: r.NewStyle().Foreground(colorWarning),
	}
}
