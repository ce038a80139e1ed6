package ui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/mockexam/livefeed/internal/conn"
	"github.com/mockexam/livefeed/internal/notify"
)

// Theme colors for the TUI.
var (
	ColorBackground      = tcell.NewHexColor(0x1e1e2e)
	ColorBackgroundPanel = tcell.NewHexColor(0x181825)
	ColorBackgroundElem  = tcell.NewHexColor(0x313244)
	ColorPrimary         = tcell.NewHexColor(0x89b4fa) // blue
	ColorAccent          = tcell.NewHexColor(0xcba6f7) // mauve
	ColorText            = tcell.NewHexColor(0xcdd6f4)
	ColorTextMuted       = tcell.NewHexColor(0x6c7086)
	ColorSuccess         = tcell.NewHexColor(0xa6e3a1) // green
	ColorWarning         = tcell.NewHexColor(0xf9e2af) // yellow
	ColorError           = tcell.NewHexColor(0xf38ba8) // red
	ColorBorder          = tcell.NewHexColor(0x45475a)
	ColorSelected        = tcell.NewHexColor(0x89b4fa)
	ColorSelectedText    = tcell.NewHexColor(0x1e1e2e)
)

// Connection state icons
const (
	IconConnected    = "●"
	IconConnecting   = "⟳"
	IconReconnecting = "◐"
	IconFailed       = "✗"
	IconDisconnected = "○"
)

func StateIcon(s conn.State) (string, tcell.Color) {
	switch s {
	case conn.StateConnected:
		return IconConnected, ColorSuccess
	case conn.StateConnecting:
		return IconConnecting, ColorAccent
	case conn.StateReconnecting:
		return IconReconnecting, ColorWarning
	case conn.StateFailed:
		return IconFailed, ColorError
	default:
		return IconDisconnected, ColorTextMuted
	}
}

// StyleColor maps a toast style to its theme color.
func StyleColor(s notify.Style) tcell.Color {
	switch s {
	case notify.StyleSuccess:
		return ColorSuccess
	case notify.StyleError:
		return ColorError
	default:
		return ColorText
	}
}

// colorTag renders c as a tview dynamic color tag.
func colorTag(c tcell.Color) string {
	return "[" + c.CSS() + "]"
}
