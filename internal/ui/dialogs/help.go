package dialogs

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const helpText = `[yellow]Dashboard Keys[-]

  [green]↑/k[-]      Scroll up
  [green]↓/j[-]      Scroll down
  [green]r[-]        Reconnect (after updates were disabled)
  [green]c[-]        Cached collections
  [green]n[-]        Recent notifications
  [green]?[-]        This help
  [green]q[-]        Quit

[yellow]Connection[-]

  [green]●[-] connected   [yellow]◐[-] reconnecting   [red]✗[-] failed

  After repeated failures real-time updates stay off
  until you reconnect. Events sent while offline are
  not replayed; cached collections are refetched.

Press [green]Escape[-] or [green]?[-] to close.`

func HelpDialog(onClose func()) *tview.TextView {
	tv := tview.NewTextView()
	tv.SetBorder(true).SetTitle(" Help ").SetTitleAlign(tview.AlignLeft)
	tv.SetDynamicColors(true)
	tv.SetBackgroundColor(tcell.ColorDefault)
	tv.SetText(helpText)
	tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == '?' {
			onClose()
			return nil
		}
		return event
	})
	return tv
}
