package dialogs

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mockexam/livefeed/internal/notify"
)

// NotificationsDialog lists the latest push per tag.
func NotificationsDialog(records []notify.Record, onClose func()) *tview.TextView {
	tv := tview.NewTextView()
	tv.SetBorder(true).SetTitle(" Notifications ").SetTitleAlign(tview.AlignLeft)
	tv.SetDynamicColors(true)
	tv.SetBackgroundColor(tcell.ColorDefault)
	tv.SetText(notificationsText(records))
	tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' || event.Rune() == 'n' {
			onClose()
			return nil
		}
		return event
	})
	return tv
}

func notificationsText(records []notify.Record) string {
	var sb strings.Builder
	sb.WriteString("\n")
	if len(records) == 0 {
		sb.WriteString("  [yellow]No notifications yet.[-]\n")
	}
	for _, r := range records {
		count := ""
		if r.Count > 1 {
			count = fmt.Sprintf(" [gray](x%d)[-]", r.Count)
		}
		fmt.Fprintf(&sb, "  [yellow]%s[-]%s  [gray]%s[-]\n  %s\n\n",
			tview.Escape(r.Title), count, humanize.Time(r.At), tview.Escape(r.Body))
	}
	sb.WriteString("  [green]Q/Esc[-] close")
	return sb.String()
}
