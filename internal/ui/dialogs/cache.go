package dialogs

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mockexam/livefeed/internal/db"
)

// CacheDialog lists the cached collections with their age and stale flag.
type CacheDialog struct {
	*tview.TextView
	load        func() ([]db.QueryEntry, error)
	lastRefresh func() time.Time
	onClose     func()
}

// NewCacheDialog shows the entries returned by load. onRefresh is called on R;
// it should refetch stale collections and then call Reload.
func NewCacheDialog(load func() ([]db.QueryEntry, error), lastRefresh func() time.Time, onClose func(), onRefresh func()) *CacheDialog {
	d := &CacheDialog{
		TextView:    tview.NewTextView(),
		load:        load,
		lastRefresh: lastRefresh,
		onClose:     onClose,
	}
	d.SetBorder(true).SetTitle(" Cached Collections ").SetTitleAlign(tview.AlignLeft)
	d.SetDynamicColors(true)
	d.SetBackgroundColor(tcell.ColorDefault)

	d.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q', event.Rune() == 'Q':
			onClose()
			return nil
		case event.Rune() == 'r', event.Rune() == 'R':
			d.SetText(d.GetText(false) + "\n[yellow]Refreshing...[-]")
			go onRefresh()
			return nil
		}
		return event
	})

	d.Reload()
	return d
}

func (d *CacheDialog) Reload() {
	entries, err := d.load()
	if err != nil {
		d.SetText(fmt.Sprintf("\n  [red]%s[-]", tview.Escape(err.Error())))
		return
	}
	d.SetText(cacheText(entries, d.lastRefresh(), time.Now()))
}

func cacheText(entries []db.QueryEntry, lastRefresh, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("\n")
	if len(entries) == 0 {
		sb.WriteString("  [yellow]Nothing cached yet.[-]\n")
	}
	stale := 0
	for _, e := range entries {
		mark := "[green]fresh[-]"
		if e.Stale {
			mark = "[yellow]stale[-]"
			stale++
		}
		fmt.Fprintf(&sb, "  %-14s %s  %8s  [gray]%s[-]\n",
			e.Key, mark, humanize.Bytes(uint64(len(e.Body))), humanize.RelTime(e.FetchedAt, now, "ago", "from now"))
	}
	if len(entries) > 0 {
		fmt.Fprintf(&sb, "\n  %d of %d stale\n", stale, len(entries))
	}
	if !lastRefresh.IsZero() {
		fmt.Fprintf(&sb, "  last refresh %s\n", humanize.RelTime(lastRefresh, now, "ago", "from now"))
	}
	sb.WriteString("\n  [green]R[-] refresh stale  [green]Q/Esc[-] close")
	return sb.String()
}
