package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mockexam/livefeed/internal/cache"
	"github.com/mockexam/livefeed/internal/conn"
	"github.com/mockexam/livefeed/internal/db"
	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/identity"
	"github.com/mockexam/livefeed/internal/router"
)

// Dashboard is the main screen: connection header, live activity feed and a
// panel with the state of the cached collections.
type Dashboard struct {
	*tview.Flex
	app    *tview.Application
	header *tview.TextView
	table  *tview.Table
	side   *tview.TextView
	footer *tview.TextView
	ident  identity.Identity

	mu          sync.Mutex
	feed        activityFeed
	state       conn.StateChange
	maxAttempts int
	gaps        []cache.Gap
	collections []db.QueryEntry

	onReconnect     func()
	onCache         func()
	onNotifications func()
	onQuit          func()
}

func NewDashboard(app *tview.Application, ident identity.Identity, maxAttempts int) *Dashboard {
	d := &Dashboard{
		app:         app,
		ident:       ident,
		feed:        activityFeed{max: maxFeed},
		maxAttempts: maxAttempts,
	}

	d.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.header.SetBackgroundColor(ColorBackgroundPanel)

	d.table = tview.NewTable().
		SetSelectable(true, false).
		SetSelectedStyle(tcell.StyleDefault.
			Background(ColorSelected).
			Foreground(ColorSelectedText))
	d.table.SetBackgroundColor(ColorBackground)

	d.side = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	d.side.SetBackgroundColor(ColorBackground)

	d.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.footer.SetBackgroundColor(ColorBackgroundPanel)
	d.footer.SetText(
		"[green]↑↓[-] scroll  [green]r[-] reconnect  [green]c[-] cache  " +
			"[green]n[-] notifications  [green]?[-] help  [green]q[-] quit")

	separator := tview.NewBox().SetBackgroundColor(ColorBorder)

	content := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(d.table, 0, 65, true).
		AddItem(separator, 1, 0, false).
		AddItem(d.side, 0, 35, false)

	d.Flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.header, 1, 0, false).
		AddItem(content, 0, 1, true).
		AddItem(d.footer, 1, 0, false)

	d.setupInput()
	d.renderHeader()
	return d
}

func (d *Dashboard) SetCallbacks(onReconnect, onCache, onNotifications, onQuit func()) {
	d.onReconnect = onReconnect
	d.onCache = onCache
	d.onNotifications = onNotifications
	d.onQuit = onQuit
}

// Mount registers the dashboard's handlers on s. They run on the connection
// goroutine, so they only record and queue a redraw.
func (d *Dashboard) Mount(s *router.Scope) {
	for _, name := range events.Mutations {
		s.On(name, d.record)
	}
	s.On(events.ConnectionState, d.stateChanged)
}

func (d *Dashboard) record(ev events.Event) error {
	d.mu.Lock()
	d.feed.add(describe(ev))
	d.mu.Unlock()
	d.app.QueueUpdateDraw(d.renderTable)
	return nil
}

func (d *Dashboard) stateChanged(ev events.Event) error {
	var change conn.StateChange
	if err := ev.Decode(&change); err != nil {
		return err
	}
	d.mu.Lock()
	d.state = change
	d.mu.Unlock()
	d.app.QueueUpdateDraw(d.renderHeader)
	return nil
}

// SetGaps records collections that will not refresh on their own. Must be
// called on the UI goroutine.
func (d *Dashboard) SetGaps(gaps []cache.Gap) {
	d.mu.Lock()
	d.gaps = gaps
	d.mu.Unlock()
	d.renderSide()
}

// SetCollections must be called on the UI goroutine.
func (d *Dashboard) SetCollections(entries []db.QueryEntry) {
	d.mu.Lock()
	d.collections = entries
	d.mu.Unlock()
	d.renderSide()
}

func (d *Dashboard) renderHeader() {
	d.mu.Lock()
	change, maxAttempts := d.state, d.maxAttempts
	d.mu.Unlock()
	d.header.SetText(headerText(d.ident, change, maxAttempts))
}

func headerText(ident identity.Identity, change conn.StateChange, maxAttempts int) string {
	icon, color := StateIcon(change.To)
	state := change.To.String()
	if change.To == conn.StateReconnecting {
		state = fmt.Sprintf("%s %d/%d", state, change.Attempt, maxAttempts)
	}
	text := fmt.Sprintf("[blue]LIVEFEED[-]   %s %s   %s%s %s[-]",
		tview.Escape(ident.UserID), ident.Role, colorTag(color), icon, state)
	if change.To == conn.StateFailed {
		text += "   [red]real-time updates disabled, press r to retry[-]"
	}
	return text
}

func (d *Dashboard) renderTable() {
	d.mu.Lock()
	entries := d.feed.list()
	d.mu.Unlock()

	d.table.Clear()
	if len(entries) == 0 {
		d.table.SetCell(0, 0, tview.NewTableCell(" waiting for events...").
			SetTextColor(ColorTextMuted).
			SetSelectable(false))
		return
	}
	for i, e := range entries {
		d.table.SetCell(i, 0, tview.NewTableCell(" "+formatAge(e.At)).
			SetTextColor(ColorTextMuted))
		d.table.SetCell(i, 1, tview.NewTableCell(e.Name).
			SetTextColor(ColorPrimary))
		d.table.SetCell(i, 2, tview.NewTableCell(e.Text).
			SetTextColor(StyleColor(e.Style)).
			SetExpansion(1))
	}
}

func (d *Dashboard) renderSide() {
	d.mu.Lock()
	entries, gaps := d.collections, d.gaps
	d.mu.Unlock()
	d.side.SetText(sideText(entries, gaps))
}

func sideText(entries []db.QueryEntry, gaps []cache.Gap) string {
	var sb strings.Builder
	sb.WriteString("\n [yellow]Collections[-]\n")
	if len(entries) == 0 {
		sb.WriteString(" [gray]nothing cached yet[-]\n")
	}
	for _, e := range entries {
		mark := "[green]fresh[-]"
		if e.Stale {
			mark = "[yellow]stale[-]"
		}
		fmt.Fprintf(&sb, " %-14s %s  [gray]%s[-]\n", e.Key, mark, humanize.Time(e.FetchedAt))
	}
	if len(gaps) > 0 {
		sb.WriteString("\n [red]Not invalidated[-]\n")
		for _, g := range gaps {
			fmt.Fprintf(&sb, " %s\n", g)
		}
	}
	return sb.String()
}

func (d *Dashboard) setupInput() {
	d.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'r':
			if d.onReconnect != nil {
				d.onReconnect()
			}
			return nil
		case 'c':
			if d.onCache != nil {
				d.onCache()
			}
			return nil
		case 'n':
			if d.onNotifications != nil {
				d.onNotifications()
			}
			return nil
		case 'q':
			if d.onQuit != nil {
				d.onQuit()
			}
			return nil
		}
		return event
	})
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
