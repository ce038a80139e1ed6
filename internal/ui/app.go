package ui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mockexam/livefeed/internal/cache"
	"github.com/mockexam/livefeed/internal/conn"
	"github.com/mockexam/livefeed/internal/identity"
	"github.com/mockexam/livefeed/internal/notify"
	"github.com/mockexam/livefeed/internal/router"
	"github.com/mockexam/livefeed/internal/ui/dialogs"
)

// Deps are the session-scoped services the UI drives. main builds them once
// per run and hands them over; the UI never creates its own.
type Deps struct {
	Router          *router.Router
	Conn            *conn.Manager
	Dispatcher      *notify.Dispatcher
	Cache           *cache.QueryCache
	Invalidator     *cache.Invalidator
	Toasts          *ToastLayer
	Identity        identity.Identity
	Token           string
	MaxAttempts     int
	RefreshInterval time.Duration
}

type App struct {
	tapp      *tview.Application
	pages     *tview.Pages
	dash      *Dashboard
	deps      Deps
	displayed []cache.Key
	logger    *slog.Logger
}

// DisplayedKeys is what the dashboard shows for a role.
func DisplayedKeys(role identity.Role) []cache.Key {
	if role.IsAdmin() {
		return []cache.Key{cache.KeyExamAttempts, cache.KeyBookings, cache.KeyPayments, cache.KeyActiveUsers}
	}
	return []cache.Key{cache.KeyBookings, cache.KeyNotifications, cache.KeyExams}
}

func NewApp(deps Deps, logger *slog.Logger) *App {
	a := &App{
		deps:      deps,
		displayed: DisplayedKeys(deps.Identity.Role),
		logger:    logger,
	}

	a.tapp = tview.NewApplication()
	a.pages = tview.NewPages()
	a.dash = NewDashboard(a.tapp, deps.Identity, deps.MaxAttempts)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.dash, 0, 1, true).
		AddItem(deps.Toasts, deps.Toasts.Height(), 0, false)
	deps.Toasts.attach(a.tapp)

	a.pages.AddPage("home", layout, true, true)
	a.tapp.SetRoot(a.pages, true).EnableMouse(false)
	a.tapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == '?' {
			a.showHelp()
			return nil
		}
		return event
	})

	a.dash.SetCallbacks(a.onReconnect, a.onCache, a.onNotifications, a.onQuit)
	return a
}

// Run mounts every consumer, connects and blocks until the user quits.
func (a *App) Run() error {
	scope := a.deps.Router.Scope()
	defer scope.Close()

	a.deps.Dispatcher.Bind(scope)
	a.deps.Invalidator.BindView(scope, a.displayed...)
	a.deps.Invalidator.BindRecovery(scope)
	a.dash.Mount(scope)

	if gaps := a.deps.Invalidator.Missing(a.displayed); len(gaps) > 0 {
		a.logger.Warn("ui: displayed collections without invalidator", "gaps", fmt.Sprint(gaps))
		a.dash.SetGaps(gaps)
	}

	stop := a.deps.Cache.OnInvalidate(func([]cache.Key) {
		a.tapp.QueueUpdateDraw(a.reloadCollections)
	})
	defer stop()

	interval := a.deps.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	refresher := cache.NewRefresher(a.deps.Cache, interval, a.logger, a.displayed...)
	refresher.Start()
	defer refresher.Stop()

	if err := a.deps.Conn.Connect(a.deps.Token, a.deps.Identity); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer a.deps.Conn.Disconnect()

	a.reloadCollections()
	a.dash.renderTable()
	return a.tapp.Run()
}

func (a *App) reloadCollections() {
	entries, err := a.deps.Cache.Entries()
	if err != nil {
		a.logger.Warn("ui: list cache", "err", err)
		return
	}
	a.dash.SetCollections(entries)
}

func (a *App) showDialog(name string, widget tview.Primitive, width, height int) {
	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexColumn).
			AddItem(nil, 0, 1, false).
			AddItem(widget, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
	a.pages.AddPage(name, modal, true, true)
	a.tapp.SetFocus(widget)
}

func (a *App) closeDialog(name string) {
	a.pages.RemovePage(name)
	a.tapp.SetFocus(a.dash.table)
}

func (a *App) showHelp() {
	help := dialogs.HelpDialog(func() {
		a.closeDialog("help")
	})
	a.showDialog("help", help, 60, 24)
}

func (a *App) onReconnect() {
	if err := a.deps.Conn.Connect(a.deps.Token, a.deps.Identity); err != nil {
		a.showError(fmt.Sprintf("Reconnect failed: %v", err))
	}
}

func (a *App) onCache() {
	var d *dialogs.CacheDialog
	d = dialogs.NewCacheDialog(a.deps.Cache.Entries, a.deps.Cache.LastRefresh,
		func() { a.closeDialog("cache") },
		func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.deps.Cache.RefreshStale(ctx); err != nil {
				a.logger.Warn("ui: refresh stale", "err", err)
			}
			a.tapp.QueueUpdateDraw(func() {
				d.Reload()
				a.reloadCollections()
			})
		})
	a.showDialog("cache", d, 64, 16)
}

func (a *App) onNotifications() {
	d := dialogs.NotificationsDialog(a.deps.Dispatcher.Records(), func() {
		a.closeDialog("notifications")
	})
	a.showDialog("notifications", d, 64, 20)
}

func (a *App) onQuit() {
	modal := dialogs.ConfirmDialog("Stop receiving live updates and quit?",
		func() { a.tapp.Stop() },
		func() { a.closeDialog("confirm-quit") },
	)
	a.pages.AddPage("confirm-quit", modal, true, true)
}

func (a *App) showError(msg string) {
	modal := tview.NewModal().
		SetText(msg).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(_ int, _ string) {
			a.closeDialog("error")
		})
	a.pages.AddPage("error", modal, true, true)
}
