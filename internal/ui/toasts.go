package ui

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rivo/tview"

	"github.com/mockexam/livefeed/internal/notify"
)

const maxToasts = 4

// toastStack is the visible toast list, oldest first.
type toastStack struct {
	max   int
	items []notify.Toast
}

// add appends t, replacing any toast with the same tag.
func (s *toastStack) add(t notify.Toast) {
	if t.Tag != "" {
		for i, cur := range s.items {
			if cur.Tag == t.Tag {
				s.items = append(s.items[:i], s.items[i+1:]...)
				break
			}
		}
	}
	s.items = append(s.items, t)
	if s.max > 0 && len(s.items) > s.max {
		s.items = s.items[len(s.items)-s.max:]
	}
}

func (s *toastStack) remove(id uuid.UUID) bool {
	for i, cur := range s.items {
		if cur.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *toastStack) list() []notify.Toast {
	return append([]notify.Toast(nil), s.items...)
}

// ToastLayer renders toasts in a strip at the bottom of the screen. It can
// receive toasts before the application runs; they show once it is attached.
type ToastLayer struct {
	*tview.TextView
	clock clockwork.Clock

	mu    sync.Mutex
	app   *tview.Application
	stack toastStack
}

func NewToastLayer(clock clockwork.Clock) *ToastLayer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := &ToastLayer{
		TextView: tview.NewTextView(),
		clock:    clock,
		stack:    toastStack{max: maxToasts},
	}
	l.SetDynamicColors(true)
	l.SetBackgroundColor(ColorBackgroundPanel)
	return l
}

func (l *ToastLayer) attach(app *tview.Application) {
	l.mu.Lock()
	l.app = app
	l.mu.Unlock()
	l.redraw()
}

// Show implements notify.Toaster.
func (l *ToastLayer) Show(t notify.Toast) {
	l.mu.Lock()
	l.stack.add(t)
	l.mu.Unlock()

	if t.Duration > 0 {
		id := t.ID
		l.clock.AfterFunc(t.Duration, func() {
			l.mu.Lock()
			removed := l.stack.remove(id)
			l.mu.Unlock()
			if removed {
				l.redraw()
			}
		})
	}
	l.redraw()
}

// Visible returns the toasts currently on screen, oldest first.
func (l *ToastLayer) Visible() []notify.Toast {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stack.list()
}

// Height is the number of rows the layer needs.
func (l *ToastLayer) Height() int { return maxToasts }

func (l *ToastLayer) redraw() {
	l.mu.Lock()
	app := l.app
	text := renderToasts(l.stack.list())
	l.mu.Unlock()
	if app == nil {
		return
	}
	app.QueueUpdateDraw(func() {
		l.SetText(text)
	})
}

func renderToasts(toasts []notify.Toast) string {
	var sb strings.Builder
	for i := len(toasts) - 1; i >= 0; i-- {
		t := toasts[i]
		sb.WriteString(" ")
		sb.WriteString(colorTag(StyleColor(t.Style)))
		if t.Icon != "" {
			sb.WriteString(t.Icon)
			sb.WriteString(" ")
		}
		sb.WriteString(tview.Escape(t.Message))
		sb.WriteString("[-]\n")
	}
	return sb.String()
}
