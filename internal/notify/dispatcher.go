package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/router"
)

const (
	pushTimeout = 10 * time.Second
	statusTag   = "connection"
)

// Dispatcher turns routed events into a toast and a push. The two surfaces
// are independent: a failing or missing push never suppresses the toast, and
// a panicking toaster never suppresses the push.
type Dispatcher struct {
	toaster Toaster
	pusher  Pusher
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	records map[string]Record
}

func NewDispatcher(toaster Toaster, pusher Pusher, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		toaster: toaster,
		pusher:  pusher,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[string]Record),
	}
}

// Bind registers the dispatcher for notifications and every domain event
// with a built-in presentation.
func (d *Dispatcher) Bind(s *router.Scope) {
	s.On(events.Notification, d.HandleNotification)
	names := DomainEvents()
	sort.Strings(names)
	for _, name := range names {
		s.On(name, d.HandleDomainEvent)
	}
}

func (d *Dispatcher) HandleNotification(ev events.Event) error {
	var n events.NotificationPayload
	if err := ev.Decode(&n); err != nil {
		return err
	}
	p := PresentationFor(n)
	d.Notify(Effect{Presentation: p, Message: n.Message, Tag: NotificationTag(n)})
	return nil
}

func (d *Dispatcher) HandleDomainEvent(ev events.Event) error {
	eff, ok, err := EffectFor(ev)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	d.Notify(eff)
	return nil
}

// Notify shows the toast synchronously and sends the push in the background.
// Effects without a push title or tag are toast only.
func (d *Dispatcher) Notify(eff Effect) {
	d.toast(Toast{
		ID:       uuid.New(),
		Style:    eff.Style,
		Icon:     eff.Icon,
		Message:  eff.Message,
		Duration: eff.Duration,
		Tag:      eff.Tag,
	})
	if eff.PushTitle == "" || eff.Tag == "" {
		return
	}
	d.push(Push{Title: eff.PushTitle, Body: eff.Message, Tag: eff.Tag, Urgent: eff.Urgent})
}

func (d *Dispatcher) ConnectionLost(err error) {
	d.logger.Warn("notify: real-time updates disabled", "err", err)
	d.toast(Toast{
		ID:       uuid.New(),
		Style:    StyleError,
		Icon:     "⚠",
		Message:  "Real-time updates disabled",
		Duration: 8 * time.Second,
		Tag:      statusTag,
	})
}

func (d *Dispatcher) ConnectionRestored() {
	d.toast(Toast{
		ID:       uuid.New(),
		Style:    StyleSuccess,
		Icon:     "🔌",
		Message:  "Connection restored",
		Duration: 3 * time.Second,
		Tag:      statusTag,
	})
}

func (d *Dispatcher) toast(t Toast) {
	if d.toaster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notify: toaster panicked", "tag", t.Tag, "panic", r)
		}
	}()
	d.toaster.Show(t)
}

func (d *Dispatcher) push(p Push) {
	if d.pusher == nil {
		return
	}
	if perm := d.pusher.Permission(); perm != PermissionGranted {
		d.logger.Debug("notify: push skipped", "tag", p.Tag, "permission", perm.String())
		return
	}

	d.mu.Lock()
	rec := d.records[p.Tag]
	rec.Tag, rec.Title, rec.Body = p.Tag, p.Title, p.Body
	rec.Count++
	rec.At = d.now()
	d.records[p.Tag] = rec
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notify: pusher panicked", "tag", p.Tag, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(d.ctx, pushTimeout)
		defer cancel()
		if err := d.pusher.Push(ctx, p); err != nil {
			d.logger.Warn("notify: push failed", "tag", p.Tag, "err", err)
		}
	}()
}

// Record returns the latest push sent for tag.
func (d *Dispatcher) Record(tag string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[tag]
	return rec, ok
}

// Records returns one record per tag, newest first.
func (d *Dispatcher) Records() []Record {
	d.mu.Lock()
	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, rec)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

// Wait blocks until in-flight pushes finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close aborts in-flight pushes and waits for them.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
