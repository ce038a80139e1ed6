package ui

import (
	"fmt"
	"time"

	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/notify"
)

const maxFeed = 200

type feedEntry struct {
	At    time.Time
	Name  string
	Text  string
	Style notify.Style
}

// activityFeed keeps the most recent events, newest first.
type activityFeed struct {
	max     int
	entries []feedEntry
}

func (f *activityFeed) add(e feedEntry) {
	f.entries = append([]feedEntry{e}, f.entries...)
	if f.max > 0 && len(f.entries) > f.max {
		f.entries = f.entries[:f.max]
	}
}

func (f *activityFeed) list() []feedEntry {
	return append([]feedEntry(nil), f.entries...)
}

// describe renders an event the way its toast would read.
func describe(ev events.Event) feedEntry {
	entry := feedEntry{At: ev.ReceivedAt, Name: ev.Name, Text: ev.Name}
	if ev.Name == events.Notification {
		var n events.NotificationPayload
		if err := ev.Decode(&n); err != nil {
			return entry
		}
		entry.Style = notify.PresentationFor(n).Style
		entry.Text = n.Message
		if n.Type != "" {
			entry.Text = fmt.Sprintf("%s: %s", n.Type, n.Message)
		}
		return entry
	}
	eff, ok, err := notify.EffectFor(ev)
	if ok && err == nil {
		entry.Style = eff.Style
		entry.Text = eff.Message
	}
	return entry
}
