package ui

import (
	"testing"
	"time"

	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/notify"
)

func mustEvent(t *testing.T, name string, payload any) events.Event {
	t.Helper()
	ev, err := events.New(name, payload, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestDescribe(t *testing.T) {
	e := describe(mustEvent(t, events.ExamAttemptCompleted, events.UserActivity{UserName: "Jane Doe"}))
	if e.Text != "Jane Doe completed an exam attempt" || e.Style != notify.StyleSuccess {
		t.Errorf("exam completed: %+v", e)
	}

	e = describe(mustEvent(t, events.Notification, events.NotificationPayload{Type: events.TypeBookingCancelled, Message: "Slot removed"}))
	if e.Text != "BOOKING_CANCELLED: Slot removed" || e.Style != notify.StyleError {
		t.Errorf("notification: %+v", e)
	}

	e = describe(events.Event{Name: "mystery"})
	if e.Text != "mystery" {
		t.Errorf("unknown event: %+v", e)
	}
}

func TestActivityFeedNewestFirst(t *testing.T) {
	f := activityFeed{max: 2}
	f.add(feedEntry{Text: "a"})
	f.add(feedEntry{Text: "b"})
	f.add(feedEntry{Text: "c"})

	got := f.list()
	if len(got) != 2 || got[0].Text != "c" || got[1].Text != "b" {
		t.Errorf("unexpected feed: %+v", got)
	}
}
