package events_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mockexam/livefeed/internal/events"
)

func TestEncodeParse(t *testing.T) {
	frame, err := events.Encode(events.PaymentProcessed, events.Payment{UserName: "Jane Doe", Amount: 49.5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ev, err := events.Parse(frame, at)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev.Name != events.PaymentProcessed {
		t.Errorf("name: got %q", ev.Name)
	}
	if !ev.ReceivedAt.Equal(at) {
		t.Errorf("receivedAt: got %v", ev.ReceivedAt)
	}

	var p events.Payment
	if err := ev.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.UserName != "Jane Doe" || p.Amount != 49.5 {
		t.Errorf("payload: got %+v", p)
	}
}

func TestParse_Rejects(t *testing.T) {
	if _, err := events.Parse([]byte(`{"data":{}}`), time.Now()); !errors.Is(err, events.ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
	if _, err := events.Parse([]byte(`not json`), time.Now()); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestEncode_NilPayload(t *testing.T) {
	frame, err := events.Encode(events.UserLogout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(frame) != `{"event":"user-logout"}` {
		t.Errorf("got %s", frame)
	}
}

func TestReminderType(t *testing.T) {
	ev, _ := events.Parse([]byte(`{"event":"notification","data":{"type":"EXAM_REMINDER","message":"soon","data":{"reminderType":"5m"}}}`), time.Now())
	var n events.NotificationPayload
	if err := ev.Decode(&n); err != nil {
		t.Fatal(err)
	}
	if n.ReminderType() != events.Reminder5m {
		t.Errorf("reminderType: got %q", n.ReminderType())
	}

	if (events.NotificationPayload{}).ReminderType() != "" {
		t.Error("expected empty reminder type without data")
	}
}
