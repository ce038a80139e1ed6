package notify

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mockexam/livefeed/internal/events"
)

// Presentation is how one kind of event is shown on both surfaces.
type Presentation struct {
	Style     Style
	Icon      string
	Duration  time.Duration
	PushTitle string
	Urgent    bool
}

var (
	urgentReminder = Presentation{StyleError, "⏰", 10 * time.Second, "URGENT: Exam Starting Soon", true}
	reminder       = Presentation{StyleNeutral, "⏰", 6 * time.Second, "Exam Reminder", false}
	fallback       = Presentation{StyleNeutral, "🔔", 4 * time.Second, "New Notification", false}
)

var presentations = map[string]Presentation{
	events.TypeExamReminder:     reminder,
	events.TypeBookingConfirmed: {StyleSuccess, "✅", 5 * time.Second, "Booking Confirmed", false},
	events.TypeBookingCancelled: {StyleError, "❌", 5 * time.Second, "Booking Cancelled", false},
	events.TypeExamStarted:      {StyleNeutral, "📝", 5 * time.Second, "Exam Started", false},
	events.TypeExamCompleted:    {StyleSuccess, "🎉", 5 * time.Second, "Exam Completed", false},
}

// PresentationFor looks up a notification payload. Unknown types get the
// fallback entry.
func PresentationFor(n events.NotificationPayload) Presentation {
	if n.Type == events.TypeExamReminder && n.ReminderType() == events.Reminder5m {
		return urgentReminder
	}
	if p, ok := presentations[n.Type]; ok {
		return p
	}
	return fallback
}

// NotificationTag is the de-duplication tag for a notification payload.
func NotificationTag(n events.NotificationPayload) string {
	if n.Type == "" {
		return "notification"
	}
	return "notification-" + n.Type
}

// Effect is what a domain event produces. An empty Tag means toast only.
type Effect struct {
	Presentation
	Message string
	Tag     string
}

type domainRule func(ev events.Event) (Effect, error)

var domainRules = map[string]domainRule{
	events.ExamAttemptStarted: activity(Presentation{StyleNeutral, "📝", 4 * time.Second, "Exam Attempt Started", false},
		"exam-started", "%s started an exam attempt"),
	events.ExamAttemptCompleted: activity(Presentation{StyleSuccess, "🎉", 5 * time.Second, "Exam Attempt Completed", false},
		"exam-completed", "%s completed an exam attempt"),
	events.BookingCreated: activity(Presentation{StyleSuccess, "📅", 4 * time.Second, "New Booking", false},
		"booking-created", "%s booked an exam"),
	events.UserLogin: activity(Presentation{StyleNeutral, "👤", 3 * time.Second, "", false},
		"", "%s logged in"),
	events.UserLogout: activity(Presentation{StyleNeutral, "👋", 3 * time.Second, "", false},
		"", "%s logged out"),
	events.PaymentProcessed: func(ev events.Event) (Effect, error) {
		var p events.Payment
		if err := ev.Decode(&p); err != nil {
			return Effect{}, err
		}
		return Effect{
			Presentation: Presentation{StyleSuccess, "💳", 5 * time.Second, "Payment Received", false},
			Message:      fmt.Sprintf("%s paid %s", displayName(p.UserName), formatAmount(p.Amount)),
			Tag:          "payment-processed",
		}, nil
	},
	events.NewExamAvailable: func(ev events.Event) (Effect, error) {
		var p events.NewExam
		if err := ev.Decode(&p); err != nil {
			return Effect{}, err
		}
		msg := p.Message
		if msg == "" {
			msg = "A new exam is available"
		}
		return Effect{
			Presentation: Presentation{StyleNeutral, "🆕", 5 * time.Second, "New Exam Available", false},
			Message:      msg,
			Tag:          "new-exam",
		}, nil
	},
}

func activity(p Presentation, tag, format string) domainRule {
	return func(ev events.Event) (Effect, error) {
		var a events.UserActivity
		if err := ev.Decode(&a); err != nil {
			return Effect{}, err
		}
		return Effect{Presentation: p, Message: fmt.Sprintf(format, displayName(a.UserName)), Tag: tag}, nil
	}
}

// DomainEvents lists the event names with a built-in presentation.
func DomainEvents() []string {
	names := make([]string, 0, len(domainRules))
	for name := range domainRules {
		names = append(names, name)
	}
	return names
}

// EffectFor maps a domain event to its presentation.
func EffectFor(ev events.Event) (Effect, bool, error) {
	rule, ok := domainRules[ev.Name]
	if !ok {
		return Effect{}, false, nil
	}
	eff, err := rule(ev)
	return eff, true, err
}

func displayName(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

func formatAmount(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}
