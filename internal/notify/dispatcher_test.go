package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/notify"
	"github.com/mockexam/livefeed/internal/router"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeToaster struct {
	mu     sync.Mutex
	toasts []notify.Toast
	panics bool
}

func (f *fakeToaster) Show(t notify.Toast) {
	if f.panics {
		panic("render failed")
	}
	f.mu.Lock()
	f.toasts = append(f.toasts, t)
	f.mu.Unlock()
}

func (f *fakeToaster) all() []notify.Toast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Toast(nil), f.toasts...)
}

type fakePusher struct {
	mu     sync.Mutex
	perm   notify.Permission
	pushes []notify.Push
	err    error
}

func (f *fakePusher) Permission() notify.Permission { return f.perm }

func (f *fakePusher) Push(_ context.Context, p notify.Push) error {
	f.mu.Lock()
	f.pushes = append(f.pushes, p)
	f.mu.Unlock()
	return f.err
}

func (f *fakePusher) all() []notify.Push {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Push(nil), f.pushes...)
}

func event(t *testing.T, name string, payload any) events.Event {
	t.Helper()
	ev, err := events.New(name, payload, time.Now())
	require.NoError(t, err)
	return ev
}

func newDispatcher(toaster notify.Toaster, pusher notify.Pusher) *notify.Dispatcher {
	return notify.NewDispatcher(toaster, pusher, discardLogger())
}

func TestUrgentExamReminder(t *testing.T) {
	toaster := &fakeToaster{}
	pusher := &fakePusher{}
	d := newDispatcher(toaster, pusher)

	err := d.HandleNotification(event(t, events.Notification, events.NotificationPayload{
		Type:    events.TypeExamReminder,
		Message: "Exam starts in 5 minutes",
		Data:    map[string]any{"reminderType": "5m"},
	}))
	require.NoError(t, err)
	d.Wait()

	toasts := toaster.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.StyleError, toasts[0].Style)
	assert.Equal(t, 10*time.Second, toasts[0].Duration)
	assert.Equal(t, "Exam starts in 5 minutes", toasts[0].Message)

	pushes := pusher.all()
	require.Len(t, pushes, 1)
	assert.Contains(t, pushes[0].Title, "URGENT")
	assert.True(t, pushes[0].Urgent)
	assert.Equal(t, "notification-EXAM_REMINDER", pushes[0].Tag)
}

func TestPresentationTable(t *testing.T) {
	cases := []struct {
		payload  events.NotificationPayload
		style    notify.Style
		duration time.Duration
		title    string
	}{
		{events.NotificationPayload{Type: events.TypeExamReminder, Data: map[string]any{"reminderType": "15m"}}, notify.StyleNeutral, 6 * time.Second, "Exam Reminder"},
		{events.NotificationPayload{Type: events.TypeExamReminder}, notify.StyleNeutral, 6 * time.Second, "Exam Reminder"},
		{events.NotificationPayload{Type: events.TypeBookingConfirmed}, notify.StyleSuccess, 5 * time.Second, "Booking Confirmed"},
		{events.NotificationPayload{Type: events.TypeBookingCancelled}, notify.StyleError, 5 * time.Second, "Booking Cancelled"},
		{events.NotificationPayload{Type: events.TypeExamStarted}, notify.StyleNeutral, 5 * time.Second, "Exam Started"},
		{events.NotificationPayload{Type: events.TypeExamCompleted}, notify.StyleSuccess, 5 * time.Second, "Exam Completed"},
		{events.NotificationPayload{Type: "SOMETHING_NEW"}, notify.StyleNeutral, 4 * time.Second, "New Notification"},
	}
	for _, tc := range cases {
		p := notify.PresentationFor(tc.payload)
		assert.Equal(t, tc.style, p.Style, tc.payload.Type)
		assert.Equal(t, tc.duration, p.Duration, tc.payload.Type)
		assert.Equal(t, tc.title, p.PushTitle, tc.payload.Type)
	}
}

func TestAdminExamCompleted(t *testing.T) {
	toaster := &fakeToaster{}
	pusher := &fakePusher{}
	d := newDispatcher(toaster, pusher)

	require.NoError(t, d.HandleDomainEvent(event(t, events.ExamAttemptCompleted, events.UserActivity{UserName: "Jane Doe"})))
	d.Wait()

	toasts := toaster.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.StyleSuccess, toasts[0].Style)
	assert.Contains(t, toasts[0].Message, "Jane Doe")

	pushes := pusher.all()
	require.Len(t, pushes, 1)
	assert.Equal(t, "exam-completed", pushes[0].Tag)
}

func TestPaymentAmount(t *testing.T) {
	toaster := &fakeToaster{}
	d := newDispatcher(toaster, nil)

	require.NoError(t, d.HandleDomainEvent(event(t, events.PaymentProcessed, events.Payment{UserName: "Asha", Amount: 1500})))
	require.Len(t, toaster.all(), 1)
	assert.Equal(t, "Asha paid $1,500", toaster.all()[0].Message)
}

func TestLoginIsToastOnly(t *testing.T) {
	toaster := &fakeToaster{}
	pusher := &fakePusher{}
	d := newDispatcher(toaster, pusher)

	require.NoError(t, d.HandleDomainEvent(event(t, events.UserLogin, events.UserActivity{UserName: "Asha"})))
	d.Wait()

	assert.Len(t, toaster.all(), 1)
	assert.Empty(t, pusher.all())
}

func TestPushDeniedStillToasts(t *testing.T) {
	for _, perm := range []notify.Permission{notify.PermissionDenied, notify.PermissionUnsupported} {
		toaster := &fakeToaster{}
		pusher := &fakePusher{perm: perm}
		d := newDispatcher(toaster, pusher)

		require.NoError(t, d.HandleDomainEvent(event(t, events.BookingCreated, events.UserActivity{UserName: "Asha"})))
		d.Wait()

		assert.Len(t, toaster.all(), 1, perm.String())
		assert.Empty(t, pusher.all(), perm.String())
		_, ok := d.Record("booking-created")
		assert.False(t, ok, perm.String())
	}
}

func TestPanickingToasterStillPushes(t *testing.T) {
	pusher := &fakePusher{}
	d := newDispatcher(&fakeToaster{panics: true}, pusher)

	require.NotPanics(t, func() {
		require.NoError(t, d.HandleDomainEvent(event(t, events.BookingCreated, events.UserActivity{UserName: "Asha"})))
	})
	d.Wait()
	assert.Len(t, pusher.all(), 1)
}

func TestPushFailureIsContained(t *testing.T) {
	toaster := &fakeToaster{}
	d := newDispatcher(toaster, &fakePusher{err: errors.New("gateway down")})

	require.NoError(t, d.HandleDomainEvent(event(t, events.BookingCreated, events.UserActivity{UserName: "Asha"})))
	d.Wait()
	assert.Len(t, toaster.all(), 1)
}

func TestTagReplacesRecord(t *testing.T) {
	d := newDispatcher(&fakeToaster{}, &fakePusher{})

	for _, name := range []string{"Asha", "Ben"} {
		require.NoError(t, d.HandleDomainEvent(event(t, events.BookingCreated, events.UserActivity{UserName: name})))
	}
	d.Wait()

	recs := d.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "booking-created", recs[0].Tag)
	assert.Equal(t, 2, recs[0].Count)
	assert.Contains(t, recs[0].Body, "Ben")
}

func TestConnectionNotices(t *testing.T) {
	toaster := &fakeToaster{}
	pusher := &fakePusher{}
	d := newDispatcher(toaster, pusher)

	d.ConnectionLost(errors.New("refused"))
	d.ConnectionRestored()
	d.Wait()

	toasts := toaster.all()
	require.Len(t, toasts, 2)
	assert.Equal(t, notify.StyleError, toasts[0].Style)
	assert.Equal(t, "Real-time updates disabled", toasts[0].Message)
	assert.Equal(t, notify.StyleSuccess, toasts[1].Style)
	assert.Equal(t, "Connection restored", toasts[1].Message)
	assert.Equal(t, toasts[0].Tag, toasts[1].Tag)
	assert.Empty(t, pusher.all())
}

func TestBind(t *testing.T) {
	toaster := &fakeToaster{}
	d := newDispatcher(toaster, nil)
	r := router.New(discardLogger())
	scope := r.Scope()
	d.Bind(scope)

	assert.Equal(t, 1, r.Count(events.Notification))
	for _, name := range notify.DomainEvents() {
		assert.Equal(t, 1, r.Count(name), name)
	}

	r.Dispatch(event(t, events.NewExamAvailable, events.NewExam{Message: "IELTS mock 3 is live"}))
	require.Len(t, toaster.all(), 1)
	assert.Equal(t, "IELTS mock 3 is live", toaster.all()[0].Message)

	scope.Close()
	r.Dispatch(event(t, events.NewExamAvailable, events.NewExam{}))
	assert.Len(t, toaster.all(), 1)
}
