package events

import "time"

// Notification types carried in the "type" field of a notification event.
const (
	TypeExamReminder     = "EXAM_REMINDER"
	TypeBookingConfirmed = "BOOKING_CONFIRMED"
	TypeBookingCancelled = "BOOKING_CANCELLED"
	TypeExamStarted      = "EXAM_STARTED"
	TypeExamCompleted    = "EXAM_COMPLETED"
)

// Reminder lead times for EXAM_REMINDER.
const (
	Reminder5m  = "5m"
	Reminder15m = "15m"
)

// UserActivity is the payload of exam-attempt-*, booking-created and
// user-login/logout.
type UserActivity struct {
	UserName string `json:"userName"`
}

type Payment struct {
	UserName string  `json:"userName"`
	Amount   float64 `json:"amount"`
}

type NotificationPayload struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ReminderType returns data.reminderType or "" when absent.
func (n NotificationPayload) ReminderType() string {
	v, _ := n.Data["reminderType"].(string)
	return v
}

type NewExam struct {
	Message string `json:"message"`
}

type Join struct {
	Channel string `json:"channel"`
	UserID  string `json:"userId"`
	Role    string `json:"role"`
}

type OutgoingNotification struct {
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}
