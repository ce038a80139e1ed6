package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Desktop bool   `json:"desktop"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type Style int

const (
	StyleNeutral Style = iota
	StyleSuccess
	StyleError
)

func (s Style) String() string {
	switch s {
	case StyleSuccess:
		return "success"
	case StyleError:
		return "error"
	default:
		return "neutral"
	}
}

// Toast is an ephemeral in-app message. A toast with a Tag replaces any
// visible toast carrying the same tag.
type Toast struct {
	ID       uuid.UUID
	Style    Style
	Icon     string
	Message  string
	Duration time.Duration
	Tag      string
}

type Toaster interface {
	Show(t Toast)
}

// Push is an OS-level notification. Tag lets the OS replace an earlier
// notification instead of stacking a new one.
type Push struct {
	Title  string
	Body   string
	Tag    string
	Urgent bool
}

type Permission int

const (
	PermissionGranted Permission = iota
	PermissionDenied
	PermissionUnsupported
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unsupported"
	}
}

type Pusher interface {
	Permission() Permission
	Push(ctx context.Context, p Push) error
}

// Record is the last push sent for a tag.
type Record struct {
	Tag   string
	Title string
	Body  string
	Count int
	At    time.Time
}
