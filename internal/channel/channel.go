// Package channel decides which logical channel an identity joins and
// announces it to the server after every successful handshake.
package channel

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/identity"
)

const (
	// Admin is the broadcast channel shared by every administrative identity.
	Admin = "admin"

	userPrefix = "user:"
)

// Channel is derived from an identity, never stored.
type Channel struct {
	Name      string
	Broadcast bool
}

// For returns the single channel id joins: the admin broadcast channel for
// administrative roles, otherwise a channel scoped to the user id.
func For(id identity.Identity) Channel {
	if id.Role.IsAdmin() {
		return Channel{Name: Admin, Broadcast: true}
	}
	return Channel{Name: User(id.UserID)}
}

// User returns the per-user channel name.
func User(userID string) string {
	return userPrefix + userID
}

// UserID extracts the user id from a per-user channel name.
func UserID(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, userPrefix)
	return id, ok && id != ""
}

// Emitter sends a fire-and-forget frame to the server.
type Emitter interface {
	Emit(name string, payload any) error
}

type Subscriber struct {
	logger *slog.Logger
}

func NewSubscriber(logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{logger: logger}
}

// Announce emits the join frame for id. It is called every time the
// connection enters Connected; the server treats repeated joins as no-ops.
func (s *Subscriber) Announce(e Emitter, id identity.Identity) (Channel, error) {
	ch := For(id)
	err := e.Emit(events.JoinChannel, events.Join{
		Channel: ch.Name,
		UserID:  id.UserID,
		Role:    string(id.Role),
	})
	if err != nil {
		return ch, fmt.Errorf("join %s: %w", ch.Name, err)
	}
	s.logger.Info("channel: joined", "channel", ch.Name, "user", id.UserID, "role", string(id.Role))
	return ch, nil
}
