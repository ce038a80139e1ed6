package conn

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mockexam/livefeed/internal/channel"
	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/identity"
	"github.com/mockexam/livefeed/internal/router"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
)

// StatusNotifier surfaces connection health to the user. ConnectionLost is
// called once when automatic reconnection gives up; ConnectionRestored once
// for every successful connect that follows a drop or a failure.
type StatusNotifier interface {
	ConnectionLost(err error)
	ConnectionRestored()
}

type Options struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// Jitter adds up to this fraction of ReconnectDelay to each wait.
	Jitter     float64
	Clock      clockwork.Clock
	Logger     *slog.Logger
	Status     StatusNotifier
	Subscriber *channel.Subscriber
}

func (o *Options) withDefaults() {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Subscriber == nil {
		o.Subscriber = channel.NewSubscriber(o.Logger)
	}
}

// Manager owns the single connection of a session. It reconnects with a
// fixed delay after transport errors and gives up after MaxReconnectAttempts.
type Manager struct {
	transport Transport
	router    *router.Router
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	attempt  int
	id       identity.Identity
	conn     Conn
	cancel   context.CancelFunc
	degraded bool
	// loggedIn is set once user-login has been sent for this Connect, so
	// reconnects do not repeat it and Disconnect knows to send user-logout.
	loggedIn bool

	wg sync.WaitGroup
}

func New(t Transport, r *router.Router, opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		transport: t,
		router:    r,
		opts:      opts,
		logger:    opts.Logger,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *Manager) Identity() identity.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Connect starts connecting in the background and returns immediately. It is
// a no-op while a connection for the same identity is open or being opened.
func (m *Manager) Connect(token string, id identity.Identity) error {
	if token == "" {
		return ErrMissingToken
	}
	if err := id.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.Active() {
		same := m.id == id
		state := m.state
		m.mu.Unlock()
		if !same {
			return ErrIdentityChange
		}
		m.logger.Debug("conn: connect ignored", "state", state.String())
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.id = id
	m.attempt = 0
	m.loggedIn = false
	change := m.transition(StateConnecting, nil)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, token, id, change)
	return nil
}

// Disconnect closes the transport, aborts any pending reconnect and drops
// every registered handler. A live connection gets a user-logout frame first.
// Calling it again is harmless.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel == nil && m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	c := m.conn
	m.conn = nil
	farewell := c != nil && m.state == StateConnected && m.loggedIn
	id := m.id
	m.loggedIn = false
	m.degraded = false
	var change *StateChange
	if m.state != StateDisconnected {
		ch := m.transition(StateDisconnected, nil)
		change = &ch
	}
	m.attempt = 0
	m.mu.Unlock()

	if c != nil {
		if farewell {
			if err := writeEvent(c, events.UserLogout, events.UserActivity{UserName: id.UserID}); err != nil {
				m.logger.Warn("conn: user-logout not sent", "err", err)
			}
		}
		c.Close()
	}
	if change != nil {
		m.publish(*change)
	}
	m.router.Reset()
	m.logger.Info("conn: disconnected")
}

// Wait blocks until every connection loop started by Connect has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Emit sends one event to the server. Nothing is queued while offline.
func (m *Manager) Emit(name string, payload any) error {
	m.mu.Lock()
	c, state := m.conn, m.state
	m.mu.Unlock()
	if c == nil || state != StateConnected {
		return ErrNotConnected
	}
	return writeEvent(c, name, payload)
}

func writeEvent(c Conn, name string, payload any) error {
	frame, err := events.Encode(name, payload)
	if err != nil {
		return err
	}
	if err := c.WriteMessage(frame); err != nil {
		return fmt.Errorf("emit %s: %w", name, err)
	}
	return nil
}

// run is the connection loop. Every state change except the final
// Disconnected one is dispatched from here, as are all inbound events.
func (m *Manager) run(ctx context.Context, token string, id identity.Identity, connecting StateChange) {
	defer m.wg.Done()

	if ctx.Err() != nil {
		return
	}
	m.publish(connecting)

	attempt := 0
	var lastErr error
	for {
		if attempt > 0 {
			if attempt > m.opts.MaxReconnectAttempts {
				m.fail(ctx, lastErr)
				return
			}
			if !m.enter(ctx, StateReconnecting, attempt, lastErr) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-m.opts.Clock.After(m.delay()):
			}
		}

		c, err := m.transport.Dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("conn: dial failed", "attempt", attempt, "err", err)
			lastErr = err
			attempt++
			continue
		}

		restored, ok := m.attach(ctx, c)
		if !ok {
			c.Close()
			return
		}
		if _, err := m.opts.Subscriber.Announce(m, id); err != nil {
			m.logger.Warn("conn: channel announce failed", "err", err)
		}
		m.login(c, id)
		if restored && m.opts.Status != nil {
			m.opts.Status.ConnectionRestored()
		}

		lastErr = m.read(ctx, c)
		if !m.detach(ctx, c) {
			return
		}
		m.logger.Warn("conn: transport dropped", "err", lastErr)
		attempt = 1
	}
}

// login mirrors the session start to the server once per Connect.
func (m *Manager) login(c Conn, id identity.Identity) {
	m.mu.Lock()
	done := m.loggedIn || m.conn != c
	m.mu.Unlock()
	if done {
		return
	}
	if err := writeEvent(c, events.UserLogin, events.UserActivity{UserName: id.UserID}); err != nil {
		m.logger.Warn("conn: user-login not sent", "err", err)
		return
	}
	m.mu.Lock()
	if m.conn == c {
		m.loggedIn = true
	}
	m.mu.Unlock()
}

func (m *Manager) read(ctx context.Context, c Conn) error {
	for {
		frame, err := c.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, err := events.Parse(frame, m.opts.Clock.Now())
		if err != nil {
			m.logger.Warn("conn: dropping malformed frame", "err", err)
			continue
		}
		if ev.Name == events.ConnectionState {
			continue
		}
		m.router.Dispatch(ev)
	}
}

func (m *Manager) enter(ctx context.Context, to State, attempt int, err error) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.attempt = attempt
	change := m.transition(to, err)
	m.mu.Unlock()
	m.publish(change)
	return true
}

func (m *Manager) attach(ctx context.Context, c Conn) (restored, ok bool) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false, false
	}
	m.conn = c
	m.attempt = 0
	restored = m.degraded
	m.degraded = false
	change := m.transition(StateConnected, nil)
	change.Recovered = restored
	m.mu.Unlock()
	m.publish(change)
	return restored, true
}

func (m *Manager) detach(ctx context.Context, c Conn) bool {
	m.mu.Lock()
	if m.conn == c {
		m.conn = nil
	}
	live := ctx.Err() == nil
	if live {
		m.degraded = true
	}
	m.mu.Unlock()
	c.Close()
	return live
}

func (m *Manager) fail(ctx context.Context, err error) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.degraded = true
	change := m.transition(StateFailed, err)
	m.cancel()
	m.mu.Unlock()

	m.publish(change)
	m.logger.Error("conn: giving up", "attempts", m.opts.MaxReconnectAttempts, "err", err)
	if m.opts.Status != nil {
		m.opts.Status.ConnectionLost(err)
	}
}

// transition must be called with m.mu held.
func (m *Manager) transition(to State, err error) StateChange {
	change := StateChange{From: m.state, To: to, Attempt: m.attempt}
	if err != nil {
		change.Error = err.Error()
	}
	m.state = to
	return change
}

func (m *Manager) publish(change StateChange) {
	m.logger.Info("conn: state", "from", change.From.String(), "to", change.To.String(), "attempt", change.Attempt)
	ev, err := events.New(events.ConnectionState, change, m.opts.Clock.Now())
	if err != nil {
		m.logger.Warn("conn: encode state change", "err", err)
		return
	}
	m.router.Dispatch(ev)
}

func (m *Manager) delay() time.Duration {
	d := m.opts.ReconnectDelay
	if m.opts.Jitter > 0 {
		d += time.Duration(rand.Float64() * m.opts.Jitter * float64(d))
	}
	return d
}
