package conn_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockexam/livefeed/internal/conn"
	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/identity"
	"github.com/mockexam/livefeed/internal/router"
)

var (
	student = identity.Identity{UserID: "u1", Role: identity.RoleStudent}
	admin   = identity.Identity{UserID: "a1", Role: identity.RoleAdmin}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	open    int
	maxOpen int
	conns   []*fakeConn
	fail    func(n int) error
	gate    chan struct{}
}

func (t *fakeTransport) Dial(ctx context.Context, token string) (conn.Conn, error) {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.fail != nil {
		if err := t.fail(t.dials); err != nil {
			return nil, err
		}
	}
	c := &fakeConn{t: t, in: make(chan []byte, 16), closed: make(chan struct{})}
	t.conns = append(t.conns, c)
	t.open++
	t.maxOpen = max(t.maxOpen, t.open)
	return c, nil
}

func (t *fakeTransport) setFail(fn func(n int) error) {
	t.mu.Lock()
	t.fail = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) MaxOpen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxOpen
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

func refuse(int) error { return errors.New("connection refused") }

type fakeConn struct {
	t      *fakeTransport
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out [][]byte
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, conn.ErrConnClosed
	}
}

func (c *fakeConn) WriteMessage(frame []byte) error {
	select {
	case <-c.closed:
		return conn.ErrConnClosed
	default:
	}
	c.mu.Lock()
	c.out = append(c.out, frame)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.t.mu.Lock()
		c.t.open--
		c.t.mu.Unlock()
	})
	return nil
}

func (c *fakeConn) sent() []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Envelope
	for _, f := range c.out {
		var env events.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

type statusRecorder struct {
	mu       sync.Mutex
	lost     int
	restored int
}

func (s *statusRecorder) ConnectionLost(error) {
	s.mu.Lock()
	s.lost++
	s.mu.Unlock()
}

func (s *statusRecorder) ConnectionRestored() {
	s.mu.Lock()
	s.restored++
	s.mu.Unlock()
}

func (s *statusRecorder) counts() (lost, restored int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost, s.restored
}

type stateLog struct {
	mu      sync.Mutex
	changes []conn.StateChange
}

func (l *stateLog) handle(ev events.Event) error {
	var ch conn.StateChange
	if err := ev.Decode(&ch); err != nil {
		return err
	}
	l.mu.Lock()
	l.changes = append(l.changes, ch)
	l.mu.Unlock()
	return nil
}

func (l *stateLog) states() []conn.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]conn.State, len(l.changes))
	for i, ch := range l.changes {
		out[i] = ch.To
	}
	return out
}

func (l *stateLog) last() conn.StateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changes[len(l.changes)-1]
}

func newManager(t *testing.T, tr conn.Transport, opts conn.Options) (*conn.Manager, *router.Router) {
	t.Helper()
	r := router.New(discardLogger())
	opts.Logger = discardLogger()
	m := conn.New(tr, r, opts)
	t.Cleanup(func() {
		m.Disconnect()
		m.Wait()
	})
	return m, r
}

func waitState(t *testing.T, m *conn.Manager, want conn.State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state never became %s (is %s)", want, m.State())
}

func TestConnect_Idempotent(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{gate: gate}
	m, _ := newManager(t, tr, conn.Options{})

	require.NoError(t, m.Connect("tok", student))
	assert.Equal(t, conn.StateConnecting, m.State())
	for range 3 {
		require.NoError(t, m.Connect("tok", student))
	}

	close(gate)
	waitState(t, m, conn.StateConnected)
	require.NoError(t, m.Connect("tok", student))

	assert.Equal(t, 1, tr.Dials())
	assert.Equal(t, 1, tr.MaxOpen())
}

func TestConnect_IdentityChange(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr, conn.Options{})

	require.NoError(t, m.Connect("tok", student))
	err := m.Connect("tok", identity.Identity{UserID: "u2", Role: identity.RoleStudent})
	assert.ErrorIs(t, err, conn.ErrIdentityChange)
	assert.Equal(t, student, m.Identity())
}

func TestConnect_Validation(t *testing.T) {
	m, _ := newManager(t, &fakeTransport{}, conn.Options{})

	assert.ErrorIs(t, m.Connect("", student), conn.ErrMissingToken)
	assert.ErrorIs(t, m.Connect("tok", identity.Identity{Role: identity.RoleStudent}), identity.ErrMissingUserID)
	assert.ErrorIs(t, m.Connect("tok", identity.Identity{UserID: "x", Role: "TEACHER"}), identity.ErrUnknownRole)
	assert.Equal(t, conn.StateDisconnected, m.State())
}

func TestConnect_AnnouncesChannel(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr, conn.Options{})

	require.NoError(t, m.Connect("tok", admin))
	waitState(t, m, conn.StateConnected)

	require.Eventually(t, func() bool { return len(tr.last().sent()) == 2 }, time.Second, 5*time.Millisecond)
	sent := tr.last().sent()
	assert.Equal(t, events.JoinChannel, sent[0].Event)
	assert.JSONEq(t, `{"channel":"admin","userId":"a1","role":"ADMIN"}`, string(sent[0].Data))
	assert.Equal(t, events.UserLogin, sent[1].Event)
}

func TestSessionTelemetry(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr, conn.Options{ReconnectDelay: time.Millisecond})

	require.NoError(t, m.Connect("tok", student))
	waitState(t, m, conn.StateConnected)
	first := tr.last()
	require.Eventually(t, func() bool { return len(first.sent()) == 2 }, time.Second, 5*time.Millisecond)
	login := first.sent()[1]
	assert.Equal(t, events.UserLogin, login.Event)
	assert.JSONEq(t, `{"userName":"u1"}`, string(login.Data))

	// a reconnect is not a new login
	first.Close()
	require.Eventually(t, func() bool { return tr.Dials() == 2 && m.State() == conn.StateConnected }, 2*time.Second, 5*time.Millisecond)
	second := tr.last()
	require.Eventually(t, func() bool { return len(second.sent()) >= 1 }, time.Second, 5*time.Millisecond)

	m.Disconnect()
	m.Wait()

	var names []string
	for _, env := range second.sent() {
		names = append(names, env.Event)
	}
	assert.Equal(t, []string{events.JoinChannel, events.UserLogout}, names)
	logout := second.sent()[1]
	assert.JSONEq(t, `{"userName":"u1"}`, string(logout.Data))
}

func TestDisconnect_NoLogoutWhileReconnecting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{}
	m, _ := newManager(t, tr, conn.Options{Clock: clock})

	require.NoError(t, m.Connect("tok", student))
	waitState(t, m, conn.StateConnected)
	c := tr.last()
	require.Eventually(t, func() bool { return len(c.sent()) == 2 }, time.Second, 5*time.Millisecond)

	tr.setFail(refuse)
	c.Close()
	clock.BlockUntil(1)

	m.Disconnect()
	m.Wait()
	assert.Len(t, c.sent(), 2)
}

func TestInboundDispatch(t *testing.T) {
	tr := &fakeTransport{}
	m, r := newManager(t, tr, conn.Options{})

	got := make(chan events.Event, 4)
	r.On(events.BookingCreated, func(ev events.Event) error {
		got <- ev
		return nil
	})

	require.NoError(t, m.Connect("tok", admin))
	waitState(t, m, conn.StateConnected)
	require.Eventually(t, func() bool { return len(tr.last().sent()) == 2 }, time.Second, 5*time.Millisecond)

	spoofed := 0
	r.On(events.ConnectionState, func(events.Event) error {
		spoofed++
		return nil
	})

	c := tr.last()
	c.in <- []byte("not json")
	c.in <- []byte(`{"event":"connection-state","data":{"from":"connected","to":"failed"}}`)
	c.in <- []byte(`{"event":"booking-created","data":{"userName":"Asha"}}`)

	select {
	case ev := <-got:
		var p events.UserActivity
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, "Asha", p.UserName)
	case <-time.After(2 * time.Second):
		t.Fatal("booking-created never dispatched")
	}
	assert.Equal(t, 0, spoofed)
	assert.Empty(t, got)
}

func TestReconnect_CapReachesFailed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{}
	status := &statusRecorder{}
	m, r := newManager(t, tr, conn.Options{Clock: clock, Status: status})

	log := &stateLog{}
	r.On(events.ConnectionState, log.handle)

	require.NoError(t, m.Connect("tok", student))
	waitState(t, m, conn.StateConnected)

	tr.setFail(refuse)
	tr.last().Close()

	for i := 1; i <= conn.DefaultMaxReconnectAttempts; i++ {
		clock.BlockUntil(1)
		assert.Equal(t, i, m.ReconnectAttempt())
		assert.Equal(t, conn.StateReconnecting, m.State())
		clock.Advance(conn.DefaultReconnectDelay)
	}
	waitState(t, m, conn.StateFailed)
	m.Wait()

	assert.Equal(t, 1+conn.DefaultMaxReconnectAttempts, tr.Dials())
	assert.Equal(t, conn.DefaultMaxReconnectAttempts, m.ReconnectAttempt())
	lost, restored := status.counts()
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, restored)

	clock.Advance(time.Minute)
	assert.Equal(t, 1+conn.DefaultMaxReconnectAttempts, tr.Dials())

	assert.Equal(t, []conn.State{
		conn.StateConnecting,
		conn.StateConnected,
		conn.StateReconnecting,
		conn.StateReconnecting,
		conn.StateReconnecting,
		conn.StateReconnecting,
		conn.StateReconnecting,
		conn.StateFailed,
	}, log.states())
	assert.Contains(t, log.last().Error, "connection refused")
}

func TestReconnect_InitialFailuresSingleNotice(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{fail: refuse}
	status := &statusRecorder{}
	m, _ := newManager(t, tr, conn.Options{Clock: clock, Status: status})

	require.NoError(t, m.Connect("tok", student))
	for range conn.DefaultMaxReconnectAttempts {
		clock.BlockUntil(1)
		clock.Advance(conn.DefaultReconnectDelay)
	}
	waitState(t, m, conn.StateFailed)
	m.Wait()

	lost, _ := status.counts()
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, tr.Open())
}

func TestReconnect_RestoredAfterFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{fail: refuse}
	status := &statusRecorder{}
	m, r := newManager(t, tr, conn.Options{Clock: clock, Status: status, MaxReconnectAttempts: 2})

	log := &stateLog{}
	r.On(events.ConnectionState, log.handle)

	require.NoError(t, m.Connect("tok", student))
	for range 2 {
		clock.BlockUntil(1)
		clock.Advance(conn.DefaultReconnectDelay)
	}
	waitState(t, m, conn.StateFailed)
	m.Wait()

	tr.setFail(nil)
	require.NoError(t, m.Connect("tok", student))
	waitState(t, m, conn.StateConnected)

	require.Eventually(t, func() bool {
		_, restored := status.counts()
		return restored == 1
	}, time.Second, 5*time.Millisecond)
	lost, _ := status.counts()
	assert.Equal(t, 1, lost)
	assert.True(t, log.last().Recovered)
	assert.Equal(t, 0, m.ReconnectAttempt())
}

func TestReconnect_RestoredAfterDrop(t *testing.T) {
	tr := &fakeTransport{}
	status := &statusRecorder{}
	m, _ := newManager(t, tr, conn.Options{ReconnectDelay: time.Millisecond, Status: status})

	require.NoError(t, m.Connect("tok", student))
	waitState(t, m, conn.StateConnected)
	first := tr.last()
	require.Eventually(t, func() bool { return len(first.sent()) == 2 }, time.Second, 5*time.Millisecond)

	first.Close()

	require.Eventually(t, func() bool {
		_, restored := status.counts()
		return restored == 1
	}, 2*time.Second, 5*time.Millisecond)
	waitState(t, m, conn.StateConnected)

	assert.Equal(t, 2, tr.Dials())
	second := tr.last()
	assert.NotSame(t, first, second)
	require.Len(t, second.sent(), 1)
	assert.Equal(t, events.JoinChannel, second.sent()[0].Event)

	lost, _ := status.counts()
	assert.Equal(t, 0, lost)
}

func TestReconnect_FirstConnectAfterRetryNotRestored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{fail: func(n int) error {
		if n == 1 {
			return refuse(n)
		}
		return nil
	}}
	status := &statusRecorder{}
	m, r := newManager(t, tr, conn.Options{Clock: clock, Status: status})

	log := &stateLog{}
	r.On(events.ConnectionState, log.handle)

	require.NoError(t, m.Connect("tok", student))
	clock.BlockUntil(1)
	clock.Advance(conn.DefaultReconnectDelay)
	waitState(t, m, conn.StateConnected)
	require.Eventually(t, func() bool { return len(tr.last().sent()) == 2 }, time.Second, 5*time.Millisecond)

	lost, restored := status.counts()
	assert.Zero(t, lost)
	assert.Zero(t, restored, "first connect of a session is not a restore")
	assert.False(t, log.last().Recovered)
}

func TestConnect_DoesNotBlockOnStateHandlers(t *testing.T) {
	tr := &fakeTransport{}
	m, r := newManager(t, tr, conn.Options{})

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	entered := make(chan struct{}, 1)
	r.On(events.ConnectionState, func(events.Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	returned := make(chan error, 1)
	go func() { returned <- m.Connect("tok", student) }()
	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Connect waited for a state handler")
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("connecting state never dispatched")
	}
	unblock()
	waitState(t, m, conn.StateConnected)
}

func TestDisconnect_AbortsRetry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{fail: refuse}
	status := &statusRecorder{}
	m, _ := newManager(t, tr, conn.Options{Clock: clock, Status: status})

	require.NoError(t, m.Connect("tok", student))
	clock.BlockUntil(1)
	require.Equal(t, conn.StateReconnecting, m.State())

	m.Disconnect()
	m.Wait()

	assert.Equal(t, conn.StateDisconnected, m.State())
	assert.Equal(t, 0, m.ReconnectAttempt())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, tr.Dials())
	lost, restored := status.counts()
	assert.Zero(t, lost)
	assert.Zero(t, restored)
}

func TestDisconnect_IdempotentAndResetsHandlers(t *testing.T) {
	tr := &fakeTransport{}
	m, r := newManager(t, tr, conn.Options{})

	m.Disconnect()

	r.On(events.BookingCreated, func(events.Event) error { return nil })
	require.NoError(t, m.Connect("tok", student))
	waitState(t, m, conn.StateConnected)

	m.Disconnect()
	m.Disconnect()
	m.Wait()

	assert.Equal(t, conn.StateDisconnected, m.State())
	assert.Zero(t, r.Count(events.BookingCreated))
	assert.Zero(t, tr.Open())

	// A fresh identity is accepted after disconnecting.
	require.NoError(t, m.Connect("tok", admin))
	waitState(t, m, conn.StateConnected)
	assert.Equal(t, admin, m.Identity())
}

func TestEmit(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newManager(t, tr, conn.Options{})

	err := m.Emit(events.UserLogin, events.UserActivity{UserName: "Asha"})
	assert.ErrorIs(t, err, conn.ErrNotConnected)

	require.NoError(t, m.Connect("tok", student))
	waitState(t, m, conn.StateConnected)
	require.NoError(t, m.Emit(events.SendNotification, events.OutgoingNotification{UserID: "u2", Message: "hi"}))

	require.Eventually(t, func() bool { return len(tr.last().sent()) == 3 }, time.Second, 5*time.Millisecond)
	var names []string
	for _, env := range tr.last().sent() {
		names = append(names, env.Event)
	}
	assert.ElementsMatch(t, []string{events.JoinChannel, events.UserLogin, events.SendNotification}, names)
}
