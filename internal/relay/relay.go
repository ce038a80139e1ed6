// Package relay is a development event server. It authenticates clients,
// enforces channel membership and fans published events out to the members
// of a channel. It is not the portal's production server.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mockexam/livefeed/internal/channel"
	"github.com/mockexam/livefeed/internal/events"
)

type Config struct {
	Host      string
	Port      int
	JWTSecret string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	rooms   map[string]map[uuid.UUID]*client
}

func New(cfg Config, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[uuid.UUID]*client),
		rooms:   make(map[string]map[uuid.UUID]*client),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /api/publish", s.handlePublish)
	return jwtMiddleware(s.cfg.JWTSecret, []string{"/healthz"}, mux)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Publish sends one event to every member of channelName and returns how
// many clients it was queued for. Slow clients drop the event.
func (s *Server) Publish(channelName, name string, payload any) (int, error) {
	frame, err := events.Encode(name, payload)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.rooms[channelName] {
		select {
		case c.send <- frame:
			n++
		default:
			s.logger.Warn("relay: client send buffer full, dropping", "client", c.id, "event", name)
		}
	}
	return n, nil
}

// Members returns the number of clients joined to channelName.
func (s *Server) Members(channelName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[channelName])
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	for name, members := range s.rooms {
		delete(members, c.id)
		if len(members) == 0 {
			delete(s.rooms, name)
		}
	}
	s.mu.Unlock()
}

// join admits c to the channel its identity routes to. Repeated joins are
// harmless.
func (s *Server) join(c *client, req events.Join) error {
	want := channel.For(c.ident)
	if req.Channel != want.Name {
		return fmt.Errorf("%s may not join %q", c.ident, req.Channel)
	}
	s.mu.Lock()
	members, ok := s.rooms[want.Name]
	if !ok {
		members = make(map[uuid.UUID]*client)
		s.rooms[want.Name] = members
	}
	members[c.id] = c
	s.mu.Unlock()
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.Clients()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(s, ws, id)
	s.addClient(c)
	s.logger.Info("relay: client connected", "client", c.id, "identity", id.String())
	c.run()
}

type publishRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok || !id.Role.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var body publishRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Channel == "" || body.Event == "" {
		http.Error(w, "channel and event are required", http.StatusBadRequest)
		return
	}
	var payload any
	if len(body.Data) > 0 {
		payload = body.Data
	}
	n, err := s.Publish(body.Channel, body.Event, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"delivered": n})
}
