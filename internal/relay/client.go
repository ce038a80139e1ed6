package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mockexam/livefeed/internal/channel"
	"github.com/mockexam/livefeed/internal/events"
	"github.com/mockexam/livefeed/internal/identity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

type client struct {
	id     uuid.UUID
	ident  identity.Identity
	server *Server
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClient(s *Server, ws *websocket.Conn, id identity.Identity) *client {
	return &client{
		id:     uuid.New(),
		ident:  id,
		server: s,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// run blocks until the connection ends.
func (c *client) run() {
	go c.writeLoop()
	c.readLoop()
	c.close()
	c.server.removeClient(c)
	c.server.logger.Info("relay: client disconnected", "client", c.id)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *client) readLoop() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		ev, err := events.Parse(frame, time.Now())
		if err != nil {
			c.server.logger.Warn("relay: bad frame", "client", c.id, "err", err)
			continue
		}
		c.handle(ev)
	}
}

func (c *client) handle(ev events.Event) {
	logger := c.server.logger.With("client", c.id, "event", ev.Name)
	switch ev.Name {
	case events.JoinChannel:
		var req events.Join
		if err := ev.Decode(&req); err != nil {
			logger.Warn("relay: bad join", "err", err)
			return
		}
		if err := c.server.join(c, req); err != nil {
			logger.Warn("relay: join refused", "err", err)
			return
		}
		logger.Debug("relay: joined", "channel", req.Channel)

	case events.SendNotification:
		if !c.ident.Role.IsAdmin() {
			logger.Warn("relay: send-notification refused", "identity", c.ident.String())
			return
		}
		var req events.OutgoingNotification
		if err := ev.Decode(&req); err != nil || req.UserID == "" {
			logger.Warn("relay: bad send-notification", "err", err)
			return
		}
		n, _ := c.server.Publish(channel.User(req.UserID), events.Notification, events.NotificationPayload{
			Type:    req.Type,
			Message: req.Message,
		})
		logger.Debug("relay: notification routed", "user", req.UserID, "delivered", n)

	case events.UserLogin, events.UserLogout:
		c.server.Publish(channel.Admin, ev.Name, ev.Payload)

	default:
		logger.Debug("relay: ignoring client event")
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
