package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/auth"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/broadcast"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	resolveTimeout = 10 * time.Second
)

var (
	ErrUnknownConnection = errors.New("hub: unknown connection")
	ErrSendBufferFull    = errors.New("hub: send buffer full")
)

// Router keeps the subscription state the hub edits on behalf of clients.
type Router interface {
	SetConnectionSubscriptions(connID string, userID int64, subs []domain.PanelSubscription)
	SubscribeToPanel(connID string, userID int64, panelID int64, gatewayID string)
	UnsubscribeFromPanel(connID string, panelID int64)
	RemoveConnection(connID string)
}

// ScopeResolver expands an enterprise into the panels a client should see.
type ScopeResolver interface {
	PanelsForEnterprise(ctx context.Context, enterpriseID int64) ([]domain.PanelSubscription, error)
}

type Options struct {
	Auth       auth.Authenticator
	Resolver   ScopeResolver
	SendBuffer int
}

type client struct {
	id       string
	conn     *websocket.Conn
	send     chan domain.Event
	done     chan struct{}
	once     sync.Once
	identity *auth.Identity
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub terminates client WebSocket connections. It is the EventSink for the
// broadcast router and forwards subscription requests to it.
type Hub struct {
	opts     Options
	log      zerolog.Logger
	router   Router
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

var _ broadcast.EventSink = (*Hub)(nil)

func New(opts Options, log zerolog.Logger) *Hub {
	if opts.Auth == nil {
		opts.Auth = auth.Anonymous{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{
		opts: opts,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// SetRouter wires the subscription router. It must be called before the
// hub serves connections.
func (h *Hub) SetRouter(r Router) { h.router = r }

// Send queues ev for connID without blocking.
func (h *Hub) Send(connID string, ev domain.Event) error {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return c.enqueue(ev)
}

func (c *client) enqueue(ev domain.Event) error {
	select {
	case <-c.done:
		return broadcast.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every open connection.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan domain.Event, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	if token := bearerToken(r); token != "" {
		if id, err := h.opts.Auth.Authenticate(token); err == nil {
			c.identity = &id
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("client connected")

	_ = c.enqueue(domain.Event{Type: domain.EventConnected, Data: c.id})
	go h.writePump(c)
	h.readPump(c)

	if h.router != nil {
		h.router.RemoveConnection(c.id)
	}
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.log.Debug().Str("conn_id", c.id).Msg("client disconnected")
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return r.Header.Get("Authorization")
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read failed")
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, errorEvent("malformed message"))
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) reply(c *client, ev domain.Event) {
	if err := c.enqueue(ev); err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.id).Str("event", ev.Type).Msg("reply dropped")
	}
}
