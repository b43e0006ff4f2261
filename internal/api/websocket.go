package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"automacro/internal/events"
	"automacro/internal/logging"
	"automacro/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback by default and the token gates everything else.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Commander executes remote commands. *controller.Controller implements it.
type Commander interface {
	Execute(ctx context.Context, cmd protocol.CommandPayload) (any, error)
}

// WSManager handles WebSocket connections and broadcasting. It is an
// events.Sink: every bus event goes to each authenticated client.
type WSManager struct {
	cmd    Commander
	token  string
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	clients    map[*WebSocketClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	dropped    atomic.Uint64
}

// WebSocketClient is one connected client
type WebSocketClient struct {
	manager *WSManager
	conn    *websocket.Conn
	ip      string
	authed  atomic.Bool

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newWSManager(cmd Commander, token string, logger *logging.Logger) *WSManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSManager{
		cmd:        cmd,
		token:      token,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan protocol.Message, sendBuffer),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
	}
}

// Run serves registrations and broadcasts until ctx is done or the server
// closes.
func (m *WSManager) Run(ctx context.Context) {
	defer m.closeAll()
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			n := len(m.clients)
			m.clientsMu.Unlock()
			m.logger.Debug("ws client registered", "remote", client.ip, "clients", n)

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				client.close()
			}
			n := len(m.clients)
			m.clientsMu.Unlock()
			m.logger.Debug("ws client unregistered", "remote", client.ip, "clients", n)

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *WSManager) stop() { m.cancel() }

func (m *WSManager) closeAll() {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
	}
}

// Clients is the number of connected clients.
func (m *WSManager) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Dropped counts events not broadcast because the hub was backed up.
func (m *WSManager) Dropped() uint64 { return m.dropped.Load() }

// Handle queues a bus event for broadcast without blocking the bus.
func (m *WSManager) Handle(ev events.Event) {
	msg := protocol.NewEvent(string(ev.Type), ev.Time, ev.Payload)
	select {
	case m.broadcast <- msg:
	default:
		m.dropped.Add(1)
	}
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Warn("ws marshal failed", "event", message.Event, "error", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for client := range m.clients {
		if !client.authed.Load() {
			continue
		}
		if !client.enqueue(data) {
			// Slow consumer: drop it rather than stall every other client.
			client.close()
			delete(m.clients, client)
		}
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &WebSocketClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		ip:      r.RemoteAddr,
	}
	client.authed.Store(tokenOK(m.token, bearer(r)))

	select {
	case m.register <- client:
	case <-m.ctx.Done():
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *WebSocketClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WebSocketClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WebSocketClient) reply(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.manager.logger.Warn("ws marshal failed", "error", err)
		return
	}
	c.enqueue(data)
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.ctx.Done():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.logger.Debug("ws read error", "remote", c.ip, "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *WebSocketClient) handleMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.reply(protocol.NewResult("", nil, err))
		return
	}

	switch env.Type {
	case protocol.TypeAuth:
		auth, err := env.Auth()
		if err == nil && !tokenOK(c.manager.token, auth.Token) {
			err = errUnauthorized
		}
		if err == nil {
			c.authed.Store(true)
			c.manager.logger.Debug("ws client authenticated", "remote", c.ip, "client", auth.ClientName)
		}
		c.reply(protocol.NewResult(env.ID, nil, err))

	case protocol.TypePing:
		c.reply(protocol.Message{Type: protocol.TypePing, ID: env.ID, Time: time.Now().UTC()})

	case protocol.TypeCommand:
		if !c.authed.Load() {
			c.reply(protocol.NewResult(env.ID, nil, errUnauthorized))
			return
		}
		cmd, err := env.Command()
		if err != nil {
			c.reply(protocol.NewResult(env.ID, nil, err))
			return
		}
		// Commands such as record_stop touch storage; keep the read pump free.
		go func() {
			data, err := c.manager.cmd.Execute(c.manager.ctx, cmd)
			c.reply(protocol.NewResult(env.ID, data, err))
		}()

	default:
		c.reply(protocol.NewResult(env.ID, nil, errUnsupported(env.Type)))
	}
}
