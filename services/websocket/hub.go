package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	fiberws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// conn abstracts the websocket connection so the same pumps serve both the
// gorilla (net/http) and Fiber transports. The two libraries share the frame
// type constants, so a single int works for message types.
type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	ReadMessage() (int, []byte, error)
	Close() error
}

// Hub tracks connected clients and fans messages out to them. Register,
// unregister, and broadcast all flow through Run's select loop.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

// Client is one websocket connection with its outbound queue.
type Client struct {
	hub    *Hub
	conn   conn
	send   chan []byte
	userID uint
}

// Message is the wire shape for server-pushed events.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	// Origin checks are handled by the CORS layer in front of this.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run owns the client set. It must be running before any client connects.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			logrus.Debugf("websocket client connected (user %d)", client.userID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			logrus.Debugf("websocket client disconnected (user %d)", client.userID)

		case data := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				client.trySend(data)
			}
			h.mutex.RUnlock()
		}
	}
}

// trySend queues data without blocking. A client whose buffer is full is
// considered dead and dropped.
func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		close(c.send)
		delete(c.hub.clients, c)
	}
}

// BroadcastToUser delivers a message to every connection owned by userID.
func (h *Hub) BroadcastToUser(userID uint, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("websocket marshal failed: %v", err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		if client.userID == userID {
			client.trySend(data)
		}
	}
}

// Broadcast delivers a message to all connected clients.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("websocket marshal failed: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logrus.Warn("websocket broadcast channel full, message dropped")
	}
}

// GetClientCount reports how many connections the hub is tracking.
func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades a net/http request and attaches it to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uint) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   wsConn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ServeFiberWS attaches an already-upgraded Fiber connection to the hub.
// The read pump runs on the calling goroutine because Fiber closes the
// connection when its handler returns.
func (h *Hub) ServeFiberWS(c *fiberws.Conn, userID uint) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("websocket fiber handler panic (user %d): %v", userID, r)
		}
	}()

	client := &Client{
		hub:    h,
		conn:   c,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
	}
	h.register <- client

	go client.writePump()
	client.readPump()
}

// writePump drains the send queue onto the connection and keeps the peer
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("websocket write pump panic (user %d): %v", c.userID, r)
		}
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logrus.Debugf("websocket write failed (user %d): %v", c.userID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames until the peer goes away. Traffic is
// server-push only, so frames are discarded; the read loop exists to service
// pongs and detect disconnects.
func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("websocket read pump panic (user %d): %v", c.userID, r)
		}
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Debugf("websocket closed unexpectedly (user %d): %v", c.userID, err)
			}
			return
		}
	}
}
