package ws

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrTooManyDashboards = errors.New("too many dashboard connections")

type Role string

const (
	RoleExperiment Role = "experiment"
	RoleDashboard  Role = "dashboard"
)

type client struct {
	id   string
	role Role
	conn *websocket.Conn
	hub  *Hub

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.Unregister(c)
			return
		}
	}
}

// trySend queues msg without blocking. Returns false when the client
// is closed or its buffer is full.
func (c *client) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// Hub tracks who is connected: the set of dashboard clients and the
// single authoritative experiment client. A new experiment connection
// silently supersedes the previous one; the old connection is neither
// closed nor notified, it just stops receiving control commands.
type Hub struct {
	mu            sync.RWMutex
	dashboards    map[*client]bool
	experiment    *client
	maxDashboards int
	sendBuffer    int
}

// NewHub creates a Hub. maxDashboards of 0 means unlimited; sendBuffer
// of 0 uses the default per-client buffer.
func NewHub(maxDashboards, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		dashboards:    make(map[*client]bool),
		maxDashboards: maxDashboards,
		sendBuffer:    sendBuffer,
	}
}

func (h *Hub) newClient(conn *websocket.Conn, role Role) *client {
	c := &client{
		id:   uuid.NewString(),
		role: role,
		conn: conn,
		hub:  h,
		send: make(chan []byte, h.sendBuffer),
	}
	go c.writePump()
	return c
}

// AddExperiment registers conn as the authoritative experiment
// connection, superseding any previous one.
func (h *Hub) AddExperiment(conn *websocket.Conn) *client {
	c := h.newClient(conn, RoleExperiment)

	h.mu.Lock()
	prev := h.experiment
	h.experiment = c
	h.mu.Unlock()

	if prev != nil {
		log.Printf("warning: new experiment connection %s replacing %s", c.id, prev.id)
	}
	return c
}

// AddDashboard registers conn as a dashboard observer.
func (h *Hub) AddDashboard(conn *websocket.Conn) (*client, error) {
	h.mu.Lock()
	if h.maxDashboards > 0 && len(h.dashboards) >= h.maxDashboards {
		h.mu.Unlock()
		return nil, ErrTooManyDashboards
	}
	c := h.newClient(conn, RoleDashboard)
	h.dashboards[c] = true
	h.mu.Unlock()
	return c, nil
}

// Unregister removes c from whichever registry holds it and closes its
// send channel. Idempotent; a superseded experiment connection does not
// clear the current one.
func (h *Hub) Unregister(c *client) {
	h.mu.Lock()
	if h.experiment == c {
		h.experiment = nil
	}
	delete(h.dashboards, c)
	h.mu.Unlock()
	c.close()
}

// Dashboards returns a snapshot of the connected dashboard clients.
func (h *Hub) Dashboards() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*client, 0, len(h.dashboards))
	for c := range h.dashboards {
		clients = append(clients, c)
	}
	return clients
}

// Experiment returns the current experiment client, or nil.
func (h *Hub) Experiment() *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.experiment
}

func (h *Hub) DashboardCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dashboards)
}

func (h *Hub) ExperimentConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.experiment != nil
}
