package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/rentscope/api/internal/model"
)

// Client is one websocket subscriber of a location's job feed.
type Client struct {
	LocationID string
	Conn       *websocket.Conn
	Send       chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend queues data without blocking and reports whether it was queued.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub fans job updates out to the subscribers of each location.
type Hub struct {
	// Clients grouped by location ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	log *zap.SugaredLogger
	mu  sync.RWMutex
}

type BroadcastMessage struct {
	LocationID string
	Message    []byte
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for loc, clients := range h.clients {
				for client := range clients {
					client.close()
				}
				delete(h.clients, loc)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.LocationID] == nil {
				h.clients[client.LocationID] = make(map[*Client]bool)
			}
			h.clients[client.LocationID][client] = true
			h.mu.Unlock()
			h.log.Debugw("websocket client registered", "locationId", client.LocationID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debugw("websocket client unregistered", "locationId", client.LocationID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.LocationID] {
				if !client.trySend(msg.Message) {
					// Slow consumer.
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.LocationID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	client.close()
	if len(clients) == 0 {
		delete(h.clients, client.LocationID)
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients watching a location.
func (h *Hub) Subscribers(locationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[locationID])
}

// JobUpdated broadcasts a job's new state to its location's subscribers.
// Updates are dropped when the broadcast queue is full.
func (h *Hub) JobUpdated(job *model.Job) {
	data, err := json.Marshal(model.JobUpdateMessage{
		Type: model.WSMessageTypeJobUpdate,
		Job:  job.Response(),
	})
	if err != nil {
		h.log.Errorw("failed to marshal job update", "jobId", job.ID, "error", err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{LocationID: job.LocationID, Message: data}:
	default:
		h.log.Warnw("websocket broadcast queue full, dropping job update", "jobId", job.ID)
	}
}

// HandleConnection serves one websocket connection until it closes.
func (h *Hub) HandleConnection(c *websocket.Conn, locationID string) {
	client := &Client{
		LocationID: locationID,
		Conn:       c,
		Send:       make(chan []byte, 256),
	}

	if !h.Register(client) {
		return
	}
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warnw("websocket read failed", "locationId", locationID, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.trySend(data)
		}
	}
}
