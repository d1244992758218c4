package game

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog/log"
)

type Client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// Hub fans round transitions out to connected websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Str("user_id", client.userID).Int("total", total).Msg("ws client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if client.conn != nil {
					client.conn.Close()
				}
				log.Debug().Str("user_id", client.userID).Int("total", len(h.clients)).Msg("ws client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			jsonMessage, err := json.Marshal(message)
			if err != nil {
				log.Error().Err(err).Msg("ws marshal failed")
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				go client.send(jsonMessage)
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends Run. It must be called at most once.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues a message for every client, dropping it if the queue is full.
func (h *Hub) Broadcast(message interface{}) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		log.Warn().Msg("ws broadcast channel full, dropping message")
		return false
	}
}

// RoundChanged broadcasts the public view of r as a "round_<status>" message.
func (h *Hub) RoundChanged(ctx context.Context, r Round) error {
	h.Broadcast(map[string]interface{}{
		"type": "round_" + strings.ToLower(string(r.Status)),
		"data": r.Public(),
	})
	return nil
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(message interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	var err error

	switch v := message.(type) {
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Msg("ws send marshal failed")
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("user_id", c.userID).Msg("ws write failed")
	}
}

// RegisterClient adds conn to the hub. Once the hub is stopped the
// connection is closed and nil is returned.
func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		conn:   conn,
		userID: userID,
	}
	select {
	case h.register <- client:
		return client
	case <-h.done:
		if conn != nil {
			conn.Close()
		}
		return nil
	}
}

// SendInitialState sends the rounds a new client should know about.
func (c *Client) SendInitialState(rounds []PublicRound) {
	c.send(map[string]interface{}{
		"type": "initial_state",
		"data": rounds,
	})
}

func (c *Client) Pong() {
	c.send(map[string]string{"type": "pong"})
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	var target *Client
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			target = client
			break
		}
	}
	h.mu.RUnlock()
	if target == nil {
		return
	}

	select {
	case h.unregister <- target:
	case <-h.done:
		h.mu.Lock()
		delete(h.clients, target)
		h.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	}
}
