package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/service/session"
)

// SessionSource streams session views of a charger.
type SessionSource interface {
	Subscribe(ctx context.Context, chargePointID string) (<-chan session.View, func(), error)
	Release(chargePointID string)
}

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub fans session views out to the websocket clients watching each charger.
// When the last client of a charger leaves, the charger is released.
type Hub struct {
	sessions SessionSource
	log      *zap.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	clients map[*Client]bool
	cancel  func()
}

type Client struct {
	hub           *Hub
	conn          Conn
	send          chan []byte
	chargePointID string
}

func NewHub(sessions SessionSource, log *zap.Logger) *Hub {
	return &Hub{
		sessions: sessions,
		log:      log,
		topics:   make(map[string]*topic),
	}
}

// Serve streams the views of chargePointID to conn until the client goes away.
func (h *Hub) Serve(ctx context.Context, conn Conn, chargePointID string) error {
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 16), chargePointID: chargePointID}
	if err := h.register(ctx, client); err != nil {
		conn.Close()
		return err
	}

	go client.writePump()
	client.readPump()
	return nil
}

// Clients returns the number of clients watching chargePointID.
func (h *Hub) Clients(chargePointID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[chargePointID]; ok {
		return len(t.clients)
	}
	return 0
}

func (h *Hub) register(ctx context.Context, c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[c.chargePointID]
	if !ok {
		views, cancel, err := h.sessions.Subscribe(ctx, c.chargePointID)
		if err != nil {
			return err
		}
		t = &topic{clients: make(map[*Client]bool), cancel: cancel}
		h.topics[c.chargePointID] = t
		go h.forward(c.chargePointID, t, views)
	}
	t.clients[c] = true

	h.log.Debug("Websocket client joined",
		zap.String("charge_point_id", c.chargePointID),
		zap.Int("clients", len(t.clients)),
	)
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	t, ok := h.topics[c.chargePointID]
	if !ok {
		h.mu.Unlock()
		return
	}
	// forward may already have dropped a slow client
	if t.clients[c] {
		delete(t.clients, c)
		close(c.send)
	}
	last := len(t.clients) == 0
	if last {
		delete(h.topics, c.chargePointID)
	}
	h.mu.Unlock()

	if last {
		t.cancel()
		h.sessions.Release(c.chargePointID)
		h.log.Info("Last websocket client left, charge point released",
			zap.String("charge_point_id", c.chargePointID))
	}
}

// forward broadcasts views of one topic until the subscription ends.
func (h *Hub) forward(chargePointID string, t *topic, views <-chan session.View) {
	for view := range views {
		message, err := json.Marshal(view)
		if err != nil {
			h.log.Error("Failed to encode session view", zap.Error(err))
			continue
		}

		h.mu.Lock()
		for client := range t.clients {
			select {
			case client.send <- message:
			default:
				// slow client, drop it
				close(client.send)
				delete(t.clients, client)
			}
		}
		h.mu.Unlock()
	}

	// Subscription closed by a release elsewhere: disconnect the clients.
	h.mu.Lock()
	if h.topics[chargePointID] == t {
		delete(h.topics, chargePointID)
	}
	for client := range t.clients {
		close(client.send)
		delete(t.clients, client)
	}
	h.mu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	for {
		// Clients only send control frames; reading detects disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
