// Package ws streams market snapshots to WebSocket clients: every snapshot
// refresh is rendered once and fanned out to all connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearhedge/futuresd/internal/domain"
	"github.com/clearhedge/futuresd/internal/market"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message. Clients
	// only ever send pongs and small control frames.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing frames per client.
	sendBufferSize = 64
)

// SnapshotSubscriber hands out a live feed of market snapshots.
type SnapshotSubscriber interface {
	Current() domain.Snapshot
	Subscribe() (<-chan domain.Snapshot, func())
}

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens in the CORS middleware.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans market snapshot frames out to connected WebSocket clients.
type Hub struct {
	snapshots  SnapshotSubscriber
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
}

// snapshotFrame is the JSON envelope pushed to clients on every refresh.
type snapshotFrame struct {
	Type    string          `json:"type"`
	Payload snapshotPayload `json:"payload"`
}

type snapshotPayload struct {
	IndexedBlock uint64          `json:"indexed_block"`
	UpdatedAt    string          `json:"updated_at"`
	Assets       []assetTickView `json:"assets"`
}

// assetTickView is the per-asset slice of a snapshot frame.
type assetTickView struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	State       string `json:"state"`
	Price       string `json:"price,omitempty"`
	SettlePrice string `json:"settle_price,omitempty"`
	MarketOpen  bool   `json:"market_open"`
}

// NewHub creates a Hub that renders frames from the given snapshot source.
func NewHub(snapshots SnapshotSubscriber, logger *slog.Logger) *Hub {
	return &Hub{
		snapshots:  snapshots,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run drives the hub: it consumes the snapshot subscription and manages
// client registration. The loop exits when the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	updates, cancel := h.snapshots.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			h.broadcast(renderFrame(snap, time.Now()))
		}
	}
}

// broadcast sends one frame to every connected client, dropping it for
// clients whose send buffer is full.
func (h *Hub) broadcast(frame []byte) {
	if frame == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping frame for slow client")
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection, sends the
// current snapshot immediately, and registers the client for updates.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.register <- c

	// Seed the connection so clients render without waiting a poll cycle.
	if frame := renderFrame(h.snapshots.Current(), time.Now()); frame != nil {
		select {
		case c.send <- frame:
		default:
		}
	}

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// renderFrame serialises a snapshot into the wire frame. An empty snapshot
// (never refreshed) renders to nil.
func renderFrame(snap domain.Snapshot, now time.Time) []byte {
	if snap.UpdatedAt.IsZero() {
		return nil
	}

	assets := make([]assetTickView, 0, len(snap.Assets))
	for _, a := range snap.Assets {
		view := assetTickView{
			ID:         a.ID,
			Symbol:     a.Currency.Symbol,
			State:      string(a.State(now)),
			MarketOpen: market.IsOpen(a.Hours, now),
		}
		if p, ok := snap.PriceOf(a.Currency); ok {
			view.Price = p.String()
		}
		if a.SettlePrice.IsPositive() {
			view.SettlePrice = a.SettlePrice.String()
		}
		assets = append(assets, view)
	}

	frame, err := json.Marshal(snapshotFrame{
		Type: "snapshot",
		Payload: snapshotPayload{
			IndexedBlock: snap.IndexedBlock,
			UpdatedAt:    snap.UpdatedAt.UTC().Format(time.RFC3339),
			Assets:       assets,
		},
	})
	if err != nil {
		return nil
	}
	return frame
}

// readPump drains the connection so ping/pong keepalive works; incoming
// frames carry no application meaning and are discarded.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection and sends
// periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
