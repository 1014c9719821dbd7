// Package team — WebSocket hub for live downline stats.
package team

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nupips/team-engine/internal/metrics"
	"github.com/nupips/team-engine/internal/model"
	"github.com/nupips/team-engine/internal/rollup"
)

// subscribeMessage is the first message a client sends after connecting.
type subscribeMessage struct {
	UserID string `json:"user_id"`
}

// StatsMessage is a JSON message pushed to subscribed clients.
type StatsMessage struct {
	Type   string                `json:"type"`
	UserID string                `json:"user_id"`
	Stats  *model.AggregateStats `json:"stats"`
}

// StatsHub pushes periodic downline rollups to WebSocket subscribers so
// dashboards refresh without polling. Each subscriber names the root it
// watches; the hub aggregates once per distinct root per tick.
type StatsHub struct {
	agg      *rollup.Aggregator
	maxDepth int
	interval time.Duration

	mu      sync.RWMutex
	clients map[*websocket.Conn]string // conn → subscribed root ID
}

// NewStatsHub creates a hub that recomputes stats every interval.
func NewStatsHub(agg *rollup.Aggregator, maxDepth int, interval time.Duration) *StatsHub {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StatsHub{
		agg:      agg,
		maxDepth: maxDepth,
		interval: interval,
		clients:  make(map[*websocket.Conn]string),
	}
}

// Run starts the broadcast loop. Must be called in a goroutine; returns
// when ctx is cancelled.
func (h *StatsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *StatsHub) tick(ctx context.Context) {
	h.mu.RLock()
	roots := make(map[string][]*websocket.Conn)
	for conn, rootID := range h.clients {
		roots[rootID] = append(roots[rootID], conn)
	}
	h.mu.RUnlock()

	for rootID, conns := range roots {
		tctx, cancel := context.WithTimeout(ctx, h.interval)
		stats, err := h.agg.Aggregate(tctx, rootID, h.maxDepth)
		cancel()
		if err != nil {
			slog.Warn("live stats aggregation failed", "root", rootID, "err", err)
			continue
		}

		data, err := json.Marshal(StatsMessage{Type: "team_stats", UserID: rootID, Stats: stats})
		if err != nil {
			continue
		}
		for _, conn := range conns {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(conn)
			}
		}
	}
}

func (h *StatsHub) add(conn *websocket.Conn, rootID string) {
	h.mu.Lock()
	h.clients[conn] = rootID
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	slog.Info("ws client subscribed", "root", rootID, "total", total)
}

func (h *StatsHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
// The client must send {"user_id": "..."} as its first message.
func (h *StatsHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var sub subscribeMessage
	if err := conn.ReadJSON(&sub); err != nil || sub.UserID == "" {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected subscribe message"))
		conn.Close()
		return
	}

	h.add(conn, sub.UserID)

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer h.drop(conn)
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
