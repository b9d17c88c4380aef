package main

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/engine"
	"github.com/itskum47/waitroom/queue_service/observability"
	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/store"
)

const (
	maxStreamConnections = 200
	statsInterval        = 2 * time.Second
)

// eventStats is one event's live occupancy as sent to dashboard clients.
type eventStats struct {
	EventID       string `json:"eventId"`
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	IsActive      bool   `json:"isActive"`
	ActiveUsers   int    `json:"activeUsers"`
	WaitingUsers  int    `json:"waitingUsers"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type statsFrame struct {
	Timestamp time.Time    `json:"timestamp"`
	Events    []eventStats `json:"events"`
}

// StatsHub owns the dashboard stream: a single collector gathers per-event
// occupancy every statsInterval, feeds the queue-depth gauges, and fans
// the frame out to connected clients. Single broadcaster pattern prevents
// N duplicate tickers.
type StatsHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	meta   store.MetaStore
	engine *engine.Engine
	health *resilience.Health
	log    zerolog.Logger
}

func NewStatsHub(meta store.MetaStore, eng *engine.Engine, health *resilience.Health, log zerolog.Logger) *StatsHub {
	return &StatsHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		meta:       meta,
		engine:     eng,
		health:     health,
		log:        log,
	}
}

// Run starts the hub's main loop.
func (h *StatsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStreamConnections {
				h.mu.Unlock()
				conn.Close()
				h.log.Warn().Int("max", maxStreamConnections).Msg("stream connection rejected, at capacity")
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			observability.StreamClients.Set(float64(total))
			h.log.Info().Int("total", total).Msg("stream client registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.StreamClients.Set(float64(total))
			h.log.Info().Int("total", total).Msg("stream client unregistered")

		case <-ticker.C:
			frame := h.collect(ctx)
			if frame != nil {
				h.broadcast(frame)
			}
		}
	}
}

// collect gathers per-event occupancy and updates the queue-depth gauges.
// Runs even with no clients connected so the gauges stay live.
func (h *StatsHub) collect(ctx context.Context) *statsFrame {
	if !h.health.QueueStoreUp() {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, statsInterval)
	defer cancel()

	events, err := h.meta.ListEvents(cctx)
	if err != nil {
		h.log.Debug().Err(err).Msg("stats collection skipped, event list unavailable")
		return nil
	}

	frame := &statsFrame{Timestamp: time.Now().UTC(), Events: make([]eventStats, 0, len(events))}
	for _, ev := range events {
		roster, err := h.engine.Roster(cctx, ev.ID)
		if err != nil {
			h.log.Debug().Err(err).Str("event_id", ev.ID).Msg("stats collection skipped for event")
			continue
		}
		observability.QueueDepth.WithLabelValues(ev.ID, "active").Set(float64(len(roster.Active)))
		observability.QueueDepth.WithLabelValues(ev.ID, "waiting").Set(float64(len(roster.Waiting)))
		frame.Events = append(frame.Events, eventStats{
			EventID:       ev.ID,
			Name:          ev.Name,
			Domain:        ev.Domain,
			IsActive:      ev.IsActive,
			ActiveUsers:   len(roster.Active),
			WaitingUsers:  len(roster.Waiting),
			TimeRemaining: roster.TimeRemaining,
		})
	}
	return frame
}

// broadcast sends the frame to every connected client.
func (h *StatsHub) broadcast(frame *statsFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		// Write deadline prevents blocking on dead connections.
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			h.log.Warn().Err(err).Msg("stream write failed")
			go h.Unregister(conn)
		}
	}
}

// shutdown closes all client connections.
func (h *StatsHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log.Info().Int("clients", len(h.clients)).Msg("shutting down stats stream")
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	observability.StreamClients.Set(0)
}

// Register adds a new client connection.
func (h *StatsHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *StatsHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *StatsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
