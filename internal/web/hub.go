package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smukkama/metarmap-console/internal/connection"
	"github.com/smukkama/metarmap-console/internal/protocol"
	"github.com/smukkama/metarmap-console/internal/timer"
)

// SweepTaskID keys the subscriber keepalive task on the scheduler
const SweepTaskID = "ws-sweep"

// Hub streams display events to websocket subscribers. It is an
// events.Publisher, so it sits in the fanout next to kafka and postgres.
type Hub struct {
	manager      *connection.Manager
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	idleTimeout  time.Duration
}

// NewHub creates a hub accepting up to maxConnections subscribers
func NewHub(maxConnections int) *Hub {
	return &Hub{
		manager: connection.NewManager(maxConnections),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the console is served to the local network only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
		idleTimeout:  90 * time.Second,
	}
}

// Start arms the keepalive sweep
func (h *Hub) Start(scheduler *timer.Scheduler) error {
	return scheduler.Every(SweepTaskID, h.pingInterval, h.Sweep)
}

// Publish sends an event to the subscribers of its session and to the
// subscribers of every session
func (h *Hub) Publish(ctx context.Context, event *protocol.Event) error {
	data, err := protocol.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	failed := 0
	for _, client := range h.manager.Recipients(event.SessionID) {
		if err := client.Send(data); err != nil {
			log.Printf("Dropping subscriber %s: %v", client.ConnectionID, err)
			h.drop(client)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to deliver event to %d subscribers", failed)
	}
	return nil
}

// ServeHTTP upgrades the request and keeps the subscriber until it goes away.
// ?session= narrows the stream to one kiosk session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	connectionID := uuid.New().String()
	client, err := h.manager.Register(connectionID, r.URL.Query().Get("session"), r.RemoteAddr, conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	log.Printf("Subscriber %s connected from %s", connectionID, r.RemoteAddr)

	conn.SetPongHandler(func(string) error {
		client.UpdateLastHeardFrom()
		return nil
	})

	// Subscribers never send anything we act on; reading drives the pong
	// handler and notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		client.UpdateLastHeardFrom()
	}

	h.drop(client)
	log.Printf("Subscriber %s disconnected", connectionID)
}

// Sweep pings every subscriber and drops the ones that stopped answering
func (h *Hub) Sweep() {
	for _, connID := range h.manager.GetInactiveConnections(h.idleTimeout) {
		if client, ok := h.manager.Get(connID); ok {
			log.Printf("Subscriber %s idle, closing", connID)
			h.drop(client)
		}
	}

	for _, connID := range h.manager.GetAllConnections() {
		if client, ok := h.manager.Get(connID); ok {
			h.ping(client)
		}
	}
}

func (h *Hub) ping(client *connection.ClientInfo) {
	if err := client.Ping(5 * time.Second); err != nil {
		h.drop(client)
	}
}

func (h *Hub) drop(client *connection.ClientInfo) {
	if err := h.manager.Unregister(client.ConnectionID); err != nil {
		return // already gone
	}
	client.Conn.Close()
}

// Stats returns subscriber statistics
func (h *Hub) Stats() connection.ManagerStats {
	return h.manager.Stats()
}
