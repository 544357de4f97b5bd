package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of a websocket connection the manager writes to
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// ClientInfo holds information about a live event subscriber
type ClientInfo struct {
	ConnectionID  string
	SessionID     string // empty subscribes to every session
	RemoteAddr    string
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Conn          Conn
	mu            sync.RWMutex
	writeMu       sync.Mutex // websocket allows one concurrent writer
}

// UpdateLastHeardFrom updates the last activity timestamp
func (c *ClientInfo) UpdateLastHeardFrom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (c *ClientInfo) GetLastHeardFrom() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastHeardFrom
}

// Send writes one text frame
func (c *ClientInfo) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// Ping writes a ping control frame
func (c *ClientInfo) Ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Manager manages all live event subscribers
type Manager struct {
	clients   map[string]*ClientInfo // key: connection_id
	bySession map[string][]string    // key: session id, value: []connection_id
	mu        sync.RWMutex
	maxConns  int
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		clients:   make(map[string]*ClientInfo),
		bySession: make(map[string][]string),
		maxConns:  maxConnections,
	}
}

// Register adds a new subscriber
func (m *Manager) Register(connectionID, sessionID, remoteAddr string, conn Conn) (*ClientInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) >= m.maxConns {
		return nil, ErrMaxConnectionsReached
	}

	if _, exists := m.clients[connectionID]; exists {
		return nil, fmt.Errorf("connection ID %s already registered", connectionID)
	}

	now := time.Now()
	clientInfo := &ClientInfo{
		ConnectionID:  connectionID,
		SessionID:     sessionID,
		RemoteAddr:    remoteAddr,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}

	m.clients[connectionID] = clientInfo
	m.bySession[sessionID] = append(m.bySession[sessionID], connectionID)

	return clientInfo, nil
}

// Unregister removes a subscriber
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[connectionID]
	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	sessionID := client.SessionID
	if connIDs, ok := m.bySession[sessionID]; ok {
		for i, id := range connIDs {
			if id == connectionID {
				m.bySession[sessionID] = append(connIDs[:i], connIDs[i+1:]...)
				break
			}
		}
		if len(m.bySession[sessionID]) == 0 {
			delete(m.bySession, sessionID)
		}
	}

	delete(m.clients, connectionID)

	return nil
}

// Get retrieves client information by connection ID
func (m *Manager) Get(connectionID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[connectionID]
	return client, exists
}

// GetBySession retrieves the connection IDs subscribed to one session
func (m *Manager) GetBySession(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := m.bySession[sessionID]
	result := make([]string, len(connIDs))
	copy(result, connIDs)
	return result
}

// Recipients returns the subscribers of a session plus the catch-all ones
func (m *Manager) Recipients(sessionID string) []*ClientInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := append([]string(nil), m.bySession[""]...)
	if sessionID != "" {
		ids = append(ids, m.bySession[sessionID]...)
	}

	result := make([]*ClientInfo, 0, len(ids))
	for _, id := range ids {
		if client, ok := m.clients[id]; ok {
			result = append(result, client)
		}
	}
	return result
}

// UpdateActivity updates the last heard from timestamp for a connection
func (m *Manager) UpdateActivity(connectionID string) error {
	m.mu.RLock()
	client, exists := m.clients[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	client.UpdateLastHeardFrom()
	return nil
}

// GetInactiveConnections returns connection IDs that haven't been heard from in the given duration
func (m *Manager) GetInactiveConnections(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string

	for connID, client := range m.clients {
		if now.Sub(client.GetLastHeardFrom()) > timeout {
			inactive = append(inactive, connID)
		}
	}

	return inactive
}

// Count returns the total number of subscribers
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CountBySession returns the number of subscribers per session filter
func (m *Manager) CountBySession() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int)
	for sessionID, connIDs := range m.bySession {
		result[sessionID] = len(connIDs)
	}
	return result
}

// GetAllConnections returns all connection IDs
func (m *Manager) GetAllConnections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := make([]string, 0, len(m.clients))
	for connID := range m.clients {
		connIDs = append(connIDs, connID)
	}
	return connIDs
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalConnections: len(m.clients),
		UniqueSessions:   len(m.bySession),
		MaxConnections:   m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int `json:"total_connections"`
	UniqueSessions   int `json:"unique_sessions"`
	MaxConnections   int `json:"max_connections"`
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum connections reached"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
