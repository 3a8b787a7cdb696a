package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spanstream/spanstream/pkg/extract"
	"github.com/spanstream/spanstream/pkg/session"
)

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	Aggregate    bool
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Aggregate    bool      `json:"aggregate"`
	Idle         bool      `json:"idle"`
}

// ExtractRequest is the one-shot extraction request body.
type ExtractRequest struct {
	Messages             []extract.Message `json:"messages"`
	ModelID              string            `json:"model_id,omitempty"`
	UseSchemaConstraints *bool             `json:"use_schema_constraints,omitempty"`
	MaxCharBuffer        int               `json:"max_char_buffer,omitempty"`
	Temperature          float64           `json:"temperature,omitempty"`
	ModelURL             string            `json:"model_url,omitempty"`
}

// ExtractResponse is the one-shot extraction response body. There is no
// delta here: a one-shot call has no prior state to diff against, so the
// full span list is returned.
type ExtractResponse struct {
	ModelID     string                `json:"model_id"`
	Text        string                `json:"text"`
	Extractions []session.SpanPayload `json:"extractions"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// ClientRegistry manages connected clients
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Add adds a client to the registry
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.ID] = client
}

// Remove removes a client from the registry
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)
}

// Get retrieves a client by ID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// UpdateActivity updates the last activity time for a client
func (r *ClientRegistry) UpdateActivity(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[clientID]; exists {
		client.LastActivity = time.Now()
	}
}

// IdleClients returns clients whose last activity is older than ttl.
func (r *ClientRegistry) IdleClients(ttl time.Duration) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-ttl)
	var idle []*Client
	for _, client := range r.clients {
		if client.LastActivity.Before(cutoff) {
			idle = append(idle, client)
		}
	}
	return idle
}

// GetConnectedClients returns client information for all connected clients
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))

	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:           client.ID,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: client.LastActivity,
			IPAddress:    client.IPAddress,
			Aggregate:    client.Aggregate,
			Idle:         now.Sub(client.LastActivity) > 5*time.Minute,
		})
	}

	return infos
}
