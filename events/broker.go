package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Broker fans SSE-formatted messages out to registered dashboard clients.
type Broker struct {
	clients map[chan string]bool
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewBroker creates a broker. A nil logger disables logging.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		clients: make(map[chan string]bool),
		logger:  logger,
	}
}

// Register adds a new SSE client
func (b *Broker) Register(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	b.logger.Debug("SSE client connected", zap.Int("total", len(b.clients)))
}

// Unregister removes an SSE client and closes its channel
func (b *Broker) Unregister(client chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.clients[client] {
		return
	}
	delete(b.clients, client)
	close(client)
	b.logger.Debug("SSE client disconnected", zap.Int("total", len(b.clients)))
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends an event to all connected clients. Clients whose buffer is
// full miss the event.
func (b *Broker) Broadcast(eventType string, data any) {
	message, err := Format(eventType, data)
	if err != nil {
		b.logger.Warn("failed to marshal event data", zap.String("event", eventType), zap.Error(err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client <- message:
		default:
		}
	}

	b.logger.Debug("broadcast event", zap.String("event", eventType), zap.Int("clients", len(b.clients)))
}

// Format renders one SSE frame with a JSON data line.
func Format(eventType string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)), nil
}
