package sse

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/brandmarket/submission-hub/internal/domain/notification"
)

// Hub manages SSE clients and delivers creator notifications to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notification.SSEClient
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*notification.SSEClient),
	}
}

func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToUser sends to every client of userID and reports how many sends were dropped.
func (h *Hub) BroadcastToUser(userID string, message *notification.SSEMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for _, c := range h.clients {
		if c.UserID != nil && *c.UserID == userID {
			if !trySend(c, message) {
				dropped++
			}
		}
	}
	return dropped
}

// Notify implements notification.Notifier. Creators without an open stream are skipped.
func (h *Hub) Notify(_ context.Context, creatorID string, msg *notification.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if h.BroadcastToUser(creatorID, notification.NewSSEMessage(string(msg.Event), data)) > 0 {
		return notification.ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *notification.SSEClient, msg *notification.SSEMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
