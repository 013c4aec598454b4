package hub

import (
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/metrics"
	"context"
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
)

// Client is a single SSE connection. The stream handler reads encoded
// events from it until the hub closes it.
type Client chan []byte

// Hub fans committed chat events out to the SSE clients of each chat.
type Hub struct {
	chats map[uint]map[Client]bool
	mu    sync.RWMutex
	log   *log.Logger
}

// NewHub creates a new Hub.
func NewHub(l *log.Logger) *Hub {
	return &Hub{
		chats: make(map[uint]map[Client]bool),
		log:   l,
	}
}

// Subscribe adds a new client to a chat.
func (h *Hub) Subscribe(chatID uint, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.chats[chatID]; !ok {
		h.chats[chatID] = make(map[Client]bool)
	}
	h.chats[chatID][client] = true
	metrics.OpenStreams.Inc()
}

// Unsubscribe removes a client from a chat and closes its channel.
func (h *Hub) Unsubscribe(chatID uint, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.chats[chatID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client) // Close the channel to signal the SSE handler to stop.
			metrics.OpenStreams.Dec()
			if len(clients) == 0 {
				delete(h.chats, chatID)
			}
		}
	}
}

// Subscribers reports how many clients listen on a chat.
func (h *Hub) Subscribers(chatID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats[chatID])
}

// Publish implements events.Publisher. Events without a chat have no SSE
// audience and are dropped here.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	if ev.ChatID == 0 {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Broadcast(ev.ChatID, payload)
	return nil
}

// Broadcast sends an encoded event to all clients of a chat.
func (h *Hub) Broadcast(chatID uint, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.chats[chatID] {
		// Use a non-blocking send to prevent a slow client from blocking the hub.
		select {
		case client <- payload:
		default:
			h.log.Warn("dropping event for slow client", "chat_id", chatID)
		}
	}
}
