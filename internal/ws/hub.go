package ws

import (
	"log"
	"sync"

	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
)

// Hub maintains the room-membership index: one logical room per
// conversation, plus the set of all connected clients for global
// broadcasts. The index is only mutated by join/leave; broadcasts iterate
// over a lock-scoped snapshot.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[int]map[*Client]bool
	clients map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[int]map[*Client]bool),
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the global set.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Join subscribes a client to a conversation room.
func (h *Hub) Join(conversationID int, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][client] = true
}

// Leave removes a client from a conversation room.
func (h *Hub) Leave(conversationID int, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// LeaveAll releases all room memberships of a client and drops it from
// the global set.
func (h *Hub) LeaveAll(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conversationID, conns := range h.rooms {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(h.clients, client)
}

// RoomSize reports how many clients are subscribed to a room.
func (h *Hub) RoomSize(conversationID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// BroadcastToRoom fans an event out to every client in the room. A write
// failure drops that client only; delivery to the rest continues.
func (h *Hub) BroadcastToRoom(conversationID int, event models.WSEvent) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[conversationID]))
	for client := range h.rooms[conversationID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.send(client, event)
	}
}

// BroadcastAll sends an event to every connected client.
func (h *Hub) BroadcastAll(event models.WSEvent) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.send(client, event)
	}
}

func (h *Hub) send(client *Client, event models.WSEvent) {
	if err := client.Send(event); err != nil {
		log.Printf("websocket write error user=%d conn=%s: %v", client.UserID, client.ConnID, err)
		observability.IncWSEvent("ws_error")
		client.Close()
		h.LeaveAll(client)
	}
}
