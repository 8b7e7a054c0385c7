package ws

import (
	"errors"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog/log"
	"github.com/serroba/textsync/internal/ot"
)

// ErrClientNotFound is returned by SendTo for unknown client IDs.
var ErrClientNotFound = errors.New("client not found")

// Hub tracks connected clients and the documents they are subscribed to.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// documents maps document ID to the set of subscribed client IDs
	documents map[string]mapset.Set[string]
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		documents: make(map[string]mapset.Set[string]),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
}

// Unregister removes a client from the hub and any document subscriptions.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if docID := client.DocID(); docID != "" {
		h.removeSubscriber(docID, client.ID)
	}

	delete(h.clients, client.ID)
}

// Subscribe adds a client to a document's broadcast list, leaving any
// previous document.
func (h *Hub) Subscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if oldDocID := client.DocID(); oldDocID != "" && oldDocID != docID {
		h.removeSubscriber(oldDocID, client.ID)
	}

	subscribers, ok := h.documents[docID]
	if !ok {
		subscribers = mapset.NewThreadUnsafeSet[string]()
		h.documents[docID] = subscribers
	}

	subscribers.Add(client.ID)
	client.SetDocID(docID)
}

// Unsubscribe removes a client from a document's broadcast list.
func (h *Hub) Unsubscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeSubscriber(docID, client.ID)

	if client.DocID() == docID {
		client.SetDocID("")
	}
}

// removeSubscriber must be called with h.mu held.
func (h *Hub) removeSubscriber(docID, clientID string) {
	subscribers, ok := h.documents[docID]
	if !ok {
		return
	}

	subscribers.Remove(clientID)

	if subscribers.Cardinality() == 0 {
		delete(h.documents, docID)
	}
}

// Broadcast sends a message to all clients subscribed to a document,
// except the sender (identified by excludeClientID). Messages are written
// in call order so every client observes revisions in sequence.
func (h *Hub) Broadcast(docID string, msg Message, excludeClientID string) {
	for _, client := range h.targets(docID, excludeClientID) {
		if err := client.Send(msg); err != nil {
			log.Warn().Err(err).
				Str("doc_id", docID).
				Str("client_id", client.ID).
				Msg("broadcast failed")
		}
	}
}

// BroadcastRecord is a convenience method for broadcasting a sequenced edit.
func (h *Hub) BroadcastRecord(docID string, revision uint64, rec ot.EditRecord, excludeClientID string) {
	h.Broadcast(docID, Message{
		Type: MessageTypeBroadcast,
		Payload: BroadcastPayload{
			DocID:    docID,
			Revision: revision,
			Record:   rec,
		},
	}, excludeClientID)
}

// SendTo delivers a message to one client.
func (h *Hub) SendTo(clientID string, msg Message) error {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}

	return client.Send(msg)
}

// Subscribers returns the distinct author IDs subscribed to a document,
// in lexicographic order.
func (h *Hub) Subscribers(docID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.documents[docID]
	if !ok {
		return nil
	}

	authors := mapset.NewThreadUnsafeSet[string]()

	subscribers.Each(func(clientID string) bool {
		if client, ok := h.clients[clientID]; ok {
			authors.Add(client.AuthorID)
		}

		return false
	})

	result := authors.ToSlice()
	slices.Sort(result)

	return result
}

// targets snapshots the recipients so sends happen outside the lock.
func (h *Hub) targets(docID, excludeClientID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.documents[docID]
	if !ok {
		return nil
	}

	ids := subscribers.ToSlice()
	slices.Sort(ids)

	clients := make([]*Client, 0, len(ids))

	for _, clientID := range ids {
		if clientID == excludeClientID {
			continue
		}

		if client, ok := h.clients[clientID]; ok {
			clients = append(clients, client)
		}
	}

	return clients
}

// ClientCount returns the number of clients subscribed to a document.
func (h *Hub) ClientCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if subscribers, ok := h.documents[docID]; ok {
		return subscribers.Cardinality()
	}

	return 0
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
