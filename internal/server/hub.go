// Package server coordinates client registration, per-topic fan-out, and
// connection cleanup for the SafeChat WebSocket system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/safechat/internal/protocol"
)

var _ protocol.Gateway = (*Hub)(nil)

// Hub manages all WebSocket client connections and delivers protocol events
// to them. Clients are keyed by session id; each topic keeps the set of
// sessions subscribed to it. All maps are guarded by mutex.
type Hub struct {
	clients    map[string]*Client
	topics     map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates and initializes a new Hub instance. Run must be started
// before clients are registered.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		topics:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// Register hands client to the hub, which starts its pumps. It fails once the
// hub is shutting down.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return fmt.Errorf("register %s: hub is shutting down", client.session)
	}
}

// unregisterClient removes client through the event loop, or directly once
// the loop has exited.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.removeClient(client)
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			if !h.addClient(client) {
				h.log.Warn("Duplicate session registration rejected", "session", client.session)
				client.closeConnection()
				continue
			}

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.clients[client.session]; exists {
		return false
	}
	client.closed = false
	h.clients[client.session] = client
	h.log.Info("Client registered", "session", client.session, "identity", client.identity,
		"addr", client.addr, "clients", len(h.clients))
	return true
}

// removeClient drops client and its subscriptions and closes its send
// channel. Removing a client twice is a no-op.
func (h *Hub) removeClient(client *Client) bool {
	h.mutex.Lock()
	current, ok := h.clients[client.session]
	if !ok || current != client {
		h.mutex.Unlock()
		return false
	}
	h.detachLocked(client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.log.Info("Client unregistered", "session", client.session, "addr", client.addr, "clients", clientCount)
	return true
}

func (h *Hub) detachLocked(client *Client) {
	delete(h.clients, client.session)
	for topic, subscribers := range h.topics {
		if subscribers[client.session] == client {
			delete(subscribers, client.session)
		}
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
	client.closed = true
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if current, exists := h.clients[client.session]; !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Subscribe starts delivering topic broadcasts to sessionID.
func (h *Hub) Subscribe(_ context.Context, sessionID, topic string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return fmt.Errorf("subscribe %s: %w", sessionID, ErrClientNotFound)
	}
	subscribers, ok := h.topics[topic]
	if !ok {
		subscribers = make(map[string]*Client)
		h.topics[topic] = subscribers
	}
	subscribers[sessionID] = client
	return nil
}

// Unsubscribe stops delivering topic broadcasts to sessionID. Unknown
// sessions and topics are ignored.
func (h *Hub) Unsubscribe(_ context.Context, sessionID, topic string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, sessionID)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
	return nil
}

// BroadcastToTopic delivers event to every session subscribed to topic.
// Sessions whose send buffer is full are dropped.
func (h *Hub) BroadcastToTopic(_ context.Context, topic string, event protocol.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	clients := h.subscriberSnapshot(topic)
	h.log.Debug("Broadcasting event", "topic", topic, "type", event.Type, "targets", len(clients))

	clientsToRemove := h.broadcastToClients(clients, payload)
	h.removeFailedClients(clientsToRemove)
	return nil
}

// SendToSession delivers event to a single session.
func (h *Hub) SendToSession(_ context.Context, sessionID string, event protocol.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	h.mutex.RLock()
	client, ok := h.clients[sessionID]
	h.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", sessionID, ErrClientNotFound)
	}

	if !h.safeSend(client, payload) {
		h.removeFailedClients([]*Client{client})
		return fmt.Errorf("send to %s: buffer full or closed", sessionID)
	}
	return nil
}

// subscriberSnapshot returns a thread-safe snapshot of the clients subscribed
// to topic.
func (h *Hub) subscriberSnapshot(topic string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return lo.Values(h.topics[topic])
}

// broadcastToClients sends the payload to every client and returns the ones
// that could not take it.
func (h *Hub) broadcastToClients(clients []*Client, payload []byte) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeFailedClients removes clients that failed to receive messages and
// closes their channels. Their read pumps then run the disconnect path.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if current, exists := h.clients[client.session]; exists && current == client {
			h.detachLocked(client)
			channelsToClose = append(channelsToClose, client.send)
			h.log.Warn("Client removed due to full send buffer", "session", client.session, "addr", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of sessions subscribed to topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.topics[topic])
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.RLock()
	clients := lo.Values(h.clients)
	h.mutex.RUnlock()

	for _, client := range clients {
		client.closeConnection()
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
