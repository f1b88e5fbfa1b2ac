package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/metrics"
	"github.com/clipboardpush/clipboard-push-server/internal/pubsub"
	"github.com/clipboardpush/clipboard-push-server/internal/signal"
)

// Dispatcher routes inbound socket traffic. *signal.Coordinator implements it.
type Dispatcher interface {
	HandleConnect(sid string)
	HandleDisconnect(sid string)
	Dispatch(sid, event string, payload json.RawMessage) bool
}

// Hub maintains the set of active sockets and their room subscriptions, and
// delivers coordinator traffic to them. It implements signal.Emitter; all of
// its sends are non-blocking.
type Hub struct {
	// Registered clients by socket id
	clients map[string]*Client

	// Room subscriptions: room name -> sid -> client
	rooms map[string]map[string]*Client

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Mutex for thread-safe access
	mu sync.RWMutex

	// Dependencies
	dispatcher Dispatcher
	bus        pubsub.PubSub
	logger     *zap.Logger
}

// NewHub creates a new Hub
func NewHub(bus pubsub.PubSub, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bus:        bus,
		logger:     logger,
	}
}

// SetDispatcher binds the inbound event router. Must be called before the hub
// serves traffic.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// Run starts the hub's main loop and the observer feed bridge. Observer
// messages published by the coordinator are forwarded to dashboard sockets.
func (h *Hub) Run(ctx context.Context) {
	sub, err := h.bus.Subscribe(ctx, pubsub.Topics.Observer(), h.forwardObserverEvent)
	if err != nil {
		h.logger.Error("observer subscription failed", zap.Error(err))
	} else {
		defer func() { _ = sub.Unsubscribe() }()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	h.clients[client.sid] = client
	h.mu.Unlock()

	metrics.ConnectedSockets.Inc()
	h.logger.Debug("client connected", zap.String("sid", client.sid))

	if h.dispatcher != nil {
		h.dispatcher.HandleConnect(client.sid)
	}
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.sid]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.sid)

	for _, room := range client.Rooms() {
		if members, ok := h.rooms[room]; ok {
			delete(members, client.sid)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	// client.send stays open: in-flight broadcasts may still hold the client.
	// The write pump exits through context cancellation instead.
	metrics.ConnectedSockets.Dec()
	h.logger.Debug("client disconnected", zap.String("sid", client.sid))

	if h.dispatcher != nil {
		h.dispatcher.HandleDisconnect(client.sid)
	}
}

// HandleMessage processes incoming WebSocket messages
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	if h.dispatcher == nil {
		return
	}
	if !h.dispatcher.Dispatch(client.sid, msg.Type, msg.Payload) {
		client.sendError(signal.ErrCodeBadSchema, "Unknown event type: "+msg.Type)
	}
}

// forwardObserverEvent bridges one observer bus message to dashboard sockets.
func (h *Hub) forwardObserverEvent(_ context.Context, msg *pubsub.Message) {
	h.ToRoom(signal.DashboardRoom, msg.Type, msg.Payload)
}

// =============================================================================
// signal.Emitter
// =============================================================================

// JoinRoom subscribes a socket to a room.
func (h *Hub) JoinRoom(sid, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[sid]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][sid] = client
	client.trackRoom(room)
}

// LeaveRoom unsubscribes a socket from a room.
func (h *Hub) LeaveRoom(sid, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[sid]
	if !ok {
		return
	}
	if members, ok := h.rooms[room]; ok {
		delete(members, sid)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.untrackRoom(room)
}

// ToSocket sends one event to one socket.
func (h *Hub) ToSocket(sid, event string, payload interface{}) {
	h.mu.RLock()
	client, ok := h.clients[sid]
	h.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error("failed to encode socket message", zap.Error(err), zap.String("event", event))
		return
	}
	_ = client.Send(msg)
}

// ToRoom sends one event to every socket in a room except the skipped ones.
func (h *Hub) ToRoom(room, event string, payload interface{}, skipSIDs ...string) {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}

	skip := make(map[string]struct{}, len(skipSIDs))
	for _, sid := range skipSIDs {
		skip[sid] = struct{}{}
	}

	// Copy clients to avoid holding lock during send
	clients := make([]*Client, 0, len(members))
	for sid, client := range members {
		if _, skipped := skip[sid]; skipped {
			continue
		}
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	msg, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error("failed to encode room message", zap.Error(err), zap.String("event", event))
		return
	}
	for _, client := range clients {
		_ = client.Send(msg)
	}
}

// =============================================================================
// Introspection
// =============================================================================

// ConnectionCount returns the number of registered sockets.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of sockets subscribed to a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
