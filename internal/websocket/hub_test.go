package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/pubsub"
	"github.com/clipboardpush/clipboard-push-server/internal/signal"
)

// fakeDispatcher records coordinator calls made by the hub.
type fakeDispatcher struct {
	mu          sync.Mutex
	connects    []string
	disconnects []string
	dispatched  []string
	known       map[string]bool
}

func newFakeDispatcher(knownEvents ...string) *fakeDispatcher {
	known := make(map[string]bool, len(knownEvents))
	for _, e := range knownEvents {
		known[e] = true
	}
	return &fakeDispatcher{known: known}
}

func (d *fakeDispatcher) HandleConnect(sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects = append(d.connects, sid)
}

func (d *fakeDispatcher) HandleDisconnect(sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects = append(d.disconnects, sid)
}

func (d *fakeDispatcher) Dispatch(sid, event string, _ json.RawMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, sid+":"+event)
	return d.known[event]
}

func newTestHub(t *testing.T) (*Hub, *fakeDispatcher) {
	t.Helper()
	bus := pubsub.NewMemoryPubSub()
	t.Cleanup(func() { _ = bus.Close() })

	hub := NewHub(bus, zap.NewNop())
	dispatcher := newFakeDispatcher(signal.EventJoin, signal.EventClipboardPush)
	hub.SetDispatcher(dispatcher)
	return hub, dispatcher
}

// attach registers a client with the hub directly, bypassing the Run loop.
func attach(hub *Hub, sid string) *Client {
	client := &Client{
		hub:    hub,
		send:   make(chan []byte, 256),
		sid:    sid,
		rooms:  make(map[string]bool),
		logger: zap.NewNop(),
	}
	hub.handleRegister(client)
	return client
}

func receiveMessage(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case data := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	default:
		t.Fatal("no message queued")
		return Message{}
	}
}

// =============================================================================
// Registration
// =============================================================================

func TestHub_RegisterNotifiesDispatcher(t *testing.T) {
	hub, dispatcher := newTestHub(t)

	attach(hub, "s1")

	assert.Equal(t, 1, hub.ConnectionCount())
	assert.Equal(t, []string{"s1"}, dispatcher.connects)
}

func TestHub_UnregisterCleansRoomsAndNotifies(t *testing.T) {
	hub, dispatcher := newTestHub(t)

	client := attach(hub, "s1")
	hub.JoinRoom("s1", "R")
	require.Equal(t, 1, hub.RoomSize("R"))

	hub.handleUnregister(client)

	assert.Equal(t, 0, hub.ConnectionCount())
	assert.Equal(t, 0, hub.RoomSize("R"))
	assert.Equal(t, []string{"s1"}, dispatcher.disconnects)
}

func TestHub_UnregisterUnknownClientIgnored(t *testing.T) {
	hub, dispatcher := newTestHub(t)

	client := attach(hub, "s1")
	hub.handleUnregister(client)
	hub.handleUnregister(client)

	assert.Equal(t, []string{"s1"}, dispatcher.disconnects, "a second unregister must not re-notify")
}

// =============================================================================
// Emitter
// =============================================================================

func TestHub_ToSocketDeliversEnvelope(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attach(hub, "s1")

	hub.ToSocket("s1", signal.EventStatus, signal.StatusPayload{Msg: "Joined room: R"})

	msg := receiveMessage(t, client)
	assert.Equal(t, signal.EventStatus, msg.Type)
	assert.Contains(t, string(msg.Payload), "Joined room: R")
	assert.False(t, msg.Timestamp.IsZero())
}

func TestHub_ToSocketUnknownSIDIgnored(t *testing.T) {
	hub, _ := newTestHub(t)

	assert.NotPanics(t, func() {
		hub.ToSocket("ghost", signal.EventStatus, nil)
	})
}

func TestHub_ToRoomSkipsListedSIDs(t *testing.T) {
	hub, _ := newTestHub(t)
	sender := attach(hub, "s1")
	receiver := attach(hub, "s2")
	hub.JoinRoom("s1", "R")
	hub.JoinRoom("s2", "R")

	hub.ToRoom("R", signal.EventClipboardSync, map[string]string{"content": "x"}, "s1")

	msg := receiveMessage(t, receiver)
	assert.Equal(t, signal.EventClipboardSync, msg.Type)
	assert.Empty(t, sender.send, "the skipped socket receives nothing")
}

func TestHub_ToRoomOutsiderExcluded(t *testing.T) {
	hub, _ := newTestHub(t)
	member := attach(hub, "s1")
	outsider := attach(hub, "s2")
	hub.JoinRoom("s1", "R")

	hub.ToRoom("R", signal.EventRoomStats, signal.RoomStatsPayload{Count: 1, Room: "R"})

	assert.NotEmpty(t, member.send)
	assert.Empty(t, outsider.send)
}

func TestHub_LeaveRoomStopsDelivery(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attach(hub, "s1")
	hub.JoinRoom("s1", "R")
	hub.LeaveRoom("s1", "R")

	hub.ToRoom("R", signal.EventRoomStats, nil)

	assert.Empty(t, client.send)
	assert.False(t, client.IsInRoom("R"))
}

func TestHub_JoinRoomUnknownSIDIgnored(t *testing.T) {
	hub, _ := newTestHub(t)

	hub.JoinRoom("ghost", "R")
	assert.Equal(t, 0, hub.RoomSize("R"))
}

// =============================================================================
// Inbound routing
// =============================================================================

func TestHub_HandleMessageRoutesToDispatcher(t *testing.T) {
	hub, dispatcher := newTestHub(t)
	client := attach(hub, "s1")

	hub.HandleMessage(client, &Message{Type: signal.EventJoin, Payload: json.RawMessage(`{"room":"R"}`)})

	assert.Equal(t, []string{"s1:join"}, dispatcher.dispatched)
	assert.Empty(t, client.send, "known events produce no hub-level reply")
}

func TestHub_HandleMessageUnknownEventRejected(t *testing.T) {
	hub, _ := newTestHub(t)
	client := attach(hub, "s1")

	hub.HandleMessage(client, &Message{Type: "teleport"})

	msg := receiveMessage(t, client)
	assert.Equal(t, signal.EventError, msg.Type)
	assert.Contains(t, string(msg.Payload), "E_BAD_SCHEMA")
	assert.Contains(t, string(msg.Payload), "Unknown event type: teleport")
}

// =============================================================================
// Observer bridge
// =============================================================================

func TestHub_ForwardsObserverFeedToDashboard(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	t.Cleanup(func() { _ = bus.Close() })

	hub := NewHub(bus, zap.NewNop())
	hub.SetDispatcher(newFakeDispatcher())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	observer := attach(hub, "dash-1")
	hub.JoinRoom("dash-1", signal.DashboardRoom)

	// Run subscribes on its own goroutine; wait for the subscription to land.
	require.Eventually(t, func() bool {
		return bus.SubscriberCount(pubsub.Topics.Observer()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	payload, _ := json.Marshal(signal.ActivityEntry{Type: "clipboard", Room: "R", Sender: "pc_A"})
	err := bus.Publish(ctx, pubsub.Topics.Observer(), &pubsub.Message{
		Topic:   pubsub.Topics.Observer(),
		Type:    signal.EventActivityLog,
		Payload: payload,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(observer.send) > 0
	}, 2*time.Second, 10*time.Millisecond)

	msg := receiveMessage(t, observer)
	assert.Equal(t, signal.EventActivityLog, msg.Type)

	var entry signal.ActivityEntry
	require.NoError(t, json.Unmarshal(msg.Payload, &entry))
	assert.Equal(t, "clipboard", entry.Type)
	assert.Equal(t, "pc_A", entry.Sender)
}
