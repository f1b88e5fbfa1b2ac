package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/metrics"
	"github.com/clipboardpush/clipboard-push-server/internal/pubsub"
)

// Emitter delivers events to connected sockets. The websocket hub implements
// it. Sends must never block: the coordinator calls the emitter while holding
// its lock.
type Emitter interface {
	JoinRoom(sid, room string)
	LeaveRoom(sid, room string)
	ToSocket(sid, event string, payload interface{})
	ToRoom(room, event string, payload interface{}, skipSIDs ...string)
}

// PushSender wakes a client's mobile devices when sync traffic arrives while
// their sockets are gone or backgrounded. Implementations must not block.
type PushSender interface {
	Register(clientID, token string)
	Notify(clientID string, data map[string]string)
}

// Options tune coordinator behavior. Zero values fall back to defaults.
type Options struct {
	// DebugEnabled turns on per-frame signal logging.
	DebugEnabled bool
	// DebugMaxChars truncates logged payloads. Default 800.
	DebugMaxChars int
	// DecisionTimeoutMS is the default transfer decision window. Default 10000.
	DecisionTimeoutMS int64
	// DecisionTimeoutMaxMS caps client-requested decision windows. Default 30000.
	DecisionTimeoutMaxMS int64
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Coordinator is the signaling brain: it tracks clients, rooms, LAN probes
// and transfer contexts, and reacts to socket events by emitting frames and
// observer updates. All tables live under one mutex; handlers run their full
// read-modify-emit cycle while holding it, which keeps emission order
// consistent with state order.
type Coordinator struct {
	emitter Emitter
	bus     pubsub.PubSub
	push    PushSender
	logger  *zap.Logger
	opts    Options

	mu sync.Mutex

	// Client tables, keyed by client_id.
	sessions    map[string]map[string]struct{}
	clientRooms map[string]string
	clientTypes map[string]string
	deviceNames map[string]string
	joinedAtMS  map[string]int64
	lastSeenMS  map[string]int64
	networkMeta map[string]NetworkMeta
	probeMeta   map[string]probeMeta

	// Room tables, keyed by room.
	roomOrder map[string][]string
	lastProbe map[string]*ProbeRecord

	// In-flight probes, keyed by probe_id.
	pendingProbes map[string]*pendingProbe

	// Transfers, keyed by transfer_id.
	transfers map[string]*transferContext

	observerCh chan *pubsub.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NetworkMeta is a client's self-reported network identity. Fields missing
// from an update keep their previous value.
type NetworkMeta struct {
	PrivateIP     string `json:"private_ip,omitempty"`
	CIDR          string `json:"cidr,omitempty"`
	NetworkIDHash string `json:"network_id_hash,omitempty"`
	NetworkEpoch  int64  `json:"network_epoch,omitempty"`
}

type probeMeta struct {
	probeURL   string
	probeTTLMS int64
}

type pendingProbe struct {
	room          string
	pcClientID    string
	appClientID   string
	requestedAtMS int64
	timeoutMS     int64
	resolved      bool
}

// NewCoordinator wires the signaling core. The push sender may be nil when
// push notifications are not configured.
func NewCoordinator(emitter Emitter, bus pubsub.PubSub, push PushSender, logger *zap.Logger, opts Options) *Coordinator {
	if opts.DebugMaxChars <= 0 {
		opts.DebugMaxChars = 800
	}
	if opts.DecisionTimeoutMS <= 0 {
		opts.DecisionTimeoutMS = 10000
	}
	if opts.DecisionTimeoutMaxMS <= 0 {
		opts.DecisionTimeoutMaxMS = 30000
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		emitter:       emitter,
		bus:           bus,
		push:          push,
		logger:        logger,
		opts:          opts,
		sessions:      make(map[string]map[string]struct{}),
		clientRooms:   make(map[string]string),
		clientTypes:   make(map[string]string),
		deviceNames:   make(map[string]string),
		joinedAtMS:    make(map[string]int64),
		lastSeenMS:    make(map[string]int64),
		networkMeta:   make(map[string]NetworkMeta),
		probeMeta:     make(map[string]probeMeta),
		roomOrder:     make(map[string][]string),
		lastProbe:     make(map[string]*ProbeRecord),
		pendingProbes: make(map[string]*pendingProbe),
		transfers:     make(map[string]*transferContext),
		observerCh:    make(chan *pubsub.Message, 256),
		ctx:           ctx,
		cancel:        cancel,
		now:           now,
	}

	c.wg.Add(1)
	go c.runObserverFeed()

	return c
}

// Close stops decision timers and the observer feed, then waits for them.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) nowMS() int64 {
	return c.now().UnixMilli()
}

// mintID builds "<prefix>_<now_ms>_<6 hex>" identifiers for probes and
// transfers.
func (c *Coordinator) mintID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s_%d_%s", prefix, c.nowMS(), suffix)
}

func (c *Coordinator) emitError(sid, code, msg string) {
	metrics.WireErrors.WithLabelValues(code).Inc()
	c.emitter.ToSocket(sid, EventError, ErrorPayload{Code: code, Msg: msg})
}

func (c *Coordinator) syncGauges() {
	metrics.TrackedClients.Set(float64(len(c.sessions)))
	metrics.ActiveRooms.Set(float64(len(c.roomOrder)))
}

// publishObserver hands an event to the observer feed without blocking. The
// feed is best-effort; when the buffer is full the event is dropped.
func (c *Coordinator) publishObserver(eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("Failed to marshal observer event", zap.String("type", eventType), zap.Error(err))
		return
	}
	msg := &pubsub.Message{
		Topic:   pubsub.Topics.Observer(),
		Type:    eventType,
		Payload: raw,
	}
	select {
	case c.observerCh <- msg:
	default:
		c.logger.Debug("Observer feed full, dropping event", zap.String("type", eventType))
	}
}

func (c *Coordinator) runObserverFeed() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.observerCh:
			if err := c.bus.Publish(c.ctx, msg.Topic, msg); err != nil {
				c.logger.Debug("Failed to publish observer event",
					zap.String("type", msg.Type),
					zap.Error(err))
			}
		}
	}
}

// notifyPushExcept wakes every room member except the sender. Delivery is
// fire-and-forget; the push service rate-limits and breakers internally.
func (c *Coordinator) notifyPushExcept(room, senderClientID string, data map[string]string) {
	if c.push == nil {
		return
	}
	for _, clientID := range c.roomClientIDs(room) {
		if clientID == senderClientID {
			continue
		}
		c.push.Notify(clientID, data)
	}
}
