package signal

import (
	"strconv"
	"strings"
)

// Protocol constants shared with every signaling client.
const (
	// ProtocolVersion is the signaling protocol revision. Frames that carry a
	// different non-empty protocol_version are rejected with E_BAD_VERSION.
	ProtocolVersion = "4.0"

	// RoomMaxPeers caps sync room membership: one PC paired with one app.
	RoomMaxPeers = 2

	// DashboardRoom is the observer room. Its members receive monitoring
	// events and never count toward sync room capacity.
	DashboardRoom = "dashboard_room"

	// DefaultProbeTimeoutMS bounds a LAN reachability probe round-trip.
	DefaultProbeTimeoutMS = 1200

	// DefaultProbeTTLMS applies when a PC does not say how long its probe
	// endpoint stays valid.
	DefaultProbeTTLMS = 30000
)

// Event types for client -> server
const (
	EventJoin              = "join"
	EventLeave             = "leave"
	EventPeerNetworkUpdate = "peer_network_update"
	EventLANProbeResult    = "lan_probe_result"
	EventClipboardPush     = "clipboard_push"
	EventFilePush          = "file_push"
	EventFileAnnouncement  = "file_announcement"
	EventFileAck           = "file_ack"
	EventFileRequestRelay  = "file_request_relay"
	EventFileAvailable     = "file_available"
	EventFileSyncCompleted = "file_sync_completed"
	EventFileNeedRelay     = "file_need_relay"
)

// Event types for server -> client
const (
	EventStatus             = "status"
	EventError              = "error"
	EventClipboardSync      = "clipboard_sync"
	EventFileSync           = "file_sync"
	EventRoomStats          = "room_stats"
	EventRoomStateChanged   = "room_state_changed"
	EventPeerEvicted        = "peer_evicted"
	EventLANProbeRequest    = "lan_probe_request"
	EventTransferCommand    = "transfer_command"
	EventActivityLog        = "activity_log"
	EventClientListUpdate   = "client_list_update"
	EventServerStats        = "server_stats"
	EventRoomStatesSnapshot = "room_states_snapshot"
)

// Wire error codes carried in error frames.
const (
	ErrCodeBadSchema     = "E_BAD_SCHEMA"
	ErrCodeBadVersion    = "E_BAD_VERSION"
	ErrCodeRoleDenied    = "E_ROLE_DENIED"
	ErrCodeProbeStale    = "E_PROBE_STALE"
	ErrCodeTransferState = "E_TRANSFER_STATE"
)

// Room pairing states reported through room_state_changed.
const (
	RoomStateEmpty       = "EMPTY"
	RoomStateSingle      = "SINGLE"
	RoomStatePairSameLAN = "PAIR_SAME_LAN"
	RoomStatePairDiffLAN = "PAIR_DIFF_LAN"
	RoomStatePairUnknown = "PAIR_UNKNOWN"
	RoomStateUnknown     = "UNKNOWN"
)

// LAN confidence levels attached to a room state.
const (
	LANConfidenceNone      = "none"
	LANConfidenceConfirmed = "confirmed"
)

// Probe result statuses. Anything else a client reports is coerced to fail.
const (
	ProbeStatusOK      = "ok"
	ProbeStatusFail    = "fail"
	ProbeStatusTimeout = "timeout"
)

// Transfer lifecycle statuses.
const (
	TransferStatusCreated           = "created"
	TransferStatusWaitingResult     = "waiting_result"
	TransferStatusOffered           = "offered"
	TransferStatusLANSuccess        = "lan_success"
	TransferStatusCompleted         = "completed"
	TransferStatusRelayUploading    = "relay_uploading"
	TransferStatusFallbackRequested = "fallback_requested"
	TransferStatusFallbackTimeout   = "fallback_timeout"
)

// Transfer command actions sent to the file sender.
const (
	TransferActionUploadRelay = "upload_relay"
	TransferActionFinish      = "finish"
)

// DefaultActivityType replaces activity types outside the allowed set.
const DefaultActivityType = "api_relay"

var allowedActivityTypes = map[string]struct{}{
	"clipboard":           {},
	"file":                {},
	"api_relay":           {},
	"file_announcement":   {},
	"file_ack":            {},
	"file_request_relay":  {},
	"file_available":      {},
	"file_sync_completed": {},
	"file_need_relay":     {},
	"room_state_changed":  {},
	"peer_evicted":        {},
	"lan_probe_request":   {},
	"lan_probe_result":    {},
	"peer_network_update": {},
	"transfer_command":    {},
	"transfer_state":      {},
}

// NormalizeActivityType maps unrecognized activity types to the default.
func NormalizeActivityType(activityType string) string {
	if _, ok := allowedActivityTypes[activityType]; ok {
		return activityType
	}
	return DefaultActivityType
}

var appClientTypes = map[string]struct{}{
	"app": {}, "android": {}, "ios": {},
}

var pcClientTypes = map[string]struct{}{
	"pc": {}, "windows": {}, "macos": {}, "linux": {}, "cli": {}, "web": {},
}

// NormalizeClientType lowercases and trims a client_type tag. The empty
// string is returned as-is so callers can tell "missing" from "unknown".
func NormalizeClientType(clientType string) string {
	return strings.ToLower(strings.TrimSpace(clientType))
}

// IsAppClientType reports whether the tag names a mobile app peer.
func IsAppClientType(clientType string) bool {
	_, ok := appClientTypes[NormalizeClientType(clientType)]
	return ok
}

// IsPCClientType reports whether the tag names a desktop peer.
func IsPCClientType(clientType string) bool {
	_, ok := pcClientTypes[NormalizeClientType(clientType)]
	return ok
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// JoinPayload registers a socket, optionally binding it to a client identity
// and a room. Network and probe metadata ride along on reconnects.
type JoinPayload struct {
	Room       string                 `json:"room"`
	ClientID   string                 `json:"client_id"`
	ClientType string                 `json:"client_type"`
	DeviceName string                 `json:"device_name"`
	Network    map[string]interface{} `json:"network"`
	Probe      map[string]interface{} `json:"probe"`
	PushToken  string                 `json:"push_token"`
}

// LeavePayload detaches the socket from a room.
type LeavePayload struct {
	Room string `json:"room"`
}

// NetworkUpdatePayload refreshes a client's network identity mid-session.
type NetworkUpdatePayload struct {
	Room     string                 `json:"room"`
	ClientID string                 `json:"client_id"`
	Network  map[string]interface{} `json:"network"`
}

// ProbeResultPayload reports the outcome of a LAN probe performed by the app.
type ProbeResultPayload struct {
	Room      string   `json:"room"`
	ProbeID   string   `json:"probe_id"`
	Result    string   `json:"result"`
	LatencyMS *float64 `json:"latency_ms"`
	Reason    string   `json:"reason"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload carries a wire error code back to the offending socket.
type ErrorPayload struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// StatusPayload is a human-readable acknowledgement.
type StatusPayload struct {
	Msg string `json:"msg"`
}

// PeerSummary describes one room member inside a room state payload.
type PeerSummary struct {
	ClientID     string `json:"client_id"`
	ClientType   string `json:"client_type"`
	DeviceName   string `json:"device_name"`
	JoinedAtMS   int64  `json:"joined_at_ms"`
	LastSeenMS   int64  `json:"last_seen_ms"`
	NetworkEpoch int64  `json:"network_epoch"`
}

// ProbeRecord is the last resolved probe for a room. LatencyMS stays null
// when the reporting client did not measure one.
type ProbeRecord struct {
	ProbeID     string   `json:"probe_id"`
	Status      string   `json:"status"`
	LatencyMS   *float64 `json:"latency_ms"`
	CheckedAtMS int64    `json:"checked_at_ms"`
	Reason      string   `json:"reason"`
}

// RoomStatePayload is broadcast on every membership or probe change.
type RoomStatePayload struct {
	ProtocolVersion string        `json:"protocol_version"`
	Room            string        `json:"room"`
	MaxPeers        int           `json:"max_peers"`
	State           string        `json:"state"`
	SameLAN         bool          `json:"same_lan"`
	LANConfidence   string        `json:"lan_confidence"`
	Peers           []PeerSummary `json:"peers"`
	LastProbe       *ProbeRecord  `json:"last_probe,omitempty"`
}

// RoomStatsPayload is a lightweight membership snapshot for room members.
type RoomStatsPayload struct {
	Count   int      `json:"count"`
	Room    string   `json:"room"`
	Clients []string `json:"clients"`
}

// EvictionPayload notifies a client it was removed from a room.
type EvictionPayload struct {
	ProtocolVersion string `json:"protocol_version"`
	Room            string `json:"room"`
	EvictedClientID string `json:"evicted_client_id"`
	Reason          string `json:"reason"`
	EvictedAtMS     int64  `json:"evicted_at_ms"`
}

// ProbeRequestPayload asks the app peer to probe the PC's LAN endpoint.
type ProbeRequestPayload struct {
	ProtocolVersion  string `json:"protocol_version"`
	Room             string `json:"room"`
	ProbeID          string `json:"probe_id"`
	ProviderClientID string `json:"provider_client_id"`
	ProbeURL         string `json:"probe_url"`
	TimeoutMS        int64  `json:"timeout_ms"`
	RequestedAtMS    int64  `json:"requested_at_ms"`
}

// TransferCommandPayload tells the file sender how to proceed.
type TransferCommandPayload struct {
	ProtocolVersion string `json:"protocol_version"`
	Room            string `json:"room"`
	TransferID      string `json:"transfer_id"`
	FileID          string `json:"file_id"`
	Action          string `json:"action"`
	Reason          string `json:"reason"`
	IssuedAtMS      int64  `json:"issued_at_ms"`
}

// NeedRelayPayload mirrors transfer_command upload_relay for older senders
// that only understand file_need_relay.
type NeedRelayPayload struct {
	ProtocolVersion string `json:"protocol_version"`
	Room            string `json:"room"`
	FileID          string `json:"file_id"`
	TransferID      string `json:"transfer_id"`
	Reason          string `json:"reason"`
	ReportedAtMS    int64  `json:"reported_at_ms"`
}

// ActivityEntry feeds the dashboard activity log.
type ActivityEntry struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	TSMS    int64  `json:"ts_ms"`
}

// ServerStatsPayload reports the tracked client count to observers.
type ServerStatsPayload struct {
	Clients int    `json:"clients"`
	Msg     string `json:"msg"`
}

// SessionSummary is one entry of a client_list_update snapshot.
type SessionSummary struct {
	SIDs          []string    `json:"sids"`
	Room          string      `json:"room"`
	Type          string      `json:"type"`
	DeviceName    string      `json:"device_name"`
	Network       NetworkMeta `json:"network"`
	RoomState     string      `json:"room_state"`
	SameLAN       bool        `json:"same_lan"`
	LANConfidence string      `json:"lan_confidence"`
}

// RoomStatesSnapshot seeds a freshly joined observer with every room's state.
type RoomStatesSnapshot struct {
	Rooms map[string]*RoomStatePayload `json:"rooms"`
}

// ============================================================================
// Loose payload access
// ============================================================================

// Payload is a loosely typed event body. Signaling clients send a few
// historical shapes, so pass-through handlers read fields through accessors
// instead of fixed structs.
type Payload map[string]interface{}

// Str returns the string at key, or "" when absent or not a string.
func (p Payload) Str(key string) string {
	v, _ := p[key].(string)
	return v
}

// StrOr returns the trimmed string at key, or def when absent or blank.
func (p Payload) StrOr(key, def string) string {
	v := strings.TrimSpace(p.Str(key))
	if v == "" {
		return def
	}
	return v
}

// Int64 returns the integer at key, accepting JSON numbers and numeric
// strings, or def when the value is absent or unreadable.
func (p Payload) Int64(key string, def int64) int64 {
	switch v := p[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

// Float64Ptr returns a pointer to the number at key, or nil when absent or
// not numeric.
func (p Payload) Float64Ptr(key string) *float64 {
	if v, ok := p[key].(float64); ok {
		return &v
	}
	return nil
}

// Map returns the nested object at key, or nil.
func (p Payload) Map(key string) map[string]interface{} {
	v, _ := p[key].(map[string]interface{})
	return v
}

// Has reports whether key is present, regardless of its value.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// ParseSignalPayload unwraps the legacy nested envelope: clients may send the
// actual fields under a "data" object. Returns the inner object when present,
// otherwise the outer one.
func ParseSignalPayload(data Payload) Payload {
	if data == nil {
		return Payload{}
	}
	if inner, ok := data["data"].(map[string]interface{}); ok {
		return Payload(inner)
	}
	return data
}

// contextKeys are hoisted from the outer envelope into the flattened payload
// when the nested form omits them.
var contextKeys = []string{
	"room", "protocol_version", "transfer_id", "file_id",
	"sender_id", "filename", "method", "reason",
}

// flattenSignalPayload merges the outer envelope's routing keys into the
// parsed payload without overwriting inner values. The returned payload is a
// copy; the caller may mutate it freely.
func flattenSignalPayload(data Payload) Payload {
	parsed := ParseSignalPayload(data)
	payload := make(Payload, len(parsed)+2)
	for k, v := range parsed {
		payload[k] = v
	}
	for _, key := range contextKeys {
		if v, ok := data[key]; ok && !payload.Has(key) {
			payload[key] = v
		}
	}
	return payload
}
