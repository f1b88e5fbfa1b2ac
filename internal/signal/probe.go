package signal

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/metrics"
)

// isValidPrivateProbeURL accepts only plain-HTTP URLs that point at a
// private IPv4 address. When the PC announced a private_ip the URL host must
// match it, so one peer cannot make the app probe someone else's box.
func isValidPrivateProbeURL(probeURL, expectedPrivateIP string) bool {
	if probeURL == "" {
		return false
	}
	u, err := url.Parse(probeURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	if !addr.Is4() {
		return false
	}
	if !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast() {
		return false
	}
	if expectedPrivateIP != "" && addr.String() != expectedPrivateIP {
		return false
	}
	return true
}

// updateNetworkMeta merges a network report into the client's stored
// identity. Absent keys keep their previous value. Callers must hold c.mu.
func (c *Coordinator) updateNetworkMeta(clientID string, data map[string]interface{}) {
	if data == nil {
		return
	}
	p := Payload(data)
	meta := c.networkMeta[clientID]
	if p.Has("private_ip") {
		meta.PrivateIP = p.Str("private_ip")
	}
	if p.Has("cidr") {
		meta.CIDR = p.Str("cidr")
	}
	if p.Has("network_id_hash") {
		meta.NetworkIDHash = p.Str("network_id_hash")
	}
	if p.Has("network_epoch") {
		meta.NetworkEpoch = p.Int64("network_epoch", meta.NetworkEpoch)
	}
	c.networkMeta[clientID] = meta
}

// updateProbeMeta merges a probe endpoint report. Callers must hold c.mu.
func (c *Coordinator) updateProbeMeta(clientID string, data map[string]interface{}) {
	if data == nil {
		return
	}
	p := Payload(data)
	meta := c.probeMeta[clientID]
	if meta.probeTTLMS == 0 {
		meta.probeTTLMS = DefaultProbeTTLMS
	}
	if p.Has("probe_url") {
		meta.probeURL = p.Str("probe_url")
	}
	if p.Has("probe_ttl_ms") {
		meta.probeTTLMS = p.Int64("probe_ttl_ms", meta.probeTTLMS)
	}
	c.probeMeta[clientID] = meta
}

// triggerLANProbeIfReady starts a reachability probe when the room holds a
// full PC+app pair. An unusable probe URL short-circuits straight to a
// failed probe record so the room settles in PAIR_DIFF_LAN instead of
// waiting forever. Callers must hold c.mu.
func (c *Coordinator) triggerLANProbeIfReady(room, reason string) {
	if room == "" {
		return
	}
	clients := c.roomClientIDs(room)
	if len(clients) != 2 {
		return
	}

	var pcClientID, appClientID string
	for _, clientID := range clients {
		clientType := c.clientTypes[clientID]
		if IsAppClientType(clientType) && appClientID == "" {
			appClientID = clientID
		} else if IsPCClientType(clientType) && pcClientID == "" {
			pcClientID = clientID
		}
	}
	if pcClientID == "" || appClientID == "" {
		return
	}

	probeURL := c.probeMeta[pcClientID].probeURL
	if !isValidPrivateProbeURL(probeURL, c.networkMeta[pcClientID].PrivateIP) {
		c.lastProbe[room] = &ProbeRecord{
			ProbeID:     "",
			Status:      ProbeStatusFail,
			LatencyMS:   nil,
			CheckedAtMS: c.nowMS(),
			Reason:      "invalid_probe_url",
		}
		metrics.Probes.WithLabelValues("invalid_url").Inc()
		c.emitRoomStateChanged(room, "probe_url_invalid")
		return
	}

	probeID := c.mintID("pr")
	c.pendingProbes[probeID] = &pendingProbe{
		room:          room,
		pcClientID:    pcClientID,
		appClientID:   appClientID,
		requestedAtMS: c.nowMS(),
		timeoutMS:     DefaultProbeTimeoutMS,
		resolved:      false,
	}

	payload := ProbeRequestPayload{
		ProtocolVersion:  ProtocolVersion,
		Room:             room,
		ProbeID:          probeID,
		ProviderClientID: pcClientID,
		ProbeURL:         probeURL,
		TimeoutMS:        DefaultProbeTimeoutMS,
		RequestedAtMS:    c.nowMS(),
	}
	for sid := range c.sessions[appClientID] {
		c.emitter.ToSocket(sid, EventLANProbeRequest, payload)
	}

	metrics.Probes.WithLabelValues("requested").Inc()
	c.emitActivity(EventLANProbeRequest, room, "server", fmt.Sprintf("%s (%s)", probeID, reason))
	c.emitRoomStateChanged(room, "probe_requested")
}

// HandleLANProbeResult records the app's verdict on PC reachability. Only the
// first result for a probe wins; anything outside ok/fail/timeout counts as
// fail.
func (c *Coordinator) HandleLANProbeResult(sid string, raw json.RawMessage) {
	var payload ProbeResultPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.emitError(sid, ErrCodeBadSchema, "malformed lan_probe_result payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if payload.Room == "" || payload.ProbeID == "" {
		c.emitError(sid, ErrCodeBadSchema, "room and probe_id are required for lan_probe_result")
		return
	}

	pending := c.pendingProbes[payload.ProbeID]
	if pending == nil || pending.room != payload.Room {
		c.emitError(sid, ErrCodeProbeStale, "probe_id is unknown or stale")
		return
	}
	if pending.resolved {
		return
	}

	result := strings.ToLower(strings.TrimSpace(payload.Result))
	if result != ProbeStatusOK && result != ProbeStatusFail && result != ProbeStatusTimeout {
		result = ProbeStatusFail
	}
	pending.resolved = true

	c.lastProbe[payload.Room] = &ProbeRecord{
		ProbeID:     payload.ProbeID,
		Status:      result,
		LatencyMS:   payload.LatencyMS,
		CheckedAtMS: c.nowMS(),
		Reason:      payload.Reason,
	}
	delete(c.pendingProbes, payload.ProbeID)

	metrics.Probes.WithLabelValues(result).Inc()
	c.logger.Info("LAN probe resolved",
		zap.String("room", payload.Room),
		zap.String("probe_id", payload.ProbeID),
		zap.String("result", result))

	sender, _ := c.clientFromSID(sid)
	c.emitActivity(EventLANProbeResult, payload.Room, sender, fmt.Sprintf("%s: %s", payload.ProbeID, result))
	c.emitRoomStateChanged(payload.Room, "probe_result")
}
