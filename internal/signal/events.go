package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/metrics"
)

// decodePayload unmarshals a loose event body, tolerating absent or
// non-object payloads.
func decodePayload(raw json.RawMessage) Payload {
	var data map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return Payload{}
		}
	}
	if data == nil {
		return Payload{}
	}
	return Payload(data)
}

// Dispatch routes one inbound socket event to its handler. Unknown events
// are reported back so the hub can log them.
func (c *Coordinator) Dispatch(sid, event string, raw json.RawMessage) bool {
	switch event {
	case EventJoin:
		c.HandleJoin(sid, raw)
	case EventLeave:
		c.HandleLeave(sid, raw)
	case EventPeerNetworkUpdate:
		c.HandlePeerNetworkUpdate(sid, raw)
	case EventLANProbeResult:
		c.HandleLANProbeResult(sid, raw)
	case EventClipboardPush:
		c.HandleClipboardPush(sid, raw)
	case EventFilePush:
		c.HandleFilePush(sid, raw)
	case EventFileAnnouncement:
		c.HandleFileAnnouncement(sid, raw)
	case EventFileAck:
		c.HandleFileAck(sid, raw)
	case EventFileRequestRelay:
		c.HandleFileRequestRelay(sid, raw)
	case EventFileAvailable:
		c.HandleFileAvailable(sid, raw)
	case EventFileSyncCompleted:
		c.HandleFileSyncCompleted(sid, raw)
	case EventFileNeedRelay:
		c.HandleFileNeedRelay(sid, raw)
	default:
		return false
	}
	metrics.Events.WithLabelValues(event).Inc()
	return true
}

// HandleConnect registers a fresh socket with observers.
func (c *Coordinator) HandleConnect(sid string) {
	c.logger.Info("Client connected", zap.String("sid", sid))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishServerStats("New connection")
}

// HandleDisconnect detaches a closed socket and tells observers.
func (c *Coordinator) HandleDisconnect(sid string) {
	c.logger.Info("Client disconnected", zap.String("sid", sid))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, removed := c.detachSocket(sid, "peer_disconnected", ""); removed {
		c.publishClientList()
	}
	c.publishServerStats("Client disconnected")
}

// HandleJoin binds a socket to a room and, when a client_id rides along,
// registers the client and its metadata. A third client joining a full room
// triggers eviction.
func (c *Coordinator) HandleJoin(sid string, raw json.RawMessage) {
	var payload JoinPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.emitError(sid, ErrCodeBadSchema, "malformed join payload")
		return
	}

	room := payload.Room
	clientID := payload.ClientID
	clientType := NormalizeClientType(payload.ClientType)

	c.mu.Lock()
	defer c.mu.Unlock()

	if room != "" {
		c.emitter.JoinRoom(sid, room)
		c.emitter.ToRoom(room, EventStatus, StatusPayload{Msg: "Joined room: " + room})
		c.logger.Info("Socket joined room", zap.String("sid", sid), zap.String("room", room))

		if room == DashboardRoom {
			c.emitter.ToSocket(sid, EventClientListUpdate, c.serializedSessions())
			c.emitter.ToSocket(sid, EventRoomStatesSnapshot, RoomStatesSnapshot{Rooms: c.allRoomStates()})
		}
	}

	if clientID == "" {
		return
	}
	if clientType == "" {
		c.logger.Warn("Join missing client_type",
			zap.String("sid", sid),
			zap.String("client_id", clientID))
		c.emitError(sid, ErrCodeBadSchema, "client_type is required when providing client_id")
		return
	}

	sids := c.sessions[clientID]
	if sids == nil {
		sids = make(map[string]struct{})
		c.sessions[clientID] = sids
	}
	sids[sid] = struct{}{}

	c.clientTypes[clientID] = clientType
	if deviceName := strings.TrimSpace(payload.DeviceName); deviceName != "" {
		c.deviceNames[clientID] = deviceName
	} else if _, ok := c.deviceNames[clientID]; !ok {
		c.deviceNames[clientID] = clientID
	}

	c.lastSeenMS[clientID] = c.nowMS()
	if _, ok := c.joinedAtMS[clientID]; !ok {
		c.joinedAtMS[clientID] = c.nowMS()
	}

	c.updateNetworkMeta(clientID, payload.Network)
	c.updateProbeMeta(clientID, payload.Probe)

	if payload.PushToken != "" && c.push != nil {
		c.push.Register(clientID, payload.PushToken)
	}

	c.logger.Info("Join metadata",
		zap.String("sid", sid),
		zap.String("room", room),
		zap.String("client_id", clientID),
		zap.String("client_type", clientType),
		zap.String("device_name", c.deviceNames[clientID]))

	if room != "" {
		oldRoom := c.clientRooms[clientID]
		if oldRoom != "" && oldRoom != room {
			c.removeFromRoomOrder(clientID, oldRoom)
			delete(c.lastProbe, oldRoom)
			c.clearPendingProbesForRoom(oldRoom)
			c.broadcastRoomStats(oldRoom)
			c.emitRoomStateChanged(oldRoom, "peer_moved")
		}

		c.clientRooms[clientID] = room
		order := c.roomOrder[room]
		present := false
		for _, id := range order {
			if id == clientID {
				present = true
				break
			}
		}
		if !present {
			c.roomOrder[room] = append(order, clientID)
		}

		c.enforceRoomCapacity(room)
		c.broadcastRoomStats(room)
		c.emitRoomStateChanged(room, "peer_joined")
		c.triggerLANProbeIfReady(room, "peer_joined")
	} else {
		c.logger.Warn("Client joined without a room", zap.String("client_id", clientID))
	}

	c.syncGauges()
	c.publishClientList()
}

// HandleLeave detaches the socket from a room on request.
func (c *Coordinator) HandleLeave(sid string, raw json.RawMessage) {
	var payload LeavePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Room == "" {
		return
	}
	room := payload.Room

	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitter.LeaveRoom(sid, room)
	c.emitter.ToRoom(room, EventStatus, StatusPayload{Msg: "Left room: " + room})
	c.logger.Info("Socket left room", zap.String("sid", sid), zap.String("room", room))

	if _, removed := c.detachSocket(sid, "peer_left_room", room); removed {
		c.publishClientList()
	}
	c.broadcastRoomStats(room)
	c.emitRoomStateChanged(room, "peer_left_room")
}

// HandlePeerNetworkUpdate refreshes the sender's network identity and forces
// a fresh probe, since the old verdict may describe a network that no longer
// exists.
func (c *Coordinator) HandlePeerNetworkUpdate(sid string, raw json.RawMessage) {
	var payload NetworkUpdatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.emitError(sid, ErrCodeBadSchema, "malformed peer_network_update payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clientID := payload.ClientID
	if clientID == "" {
		clientID, _ = c.clientFromSID(sid)
	}
	if clientID == "" {
		c.emitError(sid, ErrCodeRoleDenied, "client_id cannot be resolved for peer_network_update")
		return
	}
	if payload.Room != "" && c.clientRooms[clientID] != payload.Room {
		c.emitError(sid, ErrCodeTransferState, "client does not belong to the specified room")
		return
	}

	c.updateNetworkMeta(clientID, payload.Network)
	c.lastSeenMS[clientID] = c.nowMS()

	targetRoom := payload.Room
	if targetRoom == "" {
		targetRoom = c.clientRooms[clientID]
	}
	if targetRoom == "" {
		return
	}

	delete(c.lastProbe, targetRoom)
	c.emitRoomStateChanged(targetRoom, "network_updated")
	c.triggerLANProbeIfReady(targetRoom, "network_updated")

	epoch := c.networkMeta[clientID].NetworkEpoch
	c.emitActivity(EventPeerNetworkUpdate, targetRoom, clientID, fmt.Sprintf("network_epoch=%d", epoch))
}

// HandleClipboardPush relays clipboard content to the rest of the room.
func (c *Coordinator) HandleClipboardPush(sid string, raw json.RawMessage) {
	data := decodePayload(raw)
	room := data.Str("room")
	if room == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitter.ToRoom(room, EventClipboardSync, raw, sid)
	c.logger.Info("Relayed clipboard data", zap.String("room", room))

	sender, _ := c.clientFromSID(sid)
	c.emitActivity("clipboard", room, sender, clipboardPreview(data.Str("content")))
	c.notifyPushExcept(room, sender, map[string]string{
		"event": EventClipboardSync,
		"room":  room,
	})
}

// clipboardPreview shortens clipboard content for the activity feed. Content
// the server cannot read (client-side encryption) shows a placeholder.
func clipboardPreview(content string) string {
	if content == "" {
		return "Encrypted Data"
	}
	runes := []rune(content)
	if len(runes) > 30 {
		runes = runes[:30]
	}
	return string(runes) + "..."
}

// HandleFilePush relays file metadata to the rest of the room.
func (c *Coordinator) HandleFilePush(sid string, raw json.RawMessage) {
	data := decodePayload(raw)
	room := data.Str("room")
	if room == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitter.ToRoom(room, EventFileSync, raw, sid)
	c.logger.Info("Relayed file metadata", zap.String("room", room))

	sender, _ := c.clientFromSID(sid)
	c.emitActivity("file", room, sender, data.StrOr("filename", "Unknown File"))
	c.notifyPushExcept(room, sender, map[string]string{
		"event":    EventFileSync,
		"room":     room,
		"filename": data.Str("filename"),
	})
}

// HandleFileAnnouncement echoes a pipeline announcement to the room.
func (c *Coordinator) HandleFileAnnouncement(sid string, raw json.RawMessage) {
	data := decodePayload(raw)
	room := data.Str("room")
	if room == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitter.ToRoom(room, EventFileAnnouncement, raw, sid)
	c.logger.Info("Relayed file announcement", zap.String("room", room))

	sender, _ := c.clientFromSID(sid)
	payload := ParseSignalPayload(data)
	c.emitActivity(EventFileAnnouncement, room, sender,
		fmt.Sprintf("%s (%s)", payload.StrOr("filename", "Unknown File"), payload.StrOr("file_id", "Unknown ID")))
}

// HandleFileAck echoes a transfer acknowledgement to the room.
func (c *Coordinator) HandleFileAck(sid string, raw json.RawMessage) {
	data := decodePayload(raw)
	room := data.Str("room")
	if room == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitter.ToRoom(room, EventFileAck, raw, sid)
	c.logger.Info("Relayed file ack", zap.String("room", room))

	sender, _ := c.clientFromSID(sid)
	payload := ParseSignalPayload(data)
	c.emitActivity(EventFileAck, room, sender,
		fmt.Sprintf("%s via %s", payload.StrOr("file_id", "Unknown ID"), payload.StrOr("method", "unknown")))
}

// HandleFileRequestRelay echoes a relay request to the room.
func (c *Coordinator) HandleFileRequestRelay(sid string, raw json.RawMessage) {
	data := decodePayload(raw)
	room := data.Str("room")
	if room == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitter.ToRoom(room, EventFileRequestRelay, raw, sid)
	c.logger.Info("Relayed file relay request", zap.String("room", room))

	sender, _ := c.clientFromSID(sid)
	payload := ParseSignalPayload(data)
	c.emitActivity(EventFileRequestRelay, room, sender,
		fmt.Sprintf("%s: %s", payload.StrOr("file_id", "Unknown ID"), payload.StrOr("reason", "unspecified")))
}

// HandleFileAvailable opens (or resumes) a transfer. When the pair is known
// to sit on different LANs the LAN offer is pointless, so the sender is told
// to relay right away; otherwise the offer fans out and the decision timer
// starts.
func (c *Coordinator) HandleFileAvailable(sid string, raw json.RawMessage) {
	data := decodePayload(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	room, payload := c.resolveSignalContext(sid, data)
	sender, _ := c.clientFromSID(sid)
	c.debugSignal("rx", EventFileAvailable, room, sender, sid, data)

	if room == "" {
		c.logger.Warn("Dropped file_available without room", zap.String("sid", sid))
		return
	}
	if !c.ensureProtocolVersion(sid, payload, EventFileAvailable) {
		return
	}
	if !c.senderAuthorized(sender, room) {
		c.logger.Warn("Rejected file_available from unauthorized sender",
			zap.String("sender", sender),
			zap.String("room", room),
			zap.String("sid", sid))
		c.debugSignal("drop", EventFileAvailable, room, sender, sid, payload)
		c.emitError(sid, ErrCodeRoleDenied, "sender is not authorized for this room")
		return
	}

	ctx := c.getOrCreateTransfer(room, sender, payload)

	if c.roomLANState(room) == RoomStatePairDiffLAN {
		c.instructUploadRelay(ctx, "room_diff_lan")
		c.logger.Info("Skipped LAN offer for cross-LAN pair",
			zap.String("room", room),
			zap.String("transfer_id", ctx.transferID))
		return
	}

	c.emitter.ToRoom(room, EventFileAvailable, payload, c.clientSIDs(sender)...)
	c.debugSignal("tx", EventFileAvailable, room, sender, sid, payload)

	c.updateTransferState(ctx, TransferStatusWaitingResult, "lan_offer_sent")
	c.startDecisionTimer(ctx.transferID, ctx.decisionDeadline)

	filename := payload.StrOr("filename", "Unknown File")
	fileID := payload.StrOr("file_id", "Unknown ID")
	c.emitActivity(EventFileAvailable, room, sender, fmt.Sprintf("%s (%s)", filename, fileID))
	c.notifyPushExcept(room, sender, map[string]string{
		"event":       EventFileAvailable,
		"room":        room,
		"file_id":     ctx.fileID,
		"transfer_id": ctx.transferID,
	})
}

// HandleFileSyncCompleted fans the receiver's completion report out and
// settles the transfer over LAN.
func (c *Coordinator) HandleFileSyncCompleted(sid string, raw json.RawMessage) {
	data := decodePayload(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	room, payload := c.resolveSignalContext(sid, data)
	sender, _ := c.clientFromSID(sid)
	c.debugSignal("rx", EventFileSyncCompleted, room, sender, sid, data)

	if room == "" {
		c.logger.Warn("Dropped file_sync_completed without room", zap.String("sid", sid))
		return
	}
	if !c.ensureProtocolVersion(sid, payload, EventFileSyncCompleted) {
		return
	}
	if !c.senderAuthorized(sender, room) {
		c.logger.Warn("Rejected file_sync_completed from unauthorized sender",
			zap.String("sender", sender),
			zap.String("room", room),
			zap.String("sid", sid))
		c.debugSignal("drop", EventFileSyncCompleted, room, sender, sid, payload)
		c.emitError(sid, ErrCodeRoleDenied, "sender is not authorized for this room")
		return
	}

	c.emitter.ToRoom(room, EventFileSyncCompleted, payload, c.clientSIDs(sender)...)
	c.debugSignal("tx", EventFileSyncCompleted, room, sender, sid, payload)

	transferID := payload.StrOr("transfer_id", "")
	if ctx := c.transfers[transferID]; ctx != nil && ctx.room == room {
		c.instructFinish(ctx, "lan_ack")
	}

	c.emitActivity(EventFileSyncCompleted, room, sender,
		fmt.Sprintf("%s via %s", payload.StrOr("file_id", "Unknown ID"), payload.StrOr("method", "unknown")))
}

// HandleFileNeedRelay fans the receiver's fallback request out and instructs
// the sender to relay.
func (c *Coordinator) HandleFileNeedRelay(sid string, raw json.RawMessage) {
	data := decodePayload(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	room, payload := c.resolveSignalContext(sid, data)
	sender, _ := c.clientFromSID(sid)
	c.debugSignal("rx", EventFileNeedRelay, room, sender, sid, data)

	if room == "" {
		c.logger.Warn("Dropped file_need_relay without room", zap.String("sid", sid))
		return
	}
	if !c.ensureProtocolVersion(sid, payload, EventFileNeedRelay) {
		return
	}
	if !c.senderAuthorized(sender, room) {
		c.logger.Warn("Rejected file_need_relay from unauthorized sender",
			zap.String("sender", sender),
			zap.String("room", room),
			zap.String("sid", sid))
		c.debugSignal("drop", EventFileNeedRelay, room, sender, sid, payload)
		c.emitError(sid, ErrCodeRoleDenied, "sender is not authorized for this room")
		return
	}

	c.emitter.ToRoom(room, EventFileNeedRelay, payload, c.clientSIDs(sender)...)
	c.debugSignal("tx", EventFileNeedRelay, room, sender, sid, payload)

	transferID := payload.StrOr("transfer_id", "")
	if ctx := c.transfers[transferID]; ctx != nil && ctx.room == room {
		c.instructUploadRelay(ctx, payload.StrOr("reason", "receiver_requested_fallback"))
	}

	c.emitActivity(EventFileNeedRelay, room, sender,
		fmt.Sprintf("%s: %s", payload.StrOr("file_id", "Unknown ID"), payload.StrOr("reason", "unspecified")))
}

// RelayEvent fans an HTTP-submitted event out to a room, skipping the
// sender's sockets when the sender is a tracked client. Serves POST /api/relay.
func (c *Coordinator) RelayEvent(room, event string, data json.RawMessage, senderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.debugSignal("http_rx", event, room, senderID, "http", data)

	var skipSIDs []string
	if senderID != "" {
		if _, tracked := c.sessions[senderID]; tracked {
			skipSIDs = c.clientSIDs(senderID)
		}
	}

	c.emitter.ToRoom(room, event, data, skipSIDs...)
	c.debugSignal("http_tx", event, room, senderID, "http", data)
	c.logger.Info("Relayed HTTP message",
		zap.String("room", room),
		zap.String("event", event),
		zap.Int("skipped", len(skipSIDs)))

	sender := senderID
	if sender == "" {
		sender = "API"
	}
	c.emitActivity(event, room, sender, "Event: "+event)
}

// resolveSignalContext flattens a pipeline payload and resolves its target
// room, falling back to the sender's tracked room. The room is written into
// the returned payload. Callers must hold c.mu.
func (c *Coordinator) resolveSignalContext(sid string, data Payload) (string, Payload) {
	payload := flattenSignalPayload(data)

	room := payload.Str("room")
	if room == "" {
		room = data.Str("room")
	}
	if room == "" {
		if sender, ok := c.clientFromSID(sid); ok {
			room = c.clientRooms[sender]
		}
	}
	if room != "" && !payload.Has("room") {
		payload["room"] = room
	}
	return room, payload
}

// ensureProtocolVersion rejects frames from a different protocol revision.
// Frames without a version pass, for clients that predate versioning.
func (c *Coordinator) ensureProtocolVersion(sid string, payload Payload, event string) bool {
	version := strings.TrimSpace(payload.Str("protocol_version"))
	if version != "" && version != ProtocolVersion {
		c.emitError(sid, ErrCodeBadVersion, event+" protocol_version not supported")
		return false
	}
	return true
}

// senderAuthorized checks the sender is a tracked member of the room.
// Callers must hold c.mu.
func (c *Coordinator) senderAuthorized(senderClientID, room string) bool {
	if room == "" || senderClientID == "" {
		return false
	}
	if c.clientRooms[senderClientID] != room {
		return false
	}
	_, tracked := c.sessions[senderClientID]
	return tracked
}

// clientSIDs lists a client's sockets. Callers must hold c.mu.
func (c *Coordinator) clientSIDs(clientID string) []string {
	sids := make([]string, 0, len(c.sessions[clientID]))
	for sid := range c.sessions[clientID] {
		sids = append(sids, sid)
	}
	return sids
}
