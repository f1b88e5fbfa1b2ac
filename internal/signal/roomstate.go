package signal

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// buildRoomState derives the room's pairing state from membership and the
// last resolved probe. Callers must hold c.mu.
func (c *Coordinator) buildRoomState(room string) *RoomStatePayload {
	clients := c.roomClientIDs(room)

	peers := make([]PeerSummary, 0, len(clients))
	for _, clientID := range clients {
		clientType := c.clientTypes[clientID]
		if clientType == "" {
			clientType = "unknown"
		}
		deviceName := c.deviceNames[clientID]
		if deviceName == "" {
			deviceName = clientID
		}
		peers = append(peers, PeerSummary{
			ClientID:     clientID,
			ClientType:   clientType,
			DeviceName:   deviceName,
			JoinedAtMS:   c.joinedAtMS[clientID],
			LastSeenMS:   c.lastSeenMS[clientID],
			NetworkEpoch: c.networkMeta[clientID].NetworkEpoch,
		})
	}

	lastProbe := c.lastProbe[room]

	var state string
	var sameLAN bool
	var confidence string
	switch {
	case len(clients) == 0:
		state, sameLAN, confidence = RoomStateEmpty, false, LANConfidenceNone
	case len(clients) == 1:
		state, sameLAN, confidence = RoomStateSingle, false, LANConfidenceNone
	default:
		probeStatus := ""
		if lastProbe != nil {
			probeStatus = lastProbe.Status
		}
		switch probeStatus {
		case ProbeStatusOK:
			state, sameLAN, confidence = RoomStatePairSameLAN, true, LANConfidenceConfirmed
		case ProbeStatusFail, ProbeStatusTimeout:
			state, sameLAN, confidence = RoomStatePairDiffLAN, false, LANConfidenceConfirmed
		default:
			state, sameLAN, confidence = RoomStatePairUnknown, false, LANConfidenceNone
		}
	}

	return &RoomStatePayload{
		ProtocolVersion: ProtocolVersion,
		Room:            room,
		MaxPeers:        RoomMaxPeers,
		State:           state,
		SameLAN:         sameLAN,
		LANConfidence:   confidence,
		Peers:           peers,
		LastProbe:       lastProbe,
	}
}

// roomLANState reports the room's pairing state tag, UNKNOWN for no room.
// Callers must hold c.mu.
func (c *Coordinator) roomLANState(room string) string {
	if room == "" {
		return RoomStateUnknown
	}
	return strings.ToUpper(c.buildRoomState(room).State)
}

// broadcastRoomStats sends the member list to everyone in the room.
// Callers must hold c.mu.
func (c *Coordinator) broadcastRoomStats(room string) {
	if room == "" {
		return
	}
	clients := c.roomClientIDs(room)
	c.emitter.ToRoom(room, EventRoomStats, RoomStatsPayload{
		Count:   len(clients),
		Room:    room,
		Clients: clients,
	})
	c.logger.Info("Broadcast room stats",
		zap.String("room", room),
		zap.Int("count", len(clients)),
		zap.Strings("clients", clients))
}

// emitRoomStateChanged rebroadcasts the room's derived state to its members
// and to observers. Callers must hold c.mu.
func (c *Coordinator) emitRoomStateChanged(room, reason string) {
	if room == "" {
		return
	}
	payload := c.buildRoomState(room)
	c.emitter.ToRoom(room, EventRoomStateChanged, payload)
	c.publishObserver(EventRoomStateChanged, payload)
	c.emitActivity(EventRoomStateChanged, room, "server", fmt.Sprintf("%s (%s)", payload.State, reason))
}

// chooseEvictionCandidate picks who leaves an over-full room: the first
// non-PC member by join order, else the oldest member. Callers must hold c.mu.
func (c *Coordinator) chooseEvictionCandidate(room string) string {
	clients := c.roomClientIDs(room)
	if len(clients) == 0 {
		return ""
	}
	for _, clientID := range clients {
		if !IsPCClientType(c.clientTypes[clientID]) {
			return clientID
		}
	}
	return clients[0]
}

// evictClient notifies a client's sockets, forces them out of the room and
// purges the client. Callers must hold c.mu.
func (c *Coordinator) evictClient(room, clientID, reason string) {
	payload := EvictionPayload{
		ProtocolVersion: ProtocolVersion,
		Room:            room,
		EvictedClientID: clientID,
		Reason:          reason,
		EvictedAtMS:     c.nowMS(),
	}
	for sid := range c.sessions[clientID] {
		c.emitter.ToSocket(sid, EventPeerEvicted, payload)
		c.emitter.LeaveRoom(sid, room)
	}

	c.purgeClient(clientID)
	c.emitActivity(EventPeerEvicted, room, "server", fmt.Sprintf("%s: %s", clientID, reason))
	c.logger.Info("Evicted client from room",
		zap.String("client_id", clientID),
		zap.String("room", room),
		zap.String("reason", reason))
}

// enforceRoomCapacity evicts members until the room fits RoomMaxPeers.
// Callers must hold c.mu.
func (c *Coordinator) enforceRoomCapacity(room string) {
	if room == "" {
		return
	}
	for len(c.roomClientIDs(room)) > RoomMaxPeers {
		candidate := c.chooseEvictionCandidate(room)
		if candidate == "" {
			break
		}
		c.evictClient(room, candidate, "room_capacity_exceeded")
	}
}
