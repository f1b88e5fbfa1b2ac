package signal

import (
	"sort"

	"go.uber.org/zap"
)

// unknownLabel stands in for missing client or room identity in dashboard
// facing payloads.
const unknownLabel = "Unknown"

// clientFromSID resolves which tracked client a socket belongs to.
// Callers must hold c.mu.
func (c *Coordinator) clientFromSID(sid string) (string, bool) {
	for clientID, sids := range c.sessions {
		if _, ok := sids[sid]; ok {
			return clientID, true
		}
	}
	return "", false
}

// roomClientIDs returns the room's members in join order, dropping entries
// whose client is gone or has moved. The stored order list is compacted as a
// side effect. Callers must hold c.mu.
func (c *Coordinator) roomClientIDs(room string) []string {
	order := c.roomOrder[room]
	filtered := order[:0:0]
	for _, clientID := range order {
		if c.clientRooms[clientID] != room {
			continue
		}
		if _, tracked := c.sessions[clientID]; !tracked {
			continue
		}
		filtered = append(filtered, clientID)
	}
	if len(filtered) != len(order) {
		if len(filtered) == 0 {
			delete(c.roomOrder, room)
		} else {
			c.roomOrder[room] = filtered
		}
	}
	return filtered
}

// removeFromRoomOrder drops a client from a room's join order, deleting the
// room entry when it empties. Callers must hold c.mu.
func (c *Coordinator) removeFromRoomOrder(clientID, room string) {
	if room == "" {
		return
	}
	order := c.roomOrder[room]
	kept := order[:0:0]
	for _, id := range order {
		if id != clientID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(c.roomOrder, room)
	} else {
		c.roomOrder[room] = kept
	}
}

// purgeClient forgets everything about a client and returns the room it was
// in, if any. Pending probes that involved the client are dropped with it.
// Callers must hold c.mu.
func (c *Coordinator) purgeClient(clientID string) string {
	room := c.clientRooms[clientID]
	delete(c.clientRooms, clientID)
	c.removeFromRoomOrder(clientID, room)
	delete(c.sessions, clientID)
	delete(c.clientTypes, clientID)
	delete(c.deviceNames, clientID)
	delete(c.joinedAtMS, clientID)
	delete(c.lastSeenMS, clientID)
	delete(c.networkMeta, clientID)
	delete(c.probeMeta, clientID)

	for probeID, pending := range c.pendingProbes {
		if pending.pcClientID == clientID || pending.appClientID == clientID {
			delete(c.pendingProbes, probeID)
		}
	}

	c.syncGauges()
	return room
}

// clearPendingProbesForRoom drops in-flight probes once a room's pairing is
// no longer the one they were issued for. Callers must hold c.mu.
func (c *Coordinator) clearPendingProbesForRoom(room string) {
	for probeID, pending := range c.pendingProbes {
		if pending.room == room {
			delete(c.pendingProbes, probeID)
		}
	}
}

// detachSocket removes one socket from tracking. When it was the client's
// last socket the client is purged and the room is re-broadcast and
// re-probed. Returns the owning client, if the socket belonged to one.
// Callers must hold c.mu.
func (c *Coordinator) detachSocket(sid, reason, roomHint string) (string, bool) {
	clientID, ok := c.clientFromSID(sid)
	if !ok {
		return "", false
	}

	sids := c.sessions[clientID]
	delete(sids, sid)
	c.lastSeenMS[clientID] = c.nowMS()

	room := c.clientRooms[clientID]
	if room == "" {
		room = roomHint
	}

	if len(sids) == 0 {
		c.purgeClient(clientID)
		if room != "" {
			delete(c.lastProbe, room)
			c.clearPendingProbesForRoom(room)
			c.broadcastRoomStats(room)
			c.emitRoomStateChanged(room, reason)
			c.triggerLANProbeIfReady(room, reason)
		}
		c.logger.Info("Client fully detached",
			zap.String("client_id", clientID),
			zap.String("room", room),
			zap.String("reason", reason))
	}

	return clientID, true
}

// serializedSessions snapshots every tracked client for the dashboard's
// client list. Callers must hold c.mu.
func (c *Coordinator) serializedSessions() map[string]SessionSummary {
	out := make(map[string]SessionSummary, len(c.sessions))
	stateCache := make(map[string]*RoomStatePayload)

	for clientID, sids := range c.sessions {
		room := c.clientRooms[clientID]

		var state *RoomStatePayload
		if room != "" {
			state = stateCache[room]
			if state == nil {
				state = c.buildRoomState(room)
				stateCache[room] = state
			}
		}

		summary := SessionSummary{
			SIDs:          make([]string, 0, len(sids)),
			Room:          room,
			Type:          c.clientTypes[clientID],
			DeviceName:    c.deviceNames[clientID],
			Network:       c.networkMeta[clientID],
			RoomState:     RoomStateUnknown,
			SameLAN:       false,
			LANConfidence: LANConfidenceNone,
		}
		for sid := range sids {
			summary.SIDs = append(summary.SIDs, sid)
		}
		sort.Strings(summary.SIDs)
		if summary.Room == "" {
			summary.Room = unknownLabel
		}
		if summary.Type == "" {
			summary.Type = unknownLabel
		}
		if summary.DeviceName == "" {
			summary.DeviceName = clientID
		}
		if state != nil {
			summary.RoomState = state.State
			summary.SameLAN = state.SameLAN
			summary.LANConfidence = state.LANConfidence
		}

		out[clientID] = summary
	}
	return out
}

// allRoomStates snapshots every active room for observers joining late.
// Callers must hold c.mu.
func (c *Coordinator) allRoomStates() map[string]*RoomStatePayload {
	rooms := make([]string, 0, len(c.roomOrder))
	for room := range c.roomOrder {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	out := make(map[string]*RoomStatePayload, len(rooms))
	for _, room := range rooms {
		out[room] = c.buildRoomState(room)
	}
	return out
}

// ClientCount reports how many distinct clients are tracked.
func (c *Coordinator) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
