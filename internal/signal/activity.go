package signal

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// emitActivity appends an entry to the dashboard activity feed. Types outside
// the allowed set are filed under api_relay. Callers must hold c.mu.
func (c *Coordinator) emitActivity(activityType, room, sender, content string) {
	if room == "" {
		room = unknownLabel
	}
	if sender == "" {
		sender = unknownLabel
	}
	c.publishObserver(EventActivityLog, ActivityEntry{
		Type:    NormalizeActivityType(activityType),
		Room:    room,
		Sender:  sender,
		Content: content,
		TSMS:    c.nowMS(),
	})
}

// publishClientList pushes the current session snapshot to observers.
// Callers must hold c.mu.
func (c *Coordinator) publishClientList() {
	c.publishObserver(EventClientListUpdate, c.serializedSessions())
}

// publishServerStats reports the tracked client count to observers.
// Callers must hold c.mu.
func (c *Coordinator) publishServerStats(msg string) {
	c.publishObserver(EventServerStats, ServerStatsPayload{
		Clients: len(c.sessions),
		Msg:     msg,
	})
}

// debugSignal logs one signaling frame when debug tracing is on.
func (c *Coordinator) debugSignal(tag, event, room, sender, sid string, payload interface{}) {
	if !c.opts.DebugEnabled {
		return
	}
	if event == "" {
		event = "-"
	}
	if room == "" {
		room = "-"
	}
	if sender == "" {
		sender = "-"
	}
	if sid == "" {
		sid = "-"
	}
	c.logger.Info("Signal frame",
		zap.String("tag", tag),
		zap.String("event", event),
		zap.String("room", room),
		zap.String("sender", sender),
		zap.String("sid", sid),
		zap.String("payload", c.debugJSON(payload)))
}

// debugJSON renders a payload for trace logs, truncated to the configured
// budget.
func (c *Coordinator) debugJSON(payload interface{}) string {
	rendered := ""
	if raw, err := json.Marshal(payload); err == nil {
		rendered = string(raw)
	} else {
		rendered = fmt.Sprintf("%v", payload)
	}
	if len(rendered) > c.opts.DebugMaxChars {
		return rendered[:c.opts.DebugMaxChars] + "...(truncated)"
	}
	return rendered
}
