package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/metrics"
)

// Relayer fans a server-side event out to a room.
type Relayer interface {
	RelayEvent(room, event string, data json.RawMessage, senderID string)
}

// RelayHandler lets trusted server-side callers (shortcuts, scripts, the PC
// helper) push an event into a room without holding a socket.
type RelayHandler struct {
	relayer Relayer
	logger  *zap.Logger
}

func NewRelayHandler(relayer Relayer, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{
		relayer: relayer,
		logger:  logger,
	}
}

type relayRequest struct {
	Room     string          `json:"room"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data" swaggertype:"object"`
	SenderID string          `json:"sender_id"`
	ClientID string          `json:"client_id"`
}

// Relay godoc
//
//	@Summary		Relay an event into a room
//	@Description	Broadcast an event to all clients in a room on behalf of a server-side sender
//	@Tags			relay
//	@Accept			json
//	@Produce		json
//	@Param			request	body		relayRequest	true	"Room, event name and payload"
//	@Success		200		{object}	map[string]string	"Relayed"
//	@Failure		400		{object}	map[string]string	"Missing room, event, or data"
//	@Router			/api/relay [post]
func (h *RelayHandler) Relay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RelayRequests.WithLabelValues("400").Inc()
		writeError(w, http.StatusBadRequest, "Missing room, event, or data")
		return
	}

	if req.Room == "" || req.Event == "" || isJSONNull(req.Data) {
		metrics.RelayRequests.WithLabelValues("400").Inc()
		writeError(w, http.StatusBadRequest, "Missing room, event, or data")
		return
	}

	senderID := req.SenderID
	if senderID == "" {
		senderID = req.ClientID
	}

	h.relayer.RelayEvent(req.Room, req.Event, req.Data, senderID)

	metrics.RelayRequests.WithLabelValues("200").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isJSONNull treats both an absent field and an explicit null as missing.
func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
