package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedRelay struct {
	room     string
	event    string
	data     json.RawMessage
	senderID string
}

type fakeRelayer struct {
	calls []recordedRelay
}

func (f *fakeRelayer) RelayEvent(room, event string, data json.RawMessage, senderID string) {
	f.calls = append(f.calls, recordedRelay{room: room, event: event, data: data, senderID: senderID})
}

func postRelay(t *testing.T, h *RelayHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/relay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Relay(rec, req)
	return rec
}

func TestRelay_FansOutToRoom(t *testing.T) {
	relayer := &fakeRelayer{}
	h := NewRelayHandler(relayer, zap.NewNop())

	rec := postRelay(t, h, `{"room":"R","event":"clipboard_sync","data":{"content":"x"},"sender_id":"pc_A"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.Len(t, relayer.calls, 1)
	call := relayer.calls[0]
	assert.Equal(t, "R", call.room)
	assert.Equal(t, "clipboard_sync", call.event)
	assert.JSONEq(t, `{"content":"x"}`, string(call.data))
	assert.Equal(t, "pc_A", call.senderID)
}

func TestRelay_ClientIDFallsBackAsSender(t *testing.T) {
	relayer := &fakeRelayer{}
	h := NewRelayHandler(relayer, zap.NewNop())

	postRelay(t, h, `{"room":"R","event":"file_sync","data":{},"client_id":"app_B"}`)

	require.Len(t, relayer.calls, 1)
	assert.Equal(t, "app_B", relayer.calls[0].senderID)
}

func TestRelay_AnonymousSenderAllowed(t *testing.T) {
	relayer := &fakeRelayer{}
	h := NewRelayHandler(relayer, zap.NewNop())

	rec := postRelay(t, h, `{"room":"R","event":"file_sync","data":{"k":1}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, relayer.calls, 1)
	assert.Empty(t, relayer.calls[0].senderID)
}

func TestRelay_RejectsIncompleteRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing room", `{"event":"e","data":{}}`},
		{"missing event", `{"room":"R","data":{}}`},
		{"missing data", `{"room":"R","event":"e"}`},
		{"null data", `{"room":"R","event":"e","data":null}`},
		{"malformed json", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relayer := &fakeRelayer{}
			h := NewRelayHandler(relayer, zap.NewNop())

			rec := postRelay(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"Missing room, event, or data"}`, rec.Body.String())
			assert.Empty(t, relayer.calls)
		})
	}
}

func TestRelay_EmptyObjectDataIsValid(t *testing.T) {
	relayer := &fakeRelayer{}
	h := NewRelayHandler(relayer, zap.NewNop())

	rec := postRelay(t, h, `{"room":"R","event":"e","data":{}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, relayer.calls, 1)
}
