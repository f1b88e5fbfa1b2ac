package signal

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clipboardpush/clipboard-push-server/internal/metrics"
)

// transferContext tracks one announced file transfer from LAN offer to its
// terminal state.
type transferContext struct {
	transferID        string
	room              string
	senderClientID    string
	receiverClientID  string
	fileID            string
	filename          string
	status            string
	createdAtMS       int64
	updatedAtMS       int64
	decisionTimeoutMS int64
	decisionDeadline  int64
	lastReason        string
}

// uploadRelayFinalStatuses are states where another upload_relay instruction
// would be redundant or would downgrade a settled transfer.
var uploadRelayFinalStatuses = map[string]struct{}{
	TransferStatusLANSuccess:        {},
	TransferStatusCompleted:         {},
	TransferStatusRelayUploading:    {},
	TransferStatusFallbackRequested: {},
	TransferStatusFallbackTimeout:   {},
}

// finishFinalStatuses are states where a finish instruction no longer applies.
var finishFinalStatuses = map[string]struct{}{
	TransferStatusLANSuccess: {},
	TransferStatusCompleted:  {},
}

// decisionPendingStatuses are the only states the decision timer may resolve.
var decisionPendingStatuses = map[string]struct{}{
	TransferStatusWaitingResult: {},
	TransferStatusOffered:       {},
}

// clampDecisionTimeout bounds a client-requested decision window to
// [1000ms, configured max], falling back to the configured default.
func (c *Coordinator) clampDecisionTimeout(payload Payload) int64 {
	value := payload.Int64("decision_timeout_ms", c.opts.DecisionTimeoutMS)
	if value < 1000 {
		value = 1000
	}
	if value > c.opts.DecisionTimeoutMaxMS {
		value = c.opts.DecisionTimeoutMaxMS
	}
	return value
}

// getOrCreateTransfer looks up the transfer named in the payload, minting an
// id and a fresh context when none exists. A minted id is written back into
// the payload so the fan-out carries it. Callers must hold c.mu.
func (c *Coordinator) getOrCreateTransfer(room, senderClientID string, payload Payload) *transferContext {
	transferID := payload.StrOr("transfer_id", "")
	if transferID == "" {
		transferID = c.mintID("tr")
		payload["transfer_id"] = transferID
	}

	if existing := c.transfers[transferID]; existing != nil {
		return existing
	}

	var receiverClientID string
	for _, clientID := range c.roomClientIDs(room) {
		if clientID != senderClientID {
			receiverClientID = clientID
			break
		}
	}

	timeoutMS := c.clampDecisionTimeout(payload)
	nowMS := c.nowMS()
	ctx := &transferContext{
		transferID:        transferID,
		room:              room,
		senderClientID:    senderClientID,
		receiverClientID:  receiverClientID,
		fileID:            payload.StrOr("file_id", "Unknown ID"),
		filename:          payload.Str("filename"),
		status:            TransferStatusCreated,
		createdAtMS:       nowMS,
		decisionTimeoutMS: timeoutMS,
		decisionDeadline:  nowMS + timeoutMS,
	}
	c.transfers[transferID] = ctx
	return ctx
}

// updateTransferState moves the transfer and tells observers. Callers must
// hold c.mu.
func (c *Coordinator) updateTransferState(ctx *transferContext, status, reason string) {
	ctx.status = status
	ctx.lastReason = reason
	ctx.updatedAtMS = c.nowMS()
	c.emitActivity("transfer_state", ctx.room, "server",
		fmt.Sprintf("%s -> %s (%s)", ctx.transferID, status, reason))
}

// emitTransferCommand instructs the sender's sockets. Callers must hold c.mu.
func (c *Coordinator) emitTransferCommand(ctx *transferContext, action, reason string) {
	payload := TransferCommandPayload{
		ProtocolVersion: ProtocolVersion,
		Room:            ctx.room,
		TransferID:      ctx.transferID,
		FileID:          ctx.fileID,
		Action:          action,
		Reason:          reason,
		IssuedAtMS:      c.nowMS(),
	}
	for sid := range c.sessions[ctx.senderClientID] {
		c.emitter.ToSocket(sid, EventTransferCommand, payload)
	}
	c.debugSignal("tx", EventTransferCommand, ctx.room, "server", "", payload)
	c.emitActivity(EventTransferCommand, ctx.room, "server",
		fmt.Sprintf("%s: %s (%s)", ctx.transferID, action, reason))
}

// emitCompatNeedRelay mirrors an upload_relay instruction as file_need_relay
// for senders that predate transfer_command. Callers must hold c.mu.
func (c *Coordinator) emitCompatNeedRelay(ctx *transferContext, reason string) {
	payload := NeedRelayPayload{
		ProtocolVersion: ProtocolVersion,
		Room:            ctx.room,
		FileID:          ctx.fileID,
		TransferID:      ctx.transferID,
		Reason:          reason,
		ReportedAtMS:    c.nowMS(),
	}
	for sid := range c.sessions[ctx.senderClientID] {
		c.emitter.ToSocket(sid, EventFileNeedRelay, payload)
	}
	c.debugSignal("tx", EventFileNeedRelay, ctx.room, "server", "", payload)
}

// instructUploadRelay routes the transfer through the relay. A timeout lands
// in fallback_timeout, any other reason in fallback_requested. No-op once the
// transfer settled. Callers must hold c.mu.
func (c *Coordinator) instructUploadRelay(ctx *transferContext, reason string) {
	if _, done := uploadRelayFinalStatuses[ctx.status]; done {
		return
	}
	status := TransferStatusFallbackRequested
	if reason == "decision_timeout" {
		status = TransferStatusFallbackTimeout
	}
	c.updateTransferState(ctx, status, reason)
	c.emitTransferCommand(ctx, TransferActionUploadRelay, reason)
	c.emitCompatNeedRelay(ctx, reason)
	metrics.Transfers.WithLabelValues(status).Inc()
}

// instructFinish settles the transfer over LAN. Callers must hold c.mu.
func (c *Coordinator) instructFinish(ctx *transferContext, reason string) {
	if _, done := finishFinalStatuses[ctx.status]; done {
		return
	}
	c.updateTransferState(ctx, TransferStatusLANSuccess, reason)
	c.emitTransferCommand(ctx, TransferActionFinish, reason)
	metrics.Transfers.WithLabelValues(TransferStatusLANSuccess).Inc()
}

// startDecisionTimer arms the fallback for a transfer still waiting on the
// receiver when its decision window closes. The timer dies with the
// coordinator.
func (c *Coordinator) startDecisionTimer(transferID string, deadlineMS int64) {
	delay := time.Duration(deadlineMS-c.nowMS()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}
		c.resolveDecisionTimeout(transferID)
	}()
}

// resolveDecisionTimeout fires the relay fallback if the transfer is still
// undecided.
func (c *Coordinator) resolveDecisionTimeout(transferID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := c.transfers[transferID]
	if ctx == nil {
		return
	}
	if _, pending := decisionPendingStatuses[ctx.status]; !pending {
		return
	}
	c.logger.Info("Transfer decision window elapsed",
		zap.String("transfer_id", transferID),
		zap.String("status", ctx.status))
	c.instructUploadRelay(ctx, "decision_timeout")
}
