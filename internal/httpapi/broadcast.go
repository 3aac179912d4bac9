package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"hivegate.org/internal/audit"
	"hivegate.org/internal/auth"
	"hivegate.org/internal/gate"
	"hivegate.org/internal/hive"
	"hivegate.org/internal/ledger"
	"hivegate.org/internal/obs"
	"hivegate.org/internal/ops"
	"hivegate.org/internal/relay"
)

type broadcastRequest struct {
	Operations ops.Batch `json:"operations"`
}

type broadcastResponse struct {
	Result ledger.Receipt `json:"result"`
}

func (a *API) handleBroadcast(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		obs.ObserveGateDecision(string(gate.MalformedPayload))
		writeError(w, r, http.StatusBadRequest, string(gate.MalformedPayload), err.Error())
		return
	}

	approved, err := a.gate.Authorize(id, req.Operations)
	if err != nil {
		var rej *gate.Rejection
		if !errors.As(err, &rej) {
			writeError(w, r, http.StatusInternalServerError, "server_error", "authorization failed")
			return
		}
		obs.ObserveGateDecision(string(rej.Category))
		_ = audit.LogEvent(ctx, audit.BroadcastDenied, map[string]any{
			"category":   string(rej.Category),
			"types":      rej.Types(),
			"violations": len(rej.Violations),
		})
		status := http.StatusUnauthorized
		if rej.Category == gate.MalformedPayload {
			status = http.StatusBadRequest
		}
		writeError(w, r, status, string(rej.Category), rej.Description())
		return
	}
	obs.ObserveGateDecision("approved")

	receipt, err := a.relay.Broadcast(ctx, approved)
	if errors.Is(err, hive.ErrInvalidOperation) || errors.Is(err, hive.ErrUnsupportedOperation) {
		obs.ObserveBroadcast("invalid")
		writeError(w, r, http.StatusBadRequest, string(gate.MalformedPayload), err.Error())
		return
	}
	if err != nil {
		a.broadcastFailed(w, r, approved, err)
		return
	}

	obs.ObserveBroadcast("success")
	obs.LogEvent(obs.LevelInfo, fmt.Sprintf("Broadcasted: success for @%s from app @%s", approved.User(), approved.App()), map[string]any{
		"request_id": audit.RequestIDFromContext(ctx),
		"node":       a.nodeAddress(),
		"tx_id":      receipt.ID,
		"block_num":  receipt.BlockNum,
	})
	_ = audit.LogEvent(ctx, audit.BroadcastSuccess, map[string]any{
		"tx_id":     receipt.ID,
		"block_num": receipt.BlockNum,
		"types":     approved.Batch().Types(),
	})
	writeJSON(w, http.StatusOK, broadcastResponse{Result: receipt})
}

// broadcastFailed reports a relay error. Node rejections are passed back
// as the node worded them.
func (a *API) broadcastFailed(w http.ResponseWriter, r *http.Request, approved gate.Approved, err error) {
	ctx := r.Context()
	outcome := "failed"
	var response any = map[string]any{"message": err.Error()}
	description := err.Error()

	var rpcErr *ledger.RPCError
	switch {
	case errors.As(err, &rpcErr):
		outcome = "rejected"
		response = rpcErr
		description = rpcErr.Message
	case errors.Is(err, relay.ErrPrepare), errors.Is(err, ledger.ErrUnavailable):
		outcome = "unavailable"
	}

	obs.ObserveBroadcast(outcome)
	obs.LogEvent(obs.LevelError, fmt.Sprintf("Broadcasted: failed for @%s from app @%s", approved.User(), approved.App()), map[string]any{
		"request_id": audit.RequestIDFromContext(ctx),
		"node":       a.nodeAddress(),
		"types":      approved.Batch().Types(),
		"error":      err,
	})
	_ = audit.LogEvent(ctx, audit.BroadcastFailed, map[string]any{
		"outcome": outcome,
		"error":   description,
	})
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":             "server_error",
		"error_description": description,
		"response":          response,
	})
}
