package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/bridge"
)

// SendHandler serves POST /send.
//
// The endpoint always answers 200: {"value": ...} on success and {"value": null, "error": ...}
// on any failure, including a malformed request body.
type SendHandler struct {
	bridge           Bridge
	authorizeCarried map[string]bool
	logger           *zap.Logger
}

// NewSendHandler returns a SendHandler. Commands named in authorizeCarried resolve with the
// next Authorize idTag from the target; all others with the reply to the call.
func NewSendHandler(b Bridge, authorizeCarried []string, logger *zap.Logger) *SendHandler {
	carried := make(map[string]bool, len(authorizeCarried))
	for _, name := range authorizeCarried {
		carried[strings.TrimSpace(name)] = true
	}
	return &SendHandler{bridge: b, authorizeCarried: carried, logger: logger}
}

type sendRequest struct {
	TargetID       string          `json:"targetId"`
	OutboundAction string          `json:"outboundAction"`
	Payload        json.RawMessage `json:"payload"`
	// Timeout in seconds; zero or less keeps the bridge default, which also caps it.
	Timeout int `json:"timeout"`

	// Older admin clients.
	ChargerID      string          `json:"chargerId"`
	ChargerIDSnake string          `json:"charger_id"`
	MessageID      string          `json:"messageId"`
	Data           json.RawMessage `json:"data"`
}

func (r *sendRequest) normalize() {
	if r.TargetID == "" {
		r.TargetID = r.ChargerID
	}
	if r.TargetID == "" {
		r.TargetID = r.ChargerIDSnake
	}
	if r.OutboundAction == "" {
		r.OutboundAction = r.MessageID
	}
	if len(r.Payload) == 0 {
		r.Payload = r.Data
	}
	r.TargetID = strings.TrimSpace(r.TargetID)
	r.OutboundAction = strings.TrimSpace(r.OutboundAction)
}

type sendResponse struct {
	Value json.RawMessage `json:"value"`
	Error string          `json:"error,omitempty"`
}

// Send relays one command and waits for its correlated value.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, sendResponse{Error: "invalid JSON body"})
		return
	}
	req.normalize()
	if req.TargetID == "" || req.OutboundAction == "" {
		writeJSON(w, http.StatusOK, sendResponse{Error: "targetId and outboundAction are required"})
		return
	}

	payload := req.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload, _ = json.Marshal(map[string]string{"memberId": "admin", "targetcp": req.TargetID})
	}

	await := bridge.AwaitCallResult
	if h.authorizeCarried[req.OutboundAction] {
		await = bridge.AwaitAuthorize
	}

	h.logger.Info("send",
		zap.String("station_id", req.TargetID),
		zap.String("action", req.OutboundAction),
		operator(r))

	ctx := r.Context()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
		defer cancel()
	}

	value, err := h.bridge.VendorCommand(ctx, req.TargetID, req.OutboundAction, payload, await)
	if err != nil {
		h.logger.Warn("send failed",
			zap.String("station_id", req.TargetID),
			zap.String("action", req.OutboundAction),
			operator(r),
			zap.Error(err))
		writeJSON(w, http.StatusOK, sendResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{Value: value})
}
