package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"openocpp/backend/libs/registry"
	"openocpp/backend/services/ocpp-server/internal/bridge"
)

// CardCommand is the vendor command that puts a charger into card-reading mode.
const CardCommand = "uvCardRegister"

// TagRegistrar stores newly read cards.
type TagRegistrar interface {
	RegisterIDTag(ctx context.Context, tag, status, cardName string, expiryDays int) (registry.IDTag, error)
}

// CardsHandler serves POST /cards/register-online.
type CardsHandler struct {
	bridge     Bridge
	tags       TagRegistrar
	expiryDays int
	logger     *zap.Logger
}

// NewCardsHandler ctor.
func NewCardsHandler(b Bridge, tags TagRegistrar, expiryDays int, logger *zap.Logger) *CardsHandler {
	return &CardsHandler{bridge: b, tags: tags, expiryDays: expiryDays, logger: logger}
}

// RegisterOnline asks the charger to read a card and stores the tag it reports.
func (h *CardsHandler) RegisterOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardName       string `json:"cardname"`
		ChargerID      string `json:"chargerId"`
		ChargerIDSnake string `json:"charger_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChargerID == "" {
		req.ChargerID = req.ChargerIDSnake
	}
	req.ChargerID = strings.TrimSpace(req.ChargerID)
	req.CardName = strings.TrimSpace(req.CardName)
	if req.ChargerID == "" || req.CardName == "" {
		writeError(w, http.StatusBadRequest, "Charger ID and Card name are both required.")
		return
	}

	data, _ := json.Marshal(map[string]string{"memberId": "admin", "targetcp": req.ChargerID})
	value, err := h.bridge.VendorCommand(r.Context(), req.ChargerID, CardCommand, data, bridge.AwaitAuthorize)
	if err != nil {
		h.logger.Warn("card registration failed", zap.String("station_id", req.ChargerID), operator(r), zap.Error(err))
		writeError(w, bridgeStatus(err), err.Error())
		return
	}

	var tag string
	if err := json.Unmarshal(value, &tag); err != nil || strings.TrimSpace(tag) == "" {
		writeError(w, http.StatusBadGateway, "Card number is not retrieved.")
		return
	}

	info, err := h.tags.RegisterIDTag(r.Context(), tag, registry.TagAccepted, req.CardName, h.expiryDays)
	if err != nil {
		h.logger.Error("store card failed", zap.String("id_tag", tag), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store card")
		return
	}

	h.logger.Info("card registered", zap.String("station_id", req.ChargerID), zap.String("id_tag", tag), operator(r))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "Card added successfully.",
		"idTag":      tag,
		"cardname":   info.CardName,
		"expiryDate": info.ExpiryDate,
	})
}
