package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/aurora-telemetry/internal/consent"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
)

type ConsentRecorder interface {
	Record(ctx context.Context, d domain.ConsentDecision) (domain.ConsentDecision, error)
}

type ConsentHandler struct {
	ledger ConsentRecorder
	logger *zap.Logger
}

func NewConsentHandler(l ConsentRecorder, logger *zap.Logger) *ConsentHandler {
	return &ConsentHandler{ledger: l, logger: logger}
}

type DecisionRequest struct {
	SessionID string          `json:"session_id"`
	Action    string          `json:"action"`
	Decision  domain.Decision `json:"decision"`
	Risk      domain.Risk     `json:"risk"`
	TTLHours  int             `json:"ttl_hours"`
}

type DecisionResponse struct {
	Status   string                 `json:"status"`
	Decision domain.ConsentDecision `json:"decision"`
}

// Decide фиксирует решение пользователя (approved | denied)
// POST /consent/decision
func (h *ConsentHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.ledger.Record(r.Context(), domain.ConsentDecision{
		SessionID: req.SessionID,
		Action:    req.Action,
		Decision:  req.Decision,
		Risk:      req.Risk,
		TTLHours:  req.TTLHours,
	})
	switch {
	case errors.Is(err, consent.ErrInvalidDecision):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("consent decision not stored", zap.Error(err))
		http.Error(w, "consent storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, DecisionResponse{Status: "ok", Decision: d})
}
