package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/quota"
)

// UsageReporter reports quota consumption for a key.
type UsageReporter interface {
	Usage(ctx context.Context, apiKeyID string, plan model.Plan, now time.Time) (quota.Usage, error)
}

// UsageHandler reports the calling key's quota.
type UsageHandler struct {
	ledger UsageReporter
	logger *slog.Logger
	now    func() time.Time
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(ledger UsageReporter, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{ledger: ledger, logger: logger, now: time.Now}
}

// Usage returns consumption in the current quota window, including this call.
// GET /usage
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil {
		apperr.WriteKind(w, apperr.MissingCredential, "API key is missing")
		return
	}

	usage, err := h.ledger.Usage(r.Context(), authCtx.KeyID, authCtx.Plan, h.now())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UsageResponse{
		Plan:      authCtx.Plan,
		Limit:     usage.Limit,
		Used:      usage.Used,
		Remaining: usage.Remaining,
		ResetAt:   usage.ResetAt,
	})
}
