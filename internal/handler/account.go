package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/middleware"
	"github.com/voxgate/voxgate/internal/model"
)

// AccountService is the subset of service.AccountService used by the handlers.
type AccountService interface {
	Register(ctx context.Context, email, plan string) (*model.User, error)
	IssueAPIKey(ctx context.Context, identityToken string) (*model.APIKey, error)
}

// AccountHandler handles registration and API key issuance.
type AccountHandler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(svc AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

// Register creates a user and returns its identity token.
// POST /register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.svc.Register(r.Context(), req.Email, req.SubscriptionPlan)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.RegisterResponse{
		Message: "User registered successfully",
		Token:   user.IdentityToken,
	})
}

// GenerateAPIKey issues a new API key to the holder of an identity token.
// POST /generate-api-key
func (h *AccountHandler) GenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.svc.IssueAPIKey(r.Context(), middleware.BearerToken(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.APIKeyCreateResponse{APIKey: key.Key})
}

// writeError renders err as an error envelope. Internal failures are logged
// with their cause; the client only sees a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if apperr.KindOf(err) == apperr.Internal {
		logger.Error("request failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
	}
	apperr.Write(w, err)
}
