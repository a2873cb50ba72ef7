package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/gate"
	"github.com/voxgate/voxgate/internal/quota"
)

// Quota response headers.
const (
	QuotaLimitHeader     = "X-Quota-Limit"
	QuotaRemainingHeader = "X-Quota-Remaining"
	QuotaResetHeader     = "X-Quota-Reset"
)

// GateConfig holds configuration for the request gate middleware.
type GateConfig struct {
	Logger *slog.Logger
	Gate   *gate.Gate
	// Endpoint is the name recorded in the request log.
	Endpoint string
	// Prechecks run after authentication and before quota is consulted.
	Prechecks []gate.Precheck
	// MinFailureDuration pads rejected credential checks so that unknown
	// and malformed keys take the same time to fail.
	MinFailureDuration time.Duration
}

// RequireAPIKey returns a middleware that admits a request through the gate.
// Admitted requests carry the auth context and have already been logged
// against the key's monthly quota.
func RequireAPIKey(cfg GateConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			key := extractAPIKey(r)

			authCtx, err := cfg.Gate.Authenticate(r.Context(), key, cfg.Endpoint)
			if err != nil {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", string(apperr.KindOf(err))),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", cfg.Endpoint),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				padFailure(start, cfg.MinFailureDuration)
				apperr.Write(w, err)
				return
			}

			// Prechecks may parse a multipart body that spills to disk.
			// Once admitted the handler owns it; any rejection from here
			// on removes it before returning.
			admitted := false
			defer func() {
				if !admitted && r.MultipartForm != nil {
					_ = r.MultipartForm.RemoveAll()
				}
			}()

			for _, check := range cfg.Prechecks {
				if err := check(r); err != nil {
					cfg.Gate.Reject(cfg.Endpoint)
					apperr.Write(w, err)
					return
				}
			}

			usage, err := cfg.Gate.Reserve(r.Context(), authCtx, cfg.Endpoint)
			if usage.Limit > 0 {
				setQuotaHeaders(w, usage)
			}
			if err != nil {
				if apperr.KindOf(err) == apperr.Internal {
					cfg.Logger.Error("quota reservation failed",
						slog.String("error", err.Error()),
						slog.String("key_id", authCtx.KeyID),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				apperr.Write(w, err)
				return
			}

			cfg.Logger.Debug("request admitted",
				slog.String("key_id", authCtx.KeyID),
				slog.String("user_id", authCtx.UserID),
				slog.String("endpoint", cfg.Endpoint),
				slog.Int("remaining", usage.Remaining),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			admitted = true
			annotate(r.Context(), authCtx.KeyID, cfg.Endpoint)
			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractAPIKey extracts the API key from the request.
// Supports both "X-API-Key: <key>" and "Authorization: Bearer <key>" headers.
func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return BearerToken(r)
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[7:])
}

func setQuotaHeaders(w http.ResponseWriter, usage quota.Usage) {
	w.Header().Set(QuotaLimitHeader, strconv.Itoa(usage.Limit))
	w.Header().Set(QuotaRemainingHeader, strconv.Itoa(usage.Remaining))
	w.Header().Set(QuotaResetHeader, strconv.FormatInt(usage.ResetAt.Unix(), 10))
}

func padFailure(start time.Time, floor time.Duration) {
	if elapsed := time.Since(start); elapsed < floor {
		time.Sleep(floor - elapsed)
	}
}
