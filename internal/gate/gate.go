// Package gate admits protected calls. It resolves an API key to its owning
// user, reserves one unit of the key's monthly quota and writes exactly one
// request log entry per admitted call, before the protected operation runs.
//
// The quota check and the log insert are a single atomic storage operation,
// serialized per API key, so concurrent calls near the limit cannot be
// over-admitted.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/quota"
	"github.com/voxgate/voxgate/internal/repository"
)

// lastUsedTimeout bounds the background last_used_at update.
const lastUsedTimeout = 5 * time.Second

// Store is the identity storage the gate resolves keys against.
type Store interface {
	GetAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
}

// AuthCache caches resolved auth contexts by key digest.
type AuthCache interface {
	GetAuthContext(ctx context.Context, digest string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, digest string, auth *model.AuthContext) error
}

// Precheck validates a request after authentication and before any quota is
// consulted. A non-nil error rejects the call without writing a log entry.
type Precheck func(r *http.Request) error

// Config holds the gate's collaborators. Cache is optional; leave it nil
// (not a typed nil pointer) to always resolve keys from the store.
type Config struct {
	Store   Store
	Ledger  *quota.Ledger
	Cache   AuthCache
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Gate admits or rejects protected calls.
type Gate struct {
	store   Store
	ledger  *quota.Ledger
	cache   AuthCache
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	wg sync.WaitGroup
}

// New creates a Gate.
func New(cfg Config) *Gate {
	g := &Gate{
		store:   cfg.Store,
		ledger:  cfg.Ledger,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if g.metrics == nil {
		g.metrics = metrics.NewNoop()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newID == nil {
		g.newID = func() string { return ulid.Make().String() }
	}
	return g
}

// Admit authenticates apiKey and reserves quota for one call to endpoint.
// On success the call has been logged and may proceed.
func (g *Gate) Admit(ctx context.Context, apiKey, endpoint string) (*model.AuthContext, quota.Usage, error) {
	authCtx, err := g.Authenticate(ctx, apiKey, endpoint)
	if err != nil {
		return nil, quota.Usage{}, err
	}
	usage, err := g.Reserve(ctx, authCtx, endpoint)
	if err != nil {
		return authCtx, usage, err
	}
	return authCtx, usage, nil
}

// Authenticate resolves apiKey to an auth context without touching quota.
// Rejections are recorded under endpoint.
func (g *Gate) Authenticate(ctx context.Context, apiKey, endpoint string) (*model.AuthContext, error) {
	if apiKey == "" {
		g.metrics.IncGateDecision(endpoint, metrics.OutcomeMissingKey)
		return nil, apperr.New(apperr.MissingCredential, "API key is missing")
	}

	if !auth.ValidateKeyFormat(apiKey) {
		g.metrics.IncGateDecision(endpoint, metrics.OutcomeInvalidKey)
		return nil, apperr.New(apperr.InvalidCredential, "Invalid API key")
	}

	digest := auth.KeyDigest(apiKey)
	if authCtx := g.cachedAuth(ctx, digest); authCtx != nil {
		return authCtx, nil
	}

	key, err := g.store.GetAPIKeyByKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			g.metrics.IncGateDecision(endpoint, metrics.OutcomeInvalidKey)
			return nil, apperr.New(apperr.InvalidCredential, "Invalid API key")
		}
		g.metrics.IncGateDecision(endpoint, metrics.OutcomeError)
		return nil, apperr.Wrap(apperr.Internal, "lookup api key", err)
	}

	user, err := g.store.GetUserByID(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			g.logger.Warn("api key has no owning user",
				slog.String("key_id", key.ID),
				slog.String("user_id", key.UserID),
			)
			g.metrics.IncGateDecision(endpoint, metrics.OutcomeUnknownUser)
			return nil, apperr.New(apperr.UnknownUser, "User not found")
		}
		g.metrics.IncGateDecision(endpoint, metrics.OutcomeError)
		return nil, apperr.Wrap(apperr.Internal, "lookup user", err)
	}

	authCtx := &model.AuthContext{
		KeyID:  key.ID,
		UserID: user.ID,
		Email:  user.Email,
		Plan:   user.Plan,
	}

	if g.cache != nil {
		if err := g.cache.SetAuthContext(ctx, digest, authCtx); err != nil {
			g.logger.Debug("auth cache write failed", slog.String("error", err.Error()))
		}
	}

	g.touchLastUsed(ctx, key.ID)

	return authCtx, nil
}

// Reserve writes the log entry for one call to endpoint if the key is under
// its plan limit. A spent quota yields apperr.QuotaExceeded and no entry.
func (g *Gate) Reserve(ctx context.Context, authCtx *model.AuthContext, endpoint string) (quota.Usage, error) {
	entry := &model.RequestLogEntry{
		ID:        g.newID(),
		APIKeyID:  authCtx.KeyID,
		UserID:    authCtx.UserID,
		UserEmail: authCtx.Email,
		Endpoint:  endpoint,
		Timestamp: g.now().UTC(),
	}

	usage, err := g.ledger.Reserve(ctx, entry, authCtx.Plan)
	if err != nil {
		if apperr.IsKind(err, apperr.QuotaExceeded) {
			g.logger.Info("quota exceeded",
				slog.String("key_id", authCtx.KeyID),
				slog.String("plan", string(authCtx.Plan)),
				slog.Int("limit", usage.Limit),
				slog.String("endpoint", endpoint),
			)
			g.metrics.IncGateDecision(endpoint, metrics.OutcomeQuotaExceeded)
			return usage, err
		}
		g.metrics.IncGateDecision(endpoint, metrics.OutcomeError)
		return quota.Usage{}, apperr.Wrap(apperr.Internal, "reserve quota", err)
	}

	g.metrics.IncGateDecision(endpoint, metrics.OutcomeAdmitted)
	return usage, nil
}

// Reject records a call that was refused after authentication by a
// precheck.
func (g *Gate) Reject(endpoint string) {
	g.metrics.IncGateDecision(endpoint, metrics.OutcomeRejected)
}

// Wait blocks until background last-used updates have finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

func (g *Gate) cachedAuth(ctx context.Context, digest string) *model.AuthContext {
	if g.cache == nil {
		return nil
	}
	authCtx, err := g.cache.GetAuthContext(ctx, digest)
	if err != nil {
		g.logger.Debug("auth cache read failed", slog.String("error", err.Error()))
	}
	if authCtx == nil {
		g.metrics.IncAuthCacheMiss()
		return nil
	}
	g.metrics.IncAuthCacheHit()
	return authCtx
}

// touchLastUsed updates last_used_at in the background. The update is
// informational and never affects admission.
func (g *Gate) touchLastUsed(ctx context.Context, keyID string) {
	at := g.now().UTC()
	bg := context.WithoutCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(bg, lastUsedTimeout)
		defer cancel()
		if err := g.store.UpdateAPIKeyLastUsed(ctx, keyID, at); err != nil {
			g.logger.Debug("update last_used_at failed",
				slog.String("key_id", keyID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
