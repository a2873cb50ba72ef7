// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/middleware"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/repository"
)

// maxKeyRetries bounds regeneration after a key collision.
const maxKeyRetries = 3

// Registration outcomes recorded in metrics.
const (
	registrationCreated   = "created"
	registrationDuplicate = "duplicate"
	registrationInvalid   = "invalid"
)

// AccountStore is the identity storage used for accounts and keys.
type AccountStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByIdentityToken(ctx context.Context, token string) (*model.User, error)
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
}

// AccountService registers users and issues API keys.
type AccountService struct {
	store   AccountStore
	tokens  *auth.TokenIssuer
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
	keygen  func() (string, error)
}

// NewAccountService creates a new AccountService.
func NewAccountService(store AccountStore, tokens *auth.TokenIssuer, recorder metrics.Recorder, logger *slog.Logger) *AccountService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		store:   store,
		tokens:  tokens,
		metrics: recorder,
		logger:  logger,
		now:     time.Now,
		keygen:  auth.GenerateAPIKey,
	}
}

// Register creates a user and returns it with its identity token set. Both
// email and plan are required.
func (s *AccountService) Register(ctx context.Context, email, plan string) (*model.User, error) {
	email = middleware.NormalizeEmail(email)
	if err := middleware.ValidateEmail(email); err != nil {
		s.metrics.IncRegistration(registrationInvalid)
		return nil, apperr.Wrap(apperr.InvalidRequest, "Invalid email address", err)
	}

	if strings.TrimSpace(plan) == "" {
		s.metrics.IncRegistration(registrationInvalid)
		return nil, apperr.New(apperr.InvalidRequest, "Missing subscription plan. Choose from: "+planNames())
	}
	p, err := model.ParsePlan(plan)
	if err != nil {
		s.metrics.IncRegistration(registrationInvalid)
		return nil, apperr.Wrap(apperr.InvalidRequest, "Invalid subscription plan. Choose from: "+planNames(), err)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		s.metrics.IncRegistration(registrationDuplicate)
		return nil, apperr.New(apperr.DuplicateRegistration, "Email already registered")
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	token, err := s.tokens.Issue(email)
	if err != nil {
		return nil, fmt.Errorf("issue identity token: %w", err)
	}

	user := &model.User{
		ID:            ulid.Make().String(),
		Email:         email,
		Plan:          p,
		IdentityToken: token,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		// A concurrent registration can win the race after the lookup.
		if errors.Is(err, repository.ErrEmailExists) {
			s.metrics.IncRegistration(registrationDuplicate)
			return nil, apperr.New(apperr.DuplicateRegistration, "Email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.metrics.IncRegistration(registrationCreated)
	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("plan", string(user.Plan)),
	)

	return user, nil
}

// IssueAPIKey verifies an identity token and mints a new API key for the
// user holding it.
func (s *AccountService) IssueAPIKey(ctx context.Context, identityToken string) (*model.APIKey, error) {
	if identityToken == "" {
		return nil, apperr.New(apperr.MissingCredential, "No token provided")
	}

	if _, err := s.tokens.Verify(identityToken); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByIdentityToken(ctx, identityToken)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.New(apperr.UnknownUser, "User not found")
		}
		return nil, fmt.Errorf("lookup user by token: %w", err)
	}

	return s.IssueAPIKeyForUser(ctx, user)
}

// IssueAPIKeyForUser mints a new API key for user. A user may hold any
// number of keys; each has its own quota.
func (s *AccountService) IssueAPIKeyForUser(ctx context.Context, user *model.User) (*model.APIKey, error) {
	for attempt := 0; attempt < maxKeyRetries; attempt++ {
		raw, err := s.keygen()
		if err != nil {
			return nil, fmt.Errorf("generate api key: %w", err)
		}

		key := &model.APIKey{
			ID:        ulid.Make().String(),
			Key:       raw,
			UserID:    user.ID,
			CreatedAt: s.now().UTC(),
		}

		if err := s.store.CreateAPIKey(ctx, key); err != nil {
			if errors.Is(err, repository.ErrAPIKeyExists) {
				continue
			}
			return nil, fmt.Errorf("create api key: %w", err)
		}

		s.metrics.IncAPIKeyIssued()
		s.logger.Info("api key issued",
			slog.String("key_id", key.ID),
			slog.String("user_id", user.ID),
		)
		return key, nil
	}

	return nil, fmt.Errorf("create api key: %w", repository.ErrAPIKeyExists)
}

func planNames() string {
	names := make([]string, len(model.ValidPlans))
	for i, p := range model.ValidPlans {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
