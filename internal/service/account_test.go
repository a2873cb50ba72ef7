package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/repository/memory"
	"github.com/voxgate/voxgate/internal/testutil"
)

func newAccountService(t *testing.T) (*AccountService, *memory.Store, *auth.TokenIssuer, *metrics.InMemoryRecorder) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-secret", 0)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	store := memory.New()
	rec := metrics.NewInMemory()
	return NewAccountService(store, issuer, rec, testutil.DiscardLogger()), store, issuer, rec
}

func TestRegister_Success(t *testing.T) {
	svc, store, issuer, rec := newAccountService(t)

	user, err := svc.Register(context.Background(), "  Ada@Example.com ", "Silver")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if user.Email != "ada@example.com" || user.Plan != model.PlanSilver {
		t.Errorf("unexpected user: %+v", user)
	}
	email, err := issuer.Verify(user.IdentityToken)
	if err != nil || email != "ada@example.com" {
		t.Errorf("token verifies to %q, %v", email, err)
	}
	if store.UserCount() != 1 {
		t.Errorf("UserCount = %d, want 1", store.UserCount())
	}
	if rec.Snapshot().Registrations["created"] != 1 {
		t.Error("registration metric not recorded")
	}
}

func TestRegister_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		plan     string
		wantKind apperr.Kind
	}{
		{"missing email", "", "free", apperr.InvalidRequest},
		{"malformed email", "not-an-email", "free", apperr.InvalidRequest},
		{"unknown plan", "linus@example.com", "platinum", apperr.InvalidRequest},
		{"missing plan", "grace@example.com", "", apperr.InvalidRequest},
		{"blank plan", "grace@example.com", "   ", apperr.InvalidRequest},
		{"email over column width", strings.Repeat("a", 109) + "@example.com", "free", apperr.InvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _, _ := newAccountService(t)

			_, err := svc.Register(context.Background(), tt.email, tt.plan)
			if !apperr.IsKind(err, tt.wantKind) {
				t.Fatalf("err = %v, want %s", err, tt.wantKind)
			}
			if store.UserCount() != 0 {
				t.Error("rejected registration must not create a user")
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc, store, _, _ := newAccountService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ken@example.com", "gold"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := svc.Register(ctx, "KEN@example.com", "free")
	if !apperr.IsKind(err, apperr.DuplicateRegistration) {
		t.Fatalf("err = %v, want DuplicateRegistration", err)
	}
	if store.UserCount() != 1 {
		t.Errorf("UserCount = %d, want 1", store.UserCount())
	}
}

func TestIssueAPIKey(t *testing.T) {
	svc, store, issuer, rec := newAccountService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "barbara@example.com", "free")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	first, err := svc.IssueAPIKey(ctx, user.IdentityToken)
	if err != nil {
		t.Fatalf("IssueAPIKey: %v", err)
	}
	second, err := svc.IssueAPIKey(ctx, user.IdentityToken)
	if err != nil {
		t.Fatalf("second IssueAPIKey: %v", err)
	}

	if !auth.ValidateKeyFormat(first.Key) || first.UserID != user.ID {
		t.Errorf("unexpected key: %+v", first)
	}
	if first.Key == second.Key {
		t.Error("each call should mint a distinct key")
	}
	if store.APIKeyCount() != 2 {
		t.Errorf("APIKeyCount = %d, want 2", store.APIKeyCount())
	}
	if rec.Snapshot().APIKeysIssued != 2 {
		t.Error("api key metric not recorded")
	}

	// A correctly signed token that no user holds.
	orphan, _ := issuer.Issue("nobody@example.com")

	tests := []struct {
		name     string
		token    string
		wantKind apperr.Kind
	}{
		{"missing", "", apperr.MissingCredential},
		{"garbage", "not.a.jwt", apperr.InvalidCredential},
		{"orphan", orphan, apperr.UnknownUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.IssueAPIKey(ctx, tt.token); !apperr.IsKind(err, tt.wantKind) {
				t.Errorf("err = %v, want %s", err, tt.wantKind)
			}
		})
	}
}

func TestIssueAPIKeyForUser_RetriesOnCollision(t *testing.T) {
	svc, store, _, _ := newAccountService(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, model.PlanFree)
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	taken := testutil.NewTestAPIKey(t, user.ID)
	if err := store.CreateAPIKey(ctx, taken); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	fresh, _ := auth.GenerateAPIKey()
	queue := []string{taken.Key, taken.Key, fresh}
	svc.keygen = func() (string, error) {
		k := queue[0]
		queue = queue[1:]
		return k, nil
	}

	key, err := svc.IssueAPIKeyForUser(ctx, user)
	if err != nil {
		t.Fatalf("IssueAPIKeyForUser: %v", err)
	}
	if key.Key != fresh {
		t.Errorf("expected the third candidate to be stored")
	}
}

func TestIssueAPIKeyForUser_GivesUpAfterRetries(t *testing.T) {
	svc, store, _, _ := newAccountService(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, model.PlanFree)
	_ = store.CreateUser(ctx, user)
	taken := testutil.NewTestAPIKey(t, user.ID)
	_ = store.CreateAPIKey(ctx, taken)

	svc.keygen = func() (string, error) { return taken.Key, nil }

	if _, err := svc.IssueAPIKeyForUser(ctx, user); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}

	svc.keygen = func() (string, error) { return "", errors.New("entropy exhausted") }
	if _, err := svc.IssueAPIKeyForUser(ctx, user); err == nil {
		t.Fatal("expected generator errors to propagate")
	}
}
