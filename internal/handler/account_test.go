package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/repository/memory"
	"github.com/voxgate/voxgate/internal/service"
	"github.com/voxgate/voxgate/internal/testutil"
)

func newAccountHandler(t *testing.T) (*AccountHandler, *memory.Store) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("handler-test-secret", 0)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	store := memory.New()
	svc := service.NewAccountService(store, issuer, metrics.NewNoop(), testutil.DiscardLogger())
	return NewAccountHandler(svc, testutil.DiscardLogger()), store
}

func register(t *testing.T, h *AccountHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	return rec
}

func TestAccountHandler_Register(t *testing.T) {
	h, store := newAccountHandler(t)

	rec := register(t, h, `{"email":"ada@example.com","subscription_plan":"gold"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Message string `json:"message"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Message != "User registered successfully" {
		t.Errorf("unexpected message: %q", response.Message)
	}
	if response.Token == "" {
		t.Error("expected identity token in response")
	}
	if store.UserCount() != 1 {
		t.Errorf("UserCount = %d, want 1", store.UserCount())
	}
}

func TestAccountHandler_RegisterRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"empty body", ``, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed json", `{"email":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown field", `{"email":"a@example.com","admin":true}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"trailing data", `{"email":"a@example.com"}{"email":"b@example.com"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing email", `{"subscription_plan":"free"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown plan", `{"email":"a@example.com","subscription_plan":"platinum"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing plan", `{"email":"a@example.com"}`, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newAccountHandler(t)

			rec := register(t, h, tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if body := decodeError(t, rec); body.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if store.UserCount() != 0 {
				t.Errorf("UserCount = %d, want 0", store.UserCount())
			}
		})
	}
}

func TestAccountHandler_RegisterDuplicate(t *testing.T) {
	h, _ := newAccountHandler(t)

	if rec := register(t, h, `{"email":"ada@example.com","subscription_plan":"free"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first registration: status %d", rec.Code)
	}

	rec := register(t, h, `{"email":"ADA@example.com","subscription_plan":"silver"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != "DUPLICATE_REGISTRATION" {
		t.Errorf("unexpected error code: %s", body.Error.Code)
	}
}

func TestAccountHandler_GenerateAPIKey(t *testing.T) {
	h, store := newAccountHandler(t)

	rec := register(t, h, `{"email":"ada@example.com","subscription_plan":"free"}`)
	var registered struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&registered); err != nil {
		t.Fatalf("failed to decode registration: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/generate-api-key", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	rec = httptest.NewRecorder()

	h.GenerateAPIKey(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !auth.ValidateKeyFormat(response.APIKey) {
		t.Errorf("issued key has invalid format: %q", response.APIKey)
	}
	if store.APIKeyCount() != 1 {
		t.Errorf("APIKeyCount = %d, want 1", store.APIKeyCount())
	}
}

func TestAccountHandler_GenerateAPIKeyRejections(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{"no header", "", "MISSING_CREDENTIAL"},
		{"basic auth", "Basic dXNlcjpwYXNz", "MISSING_CREDENTIAL"},
		{"garbage token", "Bearer not.a.token", "INVALID_CREDENTIAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newAccountHandler(t)

			req := httptest.NewRequest(http.MethodPost, "/generate-api-key", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.GenerateAPIKey(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if body := decodeError(t, rec); body.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if store.APIKeyCount() != 0 {
				t.Errorf("APIKeyCount = %d, want 0", store.APIKeyCount())
			}
		})
	}
}
