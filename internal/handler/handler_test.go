package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxgate/voxgate/internal/model"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestHandler_Index(t *testing.T) {
	h := New("1.2.3")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	h.Index(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var response map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["service"] != "voxgate" || response["version"] != "1.2.3" {
		t.Errorf("unexpected response: %v", response)
	}
}

func TestHandler_Languages(t *testing.T) {
	h := New("dev")

	req := httptest.NewRequest(http.MethodGet, "/languages", nil)
	rec := httptest.NewRecorder()

	h.Languages(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var response LanguagesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Default != model.DefaultLanguage {
		t.Errorf("default = %q, want %q", response.Default, model.DefaultLanguage)
	}
	if len(response.Languages) != len(model.SupportedLanguageNames()) {
		t.Errorf("got %d languages, want %d", len(response.Languages), len(model.SupportedLanguageNames()))
	}

	found := false
	for _, lang := range response.Languages {
		if lang.Name == "german" {
			found = true
			if lang.Code != "de-DE" {
				t.Errorf("german code = %q, want de-DE", lang.Code)
			}
		}
	}
	if !found {
		t.Error("german missing from language list")
	}
}

func TestHandler_NotFound(t *testing.T) {
	h := New("dev")

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()

	h.NotFound(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}

	if body := decodeError(t, rec); body.Error.Code != "NOT_FOUND" {
		t.Errorf("unexpected error code: %s", body.Error.Code)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := New("dev")

	req := httptest.NewRequest(http.MethodDelete, "/register", nil)
	rec := httptest.NewRecorder()

	h.MethodNotAllowed(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}

	if body := decodeError(t, rec); body.Error.Code != "METHOD_NOT_ALLOWED" {
		t.Errorf("unexpected error code: %s", body.Error.Code)
	}
}
