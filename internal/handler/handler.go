// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/middleware"
	"github.com/voxgate/voxgate/internal/model"
)

// Handler serves the unauthenticated informational routes.
type Handler struct {
	version string
}

// New creates a new Handler instance.
func New(version string) *Handler {
	return &Handler{version: version}
}

// LanguagesResponse lists the selectors accepted by /speech-to-text.
type LanguagesResponse struct {
	Default   string           `json:"default"`
	Languages []model.Language `json:"languages"`
}

// Index reports the service name and version.
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "voxgate",
		"version": h.version,
	})
}

// Languages lists supported transcription languages.
// GET /languages
func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	names := model.SupportedLanguageNames()
	langs := make([]model.Language, 0, len(names))
	for _, name := range names {
		lang, _ := model.LookupLanguage(name)
		langs = append(langs, lang)
	}
	writeJSON(w, http.StatusOK, LanguagesResponse{
		Default:   model.DefaultLanguage,
		Languages: langs,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	apperr.WriteKind(w, apperr.NotFound, "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apperr.WriteKind(w, apperr.MethodNotAllowed, "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON decodes a single JSON object from the request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if middleware.IsBodyTooLarge(err) {
			return apperr.New(apperr.PayloadTooLarge, "Request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.InvalidRequest, "Request body is empty")
		}
		return apperr.Wrap(apperr.InvalidRequest, "Invalid JSON body", err)
	}
	if dec.More() {
		return apperr.New(apperr.InvalidRequest, "Request body must contain a single JSON object")
	}
	return nil
}
