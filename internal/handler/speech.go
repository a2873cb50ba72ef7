package handler

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/gate"
	"github.com/voxgate/voxgate/internal/middleware"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/speech"
)

// Multipart field names of POST /speech-to-text.
const (
	AudioField    = "audio"
	LanguageField = "language"
)

// defaultMultipartMemory is how much of a multipart upload is held in memory
// before spilling to temporary files.
const defaultMultipartMemory = 8 << 20

// Transcriber is the subset of speech.Service used by SpeechHandler.
type Transcriber interface {
	Transcribe(ctx context.Context, upload speech.Upload, lang model.Language) (*speech.Transcript, error)
}

// SpeechHandler handles transcription requests.
type SpeechHandler struct {
	svc       Transcriber
	logger    *slog.Logger
	maxMemory int64
}

// NewSpeechHandler creates a new SpeechHandler.
func NewSpeechHandler(svc Transcriber, logger *slog.Logger) *SpeechHandler {
	return &SpeechHandler{svc: svc, logger: logger, maxMemory: defaultMultipartMemory}
}

// speechRequest is a validated transcription request.
type speechRequest struct {
	lang   model.Language
	file   *multipart.FileHeader
	format string
}

// parseSpeechRequest parses and validates the multipart form. It is safe to
// call more than once on the same request.
func parseSpeechRequest(r *http.Request, maxMemory int64) (*speechRequest, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if middleware.IsBodyTooLarge(err) {
			return nil, apperr.New(apperr.PayloadTooLarge, "Audio file too large")
		}
		return nil, apperr.Wrap(apperr.InvalidRequest, "Expected a multipart/form-data body", err)
	}

	lang, ok := model.LookupLanguage(r.FormValue(LanguageField))
	if !ok {
		return nil, apperr.New(apperr.UnsupportedLanguage,
			"Unsupported language. Please choose from the following languages: "+
				strings.Join(model.SupportedLanguageNames(), ", "))
	}

	files := r.MultipartForm.File[AudioField]
	if len(files) == 0 {
		return nil, apperr.New(apperr.InvalidRequest, "No audio file provided")
	}
	file := files[0]
	if file.Filename == "" {
		return nil, apperr.New(apperr.InvalidRequest, "No selected file")
	}

	format, err := speech.FormatOf(file.Filename)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidRequest, "Invalid file type", err)
	}

	return &speechRequest{lang: lang, file: file, format: format}, nil
}

// Precheck rejects malformed transcription requests before quota is consulted.
func (h *SpeechHandler) Precheck() gate.Precheck {
	return func(r *http.Request) error {
		_, err := parseSpeechRequest(r, h.maxMemory)
		if err != nil && r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
		return err
	}
}

// SpeechToText transcribes an uploaded audio file.
// POST /speech-to-text
func (h *SpeechHandler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	req, err := parseSpeechRequest(r, h.maxMemory)
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	f, err := req.file.Open()
	if err != nil {
		writeError(w, r, h.logger, apperr.Wrap(apperr.TranscriptionProcessingError, "Audio processing failed", err))
		return
	}
	defer f.Close()

	transcript, err := h.svc.Transcribe(r.Context(), speech.Upload{
		Filename: req.file.Filename,
		Body:     f,
	}, req.lang)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("transcription completed",
		slog.String("language", req.lang.Code),
		slog.String("format", req.format),
		slog.Int64("size", req.file.Size),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	writeJSON(w, http.StatusOK, transcript)
}
