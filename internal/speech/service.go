package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/model"
)

// Upload is an audio file received from a client.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Transcript is the result of a successful transcription.
type Transcript struct {
	Text string `json:"text"`
	model.Language
}

// Service transcribes uploads.
type Service struct {
	normalizer *Normalizer
	recognizer Recognizer
	metrics    metrics.Recorder
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(normalizer *Normalizer, recognizer Recognizer, recorder metrics.Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		normalizer: normalizer,
		recognizer: recognizer,
		metrics:    recorder,
		logger:     logger,
	}
}

// Transcribe normalizes upload and recognizes it in lang. Every temporary
// file is removed before Transcribe returns. Failures are apperr kinds:
// TranscriptionUnrecognized, TranscriptionServiceUnavailable, or
// TranscriptionProcessingError. An unsupported file type is InvalidRequest.
func (s *Service) Transcribe(ctx context.Context, upload Upload, lang model.Language) (*Transcript, error) {
	start := time.Now()
	text, err := s.transcribe(ctx, upload, lang)
	s.metrics.ObserveTranscriptionDuration(time.Since(start))

	if err != nil {
		s.metrics.IncTranscription(resultOf(err))
		return nil, s.classify(err, lang)
	}

	s.metrics.IncTranscription(metrics.ResultSuccess)
	return &Transcript{Text: text, Language: lang}, nil
}

func (s *Service) transcribe(ctx context.Context, upload Upload, lang model.Language) (string, error) {
	wavPath, cleanup, err := s.normalizer.Normalize(ctx, upload.Filename, upload.Body)
	if err != nil {
		return "", err
	}
	defer cleanup()

	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read normalized audio: %w", err)
	}

	return s.recognizer.Recognize(ctx, wav, lang.Code)
}

func (s *Service) classify(err error, lang model.Language) error {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return apperr.Wrap(apperr.InvalidRequest, "Invalid file type", err)
	case errors.Is(err, ErrUnrecognized):
		return apperr.Wrap(apperr.TranscriptionUnrecognized, "Could not understand the audio content", err)
	case errors.Is(err, ErrUnavailable):
		s.logger.Warn("speech recognition service unavailable",
			slog.String("language", lang.Code),
			slog.String("error", err.Error()),
		)
		return apperr.Wrap(apperr.TranscriptionServiceUnavailable, "Could not request results from speech recognition service", err)
	default:
		s.logger.Error("transcription failed",
			slog.String("language", lang.Code),
			slog.String("error", err.Error()),
		)
		return apperr.Wrap(apperr.TranscriptionProcessingError, "Audio processing failed", err)
	}
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrUnrecognized):
		return metrics.ResultUnrecognized
	case errors.Is(err, ErrUnavailable):
		return metrics.ResultUnavailable
	default:
		return metrics.ResultFailed
	}
}
