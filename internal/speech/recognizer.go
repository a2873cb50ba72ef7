// Package speech turns uploaded audio into text. Uploads are normalized to
// WAV and handed to an external recognition service.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Recognition failures.
var (
	ErrUnrecognized = errors.New("speech: audio content could not be understood")
	ErrUnavailable  = errors.New("speech: recognition service unavailable")
)

// maxResponseBytes bounds the recognizer response body.
const maxResponseBytes = 1 << 20

// Recognizer converts WAV audio to text for a locale code such as "en-US".
// Implementations return ErrUnrecognized or ErrUnavailable (possibly
// wrapped) for those failure modes; any other error is a processing error.
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte, localeCode string) (string, error)
}

// HTTPRecognizerConfig configures an HTTPRecognizer.
type HTTPRecognizerConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// RPS throttles outbound calls; zero disables throttling.
	RPS   float64
	Burst int
	// Retries is how many times an unavailable response is retried with
	// backoff.
	Retries int
	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

// HTTPRecognizer calls a recognition service over HTTP. The WAV payload is
// posted as the request body with the locale in the "language" query
// parameter; the service answers {"text": "..."}.
type HTTPRecognizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	retries  int
	delay    func(attempt int) time.Duration
}

type recognizeResponse struct {
	Text string `json:"text"`
}

// NewHTTPRecognizer creates an HTTPRecognizer.
func NewHTTPRecognizer(cfg HTTPRecognizerConfig) (*HTTPRecognizer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("speech: recognizer endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("speech: invalid recognizer endpoint: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Retries < 0 {
		return nil, errors.New("speech: retries must not be negative")
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &HTTPRecognizer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   client,
		limiter:  limiter,
		retries:  cfg.Retries,
		delay:    retryDelay,
	}, nil
}

// Recognize implements Recognizer. Unavailable responses are retried with
// backoff; every attempt counts against the outbound rate limit.
func (h *HTTPRecognizer) Recognize(ctx context.Context, wav []byte, localeCode string) (string, error) {
	for attempt := 0; ; attempt++ {
		text, err := h.recognizeOnce(ctx, wav, localeCode)
		if err == nil || !errors.Is(err, ErrUnavailable) || attempt >= h.retries || ctx.Err() != nil {
			return text, err
		}
		if err := sleep(ctx, h.delay(attempt)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
}

func (h *HTTPRecognizer) recognizeOnce(ctx context.Context, wav []byte, localeCode string) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: throttled: %v", ErrUnavailable, err)
	}

	u, err := url.Parse(h.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("language", localeCode)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return "", ErrUnrecognized
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("speech: unexpected status %d", resp.StatusCode)
	}

	var out recognizeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrUnrecognized
	}
	return text, nil
}

// Unconfigured is a Recognizer for deployments without a recognition
// service. Every call fails with ErrUnavailable.
type Unconfigured struct{}

// Recognize implements Recognizer.
func (Unconfigured) Recognize(context.Context, []byte, string) (string, error) {
	return "", fmt.Errorf("%w: no recognition endpoint configured", ErrUnavailable)
}
