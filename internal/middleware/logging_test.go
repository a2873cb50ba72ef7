package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// serveLogged runs one request through Logger and returns the log output.
func serveLogged(t *testing.T, req *http.Request, status int) string {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return buf.String()
}

func TestLogging_CredentialsNeverLogged(t *testing.T) {
	t.Parallel()

	const (
		apiKey        = "Q7mX2pLk9RvT4sWz8NbC3hJd6FgY1aUe5KoI0tMqZrVnBxHcEw"
		identityToken = "eyJhbGciOiJIUzI1NiJ9.eyJlbWFpbCI6ImFAYi5jb20ifQ.sig"
	)

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		secret string
	}{
		{"api key header", "/speech-to-text", "X-API-Key", apiKey, apiKey},
		{"bearer api key", "/usage", "Authorization", "Bearer " + apiKey, apiKey},
		{"bearer identity token", "/generate-api-key", "Authorization", "Bearer " + identityToken, identityToken},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.Header.Set(tt.header, tt.value)

			out := serveLogged(t, req, http.StatusOK)
			if strings.Contains(out, tt.secret) {
				t.Errorf("log output contains credential: %s", out)
			}
			if strings.Contains(out, "Bearer") {
				t.Error("log output contains the Authorization scheme")
			}
		})
	}
}

func TestLogging_Fields(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/speech-to-text", nil)
	req.Header.Set("User-Agent", "voxgate-client/1.0")

	out := serveLogged(t, req, http.StatusCreated)
	for _, field := range []string{
		`"method":"POST"`,
		`"path":"/speech-to-text"`,
		`"status_code":201`,
		`"user_agent":"voxgate-client/1.0"`,
	} {
		if !strings.Contains(out, field) {
			t.Errorf("log field %s missing from %s", field, out)
		}
	}
	if strings.Contains(out, `"key_id"`) {
		t.Error("key_id logged for a request the gate never admitted")
	}
}

func TestLogging_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusUnauthorized, "WARN"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusUnprocessableEntity, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			out := serveLogged(t, httptest.NewRequest(http.MethodGet, "/usage", nil), tt.status)
			if !strings.Contains(out, `"level":"`+tt.level+`"`) {
				t.Errorf("status %d logged as %s, want %s", tt.status, out, tt.level)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	t.Parallel()

	t.Run("implicit 200 on write", func(t *testing.T) {
		rw := wrapResponseWriter(httptest.NewRecorder())
		_, _ = rw.Write([]byte(`{"text":"hello"}`))
		if rw.status != http.StatusOK {
			t.Errorf("status = %d, want 200", rw.status)
		}
	})

	t.Run("first WriteHeader wins", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := wrapResponseWriter(rec)
		rw.WriteHeader(http.StatusTooManyRequests)
		rw.WriteHeader(http.StatusInternalServerError)
		if rw.status != http.StatusTooManyRequests || rec.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d (recorder %d), want 429", rw.status, rec.Code)
		}
	})
}

// TestLogging_AnnotatesAdmittedKey verifies the key ID set by the gate reaches the access log.
func TestLogging_AnnotatesAdmittedKey(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		annotate(r.Context(), "01HZKEY", "usage")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/usage", nil)
	rec := httptest.NewRecorder()
	Logger(logger)(handler).ServeHTTP(rec, req)

	logOutput := buf.String()
	for _, field := range []string{`"key_id":"01HZKEY"`, `"endpoint":"usage"`} {
		if !strings.Contains(logOutput, field) {
			t.Errorf("Expected log field %s not found in output: %s", field, logOutput)
		}
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		reused   bool
	}{
		{"generated when absent", "", false},
		{"reused when well formed", "req-123", true},
		{"replaced when too long", strings.Repeat("a", 65), false},
		{"replaced when it contains spaces", "bad id", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" {
				t.Fatal("request ID missing from context")
			}
			if (seen == tt.incoming) != tt.reused {
				t.Errorf("request ID = %q, reused=%v", seen, tt.reused)
			}
			if rec.Header().Get(RequestIDHeader) != seen {
				t.Errorf("response header = %q, want %q", rec.Header().Get(RequestIDHeader), seen)
			}
		})
	}
}
