// Package main is the entrypoint for the voxgate API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/cache"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/gate"
	"github.com/voxgate/voxgate/internal/handler"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/middleware"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/quota"
	"github.com/voxgate/voxgate/internal/repository"
	"github.com/voxgate/voxgate/internal/server"
	"github.com/voxgate/voxgate/internal/service"
	"github.com/voxgate/voxgate/internal/speech"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Initialize context
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Apply schema migrations
	if cfg.MigrateOnStart {
		if err := repository.Migrate(cfg.DatabaseURL); err != nil {
			logger.Error("failed to apply migrations",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		logger.Info("database schema up to date")
	}

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache (optional)
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		defer cacheClient.Close()
		logger.Info("connected to Redis")
	} else {
		logger.Warn("REDIS_URL not set; auth cache and IP rate limiting disabled")
	}

	// Initialize services
	recorder := metrics.NewPrometheus()

	limits, err := cfg.PlanLimits()
	if err != nil {
		logger.Error("invalid plan limits", "error", err)
		os.Exit(1)
	}
	ledger := quota.NewLedger(repo, limits)

	gateCfg := gate.Config{
		Store:   repo,
		Ledger:  ledger,
		Metrics: recorder,
		Logger:  logger,
	}
	if cacheClient != nil {
		gateCfg.Cache = cacheClient
	}
	requestGate := gate.New(gateCfg)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("failed to initialize token issuer", "error", err)
		os.Exit(1)
	}
	accountService := service.NewAccountService(repo, tokens, recorder, logger)

	speechService, err := newSpeechService(cfg, recorder, logger)
	if err != nil {
		logger.Error("failed to initialize speech service", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	deps := routerDeps{
		handler:  handler.New(version),
		health:   handler.NewHealthHandler(repo, healthChecker(cacheClient), logger),
		account:  handler.NewAccountHandler(accountService, logger),
		speech:   handler.NewSpeechHandler(speechService, logger),
		usage:    handler.NewUsageHandler(ledger, logger),
		gate:     requestGate,
		limiter:  ipLimiter(cacheClient),
		recorder: recorder,
	}

	// Setup router
	r := setupRouter(deps, cfg, logger)

	// Create and run server
	srvOpts := server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if cfg.TLSEnabled() {
		srvOpts.TLSCertFile = cfg.TLSCertFile
		srvOpts.TLSKeyFile = cfg.TLSKeyFile
	} else if cfg.TLSCertFile != "" {
		logger.Warn("TLS files not found; serving plain HTTP",
			"cert_file", cfg.TLSCertFile,
			"key_file", cfg.TLSKeyFile,
		)
	}
	srv := server.New(r, srvOpts, logger)
	srv.OnShutdown("request gate", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			requestGate.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"tls", srv.TLSEnabled(),
		"version", version,
	)

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newSpeechService builds the transcription pipeline. Without STT_ENDPOINT
// every transcription fails as unavailable.
func newSpeechService(cfg *config.Config, recorder metrics.Recorder, logger *slog.Logger) (*speech.Service, error) {
	normalizer, err := speech.NewNormalizer(cfg.UploadDir, speech.FFmpegConverter{Path: cfg.FFmpegPath})
	if err != nil {
		return nil, err
	}

	var recognizer speech.Recognizer = speech.Unconfigured{}
	if cfg.STTEndpoint != "" {
		recognizer, err = speech.NewHTTPRecognizer(speech.HTTPRecognizerConfig{
			Endpoint: cfg.STTEndpoint,
			APIKey:   cfg.STTAPIKey,
			Timeout:  cfg.STTTimeout,
			RPS:      cfg.STTRateLimitRPS,
			Burst:    cfg.STTRateLimitBurst,
			Retries:  cfg.STTRetries,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("STT_ENDPOINT not set; transcriptions will report the service as unavailable")
	}

	return speech.NewService(normalizer, recognizer, recorder, logger), nil
}

// healthChecker avoids handing a typed nil pointer to the health handler.
func healthChecker(c *cache.Cache) handler.HealthChecker {
	if c == nil {
		return nil
	}
	return c
}

func ipLimiter(c *cache.Cache) middleware.IPLimiter {
	if c == nil {
		return nil
	}
	return c
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routerDeps struct {
	handler  *handler.Handler
	health   *handler.HealthHandler
	account  *handler.AccountHandler
	speech   *handler.SpeechHandler
	usage    *handler.UsageHandler
	gate     *gate.Gate
	limiter  middleware.IPLimiter
	recorder *metrics.PrometheusRecorder
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(deps routerDeps, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{EnableHSTS: cfg.TLSEnabled()}))
	r.Use(middleware.CORS(corsCfg))

	// Health, metrics and info endpoints (no auth required)
	r.Get("/healthz", deps.health.Healthz)
	r.Get("/readyz", deps.health.Readyz)
	r.Method(http.MethodGet, "/metrics", deps.recorder.Handler())
	r.Get("/", deps.handler.Index)
	r.Get("/languages", deps.handler.Languages)

	// One per-address bucket covers every account and gated route. It runs
	// before the gate, so a throttled call is never logged against a quota.
	ipLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: deps.limiter,
		Enabled: cfg.RateLimitIPEnabled,
		PerHour: cfg.RateLimitIPPerHour,
		Burst:   cfg.RateLimitIPBurst,
	})

	// Account routes: unauthenticated
	r.Group(func(r chi.Router) {
		r.Use(ipLimit)
		r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
		r.Post("/register", deps.account.Register)
		r.Post("/generate-api-key", deps.account.GenerateAPIKey)
	})

	// Gated routes: every admitted call is logged against the key's quota
	gated := func(endpoint string, prechecks ...gate.Precheck) func(http.Handler) http.Handler {
		return middleware.RequireAPIKey(middleware.GateConfig{
			Logger:             logger,
			Gate:               deps.gate,
			Endpoint:           endpoint,
			Prechecks:          prechecks,
			MinFailureDuration: cfg.AuthFailureMinDuration,
		})
	}
	r.With(
		ipLimit,
		middleware.MaxBodySize(cfg.MaxUploadSize),
		gated(model.EndpointSpeechToText, deps.speech.Precheck()),
	).Post("/speech-to-text", deps.speech.SpeechToText)
	r.With(ipLimit, gated(model.EndpointUsage)).Get("/usage", deps.usage.Usage)

	// 404 and 405 handlers
	r.NotFound(deps.handler.NotFound)
	r.MethodNotAllowed(deps.handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
