package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/logger"
	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/ratelimit"
)

// Handler consumes a parsed webhook event. Returning an error makes the
// listener answer 500 so the provider retries the delivery.
type Handler func(ctx context.Context, event *Event) error

// ListenerConfig configures the HTTP front for webhook ingestion.
type ListenerConfig struct {
	Addr               string
	Path               string // default /webhooks/circle
	CORSAllowedOrigins []string
	RateLimit          ratelimit.Config
	MaxBodyBytes       int64 // default 1 MiB
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

const (
	defaultWebhookPath  = "/webhooks/circle"
	defaultMaxBodyBytes = 1 << 20
	handlerTimeout      = 30 * time.Second
)

// Listener is a chi-based HTTP server that verifies, parses, and
// dispatches provider webhook notifications.
type Listener struct {
	parser   *Parser
	handlers []Handler
	metrics  *metrics.Metrics
	log      zerolog.Logger
	maxBody  int64
	server   *http.Server
}

// NewListener builds the listener with its router and middleware stack.
func NewListener(cfg ListenerConfig, parser *Parser, m *metrics.Metrics, log zerolog.Logger) *Listener {
	if cfg.Path == "" {
		cfg.Path = defaultWebhookPath
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	l := &Listener{
		parser:  parser,
		metrics: m,
		log:     log.With().Str("component", "webhook_listener").Logger(),
		maxBody: cfg.MaxBodyBytes,
	}

	router := chi.NewRouter()

	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(middleware.RealIP)
	router.Use(logger.RequestLogger(l.log))
	router.Use(middleware.Recoverer)

	rl := cfg.RateLimit
	if rl.Metrics == nil {
		rl.Metrics = m
	}
	router.Use(ratelimit.GlobalLimiter(rl))
	router.Use(ratelimit.IPLimiter(rl))

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", l.health)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(handlerTimeout))
		r.Post(cfg.Path, l.handleNotification)
	})

	l.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return l
}

// Register adds a handler. Handlers run in registration order; the
// first failure stops the chain.
func (l *Listener) Register(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Dispatch runs a parsed event through the registered handlers. Exposed
// so callers embedding the parser in their own server can reuse the
// chain without the listener's HTTP front.
func (l *Listener) Dispatch(ctx context.Context, event *Event) error {
	for _, h := range l.handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (l *Listener) handleNotification(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	payload, err := io.ReadAll(io.LimitReader(r.Body, l.maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	event, err := l.parser.Parse(payload, r.Header)
	if err != nil {
		status := http.StatusBadRequest
		if apperrors.Is(err, apperrors.ErrCodeInvalidSignature) {
			status = http.StatusUnauthorized
		}
		l.observe("invalid", "rejected")
		log.Warn().Err(err).Int("status", status).Msg("webhook rejected")
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	if err := l.Dispatch(r.Context(), event); err != nil {
		l.observe(string(event.Type), "handler_error")
		log.Error().Err(err).
			Str("notification_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("webhook handler failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "handler failure"})
		return
	}

	l.observe(string(event.Type), "processed")
	log.Info().
		Str("notification_id", event.ID).
		Str("event_type", string(event.Type)).
		Msg("webhook processed")
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "notification_id": event.ID})
}

func (l *Listener) observe(eventType, outcome string) {
	if l.metrics != nil {
		l.metrics.ObserveWebhookEvent(eventType, outcome)
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Routes exposes the listener's handler for embedding in another server.
func (l *Listener) Routes() http.Handler {
	return l.server.Handler
}

// ListenAndServe starts the HTTP server.
func (l *Listener) ListenAndServe() error {
	return l.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}
