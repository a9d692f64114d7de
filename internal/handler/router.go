// Package handler exposes the HTTP surface: the Meta webhook, operational
// probes and a small conversations API for support staff.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// turnTimeout bounds one webhook turn end to end, including the external
// lookups it triggers.
const turnTimeout = 30 * time.Second

func newTurnContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), turnTimeout)
}

// WebhookConfig carries the webhook credentials. Async controls whether
// inbound messages process after the HTTP ack (production) or inline
// (tests).
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
	Async       bool
}

// ReadyCheck reports whether downstream dependencies are reachable.
type ReadyCheck func(ctx context.Context) error

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(conv *service.Conversation, cfg WebhookConfig, ready ReadyCheck, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(metrics))
	r.Get("/readyz", readyzHandler(ready))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- Meta webhook ---
	r.Get("/webhook", webhookVerifyHandler(cfg.VerifyToken, logger))
	r.Post("/webhook", webhookHandler(conv, cfg, logger))

	// --- Conversations API (support staff) ---
	r.Route("/v1/conversations", func(r chi.Router) {
		r.Get("/{conversationID}", getConversationHandler(conv, logger))
		r.Delete("/{conversationID}", deleteConversationHandler(conv, logger))
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "healthy",
			"turns_ok":     metrics.TurnCount("ok"),
			"turns_error":  metrics.TurnCount("error"),
			"turns_locked": metrics.TurnCount("locked"),
		})
	}
}

func readyzHandler(ready ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// ============================================================
// Conversations API
// ============================================================

func getConversationHandler(conv *service.Conversation, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/conversations/{conversationID}")
		defer span.End()

		conversationID := chi.URLParam(r, "conversationID")
		st, err := conv.Get(ctx, conversationID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func deleteConversationHandler(conv *service.Conversation, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/conversations/{conversationID}")
		defer span.End()

		conversationID := chi.URLParam(r, "conversationID")
		if err := conv.Reset(ctx, conversationID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
