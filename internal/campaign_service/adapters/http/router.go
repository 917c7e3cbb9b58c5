package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the operator API, the provider webhook and /metrics. The
// operator API is behind JWT auth unless jwtSecret is empty.
func NewRouter(h *CampaignHandler, webhook *WebhookHandler, jwtSecret []byte, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/provider/status", webhook.HandleProviderStatus)

	r.Route("/campaigns", func(r chi.Router) {
		if len(jwtSecret) > 0 {
			r.Use(OperatorAuth(jwtSecret, logger))
		} else {
			logger.Warn("Operator auth disabled: no JWT secret configured")
		}

		r.Get("/", h.ListCampaigns)
		r.Post("/drafts", h.CreateDrafts)
		r.Route("/{campaignID}", func(r chi.Router) {
			r.Get("/", h.GetCampaign)
			r.Patch("/", h.EditDraft)
			r.Delete("/", h.DeleteDraft)
			r.Post("/split", h.SplitDraft)
			r.Put("/media", h.AttachMedia)
			r.Put("/schedule", h.Schedule)
			r.Delete("/schedule", h.CancelSchedule)
			r.Post("/send", h.Send)
			r.Post("/resync", h.Resync)
			r.Post("/follow-ups", h.CreateFollowUp)
			r.Get("/lint", h.Lint)
		})
	})
	return r
}
