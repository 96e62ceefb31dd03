package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, health *HealthChecker, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}

	r.Route("/api", func(r chi.Router) {
		if health != nil {
			r.Get("/health", health.HandleHealth)
		}

		r.Route("/campaigns", func(r chi.Router) {
			r.With(middleware.Timeout(30*time.Second)).Group(func(r chi.Router) {
				r.Get("/", h.ListCampaigns)
				r.Post("/", h.CreateCampaign)
				r.Get("/{id}", h.GetCampaign)
				r.Put("/{id}", h.UpdateCampaign)
				r.Delete("/{id}", h.DeleteCampaign)
				r.Post("/{id}/cancel", h.CancelCampaign)
				r.Post("/{id}/duplicate", h.DuplicateCampaign)
				r.Get("/{id}/recipients", h.ListRecipients)
				r.Get("/{id}/stats", h.CampaignStats)
			})
			// These run a dispatch batch inline and are bounded by the
			// engine's own per-send timeouts.
			r.Post("/{id}/queue", h.QueueCampaign)
			r.Post("/{id}/dispatch", h.DispatchCampaign)
			r.Post("/{id}/resend-failures", h.ResendFailures)
		})

		r.Post("/cron/tick", h.CronTick)

		if h.webhooks != nil {
			r.Post("/webhooks/ses", h.webhooks.HandleSES)
			r.Post("/webhooks/sparkpost", h.webhooks.HandleSparkPost)
		}
	})

	return r
}

// requestLogger logs each request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= 500 {
			logger.Error("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	})
}
