package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/api/handlers"
	"github.com/meowith/meowith/pkg/ledger"
)

// NewRouter creates and configures the chi router for a controller's
// internal HTTP surface: node lifecycle, certificate issuance, cluster
// configuration, and storage-map heartbeats.
//
// Routes:
//   - GET /health, /health/ready - liveness and readiness probes
//   - /api/internal/initialize/{register,authenticate} - node lifecycle, no access token required
//   - /api/internal/security/csr - certificate issuance, renewal token required
//   - /api/internal/autoconfigure/config - cluster configuration distribution
//   - /api/internal/health/storage - storage-map heartbeat post/get
//   - /api/internal/heartbeat - bare liveness ping
//   - /api/internal/validate/peer - peer token validation
func NewRouter(c *Controller, l *ledger.Ledger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(l)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api/internal", func(r chi.Router) {
		r.Route("/initialize", func(r chi.Router) {
			r.Post("/register", c.Register)
			r.Post("/authenticate", c.Authenticate)
		})

		r.Post("/security/csr", c.CSR)

		r.Group(func(r chi.Router) {
			r.Use(c.NodeAccessAuth)

			r.Get("/autoconfigure/config", c.AutoconfigureConfig)

			r.Route("/health", func(r chi.Router) {
				r.Post("/storage", c.HealthStoragePost)
				r.Get("/storage", c.HealthStorageGet)
			})

			r.Post("/heartbeat", c.Heartbeat)
			r.Post("/validate/peer", c.ValidatePeer)
		})
	})

	return r
}

// requestLogger logs every request using the internal logger, matching
// the node's public API server's logging shape.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("controller request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("controller request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
