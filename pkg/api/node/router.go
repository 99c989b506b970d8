package node

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/api/auth"
	"github.com/meowith/meowith/pkg/api/handlers"
	apiMiddleware "github.com/meowith/meowith/pkg/api/middleware"
	"github.com/meowith/meowith/pkg/dataplane"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
)

// NewRouter creates and configures the chi router with all middleware and
// routes for a storage node's public data-plane surface.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health, /health/ready - liveness and readiness probes
//   - /api/file/... - upload, download, delete, rename
//   - /api/directory/... - create, delete, rename, list
//   - /api/bucket/... - list files/directories, stat
func NewRouter(svc *dataplane.Service, meta *cassandra.Store, l *ledger.Ledger, verifier auth.TokenVerifier) http.Handler {
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

	fileHandler := handlers.NewFileHandler(svc, meta)
	dirHandler := handlers.NewDirectoryHandler(meta)
	bucketHandler := handlers.NewBucketHandler(meta)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiMiddleware.AppTokenAuth(verifier))

		r.Route("/file", func(r chi.Router) {
			r.Post("/upload/oneshot/{app}/{bucket}/*", fileHandler.UploadOneshot)
			r.Post("/upload/durable/{app}/{bucket}/*", fileHandler.UploadDurableStart)
			r.Put("/upload/put/{app}/{bucket}/{session_id}", fileHandler.UploadPut)
			r.Post("/upload/resume/{app}/{bucket}", fileHandler.UploadResume)
			r.Get("/download/{app}/{bucket}/*", fileHandler.Download)
			r.Delete("/delete/{app}/{bucket}/*", fileHandler.Delete)
			r.Post("/rename/{app}/{bucket}/*", fileHandler.Rename)
		})

		r.Route("/directory", func(r chi.Router) {
			r.Post("/create/{app}/{bucket}/*", dirHandler.Create)
			r.Delete("/delete/{app}/{bucket}/*", dirHandler.Delete)
			r.Post("/rename/{app}/{bucket}/*", dirHandler.Rename)
			r.Get("/list/{app}/{bucket}/*", dirHandler.List)
		})

		r.Route("/bucket", func(r chi.Router) {
			r.Get("/list/files/{app}/{bucket}", bucketHandler.ListFiles)
			r.Get("/list/directories/{app}/{bucket}", bucketHandler.ListDirectories)
			r.Get("/stat/{app}/{bucket}/*", bucketHandler.Stat)
		})
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
