package node

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/api/auth"
	"github.com/meowith/meowith/pkg/dataplane"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
)

// Server is a storage node's public data-plane HTTP server: file,
// directory, and bucket operations plus liveness/readiness probes.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer builds the node's public HTTP server wired to svc (upload/
// download orchestration), meta (directory/bucket metadata), l (for the
// readiness probe), and verifier (app-token validation).
func NewServer(config APIConfig, svc *dataplane.Service, meta *cassandra.Store, l *ledger.Ledger, verifier auth.TokenVerifier) *Server {
	config.applyDefaults()

	router := NewRouter(svc, meta, l, verifier)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{server: server, config: config}
}

// Start starts the HTTP server and blocks until the context is cancelled
// or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("node API server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("node API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("node API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("node API server shutdown error: %w", err)
			logger.Error("node API server shutdown error", logger.Err(err))
		} else {
			logger.Info("node API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int { return s.config.Port }
