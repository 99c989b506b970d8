package controller

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/ledger"
)

// Server is the controller's internal HTTP server: node lifecycle,
// certificate issuance, cluster configuration, and storage-map
// heartbeats.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer builds the controller's internal HTTP server wired to c
// (every handler's dependencies) and l (for the readiness probe).
func NewServer(config APIConfig, c *Controller, l *ledger.Ledger) *Server {
	config.applyDefaults()

	router := NewRouter(c, l)

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
		logger.Info("controller API server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("controller API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("controller API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("controller API server shutdown error: %w", err)
			logger.Error("controller API server shutdown error", logger.Err(err))
		} else {
			logger.Info("controller API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int { return s.config.Port }
