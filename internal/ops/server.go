// Package ops runs the operator HTTP endpoints as a supervised service.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/tripwire/internal/handlers"
	"github.com/BradenHooton/tripwire/internal/middleware"
	"github.com/BradenHooton/tripwire/internal/routes"
)

// Server serves health, metrics and lookup endpoints on a private port.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewRouter builds the ops router with the standard middleware stack
func NewRouter(opsHandler *handlers.OpsHandler, rateLimit middleware.RateLimitConfig, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(10 * time.Second))

	routes.RegisterRoutes(router, opsHandler, rateLimit)

	return router
}

// NewServer creates a server listening on :port
func NewServer(port string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", slog.String("addr", ln.Addr().String()))
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("ops server shutdown error", slog.Any("error", err))
		return err
	}

	s.logger.Info("ops server stopped")
	return ctx.Err()
}

// String names the service in supervisor logs
func (s *Server) String() string {
	return "ops-http"
}
