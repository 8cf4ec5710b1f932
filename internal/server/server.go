// Package server serves the MCP tools over streamable HTTP alongside
// health and stats endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
	"github.com/fivetwenty-io/firefly-mcp/pkg/fireflyclient"
)

// StatsSource reports gateway statistics.
type StatsSource interface {
	Stats() fireflyclient.Stats
}

// Server is the HTTP front end of the gateway.
type Server struct {
	mcp     *mcpserver.MCPServer
	stats   StatsSource
	logger  firefly.Logger
	version string
}

// New creates a server for an MCP server with its tools registered.
func New(mcp *mcpserver.MCPServer, stats StatsSource, version string, logger firefly.Logger) *Server {
	if logger == nil {
		logger = firefly.NopLogger()
	}

	return &Server{mcp: mcp, stats: stats, logger: logger, version: version}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.logRequests)

	router.Handle(constants.MCPEndpointPath, mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath(constants.MCPEndpointPath),
	))

	router.Get("/healthz", s.getHealth)
	router.Get("/stats", s.getStats)

	return router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
		IdleTimeout:       constants.ServerIdleTimeout,
		MaxHeaderBytes:    constants.ServerMaxHeaderBytes,
	}

	errs := make(chan error, 1)

	go func() {
		s.logger.Info("MCP HTTP server listening", map[string]interface{}{
			"addr":     listener.Addr().String(),
			"endpoint": constants.MCPEndpointPath,
		})

		errs <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	s.logger.Info("MCP HTTP server stopped", nil)

	return nil
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": constants.ServiceName,
		"version": s.version,
	})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("HTTP request served", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": wrapped.Status(),
			"request_id":  middleware.GetReqID(r.Context()),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(value)
}
