// Package server exposes the HTTP surface: login/logout/user under /auth,
// execute/repos under /api.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-michi/michi"
	"github.com/mscno/ginproc/server/middleware"
	"golang.org/x/time/rate"
)

const (
	maxHeaderBytes    = 1 << 20
	readTimeout       = 30 * time.Second
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Minute // execute clones and pushes inline
	defaultRateLimit  = time.Second / 5
	defaultRateBurst  = 20
)

// Server wires the router, middleware and handlers into an http.Server.
type Server struct {
	Router *michi.Router
	Server *http.Server
}

func NewServer(h *Handler, logger *slog.Logger) *Server {
	r := michi.NewRouter()
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.WithCORS(logger))
	limiter := middleware.NewRateLimiter(logger, middleware.IPAddressKeyFunc, rate.Every(defaultRateLimit), defaultRateBurst)
	r.Use(limiter.Limit)

	r.HandleFunc("POST /auth/login", h.Login)
	r.HandleFunc("POST /auth/logout", h.Logout)
	r.HandleFunc("GET /auth/user", h.User)
	r.HandleFunc("POST /api/execute", h.Execute)
	r.HandleFunc("GET /api/repos", h.Repos)

	srv := &http.Server{
		Handler:           r,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	return &Server{Router: r, Server: srv}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Server.Handler.ServeHTTP(w, r)
}

// ListenAndServe starts serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.Server.Addr = addr
	return s.Server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Debug("shutting down server")
	if err := s.Server.Shutdown(ctx); err != nil {
		slog.Error("error shutting down server", "error", err)
		return err
	}
	return nil
}
