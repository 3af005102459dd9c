// Package httpapi is the HTTP transport layer: it wires the six routes of
// the broker's external interface onto a net/http.ServeMux, layered with
// bearer-token auth, a per-client token-bucket rate limiter, CORS and
// security headers, structured access logging, and Prometheus request
// metrics. It is a thin adapter over pkg/service — no business logic lives
// here.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/config"
	"github.com/cuemby/sandboxbroker/pkg/metrics"
	"github.com/cuemby/sandboxbroker/pkg/service"
)

// Server owns the HTTP listener and request routing for the broker.
type Server struct {
	svc  *service.Service
	auth authenticator
	http *http.Server
}

// New builds a Server ready to ListenAndServe, wiring every route and
// middleware named in §6.
func New(cfg config.Config, svc *service.Service) *Server {
	s := &Server{
		svc: svc,
		auth: authenticator{
			apiToken:   cfg.APIToken,
			adminToken: cfg.AdminToken,
		},
	}

	limiter := newLimiterRegistry(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	cors := corsMiddleware()

	mux := http.NewServeMux()
	mux.Handle("/v1/allocate", instrument("allocate", cors(limiter.withRateLimit(
		http.HandlerFunc(s.auth.requireUser(s.handleAllocate))))))
	mux.Handle("/v1/sandboxes/", instrument("sandboxes", cors(limiter.withRateLimit(
		http.HandlerFunc(s.routeSandbox)))))
	mux.Handle("/v1/admin/sync", instrument("admin_sync", cors(limiter.withRateLimit(
		http.HandlerFunc(s.auth.requireAdmin(s.handleAdminSync))))))
	mux.Handle("/v1/admin/sandboxes", instrument("admin_sandboxes", cors(limiter.withRateLimit(
		http.HandlerFunc(s.auth.requireAdmin(s.handleAdminList))))))

	// /healthz bypasses the rate limiter entirely per §6.
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(handleHealthz)))
	mux.Handle("/metrics", metrics.Handler())

	handler := withSecurityHeaders(withRequestID(mux))

	s.http = &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// routeSandbox dispatches by auth requirement before handing off to
// handleSandbox: mark-for-deletion needs a track id, plain GET does not.
func (s *Server) routeSandbox(w http.ResponseWriter, r *http.Request) {
	const suffix = "/mark-for-deletion"
	if len(r.URL.Path) > len(suffix) && r.URL.Path[len(r.URL.Path)-len(suffix):] == suffix {
		s.auth.requireUser(s.handleSandbox)(w, r)
		return
	}
	s.auth.requireUserToken(s.handleSandbox)(w, r)
}

// instrument wraps a handler with access logging and request metrics under
// a fixed route label.
func instrument(route string, next http.Handler) http.Handler {
	return withAccessLog(route, next)
}

// Serve starts accepting connections on addr and blocks until the listener
// stops (on Shutdown or a fatal accept error).
func (s *Server) Serve(addr string) error {
	s.http.Addr = addr
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener, honoring ctx's
// deadline per the process-shutdown suspension point of §5.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
