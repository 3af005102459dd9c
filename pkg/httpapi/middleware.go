package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/logging"
	"github.com/cuemby/sandboxbroker/pkg/metrics"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyTrackID
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func trackIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyTrackID).(string)
	return id
}

// withRequestID assigns a request id to every inbound request and attaches
// it to both the context and the response so callers can correlate logs.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withAccessLog logs each request at Info level with method, path, status,
// duration, and request id, and records the Prometheus request metrics.
func withAccessLog(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)

		logging.WithRequestID(requestIDFrom(r.Context())).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", dur).
			Msg("http request")

		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(dur.Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// tokenKind distinguishes which bearer token a request authenticated with.
type tokenKind int

const (
	tokenNone tokenKind = iota
	tokenUser
	tokenAdmin
)

// authenticator checks the Authorization header against the configured
// user and admin tokens.
type authenticator struct {
	apiToken   string
	adminToken string
}

func (a authenticator) classify(r *http.Request) tokenKind {
	token := bearerToken(r)
	if token == "" {
		return tokenNone
	}
	switch {
	case a.adminToken != "" && token == a.adminToken:
		return tokenAdmin
	case a.apiToken != "" && token == a.apiToken:
		return tokenUser
	default:
		return tokenNone
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// requireUser wraps a handler that requires a valid user (or admin) bearer
// token and a non-empty X-Track-ID header, attaching the track id to the
// request context.
func (a authenticator) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if kind := a.classify(r); kind != tokenUser && kind != tokenAdmin {
			writeErrorStatus(w, requestIDFrom(r.Context()), http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		trackID := r.Header.Get("X-Track-ID")
		if trackID == "" {
			writeErrorStatus(w, requestIDFrom(r.Context()), http.StatusUnauthorized, "unauthorized", "X-Track-ID header is required")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyTrackID, trackID)
		next(w, r.WithContext(ctx))
	}
}

// requireUserToken wraps a handler that requires a valid user (or admin)
// bearer token but no track id (e.g. a plain GET by id).
func (a authenticator) requireUserToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if kind := a.classify(r); kind != tokenUser && kind != tokenAdmin {
			writeErrorStatus(w, requestIDFrom(r.Context()), http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}

// requireAdmin wraps a handler that requires the admin bearer token.
func (a authenticator) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.classify(r) != tokenAdmin {
			writeErrorStatus(w, requestIDFrom(r.Context()), http.StatusUnauthorized, "unauthorized", "admin bearer token required")
			return
		}
		next(w, r)
	}
}

// limiterRegistry hands out one token-bucket limiter per bearer token, per
// §6's per-client rate limiter, lazily created on first use.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterRegistry(rps float64, burst int) *limiterRegistry {
	return &limiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (lr *limiterRegistry) forToken(token string) *rate.Limiter {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	l, ok := lr.limiters[token]
	if !ok {
		l = rate.NewLimiter(lr.rps, lr.burst)
		lr.limiters[token] = l
	}
	return l
}

// withRateLimit enforces a per-token-bucket limit, responding 429 with
// Retry-After on exhaustion. /healthz bypasses this middleware entirely
// per §6.
func (lr *limiterRegistry) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			key = r.RemoteAddr
		}
		limiter := lr.forToken(key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(lr.burst))
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeErrorStatus(w, requestIDFrom(r.Context()), http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware builds the baseline CORS policy: any origin may read, only
// the documented verbs and headers are allowed.
func corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Track-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "X-Request-ID"},
		MaxAge:           300,
		AllowCredentials: false,
	})
}

// withSecurityHeaders sets the baseline response headers every JSON API
// response should carry, independent of CORS.
func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
