package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hoslog/internal/metrics"
)

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to a handler left-to-right (first middleware is outermost).
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// statusWriter captures the status code. It passes Flush and Hijack through
// so SSE and WebSocket handlers keep working behind it.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Logger logs method, path, status, duration and tenant for every request.
func Logger(log *zap.Logger, tenant func(*http.Request) string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("tenant", tenant(r)),
			)
		})
	}
}

// Recover catches panics and responds with a 500 problem.
func Recover(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered", zap.String("path", r.URL.Path), zap.String("error", fmt.Sprintf("%v", err)))
					writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// OTel creates OpenTelemetry spans for each request.
func OTel(serviceName string) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	}
}

// Metrics records request counts and durations by route.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			route, status := routeLabel(r.URL.Path), strconv.Itoa(sw.status)
			metrics.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}

// routeLabel collapses ids so metric paths stay low-cardinality.
func routeLabel(path string) string {
	for _, prefix := range []string{"/v1/trips/", "/v1/subscriptions/", "/v1/admin/webhook-deliveries/", "/v1/admin/webhook-dlq/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}
		if _, tail, found := strings.Cut(rest, "/"); found {
			return prefix + "{id}/" + tail
		}
		return prefix + "{id}"
	}
	return path
}

const (
	limiterIdle       = 10 * time.Minute
	limiterMaxTenants = 10000
)

type tenantBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// TenantLimiter hands out one token bucket per tenant. Buckets idle for
// limiterIdle are dropped; past limiterMaxTenants, unseen tenants share one
// overflow bucket.
type TenantLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	m         map[string]*tenantBucket
	overflow  *rate.Limiter
	lastSweep time.Time
	now       func() time.Time
}

// NewTenantLimiter returns nil when rps is not positive, which disables
// limiting.
func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &TenantLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		m:        map[string]*tenantBucket{},
		overflow: rate.NewLimiter(rate.Limit(rps), burst),
		now:      time.Now,
	}
}

func (l *TenantLimiter) Allow(tenant string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= limiterIdle {
		l.sweep(now)
	}
	var lim *rate.Limiter
	if b, ok := l.m[tenant]; ok {
		b.seen = now
		lim = b.lim
	} else if len(l.m) < limiterMaxTenants {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.m[tenant] = &tenantBucket{lim: lim, seen: now}
	} else {
		lim = l.overflow
	}
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

// sweep drops idle buckets. Callers hold mu.
func (l *TenantLimiter) sweep(now time.Time) {
	for k, b := range l.m {
		if now.Sub(b.seen) >= limiterIdle {
			delete(l.m, k)
		}
	}
	l.lastSweep = now
}

func (l *TenantLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// RateLimit rejects requests over the tenant's budget with 429. Probes and
// the metrics scrape are never limited.
func (s *Server) RateLimit() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			tenant := s.tenantOf(r)
			if !s.Limiter.Allow(tenant) {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "tenant rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
