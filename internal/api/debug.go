package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hoslog/internal/buildinfo"
	"hoslog/internal/metrics"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

type pinger interface{ Ping(ctx context.Context) error }

// ReadyHandler checks the database and the event bus when they support Ping.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
		pg, ok := dep.(pinger)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := pg.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, 503, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

// MetricsHandler exposes the service registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}

// DebugJSON reports build info and the non-secret parts of the config.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r, s.getPrincipal(r)) {
		return
	}
	cfg := s.Config
	writeJSON(w, 200, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"ENV":                  cfg.Env,
			"PORT":                 cfg.HTTP.Port,
			"LOG_LEVEL":            cfg.Log.Level,
			"AUTH_MODE":            cfg.Auth.Mode,
			"RATE_RPS":             cfg.Rate.RPS,
			"RATE_BURST":           cfg.Rate.Burst,
			"WEBHOOK_MAX_ATTEMPTS": cfg.Webhooks.MaxAttempts,
			"HOS_RULES_PATH":       cfg.Rules.Path,
			"HAS_DATABASE_URL":     cfg.Database.URL != "",
			"HAS_REDIS_URL":        cfg.Events.RedisURL != "",
			"HAS_NATS_URL":         cfg.Events.NATSURL != "",
		},
	})
}
