package api

import (
	"net/http"

	"go.uber.org/zap"

	"hoslog/internal/auth"
	"hoslog/internal/config"
	"hoslog/internal/hos"
	"hoslog/internal/store"
	"hoslog/internal/webhooks"
)

type Server struct {
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Log     *zap.Logger
	Rules   hos.RuleSet
	Limiter *TenantLimiter
	Config  *config.Config
}

// NewServer wires a Server from already-built dependencies. A nil broker
// falls back to the in-process one.
func NewServer(cfg *config.Config, s store.Store, broker EventBroker, rules hos.RuleSet, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if broker == nil {
		broker = NewBroker()
	}
	return &Server{
		Store:   s,
		Pub:     webhooks.NewPublisher(s, log.Named("webhooks")),
		Auth:    auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.Issuer, cfg.Auth.Audience),
		Broker:  broker,
		Log:     log,
		Rules:   rules,
		Limiter: NewTenantLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
		Config:  cfg,
	}
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	w := webhooks.NewWorker(s.Store, s.Log.Named("webhook-worker"), s.Config.Webhooks.MaxAttempts, s.Config.Webhooks.Timeout)
	if s.Config.Webhooks.PollInterval > 0 {
		w.Interval = s.Config.Webhooks.PollInterval
	}
	return w
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Trips
	mux.HandleFunc("/v1/trips", s.TripsHandler)
	mux.HandleFunc("/v1/trips/", s.TripByIDHandler) // includes /logs, /report, /evaluate

	// Stateless engine
	mux.HandleFunc("/v1/logs/partition", s.PartitionHandler)
	mux.HandleFunc("/v1/compliance/evaluate", s.EvaluateHandler)
	mux.HandleFunc("/v1/rules", s.RulesHandler)

	// Live feed
	mux.HandleFunc("/v1/events/stream", s.EventsStreamHandler)
	mux.HandleFunc("/v1/events/ws", s.EventsWSHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

	// Admin
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq/", s.WebhookDLQHandler)

	// Health, metrics, debug
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/v1/debug", s.DebugJSON)

	// Docs
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	return mux
}

// Handler is Routes wrapped in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(s.Routes(),
		Recover(s.Log),
		OTel(s.Config.HTTP.ServiceName),
		Logger(s.Log, s.tenantOf),
		Metrics(),
		s.RateLimit(),
	)
}
