package store

import (
	"context"
	"errors"
	"time"

	"hoslog/internal/hos"
	"hoslog/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Trips
	SaveTrip(ctx context.Context, trip model.Trip) (model.Trip, error)
	GetTrip(ctx context.Context, tenantID, id string) (model.Trip, error)
	ListTrips(ctx context.Context, tenantID, driverID, cursor string, limit int) ([]model.Trip, string, error)
	UpdateTripEvaluation(ctx context.Context, tenantID, id string, tc hos.TripContext, report hos.ComplianceReport) (model.Trip, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]DeliveryRecord, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	// Dead-letter queue
	ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]DeadLetter, string, error)
	RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error
}

var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 100
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}

// ReEvaluate applies a new context and report to t.
func ReEvaluate(t model.Trip, tc hos.TripContext, report hos.ComplianceReport, now time.Time) model.Trip {
	t.Context = tc
	t.Report = report
	t.Gauges = report.Gauges()
	t.UpdatedAt = now
	return t
}
