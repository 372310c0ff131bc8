package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hoslog/internal/model"
	"hoslog/internal/store"
)

type Publisher struct {
	Store store.Store
	Log   *zap.Logger
}

func NewPublisher(s store.Store, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{Store: s, Log: log}
}

// Envelope is the body POSTed to subscribers.
type Envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

// Emit enqueues an event for every subscription of the tenant that names
// eventType. It returns the number of deliveries queued.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) (int, error) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		return 0, fmt.Errorf("webhooks: emit %s: %w", eventType, err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(Envelope{
		ID:       "evt_" + uuid.NewString(),
		Type:     eventType,
		TenantID: tenantID,
		TS:       time.Now().UTC().Format(time.RFC3339),
		Data:     data,
	})
	if err != nil {
		return 0, fmt.Errorf("webhooks: emit %s: %w", eventType, err)
	}
	n := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("webhook enqueue failed", zap.String("tenant", tenantID), zap.String("subscription", s.ID), zap.String("event_type", eventType), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// PublishTrip emits trip.evaluated, and trip.violation when the trip is out
// of compliance.
func (p *Publisher) PublishTrip(ctx context.Context, trip model.Trip) error {
	ev := model.EventOf(trip)
	if _, err := p.Emit(ctx, trip.TenantID, model.EventTripEvaluated, ev); err != nil {
		return err
	}
	if trip.Report.IsCompliant {
		return nil
	}
	_, err := p.Emit(ctx, trip.TenantID, model.EventTripViolation, ev)
	return err
}
