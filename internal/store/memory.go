package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"hoslog/internal/hos"
	"hoslog/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	trips   map[string]model.Trip           // id -> trip
	byTen   map[string][]string             // tenant -> trip ids, insertion order
	subs    map[string][]model.Subscription // tenant -> subscriptions
	// Webhooks queue state
	deliveries         map[string]*memDelivery // id -> delivery state
	deliveriesByTenant map[string][]string     // tenant -> delivery ids
	dlq                []memDeadLetter
	now                func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		trips:              map[string]model.Trip{},
		byTen:              map[string][]string{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		now:                time.Now,
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

type memDeadLetter struct {
	DeadLetter
	TenantID string
	Secret   string
	Payload  []byte
}

func (m *Memory) SaveTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, exists := m.trips[t.ID]; !exists {
		m.byTen[t.TenantID] = append(m.byTen[t.TenantID], t.ID)
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.trips[t.ID] = t
	return t, nil
}

func (m *Memory) GetTrip(ctx context.Context, tenantID, id string) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.TenantID != tenantID {
		return model.Trip{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTrips(ctx context.Context, tenantID, driverID, cursor string, limit int) ([]model.Trip, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byTen[tenantID]
	start := 0
	if cursor != "" {
		if i := slices.Index(ids, cursor); i >= 0 {
			start = i + 1
		}
	}
	limit = clampLimit(limit)
	out := []model.Trip{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		t := m.trips[ids[i]]
		if driverID == "" || t.DriverID == driverID {
			out = append(out, t)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) UpdateTripEvaluation(ctx context.Context, tenantID, id string, tc hos.TripContext, report hos.ComplianceReport) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.TenantID != tenantID {
		return model.Trip{}, ErrNotFound
	}
	t = ReEvaluate(t, tc, report, m.now().UTC())
	m.trips[id] = t
	return t, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		if slices.Contains(s.Events, eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+clampLimit(limit), len(list))
	items := append([]model.Subscription{}, list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	i := slices.IndexFunc(list, func(s model.Subscription) bool { return s.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	m.subs[tenantID] = slices.Delete(list, i, i+1)
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same dedup rule as the Postgres unique index.
	key := computeDedupKey(payload)
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d.EventType == eventType && d.URL == url && computeDedupKey(d.Payload) == key {
			return d.ID, nil
		}
	}
	id := uuid.New().String()
	d := &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: StatusPending},
		NextAttemptAt:   m.now(),
	}
	m.deliveries[id] = d
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var due []*memDelivery
	for _, d := range m.deliveries {
		if (d.Status == StatusPending || d.Status == StatusRetry) && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	slices.SortFunc(due, func(a, b *memDelivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	out := []WebhookDelivery{}
	for _, d := range due {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, d.WebhookDelivery)
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = StatusDelivered
		now := m.now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = StatusRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = StatusFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.dlq = append(m.dlq, memDeadLetter{
		DeadLetter: DeadLetter{
			ID: uuid.New().String(), DeliveryID: id, EventType: d.EventType, URL: d.URL,
			LastError: lastError, Attempts: d.Attempts, ResponseCode: responseCode, LatencyMs: latencyMs,
			CreatedAt: m.now().UTC(),
		},
		TenantID: d.TenantID, Secret: d.Secret, Payload: d.Payload,
	})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]DeliveryRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.deliveriesByTenant[tenantID]
	start := 0
	if cursor != "" {
		if i := slices.Index(ids, cursor); i >= 0 {
			start = i + 1
		}
	}
	limit = clampLimit(limit)
	out := []DeliveryRecord{}
	var last string
	for _, id := range ids[start:] {
		if len(out) >= limit {
			break
		}
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		rec := DeliveryRecord{ID: d.ID, EventType: d.EventType, Status: d.Status, Attempts: d.Attempts, URL: d.URL,
			LastError: d.LastError, ResponseCode: d.ResponseCode, LatencyMs: d.LatencyMs, DeliveredAt: d.DeliveredAt}
		if !d.NextAttemptAt.IsZero() && d.Status != StatusDelivered && d.Status != StatusFailed {
			next := d.NextAttemptAt
			rec.NextAttemptAt = &next
		}
		out = append(out, rec)
		last = id
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = StatusPending
	d.NextAttemptAt = m.now()
	return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]DeadLetter, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []DeadLetter{}
	started := cursor == ""
	var last string
	for _, dl := range m.dlq {
		if !started {
			started = dl.ID == cursor
			continue
		}
		if dl.TenantID != tenantID || (eventType != "" && dl.EventType != eventType) {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, dl.DeadLetter)
		last = dl.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	i := slices.IndexFunc(m.dlq, func(dl memDeadLetter) bool { return dl.ID == id && dl.TenantID == tenantID })
	if i < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	dl := m.dlq[i]
	m.dlq = slices.Delete(m.dlq, i, i+1)
	// The original delivery keeps its dedup key, so reset it in place.
	if d := m.deliveries[dl.DeliveryID]; d != nil {
		d.Status = StatusPending
		d.Attempts = 0
		d.NextAttemptAt = m.now()
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	_, err := m.EnqueueWebhook(ctx, tenantID, "", dl.EventType, dl.URL, dl.Secret, dl.Payload)
	return err
}
