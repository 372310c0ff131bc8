package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"hoslog/internal/hos"
	"hoslog/internal/model"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

func TestMemoryTripsAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	saved, err := m.SaveTrip(ctx, model.Trip{TenantID: "t1", DriverID: "d1"})
	if err != nil || saved.ID == "" || saved.CreatedAt.IsZero() {
		t.Fatalf("SaveTrip: %+v %v", saved, err)
	}
	if _, err := m.GetTrip(ctx, "t2", saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tenant should not see trip: %v", err)
	}
	if _, err := m.UpdateTripEvaluation(ctx, "t2", saved.ID, hos.TripContext{}, hos.ComplianceReport{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other tenant should not update trip: %v", err)
	}
	got, err := m.GetTrip(ctx, "t1", saved.ID)
	if err != nil || got.DriverID != "d1" {
		t.Fatalf("GetTrip: %+v %v", got, err)
	}
}

func TestMemoryListTripsPagination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		driver := "d1"
		if i%2 == 1 {
			driver = "d2"
		}
		if _, err := m.SaveTrip(ctx, model.Trip{TenantID: "t1", DriverID: driver}); err != nil {
			t.Fatal(err)
		}
	}
	page, next, _ := m.ListTrips(ctx, "t1", "", "", 2)
	if len(page) != 2 || next == "" {
		t.Fatalf("first page: %d items, next=%q", len(page), next)
	}
	seen := len(page)
	for next != "" {
		page, next, _ = m.ListTrips(ctx, "t1", "", next, 2)
		seen += len(page)
	}
	if seen != 5 {
		t.Fatalf("paged through %d trips, want 5", seen)
	}
	d2, _, _ := m.ListTrips(ctx, "t1", "d2", "", 10)
	if len(d2) != 2 {
		t.Fatalf("driver filter: got %d", len(d2))
	}
}

func TestMemoryUpdateTripEvaluation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	saved, _ := m.SaveTrip(ctx, model.Trip{TenantID: "t1"})
	tc := hos.TripContext{CycleType: hos.Cycle60Hour7Day, CycleHoursUsedBeforeTrip: 30}
	report := hos.Evaluate(nil, tc)
	got, err := m.UpdateTripEvaluation(ctx, "t1", saved.ID, tc, report)
	if err != nil {
		t.Fatalf("UpdateTripEvaluation: %v", err)
	}
	if got.Context != tc || got.Report.CycleHoursUsed != 30 || got.Gauges.CycleHours != 50 {
		t.Fatalf("not re-evaluated: %+v", got)
	}
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{model.EventTripViolation}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{model.EventTripEvaluated}})
	subs, _ := m.GetSubscriptionsForEvent(ctx, "t1", model.EventTripViolation)
	if len(subs) != 1 || subs[0].ID != a.ID {
		t.Fatalf("event filter: %+v", subs)
	}
	if err := m.DeleteSubscription(ctx, "t1", a.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if err := m.DeleteSubscription(ctx, "t1", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	list, _, _ := m.ListSubscriptions(ctx, "t1", "", 10)
	if len(list) != 1 {
		t.Fatalf("list after delete: %+v", list)
	}
}

func TestMemoryWebhookLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	payload := []byte(`{"id":"evt_1","type":"trip.violation"}`)
	id, _ := m.EnqueueWebhook(ctx, "t1", "", model.EventTripViolation, "http://x", "s", payload)
	if dup, _ := m.EnqueueWebhook(ctx, "t1", "", model.EventTripViolation, "http://x", "s", payload); dup != id {
		t.Fatalf("duplicate event enqueued twice")
	}
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 {
		t.Fatalf("want 1 due, got %d", len(due))
	}

	later := now.Add(time.Hour)
	_ = m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3)
	if due, _ := m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("retry scheduled in the future should not be due")
	}

	_ = m.FailWebhookDelivery(ctx, id, "gave up", 500, 4)
	dlq, _, _ := m.ListWebhookDLQ(ctx, "t1", "", "", 10)
	if len(dlq) != 1 || dlq[0].DeliveryID != id || dlq[0].Attempts != 2 {
		t.Fatalf("dlq: %+v", dlq)
	}
	if other, _, _ := m.ListWebhookDLQ(ctx, "t2", "", "", 10); len(other) != 0 {
		t.Fatalf("dlq leaked across tenants")
	}

	if err := m.RequeueWebhookDLQ(ctx, "t1", dlq[0].ID); err != nil {
		t.Fatalf("RequeueWebhookDLQ: %v", err)
	}
	recs, _, _ := m.ListWebhookDeliveries(ctx, "t1", StatusPending, "", 10)
	if len(recs) != 1 || recs[0].ID != id || recs[0].Attempts != 0 {
		t.Fatalf("requeued delivery: %+v", recs)
	}
	_ = m.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 5)
	recs, _, _ = m.ListWebhookDeliveries(ctx, "t1", StatusDelivered, "", 10)
	if len(recs) != 1 || recs[0].DeliveredAt == nil || recs[0].NextAttemptAt != nil {
		t.Fatalf("delivered record: %+v", recs)
	}
	if err := m.RetryWebhookDelivery(ctx, "t2", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant retry: %v", err)
	}
}
