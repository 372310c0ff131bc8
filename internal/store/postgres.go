package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"hoslog/internal/hos"
	"hoslog/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

const tripColumns = `id::text, tenant_id, COALESCE(driver_id,''), context, stops, logs, report, total_miles, fuel_stops, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (model.Trip, error) {
	var t model.Trip
	var ctxJSON, stopsJSON, logsJSON, reportJSON []byte
	if err := row.Scan(&t.ID, &t.TenantID, &t.DriverID, &ctxJSON, &stopsJSON, &logsJSON, &reportJSON, &t.TotalMiles, &t.EstimatedFuelStops, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return model.Trip{}, err
	}
	for _, f := range []struct {
		name string
		src  []byte
		dst  any
	}{
		{"context", ctxJSON, &t.Context},
		{"stops", stopsJSON, &t.Stops},
		{"logs", logsJSON, &t.Logs},
		{"report", reportJSON, &t.Report},
	} {
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return model.Trip{}, fmt.Errorf("store: decode trip %s %s: %w", t.ID, f.name, err)
		}
	}
	t.Gauges = t.Report.Gauges()
	return t, nil
}

func (p *Postgres) SaveTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: save trip: %w", err)
	}
	stopsJSON, err := json.Marshal(t.Stops)
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: save trip: %w", err)
	}
	logsJSON, err := json.Marshal(t.Logs)
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: save trip: %w", err)
	}
	reportJSON, err := json.Marshal(t.Report)
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: save trip: %w", err)
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO trips (id, tenant_id, driver_id, context, stops, logs, report, is_compliant, total_miles, fuel_stops)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET context=EXCLUDED.context, stops=EXCLUDED.stops, logs=EXCLUDED.logs, report=EXCLUDED.report,
            is_compliant=EXCLUDED.is_compliant, total_miles=EXCLUDED.total_miles, fuel_stops=EXCLUDED.fuel_stops, updated_at=now()
        WHERE trips.tenant_id=EXCLUDED.tenant_id
        RETURNING `+tripColumns,
		t.ID, t.TenantID, nullIfEmpty(t.DriverID), ctxJSON, stopsJSON, logsJSON, reportJSON, t.Report.IsCompliant, t.TotalMiles, t.EstimatedFuelStops)
	saved, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trip{}, ErrNotFound
	}
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: save trip: %w", err)
	}
	return saved, nil
}

func (p *Postgres) GetTrip(ctx context.Context, tenantID, id string) (model.Trip, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Trip{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trip{}, ErrNotFound
	}
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: get trip: %w", err)
	}
	return t, nil
}

func (p *Postgres) ListTrips(ctx context.Context, tenantID, driverID, cursor string, limit int) ([]model.Trip, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + tripColumns + ` FROM trips WHERE tenant_id=$1`
	args := []any{tenantID}
	if driverID != "" {
		args = append(args, driverID)
		q += fmt.Sprintf(` AND driver_id=$%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(` AND id::text > $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("store: list trips: %w", err)
	}
	defer rows.Close()
	out := []model.Trip{}
	var last string
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, "", fmt.Errorf("store: list trips: %w", err)
		}
		out = append(out, t)
		last = t.ID
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("store: list trips: %w", err)
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (p *Postgres) UpdateTripEvaluation(ctx context.Context, tenantID, id string, tc hos.TripContext, report hos.ComplianceReport) (model.Trip, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Trip{}, ErrNotFound
	}
	ctxJSON, err := json.Marshal(tc)
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: update trip: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: update trip: %w", err)
	}
	row := p.db.QueryRowContext(ctx, `UPDATE trips SET context=$3, report=$4, is_compliant=$5, updated_at=now()
        WHERE tenant_id=$1 AND id=$2 RETURNING `+tripColumns, tenantID, id, ctxJSON, reportJSON, report.IsCompliant)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trip{}, ErrNotFound
	}
	if err != nil {
		return model.Trip{}, fmt.Errorf("store: update trip: %w", err)
	}
	return t, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("store: create subscription: %w", err)
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	want, _ := json.Marshal([]string{eventType})
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, string(want))
	if err != nil {
		return nil, fmt.Errorf("store: subscriptions for %s: %w", eventType, err)
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: list subscriptions: %w", err)
	}
	defer rows.Close()
	out := []model.Subscription{}
	var last string
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, "", err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("store: delete subscription: %w", err)
	}
	return affectedOrNotFound(res)
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil {
		return "", fmt.Errorf("store: enqueue webhook: %w", err)
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: fetch due deliveries: %w", err)
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`,
			nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return fmt.Errorf("store: fail delivery: %w", err)
	}
	// move to DLQ
	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error, response_code, latency_ms)
        SELECT tenant_id, id, event_type, url, secret, payload, attempts, $2, $3, $4 FROM webhook_deliveries WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return fmt.Errorf("store: dead-letter delivery: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]DeliveryRecord, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url, COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at FROM webhook_deliveries WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(` AND id::text > $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("store: list deliveries: %w", err)
	}
	defer rows.Close()
	out := []DeliveryRecord{}
	var last string
	for rows.Next() {
		var r DeliveryRecord
		var nextAt, deliveredAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.EventType, &r.Status, &r.Attempts, &nextAt, &r.LastError, &r.URL, &r.ResponseCode, &r.LatencyMs, &deliveredAt); err != nil {
			return nil, "", err
		}
		if nextAt.Valid && (r.Status == StatusPending || r.Status == StatusRetry) {
			r.NextAttemptAt = &nextAt.Time
		}
		if deliveredAt.Valid {
			r.DeliveredAt = &deliveredAt.Time
		}
		out = append(out, r)
		last = r.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("store: retry delivery: %w", err)
	}
	return affectedOrNotFound(res)
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]DeadLetter, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id::text, COALESCE(delivery_id::text,''), event_type, url, COALESCE(last_error,''), attempts, created_at, COALESCE(response_code,0), COALESCE(latency_ms,0) FROM webhook_dlq WHERE tenant_id=$1`
	args := []any{tenantID}
	if eventType != "" {
		args = append(args, eventType)
		q += fmt.Sprintf(` AND event_type=$%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(` AND id::text > $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("store: list dlq: %w", err)
	}
	defer rows.Close()
	out := []DeadLetter{}
	var last string
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.DeliveryID, &d.EventType, &d.URL, &d.LastError, &d.Attempts, &d.CreatedAt, &d.ResponseCode, &d.LatencyMs); err != nil {
			return nil, "", err
		}
		out = append(out, d)
		last = d.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

// RequeueWebhookDLQ resets the original delivery so it keeps its dedup key,
// then drops the dead letter.
func (p *Postgres) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var deliveryID string
	err = tx.QueryRowContext(ctx, `DELETE FROM webhook_dlq WHERE tenant_id=$1 AND id=$2 RETURNING COALESCE(delivery_id::text,'')`, tenantID, id).Scan(&deliveryID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: requeue dlq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, deliveryID); err != nil {
		return fmt.Errorf("store: requeue dlq: %w", err)
	}
	return tx.Commit()
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func computeDedupKey(payload []byte) string {
	// try to parse JSON and use id
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
