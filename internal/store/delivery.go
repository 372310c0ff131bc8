package store

import "time"

// Delivery statuses.
const (
	StatusPending   = "pending"
	StatusRetry     = "retry"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

// DeliveryRecord is the admin view of a delivery.
type DeliveryRecord struct {
	ID            string     `json:"id"`
	EventType     string     `json:"eventType"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	URL           string     `json:"url"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	ResponseCode  int        `json:"responseCode,omitempty"`
	LatencyMs     int        `json:"latencyMs,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
}

// DeadLetter is a delivery that exhausted its attempts.
type DeadLetter struct {
	ID           string    `json:"id"`
	DeliveryID   string    `json:"deliveryId"`
	EventType    string    `json:"eventType"`
	URL          string    `json:"url"`
	LastError    string    `json:"lastError"`
	Attempts     int       `json:"attempts"`
	ResponseCode int       `json:"responseCode"`
	LatencyMs    int       `json:"latencyMs"`
	CreatedAt    time.Time `json:"createdAt"`
}
