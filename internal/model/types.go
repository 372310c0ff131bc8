package model

import (
	"time"

	"hoslog/internal/hos"
)

// TripRequest is the trip-intake payload: driver context plus the planned
// or recorded stops.
type TripRequest struct {
	DriverID string          `json:"driverId,omitempty"`
	Context  hos.TripContext `json:"context"`
	Stops    []hos.Stop      `json:"stops"`
}

// Trip is a stored, evaluated trip.
type Trip struct {
	ID                 string               `json:"id"`
	TenantID           string               `json:"tenantId"`
	DriverID           string               `json:"driverId,omitempty"`
	Context            hos.TripContext      `json:"context"`
	Stops              []hos.Stop           `json:"stops"`
	Logs               []hos.LogDay         `json:"logs"`
	Report             hos.ComplianceReport `json:"report"`
	Gauges             hos.Gauges           `json:"gauges"`
	TotalMiles         float64              `json:"totalMiles"`
	EstimatedFuelStops int                  `json:"estimatedFuelStops"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// TripSummary is the list view of a trip.
type TripSummary struct {
	ID             string    `json:"id"`
	DriverID       string    `json:"driverId,omitempty"`
	Days           int       `json:"days"`
	IsCompliant    bool      `json:"isCompliant"`
	Violations     int       `json:"violations"`
	CycleHoursUsed float64   `json:"cycleHoursUsed"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary returns the list view of t.
func (t Trip) Summary() TripSummary {
	return TripSummary{
		ID:             t.ID,
		DriverID:       t.DriverID,
		Days:           len(t.Logs),
		IsCompliant:    t.Report.IsCompliant,
		Violations:     len(t.Report.Violations),
		CycleHoursUsed: t.Report.CycleHoursUsed,
		CreatedAt:      t.CreatedAt,
	}
}

// EvaluateRequest re-runs compliance on stored or supplied logs.
type EvaluateRequest struct {
	Context hos.TripContext `json:"context"`
	Logs    []hos.LogDay    `json:"logs,omitempty"`
}

// PartitionRequest asks for logs only.
type PartitionRequest struct {
	DepartureTime time.Time  `json:"departureTime"`
	Stops         []hos.Stop `json:"stops"`
}

// EvaluationResult is returned by the stateless compliance endpoint.
type EvaluationResult struct {
	Report hos.ComplianceReport `json:"report"`
	Gauges hos.Gauges           `json:"gauges"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

// Event types published to webhooks and the live feed.
const (
	EventTripEvaluated = "trip.evaluated"
	EventTripViolation = "trip.violation"
)

// EventTypes lists the events a subscription may name.
var EventTypes = []string{EventTripEvaluated, EventTripViolation}

// TripEvent is the payload of trip.* events.
type TripEvent struct {
	TripID         string          `json:"tripId"`
	DriverID       string          `json:"driverId,omitempty"`
	IsCompliant    bool            `json:"isCompliant"`
	Violations     []hos.Violation `json:"violations"`
	Warnings       []string        `json:"warnings"`
	CycleHoursUsed float64         `json:"cycleHoursUsed"`
	Gauges         hos.Gauges      `json:"gauges"`
}

// EventOf builds the event payload for t.
func EventOf(t Trip) TripEvent {
	return TripEvent{
		TripID:         t.ID,
		DriverID:       t.DriverID,
		IsCompliant:    t.Report.IsCompliant,
		Violations:     t.Report.Violations,
		Warnings:       t.Report.Warnings,
		CycleHoursUsed: t.Report.CycleHoursUsed,
		Gauges:         t.Gauges,
	}
}
