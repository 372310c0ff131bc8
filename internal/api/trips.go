package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"hoslog/internal/auth"
	"hoslog/internal/hos"
	"hoslog/internal/metrics"
	"hoslog/internal/model"
)

// TripsHandler handles POST/GET /v1/trips
func (s *Server) TripsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/trips" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.CanWrite() {
			writeProblem(w, 403, "Forbidden", "role cannot create trips", r.URL.Path)
			return
		}
		var req model.TripRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		driverID := req.DriverID
		if p.Role == auth.RoleDriver {
			driverID = p.DriverID
		}
		logs, report, err := s.Rules.Check(req.Stops, req.Context)
		if err != nil {
			metrics.Rejections.WithLabelValues(rejectReason(err)).Inc()
			writeError(w, r, "Evaluate trip failed", err)
			return
		}
		s.recordEvaluation("trip", report, len(logs))
		miles := hos.TripMiles(logs)
		trip, err := s.Store.SaveTrip(r.Context(), model.Trip{
			TenantID:           p.Tenant,
			DriverID:           driverID,
			Context:            req.Context,
			Stops:              req.Stops,
			Logs:               logs,
			Report:             report,
			Gauges:             report.Gauges(),
			TotalMiles:         miles,
			EstimatedFuelStops: hos.FuelStopsNeeded(miles),
		})
		if err != nil {
			writeError(w, r, "Save trip failed", err)
			return
		}
		s.announce(r.Context(), trip)
		writeJSON(w, http.StatusCreated, trip)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		driverID := r.URL.Query().Get("driverId")
		if p.Role == auth.RoleDriver {
			driverID = p.DriverID
		}
		trips, next, err := s.Store.ListTrips(r.Context(), p.Tenant, driverID, cursor, limit)
		if err != nil {
			writeError(w, r, "List trips failed", err)
			return
		}
		items := make([]model.TripSummary, 0, len(trips))
		for _, t := range trips {
			items = append(items, t.Summary())
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// TripByIDHandler handles /v1/trips/{id}, /logs, /report and /evaluate.
func (s *Server) TripByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/trips/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id, action := parts[0], ""
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
		return
	}
	p := s.getPrincipal(r)
	trip, err := s.Store.GetTrip(r.Context(), p.Tenant, id)
	if err != nil {
		writeError(w, r, "Get trip failed", err)
		return
	}
	if !canSeeTrip(p, trip.DriverID) {
		writeProblem(w, 403, "Forbidden", "not authorized for trip", path)
		return
	}

	if action == "evaluate" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.CanWrite() {
			writeProblem(w, 403, "Forbidden", "role cannot evaluate trips", path)
			return
		}
		var req model.EvaluateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := req.Context.Validate(s.Rules); err != nil {
			metrics.Rejections.WithLabelValues(rejectReason(err)).Inc()
			writeError(w, r, "Evaluate trip failed", err)
			return
		}
		report := hos.Assemble(s.Rules.Evaluate(trip.Logs, req.Context))
		s.recordEvaluation("reevaluate", report, len(trip.Logs))
		updated, err := s.Store.UpdateTripEvaluation(r.Context(), p.Tenant, id, req.Context, report)
		if err != nil {
			writeError(w, r, "Update trip failed", err)
			return
		}
		s.announce(r.Context(), updated)
		writeJSON(w, http.StatusOK, updated)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch action {
	case "":
		writeJSON(w, http.StatusOK, trip)
	case "logs":
		writeJSON(w, http.StatusOK, map[string]any{"tripId": trip.ID, "logs": trip.Logs})
	case "report":
		writeJSON(w, http.StatusOK, model.EvaluationResult{Report: trip.Report, Gauges: trip.Gauges})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// PartitionHandler handles POST /v1/logs/partition. Nothing is stored.
func (s *Server) PartitionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.PartitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	departure := req.DepartureTime
	if departure.IsZero() && len(req.Stops) > 0 {
		departure = req.Stops[0].Departure
	}
	logs, err := s.Rules.Partition(req.Stops, departure)
	if err != nil {
		metrics.Rejections.WithLabelValues(rejectReason(err)).Inc()
		writeError(w, r, "Partition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "totalMiles": hos.TripMiles(logs)})
}

// EvaluateHandler handles POST /v1/compliance/evaluate on caller-supplied logs.
func (s *Server) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Context.Validate(s.Rules); err != nil {
		metrics.Rejections.WithLabelValues(rejectReason(err)).Inc()
		writeError(w, r, "Evaluate failed", err)
		return
	}
	report := hos.Assemble(s.Rules.Evaluate(req.Logs, req.Context))
	s.recordEvaluation("stateless", report, len(req.Logs))
	writeJSON(w, http.StatusOK, model.EvaluationResult{Report: report, Gauges: report.Gauges()})
}

// RulesHandler handles GET /v1/rules
func (s *Server) RulesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rs := s.Rules
	writeJSON(w, http.StatusOK, map[string]any{
		"maxDriving":         rs.MaxDriving.String(),
		"maxDutyWindow":      rs.MaxDutyWindow.String(),
		"breakAfter":         rs.BreakAfter.String(),
		"breakMin":           rs.BreakMin.String(),
		"requiredRest":       rs.RequiredRest.String(),
		"sleeperMajorMin":    rs.SleeperMajorMin.String(),
		"sleeperMinorMin":    rs.SleeperMinorMin.String(),
		"cycleWarningMargin": rs.CycleWarningMargin.String(),
		"cycles": map[string]string{
			string(hos.Cycle60Hour7Day): rs.Cycle7Day.String(),
			string(hos.Cycle70Hour8Day): rs.Cycle8Day.String(),
		},
	})
}

func (s *Server) recordEvaluation(source string, report hos.ComplianceReport, days int) {
	outcome := "compliant"
	if !report.IsCompliant {
		outcome = "violation"
	}
	metrics.Evaluations.WithLabelValues(source, outcome).Inc()
	metrics.TripDays.Observe(float64(days))
	for _, v := range report.Violations {
		metrics.Violations.WithLabelValues(string(v.Kind), string(v.Severity)).Inc()
	}
}

// announce pushes the trip to webhook subscribers and the live feed.
func (s *Server) announce(ctx context.Context, trip model.Trip) {
	if s.Pub != nil {
		if err := s.Pub.PublishTrip(ctx, trip); err != nil {
			s.Log.Warn("publish trip failed", zap.String("tenant", trip.TenantID), zap.String("trip", trip.ID), zap.Error(err))
		}
	}
	if s.Broker == nil {
		return
	}
	data := tripEventData(trip)
	s.Broker.Publish(trip.TenantID, SSEEvent{Type: model.EventTripEvaluated, Data: data})
	if !trip.Report.IsCompliant {
		s.Broker.Publish(trip.TenantID, SSEEvent{Type: model.EventTripViolation, Data: data})
	}
}

func tripEventData(t model.Trip) map[string]any {
	ev := model.EventOf(t)
	return map[string]any{
		"tripId":         ev.TripID,
		"driverId":       ev.DriverID,
		"isCompliant":    ev.IsCompliant,
		"violations":     ev.Violations,
		"warnings":       ev.Warnings,
		"cycleHoursUsed": ev.CycleHoursUsed,
		"gauges":         ev.Gauges,
		"ts":             time.Now().UTC().Format(time.RFC3339),
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, hos.ErrInvalidTripContext):
		return "invalid_context"
	case errors.Is(err, hos.ErrMalformedItinerary):
		return "malformed_itinerary"
	}
	return "other"
}
