package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"hoslog/internal/auth"
	"hoslog/internal/config"
	"hoslog/internal/hos"
	"hoslog/internal/model"
	"hoslog/internal/store"
)

func testConfig() *config.Config {
	cfg := &config.Config{Env: "test"}
	cfg.Auth.Mode = "dev"
	cfg.HTTP.ServiceName = "hoslog-test"
	cfg.Webhooks.MaxAttempts = 3
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(testConfig(), store.NewMemory(), NewBroker(), hos.DefaultRules(), zap.NewNop())
}

// shortTrip is six hours of driving inside one day.
const shortTrip = `{"driverId":"drv1","context":{"cycleType":"70h/8day","cycleHoursUsedBeforeTrip":10},"stops":[
 {"type":"start","location":"Chicago, IL","arrivalTime":"2024-03-01T06:00:00Z","departureTime":"2024-03-01T06:00:00Z","mileage":0},
 {"type":"pickup","location":"Indianapolis, IN","arrivalTime":"2024-03-01T09:00:00Z","departureTime":"2024-03-01T10:00:00Z","mileage":180},
 {"type":"dropoff","location":"Dayton, OH","arrivalTime":"2024-03-01T13:00:00Z","departureTime":"2024-03-01T14:00:00Z","mileage":300}]}`

// longTrip drives 13 hours on its first day.
const longTrip = `{"driverId":"drv2","context":{"cycleType":"60h/7day","cycleHoursUsedBeforeTrip":20},"stops":[
 {"type":"start","location":"Chicago, IL","arrivalTime":"2024-03-01T06:00:00Z","departureTime":"2024-03-01T06:00:00Z","mileage":0},
 {"type":"pickup","location":"Indianapolis, IN","arrivalTime":"2024-03-01T09:00:00Z","departureTime":"2024-03-01T10:00:00Z","mileage":180},
 {"type":"rest","location":"Columbus, OH","arrivalTime":"2024-03-01T14:00:00Z","departureTime":"2024-03-01T14:30:00Z","mileage":350},
 {"type":"fuel","location":"Pittsburgh, PA","arrivalTime":"2024-03-01T17:30:00Z","departureTime":"2024-03-01T18:00:00Z","mileage":535},
 {"type":"overnight","location":"Harrisburg, PA","arrivalTime":"2024-03-01T21:00:00Z","departureTime":"2024-03-02T07:00:00Z","mileage":740},
 {"type":"dropoff","location":"Philadelphia, PA","arrivalTime":"2024-03-02T09:30:00Z","departureTime":"2024-03-02T10:30:00Z","mileage":850}]}`

func do(t *testing.T, h http.HandlerFunc, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func createTrip(t *testing.T, s *Server, body string) model.Trip {
	t.Helper()
	rr := do(t, s.TripsHandler, http.MethodPost, "/v1/trips", body, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create trip: %d %s", rr.Code, rr.Body.String())
	}
	var trip model.Trip
	if err := json.Unmarshal(rr.Body.Bytes(), &trip); err != nil {
		t.Fatalf("decode trip: %v", err)
	}
	return trip
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

type downStore struct{ *store.Memory }

func (downStore) Ping(context.Context) error { return context.DeadlineExceeded }

func TestReadyReportsStoreDown(t *testing.T) {
	s := NewServer(testConfig(), downStore{store.NewMemory()}, nil, hos.DefaultRules(), nil)
	rr := httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 503 {
		t.Fatalf("ready with store down: got %d", rr.Code)
	}
}

func TestTripCreateGetList(t *testing.T) {
	s := newTestServer(t)
	trip := createTrip(t, s, shortTrip)
	if trip.ID == "" || trip.DriverID != "drv1" || trip.TenantID != "t_test" {
		t.Fatalf("trip: %+v", trip)
	}
	if !trip.Report.IsCompliant || len(trip.Logs) != 1 {
		t.Fatalf("want compliant single-day trip, got compliant=%v days=%d", trip.Report.IsCompliant, len(trip.Logs))
	}
	if trip.TotalMiles != 300 || trip.Gauges.CycleHours <= 0 {
		t.Fatalf("miles/gauges: %v %+v", trip.TotalMiles, trip.Gauges)
	}

	rr := do(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID, "", nil)
	if rr.Code != 200 {
		t.Fatalf("get trip: %d", rr.Code)
	}
	rr = do(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID+"/logs", "", nil)
	var logs struct {
		Logs []hos.LogDay `json:"logs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &logs); err != nil || len(logs.Logs) != 1 {
		t.Fatalf("logs: %v %s", err, rr.Body.String())
	}
	if got := logs.Logs[0].TotalHours.Driving; got != 6 {
		t.Fatalf("driving hours: %v", got)
	}
	rr = do(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID+"/report", "", nil)
	var res model.EvaluationResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil || !res.Report.IsCompliant {
		t.Fatalf("report: %v %s", err, rr.Body.String())
	}

	rr = do(t, s.TripsHandler, http.MethodGet, "/v1/trips?limit=5", "", nil)
	var list struct {
		Items []model.TripSummary `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list.Items) != 1 || list.Items[0].ID != trip.ID {
		t.Fatalf("list: %v %s", err, rr.Body.String())
	}

	// other tenants never see it
	rr = do(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID, "", map[string]string{"X-Tenant-Id": "t_other"})
	if rr.Code != 404 {
		t.Fatalf("cross-tenant get: %d", rr.Code)
	}
}

func TestTripInvalidContext(t *testing.T) {
	s := newTestServer(t)
	body := `{"context":{"cycleType":"80h/9day","cycleHoursUsedBeforeTrip":-1},"stops":[]}`
	rr := do(t, s.TripsHandler, http.MethodPost, "/v1/trips", body, nil)
	if rr.Code != 400 {
		t.Fatalf("want 400, got %d", rr.Code)
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Fields["cycleType"]; !ok {
		t.Fatalf("cycleType field missing: %+v", p)
	}
	if _, ok := p.Fields["cycleHoursUsedBeforeTrip"]; !ok {
		t.Fatalf("cycleHoursUsedBeforeTrip field missing: %+v", p)
	}
}

func TestPartitionMalformed(t *testing.T) {
	s := newTestServer(t)
	body := `{"stops":[
 {"type":"start","location":"A","arrivalTime":"2024-03-01T06:00:00Z","departureTime":"2024-03-01T06:00:00Z"},
 {"type":"pickup","location":"B","arrivalTime":"2024-03-01T09:00:00Z","departureTime":"2024-03-01T08:00:00Z"}]}`
	rr := do(t, s.PartitionHandler, http.MethodPost, "/v1/logs/partition", body, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestPartitionThenEvaluate(t *testing.T) {
	s := newTestServer(t)
	var trip model.TripRequest
	if err := json.Unmarshal([]byte(longTrip), &trip); err != nil {
		t.Fatal(err)
	}
	pb, _ := json.Marshal(model.PartitionRequest{Stops: trip.Stops})
	rr := do(t, s.PartitionHandler, http.MethodPost, "/v1/logs/partition", string(pb), nil)
	if rr.Code != 200 {
		t.Fatalf("partition: %d %s", rr.Code, rr.Body.String())
	}
	var part struct {
		Logs []hos.LogDay `json:"logs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &part); err != nil || len(part.Logs) != 2 {
		t.Fatalf("partition body: %v %s", err, rr.Body.String())
	}

	eb, _ := json.Marshal(model.EvaluateRequest{Context: trip.Context, Logs: part.Logs})
	rr = do(t, s.EvaluateHandler, http.MethodPost, "/v1/compliance/evaluate", string(eb), nil)
	if rr.Code != 200 {
		t.Fatalf("evaluate: %d %s", rr.Code, rr.Body.String())
	}
	var res model.EvaluationResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Report.IsCompliant {
		t.Fatalf("13h driving day should be a violation: %+v", res.Report)
	}
	found := false
	for _, v := range res.Report.Violations {
		if v.Kind == hos.KindDriving && v.DayIndex != nil && *v.DayIndex == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("driving violation on day 0 missing: %+v", res.Report.Violations)
	}
	if res.Gauges.DrivingHours > 100 {
		t.Fatalf("gauges must be clamped: %+v", res.Gauges)
	}
}

func TestTripReevaluate(t *testing.T) {
	s := newTestServer(t)
	trip := createTrip(t, s, shortTrip)
	body := `{"context":{"cycleType":"60h/7day","cycleHoursUsedBeforeTrip":55}}`
	rr := do(t, s.TripByIDHandler, http.MethodPost, "/v1/trips/"+trip.ID+"/evaluate", body, nil)
	if rr.Code != 200 {
		t.Fatalf("reevaluate: %d %s", rr.Code, rr.Body.String())
	}
	var got model.Trip
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Report.IsCompliant || got.Report.CycleHoursUsed != 63 || got.Context.CycleType != hos.Cycle60Hour7Day {
		t.Fatalf("reevaluated report: %+v", got.Report)
	}
	if got.Gauges.CycleHours != 100 {
		t.Fatalf("cycle gauge should clamp to 100, got %v", got.Gauges.CycleHours)
	}
}

func TestDriverSeesOnlyOwnTrips(t *testing.T) {
	s := newTestServer(t)
	mine := createTrip(t, s, shortTrip)
	theirs := createTrip(t, s, longTrip)
	driver := map[string]string{"X-Role": "driver", "X-Driver-Id": "drv1"}

	if rr := do(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+mine.ID, "", driver); rr.Code != 200 {
		t.Fatalf("own trip: %d", rr.Code)
	}
	if rr := do(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+theirs.ID, "", driver); rr.Code != 403 {
		t.Fatalf("other driver's trip: %d", rr.Code)
	}
	rr := do(t, s.TripsHandler, http.MethodGet, "/v1/trips?driverId=drv2", "", driver)
	var list struct {
		Items []model.TripSummary `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) != 1 || list.Items[0].ID != mine.ID {
		t.Fatalf("driver list should be scoped to drv1: %+v", list.Items)
	}
}

func TestViolationEnqueuesWebhooks(t *testing.T) {
	s := newTestServer(t)
	sub := `{"url":"https://example.invalid/hook","events":["trip.evaluated","trip.violation"],"secret":"shh"}`
	if rr := do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", sub, nil); rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d %s", rr.Code, rr.Body.String())
	}
	createTrip(t, s, longTrip)

	rr := do(t, s.WebhookDeliveriesHandler, http.MethodGet, "/v1/admin/webhook-deliveries?limit=5", "", nil)
	if rr.Code != 200 {
		t.Fatalf("deliveries: %d", rr.Code)
	}
	var dres struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil {
		t.Fatalf("decode deliveries: %v", err)
	}
	types := map[string]bool{}
	for _, it := range dres.Items {
		et, _ := it["eventType"].(string)
		types[et] = true
	}
	if len(dres.Items) != 2 || !types[model.EventTripEvaluated] || !types[model.EventTripViolation] {
		t.Fatalf("want evaluated+violation deliveries, got %+v", dres.Items)
	}
}

func TestSubscriptionsAdminOnly(t *testing.T) {
	s := newTestServer(t)
	sub := `{"url":"https://example.invalid/hook","events":["trip.evaluated"]}`
	rr := do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", sub, map[string]string{"X-Role": "dispatcher"})
	if rr.Code != 403 {
		t.Fatalf("dispatcher create sub: %d", rr.Code)
	}
	rr = do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", `{"url":"ftp://x","events":["stop.advanced"]}`, nil)
	if rr.Code != 400 {
		t.Fatalf("invalid sub: %d", rr.Code)
	}
	var p Problem
	_ = json.Unmarshal(rr.Body.Bytes(), &p)
	if p.Fields["url"] == "" || p.Fields["events"] == "" {
		t.Fatalf("field errors: %+v", p.Fields)
	}
	if rr := do(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/nope", "", nil); rr.Code != 404 {
		t.Fatalf("delete missing sub: %d", rr.Code)
	}
}

func TestDLQRequeueUnknown(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.WebhookDLQHandler, http.MethodPost, "/v1/admin/webhook-dlq/missing/requeue", "", nil)
	if rr.Code != 404 {
		t.Fatalf("requeue unknown: %d", rr.Code)
	}
	rr = do(t, s.WebhookDLQHandler, http.MethodGet, "/v1/admin/webhook-dlq", "", nil)
	if rr.Code != 200 {
		t.Fatalf("list dlq: %d", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	mu   chan struct{}
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func newSSERecorder() *sseRecorder { return &sseRecorder{mu: make(chan struct{}, 1)} }

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu <- struct{}{}
	defer func() { <-r.mu }()
	return r.buf.Write(p)
}
func (r *sseRecorder) Flush() {}
func (r *sseRecorder) contains(s string) bool {
	r.mu <- struct{}{}
	defer func() { <-r.mu }()
	return bytes.Contains(r.buf.Bytes(), []byte(s))
}

func TestEventsSSE(t *testing.T) {
	s := newTestServer(t)
	sseReq := httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)
	sseReq.Header.Set("X-Tenant-Id", "t_test")

	rec := newSSERecorder()
	done := make(chan struct{})
	go func() {
		s.EventsStreamHandler(rec, sseReq)
		close(done)
	}()

	// Give handler time to subscribe and send heartbeat
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && !rec.contains("event: heartbeat") {
		time.Sleep(10 * time.Millisecond)
	}
	createTrip(t, s, longTrip)

	deadline = time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if rec.contains("event: trip.violation") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !rec.contains("event: trip.evaluated") || !rec.contains("event: trip.violation") {
		t.Fatalf("SSE did not contain expected events. Body: %s", rec.buf.String())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestVisibleFiltersDriverEvents(t *testing.T) {
	evt := SSEEvent{Type: model.EventTripEvaluated, Data: map[string]any{"driverId": "drv1"}}
	cases := []struct {
		role, driver string
		want         bool
	}{
		{"admin", "", true},
		{"dispatcher", "", true},
		{"driver", "drv1", true},
		{"driver", "drv2", false},
		{"driver", "", false},
	}
	for _, c := range cases {
		p := auth.Principal{Tenant: "t_test", Role: c.role, DriverID: c.driver}
		if got := visible(p, evt); got != c.want {
			t.Fatalf("visible(%s/%s) = %v, want %v", c.role, c.driver, got, c.want)
		}
	}
}

func TestRulesAndDocsRoutes(t *testing.T) {
	s := newTestServer(t)
	mux := s.Routes()
	for _, path := range []string{"/v1/rules", "/openapi.yaml", "/openapi.json", "/docs", "/healthz"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != 200 {
			t.Fatalf("%s: %d", path, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/rules", nil))
	var rules map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rules); err != nil || rules["maxDriving"] != "11h0m0s" {
		t.Fatalf("rules: %v %s", err, rr.Body.String())
	}
}

func TestDebugRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	if rr := do(t, s.DebugJSON, http.MethodGet, "/v1/debug", "", map[string]string{"X-Role": "driver"}); rr.Code != 403 {
		t.Fatalf("driver debug: %d", rr.Code)
	}
	if rr := do(t, s.DebugJSON, http.MethodGet, "/v1/debug", "", nil); rr.Code != 200 {
		t.Fatalf("admin debug: %d", rr.Code)
	}
}
