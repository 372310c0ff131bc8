package hos

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func odometer(v float64) *float64 { return &v }

// twoDayTrip is Chicago to Philadelphia with an overnight sleeper period.
func twoDayTrip(t *testing.T) []Stop {
	t.Helper()
	return []Stop{
		{Type: StopStart, Location: "Chicago, IL", Arrival: at(t, "2024-03-01T06:00:00Z"), Departure: at(t, "2024-03-01T06:00:00Z"), Mileage: odometer(0)},
		{Type: StopPickup, Location: "Indianapolis, IN", Description: "Load 24 pallets", Arrival: at(t, "2024-03-01T09:00:00Z"), Departure: at(t, "2024-03-01T10:00:00Z"), Mileage: odometer(180)},
		{Type: StopRest, Location: "Columbus, OH", Arrival: at(t, "2024-03-01T14:00:00Z"), Departure: at(t, "2024-03-01T14:30:00Z"), Mileage: odometer(350)},
		{Type: StopFuel, Location: "Pittsburgh, PA", Arrival: at(t, "2024-03-01T17:30:00Z"), Departure: at(t, "2024-03-01T18:00:00Z"), Mileage: odometer(535)},
		{Type: StopOvernight, Location: "Harrisburg, PA", Arrival: at(t, "2024-03-01T21:00:00Z"), Departure: at(t, "2024-03-02T07:00:00Z"), Mileage: odometer(740)},
		{Type: StopDropoff, Location: "Philadelphia, PA", Arrival: at(t, "2024-03-02T09:30:00Z"), Departure: at(t, "2024-03-02T10:30:00Z"), Mileage: odometer(850)},
	}
}

func TestPartitionTwoDayTrip(t *testing.T) {
	stops := twoDayTrip(t)
	days, err := Partition(stops, stops[0].Departure)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("want 2 days, got %d", len(days))
	}
	d1, d2 := days[0], days[1]
	if d1.Date.String() != "2024-03-01" || d2.Date.String() != "2024-03-02" {
		t.Fatalf("dates: %s %s", d1.Date, d2.Date)
	}
	want1 := Totals{OffDuty: 0.5, SleeperBerth: 3, Driving: 13, OnDutyNotDriving: 1.5}
	if d1.TotalHours != want1 {
		t.Fatalf("day 1 totals: got %+v want %+v", d1.TotalHours, want1)
	}
	want2 := Totals{SleeperBerth: 7, Driving: 2.5, OnDutyNotDriving: 1}
	if d2.TotalHours != want2 {
		t.Fatalf("day 2 totals: got %+v want %+v", d2.TotalHours, want2)
	}
	if len(d1.Activities) != 8 || len(d2.Activities) != 3 {
		t.Fatalf("activity counts: %d %d", len(d1.Activities), len(d2.Activities))
	}
	last := d1.Activities[len(d1.Activities)-1]
	if last.Status != SleeperBerth || last.EndMinute != 1439 || !last.ThroughMidnight {
		t.Fatalf("overnight piece on day 1: %+v", last)
	}
	if first := d2.Activities[0]; first.Status != SleeperBerth || first.StartMinute != 0 || first.EndMinute != 420 {
		t.Fatalf("overnight piece on day 2: %+v", first)
	}
	if d1.Activities[1].Remarks != "Load 24 pallets" || d1.Activities[3].Remarks != "Break" || d1.Activities[5].Remarks != "Refueling" {
		t.Fatalf("remarks: %q %q %q", d1.Activities[1].Remarks, d1.Activities[3].Remarks, d1.Activities[5].Remarks)
	}
	if d1.Activities[0].Remarks != "Driving to Indianapolis, IN" {
		t.Fatalf("driving remark: %q", d1.Activities[0].Remarks)
	}
	if d1.TotalMiles != 740 || d2.TotalMiles != 110 {
		t.Fatalf("miles: %v %v", d1.TotalMiles, d2.TotalMiles)
	}
	if d1.StartLocation != "Chicago, IL" || d1.EndLocation != "Harrisburg, PA" || d2.EndLocation != "Philadelphia, PA" {
		t.Fatalf("locations: %q %q %q", d1.StartLocation, d1.EndLocation, d2.EndLocation)
	}
	if TripMiles(days) != 850 {
		t.Fatalf("trip miles: %v", TripMiles(days))
	}
}

func TestPartitionTotalsMatchIntervals(t *testing.T) {
	stops := twoDayTrip(t)
	// Odd minute boundaries so rounding matters.
	stops[1].Departure = stops[1].Departure.Add(7 * time.Minute)
	stops[2].Departure = stops[2].Departure.Add(13 * time.Minute)
	days, err := Partition(stops, stops[0].Departure)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	for _, d := range days {
		var sum [len(Statuses)]int
		for _, a := range d.Activities {
			sum[a.Status] += a.Minutes()
		}
		for _, s := range Statuses {
			got := d.TotalHours.Of(s)
			if diff := math.Abs(got - float64(sum[s])/60); diff > 0.05 {
				t.Fatalf("%s %s: total %.2f vs intervals %.2f", d.Date, s, got, float64(sum[s])/60)
			}
		}
	}
}

func TestPartitionIdempotent(t *testing.T) {
	stops := twoDayTrip(t)
	a, err := Partition(stops, stops[0].Departure)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	b, _ := Partition(stops, stops[0].Departure)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Fatalf("partition not idempotent:\n%s\n%s", ja, jb)
	}
}

func TestPartitionActivitiesOrdered(t *testing.T) {
	stops := twoDayTrip(t)
	days, _ := Partition(stops, stops[0].Departure)
	for _, d := range days {
		for i := 1; i < len(d.Activities); i++ {
			if d.Activities[i].StartMinute < d.Activities[i-1].StartMinute {
				t.Fatalf("%s activities out of order at %d", d.Date, i)
			}
		}
	}
}

func TestPartitionRestClassification(t *testing.T) {
	base := at(t, "2024-03-05T04:00:00Z")
	cases := []struct {
		name   string
		stop   StopType
		span   time.Duration
		status DutyStatus
		remark string
	}{
		{"short rest", StopRest, 45 * time.Minute, OffDuty, "Break"},
		{"minor sleeper", StopRest, 3 * time.Hour, SleeperBerth, "Short sleeper berth period"},
		{"major sleeper", StopRest, 8 * time.Hour, SleeperBerth, "Sleeper berth rest period"},
		{"overnight", StopOvernight, 90 * time.Minute, SleeperBerth, "Overnight rest"},
		{"fuel", StopFuel, 20 * time.Minute, OnDutyNotDriving, "Refueling"},
		{"dropoff", StopDropoff, time.Hour, OnDutyNotDriving, "Drop-off at B"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			stops := []Stop{
				{Type: StopStart, Location: "A", Arrival: base, Departure: base},
				{Type: c.stop, Location: "B", Arrival: base.Add(time.Hour), Departure: base.Add(time.Hour + c.span)},
			}
			days, err := Partition(stops, base)
			if err != nil {
				t.Fatalf("Partition: %v", err)
			}
			acts := days[0].Activities
			if len(acts) != 2 || acts[1].Status != c.status || acts[1].Remarks != c.remark {
				t.Fatalf("got %+v", acts)
			}
		})
	}
}

func TestPartitionSkipsZeroDuration(t *testing.T) {
	base := at(t, "2024-03-05T04:00:00Z")
	stops := []Stop{
		{Type: StopStart, Location: "A", Arrival: base, Departure: base},
		{Type: StopFuel, Location: "B", Arrival: base.Add(time.Hour), Departure: base.Add(time.Hour)},
		{Type: StopPickup, Location: "C", Arrival: base.Add(time.Hour), Departure: base.Add(2 * time.Hour)},
	}
	days, err := Partition(stops, base)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	for _, a := range days[0].Activities {
		if a.Minutes() == 0 {
			t.Fatalf("zero-length interval emitted: %+v", a)
		}
	}
	if len(days[0].Activities) != 2 {
		t.Fatalf("want driving + pickup, got %+v", days[0].Activities)
	}
}

func TestPartitionMalformed(t *testing.T) {
	cases := []struct {
		name  string
		edit  func([]Stop)
		index int
	}{
		{"departure before arrival", func(s []Stop) { s[2].Departure = s[2].Arrival.Add(-time.Minute) }, 2},
		{"unordered arrivals", func(s []Stop) { s[3].Arrival, s[3].Departure = s[1].Arrival, s[1].Departure }, 3},
		{"overlapping stops", func(s []Stop) { s[2].Arrival = s[1].Departure.Add(-time.Minute) }, 2},
		{"unknown type", func(s []Stop) { s[4].Type = "teleport" }, 4},
		{"decreasing mileage", func(s []Stop) { s[5].Mileage = odometer(10) }, 5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			stops := twoDayTrip(t)
			c.edit(stops)
			days, err := Partition(stops, stops[0].Departure)
			if days != nil {
				t.Fatalf("partial logs returned: %+v", days)
			}
			var me *MalformedItineraryError
			if !errors.As(err, &me) || !errors.Is(err, ErrMalformedItinerary) {
				t.Fatalf("want MalformedItineraryError, got %v", err)
			}
			if me.Index != c.index {
				t.Fatalf("index: got %d want %d", me.Index, c.index)
			}
		})
	}
}

func TestPartitionEmpty(t *testing.T) {
	days, err := Partition(nil, time.Time{})
	if err != nil || len(days) != 0 {
		t.Fatalf("empty itinerary: %v %v", days, err)
	}
}

func TestPartitionCalendarFollowsDepartureZone(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 05:00Z-09:00Z is 21:00-01:00 in Los Angeles, so the leg crosses local midnight.
	stops := []Stop{
		{Type: StopStart, Location: "A", Arrival: at(t, "2024-03-05T05:00:00Z"), Departure: at(t, "2024-03-05T05:00:00Z")},
		{Type: StopDropoff, Location: "B", Arrival: at(t, "2024-03-05T09:00:00Z"), Departure: at(t, "2024-03-05T10:00:00Z")},
	}
	days, err := Partition(stops, stops[0].Departure.In(la))
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(days) != 2 || days[0].Date.String() != "2024-03-04" {
		t.Fatalf("want local days starting 2024-03-04, got %+v", days)
	}
}
