package hos

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestTripContextValidate(t *testing.T) {
	rules := DefaultRules()
	cases := []struct {
		name   string
		tc     TripContext
		fields []string
	}{
		{"ok 70h", TripContext{CycleType: Cycle70Hour8Day, CycleHoursUsedBeforeTrip: 70}, nil},
		{"ok 60h", TripContext{CycleType: Cycle60Hour7Day, CycleHoursUsedBeforeTrip: 0}, nil},
		{"negative hours", TripContext{CycleType: Cycle70Hour8Day, CycleHoursUsedBeforeTrip: -1}, []string{"cycleHoursUsedBeforeTrip"}},
		{"over 60h budget", TripContext{CycleType: Cycle60Hour7Day, CycleHoursUsedBeforeTrip: 65}, []string{"cycleHoursUsedBeforeTrip"}},
		{"NaN hours", TripContext{CycleType: Cycle70Hour8Day, CycleHoursUsedBeforeTrip: math.NaN()}, []string{"cycleHoursUsedBeforeTrip"}},
		{"unknown cycle", TripContext{CycleType: "34h/restart", CycleHoursUsedBeforeTrip: 90}, []string{"cycleType"}},
		{"both bad", TripContext{CycleHoursUsedBeforeTrip: -5}, []string{"cycleType", "cycleHoursUsedBeforeTrip"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.tc.Validate(rules)
			if len(c.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTripContext) {
				t.Fatalf("want ErrInvalidTripContext, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != c.fields[0] {
				t.Fatalf("first field: got %+v", ve)
			}
			var all ValidationErrors
			if !errors.As(err, &all) || len(all) != len(c.fields) {
				t.Fatalf("fields: got %v want %v", all, c.fields)
			}
			for _, f := range c.fields {
				if _, ok := all.Fields()[f]; !ok {
					t.Fatalf("missing field %s in %v", f, all.Fields())
				}
			}
		})
	}
}

func TestParseCycleType(t *testing.T) {
	if ct, ok := ParseCycleType("60hour7day"); !ok || ct != Cycle60Hour7Day {
		t.Fatalf("compact form: %v %v", ct, ok)
	}
	if _, ok := ParseCycleType("80h"); ok {
		t.Fatalf("unexpected ok")
	}
}

func TestRuleSetValidate(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	r := DefaultRules()
	r.MaxDriving = 0
	r.SleeperMinorMin = 8 * time.Hour
	err := r.Validate()
	if !errors.Is(err, ErrInvalidRuleSet) {
		t.Fatalf("want ErrInvalidRuleSet, got %v", err)
	}
	var all ValidationErrors
	if !errors.As(err, &all) || len(all) != 2 {
		t.Fatalf("want 2 field errors, got %v", err)
	}
}

func TestClampPercent(t *testing.T) {
	cases := map[float64]float64{-5: 0, 0: 0, 42.5: 42.5, 100: 100, 180: 100}
	for in, want := range cases {
		if got := ClampPercent(in); got != want {
			t.Fatalf("ClampPercent(%v) = %v, want %v", in, got, want)
		}
	}
	if ClampPercent(math.NaN()) != 0 {
		t.Fatalf("NaN should clamp to 0")
	}
}

func TestAssembleCopiesSlices(t *testing.T) {
	ev := Evaluation{Warnings: []string{"w"}, MaxCycleHours: 70, CycleHoursUsed: 35, MaxDrivingHours: 11, MaxDutyWindowHours: 14}
	rep := Assemble(ev)
	ev.Warnings[0] = "changed"
	if rep.Warnings[0] != "w" {
		t.Fatalf("report shares warnings with evaluation")
	}
	if rep.CycleHoursUsedPercentage != 50 {
		t.Fatalf("cycle percentage: %v", rep.CycleHoursUsedPercentage)
	}
}

func TestCheck(t *testing.T) {
	rules := DefaultRules()
	stops := twoDayTrip(t)
	tc := TripContext{CycleType: Cycle70Hour8Day, CycleHoursUsedBeforeTrip: 10, DepartureTime: stops[0].Departure}

	logs, rep, err := rules.Check(stops, tc)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(logs) != 2 || rep.CycleHoursUsed != 28 || rep.IsCompliant {
		t.Fatalf("unexpected result: %d days, %+v", len(logs), rep)
	}

	bad := tc
	bad.CycleHoursUsedBeforeTrip = 71
	if _, _, err := rules.Check(stops, bad); !errors.Is(err, ErrInvalidTripContext) {
		t.Fatalf("want validation error, got %v", err)
	}

	stops[3].Departure = stops[3].Arrival.Add(-time.Hour)
	logs, _, err = rules.Check(stops, tc)
	if !errors.Is(err, ErrMalformedItinerary) || logs != nil {
		t.Fatalf("want malformed itinerary, got %v (%d days)", err, len(logs))
	}
}

func TestFuelStopsNeeded(t *testing.T) {
	cases := map[float64]int{0: 0, 850: 0, 1200: 1, 2500: 2, -10: 0}
	for in, want := range cases {
		if got := FuelStopsNeeded(in); got != want {
			t.Fatalf("FuelStopsNeeded(%v) = %d, want %d", in, got, want)
		}
	}
}
