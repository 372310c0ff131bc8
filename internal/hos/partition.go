package hos

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// StopType is the kind of stop the route provider placed on the itinerary.
type StopType string

const (
	StopStart     StopType = "start"
	StopPickup    StopType = "pickup"
	StopDropoff   StopType = "dropoff"
	StopRest      StopType = "rest"
	StopFuel      StopType = "fuel"
	StopOvernight StopType = "overnight"
)

func (t StopType) Valid() bool {
	switch t {
	case StopStart, StopPickup, StopDropoff, StopRest, StopFuel, StopOvernight:
		return true
	}
	return false
}

// Stop is one itinerary entry. Mileage, when present, is cumulative trip
// distance at arrival.
type Stop struct {
	Type        StopType  `json:"type"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	Arrival     time.Time `json:"arrivalTime"`
	Departure   time.Time `json:"departureTime"`
	Mileage     *float64  `json:"mileage,omitempty"`
}

// Totals are per-status hours for one day, rounded to one decimal.
type Totals struct {
	OffDuty          float64 `json:"offDuty"`
	SleeperBerth     float64 `json:"sleeperBerth"`
	Driving          float64 `json:"driving"`
	OnDutyNotDriving float64 `json:"onDutyNotDriving"`
}

// Of returns the total for one status.
func (t Totals) Of(s DutyStatus) float64 {
	switch s {
	case OffDuty:
		return t.OffDuty
	case SleeperBerth:
		return t.SleeperBerth
	case Driving:
		return t.Driving
	case OnDutyNotDriving:
		return t.OnDutyNotDriving
	}
	return 0
}

// OnDuty is driving plus on-duty-not-driving time.
func (t Totals) OnDuty() float64 { return t.Driving + t.OnDutyNotDriving }

// LogDay is one driver's daily log: the activities of a calendar day in start
// order, and the per-status totals derived from them.
type LogDay struct {
	Date          Date               `json:"date"`
	StartLocation string             `json:"startLocation,omitempty"`
	EndLocation   string             `json:"endLocation,omitempty"`
	TotalMiles    float64            `json:"totalMiles"`
	Remarks       []string           `json:"remarks,omitempty"`
	Activities    []ActivityInterval `json:"activities"`
	TotalHours    Totals             `json:"totalHours"`
}

// Partition converts stops into LogDays using DefaultRules thresholds.
func Partition(stops []Stop, departure time.Time) ([]LogDay, error) {
	return DefaultRules().Partition(stops, departure)
}

// Partition converts an itinerary ordered by arrival into LogDays ordered by
// date. Calendar days are taken in departure's location, or the first stop's
// when departure is zero. Either every day is returned or, for a malformed
// itinerary, none.
func (r RuleSet) Partition(stops []Stop, departure time.Time) ([]LogDay, error) {
	if len(stops) == 0 {
		return nil, nil
	}
	if err := checkItinerary(stops); err != nil {
		return nil, err
	}
	loc := departure.Location()
	if departure.IsZero() {
		loc = stops[0].Arrival.Location()
	}

	var pieces []placedInterval
	for i, st := range stops {
		arr, dep := st.Arrival.In(loc), st.Departure.In(loc)
		if status, remark, ok := r.stopActivity(st); ok {
			for _, p := range SplitAtMidnight(arr, dep, status, remark) {
				p.Interval.Location = st.Location
				pieces = append(pieces, placedInterval{DatedInterval: p, endPlace: st.Location})
			}
		}
		if i+1 == len(stops) {
			continue
		}
		next := stops[i+1]
		leg := SplitAtMidnight(dep, next.Arrival.In(loc), Driving, "Driving to "+next.Location)
		miles := legMiles(i, st, next)
		legMinutes := 0
		for _, p := range leg {
			legMinutes += p.Interval.Minutes()
		}
		for j, p := range leg {
			p.Interval.Location = st.Location
			if legMinutes > 0 {
				p.Interval.Miles = miles * float64(p.Interval.Minutes()) / float64(legMinutes)
			}
			end := st.Location
			if j == len(leg)-1 {
				end = next.Location
			}
			pieces = append(pieces, placedInterval{DatedInterval: p, endPlace: end})
		}
	}
	return groupDays(pieces), nil
}

type placedInterval struct {
	DatedInterval
	endPlace string
}

func checkItinerary(stops []Stop) error {
	for i, st := range stops {
		switch {
		case !st.Type.Valid():
			return &MalformedItineraryError{Index: i, Reason: fmt.Sprintf("unknown stop type %q", st.Type)}
		case st.Arrival.IsZero() || st.Departure.IsZero():
			return &MalformedItineraryError{Index: i, Reason: "missing arrival or departure time"}
		case st.Departure.Before(st.Arrival):
			return &MalformedItineraryError{Index: i, Reason: "departure before arrival"}
		case st.Mileage != nil && (*st.Mileage < 0 || math.IsNaN(*st.Mileage)):
			return &MalformedItineraryError{Index: i, Reason: "negative mileage"}
		}
		if i == 0 {
			continue
		}
		prev := stops[i-1]
		if st.Arrival.Before(prev.Arrival) {
			return &MalformedItineraryError{Index: i, Reason: "stops not ordered by arrival time"}
		}
		if st.Arrival.Before(prev.Departure) {
			return &MalformedItineraryError{Index: i, Reason: "arrival before previous stop's departure"}
		}
		if st.Mileage != nil && prev.Mileage != nil && *st.Mileage < *prev.Mileage {
			return &MalformedItineraryError{Index: i, Reason: "cumulative mileage decreased"}
		}
	}
	return nil
}

// stopActivity maps a stop to its non-driving duty status. Start stops
// contribute nothing.
func (r RuleSet) stopActivity(st Stop) (DutyStatus, string, bool) {
	span := st.Departure.Sub(st.Arrival)
	switch st.Type {
	case StopPickup:
		return OnDutyNotDriving, orDefault(st.Description, "Pickup at "+st.Location), true
	case StopDropoff:
		return OnDutyNotDriving, orDefault(st.Description, "Drop-off at "+st.Location), true
	case StopFuel:
		return OnDutyNotDriving, "Refueling", true
	case StopOvernight:
		return SleeperBerth, "Overnight rest", true
	case StopRest:
		switch {
		case span >= r.SleeperMajorMin:
			return SleeperBerth, "Sleeper berth rest period", true
		case span >= r.SleeperMinorMin:
			return SleeperBerth, "Short sleeper berth period", true
		default:
			return OffDuty, "Break", true
		}
	case StopStart:
	}
	return 0, "", false
}

func legMiles(i int, cur, next Stop) float64 {
	if next.Mileage == nil {
		return 0
	}
	from := 0.0
	switch {
	case cur.Mileage != nil:
		from = *cur.Mileage
	case i != 0:
		return 0
	}
	return *next.Mileage - from
}

func groupDays(pieces []placedInterval) []LogDay {
	byDate := map[Date][]placedInterval{}
	var dates []Date
	for _, p := range pieces {
		if _, ok := byDate[p.Date]; !ok {
			dates = append(dates, p.Date)
		}
		byDate[p.Date] = append(byDate[p.Date], p)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	days := make([]LogDay, 0, len(dates))
	for _, d := range dates {
		ps := byDate[d]
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Interval.StartMinute < ps[j].Interval.StartMinute })
		day := LogDay{Date: d, Activities: make([]ActivityInterval, 0, len(ps))}
		var mins [len(Statuses)]int
		miles := 0.0
		for _, p := range ps {
			a := p.Interval
			day.Activities = append(day.Activities, a)
			mins[a.Status] += a.Minutes()
			miles += a.Miles
			if a.Status != Driving {
				day.Remarks = append(day.Remarks, fmt.Sprintf("%s %s: %s", Clock(a.StartMinute), a.Location, a.Remarks))
			}
		}
		day.StartLocation = ps[0].Interval.Location
		day.EndLocation = ps[len(ps)-1].endPlace
		day.TotalMiles = round1(miles)
		day.TotalHours = Totals{
			OffDuty:          hours(mins[OffDuty]),
			SleeperBerth:     hours(mins[SleeperBerth]),
			Driving:          hours(mins[Driving]),
			OnDutyNotDriving: hours(mins[OnDutyNotDriving]),
		}
		days = append(days, day)
	}
	return days
}

func hours(min int) float64 { return round1(float64(min) / 60) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
