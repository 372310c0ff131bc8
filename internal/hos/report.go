package hos

import (
	"math"
	"time"
)

// ComplianceReport summarizes a trip's HOS status. Percentages are raw and
// may exceed 100; clamp them with ClampPercent only when displaying.
type ComplianceReport struct {
	IsCompliant                bool              `json:"isCompliant"`
	Violations                 []Violation       `json:"violations"`
	Warnings                   []string          `json:"warnings"`
	CycleHoursUsed             float64           `json:"cycleHoursUsed"`
	CycleHoursRemaining        float64           `json:"cycleHoursRemaining"`
	MaxCycleHours              float64           `json:"maxCycleHours"`
	DrivingHoursRemaining      float64           `json:"drivingHoursRemaining"`
	DutyWindowRemaining        float64           `json:"dutyWindowRemaining"`
	TotalDrivingHours          float64           `json:"totalDrivingHours"`
	TotalOnDutyHours           float64           `json:"totalOnDutyHours"`
	SleeperBerthUsage          SleeperBerthUsage `json:"sleeperBerthUsage"`
	CycleHoursUsedPercentage   float64           `json:"cycleHoursUsedPercentage"`
	DrivingHoursUsedPercentage float64           `json:"drivingHoursUsedPercentage"`
	DutyWindowUsedPercentage   float64           `json:"dutyWindowUsedPercentage"`
}

// Assemble builds the report from an Evaluation.
func Assemble(ev Evaluation) ComplianceReport {
	violations := append([]Violation{}, ev.Violations...)
	warnings := append([]string{}, ev.Warnings...)
	return ComplianceReport{
		IsCompliant:                len(violations) == 0,
		Violations:                 violations,
		Warnings:                   warnings,
		CycleHoursUsed:             ev.CycleHoursUsed,
		CycleHoursRemaining:        ev.CycleHoursRemaining,
		MaxCycleHours:              ev.MaxCycleHours,
		DrivingHoursRemaining:      ev.DrivingHoursRemaining,
		DutyWindowRemaining:        ev.DutyWindowRemaining,
		TotalDrivingHours:          ev.TotalDrivingHours,
		TotalOnDutyHours:           ev.TotalOnDutyHours,
		SleeperBerthUsage:          ev.SleeperBerth,
		CycleHoursUsedPercentage:   percent(ev.CycleHoursUsed, ev.MaxCycleHours),
		DrivingHoursUsedPercentage: percent(ev.LastDay.Driving, ev.MaxDrivingHours),
		DutyWindowUsedPercentage:   percent(ev.LastDay.OnDuty(), ev.MaxDutyWindowHours),
	}
}

func percent(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return used / limit * 100
}

// ClampPercent limits a usage percentage to [0, 100] for gauges.
func ClampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Min(100, math.Max(0, p))
}

// Gauges are the clamped usage percentages shown next to a report.
type Gauges struct {
	CycleHours   float64 `json:"cycleHours"`
	DrivingHours float64 `json:"drivingHours"`
	DutyWindow   float64 `json:"dutyWindow"`
}

// Gauges returns the report's percentages clamped for display.
func (c ComplianceReport) Gauges() Gauges {
	return Gauges{
		CycleHours:   ClampPercent(c.CycleHoursUsedPercentage),
		DrivingHours: ClampPercent(c.DrivingHoursUsedPercentage),
		DutyWindow:   ClampPercent(c.DutyWindowUsedPercentage),
	}
}

// Evaluate is shorthand for DefaultRules().Evaluate followed by Assemble.
func Evaluate(logs []LogDay, tc TripContext) ComplianceReport {
	return Assemble(DefaultRules().Evaluate(logs, tc))
}

// Check validates tc, partitions stops and evaluates the resulting logs.
func (r RuleSet) Check(stops []Stop, tc TripContext) ([]LogDay, ComplianceReport, error) {
	if err := tc.Validate(r); err != nil {
		return nil, ComplianceReport{}, err
	}
	departure := tc.DepartureTime
	if departure.IsZero() && len(stops) > 0 {
		departure = stops[0].Departure
	}
	logs, err := r.Partition(stops, departure)
	if err != nil {
		return nil, ComplianceReport{}, err
	}
	return logs, Assemble(r.Evaluate(logs, tc)), nil
}

const (
	fuelMilesPerGallon = 6.5
	fuelTankGallons    = 200
	fuelReserveMiles   = 100
)

// FuelStopsNeeded estimates refuels for a trip of the given length, keeping
// a reserve in the tank.
func FuelStopsNeeded(miles float64) int {
	if miles <= 0 {
		return 0
	}
	return int(math.Floor(miles / (fuelMilesPerGallon*fuelTankGallons - fuelReserveMiles)))
}

// TripMiles returns the total miles recorded across logs.
func TripMiles(logs []LogDay) float64 {
	total := 0.0
	for _, d := range logs {
		total += d.TotalMiles
	}
	return round1(total)
}

// Span returns the elapsed time between the first and last stop.
func Span(stops []Stop) time.Duration {
	if len(stops) == 0 {
		return 0
	}
	return stops[len(stops)-1].Departure.Sub(stops[0].Arrival)
}
