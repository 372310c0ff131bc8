package hos

import (
	"fmt"
	"math"
)

// Kind classifies a Violation.
type Kind string

const (
	KindDriving Kind = "driving"
	KindWindow  Kind = "window"
	KindBreak   Kind = "break"
	KindCycle   Kind = "cycle"
	KindOther   Kind = "other"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Violation is a rule breach that must be resolved before dispatch.
// Magnitude is the excess in hours where the rule has one.
type Violation struct {
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	DayIndex    *int     `json:"dayIndex,omitempty"`
	Description string   `json:"description"`
	Magnitude   float64  `json:"magnitude,omitempty"`
}

// SleeperBerthUsage describes split-sleeper pairs found in a trip.
type SleeperBerthUsage struct {
	Used       bool   `json:"used"`
	ValidPairs int    `json:"validPairs"`
	Details    string `json:"details"`
}

// Evaluation is the raw output of the rule engine. Assemble turns it into
// a ComplianceReport.
type Evaluation struct {
	Violations []Violation
	Warnings   []string

	MaxCycleHours       float64
	CycleHoursUsed      float64
	CycleHoursRemaining float64

	MaxDrivingHours       float64
	MaxDutyWindowHours    float64
	LastDay               Totals
	DrivingHoursRemaining float64
	DutyWindowRemaining   float64

	TotalDrivingHours float64
	TotalOnDutyHours  float64
	SleeperBerth      SleeperBerthUsage
}

// Evaluate runs every rule check once over the whole trip. Per-day figures
// come from LogDay.TotalHours; interval-level checks (break, window,
// sleeper pairing) walk the activities. An unknown cycle type is evaluated
// against the 8-day budget; callers are expected to Validate first.
func (r RuleSet) Evaluate(logs []LogDay, tc TripContext) Evaluation {
	maxCycle, ok := r.MaxCycle(tc.CycleType)
	if !ok {
		maxCycle = r.Cycle8Day
	}
	ev := Evaluation{
		MaxCycleHours:      maxCycle.Hours(),
		MaxDrivingHours:    r.MaxDriving.Hours(),
		MaxDutyWindowHours: r.MaxDutyWindow.Hours(),
	}

	for _, d := range logs {
		ev.TotalDrivingHours += d.TotalHours.Driving
		ev.TotalOnDutyHours += d.TotalHours.OnDuty()
	}
	ev.TotalDrivingHours = round1(ev.TotalDrivingHours)
	ev.TotalOnDutyHours = round1(ev.TotalOnDutyHours)

	r.checkCycle(&ev, logs, tc)
	for i, d := range logs {
		if v, ok := r.checkDailyDriving(i, d); ok {
			ev.Violations = append(ev.Violations, v)
		}
		ev.Violations = append(ev.Violations, r.checkBreaks(i, d)...)
		if v, ok := r.checkDutyWindow(i, d); ok {
			ev.Violations = append(ev.Violations, v)
		}
	}

	if n := len(logs); n > 0 {
		ev.LastDay = logs[n-1].TotalHours
	}
	ev.DrivingHoursRemaining = math.Max(0, round1(ev.MaxDrivingHours-ev.LastDay.Driving))
	ev.DutyWindowRemaining = math.Max(0, round1(ev.MaxDutyWindowHours-ev.LastDay.OnDuty()))
	ev.SleeperBerth = r.sleeperPairs(logs)
	return ev
}

// CycleHoursUsed is hours used before the trip plus all on-duty hours in logs.
func CycleHoursUsed(logs []LogDay, before float64) float64 {
	used := before
	for _, d := range logs {
		used += d.TotalHours.OnDuty()
	}
	return round1(used)
}

func (r RuleSet) checkCycle(ev *Evaluation, logs []LogDay, tc TripContext) {
	ev.CycleHoursUsed = CycleHoursUsed(logs, tc.CycleHoursUsedBeforeTrip)
	remaining := round1(ev.MaxCycleHours - ev.CycleHoursUsed)
	ev.CycleHoursRemaining = math.Max(0, remaining)
	switch {
	case ev.CycleHoursUsed > ev.MaxCycleHours:
		excess := round1(ev.CycleHoursUsed - ev.MaxCycleHours)
		ev.Violations = append(ev.Violations, Violation{
			Kind:        KindCycle,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("%s cycle limit exceeded by %.1f hours", formatHours(ev.MaxCycleHours), excess),
			Magnitude:   excess,
		})
	case remaining < r.CycleWarningMargin.Hours():
		ev.Warnings = append(ev.Warnings, fmt.Sprintf("Only %.1f hours remaining in your %s cycle", remaining, formatHours(ev.MaxCycleHours)))
	}
}

func (r RuleSet) checkDailyDriving(i int, d LogDay) (Violation, bool) {
	limit := r.MaxDriving.Hours()
	if d.TotalHours.Driving <= limit {
		return Violation{}, false
	}
	excess := round1(d.TotalHours.Driving - limit)
	return Violation{
		Kind:        KindDriving,
		Severity:    SeverityHigh,
		DayIndex:    dayIndex(i),
		Description: fmt.Sprintf("Day %d: %s driving limit exceeded by %.1f hours", i+1, formatHours(limit), excess),
		Magnitude:   excess,
	}, true
}

// checkBreaks walks one day in start order. A resting interval of at least
// BreakMin clears the driving accumulator; reaching BreakAfter first yields
// one violation and restarts the count. On-duty-not-driving time neither
// adds nor clears.
func (r RuleSet) checkBreaks(i int, d LogDay) []Violation {
	var out []Violation
	after, brk := minutes(r.BreakAfter), minutes(r.BreakMin)
	driving := 0
	for _, a := range d.Activities {
		switch a.Status {
		case OffDuty, SleeperBerth:
			if a.Minutes() >= brk {
				driving = 0
			}
		case Driving:
			driving += a.Minutes()
			if driving >= after {
				out = append(out, Violation{
					Kind:     KindBreak,
					Severity: SeverityMedium,
					DayIndex: dayIndex(i),
					Description: fmt.Sprintf("Day %d: Required %d-minute break after %g hours of driving not taken",
						i+1, brk, r.BreakAfter.Hours()),
				})
				driving = 0
			}
		case OnDutyNotDriving:
		}
	}
	return out
}

// checkDutyWindow measures from the first on-duty start to the last on-duty
// end of the day, less any major sleeper-berth period inside that span.
func (r RuleSet) checkDutyWindow(i int, d LogDay) (Violation, bool) {
	first, last := -1, -1
	for _, a := range d.Activities {
		if !a.Status.OnDuty() {
			continue
		}
		if first < 0 || a.StartMinute < first {
			first = a.StartMinute
		}
		if end := a.EndOffset(); end > last {
			last = end
		}
	}
	if first < 0 {
		return Violation{}, false
	}
	window := last - first
	for _, a := range d.Activities {
		switch a.Status {
		case SleeperBerth:
			if a.Minutes() >= minutes(r.SleeperMajorMin) && a.StartMinute >= first && a.EndOffset() <= last {
				window -= a.Minutes()
			}
		case OffDuty, Driving, OnDutyNotDriving:
		}
	}
	limit := minutes(r.MaxDutyWindow)
	if window <= limit {
		return Violation{}, false
	}
	excess := round1(float64(window-limit) / 60)
	return Violation{
		Kind:        KindWindow,
		Severity:    SeverityHigh,
		DayIndex:    dayIndex(i),
		Description: fmt.Sprintf("Day %d: %s duty window exceeded by %.1f hours", i+1, formatHours(r.MaxDutyWindow.Hours()), excess),
		Magnitude:   excess,
	}, true
}

// sleeperPairs counts, for each major sleeper-berth interval, every other
// resting interval of at least SleeperMinorMin whose combined length reaches
// RequiredRest. Intervals are taken as partitioned, so a rest cut at midnight
// is two intervals. It never produces violations.
func (r RuleSet) sleeperPairs(logs []LogDay) SleeperBerthUsage {
	var rests []ActivityInterval
	for _, d := range logs {
		for _, a := range d.Activities {
			if a.Status.Resting() {
				rests = append(rests, a)
			}
		}
	}
	major, minor, rest := minutes(r.SleeperMajorMin), minutes(r.SleeperMinorMin), minutes(r.RequiredRest)
	pairs := 0
	for i, p := range rests {
		if p.Status != SleeperBerth || p.Minutes() < major {
			continue
		}
		for j, q := range rests {
			if j != i && q.Minutes() >= minor && p.Minutes()+q.Minutes() >= rest {
				pairs++
			}
		}
	}
	if pairs == 0 {
		return SleeperBerthUsage{Details: "No sleeper berth provision used"}
	}
	return SleeperBerthUsage{Used: true, ValidPairs: pairs, Details: fmt.Sprintf("Found %d valid sleeper berth provision pairs", pairs)}
}

func dayIndex(i int) *int { return &i }

// formatHours renders 11 as "11-hour" and 0.5 as "0.5-hour".
func formatHours(h float64) string {
	if h == math.Trunc(h) {
		return fmt.Sprintf("%d-hour", int(h))
	}
	return fmt.Sprintf("%.1f-hour", h)
}
