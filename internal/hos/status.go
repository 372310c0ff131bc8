// Package hos synthesizes day-bounded duty-status logs from a stop itinerary
// and evaluates them against US DOT Hours-of-Service rules.
//
// Everything in this package is a pure function of its inputs: no I/O, no
// package-level mutable state. Callers may evaluate many trips concurrently.
package hos

import "fmt"

// DutyStatus is one of the four ELD duty statuses.
type DutyStatus int

const (
	OffDuty DutyStatus = iota
	SleeperBerth
	Driving
	OnDutyNotDriving
)

// Statuses lists every DutyStatus in log-grid row order.
var Statuses = [...]DutyStatus{OffDuty, SleeperBerth, Driving, OnDutyNotDriving}

func (s DutyStatus) String() string {
	switch s {
	case OffDuty:
		return "offDuty"
	case SleeperBerth:
		return "sleeperBerth"
	case Driving:
		return "driving"
	case OnDutyNotDriving:
		return "onDutyNotDriving"
	}
	return fmt.Sprintf("DutyStatus(%d)", int(s))
}

// OnDuty reports whether time in this status counts against the duty window and cycle.
func (s DutyStatus) OnDuty() bool {
	switch s {
	case Driving, OnDutyNotDriving:
		return true
	case OffDuty, SleeperBerth:
		return false
	}
	return false
}

// Resting reports whether the status can serve as a break or rest period.
func (s DutyStatus) Resting() bool {
	switch s {
	case OffDuty, SleeperBerth:
		return true
	case Driving, OnDutyNotDriving:
		return false
	}
	return false
}

func (s DutyStatus) MarshalText() ([]byte, error) {
	switch s {
	case OffDuty, SleeperBerth, Driving, OnDutyNotDriving:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("hos: unknown duty status %d", int(s))
}

func (s *DutyStatus) UnmarshalText(b []byte) error {
	st, err := ParseDutyStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseDutyStatus accepts the camelCase log names plus the common ELD
// abbreviations (OFF, SB, D, ON).
func ParseDutyStatus(v string) (DutyStatus, error) {
	switch v {
	case "offDuty", "off_duty", "OFF":
		return OffDuty, nil
	case "sleeperBerth", "sleeper_berth", "SB":
		return SleeperBerth, nil
	case "driving", "D":
		return Driving, nil
	case "onDutyNotDriving", "on_duty_not_driving", "ON":
		return OnDutyNotDriving, nil
	}
	return 0, fmt.Errorf("hos: unknown duty status %q", v)
}
