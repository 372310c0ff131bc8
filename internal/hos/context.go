package hos

import (
	"math"
	"strconv"
	"time"
)

// CycleType selects the rolling on-duty budget.
type CycleType string

const (
	Cycle60Hour7Day CycleType = "60h/7day"
	Cycle70Hour8Day CycleType = "70h/8day"
)

// ParseCycleType also accepts the compact form used by older trip forms.
func ParseCycleType(v string) (CycleType, bool) {
	switch v {
	case string(Cycle60Hour7Day), "60hour7day":
		return Cycle60Hour7Day, true
	case string(Cycle70Hour8Day), "70hour8day":
		return Cycle70Hour8Day, true
	}
	return "", false
}

// TripContext is the trip-intake data the rule engine needs.
type TripContext struct {
	CycleType                CycleType `json:"cycleType"`
	CycleHoursUsedBeforeTrip float64   `json:"cycleHoursUsedBeforeTrip"`
	DepartureTime            time.Time `json:"departureTime"`
}

// Validate rejects contexts the engine cannot evaluate. Every failing field
// is reported; the returned error matches ErrInvalidTripContext.
func (tc TripContext) Validate(rules RuleSet) error {
	var errs ValidationErrors
	maxCycle, ok := rules.MaxCycle(tc.CycleType)
	if !ok {
		errs = append(errs, NewValidationError("cycleType", string(tc.CycleType), ErrInvalidTripContext))
	}
	used := tc.CycleHoursUsedBeforeTrip
	val := strconv.FormatFloat(used, 'f', -1, 64)
	switch {
	case math.IsNaN(used) || math.IsInf(used, 0):
		errs = append(errs, NewValidationError("cycleHoursUsedBeforeTrip", val, ErrInvalidTripContext))
	case used < 0:
		errs = append(errs, NewValidationError("cycleHoursUsedBeforeTrip", val, ErrInvalidTripContext))
	case ok && used > maxCycle.Hours():
		errs = append(errs, NewValidationError("cycleHoursUsedBeforeTrip", val, ErrInvalidTripContext))
	}
	return errs.orNil()
}
