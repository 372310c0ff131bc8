package hos

import "time"

// RuleSet holds the HOS limits for property-carrying drivers.
type RuleSet struct {
	MaxDriving         time.Duration `json:"maxDriving" yaml:"max_driving"`
	MaxDutyWindow      time.Duration `json:"maxDutyWindow" yaml:"max_duty_window"`
	BreakAfter         time.Duration `json:"breakAfter" yaml:"break_after"`
	BreakMin           time.Duration `json:"breakMin" yaml:"break_min"`
	Cycle7Day          time.Duration `json:"cycle7Day" yaml:"cycle_7day"`
	Cycle8Day          time.Duration `json:"cycle8Day" yaml:"cycle_8day"`
	RequiredRest       time.Duration `json:"requiredRest" yaml:"required_rest"`
	SleeperMajorMin    time.Duration `json:"sleeperMajorMin" yaml:"sleeper_major_min"`
	SleeperMinorMin    time.Duration `json:"sleeperMinorMin" yaml:"sleeper_minor_min"`
	CycleWarningMargin time.Duration `json:"cycleWarningMargin" yaml:"cycle_warning_margin"`
}

// DefaultRules returns the FMCSA limits (49 CFR 395.3, 395.1(g)).
func DefaultRules() RuleSet {
	return RuleSet{
		MaxDriving:         11 * time.Hour,
		MaxDutyWindow:      14 * time.Hour,
		BreakAfter:         8 * time.Hour,
		BreakMin:           30 * time.Minute,
		Cycle7Day:          60 * time.Hour,
		Cycle8Day:          70 * time.Hour,
		RequiredRest:       10 * time.Hour,
		SleeperMajorMin:    7 * time.Hour,
		SleeperMinorMin:    2 * time.Hour,
		CycleWarningMargin: 5 * time.Hour,
	}
}

// MaxCycle returns the cycle budget for ct.
func (r RuleSet) MaxCycle(ct CycleType) (time.Duration, bool) {
	switch ct {
	case Cycle60Hour7Day:
		return r.Cycle7Day, true
	case Cycle70Hour8Day:
		return r.Cycle8Day, true
	}
	return 0, false
}

// Validate checks that every limit is positive and the sleeper-berth
// thresholds are ordered.
func (r RuleSet) Validate() error {
	var errs ValidationErrors
	for _, f := range []struct {
		name string
		v    time.Duration
	}{
		{"maxDriving", r.MaxDriving},
		{"maxDutyWindow", r.MaxDutyWindow},
		{"breakAfter", r.BreakAfter},
		{"breakMin", r.BreakMin},
		{"cycle7Day", r.Cycle7Day},
		{"cycle8Day", r.Cycle8Day},
		{"requiredRest", r.RequiredRest},
		{"sleeperMajorMin", r.SleeperMajorMin},
		{"sleeperMinorMin", r.SleeperMinorMin},
	} {
		if f.v <= 0 {
			errs = append(errs, NewValidationError(f.name, f.v.String(), ErrInvalidRuleSet))
		}
	}
	if r.CycleWarningMargin < 0 {
		errs = append(errs, NewValidationError("cycleWarningMargin", r.CycleWarningMargin.String(), ErrInvalidRuleSet))
	}
	if r.SleeperMinorMin > r.SleeperMajorMin {
		errs = append(errs, NewValidationError("sleeperMinorMin", r.SleeperMinorMin.String(), ErrInvalidRuleSet))
	}
	if r.BreakMin >= r.BreakAfter {
		errs = append(errs, NewValidationError("breakMin", r.BreakMin.String(), ErrInvalidRuleSet))
	}
	return errs.orNil()
}

func minutes(d time.Duration) int { return int(d / time.Minute) }
