package mux

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// restartSchedule recycles a tab's process on an RRULE cadence (e.g.
// FREQ=HOURLY for a leaky dev server). Occurrences are checked on
// supervision ticks; a restart fires when the next occurrence has
// passed.
type restartSchedule struct {
	rule *rrule.RRule
	next time.Time
}

func newRestartSchedule(spec string, now time.Time) (*restartSchedule, error) {
	rule, err := rrule.StrToRRule(spec)
	if err != nil {
		return nil, fmt.Errorf("restart schedule %q: %w", spec, err)
	}
	rule.DTStart(now)
	return &restartSchedule{
		rule: rule,
		next: rule.After(now, false),
	}, nil
}

// due reports whether an occurrence has passed, advancing to the next
// one when it has.
func (rs *restartSchedule) due(now time.Time) bool {
	if rs.next.IsZero() || now.Before(rs.next) {
		return false
	}
	rs.next = rs.rule.After(now, false)
	return true
}
