package challenge

import (
	"time"
)

// WindowState is the contest's date-based trading state.
type WindowState string

const (
	WindowNotStarted WindowState = "NOT_STARTED"
	WindowOpen       WindowState = "OPEN"
	WindowClosed     WindowState = "CLOSED"
)

// ReferenceTimezone is the fixed timezone for all window decisions. The BRVM
// trades from Abidjan; computing weekdays in one fixed zone keeps the
// weekend rule unambiguous regardless of the client's locale.
const ReferenceTimezone = "Africa/Abidjan"

// Window is the contest's trading window: open between Start and End
// (inclusive of Start, exclusive of End), with CONCOURS trading additionally
// blocked on Saturdays and Sundays. The window only reports state; the trade
// processor enforces it.
type Window struct {
	Start time.Time
	End   time.Time
	loc   *time.Location
}

// NewWindow creates a window over [start, end) evaluated in the reference
// timezone. Falls back to UTC (same offset as Abidjan) when tzdata is
// unavailable.
func NewWindow(start, end time.Time) *Window {
	loc, err := time.LoadLocation(ReferenceTimezone)
	if err != nil {
		loc = time.UTC
	}
	return &Window{Start: start, End: end, loc: loc}
}

// State returns the window state at the given instant.
func (w *Window) State(at time.Time) WindowState {
	at = at.In(w.loc)
	switch {
	case at.Before(w.Start):
		return WindowNotStarted
	case at.Before(w.End):
		return WindowOpen
	default:
		return WindowClosed
	}
}

// TradingAllowed reports whether a CONCOURS trade may execute at the given
// instant: the window must be OPEN and the weekday (in the reference
// timezone) must not be Saturday or Sunday.
func (w *Window) TradingAllowed(at time.Time) bool {
	if w.State(at) != WindowOpen {
		return false
	}
	wd := at.In(w.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
