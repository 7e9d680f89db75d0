package lifecycle

import (
	"time"

	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
)

// createLead maps a create-timing policy to how many days before the event's
// local date the channel window opens. ok=false means the policy is not
// day-based (stream_available, manual).
func createLead(timing string) (days int, ok bool) {
	switch timing {
	case store.CreateSameDay:
		return 0, true
	case store.CreateDayBefore:
		return 1, true
	case store.CreateTwoDaysBefore:
		return 2, true
	case store.CreateThreeDaysBefore:
		return 3, true
	case store.CreateWeekBefore:
		return 7, true
	}
	return 0, false
}

// localMidnight truncates t to midnight in the user's timezone.
func (s *Service) localMidnight(t time.Time) time.Time {
	lt := t.In(s.tz())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.tz())
}

// createAllowed applies the group's create-timing gate against the current
// wall clock. stream_available always passes (the stream existing is the
// gate); manual never passes.
func (s *Service) createAllowed(g *store.EventEPGGroup, e *sports.Event) (bool, Outcome) {
	switch g.CreateTiming {
	case store.CreateStreamAvailable:
		return true, OutcomeCreated
	case store.CreateManual:
		return false, OutcomeSkippedManual
	}
	lead, ok := createLead(g.CreateTiming)
	if !ok {
		lead = 0 // unknown policy behaves as same_day
	}
	windowOpen := s.localMidnight(e.StartTime).AddDate(0, 0, -lead)
	if s.now().Before(windowOpen) {
		return false, OutcomeSkippedWindow
	}
	return true, OutcomeCreated
}

// deleteDeadline precomputes the scheduled_delete_at for a new channel from
// the group's delete-timing policy. The deadline is always a user-timezone
// midnight so channels live through whole local days. stream_removed returns
// nil: deletion is driven by the stream disappearing, not the clock.
func (s *Service) deleteDeadline(g *store.EventEPGGroup, e *sports.Event) *time.Time {
	var daysAfter int
	switch g.DeleteTiming {
	case store.DeleteStreamRemoved:
		return nil
	case store.DeleteSameDay:
		daysAfter = 1
	case store.DeleteDayAfter:
		daysAfter = 2
	case store.DeleteTwoDaysAfter:
		daysAfter = 3
	case store.DeleteThreeDaysAfter:
		daysAfter = 4
	case store.DeleteWeekAfter:
		daysAfter = 8
	default:
		daysAfter = 2
	}
	at := s.localMidnight(e.StartTime).AddDate(0, 0, daysAfter)
	return &at
}
