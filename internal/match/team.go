package match

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/classify"
	"github.com/teamarr/teamarr/internal/normalize"
	"github.com/teamarr/teamarr/internal/sports"
)

// EventsFunc fetches the events for one league on one calendar day. The
// caller decides where they come from (shared pool, provider cache, or the
// network).
type EventsFunc func(ctx context.Context, league string, day time.Time) ([]sports.Event, error)

// AliasFunc returns the user alias table for a league, keyed by lowercased
// alias. May return nil.
type AliasFunc func(ctx context.Context, league string) map[string]string

const (
	// matchBackWindow bounds how far behind the target day a date hint may
	// point and still be searched.
	matchBackWindow = 7

	// timeAgreementMinutes is how close an event's local start must be to
	// the name's clock hint to earn the confidence bonus.
	timeAgreementMinutes = 60
	timeAgreementBonus   = 0.05

	scoreEpsilon = 1e-6
)

// TeamMatcher resolves team-vs-team streams against candidate events. It
// holds no per-run state; fetch policy and result caching live with the
// caller.
type TeamMatcher struct {
	Events  EventsFunc
	Aliases AliasFunc
	UserTZ  *time.Location
	Log     logrus.FieldLogger
	Now     func() time.Time
}

// TeamQuery carries one classified stream through the team-match ladder.
type TeamQuery struct {
	Stream        classify.ClassifiedStream
	TargetDate    time.Time // user-TZ midnight of the run's target day
	SearchLeagues []string  // leagues candidates are assembled from
	GroupLeagues  []string  // the group's configured leagues, for the hint gate
	MultiLeague   bool
	DaysAhead     int
}

// Match runs the ladder: league-hint gate, candidate assembly for the
// chosen day, pair scoring in both orientations, date filter, and the
// time-hint tiebreak for doubleheaders.
func (m *TeamMatcher) Match(ctx context.Context, q TeamQuery) Outcome {
	ns := q.Stream.Normalized

	search := q.SearchLeagues
	if q.MultiLeague && ns.LeagueHint != "" {
		if !containsString(q.GroupLeagues, ns.LeagueHint) {
			return Outcome{Category: CategoryFiltered, Reason: ReasonLeagueNotEnabled}
		}
		search = []string{ns.LeagueHint}
	}

	if q.Stream.Team1 == "" || q.Stream.Team2 == "" {
		return Outcome{Category: CategoryFailed, Reason: ReasonTeamsNotParsed}
	}

	target := dayStart(q.TargetDate, m.UserTZ)
	day := m.candidateDay(target, ns.DateHint, q.DaysAhead)

	cands := m.assemble(ctx, search, day, day.Equal(target))
	if ns.DateHint != nil {
		cands = m.filterByDate(cands, *ns.DateHint)
	}
	if len(cands) == 0 {
		return Outcome{Category: CategoryFailed, Reason: ReasonNoEvents}
	}

	key1 := normalize.Key(q.Stream.Team1)
	key2 := normalize.Key(q.Stream.Team2)

	var (
		best         *sports.Event
		bestScore    float64
		bestAlias    bool
		best1, best2 float64
	)
	for i := range cands {
		ev := &cands[i]
		pm := matchPair(q.Stream.Team1, q.Stream.Team2, key1, key2, ev, m.aliasesFor(ctx, ev.League))
		best1 = math.Max(best1, pm.best1)
		best2 = math.Max(best2, pm.best2)
		if !pm.ok {
			continue
		}
		switch {
		case best == nil || pm.score > bestScore+scoreEpsilon:
			best, bestScore, bestAlias = ev, pm.score, pm.viaAlias
		case pm.score >= bestScore-scoreEpsilon && ns.TimeHint != nil:
			// Equal pair scores: the start closest to the name's clock
			// hint wins. This is what separates a doubleheader.
			if m.hintDelta(ev.StartTime, *ns.TimeHint) < m.hintDelta(best.StartTime, *ns.TimeHint) {
				best, bestScore, bestAlias = ev, pm.score, pm.viaAlias
			}
		}
	}

	if best == nil {
		reason := ReasonTeam1NotFound
		if best1 >= sideThreshold {
			reason = ReasonTeam2NotFound
		}
		return Outcome{Category: CategoryFailed, Reason: reason}
	}

	method := MethodFuzzy
	conf := bestScore
	if bestAlias {
		method = MethodAlias
		conf = 1.0
	}
	if ns.TimeHint != nil && m.hintDelta(best.StartTime, *ns.TimeHint) <= timeAgreementMinutes {
		conf = math.Min(1.0, conf+timeAgreementBonus)
	}

	return Outcome{
		Category:   CategoryMatched,
		Event:      best,
		League:     best.League,
		Method:     method,
		Origin:     method,
		Confidence: conf,
	}
}

// candidateDay picks the calendar day to search. A date hint inside the
// fetch window overrides the target; a hint outside it keeps the target
// day, where the date filter will reject whatever turns up.
func (m *TeamMatcher) candidateDay(target time.Time, hint *time.Time, daysAhead int) time.Time {
	if hint == nil {
		return target
	}
	h := time.Date(hint.Year(), hint.Month(), hint.Day(), 0, 0, 0, 0, m.UserTZ)
	if h.Before(target.AddDate(0, 0, -matchBackWindow)) || h.After(target.AddDate(0, 0, daysAhead)) {
		return target
	}
	return h
}

// assemble gathers candidates for one day across the search leagues. When
// the day is the target itself, yesterday's events are kept while they are
// not final and could still be running (games crossing midnight).
func (m *TeamMatcher) assemble(ctx context.Context, leagues []string, day time.Time, spillover bool) []sports.Event {
	now := m.now()
	var out []sports.Event
	for _, league := range leagues {
		evs, err := m.Events(ctx, league, day)
		if err != nil {
			if m.Log != nil {
				m.Log.WithError(err).WithField("league", league).Warn("candidate fetch failed")
			}
			continue
		}
		for _, ev := range evs {
			if ev.League == "" {
				ev.League = league
			}
			out = append(out, ev)
		}
		if !spillover {
			continue
		}
		prev, err := m.Events(ctx, league, day.AddDate(0, 0, -1))
		if err != nil {
			continue
		}
		for _, ev := range prev {
			if ev.IsFinal() || !ev.EstimatedEnd().After(now) {
				continue
			}
			if ev.League == "" {
				ev.League = league
			}
			out = append(out, ev)
		}
	}
	return out
}

// filterByDate drops candidates whose user-TZ calendar date disagrees with
// the name's explicit date hint.
func (m *TeamMatcher) filterByDate(evs []sports.Event, hint time.Time) []sports.Event {
	out := evs[:0]
	for _, ev := range evs {
		local := ev.StartTime.In(m.UserTZ)
		if local.Year() == hint.Year() && local.Month() == hint.Month() && local.Day() == hint.Day() {
			out = append(out, ev)
		}
	}
	return out
}

// hintDelta is the distance in minutes between an event's local start clock
// and the name's time hint, wrapping around midnight.
func (m *TeamMatcher) hintDelta(start time.Time, hint normalize.TimeOfDay) int {
	local := start.In(m.UserTZ)
	d := local.Hour()*60 + local.Minute() - hint.Minutes()
	if d < 0 {
		d = -d
	}
	if d > 720 {
		d = 1440 - d
	}
	return d
}

func (m *TeamMatcher) aliasesFor(ctx context.Context, league string) map[string]string {
	if m.Aliases == nil {
		return nil
	}
	return m.Aliases(ctx, league)
}

func (m *TeamMatcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// dayStart truncates t to midnight in tz.
func dayStart(t time.Time, tz *time.Location) time.Time {
	local := t.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
}
